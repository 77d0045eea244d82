// Package main запускает HTTP-сервер сервиса витрины.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/storefront/internal/config"
	"github.com/mmeshcher/storefront/internal/handler"
	"github.com/mmeshcher/storefront/internal/metrics"
	"github.com/mmeshcher/storefront/internal/middleware"
	"github.com/mmeshcher/storefront/internal/notify"
	"github.com/mmeshcher/storefront/internal/repository"
	"github.com/mmeshcher/storefront/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	decimal.MarshalJSONWithoutQuotes = true

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithMetrics(m),
		service.WithDefaultCountry(cfg.ShippingCountry),
		service.WithAdminLogin(cfg.AdminLogin),
		service.WithDispatchInterval(cfg.DispatchInterval),
	}

	var repo service.Repository
	if cfg.DatabaseURI == "" {
		sugar.Warn("DATABASE_URI is empty, orders are kept in memory")
		repo = repository.NewMemoryRepository()
	} else {
		pg, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		repo = pg

		reportDB, err := openReportDB(cfg.ReportDatabaseURI, pg)
		if err != nil {
			sugar.Fatalw("report database initialization error", "error", err.Error())
		}
		defer reportDB.Close()
		opts = append(opts, service.WithReportReader(repository.NewSQLReportReader(reportDB)))
	}

	if cfg.RedisAddr != "" {
		seq := repository.NewRedisSequencer(cfg.RedisAddr, "", 0)
		defer seq.Close()
		opts = append(opts, service.WithSequencer(seq))
		sugar.Infow("order numbers are issued by redis", "addr", cfg.RedisAddr)
	}

	var publishers []service.Publisher

	kafkaPub, err := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	switch {
	case errors.Is(err, notify.ErrDisabled):
	case err != nil:
		sugar.Fatalw("kafka publisher initialization error", "error", err.Error())
	default:
		defer kafkaPub.Close()
		publishers = append(publishers, kafkaPub)
		sugar.Infow("order events are published to kafka", "topic", cfg.KafkaTopic)
	}

	webhook, err := notify.NewWebhookClient(cfg.WebhookURL)
	switch {
	case errors.Is(err, notify.ErrDisabled):
	case err != nil:
		sugar.Fatalw("webhook initialization error", "error", err.Error())
	default:
		publishers = append(publishers, webhook)
		sugar.Infow("order events are posted to webhook", "url", cfg.WebhookURL)
	}

	opts = append(opts, service.WithPublishers(publishers...))

	svc := service.NewService(repo, opts...)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, m, reg)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Доставка событий заказов из outbox
	g.Go(func() error {
		svc.RunEventDispatcher(ctx)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting storefront server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

// openReportDB открывает database/sql поверх реплики для отчётов или,
// если она не задана, поверх основного пула.
func openReportDB(dsn string, primary *repository.PostgresRepository) (*sql.DB, error) {
	if dsn == "" {
		return stdlib.OpenDBFromPool(primary.Pool()), nil
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open report db: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping report db: %w", err)
	}
	return db, nil
}
