// Package config содержит логику чтения конфигурации сервиса витрины.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Значения по умолчанию.
const (
	DefaultRunAddress       = "localhost:8080"
	DefaultKafkaTopic       = "storefront.orders"
	DefaultAuthSecret       = "storefront-secret"
	DefaultDispatchInterval = time.Second
	DefaultShippingCountry  = "Bangladesh"
)

// Config содержит параметры конфигурации сервиса витрины.
type Config struct {
	RunAddress        string        `env:"RUN_ADDRESS"`
	DatabaseURI       string        `env:"DATABASE_URI"`
	ReportDatabaseURI string        `env:"REPORT_DATABASE_URI"`
	RedisAddr         string        `env:"REDIS_ADDR"`
	KafkaBrokers      string        `env:"KAFKA_BROKERS"`
	KafkaTopic        string        `env:"KAFKA_TOPIC"`
	WebhookURL        string        `env:"WEBHOOK_URL"`
	AuthSecret        string        `env:"AUTH_SECRET"`
	DispatchInterval  time.Duration `env:"DISPATCH_INTERVAL"`
	ShippingCountry   string        `env:"SHIPPING_COUNTRY"`
	AdminLogin        string        `env:"ADMIN_LOGIN"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	envCfg := Config{}
	if err := env.Parse(&envCfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg := &Config{}

	flag.StringVar(&cfg.RunAddress, "a", DefaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.ReportDatabaseURI, "report-d", "", "read replica URI for reports")
	flag.StringVar(&cfg.RedisAddr, "redis", "", "redis address for order numbering")
	flag.StringVar(&cfg.KafkaBrokers, "k", "", "comma separated kafka brokers")
	flag.StringVar(&cfg.KafkaTopic, "t", DefaultKafkaTopic, "kafka topic for order events")
	flag.StringVar(&cfg.WebhookURL, "w", "", "webhook URL for order events")
	flag.StringVar(&cfg.AuthSecret, "s", DefaultAuthSecret, "auth cookie secret")
	flag.DurationVar(&cfg.DispatchInterval, "i", DefaultDispatchInterval, "order events dispatch interval")
	flag.StringVar(&cfg.ShippingCountry, "country", DefaultShippingCountry, "default shipping country")
	flag.StringVar(&cfg.AdminLogin, "admin", "", "login granted admin rights")

	flag.Parse()

	override(&cfg.RunAddress, envCfg.RunAddress)
	override(&cfg.DatabaseURI, envCfg.DatabaseURI)
	override(&cfg.ReportDatabaseURI, envCfg.ReportDatabaseURI)
	override(&cfg.RedisAddr, envCfg.RedisAddr)
	override(&cfg.KafkaBrokers, envCfg.KafkaBrokers)
	override(&cfg.KafkaTopic, envCfg.KafkaTopic)
	override(&cfg.WebhookURL, envCfg.WebhookURL)
	override(&cfg.AuthSecret, envCfg.AuthSecret)
	override(&cfg.ShippingCountry, envCfg.ShippingCountry)
	override(&cfg.AdminLogin, envCfg.AdminLogin)
	if envCfg.DispatchInterval > 0 {
		cfg.DispatchInterval = envCfg.DispatchInterval
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = DefaultRunAddress
	}
	if cfg.DispatchInterval <= 0 {
		return nil, fmt.Errorf("dispatch interval must be positive, got %s", cfg.DispatchInterval)
	}

	return cfg, nil
}

func override(dst *string, envValue string) {
	if envValue != "" {
		*dst = envValue
	}
}
