// Package repository содержит реализации хранилища заказов, остатков и пользователей.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/storefront/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrDuplicateOrderNumber возвращается, если номер заказа уже занят.
	ErrDuplicateOrderNumber = errors.New("order number already taken")
)

// querier объединяет методы пула и транзакции, используемые запросами.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgxPool объединяет методы пула соединений, через которые идут запросы.
type pgxPool interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	db   pgxPool
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{db: pool, pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

// Pool возвращает пул соединений, например для построения отчётов через database/sql.
func (r *PostgresRepository) Pool() *pgxpool.Pool {
	return r.pool
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

var retryDelays = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i <= len(retryDelays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(retryDelays) {
			break
		}

		timer := time.NewTimer(retryDelays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

// isRetryable сообщает, имеет ли смысл повторить операцию целиком.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.db.Close()
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte, name, phone string, isAdmin bool) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO users (login, password_hash, name, phone, is_admin) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		login, passwordHash, name, phone, isAdmin,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

const userColumns = `id, login, password_hash, name, phone, is_admin, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.Name, &u.Phone, &u.IsAdmin, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	return scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE login = $1`,
		login,
	))
}

// GetUser возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
}

// BackfillUserPhone сохраняет телефон пользователя, только если он ещё не указан.
// Возвращает true, если профиль был изменён.
func (r *PostgresRepository) BackfillUserPhone(ctx context.Context, id int64, phone string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET phone = $2 WHERE id = $1 AND phone = ''`,
		id, phone,
	)
	if err != nil {
		return false, fmt.Errorf("backfill phone: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const productColumns = `id, name, price, stock, image, updated_at`

func scanProduct(row pgx.Row) (model.Product, error) {
	var (
		p     model.Product
		cents int64
	)
	if err := row.Scan(&p.ID, &p.Name, &cents, &p.Stock, &p.Image, &p.UpdatedAt); err != nil {
		return p, err
	}
	p.Price = fromCents(cents)
	return p, nil
}

// GetProduct возвращает товар каталога.
func (r *PostgresRepository) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	p, err := scanProduct(r.db.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NotFound("product", id)
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &p, nil
}

// GetProducts возвращает найденные товары по списку идентификаторов.
// Отсутствующие товары в результат не попадают.
func (r *PostgresRepository) GetProducts(ctx context.Context, ids []string) (map[string]model.Product, error) {
	res := make(map[string]model.Product, len(ids))
	err := r.withRetry(ctx, func() error {
		rows, err := r.db.Query(ctx,
			`SELECT `+productColumns+` FROM products WHERE id = ANY($1)`,
			ids,
		)
		if err != nil {
			return fmt.Errorf("select products: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			p, err := scanProduct(rows)
			if err != nil {
				return fmt.Errorf("scan product: %w", err)
			}
			res[p.ID] = p
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// UpsertProduct создаёт или заменяет карточку товара вместе с остатком.
func (r *PostgresRepository) UpsertProduct(ctx context.Context, p model.Product) (*model.Product, error) {
	saved, err := scanProduct(r.db.QueryRow(ctx,
		`INSERT INTO products (id, name, price, stock, image) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE
		 SET name = EXCLUDED.name, price = EXCLUDED.price, stock = EXCLUDED.stock,
		     image = EXCLUDED.image, updated_at = now()
		 RETURNING `+productColumns,
		p.ID, p.Name, toCents(p.Price), p.Stock, p.Image,
	))
	if err != nil {
		return nil, fmt.Errorf("upsert product: %w", err)
	}
	return &saved, nil
}

// ReserveStock атомарно уменьшает остаток товара.
func (r *PostgresRepository) ReserveStock(ctx context.Context, productID string, quantity int) error {
	return reserveStock(ctx, r.db, productID, quantity)
}

// ReleaseStock атомарно возвращает товар на склад.
func (r *PostgresRepository) ReleaseStock(ctx context.Context, productID string, quantity int) error {
	return releaseStock(ctx, r.db, productID, quantity)
}

// reserveStock списывает остаток одним условным UPDATE. Если ни одна строка
// не изменилась, дочитывает текущий остаток для сообщения об ошибке.
func reserveStock(ctx context.Context, q querier, productID string, quantity int) error {
	tag, err := q.Exec(ctx,
		`UPDATE products SET stock = stock - $2, updated_at = now() WHERE id = $1 AND stock >= $2`,
		productID, quantity,
	)
	if err != nil {
		return fmt.Errorf("reserve stock: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var available int
	err = q.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ProductNotFound(productID)
		}
		return fmt.Errorf("read stock: %w", err)
	}
	return model.InsufficientStock(productID, available)
}

func releaseStock(ctx context.Context, q querier, productID string, quantity int) error {
	tag, err := q.Exec(ctx,
		`UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1`,
		productID, quantity,
	)
	if err != nil {
		return fmt.Errorf("release stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ProductNotFound(productID)
	}
	return nil
}

// NextSequence возвращает следующий номер в периоде. Значение выдаётся
// одним оператором upsert, поэтому параллельные вызовы не получают дубликатов.
func (r *PostgresRepository) NextSequence(ctx context.Context, period string) (int64, error) {
	var value int64
	err := r.withRetry(ctx, func() error {
		return r.db.QueryRow(ctx,
			`INSERT INTO order_sequences (period, value) VALUES ($1, 1)
			 ON CONFLICT (period) DO UPDATE SET value = order_sequences.value + 1
			 RETURNING value`,
			period,
		).Scan(&value)
	})
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	return value, nil
}
