package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mmeshcher/storefront/internal/model"
)

// WithinTx выполняет fn в транзакции и фиксирует её, если fn не вернула ошибку.
// Конфликты сериализации и взаимоблокировки приводят к повтору всей транзакции.
func (r *PostgresRepository) WithinTx(ctx context.Context, fn TxFunc) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(&pgTx{tx: tx}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// orderNumberConstraint совпадает с именем ограничения в миграции.
const orderNumberConstraint = "orders_order_number_key"

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) ReserveStock(ctx context.Context, productID string, quantity int) error {
	return reserveStock(ctx, t.tx, productID, quantity)
}

func (t *pgTx) ReleaseStock(ctx context.Context, productID string, quantity int) error {
	return releaseStock(ctx, t.tx, productID, quantity)
}

func (t *pgTx) InsertOrder(ctx context.Context, o *model.Order) error {
	a := o.ShippingAddress
	_, err := t.tx.Exec(ctx,
		`INSERT INTO orders (id, order_number, user_id, full_name, phone, address, city, postal_code, country,
		                     payment_method, payment_status, order_status, subtotal, shipping_cost, tax, total,
		                     notes, created_at, updated_at, delivered_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		o.ID, o.OrderNumber, o.UserID, a.FullName, a.Phone, a.Address, a.City, a.PostalCode, a.Country,
		string(o.PaymentMethod), string(o.PaymentStatus), string(o.OrderStatus),
		toCents(o.Subtotal), toCents(o.ShippingCost), toCents(o.Tax), toCents(o.Total),
		o.Notes, o.CreatedAt, o.UpdatedAt, o.DeliveredAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == orderNumberConstraint {
			return fmt.Errorf("%w: %s", ErrDuplicateOrderNumber, o.OrderNumber)
		}
		return fmt.Errorf("insert order: %w", err)
	}

	n := len(o.Items)
	var (
		positions  = make([]int, n)
		productIDs = make([]string, n)
		names      = make([]string, n)
		prices     = make([]int64, n)
		quantities = make([]int, n)
		sizes      = make([]string, n)
		colors     = make([]string, n)
		images     = make([]string, n)
	)
	for i, it := range o.Items {
		positions[i] = i
		productIDs[i] = it.ProductID
		names[i] = it.Name
		prices[i] = toCents(it.Price)
		quantities[i] = it.Quantity
		sizes[i] = it.Size
		colors[i] = it.Color
		images[i] = it.Image
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO order_items (order_id, position, product_id, name, price, quantity, size, color, image)
		 SELECT $1, i.* FROM unnest($2::int[], $3::text[], $4::text[], $5::bigint[], $6::int[], $7::text[], $8::text[], $9::text[]) AS i`,
		o.ID, positions, productIDs, names, prices, quantities, sizes, colors, images,
	)
	if err != nil {
		return fmt.Errorf("insert order items: %w", err)
	}
	return nil
}

func (t *pgTx) GetOrderForUpdate(ctx context.Context, id string) (*model.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NotFound("order", id)
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}
	if err := loadItems(ctx, t.tx, []*model.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

// UpdateOrderState сохраняет только изменяемые поля заказа; позиции и суммы не трогает.
func (t *pgTx) UpdateOrderState(ctx context.Context, o *model.Order) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE orders SET order_status = $2, payment_status = $3, notes = $4, delivered_at = $5, updated_at = $6
		 WHERE id = $1`,
		o.ID, string(o.OrderStatus), string(o.PaymentStatus), o.Notes, o.DeliveredAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NotFound("order", o.ID)
	}
	return nil
}

func (t *pgTx) AddEvent(ctx context.Context, e model.Event) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO outbox (event_id, type, order_id, payload, created_at) VALUES ($1, $2, $3, $4, $5)`,
		e.EventID, e.Type, e.OrderID, []byte(e.Payload), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

const orderColumns = `id, order_number, user_id, full_name, phone, address, city, postal_code, country,
	payment_method, payment_status, order_status, subtotal, shipping_cost, tax, total,
	notes, created_at, updated_at, delivered_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o                              model.Order
		method, payment, status        string
		subtotal, shipping, tax, total int64
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID,
		&o.ShippingAddress.FullName, &o.ShippingAddress.Phone, &o.ShippingAddress.Address,
		&o.ShippingAddress.City, &o.ShippingAddress.PostalCode, &o.ShippingAddress.Country,
		&method, &payment, &status,
		&subtotal, &shipping, &tax, &total,
		&o.Notes, &o.CreatedAt, &o.UpdatedAt, &o.DeliveredAt,
	)
	if err != nil {
		return nil, err
	}
	o.PaymentMethod = model.PaymentMethod(method)
	o.PaymentStatus = model.PaymentStatus(payment)
	o.OrderStatus = model.OrderStatus(status)
	o.Subtotal = fromCents(subtotal)
	o.ShippingCost = fromCents(shipping)
	o.Tax = fromCents(tax)
	o.Total = fromCents(total)
	return &o, nil
}

// loadItems дочитывает позиции для набора заказов одним запросом.
func loadItems(ctx context.Context, q querier, orders []*model.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, 0, len(orders))
	byID := make(map[string]*model.Order, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
		byID[o.ID] = o
	}

	rows, err := q.Query(ctx,
		`SELECT order_id, product_id, name, price, quantity, size, color, image
		 FROM order_items
		 WHERE order_id = ANY($1)
		 ORDER BY order_id, position`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			it      model.OrderItem
			price   int64
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.Name, &price, &it.Quantity, &it.Size, &it.Color, &it.Image); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		it.Price = fromCents(price)
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, it)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) getOrderWhere(ctx context.Context, cond string, arg any, label string) (*model.Order, error) {
	var o *model.Order
	err := r.withRetry(ctx, func() error {
		var err error
		o, err = scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+cond, arg))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return model.NotFound("order", fmt.Sprint(arg))
			}
			return fmt.Errorf("get order by %s: %w", label, err)
		}
		return loadItems(ctx, r.db, []*model.Order{o})
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// GetOrder возвращает заказ по внутреннему идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return r.getOrderWhere(ctx, `id = $1`, id, "id")
}

// GetOrderByNumber возвращает заказ по номеру.
func (r *PostgresRepository) GetOrderByNumber(ctx context.Context, number string) (*model.Order, error) {
	return r.getOrderWhere(ctx, `order_number = $1`, number, "number")
}

// ListOrders возвращает страницу заказов, подходящих под фильтр, и их общее число.
func (r *PostgresRepository) ListOrders(ctx context.Context, f model.OrderFilter, limit, offset int) ([]model.Order, int, error) {
	limit, offset = model.NormalizePage(limit, offset)

	var (
		conds []string
		args  []any
	)
	if f.UserID != 0 {
		args = append(args, f.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.OrderStatus != "" {
		args = append(args, string(f.OrderStatus))
		conds = append(conds, fmt.Sprintf("order_status = $%d", len(args)))
	}
	if f.PaymentStatus != "" {
		args = append(args, string(f.PaymentStatus))
		conds = append(conds, fmt.Sprintf("payment_status = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var (
		total  int
		orders []*model.Order
	)
	err := r.withRetry(ctx, func() error {
		orders = nil
		if err := r.db.QueryRow(ctx, `SELECT count(*) FROM orders`+where, args...).Scan(&total); err != nil {
			return fmt.Errorf("count orders: %w", err)
		}

		pageArgs := append(append([]any(nil), args...), limit, offset)
		rows, err := r.db.Query(ctx,
			`SELECT `+orderColumns+` FROM orders`+where+
				fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2),
			pageArgs...,
		)
		if err != nil {
			return fmt.Errorf("select orders: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			o, err := scanOrder(rows)
			if err != nil {
				return fmt.Errorf("scan order: %w", err)
			}
			orders = append(orders, o)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}
		rows.Close()

		return loadItems(ctx, r.db, orders)
	})
	if err != nil {
		return nil, 0, err
	}

	res := make([]model.Order, 0, len(orders))
	for _, o := range orders {
		res = append(res, *o)
	}
	return res, total, nil
}

// FetchPendingEvents возвращает неотправленные события outbox в порядке записи.
func (r *PostgresRepository) FetchPendingEvents(ctx context.Context, limit int) ([]model.Event, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, event_id, type, order_id, payload, created_at, attempts
		 FROM outbox
		 WHERE sent_at IS NULL AND dead_at IS NULL
		 ORDER BY id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select outbox: %w", err)
	}
	defer rows.Close()

	var res []model.Event
	for rows.Next() {
		var (
			e       model.Event
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.EventID, &e.Type, &e.OrderID, &payload, &e.CreatedAt, &e.Attempts); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		e.Payload = payload
		res = append(res, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// MarkEventSent отмечает событие outbox как доставленное.
func (r *PostgresRepository) MarkEventSent(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `UPDATE outbox SET sent_at = $2 WHERE id = $1`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark outbox event: %w", err)
	}
	return nil
}

// RecordEventFailure учитывает неудачную попытку доставки события. Когда
// число попыток достигает maxAttempts, событие помечается как мёртвое и
// больше не выдаётся FetchPendingEvents. Возвращает true в этом случае.
func (r *PostgresRepository) RecordEventFailure(ctx context.Context, id int64, reason string, maxAttempts int) (bool, error) {
	var dead bool
	err := r.db.QueryRow(ctx,
		`UPDATE outbox
		 SET attempts = attempts + 1, last_error = $2,
		     dead_at = CASE WHEN attempts + 1 >= $3 THEN now() END
		 WHERE id = $1
		 RETURNING dead_at IS NOT NULL`,
		id, reason, maxAttempts,
	).Scan(&dead)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("record outbox failure: %w", err)
	}
	return dead, nil
}
