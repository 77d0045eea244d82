package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mmeshcher/storefront/internal/model"
)

// SQLReportReader читает заказы для отчётов через database/sql. Может
// работать как поверх основного пула, так и поверх реплики только для чтения.
type SQLReportReader struct {
	db *sql.DB
}

// NewSQLReportReader создаёт читателя отчётов.
func NewSQLReportReader(db *sql.DB) *SQLReportReader {
	return &SQLReportReader{db: db}
}

const rangeQuery = `SELECT o.id, o.order_number, o.user_id, o.full_name, o.phone, o.address, o.city, o.postal_code, o.country,
	o.payment_method, o.payment_status, o.order_status, o.subtotal, o.shipping_cost, o.tax, o.total,
	o.notes, o.created_at, o.updated_at, o.delivered_at,
	i.product_id, i.name, i.price, i.quantity, i.size, i.color, i.image
FROM orders o
LEFT JOIN order_items i ON i.order_id = o.id`

// ListOrdersInRange возвращает заказы, созданные в [start, end), вместе с позициями.
func (r *SQLReportReader) ListOrdersInRange(ctx context.Context, start, end *time.Time) ([]model.Order, error) {
	var (
		conds []string
		args  []any
	)
	if start != nil {
		args = append(args, *start)
		conds = append(conds, fmt.Sprintf("o.created_at >= $%d", len(args)))
	}
	if end != nil {
		args = append(args, *end)
		conds = append(conds, fmt.Sprintf("o.created_at < $%d", len(args)))
	}
	query := rangeQuery
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY o.created_at, o.id, i.position"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders in range: %w", err)
	}
	defer rows.Close()

	var res []model.Order
	for rows.Next() {
		var (
			o                              model.Order
			method, payment, status        string
			subtotal, shipping, tax, total int64
			deliveredAt                    sql.NullTime
			productID, name                sql.NullString
			size, color, image             sql.NullString
			price                          sql.NullInt64
			quantity                       sql.NullInt32
		)
		err := rows.Scan(
			&o.ID, &o.OrderNumber, &o.UserID,
			&o.ShippingAddress.FullName, &o.ShippingAddress.Phone, &o.ShippingAddress.Address,
			&o.ShippingAddress.City, &o.ShippingAddress.PostalCode, &o.ShippingAddress.Country,
			&method, &payment, &status,
			&subtotal, &shipping, &tax, &total,
			&o.Notes, &o.CreatedAt, &o.UpdatedAt, &deliveredAt,
			&productID, &name, &price, &quantity, &size, &color, &image,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}

		if n := len(res); n == 0 || res[n-1].ID != o.ID {
			o.PaymentMethod = model.PaymentMethod(method)
			o.PaymentStatus = model.PaymentStatus(payment)
			o.OrderStatus = model.OrderStatus(status)
			o.Subtotal = fromCents(subtotal)
			o.ShippingCost = fromCents(shipping)
			o.Tax = fromCents(tax)
			o.Total = fromCents(total)
			if deliveredAt.Valid {
				t := deliveredAt.Time
				o.DeliveredAt = &t
			}
			res = append(res, o)
		}

		if productID.Valid {
			last := &res[len(res)-1]
			last.Items = append(last.Items, model.OrderItem{
				ProductID: productID.String,
				Name:      name.String,
				Price:     fromCents(price.Int64),
				Quantity:  int(quantity.Int32),
				Size:      size.String,
				Color:     color.String,
				Image:     image.String,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// GetUsers возвращает пользователей по списку идентификаторов.
func (r *SQLReportReader) GetUsers(ctx context.Context, ids []int64) (map[int64]model.User, error) {
	res := make(map[int64]model.User, len(ids))
	if len(ids) == 0 {
		return res, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, login, name, phone, created_at FROM users WHERE id IN (`+strings.Join(placeholders, ", ")+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Login, &u.Name, &u.Phone, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		res[u.ID] = u
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}
