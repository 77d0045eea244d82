// Package report строит отчёты по заказам за период. Пакет только читает данные.
package report

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/storefront/internal/model"
)

// Reader поставляет данные для отчётов.
type Reader interface {
	ListOrdersInRange(ctx context.Context, start, end *time.Time) ([]model.Order, error)
	GetUsers(ctx context.Context, ids []int64) (map[int64]model.User, error)
}

// Kind задаёт вид отчёта.
type Kind string

const (
	KindCustomer Kind = "customer"
	KindOrder    Kind = "order"
	KindDelivery Kind = "delivery"
)

// ParseKind разбирает вид отчёта из строки запроса.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindCustomer, KindOrder, KindDelivery:
		return k, nil
	}
	return "", model.Validationf("unknown report kind %q", s)
}

// CustomerRow описывает строку отчёта по покупателям.
type CustomerRow struct {
	UserID      int64           `json:"userId"`
	Name        string          `json:"name"`
	Phone       string          `json:"phone"`
	OrderCount  int             `json:"orderCount"`
	TotalSpent  decimal.Decimal `json:"totalSpent"`
	LastOrderAt time.Time       `json:"lastOrderAt"`
}

// OrderRow описывает строку отчёта по заказам.
type OrderRow struct {
	OrderNumber   string              `json:"orderNumber"`
	Customer      string              `json:"customer"`
	Phone         string              `json:"phone"`
	OrderStatus   model.OrderStatus   `json:"orderStatus"`
	PaymentMethod model.PaymentMethod `json:"paymentMethod"`
	PaymentStatus model.PaymentStatus `json:"paymentStatus"`
	Items         int                 `json:"items"`
	Total         decimal.Decimal     `json:"total"`
	CreatedAt     time.Time           `json:"createdAt"`
}

// DeliveryRow описывает строку отчёта по доставленным заказам.
type DeliveryRow struct {
	OrderNumber string    `json:"orderNumber"`
	Customer    string    `json:"customer"`
	City        string    `json:"city"`
	CreatedAt   time.Time `json:"createdAt"`
	DeliveredAt time.Time `json:"deliveredAt"`
	Days        int       `json:"days"`
}

// Summary содержит сводные показатели за период.
type Summary struct {
	TotalOrders         int                         `json:"totalOrders"`
	TotalRevenue        decimal.Decimal             `json:"totalRevenue"`
	ByStatus            map[model.OrderStatus]int   `json:"byStatus"`
	ByPaymentStatus     map[model.PaymentStatus]int `json:"byPaymentStatus"`
	DeliveredOrders     int                         `json:"deliveredOrders"`
	AverageDeliveryDays float64                     `json:"averageDeliveryDays"`
}

// Report содержит результат построения отчёта. Заполнен только срез строк,
// соответствующий Kind.
type Report struct {
	Kind      Kind          `json:"kind"`
	Start     *time.Time    `json:"start,omitempty"`
	End       *time.Time    `json:"end,omitempty"`
	Customers []CustomerRow `json:"customers,omitempty"`
	Orders    []OrderRow    `json:"orders,omitempty"`
	Delivery  []DeliveryRow `json:"delivery,omitempty"`
	Summary   Summary       `json:"summary"`
}

// Aggregator строит отчёты поверх Reader.
type Aggregator struct {
	reader Reader
}

// NewAggregator создаёт построитель отчётов.
func NewAggregator(r Reader) *Aggregator {
	return &Aggregator{reader: r}
}

// Build строит отчёт вида kind по заказам, созданным в [start, end).
func (a *Aggregator) Build(ctx context.Context, kind Kind, start, end *time.Time) (*Report, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}
	if start != nil && end != nil && !start.Before(*end) {
		return nil, model.Validationf("report start must be before end")
	}

	orders, err := a.reader.ListOrdersInRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("list orders in range: %w", err)
	}

	users, err := a.reader.GetUsers(ctx, userIDs(orders))
	if err != nil {
		return nil, fmt.Errorf("get users: %w", err)
	}

	rep := &Report{
		Kind:    kind,
		Start:   start,
		End:     end,
		Summary: Summarize(orders),
	}

	switch kind {
	case KindCustomer:
		rep.Customers = customerRows(orders, users)
	case KindOrder:
		rep.Orders = orderRows(orders, users)
	case KindDelivery:
		rep.Delivery = deliveryRows(orders, users)
	}
	return rep, nil
}

// DeliveryDays возвращает срок доставки в целых днях с округлением вверх.
func DeliveryDays(createdAt, deliveredAt time.Time) int {
	d := deliveredAt.Sub(createdAt)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours() / 24))
}

// Summarize считает сводные показатели. Выручка не учитывает отменённые заказы.
func Summarize(orders []model.Order) Summary {
	s := Summary{
		TotalOrders:     len(orders),
		TotalRevenue:    decimal.Zero,
		ByStatus:        make(map[model.OrderStatus]int),
		ByPaymentStatus: make(map[model.PaymentStatus]int),
	}

	days := 0
	for _, o := range orders {
		s.ByStatus[o.OrderStatus]++
		s.ByPaymentStatus[o.PaymentStatus]++
		if o.OrderStatus != model.OrderStatusCancelled {
			s.TotalRevenue = s.TotalRevenue.Add(o.Total)
		}
		if o.OrderStatus == model.OrderStatusDelivered && o.DeliveredAt != nil {
			s.DeliveredOrders++
			days += DeliveryDays(o.CreatedAt, *o.DeliveredAt)
		}
	}
	if s.DeliveredOrders > 0 {
		s.AverageDeliveryDays = math.Round(float64(days)/float64(s.DeliveredOrders)*100) / 100
	}
	return s
}

func userIDs(orders []model.Order) []int64 {
	seen := make(map[int64]struct{}, len(orders))
	ids := make([]int64, 0, len(orders))
	for _, o := range orders {
		if _, ok := seen[o.UserID]; ok {
			continue
		}
		seen[o.UserID] = struct{}{}
		ids = append(ids, o.UserID)
	}
	return ids
}

// customer выбирает имя и телефон покупателя: из профиля, а при его
// отсутствии из адреса доставки.
func customer(o model.Order, users map[int64]model.User) (string, string) {
	name, phone := o.ShippingAddress.FullName, o.ShippingAddress.Phone
	if u, ok := users[o.UserID]; ok {
		if u.Name != "" {
			name = u.Name
		}
		if u.Phone != "" {
			phone = u.Phone
		}
	}
	return name, phone
}

func customerRows(orders []model.Order, users map[int64]model.User) []CustomerRow {
	byUser := make(map[int64]*CustomerRow)
	for _, o := range orders {
		row, ok := byUser[o.UserID]
		if !ok {
			name, phone := customer(o, users)
			row = &CustomerRow{UserID: o.UserID, Name: name, Phone: phone, TotalSpent: decimal.Zero}
			byUser[o.UserID] = row
		}
		row.OrderCount++
		if o.OrderStatus != model.OrderStatusCancelled {
			row.TotalSpent = row.TotalSpent.Add(o.Total)
		}
		if o.CreatedAt.After(row.LastOrderAt) {
			row.LastOrderAt = o.CreatedAt
		}
	}

	rows := make([]CustomerRow, 0, len(byUser))
	for _, r := range byUser {
		rows = append(rows, *r)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].TotalSpent.Equal(rows[j].TotalSpent) {
			return rows[i].TotalSpent.GreaterThan(rows[j].TotalSpent)
		}
		return rows[i].UserID < rows[j].UserID
	})
	return rows
}

func orderRows(orders []model.Order, users map[int64]model.User) []OrderRow {
	rows := make([]OrderRow, 0, len(orders))
	for _, o := range orders {
		name, phone := customer(o, users)
		items := 0
		for _, it := range o.Items {
			items += it.Quantity
		}
		rows = append(rows, OrderRow{
			OrderNumber:   o.OrderNumber,
			Customer:      name,
			Phone:         phone,
			OrderStatus:   o.OrderStatus,
			PaymentMethod: o.PaymentMethod,
			PaymentStatus: o.PaymentStatus,
			Items:         items,
			Total:         o.Total,
			CreatedAt:     o.CreatedAt,
		})
	}
	return rows
}

func deliveryRows(orders []model.Order, users map[int64]model.User) []DeliveryRow {
	var rows []DeliveryRow
	for _, o := range orders {
		if o.OrderStatus != model.OrderStatusDelivered || o.DeliveredAt == nil {
			continue
		}
		name, _ := customer(o, users)
		rows = append(rows, DeliveryRow{
			OrderNumber: o.OrderNumber,
			Customer:    name,
			City:        o.ShippingAddress.City,
			CreatedAt:   o.CreatedAt,
			DeliveredAt: *o.DeliveredAt,
			Days:        DeliveryDays(o.CreatedAt, *o.DeliveredAt),
		})
	}
	return rows
}
