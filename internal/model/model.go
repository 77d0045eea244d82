// Package model содержит доменные сущности сервиса витрины.
package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCountry используется, если в адресе доставки страна не указана.
const DefaultCountry = "Bangladesh"

// User представляет зарегистрированного покупателя или администратора.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	Name         string
	Phone        string
	IsAdmin      bool
	CreatedAt    time.Time
}

// Product описывает товар каталога. Ядро изменяет только поле Stock.
type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	Image     string          `json:"image,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// PaymentMethod описывает способ оплаты заказа.
type PaymentMethod string

const (
	PaymentMethodCOD    PaymentMethod = "COD"
	PaymentMethodOnline PaymentMethod = "Online"
	PaymentMethodCard   PaymentMethod = "Card"
)

// Valid сообщает, относится ли значение к известным способам оплаты.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCOD, PaymentMethodOnline, PaymentMethodCard:
		return true
	}
	return false
}

// PaymentStatus описывает состояние оплаты заказа.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "Pending"
	PaymentStatusPaid    PaymentStatus = "Paid"
	PaymentStatusFailed  PaymentStatus = "Failed"
)

// Valid сообщает, относится ли значение к известным статусам оплаты.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed:
		return true
	}
	return false
}

// OrderStatus описывает статус обработки заказа.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "Pending"
	OrderStatusProcessing OrderStatus = "Processing"
	OrderStatusShipped    OrderStatus = "Shipped"
	OrderStatusDelivered  OrderStatus = "Delivered"
	OrderStatusCancelled  OrderStatus = "Cancelled"
)

// OrderStatuses перечисляет статусы в порядке жизненного цикла.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// Valid сообщает, относится ли значение к известным статусам заказа.
func (s OrderStatus) Valid() bool {
	for _, v := range OrderStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal сообщает, является ли статус конечным.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// ShippingAddress содержит адрес доставки заказа.
type ShippingAddress struct {
	FullName   string `json:"fullName"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country"`
}

// OrderItem фиксирует название и цену товара на момент оформления заказа.
type OrderItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Size      string          `json:"size,omitempty"`
	Color     string          `json:"color,omitempty"`
	Image     string          `json:"image,omitempty"`
}

// LineTotal возвращает стоимость позиции.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order описывает оформленный заказ.
type Order struct {
	ID              string          `json:"id"`
	UserID          int64           `json:"userId"`
	OrderNumber     string          `json:"orderNumber"`
	Items           []OrderItem     `json:"items"`
	ShippingAddress ShippingAddress `json:"shippingAddress"`
	PaymentMethod   PaymentMethod   `json:"paymentMethod"`
	PaymentStatus   PaymentStatus   `json:"paymentStatus"`
	OrderStatus     OrderStatus     `json:"orderStatus"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	ShippingCost    decimal.Decimal `json:"shippingCost"`
	Tax             decimal.Decimal `json:"tax"`
	Total           decimal.Decimal `json:"total"`
	Notes           string          `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	DeliveredAt     *time.Time      `json:"deliveredAt,omitempty"`
}

// Clone возвращает копию заказа, не разделяющую память с оригиналом.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	if o.DeliveredAt != nil {
		t := *o.DeliveredAt
		c.DeliveredAt = &t
	}
	return &c
}

// Checkout содержит данные корзины, переданные покупателем при оформлении заказа.
type Checkout struct {
	UserID          int64
	Items           []OrderItem
	ShippingAddress ShippingAddress
	PaymentMethod   PaymentMethod
	ShippingCost    decimal.Decimal
	Tax             decimal.Decimal
	Notes           string
}

// OrderUpdate содержит изменяемые поля заказа. Nil означает «не менять».
type OrderUpdate struct {
	OrderStatus   *OrderStatus
	PaymentStatus *PaymentStatus
	Notes         *string
}

// Empty сообщает, что обновление не затрагивает ни одного поля.
func (u OrderUpdate) Empty() bool {
	return u.OrderStatus == nil && u.PaymentStatus == nil && u.Notes == nil
}

// Размер страницы по умолчанию и его верхняя граница.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// NormalizePage приводит параметры постраничной выборки к допустимым:
// нулевой или отрицательный limit заменяется на DefaultPageLimit, слишком
// большой ограничивается MaxPageLimit, отрицательный offset равен нулю.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// OrderFilter ограничивает выборку заказов. Нулевые значения не фильтруют.
type OrderFilter struct {
	UserID        int64
	OrderStatus   OrderStatus
	PaymentStatus PaymentStatus
}

// Match сообщает, проходит ли заказ фильтр.
func (f OrderFilter) Match(o *Order) bool {
	if f.UserID != 0 && o.UserID != f.UserID {
		return false
	}
	if f.OrderStatus != "" && o.OrderStatus != f.OrderStatus {
		return false
	}
	if f.PaymentStatus != "" && o.PaymentStatus != f.PaymentStatus {
		return false
	}
	return true
}

// Типы событий, записываемых в outbox вместе с изменением заказа.
const (
	EventOrderPlaced    = "order.placed"
	EventOrderUpdated   = "order.updated"
	EventOrderCancelled = "order.cancelled"
)

// Event описывает событие, ожидающее доставки после фиксации транзакции.
// Attempts хранит число уже неудачных попыток доставки.
type Event struct {
	ID        int64           `json:"-"`
	EventID   string          `json:"eventId"`
	Type      string          `json:"type"`
	OrderID   string          `json:"orderId"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
	Attempts  int             `json:"-"`
}
