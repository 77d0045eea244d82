package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Subtotal возвращает сумму стоимости позиций.
func Subtotal(items []OrderItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.LineTotal())
	}
	return sum
}

// ComputeTotals заполняет Subtotal и Total по позициям, доставке и налогу.
func (o *Order) ComputeTotals() {
	o.Subtotal = Subtotal(o.Items)
	o.Total = o.Subtotal.Add(o.ShippingCost).Add(o.Tax)
}

// TotalsConsistent проверяет, что итоговые суммы соответствуют позициям.
func (o *Order) TotalsConsistent() bool {
	return o.Subtotal.Equal(Subtotal(o.Items)) &&
		o.Total.Equal(o.Subtotal.Add(o.ShippingCost).Add(o.Tax))
}

// ApplyUpdate применяет к заказу изменение статуса, оплаты и примечаний.
// Отмена через обновление запрещена: она возможна только через Cancel,
// который возвращает товар на склад.
func (o *Order) ApplyUpdate(u OrderUpdate, now time.Time) error {
	if u.OrderStatus != nil {
		next := *u.OrderStatus
		if !next.Valid() {
			return Validationf("unknown order status %q", next)
		}
		if next == OrderStatusCancelled && o.OrderStatus != OrderStatusCancelled {
			return InvalidTransition(o.OrderStatus, next)
		}
		if o.OrderStatus == OrderStatusCancelled && next != OrderStatusCancelled {
			return InvalidTransition(o.OrderStatus, next)
		}
		o.OrderStatus = next
	}

	if u.PaymentStatus != nil {
		if !u.PaymentStatus.Valid() {
			return Validationf("unknown payment status %q", *u.PaymentStatus)
		}
		o.PaymentStatus = *u.PaymentStatus
	}

	if u.Notes != nil {
		o.Notes = *u.Notes
	}

	o.settle(now)
	o.UpdatedAt = now
	return nil
}

// Cancel переводит заказ в статус Cancelled. Допустимо только из Pending.
func (o *Order) Cancel(now time.Time) error {
	if o.OrderStatus != OrderStatusPending {
		return InvalidTransition(o.OrderStatus, OrderStatusCancelled)
	}
	o.OrderStatus = OrderStatusCancelled
	o.UpdatedAt = now
	return nil
}

// settle поддерживает инварианты доставленного заказа: дата доставки
// фиксируется один раз, а оплата наличными при получении считается полученной.
func (o *Order) settle(now time.Time) {
	if o.OrderStatus != OrderStatusDelivered {
		return
	}
	if o.DeliveredAt == nil {
		t := now
		o.DeliveredAt = &t
	}
	if o.PaymentMethod == PaymentMethodCOD {
		o.PaymentStatus = PaymentStatusPaid
	}
}
