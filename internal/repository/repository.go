package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/storefront/internal/model"
)

// Tx объединяет операции, выполняемые в одной транзакции хранилища.
// Либо все изменения, сделанные через Tx, фиксируются, либо ни одно.
type Tx interface {
	ReserveStock(ctx context.Context, productID string, quantity int) error
	ReleaseStock(ctx context.Context, productID string, quantity int) error
	InsertOrder(ctx context.Context, o *model.Order) error
	GetOrderForUpdate(ctx context.Context, id string) (*model.Order, error)
	UpdateOrderState(ctx context.Context, o *model.Order) error
	AddEvent(ctx context.Context, e model.Event) error
}

// TxFunc выполняется внутри транзакции. Возврат ошибки откатывает транзакцию.
// Функция может быть вызвана повторно при конфликте сериализации.
type TxFunc func(tx Tx) error

func toCents(d decimal.Decimal) int64 {
	return d.Shift(2).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}
