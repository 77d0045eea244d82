// Package inventory реализует учёт остатков товаров: атомарное резервирование и возврат.
package inventory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/model"
)

// Store изменяет остаток товара атомарно на стороне хранилища.
// ReserveStock обязан уменьшать остаток условным обновлением
// (stock = stock - n WHERE stock >= n) и возвращать model.ErrInsufficientStock,
// если условие не выполнено.
type Store interface {
	ReserveStock(ctx context.Context, productID string, quantity int) error
	ReleaseStock(ctx context.Context, productID string, quantity int) error
}

// Ledger проверяет аргументы и делегирует изменения остатков хранилищу.
type Ledger struct {
	store  Store
	logger *zap.Logger
}

// NewLedger создаёт учёт остатков поверх store. Хранилищем может быть как
// пул соединений, так и открытая транзакция.
func NewLedger(store Store, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: store, logger: logger}
}

// CheckAndReserve списывает quantity единиц товара, если их достаточно.
func (l *Ledger) CheckAndReserve(ctx context.Context, productID string, quantity int) error {
	if quantity < 1 {
		return model.Validationf("quantity for product %s must be positive", productID)
	}
	if err := l.store.ReserveStock(ctx, productID, quantity); err != nil {
		return fmt.Errorf("reserve %s: %w", productID, err)
	}
	return nil
}

// Release возвращает quantity единиц товара на склад. Повторный вызов
// вернёт товар повторно: однократность обеспечивает вызывающая сторона.
func (l *Ledger) Release(ctx context.Context, productID string, quantity int) error {
	if quantity < 1 {
		return model.Validationf("quantity for product %s must be positive", productID)
	}
	if err := l.store.ReleaseStock(ctx, productID, quantity); err != nil {
		return fmt.Errorf("release %s: %w", productID, err)
	}
	return nil
}

// ReleaseFailure описывает позицию, остаток по которой не удалось вернуть.
type ReleaseFailure struct {
	Item model.OrderItem
	Err  error
}

// ReleaseAll возвращает на склад все позиции заказа. Ошибка по одной позиции
// не прерывает обработку остальных.
func (l *Ledger) ReleaseAll(ctx context.Context, orderID string, items []model.OrderItem) []ReleaseFailure {
	var failures []ReleaseFailure
	for _, it := range items {
		if err := l.Release(ctx, it.ProductID, it.Quantity); err != nil {
			l.logger.Error("release stock failed",
				zap.String("order", orderID),
				zap.String("product", it.ProductID),
				zap.Int("quantity", it.Quantity),
				zap.Error(err),
			)
			failures = append(failures, ReleaseFailure{Item: it, Err: err})
		}
	}
	return failures
}
