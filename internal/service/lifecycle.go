package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/inventory"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/repository"
)

// UpdateOrder меняет статус, статус оплаты и примечания заказа. Отменить
// заказ этим методом нельзя, для этого служит CancelOrder.
func (s *Service) UpdateOrder(ctx context.Context, id string, u model.OrderUpdate) (*model.Order, error) {
	if u.Empty() {
		return nil, model.Validationf("nothing to update")
	}

	var updated *model.Order
	err := s.repo.WithinTx(ctx, func(tx repository.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if err := o.ApplyUpdate(u, now); err != nil {
			return err
		}
		if err := tx.UpdateOrderState(ctx, o); err != nil {
			return err
		}
		ev, err := newEvent(model.EventOrderUpdated, o, now)
		if err != nil {
			return err
		}
		if err := tx.AddEvent(ctx, ev); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, storageErr(err)
	}

	s.logger.Info("order updated",
		zap.String("order", updated.ID),
		zap.String("status", string(updated.OrderStatus)),
		zap.String("payment", string(updated.PaymentStatus)),
	)
	return updated, nil
}

// CancelResult описывает итог отмены заказа. Unreleased перечисляет позиции,
// остаток по которым вернуть не удалось; заказ при этом всё равно отменён.
type CancelResult struct {
	Order      *model.Order
	Unreleased []inventory.ReleaseFailure
}

// StockRestored сообщает, что остатки возвращены по всем позициям.
func (r *CancelResult) StockRestored() bool {
	return len(r.Unreleased) == 0
}

// CancelOrder отменяет заказ в статусе Pending и возвращает товары на склад.
// Смена статуса фиксируется первой и служит защитой от повторного возврата:
// вторая отмена того же заказа завершится ошибкой InvalidStateTransition.
func (s *Service) CancelOrder(ctx context.Context, id string) (*CancelResult, error) {
	var cancelled *model.Order
	err := s.repo.WithinTx(ctx, func(tx repository.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if err := o.Cancel(now); err != nil {
			return err
		}
		if err := tx.UpdateOrderState(ctx, o); err != nil {
			return err
		}
		ev, err := newEvent(model.EventOrderCancelled, o, now)
		if err != nil {
			return err
		}
		if err := tx.AddEvent(ctx, ev); err != nil {
			return err
		}
		cancelled = o
		return nil
	})
	if err != nil {
		return nil, storageErr(err)
	}

	// Отмена уже зафиксирована, поэтому возврат остатков не прерывается
	// при отмене контекста запроса.
	ledger := inventory.NewLedger(s.repo, s.logger)
	res := &CancelResult{
		Order:      cancelled,
		Unreleased: ledger.ReleaseAll(context.WithoutCancel(ctx), cancelled.ID, cancelled.Items),
	}

	s.metrics.OrderCancelled(res.StockRestored())
	if !res.StockRestored() {
		s.logger.Error("order cancelled without full stock restoration",
			zap.String("order", cancelled.ID),
			zap.String("number", cancelled.OrderNumber),
			zap.Int("unreleased", len(res.Unreleased)),
		)
	} else {
		s.logger.Info("order cancelled", zap.String("order", cancelled.ID))
	}
	return res, nil
}
