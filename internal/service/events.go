package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/validation"
)

const (
	eventBatchSize          = 100
	defaultMaxEventAttempts = 10
)

// retryAfter реализуют ошибки получателя, просящего повторить доставку позже.
type retryAfter interface {
	RetryAfter() time.Duration
}

// RunEventDispatcher периодически доставляет события, записанные вместе с
// изменениями заказов. Возвращает управление после отмены ctx.
func (s *Service) RunEventDispatcher(ctx context.Context) {
	ticker := time.NewTicker(s.dispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.processEventBatch(ctx)
		}
	}
}

// processEventBatch обрабатывает очередную порцию событий в порядке записи.
// При ошибке доставки обработка прекращается, событие остаётся в очереди
// до следующего тика. Событие, исчерпавшее maxEventAttempts попыток,
// снимается с очереди, и обработка продолжается со следующего.
func (s *Service) processEventBatch(ctx context.Context) int {
	events, err := s.repo.FetchPendingEvents(ctx, eventBatchSize)
	if err != nil {
		s.logger.Error("fetch pending events error", zap.Error(err))
		return 0
	}

	sent := 0
	for _, e := range events {
		s.handleEvent(ctx, e)

		if err := s.publish(ctx, e); err != nil {
			s.metrics.EventDispatched(e.Type, false)
			s.logger.Warn("publish event error",
				zap.String("event", e.EventID),
				zap.String("type", e.Type),
				zap.String("order", e.OrderID),
				zap.Int("attempt", e.Attempts+1),
				zap.Error(err),
			)

			// Просьба получателя подождать не считается неудачной попыткой.
			var ra retryAfter
			if errors.As(err, &ra) {
				if d := ra.RetryAfter(); d > 0 {
					timer := time.NewTimer(d)
					select {
					case <-ctx.Done():
						timer.Stop()
					case <-timer.C:
					}
				}
				return sent
			}

			dead, ferr := s.repo.RecordEventFailure(ctx, e.ID, err.Error(), s.maxEventAttempts)
			if ferr != nil {
				s.logger.Error("record event failure error", zap.String("event", e.EventID), zap.Error(ferr))
				return sent
			}
			if !dead {
				return sent
			}
			s.logger.Error("event dropped after max delivery attempts",
				zap.String("event", e.EventID),
				zap.String("type", e.Type),
				zap.String("order", e.OrderID),
				zap.Int("attempts", s.maxEventAttempts),
			)
			continue
		}

		if err := s.repo.MarkEventSent(ctx, e.ID); err != nil {
			s.logger.Error("mark event sent error", zap.String("event", e.EventID), zap.Error(err))
			return sent
		}
		s.metrics.EventDispatched(e.Type, true)
		sent++
	}
	return sent
}

func (s *Service) publish(ctx context.Context, e model.Event) error {
	for _, p := range s.publishers {
		if err := p.Publish(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// handleEvent выполняет локальные побочные действия. Ошибки только
// логируются и не влияют на доставку события.
func (s *Service) handleEvent(ctx context.Context, e model.Event) {
	if e.Type != model.EventOrderPlaced {
		return
	}

	var o model.Order
	if err := json.Unmarshal(e.Payload, &o); err != nil {
		s.logger.Warn("decode order.placed payload", zap.String("event", e.EventID), zap.Error(err))
		return
	}

	phone := validation.NormalizePhone(o.ShippingAddress.Phone)
	if o.UserID == 0 || phone == "" {
		return
	}

	changed, err := s.repo.BackfillUserPhone(ctx, o.UserID, phone)
	if err != nil {
		s.logger.Warn("backfill profile phone",
			zap.Int64("userID", o.UserID),
			zap.String("order", o.ID),
			zap.Error(err),
		)
		return
	}
	if changed {
		s.logger.Info("profile phone backfilled", zap.Int64("userID", o.UserID))
	}
}
