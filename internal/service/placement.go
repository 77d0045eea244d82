package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/inventory"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/repository"
	"github.com/mmeshcher/storefront/internal/validation"
)

// maxNumberAttempts ограничивает число попыток занять номер заказа,
// если выданный номер уже существует в хранилище.
const maxNumberAttempts = 3

// PlaceOrder оформляет заказ из корзины. Либо заказ сохраняется вместе со
// списанием остатков по всем позициям, либо не происходит ничего.
func (s *Service) PlaceOrder(ctx context.Context, c model.Checkout) (*model.Order, error) {
	o, err := s.placeOrder(ctx, c)
	if err != nil {
		s.metrics.OrderFailed(string(model.KindOf(err)))
		return nil, err
	}
	s.metrics.OrderPlaced()
	s.logger.Info("order placed",
		zap.String("order", o.ID),
		zap.String("number", o.OrderNumber),
		zap.Int64("userID", o.UserID),
		zap.String("total", o.Total.String()),
	)
	return o, nil
}

func (s *Service) placeOrder(ctx context.Context, c model.Checkout) (*model.Order, error) {
	c, err := validation.Checkout(c, s.defaultCountry)
	if err != nil {
		return nil, err
	}

	demand, ids := aggregate(c.Items)

	products, err := s.repo.GetProducts(ctx, ids)
	if err != nil {
		return nil, storageErr(err)
	}

	var missing []string
	for _, id := range ids {
		if _, ok := products[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, model.ProductNotFound(missing...)
	}

	// Предварительная проверка. Окончательно остаток проверяется условным
	// обновлением внутри транзакции.
	for _, id := range ids {
		if p := products[id]; p.Stock < demand[id] {
			return nil, model.InsufficientStock(id, p.Stock)
		}
	}

	now := s.now().UTC()
	order := &model.Order{
		ID:              uuid.NewString(),
		UserID:          c.UserID,
		Items:           snapshot(c.Items, products),
		ShippingAddress: c.ShippingAddress,
		PaymentMethod:   c.PaymentMethod,
		PaymentStatus:   model.PaymentStatusPending,
		OrderStatus:     model.OrderStatusPending,
		ShippingCost:    c.ShippingCost,
		Tax:             c.Tax,
		Notes:           c.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	order.ComputeTotals()

	for attempt := 1; ; attempt++ {
		number, err := s.numbers.Next(ctx)
		if err != nil {
			return nil, storageErr(err)
		}
		order.OrderNumber = number

		err = s.repo.WithinTx(ctx, func(tx repository.Tx) error {
			ledger := inventory.NewLedger(tx, s.logger)
			for _, id := range ids {
				if err := ledger.CheckAndReserve(ctx, id, demand[id]); err != nil {
					return err
				}
			}
			if err := tx.InsertOrder(ctx, order); err != nil {
				return err
			}
			ev, err := newEvent(model.EventOrderPlaced, order, now)
			if err != nil {
				return err
			}
			return tx.AddEvent(ctx, ev)
		})
		if err == nil {
			return order, nil
		}
		if errors.Is(err, repository.ErrDuplicateOrderNumber) && attempt < maxNumberAttempts {
			s.logger.Warn("order number already taken, drawing next",
				zap.String("number", number),
				zap.Int("attempt", attempt),
			)
			continue
		}
		return nil, storageErr(err)
	}
}

// aggregate суммирует количество по товарам и возвращает идентификаторы в
// отсортированном порядке, чтобы параллельные транзакции блокировали
// строки товаров в одной последовательности.
func aggregate(items []model.OrderItem) (map[string]int, []string) {
	demand := make(map[string]int, len(items))
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := demand[it.ProductID]; !ok {
			ids = append(ids, it.ProductID)
		}
		demand[it.ProductID] += it.Quantity
	}
	sort.Strings(ids)
	return demand, ids
}

// snapshot фиксирует название и цену из каталога на момент оформления.
// Размер, цвет и изображение берутся из корзины.
func snapshot(items []model.OrderItem, products map[string]model.Product) []model.OrderItem {
	res := make([]model.OrderItem, len(items))
	for i, it := range items {
		p := products[it.ProductID]
		it.Name = p.Name
		it.Price = p.Price
		if it.Image == "" {
			it.Image = p.Image
		}
		res[i] = it
	}
	return res
}

func newEvent(eventType string, o *model.Order, now time.Time) (model.Event, error) {
	payload, err := json.Marshal(o)
	if err != nil {
		return model.Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return model.Event{
		EventID:   uuid.NewString(),
		Type:      eventType,
		OrderID:   o.ID,
		Payload:   payload,
		CreatedAt: now,
	}, nil
}
