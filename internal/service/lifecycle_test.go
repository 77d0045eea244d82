package service

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/repository"
)

func statusPtr(s model.OrderStatus) *model.OrderStatus      { return &s }
func paymentPtr(s model.PaymentStatus) *model.PaymentStatus { return &s }

func placed(t *testing.T, svc *Service, items ...model.OrderItem) *model.Order {
	t.Helper()
	o, err := svc.PlaceOrder(context.Background(), checkout(items...))
	require.NoError(t, err)
	return o
}

func TestCancelOrder_RestoresStock(t *testing.T) {
	repo := repository.NewMemoryRepository()
	seed(t, repo, "p-1", "1000", 5)
	svc := newTestService(t, repo)
	ctx := context.Background()

	o := placed(t, svc, item("p-1", 2))
	require.Equal(t, 3, stock(t, repo, "p-1"))

	res, err := svc.CancelOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, res.StockRestored())
	assert.Equal(t, model.OrderStatusCancelled, res.Order.OrderStatus)
	assert.Equal(t, 5, stock(t, repo, "p-1"))

	_, err = svc.CancelOrder(ctx, o.ID)
	require.ErrorIs(t, err, model.ErrInvalidTransition)
	assert.Equal(t, 5, stock(t, repo, "p-1"), "second cancel must not restore again")

	stored, err := svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, stored.OrderStatus)

	types := []string{}
	for _, e := range pendingEvents(t, repo) {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{model.EventOrderPlaced, model.EventOrderCancelled}, types)
}

func TestCancelOrder_OnlyFromPending(t *testing.T) {
	for _, s := range []model.OrderStatus{
		model.OrderStatusProcessing,
		model.OrderStatusShipped,
		model.OrderStatusDelivered,
	} {
		t.Run(string(s), func(t *testing.T) {
			repo := repository.NewMemoryRepository()
			seed(t, repo, "p-1", "10", 5)
			svc := newTestService(t, repo)
			ctx := context.Background()

			o := placed(t, svc, item("p-1", 2))
			_, err := svc.UpdateOrder(ctx, o.ID, model.OrderUpdate{OrderStatus: statusPtr(s)})
			require.NoError(t, err)

			_, err = svc.CancelOrder(ctx, o.ID)
			require.ErrorIs(t, err, model.ErrInvalidTransition)

			stored, err := svc.GetOrder(ctx, o.ID)
			require.NoError(t, err)
			assert.Equal(t, s, stored.OrderStatus)
			assert.Equal(t, 3, stock(t, repo, "p-1"))
		})
	}
}

func TestCancelOrder_NotFound(t *testing.T) {
	svc := newTestService(t, repository.NewMemoryRepository())

	_, err := svc.CancelOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

// flakyRelease не может вернуть на склад один из товаров.
type flakyRelease struct {
	*repository.MemoryRepository
	fail string
}

func (f flakyRelease) ReleaseStock(ctx context.Context, productID string, quantity int) error {
	if productID == f.fail {
		return errors.New("connection reset by peer")
	}
	return f.MemoryRepository.ReleaseStock(ctx, productID, quantity)
}

func TestCancelOrder_PartialRelease(t *testing.T) {
	repo := repository.NewMemoryRepository()
	seed(t, repo, "a", "10", 5)
	seed(t, repo, "b", "10", 5)
	seed(t, repo, "c", "10", 5)
	svc := newTestService(t, flakyRelease{MemoryRepository: repo, fail: "b"})
	ctx := context.Background()

	o := placed(t, svc, item("a", 1), item("b", 2), item("c", 3))

	res, err := svc.CancelOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, res.StockRestored())
	require.Len(t, res.Unreleased, 1)
	assert.Equal(t, "b", res.Unreleased[0].Item.ProductID)
	assert.Equal(t, 2, res.Unreleased[0].Item.Quantity)

	assert.Equal(t, 5, stock(t, repo, "a"))
	assert.Equal(t, 3, stock(t, repo, "b"))
	assert.Equal(t, 5, stock(t, repo, "c"))

	stored, err := svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, stored.OrderStatus)
}

func TestUpdateOrder(t *testing.T) {
	repo := repository.NewMemoryRepository()
	seed(t, repo, "p-1", "10", 5)
	svc := newTestService(t, repo)
	ctx := context.Background()

	o := placed(t, svc, item("p-1", 1))

	_, err := svc.UpdateOrder(ctx, o.ID, model.OrderUpdate{})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = svc.UpdateOrder(ctx, o.ID, model.OrderUpdate{OrderStatus: statusPtr(model.OrderStatusCancelled)})
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	_, err = svc.UpdateOrder(ctx, "missing", model.OrderUpdate{OrderStatus: statusPtr(model.OrderStatusShipped)})
	assert.ErrorIs(t, err, model.ErrNotFound)

	notes := "fragile"
	updated, err := svc.UpdateOrder(ctx, o.ID, model.OrderUpdate{
		OrderStatus:   statusPtr(model.OrderStatusDelivered),
		PaymentStatus: paymentPtr(model.PaymentStatusFailed),
		Notes:         &notes,
	})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusDelivered, updated.OrderStatus)
	assert.Equal(t, model.PaymentStatusPaid, updated.PaymentStatus)
	require.NotNil(t, updated.DeliveredAt)
	assert.Equal(t, testNow, *updated.DeliveredAt)

	stored, err := svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "fragile", stored.Notes)
	assert.Equal(t, model.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, o.Items, stored.Items)
	assert.True(t, o.Total.Equal(stored.Total))

	back, err := svc.UpdateOrder(ctx, o.ID, model.OrderUpdate{OrderStatus: statusPtr(model.OrderStatusShipped)})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusShipped, back.OrderStatus)
	assert.NotNil(t, back.DeliveredAt, "delivery timestamp is kept")
}

func TestLifecycle_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	statuses := gen.OneConstOf(
		model.OrderStatusPending,
		model.OrderStatusProcessing,
		model.OrderStatusShipped,
		model.OrderStatusDelivered,
	)
	payments := gen.OneConstOf(
		model.PaymentStatusPending,
		model.PaymentStatusPaid,
		model.PaymentStatusFailed,
	)

	properties.Property("cod delivered is always paid", prop.ForAll(
		func(before model.OrderStatus, payment model.PaymentStatus) bool {
			repo := repository.NewMemoryRepository()
			seed(t, repo, "p", "1", 1)
			svc := NewService(repo)
			ctx := context.Background()

			o, err := svc.PlaceOrder(ctx, checkout(item("p", 1)))
			if err != nil {
				return false
			}
			if _, err := svc.UpdateOrder(ctx, o.ID, model.OrderUpdate{OrderStatus: &before, PaymentStatus: &payment}); err != nil {
				return false
			}
			delivered := model.OrderStatusDelivered
			got, err := svc.UpdateOrder(ctx, o.ID, model.OrderUpdate{OrderStatus: &delivered})
			return err == nil && got.PaymentStatus == model.PaymentStatusPaid && got.DeliveredAt != nil
		},
		statuses,
		payments,
	))

	properties.Property("cancel restores stock exactly once", prop.ForAll(
		func(initial, qty int) bool {
			if qty > initial {
				return true
			}
			repo := repository.NewMemoryRepository()
			seed(t, repo, "p", "1", initial)
			svc := NewService(repo)
			ctx := context.Background()

			o, err := svc.PlaceOrder(ctx, checkout(item("p", qty)))
			if err != nil {
				return false
			}
			if _, err := svc.CancelOrder(ctx, o.ID); err != nil {
				return false
			}
			_, err = svc.CancelOrder(ctx, o.ID)
			return errors.Is(err, model.ErrInvalidTransition) && stock(t, repo, "p") == initial
		},
		gen.IntRange(1, 50),
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}
