package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/middleware"
	"github.com/mmeshcher/storefront/internal/model"
)

type placeOrderRequest struct {
	Items           []model.OrderItem     `json:"items"`
	ShippingAddress model.ShippingAddress `json:"shippingAddress"`
	PaymentMethod   model.PaymentMethod   `json:"paymentMethod"`
	ShippingCost    decimal.Decimal       `json:"shippingCost"`
	Tax             decimal.Decimal       `json:"tax"`
	Notes           string                `json:"notes"`
}

// PlaceOrder оформляет заказ из корзины текущего пользователя.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, model.Validationf("malformed request body"))
		return
	}

	o, err := h.service.PlaceOrder(r.Context(), model.Checkout{
		UserID:          userID,
		Items:           req.Items,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		ShippingCost:    req.ShippingCost,
		Tax:             req.Tax,
		Notes:           req.Notes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/orders/"+o.ID)
	h.writeJSON(w, http.StatusCreated, o)
}

type listOrdersResponse struct {
	Orders []model.Order `json:"orders"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// GetOrders возвращает страницу заказов текущего пользователя.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	h.listOrders(w, r, userID)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request, userID int64) {
	limit, offset, err := pageParams(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	f := model.OrderFilter{
		UserID:        userID,
		OrderStatus:   model.OrderStatus(q.Get("orderStatus")),
		PaymentStatus: model.PaymentStatus(q.Get("paymentStatus")),
	}

	orders, total, err := h.service.ListOrders(r.Context(), f, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}

	h.writeJSON(w, http.StatusOK, listOrdersResponse{
		Orders: orders,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// ownedOrder загружает заказ и проверяет, что он принадлежит текущему
// пользователю или пользователь является администратором. Чужой заказ
// выглядит как несуществующий.
func (h *Handler) ownedOrder(w http.ResponseWriter, r *http.Request, load func() (*model.Order, error)) (*model.Order, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return nil, false
	}

	o, err := load()
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	if o.UserID == userID {
		return o, true
	}

	admin, err := h.service.IsAdmin(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	if !admin {
		h.writeError(w, r, model.NotFound("order", o.ID))
		return nil, false
	}
	return o, true
}

// GetOrder возвращает заказ по внутреннему идентификатору.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	o, ok := h.ownedOrder(w, r, func() (*model.Order, error) {
		return h.service.GetOrder(r.Context(), id)
	})
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, o)
}

// GetOrderByNumber возвращает заказ по человекочитаемому номеру.
func (h *Handler) GetOrderByNumber(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	o, ok := h.ownedOrder(w, r, func() (*model.Order, error) {
		return h.service.GetOrderByNumber(r.Context(), number)
	})
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, o)
}

type unreleasedItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Error     string `json:"error"`
}

type cancelResponse struct {
	Order         *model.Order     `json:"order"`
	StockRestored bool             `json:"stockRestored"`
	Unreleased    []unreleasedItem `json:"unreleased,omitempty"`
}

// CancelOrder отменяет заказ в статусе Pending и возвращает товары на склад.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.ownedOrder(w, r, func() (*model.Order, error) {
		return h.service.GetOrder(r.Context(), id)
	}); !ok {
		return
	}

	res, err := h.service.CancelOrder(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := cancelResponse{Order: res.Order, StockRestored: res.StockRestored()}
	for _, f := range res.Unreleased {
		resp.Unreleased = append(resp.Unreleased, unreleasedItem{
			ProductID: f.Item.ProductID,
			Quantity:  f.Item.Quantity,
			Error:     f.Err.Error(),
		})
	}
	if !resp.StockRestored {
		h.logger.Warn("cancel reported degraded stock restoration",
			zap.String("order", id),
			zap.Int("unreleased", len(resp.Unreleased)),
		)
	}

	h.writeJSON(w, http.StatusOK, resp)
}
