package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/report"
)

// AdminListOrders возвращает заказы всех пользователей, с фильтром по userId.
func (h *Handler) AdminListOrders(w http.ResponseWriter, r *http.Request) {
	var userID int64
	if v := r.URL.Query().Get("userId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			h.writeError(w, r, model.Validationf("userId must be a positive integer"))
			return
		}
		userID = id
	}
	h.listOrders(w, r, userID)
}

type updateOrderRequest struct {
	OrderStatus   *model.OrderStatus   `json:"orderStatus"`
	PaymentStatus *model.PaymentStatus `json:"paymentStatus"`
	Notes         *string              `json:"notes"`
}

// UpdateOrder меняет статус, статус оплаты и примечания заказа.
func (h *Handler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	var req updateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, model.Validationf("malformed request body"))
		return
	}

	o, err := h.service.UpdateOrder(r.Context(), chi.URLParam(r, "id"), model.OrderUpdate{
		OrderStatus:   req.OrderStatus,
		PaymentStatus: req.PaymentStatus,
		Notes:         req.Notes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, o)
}

// parseTime принимает RFC3339 или дату вида YYYY-MM-DD (полночь UTC).
func parseTime(name, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return &t, nil
	}
	return nil, model.Validationf("%s must be RFC3339 or YYYY-MM-DD", name)
}

// GetReport строит отчёт по заказам за период [start, end).
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	kind, err := report.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	start, err := parseTime("start", q.Get("start"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	end, err := parseTime("end", q.Get("end"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rep, err := h.service.BuildReport(r.Context(), kind, start, end)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rep)
}
