// Package handler содержит HTTP-обработчики API сервиса витрины.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/metrics"
	"github.com/mmeshcher/storefront/internal/middleware"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/report"
	"github.com/mmeshcher/storefront/internal/repository"
	"github.com/mmeshcher/storefront/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password, name, phone string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, error)
	IsAdmin(ctx context.Context, userID int64) (bool, error)

	GetProduct(ctx context.Context, id string) (*model.Product, error)
	UpsertProduct(ctx context.Context, p model.Product) (*model.Product, error)

	PlaceOrder(ctx context.Context, c model.Checkout) (*model.Order, error)
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*model.Order, error)
	ListOrders(ctx context.Context, f model.OrderFilter, limit, offset int) ([]model.Order, int, error)
	UpdateOrder(ctx context.Context, id string, u model.OrderUpdate) (*model.Order, error)
	CancelOrder(ctx context.Context, id string) (*service.CancelResult, error)

	BuildReport(ctx context.Context, kind report.Kind, start, end *time.Time) (*report.Report, error)
}

// Handler реализует HTTP-обработчики API сервиса витрины.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	metrics        *metrics.Metrics
	gatherer       prometheus.Gatherer
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов. Если gatherer
// не nil, роутер отдаёт метрики по /metrics.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, m *metrics.Metrics, gatherer prometheus.Gatherer) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		metrics:        m,
		gatherer:       gatherer,
	}
}

type registerRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password, req.Name, req.Phone)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Login выполняет аутентификацию пользователя и устанавливает cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// GetProduct возвращает карточку товара.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

type productRequest struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
	Image string          `json:"image"`
}

// PutProduct создаёт или заменяет товар каталога.
func (h *Handler) PutProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, model.Validationf("malformed request body"))
		return
	}

	p, err := h.service.UpsertProduct(r.Context(), model.Product{
		ID:    chi.URLParam(r, "id"),
		Name:  req.Name,
		Price: req.Price,
		Stock: req.Stock,
		Image: req.Image,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

type errorResponse struct {
	Kind      model.Kind `json:"kind"`
	Message   string     `json:"message"`
	ProductID string     `json:"productId,omitempty"`
	Available *int       `json:"available,omitempty"`
}

var kindStatus = map[model.Kind]int{
	model.KindValidation:        http.StatusBadRequest,
	model.KindProductNotFound:   http.StatusUnprocessableEntity,
	model.KindInsufficientStock: http.StatusConflict,
	model.KindInvalidTransition: http.StatusConflict,
	model.KindNotFound:          http.StatusNotFound,
	model.KindStorage:           http.StatusInternalServerError,
}

// writeError отвечает структурированной ошибкой с видом и сообщением.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := model.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	resp := errorResponse{Kind: kind, Message: err.Error()}
	var e *model.Error
	if errors.As(err, &e) {
		resp.Message = e.Message
		resp.ProductID = e.ProductID
		if kind == model.KindInsufficientStock {
			available := e.Available
			resp.Available = &available
		}
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("uri", r.RequestURI),
			zap.Error(err),
		)
		resp.Message = http.StatusText(http.StatusInternalServerError)
	}

	h.writeJSON(w, status, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

// pageParams читает limit и offset из строки запроса и нормализует их.
// Отсутствующий limit заменяется значением по умолчанию.
func pageParams(r *http.Request) (int, int, error) {
	var limit, offset int
	var err error
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			return 0, 0, model.Validationf("limit must be an integer")
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil {
			return 0, 0, model.Validationf("offset must be an integer")
		}
	}
	if limit < 0 || offset < 0 {
		return 0, 0, model.Validationf("limit and offset must not be negative")
	}
	limit, offset = model.NormalizePage(limit, offset)
	return limit, offset, nil
}
