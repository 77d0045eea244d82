package model

import (
	"errors"
	"fmt"
	"strings"
)

// Kind классифицирует ошибку для вызывающей стороны.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindProductNotFound   Kind = "product_not_found"
	KindInsufficientStock Kind = "insufficient_stock"
	KindInvalidTransition Kind = "invalid_state_transition"
	KindNotFound          Kind = "not_found"
	KindStorage           Kind = "storage"
)

// Error описывает классифицированную ошибку ядра заказов.
type Error struct {
	Kind      Kind
	Message   string
	ProductID string
	Available int
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is сравнивает ошибки по виду, поэтому errors.Is(err, ErrInsufficientStock)
// срабатывает для любого экземпляра с тем же Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Эталонные значения для errors.Is.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrProductNotFound   = &Error{Kind: KindProductNotFound}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrStorage           = &Error{Kind: KindStorage}
)

// Validationf создаёт ошибку валидации входных данных.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// ProductNotFound создаёт ошибку об отсутствующих в каталоге товарах.
func ProductNotFound(ids ...string) *Error {
	e := &Error{
		Kind:    KindProductNotFound,
		Message: "product not found: " + strings.Join(ids, ", "),
	}
	if len(ids) > 0 {
		e.ProductID = ids[0]
	}
	return e
}

// InsufficientStock создаёт ошибку о нехватке остатка товара.
func InsufficientStock(productID string, available int) *Error {
	return &Error{
		Kind:      KindInsufficientStock,
		Message:   fmt.Sprintf("insufficient stock for product %s: %d available", productID, available),
		ProductID: productID,
		Available: available,
	}
}

// InvalidTransition создаёт ошибку недопустимого перехода статуса.
func InvalidTransition(from, to OrderStatus) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Message: fmt.Sprintf("cannot change order status from %s to %s", from, to),
	}
}

// NotFound создаёт ошибку об отсутствии сущности.
func NotFound(what, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", what, id)}
}

// Storage оборачивает инфраструктурную ошибку хранилища.
func Storage(err error) *Error {
	return &Error{Kind: KindStorage, Message: "storage error", Err: err}
}

// KindOf возвращает вид ошибки. Неклассифицированные ошибки считаются ошибками хранилища.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorage
}
