package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindNotFound      Kind = "not_found"
	KindAlreadyExists Kind = "already_exists"
	KindValidation    Kind = "validation"
	KindConflict      Kind = "conflict"
	KindInternal      Kind = "internal"
)

type Code string

const (
	CodeOrderNotFound           Code = "ORDER_NOT_FOUND"
	CodeCustomerNotFound        Code = "CUSTOMER_NOT_FOUND"
	CodeRestaurantNotFound      Code = "RESTAURANT_NOT_FOUND"
	CodeMenuItemNotFound        Code = "MENU_ITEM_NOT_FOUND"
	CodeDriverNotFound          Code = "DRIVER_NOT_FOUND"
	CodeDeliveryNotFound        Code = "DELIVERY_NOT_FOUND"
	CodeDeliveryAlreadyExists   Code = "DELIVERY_ALREADY_EXISTS"
	CodeInvalidTransition       Code = "INVALID_TRANSITION"
	CodeAlreadyCancelled        Code = "ALREADY_CANCELLED"
	CodeAlreadyDelivered        Code = "ALREADY_DELIVERED"
	CodeAlreadyPickedUp         Code = "ALREADY_PICKED_UP"
	CodeNotPickedUp             Code = "NOT_PICKED_UP"
	CodeDriverNotAvailable      Code = "DRIVER_NOT_AVAILABLE"
	CodeRestaurantNotActive     Code = "RESTAURANT_NOT_ACTIVE"
	CodeMenuItemNotAvailable    Code = "MENU_ITEM_NOT_AVAILABLE"
	CodeMenuItemNotInRestaurant Code = "MENU_ITEM_NOT_IN_RESTAURANT"
	CodeEmptyOrder              Code = "EMPTY_ORDER"
	CodeInvalidQuantity         Code = "INVALID_QUANTITY"
	CodeConcurrentUpdate        Code = "CONCURRENT_UPDATE"
	CodeInvalidInput            Code = "INVALID_INPUT"
	CodeInternal                Code = "INTERNAL"
)

// Error is the tagged error returned by every domain and service operation.
// Two errors are equal under errors.Is when their codes match, so the
// package-level sentinels below can be compared against errors carrying a
// more specific message.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func NotFound(code Code, format string, args ...any) *Error {
	return New(KindNotFound, code, fmt.Sprintf(format, args...))
}

func AlreadyExists(code Code, format string, args ...any) *Error {
	return New(KindAlreadyExists, code, fmt.Sprintf(format, args...))
}

func Validation(code Code, format string, args ...any) *Error {
	return New(KindValidation, code, fmt.Sprintf(format, args...))
}

func Conflict(code Code, format string, args ...any) *Error {
	return New(KindConflict, code, fmt.Sprintf(format, args...))
}

func Internal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: message, Cause: cause}
}

var (
	ErrOrderNotFound           = New(KindNotFound, CodeOrderNotFound, "order not found")
	ErrCustomerNotFound        = New(KindNotFound, CodeCustomerNotFound, "customer not found")
	ErrRestaurantNotFound      = New(KindNotFound, CodeRestaurantNotFound, "restaurant not found")
	ErrMenuItemNotFound        = New(KindNotFound, CodeMenuItemNotFound, "menu item not found")
	ErrDriverNotFound          = New(KindNotFound, CodeDriverNotFound, "driver not found")
	ErrDeliveryNotFound        = New(KindNotFound, CodeDeliveryNotFound, "delivery not found")
	ErrDeliveryAlreadyExists   = New(KindAlreadyExists, CodeDeliveryAlreadyExists, "delivery already exists for order")
	ErrInvalidTransition       = New(KindConflict, CodeInvalidTransition, "invalid status transition")
	ErrAlreadyCancelled        = New(KindConflict, CodeAlreadyCancelled, "order already cancelled")
	ErrAlreadyDelivered        = New(KindConflict, CodeAlreadyDelivered, "already delivered")
	ErrAlreadyPickedUp         = New(KindConflict, CodeAlreadyPickedUp, "delivery already picked up")
	ErrNotPickedUp             = New(KindConflict, CodeNotPickedUp, "delivery not picked up yet")
	ErrDriverNotAvailable      = New(KindConflict, CodeDriverNotAvailable, "driver not available")
	ErrRestaurantNotActive     = New(KindValidation, CodeRestaurantNotActive, "restaurant is not active")
	ErrMenuItemNotAvailable    = New(KindValidation, CodeMenuItemNotAvailable, "menu item is not available")
	ErrMenuItemNotInRestaurant = New(KindValidation, CodeMenuItemNotInRestaurant, "menu item does not belong to restaurant")
	ErrEmptyOrder              = New(KindValidation, CodeEmptyOrder, "order must contain at least one item")
	ErrInvalidQuantity         = New(KindValidation, CodeInvalidQuantity, "quantity must be at least 1")
	ErrConcurrentUpdate        = New(KindConflict, CodeConcurrentUpdate, "record was modified concurrently")
	ErrInvalidInput            = New(KindValidation, CodeInvalidInput, "invalid input")
)

// KindOf reports the kind of the first *Error in err's chain, or KindInternal
// for anything untagged.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyExists, KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
