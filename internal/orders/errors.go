package orders

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindValidation  Kind = "validation"
	KindInventory   Kind = "inventory"
	KindConcurrency Kind = "concurrency"
	KindState       Kind = "state"
	KindSystem      Kind = "system"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
)

const (
	CodeCustomerInvalid    = "CUSTOMER_INVALID"
	CodeItemsInvalid       = "ITEMS_INVALID"
	CodeQuantityLimit      = "QUANTITY_LIMIT"
	CodeProductUnavailable = "PRODUCT_UNAVAILABLE"
	CodeAmountMismatch     = "AMOUNT_MISMATCH"
	CodePaymentInvalid     = "PAYMENT_INVALID"
	CodeAddressIncomplete  = "ADDRESS_INCOMPLETE"
	CodePromoInvalid       = "PROMO_INVALID"
	CodeSystemError        = "SYSTEM_ERROR"
	CodeValidationFailed   = "VALIDATION_FAILED"

	CodeInsufficientStock    = "INSUFFICIENT_STOCK"
	CodeVerificationPending  = "VERIFICATION_PENDING"
	CodeVerificationRejected = "VERIFICATION_REJECTED"
	CodeInvalidTransition    = "INVALID_TRANSITION"
	CodeReservationExpired   = "RESERVATION_EXPIRED"
	CodeNotFound             = "NOT_FOUND"
	CodeDuplicate            = "DUPLICATE"
	CodeConcurrency          = "CONCURRENCY"
	CodeCommitFailed         = "COMMIT_FAILED"
)

var ErrNotFound = errors.New("not found")

type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Shortage describes one stock key that could not cover its demand.
type Shortage struct {
	Key       StockKey `json:"key"`
	Requested int      `json:"requested"`
	Available int      `json:"available"`
}

// Error is the only error type the engine returns to callers.
type Error struct {
	Kind      Kind         `json:"-"`
	Code      string       `json:"code"`
	Message   string       `json:"message"`
	Fields    []FieldError `json:"fields,omitempty"`
	Shortages []Shortage   `json:"shortages,omitempty"`
	Err       error        `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns KindSystem for anything that is not an *Error.
func KindOf(err error) Kind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return KindSystem
}

func IsConcurrency(err error) bool { return err != nil && KindOf(err) == KindConcurrency }

func NewValidation(fields []FieldError) *Error {
	code, msg := CodeValidationFailed, "order validation failed"
	if len(fields) > 0 {
		code, msg = fields[0].Code, fields[0].Message
	}
	return &Error{Kind: KindValidation, Code: code, Message: msg, Fields: fields}
}

func NotFound(what, id string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", what, id), Err: ErrNotFound}
}

func InsufficientStock(shortages []Shortage) *Error {
	keys := make([]string, 0, len(shortages))
	for _, s := range shortages {
		keys = append(keys, fmt.Sprintf("%s (requested %d, available %d)", s.Key, s.Requested, s.Available))
	}
	return &Error{
		Kind:      KindInventory,
		Code:      CodeInsufficientStock,
		Message:   "insufficient stock: " + strings.Join(keys, ", "),
		Shortages: shortages,
	}
}

func InvalidTransition(from, to string) *Error {
	return &Error{Kind: KindState, Code: CodeInvalidTransition, Message: fmt.Sprintf("cannot move from %s to %s", from, to)}
}

func StateError(code, msg string) *Error {
	return &Error{Kind: KindState, Code: code, Message: msg}
}

func Concurrency(err error) *Error {
	return &Error{Kind: KindConcurrency, Code: CodeConcurrency, Message: "concurrent update, retry", Err: err}
}

func Duplicate(msg string, err error) *Error {
	return &Error{Kind: KindConflict, Code: CodeDuplicate, Message: msg, Err: err}
}

// Wrap turns any error into an *Error, leaving existing ones untouched.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	if _, ok := AsError(err); ok {
		return err
	}
	return &Error{Kind: KindSystem, Code: CodeSystemError, Message: msg, Err: err}
}
