package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the services and mapped to transport codes at the boundary.
var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrGatewayUnavailable     = errors.New("payment gateway unavailable")
	ErrReconciliationMismatch = errors.New("reconciliation mismatch")
	ErrForbidden              = errors.New("forbidden")
)

const (
	CodeEmptyCart           = "empty_cart"
	CodeMissingCustomerInfo = "missing_customer_info"
	CodeInvalidQuantity     = "invalid_quantity"
	CodeInvalidPrice        = "invalid_price"
	CodeInvalidRequest      = "invalid_request"
	CodeInvalidPayment      = "invalid_payment_method"
)

// ValidationError reports bad or missing caller input. Message is safe to show to the caller.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewValidationError(code, message string) *ValidationError {
	return &ValidationError{Code: code, Message: message}
}

var (
	ErrEmptyCart           = NewValidationError(CodeEmptyCart, "cart is empty")
	ErrMissingCustomerInfo = NewValidationError(CodeMissingCustomerInfo, "customer name and phone are required")
	ErrInvalidQuantity     = NewValidationError(CodeInvalidQuantity, "quantity must be a positive integer")
)

// IsValidation reports whether err carries a ValidationError anywhere in its chain.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// TransitionError describes a rejected status change.
type TransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition order from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
