package domain

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	// Order errors
	ErrOrderNotFound     = errors.New("order not found")
	ErrOrderNotRetryable = errors.New("order is not in a retryable state")

	// Execution errors
	ErrExecutionNotFound      = errors.New("saga execution not found")
	ErrExecutionAlreadyActive = errors.New("another execution is already in progress for this order")
	ErrStepResultNotFound     = errors.New("step result not found")
	ErrRetryAttemptNotFound   = errors.New("retry attempt not found")
	ErrRetryAlreadyInProgress = errors.New("a retry is already in progress for this order")

	// Validation errors
	ErrInvalidCustomerID    = errors.New("invalid customer id")
	ErrInvalidOrderID       = errors.New("invalid order id")
	ErrEmptyItems           = errors.New("order must contain at least one item")
	ErrInvalidQuantity      = errors.New("quantity must be greater than zero")
	ErrInvalidUnitPrice     = errors.New("unit price cannot be negative")
	ErrMissingPaymentMethod = errors.New("payment method id is required")
	ErrIncompleteAddress    = errors.New("shipping address is incomplete")

	// Retry errors
	ErrRetryNotEligible = errors.New("order is not eligible for retry")
)

// RetryContextValidationError reports a missing or invalid input discovered
// while reconstructing the saga context for a retry. It is surfaced before
// any retry attempt row is written.
type RetryContextValidationError struct {
	Field  string
	Reason string
}

func (e *RetryContextValidationError) Error() string {
	return fmt.Sprintf("retry context validation failed: %s: %s", e.Field, e.Reason)
}

// IsNotFoundError checks if the error is a not found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrExecutionNotFound) ||
		errors.Is(err, ErrStepResultNotFound) ||
		errors.Is(err, ErrRetryAttemptNotFound)
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	var ctxErr *RetryContextValidationError
	return errors.Is(err, ErrInvalidCustomerID) ||
		errors.Is(err, ErrInvalidOrderID) ||
		errors.Is(err, ErrEmptyItems) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidUnitPrice) ||
		errors.Is(err, ErrMissingPaymentMethod) ||
		errors.Is(err, ErrIncompleteAddress) ||
		errors.As(err, &ctxErr)
}

// IsConflictError checks if the error is a conflict error
func IsConflictError(err error) bool {
	return errors.Is(err, ErrExecutionAlreadyActive) ||
		errors.Is(err, ErrRetryAlreadyInProgress)
}
