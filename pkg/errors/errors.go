package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Standard error types
var (
	ErrNotFound                   = errors.New("resource not found")
	ErrValidation                 = errors.New("validation failed")
	ErrIllegalArgument            = errors.New("illegal argument")
	ErrIllegalState               = errors.New("illegal state")
	ErrIllegalStatusTransition    = errors.New("illegal status transition")
	ErrTerminalStateViolation     = errors.New("terminal state violation")
	ErrAmountMismatch             = errors.New("amount mismatch")
	ErrInvalidOrderData           = errors.New("invalid order data")
	ErrInvalidOrderState          = errors.New("invalid order state")
	ErrMissingPaymentMethod       = errors.New("missing payment method")
	ErrOrdersNotFound             = errors.New("orders not found")
	ErrDocumentGeneration         = errors.New("document generation failed")
	ErrExternalServiceUnavailable = errors.New("external service unavailable")
	ErrConflict                   = errors.New("resource conflict")
	ErrInternal                   = errors.New("internal server error")
	ErrTemporaryFailure           = errors.New("temporary failure")
	ErrPermanentFailure           = errors.New("permanent failure")
	ErrServiceUnavailable         = errors.New("service unavailable")
	ErrTimeout                    = errors.New("timeout")
	ErrRateLimited                = errors.New("rate limited")
)

// AppError represents a structured application error with context
type AppError struct {
	Err        error
	StatusCode int
	Message    string
	Retryable  bool
	Context    map[string]interface{}
}

// Error returns the error message
func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithContext adds additional context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new AppError with the given parameters
func NewAppError(err error, message string, statusCode int, retryable bool) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
		Context:    make(map[string]interface{}),
	}
}

// IsRetryable checks if the error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError

	if errors.As(err, &appErr) {
		return appErr.Retryable
	}

	// By default, classify some standard errors as retryable
	return errors.Is(err, ErrTemporaryFailure) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}

// StatusCode maps any error to the HTTP status the API should answer with.
func StatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.StatusCode != 0 {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// Is re-exports errors.Is so callers only import one errors package.
func Is(err, target error) bool { return errors.Is(err, target) }

// As re-exports errors.As.
func As(err error, target interface{}) bool { return errors.As(err, target) }

// New re-exports errors.New.
func New(text string) error { return errors.New(text) }

// NewNotFoundError creates a not found error
func NewNotFoundError(message string) *AppError {
	return NewAppError(ErrNotFound, message, http.StatusNotFound, false)
}

// NewValidationError creates a business-rule validation error
func NewValidationError(format string, args ...interface{}) *AppError {
	return NewAppError(ErrValidation, fmt.Sprintf(format, args...), http.StatusBadRequest, false)
}

// NewIllegalArgumentError creates an illegal argument error
func NewIllegalArgumentError(format string, args ...interface{}) *AppError {
	return NewAppError(ErrIllegalArgument, fmt.Sprintf(format, args...), http.StatusBadRequest, false)
}

// NewIllegalStateError signals a precondition that no longer holds at write time.
func NewIllegalStateError(format string, args ...interface{}) *AppError {
	return NewAppError(ErrIllegalState, fmt.Sprintf(format, args...), http.StatusConflict, false)
}

// NewIllegalStatusTransitionError names both states of the rejected transition.
func NewIllegalStatusTransitionError(entity, from, to string) *AppError {
	if from == "" {
		from = "<unset>"
	}
	return NewAppError(ErrIllegalStatusTransition,
		fmt.Sprintf("illegal %s status transition from %s to %s", entity, from, to),
		http.StatusConflict, false).
		WithContext("from", from).
		WithContext("to", to)
}

// NewTerminalStateViolationError is returned when a sticky status is left.
func NewTerminalStateViolationError(entity, current, to string) *AppError {
	return NewAppError(ErrTerminalStateViolation,
		fmt.Sprintf("%s is in terminal status %s and cannot move to %s", entity, current, to),
		http.StatusConflict, false).
		WithContext("current", current).
		WithContext("to", to)
}

// NewAmountMismatchError reports the declared and expected amounts.
func NewAmountMismatchError(declared, expected string) *AppError {
	return NewAppError(ErrAmountMismatch,
		fmt.Sprintf("declared amount %s does not match orders total %s", declared, expected),
		http.StatusBadRequest, false).
		WithContext("declared", declared).
		WithContext("expected", expected)
}

// NewInvalidOrderDataError creates an error for order data that cannot be defaulted.
func NewInvalidOrderDataError(orderID, reason string) *AppError {
	return NewAppError(ErrInvalidOrderData,
		fmt.Sprintf("order %s has invalid data: %s", orderID, reason),
		http.StatusBadRequest, false).
		WithContext("order_id", orderID)
}

// NewInvalidOrderStateError names the offending order and its status.
func NewInvalidOrderStateError(orderID, status string) *AppError {
	return NewAppError(ErrInvalidOrderState,
		fmt.Sprintf("order %s is in status %s, expected PENDING or PENDING_PAYMENT", orderID, status),
		http.StatusConflict, false).
		WithContext("order_id", orderID).
		WithContext("status", status)
}

// NewMissingPaymentMethodError creates a missing payment method error
func NewMissingPaymentMethodError() *AppError {
	return NewAppError(ErrMissingPaymentMethod, "payment method is required", http.StatusBadRequest, false)
}

// NewOrdersNotFoundError lists every order id that did not resolve.
func NewOrdersNotFoundError(ids []string) *AppError {
	return NewAppError(ErrOrdersNotFound,
		fmt.Sprintf("orders not found: %s", strings.Join(ids, ", ")),
		http.StatusNotFound, false).
		WithContext("missing_ids", ids)
}

// NewDocumentGenerationError wraps a rendering failure.
func NewDocumentGenerationError(invoiceID string, cause error) *AppError {
	return NewAppError(fmt.Errorf("%w: %v", ErrDocumentGeneration, cause),
		fmt.Sprintf("failed to generate document for invoice %s: %v", invoiceID, cause),
		http.StatusInternalServerError, false).
		WithContext("invoice_id", invoiceID)
}

// NewExternalServiceUnavailableError creates an error for unreachable collaborators.
func NewExternalServiceUnavailableError(service string, cause error) *AppError {
	return NewAppError(fmt.Errorf("%w: %v", ErrExternalServiceUnavailable, cause),
		fmt.Sprintf("%s unavailable: %v", service, cause),
		http.StatusServiceUnavailable, true)
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *AppError {
	return NewAppError(ErrConflict, message, http.StatusConflict, false)
}

// NewInternalError creates an internal server error
func NewInternalError(message string) *AppError {
	return NewAppError(ErrInternal, message, http.StatusInternalServerError, true)
}

// NewTemporaryError creates a temporary error
func NewTemporaryError(message string) *AppError {
	return NewAppError(ErrTemporaryFailure, message, http.StatusServiceUnavailable, true)
}

// NewPermanentError creates an error that must not be retried
func NewPermanentError(message string) *AppError {
	return NewAppError(ErrPermanentFailure, message, http.StatusBadGateway, false)
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(message string) *AppError {
	return NewAppError(ErrTimeout, message, http.StatusGatewayTimeout, true)
}

// NewRateLimitedError creates a rate limited error
func NewRateLimitedError(message string) *AppError {
	return NewAppError(ErrRateLimited, message, http.StatusTooManyRequests, true)
}
