// Package errors defines the service error taxonomy and its HTTP mapping.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code identifies a class of failure.
type Code string

const (
	CodeInvalidInput         Code = "INVALID_INPUT"
	CodeInvalidAmount        Code = "INVALID_AMOUNT"
	CodeNotFound             Code = "NOT_FOUND"
	CodeForbidden            Code = "FORBIDDEN"
	CodeInvalidState         Code = "INVALID_STATE"
	CodeInsufficientBudget   Code = "INSUFFICIENT_BUDGET"
	CodeNothingToDistribute  Code = "NOTHING_TO_DISTRIBUTE"
	CodePaymentsUnavailable  Code = "PAYMENTS_UNAVAILABLE"
	CodeTransactionNotFound  Code = "TRANSACTION_NOT_FOUND"
	CodeWrongRecipient       Code = "WRONG_RECIPIENT"
	CodeDuplicateTransaction Code = "DUPLICATE_TRANSACTION"
	CodeUnauthorized         Code = "UNAUTHORIZED"
	CodeRateLimitExceeded    Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal             Code = "INTERNAL_ERROR"
)

var statusByCode = map[Code]int{
	CodeInvalidInput:         http.StatusBadRequest,
	CodeInvalidAmount:        http.StatusBadRequest,
	CodeNotFound:             http.StatusNotFound,
	CodeForbidden:            http.StatusForbidden,
	CodeInvalidState:         http.StatusConflict,
	CodeInsufficientBudget:   http.StatusBadRequest,
	CodeNothingToDistribute:  http.StatusBadRequest,
	CodePaymentsUnavailable:  http.StatusInternalServerError,
	CodeTransactionNotFound:  http.StatusBadRequest,
	CodeWrongRecipient:       http.StatusBadRequest,
	CodeDuplicateTransaction: http.StatusConflict,
	CodeUnauthorized:         http.StatusUnauthorized,
	CodeRateLimitExceeded:    http.StatusTooManyRequests,
	CodeInternal:             http.StatusInternalServerError,
}

// ServiceError is the structured error returned by every service operation.
type ServiceError struct {
	Code       Code           `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	HTTPStatus int            `json:"-"`
	Err        error          `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Is matches another ServiceError by code so callers can compare against the
// package-level sentinels with errors.Is.
func (e *ServiceError) Is(target error) bool {
	var other *ServiceError
	if !stderrors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// WithDetails returns a copy of the error with an extra detail attached.
func (e *ServiceError) WithDetails(key string, value any) *ServiceError {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// New builds a ServiceError for code.
func New(code Code, message string, err error) *ServiceError {
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// GetServiceError extracts a ServiceError from err's chain.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// HasCode reports whether err carries code.
func HasCode(err error, code Code) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == code
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidInput         = New(CodeInvalidInput, "invalid input", nil)
	ErrInvalidAmount        = New(CodeInvalidAmount, "invalid amount", nil)
	ErrNotFound             = New(CodeNotFound, "not found", nil)
	ErrForbidden            = New(CodeForbidden, "forbidden", nil)
	ErrInvalidState         = New(CodeInvalidState, "invalid state", nil)
	ErrInsufficientBudget   = New(CodeInsufficientBudget, "insufficient budget", nil)
	ErrNothingToDistribute  = New(CodeNothingToDistribute, "nothing to distribute", nil)
	ErrPaymentsUnavailable  = New(CodePaymentsUnavailable, "payments unavailable", nil)
	ErrTransactionNotFound  = New(CodeTransactionNotFound, "transaction not found", nil)
	ErrWrongRecipient       = New(CodeWrongRecipient, "wrong recipient", nil)
	ErrDuplicateTransaction = New(CodeDuplicateTransaction, "duplicate transaction", nil)
)

func InvalidInput(message string) *ServiceError {
	return New(CodeInvalidInput, message, nil)
}

func InvalidAmount(value string, err error) *ServiceError {
	return New(CodeInvalidAmount, "amount must be a non-negative integer", err).WithDetails("value", value)
}

func NotFound(resource, id string) *ServiceError {
	return New(CodeNotFound, fmt.Sprintf("%s %s not found", resource, id), nil).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func Forbidden(message string) *ServiceError {
	return New(CodeForbidden, message, nil)
}

func InvalidState(message string) *ServiceError {
	return New(CodeInvalidState, message, nil)
}

// InsufficientBudget reports the remaining budget against the requested amount.
// Both figures are passed pre-formatted so this package stays free of the
// domain amount type.
func InsufficientBudget(remaining, requested string) *ServiceError {
	return New(CodeInsufficientBudget, "insufficient budget", nil).
		WithDetails("remaining", remaining).
		WithDetails("requested", requested)
}

func NothingToDistribute(roundID string) *ServiceError {
	return New(CodeNothingToDistribute, "no pending allocations to distribute", nil).WithDetails("round_id", roundID)
}

func PaymentsUnavailable(reason string) *ServiceError {
	return New(CodePaymentsUnavailable, reason, nil)
}

func TransactionNotFound(txHash string, err error) *ServiceError {
	return New(CodeTransactionNotFound, "transaction not found or not confirmed", err).WithDetails("tx_hash", txHash)
}

func WrongRecipient(txHash, expected string) *ServiceError {
	return New(CodeWrongRecipient, "transaction was not sent to the treasury", nil).
		WithDetails("tx_hash", txHash).
		WithDetails("expected", expected)
}

func DuplicateTransaction(txHash string) *ServiceError {
	return New(CodeDuplicateTransaction, "transaction already credited", nil).WithDetails("tx_hash", txHash)
}

func Unauthorized(message string) *ServiceError {
	return New(CodeUnauthorized, message, nil)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return New(CodeRateLimitExceeded, "rate limit exceeded", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

func Internal(message string, err error) *ServiceError {
	return New(CodeInternal, message, err)
}
