package shared

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches any DomainError carrying the same code, so wrapped errors
// still satisfy errors.Is against the sentinels below.
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new error with the sentinel's code, a specific message and an optional cause
func Wrap(sentinel *DomainError, message string, cause error) *DomainError {
	if message == "" {
		message = sentinel.Message
	}
	return &DomainError{
		Code:    sentinel.Code,
		Message: message,
		Err:     cause,
	}
}

// Common domain errors
var (
	ErrNotFound     = NewDomainError("NOT_FOUND", "Resource not found")
	ErrInvalidInput = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrInvalidState = NewDomainError("INVALID_STATE", "Operation not allowed in current state")
)

// Fulfillment error taxonomy
var (
	// ErrTransientNetwork is a retry-safe transport failure
	ErrTransientNetwork = NewDomainError("TRANSIENT_NETWORK", "Network error, please retry")
	// ErrAbortedBySupersession marks a request superseded by a newer one. Not a user-facing error.
	ErrAbortedBySupersession = NewDomainError("ABORTED_BY_SUPERSESSION", "Request superseded by a newer request")
	// ErrValidation is a payload rejected by the fiscal authority or a user-actionable input problem
	ErrValidation = NewDomainError("VALIDATION_ERROR", "Validation failed")
	// ErrPreconditionFailed is a sequencing error: the operation is not valid for the current state
	ErrPreconditionFailed = NewDomainError("PRECONDITION_FAILED", "Precondition failed")
	// ErrAuthorizationRejected is a terminal fiscal outcome that needs an explicit reissue
	ErrAuthorizationRejected = NewDomainError("AUTHORIZATION_REJECTED", "Invoice authorization rejected")
	// ErrNormalizationFailure is a single malformed source row
	ErrNormalizationFailure = NewDomainError("NORMALIZATION_FAILURE", "Malformed order row")
	// ErrServiceUnavailable is a transient failure of an external service
	ErrServiceUnavailable = NewDomainError("SERVICE_UNAVAILABLE", "Service temporarily unavailable")
)

// IsRetryable reports whether the error is transient and safe to retry
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientNetwork) || errors.Is(err, ErrServiceUnavailable)
}

// IsUserVisible reports whether the error should be surfaced to the end user.
// Supersession aborts and single-row normalization failures are only logged.
func IsUserVisible(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrAbortedBySupersession) && !errors.Is(err, ErrNormalizationFailure)
}

// ErrorCode extracts the domain error code, or "" for foreign errors
func ErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
