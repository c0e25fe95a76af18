package dto

import "net/http"

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	ErrCodeUnknown  = "ERR_UNKNOWN"
	ErrCodeInternal = "ERR_INTERNAL"
)

// Input error codes
const (
	ErrCodeValidation   = "ERR_VALIDATION"
	ErrCodeBadRequest   = "ERR_BAD_REQUEST"
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
	ErrCodeInvalidJSON  = "ERR_INVALID_JSON"
)

// Auth error codes
const (
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
)

// Resource and state error codes
const (
	ErrCodeNotFound           = "ERR_NOT_FOUND"
	ErrCodeInvalidState       = "ERR_INVALID_STATE"
	ErrCodePreconditionFailed = "ERR_PRECONDITION_FAILED"
	ErrCodeSuperseded         = "ERR_SUPERSEDED"
)

// Fiscal and integration error codes
const (
	// ErrCodeAuthorizationRejected is a terminal fiscal outcome; the client offers a reissue
	ErrCodeAuthorizationRejected = "ERR_AUTHORIZATION_REJECTED"
	ErrCodeNormalization         = "ERR_NORMALIZATION"
	// ErrCodeTransientNetwork and ErrCodeServiceUnavailable are retryable
	ErrCodeTransientNetwork   = "ERR_TRANSIENT_NETWORK"
	ErrCodeServiceUnavailable = "ERR_SERVICE_UNAVAILABLE"
	ErrCodeRequestTooLarge    = "ERR_REQUEST_TOO_LARGE"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:  http.StatusInternalServerError,
	ErrCodeInternal: http.StatusInternalServerError,

	ErrCodeValidation:   http.StatusBadRequest,
	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeInvalidInput: http.StatusBadRequest,
	ErrCodeInvalidJSON:  http.StatusBadRequest,

	ErrCodeUnauthorized: http.StatusUnauthorized,

	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeInvalidState:       http.StatusUnprocessableEntity,
	ErrCodePreconditionFailed: http.StatusConflict,
	ErrCodeSuperseded:         http.StatusConflict,

	ErrCodeAuthorizationRejected: http.StatusUnprocessableEntity,
	ErrCodeNormalization:         http.StatusUnprocessableEntity,
	ErrCodeTransientNetwork:      http.StatusServiceUnavailable,
	ErrCodeServiceUnavailable:    http.StatusServiceUnavailable,
	ErrCodeRequestTooLarge:       http.StatusRequestEntityTooLarge,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DomainErrorCodeMapping maps domain error codes to API error codes
var DomainErrorCodeMapping = map[string]string{
	"NOT_FOUND":               ErrCodeNotFound,
	"INVALID_INPUT":           ErrCodeInvalidInput,
	"INVALID_STATE":           ErrCodeInvalidState,
	"VALIDATION_ERROR":        ErrCodeValidation,
	"PRECONDITION_FAILED":     ErrCodePreconditionFailed,
	"ABORTED_BY_SUPERSESSION": ErrCodeSuperseded,
	"AUTHORIZATION_REJECTED":  ErrCodeAuthorizationRejected,
	"NORMALIZATION_FAILURE":   ErrCodeNormalization,
	"TRANSIENT_NETWORK":       ErrCodeTransientNetwork,
	"SERVICE_UNAVAILABLE":     ErrCodeServiceUnavailable,
	"INTERNAL_ERROR":          ErrCodeInternal,
}

// NormalizeErrorCode converts a domain error code to the API format.
// Codes already in API format or unknown pass through unchanged.
func NormalizeErrorCode(code string) string {
	if apiCode, ok := DomainErrorCodeMapping[code]; ok {
		return apiCode
	}
	return code
}

// IsRetryableCode reports whether the client may retry the request as is
func IsRetryableCode(code string) bool {
	return code == ErrCodeTransientNetwork || code == ErrCodeServiceUnavailable
}
