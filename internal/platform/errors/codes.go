// Package errors provides the structured error taxonomy returned by room
// operations and its mapping onto HTTP.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Room lookups
	CodeNotFound Code = "NOT_FOUND"

	// Transition outcomes
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeInvalidState    Code = "INVALID_STATE"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeLockConflict    Code = "LOCK_CONFLICT"

	// Storage
	CodeMalformedState Code = "MALFORMED_STATE"
	CodeStoreFailure   Code = "STORE_FAILURE"

	// Transport
	CodeRateLimited Code = "RATE_LIMITED"
)

// HTTPStatus maps codes to response status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusForbidden
	case CodeLockConflict, CodeInvalidState:
		return http.StatusConflict
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the same request may succeed if sent again
// after a backoff.
func (c Code) Retryable() bool {
	switch c {
	case CodeLockConflict, CodeStoreFailure, CodeRateLimited:
		return true
	}
	return false
}
