// Package errors provides standardized error handling for the WITVIS service.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents a standardized error code for the WITVIS service.
type ErrorCode string

const (
	// Validation errors
	WITVIS_VALIDATION         ErrorCode = "WITVIS_VALIDATION"         // Missing or malformed fields
	WITVIS_BAD_REQUEST        ErrorCode = "WITVIS_BAD_REQUEST"        // Unparseable request
	WITVIS_METHOD_NOT_ALLOWED ErrorCode = "WITVIS_METHOD_NOT_ALLOWED" // Wrong HTTP method
	WITVIS_PAYLOAD_TOO_LARGE  ErrorCode = "WITVIS_PAYLOAD_TOO_LARGE"  // Body exceeds the upload limit

	// Authentication/Authorization errors
	WITVIS_AUTHN       ErrorCode = "WITVIS_AUTHN"       // Authentication failed
	WITVIS_AUTHZ       ErrorCode = "WITVIS_AUTHZ"       // Authenticated but not allowed
	WITVIS_JWT_INVALID ErrorCode = "WITVIS_JWT_INVALID" // Invalid JWT
	WITVIS_JWT_EXPIRED ErrorCode = "WITVIS_JWT_EXPIRED" // Expired JWT

	// Resource errors
	WITVIS_NOT_FOUND        ErrorCode = "WITVIS_NOT_FOUND"        // Resource not found
	WITVIS_DUPLICATE        ErrorCode = "WITVIS_DUPLICATE"        // Same submission fingerprint already exists
	WITVIS_NOT_MATERIALIZED ErrorCode = "WITVIS_NOT_MATERIALIZED" // Submission has no uploaded image yet

	// Rate limiting
	WITVIS_RATE_LIMIT ErrorCode = "WITVIS_RATE_LIMIT" // Rate limit exceeded

	// Server errors
	WITVIS_UPLOAD_FAILED ErrorCode = "WITVIS_UPLOAD_FAILED" // Blob or store failure during intake
	WITVIS_INTERNAL      ErrorCode = "WITVIS_INTERNAL"      // Internal server error
	WITVIS_UNAVAILABLE   ErrorCode = "WITVIS_UNAVAILABLE"   // Service unavailable
)

// Error represents a standardized error response.
// Message is serialized as "error" so clients can read a plain string.
type Error struct {
	Code          ErrorCode   `json:"code"`
	Message       string      `json:"error"`
	CorrelationID string      `json:"correlationId,omitempty"`
	Details       interface{} `json:"details,omitempty"`
	HTTPStatus    int         `json:"-"`
}

// New creates a new Error with the specified code and message.
func New(code ErrorCode, message string, correlationID string) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// NewWithDetails creates a new Error with the specified code, message, and details.
func NewWithDetails(code ErrorCode, message string, correlationID string, details interface{}) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		Details:       details,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("%s: %s (details: %v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// httpStatusCodeForCode maps error codes to HTTP status codes.
func httpStatusCodeForCode(code ErrorCode) int {
	switch code {
	case WITVIS_VALIDATION, WITVIS_BAD_REQUEST:
		return http.StatusBadRequest
	case WITVIS_METHOD_NOT_ALLOWED:
		return http.StatusMethodNotAllowed
	case WITVIS_PAYLOAD_TOO_LARGE:
		return http.StatusRequestEntityTooLarge
	case WITVIS_AUTHZ:
		return http.StatusForbidden
	case WITVIS_AUTHN, WITVIS_JWT_INVALID, WITVIS_JWT_EXPIRED:
		return http.StatusUnauthorized
	case WITVIS_NOT_FOUND:
		return http.StatusNotFound
	case WITVIS_DUPLICATE, WITVIS_NOT_MATERIALIZED:
		return http.StatusConflict
	case WITVIS_RATE_LIMIT:
		return http.StatusTooManyRequests
	case WITVIS_UNAVAILABLE:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
