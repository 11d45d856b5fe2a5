// Package errors defines the typed error taxonomy shared by the gateway.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is a stable machine-readable error identifier.
type ErrorCode string

const (
	CodeValidation          ErrorCode = "VALIDATION_ERROR"
	CodeUnauthorized        ErrorCode = "UNAUTHORIZED"
	CodeForbidden           ErrorCode = "FORBIDDEN"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeTenantConflict      ErrorCode = "TENANT_CONFLICT"
	CodeTenantRequired      ErrorCode = "TENANT_REQUIRED"
	CodeIdempotencyConflict ErrorCode = "IDEMPOTENCY_CONFLICT"
	CodeIdempotencyRequired ErrorCode = "IDEMPOTENCY_REQUIRED"
	CodeNotImplemented      ErrorCode = "NOT_IMPLEMENTED"
	CodeRateLimited         ErrorCode = "RATE_LIMITED"
	CodeInternal            ErrorCode = "INTERNAL_ERROR"
)

// ServiceError is the canonical error carried through the gateway. It pairs a
// stable code with an HTTP status so the outermost handler can render it
// without inspecting the call site.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a key/value pair and returns the error for chaining.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(code ErrorCode, status int, message string) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status}
}

// Validation reports a malformed request, unknown entity or schema violation.
func Validation(message string) *ServiceError {
	return newError(CodeValidation, http.StatusBadRequest, message)
}

// Validationf formats a validation error message.
func Validationf(format string, args ...interface{}) *ServiceError {
	return Validation(fmt.Sprintf(format, args...))
}

// Unauthorized reports a missing or invalid credential.
func Unauthorized(message string) *ServiceError {
	return newError(CodeUnauthorized, http.StatusUnauthorized, message)
}

// Forbidden reports a failed role check for the given entity/action pair.
func Forbidden(entity, action string) *ServiceError {
	e := newError(CodeForbidden, http.StatusForbidden, "insufficient role for action")
	return e.WithDetails("entity", entity).WithDetails("action", action)
}

// NotFound reports a missing (or tenant-invisible) resource.
func NotFound(entity, id string) *ServiceError {
	e := newError(CodeNotFound, http.StatusNotFound, "resource not found")
	e = e.WithDetails("entity", entity)
	if id != "" {
		e = e.WithDetails("id", id)
	}
	return e
}

// TenantConflict reports a header tenant disagreeing with the claim tenant.
func TenantConflict(headerTenant, claimTenant string) *ServiceError {
	e := newError(CodeTenantConflict, http.StatusConflict, "tenant header conflicts with authenticated tenant")
	return e.WithDetails("header_tenant", headerTenant).WithDetails("claim_tenant", claimTenant)
}

// TenantRequired reports a request that resolved to no tenant at all.
func TenantRequired() *ServiceError {
	return newError(CodeTenantRequired, http.StatusBadRequest, "tenant is required: supply x-tenant-id or an authenticated tenant claim")
}

// IdempotencyConflict reports reuse of a key with a different request hash.
func IdempotencyConflict(key string) *ServiceError {
	e := newError(CodeIdempotencyConflict, http.StatusConflict, "idempotency key was already used with a different request")
	return e.WithDetails("idempotency_key", key)
}

// IdempotencyRequired reports a mutating request without an idempotency key.
func IdempotencyRequired() *ServiceError {
	return newError(CodeIdempotencyRequired, http.StatusBadRequest, "idempotency-key header is required for mutating requests")
}

// NotImplemented reports a capability the configured backend does not provide.
func NotImplemented(capability string) *ServiceError {
	e := newError(CodeNotImplemented, http.StatusNotImplemented, "capability not supported by the configured backend")
	return e.WithDetails("capability", capability)
}

// RateLimitExceeded reports a throttled request.
func RateLimitExceeded(limit int, window string) *ServiceError {
	e := newError(CodeRateLimited, http.StatusTooManyRequests, "rate limit exceeded")
	return e.WithDetails("limit", limit).WithDetails("window", window)
}

// Internal wraps an unclassified failure. The cause is retained for logging
// but never rendered to the caller.
func Internal(message string, err error) *ServiceError {
	e := newError(CodeInternal, http.StatusInternalServerError, message)
	e.Err = err
	return e
}

// GetServiceError extracts a *ServiceError from err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == code
}
