// Package errors holds the error taxonomy shared by the transport and the
// client facade.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// ErrNotConnected means the tenant has no usable token.
var ErrNotConnected = errors.New("tenant is not connected")

// Error codes set by this module rather than by the upstream.
const (
	CodeSchemaMismatch = "schema_mismatch"
	CodeHTTPStatus     = "http_error"
	CodeRefreshFailed  = "refresh_failed"
)

// FieldErrors maps a request field to its validation messages.
type FieldErrors map[string][]string

// APIError is a non-2xx answer of the upstream.
type APIError struct {
	Code       string
	HTTPStatus int
	Message    string
	Fields     FieldErrors
	RequestID  string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "api error %s", e.Code)
	if e.HTTPStatus != 0 {
		fmt.Fprintf(&b, " (status %d)", e.HTTPStatus)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		names := make([]string, 0, len(e.Fields))
		for name := range e.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(&b, " [fields: %s]", strings.Join(names, ", "))
	}
	return b.String()
}

// Temporary reports whether the status suggests a later attempt may succeed.
func (e *APIError) Temporary() bool {
	return e.HTTPStatus >= http.StatusInternalServerError || e.HTTPStatus == http.StatusTooManyRequests
}

// SchemaError is an APIError for a 2xx body that does not match the expected
// resource shape. errors.As also matches it as *APIError.
type SchemaError struct {
	APIError
	Resource string
	Err      error
}

// NewSchemaError wraps a decode or validation failure of resource.
func NewSchemaError(resource string, status int, err error) *SchemaError {
	return &SchemaError{
		APIError: APIError{
			Code:       CodeSchemaMismatch,
			HTTPStatus: status,
			Message:    fmt.Sprintf("unexpected %s response: %v", resource, err),
		},
		Resource: resource,
		Err:      err,
	}
}

func (e *SchemaError) Error() string { return e.APIError.Error() }

func (e *SchemaError) Unwrap() error { return e.Err }

func (e *SchemaError) As(target any) bool {
	if t, ok := target.(**APIError); ok {
		*t = &e.APIError
		return true
	}
	return false
}

// AuthenticationError means no usable credential exists for a tenant.
type AuthenticationError struct {
	TenantID string
	Err      error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication required for tenant %q: %v", e.TenantID, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// NewNotConnected is the AuthenticationError for a tenant without a token.
func NewNotConnected(tenantID string) *AuthenticationError {
	return &AuthenticationError{TenantID: tenantID, Err: ErrNotConnected}
}

// NetworkError is a failure to get any HTTP answer.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error on %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Temporary() bool { return true }

// IsTransient reports whether err is worth retrying: network failures, 5xx
// and 429 answers. Caller cancellation never is.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var schemaErr *SchemaError
	if errors.As(err, &schemaErr) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return false
}
