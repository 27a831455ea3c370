package errors_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lerrors "go.pilab.hu/ledger/errors"
)

func TestParseErrorBody_ResourceEnvelope(t *testing.T) {
	body := []byte(`{"status_code":400,"errors":[{"type":"bad_request","messages":["company_id is invalid"]},{"type":"validation","messages":["must be a date"],"field":"start_issue_date"}]}`)

	apiErr := lerrors.ParseErrorBody(http.StatusBadRequest, body)
	assert.Equal(t, "bad_request", apiErr.Code)
	assert.Equal(t, http.StatusBadRequest, apiErr.HTTPStatus)
	assert.Equal(t, "company_id is invalid", apiErr.Message)
	assert.Equal(t, lerrors.FieldErrors{"start_issue_date": {"must be a date"}}, apiErr.Fields)
	assert.Contains(t, apiErr.Error(), "start_issue_date")
}

func TestParseErrorBody_OAuth(t *testing.T) {
	apiErr := lerrors.ParseErrorBody(http.StatusUnauthorized, []byte(`{"error":"invalid_grant","error_description":"refresh token revoked"}`))
	assert.Equal(t, lerrors.InvalidGrant, apiErr.Code)
	assert.Equal(t, "refresh token revoked", apiErr.Message)
}

func TestParseErrorBody_SingleMessageString(t *testing.T) {
	apiErr := lerrors.ParseErrorBody(http.StatusForbidden, []byte(`{"status_code":403,"errors":[{"type":"forbidden","messages":"no access"}]}`))
	assert.Equal(t, "forbidden", apiErr.Code)
	assert.Equal(t, "no access", apiErr.Message)
}

func TestParseErrorBody_Unstructured(t *testing.T) {
	apiErr := lerrors.ParseErrorBody(http.StatusBadGateway, []byte("<html>bad gateway</html>"))
	assert.Equal(t, lerrors.CodeHTTPStatus, apiErr.Code)
	assert.Equal(t, "<html>bad gateway</html>", apiErr.Message)

	apiErr = lerrors.ParseErrorBody(http.StatusServiceUnavailable, nil)
	assert.Equal(t, "Service Unavailable", apiErr.Message)
}

func TestSchemaErrorIsAPIError(t *testing.T) {
	cause := errors.New("missing field id")
	var err error = lerrors.NewSchemaError("journals", http.StatusOK, cause)

	var apiErr *lerrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, lerrors.CodeSchemaMismatch, apiErr.Code)
	assert.ErrorIs(t, err, cause)

	var schemaErr *lerrors.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "journals", schemaErr.Resource)
}

func TestNotConnected(t *testing.T) {
	err := fmt.Errorf("fetch journals: %w", lerrors.NewNotConnected("acme"))
	assert.ErrorIs(t, err, lerrors.ErrNotConnected)

	var authErr *lerrors.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "acme", authErr.TenantID)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", &lerrors.NetworkError{Method: "GET", URL: "http://x", Err: errors.New("reset")}, true},
		{"server error", &lerrors.APIError{HTTPStatus: 503}, true},
		{"too many requests", &lerrors.APIError{HTTPStatus: 429}, true},
		{"bad request", &lerrors.APIError{HTTPStatus: 400}, false},
		{"schema", lerrors.NewSchemaError("companies", 200, errors.New("x")), false},
		{"canceled", context.Canceled, false},
		{"wrapped network", fmt.Errorf("call: %w", &lerrors.NetworkError{Err: errors.New("eof")}), true},
		{"plain", errors.New("plain"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, lerrors.IsTransient(tt.err))
		})
	}
}
