// Package api holds the JSON bodies of the OAuth callback server.
package api

import "time"

// ConnectionStatus describes a tenant's link to the accounting API.
type ConnectionStatus struct {
	TenantID  string     `json:"tenant_id"`
	Connected bool       `json:"connected"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Mode      string     `json:"mode"`
}

// ErrorResponse is returned with every non-2xx answer. Error carries an
// OAuth2 error code for the /oauth routes and the upstream code otherwise.
type ErrorResponse struct {
	Error       string              `json:"error"`
	Description string              `json:"error_description,omitempty"`
	Fields      map[string][]string `json:"fields,omitempty"`
	RequestID   string              `json:"request_id,omitempty"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Mode   string `json:"mode"`
}
