// Package transport carries resource requests to the accounting API, either
// over HTTP or from built-in fixtures.
package transport

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"go.pilab.hu/ledger/domain"
	"go.pilab.hu/ledger/ratelimit"
)

// Mode names a Transport implementation.
type Mode string

const (
	ModeLive Mode = "live"
	ModeMock Mode = "mock"
)

// Request is one resource call. Path is relative to the API base URL.
type Request struct {
	TenantID string
	// Resource labels the call in logs, metrics and spans.
	Resource string
	Class    ratelimit.Class
	Method   string
	Path     string
	Query    url.Values
	Accept   string
}

func (r *Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

func (r *Request) accept() string {
	if r.Accept == "" {
		return "application/json"
	}
	return r.Accept
}

// Response is a successful (2xx) answer.
type Response struct {
	StatusCode  int
	ContentType string
	Header      http.Header
	Body        []byte
	RequestID   string
}

// Transport is what the client facade talks to.
type Transport interface {
	Mode() Mode
	ExchangeCode(ctx context.Context, code string) (*domain.TokenResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*domain.TokenResponse, error)
	Do(ctx context.Context, req *Request) (*Response, error)
}

// UseMock reports whether the mock transport has to be used: when asked
// for explicitly or when the OAuth client credentials are incomplete.
func UseMock(mockMode bool, clientID, clientSecret string) bool {
	return mockMode || strings.TrimSpace(clientID) == "" || strings.TrimSpace(clientSecret) == ""
}

// Select builds the transport cfg calls for. It is evaluated once, at client
// construction.
func Select(cfg LiveConfig, mockMode bool) (Transport, error) {
	if UseMock(mockMode, cfg.OAuth.ClientID, cfg.OAuth.ClientSecret) {
		return NewMock(WithMockMetrics(cfg.Metrics)), nil
	}
	return NewLive(cfg)
}
