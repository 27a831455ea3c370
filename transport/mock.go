package transport

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"
	"sync/atomic"

	"go.pilab.hu/ledger/domain"
	lerrors "go.pilab.hu/ledger/errors"
	"go.pilab.hu/ledger/internal/metrics"
)

//go:embed fixtures/*
var fixtures embed.FS

// Mock answers every call from built-in fixtures. It never touches the
// network, the rate limiter, the breaker or the token store.
type Mock struct {
	metrics *metrics.Collectors
	calls   atomic.Int64
}

var _ Transport = (*Mock)(nil)

// MockOption configures a Mock.
type MockOption func(*Mock)

func WithMockMetrics(c *metrics.Collectors) MockOption {
	return func(m *Mock) { m.metrics = c }
}

func NewMock(opts ...MockOption) *Mock {
	m := &Mock{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Mock) Mode() Mode { return ModeMock }

// Calls is the number of requests served so far.
func (m *Mock) Calls() int64 { return m.calls.Load() }

func (m *Mock) ExchangeCode(ctx context.Context, code string) (*domain.TokenResponse, error) {
	if code == "" {
		return nil, &lerrors.APIError{Code: lerrors.InvalidGrant, HTTPStatus: http.StatusBadRequest, Message: "authorization code is required"}
	}
	return m.token("oauth_exchange")
}

func (m *Mock) RefreshToken(ctx context.Context, refreshToken string) (*domain.TokenResponse, error) {
	if refreshToken == "" {
		return nil, &lerrors.APIError{Code: lerrors.InvalidGrant, HTTPStatus: http.StatusBadRequest, Message: "refresh token is required"}
	}
	return m.token("oauth_refresh")
}

func (m *Mock) token(resource string) (*domain.TokenResponse, error) {
	m.calls.Add(1)
	m.metrics.ObserveMock(resource)
	raw, err := fixtures.ReadFile("fixtures/token.json")
	if err != nil {
		return nil, err
	}
	var resp domain.TokenResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("broken token fixture: %w", err)
	}
	return &resp, nil
}

func (m *Mock) Do(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.calls.Add(1)
	m.metrics.ObserveMock(req.Resource)

	name, contentType, ok := fixtureFor(req.Path)
	if !ok {
		return nil, &lerrors.APIError{
			Code:       "not_found",
			HTTPStatus: http.StatusNotFound,
			Message:    fmt.Sprintf("no fixture for %s", req.Path),
		}
	}
	body, err := fixtures.ReadFile("fixtures/" + name)
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode:  http.StatusOK,
		ContentType: contentType,
		Header:      http.Header{"Content-Type": []string{contentType}},
		Body:        body,
		RequestID:   "mock",
	}, nil
}

func fixtureFor(p string) (name, contentType string, ok bool) {
	p = path.Clean("/" + strings.TrimPrefix(p, "/"))
	if strings.HasPrefix(p, "/documents/") && strings.HasSuffix(p, "/download") {
		return "document.pdf", "application/pdf", true
	}
	switch p {
	case "/companies":
		return "companies.json", "application/json", true
	case "/journals":
		return "journals.json", "application/json", true
	case "/documents":
		return "documents.json", "application/json", true
	case "/receipts":
		return "receipts.json", "application/json", true
	case "/reports/trial_balance":
		return "trial_balance.json", "application/json", true
	case "/account_items":
		return "account_items.json", "application/json", true
	}
	return "", "", false
}
