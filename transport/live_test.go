package transport_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"go.pilab.hu/ledger/breaker"
	lerrors "go.pilab.hu/ledger/errors"
	"go.pilab.hu/ledger/ratelimit"
	"go.pilab.hu/ledger/retry"
	"go.pilab.hu/ledger/transport"
)

type staticTokens struct {
	token string
	err   error
	calls atomic.Int32
}

func (s *staticTokens) AccessToken(context.Context, string) (string, error) {
	s.calls.Add(1)
	return s.token, s.err
}

func noSleep(context.Context, time.Duration) error { return nil }

func newLive(t *testing.T, srv *httptest.Server, tokens transport.TokenSource, mutate ...func(*transport.LiveConfig)) *transport.Live {
	t.Helper()
	cfg := transport.LiveConfig{
		BaseURL: srv.URL + "/api/1",
		OAuth: oauth2.Config{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			RedirectURL:  "http://localhost/callback",
			Scopes:       []string{"read", "write"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   srv.URL + "/oauth/authorize",
				TokenURL:  srv.URL + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		HTTPClient: srv.Client(),
		Tokens:     tokens,
		Limiter:    ratelimit.New(ratelimit.WithSleep(noSleep)),
		Breakers:   breaker.NewGroup(false),
		Retry:      retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Sleep: noSleep},
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	l, err := transport.NewLive(cfg)
	require.NoError(t, err)
	return l
}

func TestLive_DoSendsBearerAndQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/1/journals", r.URL.Path)
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))
		assert.Equal(t, "1001", r.URL.Query().Get("company_id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[],"meta":{"total_count":0}}`))
	}))
	defer srv.Close()

	tokens := &staticTokens{token: "access-1"}
	l := newLive(t, srv, tokens)

	resp, err := l.Do(context.Background(), &transport.Request{
		TenantID: "acme",
		Resource: "journals",
		Class:    ratelimit.ClassData,
		Path:     "/journals",
		Query:    url.Values{"company_id": {"1001"}},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.ContentType)
	assert.JSONEq(t, `{"data":[],"meta":{"total_count":0}}`, string(resp.Body))
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, transport.ModeLive, l.Mode())
}

func TestLive_RetriesThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"companies":[]}`))
	}))
	defer srv.Close()

	l := newLive(t, srv, &staticTokens{token: "t"})
	_, err := l.Do(context.Background(), &transport.Request{Resource: "companies", Class: ratelimit.ClassData, Path: "/companies"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
}

func TestLive_ExhaustedRetriesReturnAPIError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status_code":400,"errors":[{"type":"validation","messages":["must be a date"],"field":"start_issue_date"}]}`))
	}))
	defer srv.Close()

	l := newLive(t, srv, &staticTokens{token: "t"})
	_, err := l.Do(context.Background(), &transport.Request{Resource: "journals", Class: ratelimit.ClassData, Path: "/journals"})

	var apiErr *lerrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.HTTPStatus)
	assert.Equal(t, "validation", apiErr.Code)
	assert.Equal(t, []string{"must be a date"}, apiErr.Fields["start_issue_date"])
	assert.NotEmpty(t, apiErr.RequestID)
	assert.Equal(t, int32(3), hits.Load(), "every error is retried by default")
}

func TestLive_OnlyTransientRetryPolicy(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	l := newLive(t, srv, &staticTokens{token: "t"}, func(cfg *transport.LiveConfig) {
		cfg.Retry.Retryable = lerrors.IsTransient
	})
	_, err := l.Do(context.Background(), &transport.Request{Resource: "documents", Class: ratelimit.ClassData, Path: "/documents"})
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestLive_BreakerOpensAndFailsFast(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	l := newLive(t, srv, &staticTokens{token: "t"}, func(cfg *transport.LiveConfig) {
		cfg.Breakers = breaker.NewGroup(false, breaker.WithFailureThreshold(1))
	})
	req := &transport.Request{Resource: "receipts", Class: ratelimit.ClassData, Path: "/receipts"}

	_, err := l.Do(context.Background(), req)
	var apiErr *lerrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, int32(3), hits.Load(), "one logical call, three attempts")

	_, err = l.Do(context.Background(), req)
	var openErr *breaker.CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, int32(3), hits.Load(), "open breaker never reaches the upstream")
}

func TestLive_TokenFailureSkipsNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	tokens := &staticTokens{err: lerrors.NewNotConnected("acme")}
	l := newLive(t, srv, tokens)
	_, err := l.Do(context.Background(), &transport.Request{TenantID: "acme", Resource: "companies", Class: ratelimit.ClassData, Path: "/companies"})
	assert.ErrorIs(t, err, lerrors.ErrNotConnected)
	assert.Zero(t, hits.Load())
}

func TestLive_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	l := newLive(t, srv, &staticTokens{token: "t"})
	srv.Close()

	_, err := l.Do(context.Background(), &transport.Request{Resource: "companies", Class: ratelimit.ClassData, Path: "/companies"})
	var netErr *lerrors.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.True(t, lerrors.IsTransient(err))
}

func TestLive_ExchangeCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oauth/token", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "the-code", r.PostForm.Get("code"))
		assert.Equal(t, "client-id", r.PostForm.Get("client_id"))
		assert.Equal(t, "client-secret", r.PostForm.Get("client_secret"))
		assert.Equal(t, "http://localhost/callback", r.PostForm.Get("redirect_uri"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"a1","refresh_token":"r1","expires_in":3600,"token_type":"bearer","scope":"read write"}`))
	}))
	defer srv.Close()

	l := newLive(t, srv, &staticTokens{})
	resp, err := l.ExchangeCode(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "a1", resp.AccessToken)
	assert.Equal(t, "r1", resp.RefreshToken)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Equal(t, "bearer", resp.TokenType)
	assert.Equal(t, "read write", resp.Scope)
}

func TestLive_RefreshTokenError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "old-refresh", r.PostForm.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"refresh token revoked"}`))
	}))
	defer srv.Close()

	l := newLive(t, srv, &staticTokens{})
	_, err := l.RefreshToken(context.Background(), "old-refresh")

	var apiErr *lerrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, lerrors.InvalidGrant, apiErr.Code)
	assert.Equal(t, http.StatusBadRequest, apiErr.HTTPStatus)
	assert.Equal(t, "refresh token revoked", apiErr.Message)
}

func TestNewLive_Validation(t *testing.T) {
	_, err := transport.NewLive(transport.LiveConfig{Tokens: &staticTokens{}})
	assert.Error(t, err)
	_, err = transport.NewLive(transport.LiveConfig{BaseURL: "http://x"})
	assert.Error(t, err)
}

func TestLive_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	l := newLive(t, srv, &staticTokens{token: "t"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Do(ctx, &transport.Request{Resource: "companies", Class: ratelimit.ClassData, Path: "/companies"})
	assert.True(t, errors.Is(err, context.Canceled))
}
