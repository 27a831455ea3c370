package echo

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/ledger"
	"go.pilab.hu/ledger/api"
	"go.pilab.hu/ledger/internal/audit"
	"go.pilab.hu/ledger/internal/crypto"
	"go.pilab.hu/ledger/tokenstore"
)

func setupAPI(t *testing.T) (*echo.Echo, *ConnectAPI, *ledger.Client) {
	t.Helper()

	cipher, err := crypto.NewCipher(bytes.Repeat([]byte{7}, crypto.MinKeySize))
	require.NoError(t, err)
	store := tokenstore.New(tokenstore.NewMemoryRepository(), cipher)

	client, err := ledger.New(ledger.Config{
		MockMode:    true,
		RedirectURI: "http://localhost:8080/oauth/callback",
		AuthURL:     "https://accounts.example.com/authorize",
	}, store)
	require.NoError(t, err)

	states := NewStateStore(time.Minute)
	t.Cleanup(states.Close)

	e := echo.New()
	a := NewConnectAPI(client, states, nil)
	a.RegisterRoutes(e)
	return e, a, client
}

func serve(e *echo.Echo, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) api.ErrorResponse {
	t.Helper()
	var body api.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestConnectAndCallback(t *testing.T) {
	e, a, client := setupAPI(t)

	rec := serve(e, http.MethodGet, "/oauth/connect?tenant=acme")
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get(echo.HeaderLocation))
	require.NoError(t, err)
	assert.Equal(t, "accounts.example.com", location.Host)
	state := location.Query().Get("state")
	require.NotEmpty(t, state)
	assert.Equal(t, 1, a.states.Len())

	rec = serve(e, http.MethodGet, "/oauth/callback?code=abc&state="+url.QueryEscape(state))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var status api.ConnectionStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "acme", status.TenantID)
	assert.True(t, status.Connected)
	assert.Equal(t, "mock", status.Mode)
	assert.NotNil(t, status.ExpiresAt)

	connected, _ := client.Connected(context.Background(), "acme")
	assert.True(t, connected)

	// A state is single use.
	rec = serve(e, http.MethodGet, "/oauth/callback?code=abc&state="+url.QueryEscape(state))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeError(t, rec).Error)
}

func TestConnect_RequiresTenant(t *testing.T) {
	e, _, _ := setupAPI(t)

	rec := serve(e, http.MethodGet, "/oauth/connect")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallback_UnknownState(t *testing.T) {
	e, _, _ := setupAPI(t)

	rec := serve(e, http.MethodGet, "/oauth/callback?code=abc&state=forged")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unknown or expired state", decodeError(t, rec).Description)
}

func TestCallback_ProviderError(t *testing.T) {
	e, a, _ := setupAPI(t)
	state := a.states.Issue("acme")

	rec := serve(e, http.MethodGet, "/oauth/callback?error=access_denied&error_description=denied&state="+state)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "access_denied", body.Error)
	assert.Equal(t, "denied", body.Description)

	_, ok := a.states.Consume(state)
	assert.False(t, ok)
}

func TestCallback_MissingCode(t *testing.T) {
	e, a, _ := setupAPI(t)
	state := a.states.Issue("acme")

	rec := serve(e, http.MethodGet, "/oauth/callback?state="+state)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "code is required", decodeError(t, rec).Description)
}

func TestStatusRefreshDisconnect(t *testing.T) {
	e, _, client := setupAPI(t)
	ctx := context.Background()

	rec := serve(e, http.MethodGet, "/tenants/acme/connection")
	require.Equal(t, http.StatusOK, rec.Code)
	var status api.ConnectionStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Connected)
	assert.Nil(t, status.ExpiresAt)

	rec = serve(e, http.MethodPost, "/tenants/acme/connection/refresh")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	_, err := client.ExchangeCode(ctx, "acme", "abc")
	require.NoError(t, err)

	rec = serve(e, http.MethodPost, "/tenants/acme/connection/refresh")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(e, http.MethodDelete, "/tenants/acme/connection")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	connected, _ := client.Connected(ctx, "acme")
	assert.False(t, connected)
}

func TestCallback_Audited(t *testing.T) {
	e, a, _ := setupAPI(t)
	var buf bytes.Buffer
	a.WithAudit(audit.New("ledger-test", &buf))

	state := a.states.Issue("acme")
	rec := serve(e, http.MethodGet, "/oauth/callback?code=abc&state="+state)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(e, http.MethodDelete, "/tenants/acme/connection")
	require.Equal(t, http.StatusNoContent, rec.Code)

	assert.Contains(t, buf.String(), `"action":"connect"`)
	assert.Contains(t, buf.String(), `"action":"disconnect"`)
	assert.Contains(t, buf.String(), `"tenant_id":"acme"`)
}

func TestHealth(t *testing.T) {
	e, _, _ := setupAPI(t)

	rec := serve(e, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	var body api.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "mock", body.Mode)
}

func TestStateStore_Expiry(t *testing.T) {
	states := NewStateStore(20 * time.Millisecond)
	defer states.Close()

	state := states.Issue("acme")
	time.Sleep(50 * time.Millisecond)

	_, ok := states.Consume(state)
	assert.False(t, ok)
}

func TestStateStore_Consume(t *testing.T) {
	states := NewStateStore(time.Minute)
	defer states.Close()

	a, b := states.Issue("acme"), states.Issue("globex")
	assert.NotEqual(t, a, b)

	tenant, ok := states.Consume(b)
	assert.True(t, ok)
	assert.Equal(t, "globex", tenant)

	_, ok = states.Consume("")
	assert.False(t, ok)
}
