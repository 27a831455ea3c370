package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/ledger"
	echoapi "go.pilab.hu/ledger/api/echo"
	"go.pilab.hu/ledger/internal/crypto"
	"go.pilab.hu/ledger/internal/metrics"
	"go.pilab.hu/ledger/log"
	"go.pilab.hu/ledger/tokenstore"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	cipher, err := crypto.NewCipher(bytes.Repeat([]byte{1}, crypto.MinKeySize))
	require.NoError(t, err)
	client, err := ledger.New(ledger.Config{MockMode: true},
		tokenstore.New(tokenstore.NewMemoryRepository(), cipher))
	require.NoError(t, err)

	states := echoapi.NewStateStore(time.Minute)
	t.Cleanup(states.Close)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.ObserveMock("journals")

	return NewRouter(Config{ServiceName: "ledger-test"}, log.NewNop(),
		echoapi.NewConnectAPI(client, states, log.NewNop()), reg)
}

func TestRouter_Health(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"mode":"mock"`)
}

func TestRouter_Metrics(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ledger_mock_responses_total")
}

func TestRouter_NotFound(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewHTTPServer_Defaults(t *testing.T) {
	srv := NewHTTPServer(Config{Addr: "127.0.0.1:0"}, log.NewNop(), nil, nil)
	assert.Equal(t, "127.0.0.1:0", srv.Addr)
	assert.Equal(t, 5*time.Second, srv.ReadTimeout)
	assert.Equal(t, 10*time.Second, srv.WriteTimeout)
	assert.NotNil(t, srv.Handler)
}
