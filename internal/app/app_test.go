package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/ledger/config"
	"go.pilab.hu/ledger/domain"
	lerrors "go.pilab.hu/ledger/errors"
	"go.pilab.hu/ledger/log"
	"go.pilab.hu/ledger/transport"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func mockConfig() *config.Config {
	return &config.Config{
		MockMode:          true,
		TokenExpiryBuffer: 5 * time.Minute,
		HTTPTimeout:       time.Second,
		TokenStore:        config.TokenStoreConfig{Backend: config.StorageTypeMemory},
		RateLimit:         config.RateLimitConfig{Window: time.Second, Auth: 10, Data: 5, Report: 2},
		Breaker:           config.BreakerConfig{FailureThreshold: 5, ResetTimeout: time.Minute},
		Retry:             config.RetryConfig{MaxAttempts: 3, BaseDelay: time.Second},
	}
}

func TestNew_MockMemory(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, mockConfig(), WithLogger(log.NewNop()))
	require.NoError(t, err)
	defer a.Close(ctx)

	assert.Equal(t, transport.ModeMock, a.Client.Mode())

	page, err := a.Client.Journals(ctx, "tenant-1", domain.ListQuery{CompanyID: 1001})
	require.NoError(t, err)
	assert.Len(t, page.Data, 1)

	families, err := a.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNew_BBoltPersistsAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	cfg := mockConfig()
	cfg.EncryptionKey = testKey
	cfg.TokenStore = config.TokenStoreConfig{
		Backend:   config.StorageTypeBBolt,
		BBoltPath: filepath.Join(t.TempDir(), "tokens", "ledger.db"),
	}

	first, err := New(ctx, cfg, WithLogger(log.NewNop()))
	require.NoError(t, err)
	_, err = first.Client.ExchangeCode(ctx, "tenant-1", "code")
	require.NoError(t, err)
	require.NoError(t, first.Close(ctx))

	second, err := New(ctx, cfg, WithLogger(log.NewNop()))
	require.NoError(t, err)
	defer second.Close(ctx)

	connected, _ := second.Client.Connected(ctx, "tenant-1")
	assert.True(t, connected)

	tenants, err := second.Store.Tenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant-1"}, tenants)
}

func TestNew_PersistentBackendNeedsKey(t *testing.T) {
	cfg := mockConfig()
	cfg.TokenStore = config.TokenStoreConfig{
		Backend:   config.StorageTypeBBolt,
		BBoltPath: filepath.Join(t.TempDir(), "ledger.db"),
	}

	_, err := New(context.Background(), cfg, WithLogger(log.NewNop()))
	assert.ErrorIs(t, err, ErrKeyRequired)
}

func TestNew_InvalidKey(t *testing.T) {
	cfg := mockConfig()
	cfg.EncryptionKey = "short"

	_, err := New(context.Background(), cfg, WithLogger(log.NewNop()))
	assert.Error(t, err)
}

func TestOpenRepository_UnknownBackend(t *testing.T) {
	_, _, err := OpenRepository(context.Background(), config.TokenStoreConfig{Backend: "etcd"})
	assert.ErrorContains(t, err, "etcd")
}

func TestRetryPolicy(t *testing.T) {
	all := RetryPolicy(config.RetryConfig{MaxAttempts: 3, BaseDelay: time.Second})
	assert.Equal(t, 3, all.MaxAttempts)
	assert.Equal(t, time.Second, all.BaseDelay)
	assert.Nil(t, all.Retryable)

	transient := RetryPolicy(config.RetryConfig{MaxAttempts: 2, OnlyTransient: true})
	require.NotNil(t, transient.Retryable)
	assert.True(t, transient.Retryable(&lerrors.NetworkError{Method: "GET", URL: "http://x", Err: errors.New("reset")}))
	assert.False(t, transient.Retryable(&lerrors.APIError{HTTPStatus: 400}))
	assert.True(t, transient.Retryable(&lerrors.APIError{HTTPStatus: 503}))
}

func TestClientConfig(t *testing.T) {
	cfg := mockConfig()
	cfg.ClientID = "id"
	cfg.ClientSecret = "secret"
	cfg.Resilience.IsolateTenants = true

	cc := ClientConfig(cfg)
	assert.Equal(t, "id", cc.ClientID)
	assert.Equal(t, "secret", cc.ClientSecret)
	assert.True(t, cc.MockMode)
	assert.True(t, cc.IsolateTenants)
}
