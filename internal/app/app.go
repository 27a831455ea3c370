// Package app assembles a ledger client from configuration. It is shared by
// the callback server and ledgerctl.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"go.pilab.hu/ledger"
	"go.pilab.hu/ledger/breaker"
	"go.pilab.hu/ledger/config"
	"go.pilab.hu/ledger/domain"
	"go.pilab.hu/ledger/internal/crypto"
	"go.pilab.hu/ledger/internal/metrics"
	"go.pilab.hu/ledger/internal/storage"
	"go.pilab.hu/ledger/log"
	"go.pilab.hu/ledger/mongodb"
	"go.pilab.hu/ledger/ratelimit"
	"go.pilab.hu/ledger/retry"
	"go.pilab.hu/ledger/tokenstore"
	redisstore "go.pilab.hu/ledger/tokenstore/redis"
	"go.pilab.hu/ledger/tracing"
)

// ErrKeyRequired is returned when a persistent token backend is configured
// without an encryption key.
var ErrKeyRequired = errors.New("app: encryption_key is required for persistent token backends")

type closer func(ctx context.Context) error

// App holds the wired client and the resources it owns.
type App struct {
	Config   *config.Config
	Logger   log.Logger
	Client   *ledger.Client
	Store    *tokenstore.Store
	Registry *prometheus.Registry
	Metrics  *metrics.Collectors

	closers []closer
}

// Option customizes New.
type Option func(*settings)

type settings struct {
	logger     log.Logger
	httpClient *http.Client
}

// WithLogger replaces the logger built from log_level and log_pretty.
func WithLogger(l log.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithHTTPClient replaces the client built from http_timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.httpClient = c }
}

// New builds every component named by cfg. Call Close to release the token
// backend.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	s := settings{}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = log.NewZerologAdapter(log.ParseLevel(cfg.LogLevel), cfg.LogPretty)
	}
	if s.httpClient == nil {
		s.httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	a := &App{Config: cfg, Logger: s.logger}

	cipher, err := newCipher(ctx, cfg, s.logger)
	if err != nil {
		return nil, err
	}

	repo, closeRepo, err := OpenRepository(ctx, cfg.TokenStore)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeRepo)

	a.Store = tokenstore.New(repo, cipher,
		tokenstore.WithSafetyBuffer(cfg.TokenExpiryBuffer),
		tokenstore.WithLogger(s.logger),
	)

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.New(a.Registry)

	client, err := ledger.New(ClientConfig(cfg), a.Store,
		ledger.WithHTTPClient(s.httpClient),
		ledger.WithLimiter(newLimiter(cfg.RateLimit, a.Metrics)),
		ledger.WithBreakers(newBreakers(cfg, s.logger, a.Metrics)),
		ledger.WithRetryPolicy(RetryPolicy(cfg.Retry)),
		ledger.WithMetrics(a.Metrics),
		ledger.WithLogger(s.logger),
		ledger.WithTracer(tracing.Tracer()),
	)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	a.Client = client

	return a, nil
}

// ClientConfig maps the file and environment configuration onto the facade.
func ClientConfig(cfg *config.Config) ledger.Config {
	return ledger.Config{
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
		RedirectURI:    cfg.RedirectURI,
		AuthURL:        cfg.AuthURL,
		TokenURL:       cfg.TokenURL,
		APIBaseURL:     cfg.APIBaseURL,
		MockMode:       cfg.MockMode,
		IsolateTenants: cfg.Resilience.IsolateTenants,
	}
}

// RetryPolicy builds the retry policy of cfg. Without OnlyTransient every
// failure is retried.
func RetryPolicy(cfg config.RetryConfig) retry.Policy {
	p := retry.Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
	}
	if cfg.OnlyTransient {
		p.Retryable = ledger.IsTransient
	}
	return p
}

func newLimiter(cfg config.RateLimitConfig, m *metrics.Collectors) *ratelimit.Limiter {
	return ratelimit.New(
		ratelimit.WithLimit(ratelimit.ClassAuth, ratelimit.Limit{MaxRequests: cfg.Auth, Window: cfg.Window}),
		ratelimit.WithLimit(ratelimit.ClassData, ratelimit.Limit{MaxRequests: cfg.Data, Window: cfg.Window}),
		ratelimit.WithLimit(ratelimit.ClassReport, ratelimit.Limit{MaxRequests: cfg.Report, Window: cfg.Window}),
		ratelimit.WithWaitObserver(func(class ratelimit.Class, d time.Duration) {
			m.ObserveLimiterWait(string(class), d)
		}),
	)
}

func newBreakers(cfg *config.Config, logger log.Logger, m *metrics.Collectors) *breaker.Group {
	return breaker.NewGroup(cfg.Resilience.IsolateTenants,
		breaker.WithFailureThreshold(cfg.Breaker.FailureThreshold),
		breaker.WithResetTimeout(cfg.Breaker.ResetTimeout),
		breaker.WithLogger(logger),
		breaker.WithStateObserver(func(name string, _, to breaker.State) {
			m.SetBreakerState(name, int(to))
		}),
	)
}

func newCipher(ctx context.Context, cfg *config.Config, logger log.Logger) (*crypto.Cipher, error) {
	key := cfg.EncryptionKey
	if key == "" {
		if cfg.TokenStore.Backend != config.StorageTypeMemory {
			return nil, ErrKeyRequired
		}
		generated, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		logger.Warn(ctx, "No encryption_key configured, using an ephemeral key")
		key = generated
	}

	master, err := crypto.ParseKey(key)
	if err != nil {
		return nil, fmt.Errorf("app: invalid encryption_key: %w", err)
	}
	return crypto.NewCipher(master)
}

// OpenRepository connects the configured token backend. The returned closer
// releases its connection.
func OpenRepository(ctx context.Context, cfg config.TokenStoreConfig) (domain.TokenRepository, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	switch cfg.Backend {
	case config.StorageTypeMemory, "":
		return tokenstore.NewMemoryRepository(), noop, nil

	case config.StorageTypeRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("app: failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		return redisstore.NewRepository(client, cfg.RedisPrefix), func(context.Context) error {
			return client.Close()
		}, nil

	case config.StorageTypeMongoDB:
		client, err := mongodb.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, fmt.Errorf("app: %w", err)
		}
		return mongodb.NewTokenRepository(client.Database(cfg.MongoDB)), func(ctx context.Context) error {
			mongodb.Close(ctx, client)
			return nil
		}, nil

	case config.StorageTypeBBolt:
		store, err := storage.NewBBoltStore(cfg.BBoltPath)
		if err != nil {
			return nil, nil, fmt.Errorf("app: %w", err)
		}
		return store, func(context.Context) error { return store.Close() }, nil
	}

	return nil, nil, fmt.Errorf("app: unknown token store backend %q", cfg.Backend)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
