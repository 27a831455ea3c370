// Package ledger is a resilient client for an accounting platform's HTTP API.
//
// A Client manages per-tenant OAuth2 tokens (encrypted at rest through a
// tokenstore.Store) and fetches companies, journals, documents, receipts,
// trial balances and account items. Live calls are rate limited per
// operation class, guarded by a circuit breaker and retried with exponential
// backoff. Without client credentials the Client answers from fixtures.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"go.pilab.hu/ledger/breaker"
	"go.pilab.hu/ledger/internal/metrics"
	"go.pilab.hu/ledger/log"
	"go.pilab.hu/ledger/ratelimit"
	"go.pilab.hu/ledger/retry"
	"go.pilab.hu/ledger/tokenstore"
	"go.pilab.hu/ledger/transport"
)

// DefaultScopes are requested by AuthorizationURL.
var DefaultScopes = []string{"read", "write"}

// Config describes the upstream and the OAuth client.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	TokenURL     string
	APIBaseURL   string
	Scopes       []string

	// MockMode forces fixture answers even with credentials present.
	MockMode bool
	// IsolateTenants gives every tenant its own rate-limit buckets and
	// circuit breaker.
	IsolateTenants bool
}

type options struct {
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	breakers   *breaker.Group
	retry      *retry.Policy
	metrics    *metrics.Collectors
	logger     log.Logger
	tracer     trace.Tracer
	transport  transport.Transport
}

// Option customizes a Client.
type Option func(*options)

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

func WithLimiter(l *ratelimit.Limiter) Option {
	return func(o *options) { o.limiter = l }
}

func WithBreakers(g *breaker.Group) Option {
	return func(o *options) { o.breakers = g }
}

// WithRetryPolicy replaces retry.DefaultPolicy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(o *options) { o.retry = &p }
}

func WithMetrics(m *metrics.Collectors) Option {
	return func(o *options) { o.metrics = m }
}

func WithLogger(l log.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithTransport bypasses transport selection.
func WithTransport(t transport.Transport) Option {
	return func(o *options) { o.transport = t }
}

// Client is the API client facade. It is safe for concurrent use.
type Client struct {
	oauth     oauth2.Config
	store     *tokenstore.Store
	transport transport.Transport
	validate  *validator.Validate
	refreshes singleflight.Group
	metrics   *metrics.Collectors
	logger    log.Logger
}

// New creates a Client. The transport is chosen here, once: mock when
// cfg.MockMode is set or the client id or secret is missing, live otherwise.
func New(cfg Config, store *tokenstore.Store, opts ...Option) (*Client, error) {
	if store == nil {
		return nil, errors.New("ledger: token store is required")
	}

	o := options{logger: log.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	c := &Client{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		store:    store,
		validate: validator.New(),
		metrics:  o.metrics,
		logger:   o.logger,
	}

	if o.transport != nil {
		c.transport = o.transport
	} else {
		t, err := c.selectTransport(cfg, o)
		if err != nil {
			return nil, err
		}
		c.transport = t
	}

	c.logger.Info(context.Background(), "Ledger client initialized", log.Fields{
		"mode":            string(c.transport.Mode()),
		"isolate_tenants": cfg.IsolateTenants,
	})
	return c, nil
}

func (c *Client) selectTransport(cfg Config, o options) (transport.Transport, error) {
	if !transport.UseMock(cfg.MockMode, cfg.ClientID, cfg.ClientSecret) && cfg.TokenURL == "" {
		return nil, errors.New("ledger: token url is required in live mode")
	}

	limiter := o.limiter
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.WithWaitObserver(func(class ratelimit.Class, d time.Duration) {
			o.metrics.ObserveLimiterWait(string(class), d)
		}))
	}
	breakers := o.breakers
	if breakers == nil {
		breakers = breaker.NewGroup(cfg.IsolateTenants,
			breaker.WithLogger(o.logger),
			breaker.WithStateObserver(func(name string, _, to breaker.State) {
				o.metrics.SetBreakerState(name, int(to))
			}),
		)
	}
	policy := retry.DefaultPolicy()
	if o.retry != nil {
		policy = *o.retry
	}

	t, err := transport.Select(transport.LiveConfig{
		BaseURL:        cfg.APIBaseURL,
		OAuth:          c.oauth,
		HTTPClient:     o.httpClient,
		Tokens:         c,
		Limiter:        limiter,
		Breakers:       breakers,
		Retry:          policy,
		IsolateTenants: cfg.IsolateTenants,
		Metrics:        o.metrics,
		Logger:         o.logger,
		Tracer:         o.tracer,
	}, cfg.MockMode)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	return t, nil
}

// Mode reports which transport the client talks to.
func (c *Client) Mode() transport.Mode { return c.transport.Mode() }

// Store returns the token store backing the client.
func (c *Client) Store() *tokenstore.Store { return c.store }
