package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"go.pilab.hu/ledger/breaker"
	"go.pilab.hu/ledger/domain"
	lerrors "go.pilab.hu/ledger/errors"
	"go.pilab.hu/ledger/internal/metrics"
	"go.pilab.hu/ledger/log"
	"go.pilab.hu/ledger/ratelimit"
	"go.pilab.hu/ledger/retry"
	"go.pilab.hu/ledger/tracing"
)

const (
	userAgent       = "go.pilab.hu/ledger"
	requestIDHeader = "X-Request-Id"
	maxBodySize     = 32 << 20
)

// TokenSource resolves the bearer token of a tenant, refreshing it first if
// needed.
type TokenSource interface {
	AccessToken(ctx context.Context, tenantID string) (string, error)
}

// LiveConfig wires a Live transport.
type LiveConfig struct {
	BaseURL    string
	OAuth      oauth2.Config
	HTTPClient *http.Client
	Tokens     TokenSource
	Limiter    *ratelimit.Limiter
	Breakers   *breaker.Group
	Retry      retry.Policy
	// IsolateTenants keys rate-limit buckets by tenant as well as class.
	IsolateTenants bool

	Metrics *metrics.Collectors
	Logger  log.Logger
	Tracer  trace.Tracer
}

// Live calls the upstream over HTTP. Every resource call is admitted by the
// rate limiter, then guarded by the circuit breaker, which wraps the retried
// attempt.
type Live struct {
	cfg    LiveConfig
	base   string
	client *http.Client
	logger log.Logger
	tracer trace.Tracer
}

var _ Transport = (*Live)(nil)

// NewLive validates cfg and returns a Live transport. Missing limiter,
// breakers or retry policy get their defaults.
func NewLive(cfg LiveConfig) (*Live, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("transport: base url is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("transport: token source is required")
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.New()
	}
	if cfg.Breakers == nil {
		cfg.Breakers = breaker.NewGroup(false)
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = retry.DefaultMaxAttempts
		if cfg.Retry.BaseDelay == 0 {
			cfg.Retry.BaseDelay = retry.DefaultBaseDelay
		}
	}
	l := &Live{
		cfg:    cfg,
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		client: cfg.HTTPClient,
		logger: cfg.Logger,
		tracer: cfg.Tracer,
	}
	if l.client == nil {
		l.client = &http.Client{Timeout: 30 * time.Second}
	}
	if l.logger == nil {
		l.logger = log.NewNop()
	}
	if l.tracer == nil {
		l.tracer = tracing.Tracer()
	}
	return l, nil
}

func (l *Live) Mode() Mode { return ModeLive }

// Do resolves the tenant's token and performs the request.
func (l *Live) Do(ctx context.Context, req *Request) (*Response, error) {
	token, err := l.cfg.Tokens.AccessToken(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	if err := l.cfg.Limiter.WaitFor(ctx, req.Class, l.bucketKey(req.TenantID)); err != nil {
		return nil, err
	}

	policy := l.cfg.Retry
	userHook := policy.OnRetry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		l.cfg.Metrics.ObserveRetry(req.Resource)
		l.logger.Warn(ctx, "Upstream call failed, retrying", log.Fields{
			"resource":  req.Resource,
			"tenant_id": req.TenantID,
			"attempt":   attempt,
			"delay":     delay.String(),
			"error":     err.Error(),
		})
		if userHook != nil {
			userHook(attempt, delay, err)
		}
	}

	var resp *Response
	cb := l.cfg.Breakers.For(req.TenantID)
	err = cb.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, policy, func(ctx context.Context) error {
			r, err := l.attempt(ctx, req, token)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
	})
	if errors.Is(err, breaker.ErrCircuitOpen) {
		l.cfg.Metrics.ObserveBreakerRejection(cb.Name())
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (l *Live) bucketKey(tenantID string) string {
	if l.cfg.IsolateTenants {
		return tenantID
	}
	return ""
}

func (l *Live) attempt(ctx context.Context, req *Request, token string) (*Response, error) {
	method := req.method()
	target := l.base + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}
	requestID := uuid.NewString()

	ctx, span := l.tracer.Start(ctx, "ledger."+req.Resource,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", req.Path),
			attribute.String("ledger.tenant_id", req.TenantID),
			attribute.String("ledger.rate_class", string(req.Class)),
			attribute.String("ledger.request_id", requestID),
		))
	defer span.End()

	httpReq, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", req.accept())
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set(requestIDHeader, requestID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	start := time.Now()
	httpResp, err := l.client.Do(httpReq)
	if err != nil {
		l.cfg.Metrics.ObserveRequest(req.Resource, string(req.Class), 0, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		return nil, &lerrors.NetworkError{Method: method, URL: l.base + req.Path, Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
	elapsed := time.Since(start)
	l.cfg.Metrics.ObserveRequest(req.Resource, string(req.Class), httpResp.StatusCode, elapsed)
	span.SetAttributes(attribute.Int("http.response.status_code", httpResp.StatusCode))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reading body failed")
		return nil, &lerrors.NetworkError{Method: method, URL: l.base + req.Path, Err: err}
	}

	if rid := httpResp.Header.Get(requestIDHeader); rid != "" {
		requestID = rid
	}
	l.logger.Debug(ctx, "Upstream call finished", log.Fields{
		"resource":   req.Resource,
		"tenant_id":  req.TenantID,
		"status":     httpResp.StatusCode,
		"duration":   elapsed.String(),
		"request_id": requestID,
	})

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		apiErr := lerrors.ParseErrorBody(httpResp.StatusCode, body)
		apiErr.RequestID = requestID
		span.SetStatus(codes.Error, apiErr.Code)
		return nil, apiErr
	}

	return &Response{
		StatusCode:  httpResp.StatusCode,
		ContentType: httpResp.Header.Get("Content-Type"),
		Header:      httpResp.Header,
		Body:        body,
		RequestID:   requestID,
	}, nil
}

// ExchangeCode performs the authorization_code grant.
func (l *Live) ExchangeCode(ctx context.Context, code string) (*domain.TokenResponse, error) {
	return l.grant(ctx, "exchange", func(ctx context.Context) (*oauth2.Token, error) {
		return l.cfg.OAuth.Exchange(ctx, code)
	})
}

// RefreshToken performs the refresh_token grant.
func (l *Live) RefreshToken(ctx context.Context, refreshToken string) (*domain.TokenResponse, error) {
	return l.grant(ctx, "refresh", func(ctx context.Context) (*oauth2.Token, error) {
		return l.cfg.OAuth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	})
}

// grant runs a token endpoint call through the auth bucket and the shared
// breaker. Grants are never retried: a refresh token may be single use.
func (l *Live) grant(ctx context.Context, name string, fn func(ctx context.Context) (*oauth2.Token, error)) (*domain.TokenResponse, error) {
	if err := l.cfg.Limiter.Wait(ctx, ratelimit.ClassAuth); err != nil {
		return nil, err
	}

	ctx, span := l.tracer.Start(ctx, "ledger.oauth."+name, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	var tok *oauth2.Token
	cb := l.cfg.Breakers.For("")
	err := cb.Execute(ctx, func(ctx context.Context) error {
		start := time.Now()
		var err error
		tok, err = fn(context.WithValue(ctx, oauth2.HTTPClient, l.client))
		l.cfg.Metrics.ObserveRequest("oauth_"+name, string(ratelimit.ClassAuth), grantStatus(err), time.Since(start))
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		return l.mapGrantError(err)
	})
	if err != nil {
		if errors.Is(err, breaker.ErrCircuitOpen) {
			l.cfg.Metrics.ObserveBreakerRejection(cb.Name())
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "grant failed")
		return nil, err
	}
	return tokenResponse(tok, time.Now()), nil
}

func grantStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) && rErr.Response != nil {
		return rErr.Response.StatusCode
	}
	return 0
}

func (l *Live) mapGrantError(err error) error {
	if err == nil {
		return nil
	}
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		status := 0
		if rErr.Response != nil {
			status = rErr.Response.StatusCode
		}
		apiErr := lerrors.ParseErrorBody(status, rErr.Body)
		if rErr.ErrorCode != "" {
			apiErr.Code = rErr.ErrorCode
			if rErr.ErrorDescription != "" {
				apiErr.Message = rErr.ErrorDescription
			}
		}
		return apiErr
	}
	return &lerrors.NetworkError{Method: http.MethodPost, URL: l.cfg.OAuth.Endpoint.TokenURL, Err: err}
}

// tokenResponse converts the oauth2 token back to the wire shape the token
// store persists.
func tokenResponse(tok *oauth2.Token, now time.Time) *domain.TokenResponse {
	resp := &domain.TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		resp.Scope = scope
	}
	if n, ok := extraSeconds(tok.Extra("expires_in")); ok {
		resp.ExpiresIn = n
	} else if !tok.Expiry.IsZero() {
		resp.ExpiresIn = int64(math.Round(tok.Expiry.Sub(now).Seconds()))
	}
	return resp
}

func extraSeconds(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}
