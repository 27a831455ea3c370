package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

const namespace = "ledger"

// Collectors groups the client's Prometheus metrics. A nil *Collectors is a
// valid no-op sink.
type Collectors struct {
	UpstreamRequests  *prometheus.CounterVec
	UpstreamDuration  *prometheus.HistogramVec
	Retries           *prometheus.CounterVec
	LimiterWaits      *prometheus.HistogramVec
	BreakerState      *prometheus.GaugeVec
	BreakerRejections *prometheus.CounterVec
	TokenRefreshes    *prometheus.CounterVec
	MockResponses     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. Registration
// failures are logged, not fatal.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Live upstream HTTP attempts by resource and status code.",
		}, []string{"resource", "class", "code"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Latency of live upstream HTTP attempts.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"resource"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_retries_total",
			Help:      "Backoff retries of failed upstream attempts.",
		}, []string{"resource"}),
		LimiterWaits: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rate_limiter_wait_seconds",
			Help:      "Time callers were suspended waiting for a rate-limit token.",
			Buckets:   []float64{.01, .05, .1, .2, .5, 1, 2, 5},
		}, []string{"class"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
		}, []string{"breaker"}),
		BreakerRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_rejections_total",
			Help:      "Calls rejected by an open circuit breaker.",
		}, []string{"breaker"}),
		TokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "OAuth token refreshes by result.",
		}, []string{"result"}),
		MockResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mock_responses_total",
			Help:      "Fixture responses served by the mock transport.",
		}, []string{"resource"}),
	}

	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, cannot register ledger metrics.")
		return c
	}
	for name, col := range map[string]prometheus.Collector{
		"UpstreamRequests":  c.UpstreamRequests,
		"UpstreamDuration":  c.UpstreamDuration,
		"Retries":           c.Retries,
		"LimiterWaits":      c.LimiterWaits,
		"BreakerState":      c.BreakerState,
		"BreakerRejections": c.BreakerRejections,
		"TokenRefreshes":    c.TokenRefreshes,
		"MockResponses":     c.MockResponses,
	} {
		if err := reg.Register(col); err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("Failed to register metric")
		}
	}
	log.Debug().Msg("Ledger Prometheus metrics registered.")
	return c
}

func (c *Collectors) ObserveRequest(resource, class string, status int, d time.Duration) {
	if c == nil {
		return
	}
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	c.UpstreamRequests.WithLabelValues(resource, class, code).Inc()
	c.UpstreamDuration.WithLabelValues(resource).Observe(d.Seconds())
}

func (c *Collectors) ObserveRetry(resource string) {
	if c == nil {
		return
	}
	c.Retries.WithLabelValues(resource).Inc()
}

func (c *Collectors) ObserveLimiterWait(class string, d time.Duration) {
	if c == nil {
		return
	}
	c.LimiterWaits.WithLabelValues(class).Observe(d.Seconds())
}

func (c *Collectors) SetBreakerState(name string, state int) {
	if c == nil {
		return
	}
	c.BreakerState.WithLabelValues(name).Set(float64(state))
}

func (c *Collectors) ObserveBreakerRejection(name string) {
	if c == nil {
		return
	}
	c.BreakerRejections.WithLabelValues(name).Inc()
}

func (c *Collectors) ObserveRefresh(ok bool) {
	if c == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	c.TokenRefreshes.WithLabelValues(result).Inc()
}

func (c *Collectors) ObserveMock(resource string) {
	if c == nil {
		return
	}
	c.MockResponses.WithLabelValues(resource).Inc()
}
