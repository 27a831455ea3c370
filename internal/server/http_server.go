package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	echoapi "go.pilab.hu/ledger/api/echo"
	"go.pilab.hu/ledger/log"
)

// Config holds the listener settings of the callback server.
type Config struct {
	Addr         string
	ServiceName  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewRouter builds the echo router: request logging, recovery, tracing,
// the connect API and /metrics for gatherer.
func NewRouter(cfg Config, appLogger log.Logger, connectAPI *echoapi.ConnectAPI, gatherer prometheus.Gatherer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware(cfg.ServiceName))

	// Add custom logging middleware using our logger interface
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			fields := log.Fields{
				"method":     req.Method,
				"path":       c.Path(),
				"status":     c.Response().Status,
				"latency":    time.Since(start).String(),
				"ip":         c.RealIP(),
				"user_agent": req.UserAgent(),
			}
			if err != nil {
				appLogger.Error(req.Context(), "HTTP Request failed", err, fields)
			} else {
				appLogger.Info(req.Context(), "HTTP Request", fields)
			}
			return nil
		}
	})

	if connectAPI == nil {
		appLogger.Warn(context.Background(), "ConnectAPI not provided, connect routes will not be registered")
	} else {
		connectAPI.RegisterRoutes(e)
	}

	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return e
}

// NewHTTPServer wraps NewRouter in an http.Server.
func NewHTTPServer(cfg Config, appLogger log.Logger, connectAPI *echoapi.ConnectAPI, gatherer prometheus.Gatherer) *http.Server {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      NewRouter(cfg, appLogger, connectAPI, gatherer),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
}
