package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	echoapi "go.pilab.hu/ledger/api/echo"
	"go.pilab.hu/ledger/config"
	"go.pilab.hu/ledger/internal/app"
	"go.pilab.hu/ledger/internal/audit"
	"go.pilab.hu/ledger/internal/server"
	"go.pilab.hu/ledger/tracing"
)

func main() {
	// Load configuration first
	cfg, err := config.Load()
	if err != nil {
		stdLog := zerolog.New(os.Stdout).With().Timestamp().Logger()
		stdLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx := context.Background()

	tp, err := tracing.InitTracerProvider(cfg.OtelServiceName, nil)
	if err != nil {
		stdLog := zerolog.New(os.Stdout).With().Timestamp().Logger()
		stdLog.Fatal().Err(err).Msg("Failed to initialize TracerProvider")
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		stdLog := zerolog.New(os.Stdout).With().Timestamp().Logger()
		stdLog.Fatal().Err(err).Msg("Failed to initialize ledger client")
	}
	appLogger := a.Logger
	appLogger.Info(ctx, "Configuration loaded successfully", map[string]interface{}{
		"http_addr":       cfg.HTTPAddr,
		"mode":            string(a.Client.Mode()),
		"token_backend":   string(cfg.TokenStore.Backend),
		"isolate_tenants": cfg.Resilience.IsolateTenants,
		"log_level":       cfg.LogLevel,
		"otel_service":    cfg.OtelServiceName,
	})

	states := echoapi.NewStateStore(echoapi.DefaultStateTTL)
	connectAPI := echoapi.NewConnectAPI(a.Client, states, appLogger).
		WithAudit(audit.New(cfg.OtelServiceName, os.Stdout))

	httpServer := server.NewHTTPServer(server.Config{
		Addr:        cfg.HTTPAddr,
		ServiceName: cfg.OtelServiceName,
	}, appLogger, connectAPI, a.Registry)

	serverErr := make(chan error, 1)
	go func() {
		appLogger.Info(ctx, fmt.Sprintf("HTTP server listening on %s", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case receivedSignal := <-quit:
		appLogger.Info(ctx, fmt.Sprintf("Received signal: %v. Shutting down server...", receivedSignal))
	case err := <-serverErr:
		appLogger.Error(ctx, "HTTP server failed", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	appLogger.Info(shutdownCtx, "Shutting down HTTP server...")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "HTTP server shutdown error", err)
	}
	states.Close()

	appLogger.Info(shutdownCtx, "Shutting down TracerProvider...")
	if err := tp.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "TracerProvider shutdown error", err)
	}

	appLogger.Info(shutdownCtx, "Closing token store...")
	if err := a.Close(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "Token store close error", err)
	}

	appLogger.Info(shutdownCtx, "Server gracefully stopped.")
}
