/*
Package main is the entry point for the assessment assistant service.

The service exposes one conversational endpoint backed by a stateful
thread/run agent (the OpenAI Assistants API or an in-process local model),
plus a health check and a transcript read route. It is built on the Echo web
framework with structured logging, optional OTLP tracing and graceful
shutdown.

Startup order:
1. Load configuration from environment variables (and .env in development)
2. Initialize structured logging and tracing
3. Build the configured agent provider
4. Set up HTTP middleware and register routes
5. Serve until SIGINT/SIGTERM, then drain requests and flush traces
*/
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"assessbot/core"
	"assessbot/provider/assistants"
	"assessbot/provider/local"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

// newProvider builds the provider selected by config. It returns a nil
// provider when the credentials are missing so the health check can still
// report what is absent.
func newProvider(ctx context.Context, config *core.Config, logger *logrus.Logger) (core.Provider, io.Closer, error) {
	if !config.Configured() {
		logger.WithField("provider", config.Provider).Warn("Assistant provider credentials are missing")
		return nil, nil, nil
	}

	switch config.Provider {
	case core.ProviderLocal:
		provider, err := local.NewFromConfig(ctx, config, logger)
		if err != nil {
			return nil, nil, err
		}
		return provider, provider, nil
	default:
		return assistants.NewFromConfig(config, logger), nil, nil
	}
}

func main() {
	config := core.LoadConfig()

	logger := core.InitializeLogger(config)
	logger.Info("Starting assessment assistant server")

	telemetry, err := core.SetupTelemetry(context.Background(), config)
	if err != nil {
		logger.WithError(err).Fatal("Failed to set up telemetry")
	}

	provider, closer, err := newProvider(context.Background(), config, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create assistant provider")
	}

	server := core.NewServer(config, provider, logger)

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server.RegisterRoutes(e)

	go func() {
		logger.WithField("port", config.Port).Info("Starting server")
		if err := e.Start(fmt.Sprintf(":%s", config.Port)); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// In-flight turns can poll for up to MaxPollAttempts * PollInterval.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Failed to gracefully shutdown server")
	} else {
		logger.Info("Server shutdown complete")
	}

	if closer != nil {
		if err := closer.Close(); err != nil {
			logger.WithError(err).Error("Failed to close assistant provider")
		}
	}

	if err := telemetry.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Failed to flush traces")
	}
}
