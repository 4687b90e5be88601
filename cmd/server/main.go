// Package main implements the entry point for the visiarch API server,
// which runs the asynchronous video-generation task queue behind a
// small HTTP surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/visiarch/visiarch-api/internal/config"
	"github.com/visiarch/visiarch-api/internal/platform/logger"
	"github.com/visiarch/visiarch-api/internal/video/provider"
	"github.com/visiarch/visiarch-api/internal/video/provider/fal"
	"github.com/visiarch/visiarch-api/internal/video/provider/kling"
	"github.com/visiarch/visiarch-api/internal/video/queue"
)

// shutdownTimeout bounds the HTTP server drain on exit.
const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("server exited with error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	appLogger.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"tick_interval_ms", cfg.Queue.TickIntervalMs,
		"max_concurrent_checks", cfg.Queue.MaxConcurrentChecks)

	factory := provider.NewFactory()
	factory.RegisterBuilder(provider.KindKling, func() (provider.Provider, error) {
		return kling.New(cfg.Kling, appLogger), nil
	})
	factory.RegisterBuilder(provider.KindFal, func() (provider.Provider, error) {
		return fal.New(cfg.Fal, appLogger), nil
	})

	taskQueue := queue.New(factory, queue.ConfigFromApp(cfg.Queue), queue.Callbacks{
		OnSuccess: func(correlationID, resultURL string) {
			appLogger.Info("generation completed",
				"correlation_id", correlationID,
				"result_url", resultURL)
		},
		OnFailure: func(correlationID, errorMessage string) {
			appLogger.Warn("generation failed",
				"correlation_id", correlationID,
				"error", errorMessage)
		},
		OnProgress: func(correlationID string, percent, etaSeconds int) {
			appLogger.Debug("generation progress",
				"correlation_id", correlationID,
				"percent", percent,
				"eta_seconds", etaSeconds)
		},
	}, appLogger)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           setupRouter(taskQueue, factory, appLogger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLogger.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		taskQueue.Shutdown()
		return fmt.Errorf("http server failed: %w", err)
	case sig := <-stop:
		appLogger.Info("shutdown signal received", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown failed", "error", err)
	}

	// Queue shutdown after the HTTP drain so in-flight requests can
	// still enqueue or read; it cancels outstanding status checks and
	// pending removal timers.
	taskQueue.Shutdown()

	appLogger.Info("server stopped")
	return nil
}
