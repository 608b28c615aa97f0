package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vyrodovalexey/enforcer/internal/observability"
)

const shutdownTimeout = 30 * time.Second

// waitForShutdown waits for a shutdown signal and performs graceful shutdown.
func waitForShutdown(app *application, cancel context.CancelFunc, logger observability.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", observability.String("signal", sig.String()))

	// Stops the revocation feed and the watcher loop.
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	app.stop(shutdownCtx)

	logger.Info("enforcer stopped")
}

// stop releases every component. It is safe on a partially started application.
func (a *application) stop(ctx context.Context) {
	if a.watcher != nil {
		if err := a.watcher.Stop(); err != nil {
			a.logger.Error("failed to stop subscription data watcher", observability.Error(err))
		}
	}

	if a.adminServer != nil {
		a.logger.Info("stopping admin server")
		if err := a.adminServer.Shutdown(ctx); err != nil {
			a.logger.Error("failed to stop admin server gracefully", observability.Error(err))
		}
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Error("failed to close redis client", observability.Error(err))
		}
	}

	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Error("failed to shutdown tracer", observability.Error(err))
		}
	}
}
