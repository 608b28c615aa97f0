package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vyrodovalexey/enforcer/internal/config"
	"github.com/vyrodovalexey/enforcer/internal/health"
	"github.com/vyrodovalexey/enforcer/internal/observability"
)

// newAdminServer creates the HTTP server exposing health and metrics.
func newAdminServer(addr string, healthChecker *health.Checker, logger observability.Logger) *http.Server {
	if addr == "" {
		addr = config.DefaultAdminAddress
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", healthChecker.HealthHandler())
	mux.HandleFunc("/readyz", healthChecker.ReadinessHandler())

	logger.Info("admin server configured", observability.String("address", addr))

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// runAdminServer runs the admin HTTP server until it is shut down.
func runAdminServer(server *http.Server, logger observability.Logger) {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("admin server error", observability.Error(err))
	}
}
