// Package observability provides logging and tracing for the enforcer.
//
// Logging goes through the Logger interface backed by zap:
//
//	logger, err := observability.NewLogger(observability.DefaultLogConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("api chain built",
//	    observability.String("api", "PetStore"),
//	    observability.Int("authenticators", 3),
//	)
//
// Warnings about tampered or revoked tokens go through SecurityEventLogger,
// which throttles output and never prints a full credential (see MaskToken).
//
// Tracing uses OpenTelemetry with an optional OTLP gRPC exporter.
package observability
