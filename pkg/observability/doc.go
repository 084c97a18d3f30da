// Package observability provides structured JSON logging, Prometheus
// metrics, health checks, OpenTelemetry tracing, and graceful shutdown
// for the catalog credential service.
//
// Create a logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("user_id", id).Info("user logged in")
//
// Register metrics:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
//
// Health endpoints:
//
//	checker := observability.NewHealthChecker(store)
//	mux.HandleFunc("/healthz", checker.Liveness)
//	mux.HandleFunc("/readyz", checker.Readiness)
package observability
