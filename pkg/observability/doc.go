// Package observability provides structured logging, Prometheus metrics,
// health probes and graceful shutdown.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger("info", os.Stdout)
//	logger.WithField("port", 8080).Info("server started")
//
// Request-scoped logging:
//
//	ctx = observability.WithLogger(ctx, logger)
//	ctx = observability.WithRequestID(ctx, reqID)
//	observability.FromContext(ctx).Warn("provider slow")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.ObserveAuth("authenticate", "authenticated", elapsed)
//	router.Handle("/metrics", observability.MetricsHandler(registry))
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(auditDB, redisClient)
//	observability.RegisterHealthRoutes(router, checker)
//
// # Graceful Shutdown
//
//	sm := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
//	sm.RegisterShutdownFunc(func(ctx context.Context) error { return auditLogger.Close() })
//	err := sm.WaitForShutdown(ctx)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/httputil: Request logging middleware
package observability
