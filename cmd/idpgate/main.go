// Command idpgate serves the authentication gateway in front of a Cognito
// user pool.
//
// Configuration comes from IDPGATE_* environment variables and an optional
// YAML file named by IDPGATE_CONFIG_FILE. See pkg/config for the full list.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/idpgate/pkg/api"
	"github.com/platinummonkey/idpgate/pkg/audit"
	"github.com/platinummonkey/idpgate/pkg/auth"
	"github.com/platinummonkey/idpgate/pkg/config"
	"github.com/platinummonkey/idpgate/pkg/httputil"
	"github.com/platinummonkey/idpgate/pkg/idp/cognito"
	"github.com/platinummonkey/idpgate/pkg/middleware"
	"github.com/platinummonkey/idpgate/pkg/observability"
	"github.com/platinummonkey/idpgate/pkg/secrets"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(context.Background(), cfg, logger); err != nil {
		logger.WithError(err).Fatal("idpgate stopped with an error")
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	awsCfg, err := cfg.Provider.LoadAWSConfig(ctx)
	if err != nil {
		return err
	}

	if cfg.Provider.SecretID != "" {
		creds, err := secrets.Resolve(ctx, secrets.NewAPI(awsCfg), cfg.Provider.SecretID)
		if err != nil {
			return fmt.Errorf("failed to resolve provider secrets: %w", err)
		}
		secrets.Apply(cfg, creds)
		logger.WithField("secret_id", cfg.Provider.SecretID).Info("provider secrets resolved")
	}

	if err := cfg.ValidateAdmin(); err != nil {
		return err
	}

	trustedProxies, err := httputil.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}

	client, err := cognito.NewFromConfig(awsCfg, cognito.Options{
		UserPoolID:   cfg.Provider.UserPoolID,
		ClientID:     cfg.Provider.ClientID,
		ClientSecret: cfg.Provider.ClientSecret,
		Endpoint:     cfg.Provider.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to create identity provider client: %w", err)
	}

	var (
		registry *prometheus.Registry
		metrics  *observability.Metrics
	)
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}

	var shutdownFuncs []observability.ShutdownFunc

	otelCfg := cfg.Observability.OTel
	tracerProvider, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:     otelCfg.Enabled,
		Endpoint:    otelCfg.Endpoint,
		ServiceName: otelCfg.ServiceName,
		Insecure:    otelCfg.Insecure,
		SampleRate:  otelCfg.SampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	var tracing trace.TracerProvider
	if tracerProvider != nil {
		tracing = tracerProvider
		shutdownFuncs = append(shutdownFuncs, func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, tracerProvider)
		})
	}

	db, err := openAuditDB(ctx, cfg.Audit)
	if err != nil {
		return err
	}

	auditLogger, err := newAuditLogger(ctx, cfg.Audit, db, logger, metrics)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return err
	}
	// queued audit events drain before the database closes
	shutdownFuncs = append(shutdownFuncs, func(context.Context) error {
		err := auditLogger.Close()
		if db != nil {
			err = errors.Join(err, db.Close())
		}
		return err
	})

	redisClient, err := openRedis(ctx, cfg.RateLimit, logger)
	if err != nil {
		return err
	}
	if redisClient != nil {
		shutdownFuncs = append(shutdownFuncs, func(context.Context) error { return redisClient.Close() })
	}

	service := auth.NewService(client,
		auth.WithAuditLogger(auditLogger),
		auth.WithMetrics(metrics),
		auth.WithLogger(logger),
		auth.WithProviderTimeout(cfg.Provider.Timeout),
		auth.WithTracerProvider(tracing),
	)

	limiterCtx, stopLimiter := context.WithCancel(ctx)
	defer stopLimiter()
	limiter, limitCfg := newLimiter(limiterCtx, cfg.RateLimit, redisClient)

	if cfg.Admin.APIKey == "" {
		logger.Warn("no admin API key configured, admin endpoints are open")
	}

	handler := api.NewServer(api.Options{
		Service:      service,
		Audit:        auditLogger,
		Logger:       logger,
		Metrics:      metrics,
		Registry:     registry,
		Health:       observability.NewHealthChecker(db, redisClient),
		AdminAPIKey:  cfg.Admin.APIKey,
		Limiter:      limiter,
		RateLimit:    limitCfg,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,

		AllowUnauthenticatedAdmin: cfg.Admin.AllowUnauthenticated,
		TrustedProxies:            trustedProxies,
		TracerProvider:            tracing,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	for _, fn := range shutdownFuncs {
		shutdown.RegisterShutdownFunc(fn)
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":         server.Addr,
			"user_pool_id": cfg.Provider.UserPoolID,
			"region":       cfg.Provider.Region,
		}).Info("idpgate listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := <-serveErr; err != nil {
			logger.WithError(err).Error("HTTP server failed")
			cancel()
		}
	}()

	return shutdown.WaitForShutdown(waitCtx)
}

// openAuditDB connects to the audit database when one is configured
func openAuditDB(ctx context.Context, cfg config.AuditConfig) (*sql.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping audit database: %w", err)
	}
	return db, nil
}

// newAuditLogger assembles the configured audit sinks. Database writes are
// queued so they never add latency to an authentication.
func newAuditLogger(ctx context.Context, cfg config.AuditConfig, db *sql.DB, logger logrus.FieldLogger, metrics *observability.Metrics) (audit.Logger, error) {
	var sinks []audit.Logger
	if db != nil {
		dbLogger, err := audit.NewDBLogger(ctx, db, cfg.Table)
		if err != nil {
			return nil, fmt.Errorf("failed to initialise audit table: %w", err)
		}
		asyncCfg := audit.DefaultAsyncConfig()
		asyncCfg.OnError = func(error) { metrics.ObserveAuditError() }
		sinks = append(sinks, audit.NewAsyncLogger(dbLogger, asyncCfg, logger))
	}
	if cfg.LogEvents {
		sinks = append(sinks, audit.NewLogrusLogger(logger))
	}

	switch len(sinks) {
	case 0:
		return audit.NoOpLogger{}, nil
	case 1:
		return sinks[0], nil
	default:
		return audit.NewMultiLogger(sinks...), nil
	}
}

// openRedis connects to Redis when rate limiting uses it. An unreachable
// server is logged; the limiter fails open until it recovers.
func openRedis(ctx context.Context, cfg config.RateLimitConfig, logger logrus.FieldLogger) (*redis.Client, error) {
	if !cfg.Enabled || cfg.RedisURL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.WithError(err).Warn("redis unreachable, rate limiting will fail open")
	}
	return client, nil
}

// newLimiter picks the Redis limiter when a client is available and the
// in-memory bucket otherwise. It returns a nil Limiter when rate limiting is
// disabled.
func newLimiter(ctx context.Context, cfg config.RateLimitConfig, redisClient *redis.Client) (middleware.Limiter, *middleware.RateLimitConfig) {
	if !cfg.Enabled {
		return nil, nil
	}

	limitCfg := rateLimitConfig(cfg)
	if redisClient != nil {
		return middleware.NewDistributedRateLimiter(redisClient, limitCfg, "idpgate:ratelimit"), limitCfg
	}

	limiter := middleware.NewRateLimiter(limitCfg)
	limiter.StartCleanup(ctx)
	return limiter, limitCfg
}

// rateLimitConfig scales the per-minute budget to the configured window
func rateLimitConfig(cfg config.RateLimitConfig) *middleware.RateLimitConfig {
	perWindow := int(float64(cfg.RequestsPerMinute) * cfg.Window.Minutes())
	if perWindow < 1 {
		perWindow = 1
	}
	return &middleware.RateLimitConfig{
		RequestsPerWindow: perWindow,
		WindowDuration:    cfg.Window,
		BurstSize:         cfg.Burst,
	}
}
