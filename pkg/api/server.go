package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/idpgate/pkg/audit"
	"github.com/platinummonkey/idpgate/pkg/auth"
	"github.com/platinummonkey/idpgate/pkg/httputil"
	"github.com/platinummonkey/idpgate/pkg/middleware"
	"github.com/platinummonkey/idpgate/pkg/observability"
)

// DefaultMaxBodyBytes caps request bodies when Options leaves it unset
const DefaultMaxBodyBytes = 64 << 10

// Options wires the server's collaborators. Only Service is required.
type Options struct {
	Service *auth.Service
	Audit   audit.Logger
	Logger  logrus.FieldLogger

	Metrics  *observability.Metrics
	Registry *prometheus.Registry
	Health   *observability.HealthChecker

	// AdminAPIKey guards the admin endpoints. When empty they deny every
	// request unless AllowUnauthenticatedAdmin is set.
	AdminAPIKey               string
	AllowUnauthenticatedAdmin bool

	// Limiter throttles credential endpoints when set
	Limiter   middleware.Limiter
	RateLimit *middleware.RateLimitConfig

	// TracerProvider enables a server span per request when set
	TracerProvider trace.TracerProvider

	// TrustedProxies may set the client address through forwarding headers
	TrustedProxies httputil.TrustedProxies

	MaxBodyBytes int64
}

// Server represents our API server
type Server struct {
	router  *mux.Router
	handler http.Handler
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	if opts.Audit == nil {
		opts.Audit = audit.NoOpLogger{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{router: mux.NewRouter()}
	if opts.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(opts.Metrics))
	}

	limit := func(next http.Handler) http.Handler { return next }
	if opts.Limiter != nil {
		limit = middleware.RateLimitMiddleware(opts.Limiter, opts.RateLimit, opts.Metrics)
	}

	NewAuthHandlers(opts.Service, opts.Audit, opts.AdminAPIKey, opts.AllowUnauthenticatedAdmin, limit).RegisterRoutes(s.router)

	if opts.Health != nil {
		observability.RegisterHealthRoutes(s.router, opts.Health)
	}
	if opts.Registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(opts.Registry)).Methods("GET")
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	middlewares := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware(opts.Logger),
		httputil.ClientIPMiddleware(opts.TrustedProxies),
	}
	if opts.TracerProvider != nil {
		middlewares = append(middlewares, otelhttp.NewMiddleware("idpgate",
			otelhttp.WithTracerProvider(opts.TracerProvider),
			otelhttp.WithPropagators(otel.GetTextMapPropagator()),
			otelhttp.WithSpanNameFormatter(s.spanName),
		))
	}
	middlewares = append(middlewares,
		httputil.LoggingMiddleware,
		httputil.RecoveryMiddleware,
		httputil.MaxBytesMiddleware(opts.MaxBodyBytes),
	)
	s.handler = httputil.Chain(middlewares...)(s.router)
	return s
}

// spanName names server spans after the matched route, keeping unknown
// paths out of span names
func (s *Server) spanName(_ string, r *http.Request) string {
	var match mux.RouteMatch
	if s.router.Match(r, &match) && match.Route != nil {
		if tmpl, err := match.Route.GetPathTemplate(); err == nil {
			return r.Method + " " + tmpl
		}
	}
	return r.Method
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
