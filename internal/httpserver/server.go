package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/fluxa-protocol/x402-gateway/internal/config"
	"github.com/fluxa-protocol/x402-gateway/internal/idempotency"
	"github.com/fluxa-protocol/x402-gateway/internal/logger"
	"github.com/fluxa-protocol/x402-gateway/internal/metrics"
	"github.com/fluxa-protocol/x402-gateway/internal/ratelimit"
	"github.com/fluxa-protocol/x402-gateway/pkg/x402v2/registry"
)

// Server wires the facilitator's own HTTP surface: POST /verify, POST /settle,
// GET /supported, GET /benchmark/metrics.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg      *config.Config
	registry *registry.Registry
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New builds the facilitator HTTP server with a configured router.
func New(cfg *config.Config, reg *registry.Registry, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{cfg: cfg, registry: reg, metrics: metricsCollector, logger: appLogger},
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	ConfigureRouter(router, cfg, reg, metricsCollector, appLogger)

	return s
}

// ConfigureRouter attaches the facilitator's routes to an existing router.
func ConfigureRouter(router chi.Router, cfg *config.Config, reg *registry.Registry, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) {
	if router == nil {
		return
	}

	handler := handlers{cfg: cfg, registry: reg, metrics: metricsCollector, logger: appLogger}

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	// Security headers middleware (applied first for all responses)
	router.Use(securityHeadersMiddleware)

	// Add structured logging middleware (BEFORE RequestID for context propagation)
	router.Use(logger.Middleware(appLogger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	rateLimitCfg := ratelimit.Config{
		GlobalEnabled:   cfg.RateLimit.GlobalEnabled,
		GlobalLimit:     cfg.RateLimit.GlobalLimit,
		GlobalWindow:    cfg.RateLimit.GlobalWindow.Duration,
		PerPayerEnabled: cfg.RateLimit.PerPayerEnabled,
		PerPayerLimit:   cfg.RateLimit.PerPayerLimit,
		PerPayerWindow:  cfg.RateLimit.PerPayerWindow.Duration,
		PerIPEnabled:    cfg.RateLimit.PerIPEnabled,
		PerIPLimit:      cfg.RateLimit.PerIPLimit,
		PerIPWindow:     cfg.RateLimit.PerIPWindow.Duration,
		Metrics:         metricsCollector,
	}
	router.Use(ratelimit.GlobalLimiter(rateLimitCfg))
	router.Use(ratelimit.PayerLimiter(rateLimitCfg))
	router.Use(ratelimit.IPLimiter(rateLimitCfg))

	// NOTE: Timeout middleware is applied selectively per route group below so the
	// lightweight discovery endpoint isn't held to the same deadline as verify/settle.
	prefix := cfg.Server.RoutePrefix

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get(prefix+"/supported", handler.supported)
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).Handle(prefix+"/benchmark/metrics", promhttp.Handler())
	})

	// Payment endpoints get headroom above the configured outbound-call timeout,
	// since verify/settle may block on chain RPC or the signature directory fetch.
	// /settle additionally honors Idempotency-Key so a client retrying a timed-out
	// settle request can't trigger a second onchain submission or ledger debit.
	idempotencyStore := idempotency.NewMemoryStore()
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.Server.OutboundCallTimeout.Duration + 5*time.Second))
		r.Post(prefix+"/verify", handler.verify)
		r.With(idempotency.Middleware(idempotencyStore, idempotency.DefaultTTL)).Post(prefix+"/settle", handler.settle)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
