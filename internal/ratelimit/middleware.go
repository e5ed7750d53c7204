package ratelimit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fluxa-protocol/x402-gateway/internal/metrics"
	"github.com/go-chi/httprate"
)

// Config holds rate limiting configuration for the facilitator's payment endpoints.
type Config struct {
	GlobalEnabled bool
	GlobalLimit   int
	GlobalWindow  time.Duration

	// Per-payer rate limiting, identified by the payer address carried in the
	// decoded payment payload (X-Payer-Address header set by the resource server
	// after it decodes PAYMENT-SIGNATURE, or the session id for odp-deferred).
	PerPayerEnabled bool
	PerPayerLimit   int
	PerPayerWindow  time.Duration

	PerIPEnabled bool
	PerIPLimit   int
	PerIPWindow  time.Duration

	Metrics *metrics.Metrics
}

type rateLimitResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

func createRateLimitHandler(
	limitType string,
	windowSeconds int,
	extractIdentifier func(*http.Request) string,
	metricsCollector *metrics.Metrics,
) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		identifier := "all"
		if extractIdentifier != nil {
			if id := extractIdentifier(r); id != "" {
				identifier = id
			}
		}

		if metricsCollector != nil {
			metricsCollector.ObserveRateLimit(limitType, identifier)
		}

		var message string
		switch limitType {
		case "global":
			message = "Global rate limit exceeded. Please try again later."
		case "per_payer":
			message = "Per-payer rate limit exceeded. Please try again later."
		case "per_ip":
			message = "IP rate limit exceeded. Please try again later."
		default:
			message = "Rate limit exceeded. Please try again later."
		}

		response := rateLimitResponse{
			Error:             "rate_limit_exceeded",
			Message:           message,
			RetryAfterSeconds: windowSeconds,
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", fmt.Sprintf("%d", windowSeconds))
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(response)
	}
}

// GlobalLimiter creates a global rate limiter middleware shared by /verify and /settle.
func GlobalLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.GlobalEnabled {
		return func(next http.Handler) http.Handler { return next }
	}

	return httprate.Limit(
		cfg.GlobalLimit,
		cfg.GlobalWindow,
		httprate.WithLimitHandler(
			createRateLimitHandler("global", int(cfg.GlobalWindow.Seconds()), nil, cfg.Metrics),
		),
	)
}

// PayerLimiter creates a per-payer rate limiter middleware. It keys on the payer
// address extracted from the request, falling back to the remote IP when absent.
func PayerLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerPayerEnabled {
		return func(next http.Handler) http.Handler { return next }
	}

	return httprate.Limit(
		cfg.PerPayerLimit,
		cfg.PerPayerWindow,
		httprate.WithKeyFuncs(payerKeyExtractor),
		httprate.WithLimitHandler(
			createRateLimitHandler("per_payer", int(cfg.PerPayerWindow.Seconds()), extractPayerFromRequest, cfg.Metrics),
		),
	)
}

// IPLimiter creates a per-IP rate limiter middleware. It keys every request on
// the client IP, whether or not the request carries an identifiable payer.
func IPLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerIPEnabled {
		return func(next http.Handler) http.Handler { return next }
	}

	return httprate.Limit(
		cfg.PerIPLimit,
		cfg.PerIPWindow,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(
			createRateLimitHandler("per_ip", int(cfg.PerIPWindow.Seconds()), func(r *http.Request) string { return r.RemoteAddr }, cfg.Metrics),
		),
	)
}

func payerKeyExtractor(r *http.Request) (string, error) {
	payer := extractPayerFromRequest(r)
	if payer == "" {
		return httprate.KeyByIP(r)
	}
	return "payer:" + payer, nil
}

// extractPayerFromRequest pulls a payer identifier from explicit headers set by the
// resource server after decoding the payment payload, avoiding a second JSON parse
// of PAYMENT-SIGNATURE on the rate-limit hot path.
func extractPayerFromRequest(r *http.Request) string {
	if payer := r.Header.Get("X-Payer-Address"); payer != "" {
		return payer
	}
	if session := r.Header.Get("X-Session-Id"); session != "" {
		return session
	}
	if payer := r.URL.Query().Get("payer"); payer != "" {
		return payer
	}
	return ""
}
