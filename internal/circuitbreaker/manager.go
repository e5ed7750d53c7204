package circuitbreaker

import (
	"time"

	"github.com/fluxa-protocol/x402-gateway/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// ServiceType identifies an external service for circuit breaker isolation.
type ServiceType string

const (
	// ServiceChainRPC guards calls to the EVM chain (debit wallet balance reads,
	// onchain settlement transactions) made by the odp-deferred facilitator.
	ServiceChainRPC ServiceType = "chain_rpc"
	// ServiceDirectory guards the Web Bot Auth JWKS directory fetch made by the
	// fluxacredit facilitator's HTTP Message Signature verifier.
	ServiceDirectory ServiceType = "directory"
)

// Manager manages circuit breakers for external services, giving each service its
// own bulkhead so a failing chain RPC endpoint can't starve directory fetches.
type Manager struct {
	breakers map[ServiceType]*gobreaker.CircuitBreaker
	config   Config
}

// Config holds circuit breaker configuration for all services.
type Config struct {
	Enabled   bool
	ChainRPC  BreakerConfig
	Directory BreakerConfig
}

// BreakerConfig configures a single circuit breaker.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// NewManagerFromConfig creates a circuit breaker manager from application config.
func NewManagerFromConfig(cfg config.CircuitBreakerConfig) *Manager {
	return NewManager(Config{
		Enabled: cfg.Enabled,
		ChainRPC: BreakerConfig{
			MaxRequests:         cfg.ChainRPC.MaxRequests,
			Interval:            cfg.ChainRPC.Interval.Duration,
			Timeout:             cfg.ChainRPC.Timeout.Duration,
			ConsecutiveFailures: cfg.ChainRPC.ConsecutiveFailures,
			FailureRatio:        cfg.ChainRPC.FailureRatio,
			MinRequests:         cfg.ChainRPC.MinRequests,
		},
		Directory: BreakerConfig{
			MaxRequests:         cfg.Directory.MaxRequests,
			Interval:            cfg.Directory.Interval.Duration,
			Timeout:             cfg.Directory.Timeout.Duration,
			ConsecutiveFailures: cfg.Directory.ConsecutiveFailures,
			FailureRatio:        cfg.Directory.FailureRatio,
			MinRequests:         cfg.Directory.MinRequests,
		},
	})
}

// NewManager creates a circuit breaker manager with the given configuration.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		breakers: make(map[ServiceType]*gobreaker.CircuitBreaker),
		config:   cfg,
	}

	if !cfg.Enabled {
		return m
	}

	m.breakers[ServiceChainRPC] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceChainRPC), cfg.ChainRPC))
	m.breakers[ServiceDirectory] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceDirectory), cfg.Directory))

	return m
}

// Execute wraps a function call with circuit breaker protection. If circuit breaking
// is disabled or not configured for the service, it executes fn directly.
func (m *Manager) Execute(service ServiceType, fn func() (interface{}, error)) (interface{}, error) {
	if !m.config.Enabled {
		return fn()
	}

	breaker, ok := m.breakers[service]
	if !ok {
		return fn()
	}

	return breaker.Execute(fn)
}

// State returns the current state of a circuit breaker.
func (m *Manager) State(service ServiceType) string {
	if !m.config.Enabled {
		return "disabled"
	}

	breaker, ok := m.breakers[service]
	if !ok {
		return "not_configured"
	}

	return breaker.State().String()
}

// Counts returns the current counts for a circuit breaker.
func (m *Manager) Counts(service ServiceType) Counts {
	if !m.config.Enabled {
		return Counts{}
	}

	breaker, ok := m.breakers[service]
	if !ok {
		return Counts{}
	}

	c := breaker.Counts()
	return Counts{
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
}

// Counts represents circuit breaker statistics.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func toGobreakerSettings(name string, cfg BreakerConfig) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}

			if cfg.FailureRatio > 0 && cfg.MinRequests > 0 && counts.Requests >= cfg.MinRequests {
				failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
				if failureRate >= cfg.FailureRatio {
					return true
				}
			}

			return false
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	}
}

// DefaultConfig returns sensible defaults for circuit breaker configuration.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		ChainRPC: BreakerConfig{
			MaxRequests:         5,
			Interval:            60 * time.Second,
			Timeout:             30 * time.Second,
			ConsecutiveFailures: 5,
			FailureRatio:        0.6,
			MinRequests:         10,
		},
		Directory: BreakerConfig{
			MaxRequests:         5,
			Interval:            60 * time.Second,
			Timeout:             30 * time.Second,
			ConsecutiveFailures: 5,
			FailureRatio:        0.6,
			MinRequests:         10,
		},
	}
}
