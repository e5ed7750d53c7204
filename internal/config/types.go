package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds facilitator-level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Credit         CreditConfig         `yaml:"credit"`
	ODP            ODPConfig            `yaml:"odp"`
	SessionStore   SessionStoreConfig   `yaml:"session_store"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration for the facilitator's own endpoints
// (POST /verify, POST /settle, GET /supported, GET /benchmark/metrics).
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout         Duration `yaml:"read_timeout"`
	WriteTimeout        Duration `yaml:"write_timeout"`
	IdleTimeout         Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins  []string `yaml:"cors_allowed_origins"`
	RoutePrefix         string   `yaml:"route_prefix"`
	AdminMetricsAPIKey  string   `yaml:"admin_metrics_api_key"` // protects GET /benchmark/metrics when set
	OutboundCallTimeout Duration `yaml:"outbound_call_timeout"` // chain RPC deadline (the directory fetch uses credit.directory_fetch_timeout); 10s is a sane default
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error
	Format      string `yaml:"format"`      // json, console
	Environment string `yaml:"environment"` // production, staging, development
}

// CreditConfig holds `fluxacredit` exact-credit facilitator configuration.
type CreditConfig struct {
	Network                string   `yaml:"network"`                  // e.g. "fluxa:monetize"
	Asset                  string   `yaml:"asset"`                    // "FLUXA_CREDIT"
	DirectoryCacheTTL       Duration `yaml:"directory_cache_ttl"`       // capped at 60s
	DirectoryMaxBytes       int64    `yaml:"directory_max_bytes"`       // capped at 64KiB
	DirectoryFetchTimeout   Duration `yaml:"directory_fetch_timeout"`   // capped at 10s
	AllowLoopbackSignatureAgent bool `yaml:"allow_loopback_signature_agent"` // test-only http:// loopback exception
	SignatureWindowSkewSeconds  int64 `yaml:"signature_window_skew_seconds"`  // fixed at 60 for the web-bot-auth profile
}

// ODPConfig holds `odp-deferred` facilitator configuration.
type ODPConfig struct {
	SettlementContract        string   `yaml:"settlement_contract"`
	DebitWallet               string   `yaml:"debit_wallet"`
	WithdrawDelaySeconds      int64    `yaml:"withdraw_delay_seconds"`
	SettlementMode            string   `yaml:"settlement_mode"` // "synthetic" or "onchain"
	MaxReceiptsPerSettlement  int      `yaml:"max_receipts_per_settlement"`
	MaxAmountPerReceipt       string   `yaml:"max_amount_per_receipt"` // empty = unconfigured
	AuthorizedProcessors      []string `yaml:"authorized_processors"`  // empty = any
	AutoSettleIntervalSeconds int64    `yaml:"auto_settle_interval_seconds"`
	SyntheticDebitBalance     string   `yaml:"synthetic_debit_balance"` // fixed balanceOf answer in synthetic mode
	ChainID                   int64    `yaml:"chain_id"`
	RPCURL                    string   `yaml:"rpc_url"` // used only when settlement_mode=onchain
	SignerPrivateKey          string   `yaml:"-"`        // loaded from env, never written to disk
}

// SessionStoreConfig selects and configures the ODP session-record backend.
type SessionStoreConfig struct {
	Backend         string       `yaml:"backend"` // "memory", "postgres", or "mongodb"
	PostgresURL     string       `yaml:"postgres_url"`
	PostgresPool    PostgresPool `yaml:"postgres_pool"`
	MongoDBURL      string       `yaml:"mongodb_url"`
	MongoDBDatabase string       `yaml:"mongodb_database"`
}

// PostgresPool holds PostgreSQL connection pool settings.
type PostgresPool struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// RateLimitConfig holds rate limiting configuration for the facilitator's /verify
// and /settle endpoints.
type RateLimitConfig struct {
	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`

	PerPayerEnabled bool     `yaml:"per_payer_enabled"`
	PerPayerLimit   int      `yaml:"per_payer_limit"`
	PerPayerWindow  Duration `yaml:"per_payer_window"`

	PerIPEnabled bool     `yaml:"per_ip_enabled"`
	PerIPLimit   int      `yaml:"per_ip_limit"`
	PerIPWindow  Duration `yaml:"per_ip_window"`
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
type CircuitBreakerConfig struct {
	Enabled   bool                 `yaml:"enabled"`
	ChainRPC  BreakerServiceConfig `yaml:"chain_rpc"`
	Directory BreakerServiceConfig `yaml:"directory"` // web-bot-auth JWKS directory fetch
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
	Timeout             Duration `yaml:"timeout"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
	FailureRatio        float64  `yaml:"failure_ratio"`
	MinRequests         uint32   `yaml:"min_requests"`
}
