package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from the YAML file at path, applies environment variable
// overrides, fills in defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := parseFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := finalize(cfg); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:             ":8402",
			ReadTimeout:         Duration{5e9},
			WriteTimeout:        Duration{10e9},
			IdleTimeout:         Duration{60e9},
			RoutePrefix:         "",
			OutboundCallTimeout: Duration{10e9},
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Environment: "production",
		},
		Credit: CreditConfig{
			Network:                     "fluxa:monetize",
			Asset:                       "FLUXA_CREDIT",
			DirectoryCacheTTL:           Duration{60e9},
			DirectoryMaxBytes:           64 * 1024,
			DirectoryFetchTimeout:       Duration{10e9},
			AllowLoopbackSignatureAgent: false,
			SignatureWindowSkewSeconds:  60,
		},
		ODP: ODPConfig{
			WithdrawDelaySeconds:      86400,
			SettlementMode:            "synthetic",
			MaxReceiptsPerSettlement:  200,
			AutoSettleIntervalSeconds: 300,
			SyntheticDebitBalance:     "1000000000000",
			ChainID:                   1,
		},
		SessionStore: SessionStoreConfig{
			Backend: "memory",
			PostgresPool: PostgresPool{
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: Duration{30 * 60e9},
			},
			MongoDBDatabase: "x402_gateway",
		},
		RateLimit: RateLimitConfig{
			GlobalEnabled:   true,
			GlobalLimit:     2000,
			GlobalWindow:    Duration{60e9},
			PerPayerEnabled: true,
			PerPayerLimit:   120,
			PerPayerWindow:  Duration{60e9},
			PerIPEnabled:    true,
			PerIPLimit:      300,
			PerIPWindow:     Duration{60e9},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			ChainRPC: BreakerServiceConfig{
				MaxRequests:         5,
				Interval:            Duration{60e9},
				Timeout:             Duration{30e9},
				ConsecutiveFailures: 5,
				FailureRatio:        0.6,
				MinRequests:         10,
			},
			Directory: BreakerServiceConfig{
				MaxRequests:         5,
				Interval:            Duration{60e9},
				Timeout:             Duration{30e9},
				ConsecutiveFailures: 5,
				FailureRatio:        0.6,
				MinRequests:         10,
			},
		},
	}
}
