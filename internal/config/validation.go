package config

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var hexAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
var decimalStringRe = regexp.MustCompile(`^(0|[1-9][0-9]*)$`)

// finalize fills in derived values that depend on more than one config section.
func finalize(cfg *Config) error {
	cfg.Server.RoutePrefix = normalizeRoutePrefix(cfg.Server.RoutePrefix)

	if cfg.Credit.DirectoryCacheTTL.Duration > 60*time.Second {
		cfg.Credit.DirectoryCacheTTL.Duration = 60 * time.Second
	}
	if cfg.Credit.DirectoryMaxBytes > 64*1024 {
		cfg.Credit.DirectoryMaxBytes = 64 * 1024
	}
	if cfg.Credit.DirectoryFetchTimeout.Duration > 10*time.Second {
		cfg.Credit.DirectoryFetchTimeout.Duration = 10 * time.Second
	}

	return nil
}

// validate checks that the assembled configuration is internally consistent before
// the facilitator starts serving traffic.
func validate(cfg *Config) error {
	if cfg.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}

	switch cfg.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", cfg.Logging.Format)
	}

	switch cfg.SessionStore.Backend {
	case "memory":
	case "postgres":
		if cfg.SessionStore.PostgresURL == "" {
			return fmt.Errorf("session_store.postgres_url is required when session_store.backend is postgres")
		}
	case "mongodb":
		if cfg.SessionStore.MongoDBURL == "" {
			return fmt.Errorf("session_store.mongodb_url is required when session_store.backend is mongodb")
		}
	default:
		return fmt.Errorf("session_store.backend must be one of memory, postgres, mongodb, got %q", cfg.SessionStore.Backend)
	}

	switch cfg.ODP.SettlementMode {
	case "synthetic":
		if !decimalStringRe.MatchString(cfg.ODP.SyntheticDebitBalance) {
			return fmt.Errorf("odp.synthetic_debit_balance must be a non-negative decimal string")
		}
	case "onchain":
		if cfg.ODP.SettlementContract == "" {
			return fmt.Errorf("odp.settlement_contract is required when odp.settlement_mode is onchain")
		}
		if !hexAddressRe.MatchString(cfg.ODP.SettlementContract) {
			return fmt.Errorf("odp.settlement_contract must be a 20-byte 0x-prefixed hex address")
		}
		if cfg.ODP.RPCURL == "" {
			return fmt.Errorf("odp.rpc_url is required when odp.settlement_mode is onchain")
		}
		if cfg.ODP.SignerPrivateKey == "" {
			return fmt.Errorf("odp.signer_private_key (env X402GW_ODP_SIGNER_PRIVATE_KEY) is required when odp.settlement_mode is onchain")
		}
	default:
		return fmt.Errorf("odp.settlement_mode must be synthetic or onchain, got %q", cfg.ODP.SettlementMode)
	}

	if cfg.ODP.DebitWallet != "" && !hexAddressRe.MatchString(cfg.ODP.DebitWallet) {
		return fmt.Errorf("odp.debit_wallet must be a 20-byte 0x-prefixed hex address")
	}
	for _, p := range cfg.ODP.AuthorizedProcessors {
		if !hexAddressRe.MatchString(p) {
			return fmt.Errorf("odp.authorized_processors entries must be 20-byte 0x-prefixed hex addresses, got %q", p)
		}
	}
	if cfg.ODP.WithdrawDelaySeconds < 0 {
		return fmt.Errorf("odp.withdraw_delay_seconds must not be negative")
	}
	if cfg.ODP.MaxReceiptsPerSettlement <= 0 {
		return fmt.Errorf("odp.max_receipts_per_settlement must be positive")
	}

	return nil
}

// ApplyPostgresPoolSettings applies pool sizing to an already-opened database handle,
// shared by every Postgres-backed store in this module.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPool) {
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime.Duration)
	}
}

func parseDurationString(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}
	return time.ParseDuration(raw + "s")
}
