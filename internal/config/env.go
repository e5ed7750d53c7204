package config

import (
	"os"
	"strconv"
	"strings"
)

const envPrefix = "X402GW_"

func applyEnvOverrides(cfg *Config) {
	setIfEnv(&cfg.Server.Address, envPrefix+"SERVER_ADDRESS")
	setIfEnv(&cfg.Server.RoutePrefix, envPrefix+"SERVER_ROUTE_PREFIX")
	cfg.Server.RoutePrefix = normalizeRoutePrefix(cfg.Server.RoutePrefix)
	setIfEnv(&cfg.Server.AdminMetricsAPIKey, envPrefix+"SERVER_ADMIN_METRICS_API_KEY")
	setDurationIfEnv(&cfg.Server.OutboundCallTimeout, envPrefix+"SERVER_OUTBOUND_CALL_TIMEOUT")
	setStringSliceIfEnv(&cfg.Server.CORSAllowedOrigins, envPrefix+"SERVER_CORS_ALLOWED_ORIGINS")

	setIfEnv(&cfg.Logging.Level, envPrefix+"LOG_LEVEL")
	setIfEnv(&cfg.Logging.Format, envPrefix+"LOG_FORMAT")
	setIfEnv(&cfg.Logging.Environment, envPrefix+"LOG_ENVIRONMENT")

	setIfEnv(&cfg.Credit.Network, envPrefix+"CREDIT_NETWORK")
	setIfEnv(&cfg.Credit.Asset, envPrefix+"CREDIT_ASSET")
	setDurationIfEnv(&cfg.Credit.DirectoryCacheTTL, envPrefix+"CREDIT_DIRECTORY_CACHE_TTL")
	setInt64IfEnv(&cfg.Credit.DirectoryMaxBytes, envPrefix+"CREDIT_DIRECTORY_MAX_BYTES")
	setDurationIfEnv(&cfg.Credit.DirectoryFetchTimeout, envPrefix+"CREDIT_DIRECTORY_FETCH_TIMEOUT")
	setBoolIfEnv(&cfg.Credit.AllowLoopbackSignatureAgent, envPrefix+"CREDIT_ALLOW_LOOPBACK_SIGNATURE_AGENT")

	setIfEnv(&cfg.ODP.SettlementContract, envPrefix+"ODP_SETTLEMENT_CONTRACT")
	setIfEnv(&cfg.ODP.DebitWallet, envPrefix+"ODP_DEBIT_WALLET")
	setInt64IfEnv(&cfg.ODP.WithdrawDelaySeconds, envPrefix+"ODP_WITHDRAW_DELAY_SECONDS")
	setIfEnv(&cfg.ODP.SettlementMode, envPrefix+"ODP_SETTLEMENT_MODE")
	setIntIfEnv(&cfg.ODP.MaxReceiptsPerSettlement, envPrefix+"ODP_MAX_RECEIPTS_PER_SETTLEMENT")
	setIfEnv(&cfg.ODP.MaxAmountPerReceipt, envPrefix+"ODP_MAX_AMOUNT_PER_RECEIPT")
	setStringSliceIfEnv(&cfg.ODP.AuthorizedProcessors, envPrefix+"ODP_AUTHORIZED_PROCESSORS")
	setInt64IfEnv(&cfg.ODP.AutoSettleIntervalSeconds, envPrefix+"ODP_AUTO_SETTLE_INTERVAL_SECONDS")
	setIfEnv(&cfg.ODP.SyntheticDebitBalance, envPrefix+"ODP_SYNTHETIC_DEBIT_BALANCE")
	setInt64IfEnv(&cfg.ODP.ChainID, envPrefix+"ODP_CHAIN_ID")
	setIfEnv(&cfg.ODP.RPCURL, envPrefix+"ODP_RPC_URL")
	setIfEnv(&cfg.ODP.SignerPrivateKey, envPrefix+"ODP_SIGNER_PRIVATE_KEY")

	setIfEnv(&cfg.SessionStore.Backend, envPrefix+"SESSION_STORE_BACKEND")
	setIfEnv(&cfg.SessionStore.PostgresURL, envPrefix+"SESSION_STORE_POSTGRES_URL")
	setIntIfEnv(&cfg.SessionStore.PostgresPool.MaxOpenConns, envPrefix+"SESSION_STORE_POSTGRES_MAX_OPEN_CONNS")
	setIntIfEnv(&cfg.SessionStore.PostgresPool.MaxIdleConns, envPrefix+"SESSION_STORE_POSTGRES_MAX_IDLE_CONNS")
	setDurationIfEnv(&cfg.SessionStore.PostgresPool.ConnMaxLifetime, envPrefix+"SESSION_STORE_POSTGRES_CONN_MAX_LIFETIME")
	setIfEnv(&cfg.SessionStore.MongoDBURL, envPrefix+"SESSION_STORE_MONGODB_URL")
	setIfEnv(&cfg.SessionStore.MongoDBDatabase, envPrefix+"SESSION_STORE_MONGODB_DATABASE")

	setBoolIfEnv(&cfg.RateLimit.GlobalEnabled, envPrefix+"RATE_LIMIT_GLOBAL_ENABLED")
	setIntIfEnv(&cfg.RateLimit.GlobalLimit, envPrefix+"RATE_LIMIT_GLOBAL_LIMIT")
	setDurationIfEnv(&cfg.RateLimit.GlobalWindow, envPrefix+"RATE_LIMIT_GLOBAL_WINDOW")
	setBoolIfEnv(&cfg.RateLimit.PerPayerEnabled, envPrefix+"RATE_LIMIT_PER_PAYER_ENABLED")
	setIntIfEnv(&cfg.RateLimit.PerPayerLimit, envPrefix+"RATE_LIMIT_PER_PAYER_LIMIT")
	setDurationIfEnv(&cfg.RateLimit.PerPayerWindow, envPrefix+"RATE_LIMIT_PER_PAYER_WINDOW")
	setBoolIfEnv(&cfg.RateLimit.PerIPEnabled, envPrefix+"RATE_LIMIT_PER_IP_ENABLED")
	setIntIfEnv(&cfg.RateLimit.PerIPLimit, envPrefix+"RATE_LIMIT_PER_IP_LIMIT")
	setDurationIfEnv(&cfg.RateLimit.PerIPWindow, envPrefix+"RATE_LIMIT_PER_IP_WINDOW")

	setBoolIfEnv(&cfg.CircuitBreaker.Enabled, envPrefix+"CIRCUIT_BREAKER_ENABLED")
}

func setIfEnv(target *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*target = v
	}
}

func setBoolIfEnv(target *bool, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return
	}
	*target = parsed
}

func setIntIfEnv(target *int, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*target = parsed
}

func setInt64IfEnv(target *int64, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return
	}
	*target = parsed
}

func setDurationIfEnv(target *Duration, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	parsed, err := parseDurationString(v)
	if err != nil {
		return
	}
	target.Duration = parsed
}

func setStringSliceIfEnv(target *[]string, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	*target = out
}

// normalizeRoutePrefix ensures a configured route prefix has a leading slash and no
// trailing slash, matching the convention chi.Mount expects.
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || prefix == "/" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return strings.TrimSuffix(prefix, "/")
}
