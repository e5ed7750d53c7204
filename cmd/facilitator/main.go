package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fluxa-protocol/x402-gateway/internal/circuitbreaker"
	"github.com/fluxa-protocol/x402-gateway/internal/config"
	"github.com/fluxa-protocol/x402-gateway/internal/dbpool"
	"github.com/fluxa-protocol/x402-gateway/internal/httpserver"
	"github.com/fluxa-protocol/x402-gateway/internal/lifecycle"
	"github.com/fluxa-protocol/x402-gateway/internal/logger"
	"github.com/fluxa-protocol/x402-gateway/internal/metrics"
	"github.com/fluxa-protocol/x402-gateway/pkg/x402v2/creditscheme"
	"github.com/fluxa-protocol/x402-gateway/pkg/x402v2/httpsig"
	"github.com/fluxa-protocol/x402-gateway/pkg/x402v2/odp"
	"github.com/fluxa-protocol/x402-gateway/pkg/x402v2/registry"
)

func main() {
	configPath := flag.String("config", "", "path to facilitator YAML config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		fmt.Println("no .env file found, using environment variables as-is")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "x402-facilitator",
		Version:     "2",
		Environment: cfg.Logging.Environment,
	})
	log.Logger = appLogger

	resources := lifecycle.NewManager()

	metricsCollector := metrics.New(prometheus.DefaultRegisterer)
	breakerManager := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker)

	reg := registry.New()

	if err := registerCreditScheme(reg, cfg, breakerManager, metricsCollector, appLogger); err != nil {
		appLogger.Fatal().Err(err).Msg("facilitator.credit_scheme_init_failed")
	}

	odpFacilitator, err := registerODPScheme(reg, cfg, breakerManager, metricsCollector, appLogger, resources)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("facilitator.odp_scheme_init_failed")
	}

	srv := httpserver.New(cfg, reg, metricsCollector, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	if odpFacilitator != nil {
		odpFacilitator.StartScheduler(ctx)
		resources.RegisterFunc("odp_scheduler", func() error {
			odpFacilitator.StopScheduler()
			return nil
		})
	}

	go func() {
		appLogger.Info().Str("address", cfg.Server.Address).Msg("facilitator.listening")
		if err := srv.ListenAndServe(); err != nil && err.Error() != "http: Server closed" {
			appLogger.Error().Err(err).Msg("facilitator.server_error")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info().Msg("facilitator.shutting_down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error().Err(err).Msg("facilitator.shutdown_forced")
	}
	if err := resources.Close(); err != nil {
		appLogger.Error().Err(err).Msg("facilitator.resource_cleanup_failed")
	}

	appLogger.Info().Msg("facilitator.exited")
}

// registerCreditScheme wires the fluxacredit exact-price scheme against the
// configured network, backed by an RFC 9421 directory fetcher/verifier and an
// in-memory settlement ledger.
func registerCreditScheme(reg *registry.Registry, cfg *config.Config, breakerManager *circuitbreaker.Manager, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) error {
	fetcher := httpsig.NewDirectoryFetcher(
		cfg.Credit.DirectoryCacheTTL.Duration,
		cfg.Credit.DirectoryMaxBytes,
		cfg.Credit.DirectoryFetchTimeout.Duration,
	)
	fetcher.AllowLoopback = cfg.Credit.AllowLoopbackSignatureAgent
	fetcher.Breaker = breakerManager
	fetcher.OnFetch = metricsCollector.ObserveDirectoryFetch

	verifier := httpsig.NewVerifier(fetcher)
	ledger := creditscheme.NewMemoryLedger()
	facilitator := creditscheme.NewFacilitator(cfg.Credit.Network, verifier, ledger, appLogger)

	if err := reg.RegisterFacilitatorScheme("fluxacredit", cfg.Credit.Network, facilitator); err != nil {
		return err
	}
	return reg.RegisterServerScheme("fluxacredit", cfg.Credit.Network, creditscheme.NewServer())
}

// registerODPScheme wires the odp-deferred session scheme against the eip155:*
// network family, with a session store and EVM signer chosen by configuration.
func registerODPScheme(reg *registry.Registry, cfg *config.Config, breakerManager *circuitbreaker.Manager, metricsCollector *metrics.Metrics, appLogger zerolog.Logger, resources *lifecycle.Manager) (*odp.Facilitator, error) {
	store, err := newSessionStore(cfg, resources)
	if err != nil {
		return nil, fmt.Errorf("building session store: %w", err)
	}
	backend := cfg.SessionStore.Backend
	if backend == "" {
		backend = "memory"
	}
	store = metrics.InstrumentSessionStore(store, metricsCollector, backend)

	signer, err := newEvmSigner(cfg, breakerManager, metricsCollector)
	if err != nil {
		return nil, fmt.Errorf("building evm signer: %w", err)
	}

	facilitatorCfg := odp.FacilitatorConfig{
		Network:                  "eip155:*",
		SettlementContract:       cfg.ODP.SettlementContract,
		DebitWallet:              cfg.ODP.DebitWallet,
		WithdrawDelaySeconds:     fmt.Sprintf("%d", cfg.ODP.WithdrawDelaySeconds),
		SettlementMode:           odp.SettlementMode(cfg.ODP.SettlementMode),
		AuthorizedProcessors:     cfg.ODP.AuthorizedProcessors,
		MaxReceiptsPerSettlement: cfg.ODP.MaxReceiptsPerSettlement,
		MaxAmountPerReceipt:      cfg.ODP.MaxAmountPerReceipt,
		ChainID:                  big.NewInt(cfg.ODP.ChainID),
		CallTimeout:              cfg.Server.OutboundCallTimeout.Duration,
		AutoSettleInterval:       time.Duration(cfg.ODP.AutoSettleIntervalSeconds) * time.Second,
	}

	facilitator := odp.NewFacilitator(facilitatorCfg, store, signer, appLogger)

	facilitator.OnReceiptVerified = func(network string, amount *big.Int) {
		spend, _ := new(big.Float).SetInt(amount).Float64()
		metricsCollector.ObserveSessionSpend(network, spend)
	}
	facilitator.OnSettlement = func(mode string, success bool, receipts int) {
		outcome := "failure"
		if success {
			outcome = "success"
			metricsCollector.ObserveReceiptsSettled(facilitatorCfg.Network, receipts)
		}
		metricsCollector.ObserveSettlementTx(mode, outcome)
	}
	facilitator.OnPendingSessions = metricsCollector.SetPendingSessions

	if err := reg.RegisterFacilitatorScheme("odp-deferred", "eip155:*", facilitator); err != nil {
		return nil, err
	}
	return facilitator, nil
}

func newSessionStore(cfg *config.Config, resources *lifecycle.Manager) (odp.SessionStore, error) {
	switch cfg.SessionStore.Backend {
	case "postgres":
		pool, err := dbpool.NewSharedPool(cfg.SessionStore.PostgresURL, cfg.SessionStore.PostgresPool)
		if err != nil {
			return nil, err
		}
		store, err := odp.NewPostgresStoreWithDB(pool.DB())
		if err != nil {
			pool.Close()
			return nil, err
		}
		resources.RegisterFunc("odp_postgres_pool", pool.Close)
		return store, nil
	case "mongodb":
		store, err := odp.NewMongoStore(cfg.SessionStore.MongoDBURL, cfg.SessionStore.MongoDBDatabase)
		if err != nil {
			return nil, err
		}
		resources.RegisterFunc("odp_mongo_store", store.Close)
		return store, nil
	case "memory", "":
		return odp.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown session store backend %q", cfg.SessionStore.Backend)
	}
}

func newEvmSigner(cfg *config.Config, breakerManager *circuitbreaker.Manager, metricsCollector *metrics.Metrics) (odp.FacilitatorEvmSigner, error) {
	if cfg.ODP.SettlementMode != "onchain" {
		balance, ok := new(big.Int).SetString(cfg.ODP.SyntheticDebitBalance, 10)
		if !ok {
			return nil, fmt.Errorf("invalid synthetic_debit_balance %q", cfg.ODP.SyntheticDebitBalance)
		}
		delay := big.NewInt(cfg.ODP.WithdrawDelaySeconds)
		return odp.NewSyntheticSigner(cfg.ODP.DebitWallet, balance, delay), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	signer, err := odp.NewOnchainSigner(ctx, cfg.ODP.RPCURL, cfg.ODP.SignerPrivateKey, breakerManager)
	if err != nil {
		return nil, err
	}
	network := fmt.Sprintf("eip155:%d", cfg.ODP.ChainID)
	signer.OnCall = func(method string, duration time.Duration, callErr error) {
		metricsCollector.ObserveChainRPCCall(method, network, duration, callErr)
	}
	return signer, nil
}
