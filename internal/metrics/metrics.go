package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics exposed by the facilitator at GET /benchmark/metrics.
type Metrics struct {
	VerifyTotal      *prometheus.CounterVec
	VerifyDuration   *prometheus.HistogramVec
	SettleTotal      *prometheus.CounterVec
	SettleDuration   *prometheus.HistogramVec
	SettlementTxTotal *prometheus.CounterVec

	PendingSessions     prometheus.Gauge
	SessionSpendTotal   *prometheus.CounterVec
	ReceiptsSettledTotal *prometheus.CounterVec

	ChainRPCCallsTotal   *prometheus.CounterVec
	ChainRPCDuration     *prometheus.HistogramVec
	ChainRPCErrorsTotal  *prometheus.CounterVec

	DirectoryCacheHitsTotal   prometheus.Counter
	DirectoryCacheMissesTotal prometheus.Counter
	DirectoryFetchDuration    prometheus.Histogram

	RateLimitHitsTotal *prometheus.CounterVec

	DBQueryDuration *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics against registry.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		VerifyTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402gw_verify_total",
				Help: "Total number of POST /verify calls by scheme, network and outcome",
			},
			[]string{"scheme", "network", "outcome"},
		),
		VerifyDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "x402gw_verify_duration_seconds",
				Help:    "Time taken to verify a payment payload",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"scheme", "network"},
		),
		SettleTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402gw_settle_total",
				Help: "Total number of POST /settle calls by scheme, network and outcome",
			},
			[]string{"scheme", "network", "outcome"},
		),
		SettleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "x402gw_settle_duration_seconds",
				Help:    "Time taken to settle a payment",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"scheme", "network"},
		),
		SettlementTxTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402gw_settlement_transactions_total",
				Help: "Total number of settlement transactions submitted, by settlement mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		PendingSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "x402gw_odp_pending_sessions",
				Help: "Number of odp-deferred sessions with unsettled receipts",
			},
		),
		SessionSpendTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402gw_odp_session_spend_total",
				Help: "Cumulative spend recorded against odp-deferred sessions, by network",
			},
			[]string{"network"},
		),
		ReceiptsSettledTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402gw_odp_receipts_settled_total",
				Help: "Total number of odp-deferred receipts settled, by network",
			},
			[]string{"network"},
		),
		ChainRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402gw_chain_rpc_calls_total",
				Help: "Total number of calls to the EVM chain adaptor",
			},
			[]string{"method", "network"},
		),
		ChainRPCDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "x402gw_chain_rpc_duration_seconds",
				Help:    "Duration of calls to the EVM chain adaptor",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "network"},
		),
		ChainRPCErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402gw_chain_rpc_errors_total",
				Help: "Total number of chain adaptor errors, by error category",
			},
			[]string{"method", "network", "error_type"},
		),
		DirectoryCacheHitsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "x402gw_directory_cache_hits_total",
				Help: "Total number of Web Bot Auth JWKS directory cache hits",
			},
		),
		DirectoryCacheMissesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "x402gw_directory_cache_misses_total",
				Help: "Total number of Web Bot Auth JWKS directory cache misses requiring a fetch",
			},
		),
		DirectoryFetchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "x402gw_directory_fetch_duration_seconds",
				Help:    "Duration of Web Bot Auth JWKS directory fetches",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		),
		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402gw_rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
			[]string{"limit_type", "identifier"},
		),
		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "x402gw_db_query_duration_seconds",
				Help:    "Session store query duration, by operation and backend",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation", "backend"},
		),
	}
}

// ObserveVerify records the outcome of a POST /verify call.
func (m *Metrics) ObserveVerify(scheme, network, outcome string, duration time.Duration) {
	m.VerifyTotal.WithLabelValues(scheme, network, outcome).Inc()
	m.VerifyDuration.WithLabelValues(scheme, network).Observe(duration.Seconds())
}

// ObserveSettle records the outcome of a POST /settle call.
func (m *Metrics) ObserveSettle(scheme, network, outcome string, duration time.Duration) {
	m.SettleTotal.WithLabelValues(scheme, network, outcome).Inc()
	m.SettleDuration.WithLabelValues(scheme, network).Observe(duration.Seconds())
}

// ObserveSettlementTx records a settlement transaction submission (synthetic or onchain).
func (m *Metrics) ObserveSettlementTx(mode, outcome string) {
	m.SettlementTxTotal.WithLabelValues(mode, outcome).Inc()
}

// ObserveSessionSpend records debit against an odp-deferred session.
func (m *Metrics) ObserveSessionSpend(network string, amount float64) {
	m.SessionSpendTotal.WithLabelValues(network).Add(amount)
}

// ObserveReceiptsSettled records receipts settled in a single batch.
func (m *Metrics) ObserveReceiptsSettled(network string, count int) {
	m.ReceiptsSettledTotal.WithLabelValues(network).Add(float64(count))
}

// SetPendingSessions updates the gauge of sessions with unsettled receipts.
func (m *Metrics) SetPendingSessions(n int) {
	m.PendingSessions.Set(float64(n))
}

// ObserveChainRPCCall records a call made through the EVM chain adaptor.
func (m *Metrics) ObserveChainRPCCall(method, network string, duration time.Duration, err error) {
	m.ChainRPCCallsTotal.WithLabelValues(method, network).Inc()
	m.ChainRPCDuration.WithLabelValues(method, network).Observe(duration.Seconds())

	if err != nil {
		errorType := "other"
		errStr := strings.ToLower(err.Error())
		switch {
		case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
			errorType = "timeout"
		case strings.Contains(errStr, "connection"):
			errorType = "connection"
		case strings.Contains(errStr, "not found"):
			errorType = "not_found"
		case strings.Contains(errStr, "circuit breaker"):
			errorType = "circuit_open"
		}
		m.ChainRPCErrorsTotal.WithLabelValues(method, network, errorType).Inc()
	}
}

// ObserveDirectoryFetch records a Web Bot Auth directory fetch and whether it was
// served from cache.
func (m *Metrics) ObserveDirectoryFetch(cacheHit bool, duration time.Duration) {
	if cacheHit {
		m.DirectoryCacheHitsTotal.Inc()
		return
	}
	m.DirectoryCacheMissesTotal.Inc()
	m.DirectoryFetchDuration.Observe(duration.Seconds())
}

// ObserveRateLimit records a rate limit hit.
func (m *Metrics) ObserveRateLimit(limitType, identifier string) {
	m.RateLimitHitsTotal.WithLabelValues(limitType, identifier).Inc()
}

// ObserveDBQuery records a session store query.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}
