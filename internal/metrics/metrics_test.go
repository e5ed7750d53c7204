package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsInitialization(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	if m == nil {
		t.Fatal("metrics collector should not be nil")
	}
	if m.VerifyTotal == nil {
		t.Error("VerifyTotal should be initialized")
	}
	if m.VerifyDuration == nil {
		t.Error("VerifyDuration should be initialized")
	}
	if m.SettleTotal == nil {
		t.Error("SettleTotal should be initialized")
	}
	if m.SettleDuration == nil {
		t.Error("SettleDuration should be initialized")
	}
	if m.SettlementTxTotal == nil {
		t.Error("SettlementTxTotal should be initialized")
	}
	if m.PendingSessions == nil {
		t.Error("PendingSessions should be initialized")
	}
	if m.ChainRPCCallsTotal == nil {
		t.Error("ChainRPCCallsTotal should be initialized")
	}
	if m.ChainRPCDuration == nil {
		t.Error("ChainRPCDuration should be initialized")
	}
	if m.ChainRPCErrorsTotal == nil {
		t.Error("ChainRPCErrorsTotal should be initialized")
	}
}

func TestObserveVerify(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveVerify("fluxacredit", "fluxacredit:v1", "verified", 10*time.Millisecond)

	count := promtest.ToFloat64(m.VerifyTotal.WithLabelValues("fluxacredit", "fluxacredit:v1", "verified"))
	if count != 1 {
		t.Errorf("expected 1 verify call, got %.0f", count)
	}
}

func TestObserveSettle(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveSettle("odp-deferred", "eip155:8453", "settled", 50*time.Millisecond)

	count := promtest.ToFloat64(m.SettleTotal.WithLabelValues("odp-deferred", "eip155:8453", "settled"))
	if count != 1 {
		t.Errorf("expected 1 settle call, got %.0f", count)
	}
}

func TestObserveSettlementTx(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveSettlementTx("onchain", "success")

	count := promtest.ToFloat64(m.SettlementTxTotal.WithLabelValues("onchain", "success"))
	if count != 1 {
		t.Errorf("expected 1 settlement tx, got %.0f", count)
	}
}

func TestObserveSessionSpendAndReceiptsSettled(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveSessionSpend("eip155:8453", 1500)
	spend := promtest.ToFloat64(m.SessionSpendTotal.WithLabelValues("eip155:8453"))
	if spend != 1500 {
		t.Errorf("expected session spend 1500, got %.0f", spend)
	}

	m.ObserveReceiptsSettled("eip155:8453", 4)
	receipts := promtest.ToFloat64(m.ReceiptsSettledTotal.WithLabelValues("eip155:8453"))
	if receipts != 4 {
		t.Errorf("expected 4 receipts settled, got %.0f", receipts)
	}
}

func TestSetPendingSessions(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.SetPendingSessions(7)

	if v := promtest.ToFloat64(m.PendingSessions); v != 7 {
		t.Errorf("expected 7 pending sessions, got %.0f", v)
	}
}

func TestObserveChainRPCCall(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		network    string
		duration   time.Duration
		err        error
		wantCalls  float64
		wantErrors float64
		errorType  string
	}{
		{
			name:      "successful call",
			method:    "balanceOf",
			network:   "eip155:8453",
			duration:  100 * time.Millisecond,
			err:       nil,
			wantCalls: 1,
		},
		{
			name:       "connection error",
			method:     "balanceOf",
			network:    "eip155:8453",
			duration:   100 * time.Millisecond,
			err:        &testError{msg: "connection reset"},
			wantCalls:  1,
			wantErrors: 1,
			errorType:  "connection",
		},
		{
			name:       "timeout error",
			method:     "settleSession",
			network:    "eip155:8453",
			duration:   100 * time.Millisecond,
			err:        &testError{msg: "context deadline exceeded"},
			wantCalls:  1,
			wantErrors: 1,
			errorType:  "timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := prometheus.NewRegistry()
			m := New(registry)

			m.ObserveChainRPCCall(tt.method, tt.network, tt.duration, tt.err)

			calls := promtest.ToFloat64(m.ChainRPCCallsTotal.WithLabelValues(tt.method, tt.network))
			if calls != tt.wantCalls {
				t.Errorf("expected %.0f calls, got %.0f", tt.wantCalls, calls)
			}

			if tt.err != nil {
				errors := promtest.ToFloat64(m.ChainRPCErrorsTotal.WithLabelValues(tt.method, tt.network, tt.errorType))
				if errors != tt.wantErrors {
					t.Errorf("expected %.0f errors of type %q, got %.0f", tt.wantErrors, tt.errorType, errors)
				}
			}
		})
	}
}

func TestObserveDirectoryFetch(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveDirectoryFetch(true, 0)
	if hits := promtest.ToFloat64(m.DirectoryCacheHitsTotal); hits != 1 {
		t.Errorf("expected 1 cache hit, got %.0f", hits)
	}

	m.ObserveDirectoryFetch(false, 20*time.Millisecond)
	if misses := promtest.ToFloat64(m.DirectoryCacheMissesTotal); misses != 1 {
		t.Errorf("expected 1 cache miss, got %.0f", misses)
	}
}

func TestObserveRateLimit(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveRateLimit("per_payer", "0xabc123")

	hits := promtest.ToFloat64(m.RateLimitHitsTotal.WithLabelValues("per_payer", "0xabc123"))
	if hits != 1 {
		t.Errorf("expected 1 rate limit hit, got %.0f", hits)
	}
}

func TestObserveDBQuery(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveDBQuery("select", "postgres", 5*time.Millisecond)

	if m.DBQueryDuration == nil {
		t.Error("DBQueryDuration should be initialized")
	}
}

type testError struct {
	msg string
}

func (e *testError) Error() string {
	return e.msg
}
