package resourceserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/fluxa-protocol/x402-gateway/internal/metrics"
	"github.com/fluxa-protocol/x402-gateway/pkg/x402v2"
	"github.com/fluxa-protocol/x402-gateway/pkg/x402v2/registry"
)

type stubFacilitator struct {
	verifyResult x402v2.VerifyResponse
	verifyErr    error
	settleResult x402v2.SettleResponse
	settleErr    error
}

func (s stubFacilitator) Verify(x402v2.PaymentPayload, x402v2.PaymentRequirements) (x402v2.VerifyResponse, error) {
	return s.verifyResult, s.verifyErr
}

func (s stubFacilitator) Settle(x402v2.PaymentPayload, x402v2.PaymentRequirements) (x402v2.SettleResponse, error) {
	return s.settleResult, s.settleErr
}

func (s stubFacilitator) GetExtra() map[string]interface{} { return nil }
func (s stubFacilitator) GetSigners() []string              { return nil }

func testOffer() ResourceOffer {
	return ResourceOffer{
		Scheme:            "fluxacredit",
		Network:           "fluxa:monetize",
		Amount:            "100",
		Asset:             "FLUXA_CREDIT",
		PayTo:             "fluxa:facilitator:us-east-1",
		MaxTimeoutSeconds: 60,
	}
}

func newHandlerCalled() (http.Handler, *bool) {
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	return handler, &called
}

func TestMiddlewareIssuesPaymentRequiredWithoutHeader(t *testing.T) {
	reg := registry.New()
	guard := NewGuard(reg, metrics.New(prometheus.NewRegistry()), zerolog.Nop(), x402v2.Resource{URL: "https://api.example.com/resource"}, []ResourceOffer{testOffer()}, true)

	next, called := newHandlerCalled()
	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	rec := httptest.NewRecorder()

	guard.Middleware(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rec.Code)
	}
	if rec.Header().Get("Payment-Required") == "" {
		t.Fatal("expected Payment-Required header")
	}
	if *called {
		t.Fatal("downstream handler must not run without payment")
	}
}

func TestMiddlewareGrantsOnValidPayment(t *testing.T) {
	reg := registry.New()
	offer := testOffer()
	requirements := x402v2.PaymentRequirements{
		Scheme: offer.Scheme, Network: offer.Network, Amount: offer.Amount,
		Asset: offer.Asset, PayTo: offer.PayTo, MaxTimeoutSeconds: offer.MaxTimeoutSeconds,
	}
	if err := reg.RegisterFacilitatorScheme(offer.Scheme, offer.Network, stubFacilitator{
		verifyResult: x402v2.VerifyResponse{IsValid: true, Payer: "agent-1"},
		settleResult: x402v2.SettleResponse{Success: true, Transaction: "credit-ledger:abc"},
	}); err != nil {
		t.Fatalf("register facilitator scheme: %v", err)
	}

	guard := NewGuard(reg, metrics.New(prometheus.NewRegistry()), zerolog.Nop(), x402v2.Resource{URL: "https://api.example.com/resource"}, []ResourceOffer{offer}, true)

	payload := x402v2.PaymentPayload{
		X402Version: x402v2.Version,
		Resource:    x402v2.Resource{URL: "https://api.example.com/resource"},
		Accepted:    requirements,
		Payload:     map[string]interface{}{},
	}
	header, err := x402v2.EncodeHeader(payload)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}

	next, called := newHandlerCalled()
	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	req.Header.Set("Payment-Signature", header)
	rec := httptest.NewRecorder()

	guard.Middleware(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !*called {
		t.Fatal("downstream handler should run once payment is granted")
	}
	if rec.Header().Get("Payment-Response") == "" {
		t.Fatal("expected Payment-Response header")
	}
}

func TestMiddlewareRefusesOversizedPaymentHeader(t *testing.T) {
	reg := registry.New()
	guard := NewGuard(reg, metrics.New(prometheus.NewRegistry()), zerolog.Nop(), x402v2.Resource{URL: "https://api.example.com/resource"}, []ResourceOffer{testOffer()}, true)

	next, called := newHandlerCalled()
	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	req.Header.Set("Payment-Signature", strings.Repeat("A", maxPaymentHeaderBytes+1))
	rec := httptest.NewRecorder()

	guard.Middleware(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestHeaderFieldsTooLarge {
		t.Fatalf("expected 431, got %d", rec.Code)
	}
	if *called {
		t.Fatal("downstream handler must not run for an oversized header")
	}
}

func TestMiddlewareRejectsInvalidVerify(t *testing.T) {
	reg := registry.New()
	offer := testOffer()
	requirements := x402v2.PaymentRequirements{
		Scheme: offer.Scheme, Network: offer.Network, Amount: offer.Amount,
		Asset: offer.Asset, PayTo: offer.PayTo, MaxTimeoutSeconds: offer.MaxTimeoutSeconds,
	}
	if err := reg.RegisterFacilitatorScheme(offer.Scheme, offer.Network, stubFacilitator{
		verifyResult: x402v2.VerifyResponse{IsValid: false, InvalidReason: "signature_verify_failed"},
	}); err != nil {
		t.Fatalf("register facilitator scheme: %v", err)
	}

	guard := NewGuard(reg, metrics.New(prometheus.NewRegistry()), zerolog.Nop(), x402v2.Resource{URL: "https://api.example.com/resource"}, []ResourceOffer{offer}, true)

	payload := x402v2.PaymentPayload{
		X402Version: x402v2.Version,
		Resource:    x402v2.Resource{URL: "https://api.example.com/resource"},
		Accepted:    requirements,
		Payload:     map[string]interface{}{},
	}
	header, err := x402v2.EncodeHeader(payload)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}

	next, called := newHandlerCalled()
	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	req.Header.Set("Payment-Signature", header)
	rec := httptest.NewRecorder()

	guard.Middleware(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rec.Code)
	}
	if *called {
		t.Fatal("downstream handler must not run when verify rejects payment")
	}
}
