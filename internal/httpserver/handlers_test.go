package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/fluxa-protocol/x402-gateway/pkg/x402v2"
	"github.com/fluxa-protocol/x402-gateway/pkg/x402v2/registry"
)

type acceptAllScheme struct{}

func (acceptAllScheme) Verify(x402v2.PaymentPayload, x402v2.PaymentRequirements) (x402v2.VerifyResponse, error) {
	return x402v2.VerifyResponse{IsValid: true, Payer: "0xabc"}, nil
}

func (acceptAllScheme) Settle(x402v2.PaymentPayload, x402v2.PaymentRequirements) (x402v2.SettleResponse, error) {
	return x402v2.SettleResponse{Success: true, Transaction: "0xdeadbeef", Network: "eip155:84532"}, nil
}

func (acceptAllScheme) GetExtra() map[string]interface{} { return nil }
func (acceptAllScheme) GetSigners() []string             { return nil }

func newTestHandlers(t *testing.T) handlers {
	t.Helper()
	reg := registry.New()
	if err := reg.RegisterFacilitatorScheme("odp-deferred", "eip155:*", acceptAllScheme{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	return handlers{registry: reg, logger: zerolog.Nop()}
}

func verifyBody(scheme, network string) string {
	return `{"paymentPayload":{"x402Version":2,"resource":{"url":"https://r.example/x"},"accepted":{"scheme":"` + scheme + `","network":"` + network + `","amount":"1","asset":"0x0000000000000000000000000000000000000001","payTo":"0x0000000000000000000000000000000000000002","maxTimeoutSeconds":60},"payload":{}},"paymentRequirements":{"scheme":"` + scheme + `","network":"` + network + `","amount":"1","asset":"0x0000000000000000000000000000000000000001","payTo":"0x0000000000000000000000000000000000000002","maxTimeoutSeconds":60}}`
}

func TestVerifyEndpointDispatchesToScheme(t *testing.T) {
	h := newTestHandlers(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/verify", strings.NewReader(verifyBody("odp-deferred", "eip155:84532")))
	h.verify(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp x402v2.VerifyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp.IsValid || resp.Payer != "0xabc" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestVerifyEndpointUnsupportedSchemeIs200(t *testing.T) {
	h := newTestHandlers(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/verify", strings.NewReader(verifyBody("fluxacredit", "fluxa:monetize")))
	h.verify(rec, req)

	// Semantic rejection rides in the body, never as an HTTP error.
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp x402v2.VerifyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.IsValid || resp.InvalidReason != string(x402v2.ReasonUnsupportedScheme) {
		t.Fatalf("expected unsupported_scheme, got %+v", resp)
	}
}

func TestVerifyEndpointMalformedJSONIs400(t *testing.T) {
	h := newTestHandlers(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/verify", strings.NewReader(`{"paymentPayload":`))
	h.verify(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON, got %d", rec.Code)
	}
}

func TestSettleEndpointDispatchesToScheme(t *testing.T) {
	h := newTestHandlers(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/settle", strings.NewReader(verifyBody("odp-deferred", "eip155:84532")))
	h.settle(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp x402v2.SettleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp.Success || resp.Transaction != "0xdeadbeef" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestSupportedEndpointListsKinds(t *testing.T) {
	h := newTestHandlers(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/supported", nil)
	h.supported(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Kinds []x402v2.SupportedKind `json:"kinds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(body.Kinds) != 1 || body.Kinds[0].Scheme != "odp-deferred" || body.Kinds[0].Network != "eip155:*" {
		t.Fatalf("unexpected kinds: %+v", body.Kinds)
	}
}
