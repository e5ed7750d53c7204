package creditscheme

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fluxa-protocol/x402-gateway/pkg/x402v2"
	"github.com/fluxa-protocol/x402-gateway/pkg/x402v2/httpsig"
)

func baseRequirements() x402v2.PaymentRequirements {
	return x402v2.PaymentRequirements{
		Scheme:            SchemeName,
		Network:           "fluxa:monetize",
		Amount:            "25",
		Asset:             AssetSymbol,
		PayTo:             "fluxa:facilitator:us-east-1",
		MaxTimeoutSeconds: 60,
		Extra:             map[string]interface{}{"id": "abc123"},
	}
}

func signPayload(t *testing.T, requirements x402v2.PaymentRequirements, components []string, resourceURL string) (x402v2.PaymentPayload, ed25519.PublicKey, *httptest.Server) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	jwk := httpsig.JWK{Kty: "OKP", Crv: "Ed25519", X: base64.RawURLEncoding.EncodeToString(pub)}
	thumbprint, err := jwk.Thumbprint()
	if err != nil {
		t.Fatalf("thumbprint: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/http-message-signatures-directory+json")
		fmt.Fprintf(w, `{"keys":[{"kty":%q,"crv":%q,"x":%q}]}`, jwk.Kty, jwk.Crv, jwk.X)
	}))

	created := time.Now().Unix()
	expires := created + 30

	componentList := ""
	for i, c := range components {
		if i > 0 {
			componentList += " "
		}
		if c[0] == '@' {
			componentList += c
		} else {
			componentList += `"` + c + `"`
		}
	}
	sigInputHeader := fmt.Sprintf(`sig1=(%s);created=%d;expires=%d;keyid="%s";tag="web-bot-auth"`, componentList, created, expires, thumbprint)
	paymentSignatureHeader := "payload-bytes"
	signatureAgentHeader := `"` + server.URL + `"`

	parsedInput, err := httpsig.ParseSignatureInput(sigInputHeader)
	if err != nil {
		t.Fatalf("parsing signature-input: %v", err)
	}
	authority, err := httpsig.Authority(resourceURL)
	if err != nil {
		t.Fatalf("authority: %v", err)
	}
	base := httpsig.BuildSignatureBase(paymentSignatureHeader, signatureAgentHeader, authority, parsedInput.RawParamsBlock)
	sig := ed25519.Sign(priv, base)
	sigHeader := fmt.Sprintf("sig1=:%s:", base64.StdEncoding.EncodeToString(sig))

	payload := x402v2.PaymentPayload{
		X402Version: x402v2.Version,
		Resource:    x402v2.Resource{URL: resourceURL},
		Accepted:    requirements,
		Payload:     map[string]interface{}{},
		Extensions: map[string]interface{}{
			"web-bot-auth": map[string]interface{}{
				"signatureAgent":         signatureAgentHeader,
				"signatureInput":         sigInputHeader,
				"signature":              sigHeader,
				"paymentSignatureHeader": paymentSignatureHeader,
			},
		},
	}

	return payload, pub, server
}

func newFacilitator() *Facilitator {
	fetcher := httpsig.NewDirectoryFetcher(60*time.Second, 64*1024, 10*time.Second)
	fetcher.AllowLoopback = true
	verifier := httpsig.NewVerifier(fetcher)
	return NewFacilitator("fluxa:monetize", verifier, NewMemoryLedger(), zerolog.Nop())
}

func TestVerifyHappyPath(t *testing.T) {
	requirements := baseRequirements()
	payload, _, server := signPayload(t, requirements, []string{"payment-signature", "signature-agent", "@authority"}, "https://resource.example/item")
	defer server.Close()

	f := newFacilitator()
	resp, err := f.Verify(payload, requirements)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !resp.IsValid {
		t.Fatalf("expected valid verification, got invalidReason=%s", resp.InvalidReason)
	}
	if resp.Payer == "" {
		t.Fatal("expected non-empty payer thumbprint")
	}
}

func TestVerifyMissingComponent(t *testing.T) {
	requirements := baseRequirements()
	payload, _, server := signPayload(t, requirements, []string{"signature-agent", "@authority"}, "https://resource.example/item")
	defer server.Close()

	f := newFacilitator()
	resp, err := f.Verify(payload, requirements)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if resp.IsValid {
		t.Fatal("expected invalid verification for missing payment-signature component")
	}
	if resp.InvalidReason != "missing_component_payment-signature" {
		t.Fatalf("unexpected invalidReason: %s", resp.InvalidReason)
	}
}

func TestSettleIsIdempotent(t *testing.T) {
	requirements := baseRequirements()
	f := newFacilitator()

	first, err := f.Settle(x402v2.PaymentPayload{}, requirements)
	if err != nil {
		t.Fatalf("Settle returned error: %v", err)
	}
	second, err := f.Settle(x402v2.PaymentPayload{}, requirements)
	if err != nil {
		t.Fatalf("Settle returned error: %v", err)
	}

	if first.Transaction != second.Transaction {
		t.Fatalf("expected idempotent settle, got %s then %s", first.Transaction, second.Transaction)
	}
	if first.Transaction != "credit-ledger:abc123" {
		t.Fatalf("unexpected transaction id: %s", first.Transaction)
	}
}

func TestParsePriceRejectsWrongAsset(t *testing.T) {
	s := NewServer()
	if _, err := s.ParsePrice("10", "USDC"); err == nil {
		t.Fatal("expected error for non-FLUXA_CREDIT asset")
	}
}

func TestParsePriceTruncatesTowardZero(t *testing.T) {
	s := NewServer()

	cases := []struct {
		price   interface{}
		want    string
		wantErr bool
	}{
		{"25", "25", false},
		{"5.99", "5", false},
		{"0.5", "0", false},
		{"5.", "5", false},
		{float64(7.9), "7", false},
		{int(12), "12", false},
		{int64(13), "13", false},
		{"-5.99", "", true},
		{"-1", "", true},
		{"5.9x", "", true},
		{"abc", "", true},
		{float64(-0.5), "", true},
		{true, "", true},
	}

	for _, tc := range cases {
		got, err := s.ParsePrice(tc.price, AssetSymbol)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParsePrice(%v): expected error, got %q", tc.price, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePrice(%v): %v", tc.price, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParsePrice(%v) = %q, want %q", tc.price, got, tc.want)
		}
	}
}

func TestEnhanceRequirementsInjectsID(t *testing.T) {
	s := NewServer()
	requirements := x402v2.PaymentRequirements{Scheme: SchemeName, Network: "fluxa:monetize"}

	enhanced, err := s.EnhanceRequirements(requirements)
	if err != nil {
		t.Fatalf("EnhanceRequirements returned error: %v", err)
	}
	if _, ok := enhanced.Extra["id"].(string); !ok {
		t.Fatal("expected extra.id to be injected")
	}
}
