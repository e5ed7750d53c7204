package httpsig

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func signatureInputHeader(created, expires int64, keyID string) string {
	return fmt.Sprintf(`sig1=("payment-signature" "signature-agent" "@authority");created=%d;expires=%d;keyid="%s";tag="web-bot-auth"`, created, expires, keyID)
}

func newTestDirectoryServer(t *testing.T, pub ed25519.PublicKey) *httptest.Server {
	t.Helper()
	jwk := JWK{Kty: "OKP", Crv: "Ed25519", X: base64.RawURLEncoding.EncodeToString(pub)}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", directoryContentType)
		fmt.Fprintf(w, `{"keys":[{"kty":%q,"crv":%q,"x":%q}]}`, jwk.Kty, jwk.Crv, jwk.X)
	}))
}

func TestVerifierHappyPath(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	server := newTestDirectoryServer(t, pub)
	defer server.Close()

	jwk := JWK{Kty: "OKP", Crv: "Ed25519", X: base64.RawURLEncoding.EncodeToString(pub)}
	thumbprint, err := jwk.Thumbprint()
	if err != nil {
		t.Fatalf("computing thumbprint: %v", err)
	}

	created := int64(1_000_000)
	expires := created + 30
	sigInputHeader := signatureInputHeader(created, expires, thumbprint)
	paymentSignatureHeader := `eyJhbGciOiJ0ZXN0In0`
	signatureAgentHeader := `"` + server.URL + `"`

	parsedInput, err := ParseSignatureInput(sigInputHeader)
	if err != nil {
		t.Fatalf("parsing signature-input: %v", err)
	}
	authority, err := Authority("https://resource.example/path")
	if err != nil {
		t.Fatalf("authority: %v", err)
	}
	base := BuildSignatureBase(paymentSignatureHeader, signatureAgentHeader, authority, parsedInput.RawParamsBlock)
	sig := ed25519.Sign(priv, base)
	sigHeader := fmt.Sprintf("sig1=:%s:", base64.StdEncoding.EncodeToString(sig))

	fetcher := NewDirectoryFetcher(60*time.Second, 64*1024, 10*time.Second)
	fetcher.AllowLoopback = true
	v := NewVerifier(fetcher)
	v.Now = func() time.Time { return time.Unix(created+10, 0) }

	result, err := v.Verify(context.Background(), VerifyInput{
		PaymentSignatureHeader: paymentSignatureHeader,
		SignatureAgentHeader:   signatureAgentHeader,
		SignatureInputHeader:   sigInputHeader,
		SignatureHeader:        sigHeader,
		Method:                 "GET",
		ResourceURL:            "https://resource.example/path",
	})
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if result.KeyThumbprint != thumbprint {
		t.Fatalf("expected thumbprint %s, got %s", thumbprint, result.KeyThumbprint)
	}
}

func TestVerifierMissingComponent(t *testing.T) {
	fetcher := NewDirectoryFetcher(60*time.Second, 64*1024, 10*time.Second)
	v := NewVerifier(fetcher)

	created := int64(1_000_000)
	sigInputHeader := fmt.Sprintf(`sig1=("signature-agent" "@authority");created=%d;expires=%d;keyid="x";tag="web-bot-auth"`, created, created+30)

	_, err := v.Verify(context.Background(), VerifyInput{
		PaymentSignatureHeader: "abc",
		SignatureAgentHeader:   `"https://example.com"`,
		SignatureInputHeader:   sigInputHeader,
		SignatureHeader:        "sig1=:aGVsbG8=:",
		Method:                 "GET",
		ResourceURL:            "https://resource.example/path",
	})
	if err == nil {
		t.Fatal("expected missing payment-signature component to fail verification")
	}
	reasonErr, ok := err.(ReasonError)
	if !ok {
		t.Fatalf("expected ReasonError, got %T", err)
	}
	if reasonErr.Reason != "missing_component_payment-signature" {
		t.Fatalf("unexpected reason: %s", reasonErr.Reason)
	}
}

func TestVerifierWindowSkewEdges(t *testing.T) {
	created := int64(1_000_000)
	expires := created + 30

	cases := []struct {
		name string
		now  int64
		ok   bool
	}{
		{"created minus exactly 60", created - 60, true},
		{"created minus 61", created - 61, false},
		{"expires plus exactly 60", expires + 60, true},
		{"expires plus 61", expires + 61, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pub, priv, err := ed25519.GenerateKey(nil)
			if err != nil {
				t.Fatalf("generating key: %v", err)
			}
			server := newTestDirectoryServer(t, pub)
			defer server.Close()

			jwk := JWK{Kty: "OKP", Crv: "Ed25519", X: base64.RawURLEncoding.EncodeToString(pub)}
			thumbprint, err := jwk.Thumbprint()
			if err != nil {
				t.Fatalf("thumbprint: %v", err)
			}

			sigInputHeader := signatureInputHeader(created, expires, thumbprint)
			paymentSignatureHeader := `eyJhbGciOiJ0ZXN0In0`
			signatureAgentHeader := `"` + server.URL + `"`

			parsedInput, err := ParseSignatureInput(sigInputHeader)
			if err != nil {
				t.Fatalf("parsing signature-input: %v", err)
			}
			authority, err := Authority("https://resource.example/path")
			if err != nil {
				t.Fatalf("authority: %v", err)
			}
			base := BuildSignatureBase(paymentSignatureHeader, signatureAgentHeader, authority, parsedInput.RawParamsBlock)
			sig := ed25519.Sign(priv, base)

			fetcher := NewDirectoryFetcher(60*time.Second, 64*1024, 10*time.Second)
			fetcher.AllowLoopback = true
			v := NewVerifier(fetcher)
			v.Now = func() time.Time { return time.Unix(tc.now, 0) }

			_, err = v.Verify(context.Background(), VerifyInput{
				PaymentSignatureHeader: paymentSignatureHeader,
				SignatureAgentHeader:   signatureAgentHeader,
				SignatureInputHeader:   sigInputHeader,
				SignatureHeader:        fmt.Sprintf("sig1=:%s:", base64.StdEncoding.EncodeToString(sig)),
				Method:                 "GET",
				ResourceURL:            "https://resource.example/path",
			})
			if tc.ok && err != nil {
				t.Fatalf("expected acceptance at the window edge, got %v", err)
			}
			if !tc.ok {
				reasonErr, isReason := err.(ReasonError)
				if !isReason || reasonErr.Reason != "expired_or_not_yet_valid" {
					t.Fatalf("expected expired_or_not_yet_valid, got %v", err)
				}
			}
		})
	}
}

func TestVerifierWindowTooLong(t *testing.T) {
	fetcher := NewDirectoryFetcher(60*time.Second, 64*1024, 10*time.Second)
	v := NewVerifier(fetcher)

	created := int64(1_000_000)
	sigInputHeader := signatureInputHeader(created, created+61, "x")

	_, err := v.Verify(context.Background(), VerifyInput{
		PaymentSignatureHeader: "abc",
		SignatureAgentHeader:   `"https://example.com"`,
		SignatureInputHeader:   sigInputHeader,
		SignatureHeader:        "sig1=:aGVsbG8=:",
		Method:                 "GET",
		ResourceURL:            "https://resource.example/path",
	})
	if err == nil {
		t.Fatal("expected window_too_long rejection")
	}
	reasonErr, ok := err.(ReasonError)
	if !ok || reasonErr.Reason != "window_too_long" {
		t.Fatalf("expected window_too_long reason, got %v", err)
	}
}
