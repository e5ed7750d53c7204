package httpsig

import "testing"

func TestParseSignatureInput(t *testing.T) {
	header := `sig1=("payment-signature" "signature-agent" "@authority");created=1000;expires=1030;keyid="abc123";tag="web-bot-auth"`

	parsed, err := ParseSignatureInput(header)
	if err != nil {
		t.Fatalf("ParseSignatureInput returned error: %v", err)
	}

	if parsed.Label != "sig1" {
		t.Fatalf("expected label sig1, got %s", parsed.Label)
	}
	if len(parsed.Components) != 3 {
		t.Fatalf("expected 3 components, got %d: %v", len(parsed.Components), parsed.Components)
	}
	if parsed.Params.Created != 1000 || parsed.Params.Expires != 1030 {
		t.Fatalf("unexpected created/expires: %+v", parsed.Params)
	}
	if parsed.Params.KeyID != "abc123" {
		t.Fatalf("unexpected keyid: %q", parsed.Params.KeyID)
	}
	if parsed.Params.Tag != "web-bot-auth" {
		t.Fatalf("unexpected tag: %q", parsed.Params.Tag)
	}
}

func TestParseSignatureInputMissingComponent(t *testing.T) {
	parsed, err := ParseSignatureInput(`sig1=("signature-agent" "@authority");created=1;expires=2;tag="web-bot-auth"`)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if err := checkComponents(parsed.Components); err == nil {
		t.Fatal("expected missing payment-signature component to fail checkComponents")
	}
}

func TestParseSignature(t *testing.T) {
	// "hello" base64-encoded standard alphabet.
	parsed, err := ParseSignature(`sig1=:aGVsbG8=:`)
	if err != nil {
		t.Fatalf("ParseSignature returned error: %v", err)
	}
	if parsed.Label != "sig1" {
		t.Fatalf("expected label sig1, got %s", parsed.Label)
	}
	if string(parsed.Value) != "hello" {
		t.Fatalf("expected decoded value hello, got %q", parsed.Value)
	}
}

func TestAuthority(t *testing.T) {
	host, err := Authority("https://example.com:8443/resource")
	if err != nil {
		t.Fatalf("Authority returned error: %v", err)
	}
	if host != "example.com:8443" {
		t.Fatalf("expected example.com:8443, got %s", host)
	}
}
