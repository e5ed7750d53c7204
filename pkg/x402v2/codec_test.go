package x402v2

import (
	"bytes"
	"testing"
)

func samplePaymentRequired() PaymentRequired {
	return PaymentRequired{
		X402Version: Version,
		Resource:    Resource{URL: "https://resource.example/report", MimeType: "application/json"},
		Accepts: []PaymentRequirements{
			{
				Scheme:            "fluxacredit",
				Network:           "fluxa:monetize",
				Amount:            "25",
				Asset:             "FLUXA_CREDIT",
				PayTo:             "fluxa:facilitator:us-east-1",
				MaxTimeoutSeconds: 60,
				Extra:             map[string]interface{}{"id": "abc123"},
			},
		},
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	original := samplePaymentRequired()

	header, err := EncodeHeader(original)
	if err != nil {
		t.Fatalf("EncodeHeader: %v", err)
	}

	var decoded PaymentRequired
	if err := DecodeHeader(header, &decoded); err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}

	// Byte-for-byte round trip after canonicalization.
	reencoded, err := EncodeHeader(decoded)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if header != reencoded {
		t.Fatalf("round trip not byte-identical:\n%s\n%s", header, reencoded)
	}
}

func TestCanonicalJSONIsDeterministic(t *testing.T) {
	a := map[string]interface{}{"b": 1, "a": map[string]interface{}{"z": "x", "y": []interface{}{"k", "j"}}}
	b := map[string]interface{}{"a": map[string]interface{}{"y": []interface{}{"k", "j"}, "z": "x"}, "b": 1}

	ca, err := CanonicalJSON(a)
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	cb, err := CanonicalJSON(b)
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	if !bytes.Equal(ca, cb) {
		t.Fatalf("map key order must not affect canonical form: %s vs %s", ca, cb)
	}
	if bytes.ContainsAny(ca, " \n\t") {
		t.Fatalf("canonical form must carry no whitespace: %s", ca)
	}
}

func TestDecodeHeaderRejectsPaddingAndAlphabet(t *testing.T) {
	valid, err := EncodeHeader(map[string]interface{}{"k": "v"})
	if err != nil {
		t.Fatalf("EncodeHeader: %v", err)
	}

	var dest map[string]interface{}
	for _, bad := range []string{
		valid + "=",  // trailing padding
		valid + "==", // trailing padding
		"ey/Jh",      // '/' from the standard alphabet
		"ey+Jh",      // '+' from the standard alphabet
		"abc def",    // whitespace
	} {
		if err := DecodeHeader(bad, &dest); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}

	if err := DecodeHeader(valid, &dest); err != nil {
		t.Fatalf("valid header rejected: %v", err)
	}
}

func TestDeepEqualNormalized(t *testing.T) {
	base := samplePaymentRequired().Accepts[0]

	same := base
	same.Extra = map[string]interface{}{"id": "abc123"}
	if !DeepEqualNormalized(base, same) {
		t.Fatal("structurally equal requirements must compare equal")
	}

	changed := base
	changed.Amount = "26"
	if DeepEqualNormalized(base, changed) {
		t.Fatal("differing amount must break structural equality")
	}

	// Array order is significant.
	if DeepEqualNormalized([]interface{}{"a", "b"}, []interface{}{"b", "a"}) {
		t.Fatal("array order must be significant")
	}
}
