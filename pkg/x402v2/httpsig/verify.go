package httpsig

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"strings"
	"time"
)

// windowSkewSeconds is the fixed replay-window tolerance: created - 60 <= now <=
// expires + 60.
const windowSkewSeconds = 60

// maxWindowSeconds is the maximum allowed expires-created span.
const maxWindowSeconds = 60

// VerifyInput carries the raw material the resource server passes through from the
// client's request.
type VerifyInput struct {
	PaymentSignatureHeader string // exact received bytes of PAYMENT-SIGNATURE
	SignatureAgentHeader   string // exact received bytes of Signature-Agent, including quotes
	SignatureInputHeader   string
	SignatureHeader        string
	Method                 string
	ResourceURL            string
}

// VerifyResult carries the outcome of a successful verification.
type VerifyResult struct {
	KeyThumbprint string
}

// Verifier verifies fluxacredit HTTP Message Signatures against a discoverable
// Web-Bot-Auth JWKS directory.
type Verifier struct {
	Directory *DirectoryFetcher
	// Now is overridable for deterministic tests; defaults to time.Now when nil.
	Now func() time.Time
}

// NewVerifier creates a Verifier backed by fetcher.
func NewVerifier(fetcher *DirectoryFetcher) *Verifier {
	return &Verifier{Directory: fetcher}
}

func (v *Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// ReasonError carries a stable semantic reason-code string alongside a
// human-readable message, surfaced by the caller as VerifyResponse.InvalidReason.
type ReasonError struct {
	Reason  string
	Message string
}

func (e ReasonError) Error() string { return e.Message }

func reasonErr(reason, format string, args ...interface{}) ReasonError {
	return ReasonError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Verify runs the full RFC 9421 subset + Web-Bot-Auth profile check and returns
// the signing key's RFC 7638 thumbprint on success.
func (v *Verifier) Verify(ctx context.Context, in VerifyInput) (VerifyResult, error) {
	if in.SignatureInputHeader == "" || in.SignatureHeader == "" || in.SignatureAgentHeader == "" || in.PaymentSignatureHeader == "" {
		return VerifyResult{}, reasonErr("invalid_web_bot_auth", "missing one or more required web-bot-auth headers")
	}

	sigInput, err := ParseSignatureInput(in.SignatureInputHeader)
	if err != nil {
		return VerifyResult{}, reasonErr("invalid_web_bot_auth", "parsing signature-input: %v", err)
	}

	sig, err := ParseSignature(in.SignatureHeader)
	if err != nil {
		return VerifyResult{}, reasonErr("invalid_web_bot_auth", "parsing signature: %v", err)
	}

	if sigInput.Label != sig.Label {
		return VerifyResult{}, reasonErr("label_mismatch", "signature-input label %q does not match signature label %q", sigInput.Label, sig.Label)
	}

	if sigInput.Params.Tag != "web-bot-auth" {
		return VerifyResult{}, reasonErr("invalid_web_bot_auth", "signature-input tag must be web-bot-auth, got %q", sigInput.Params.Tag)
	}

	if err := checkComponents(sigInput.Components); err != nil {
		return VerifyResult{}, reasonErr(err.Error(), "%v", err)
	}

	if sigInput.Params.Expires-sigInput.Params.Created > maxWindowSeconds {
		return VerifyResult{}, reasonErr("window_too_long", "expires-created span %d exceeds %d seconds", sigInput.Params.Expires-sigInput.Params.Created, maxWindowSeconds)
	}

	now := v.now().Unix()
	if now < sigInput.Params.Created-windowSkewSeconds || now > sigInput.Params.Expires+windowSkewSeconds {
		return VerifyResult{}, reasonErr("expired_or_not_yet_valid", "current time %d outside window [%d, %d] with %ds skew", now, sigInput.Params.Created, sigInput.Params.Expires, windowSkewSeconds)
	}

	authority, err := Authority(in.ResourceURL)
	if err != nil {
		return VerifyResult{}, reasonErr("invalid_web_bot_auth", "%v", err)
	}

	base := BuildSignatureBase(in.PaymentSignatureHeader, in.SignatureAgentHeader, authority, sigInput.RawParamsBlock)

	signatureAgent := strings.Trim(in.SignatureAgentHeader, `"`)

	dir, err := v.Directory.Get(ctx, signatureAgent)
	if err != nil {
		return VerifyResult{}, reasonErr("invalid_web_bot_auth", "fetching signer directory: %v", err)
	}

	key, found := dir.FindByThumbprint(sigInput.Params.KeyID)
	if !found {
		// Drop the cached directory so a freshly rotated key is visible on the
		// caller's retry rather than after the cache TTL.
		v.Directory.Invalidate(signatureAgent)
		return VerifyResult{}, reasonErr("key_not_found", "no directory key matches keyid %q", sigInput.Params.KeyID)
	}

	pub, err := key.PublicKey()
	if err != nil {
		return VerifyResult{}, reasonErr("key_not_found", "%v", err)
	}

	if !ed25519.Verify(pub, base, sig.Value) {
		return VerifyResult{}, reasonErr("signature_verify_failed", "ed25519 signature verification failed")
	}

	return VerifyResult{KeyThumbprint: sigInput.Params.KeyID}, nil
}
