package creditscheme

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/fluxa-protocol/x402-gateway/pkg/x402v2"
	"github.com/fluxa-protocol/x402-gateway/pkg/x402v2/httpsig"
)

// Client implements registry.ClientScheme for fluxacredit: it signs the exact
// PAYMENT-SIGNATURE header bytes with an Ed25519 key under the Web-Bot-Auth
// profile and attaches the envelope the facilitator-side verifier expects at
// extensions["web-bot-auth"].
type Client struct {
	PrivateKey     ed25519.PrivateKey
	SignatureAgent string // e.g. "https://agent.example.com/agent.json"
	KeyID          string // RFC 7638 thumbprint of the public key, as published in the directory
	ResourceURL    string // the resource being paid for; supplies the "@authority" component
	AgentIDHeader  string // optional fallback carried at payload["signature-fluxa-ai-agent-id"]

	// Now is overridable for deterministic tests; defaults to time.Now when nil.
	Now func() time.Time
}

// NewClient constructs a fluxacredit client signer.
func NewClient(privateKey ed25519.PrivateKey, signatureAgent, keyID, resourceURL string) *Client {
	return &Client{PrivateKey: privateKey, SignatureAgent: signatureAgent, KeyID: keyID, ResourceURL: resourceURL}
}

func (c *Client) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// CreatePayload implements registry.ClientScheme: it builds the PAYMENT-SIGNATURE
// payload for one request and signs the Web-Bot-Auth signature base over it, so the
// returned payload's extensions carry the raw material a resource server forwards
// unchanged to the facilitator.
func (c *Client) CreatePayload(requirements x402v2.PaymentRequirements) (x402v2.PaymentPayload, error) {
	payload := x402v2.PaymentPayload{
		X402Version: x402v2.Version,
		Resource:    x402v2.Resource{URL: c.ResourceURL},
		Accepted:    requirements,
		Payload: map[string]interface{}{
			"signature-fluxa-ai-agent-id": c.AgentIDHeader,
		},
	}

	paymentSignatureHeader, err := x402v2.EncodeHeader(payload)
	if err != nil {
		return x402v2.PaymentPayload{}, fmt.Errorf("encoding payment-signature header: %w", err)
	}

	signatureAgentHeader := `"` + c.SignatureAgent + `"`

	authority, err := httpsig.Authority(c.ResourceURL)
	if err != nil {
		return x402v2.PaymentPayload{}, fmt.Errorf("deriving @authority from resource url: %w", err)
	}

	created := c.now().Unix()
	expires := created + 60
	label := "sig1"
	rawParamsBlock := fmt.Sprintf(
		`(%q %q %q);created=%d;expires=%d;keyid=%q;tag="web-bot-auth"`,
		"payment-signature", "signature-agent", "@authority", created, expires, c.KeyID,
	)

	base := httpsig.BuildSignatureBase(paymentSignatureHeader, signatureAgentHeader, authority, rawParamsBlock)
	sig := ed25519.Sign(c.PrivateKey, base)
	signatureHeader := label + "=:" + base64.StdEncoding.EncodeToString(sig) + ":"
	signatureInputHeader := label + "=" + rawParamsBlock

	payload.Extensions = map[string]interface{}{
		"web-bot-auth": x402v2.WebBotAuthEnvelope{
			SignatureAgent:         signatureAgentHeader,
			SignatureInput:         signatureInputHeader,
			Signature:              signatureHeader,
			PaymentSignatureHeader: paymentSignatureHeader,
		},
	}

	return payload, nil
}
