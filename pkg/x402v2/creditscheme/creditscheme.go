// Package creditscheme implements the fluxacredit exact-price credit scheme: a
// single non-negotiable charge per request, authenticated by an HTTP Message
// Signature bound to the payment payload, settled against a synthetic (or
// caller-supplied) credit ledger.
package creditscheme

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fluxa-protocol/x402-gateway/pkg/x402v2"
	"github.com/fluxa-protocol/x402-gateway/pkg/x402v2/httpsig"
)

const SchemeName = "fluxacredit"
const AssetSymbol = "FLUXA_CREDIT"

// Ledger records settlement transactions, keyed by idempotency id so a repeated
// settle call for the same requirements.extra.id returns the original transaction
// instead of double-charging.
type Ledger interface {
	// SettleOnce returns the transaction id for idempotencyKey, crediting amount to
	// payTo for payer only the first time idempotencyKey is seen.
	SettleOnce(idempotencyKey string, payer, payTo, amount string) (transaction string, err error)
}

// MemoryLedger is the in-memory synthetic ledger: settle
// returns `credit-ledger:<extra.id>` and never double-charges.
type MemoryLedger struct {
	mu           sync.Mutex
	transactions map[string]string
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{transactions: make(map[string]string)}
}

// SettleOnce implements Ledger.
func (l *MemoryLedger) SettleOnce(idempotencyKey string, payer, payTo, amount string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if tx, ok := l.transactions[idempotencyKey]; ok {
		return tx, nil
	}

	tx := fmt.Sprintf("credit-ledger:%s", idempotencyKey)
	l.transactions[idempotencyKey] = tx
	return tx, nil
}

// Facilitator implements registry.FacilitatorScheme for fluxacredit.
type Facilitator struct {
	Network  string
	Verifier *httpsig.Verifier
	Ledger   Ledger
	Logger   zerolog.Logger
}

// NewFacilitator constructs a fluxacredit facilitator-side scheme handle.
func NewFacilitator(network string, verifier *httpsig.Verifier, ledger Ledger, logger zerolog.Logger) *Facilitator {
	return &Facilitator{Network: network, Verifier: verifier, Ledger: ledger, Logger: logger}
}

// GetExtra implements registry.FacilitatorScheme.
func (f *Facilitator) GetExtra() map[string]interface{} {
	return map[string]interface{}{"asset": AssetSymbol}
}

// GetSigners implements registry.FacilitatorScheme.
func (f *Facilitator) GetSigners() []string { return nil }

func invalid(reason string) x402v2.VerifyResponse {
	return x402v2.VerifyResponse{IsValid: false, InvalidReason: reason}
}

// Verify implements the fluxacredit verify algorithm.
func (f *Facilitator) Verify(payload x402v2.PaymentPayload, requirements x402v2.PaymentRequirements) (x402v2.VerifyResponse, error) {
	if !x402v2.DeepEqualNormalized(payload.Accepted, requirements) {
		return invalid(string(x402v2.ReasonNetworkMismatch)), nil
	}

	envelopeRaw, ok := payload.Extensions["web-bot-auth"]
	if !ok {
		return invalid(string(x402v2.ReasonInvalidWebBotAuth)), nil
	}
	envelope, err := decodeEnvelope(envelopeRaw)
	if err != nil || envelope.SignatureAgent == "" || envelope.SignatureInput == "" || envelope.Signature == "" {
		return invalid(string(x402v2.ReasonInvalidWebBotAuth)), nil
	}

	result, err := f.Verifier.Verify(context.Background(), httpsig.VerifyInput{
		PaymentSignatureHeader: envelope.PaymentSignatureHeader,
		SignatureAgentHeader:   quoteIfBare(envelope.SignatureAgent),
		SignatureInputHeader:   envelope.SignatureInput,
		SignatureHeader:        envelope.Signature,
		Method:                 "GET",
		ResourceURL:            payload.Resource.URL,
	})
	if err != nil {
		if rerr, ok := err.(httpsig.ReasonError); ok {
			return invalid(rerr.Reason), nil
		}
		return invalid(string(x402v2.ReasonInvalidWebBotAuth)), nil
	}

	payer := result.KeyThumbprint
	if payer == "" {
		if fallback, ok := payload.Payload["signature-fluxa-ai-agent-id"].(string); ok {
			payer = fallback
		}
	}

	return x402v2.VerifyResponse{IsValid: true, Payer: payer}, nil
}

// Settle implements the fluxacredit settle algorithm: a synthetic
// credit debit idempotent on requirements.extra.id.
func (f *Facilitator) Settle(payload x402v2.PaymentPayload, requirements x402v2.PaymentRequirements) (x402v2.SettleResponse, error) {
	id, _ := requirements.Extra["id"].(string)
	if id == "" {
		return x402v2.SettleResponse{Success: false, ErrorReason: string(x402v2.ReasonInvalidRequirementsExtra)}, nil
	}

	tx, err := f.Ledger.SettleOnce(id, "", requirements.PayTo, requirements.Amount)
	if err != nil {
		return x402v2.SettleResponse{Success: false, ErrorReason: err.Error()}, nil
	}

	return x402v2.SettleResponse{Success: true, Transaction: tx, Network: requirements.Network}, nil
}

func quoteIfBare(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s
	}
	return `"` + s + `"`
}

func decodeEnvelope(raw interface{}) (x402v2.WebBotAuthEnvelope, error) {
	if env, ok := raw.(x402v2.WebBotAuthEnvelope); ok {
		return env, nil
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return x402v2.WebBotAuthEnvelope{}, fmt.Errorf("web-bot-auth extension is not an object")
	}
	get := func(k string) string {
		if v, ok := m[k].(string); ok {
			return v
		}
		return ""
	}
	return x402v2.WebBotAuthEnvelope{
		SignatureAgent:         get("signatureAgent"),
		SignatureInput:         get("signatureInput"),
		Signature:              get("signature"),
		PaymentSignatureHeader: get("paymentSignatureHeader"),
	}, nil
}

// FluxaCreditServer is the resource-server-side scheme handle: it prepares the price
// and injects an idempotency id into PaymentRequirements.extra.
type FluxaCreditServer struct{}

// NewServer constructs the resource-server-side fluxacredit scheme handle.
func NewServer() *FluxaCreditServer { return &FluxaCreditServer{} }

// ParsePrice enforces asset == FLUXA_CREDIT when the caller supplies an explicit
// asset, and truncates numeric/string prices toward zero into a decimal string.
func (s *FluxaCreditServer) ParsePrice(price interface{}, asset string) (string, error) {
	if asset != "" && asset != AssetSymbol {
		return "", fmt.Errorf("fluxacredit only supports asset %s, got %q", AssetSymbol, asset)
	}

	switch v := price.(type) {
	case string:
		// Fractional strings truncate toward zero: "5.99" charges 5 credits.
		intPart := v
		if dot := strings.IndexByte(v, '.'); dot >= 0 {
			frac := v[dot+1:]
			for i := 0; i < len(frac); i++ {
				if frac[i] < '0' || frac[i] > '9' {
					return "", fmt.Errorf("price %q is not a decimal number", v)
				}
			}
			intPart = v[:dot]
			if intPart == "" {
				intPart = "0"
			}
		}
		n, err := x402v2.ParseAmount(intPart)
		if err != nil {
			return "", err
		}
		return x402v2.FormatAmount(n), nil
	case int:
		if v < 0 {
			return "", fmt.Errorf("price must not be negative")
		}
		return fmt.Sprintf("%d", v), nil
	case int64:
		if v < 0 {
			return "", fmt.Errorf("price must not be negative")
		}
		return fmt.Sprintf("%d", v), nil
	case float64:
		if v < 0 {
			return "", fmt.Errorf("price must not be negative")
		}
		return fmt.Sprintf("%d", int64(v)), nil
	default:
		return "", fmt.Errorf("unsupported price type %T", price)
	}
}

// EnhanceRequirements implements registry.ServerScheme: it injects a random
// extra.id if the caller did not already supply one.
func (s *FluxaCreditServer) EnhanceRequirements(requirements x402v2.PaymentRequirements) (x402v2.PaymentRequirements, error) {
	if requirements.Extra == nil {
		requirements.Extra = make(map[string]interface{})
	}
	if _, ok := requirements.Extra["id"]; !ok {
		// A version-4 UUID's 122 random bits keep per-issuance ids collision-free.
		id, err := uuid.NewRandom()
		if err != nil {
			return requirements, fmt.Errorf("generating requirement id: %w", err)
		}
		requirements.Extra["id"] = id.String()
	}
	return requirements, nil
}
