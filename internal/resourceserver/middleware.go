// Package resourceserver implements the minimal resource-server orchestrator:
// it issues a 402 with PAYMENT-REQUIRED on the first request, decodes the
// PAYMENT-SIGNATURE retry into a PaymentPayload, forwards it to a facilitator
// for verify (and, for the exact-credit scheme, settle) inline, then lets the
// wrapped handler serve the resource and attaches PAYMENT-RESPONSE.
package resourceserver

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	apierrors "github.com/fluxa-protocol/x402-gateway/internal/errors"
	"github.com/fluxa-protocol/x402-gateway/internal/metrics"
	"github.com/fluxa-protocol/x402-gateway/pkg/x402v2"
	"github.com/fluxa-protocol/x402-gateway/pkg/x402v2/registry"
)

type contextKey string

const contextKeyVerifyResult contextKey = "resourceserver.verifyResult"

// maxPaymentHeaderBytes caps any payment-bearing header; larger values are
// refused with 431 before decoding starts.
const maxPaymentHeaderBytes = 16 * 1024

// ResourceOffer describes one PaymentRequirements a resource accepts, before
// any scheme-specific server-side enhancement (e.g. the credit scheme's
// random per-request extra.id) is applied.
type ResourceOffer struct {
	Scheme            string
	Network           string
	Amount            string
	Asset             string
	PayTo             string
	MaxTimeoutSeconds int64
	// Extra carries scheme-specific fields the caller already knows (e.g. the
	// odp-deferred session terms: sessionId, startNonce, maxSpend, expiry,
	// settlementContract, debitWallet). Schemes with a registered ServerScheme
	// may still override or add to this via EnhanceRequirements.
	Extra map[string]interface{}
}

// Guard gates one resource behind a set of accepted payment offers.
type Guard struct {
	registry    *registry.Registry
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	resource    x402v2.Resource
	offers      []ResourceOffer
	settleExact bool // whether to call Settle inline for synchronous schemes (fluxacredit)
}

// NewGuard builds a Guard for one resource. settleExact controls whether the
// exact-credit scheme is settled inline on the hot path, matching step (6) in
// the control flow; odp-deferred never settles inline regardless of this flag.
func NewGuard(reg *registry.Registry, m *metrics.Metrics, log zerolog.Logger, resource x402v2.Resource, offers []ResourceOffer, settleExact bool) *Guard {
	return &Guard{registry: reg, metrics: m, logger: log, resource: resource, offers: offers, settleExact: settleExact}
}

// Middleware wraps next so that it only ever runs once payment has verified.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requirements, err := g.buildRequirements(r)
		if err != nil {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "building payment requirements: "+err.Error())
			return
		}

		header := r.Header.Get("Payment-Signature")
		if header == "" {
			g.issuePaymentRequired(w, requirements)
			return
		}
		if len(header) > maxPaymentHeaderBytes {
			w.WriteHeader(http.StatusRequestHeaderFieldsTooLarge)
			return
		}

		var payload x402v2.PaymentPayload
		if err := x402v2.DecodeHeader(header, &payload); err != nil {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeMalformedJSON, "decoding payment-signature header: "+err.Error())
			return
		}

		accepted, ok := g.matchRequirements(payload, requirements)
		if !ok {
			g.issuePaymentRequired(w, requirements)
			return
		}

		g.attachWebBotAuth(r, &payload, header)

		impl, err := g.registry.LookupFacilitatorScheme(accepted.Scheme, accepted.Network)
		if err != nil {
			g.issuePaymentRequired(w, requirements)
			return
		}

		verifyResult, err := impl.Verify(payload, accepted)
		if err != nil {
			g.logger.Error().Err(err).Str("scheme", accepted.Scheme).Msg("resourceserver.verify_internal_error")
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "verify failed: "+err.Error())
			return
		}
		if !verifyResult.IsValid {
			g.issuePaymentRequired(w, requirements)
			return
		}

		settleResult := x402v2.SettleResponse{Success: true}
		if g.settleExact && accepted.Scheme != "odp-deferred" {
			settleResult, err = impl.Settle(payload, accepted)
			if err != nil {
				g.logger.Error().Err(err).Str("scheme", accepted.Scheme).Msg("resourceserver.settle_internal_error")
				apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "settle failed: "+err.Error())
				return
			}
			if !settleResult.Success {
				g.issuePaymentRequired(w, requirements)
				return
			}
		}

		g.writePaymentResponse(w, accepted, verifyResult, settleResult)

		ctx := context.WithValue(r.Context(), contextKeyVerifyResult, verifyResult)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *Guard) buildRequirements(r *http.Request) ([]x402v2.PaymentRequirements, error) {
	requirements := make([]x402v2.PaymentRequirements, 0, len(g.offers))
	for _, offer := range g.offers {
		req := x402v2.PaymentRequirements{
			Scheme:            offer.Scheme,
			Network:           offer.Network,
			Amount:            offer.Amount,
			Asset:             offer.Asset,
			PayTo:             offer.PayTo,
			MaxTimeoutSeconds: offer.MaxTimeoutSeconds,
			Extra:             offer.Extra,
		}

		server, err := g.registry.LookupServerScheme(offer.Scheme, offer.Network)
		if err == nil {
			enhanced, enhanceErr := server.EnhanceRequirements(req)
			if enhanceErr != nil {
				return nil, enhanceErr
			}
			req = enhanced
		}

		requirements = append(requirements, req)
	}
	return requirements, nil
}

// matchRequirements finds the offer the payload claims to accept and confirms
// it is structurally identical to what this request would currently offer
// (the binding check every facilitator scheme repeats defensively, but that a
// resource server should also apply before spending a round trip on it).
func (g *Guard) matchRequirements(payload x402v2.PaymentPayload, requirements []x402v2.PaymentRequirements) (x402v2.PaymentRequirements, bool) {
	for _, req := range requirements {
		if req.Scheme == payload.Accepted.Scheme && req.Network == payload.Accepted.Network {
			return req, x402v2.DeepEqualNormalized(req, payload.Accepted)
		}
	}
	return x402v2.PaymentRequirements{}, false
}

// attachWebBotAuth forwards the raw PAYMENT-SIGNATURE header bytes and the
// Web-Bot-Auth signature headers the client sent alongside it, since the
// credit scheme's signature base depends on the exact received bytes of
// PAYMENT-SIGNATURE, not its re-serialization.
func (g *Guard) attachWebBotAuth(r *http.Request, payload *x402v2.PaymentPayload, paymentSignatureHeader string) {
	signatureAgent := r.Header.Get("Signature-Agent")
	signatureInput := r.Header.Get("Signature-Input")
	signature := r.Header.Get("Signature")
	if signatureAgent == "" && signatureInput == "" && signature == "" {
		return
	}

	if payload.Extensions == nil {
		payload.Extensions = make(map[string]interface{})
	}
	payload.Extensions["web-bot-auth"] = x402v2.WebBotAuthEnvelope{
		SignatureAgent:         signatureAgent,
		SignatureInput:         signatureInput,
		Signature:              signature,
		PaymentSignatureHeader: paymentSignatureHeader,
	}
}

func (g *Guard) issuePaymentRequired(w http.ResponseWriter, requirements []x402v2.PaymentRequirements) {
	required := x402v2.PaymentRequired{
		X402Version: x402v2.Version,
		Resource:    g.resource,
		Accepts:     requirements,
	}
	header, err := x402v2.EncodeHeader(required)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "encoding payment-required header: "+err.Error())
		return
	}
	w.Header().Set("Payment-Required", header)
	w.WriteHeader(http.StatusPaymentRequired)
	_, _ = w.Write([]byte(`{"x402Version":2,"error":"payment required"}`))
}

func (g *Guard) writePaymentResponse(w http.ResponseWriter, accepted x402v2.PaymentRequirements, verify x402v2.VerifyResponse, settle x402v2.SettleResponse) {
	resp := x402v2.PaymentResponseHeader{
		Scheme:      accepted.Scheme,
		Network:     accepted.Network,
		ID:          idFromExtra(accepted),
		Transaction: settle.Transaction,
		Timestamp:   time.Now().Unix(),
	}
	if settle.Transaction == "" {
		resp.ChargedCredits = accepted.Amount
	}
	header, err := x402v2.EncodeHeader(resp)
	if err != nil {
		g.logger.Error().Err(err).Msg("resourceserver.encode_payment_response_failed")
		return
	}
	w.Header().Set("Payment-Response", header)
}

func idFromExtra(requirements x402v2.PaymentRequirements) string {
	if requirements.Extra == nil {
		return ""
	}
	if id, ok := requirements.Extra["id"].(string); ok {
		return id
	}
	if id, ok := requirements.Extra["sessionId"].(string); ok {
		return id
	}
	return ""
}

// VerifyResultFromContext retrieves the VerifyResponse stashed by Middleware
// once a request has been granted, for downstream logging/auditing handlers.
func VerifyResultFromContext(ctx context.Context) (x402v2.VerifyResponse, bool) {
	val := ctx.Value(contextKeyVerifyResult)
	if val == nil {
		return x402v2.VerifyResponse{}, false
	}
	result, ok := val.(x402v2.VerifyResponse)
	return result, ok
}
