package httpserver

import (
	"net/http"
	"time"

	apierrors "github.com/fluxa-protocol/x402-gateway/internal/errors"
	"github.com/fluxa-protocol/x402-gateway/internal/logger"
	"github.com/fluxa-protocol/x402-gateway/pkg/x402v2"
)

// verify handles POST /verify: body {paymentPayload, paymentRequirements}, 200 with
// VerifyResponse, 500 with {error} only for internal failures — semantic rejections
// are carried as VerifyResponse.invalidReason at 200.
func (h *handlers) verify(w http.ResponseWriter, r *http.Request) {
	var req x402v2.VerifyRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeStructuralError(w, r, apierrors.ErrCodeMalformedJSON, "request body is not valid JSON: "+err.Error())
		return
	}

	start := time.Now()
	scheme := req.PaymentRequirements.Scheme
	network := req.PaymentRequirements.Network

	impl, err := h.registry.LookupFacilitatorScheme(scheme, network)
	if err != nil {
		h.observeVerify(scheme, network, "unsupported_scheme", start)
		writeJSON(w, http.StatusOK, x402v2.VerifyResponse{
			IsValid:       false,
			InvalidReason: string(x402v2.ReasonUnsupportedScheme),
		})
		return
	}

	resp, err := impl.Verify(req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("scheme", scheme).Str("network", network).Msg("facilitator.verify_internal_error")
		writeStructuralError(w, r, apierrors.ErrCodeInternalError, "verify failed: "+err.Error())
		return
	}

	outcome := "rejected"
	if resp.IsValid {
		outcome = "accepted"
	}
	h.observeVerify(scheme, network, outcome, start)

	writeJSON(w, http.StatusOK, resp)
}

// settle handles POST /settle: same request shape as verify, 200 with SettleResponse.
func (h *handlers) settle(w http.ResponseWriter, r *http.Request) {
	var req x402v2.VerifyRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeStructuralError(w, r, apierrors.ErrCodeMalformedJSON, "request body is not valid JSON: "+err.Error())
		return
	}

	start := time.Now()
	scheme := req.PaymentRequirements.Scheme
	network := req.PaymentRequirements.Network

	impl, err := h.registry.LookupFacilitatorScheme(scheme, network)
	if err != nil {
		h.observeSettle(scheme, network, "unsupported_scheme", start)
		writeJSON(w, http.StatusOK, x402v2.SettleResponse{
			Success:     false,
			ErrorReason: string(x402v2.ReasonUnsupportedScheme),
		})
		return
	}

	resp, err := impl.Settle(req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("scheme", scheme).Str("network", network).Msg("facilitator.settle_internal_error")
		writeStructuralError(w, r, apierrors.ErrCodeInternalError, "settle failed: "+err.Error())
		return
	}

	outcome := "rejected"
	if resp.Success {
		outcome = "accepted"
	}
	h.observeSettle(scheme, network, outcome, start)

	writeJSON(w, http.StatusOK, resp)
}

// supported handles GET /supported: enumerates every registered
// {x402Version, scheme, network} triple plus scheme-provided extra/signers metadata.
func (h *handlers) supported(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Kinds []x402v2.SupportedKind `json:"kinds"`
	}{Kinds: h.registry.SupportedKinds()})
}

func (h *handlers) observeVerify(scheme, network, outcome string, start time.Time) {
	if h.metrics != nil {
		h.metrics.ObserveVerify(scheme, network, outcome, time.Since(start))
	}
}

func (h *handlers) observeSettle(scheme, network, outcome string, start time.Time) {
	if h.metrics != nil {
		h.metrics.ObserveSettle(scheme, network, outcome, time.Since(start))
	}
}
