package httpserver

import (
	"encoding/json"
	"net/http"

	apierrors "github.com/fluxa-protocol/x402-gateway/internal/errors"
	"github.com/fluxa-protocol/x402-gateway/internal/logger"
)

// writeJSON writes v as a JSON response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeStructuralError writes a programmer-facing 4xx/5xx error: malformed JSON
// or an internal failure that never reached the point of producing a
// VerifyResponse/SettleResponse body. Semantic payment-reason codes, including
// unsupported_scheme, are carried at HTTP 200 by the caller instead of here. The request id, when one
// was assigned, rides in the error details so a client can quote it back.
func writeStructuralError(w http.ResponseWriter, r *http.Request, code apierrors.ErrorCode, message string) {
	var details map[string]interface{}
	if id := logger.GetRequestID(r.Context()); id != "" {
		details = map[string]interface{}{"requestId": id}
	}
	apierrors.WriteError(w, code, message, details)
}
