// Package x402v2 implements the wire types, canonical JSON/header codec, and
// decimal-string/address validation helpers shared by every x402 v2 scheme and by
// the facilitator HTTP surface.
package x402v2

// Version is the x402 protocol version implemented by this module.
const Version = 2

// Resource describes the HTTP resource a payment is for.
type Resource struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// PaymentRequired is the server's payment offer, carried base64url-encoded in the
// PAYMENT-REQUIRED header of a 402 response.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Resource    Resource              `json:"resource"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// PaymentRequirements describes one accepted way to pay for a resource.
type PaymentRequirements struct {
	Scheme            string                 `json:"scheme"`
	Network           string                 `json:"network"`
	Amount            string                 `json:"amount"`
	Asset             string                 `json:"asset"`
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int64                  `json:"maxTimeoutSeconds"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// PaymentPayload is one payment attempt, carried base64url-encoded in the
// PAYMENT-SIGNATURE header.
type PaymentPayload struct {
	X402Version int                    `json:"x402Version"`
	Resource    Resource               `json:"resource"`
	Accepted    PaymentRequirements    `json:"accepted"`
	Payload     map[string]interface{} `json:"payload"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// VerifyResponse is the facilitator's answer to POST /verify.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is the facilitator's answer to POST /settle.
type SettleResponse struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	Payer       string `json:"payer,omitempty"`
	ErrorReason string `json:"errorReason,omitempty"`
}

// PaymentResponseHeader is the body of the PAYMENT-RESPONSE header sent back to the
// client once a request has been verified (and, for synchronous schemes, settled).
type PaymentResponseHeader struct {
	Scheme         string `json:"scheme"`
	Network        string `json:"network"`
	ID             string `json:"id"`
	ChargedCredits string `json:"chargedCredits,omitempty"`
	Transaction    string `json:"transaction,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

// WebBotAuthEnvelope is the identity extension the resource server attaches to a
// credit-scheme payload under extensions["web-bot-auth"].
type WebBotAuthEnvelope struct {
	SignatureAgent         string `json:"signatureAgent"`
	SignatureInput         string `json:"signatureInput"`
	Signature              string `json:"signature"`
	PaymentSignatureHeader string `json:"paymentSignatureHeader"`
}

// SupportedKind describes one (x402Version, scheme, network) triple the facilitator
// can serve, enriched with scheme-provided discovery metadata.
type SupportedKind struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     string                 `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
	Signers     []string               `json:"signers,omitempty"`
}

// VerifyRequest is the POST /verify and POST /settle request body shape.
type VerifyRequest struct {
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}
