package errors

// ErrorCode identifies a structural HTTP error: malformed requests, unsupported
// content types, and internal failures that never reach the point of producing a
// semantic VerifyResponse/SettleResponse. Semantic payment-reason codes (e.g.
// receipt_nonce_mismatch, session_expired) are carried in-body at HTTP 200 and are
// defined by pkg/x402v2, not here.
type ErrorCode string

const (
	ErrCodeMalformedJSON      ErrorCode = "malformed_json"
	ErrCodeMissingField       ErrorCode = "missing_field"
	ErrCodeInvalidField       ErrorCode = "invalid_field"
	ErrCodeUnsupportedVersion ErrorCode = "unsupported_x402_version"
	ErrCodePayloadTooLarge    ErrorCode = "payload_too_large"

	ErrCodeUnsupportedScheme ErrorCode = "unsupported_scheme"

	ErrCodeNotFound ErrorCode = "not_found"

	ErrCodeRateLimited ErrorCode = "rate_limited"
	ErrCodeUnauthorized ErrorCode = "unauthorized"

	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeInternalError       ErrorCode = "internal_error"
	ErrCodeConfigError         ErrorCode = "config_error"
	ErrCodeDatabaseError       ErrorCode = "database_error"
)

// IsRetryable returns whether a client encountering this error code should retry the
// request, as opposed to needing to correct its input first.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeUpstreamUnavailable, ErrCodeRateLimited:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the HTTP status code this structural error should be reported with.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrCodeMalformedJSON,
		ErrCodeMissingField,
		ErrCodeInvalidField,
		ErrCodeUnsupportedVersion,
		ErrCodeUnsupportedScheme:
		return 400

	case ErrCodeUnauthorized:
		return 401

	case ErrCodeNotFound:
		return 404

	case ErrCodePayloadTooLarge:
		return 413

	case ErrCodeRateLimited:
		return 429

	case ErrCodeUpstreamUnavailable:
		return 502

	default:
		return 500
	}
}
