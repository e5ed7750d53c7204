package x402v2

// ReasonCode is a semantic error tag carried in VerifyResponse.InvalidReason or
// SettleResponse.ErrorReason. Semantic errors never raise an HTTP error status; see
// internal/errors for the separate structural ErrorCode used on malformed requests.
type ReasonCode string

const (
	ReasonUnsupportedScheme ReasonCode = "unsupported_scheme"
	ReasonNetworkMismatch   ReasonCode = "network_mismatch"

	ReasonInvalidOdpPayloadMissingReceipt ReasonCode = "invalid_odp_payload_missing_receipt"
	ReasonMissingReceiptSignature         ReasonCode = "missing_receipt_signature"
	ReasonMissingSessionSignature         ReasonCode = "missing_session_signature"
	ReasonInvalidRequirementsExtra        ReasonCode = "invalid_requirements_extra"

	ReasonSessionIDMismatch         ReasonCode = "session_id_mismatch"
	ReasonSessionApprovalMismatch   ReasonCode = "session_approval_mismatch"
	ReasonMissingSessionApproval    ReasonCode = "missing_session_approval"
	ReasonRequirementsSessionMismatch ReasonCode = "requirements_session_mismatch"

	ReasonSettlementContractMismatch      ReasonCode = "settlement_contract_mismatch"
	ReasonDebitWalletMismatch             ReasonCode = "debit_wallet_mismatch"
	ReasonWithdrawDelayMismatch           ReasonCode = "withdraw_delay_mismatch"
	ReasonDebitWalletWithdrawDelayMismatch ReasonCode = "debit_wallet_withdraw_delay_mismatch"

	ReasonInvalidSessionSignature       ReasonCode = "invalid_session_signature"
	ReasonInvalidReceiptSignature       ReasonCode = "invalid_receipt_signature"
	ReasonAuthorizedProcessorsHashMismatch ReasonCode = "authorized_processors_hash_mismatch"
	ReasonUnauthorizedProcessor         ReasonCode = "unauthorized_processor"

	ReasonReceiptNonceMismatch    ReasonCode = "receipt_nonce_mismatch"
	ReasonReceiptAmountMismatch   ReasonCode = "receipt_amount_mismatch"
	ReasonReceiptAmountExceedsMax ReasonCode = "receipt_amount_exceeds_max"
	ReasonReceiptDeadlineInvalid  ReasonCode = "receipt_deadline_invalid"
	ReasonRequestHashMismatch     ReasonCode = "request_hash_mismatch"
	ReasonSessionExpired          ReasonCode = "session_expired"

	ReasonSessionMaxSpendExceeded     ReasonCode = "session_max_spend_exceeded"
	ReasonInsufficientDebitWalletBalance ReasonCode = "insufficient_debit_wallet_balance"

	ReasonSessionNotFound           ReasonCode = "session_not_found"
	ReasonSettlementInProgress      ReasonCode = "settlement_in_progress"
	ReasonNoReceipts                ReasonCode = "no_receipts"
	ReasonReceiptNonceGap           ReasonCode = "receipt_nonce_gap"
	ReasonSettlementTransactionFailed ReasonCode = "settlement_transaction_failed"

	ReasonInvalidWebBotAuth              ReasonCode = "invalid_web_bot_auth"
	ReasonMissingComponentPaymentSignature ReasonCode = "missing_component_payment-signature"
	ReasonMissingComponentSignatureAgent ReasonCode = "missing_component_signature-agent"
	ReasonMissingComponentAuthority      ReasonCode = "missing_component_@authority"
	ReasonLabelMismatch                 ReasonCode = "label_mismatch"
	ReasonWindowTooLong                 ReasonCode = "window_too_long"
	ReasonExpiredOrNotYetValid          ReasonCode = "expired_or_not_yet_valid"
	ReasonKeyNotFound                   ReasonCode = "key_not_found"
	ReasonSignatureVerifyFailed         ReasonCode = "signature_verify_failed"
)
