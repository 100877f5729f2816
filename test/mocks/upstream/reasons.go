package upstream

// Rejection reasons carried in the "error" field of a 402 answer to a paid request
const (
	ReasonPaymentRequired     = "X-PAYMENT header is required"
	ReasonInvalidScheme       = "invalid_exact_evm_scheme"
	ReasonNetworkMismatch     = "invalid_exact_evm_network_mismatch"
	ReasonRecipientMismatch   = "invalid_exact_evm_recipient_mismatch"
	ReasonInvalidValue        = "invalid_exact_evm_authorization_value"
	ReasonValidBeforeExpired  = "invalid_exact_evm_payload_authorization_valid_before"
	ReasonValidAfterInFuture  = "invalid_exact_evm_payload_authorization_valid_after"
	ReasonNonceAlreadyUsed    = "invalid_exact_evm_nonce_already_used"
	ReasonInvalidSignature    = "invalid_exact_evm_signature"
	ReasonInsufficientBalance = "insufficient_funds"
)
