package facilitator

// Error reason codes reported for legacy-wire EVM exact payments
const (
	ErrUnsupportedScheme               = "invalid_exact_evm_unsupported_scheme"
	ErrNetworkMismatch                 = "invalid_exact_evm_network_mismatch"
	ErrInvalidPayload                  = "invalid_exact_evm_payload"
	ErrMissingSignature                = "invalid_exact_evm_payload_missing_signature"
	ErrFailedToGetNetworkConfig        = "invalid_exact_evm_failed_to_get_network_config"
	ErrFailedToGetAssetInfo            = "invalid_exact_evm_failed_to_get_asset_info"
	ErrInvalidExtraField               = "invalid_exact_evm_extra_field"
	ErrMissingEip712Domain             = "invalid_exact_evm_missing_eip712_domain"
	ErrRecipientMismatch               = "invalid_exact_evm_payload_recipient_mismatch"
	ErrInvalidAuthorizationValue       = "invalid_exact_evm_payload_authorization_value_format"
	ErrInvalidRequiredAmount           = "invalid_exact_evm_required_amount"
	ErrAuthorizationValueInsufficient  = "invalid_exact_evm_payload_authorization_value"
	ErrAuthorizationValidBeforeExpired = "invalid_exact_evm_payload_authorization_valid_before"
	ErrAuthorizationValidAfterInFuture = "invalid_exact_evm_payload_authorization_valid_after"
	ErrInsufficientFunds               = "insufficient_funds"
	ErrInvalidSignatureFormat          = "invalid_exact_evm_signature_format"
	ErrFailedToVerifySignature         = "invalid_exact_evm_failed_to_verify_signature"
	ErrInvalidSignature                = "invalid_exact_evm_payload_signature"
	ErrVerificationFailed              = "invalid_exact_evm_verification_failed"
	ErrFailedToParseSignature          = "invalid_exact_evm_failed_to_parse_signature"
	ErrTransactionFailed               = "invalid_exact_evm_transaction_failed"
	ErrFailedToGetReceipt              = "invalid_exact_evm_failed_to_get_receipt"
	ErrInvalidTransactionState         = "invalid_transaction_state"
)
