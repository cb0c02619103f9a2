package paymentidentifier

import (
	"encoding/json"
	"fmt"

	x402 "github.com/x402/x402-go"
)

// decodeExtension remarshals an untyped extension object into the typed
// wire shape. Extensions travel as map[string]interface{} inside payloads,
// so every accessor funnels through here.
func decodeExtension(extension interface{}) (*PaymentIdentifierExtension, error) {
	extBytes, err := json.Marshal(extension)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extension: %w", err)
	}
	var ext PaymentIdentifierExtension
	if err := json.Unmarshal(extBytes, &ext); err != nil {
		return nil, fmt.Errorf("failed to unmarshal extension: %w", err)
	}
	return &ext, nil
}

func invalidResult(format string, args ...interface{}) ValidationResult {
	return ValidationResult{Valid: false, Errors: []string{fmt.Sprintf(format, args...)}}
}

func badIDFormatResult() ValidationResult {
	return invalidResult(
		"Invalid payment ID format. ID must be %d-%d characters and contain only alphanumeric characters, hyphens, and underscores.",
		PAYMENT_ID_MIN_LENGTH, PAYMENT_ID_MAX_LENGTH)
}

// IsPaymentIdentifierExtension reports whether an object has the
// payment-identifier extension structure: an info object carrying a
// boolean required flag. The id format is not checked here.
func IsPaymentIdentifierExtension(extension interface{}) bool {
	if extension == nil {
		return false
	}

	extBytes, err := json.Marshal(extension)
	if err != nil {
		return false
	}
	// Required must be present, not merely false, so decode through
	// pointers instead of the wire type.
	var probe struct {
		Info *struct {
			Required *bool `json:"required"`
		} `json:"info"`
	}
	if err := json.Unmarshal(extBytes, &probe); err != nil {
		return false
	}
	return probe.Info != nil && probe.Info.Required != nil
}

// ValidatePaymentIdentifier checks an extension object's structure and,
// when an id is present, its format.
func ValidatePaymentIdentifier(extension interface{}) ValidationResult {
	if extension == nil {
		return invalidResult("Extension must be an object")
	}

	ext, err := decodeExtension(extension)
	if err != nil {
		return invalidResult("Extension must have an 'info' property: %v", err)
	}

	if ext.Info.ID != "" && !IsValidPaymentID(ext.Info.ID) {
		return badIDFormatResult()
	}
	return ValidationResult{Valid: true}
}

// ExtractPaymentIdentifier returns the payment ID carried in a payload, or
// "" when the extension or id is absent. With validate set, a malformed id
// is an error instead of a result.
func ExtractPaymentIdentifier(payload x402.PaymentPayload, validate bool) (string, error) {
	raw, ok := payload.Extensions[PAYMENT_IDENTIFIER]
	if !ok {
		return "", nil
	}

	ext, err := decodeExtension(raw)
	if err != nil {
		return "", err
	}

	if ext.Info.ID == "" {
		return "", nil
	}
	if validate && !IsValidPaymentID(ext.Info.ID) {
		return "", fmt.Errorf("invalid payment ID format")
	}
	return ext.Info.ID, nil
}

// ExtractPaymentIdentifierFromBytes extracts the payment ID from raw
// payload JSON, for facilitators that have not decoded the payload yet.
// V1 payloads have no extensions and always yield "".
func ExtractPaymentIdentifierFromBytes(payloadBytes []byte, validate bool) (string, error) {
	var versionCheck struct {
		X402Version int `json:"x402Version"`
	}
	if err := json.Unmarshal(payloadBytes, &versionCheck); err != nil {
		return "", fmt.Errorf("failed to parse version: %w", err)
	}
	if versionCheck.X402Version == 1 {
		return "", nil
	}

	var payload x402.PaymentPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return "", fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return ExtractPaymentIdentifier(payload, validate)
}

// ExtractAndValidatePaymentIdentifier combines extraction and structural
// validation. An absent extension is valid with an empty id.
func ExtractAndValidatePaymentIdentifier(payload x402.PaymentPayload) (string, ValidationResult) {
	raw, ok := payload.Extensions[PAYMENT_IDENTIFIER]
	if !ok {
		return "", ValidationResult{Valid: true}
	}

	if validation := ValidatePaymentIdentifier(raw); !validation.Valid {
		return "", validation
	}

	ext, err := decodeExtension(raw)
	if err != nil {
		return "", invalidResult("%v", err)
	}
	return ext.Info.ID, ValidationResult{Valid: true}
}

// HasPaymentIdentifier reports whether the payload declares the extension
// at all, populated or not.
func HasPaymentIdentifier(payload x402.PaymentPayload) bool {
	_, ok := payload.Extensions[PAYMENT_IDENTIFIER]
	return ok
}

// IsPaymentIdentifierRequired reads the server's required flag out of an
// extension object. Malformed objects read as not required.
func IsPaymentIdentifierRequired(extension interface{}) bool {
	if extension == nil {
		return false
	}
	ext, err := decodeExtension(extension)
	if err != nil {
		return false
	}
	return ext.Info.Required
}

// ValidatePaymentIdentifierRequirement checks a client payload against the
// server's declaration: when the server requires an identifier, the payload
// must carry a well-formed one.
func ValidatePaymentIdentifierRequirement(payload x402.PaymentPayload, serverRequired bool) ValidationResult {
	if !serverRequired {
		return ValidationResult{Valid: true}
	}

	id, err := ExtractPaymentIdentifier(payload, false)
	if err != nil {
		return invalidResult("Failed to extract payment identifier: %v", err)
	}
	if id == "" {
		return invalidResult("Server requires a payment identifier but none was provided")
	}
	if !IsValidPaymentID(id) {
		return badIDFormatResult()
	}
	return ValidationResult{Valid: true}
}

// ExtractPaymentIdentifierFromPaymentRequired reads the required flag out
// of a raw 402 response body, so a client knows whether to generate an id
// before paying. V1 bodies never require one.
func ExtractPaymentIdentifierFromPaymentRequired(paymentRequiredBytes []byte) (bool, error) {
	var versionCheck struct {
		X402Version int `json:"x402Version"`
	}
	if err := json.Unmarshal(paymentRequiredBytes, &versionCheck); err != nil {
		return false, fmt.Errorf("failed to parse version: %w", err)
	}
	if versionCheck.X402Version == 1 {
		return false, nil
	}

	var paymentRequired struct {
		Extensions map[string]interface{} `json:"extensions"`
	}
	if err := json.Unmarshal(paymentRequiredBytes, &paymentRequired); err != nil {
		return false, fmt.Errorf("failed to unmarshal payment required: %w", err)
	}

	ext, ok := paymentRequired.Extensions[PAYMENT_IDENTIFIER]
	if !ok {
		return false, nil
	}
	return IsPaymentIdentifierRequired(ext), nil
}
