// Package paymentidentifier implements the payment-identifier extension:
// client-generated unique IDs attached to payment payloads so resource
// servers and facilitators can correlate, deduplicate, and reconcile
// payments end to end.
package paymentidentifier

import "regexp"

// PAYMENT_IDENTIFIER is the extension key used in PaymentRequired and
// PaymentPayload extensions.
const PAYMENT_IDENTIFIER = "payment-identifier"

// Payment ID format bounds
const (
	PAYMENT_ID_MIN_LENGTH = 16
	PAYMENT_ID_MAX_LENGTH = 128
)

// PAYMENT_ID_PATTERN matches valid payment IDs: alphanumeric characters,
// hyphens, and underscores.
var PAYMENT_ID_PATTERN = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// PaymentIdentifierInfo is the info object of the extension. The server
// declares whether an ID is required; the client fills in the ID.
type PaymentIdentifierInfo struct {
	Required bool   `json:"required"`
	ID       string `json:"id,omitempty"`
}

// PaymentIdentifierExtension is the extension object as it appears under
// the payment-identifier key.
type PaymentIdentifierExtension struct {
	Info   PaymentIdentifierInfo  `json:"info"`
	Schema map[string]interface{} `json:"schema,omitempty"`
}

// ValidationResult reports the outcome of validating an extension object.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// DeclarePaymentIdentifierExtension builds the server-side extension
// declaration for inclusion in PaymentRequired.extensions.
func DeclarePaymentIdentifierExtension(required bool) map[string]interface{} {
	return map[string]interface{}{
		PAYMENT_IDENTIFIER: PaymentIdentifierExtension{
			Info: PaymentIdentifierInfo{
				Required: required,
			},
			Schema: paymentIdentifierSchema(),
		},
	}
}

func paymentIdentifierSchema() map[string]interface{} {
	return map[string]interface{}{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "object",
		"properties": map[string]interface{}{
			"required": map[string]interface{}{
				"type":        "boolean",
				"description": "Whether the server requires a payment identifier.",
			},
			"id": map[string]interface{}{
				"type":      "string",
				"pattern":   "^[a-zA-Z0-9_-]+$",
				"minLength": PAYMENT_ID_MIN_LENGTH,
				"maxLength": PAYMENT_ID_MAX_LENGTH,
				"description": "Client-generated unique payment identifier.",
			},
		},
		"required": []string{"required"},
	}
}
