package types

import "encoding/json"

// PaymentPayloadV1 is the legacy wire payload. Unlike v2 there is no
// accepted block: scheme and network ride at the top level and the client
// does not echo the requirements it is paying against.
type PaymentPayloadV1 struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     string                 `json:"network"`
	Payload     map[string]interface{} `json:"payload"`
}

// PaymentRequirementsV1 is the legacy requirements document. The amount
// field is maxAmountRequired and the resource URL is inlined rather than
// carried in a separate resource object.
type PaymentRequirementsV1 struct {
	Scheme            string           `json:"scheme"`
	Network           string           `json:"network"`
	MaxAmountRequired string           `json:"maxAmountRequired"`
	Resource          string           `json:"resource"`
	Description       string           `json:"description,omitempty"`
	MimeType          string           `json:"mimeType,omitempty"`
	PayTo             string           `json:"payTo"`
	MaxTimeoutSeconds int              `json:"maxTimeoutSeconds"`
	Asset             string           `json:"asset"`
	OutputSchema      *json.RawMessage `json:"outputSchema,omitempty"`
	Extra             *json.RawMessage `json:"extra,omitempty"`
}

// PaymentRequiredV1 is the legacy 402 body. V1 carried it in the response
// body rather than the PAYMENT-REQUIRED header.
type PaymentRequiredV1 struct {
	X402Version int                     `json:"x402Version"`
	Error       string                  `json:"error,omitempty"`
	Accepts     []PaymentRequirementsV1 `json:"accepts"`
}

// ToPaymentPayloadV1 decodes raw bytes into a v1 payload.
func ToPaymentPayloadV1(data []byte) (*PaymentPayloadV1, error) {
	payload := new(PaymentPayloadV1)
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// ToPaymentRequirementsV1 decodes raw bytes into v1 requirements.
func ToPaymentRequirementsV1(data []byte) (*PaymentRequirementsV1, error) {
	requirements := new(PaymentRequirementsV1)
	if err := json.Unmarshal(data, requirements); err != nil {
		return nil, err
	}
	return requirements, nil
}

// ToPaymentRequiredV1 decodes raw bytes into a v1 402 body.
func ToPaymentRequiredV1(data []byte) (*PaymentRequiredV1, error) {
	required := new(PaymentRequiredV1)
	if err := json.Unmarshal(data, required); err != nil {
		return nil, err
	}
	return required, nil
}
