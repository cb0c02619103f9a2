package http

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"

	x402 "github.com/x402/x402-go"
	"github.com/x402/x402-go/types"
)

// Base64 regex pattern - requires at least one character.
var base64Regex = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

// ValidateAndDecodePaymentHeader validates and decodes a payment header
// string: base64 format, JSON structure, and the required fields of the
// detected protocol version. Returns the decoded payload JSON.
func ValidateAndDecodePaymentHeader(paymentHeader string) ([]byte, error) {
	if paymentHeader == "" {
		return nil, fmt.Errorf("payment header is empty")
	}

	if !base64Regex.MatchString(paymentHeader) {
		return nil, fmt.Errorf("invalid payment header format: not valid base64")
	}

	decoded, err := base64.StdEncoding.DecodeString(paymentHeader)
	if err != nil {
		return nil, fmt.Errorf("invalid payment header format: base64 decoding failed - %v", err)
	}

	var rawPayload map[string]interface{}
	if err := json.Unmarshal(decoded, &rawPayload); err != nil {
		return nil, fmt.Errorf("invalid payment header format: not valid JSON - %v", err)
	}

	version, err := types.DetectVersion(decoded)
	if err != nil {
		return nil, err
	}

	if _, exists := rawPayload["payload"]; !exists {
		return nil, fmt.Errorf("missing required field: payload")
	}
	if _, ok := rawPayload["payload"].(map[string]interface{}); !ok {
		return nil, fmt.Errorf("invalid field type: payload must be an object")
	}

	switch version {
	case x402.ProtocolVersionV1:
		for _, field := range []string{"scheme", "network"} {
			if _, exists := rawPayload[field]; !exists {
				return nil, fmt.Errorf("missing required field: %s", field)
			}
			if _, ok := rawPayload[field].(string); !ok {
				return nil, fmt.Errorf("invalid field type: %s must be a string", field)
			}
		}

	case x402.ProtocolVersion:
		if _, exists := rawPayload["accepted"]; !exists {
			return nil, fmt.Errorf("missing required field: accepted")
		}
		if _, ok := rawPayload["accepted"].(map[string]interface{}); !ok {
			return nil, fmt.Errorf("invalid field type: accepted must be an object")
		}

		if resource, exists := rawPayload["resource"]; exists && resource != nil {
			resourceMap, ok := resource.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("invalid field type: resource must be an object")
			}
			for _, field := range []string{"url", "description", "mimeType"} {
				if value, exists := resourceMap[field]; exists && value != nil {
					if _, ok := value.(string); !ok {
						return nil, fmt.Errorf("invalid field type: resource.%s must be a string", field)
					}
				}
			}
		}
	}

	return decoded, nil
}
