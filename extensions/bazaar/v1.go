package bazaar

import (
	"encoding/json"
	"strings"

	"github.com/x402/x402-go/types"
)

// ExtractDiscoveryInfoV1 extracts discovery info from a legacy-wire
// requirement's outputSchema. v1 predates the extensions map, so
// discoverable endpoints carry {input, output} in outputSchema instead.
// Returns nil when the requirement is not discoverable.
func ExtractDiscoveryInfoV1(requirements types.PaymentRequirementsV1) (*DiscoveryInfo, error) {
	if requirements.OutputSchema == nil {
		return nil, nil
	}

	var schema map[string]interface{}
	if err := json.Unmarshal(*requirements.OutputSchema, &schema); err != nil {
		return nil, nil
	}

	inputRaw, ok := schema["input"].(map[string]interface{})
	if !ok {
		return nil, nil
	}

	method, _ := inputRaw["method"].(string)
	if !IsQueryMethod(method) && !IsBodyMethod(method) {
		return nil, nil
	}

	info := &DiscoveryInfo{}

	if IsQueryMethod(method) {
		input := QueryInput{
			Type:   stringOr(inputRaw["type"], "http"),
			Method: QueryParamMethods(strings.ToUpper(method)),
		}
		// Accept both camelCase and snake_case field names
		if params, ok := inputRaw["queryParams"].(map[string]interface{}); ok {
			input.QueryParams = params
		} else if params, ok := inputRaw["query_params"].(map[string]interface{}); ok {
			input.QueryParams = params
		}
		if headers, ok := inputRaw["headers"].(map[string]interface{}); ok {
			input.Headers = headers
		}
		info.Input = input
	} else {
		input := BodyInput{
			Type:   stringOr(inputRaw["type"], "http"),
			Method: BodyMethods(strings.ToUpper(method)),
		}
		if bodyType, ok := inputRaw["bodyType"].(string); ok {
			input.BodyType = normalizeBodyType(bodyType)
		} else if bodyType, ok := inputRaw["body_type"].(string); ok {
			input.BodyType = normalizeBodyType(bodyType)
		}
		if body, ok := inputRaw["body"].(map[string]interface{}); ok {
			input.Body = body
		} else if body, ok := inputRaw["bodyFields"].(map[string]interface{}); ok {
			input.Body = body
		} else if body, ok := inputRaw["body_fields"].(map[string]interface{}); ok {
			input.Body = body
		}
		if headers, ok := inputRaw["headers"].(map[string]interface{}); ok {
			input.Headers = headers
		}
		info.Input = input
	}

	if output, ok := schema["output"]; ok {
		if outputMap, ok := output.(map[string]interface{}); ok {
			outInfo := &OutputInfo{Type: "json"}
			if example, ok := outputMap["example"]; ok {
				outInfo.Example = example
			} else {
				outInfo.Example = outputMap
			}
			info.Output = outInfo
		}
	}

	return info, nil
}

func stringOr(v interface{}, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

func normalizeBodyType(bodyType string) string {
	if strings.Contains(bodyType, "form-data") {
		return "form-data"
	}
	return bodyType
}
