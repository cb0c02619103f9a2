// Package bazaar implements the bazaar discovery extension: resource
// servers declare how a paid endpoint is called (input shape, example
// output), facilitators validate and catalog the declarations, and
// marketplaces list the discovered resources.
package bazaar

import (
	"encoding/json"
	"fmt"
	"strings"
)

// BAZAAR is the extension key used in PaymentRequired and PaymentPayload
// extensions.
const BAZAAR = "bazaar"

// QueryParamMethods are HTTP methods whose input travels in query
// parameters.
type QueryParamMethods string

// BodyMethods are HTTP methods whose input travels in the request body.
type BodyMethods string

const (
	MethodGet    QueryParamMethods = "GET"
	MethodHead   QueryParamMethods = "HEAD"
	MethodDelete QueryParamMethods = "DELETE"

	MethodPost  BodyMethods = "POST"
	MethodPut   BodyMethods = "PUT"
	MethodPatch BodyMethods = "PATCH"
)

// IsQueryMethod reports whether the HTTP method carries input in query
// parameters.
func IsQueryMethod(method string) bool {
	switch strings.ToUpper(method) {
	case "GET", "HEAD", "DELETE":
		return true
	}
	return false
}

// IsBodyMethod reports whether the HTTP method carries input in the
// request body.
func IsBodyMethod(method string) bool {
	switch strings.ToUpper(method) {
	case "POST", "PUT", "PATCH":
		return true
	}
	return false
}

// QueryInput describes an endpoint invoked with query parameters.
type QueryInput struct {
	Type        string                 `json:"type"`
	Method      QueryParamMethods      `json:"method"`
	QueryParams map[string]interface{} `json:"queryParams,omitempty"`
	Headers     map[string]interface{} `json:"headers,omitempty"`
}

// BodyInput describes an endpoint invoked with a request body.
type BodyInput struct {
	Type     string                 `json:"type"`
	Method   BodyMethods            `json:"method"`
	BodyType string                 `json:"bodyType,omitempty"`
	Body     map[string]interface{} `json:"body,omitempty"`
	Headers  map[string]interface{} `json:"headers,omitempty"`
}

// OutputInfo describes the shape of a successful response.
type OutputInfo struct {
	Type    string      `json:"type,omitempty"`
	Example interface{} `json:"example,omitempty"`
}

// DiscoveryInfo is the info object of the bazaar extension. Input is a
// QueryInput or BodyInput depending on the HTTP method.
type DiscoveryInfo struct {
	Input  interface{} `json:"input"`
	Output *OutputInfo `json:"output,omitempty"`
}

// UnmarshalJSON decodes Input into a QueryInput or BodyInput based on the
// method discriminator.
func (d *DiscoveryInfo) UnmarshalJSON(data []byte) error {
	var raw struct {
		Input  json.RawMessage `json:"input"`
		Output *OutputInfo     `json:"output,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.Output = raw.Output

	if len(raw.Input) == 0 {
		return fmt.Errorf("discovery info missing input")
	}

	var probe struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(raw.Input, &probe); err != nil {
		return fmt.Errorf("failed to parse discovery input: %w", err)
	}

	switch {
	case IsQueryMethod(probe.Method):
		var input QueryInput
		if err := json.Unmarshal(raw.Input, &input); err != nil {
			return err
		}
		d.Input = input
	case IsBodyMethod(probe.Method):
		var input BodyInput
		if err := json.Unmarshal(raw.Input, &input); err != nil {
			return err
		}
		d.Input = input
	default:
		return fmt.Errorf("unsupported discovery method: %q", probe.Method)
	}

	return nil
}

// DiscoveryExtension is the extension object as it appears under the
// bazaar key.
type DiscoveryExtension struct {
	Info   DiscoveryInfo          `json:"info"`
	Schema map[string]interface{} `json:"schema"`
}

// DeclareDiscoveryExtension builds a bazaar extension declaration for
// inclusion in PaymentRequired.extensions. The transport method is filled
// in by the resource server extension at response time.
func DeclareDiscoveryExtension(info DiscoveryInfo) (DiscoveryExtension, error) {
	if info.Input == nil {
		return DiscoveryExtension{}, fmt.Errorf("discovery info requires an input")
	}

	switch info.Input.(type) {
	case QueryInput, BodyInput:
	default:
		return DiscoveryExtension{}, fmt.Errorf("discovery input must be a QueryInput or BodyInput, got %T", info.Input)
	}

	return DiscoveryExtension{
		Info:   info,
		Schema: discoverySchema(),
	}, nil
}

func discoverySchema() map[string]interface{} {
	return map[string]interface{}{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "object",
		"properties": map[string]interface{}{
			"input": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"type":   map[string]interface{}{"type": "string"},
					"method": map[string]interface{}{"type": "string"},
				},
				"required": []string{"type"},
			},
			"output": map[string]interface{}{
				"type": "object",
			},
		},
		"required": []string{"input"},
	}
}
