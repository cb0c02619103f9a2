package bazaar

import (
	"encoding/json"
	"fmt"
	"strings"

	x402 "github.com/x402/x402-go"
	"github.com/x402/x402-go/types"
	"github.com/xeipuuv/gojsonschema"
)

// ValidationResult reports the outcome of checking a discovery extension's
// info against its embedded JSON Schema.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// ValidateDiscoveryExtension checks that an extension's info conforms to
// the schema it carries. The schema travels with the declaration so a
// facilitator can validate listings without knowing the resource.
func ValidateDiscoveryExtension(extension DiscoveryExtension) ValidationResult {
	schemaJSON, err := json.Marshal(extension.Schema)
	if err != nil {
		return ValidationResult{Valid: false, Errors: []string{fmt.Sprintf("Failed to marshal schema: %v", err)}}
	}
	infoJSON, err := json.Marshal(extension.Info)
	if err != nil {
		return ValidationResult{Valid: false, Errors: []string{fmt.Sprintf("Failed to marshal info: %v", err)}}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(infoJSON),
	)
	if err != nil {
		return ValidationResult{Valid: false, Errors: []string{fmt.Sprintf("Schema validation failed: %v", err)}}
	}
	if result.Valid() {
		return ValidationResult{Valid: true}
	}

	var errs []string
	for _, desc := range result.Errors() {
		errs = append(errs, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}
	return ValidationResult{Valid: false, Errors: errs}
}

// DiscoveredResource is a cataloguable listing assembled from a payment:
// where the resource lives, how to call it, and its discovery metadata.
type DiscoveredResource struct {
	ResourceURL   string
	Method        string
	X402Version   int
	DiscoveryInfo *DiscoveryInfo
}

// ExtractDiscoveryInfo assembles a DiscoveredResource from raw payload and
// requirements bytes, the form facilitator hooks receive them in. A payment
// without discovery metadata yields (nil, nil): not discoverable is not an
// error. V2 payments carry the metadata in extensions, v1 payments in the
// requirements' outputSchema.
func ExtractDiscoveryInfo(payloadBytes []byte, requirementsBytes []byte, validate bool) (*DiscoveredResource, error) {
	var versionCheck struct {
		X402Version int `json:"x402Version"`
	}
	if err := json.Unmarshal(payloadBytes, &versionCheck); err != nil {
		return nil, fmt.Errorf("failed to parse version: %w", err)
	}

	var (
		info        *DiscoveryInfo
		resourceURL string
		err         error
	)
	switch version := versionCheck.X402Version; version {
	case 2:
		info, resourceURL, err = discoveryFromV2Payload(payloadBytes, validate)
	case 1:
		info, resourceURL, err = discoveryFromV1Requirements(requirementsBytes)
	default:
		return nil, fmt.Errorf("unsupported version: %d", version)
	}
	if err != nil || info == nil {
		return nil, err
	}

	method := ""
	switch input := info.Input.(type) {
	case QueryInput:
		method = string(input.Method)
	case BodyInput:
		method = string(input.Method)
	}
	if method == "" {
		return nil, fmt.Errorf("failed to extract method from discovery info")
	}

	return &DiscoveredResource{
		ResourceURL:   resourceURL,
		Method:        method,
		X402Version:   versionCheck.X402Version,
		DiscoveryInfo: info,
	}, nil
}

func discoveryFromV2Payload(payloadBytes []byte, validate bool) (*DiscoveryInfo, string, error) {
	var payload x402.PaymentPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal v2 payload: %w", err)
	}

	resourceURL := ""
	if payload.Resource != nil {
		resourceURL = payload.Resource.URL
	}

	raw, ok := payload.Extensions[BAZAAR]
	if !ok {
		return nil, resourceURL, nil
	}

	extensionJSON, err := json.Marshal(raw)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal bazaar extension: %w", err)
	}
	var extension DiscoveryExtension
	if err := json.Unmarshal(extensionJSON, &extension); err != nil {
		return nil, "", fmt.Errorf("v2 discovery extension extraction failed: %w", err)
	}

	if validate {
		if result := ValidateDiscoveryExtension(extension); !result.Valid {
			return nil, "", fmt.Errorf("v2 discovery extension validation failed: %s", result.Errors)
		}
	}
	return &extension.Info, resourceURL, nil
}

func discoveryFromV1Requirements(requirementsBytes []byte) (*DiscoveryInfo, string, error) {
	var requirements types.PaymentRequirementsV1
	if err := json.Unmarshal(requirementsBytes, &requirements); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal v1 requirements: %w", err)
	}

	info, err := ExtractDiscoveryInfoV1(requirements)
	if err != nil {
		return nil, "", fmt.Errorf("v1 discovery extraction failed: %w", err)
	}
	return info, requirements.Resource, nil
}

// ExtractDiscoveryInfoFromExtension extracts the info from an already
// decoded v2 extension. Prefer ExtractDiscoveryInfo when starting from
// raw bytes.
func ExtractDiscoveryInfoFromExtension(extension DiscoveryExtension, validate bool) (*DiscoveryInfo, error) {
	if validate {
		if result := ValidateDiscoveryExtension(extension); !result.Valid {
			errorMsg := "Unknown error"
			if len(result.Errors) > 0 {
				errorMsg = strings.Join(result.Errors, ", ")
			}
			return nil, fmt.Errorf("invalid discovery extension: %s", errorMsg)
		}
	}
	return &extension.Info, nil
}

// ExtractionResult is ValidateAndExtract's combined outcome: the info is
// set only when validation passed.
type ExtractionResult struct {
	Valid  bool
	Info   *DiscoveryInfo
	Errors []string
}

// ValidateAndExtract validates a discovery extension and hands back its
// info in one step.
func ValidateAndExtract(extension DiscoveryExtension) ExtractionResult {
	result := ValidateDiscoveryExtension(extension)
	if !result.Valid {
		return ExtractionResult{Valid: false, Errors: result.Errors}
	}
	return ExtractionResult{Valid: true, Info: &extension.Info}
}
