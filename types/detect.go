package types

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// DetectVersion reads the x402Version discriminator from raw payload or
// requirements bytes without committing to a full unmarshal.
func DetectVersion(data []byte) (int, error) {
	var probe struct {
		X402Version int `json:"x402Version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return 0, fmt.Errorf("failed to detect x402 version: %w", err)
	}
	if probe.X402Version < 1 || probe.X402Version > 2 {
		return 0, fmt.Errorf("unsupported x402 version: %d", probe.X402Version)
	}
	return probe.X402Version, nil
}

// RequirementsInfo is the routing slice of payment requirements: enough to
// pick a facilitator without unmarshaling the whole document.
type RequirementsInfo struct {
	Scheme  string `json:"scheme"`
	Network string `json:"network"`
}

// ExtractRequirementsInfo pulls scheme and network out of raw requirements
// bytes. Works for both wire versions; scheme and network sit at the top
// level in each.
func ExtractRequirementsInfo(data []byte) (*RequirementsInfo, error) {
	var info RequirementsInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to extract requirements info: %w", err)
	}
	if info.Scheme == "" || info.Network == "" {
		return nil, fmt.Errorf("requirements missing scheme or network")
	}
	return &info, nil
}

// MatchPayloadToRequirements reports whether a payment payload was produced
// for the given requirements. V2 demands deep structural equality between
// payload.accepted and the requirements; V1 matches on (scheme, network)
// only — V1 payloads carry no copy of the offer.
func MatchPayloadToRequirements(version int, payloadBytes, requirementsBytes []byte) (bool, error) {
	switch version {
	case 1:
		var payload struct {
			Scheme  string `json:"scheme"`
			Network string `json:"network"`
		}
		if err := json.Unmarshal(payloadBytes, &payload); err != nil {
			return false, fmt.Errorf("invalid v1 payload: %w", err)
		}
		info, err := ExtractRequirementsInfo(requirementsBytes)
		if err != nil {
			return false, err
		}
		return payload.Scheme == info.Scheme && payload.Network == info.Network, nil

	case 2:
		var payload struct {
			Accepted json.RawMessage `json:"accepted"`
		}
		if err := json.Unmarshal(payloadBytes, &payload); err != nil {
			return false, fmt.Errorf("invalid v2 payload: %w", err)
		}
		if len(payload.Accepted) == 0 {
			return false, nil
		}
		return jsonEqual(payload.Accepted, requirementsBytes), nil

	default:
		return false, fmt.Errorf("unsupported x402 version: %d", version)
	}
}

// jsonEqual compares two JSON documents structurally, ignoring field order.
func jsonEqual(a, b []byte) bool {
	var aVal, bVal interface{}
	if err := json.Unmarshal(a, &aVal); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bVal); err != nil {
		return false
	}
	return reflect.DeepEqual(aVal, bVal)
}
