package eip2612gassponsor

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// ExtractEip2612GasSponsoringInfo pulls the client-populated permit data out
// of a payload's extensions map. It returns nil (without error) when the
// extension is absent or still carries only the server's declaration, since
// a client that cannot sign a permit simply echoes the declaration back.
func ExtractEip2612GasSponsoringInfo(extensions map[string]interface{}) (*Info, error) {
	raw, ok := extensions[EIP2612GasSponsoring]
	if !ok {
		return nil, nil
	}

	// The extension arrives as untyped JSON; remarshal it into the typed
	// shape so missing fields read as empty strings.
	rawJSON, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal eip2612GasSponsoring extension: %w", err)
	}
	var wire struct {
		Info Info `json:"info"`
	}
	if err := json.Unmarshal(rawJSON, &wire); err != nil {
		return nil, fmt.Errorf("failed to unmarshal eip2612GasSponsoring extension: %w", err)
	}

	if !permitComplete(wire.Info) {
		return nil, nil
	}
	return &wire.Info, nil
}

// ExtractEip2612GasSponsoringInfoFromPayloadBytes is the raw-bytes variant
// of ExtractEip2612GasSponsoringInfo for callers that have not decoded the
// payment payload yet.
func ExtractEip2612GasSponsoringInfoFromPayloadBytes(payloadBytes []byte) (*Info, error) {
	var payload struct {
		Extensions map[string]interface{} `json:"extensions"`
	}
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return ExtractEip2612GasSponsoringInfo(payload.Extensions)
}

func permitComplete(info Info) bool {
	return info.From != "" && info.Asset != "" && info.Spender != "" &&
		info.Amount != "" && info.Nonce != "" && info.Deadline != "" &&
		info.Signature != "" && info.Version != ""
}

var (
	addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	numericPattern = regexp.MustCompile(`^[0-9]+$`)
	hexPattern     = regexp.MustCompile(`^0x[a-fA-F0-9]+$`)
	versionPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*$`)
)

// ValidateEip2612GasSponsoringInfo checks every permit field against the
// format the schema advertises, before anything is handed to a signer.
func ValidateEip2612GasSponsoringInfo(info *Info) bool {
	return addressPattern.MatchString(info.From) &&
		addressPattern.MatchString(info.Asset) &&
		addressPattern.MatchString(info.Spender) &&
		numericPattern.MatchString(info.Amount) &&
		numericPattern.MatchString(info.Nonce) &&
		numericPattern.MatchString(info.Deadline) &&
		hexPattern.MatchString(info.Signature) &&
		versionPattern.MatchString(info.Version)
}
