package x402

import "fmt"

// ValidatePaymentPayload checks the fields every payload must carry before
// it is signed or dispatched. Scheme-specific payload contents are the
// consuming mechanism's concern.
func ValidatePaymentPayload(p PaymentPayload) error {
	switch {
	case p.X402Version < ProtocolVersionV1 || p.X402Version > ProtocolVersion:
		return fmt.Errorf("unsupported x402 version: %d", p.X402Version)
	case p.Accepted.Scheme == "":
		return fmt.Errorf("payment scheme is required")
	case p.Accepted.Network == "":
		return fmt.Errorf("payment network is required")
	case p.Payload == nil:
		return fmt.Errorf("payment payload is required")
	}
	return nil
}

// ValidatePaymentRequirements checks the fields common to both wire
// generations. Amount is left to the version-specific facilitators: v1
// carries maxAmountRequired instead.
func ValidatePaymentRequirements(r PaymentRequirements) error {
	switch {
	case r.Scheme == "":
		return fmt.Errorf("payment scheme is required")
	case r.Network == "":
		return fmt.Errorf("payment network is required")
	case r.Asset == "":
		return fmt.Errorf("payment asset is required")
	case r.PayTo == "":
		return fmt.Errorf("payment recipient is required")
	}
	return nil
}

// findByNetworkAndScheme resolves a registered implementation for a
// (network, scheme) pair. An exact network key wins; otherwise registered
// networks are tried with wildcard matching in both directions, so a
// "eip155:*" registration serves "eip155:8453" and vice versa.
func findByNetworkAndScheme[T any](networkMap map[Network]map[string]T, scheme string, network Network) T {
	var zero T

	if impl, ok := networkMap[network][scheme]; ok {
		return impl
	}

	for registered, schemeMap := range networkMap {
		if !network.Match(registered) && !registered.Match(network) {
			continue
		}
		if impl, ok := schemeMap[scheme]; ok {
			return impl
		}
	}
	return zero
}

// findSchemesByNetwork returns the scheme map registered for a network,
// resolving wildcards the same way as findByNetworkAndScheme. Nil when no
// registration covers the network.
func findSchemesByNetwork[T any](networkMap map[Network]map[string]T, network Network) map[string]T {
	if schemeMap, ok := networkMap[network]; ok {
		return schemeMap
	}
	for registered, schemeMap := range networkMap {
		if network.Match(registered) || registered.Match(network) {
			return schemeMap
		}
	}
	return nil
}
