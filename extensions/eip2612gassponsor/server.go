package eip2612gassponsor

// DeclareEip2612GasSponsoringExtension builds the declaration a resource
// server includes in PaymentRequired.extensions to advertise that its
// facilitator accepts gasless EIP-2612 permits. The declaration carries a
// JSON Schema for the fields the client must populate; the client's signed
// permit replaces the server info on the way back.
func DeclareEip2612GasSponsoringExtension() map[string]interface{} {
	return map[string]interface{}{
		EIP2612GasSponsoring: Extension{
			Info: ServerInfo{
				Description: "The facilitator accepts EIP-2612 gasless Permit to `Permit2` canonical contract.",
				Version:     "1",
			},
			Schema: permitSchema(),
		},
	}
}

func permitSchema() map[string]interface{} {
	stringProp := func(pattern, description string) map[string]interface{} {
		return map[string]interface{}{
			"type":        "string",
			"pattern":     pattern,
			"description": description,
		}
	}

	return map[string]interface{}{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "object",
		"properties": map[string]interface{}{
			"from":      stringProp(`^0x[a-fA-F0-9]{40}$`, "The address of the sender."),
			"asset":     stringProp(`^0x[a-fA-F0-9]{40}$`, "The address of the ERC-20 token contract."),
			"spender":   stringProp(`^0x[a-fA-F0-9]{40}$`, "The address of the spender (Canonical Permit2)."),
			"amount":    stringProp(`^[0-9]+$`, "The amount to approve (uint256). Typically MaxUint."),
			"nonce":     stringProp(`^[0-9]+$`, "The current nonce of the sender."),
			"deadline":  stringProp(`^[0-9]+$`, "The timestamp at which the signature expires."),
			"signature": stringProp(`^0x[a-fA-F0-9]+$`, "The 65-byte concatenated signature (r, s, v) as a hex string."),
			"version":   stringProp(`^[0-9]+(\.[0-9]+)*$`, "Schema version identifier."),
		},
		"required": []string{
			"from", "asset", "spender", "amount", "nonce", "deadline", "signature", "version",
		},
	}
}
