package siwx

import (
	"strings"

	"github.com/x402/x402-go/mechanisms/svm"
)

// Human aliases for well-known Solana genesis-hash references. Unknown
// references appear verbatim in the Chain ID line.
var solanaChainAliases = map[string]string{
	svm.SolanaMainnetCAIP2: "mainnet",
	svm.SolanaDevnetCAIP2:  "devnet",
	svm.SolanaTestnetCAIP2: "testnet",
}

// BuildMessage renders the CAIP-122 message for a payload. For eip155
// chains this is the EIP-4361 form; for solana chains the same ABNF with
// the Solana preamble and the genesis-hash reference (or its human alias)
// as the Chain ID.
//
// The message covers every field except the signature itself; the verifier
// rebuilds it from the received payload.
func BuildMessage(p Payload) string {
	var b strings.Builder

	b.WriteString(p.Domain)
	if p.Namespace() == "solana" {
		b.WriteString(" wants you to sign in with your Solana account:\n")
	} else {
		b.WriteString(" wants you to sign in with your Ethereum account:\n")
	}
	b.WriteString(p.Address)
	b.WriteString("\n")

	if p.Statement != "" {
		b.WriteString("\n")
		b.WriteString(p.Statement)
		b.WriteString("\n")
	}

	b.WriteString("\nURI: ")
	b.WriteString(p.URI)
	b.WriteString("\nVersion: ")
	b.WriteString(p.Version)
	b.WriteString("\nChain ID: ")
	b.WriteString(chainIDLine(p.ChainID))
	b.WriteString("\nNonce: ")
	b.WriteString(p.Nonce)
	b.WriteString("\nIssued At: ")
	b.WriteString(p.IssuedAt)

	if p.ExpirationTime != "" {
		b.WriteString("\nExpiration Time: ")
		b.WriteString(p.ExpirationTime)
	}
	if p.NotBefore != "" {
		b.WriteString("\nNot Before: ")
		b.WriteString(p.NotBefore)
	}
	if p.RequestID != "" {
		b.WriteString("\nRequest ID: ")
		b.WriteString(p.RequestID)
	}
	if len(p.Resources) > 0 {
		b.WriteString("\nResources:")
		for _, resource := range p.Resources {
			b.WriteString("\n- ")
			b.WriteString(resource)
		}
	}

	return b.String()
}

// chainIDLine converts a CAIP-2 identifier into the Chain ID line value:
// the numeric reference for eip155, the alias (or genesis reference) for
// solana.
func chainIDLine(chainID string) string {
	parts := strings.SplitN(chainID, ":", 2)
	if len(parts) != 2 {
		return chainID
	}
	if parts[0] == "solana" {
		if alias, ok := solanaChainAliases[chainID]; ok {
			return alias
		}
	}
	return parts[1]
}
