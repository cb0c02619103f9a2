// Package evm provides EVM blockchain support for the x402 payment
// protocol: the exact payment scheme over EIP-3009
// transferWithAuthorization and Permit2 witness transfers, EIP-712
// hashing, and universal (EOA / EIP-1271 / ERC-6492) signature
// verification. Client and facilitator scheme implementations live in the
// exact subpackages; the scheme server lives here.
package evm

import (
	x402 "github.com/x402/x402-go"
)

// V1Networks contains the legacy v1 network names routed to the EVM
// mechanism. v1 predates CAIP-2 identifiers, so these are human aliases.
var V1Networks = []string{
	"abstract",
	"abstract-testnet",
	"base-sepolia",
	"base",
	"avalanche-fuji",
	"avalanche",
	"iotex",
	"sei",
	"sei-testnet",
	"polygon",
	"polygon-amoy",
	"peaq",
	"story",
	"educhain",
	"skale-base-sepolia",
}

// ServerOptions returns resource server options that register the EVM
// scheme server for the given networks. With no arguments it registers the
// eip155 wildcard, covering every EVM network.
func ServerOptions(networks ...string) []x402.ResourceServerOption {
	evmServer := NewExactEvmServer()

	if len(networks) == 0 {
		networks = []string{"eip155:*"}
	}

	opts := make([]x402.ResourceServerOption, 0, len(networks))
	for _, network := range networks {
		opts = append(opts, x402.WithSchemeServer(x402.Network(network), evmServer))
	}

	return opts
}
