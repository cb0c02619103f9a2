// Package svm provides SVM (Solana) support for the x402 payment
// protocol: the exact payment scheme as a partially-signed SPL
// TransferChecked transaction that the facilitator's fee payer
// countersigns and submits. The client scheme lives in exact/client; the
// scheme server lives here.
package svm

import (
	x402 "github.com/x402/x402-go"
)

// V1Networks contains the legacy v1 network names routed to the SVM
// mechanism.
var V1Networks = []string{
	SolanaMainnetV1,
	SolanaDevnetV1,
	SolanaTestnetV1,
}

// ServerOptions returns resource server options that register the SVM
// scheme server for the given networks. With no arguments it registers
// all known Solana networks.
func ServerOptions(networks ...string) []x402.ResourceServerOption {
	svmServer := NewExactSvmServer()

	if len(networks) == 0 {
		networks = []string{
			SolanaMainnetCAIP2,
			SolanaDevnetCAIP2,
			SolanaTestnetCAIP2,
		}
	}

	opts := make([]x402.ResourceServerOption, 0, len(networks))
	for _, network := range networks {
		opts = append(opts, x402.WithSchemeServer(x402.Network(network), svmServer))
	}

	return opts
}
