package svm

import (
	"context"
	"encoding/json"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
)

// ExactSvmPayload is the scheme payload for SVM exact payments: a
// partially-signed Solana transaction, base64 encoded. The fee payer
// countersigns and submits it.
type ExactSvmPayload struct {
	Transaction string `json:"transaction"`
}

// ClientSvmSigner signs payment transactions on the client side.
type ClientSvmSigner interface {
	// Address returns the signer's Solana public key
	Address() solana.PublicKey

	// SignTransaction partially signs a transaction in place with the
	// client's key
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}

// AssetInfo describes an SPL token
type AssetInfo struct {
	Address  string // mint address
	Symbol   string
	Decimals int
}

// NetworkConfig contains network-specific configuration
type NetworkConfig struct {
	Name         string
	CAIP2        string
	RPCURL       string
	DefaultAsset AssetInfo
}

// ClientConfig contains optional client configuration
type ClientConfig struct {
	// RPCURL overrides the network's default RPC endpoint
	RPCURL string
}

// ToMap converts an ExactSvmPayload to a map for JSON marshaling
func (p *ExactSvmPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"transaction": p.Transaction,
	}
}

// PayloadFromMap creates an ExactSvmPayload from a map
func PayloadFromMap(data map[string]interface{}) (*ExactSvmPayload, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload data: %w", err)
	}

	var payload ExactSvmPayload
	if err := json.Unmarshal(jsonBytes, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	if payload.Transaction == "" {
		return nil, fmt.Errorf("missing transaction field in payload")
	}

	return &payload, nil
}

// IsValidNetwork reports whether the network (CAIP-2 or legacy name) is a
// supported Solana network.
func IsValidNetwork(network string) bool {
	if _, ok := NetworkConfigs[network]; ok {
		return true
	}
	if _, ok := V1ToV2NetworkMap[network]; ok {
		return true
	}
	return false
}
