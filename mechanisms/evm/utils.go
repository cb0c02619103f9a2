package evm

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// GetEvmChainId returns the chain ID for a given network
func GetEvmChainId(network string) (*big.Int, error) {
	networkStr := normalizeNetworkName(network)

	if config, ok := NetworkConfigs[networkStr]; ok {
		return config.ChainID, nil
	}

	// Try to parse from CAIP-2 format (eip155:chainId)
	if strings.HasPrefix(networkStr, "eip155:") {
		chainIdStr := strings.TrimPrefix(networkStr, "eip155:")
		chainId, ok := new(big.Int).SetString(chainIdStr, 10)
		if ok {
			return chainId, nil
		}
	}

	return nil, fmt.Errorf("unsupported network: %s", network)
}

// normalizeNetworkName maps legacy v1 network names to CAIP-2 form.
func normalizeNetworkName(network string) string {
	switch network {
	case "base", "base-mainnet":
		return "eip155:8453"
	case "base-sepolia":
		return "eip155:84532"
	}
	return network
}

// IsValidNetwork reports whether the network is a configured network or a
// well-formed eip155:CHAIN_ID identifier.
func IsValidNetwork(network string) bool {
	_, err := GetEvmChainId(network)
	return err == nil
}

// CreateNonce generates a random 32-byte nonce for EIP-3009 authorizations
func CreateNonce() (string, error) {
	nonce := make([]byte, 32)
	_, err := rand.Read(nonce)
	if err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return "0x" + hex.EncodeToString(nonce), nil
}

// CreatePermit2Nonce generates a random uint256 nonce for Permit2
// signatures, returned as a decimal string. Permit2 tracks nonces in
// unordered bitmap form, so any unused random value works.
func CreatePermit2Nonce() (string, error) {
	buf := make([]byte, 32)
	_, err := rand.Read(buf)
	if err != nil {
		return "", fmt.Errorf("failed to generate permit2 nonce: %w", err)
	}
	return new(big.Int).SetBytes(buf).String(), nil
}

// MaxUint256 returns 2^256 - 1, the conventional infinite approval amount.
func MaxUint256() *big.Int {
	one := big.NewInt(1)
	max := new(big.Int).Lsh(one, 256)
	return max.Sub(max, one)
}

// NormalizeAddress ensures an Ethereum address is in the correct format
func NormalizeAddress(address string) string {
	// Remove 0x prefix if present
	addr := strings.TrimPrefix(strings.ToLower(address), "0x")

	// Add 0x prefix back
	return "0x" + addr
}

// IsValidAddress checks if a string is a valid Ethereum address
func IsValidAddress(address string) bool {
	// Remove 0x prefix if present
	addr := strings.TrimPrefix(address, "0x")

	// Check length (40 hex characters)
	if len(addr) != 40 {
		return false
	}

	// Check if all characters are valid hex
	_, err := hex.DecodeString(addr)
	return err == nil
}

// ParseAmount converts a decimal string amount to base units based on token decimals
func ParseAmount(amount string, decimals int) (*big.Int, error) {
	// Parse the decimal amount
	parts := strings.Split(amount, ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid amount format: %s", amount)
	}

	// Parse integer part
	intPart, ok := new(big.Int).SetString(parts[0], 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer part: %s", parts[0])
	}

	// Handle decimal part
	decPart := new(big.Int)
	if len(parts) == 2 && parts[1] != "" {
		// Pad or truncate decimal part to match token decimals
		decStr := parts[1]
		if len(decStr) > decimals {
			decStr = decStr[:decimals]
		} else {
			decStr += strings.Repeat("0", decimals-len(decStr))
		}

		decPart, ok = new(big.Int).SetString(decStr, 10)
		if !ok {
			return nil, fmt.Errorf("invalid decimal part: %s", parts[1])
		}
	}

	// Calculate total in smallest unit
	multiplier := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	result := new(big.Int).Mul(intPart, multiplier)
	result.Add(result, decPart)

	return result, nil
}

// FormatAmount converts an amount in base units to a decimal string
func FormatAmount(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}

	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	quotient, remainder := new(big.Int).DivMod(amount, divisor, new(big.Int))

	// Format the decimal part with leading zeros
	decStr := remainder.String()
	if len(decStr) < decimals {
		decStr = strings.Repeat("0", decimals-len(decStr)) + decStr
	}

	// Remove trailing zeros
	decStr = strings.TrimRight(decStr, "0")

	if decStr == "" {
		return quotient.String()
	}

	return quotient.String() + "." + decStr
}

// GetNetworkConfig returns the configuration for a network.
// For networks with configured defaults (Base, Base Sepolia), returns the full config.
// For other valid EIP-155 networks, returns a config with just the chain ID (no default asset).
func GetNetworkConfig(network string) (*NetworkConfig, error) {
	networkStr := normalizeNetworkName(network)

	// Check if we have a pre-configured network with default asset
	if config, ok := NetworkConfigs[networkStr]; ok {
		return &config, nil
	}

	// For any valid EIP-155 network, dynamically create a config with just the chain ID
	if strings.HasPrefix(networkStr, "eip155:") {
		chainIdStr := strings.TrimPrefix(networkStr, "eip155:")
		chainId, ok := new(big.Int).SetString(chainIdStr, 10)
		if ok {
			return &NetworkConfig{
				ChainID: chainId,
				// No DefaultAsset - callers with explicit assets don't need it
			}, nil
		}
	}

	return nil, fmt.Errorf("invalid network format: %s (expected eip155:CHAIN_ID)", network)
}

// GetAssetInfo returns information about an asset on a network.
// If assetSymbolOrAddress is a valid address, returns info for that specific token.
// If assetSymbolOrAddress is empty, attempts to use the network's default asset.
func GetAssetInfo(network string, assetSymbolOrAddress string) (*AssetInfo, error) {
	// Check if it's an explicit address - works for ANY network
	if IsValidAddress(assetSymbolOrAddress) {
		normalizedAddr := NormalizeAddress(assetSymbolOrAddress)

		// Check if this matches a known default asset for richer metadata
		config, err := GetNetworkConfig(network)
		if err == nil && config.DefaultAsset.Address != "" {
			if normalizedAddr == NormalizeAddress(config.DefaultAsset.Address) {
				return &config.DefaultAsset, nil
			}
		}

		// Unknown token - return basic info (works for any EVM network)
		return &AssetInfo{
			Address:  normalizedAddr,
			Name:     "Unknown Token",
			Version:  "1",
			Decimals: 18, // Default to 18 decimals for unknown tokens
		}, nil
	}

	// Not an explicit address - need the network's default asset
	config, err := GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}

	// Check if default asset is configured
	if config.DefaultAsset.Address == "" {
		return nil, fmt.Errorf("no default asset configured for network %s; specify an explicit asset address or register a money parser", network)
	}

	return &config.DefaultAsset, nil
}

// CreateValidityWindow creates valid after/before timestamps. The validAfter
// bound is backdated by ValidAfterBuffer to absorb clock skew.
func CreateValidityWindow(duration time.Duration) (validAfter, validBefore *big.Int) {
	now := time.Now().Unix()
	validAfter = big.NewInt(now - ValidAfterBuffer)
	validBefore = big.NewInt(now + int64(duration.Seconds()))
	return validAfter, validBefore
}

// HexToBytes converts a hex string to bytes
func HexToBytes(hexStr string) ([]byte, error) {
	// Remove 0x prefix if present
	cleaned := strings.TrimPrefix(hexStr, "0x")
	return hex.DecodeString(cleaned)
}

// BytesToHex converts bytes to a hex string with 0x prefix
func BytesToHex(data []byte) string {
	return "0x" + hex.EncodeToString(data)
}
