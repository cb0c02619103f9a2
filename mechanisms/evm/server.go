package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	x402 "github.com/x402/x402-go"
)

// Server error constants for the exact EVM scheme
const (
	ErrAmountMustBeString    = "invalid_exact_evm_server_amount_must_be_string"
	ErrAssetAddressRequired  = "invalid_exact_evm_server_asset_address_required"
	ErrFailedToParsePrice    = "invalid_exact_evm_server_failed_to_parse_price"
	ErrUnsupportedPriceType  = "invalid_exact_evm_server_unsupported_price_type"
	ErrFailedToConvertAmount = "invalid_exact_evm_server_failed_to_convert_amount"
	ErrNoAssetSpecified      = "invalid_exact_evm_server_no_asset_specified"
	ErrFailedToParseAmount   = "invalid_exact_evm_server_failed_to_parse_amount"
)

// MoneyParser converts a decimal money amount into an AssetAmount for a
// network. Returning nil (with no error) passes control to the next parser
// in the chain.
type MoneyParser func(amount float64, network x402.Network) (*x402.AssetAmount, error)

// ExactEvmServer implements the SchemeNetworkServer interface for EVM
// exact payments.
type ExactEvmServer struct {
	moneyParsers []MoneyParser
}

// NewExactEvmServer creates a new ExactEvmServer
func NewExactEvmServer() *ExactEvmServer {
	return &ExactEvmServer{
		moneyParsers: []MoneyParser{},
	}
}

// Scheme returns the scheme identifier
func (s *ExactEvmServer) Scheme() string {
	return SchemeExact
}

// RegisterMoneyParser registers a custom money parser in the parser chain.
// Parsers are tried in registration order; a parser that returns nil defers
// to the next one, and the built-in USDC conversion is the final fallback.
//
// Example:
//
//	evmServer.RegisterMoneyParser(func(amount float64, network x402.Network) (*x402.AssetAmount, error) {
//	    if amount > 100 {
//	        return &x402.AssetAmount{
//	            Amount: fmt.Sprintf("%.0f", amount*1e18),
//	            Asset:  "0x6B175474E89094C44Da98b954EedeAC495271d0F", // DAI
//	        }, nil
//	    }
//	    return nil, nil
//	})
func (s *ExactEvmServer) RegisterMoneyParser(parser MoneyParser) *ExactEvmServer {
	s.moneyParsers = append(s.moneyParsers, parser)
	return s
}

// ParsePrice parses a price and converts it to an asset amount.
// An AssetAmount-shaped map passes through directly; money strings and
// numbers go through the parser chain with USDC conversion as fallback.
func (s *ExactEvmServer) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
	// If already an AssetAmount (map with "amount" and "asset"), return it directly
	if priceMap, ok := price.(map[string]interface{}); ok {
		if amountVal, hasAmount := priceMap["amount"]; hasAmount {
			amountStr, ok := amountVal.(string)
			if !ok {
				return x402.AssetAmount{}, errors.New(ErrAmountMustBeString)
			}

			asset := ""
			if assetVal, hasAsset := priceMap["asset"]; hasAsset {
				if assetStr, ok := assetVal.(string); ok {
					asset = assetStr
				}
			}

			if asset == "" {
				return x402.AssetAmount{}, errors.New(ErrAssetAddressRequired)
			}

			extra := make(map[string]interface{})
			if extraVal, hasExtra := priceMap["extra"]; hasExtra {
				if extraMap, ok := extraVal.(map[string]interface{}); ok {
					extra = extraMap
				}
			}

			return x402.AssetAmount{
				Amount: amountStr,
				Asset:  asset,
				Extra:  extra,
			}, nil
		}
	}

	if assetAmount, ok := price.(x402.AssetAmount); ok {
		return assetAmount, nil
	}

	// Parse money to a decimal number
	decimalAmount, err := s.parseMoneyToDecimal(price)
	if err != nil {
		return x402.AssetAmount{}, err
	}

	// Try each custom money parser in order
	for _, parser := range s.moneyParsers {
		result, err := parser(decimalAmount, network)
		if err != nil {
			continue
		}
		if result != nil {
			return *result, nil
		}
	}

	// All custom parsers deferred, use default conversion
	return s.defaultMoneyConversion(decimalAmount, network)
}

// parseMoneyToDecimal converts Money (string | number) to a decimal amount
func (s *ExactEvmServer) parseMoneyToDecimal(price x402.Price) (float64, error) {
	switch v := price.(type) {
	case string:
		// Remove currency symbols
		cleanPrice := strings.TrimSpace(v)
		cleanPrice = strings.TrimPrefix(cleanPrice, "$")
		cleanPrice = strings.TrimSuffix(cleanPrice, " USD")
		cleanPrice = strings.TrimSuffix(cleanPrice, " USDC")
		cleanPrice = strings.TrimSpace(cleanPrice)

		amount, err := strconv.ParseFloat(cleanPrice, 64)
		if err != nil {
			return 0, fmt.Errorf(ErrFailedToParsePrice+": '%s': %w", v, err)
		}
		return amount, nil

	case float64:
		return v, nil

	case int:
		return float64(v), nil

	case int64:
		return float64(v), nil

	default:
		return 0, fmt.Errorf(ErrUnsupportedPriceType+": %T", price)
	}
}

// defaultMoneyConversion converts a decimal amount to the network's default
// stablecoin in base units.
func (s *ExactEvmServer) defaultMoneyConversion(amount float64, network x402.Network) (x402.AssetAmount, error) {
	networkStr := string(network)

	config, err := GetNetworkConfig(networkStr)
	if err != nil {
		return x402.AssetAmount{}, err
	}
	if config.DefaultAsset.Address == "" {
		return x402.AssetAmount{}, fmt.Errorf(ErrNoAssetSpecified+": network %s has no default asset", network)
	}

	// Check if the amount appears to already be in base units
	// (e.g., 1500000 for $1.50 USDC is likely base units, not $1.5M)
	oneUnit := float64(1)
	for i := 0; i < config.DefaultAsset.Decimals; i++ {
		oneUnit *= 10
	}

	if amount >= oneUnit && amount == float64(int64(amount)) {
		return x402.AssetAmount{
			Asset:  config.DefaultAsset.Address,
			Amount: fmt.Sprintf("%.0f", amount),
			Extra:  make(map[string]interface{}),
		}, nil
	}

	// Convert decimal to base units (e.g., $1.50 -> 1500000 for 6 decimals)
	amountStr := fmt.Sprintf("%.6f", amount)
	parsedAmount, err := ParseAmount(amountStr, config.DefaultAsset.Decimals)
	if err != nil {
		return x402.AssetAmount{}, fmt.Errorf(ErrFailedToConvertAmount+": %w", err)
	}

	return x402.AssetAmount{
		Asset:  config.DefaultAsset.Address,
		Amount: parsedAmount.String(),
		Extra:  make(map[string]interface{}),
	}, nil
}

// EnhancePaymentRequirements resolves the asset, normalizes decimal amounts
// to base units, and injects the EIP-712 token name/version into extra.
func (s *ExactEvmServer) EnhancePaymentRequirements(
	ctx context.Context,
	requirements x402.PaymentRequirements,
	supportedKind x402.SupportedKind,
	extensionKeys []string,
) (x402.PaymentRequirements, error) {
	networkStr := string(requirements.Network)

	// Resolve asset info - explicit address works on any network, empty
	// falls back to the configured default
	var assetInfo *AssetInfo
	var err error
	if requirements.Asset != "" {
		assetInfo, err = GetAssetInfo(networkStr, requirements.Asset)
		if err != nil {
			return requirements, err
		}
	} else {
		assetInfo, err = GetAssetInfo(networkStr, "")
		if err != nil {
			return requirements, fmt.Errorf(ErrNoAssetSpecified+": %w", err)
		}
		requirements.Asset = assetInfo.Address
	}

	// Ensure amount is in base units
	if requirements.Amount != "" && strings.Contains(requirements.Amount, ".") {
		amount, err := ParseAmount(requirements.Amount, assetInfo.Decimals)
		if err != nil {
			return requirements, fmt.Errorf(ErrFailedToParseAmount+": %w", err)
		}
		requirements.Amount = amount.String()
	}

	if requirements.Extra == nil {
		requirements.Extra = make(map[string]interface{})
	}

	// Add token name and version for EIP-712 signing.
	// ONLY add if not already present (config may have specified exact values)
	if _, ok := requirements.Extra["name"]; !ok {
		requirements.Extra["name"] = assetInfo.Name
	}
	if _, ok := requirements.Extra["version"]; !ok {
		requirements.Extra["version"] = assetInfo.Version
	}

	// Copy declared extension extras from the facilitator's supported kind
	if supportedKind.Extra != nil {
		for _, key := range extensionKeys {
			if val, ok := supportedKind.Extra[key]; ok {
				requirements.Extra[key] = val
			}
		}
	}

	return requirements, nil
}

// GetDisplayAmount formats a base-unit amount for display
func (s *ExactEvmServer) GetDisplayAmount(amount string, network string, asset string) (string, error) {
	assetInfo, err := GetAssetInfo(network, asset)
	if err != nil {
		return "", err
	}

	amountBig, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return "", fmt.Errorf("invalid amount: %s", amount)
	}

	return "$" + FormatAmount(amountBig, assetInfo.Decimals) + " USDC", nil
}
