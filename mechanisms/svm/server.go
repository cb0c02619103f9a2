package svm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	x402 "github.com/x402/x402-go"
)

// Server error constants for the exact SVM scheme
const (
	ErrAmountMustBeString    = "invalid_exact_solana_server_amount_must_be_string"
	ErrAssetAddressRequired  = "invalid_exact_solana_server_asset_address_required"
	ErrFailedToParsePrice    = "invalid_exact_solana_server_failed_to_parse_price"
	ErrUnsupportedPriceType  = "invalid_exact_solana_server_unsupported_price_type"
	ErrFailedToConvertAmount = "invalid_exact_solana_server_failed_to_convert_amount"
	ErrFailedToParseAmount   = "invalid_exact_solana_server_failed_to_parse_amount"
	ErrFeePayerMissing       = "invalid_exact_solana_server_fee_payer_missing"
)

// MoneyParser converts a decimal money amount into an AssetAmount for a
// network. Returning nil (with no error) passes control to the next parser
// in the chain.
type MoneyParser func(amount float64, network x402.Network) (*x402.AssetAmount, error)

// ExactSvmServer implements the SchemeNetworkServer interface for SVM
// exact payments.
type ExactSvmServer struct {
	moneyParsers []MoneyParser
}

// NewExactSvmServer creates a new ExactSvmServer
func NewExactSvmServer() *ExactSvmServer {
	return &ExactSvmServer{
		moneyParsers: []MoneyParser{},
	}
}

// Scheme returns the scheme identifier
func (s *ExactSvmServer) Scheme() string {
	return SchemeExact
}

// RegisterMoneyParser registers a custom money parser in the parser chain.
// Parsers are tried in registration order; a parser that returns nil defers
// to the next one, and the built-in USDC conversion is the final fallback.
func (s *ExactSvmServer) RegisterMoneyParser(parser MoneyParser) *ExactSvmServer {
	s.moneyParsers = append(s.moneyParsers, parser)
	return s
}

// ParsePrice parses a price and converts it to an asset amount.
// An AssetAmount-shaped map passes through directly; money strings and
// numbers go through the parser chain with USDC conversion as fallback.
func (s *ExactSvmServer) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
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

	decimalAmount, err := s.parseMoneyToDecimal(price)
	if err != nil {
		return x402.AssetAmount{}, err
	}

	for _, parser := range s.moneyParsers {
		result, err := parser(decimalAmount, network)
		if err != nil {
			continue
		}
		if result != nil {
			return *result, nil
		}
	}

	return s.defaultMoneyConversion(decimalAmount, network)
}

// parseMoneyToDecimal converts Money (string | number) to a decimal amount
func (s *ExactSvmServer) parseMoneyToDecimal(price x402.Price) (float64, error) {
	switch v := price.(type) {
	case string:
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

// defaultMoneyConversion converts a decimal amount to the network's USDC
// mint in base units.
func (s *ExactSvmServer) defaultMoneyConversion(amount float64, network x402.Network) (x402.AssetAmount, error) {
	config, err := GetNetworkConfig(string(network))
	if err != nil {
		return x402.AssetAmount{}, err
	}

	// An integer at or above one whole unit in base units is taken as
	// already converted
	oneUnit := math.Pow10(config.DefaultAsset.Decimals)
	if amount >= oneUnit && amount == float64(uint64(amount)) {
		return x402.AssetAmount{
			Asset:  config.DefaultAsset.Address,
			Amount: fmt.Sprintf("%.0f", amount),
			Extra:  make(map[string]interface{}),
		}, nil
	}

	amountStr := fmt.Sprintf("%.6f", amount)
	parsedAmount, err := ParseAmount(amountStr, config.DefaultAsset.Decimals)
	if err != nil {
		return x402.AssetAmount{}, fmt.Errorf(ErrFailedToConvertAmount+": %w", err)
	}

	return x402.AssetAmount{
		Asset:  config.DefaultAsset.Address,
		Amount: strconv.FormatUint(parsedAmount, 10),
		Extra:  make(map[string]interface{}),
	}, nil
}

// EnhancePaymentRequirements resolves the asset, normalizes decimal
// amounts to base units, and injects the facilitator's fee payer into
// extra so the client can set it on the transaction.
func (s *ExactSvmServer) EnhancePaymentRequirements(
	ctx context.Context,
	requirements x402.PaymentRequirements,
	supportedKind x402.SupportedKind,
	extensionKeys []string,
) (x402.PaymentRequirements, error) {
	networkStr := string(requirements.Network)

	assetInfo, err := GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		return requirements, err
	}
	if requirements.Asset == "" {
		requirements.Asset = assetInfo.Address
	}

	if requirements.Amount != "" && strings.Contains(requirements.Amount, ".") {
		amount, err := ParseAmount(requirements.Amount, assetInfo.Decimals)
		if err != nil {
			return requirements, fmt.Errorf(ErrFailedToParseAmount+": %w", err)
		}
		requirements.Amount = strconv.FormatUint(amount, 10)
	}

	if requirements.Extra == nil {
		requirements.Extra = make(map[string]interface{})
	}

	// The fee payer is advertised by the facilitator in its supported
	// kind; the client needs it to build the transaction.
	if _, ok := requirements.Extra["feePayer"]; !ok {
		feePayer, ok := supportedKind.Extra["feePayer"]
		if !ok {
			return requirements, errors.New(ErrFeePayerMissing)
		}
		requirements.Extra["feePayer"] = feePayer
	}

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
func (s *ExactSvmServer) GetDisplayAmount(amount string, network string, asset string) (string, error) {
	assetInfo, err := GetAssetInfo(network, asset)
	if err != nil {
		return "", err
	}

	amountUint, err := strconv.ParseUint(amount, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid amount: %s", amount)
	}

	return "$" + FormatAmount(amountUint, assetInfo.Decimals) + " USDC", nil
}
