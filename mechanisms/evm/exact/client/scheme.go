// Package client implements the client half of the exact EVM scheme:
// building and signing EIP-3009 and Permit2 payment payloads.
package client

import (
	"context"
	"fmt"
	"math/big"
	"time"

	x402 "github.com/x402/x402-go"
	"github.com/x402/x402-go/mechanisms/evm"
)

// ExactEvmClient implements the SchemeNetworkClient interface for EVM
// exact payments. The transfer method is chosen per requirement via
// extra.assetTransferMethod: eip3009 (default) or permit2.
type ExactEvmClient struct {
	signer evm.ClientEvmSigner
}

// NewExactEvmClient creates a new ExactEvmClient
func NewExactEvmClient(signer evm.ClientEvmSigner) *ExactEvmClient {
	return &ExactEvmClient{
		signer: signer,
	}
}

// Scheme returns the scheme identifier
func (c *ExactEvmClient) Scheme() string {
	return evm.SchemeExact
}

// Register wires the EVM exact client into an x402 client: the eip155
// wildcard for v2 and the legacy network names for v1.
func Register(client *x402.X402Client, signer evm.ClientEvmSigner) *x402.X402Client {
	scheme := NewExactEvmClient(signer)
	client.RegisterScheme("eip155:*", scheme)
	for _, network := range evm.V1Networks {
		client.RegisterSchemeV1(x402.Network(network), scheme)
	}
	return client
}

// CreatePaymentPayload creates a signed partial payment payload for the
// exact scheme. The core wraps it with accepted/resource/extensions.
func (c *ExactEvmClient) CreatePaymentPayload(
	ctx context.Context,
	x402Version int,
	requirements x402.PaymentRequirements,
) (x402.PartialPaymentPayload, error) {
	networkStr := string(requirements.Network)
	if !evm.IsValidNetwork(networkStr) {
		return x402.PartialPaymentPayload{}, fmt.Errorf("unsupported network: %s", requirements.Network)
	}

	switch transferMethod(requirements) {
	case evm.AssetTransferMethodPermit2:
		return CreatePermit2Payload(ctx, c.signer, x402Version, requirements)
	default:
		return c.createEIP3009Payload(ctx, x402Version, requirements)
	}
}

// transferMethod reads extra.assetTransferMethod, defaulting to eip3009.
func transferMethod(requirements x402.PaymentRequirements) evm.AssetTransferMethod {
	if requirements.Extra != nil {
		if method, ok := requirements.Extra["assetTransferMethod"].(string); ok {
			return evm.AssetTransferMethod(method)
		}
	}
	return evm.AssetTransferMethodEIP3009
}

// createEIP3009Payload builds and signs a transferWithAuthorization payload.
func (c *ExactEvmClient) createEIP3009Payload(
	ctx context.Context,
	x402Version int,
	requirements x402.PaymentRequirements,
) (x402.PartialPaymentPayload, error) {
	networkStr := string(requirements.Network)

	config, err := evm.GetNetworkConfig(networkStr)
	if err != nil {
		return x402.PartialPaymentPayload{}, err
	}

	assetInfo, err := evm.GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		return x402.PartialPaymentPayload{}, err
	}

	// Requirements.Amount is already in base units; v1 carries it in
	// maxAmountRequired instead.
	amountStr := requirements.Amount
	if amountStr == "" {
		amountStr = requirements.MaxAmountRequired
	}
	value, ok := new(big.Int).SetString(amountStr, 10)
	if !ok {
		return x402.PartialPaymentPayload{}, fmt.Errorf("invalid amount: %s", amountStr)
	}

	nonce, err := evm.CreateNonce()
	if err != nil {
		return x402.PartialPaymentPayload{}, err
	}

	validAfter, validBefore := validityWindow(requirements.MaxTimeoutSeconds)

	// Extract EIP-712 domain fields for the token
	tokenName := assetInfo.Name
	tokenVersion := assetInfo.Version
	if requirements.Extra != nil {
		if name, ok := requirements.Extra["name"].(string); ok {
			tokenName = name
		}
		if ver, ok := requirements.Extra["version"].(string); ok {
			tokenVersion = ver
		}
	}

	authorization := evm.ExactEIP3009Authorization{
		From:        c.signer.Address(),
		To:          requirements.PayTo,
		Value:       value.String(),
		ValidAfter:  validAfter.String(),
		ValidBefore: validBefore.String(),
		Nonce:       nonce,
	}

	signature, err := c.signAuthorization(ctx, authorization, config.ChainID, assetInfo.Address, tokenName, tokenVersion)
	if err != nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf("failed to sign authorization: %w", err)
	}

	evmPayload := &evm.ExactEIP3009Payload{
		Signature:     evm.BytesToHex(signature),
		Authorization: authorization,
	}

	return x402.PartialPaymentPayload{
		X402Version: x402Version,
		Payload:     evmPayload.ToMap(),
	}, nil
}

// validityWindow derives the authorization time bounds from the
// requirement's timeout: validAfter is backdated for clock skew,
// validBefore is now plus maxTimeoutSeconds.
func validityWindow(maxTimeoutSeconds int) (validAfter, validBefore *big.Int) {
	if maxTimeoutSeconds <= 0 {
		maxTimeoutSeconds = evm.DefaultValidityPeriod
	}
	return evm.CreateValidityWindow(time.Duration(maxTimeoutSeconds) * time.Second)
}

// signAuthorization signs the EIP-3009 authorization using EIP-712
func (c *ExactEvmClient) signAuthorization(
	ctx context.Context,
	authorization evm.ExactEIP3009Authorization,
	chainID *big.Int,
	verifyingContract string,
	tokenName string,
	tokenVersion string,
) ([]byte, error) {
	domain := evm.TypedDataDomain{
		Name:              tokenName,
		Version:           tokenVersion,
		ChainID:           chainID,
		VerifyingContract: verifyingContract,
	}

	types := map[string][]evm.TypedDataField{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		"TransferWithAuthorization": {
			{Name: "from", Type: "address"},
			{Name: "to", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "validAfter", Type: "uint256"},
			{Name: "validBefore", Type: "uint256"},
			{Name: "nonce", Type: "bytes32"},
		},
	}

	value, _ := new(big.Int).SetString(authorization.Value, 10)
	validAfter, _ := new(big.Int).SetString(authorization.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(authorization.ValidBefore, 10)
	nonceBytes, _ := evm.HexToBytes(authorization.Nonce)

	message := map[string]interface{}{
		"from":        authorization.From,
		"to":          authorization.To,
		"value":       value,
		"validAfter":  validAfter,
		"validBefore": validBefore,
		"nonce":       nonceBytes,
	}

	return c.signer.SignTypedData(ctx, domain, types, "TransferWithAuthorization", message)
}
