// Package facilitator implements the legacy-wire facilitator side of the
// exact EVM scheme. V1 payloads carry scheme and network at the top level,
// use maxAmountRequired, and require the EIP-712 domain in extra.
package facilitator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	x402 "github.com/x402/x402-go"
	"github.com/x402/x402-go/mechanisms/evm"
	"github.com/x402/x402-go/types"
)

// ExactEvmFacilitatorV1Config holds configuration for the legacy-wire
// facilitator.
type ExactEvmFacilitatorV1Config struct {
	DeployERC4337WithEIP6492 bool
}

// ExactEvmFacilitatorV1 implements SchemeNetworkFacilitatorV1 for EVM
// exact payments on the legacy wire format.
type ExactEvmFacilitatorV1 struct {
	signer evm.FacilitatorEvmSigner
	config ExactEvmFacilitatorV1Config
}

// NewExactEvmFacilitatorV1 creates a new legacy-wire EVM facilitator.
func NewExactEvmFacilitatorV1(signer evm.FacilitatorEvmSigner, config *ExactEvmFacilitatorV1Config) *ExactEvmFacilitatorV1 {
	cfg := ExactEvmFacilitatorV1Config{}
	if config != nil {
		cfg = *config
	}
	return &ExactEvmFacilitatorV1{
		signer: signer,
		config: cfg,
	}
}

// Scheme returns the scheme identifier
func (f *ExactEvmFacilitatorV1) Scheme() string {
	return evm.SchemeExact
}

// CaipFamily returns the CAIP family pattern this facilitator supports
func (f *ExactEvmFacilitatorV1) CaipFamily() string {
	return "eip155:*"
}

// GetExtra returns mechanism-specific extra data. None for EVM.
func (f *ExactEvmFacilitatorV1) GetExtra(_ x402.Network) map[string]interface{} {
	return nil
}

// GetSigners returns all addresses this facilitator can settle from.
func (f *ExactEvmFacilitatorV1) GetSigners(_ x402.Network) []string {
	return f.signer.GetAddresses()
}

// Verify verifies a legacy-wire payment payload against requirements.
// Invalid payments are reported as responses rather than errors, matching
// how legacy facilitator endpoints behave.
func (f *ExactEvmFacilitatorV1) Verify(
	ctx context.Context,
	payload types.PaymentPayloadV1,
	requirements types.PaymentRequirementsV1,
) (*x402.VerifyResponse, error) {
	if payload.Scheme != evm.SchemeExact || requirements.Scheme != evm.SchemeExact {
		return invalid(ErrUnsupportedScheme, ""), nil
	}

	if payload.Network != requirements.Network {
		return invalid(ErrNetworkMismatch, ""), nil
	}

	evmPayload, err := evm.PayloadFromMap(payload.Payload)
	if err != nil {
		return invalid(ErrInvalidPayload, ""), nil
	}
	payer := evmPayload.Authorization.From

	if evmPayload.Signature == "" {
		return invalid(ErrMissingSignature, payer), nil
	}

	networkStr := string(requirements.Network)
	config, err := evm.GetNetworkConfig(networkStr)
	if err != nil {
		return invalid(ErrFailedToGetNetworkConfig, payer), nil
	}

	assetInfo, err := evm.GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		return invalid(ErrFailedToGetAssetInfo, payer), nil
	}

	// V1 requires the token's EIP-712 domain in extra
	var extraMap map[string]interface{}
	if requirements.Extra != nil {
		if err := json.Unmarshal(*requirements.Extra, &extraMap); err != nil {
			return invalid(ErrInvalidExtraField, payer), nil
		}
	}
	tokenName, nameOK := extraMap["name"].(string)
	tokenVersion, versionOK := extraMap["version"].(string)
	if !nameOK || !versionOK {
		return invalid(ErrMissingEip712Domain, payer), nil
	}

	if !strings.EqualFold(evmPayload.Authorization.To, requirements.PayTo) {
		return invalid(ErrRecipientMismatch, payer), nil
	}

	authValue, ok := new(big.Int).SetString(evmPayload.Authorization.Value, 10)
	if !ok {
		return invalid(ErrInvalidAuthorizationValue, payer), nil
	}

	requiredValue, ok := new(big.Int).SetString(requirements.MaxAmountRequired, 10)
	if !ok {
		return invalid(ErrInvalidRequiredAmount, payer), nil
	}

	if authValue.Cmp(requiredValue) < 0 {
		return invalid(ErrAuthorizationValueInsufficient, payer), nil
	}

	// validBefore must clear the block propagation buffer; validAfter
	// must not be in the future
	now := time.Now().Unix()
	validBefore, ok := new(big.Int).SetString(evmPayload.Authorization.ValidBefore, 10)
	if !ok || validBefore.Cmp(big.NewInt(now+evm.Permit2DeadlineBuffer)) < 0 {
		return invalid(ErrAuthorizationValidBeforeExpired, payer), nil
	}
	validAfter, ok := new(big.Int).SetString(evmPayload.Authorization.ValidAfter, 10)
	if !ok || validAfter.Cmp(big.NewInt(now)) > 0 {
		return invalid(ErrAuthorizationValidAfterInFuture, payer), nil
	}

	balance, err := f.signer.GetBalance(ctx, payer, assetInfo.Address)
	if err == nil && balance.Cmp(requiredValue) < 0 {
		return invalid(ErrInsufficientFunds, payer), nil
	}

	signatureBytes, err := evm.HexToBytes(evmPayload.Signature)
	if err != nil {
		return invalid(ErrInvalidSignatureFormat, payer), nil
	}

	valid, err := f.verifySignature(
		ctx,
		evmPayload.Authorization,
		signatureBytes,
		config.ChainID,
		assetInfo.Address,
		tokenName,
		tokenVersion,
	)
	if err != nil {
		return invalid(ErrFailedToVerifySignature, payer), fmt.Errorf("failed to verify signature: %w", err)
	}
	if !valid {
		return invalid(ErrInvalidSignature, payer), nil
	}

	return &x402.VerifyResponse{
		IsValid: true,
		Payer:   payer,
	}, nil
}

// Settle settles a legacy-wire payment on-chain
func (f *ExactEvmFacilitatorV1) Settle(
	ctx context.Context,
	payload types.PaymentPayloadV1,
	requirements types.PaymentRequirementsV1,
) (*x402.SettleResponse, error) {
	network := x402.Network(payload.Network)

	// Re-verify before settling
	verifyResp, err := f.Verify(ctx, payload, requirements)
	if err != nil {
		return failed(ErrVerificationFailed, "", network, ""), err
	}
	if !verifyResp.IsValid {
		return failed(verifyResp.InvalidReason, verifyResp.Payer, network, ""), nil
	}
	payer := verifyResp.Payer

	evmPayload, err := evm.PayloadFromMap(payload.Payload)
	if err != nil {
		return failed(ErrInvalidPayload, payer, network, ""), nil
	}

	networkStr := string(requirements.Network)
	assetInfo, err := evm.GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		return failed(ErrFailedToGetAssetInfo, payer, network, ""), nil
	}

	signatureBytes, err := evm.HexToBytes(evmPayload.Signature)
	if err != nil {
		return failed(ErrInvalidSignatureFormat, payer, network, ""), nil
	}

	// Legacy smart wallet signatures arrive ERC-6492 wrapped too
	sigData, err := evm.ParseERC6492Signature(signatureBytes)
	if err != nil {
		return failed(ErrFailedToParseSignature, payer, network, ""), nil
	}
	signatureBytes = sigData.InnerSignature

	value, _ := new(big.Int).SetString(evmPayload.Authorization.Value, 10)
	validAfter, _ := new(big.Int).SetString(evmPayload.Authorization.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(evmPayload.Authorization.ValidBefore, 10)
	nonceBytes, _ := evm.HexToBytes(evmPayload.Authorization.Nonce)

	var txHash string
	if len(signatureBytes) == 65 {
		r := signatureBytes[0:32]
		s := signatureBytes[32:64]
		v := signatureBytes[64]
		if v == 0 || v == 1 {
			v += 27
		}

		txHash, err = f.signer.WriteContract(
			ctx,
			assetInfo.Address,
			evm.TransferWithAuthorizationVRSABI,
			evm.FunctionTransferWithAuthorization,
			common.HexToAddress(evmPayload.Authorization.From),
			common.HexToAddress(evmPayload.Authorization.To),
			value,
			validAfter,
			validBefore,
			[32]byte(nonceBytes),
			v,
			[32]byte(r),
			[32]byte(s),
		)
	} else {
		txHash, err = f.signer.WriteContract(
			ctx,
			assetInfo.Address,
			evm.TransferWithAuthorizationBytesABI,
			evm.FunctionTransferWithAuthorization,
			common.HexToAddress(evmPayload.Authorization.From),
			common.HexToAddress(evmPayload.Authorization.To),
			value,
			validAfter,
			validBefore,
			[32]byte(nonceBytes),
			signatureBytes,
		)
	}
	if err != nil {
		return failed(ErrTransactionFailed, payer, network, ""), nil
	}

	receipt, err := f.signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return failed(ErrFailedToGetReceipt, payer, network, txHash), nil
	}

	if receipt.Status != evm.TxStatusSuccess {
		return failed(ErrInvalidTransactionState, payer, network, txHash), nil
	}

	return &x402.SettleResponse{
		Success:     true,
		Transaction: txHash,
		Network:     network,
		Payer:       payer,
	}, nil
}

// verifySignature verifies the EIP-712 signature via universal validation
func (f *ExactEvmFacilitatorV1) verifySignature(
	ctx context.Context,
	authorization evm.ExactEIP3009Authorization,
	signature []byte,
	chainID *big.Int,
	verifyingContract string,
	tokenName string,
	tokenVersion string,
) (bool, error) {
	hash, err := evm.HashEIP3009Authorization(
		authorization,
		chainID,
		verifyingContract,
		tokenName,
		tokenVersion,
	)
	if err != nil {
		return false, err
	}

	var hash32 [32]byte
	copy(hash32[:], hash)

	valid, _, err := evm.VerifyUniversalSignature(
		ctx,
		f.signer,
		authorization.From,
		hash32,
		signature,
		true,
	)
	return valid, err
}

func invalid(reason, payer string) *x402.VerifyResponse {
	return &x402.VerifyResponse{
		IsValid:       false,
		InvalidReason: reason,
		Payer:         payer,
	}
}

func failed(reason, payer string, network x402.Network, tx string) *x402.SettleResponse {
	return &x402.SettleResponse{
		Success:     false,
		ErrorReason: reason,
		Payer:       payer,
		Network:     network,
		Transaction: tx,
	}
}
