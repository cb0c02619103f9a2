// Package facilitator implements the facilitator half of the exact EVM
// scheme: chain-backed verification and on-chain settlement for EIP-3009
// and Permit2 payloads.
package facilitator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	x402 "github.com/x402/x402-go"
	"github.com/x402/x402-go/mechanisms/evm"
	v1facilitator "github.com/x402/x402-go/mechanisms/evm/exact/v1/facilitator"
)

// ExactEvmFacilitatorConfig holds configuration for the ExactEvmFacilitator
type ExactEvmFacilitatorConfig struct {
	// DeployERC4337WithEIP6492 enables automatic deployment of ERC-4337 smart wallets
	// via ERC-6492 when encountering undeployed contract signatures during settlement
	DeployERC4337WithEIP6492 bool
}

// ExactEvmFacilitator implements the SchemeNetworkFacilitator interface
// for EVM exact payments. EIP-3009 and Permit2 payloads are told apart by
// shape and dispatched to the matching verify/settle flow.
type ExactEvmFacilitator struct {
	signer evm.FacilitatorEvmSigner
	config ExactEvmFacilitatorConfig
}

// NewExactEvmFacilitator creates a new ExactEvmFacilitator. A nil config
// uses defaults (no counterfactual wallet deployment).
func NewExactEvmFacilitator(signer evm.FacilitatorEvmSigner, config *ExactEvmFacilitatorConfig) *ExactEvmFacilitator {
	cfg := ExactEvmFacilitatorConfig{}
	if config != nil {
		cfg = *config
	}
	return &ExactEvmFacilitator{
		signer: signer,
		config: cfg,
	}
}

// Register wires the EVM exact facilitator into an x402 facilitator under
// the eip155 wildcard, for both protocol versions.
func Register(f *x402.X402Facilitator, signer evm.FacilitatorEvmSigner, config *ExactEvmFacilitatorConfig) *x402.X402Facilitator {
	f.Register([]x402.Network{"eip155:*"}, NewExactEvmFacilitator(signer, config))

	v1Networks := make([]x402.Network, 0, len(evm.V1Networks))
	for _, network := range evm.V1Networks {
		v1Networks = append(v1Networks, x402.Network(network))
	}
	f.RegisterV1(v1Networks, v1facilitator.NewExactEvmFacilitatorV1(signer, &v1facilitator.ExactEvmFacilitatorV1Config{
		DeployERC4337WithEIP6492: config != nil && config.DeployERC4337WithEIP6492,
	}))
	return f
}

// Scheme returns the scheme identifier
func (f *ExactEvmFacilitator) Scheme() string {
	return evm.SchemeExact
}

// CaipFamily returns the CAIP family pattern this facilitator supports
func (f *ExactEvmFacilitator) CaipFamily() string {
	return "eip155:*"
}

// GetExtra returns mechanism-specific extra data for the supported kinds
// endpoint. For EVM, none is needed.
func (f *ExactEvmFacilitator) GetExtra(_ x402.Network) map[string]interface{} {
	return nil
}

// GetSigners returns all addresses this facilitator can settle from.
func (f *ExactEvmFacilitator) GetSigners(_ x402.Network) []string {
	return f.signer.GetAddresses()
}

// Verify verifies a payment payload against requirements
func (f *ExactEvmFacilitator) Verify(
	ctx context.Context,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
) (*x402.VerifyResponse, error) {
	if payload.Accepted.Scheme != evm.SchemeExact {
		return nil, x402.NewVerifyError(ErrInvalidScheme, "", fmt.Sprintf("invalid scheme: %s", payload.Accepted.Scheme))
	}

	if payload.Accepted.Network != requirements.Network {
		return nil, x402.NewVerifyError(ErrNetworkMismatch, "", fmt.Sprintf("network mismatch: %s != %s", payload.Accepted.Network, requirements.Network))
	}

	if evm.IsPermit2Payload(payload.Payload) {
		permit2Payload, err := evm.Permit2PayloadFromMap(payload.Payload)
		if err != nil {
			return nil, x402.NewVerifyError(ErrInvalidPayload, "", err.Error())
		}
		return VerifyPermit2(ctx, f.signer, payload, requirements, permit2Payload)
	}

	return f.verifyEIP3009(ctx, payload, requirements)
}

// verifyEIP3009 verifies a transferWithAuthorization payload: recipient,
// amount, time window, nonce state, balance, then the signature.
func (f *ExactEvmFacilitator) verifyEIP3009(
	ctx context.Context,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
) (*x402.VerifyResponse, error) {
	evmPayload, err := evm.PayloadFromMap(payload.Payload)
	if err != nil {
		return nil, x402.NewVerifyError(ErrInvalidPayload, "", fmt.Sprintf("failed to parse EVM payload: %s", err.Error()))
	}
	payer := evmPayload.Authorization.From

	if evmPayload.Signature == "" {
		return nil, x402.NewVerifyError(ErrMissingSignature, "", "missing signature")
	}

	networkStr := string(requirements.Network)
	config, err := evm.GetNetworkConfig(networkStr)
	if err != nil {
		return nil, x402.NewVerifyError(ErrFailedToGetNetworkConfig, "", err.Error())
	}

	assetInfo, err := evm.GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		return nil, x402.NewVerifyError(ErrFailedToGetAssetInfo, "", err.Error())
	}

	if !strings.EqualFold(evmPayload.Authorization.To, requirements.PayTo) {
		return nil, x402.NewVerifyError(ErrRecipientMismatch, payer, fmt.Sprintf("recipient mismatch: %s != %s", evmPayload.Authorization.To, requirements.PayTo))
	}

	authValue, ok := new(big.Int).SetString(evmPayload.Authorization.Value, 10)
	if !ok {
		return nil, x402.NewVerifyError(ErrInvalidAuthorizationValue, payer, fmt.Sprintf("invalid authorization value: %s", evmPayload.Authorization.Value))
	}

	requiredValue, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return nil, x402.NewVerifyError(ErrInvalidRequiredAmount, payer, fmt.Sprintf("invalid required amount: %s", requirements.Amount))
	}

	if authValue.Cmp(requiredValue) < 0 {
		return nil, x402.NewVerifyError(ErrInsufficientAmount, payer, fmt.Sprintf("insufficient amount: %s < %s", authValue.String(), requiredValue.String()))
	}

	// Time window: validBefore must clear the block propagation buffer,
	// validAfter must not be in the future.
	now := time.Now().Unix()
	validBefore, ok := new(big.Int).SetString(evmPayload.Authorization.ValidBefore, 10)
	if !ok || validBefore.Cmp(big.NewInt(now+evm.Permit2DeadlineBuffer)) < 0 {
		return nil, x402.NewVerifyError(ErrValidBeforeExpired, payer, fmt.Sprintf("authorization expired: validBefore %s", evmPayload.Authorization.ValidBefore))
	}
	validAfter, ok := new(big.Int).SetString(evmPayload.Authorization.ValidAfter, 10)
	if !ok || validAfter.Cmp(big.NewInt(now)) > 0 {
		return nil, x402.NewVerifyError(ErrValidAfterInFuture, payer, fmt.Sprintf("authorization not yet valid: validAfter %s", evmPayload.Authorization.ValidAfter))
	}

	nonceUsed, err := f.checkNonceUsed(ctx, payer, evmPayload.Authorization.Nonce, assetInfo.Address)
	if err != nil {
		return nil, x402.NewVerifyError(ErrFailedToCheckNonce, payer, err.Error())
	}
	if nonceUsed {
		return nil, x402.NewVerifyError(ErrNonceAlreadyUsed, payer, fmt.Sprintf("nonce already used: %s", evmPayload.Authorization.Nonce))
	}

	balance, err := f.signer.GetBalance(ctx, payer, assetInfo.Address)
	if err != nil {
		return nil, x402.NewVerifyError(ErrFailedToGetBalance, payer, err.Error())
	}
	if balance.Cmp(authValue) < 0 {
		return nil, x402.NewVerifyError(ErrInsufficientBalance, payer, fmt.Sprintf("insufficient balance: %s < %s", balance.String(), authValue.String()))
	}

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

	signatureBytes, err := evm.HexToBytes(evmPayload.Signature)
	if err != nil {
		return nil, x402.NewVerifyError(ErrInvalidSignatureFormat, payer, err.Error())
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
		return nil, x402.NewVerifyError(ErrFailedToVerifySignature, payer, err.Error())
	}
	if !valid {
		return nil, x402.NewVerifyError(ErrInvalidSignature, payer, "signature does not match payer")
	}

	return &x402.VerifyResponse{
		IsValid: true,
		Payer:   payer,
	}, nil
}

// Settle settles a payment on-chain
func (f *ExactEvmFacilitator) Settle(
	ctx context.Context,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
) (*x402.SettleResponse, error) {
	network := payload.Accepted.Network

	if evm.IsPermit2Payload(payload.Payload) {
		permit2Payload, err := evm.Permit2PayloadFromMap(payload.Payload)
		if err != nil {
			return nil, x402.NewSettleError(ErrInvalidPayload, "", network, "", err.Error())
		}
		return SettlePermit2(ctx, f.signer, payload, requirements, permit2Payload)
	}

	// Re-verify before settling
	verifyResp, err := f.Verify(ctx, payload, requirements)
	if err != nil {
		ve := &x402.VerifyError{}
		if errors.As(err, &ve) {
			return nil, x402.NewSettleError(ve.InvalidReason, ve.Payer, network, "", ve.InvalidMessage)
		}
		return nil, x402.NewSettleError(ErrVerificationFailed, "", network, "", err.Error())
	}

	evmPayload, err := evm.PayloadFromMap(payload.Payload)
	if err != nil {
		return nil, x402.NewSettleError(ErrInvalidPayload, verifyResp.Payer, network, "", err.Error())
	}

	networkStr := string(requirements.Network)
	assetInfo, err := evm.GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		return nil, x402.NewSettleError(ErrFailedToGetAssetInfo, verifyResp.Payer, network, "", err.Error())
	}

	signatureBytes, err := evm.HexToBytes(evmPayload.Signature)
	if err != nil {
		return nil, x402.NewSettleError(ErrInvalidSignatureFormat, verifyResp.Payer, network, "", err.Error())
	}

	// Unwrap ERC-6492 to get the inner signature for settlement
	sigData, err := evm.ParseERC6492Signature(signatureBytes)
	if err != nil {
		return nil, x402.NewSettleError(ErrFailedToParseSignature, verifyResp.Payer, network, "", err.Error())
	}

	if err := f.ensureWalletDeployed(ctx, evmPayload.Authorization.From, sigData); err != nil {
		se := &x402.SettleError{}
		if errors.As(err, &se) {
			return nil, se
		}
		return nil, x402.NewSettleError(evm.ErrSmartWalletDeploymentFailed, verifyResp.Payer, network, "", err.Error())
	}

	signatureBytes = sigData.InnerSignature

	value, _ := new(big.Int).SetString(evmPayload.Authorization.Value, 10)
	validAfter, _ := new(big.Int).SetString(evmPayload.Authorization.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(evmPayload.Authorization.ValidBefore, 10)
	nonceBytes, _ := evm.HexToBytes(evmPayload.Authorization.Nonce)

	// EOA signatures (65 bytes) use the v,r,s overload; smart wallet
	// signatures go through the bytes overload
	isECDSA := len(signatureBytes) == 65

	var txHash string
	if isECDSA {
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
		return nil, x402.NewSettleError(ErrFailedToExecuteTransfer, verifyResp.Payer, network, "", err.Error())
	}

	receipt, err := f.signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, x402.NewSettleError(ErrFailedToGetReceipt, verifyResp.Payer, network, txHash, err.Error())
	}

	if receipt.Status != evm.TxStatusSuccess {
		return nil, x402.NewSettleError(ErrTransactionFailed, verifyResp.Payer, network, txHash, "")
	}

	return &x402.SettleResponse{
		Success:     true,
		Transaction: txHash,
		Network:     network,
		Payer:       verifyResp.Payer,
	}, nil
}

// ensureWalletDeployed deploys an undeployed ERC-4337 wallet from its
// ERC-6492 factory data when deployment is enabled, or fails settlement
// when it is not.
func (f *ExactEvmFacilitator) ensureWalletDeployed(ctx context.Context, owner string, sigData *evm.ERC6492SignatureData) error {
	zeroFactory := [20]byte{}
	if sigData.Factory == zeroFactory || len(sigData.FactoryCalldata) == 0 {
		return nil
	}

	code, err := f.signer.GetCode(ctx, owner)
	if err != nil {
		return x402.NewSettleError(ErrFailedToCheckDeployment, owner, "", "", err.Error())
	}
	if len(code) > 0 {
		return nil
	}

	if !f.config.DeployERC4337WithEIP6492 {
		return x402.NewSettleError(evm.ErrUndeployedSmartWallet, owner, "", "", "")
	}

	return deploySmartWallet(ctx, f.signer, sigData)
}

// deploySmartWallet sends the pre-encoded factory calldata as a
// transaction and waits for the deployment to land.
func deploySmartWallet(ctx context.Context, signer evm.FacilitatorEvmSigner, sigData *evm.ERC6492SignatureData) error {
	factoryAddr := common.BytesToAddress(sigData.Factory[:])

	txHash, err := signer.SendTransaction(
		ctx,
		factoryAddr.Hex(),
		sigData.FactoryCalldata,
	)
	if err != nil {
		return fmt.Errorf("factory deployment transaction failed: %w", err)
	}

	receipt, err := signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return fmt.Errorf("failed to wait for deployment: %w", err)
	}

	if receipt.Status != evm.TxStatusSuccess {
		return fmt.Errorf("deployment transaction reverted")
	}

	return nil
}

// checkNonceUsed checks if an EIP-3009 nonce has already been used
func (f *ExactEvmFacilitator) checkNonceUsed(ctx context.Context, from string, nonce string, tokenAddress string) (bool, error) {
	nonceBytes, err := evm.HexToBytes(nonce)
	if err != nil {
		return false, err
	}

	result, err := f.signer.ReadContract(
		ctx,
		tokenAddress,
		evm.AuthorizationStateABI,
		evm.FunctionAuthorizationState,
		common.HexToAddress(from),
		[32]byte(nonceBytes),
	)
	if err != nil {
		return false, err
	}

	used, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("unexpected result type from authorizationState")
	}

	return used, nil
}

// verifySignature verifies the EIP-712 signature via universal validation
// (EOA, EIP-1271, and ERC-6492)
func (f *ExactEvmFacilitator) verifySignature(
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

	// Undeployed wallets with deployment data are acceptable during
	// verify; deployment happens in settle when configured.
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
