package client

import (
	"context"
	"fmt"
	"math/big"
	"time"

	x402 "github.com/x402/x402-go"
	"github.com/x402/x402-go/mechanisms/evm"
)

// CreatePermit2Payload builds and signs a Permit2 payment payload using
// the x402ExactPermit2Proxy witness pattern: the proxy is the spender,
// and the witness pins the only address funds can move to.
func CreatePermit2Payload(
	ctx context.Context,
	signer evm.ClientEvmSigner,
	x402Version int,
	requirements x402.PaymentRequirements,
) (x402.PartialPaymentPayload, error) {
	chainID, err := evm.GetEvmChainId(string(requirements.Network))
	if err != nil {
		return x402.PartialPaymentPayload{}, err
	}

	// Unlike EIP-3009, there is no default-asset fallback here.
	if !evm.IsValidAddress(requirements.Asset) {
		return x402.PartialPaymentPayload{}, fmt.Errorf("permit2 requires an explicit asset address, got: %s", requirements.Asset)
	}

	nonce, err := evm.CreatePermit2Nonce()
	if err != nil {
		return x402.PartialPaymentPayload{}, err
	}

	maxTimeout := requirements.MaxTimeoutSeconds
	if maxTimeout <= 0 {
		maxTimeout = evm.DefaultValidityPeriod
	}

	// validAfter is backdated so minor clock skew cannot make the payment
	// "too early" on chain.
	now := time.Now().Unix()
	authorization := evm.Permit2Authorization{
		From: signer.Address(),
		Permitted: evm.Permit2TokenPermissions{
			Token:  evm.NormalizeAddress(requirements.Asset),
			Amount: requirements.Amount,
		},
		Spender:  evm.X402ExactPermit2ProxyAddress,
		Nonce:    nonce,
		Deadline: fmt.Sprintf("%d", now+int64(maxTimeout)),
		Witness: evm.Permit2Witness{
			To:         evm.NormalizeAddress(requirements.PayTo),
			ValidAfter: fmt.Sprintf("%d", now-evm.ValidAfterBuffer),
			Extra:      "0x",
		},
	}

	signature, err := signPermit2Authorization(ctx, signer, authorization, chainID)
	if err != nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf("failed to sign permit2 authorization: %w", err)
	}

	permit2Payload := &evm.ExactPermit2Payload{
		Signature:            evm.BytesToHex(signature),
		Permit2Authorization: authorization,
	}

	return x402.PartialPaymentPayload{
		X402Version: x402Version,
		Payload:     permit2Payload.ToMap(),
	}, nil
}

// signPermit2Authorization signs the authorization as EIP-712 typed data
// under the canonical Permit2 domain, which carries a fixed name and no
// version field.
func signPermit2Authorization(
	ctx context.Context,
	signer evm.ClientEvmSigner,
	authorization evm.Permit2Authorization,
	chainID *big.Int,
) ([]byte, error) {
	domain := evm.TypedDataDomain{
		Name:              "Permit2",
		ChainID:           chainID,
		VerifyingContract: evm.PERMIT2Address,
	}

	decimal := func(label, value string) (*big.Int, error) {
		parsed, ok := new(big.Int).SetString(value, 10)
		if !ok {
			return nil, fmt.Errorf("invalid %s: %s", label, value)
		}
		return parsed, nil
	}

	amount, err := decimal("permitted amount", authorization.Permitted.Amount)
	if err != nil {
		return nil, err
	}
	nonce, err := decimal("nonce", authorization.Nonce)
	if err != nil {
		return nil, err
	}
	deadline, err := decimal("deadline", authorization.Deadline)
	if err != nil {
		return nil, err
	}
	validAfter, err := decimal("validAfter", authorization.Witness.ValidAfter)
	if err != nil {
		return nil, err
	}
	extraBytes, err := evm.HexToBytes(authorization.Witness.Extra)
	if err != nil {
		return nil, fmt.Errorf("invalid witness extra: %w", err)
	}

	message := map[string]interface{}{
		"permitted": map[string]interface{}{
			"token":  authorization.Permitted.Token,
			"amount": amount,
		},
		"spender":  authorization.Spender,
		"nonce":    nonce,
		"deadline": deadline,
		"witness": map[string]interface{}{
			"extra":      extraBytes,
			"to":         authorization.Witness.To,
			"validAfter": validAfter,
		},
	}

	return signer.SignTypedData(ctx, domain, evm.GetPermit2EIP712Types(), "PermitWitnessTransferFrom", message)
}

// Permit2AllowanceParams names the token and owner for an allowance read.
type Permit2AllowanceParams struct {
	TokenAddress string
	OwnerAddress string
}

// GetPermit2AllowanceReadParams returns the contract read arguments for
// checking whether the owner has approved Permit2 on a token. Feed them
// to a signer's ReadContract.
func GetPermit2AllowanceReadParams(params Permit2AllowanceParams) (address string, abi []byte, functionName string, args []interface{}) {
	return evm.NormalizeAddress(params.TokenAddress),
		evm.ERC20AllowanceABI,
		"allowance",
		[]interface{}{params.OwnerAddress, evm.PERMIT2Address}
}

// CreatePermit2ApprovalTxData returns the contract write arguments for a
// max approval of Permit2. The user submits this once, paying gas, before
// the gasless Permit2 flow can be used, unless the token supports
// EIP-2612 gas sponsoring.
func CreatePermit2ApprovalTxData(tokenAddress string) (to string, abi []byte, functionName string, args []interface{}) {
	return evm.NormalizeAddress(tokenAddress),
		evm.ERC20ApproveABI,
		"approve",
		[]interface{}{evm.PERMIT2Address, evm.MaxUint256()}
}
