package facilitator

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	x402 "github.com/x402/x402-go"
	"github.com/x402/x402-go/extensions/eip2612gassponsor"
	"github.com/x402/x402-go/mechanisms/evm"
)

// ABI argument structs for x402ExactPermit2Proxy. go-ethereum packs these
// by field order, which must mirror the contract tuples exactly.
type permit2PermitArg struct {
	Permitted permit2TokenArg
	Nonce     *big.Int
	Deadline  *big.Int
}

type permit2TokenArg struct {
	Token  common.Address
	Amount *big.Int
}

type permit2WitnessArg struct {
	To         common.Address
	ValidAfter *big.Int
	Extra      []byte
}

type eip2612PermitArg struct {
	Value    *big.Int
	Deadline *big.Int
	R        [32]byte
	S        [32]byte
	V        uint8
}

func decimalBig(value string) (*big.Int, bool) {
	return new(big.Int).SetString(value, 10)
}

// VerifyPermit2 verifies a Permit2 payment payload: proxy spender,
// recipient, time window, amount, token, signature, and finally the
// payer's on-chain allowance and balance.
func VerifyPermit2(
	ctx context.Context,
	signer evm.FacilitatorEvmSigner,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
	permit2Payload *evm.ExactPermit2Payload,
) (*x402.VerifyResponse, error) {
	auth := permit2Payload.Permit2Authorization
	payer := auth.From

	if payload.Accepted.Scheme != evm.SchemeExact || requirements.Scheme != evm.SchemeExact {
		return nil, x402.NewVerifyError(ErrUnsupportedPayloadType, payer, "scheme mismatch")
	}
	if payload.Accepted.Network != requirements.Network {
		return nil, x402.NewVerifyError(ErrNetworkMismatch, payer, "network mismatch")
	}

	chainID, err := evm.GetEvmChainId(string(requirements.Network))
	if err != nil {
		return nil, x402.NewVerifyError(ErrFailedToGetNetworkConfig, payer, err.Error())
	}
	tokenAddress := evm.NormalizeAddress(requirements.Asset)

	// Transfers must route through the x402 proxy, and land at payTo.
	if !strings.EqualFold(auth.Spender, evm.X402ExactPermit2ProxyAddress) {
		return nil, x402.NewVerifyError(ErrPermit2InvalidSpender, payer, "invalid spender")
	}
	if !strings.EqualFold(auth.Witness.To, requirements.PayTo) {
		return nil, x402.NewVerifyError(ErrPermit2RecipientMismatch, payer, "recipient mismatch")
	}

	// Time window. The deadline must survive long enough for the settle
	// transaction to mine, hence the buffer.
	now := time.Now().Unix()
	deadline, ok := decimalBig(auth.Deadline)
	if !ok {
		return nil, x402.NewVerifyError(ErrInvalidPayload, payer, "invalid deadline format")
	}
	if deadline.Cmp(big.NewInt(now+evm.Permit2DeadlineBuffer)) < 0 {
		return nil, x402.NewVerifyError(ErrPermit2DeadlineExpired, payer, "deadline expired")
	}
	validAfter, ok := decimalBig(auth.Witness.ValidAfter)
	if !ok {
		return nil, x402.NewVerifyError(ErrInvalidPayload, payer, "invalid validAfter format")
	}
	if validAfter.Cmp(big.NewInt(now)) > 0 {
		return nil, x402.NewVerifyError(ErrPermit2NotYetValid, payer, "not yet valid")
	}

	// Amount and token.
	authAmount, ok := decimalBig(auth.Permitted.Amount)
	if !ok {
		return nil, x402.NewVerifyError(ErrInvalidPayload, payer, "invalid permitted amount format")
	}
	requiredAmount, ok := decimalBig(requirements.Amount)
	if !ok {
		return nil, x402.NewVerifyError(ErrInvalidRequiredAmount, payer, "invalid required amount format")
	}
	if authAmount.Cmp(requiredAmount) < 0 {
		return nil, x402.NewVerifyError(ErrPermit2InsufficientAmount, payer, "insufficient amount")
	}
	if !strings.EqualFold(auth.Permitted.Token, requirements.Asset) {
		return nil, x402.NewVerifyError(ErrPermit2TokenMismatch, payer, "token mismatch")
	}

	signatureBytes, err := evm.HexToBytes(permit2Payload.Signature)
	if err != nil {
		return nil, x402.NewVerifyError(ErrInvalidSignatureFormat, payer, err.Error())
	}
	valid, err := verifyPermit2Signature(ctx, signer, auth, signatureBytes, chainID)
	if err != nil || !valid {
		return nil, x402.NewVerifyError(ErrPermit2InvalidSignature, payer, "invalid signature")
	}

	// The payer must have approved Permit2 on the token, unless the payment
	// carries an EIP-2612 permit that lets settlement set the allowance
	// itself. Allowance read errors are not fatal; settlement will surface
	// a real problem.
	allowance, err := signer.ReadContract(ctx, tokenAddress, evm.ERC20AllowanceABI, "allowance",
		common.HexToAddress(payer), common.HexToAddress(evm.PERMIT2Address))
	if err == nil {
		if allowanceBig, ok := allowance.(*big.Int); ok && allowanceBig.Cmp(requiredAmount) < 0 {
			eip2612Info, extErr := eip2612gassponsor.ExtractEip2612GasSponsoringInfo(payload.Extensions)
			if extErr != nil || eip2612Info == nil {
				return nil, x402.NewVerifyError(ErrPermit2AllowanceRequired, payer, "permit2 allowance required")
			}
			if reason := validateEip2612PermitForPayment(eip2612Info, payer, tokenAddress); reason != "" {
				return nil, x402.NewVerifyError(reason, payer, "eip2612 validation failed")
			}
		}
	}

	balance, err := signer.GetBalance(ctx, payer, tokenAddress)
	if err == nil && balance.Cmp(requiredAmount) < 0 {
		return nil, x402.NewVerifyError(ErrInsufficientBalance, payer, "insufficient balance")
	}

	return &x402.VerifyResponse{
		IsValid: true,
		Payer:   payer,
	}, nil
}

// SettlePermit2 settles a Permit2 payment through x402ExactPermit2Proxy,
// using settleWithPermit when the payment carries an EIP-2612 permit and
// plain settle otherwise.
func SettlePermit2(
	ctx context.Context,
	signer evm.FacilitatorEvmSigner,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
	permit2Payload *evm.ExactPermit2Payload,
) (*x402.SettleResponse, error) {
	auth := permit2Payload.Permit2Authorization
	network := payload.Accepted.Network
	payer := auth.From

	verifyResp, err := VerifyPermit2(ctx, signer, payload, requirements, permit2Payload)
	if err != nil {
		ve := &x402.VerifyError{}
		if errors.As(err, &ve) {
			return nil, x402.NewSettleError(ve.InvalidReason, ve.Payer, network, "", ve.InvalidMessage)
		}
		return nil, x402.NewSettleError(ErrVerificationFailed, payer, network, "", err.Error())
	}

	// Verification already parsed these; re-parse rather than trust state
	// across the two calls.
	amount, ok := decimalBig(auth.Permitted.Amount)
	if !ok {
		return nil, x402.NewSettleError(ErrInvalidPayload, payer, network, "", "invalid permitted amount")
	}
	nonce, ok := decimalBig(auth.Nonce)
	if !ok {
		return nil, x402.NewSettleError(ErrInvalidPayload, payer, network, "", "invalid nonce")
	}
	deadline, ok := decimalBig(auth.Deadline)
	if !ok {
		return nil, x402.NewSettleError(ErrInvalidPayload, payer, network, "", "invalid deadline")
	}
	validAfter, ok := decimalBig(auth.Witness.ValidAfter)
	if !ok {
		return nil, x402.NewSettleError(ErrInvalidPayload, payer, network, "", "invalid validAfter")
	}
	extraBytes, err := evm.HexToBytes(auth.Witness.Extra)
	if err != nil {
		return nil, x402.NewSettleError(ErrInvalidPayload, payer, network, "", "invalid witness extra")
	}
	signatureBytes, err := evm.HexToBytes(permit2Payload.Signature)
	if err != nil {
		return nil, x402.NewSettleError(ErrInvalidSignatureFormat, payer, network, "", "invalid signature format")
	}

	permitArg := permit2PermitArg{
		Permitted: permit2TokenArg{
			Token:  common.HexToAddress(auth.Permitted.Token),
			Amount: amount,
		},
		Nonce:    nonce,
		Deadline: deadline,
	}
	witnessArg := permit2WitnessArg{
		To:         common.HexToAddress(auth.Witness.To),
		ValidAfter: validAfter,
		Extra:      extraBytes,
	}

	eip2612Info, _ := eip2612gassponsor.ExtractEip2612GasSponsoringInfo(payload.Extensions)

	var txHash string
	if eip2612Info != nil {
		v, r, s, splitErr := splitEip2612Signature(eip2612Info.Signature)
		if splitErr != nil {
			return nil, x402.NewSettleError(ErrInvalidPayload, payer, network, "", "invalid eip2612 signature format")
		}
		eip2612Value, ok := decimalBig(eip2612Info.Amount)
		if !ok {
			return nil, x402.NewSettleError(ErrInvalidPayload, payer, network, "", "invalid eip2612 amount")
		}
		eip2612Deadline, ok := decimalBig(eip2612Info.Deadline)
		if !ok {
			return nil, x402.NewSettleError(ErrInvalidPayload, payer, network, "", "invalid eip2612 deadline")
		}

		txHash, err = signer.WriteContract(
			ctx,
			evm.X402ExactPermit2ProxyAddress,
			evm.X402ExactPermit2ProxySettleWithPermitABI,
			evm.FunctionSettleWithPermit,
			eip2612PermitArg{Value: eip2612Value, Deadline: eip2612Deadline, R: r, S: s, V: v},
			permitArg,
			common.HexToAddress(payer),
			witnessArg,
			signatureBytes,
		)
	} else {
		txHash, err = signer.WriteContract(
			ctx,
			evm.X402ExactPermit2ProxyAddress,
			evm.X402ExactPermit2ProxySettleABI,
			evm.FunctionSettle,
			permitArg,
			common.HexToAddress(payer),
			witnessArg,
			signatureBytes,
		)
	}
	if err != nil {
		return nil, x402.NewSettleError(parsePermit2Error(err), payer, network, "", err.Error())
	}

	receipt, err := signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, x402.NewSettleError(ErrFailedToGetReceipt, payer, network, txHash, err.Error())
	}
	if receipt.Status != evm.TxStatusSuccess {
		return nil, x402.NewSettleError(ErrTransactionFailed, payer, network, txHash, "")
	}

	return &x402.SettleResponse{
		Success:     true,
		Transaction: txHash,
		Network:     network,
		Payer:       verifyResp.Payer,
	}, nil
}

func verifyPermit2Signature(
	ctx context.Context,
	signer evm.FacilitatorEvmSigner,
	authorization evm.Permit2Authorization,
	signature []byte,
	chainID *big.Int,
) (bool, error) {
	hash, err := evm.HashPermit2Authorization(authorization, chainID)
	if err != nil {
		return false, err
	}

	var hash32 [32]byte
	copy(hash32[:], hash)

	// EOA and EIP-1271 wallets both pass through universal verification.
	valid, _, err := evm.VerifyUniversalSignature(ctx, signer, authorization.From, hash32, signature, true)
	return valid, err
}

// validateEip2612PermitForPayment checks that a permit actually covers this
// payment: signed by the payer, for this token, approving Permit2, and not
// expiring before settlement can mine. Returns "" when valid, an error
// reason otherwise.
func validateEip2612PermitForPayment(info *eip2612gassponsor.Info, payer string, tokenAddress string) string {
	if !eip2612gassponsor.ValidateEip2612GasSponsoringInfo(info) {
		return ErrEip2612InvalidPermit
	}
	if !strings.EqualFold(info.From, payer) {
		return ErrEip2612PermitMismatch
	}
	if !strings.EqualFold(info.Asset, tokenAddress) {
		return ErrEip2612PermitMismatch
	}
	if !strings.EqualFold(info.Spender, evm.PERMIT2Address) {
		return ErrEip2612PermitMismatch
	}

	deadline, ok := decimalBig(info.Deadline)
	if !ok || deadline.Int64() < time.Now().Unix()+evm.Permit2DeadlineBuffer {
		return ErrEip2612DeadlineExpired
	}
	return ""
}

// splitEip2612Signature splits a 65-byte hex signature into its (v, r, s)
// components for the settleWithPermit call.
func splitEip2612Signature(signature string) (uint8, [32]byte, [32]byte, error) {
	sigBytes, err := evm.HexToBytes(signature)
	if err != nil {
		return 0, [32]byte{}, [32]byte{}, err
	}
	if len(sigBytes) != 65 {
		return 0, [32]byte{}, [32]byte{}, errors.New("signature must be 65 bytes")
	}

	var r, s [32]byte
	copy(r[:], sigBytes[0:32])
	copy(s[:], sigBytes[32:64])
	return sigBytes[64], r, s, nil
}

// parsePermit2Error maps proxy contract revert strings to protocol error
// codes.
func parsePermit2Error(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "AmountExceedsPermitted"):
		return ErrPermit2AmountExceedsPermitted
	case strings.Contains(msg, "InvalidDestination"):
		return ErrPermit2InvalidDestination
	case strings.Contains(msg, "InvalidOwner"):
		return ErrPermit2InvalidOwner
	case strings.Contains(msg, "PaymentTooEarly"):
		return ErrPermit2PaymentTooEarly
	case strings.Contains(msg, "InvalidSignature"), strings.Contains(msg, "SignatureExpired"):
		return ErrPermit2InvalidSignature
	case strings.Contains(msg, "InvalidNonce"):
		return ErrPermit2InvalidNonce
	default:
		return ErrFailedToExecuteTransfer
	}
}
