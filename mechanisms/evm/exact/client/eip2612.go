package client

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/x402/x402-go/extensions/eip2612gassponsor"
	"github.com/x402/x402-go/mechanisms/evm"
)

// SignEip2612Permit signs an off-chain EIP-2612 permit approving the
// canonical Permit2 contract for the maximum amount. The signer must be
// able to read the token contract, since the permit binds the owner's
// current nonce. The returned Info goes into the payment payload's
// gas-sponsoring extension for the facilitator to submit on-chain.
func SignEip2612Permit(
	ctx context.Context,
	signer evm.ClientEvmSigner,
	tokenAddress string,
	tokenName string,
	tokenVersion string,
	chainID *big.Int,
	deadline string,
) (*eip2612gassponsor.Info, error) {
	owner := signer.Address()
	token := evm.NormalizeAddress(tokenAddress)

	nonceResult, err := signer.ReadContract(ctx, token, evm.EIP2612NoncesABI, "nonces",
		common.HexToAddress(owner))
	if err != nil {
		return nil, fmt.Errorf("failed to read EIP-2612 nonce: %w", err)
	}
	nonce, ok := nonceResult.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected nonce type: %T", nonceResult)
	}

	deadlineBig, ok := new(big.Int).SetString(deadline, 10)
	if !ok {
		return nil, fmt.Errorf("invalid deadline: %s", deadline)
	}

	// The permit domain is the token's own EIP-712 domain, not Permit2's.
	domain := evm.TypedDataDomain{
		Name:              tokenName,
		Version:           tokenVersion,
		ChainID:           chainID,
		VerifyingContract: token,
	}
	value := evm.MaxUint256()
	message := map[string]interface{}{
		"owner":    owner,
		"spender":  evm.PERMIT2Address,
		"value":    value,
		"nonce":    nonce,
		"deadline": deadlineBig,
	}

	signatureBytes, err := signer.SignTypedData(ctx, domain, evm.GetEIP2612EIP712Types(), "Permit", message)
	if err != nil {
		return nil, fmt.Errorf("failed to sign EIP-2612 permit: %w", err)
	}

	return &eip2612gassponsor.Info{
		From:      owner,
		Asset:     token,
		Spender:   evm.PERMIT2Address,
		Amount:    value.String(),
		Nonce:     nonce.String(),
		Deadline:  deadline,
		Signature: evm.BytesToHex(signatureBytes),
		Version:   "1",
	}, nil
}
