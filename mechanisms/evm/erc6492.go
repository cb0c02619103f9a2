package evm

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// UniversalSigValidatorAddress is the ERC-6492 UniversalSigValidator
// (Ambire reference implementation), deployed via CREATE2 at the same
// address across EVM chains. isValidSig atomically simulates the factory
// deployment for wrapped signatures and then runs EIP-1271 validation.
const UniversalSigValidatorAddress = "0x164af34fAF9879394370C7f09064127C043A35E9"

// UniversalSigValidatorABI for isValidSig(signer, hash, signature)
var UniversalSigValidatorABI = []byte(`[
	{
		"inputs": [
			{"name": "_signer", "type": "address"},
			{"name": "_hash", "type": "bytes32"},
			{"name": "_signature", "type": "bytes"}
		],
		"name": "isValidSig",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`)

// EIP1271ABI for isValidSignature(hash, signature) on deployed smart wallets
var EIP1271ABI = []byte(`[
	{
		"inputs": [
			{"name": "_hash", "type": "bytes32"},
			{"name": "_signature", "type": "bytes"}
		],
		"name": "isValidSignature",
		"outputs": [{"name": "", "type": "bytes4"}],
		"stateMutability": "view",
		"type": "function"
	}
]`)

// erc6492MagicSuffix is the 32-byte marker terminating a wrapped signature.
var erc6492MagicSuffix = common.FromHex(ERC6492MagicValue)

// IsERC6492Signature reports whether the signature carries the ERC-6492
// wrapper (ends with the magic suffix).
func IsERC6492Signature(signature []byte) bool {
	return len(signature) >= 32 && bytes.Equal(signature[len(signature)-32:], erc6492MagicSuffix)
}

// ParseERC6492Signature splits an ERC-6492 wrapped signature into its
// factory address, factory calldata and inner signature. Unwrapped
// signatures pass through with a zero factory and the signature itself as
// the inner signature.
func ParseERC6492Signature(signature []byte) (*ERC6492SignatureData, error) {
	if !IsERC6492Signature(signature) {
		return &ERC6492SignatureData{InnerSignature: signature}, nil
	}

	// Wrapper layout: abi.encode(address factory, bytes factoryCalldata, bytes innerSig) || magic
	addressType, _ := abi.NewType("address", "", nil)
	bytesType, _ := abi.NewType("bytes", "", nil)
	args := abi.Arguments{
		{Type: addressType},
		{Type: bytesType},
		{Type: bytesType},
	}

	values, err := args.Unpack(signature[:len(signature)-32])
	if err != nil {
		return nil, fmt.Errorf("failed to decode ERC-6492 wrapper: %w", err)
	}
	if len(values) != 3 {
		return nil, fmt.Errorf("unexpected ERC-6492 wrapper arity: %d", len(values))
	}

	factory, ok := values[0].(common.Address)
	if !ok {
		return nil, fmt.Errorf("unexpected ERC-6492 factory type: %T", values[0])
	}
	factoryCalldata, ok := values[1].([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected ERC-6492 calldata type: %T", values[1])
	}
	innerSignature, ok := values[2].([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected ERC-6492 signature type: %T", values[2])
	}

	data := &ERC6492SignatureData{
		FactoryCalldata: factoryCalldata,
		InnerSignature:  innerSignature,
	}
	copy(data.Factory[:], factory.Bytes())
	return data, nil
}

// VerifyUniversalSignature verifies a signature from any wallet type:
// EOA (ecrecover), deployed smart wallet (EIP-1271 isValidSignature), or
// undeployed smart wallet (ERC-6492 wrapper via the UniversalSigValidator,
// which simulates the deployment in an eth_call).
//
// Returns the parsed signature data alongside the validity result so
// callers can detect an undeployed wallet and deploy it during settlement.
func VerifyUniversalSignature(
	ctx context.Context,
	signer FacilitatorEvmSigner,
	signerAddress string,
	hash [32]byte,
	signature []byte,
	allowUndeployed bool,
) (bool, *ERC6492SignatureData, error) {
	sigData, err := ParseERC6492Signature(signature)
	if err != nil {
		return false, nil, err
	}

	zeroFactory := [20]byte{}
	if sigData.Factory != zeroFactory {
		// Wrapped signature: the validator simulates deployment then checks
		// EIP-1271 against the counterfactual wallet.
		if !allowUndeployed {
			code, err := signer.GetCode(ctx, signerAddress)
			if err != nil {
				return false, sigData, err
			}
			if len(code) == 0 {
				return false, sigData, nil
			}
		}
		valid, err := verifyWithUniversalValidator(ctx, signer, signerAddress, hash, signature)
		return valid, sigData, err
	}

	inner := sigData.InnerSignature

	code, err := signer.GetCode(ctx, signerAddress)
	if err != nil {
		return false, sigData, err
	}

	if len(code) > 0 {
		// Deployed smart wallet: EIP-1271
		valid, err := VerifyEIP1271Signature(ctx, signer, signerAddress, hash, inner)
		return valid, sigData, err
	}

	// EOA: recover the signer from the 65-byte ECDSA signature
	if len(inner) != 65 {
		return false, sigData, nil
	}
	recovered, err := RecoverSigner(hash, inner)
	if err != nil {
		return false, sigData, nil
	}
	return strings.EqualFold(recovered, signerAddress), sigData, nil
}

// VerifyEIP1271Signature calls isValidSignature on a deployed contract
// wallet and compares the result against the EIP-1271 magic value.
func VerifyEIP1271Signature(
	ctx context.Context,
	signer FacilitatorEvmSigner,
	walletAddress string,
	hash [32]byte,
	signature []byte,
) (bool, error) {
	result, err := signer.ReadContract(
		ctx,
		walletAddress,
		EIP1271ABI,
		"isValidSignature",
		hash,
		signature,
	)
	if err != nil {
		return false, err
	}

	magic, ok := result.([4]byte)
	if !ok {
		return false, nil
	}
	return BytesToHex(magic[:]) == EIP1271MagicValue, nil
}

// verifyWithUniversalValidator runs the full wrapped signature through the
// UniversalSigValidator via eth_call. No state changes are committed.
func verifyWithUniversalValidator(
	ctx context.Context,
	signer FacilitatorEvmSigner,
	signerAddress string,
	hash [32]byte,
	signature []byte,
) (bool, error) {
	result, err := signer.ReadContract(
		ctx,
		UniversalSigValidatorAddress,
		UniversalSigValidatorABI,
		"isValidSig",
		common.HexToAddress(signerAddress),
		hash,
		signature,
	)
	if err != nil {
		return false, err
	}
	valid, ok := result.(bool)
	if !ok {
		return false, nil
	}
	return valid, nil
}

// RecoverSigner recovers the Ethereum address that produced a 65-byte
// ECDSA signature over the given digest. Accepts both 0/1 and 27/28
// recovery id encodings.
func RecoverSigner(hash [32]byte, signature []byte) (string, error) {
	if len(signature) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes, got %d", len(signature))
	}

	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pubKey, err := crypto.SigToPub(hash[:], sig)
	if err != nil {
		return "", fmt.Errorf("failed to recover public key: %w", err)
	}

	return crypto.PubkeyToAddress(*pubKey).Hex(), nil
}
