package siwx

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	solana "github.com/gagliardetto/solana-go"
)

// VerifyPayloadSignature checks the payload's signature against the
// CAIP-122 message rebuilt from its fields, dispatching on the chain
// namespace: EIP-191 personal-message recovery for eip155, Ed25519 for
// solana.
func VerifyPayloadSignature(p Payload) error {
	message := BuildMessage(p)

	switch p.Namespace() {
	case "eip155":
		return verifyEIP191(message, p.Address, p.Signature)
	case "solana":
		return verifyEd25519(message, p.Address, p.Signature)
	default:
		return fmt.Errorf("unsupported chain namespace in %q", p.ChainID)
	}
}

// verifyEIP191 recovers the signer from an EIP-191 personal-message
// signature and compares it to the claimed address (case insensitive).
func verifyEIP191(message, address, signature string) error {
	sigHex := strings.TrimPrefix(signature, "0x")
	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(sigBytes) != 65 {
		return fmt.Errorf("invalid signature length: %d", len(sigBytes))
	}

	// go-ethereum's recovery wants v in {0, 1}
	sig := make([]byte, 65)
	copy(sig, sigBytes)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	digest := accounts.TextHash([]byte(message))
	publicKey, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return fmt.Errorf("failed to recover signer: %w", err)
	}

	recovered := crypto.PubkeyToAddress(*publicKey)
	if !strings.EqualFold(recovered.Hex(), address) {
		return fmt.Errorf("signature recovered %s, payload claims %s", recovered.Hex(), address)
	}
	return nil
}

// verifyEd25519 checks an Ed25519 signature over the raw UTF-8 message
// bytes. Address and signature are Base58 and must decode to 32 and 64
// bytes respectively.
func verifyEd25519(message, address, signature string) error {
	publicKey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return fmt.Errorf("invalid solana address: %w", err)
	}

	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return fmt.Errorf("invalid solana signature: %w", err)
	}

	if !ed25519.Verify(ed25519.PublicKey(publicKey[:]), []byte(message), sig[:]) {
		return fmt.Errorf("ed25519 signature does not verify for %s", address)
	}
	return nil
}
