package svm

import (
	"context"
	"fmt"

	solana "github.com/gagliardetto/solana-go"

	x402svm "github.com/x402/x402-go/mechanisms/svm"
)

// SignTransactionFunc adds a signature to a Solana transaction in place.
type SignTransactionFunc func(ctx context.Context, tx *solana.Transaction) error

// SignMessageFunc signs raw message bytes with Ed25519, e.g. for
// Sign-In-With-X challenges.
type SignMessageFunc func(ctx context.Context, message []byte) ([]byte, error)

// ClientSigner implements x402svm.ClientSvmSigner around signing
// callbacks, so the key can live anywhere: in-process, a wallet adapter,
// or a remote signing service.
type ClientSigner struct {
	publicKey       solana.PublicKey
	signTransaction SignTransactionFunc
	signMessage     SignMessageFunc
}

var _ x402svm.ClientSvmSigner = (*ClientSigner)(nil)

// NewClientSigner builds a signer from a public key and a transaction
// signing callback. Message signing stays unconfigured until
// WithMessageSigning is called.
func NewClientSigner(publicKey solana.PublicKey, signFunc SignTransactionFunc) (*ClientSigner, error) {
	if publicKey == (solana.PublicKey{}) {
		return nil, fmt.Errorf("public key is required")
	}
	if signFunc == nil {
		return nil, fmt.Errorf("sign callback is required")
	}

	return &ClientSigner{
		publicKey:       publicKey,
		signTransaction: signFunc,
	}, nil
}

// NewClientSignerFromPrivateKey builds a fully configured signer from a
// base58-encoded private key held in process: both transaction and
// message signing work out of the box.
func NewClientSignerFromPrivateKey(privateKeyBase58 string) (*ClientSigner, error) {
	privateKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	signer, err := NewClientSigner(privateKey.PublicKey(), func(ctx context.Context, tx *solana.Transaction) error {
		return signTransactionWithPrivateKey(ctx, privateKey, tx)
	})
	if err != nil {
		return nil, err
	}
	signer.signMessage = func(_ context.Context, message []byte) ([]byte, error) {
		signature, err := privateKey.Sign(message)
		if err != nil {
			return nil, fmt.Errorf("failed to sign message: %w", err)
		}
		return signature[:], nil
	}
	return signer, nil
}

// WithMessageSigning sets the callback used for raw message signing.
// Callback-constructed signers need this before they can produce
// Sign-In-With-X signatures.
func (s *ClientSigner) WithMessageSigning(signFunc SignMessageFunc) *ClientSigner {
	s.signMessage = signFunc
	return s
}

// SignMessage signs raw message bytes with Ed25519.
func (s *ClientSigner) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	if s.signMessage == nil {
		return nil, fmt.Errorf("message signing not configured; use NewClientSignerFromPrivateKey or WithMessageSigning")
	}
	return s.signMessage(ctx, message)
}

// Address returns the signer's Solana public key.
func (s *ClientSigner) Address() solana.PublicKey {
	return s.publicKey
}

// SignTransaction adds the client's signature to a partially signed
// payment transaction; the fee payer's signature comes later from the
// facilitator.
func (s *ClientSigner) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	return s.signTransaction(ctx, tx)
}

// signTransactionWithPrivateKey signs the transaction message and places
// the signature at the key's account index, growing the signatures slice
// when the slot does not exist yet.
func signTransactionWithPrivateKey(_ context.Context, privateKey solana.PrivateKey, tx *solana.Transaction) error {
	messageBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	signature, err := privateKey.Sign(messageBytes)
	if err != nil {
		return fmt.Errorf("failed to sign: %w", err)
	}

	accountIndex, err := tx.GetAccountIndex(privateKey.PublicKey())
	if err != nil {
		return fmt.Errorf("failed to get account index: %w", err)
	}

	if len(tx.Signatures) <= int(accountIndex) {
		grown := make([]solana.Signature, accountIndex+1)
		copy(grown, tx.Signatures)
		tx.Signatures = grown
	}
	tx.Signatures[accountIndex] = signature

	return nil
}
