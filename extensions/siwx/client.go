package siwx

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	x402 "github.com/x402/x402-go"
	x402http "github.com/x402/x402-go/http"
)

// EvmMessageSigner signs raw message bytes with EIP-191 personal-message
// signing. signers/evm.ClientSigner implements this.
type EvmMessageSigner interface {
	Address() string
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
}

// SvmMessageSigner signs raw message bytes with Ed25519.
// signers/svm.ClientSigner implements this.
type SvmMessageSigner interface {
	Address() solana.PublicKey
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
}

// ClientSIWX is the client side of the extension: when a 402 carries a
// sign-in-with-x declaration for a chain we hold a signer for, it signs
// the challenge and produces the SIGN-IN-WITH-X header so the retry can
// skip payment.
type ClientSIWX struct {
	evmSigner EvmMessageSigner
	svmSigner SvmMessageSigner
	logger    *slog.Logger
}

// ClientOption configures a ClientSIWX.
type ClientOption func(*ClientSIWX)

// WithEvmSigner sets the signer used for eip155 chains.
func WithEvmSigner(signer EvmMessageSigner) ClientOption {
	return func(c *ClientSIWX) { c.evmSigner = signer }
}

// WithSvmSigner sets the signer used for solana chains.
func WithSvmSigner(signer SvmMessageSigner) ClientOption {
	return func(c *ClientSIWX) { c.svmSigner = signer }
}

// WithClientLogger overrides the default logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *ClientSIWX) { c.logger = logger }
}

// NewClientSIWX builds the client-side extension. At least one signer must
// be provided or the hook never produces a header.
func NewClientSIWX(opts ...ClientOption) *ClientSIWX {
	c := &ClientSIWX{logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Attach registers the sign-in hook on an HTTP client.
func (c *ClientSIWX) Attach(client *x402http.X402HTTPClient) {
	client.OnPaymentRequired(c.HandlePaymentRequired)
}

// HandlePaymentRequired is the OnPaymentRequired hook: it inspects the 402
// for a sign-in declaration covering the chain of the first accepted
// requirement, signs a CAIP-122 message, and returns the SIGN-IN-WITH-X
// header. A nil return (no declaration, no matching chain, no signer)
// lets the flow continue to payment.
func (c *ClientSIWX) HandlePaymentRequired(ctx context.Context, required x402.PaymentRequired, req *http.Request) (map[string]string, error) {
	raw, ok := required.Extensions[SignInWithX]
	if !ok || len(required.Accepts) == 0 {
		return nil, nil
	}

	decl, err := parseDeclaration(raw)
	if err != nil {
		return nil, fmt.Errorf("malformed sign-in-with-x declaration: %w", err)
	}

	chainID := string(required.Accepts[0].Network)
	chain, ok := findChain(decl.SupportedChains, chainID)
	if !ok {
		return nil, nil
	}

	payload := Payload{
		Domain:          decl.Domain,
		Statement:       decl.Statement,
		URI:             req.URL.String(),
		Version:         Version,
		ChainID:         chain.ChainID,
		Nonce:           decl.Nonce,
		IssuedAt:        decl.IssuedAt,
		ExpirationTime:  decl.ExpirationTime,
		SignatureScheme: chain.SignatureScheme,
	}
	if payload.Domain == "" {
		payload.Domain = req.URL.Host
	}
	if payload.IssuedAt == "" {
		payload.IssuedAt = time.Now().UTC().Format(time.RFC3339)
	}

	if err := c.sign(ctx, &payload); err != nil {
		return nil, err
	}
	if payload.Signature == "" {
		// No signer for this namespace.
		return nil, nil
	}

	header, err := EncodeHeader(payload)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("siwx challenge signed", "chainId", chain.ChainID, "address", payload.Address)
	return map[string]string{HeaderName: header}, nil
}

// sign fills Address and Signature per the chain namespace, leaving the
// payload untouched when no signer covers the namespace.
func (c *ClientSIWX) sign(ctx context.Context, payload *Payload) error {
	switch payload.Namespace() {
	case "eip155":
		if c.evmSigner == nil {
			return nil
		}
		payload.Address = c.evmSigner.Address()
		signature, err := c.evmSigner.SignMessage(ctx, []byte(BuildMessage(*payload)))
		if err != nil {
			return fmt.Errorf("failed to sign message: %w", err)
		}
		payload.Signature = "0x" + hex.EncodeToString(signature)
	case "solana":
		if c.svmSigner == nil {
			return nil
		}
		payload.Address = c.svmSigner.Address().String()
		signature, err := c.svmSigner.SignMessage(ctx, []byte(BuildMessage(*payload)))
		if err != nil {
			return fmt.Errorf("failed to sign message: %w", err)
		}
		payload.Signature = base58.Encode(signature)
	default:
		return fmt.Errorf("unsupported chain namespace in %q", payload.ChainID)
	}
	return nil
}

func findChain(chains []SupportedChain, chainID string) (SupportedChain, bool) {
	for _, chain := range chains {
		if chain.ChainID == chainID {
			return chain, true
		}
	}
	return SupportedChain{}, false
}

func parseDeclaration(raw interface{}) (Declaration, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return Declaration{}, err
	}
	var decl Declaration
	if err := json.Unmarshal(data, &decl); err != nil {
		return Declaration{}, err
	}
	return decl, nil
}
