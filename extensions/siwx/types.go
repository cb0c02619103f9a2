// Package siwx implements the Sign-In-With-X extension: a wallet that has
// already paid for a resource re-authenticates on later requests by signing
// a CAIP-122 message instead of paying again.
//
// The extension participates on both sides of the wire. The server declares
// a sign-in challenge inside the 402 response (extensions["sign-in-with-x"])
// and checks the SIGN-IN-WITH-X request header before the payment flow runs.
// The client detects the declaration, signs the challenge with its wallet
// (EIP-191 for eip155 chains, Ed25519 for solana chains), and retries the
// request carrying the signed payload.
package siwx

import (
	"fmt"
	"strings"
)

// SignInWithX is the extension key under which sign-in challenges are
// declared in PaymentRequired.Extensions.
const SignInWithX = "sign-in-with-x"

// HeaderName is the request header carrying the base64-encoded signed
// payload.
const HeaderName = "SIGN-IN-WITH-X"

// Version is the only CAIP-122 payload version this package produces or
// accepts.
const Version = "1"

// Signature schemes advertised per chain namespace.
const (
	SchemeEIP191  = "eip191"
	SchemeEd25519 = "ed25519"
)

// Payload is the signed sign-in payload sent in the SIGN-IN-WITH-X header.
// All time fields are RFC 3339 / ISO-8601 strings.
type Payload struct {
	Domain          string   `json:"domain"`
	Address         string   `json:"address"`
	Statement       string   `json:"statement,omitempty"`
	URI             string   `json:"uri"`
	Version         string   `json:"version"`
	ChainID         string   `json:"chainId"`
	Nonce           string   `json:"nonce"`
	IssuedAt        string   `json:"issuedAt"`
	ExpirationTime  string   `json:"expirationTime,omitempty"`
	NotBefore       string   `json:"notBefore,omitempty"`
	RequestID       string   `json:"requestId,omitempty"`
	Resources       []string `json:"resources,omitempty"`
	SignatureScheme string   `json:"signatureScheme,omitempty"`
	Signature       string   `json:"signature"`
}

// Namespace returns the CAIP-2 namespace of the payload's chain
// ("eip155", "solana").
func (p Payload) Namespace() string {
	parts := strings.SplitN(p.ChainID, ":", 2)
	if len(parts) != 2 || parts[0] == "" {
		return ""
	}
	return parts[0]
}

// Validate checks the structural invariants of a payload: a non-empty
// nonce, a supported chain namespace, and a known version.
func (p Payload) Validate() error {
	if p.Nonce == "" {
		return fmt.Errorf("nonce is required")
	}
	if p.Version != Version {
		return fmt.Errorf("unsupported payload version: %q", p.Version)
	}
	switch p.Namespace() {
	case "eip155", "solana":
	default:
		return fmt.Errorf("unsupported chain namespace in %q", p.ChainID)
	}
	if p.Address == "" {
		return fmt.Errorf("address is required")
	}
	if p.Signature == "" {
		return fmt.Errorf("signature is required")
	}
	return nil
}

// SupportedChain is one chain the server accepts sign-ins on, with the
// signature scheme clients must use for it.
type SupportedChain struct {
	ChainID         string `json:"chainId"`
	SignatureScheme string `json:"signatureScheme"`
}

// Declaration is the challenge declared under the sign-in-with-x key in a
// 402 response. Nonce, IssuedAt and ExpirationTime are regenerated on every
// 402 by the server-side extension.
type Declaration struct {
	Version         string           `json:"version"`
	Domain          string           `json:"domain,omitempty"`
	Statement       string           `json:"statement,omitempty"`
	Nonce           string           `json:"nonce"`
	IssuedAt        string           `json:"issuedAt"`
	ExpirationTime  string           `json:"expirationTime,omitempty"`
	SupportedChains []SupportedChain `json:"supportedChains"`
}
