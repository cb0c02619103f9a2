// Package eip2612gassponsor implements the EIP-2612 Gas Sponsoring protocol
// extension.
//
// Tokens that implement EIP-2612 can approve the canonical Permit2 contract
// with an off-chain signature instead of an on-chain approve transaction.
// The resource server declares the extension in its 402 response, the client
// attaches a signed permit, and the facilitator submits it alongside the
// payment via x402Permit2Proxy.settleWithPermit, so the payer never needs
// gas for the approval.
package eip2612gassponsor

// EIP2612GasSponsoring is the key under which the extension travels in
// PaymentRequired.extensions and PaymentPayload.extensions.
const EIP2612GasSponsoring = "eip2612GasSponsoring"

// Info is the permit data the client fills in. All numeric values are
// decimal strings; the facilitator forwards them to settleWithPermit.
type Info struct {
	// From is the token owner granting the approval.
	From string `json:"from"`
	// Asset is the ERC-20 token contract being approved.
	Asset string `json:"asset"`
	// Spender is the approval target, the canonical Permit2 contract.
	Spender string `json:"spender"`
	// Amount is the uint256 approval amount, typically MaxUint256.
	Amount string `json:"amount"`
	// Nonce is the owner's current EIP-2612 nonce.
	Nonce string `json:"nonce"`
	// Deadline is the unix timestamp after which the permit is void.
	Deadline string `json:"deadline"`
	// Signature is the 65-byte concatenated permit signature (r, s, v) as hex.
	Signature string `json:"signature"`
	// Version is the extension schema version.
	Version string `json:"version"`
}

// ServerInfo is what the server puts in its declaration; the client
// replaces it with a full Info when it signs a permit.
type ServerInfo struct {
	Description string `json:"description"`
	Version     string `json:"version"`
}

// Extension is the wire shape of the extension object: an info payload
// plus the JSON Schema describing what the client must provide.
type Extension struct {
	Info   interface{}            `json:"info"`
	Schema map[string]interface{} `json:"schema"`
}
