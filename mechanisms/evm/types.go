package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
)

// ExactEIP3009Authorization is the TransferWithAuthorization tuple of
// EIP-3009. All numeric fields travel as decimal strings; the nonce is a
// 32-byte hex string.
type ExactEIP3009Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactEIP3009Payload is the exact-scheme payload for tokens that support
// transferWithAuthorization. Signature is empty until the client signs.
type ExactEIP3009Payload struct {
	Signature     string                    `json:"signature,omitempty"`
	Authorization ExactEIP3009Authorization `json:"authorization"`
}

// Both wire generations carry the same exact-EVM shape.
type (
	ExactEvmPayloadV1 = ExactEIP3009Payload
	ExactEvmPayloadV2 = ExactEIP3009Payload
)

// AssetTransferMethod selects the on-chain transfer mechanism:
// transferWithAuthorization for EIP-3009 tokens, or Permit2 through the
// x402 proxy as the universal fallback for any ERC-20.
type AssetTransferMethod string

const (
	AssetTransferMethodEIP3009 AssetTransferMethod = "eip3009"
	AssetTransferMethodPermit2 AssetTransferMethod = "permit2"
)

// Permit2TokenPermissions is the permitted (token, amount) pair inside the
// signed PermitWitnessTransferFrom message.
type Permit2TokenPermissions struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// Permit2Witness is verified on-chain by the x402 Permit2 proxy. The upper
// time bound lives in Permit2's own deadline field, not here.
type Permit2Witness struct {
	To         string `json:"to"`
	ValidAfter string `json:"validAfter"`
	Extra      string `json:"extra"`
}

// Permit2Authorization mirrors the PermitWitnessTransferFrom struct the
// Permit2 contract consumes. Spender must be the x402 proxy address.
type Permit2Authorization struct {
	From      string                  `json:"from"`
	Permitted Permit2TokenPermissions `json:"permitted"`
	Spender   string                  `json:"spender"`
	Nonce     string                  `json:"nonce"`
	Deadline  string                  `json:"deadline"`
	Witness   Permit2Witness          `json:"witness"`
}

// ExactPermit2Payload is the complete Permit2 payment: the authorization
// that was signed plus the EIP-712 signature over it.
type ExactPermit2Payload struct {
	Signature            string               `json:"signature"`
	Permit2Authorization Permit2Authorization `json:"permit2Authorization"`
}

// ToMap renders the payload as the generic map the payload envelope
// carries. The JSON tags define the wire keys, so a round trip through
// encoding/json is the rendering.
func (p *ExactPermit2Payload) ToMap() map[string]interface{} {
	return structToWireMap(p)
}

// ToMap renders the payload as the generic map the payload envelope
// carries. An unsigned payload omits the signature key.
func (p *ExactEIP3009Payload) ToMap() map[string]interface{} {
	return structToWireMap(p)
}

func structToWireMap(v interface{}) map[string]interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

// stringField pulls a required string out of a decoded JSON object.
func stringField(obj map[string]interface{}, path, key string) (string, error) {
	value, ok := obj[key].(string)
	if !ok {
		return "", fmt.Errorf("missing or invalid %s.%s field", path, key)
	}
	return value, nil
}

func objectField(obj map[string]interface{}, path, key string) (map[string]interface{}, error) {
	value, ok := obj[key].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("missing or invalid %s.%s field", path, key)
	}
	return value, nil
}

// Permit2PayloadFromMap decodes a generic payload map into a typed Permit2
// payload, rejecting any map missing a required authorization field.
func Permit2PayloadFromMap(data map[string]interface{}) (*ExactPermit2Payload, error) {
	payload := &ExactPermit2Payload{}
	payload.Signature, _ = data["signature"].(string)

	auth, ok := data["permit2Authorization"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("missing or invalid permit2Authorization field")
	}

	var err error
	out := &payload.Permit2Authorization
	if out.From, err = stringField(auth, "permit2Authorization", "from"); err != nil {
		return nil, err
	}
	if out.Spender, err = stringField(auth, "permit2Authorization", "spender"); err != nil {
		return nil, err
	}
	if out.Nonce, err = stringField(auth, "permit2Authorization", "nonce"); err != nil {
		return nil, err
	}
	if out.Deadline, err = stringField(auth, "permit2Authorization", "deadline"); err != nil {
		return nil, err
	}

	permitted, err := objectField(auth, "permit2Authorization", "permitted")
	if err != nil {
		return nil, err
	}
	if out.Permitted.Token, err = stringField(permitted, "permit2Authorization.permitted", "token"); err != nil {
		return nil, err
	}
	if out.Permitted.Amount, err = stringField(permitted, "permit2Authorization.permitted", "amount"); err != nil {
		return nil, err
	}

	witness, err := objectField(auth, "permit2Authorization", "witness")
	if err != nil {
		return nil, err
	}
	if out.Witness.To, err = stringField(witness, "permit2Authorization.witness", "to"); err != nil {
		return nil, err
	}
	if out.Witness.ValidAfter, err = stringField(witness, "permit2Authorization.witness", "validAfter"); err != nil {
		return nil, err
	}
	// extra is optional calldata
	if extra, ok := witness["extra"].(string); ok {
		out.Witness.Extra = extra
	} else {
		out.Witness.Extra = "0x"
	}

	return payload, nil
}

// PayloadFromMap decodes a generic payload map into a typed EIP-3009
// payload. Missing fields decode to empty strings; the facilitator's
// validation pass reports them with protocol error kinds.
func PayloadFromMap(data map[string]interface{}) (*ExactEIP3009Payload, error) {
	payload := &ExactEIP3009Payload{}
	payload.Signature, _ = data["signature"].(string)

	if auth, ok := data["authorization"].(map[string]interface{}); ok {
		payload.Authorization.From, _ = auth["from"].(string)
		payload.Authorization.To, _ = auth["to"].(string)
		payload.Authorization.Value, _ = auth["value"].(string)
		payload.Authorization.ValidAfter, _ = auth["validAfter"].(string)
		payload.Authorization.ValidBefore, _ = auth["validBefore"].(string)
		payload.Authorization.Nonce, _ = auth["nonce"].(string)
	}

	return payload, nil
}

// IsPermit2Payload reports whether a payload map carries a Permit2
// authorization.
func IsPermit2Payload(data map[string]interface{}) bool {
	_, ok := data["permit2Authorization"]
	return ok
}

// IsEIP3009Payload reports whether a payload map carries an EIP-3009
// authorization.
func IsEIP3009Payload(data map[string]interface{}) bool {
	_, ok := data["authorization"]
	return ok
}

// ClientEvmSigner signs EIP-712 typed data on behalf of the paying wallet.
type ClientEvmSigner interface {
	Address() string
	SignTypedData(ctx context.Context, domain TypedDataDomain, types map[string][]TypedDataField, primaryType string, message map[string]interface{}) ([]byte, error)
	ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (interface{}, error)
}

// FacilitatorEvmSigner is the facilitator's on-chain access. Multiple
// addresses allow key rotation and load balancing across settlement keys.
type FacilitatorEvmSigner interface {
	GetAddresses() []string

	ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (interface{}, error)

	// VerifyTypedData verifies an EIP-712 signature, including EIP-1271
	// and ERC-6492 smart-wallet signatures when the implementation has
	// chain access.
	VerifyTypedData(ctx context.Context, address string, domain TypedDataDomain, types map[string][]TypedDataField, primaryType string, message map[string]interface{}, signature []byte) (bool, error)

	WriteContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (string, error)

	// SendTransaction submits pre-encoded calldata. Used for
	// counterfactual smart-wallet deployment.
	SendTransaction(ctx context.Context, to string, data []byte) (string, error)

	WaitForTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error)

	GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error)

	GetChainID(ctx context.Context) (*big.Int, error)

	// GetCode returns the bytecode at an address; empty for EOAs and
	// undeployed wallets.
	GetCode(ctx context.Context, address string) ([]byte, error)
}

// TypedDataDomain is the EIP-712 domain separator.
type TypedDataDomain struct {
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	ChainID           *big.Int `json:"chainId"`
	VerifyingContract string   `json:"verifyingContract"`
}

// TypedDataField is one field of an EIP-712 type definition.
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TransactionReceipt is the subset of a mined receipt settlement cares
// about.
type TransactionReceipt struct {
	Status      uint64 `json:"status"`
	BlockNumber uint64 `json:"blockNumber"`
	TxHash      string `json:"transactionHash"`
}

// AssetInfo describes an ERC-20 token: the EIP-712 name/version pair plus
// decimals.
type AssetInfo struct {
	Address  string
	Name     string
	Version  string
	Decimals int
}

// NetworkConfig binds a CAIP-2 network to its chain ID and default asset.
type NetworkConfig struct {
	ChainID      *big.Int
	DefaultAsset AssetInfo
}

// ERC6492SignatureData is a parsed ERC-6492 wrapper: deployment
// information for an undeployed smart wallet plus the inner signature.
// Factory is the zero address for plain signatures.
type ERC6492SignatureData struct {
	Factory         [20]byte
	FactoryCalldata []byte
	InnerSignature  []byte
}
