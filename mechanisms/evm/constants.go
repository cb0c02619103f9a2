package evm

import (
	"math/big"
)

// SchemeExact is the payment scheme this mechanism implements.
const SchemeExact = "exact"

// DefaultDecimals matches USDC, the default asset on every supported
// network.
const DefaultDecimals = 6

// Token and proxy contract function names.
const (
	FunctionTransferWithAuthorization = "transferWithAuthorization"
	FunctionReceiveWithAuthorization  = "receiveWithAuthorization"
	FunctionAuthorizationState        = "authorizationState"
	FunctionSettle                    = "settle"
	FunctionSettleWithPermit          = "settleWith2612"
)

// Receipt status values.
const (
	TxStatusSuccess = 1
	TxStatusFailed  = 0
)

// Authorization validity window defaults, in seconds.
const (
	// DefaultValidityPeriod bounds a payment's lifetime when the
	// requirements set no timeout.
	DefaultValidityPeriod = 3600

	// ValidAfterBuffer backdates validAfter so clock skew between client
	// and chain cannot make a fresh payment unusable.
	ValidAfterBuffer = 600

	// Permit2DeadlineBuffer is headroom required on deadlines so the
	// settle transaction can still propagate and mine in time.
	Permit2DeadlineBuffer = 6
)

// Signature verification magic values.
const (
	// ERC6492MagicValue trails counterfactual-wallet signatures:
	// bytes32(uint256(keccak256("erc6492.invalid.signature")) - 1).
	ERC6492MagicValue = "0x6492649264926492649264926492649264926492649264926492649264926492"

	// EIP1271MagicValue is what isValidSignature returns on success.
	EIP1271MagicValue = "0x1626ba7e"
)

// Well-known contract addresses.
const (
	// PERMIT2Address is Uniswap's canonical Permit2, deployed via CREATE2
	// to the same address on every EVM chain.
	PERMIT2Address = "0x000000000022D473030F116dDEE9F6B43aC78BA3"

	// X402ExactPermit2ProxyAddress is the x402 settlement proxy, with a
	// recognizable 0x4020...0001 vanity address.
	X402ExactPermit2ProxyAddress = "0x4020B671C4c523a852c11a5EC58F27F235e80001"
)

// Error codes shared between client and facilitator.
const (
	ErrInvalidSignature            = "invalid_exact_evm_payload_signature"
	ErrUndeployedSmartWallet       = "invalid_exact_evm_payload_undeployed_smart_wallet"
	ErrSmartWalletDeploymentFailed = "smart_wallet_deployment_failed"
	ErrUnsupportedPayloadType      = "unsupported_payload_type"

	ErrPermit2AllowanceRequired      = "permit2_allowance_required"
	ErrPermit2InvalidSpender         = "invalid_permit2_spender"
	ErrPermit2RecipientMismatch      = "invalid_permit2_recipient_mismatch"
	ErrPermit2DeadlineExpired        = "permit2_deadline_expired"
	ErrPermit2NotYetValid            = "permit2_not_yet_valid"
	ErrPermit2InsufficientAmount     = "permit2_insufficient_amount"
	ErrPermit2TokenMismatch          = "permit2_token_mismatch"
	ErrPermit2InvalidSignature       = "invalid_permit2_signature"
	ErrPermit2AmountExceedsPermitted = "permit2_amount_exceeds_permitted"
	ErrPermit2InvalidDestination     = "permit2_invalid_destination"
	ErrPermit2InvalidOwner           = "permit2_invalid_owner"
	ErrPermit2PaymentTooEarly        = "permit2_payment_too_early"
	ErrPermit2InvalidNonce           = "permit2_invalid_nonce"
)

// Chain IDs for the supported networks.
var (
	ChainIDBase        = big.NewInt(8453)
	ChainIDBaseSepolia = big.NewInt(84532)
)

var (
	baseUSDC = AssetInfo{
		Address:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Name:     "USD Coin",
		Version:  "2",
		Decimals: DefaultDecimals,
	}
	baseSepoliaUSDC = AssetInfo{
		Address:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Name:     "USDC",
		Version:  "2",
		Decimals: DefaultDecimals,
	}
)

// NetworkConfigs maps networks to their chain ID and default asset. Each
// network appears under both its CAIP-2 identifier and its legacy v1
// name. Defaults must support EIP-3009; other ERC-20s still work through
// the Permit2 transfer method. A chain's officially endorsed stablecoin
// takes precedence when choosing a default.
var NetworkConfigs = map[string]NetworkConfig{
	"eip155:8453":  {ChainID: ChainIDBase, DefaultAsset: baseUSDC},
	"base":         {ChainID: ChainIDBase, DefaultAsset: baseUSDC},
	"eip155:84532": {ChainID: ChainIDBaseSepolia, DefaultAsset: baseSepoliaUSDC},
	"base-sepolia": {ChainID: ChainIDBaseSepolia, DefaultAsset: baseSepoliaUSDC},
}

// Contract ABIs, trimmed to the single function each call site needs.
var (
	// transferWithAuthorization taking v, r, s — EOA signatures.
	TransferWithAuthorizationVRSABI = []byte(`[
		{
			"inputs": [
				{"name": "from", "type": "address"},
				{"name": "to", "type": "address"},
				{"name": "value", "type": "uint256"},
				{"name": "validAfter", "type": "uint256"},
				{"name": "validBefore", "type": "uint256"},
				{"name": "nonce", "type": "bytes32"},
				{"name": "v", "type": "uint8"},
				{"name": "r", "type": "bytes32"},
				{"name": "s", "type": "bytes32"}
			],
			"name": "transferWithAuthorization",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)

	// transferWithAuthorization taking a bytes signature — smart wallets.
	TransferWithAuthorizationBytesABI = []byte(`[
		{
			"inputs": [
				{"name": "from", "type": "address"},
				{"name": "to", "type": "address"},
				{"name": "value", "type": "uint256"},
				{"name": "validAfter", "type": "uint256"},
				{"name": "validBefore", "type": "uint256"},
				{"name": "nonce", "type": "bytes32"},
				{"name": "signature", "type": "bytes"}
			],
			"name": "transferWithAuthorization",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)

	// authorizationState, for nonce reuse checks.
	AuthorizationStateABI = []byte(`[
		{
			"inputs": [
				{"name": "authorizer", "type": "address"},
				{"name": "nonce", "type": "bytes32"}
			],
			"name": "authorizationState",
			"outputs": [{"name": "", "type": "bool"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)

	// ERC-20 allowance, for checking Permit2 approval.
	ERC20AllowanceABI = []byte(`[
		{
			"inputs": [
				{"name": "owner", "type": "address"},
				{"name": "spender", "type": "address"}
			],
			"name": "allowance",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)

	// ERC-20 approve, for granting Permit2 approval.
	ERC20ApproveABI = []byte(`[
		{
			"inputs": [
				{"name": "spender", "type": "address"},
				{"name": "amount", "type": "uint256"}
			],
			"name": "approve",
			"outputs": [{"name": "", "type": "bool"}],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)

	// ERC-20 balanceOf.
	ERC20BalanceOfABI = []byte(`[
		{
			"inputs": [
				{"name": "account", "type": "address"}
			],
			"name": "balanceOf",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)

	// EIP-2612 nonces, read before signing a permit.
	EIP2612NoncesABI = []byte(`[
		{
			"inputs": [
				{"name": "owner", "type": "address"}
			],
			"name": "nonces",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)

	// x402ExactPermit2Proxy.settle.
	X402ExactPermit2ProxySettleABI = []byte(`[
		{
			"type": "function",
			"name": "settle",
			"inputs": [
				{
					"name": "permit",
					"type": "tuple",
					"components": [
						{
							"name": "permitted",
							"type": "tuple",
							"components": [
								{"name": "token", "type": "address"},
								{"name": "amount", "type": "uint256"}
							]
						},
						{"name": "nonce", "type": "uint256"},
						{"name": "deadline", "type": "uint256"}
					]
				},
				{"name": "owner", "type": "address"},
				{
					"name": "witness",
					"type": "tuple",
					"components": [
						{"name": "to", "type": "address"},
						{"name": "validAfter", "type": "uint256"},
						{"name": "extra", "type": "bytes"}
					]
				},
				{"name": "signature", "type": "bytes"}
			],
			"outputs": [],
			"stateMutability": "nonpayable"
		}
	]`)

	// x402ExactPermit2Proxy.settleWith2612, which applies an EIP-2612
	// permit approving Permit2 before settling.
	X402ExactPermit2ProxySettleWithPermitABI = []byte(`[
		{
			"type": "function",
			"name": "settleWith2612",
			"inputs": [
				{
					"name": "permit2612",
					"type": "tuple",
					"components": [
						{"name": "value", "type": "uint256"},
						{"name": "deadline", "type": "uint256"},
						{"name": "r", "type": "bytes32"},
						{"name": "s", "type": "bytes32"},
						{"name": "v", "type": "uint8"}
					]
				},
				{
					"name": "permit",
					"type": "tuple",
					"components": [
						{
							"name": "permitted",
							"type": "tuple",
							"components": [
								{"name": "token", "type": "address"},
								{"name": "amount", "type": "uint256"}
							]
						},
						{"name": "nonce", "type": "uint256"},
						{"name": "deadline", "type": "uint256"}
					]
				},
				{"name": "owner", "type": "address"},
				{
					"name": "witness",
					"type": "tuple",
					"components": [
						{"name": "to", "type": "address"},
						{"name": "validAfter", "type": "uint256"},
						{"name": "extra", "type": "bytes"}
					]
				},
				{"name": "signature", "type": "bytes"}
			],
			"outputs": [],
			"stateMutability": "nonpayable"
		}
	]`)
)

// EIP712DomainTypes is the Permit2 domain shape: name, chainId, and
// verifyingContract, with no version field.
var EIP712DomainTypes = []TypedDataField{
	{Name: "name", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// Permit2WitnessTypes are the witness-transfer types. Field order must
// match the on-chain Permit2 contract.
var Permit2WitnessTypes = map[string][]TypedDataField{
	"PermitWitnessTransferFrom": {
		{Name: "permitted", Type: "TokenPermissions"},
		{Name: "spender", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
		{Name: "witness", Type: "Witness"},
	},
	"TokenPermissions": {
		{Name: "token", Type: "address"},
		{Name: "amount", Type: "uint256"},
	},
	"Witness": {
		{Name: "to", Type: "address"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "extra", Type: "bytes"},
	},
}

// GetPermit2EIP712Types assembles the full types map for Permit2 signing,
// domain included. Signing and verification must agree on these, so
// neither side defines them locally.
func GetPermit2EIP712Types() map[string][]TypedDataField {
	return map[string][]TypedDataField{
		"EIP712Domain":              EIP712DomainTypes,
		"PermitWitnessTransferFrom": Permit2WitnessTypes["PermitWitnessTransferFrom"],
		"TokenPermissions":          Permit2WitnessTypes["TokenPermissions"],
		"Witness":                   Permit2WitnessTypes["Witness"],
	}
}

// GetEIP2612EIP712Types returns the types for signing an EIP-2612 Permit
// against a token contract, whose domain does carry a version.
func GetEIP2612EIP712Types() map[string][]TypedDataField {
	return map[string][]TypedDataField{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		"Permit": {
			{Name: "owner", Type: "address"},
			{Name: "spender", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "nonce", Type: "uint256"},
			{Name: "deadline", Type: "uint256"},
		},
	}
}
