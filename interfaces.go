package x402

import (
	"context"

	"github.com/x402/x402-go/types"
)

// ============================================================================
// Client-side mechanism interface
// ============================================================================

// SchemeNetworkClient is implemented by client-side payment mechanisms.
// CreatePaymentPayload builds the scheme-specific inner payload (for EVM
// exact: a signed EIP-3009 or Permit2 authorization); the client core wraps
// it with accepted/resource/extensions before it goes on the wire.
//
// The same interface serves both protocol versions: the x402Version argument
// tells the mechanism which wire shape the caller expects.
type SchemeNetworkClient interface {
	Scheme() string
	CreatePaymentPayload(ctx context.Context, x402Version int, requirements PaymentRequirements) (PartialPaymentPayload, error)
}

// ClientExtension can enrich payment payloads on the client side.
// Client extensions are invoked after the scheme creates the base payload
// but before it is returned, letting extension-specific logic attach data
// under its own key in payload.Extensions.
type ClientExtension interface {
	// Key returns the unique extension identifier. Must match the extension
	// key used in PaymentRequired.Extensions.
	Key() string

	// EnrichPaymentPayload is called after payload creation when the
	// extension key is present in paymentRequired.Extensions.
	EnrichPaymentPayload(ctx context.Context, payload PaymentPayload, required PaymentRequired) (PaymentPayload, error)
}

// ============================================================================
// Server-side mechanism interface
// ============================================================================

// SchemeNetworkServer is implemented by server-side payment mechanisms.
// It converts human prices into on-chain asset amounts and fills
// scheme-specific requirement fields (EIP-712 domain data, fee payers, ...).
// Scheme servers are V2-only; V1 requirements are produced by the
// compatibility layers in the mechanism packages.
type SchemeNetworkServer interface {
	Scheme() string
	ParsePrice(price Price, network Network) (AssetAmount, error)
	EnhancePaymentRequirements(
		ctx context.Context,
		requirements PaymentRequirements,
		supportedKind SupportedKind,
		extensionKeys []string,
	) (PaymentRequirements, error)
}

// ============================================================================
// Facilitator-side mechanism interfaces
// ============================================================================

// SchemeNetworkFacilitator is implemented by facilitator-side payment
// mechanisms (V2). Verify must be a pure function of its inputs plus chain
// reads; Settle submits the on-chain transaction.
type SchemeNetworkFacilitator interface {
	Scheme() string

	// CaipFamily returns the CAIP-2 family pattern this mechanism serves,
	// e.g. "eip155:*" for EVM or "solana:*" for SVM.
	CaipFamily() string

	// GetExtra returns mechanism-specific extra data advertised in the
	// supported-kinds response (e.g. feePayer for SVM). Nil when the
	// mechanism has nothing to advertise.
	GetExtra(network Network) map[string]interface{}

	// GetSigners returns the addresses this facilitator may sign or pay
	// with on the given network. Multiple addresses support key rotation
	// and load balancing.
	GetSigners(network Network) []string

	Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*VerifyResponse, error)
	Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*SettleResponse, error)
}

// SchemeNetworkFacilitatorV1 is the legacy-wire sibling of
// SchemeNetworkFacilitator. V1 payloads carry scheme and network at the top
// level and amounts in maxAmountRequired.
type SchemeNetworkFacilitatorV1 interface {
	Scheme() string
	CaipFamily() string
	GetExtra(network Network) map[string]interface{}
	GetSigners(network Network) []string

	Verify(ctx context.Context, payload types.PaymentPayloadV1, requirements types.PaymentRequirementsV1) (*VerifyResponse, error)
	Settle(ctx context.Context, payload types.PaymentPayloadV1, requirements types.PaymentRequirementsV1) (*SettleResponse, error)
}

// ============================================================================
// Facilitator client (network boundary - bytes in, typed results out)
// ============================================================================

// FacilitatorClient is the resource server's view of one facilitator.
// Payloads and requirements cross this boundary as raw JSON bytes; the
// facilitator detects the version and routes internally.
type FacilitatorClient interface {
	Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*VerifyResponse, error)
	Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*SettleResponse, error)

	// GetSupported returns the payment kinds this facilitator advertises,
	// flat with x402Version in each element.
	GetSupported(ctx context.Context) (SupportedResponse, error)
}

// ============================================================================
// Resource server extensions
// ============================================================================

// ResourceServerExtension participates in the 402 lifecycle under a unique
// key. EnrichDeclaration is called on every 402 with the declaration the
// route configured and an opaque transport context (the HTTP layer passes
// its request context); the returned value is grafted into
// PaymentRequired.Extensions under the same key.
type ResourceServerExtension interface {
	Key() string
	EnrichDeclaration(declaration interface{}, transportContext interface{}) interface{}
}

// SettlementResponseEnricher is an optional capability of a
// ResourceServerExtension: after a successful settlement the extension may
// attach data to the settlement response before it is written back to the
// client.
type SettlementResponseEnricher interface {
	EnrichSettlementResponse(ctx context.Context, response *SettleResponse, payloadBytes []byte) error
}
