package http

import (
	"strings"

	x402 "github.com/x402/x402-go"
)

// PaywallProvider generates HTML for browser-facing 402 responses. The
// core ships no templates; register a provider via SetPaywallProvider to
// serve browsers something better than the JSON response.
type PaywallProvider interface {
	GenerateHTML(paymentRequired x402.PaymentRequired, config *PaywallConfig) string
}

// PaywallNetworkHandler handles paywall HTML generation for one network
// family. Compose handlers into a single PaywallProvider with
// PaywallBuilder.
type PaywallNetworkHandler interface {
	// Supports reports whether this handler can render the requirement.
	Supports(requirement x402.PaymentRequirements) bool

	// GenerateHTML renders the paywall for the given requirement.
	GenerateHTML(requirement x402.PaymentRequirements, paymentRequired x402.PaymentRequired, config *PaywallConfig) string
}

// NetworkPrefixHandler adapts a render function to a network namespace
// prefix ("eip155:", "solana:").
type NetworkPrefixHandler struct {
	Prefix string
	Render func(requirement x402.PaymentRequirements, paymentRequired x402.PaymentRequired, config *PaywallConfig) string
}

// Supports returns true when the requirement's network carries the prefix.
func (h *NetworkPrefixHandler) Supports(requirement x402.PaymentRequirements) bool {
	return strings.HasPrefix(string(requirement.Network), h.Prefix)
}

// GenerateHTML renders via the wrapped function.
func (h *NetworkPrefixHandler) GenerateHTML(requirement x402.PaymentRequirements, paymentRequired x402.PaymentRequired, config *PaywallConfig) string {
	return h.Render(requirement, paymentRequired, config)
}

// PaywallBuilder composes PaywallNetworkHandlers into a PaywallProvider.
type PaywallBuilder struct {
	handlers []PaywallNetworkHandler
	config   *PaywallConfig
}

// NewPaywallBuilder creates an empty builder.
func NewPaywallBuilder() *PaywallBuilder {
	return &PaywallBuilder{}
}

// WithNetwork adds a network handler.
func (b *PaywallBuilder) WithNetwork(handler PaywallNetworkHandler) *PaywallBuilder {
	b.handlers = append(b.handlers, handler)
	return b
}

// WithConfig sets the default paywall configuration.
func (b *PaywallBuilder) WithConfig(config *PaywallConfig) *PaywallBuilder {
	b.config = config
	return b
}

// Build creates a provider dispatching to the first matching handler.
func (b *PaywallBuilder) Build() PaywallProvider {
	return &compositePaywallProvider{
		handlers: b.handlers,
		config:   b.config,
	}
}

type compositePaywallProvider struct {
	handlers []PaywallNetworkHandler
	config   *PaywallConfig
}

func (p *compositePaywallProvider) GenerateHTML(paymentRequired x402.PaymentRequired, config *PaywallConfig) string {
	effectiveConfig := config
	if effectiveConfig == nil {
		effectiveConfig = p.config
	}

	for _, req := range paymentRequired.Accepts {
		for _, handler := range p.handlers {
			if handler.Supports(req) {
				return handler.GenerateHTML(req, paymentRequired, effectiveConfig)
			}
		}
	}

	return ""
}
