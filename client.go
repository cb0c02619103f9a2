package x402

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// X402Client manages payment mechanisms and creates payment payloads.
// This is used by applications that need to make payments (have wallets/signers).
type X402Client struct {
	mu sync.RWMutex

	// Nested map: version -> network -> scheme -> client implementation.
	// This allows multiple versions and network patterns.
	schemes map[int]map[Network]map[string]SchemeNetworkClient

	// Protocol extensions keyed by extension key.
	extensions map[string]ClientExtension

	// Function to select payment requirements when multiple options exist.
	requirementsSelector PaymentRequirementsSelector

	logger *slog.Logger
}

// PaymentRequirementsSelector chooses which payment option to use.
type PaymentRequirementsSelector func(version int, requirements []PaymentRequirements) PaymentRequirements

// ClientOption configures the client.
type ClientOption func(*X402Client)

// WithPaymentSelector sets a custom payment requirements selector.
func WithPaymentSelector(selector PaymentRequirementsSelector) ClientOption {
	return func(c *X402Client) {
		c.requirementsSelector = selector
	}
}

// WithScheme registers a payment mechanism at creation time.
func WithScheme(version int, network Network, client SchemeNetworkClient) ClientOption {
	return func(c *X402Client) {
		c.registerScheme(version, network, client)
	}
}

// WithClientExtension registers a protocol extension at creation time.
func WithClientExtension(extension ClientExtension) ClientOption {
	return func(c *X402Client) {
		c.extensions[extension.Key()] = extension
	}
}

// WithClientLogger replaces the default slog logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *X402Client) {
		c.logger = logger
	}
}

// Newx402Client creates a new x402 client.
func Newx402Client(opts ...ClientOption) *X402Client {
	c := &X402Client{
		schemes:              make(map[int]map[Network]map[string]SchemeNetworkClient),
		extensions:           make(map[string]ClientExtension),
		requirementsSelector: defaultPaymentSelector,
		logger:               slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// defaultPaymentSelector chooses the first available payment option.
func defaultPaymentSelector(version int, requirements []PaymentRequirements) PaymentRequirements {
	if len(requirements) == 0 {
		panic("no payment requirements available")
	}
	return requirements[0]
}

// RegisterScheme registers a payment mechanism for protocol v2.
func (c *X402Client) RegisterScheme(network Network, client SchemeNetworkClient) *X402Client {
	return c.registerScheme(ProtocolVersion, network, client)
}

// RegisterSchemeV1 registers a payment mechanism for protocol v1.
func (c *X402Client) RegisterSchemeV1(network Network, client SchemeNetworkClient) *X402Client {
	return c.registerScheme(ProtocolVersionV1, network, client)
}

func (c *X402Client) registerScheme(version int, network Network, client SchemeNetworkClient) *X402Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.schemes[version] == nil {
		c.schemes[version] = make(map[Network]map[string]SchemeNetworkClient)
	}
	if c.schemes[version][network] == nil {
		c.schemes[version][network] = make(map[string]SchemeNetworkClient)
	}

	c.schemes[version][network][client.Scheme()] = client

	return c
}

// RegisterExtension registers a protocol extension. Idempotent by key.
func (c *X402Client) RegisterExtension(extension ClientExtension) *X402Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.extensions[extension.Key()] = extension
	return c
}

// SelectPaymentRequirements chooses which payment requirements to use.
// Requirements are filtered to those the client has a mechanism for before
// the selector runs.
func (c *X402Client) SelectPaymentRequirements(version int, requirements []PaymentRequirements) (PaymentRequirements, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	versionSchemes, exists := c.schemes[version]
	if !exists {
		return PaymentRequirements{}, fmt.Errorf("no schemes registered for x402 version %d", version)
	}

	var supported []PaymentRequirements
	for _, req := range requirements {
		schemeMap := findSchemesByNetwork(versionSchemes, req.Network)
		if schemeMap != nil {
			if _, hasScheme := schemeMap[req.Scheme]; hasScheme {
				supported = append(supported, req)
			}
		}
	}

	if len(supported) == 0 {
		return PaymentRequirements{}, &PaymentError{
			Code:    ErrCodeUnsupportedScheme,
			Message: "no supported payment schemes available",
			Details: map[string]interface{}{
				"version":      version,
				"requirements": requirements,
			},
		}
	}

	return c.requirementsSelector(version, supported), nil
}

// CreatePaymentPayload creates a signed payment payload for the chosen
// requirements. For v2+ the payload carries the accepted requirements,
// resource, and extensions; v1 payloads carry scheme and network at the
// top level instead (Accepted is kept locally but stays off the v1 wire).
func (c *X402Client) CreatePaymentPayload(ctx context.Context, version int, requirements PaymentRequirements, resource *ResourceInfo, extensions map[string]interface{}) (PaymentPayload, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := ValidatePaymentRequirements(requirements); err != nil {
		return PaymentPayload{}, fmt.Errorf("invalid payment requirements: %w", err)
	}

	versionSchemes, exists := c.schemes[version]
	if !exists {
		return PaymentPayload{}, fmt.Errorf("no schemes registered for x402 version %d", version)
	}

	client := findByNetworkAndScheme(versionSchemes, requirements.Scheme, requirements.Network)
	if client == nil {
		return PaymentPayload{}, &PaymentError{
			Code:    ErrCodeUnsupportedScheme,
			Message: fmt.Sprintf("no client registered for scheme %s on network %s for version %d", requirements.Scheme, requirements.Network, version),
		}
	}

	partialPayload, err := client.CreatePaymentPayload(ctx, version, requirements)
	if err != nil {
		return PaymentPayload{}, fmt.Errorf("failed to create payment payload: %w", err)
	}

	fullPayload := PaymentPayload{
		X402Version: partialPayload.X402Version,
		Payload:     partialPayload.Payload,
		Accepted:    requirements,
	}
	if partialPayload.X402Version >= ProtocolVersion {
		fullPayload.Resource = resource
		fullPayload.Extensions = extensions
	} else {
		fullPayload.Scheme = requirements.Scheme
		fullPayload.Network = string(requirements.Network)
	}

	if err := ValidatePaymentPayload(fullPayload); err != nil {
		return PaymentPayload{}, fmt.Errorf("invalid payment payload created: %w", err)
	}

	return fullPayload, nil
}

// GetRegisteredSchemes returns a list of registered schemes for debugging.
func (c *X402Client) GetRegisteredSchemes() map[int][]struct {
	Network Network
	Scheme  string
} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[int][]struct {
		Network Network
		Scheme  string
	})

	for version, versionSchemes := range c.schemes {
		for network, schemes := range versionSchemes {
			for scheme := range schemes {
				result[version] = append(result[version], struct {
					Network Network
					Scheme  string
				}{
					Network: network,
					Scheme:  scheme,
				})
			}
		}
	}

	return result
}

// CanPay checks if the client can pay with any of the given requirements.
func (c *X402Client) CanPay(version int, requirements []PaymentRequirements) bool {
	_, err := c.SelectPaymentRequirements(version, requirements)
	return err == nil
}

// CreatePaymentForRequired creates a payment for a PaymentRequired response,
// carrying over its resource and extension declarations, then gives each
// declared extension the chance to enrich the payload. An extension error
// fails the payment: a server declaring an extension may require it.
func (c *X402Client) CreatePaymentForRequired(ctx context.Context, required PaymentRequired) (PaymentPayload, error) {
	selected, err := c.SelectPaymentRequirements(required.X402Version, required.Accepts)
	if err != nil {
		return PaymentPayload{}, err
	}

	payload, err := c.CreatePaymentPayload(ctx, required.X402Version, selected, required.Resource, required.Extensions)
	if err != nil {
		return PaymentPayload{}, err
	}

	c.mu.RLock()
	registered := make([]ClientExtension, 0, len(c.extensions))
	for key := range required.Extensions {
		if ext, ok := c.extensions[key]; ok {
			registered = append(registered, ext)
		}
	}
	c.mu.RUnlock()

	for _, ext := range registered {
		payload, err = ext.EnrichPaymentPayload(ctx, payload, required)
		if err != nil {
			return PaymentPayload{}, fmt.Errorf("extension %s failed to enrich payment payload: %w", ext.Key(), err)
		}
	}

	return payload, nil
}
