package x402

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/x402/x402-go/types"
)

// X402ResourceServer is the transport-agnostic payment negotiator used by
// servers that charge for access. It owns the scheme-server registry, the
// facilitator routing map, the extension registry, and the hook lists.
// Registration happens before Initialize; afterwards the registries are
// treated as read-only.
type X402ResourceServer struct {
	mu                    sync.RWMutex
	logger                *slog.Logger
	schemes               map[Network]map[string]SchemeNetworkServer
	facilitatorClients    []FacilitatorClient
	registeredExtensions  map[string]ResourceServerExtension
	supportedCache        *SupportedCache
	facilitatorClientsMap map[int]map[Network]map[string]FacilitatorClient
	initTimeout           time.Duration

	beforeVerifyHooks    []BeforeVerifyHook
	afterVerifyHooks     []AfterVerifyHook
	onVerifyFailureHooks []OnVerifyFailureHook
	beforeSettleHooks    []BeforeSettleHook
	afterSettleHooks     []AfterSettleHook
	onSettleFailureHooks []OnSettleFailureHook
}

// SupportedCache caches facilitator capabilities keyed by facilitator.
type SupportedCache struct {
	mu     sync.RWMutex
	data   map[string]SupportedResponse
	expiry map[string]time.Time
	ttl    time.Duration
}

// ResourceServerOption configures the server at construction time.
type ResourceServerOption func(*X402ResourceServer)

// WithFacilitatorClient adds a facilitator client. Facilitators added first
// win routing ties for any (version, network, scheme) they both advertise.
func WithFacilitatorClient(client FacilitatorClient) ResourceServerOption {
	return func(s *X402ResourceServer) {
		s.facilitatorClients = append(s.facilitatorClients, client)
	}
}

// WithSchemeServer registers a scheme server implementation.
func WithSchemeServer(network Network, schemeServer SchemeNetworkServer) ResourceServerOption {
	return func(s *X402ResourceServer) {
		s.registerScheme(network, schemeServer)
	}
}

// WithCacheTTL sets the TTL of the supported-kinds cache. Default 5 minutes.
func WithCacheTTL(ttl time.Duration) ResourceServerOption {
	return func(s *X402ResourceServer) {
		s.supportedCache.ttl = ttl
	}
}

// WithLogger replaces the default slog logger.
func WithLogger(logger *slog.Logger) ResourceServerOption {
	return func(s *X402ResourceServer) {
		s.logger = logger
	}
}

// WithResourceServerExtension registers a protocol extension at construction
// time. Registering the same key twice keeps the last registration.
func WithResourceServerExtension(extension ResourceServerExtension) ResourceServerOption {
	return func(s *X402ResourceServer) {
		s.registeredExtensions[extension.Key()] = extension
	}
}

// Newx402ResourceServer creates a resource server. At least one facilitator
// client must be registered before Initialize for the server to be useful.
func Newx402ResourceServer(opts ...ResourceServerOption) *X402ResourceServer {
	s := &X402ResourceServer{
		logger:               slog.Default(),
		schemes:              make(map[Network]map[string]SchemeNetworkServer),
		facilitatorClients:   []FacilitatorClient{},
		registeredExtensions: make(map[string]ResourceServerExtension),
		supportedCache: &SupportedCache{
			data:   make(map[string]SupportedResponse),
			expiry: make(map[string]time.Time),
			ttl:    5 * time.Minute,
		},
		facilitatorClientsMap: make(map[int]map[Network]map[string]FacilitatorClient),
		initTimeout:           30 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Initialize fetches supported payment kinds from every facilitator and
// builds the (version, network, scheme) routing map. Facilitators are probed
// in registration order; the first to advertise a combination owns it.
// Each GetSupported call is bounded by a 30 second timeout.
func (s *X402ResourceServer) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.facilitatorClientsMap = make(map[int]map[Network]map[string]FacilitatorClient)

	var lastErr error
	successCount := 0

	for i, client := range s.facilitatorClients {
		callCtx, cancel := context.WithTimeout(ctx, s.initTimeout)
		supported, err := client.GetSupported(callCtx)
		cancel()
		if err != nil {
			s.logger.Warn("facilitator getSupported failed during initialize",
				"facilitator", i, "error", err)
			lastErr = fmt.Errorf("facilitator %d: %w", i, err)
			continue
		}

		s.supportedCache.Set(facilitatorCacheKey(i), supported)
		successCount++

		for _, kind := range supported.Kinds {
			if s.facilitatorClientsMap[kind.X402Version] == nil {
				s.facilitatorClientsMap[kind.X402Version] = make(map[Network]map[string]FacilitatorClient)
			}
			versionMap := s.facilitatorClientsMap[kind.X402Version]

			if versionMap[kind.Network] == nil {
				versionMap[kind.Network] = make(map[string]FacilitatorClient)
			}
			networkMap := versionMap[kind.Network]

			// First writer wins: earlier facilitators keep their claim.
			if _, exists := networkMap[kind.Scheme]; !exists {
				networkMap[kind.Scheme] = client
			}
		}
	}

	if successCount == 0 && lastErr != nil {
		return fmt.Errorf("failed to initialize any facilitators: %w", lastErr)
	}

	return nil
}

// Register registers a scheme server for a network. Wildcard networks like
// "eip155:*" are allowed. Replaces any prior entry for the same scheme.
func (s *X402ResourceServer) Register(network Network, schemeServer SchemeNetworkServer) *X402ResourceServer {
	return s.registerScheme(network, schemeServer)
}

func (s *X402ResourceServer) registerScheme(network Network, schemeServer SchemeNetworkServer) *X402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schemes[network] == nil {
		s.schemes[network] = make(map[string]SchemeNetworkServer)
	}
	s.schemes[network][schemeServer.Scheme()] = schemeServer
	return s
}

// RegisterExtension registers a protocol extension. Idempotent by key.
func (s *X402ResourceServer) RegisterExtension(extension ResourceServerExtension) *X402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registeredExtensions[extension.Key()] = extension
	return s
}

// OnBeforeVerify registers a hook to run before payment verification.
// A hook returning Abort short-circuits to an invalid VerifyResponse.
func (s *X402ResourceServer) OnBeforeVerify(hook BeforeVerifyHook) *X402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeVerifyHooks = append(s.beforeVerifyHooks, hook)
	return s
}

// OnAfterVerify registers a hook to run after successful verification.
// Hook errors are logged and never alter the result.
func (s *X402ResourceServer) OnAfterVerify(hook AfterVerifyHook) *X402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterVerifyHooks = append(s.afterVerifyHooks, hook)
	return s
}

// OnVerifyFailure registers a hook to run when verification fails. A hook
// returning Recovered substitutes its result for the error.
func (s *X402ResourceServer) OnVerifyFailure(hook OnVerifyFailureHook) *X402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onVerifyFailureHooks = append(s.onVerifyFailureHooks, hook)
	return s
}

// OnBeforeSettle registers a hook to run before settlement. A hook
// returning Abort aborts settlement with "settlement_aborted: <reason>".
func (s *X402ResourceServer) OnBeforeSettle(hook BeforeSettleHook) *X402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeSettleHooks = append(s.beforeSettleHooks, hook)
	return s
}

// OnAfterSettle registers a hook to run after successful settlement.
func (s *X402ResourceServer) OnAfterSettle(hook AfterSettleHook) *X402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterSettleHooks = append(s.afterSettleHooks, hook)
	return s
}

// OnSettleFailure registers a hook to run when settlement fails.
func (s *X402ResourceServer) OnSettleFailure(hook OnSettleFailureHook) *X402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSettleFailureHooks = append(s.onSettleFailureHooks, hook)
	return s
}

// EnrichExtensions runs each declared extension's EnrichDeclaration, passing
// the opaque transport context through. Declarations without a registered
// extension pass through unchanged. A panicking extension is logged and its
// original declaration kept; enrichment never fails the request.
func (s *X402ResourceServer) EnrichExtensions(
	declaredExtensions map[string]interface{},
	transportContext interface{},
) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(declaredExtensions) == 0 {
		return declaredExtensions
	}

	enriched := make(map[string]interface{}, len(declaredExtensions))
	for key, declaration := range declaredExtensions {
		extension, ok := s.registeredExtensions[key]
		if !ok {
			enriched[key] = declaration
			continue
		}
		enriched[key] = s.safeEnrich(extension, declaration, transportContext)
	}
	return enriched
}

func (s *X402ResourceServer) safeEnrich(
	extension ResourceServerExtension,
	declaration interface{},
	transportContext interface{},
) (result interface{}) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("extension enrichment panicked, keeping declaration",
				"extension", extension.Key(), "panic", r)
			result = declaration
		}
	}()
	return extension.EnrichDeclaration(declaration, transportContext)
}

// BuildPaymentRequirements creates payment requirements for a resource.
// Fails with ErrUnsupportedByFacilitator when no initialized facilitator
// advertises the (version, network, scheme) combination.
func (s *X402ResourceServer) BuildPaymentRequirements(ctx context.Context, config ResourceConfig) ([]PaymentRequirements, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schemeServer := findByNetworkAndScheme(s.schemes, config.Scheme, config.Network)
	if schemeServer == nil {
		return nil, &PaymentError{
			Code:    ErrCodeUnsupportedScheme,
			Message: fmt.Sprintf("no server registered for scheme %s on network %s", config.Scheme, config.Network),
		}
	}

	supportedKind := s.findSupportedKind(ProtocolVersion, config.Network, config.Scheme)
	if supportedKind == nil {
		return nil, &PaymentError{
			Code:    ErrUnsupportedByFacilitator,
			Message: fmt.Sprintf("no initialized facilitator supports %s on %s", config.Scheme, config.Network),
			Details: map[string]interface{}{
				"hint": "call Initialize() to fetch supported kinds from facilitators",
			},
		}
	}

	assetAmount, err := schemeServer.ParsePrice(config.Price, config.Network)
	if err != nil {
		return nil, fmt.Errorf("failed to parse price: %w", err)
	}

	baseRequirements := PaymentRequirements{
		Scheme:            config.Scheme,
		Network:           config.Network,
		Asset:             assetAmount.Asset,
		Amount:            assetAmount.Amount,
		PayTo:             config.PayTo,
		MaxTimeoutSeconds: config.MaxTimeoutSeconds,
		Extra:             assetAmount.Extra,
	}
	if baseRequirements.MaxTimeoutSeconds == 0 {
		baseRequirements.MaxTimeoutSeconds = 300
	}
	if config.Asset != "" {
		baseRequirements.Asset = config.Asset
	}

	extensionKeys := s.getFacilitatorExtensions(ProtocolVersion, config.Network, config.Scheme)

	enhanced, err := schemeServer.EnhancePaymentRequirements(ctx, baseRequirements, *supportedKind, extensionKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to enhance payment requirements: %w", err)
	}

	return []PaymentRequirements{enhanced}, nil
}

// CreatePaymentRequiredResponse assembles the 402 wire response. The
// extensions map should already be enriched (see EnrichExtensions); it is
// attached verbatim under each declaration's key.
func (s *X402ResourceServer) CreatePaymentRequiredResponse(
	requirements []PaymentRequirements,
	info ResourceInfo,
	errorMsg string,
	extensions map[string]interface{},
) PaymentRequired {
	if errorMsg == "" {
		errorMsg = "Payment required"
	}
	return PaymentRequired{
		X402Version: ProtocolVersion,
		Error:       errorMsg,
		Resource:    &info,
		Accepts:     requirements,
		Extensions:  extensions,
	}
}

// FindMatchingRequirements finds the advertised requirement a payload was
// produced for. V2 demands deep equality against payload.accepted; V1
// matches on (scheme, network) only. Returns nil when nothing matches.
func (s *X402ResourceServer) FindMatchingRequirements(available []PaymentRequirements, payloadBytes []byte) *PaymentRequirements {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return nil
	}

	for i := range available {
		reqBytes, err := json.Marshal(available[i])
		if err != nil {
			continue
		}
		match, err := types.MatchPayloadToRequirements(version, payloadBytes, reqBytes)
		if err == nil && match {
			return &available[i]
		}
	}
	return nil
}

// VerifyPayment verifies a payment against requirements, running the hook
// lifecycle and routing to the owning facilitator. On a facilitator
// transport error the remaining facilitators are tried in registration
// order; an isValid=false answer is final and triggers no fallback.
func (s *X402ResourceServer) VerifyPayment(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*VerifyResponse, error) {
	hookCtx := VerifyContext{
		Ctx:               ctx,
		PayloadBytes:      payloadBytes,
		RequirementsBytes: requirementsBytes,
		Timestamp:         time.Now(),
	}

	s.mu.RLock()
	beforeHooks := s.beforeVerifyHooks
	s.mu.RUnlock()

	for _, hook := range beforeHooks {
		result, err := hook(hookCtx)
		if err != nil {
			s.logger.Warn("beforeVerify hook error", "error", err)
		}
		if result != nil && result.Abort {
			return &VerifyResponse{IsValid: false, InvalidReason: result.Reason}, nil
		}
	}

	verifyResult, verifyErr := s.dispatchVerify(ctx, payloadBytes, requirementsBytes)

	if verifyErr == nil {
		s.mu.RLock()
		afterHooks := s.afterVerifyHooks
		s.mu.RUnlock()

		resultCtx := VerifyResultContext{VerifyContext: hookCtx, Result: *verifyResult}
		for _, hook := range afterHooks {
			if err := hook(resultCtx); err != nil {
				s.logger.Warn("afterVerify hook error", "error", err)
			}
		}
		return verifyResult, nil
	}

	s.mu.RLock()
	failureHooks := s.onVerifyFailureHooks
	s.mu.RUnlock()

	failureCtx := VerifyFailureContext{VerifyContext: hookCtx, Error: verifyErr}
	for _, hook := range failureHooks {
		result, err := hook(failureCtx)
		if err != nil {
			s.logger.Warn("onVerifyFailure hook error", "error", err)
		}
		if result != nil && result.Recovered {
			recovered := result.Result
			return &recovered, nil
		}
	}

	return verifyResult, verifyErr
}

func (s *X402ResourceServer) dispatchVerify(ctx context.Context, payloadBytes, requirementsBytes []byte) (*VerifyResponse, error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return &VerifyResponse{IsValid: false, InvalidReason: ErrInvalidVersion}, err
	}

	reqInfo, err := types.ExtractRequirementsInfo(requirementsBytes)
	if err != nil {
		return &VerifyResponse{IsValid: false, InvalidReason: ErrInvalidV2Requirements}, err
	}

	var lastErr error
	for _, client := range s.facilitatorCandidates(version, Network(reqInfo.Network), reqInfo.Scheme) {
		resp, err := client.Verify(ctx, payloadBytes, requirementsBytes)
		if err != nil {
			s.logger.Warn("facilitator verify failed, trying next",
				"network", reqInfo.Network, "scheme", reqInfo.Scheme, "error", err)
			lastErr = err
			continue
		}
		return resp, nil
	}

	if lastErr != nil {
		return &VerifyResponse{IsValid: false, InvalidReason: ErrNoFacilitatorSupport}, lastErr
	}
	return &VerifyResponse{IsValid: false, InvalidReason: ErrNoFacilitatorSupport},
		&PaymentError{Code: ErrNoFacilitatorSupport, Message: "no facilitator available for verification"}
}

// SettlePayment settles a verified payment, symmetric to VerifyPayment.
func (s *X402ResourceServer) SettlePayment(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*SettleResponse, error) {
	return s.SettlePaymentWithExtensions(ctx, payloadBytes, requirementsBytes, nil)
}

// SettlePaymentWithExtensions settles a verified payment and, on success,
// lets each declared extension enrich the settlement response.
func (s *X402ResourceServer) SettlePaymentWithExtensions(
	ctx context.Context,
	payloadBytes []byte,
	requirementsBytes []byte,
	declaredExtensions map[string]interface{},
) (*SettleResponse, error) {
	hookCtx := SettleContext{
		Ctx:               ctx,
		PayloadBytes:      payloadBytes,
		RequirementsBytes: requirementsBytes,
		Timestamp:         time.Now(),
	}

	s.mu.RLock()
	beforeHooks := s.beforeSettleHooks
	s.mu.RUnlock()

	for _, hook := range beforeHooks {
		result, err := hook(hookCtx)
		if err != nil {
			s.logger.Warn("beforeSettle hook error", "error", err)
		}
		if result != nil && result.Abort {
			reason := fmt.Sprintf("%s: %s", ErrSettlementAbortedPrefix, result.Reason)
			return &SettleResponse{Success: false, ErrorReason: reason}, fmt.Errorf("%s", reason)
		}
	}

	settleResult, settleErr := s.dispatchSettle(ctx, payloadBytes, requirementsBytes)

	if settleErr == nil && settleResult.Success {
		s.enrichSettlementResponse(ctx, settleResult, payloadBytes, declaredExtensions)

		s.mu.RLock()
		afterHooks := s.afterSettleHooks
		s.mu.RUnlock()

		resultCtx := SettleResultContext{SettleContext: hookCtx, Result: *settleResult}
		for _, hook := range afterHooks {
			if err := hook(resultCtx); err != nil {
				s.logger.Warn("afterSettle hook error", "error", err)
			}
		}
		return settleResult, nil
	}

	s.mu.RLock()
	failureHooks := s.onSettleFailureHooks
	s.mu.RUnlock()

	failureCtx := SettleFailureContext{SettleContext: hookCtx, Error: settleErr}
	for _, hook := range failureHooks {
		result, err := hook(failureCtx)
		if err != nil {
			s.logger.Warn("onSettleFailure hook error", "error", err)
		}
		if result != nil && result.Recovered {
			recovered := result.Result
			return &recovered, nil
		}
	}

	return settleResult, settleErr
}

func (s *X402ResourceServer) dispatchSettle(ctx context.Context, payloadBytes, requirementsBytes []byte) (*SettleResponse, error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return &SettleResponse{Success: false, ErrorReason: ErrInvalidVersion}, err
	}

	reqInfo, err := types.ExtractRequirementsInfo(requirementsBytes)
	if err != nil {
		return &SettleResponse{Success: false, ErrorReason: ErrInvalidV2Requirements}, err
	}

	var lastErr error
	for _, client := range s.facilitatorCandidates(version, Network(reqInfo.Network), reqInfo.Scheme) {
		resp, err := client.Settle(ctx, payloadBytes, requirementsBytes)
		if err != nil {
			s.logger.Warn("facilitator settle failed, trying next",
				"network", reqInfo.Network, "scheme", reqInfo.Scheme, "error", err)
			lastErr = err
			continue
		}
		return resp, nil
	}

	if lastErr != nil {
		return &SettleResponse{Success: false, ErrorReason: ErrCodeSettlementFailed, Network: Network(reqInfo.Network)}, lastErr
	}
	return &SettleResponse{Success: false, ErrorReason: ErrNoFacilitatorSupport, Network: Network(reqInfo.Network)},
		&PaymentError{Code: ErrNoFacilitatorSupport, Message: "no facilitator available for settlement"}
}

func (s *X402ResourceServer) enrichSettlementResponse(
	ctx context.Context,
	response *SettleResponse,
	payloadBytes []byte,
	declaredExtensions map[string]interface{},
) {
	if len(declaredExtensions) == 0 {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for key := range declaredExtensions {
		extension, ok := s.registeredExtensions[key]
		if !ok {
			continue
		}
		enricher, ok := extension.(SettlementResponseEnricher)
		if !ok {
			continue
		}
		if err := enricher.EnrichSettlementResponse(ctx, response, payloadBytes); err != nil {
			s.logger.Warn("settlement enrichment failed, skipping",
				"extension", key, "error", err)
		}
	}
}

// ProcessResult contains the result of processing a payment request.
type ProcessResult struct {
	Success            bool
	RequiresPayment    *PaymentRequired
	VerificationResult *VerifyResponse
	SettlementResult   *SettleResponse
	Error              string
}

// ProcessPaymentRequest chains requirement building, payload matching, and
// verification. Settlement stays with the caller: it must only happen after
// the protected handler has succeeded.
func (s *X402ResourceServer) ProcessPaymentRequest(
	ctx context.Context,
	paymentPayload *PaymentPayload,
	resourceConfig ResourceConfig,
	resourceInfo ResourceInfo,
	extensions map[string]interface{},
) (*ProcessResult, error) {
	requirements, err := s.BuildPaymentRequirements(ctx, resourceConfig)
	if err != nil {
		return nil, err
	}

	if paymentPayload == nil {
		required := s.CreatePaymentRequiredResponse(requirements, resourceInfo, "", extensions)
		return &ProcessResult{
			Success:         false,
			RequiresPayment: &required,
		}, nil
	}

	payloadBytes, err := json.Marshal(paymentPayload)
	if err != nil {
		return nil, err
	}

	matching := s.FindMatchingRequirements(requirements, payloadBytes)
	if matching == nil {
		required := s.CreatePaymentRequiredResponse(requirements, resourceInfo, "No matching payment requirements found", extensions)
		return &ProcessResult{
			Success:         false,
			RequiresPayment: &required,
		}, nil
	}

	requirementsBytes, err := json.Marshal(matching)
	if err != nil {
		return nil, err
	}

	verification, err := s.VerifyPayment(ctx, payloadBytes, requirementsBytes)
	if err != nil {
		return nil, err
	}

	if !verification.IsValid {
		return &ProcessResult{
			Success:            false,
			Error:              verification.InvalidReason,
			VerificationResult: verification,
		}, nil
	}

	return &ProcessResult{
		Success:            true,
		VerificationResult: verification,
	}, nil
}

// GetSupported aggregates the cached supported kinds of all facilitators,
// refreshing entries whose TTL has lapsed.
func (s *X402ResourceServer) GetSupported(ctx context.Context) (SupportedResponse, error) {
	s.mu.RLock()
	clients := s.facilitatorClients
	s.mu.RUnlock()

	var aggregate SupportedResponse
	seenExtensions := make(map[string]bool)

	for i, client := range clients {
		key := facilitatorCacheKey(i)
		supported, ok := s.supportedCache.Get(key)
		if !ok {
			callCtx, cancel := context.WithTimeout(ctx, s.initTimeout)
			fresh, err := client.GetSupported(callCtx)
			cancel()
			if err != nil {
				s.logger.Warn("facilitator getSupported refresh failed", "facilitator", i, "error", err)
				continue
			}
			s.supportedCache.Set(key, fresh)
			supported = fresh
		}

		aggregate.Kinds = append(aggregate.Kinds, supported.Kinds...)
		for _, ext := range supported.Extensions {
			if !seenExtensions[ext] {
				seenExtensions[ext] = true
				aggregate.Extensions = append(aggregate.Extensions, ext)
			}
		}
	}

	if aggregate.Extensions == nil {
		aggregate.Extensions = []string{}
	}
	return aggregate, nil
}

func facilitatorCacheKey(i int) string { return fmt.Sprintf("facilitator_%d", i) }

// findSupportedKind scans unexpired cache entries for a matching kind.
func (s *X402ResourceServer) findSupportedKind(version int, network Network, scheme string) *SupportedKind {
	s.supportedCache.mu.RLock()
	defer s.supportedCache.mu.RUnlock()

	for key, supported := range s.supportedCache.data {
		if expiry, exists := s.supportedCache.expiry[key]; exists && time.Now().After(expiry) {
			continue
		}
		for _, kind := range supported.Kinds {
			if kind.X402Version == version && kind.Scheme == scheme && network.Match(kind.Network) {
				found := kind
				return &found
			}
		}
	}
	return nil
}

func (s *X402ResourceServer) getFacilitatorExtensions(version int, network Network, scheme string) []string {
	s.supportedCache.mu.RLock()
	defer s.supportedCache.mu.RUnlock()

	for _, supported := range s.supportedCache.data {
		for _, kind := range supported.Kinds {
			if kind.X402Version == version && kind.Scheme == scheme && network.Match(kind.Network) {
				return supported.Extensions
			}
		}
	}
	return []string{}
}

// facilitatorCandidates returns the facilitators to try for a payment: the
// routed owner first, then the remaining clients in registration order.
func (s *X402ResourceServer) facilitatorCandidates(version int, network Network, scheme string) []FacilitatorClient {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []FacilitatorClient

	var owner FacilitatorClient
	if versionMap, exists := s.facilitatorClientsMap[version]; exists {
		owner = findByNetworkAndScheme(versionMap, scheme, network)
	}
	if owner != nil {
		candidates = append(candidates, owner)
	}
	for _, client := range s.facilitatorClients {
		if client != owner {
			candidates = append(candidates, client)
		}
	}
	return candidates
}

// Set stores a facilitator's supported response with the cache TTL.
func (c *SupportedCache) Set(key string, value SupportedResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = value
	c.expiry[key] = time.Now().Add(c.ttl)
}

// Get returns a cached response when present and unexpired.
func (c *SupportedCache) Get(key string) (SupportedResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	expiry, exists := c.expiry[key]
	if !exists || time.Now().After(expiry) {
		return SupportedResponse{}, false
	}
	value, ok := c.data[key]
	return value, ok
}

// Clear drops all cached entries.
func (c *SupportedCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = make(map[string]SupportedResponse)
	c.expiry = make(map[string]time.Time)
}
