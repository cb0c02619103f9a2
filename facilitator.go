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

// X402Facilitator hosts payment mechanisms and executes verification and
// settlement against them. It accepts raw JSON at the boundary, detects the
// protocol version, and routes to the typed V1 or V2 mechanism registered
// for the payment's (network, scheme).
type X402Facilitator struct {
	mu sync.RWMutex

	logger *slog.Logger

	// Separate registries for the two wire generations. V2 is the default.
	schemesV1 map[Network]map[string]SchemeNetworkFacilitatorV1
	schemes   map[Network]map[string]SchemeNetworkFacilitator

	extensions []string

	beforeVerifyHooks    []FacilitatorBeforeVerifyHook
	afterVerifyHooks     []FacilitatorAfterVerifyHook
	onVerifyFailureHooks []FacilitatorOnVerifyFailureHook
	beforeSettleHooks    []FacilitatorBeforeSettleHook
	afterSettleHooks     []FacilitatorAfterSettleHook
	onSettleFailureHooks []FacilitatorOnSettleFailureHook
}

// Newx402Facilitator creates an empty facilitator.
func Newx402Facilitator() *X402Facilitator {
	return &X402Facilitator{
		logger:     slog.Default(),
		schemesV1:  make(map[Network]map[string]SchemeNetworkFacilitatorV1),
		schemes:    make(map[Network]map[string]SchemeNetworkFacilitator),
		extensions: []string{},
	}
}

// SetLogger replaces the default slog logger.
func (f *X402Facilitator) SetLogger(logger *slog.Logger) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logger = logger
	return f
}

// Register registers a V2 mechanism for each of the given networks
// (wildcards like "eip155:*" allowed).
func (f *X402Facilitator) Register(networks []Network, facilitator SchemeNetworkFacilitator) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, network := range networks {
		if f.schemes[network] == nil {
			f.schemes[network] = make(map[string]SchemeNetworkFacilitator)
		}
		f.schemes[network][facilitator.Scheme()] = facilitator
	}
	return f
}

// RegisterV1 registers a legacy-wire mechanism for each of the given
// networks.
func (f *X402Facilitator) RegisterV1(networks []Network, facilitator SchemeNetworkFacilitatorV1) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, network := range networks {
		if f.schemesV1[network] == nil {
			f.schemesV1[network] = make(map[string]SchemeNetworkFacilitatorV1)
		}
		f.schemesV1[network][facilitator.Scheme()] = facilitator
	}
	return f
}

// RegisterExtension declares a protocol extension in the supported
// response. Idempotent.
func (f *X402Facilitator) RegisterExtension(extension string) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ext := range f.extensions {
		if ext == extension {
			return f
		}
	}
	f.extensions = append(f.extensions, extension)
	return f
}

// OnBeforeVerify adds a before-verify hook.
func (f *X402Facilitator) OnBeforeVerify(hook FacilitatorBeforeVerifyHook) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeVerifyHooks = append(f.beforeVerifyHooks, hook)
	return f
}

// OnAfterVerify adds an after-verify hook.
func (f *X402Facilitator) OnAfterVerify(hook FacilitatorAfterVerifyHook) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterVerifyHooks = append(f.afterVerifyHooks, hook)
	return f
}

// OnVerifyFailure adds a verify-failure hook.
func (f *X402Facilitator) OnVerifyFailure(hook FacilitatorOnVerifyFailureHook) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onVerifyFailureHooks = append(f.onVerifyFailureHooks, hook)
	return f
}

// OnBeforeSettle adds a before-settle hook.
func (f *X402Facilitator) OnBeforeSettle(hook FacilitatorBeforeSettleHook) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeSettleHooks = append(f.beforeSettleHooks, hook)
	return f
}

// OnAfterSettle adds an after-settle hook.
func (f *X402Facilitator) OnAfterSettle(hook FacilitatorAfterSettleHook) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterSettleHooks = append(f.afterSettleHooks, hook)
	return f
}

// OnSettleFailure adds a settle-failure hook.
func (f *X402Facilitator) OnSettleFailure(hook FacilitatorOnSettleFailureHook) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSettleFailureHooks = append(f.onSettleFailureHooks, hook)
	return f
}

// Verify verifies a payment. The version is detected from the payload
// bytes; hooks run once around the mechanism call regardless of version.
func (f *X402Facilitator) Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*VerifyResponse, error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return &VerifyResponse{IsValid: false, InvalidReason: ErrInvalidVersion}, err
	}

	hookCtx := FacilitatorVerifyContext{
		Ctx:               ctx,
		PayloadBytes:      payloadBytes,
		RequirementsBytes: requirementsBytes,
		X402Version:       version,
		Timestamp:         time.Now(),
	}

	f.mu.RLock()
	beforeHooks := f.beforeVerifyHooks
	f.mu.RUnlock()

	for _, hook := range beforeHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return &VerifyResponse{IsValid: false, InvalidReason: err.Error()}, err
		}
		if result != nil && result.Abort {
			return &VerifyResponse{IsValid: false, InvalidReason: result.Reason}, nil
		}
	}

	verifyResult, verifyErr := f.dispatchVerify(ctx, version, payloadBytes, requirementsBytes)

	if verifyErr != nil {
		f.mu.RLock()
		failureHooks := f.onVerifyFailureHooks
		f.mu.RUnlock()

		failureCtx := FacilitatorVerifyFailureContext{FacilitatorVerifyContext: hookCtx, Error: verifyErr}
		for _, hook := range failureHooks {
			result, err := hook(failureCtx)
			if err != nil {
				f.logger.Warn("onVerifyFailure hook error", "error", err)
			}
			if result != nil && result.Recovered {
				recovered := result.Result
				return &recovered, nil
			}
		}
		return verifyResult, verifyErr
	}

	f.mu.RLock()
	afterHooks := f.afterVerifyHooks
	f.mu.RUnlock()

	resultCtx := FacilitatorVerifyResultContext{FacilitatorVerifyContext: hookCtx, Result: *verifyResult}
	for _, hook := range afterHooks {
		if err := hook(resultCtx); err != nil {
			f.logger.Warn("afterVerify hook error", "error", err)
		}
	}

	return verifyResult, nil
}

// Settle settles a payment, symmetric to Verify. A before hook abort fails
// the settlement with the hook's reason.
func (f *X402Facilitator) Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*SettleResponse, error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return &SettleResponse{Success: false, ErrorReason: ErrInvalidVersion}, err
	}

	hookCtx := FacilitatorSettleContext{
		Ctx:               ctx,
		PayloadBytes:      payloadBytes,
		RequirementsBytes: requirementsBytes,
		X402Version:       version,
		Timestamp:         time.Now(),
	}

	f.mu.RLock()
	beforeHooks := f.beforeSettleHooks
	f.mu.RUnlock()

	for _, hook := range beforeHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return &SettleResponse{Success: false, ErrorReason: err.Error()}, err
		}
		if result != nil && result.Abort {
			return &SettleResponse{Success: false, ErrorReason: result.Reason}, fmt.Errorf("%s", result.Reason)
		}
	}

	settleResult, settleErr := f.dispatchSettle(ctx, version, payloadBytes, requirementsBytes)

	if settleErr != nil {
		f.mu.RLock()
		failureHooks := f.onSettleFailureHooks
		f.mu.RUnlock()

		failureCtx := FacilitatorSettleFailureContext{FacilitatorSettleContext: hookCtx, Error: settleErr}
		for _, hook := range failureHooks {
			result, err := hook(failureCtx)
			if err != nil {
				f.logger.Warn("onSettleFailure hook error", "error", err)
			}
			if result != nil && result.Recovered {
				recovered := result.Result
				return &recovered, nil
			}
		}
		return settleResult, settleErr
	}

	f.mu.RLock()
	afterHooks := f.afterSettleHooks
	f.mu.RUnlock()

	resultCtx := FacilitatorSettleResultContext{FacilitatorSettleContext: hookCtx, Result: *settleResult}
	for _, hook := range afterHooks {
		if err := hook(resultCtx); err != nil {
			f.logger.Warn("afterSettle hook error", "error", err)
		}
	}

	return settleResult, nil
}

func (f *X402Facilitator) dispatchVerify(ctx context.Context, version int, payloadBytes, requirementsBytes []byte) (*VerifyResponse, error) {
	switch version {
	case ProtocolVersionV1:
		var payload types.PaymentPayloadV1
		if err := json.Unmarshal(payloadBytes, &payload); err != nil {
			return &VerifyResponse{IsValid: false, InvalidReason: ErrInvalidV1Payload}, nil
		}
		var requirements types.PaymentRequirementsV1
		if err := json.Unmarshal(requirementsBytes, &requirements); err != nil {
			return &VerifyResponse{IsValid: false, InvalidReason: ErrInvalidV1Requirements}, nil
		}
		mechanism, err := f.findV1(requirements.Scheme, Network(requirements.Network))
		if err != nil {
			return &VerifyResponse{IsValid: false, InvalidReason: ErrNoFacilitatorSupport}, err
		}
		return mechanism.Verify(ctx, payload, requirements)

	case ProtocolVersion:
		var payload PaymentPayload
		if err := json.Unmarshal(payloadBytes, &payload); err != nil {
			return &VerifyResponse{IsValid: false, InvalidReason: ErrInvalidV2Payload}, nil
		}
		var requirements PaymentRequirements
		if err := json.Unmarshal(requirementsBytes, &requirements); err != nil {
			return &VerifyResponse{IsValid: false, InvalidReason: ErrInvalidV2Requirements}, nil
		}
		mechanism, err := f.findV2(requirements.Scheme, requirements.Network)
		if err != nil {
			return &VerifyResponse{IsValid: false, InvalidReason: ErrNoFacilitatorSupport}, err
		}
		return mechanism.Verify(ctx, payload, requirements)

	default:
		return &VerifyResponse{IsValid: false, InvalidReason: ErrInvalidVersion},
			fmt.Errorf("unsupported x402 version: %d", version)
	}
}

func (f *X402Facilitator) dispatchSettle(ctx context.Context, version int, payloadBytes, requirementsBytes []byte) (*SettleResponse, error) {
	switch version {
	case ProtocolVersionV1:
		var payload types.PaymentPayloadV1
		if err := json.Unmarshal(payloadBytes, &payload); err != nil {
			return &SettleResponse{Success: false, ErrorReason: ErrInvalidV1Payload}, nil
		}
		var requirements types.PaymentRequirementsV1
		if err := json.Unmarshal(requirementsBytes, &requirements); err != nil {
			return &SettleResponse{Success: false, ErrorReason: ErrInvalidV1Requirements}, nil
		}
		mechanism, err := f.findV1(requirements.Scheme, Network(requirements.Network))
		if err != nil {
			return &SettleResponse{Success: false, ErrorReason: ErrNoFacilitatorSupport}, err
		}
		return mechanism.Settle(ctx, payload, requirements)

	case ProtocolVersion:
		var payload PaymentPayload
		if err := json.Unmarshal(payloadBytes, &payload); err != nil {
			return &SettleResponse{Success: false, ErrorReason: ErrInvalidV2Payload}, nil
		}
		var requirements PaymentRequirements
		if err := json.Unmarshal(requirementsBytes, &requirements); err != nil {
			return &SettleResponse{Success: false, ErrorReason: ErrInvalidV2Requirements}, nil
		}
		mechanism, err := f.findV2(requirements.Scheme, requirements.Network)
		if err != nil {
			return &SettleResponse{Success: false, ErrorReason: ErrNoFacilitatorSupport}, err
		}
		return mechanism.Settle(ctx, payload, requirements)

	default:
		return &SettleResponse{Success: false, ErrorReason: ErrInvalidVersion},
			fmt.Errorf("unsupported x402 version: %d", version)
	}
}

func (f *X402Facilitator) findV1(scheme string, network Network) (SchemeNetworkFacilitatorV1, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	schemes := findSchemesByNetwork(f.schemesV1, network)
	if schemes == nil {
		return nil, fmt.Errorf("no facilitator for network %s", network)
	}
	mechanism := schemes[scheme]
	if mechanism == nil {
		return nil, fmt.Errorf("no facilitator for %s on %s", scheme, network)
	}
	return mechanism, nil
}

func (f *X402Facilitator) findV2(scheme string, network Network) (SchemeNetworkFacilitator, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	schemes := findSchemesByNetwork(f.schemes, network)
	if schemes == nil {
		return nil, fmt.Errorf("no facilitator for network %s", network)
	}
	mechanism := schemes[scheme]
	if mechanism == nil {
		return nil, fmt.Errorf("no facilitator for %s on %s", scheme, network)
	}
	return mechanism, nil
}

// GetSupported derives the advertised payment kinds from the registrations.
// Per-network extras (fee payers, domain data) come from each mechanism's
// GetExtra.
func (f *X402Facilitator) GetSupported() SupportedResponse {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var kinds []SupportedKind

	for network, schemeMap := range f.schemesV1 {
		for scheme, mechanism := range schemeMap {
			kinds = append(kinds, SupportedKind{
				X402Version: ProtocolVersionV1,
				Scheme:      scheme,
				Network:     network,
				Extra:       mechanism.GetExtra(network),
			})
		}
	}

	for network, schemeMap := range f.schemes {
		for scheme, mechanism := range schemeMap {
			kinds = append(kinds, SupportedKind{
				X402Version: ProtocolVersion,
				Scheme:      scheme,
				Network:     network,
				Extra:       mechanism.GetExtra(network),
			})
		}
	}

	return SupportedResponse{
		Kinds:      kinds,
		Extensions: f.extensions,
	}
}
