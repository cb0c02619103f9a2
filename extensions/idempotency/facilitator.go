package idempotency

import (
	"context"
	"time"

	x402 "github.com/x402/x402-go"
)

// IdempotentFacilitator intercepts Settle on a wrapped X402Facilitator and
// serves duplicate settlements from the store instead of the chain. Verify
// and GetSupported pass straight through; hook and registration methods
// delegate to the inner facilitator and return the wrapper for chaining.
type IdempotentFacilitator struct {
	inner        *x402.X402Facilitator
	store        SettlementStore
	keyGenerator KeyGenerator
}

// Wrap adds settlement deduplication around a facilitator. Defaults:
// InMemoryStore with a 10-minute TTL and the SHA-256 key generator.
func Wrap(facilitator *x402.X402Facilitator, opts ...Option) *IdempotentFacilitator {
	cfg := &config{
		ttl:          10 * time.Minute,
		keyGenerator: DefaultKeyGenerator,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	store := cfg.store
	if store == nil {
		store = NewInMemoryStore(cfg.ttl)
	}

	return &IdempotentFacilitator{
		inner:        facilitator,
		store:        store,
		keyGenerator: cfg.keyGenerator,
	}
}

// Settle settles a payment at most once per payload. A cached result is
// returned as-is; a concurrent duplicate waits for the first request's
// outcome. Failures are never cached, so a retry after a failed settlement
// claims a fresh in-flight slot and goes to the chain again.
func (f *IdempotentFacilitator) Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*x402.SettleResponse, error) {
	cacheKey := f.keyGenerator(payloadBytes)

	status, result, done := f.store.CheckAndMark(cacheKey)

	switch status {
	case StatusCached:
		return result, nil

	case StatusInFlight:
		result, err := f.store.WaitForResult(ctx, cacheKey, done)
		if err != nil {
			return nil, x402.NewSettleError("context_cancelled", "", "", "", err.Error())
		}
		if result != nil {
			return result, nil
		}
		// The holder failed; retry from the top to claim our own slot.
		return f.Settle(ctx, payloadBytes, requirementsBytes)

	case StatusNotFound:
		// We hold the in-flight slot.
	}

	settleResult, settleErr := f.inner.Settle(ctx, payloadBytes, requirementsBytes)
	if settleErr != nil {
		f.store.Fail(cacheKey, done)
		return nil, settleErr
	}

	f.store.Complete(cacheKey, settleResult, done)
	return settleResult, nil
}

// Verify passes through: verification is read-only and needs no dedup.
func (f *IdempotentFacilitator) Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*x402.VerifyResponse, error) {
	return f.inner.Verify(ctx, payloadBytes, requirementsBytes)
}

// GetSupported passes through to the wrapped facilitator.
func (f *IdempotentFacilitator) GetSupported() x402.SupportedResponse {
	return f.inner.GetSupported()
}

// Inner exposes the wrapped facilitator for anything the delegating
// methods below don't cover.
func (f *IdempotentFacilitator) Inner() *x402.X402Facilitator {
	return f.inner
}

// Register delegates to the inner facilitator's Register.
func (f *IdempotentFacilitator) Register(networks []x402.Network, facilitator x402.SchemeNetworkFacilitator) *IdempotentFacilitator {
	f.inner.Register(networks, facilitator)
	return f
}

// RegisterV1 delegates to the inner facilitator's RegisterV1.
func (f *IdempotentFacilitator) RegisterV1(networks []x402.Network, facilitator x402.SchemeNetworkFacilitatorV1) *IdempotentFacilitator {
	f.inner.RegisterV1(networks, facilitator)
	return f
}

// RegisterExtension delegates to the inner facilitator's RegisterExtension.
func (f *IdempotentFacilitator) RegisterExtension(extension string) *IdempotentFacilitator {
	f.inner.RegisterExtension(extension)
	return f
}

// OnBeforeVerify delegates to the inner facilitator.
func (f *IdempotentFacilitator) OnBeforeVerify(hook x402.FacilitatorBeforeVerifyHook) *IdempotentFacilitator {
	f.inner.OnBeforeVerify(hook)
	return f
}

// OnAfterVerify delegates to the inner facilitator.
func (f *IdempotentFacilitator) OnAfterVerify(hook x402.FacilitatorAfterVerifyHook) *IdempotentFacilitator {
	f.inner.OnAfterVerify(hook)
	return f
}

// OnVerifyFailure delegates to the inner facilitator.
func (f *IdempotentFacilitator) OnVerifyFailure(hook x402.FacilitatorOnVerifyFailureHook) *IdempotentFacilitator {
	f.inner.OnVerifyFailure(hook)
	return f
}

// OnBeforeSettle delegates to the inner facilitator.
func (f *IdempotentFacilitator) OnBeforeSettle(hook x402.FacilitatorBeforeSettleHook) *IdempotentFacilitator {
	f.inner.OnBeforeSettle(hook)
	return f
}

// OnAfterSettle delegates to the inner facilitator.
func (f *IdempotentFacilitator) OnAfterSettle(hook x402.FacilitatorAfterSettleHook) *IdempotentFacilitator {
	f.inner.OnAfterSettle(hook)
	return f
}

// OnSettleFailure delegates to the inner facilitator.
func (f *IdempotentFacilitator) OnSettleFailure(hook x402.FacilitatorOnSettleFailureHook) *IdempotentFacilitator {
	f.inner.OnSettleFailure(hook)
	return f
}
