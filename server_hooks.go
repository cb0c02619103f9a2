package x402

import (
	"context"
	"time"
)

// VerifyContext contains information passed to verify hooks.
type VerifyContext struct {
	Ctx               context.Context
	PayloadBytes      []byte
	RequirementsBytes []byte
	Timestamp         time.Time
	RequestMetadata   map[string]interface{}
}

// VerifyResultContext contains verify operation result and context.
type VerifyResultContext struct {
	VerifyContext
	Result   VerifyResponse
	Duration time.Duration
}

// VerifyFailureContext contains verify operation failure and context.
type VerifyFailureContext struct {
	VerifyContext
	Error    error
	Duration time.Duration
}

// SettleContext contains information passed to settle hooks.
type SettleContext struct {
	Ctx               context.Context
	PayloadBytes      []byte
	RequirementsBytes []byte
	Timestamp         time.Time
	RequestMetadata   map[string]interface{}
}

// SettleResultContext contains settle operation result and context.
type SettleResultContext struct {
	SettleContext
	Result   SettleResponse
	Duration time.Duration
}

// SettleFailureContext contains settle operation failure and context.
type SettleFailureContext struct {
	SettleContext
	Error    error
	Duration time.Duration
}

// BeforeHookResult is the result of a "before" hook. If Abort is true the
// operation is aborted with the given Reason.
type BeforeHookResult struct {
	Abort  bool
	Reason string
}

// VerifyFailureHookResult is the result of a verify failure hook. If
// Recovered is true the hook has recovered from the failure with Result.
type VerifyFailureHookResult struct {
	Recovered bool
	Result    VerifyResponse
}

// SettleFailureHookResult is the result of a settle failure hook.
type SettleFailureHookResult struct {
	Recovered bool
	Result    SettleResponse
}

// BeforeVerifyHook is called before payment verification. Returning a
// result with Abort=true skips verification and produces an invalid
// VerifyResponse with the provided reason.
type BeforeVerifyHook func(VerifyContext) (*BeforeHookResult, error)

// AfterVerifyHook is called after successful payment verification. Any
// error returned is logged but does not affect the verification result.
type AfterVerifyHook func(VerifyResultContext) error

// OnVerifyFailureHook is called when payment verification fails. Returning
// a result with Recovered=true substitutes the provided VerifyResponse for
// the error.
type OnVerifyFailureHook func(VerifyFailureContext) (*VerifyFailureHookResult, error)

// BeforeSettleHook is called before payment settlement. Returning a result
// with Abort=true aborts settlement with an error carrying the reason.
type BeforeSettleHook func(SettleContext) (*BeforeHookResult, error)

// AfterSettleHook is called after successful payment settlement. Any error
// returned is logged but does not affect the settlement result.
type AfterSettleHook func(SettleResultContext) error

// OnSettleFailureHook is called when payment settlement fails. Returning a
// result with Recovered=true substitutes the provided SettleResponse for
// the error.
type OnSettleFailureHook func(SettleFailureContext) (*SettleFailureHookResult, error)

// WithBeforeVerifyHook registers a hook to run before payment verification.
func WithBeforeVerifyHook(hook BeforeVerifyHook) ResourceServerOption {
	return func(s *X402ResourceServer) {
		s.beforeVerifyHooks = append(s.beforeVerifyHooks, hook)
	}
}

// WithAfterVerifyHook registers a hook to run after successful verification.
func WithAfterVerifyHook(hook AfterVerifyHook) ResourceServerOption {
	return func(s *X402ResourceServer) {
		s.afterVerifyHooks = append(s.afterVerifyHooks, hook)
	}
}

// WithOnVerifyFailureHook registers a hook to run when verification fails.
func WithOnVerifyFailureHook(hook OnVerifyFailureHook) ResourceServerOption {
	return func(s *X402ResourceServer) {
		s.onVerifyFailureHooks = append(s.onVerifyFailureHooks, hook)
	}
}

// WithBeforeSettleHook registers a hook to run before payment settlement.
func WithBeforeSettleHook(hook BeforeSettleHook) ResourceServerOption {
	return func(s *X402ResourceServer) {
		s.beforeSettleHooks = append(s.beforeSettleHooks, hook)
	}
}

// WithAfterSettleHook registers a hook to run after successful settlement.
func WithAfterSettleHook(hook AfterSettleHook) ResourceServerOption {
	return func(s *X402ResourceServer) {
		s.afterSettleHooks = append(s.afterSettleHooks, hook)
	}
}

// WithOnSettleFailureHook registers a hook to run when settlement fails.
func WithOnSettleFailureHook(hook OnSettleFailureHook) ResourceServerOption {
	return func(s *X402ResourceServer) {
		s.onSettleFailureHooks = append(s.onSettleFailureHooks, hook)
	}
}
