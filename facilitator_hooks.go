package x402

import (
	"context"
	"time"
)

// FacilitatorVerifyContext is passed to facilitator verify hooks. Payloads
// stay as raw JSON so one hook shape serves both protocol versions; hooks
// that need fields decode the bytes themselves.
type FacilitatorVerifyContext struct {
	Ctx               context.Context
	PayloadBytes      []byte
	RequirementsBytes []byte
	X402Version       int
	Timestamp         time.Time
}

// FacilitatorVerifyResultContext carries the verify result to after hooks.
type FacilitatorVerifyResultContext struct {
	FacilitatorVerifyContext
	Result VerifyResponse
}

// FacilitatorVerifyFailureContext carries the verify error to failure hooks.
type FacilitatorVerifyFailureContext struct {
	FacilitatorVerifyContext
	Error error
}

// FacilitatorSettleContext is passed to facilitator settle hooks.
type FacilitatorSettleContext struct {
	Ctx               context.Context
	PayloadBytes      []byte
	RequirementsBytes []byte
	X402Version       int
	Timestamp         time.Time
}

// FacilitatorSettleResultContext carries the settle result to after hooks.
type FacilitatorSettleResultContext struct {
	FacilitatorSettleContext
	Result SettleResponse
}

// FacilitatorSettleFailureContext carries the settle error to failure hooks.
type FacilitatorSettleFailureContext struct {
	FacilitatorSettleContext
	Error error
}

// FacilitatorVerifyFailureResult recovers a failed verification when
// Recovered is true.
type FacilitatorVerifyFailureResult struct {
	Recovered bool
	Result    VerifyResponse
}

// FacilitatorSettleFailureResult recovers a failed settlement when
// Recovered is true.
type FacilitatorSettleFailureResult struct {
	Recovered bool
	Result    SettleResponse
}

// FacilitatorBeforeVerifyHook runs before mechanism verification. Returning
// a result with Abort=true produces an invalid VerifyResponse.
type FacilitatorBeforeVerifyHook func(FacilitatorVerifyContext) (*BeforeHookResult, error)

// FacilitatorAfterVerifyHook runs after successful verification; errors are
// logged and do not change the result.
type FacilitatorAfterVerifyHook func(FacilitatorVerifyResultContext) error

// FacilitatorOnVerifyFailureHook runs when verification fails.
type FacilitatorOnVerifyFailureHook func(FacilitatorVerifyFailureContext) (*FacilitatorVerifyFailureResult, error)

// FacilitatorBeforeSettleHook runs before mechanism settlement. Returning a
// result with Abort=true aborts settlement.
type FacilitatorBeforeSettleHook func(FacilitatorSettleContext) (*BeforeHookResult, error)

// FacilitatorAfterSettleHook runs after successful settlement; errors are
// logged and do not change the result.
type FacilitatorAfterSettleHook func(FacilitatorSettleResultContext) error

// FacilitatorOnSettleFailureHook runs when settlement fails.
type FacilitatorOnSettleFailureHook func(FacilitatorSettleFailureContext) (*FacilitatorSettleFailureResult, error)
