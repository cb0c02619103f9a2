package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	x402 "github.com/x402/x402-go"
)

// SettlementStatus is the outcome of CheckAndMark.
type SettlementStatus int

const (
	// StatusNotFound: nothing cached, nothing in flight; the caller now
	// holds the in-flight marker and must settle.
	StatusNotFound SettlementStatus = iota
	// StatusCached: a completed result is available.
	StatusCached
	// StatusInFlight: another request holds the marker for this key.
	StatusInFlight
)

// SettlementStore backs the deduplication wrapper. Implementations must be
// safe for concurrent use; the in-flight protocol below keeps concurrent
// duplicates down to a single chain submission.
type SettlementStore interface {
	// CheckAndMark atomically looks up key and, when nothing is cached or
	// in flight, claims the in-flight marker for the caller. The returned
	// channel (non-nil for StatusNotFound and StatusInFlight) is the
	// completion signal: the claiming caller must hand it back through
	// Complete or Fail, and waiters block on it in WaitForResult.
	CheckAndMark(key string) (SettlementStatus, *x402.SettleResponse, chan struct{})

	// WaitForResult blocks until the in-flight holder finishes or ctx is
	// done. A nil response with nil error means the holder failed and the
	// caller may settle itself.
	WaitForResult(ctx context.Context, key string, done chan struct{}) (*x402.SettleResponse, error)

	// Complete caches a successful response under key and releases
	// waiters. done must be the channel CheckAndMark handed out.
	Complete(key string, response *x402.SettleResponse, done chan struct{})

	// Fail drops the in-flight marker without caching, so retries can
	// proceed. done must be the channel CheckAndMark handed out.
	Fail(key string, done chan struct{})
}

// KeyGenerator derives the deduplication key from raw payload bytes.
type KeyGenerator func(payloadBytes []byte) string

// DefaultKeyGenerator hashes the payload with SHA-256. The payload carries
// the authorization signature and nonce, so distinct payment attempts hash
// to distinct keys.
func DefaultKeyGenerator(payloadBytes []byte) string {
	hash := sha256.Sum256(payloadBytes)
	return hex.EncodeToString(hash[:])
}
