// Package idempotency adds settlement deduplication to an x402 facilitator
// as an opt-in wrapper.
//
// A settlement submits an on-chain transaction. Until the chain's own nonce
// protection kicks in, a client retry during the pending confirmation window
// would submit the same transfer twice; this package closes that window by
// keying each settlement on its payload and serving duplicates from a store.
//
// Deduplication is deliberately not part of the facilitator core: the core
// stays stateless so it works in serverless functions, load-balanced
// clusters, and single instances alike. A deployment that wants dedup wraps
// its facilitator and picks the store that matches its topology:
//
//	facilitator := idempotency.Wrap(base)                          // in-memory
//	facilitator := idempotency.Wrap(base, idempotency.WithTTL(30*time.Minute))
//	facilitator := idempotency.Wrap(base,
//	    idempotency.WithStore(idempotency.NewRedisStore(client, 10*time.Minute)))
//
// On Settle the wrapper derives a key from the payload bytes (SHA-256 by
// default, replaceable via WithKeyGenerator) and asks the store to
// CheckAndMark it atomically. A cached result is returned without touching
// the chain; an in-flight marker makes the caller wait for the first
// request's outcome; otherwise settlement proceeds and the result is
// cached on success. Failures clear the marker instead of being cached, so
// a legitimate retry can still go through.
//
// Distributed deployments implement SettlementStore on a shared backend;
// RedisStore is the reference implementation.
package idempotency
