package idempotency

import "time"

type config struct {
	ttl          time.Duration
	store        SettlementStore
	keyGenerator KeyGenerator
}

// Option configures the settlement wrapper built by Wrap.
type Option func(*config)

// WithTTL sets how long the default InMemoryStore keeps successful
// settlements. Ignored when WithStore supplies a custom store, which owns
// its own TTL. Default 10 minutes.
func WithTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.ttl = ttl
	}
}

// WithStore replaces the in-memory store with a custom SettlementStore,
// typically Redis-backed for load-balanced deployments.
func WithStore(store SettlementStore) Option {
	return func(c *config) {
		c.store = store
	}
}

// WithKeyGenerator replaces the SHA-256 payload key derivation. The key
// must uniquely identify a settlement attempt; a collision dedups two
// distinct payments.
func WithKeyGenerator(gen KeyGenerator) Option {
	return func(c *config) {
		c.keyGenerator = gen
	}
}
