package idempotency

import (
	"context"
	"sync"
	"time"

	x402 "github.com/x402/x402-go"
)

type cachedSettlement struct {
	response  *x402.SettleResponse
	expiresAt time.Time
}

// InMemoryStore is the single-instance SettlementStore: a mutex-guarded
// map of cached results plus in-flight wait channels. State is per-process;
// load-balanced deployments need RedisStore or another shared backend.
// Expired entries are swept lazily on Complete.
type InMemoryStore struct {
	mu       sync.Mutex
	cache    map[string]cachedSettlement
	inFlight map[string]chan struct{}
	ttl      time.Duration
}

// NewInMemoryStore creates an in-memory settlement store. ttl bounds how
// long successful results serve duplicates; 5-15 minutes covers typical
// confirmation windows without holding memory indefinitely.
func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	return &InMemoryStore{
		cache:    make(map[string]cachedSettlement),
		inFlight: make(map[string]chan struct{}),
		ttl:      ttl,
	}
}

func (s *InMemoryStore) CheckAndMark(key string) (SettlementStatus, *x402.SettleResponse, chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, exists := s.cache[key]; exists {
		if time.Now().Before(entry.expiresAt) {
			return StatusCached, entry.response, nil
		}
		delete(s.cache, key)
	}

	if done, exists := s.inFlight[key]; exists {
		return StatusInFlight, nil, done
	}

	done := make(chan struct{})
	s.inFlight[key] = done
	return StatusNotFound, nil, done
}

func (s *InMemoryStore) WaitForResult(ctx context.Context, key string, done chan struct{}) (*x402.SettleResponse, error) {
	select {
	case <-done:
		return s.get(key), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *InMemoryStore) get(key string) *x402.SettleResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.cache[key]
	if !exists {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.cache, key)
		return nil
	}
	return entry.response
}

func (s *InMemoryStore) Complete(key string, response *x402.SettleResponse, done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache[key] = cachedSettlement{response: response, expiresAt: time.Now().Add(s.ttl)}
	delete(s.inFlight, key)
	close(done)

	now := time.Now()
	for k, entry := range s.cache {
		if now.After(entry.expiresAt) {
			delete(s.cache, k)
		}
	}
}

func (s *InMemoryStore) Fail(key string, done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// No caching on failure: waiters wake, find nothing, and retry.
	delete(s.inFlight, key)
	close(done)
}

var _ SettlementStore = (*InMemoryStore)(nil)
