package siwx

import (
	"context"
	"sync"
	"time"
)

// DefaultNonceTTL is how long used nonces are remembered when no TTL is
// configured. It must be at least as long as the challenge expiration so a
// nonce cannot be replayed inside its validity window.
const DefaultNonceTTL = 10 * time.Minute

// InMemoryStorage is the reference Storage: two tables guarded by a mutex,
// with expired nonces swept on access. Payments are remembered for the
// lifetime of the process. Suitable for single-instance servers; use
// RedisStorage for anything distributed.
type InMemoryStorage struct {
	mu            sync.Mutex
	paidAddresses map[string]map[string]struct{}
	usedNonces    map[string]time.Time
	nonceTTL      time.Duration

	now func() time.Time
}

// NewInMemoryStorage creates an in-memory storage with DefaultNonceTTL.
func NewInMemoryStorage() *InMemoryStorage {
	return NewInMemoryStorageWithTTL(DefaultNonceTTL)
}

// NewInMemoryStorageWithTTL creates an in-memory storage with a custom
// nonce TTL. The TTL should be at least the challenge expiration window.
func NewInMemoryStorageWithTTL(nonceTTL time.Duration) *InMemoryStorage {
	if nonceTTL <= 0 {
		nonceTTL = DefaultNonceTTL
	}
	return &InMemoryStorage{
		paidAddresses: make(map[string]map[string]struct{}),
		usedNonces:    make(map[string]time.Time),
		nonceTTL:      nonceTTL,
		now:           time.Now,
	}
}

// HasPaid implements Storage.
func (s *InMemoryStorage) HasPaid(_ context.Context, resource, address string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	addresses, ok := s.paidAddresses[resource]
	if !ok {
		return false, nil
	}
	_, paid := addresses[address]
	return paid, nil
}

// RecordPayment implements Storage.
func (s *InMemoryStorage) RecordPayment(_ context.Context, resource, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	addresses, ok := s.paidAddresses[resource]
	if !ok {
		addresses = make(map[string]struct{})
		s.paidAddresses[resource] = addresses
	}
	addresses[address] = struct{}{}
	return nil
}

// HasUsedNonce implements NonceChecker.
func (s *InMemoryStorage) HasUsedNonce(_ context.Context, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()
	_, used := s.usedNonces[nonce]
	return used, nil
}

// RecordNonce implements NonceRecorder.
func (s *InMemoryStorage) RecordNonce(_ context.Context, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()
	s.usedNonces[nonce] = s.now().Add(s.nonceTTL)
	return nil
}

// sweepLocked drops expired nonces. Caller holds the mutex.
func (s *InMemoryStorage) sweepLocked() {
	now := s.now()
	for nonce, expiry := range s.usedNonces {
		if now.After(expiry) {
			delete(s.usedNonces, nonce)
		}
	}
}
