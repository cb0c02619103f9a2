package siwx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisPaidKeyPrefix  = "x402:siwx:paid:"
	redisNonceKeyPrefix = "x402:siwx:nonce:"
)

// RedisStorage is a Redis-backed Storage for multi-instance deployments.
// Paid addresses live in a set per resource path; used nonces are keys
// with the configured TTL.
type RedisStorage struct {
	client   redis.UniversalClient
	nonceTTL time.Duration
}

// NewRedisStorage creates a Redis storage. A nonceTTL of zero falls back
// to DefaultNonceTTL.
func NewRedisStorage(client redis.UniversalClient, nonceTTL time.Duration) *RedisStorage {
	if nonceTTL <= 0 {
		nonceTTL = DefaultNonceTTL
	}
	return &RedisStorage{client: client, nonceTTL: nonceTTL}
}

// HasPaid implements Storage.
func (s *RedisStorage) HasPaid(ctx context.Context, resource, address string) (bool, error) {
	paid, err := s.client.SIsMember(ctx, redisPaidKeyPrefix+resource, address).Result()
	if err != nil {
		return false, fmt.Errorf("redis paid lookup: %w", err)
	}
	return paid, nil
}

// RecordPayment implements Storage.
func (s *RedisStorage) RecordPayment(ctx context.Context, resource, address string) error {
	if err := s.client.SAdd(ctx, redisPaidKeyPrefix+resource, address).Err(); err != nil {
		return fmt.Errorf("redis paid record: %w", err)
	}
	return nil
}

// HasUsedNonce implements NonceChecker.
func (s *RedisStorage) HasUsedNonce(ctx context.Context, nonce string) (bool, error) {
	count, err := s.client.Exists(ctx, redisNonceKeyPrefix+nonce).Result()
	if err != nil {
		return false, fmt.Errorf("redis nonce lookup: %w", err)
	}
	return count > 0, nil
}

// RecordNonce implements NonceRecorder.
func (s *RedisStorage) RecordNonce(ctx context.Context, nonce string) error {
	if err := s.client.Set(ctx, redisNonceKeyPrefix+nonce, "1", s.nonceTTL).Err(); err != nil {
		return fmt.Errorf("redis nonce record: %w", err)
	}
	return nil
}
