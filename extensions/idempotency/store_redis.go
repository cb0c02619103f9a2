package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	x402 "github.com/x402/x402-go"
)

const (
	redisResultKeyPrefix   = "x402:settle:result:"
	redisInFlightKeyPrefix = "x402:settle:inflight:"

	// defaultInFlightTTL bounds how long a crashed settler can block
	// other instances from retrying.
	defaultInFlightTTL = 2 * time.Minute

	// defaultPollInterval is how often waiters poll for a result
	// produced by another instance.
	defaultPollInterval = 250 * time.Millisecond
)

// RedisStore is a Redis-backed SettlementStore for distributed
// facilitator deployments. The in-flight marker is a SETNX lease so only
// one instance settles a given payment; other instances poll for the
// result.
type RedisStore struct {
	client       redis.UniversalClient
	ttl          time.Duration
	inFlightTTL  time.Duration
	pollInterval time.Duration
}

// NewRedisStore creates a RedisStore caching successful settlements for
// ttl.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client:       client,
		ttl:          ttl,
		inFlightTTL:  defaultInFlightTTL,
		pollInterval: defaultPollInterval,
	}
}

// CheckAndMark checks for a cached result, then tries to take the
// in-flight lease. On Redis errors the settlement proceeds unprotected;
// the mechanism's own nonce checks still prevent double spends.
func (s *RedisStore) CheckAndMark(key string) (SettlementStatus, *x402.SettleResponse, chan struct{}) {
	ctx := context.Background()
	done := make(chan struct{})

	if result := s.getResult(ctx, key); result != nil {
		return StatusCached, result, nil
	}

	acquired, err := s.client.SetNX(ctx, redisInFlightKeyPrefix+key, "1", s.inFlightTTL).Result()
	if err != nil || acquired {
		return StatusNotFound, nil, done
	}

	return StatusInFlight, nil, done
}

// WaitForResult polls Redis until the in-flight settlement completes,
// fails, or the context is cancelled.
func (s *RedisStore) WaitForResult(ctx context.Context, key string, _ chan struct{}) (*x402.SettleResponse, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if result := s.getResult(ctx, key); result != nil {
				return result, nil
			}

			// Lease gone without a result means the settler failed;
			// the caller retries.
			exists, err := s.client.Exists(ctx, redisInFlightKeyPrefix+key).Result()
			if err == nil && exists == 0 {
				return nil, nil
			}
		}
	}
}

// Complete caches the response and releases the in-flight lease.
func (s *RedisStore) Complete(key string, response *x402.SettleResponse, done chan struct{}) {
	ctx := context.Background()

	if data, err := json.Marshal(response); err == nil {
		s.client.Set(ctx, redisResultKeyPrefix+key, data, s.ttl)
	}
	s.client.Del(ctx, redisInFlightKeyPrefix+key)
	close(done)
}

// Fail releases the in-flight lease without caching, so waiters retry.
func (s *RedisStore) Fail(key string, done chan struct{}) {
	s.client.Del(context.Background(), redisInFlightKeyPrefix+key)
	close(done)
}

func (s *RedisStore) getResult(ctx context.Context, key string) *x402.SettleResponse {
	data, err := s.client.Get(ctx, redisResultKeyPrefix+key).Bytes()
	if err != nil {
		return nil
	}

	var response x402.SettleResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil
	}
	return &response
}
