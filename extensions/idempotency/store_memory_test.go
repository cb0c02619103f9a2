package idempotency

import (
	"context"
	"sync"
	"testing"
	"time"

	x402 "github.com/x402/x402-go"
)

func TestDefaultKeyGenerator(t *testing.T) {
	first := []byte(`{"x402Version":2,"payload":{"nonce":"123"},"accepted":{"scheme":"exact"}}`)
	second := []byte(`{"x402Version":2,"payload":{"nonce":"456"},"accepted":{"scheme":"exact"}}`)

	if DefaultKeyGenerator(first) != DefaultKeyGenerator(first) {
		t.Error("expected stable keys for identical payloads")
	}
	if DefaultKeyGenerator(first) == DefaultKeyGenerator(second) {
		t.Error("expected distinct keys for distinct payloads")
	}
	if got := len(DefaultKeyGenerator(first)); got != 64 {
		t.Errorf("expected 64 hex chars, got %d", got)
	}
}

func TestInMemoryStoreCacheRoundTrip(t *testing.T) {
	store := NewInMemoryStore(5 * time.Minute)
	response := &x402.SettleResponse{
		Success:     true,
		Transaction: "0x123",
		Payer:       "0xabc",
		Network:     "eip155:1",
	}

	status, result, done := store.CheckAndMark("round-trip")
	if status != StatusNotFound {
		t.Fatalf("expected StatusNotFound on first claim, got %v", status)
	}
	if result != nil {
		t.Fatal("expected no result on first claim")
	}

	store.Complete("round-trip", response, done)

	status, result, _ = store.CheckAndMark("round-trip")
	if status != StatusCached {
		t.Fatalf("expected StatusCached after Complete, got %v", status)
	}
	if result == nil || result.Transaction != "0x123" {
		t.Fatalf("expected cached transaction 0x123, got %+v", result)
	}
}

func TestInMemoryStoreInFlightSharing(t *testing.T) {
	store := NewInMemoryStore(5 * time.Minute)

	status1, _, done1 := store.CheckAndMark("shared")
	if status1 != StatusNotFound {
		t.Fatalf("expected first claim to win, got %v", status1)
	}

	status2, _, done2 := store.CheckAndMark("shared")
	if status2 != StatusInFlight {
		t.Fatalf("expected second claim to see in-flight, got %v", status2)
	}
	if done1 != done2 {
		t.Error("expected waiters to share the claimer's done channel")
	}
}

func TestInMemoryStoreExpiry(t *testing.T) {
	store := NewInMemoryStore(50 * time.Millisecond)
	response := &x402.SettleResponse{Success: true, Transaction: "0x999"}

	_, _, done := store.CheckAndMark("expiring")
	store.Complete("expiring", response, done)

	if status, result, _ := store.CheckAndMark("expiring"); status != StatusCached || result == nil {
		t.Fatal("expected cached result before TTL")
	}

	time.Sleep(60 * time.Millisecond)

	status, _, done := store.CheckAndMark("expiring")
	if status != StatusNotFound {
		t.Errorf("expected expired entry to read as StatusNotFound, got %v", status)
	}
	store.Fail("expiring", done)
}

func TestInMemoryStoreFailAllowsRetry(t *testing.T) {
	store := NewInMemoryStore(5 * time.Minute)

	_, _, done := store.CheckAndMark("failed")
	store.Fail("failed", done)

	status, _, done2 := store.CheckAndMark("failed")
	if status != StatusNotFound {
		t.Errorf("expected retry after Fail to claim a fresh slot, got %v", status)
	}
	store.Fail("failed", done2)
}

func TestInMemoryStoreWaitForResult(t *testing.T) {
	store := NewInMemoryStore(5 * time.Minute)
	response := &x402.SettleResponse{Success: true, Transaction: "0xwaited"}

	_, _, done := store.CheckAndMark("waited")

	var wg sync.WaitGroup
	var waitResult *x402.SettleResponse
	var waitErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		waitResult, waitErr = store.WaitForResult(context.Background(), "waited", done)
	}()

	time.Sleep(10 * time.Millisecond)
	store.Complete("waited", response, done)
	wg.Wait()

	if waitErr != nil {
		t.Fatalf("unexpected error: %v", waitErr)
	}
	if waitResult == nil || waitResult.Transaction != "0xwaited" {
		t.Fatalf("expected the claimer's result, got %+v", waitResult)
	}
}

func TestInMemoryStoreWaitForResultContextCancelled(t *testing.T) {
	store := NewInMemoryStore(5 * time.Minute)

	_, _, done := store.CheckAndMark("cancelled")

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	var waitErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, waitErr = store.WaitForResult(ctx, "cancelled", done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	wg.Wait()

	if waitErr != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", waitErr)
	}
	store.Fail("cancelled", done)
}

func TestInMemoryStoreConcurrentWaiters(t *testing.T) {
	store := NewInMemoryStore(5 * time.Minute)

	status, _, done := store.CheckAndMark("fanout")
	if status != StatusNotFound {
		t.Fatalf("expected first claim to win, got %v", status)
	}

	const waiters = 3
	var wg sync.WaitGroup
	results := make([]*x402.SettleResponse, waiters)
	errs := make([]error, waiters)

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx], errs[idx] = store.WaitForResult(context.Background(), "fanout", done)
		}(i)
	}

	time.Sleep(10 * time.Millisecond)
	store.Complete("fanout", &x402.SettleResponse{Success: true, Transaction: "0xshared"}, done)
	wg.Wait()

	for i := 0; i < waiters; i++ {
		if errs[i] != nil {
			t.Errorf("waiter %d: unexpected error %v", i, errs[i])
			continue
		}
		if results[i] == nil || results[i].Transaction != "0xshared" {
			t.Errorf("waiter %d: expected shared transaction, got %+v", i, results[i])
		}
	}
}

func TestInMemoryStoreClaimIsAtomic(t *testing.T) {
	store := NewInMemoryStore(5 * time.Minute)

	const racers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	claimed, waiting := 0, 0

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, _, _ := store.CheckAndMark("race")
			mu.Lock()
			defer mu.Unlock()
			switch status {
			case StatusNotFound:
				claimed++
			case StatusInFlight:
				waiting++
			}
		}()
	}
	wg.Wait()

	if claimed != 1 {
		t.Errorf("expected exactly one claimer, got %d", claimed)
	}
	if waiting != racers-1 {
		t.Errorf("expected %d waiters, got %d", racers-1, waiting)
	}
}
