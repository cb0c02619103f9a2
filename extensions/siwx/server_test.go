package siwx

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	solana "github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	x402 "github.com/x402/x402-go"
	x402http "github.com/x402/x402-go/http"
)

type fakeAdapter struct {
	headers map[string]string
	url     string
	path    string
}

func (a *fakeAdapter) GetHeader(name string) string { return a.headers[name] }
func (a *fakeAdapter) GetMethod() string            { return "GET" }
func (a *fakeAdapter) GetPath() string              { return a.path }
func (a *fakeAdapter) GetURL() string               { return a.url }
func (a *fakeAdapter) GetAcceptHeader() string      { return "application/json" }
func (a *fakeAdapter) GetUserAgent() string         { return "test" }

func newTestServer(t *testing.T, storage Storage) *ServerSIWX {
	t.Helper()
	server, err := NewServerSIWX(ServerConfig{
		Storage:  storage,
		Networks: []x402.Network{"eip155:8453", "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"},
	})
	if err != nil {
		t.Fatalf("NewServerSIWX: %v", err)
	}
	return server
}

func signEvmPayload(t *testing.T, key *ecdsa.PrivateKey, payload *Payload) {
	t.Helper()
	payload.Address = crypto.PubkeyToAddress(key.PublicKey).Hex()
	digest := accounts.TextHash([]byte(BuildMessage(*payload)))
	signature, err := crypto.Sign(digest, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	signature[64] += 27
	payload.Signature = "0x" + hex.EncodeToString(signature)
}

func basePayload() Payload {
	return Payload{
		Domain:   "api.example.com",
		URI:      "https://api.example.com/weather",
		Version:  "1",
		ChainID:  "eip155:8453",
		Nonce:    "aabbccddeeff00112233445566778899",
		IssuedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

func requestFor(payload Payload, t *testing.T) x402http.HTTPRequestContext {
	t.Helper()
	header, err := EncodeHeader(payload)
	if err != nil {
		t.Fatalf("encode header: %v", err)
	}
	return x402http.HTTPRequestContext{
		Adapter: &fakeAdapter{
			headers: map[string]string{HeaderName: header},
			url:     "https://api.example.com/weather",
			path:    "/weather",
		},
		Path:   "/weather",
		Method: "GET",
	}
}

func TestHandleProtectedRequestGrantsAccessAfterPayment(t *testing.T) {
	key, _ := crypto.GenerateKey()
	storage := NewInMemoryStorage()
	server := newTestServer(t, storage)
	ctx := context.Background()

	payload := basePayload()
	signEvmPayload(t, key, &payload)

	address := strings.ToLower(payload.Address)
	if err := storage.RecordPayment(ctx, "/weather", address); err != nil {
		t.Fatalf("record payment: %v", err)
	}

	result, err := server.HandleProtectedRequest(ctx, requestFor(payload, t))
	if err != nil {
		t.Fatalf("hook error: %v", err)
	}
	if result == nil || !result.GrantAccess {
		t.Fatalf("expected access grant, got %+v", result)
	}

	// Same header again: nonce already used, falls through to payment.
	result, err = server.HandleProtectedRequest(ctx, requestFor(payload, t))
	if err != nil {
		t.Fatalf("hook error on replay: %v", err)
	}
	if result != nil {
		t.Fatalf("replayed nonce must not grant access, got %+v", result)
	}
}

func TestHandleProtectedRequestUnpaidFallsThrough(t *testing.T) {
	key, _ := crypto.GenerateKey()
	server := newTestServer(t, NewInMemoryStorage())

	payload := basePayload()
	signEvmPayload(t, key, &payload)

	result, err := server.HandleProtectedRequest(context.Background(), requestFor(payload, t))
	if err != nil || result != nil {
		t.Fatalf("unpaid address must fall through, got %+v err=%v", result, err)
	}
}

func TestHandleProtectedRequestValidationFailures(t *testing.T) {
	key, _ := crypto.GenerateKey()
	storage := NewInMemoryStorage()
	ctx := context.Background()

	var events []Event
	server, err := NewServerSIWX(ServerConfig{
		Storage: storage,
		OnEvent: func(e Event) { events = append(events, e) },
	})
	if err != nil {
		t.Fatalf("NewServerSIWX: %v", err)
	}

	mutate := map[string]struct {
		change func(*Payload)
		event  string
	}{
		"domain mismatch": {func(p *Payload) { p.Domain = "evil.example.com" }, EventDomainMismatch},
		"uri outside origin": {func(p *Payload) {
			p.URI = "https://evil.example.com/weather"
		}, EventURIMismatch},
		"issued in future": {func(p *Payload) {
			p.IssuedAt = time.Now().Add(time.Minute).UTC().Format(time.RFC3339)
		}, EventIssuedInFuture},
		"stale": {func(p *Payload) {
			p.IssuedAt = time.Now().Add(-10 * time.Minute).UTC().Format(time.RFC3339)
		}, EventStale},
		"expired": {func(p *Payload) {
			p.ExpirationTime = time.Now().Add(-time.Second).UTC().Format(time.RFC3339)
		}, EventExpired},
		"not yet valid": {func(p *Payload) {
			p.NotBefore = time.Now().Add(time.Minute).UTC().Format(time.RFC3339)
		}, EventNotYetValid},
	}

	for name, tc := range mutate {
		events = nil
		payload := basePayload()
		tc.change(&payload)
		signEvmPayload(t, key, &payload)

		result, err := server.HandleProtectedRequest(ctx, requestFor(payload, t))
		if err != nil || result != nil {
			t.Errorf("%s: expected fall-through, got %+v err=%v", name, result, err)
		}
		if len(events) != 1 || events[0].Type != tc.event {
			t.Errorf("%s: expected event %s, got %+v", name, tc.event, events)
		}
	}

	// Tampered signature: sign first, then change a covered field.
	events = nil
	payload := basePayload()
	signEvmPayload(t, key, &payload)
	payload.Nonce = "ffffffffffffffffffffffffffffffff"
	result, err := server.HandleProtectedRequest(ctx, requestFor(payload, t))
	if err != nil || result != nil {
		t.Fatalf("tampered payload must fall through, got %+v err=%v", result, err)
	}
	if len(events) != 1 || events[0].Type != EventSignatureInvalid {
		t.Errorf("expected %s, got %+v", EventSignatureInvalid, events)
	}
}

func TestHandleProtectedRequestSolana(t *testing.T) {
	privateKey, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	storage := NewInMemoryStorage()
	server := newTestServer(t, storage)
	ctx := context.Background()

	payload := basePayload()
	payload.ChainID = "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"
	payload.Address = privateKey.PublicKey().String()
	signature, err := privateKey.Sign([]byte(BuildMessage(payload)))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	payload.Signature = base58.Encode(signature[:])

	// Solana addresses are stored verbatim, not lowercased.
	if err := storage.RecordPayment(ctx, "/weather", payload.Address); err != nil {
		t.Fatalf("record payment: %v", err)
	}

	result, err := server.HandleProtectedRequest(ctx, requestFor(payload, t))
	if err != nil {
		t.Fatalf("hook error: %v", err)
	}
	if result == nil || !result.GrantAccess {
		t.Fatalf("expected access grant, got %+v", result)
	}
}

func TestEnrichDeclarationRegeneratesChallenge(t *testing.T) {
	server := newTestServer(t, NewInMemoryStorage())
	server.config.ExpirationSeconds = 300

	reqCtx := x402http.HTTPRequestContext{
		Adapter: &fakeAdapter{url: "https://api.example.com/weather"},
		Path:    "/weather",
	}

	first := server.EnrichDeclaration(nil, reqCtx).(Declaration)
	second := server.EnrichDeclaration(nil, reqCtx).(Declaration)

	if first.Nonce == "" || first.Nonce == second.Nonce {
		t.Errorf("nonce must be regenerated per 402: %q vs %q", first.Nonce, second.Nonce)
	}
	if len(first.Nonce) != 32 {
		t.Errorf("nonce must be 128-bit hex, got %q", first.Nonce)
	}
	if first.Domain != "api.example.com" {
		t.Errorf("domain should derive from resource host, got %q", first.Domain)
	}
	if first.ExpirationTime == "" {
		t.Error("expirationTime expected when ExpirationSeconds is set")
	}
	if len(first.SupportedChains) != 2 {
		t.Fatalf("expected two supported chains, got %+v", first.SupportedChains)
	}
	if first.SupportedChains[0].SignatureScheme != SchemeEIP191 ||
		first.SupportedChains[1].SignatureScheme != SchemeEd25519 {
		t.Errorf("signature schemes should follow namespaces: %+v", first.SupportedChains)
	}

	if _, err := time.Parse(time.RFC3339, first.IssuedAt); err != nil {
		t.Errorf("issuedAt not RFC3339: %v", err)
	}
}

func TestEnrichDeclarationNonExpiring(t *testing.T) {
	server := newTestServer(t, NewInMemoryStorage())

	decl := server.EnrichDeclaration(nil, nil).(Declaration)
	if decl.ExpirationTime != "" {
		t.Errorf("expirationTime must be omitted without ExpirationSeconds, got %q", decl.ExpirationTime)
	}
}

func TestRecordSettlement(t *testing.T) {
	storage := NewInMemoryStorage()
	server := newTestServer(t, storage)

	payloadBytes := []byte(`{
		"x402Version": 2,
		"payload": {},
		"accepted": {"scheme": "exact", "network": "eip155:8453", "asset": "0x", "amount": "1", "payTo": "0x", "maxTimeoutSeconds": 60},
		"resource": {"url": "https://api.example.com/weather", "description": "", "mimeType": ""}
	}`)

	err := server.recordSettlement(x402.SettleResultContext{
		SettleContext: x402.SettleContext{Ctx: context.Background(), PayloadBytes: payloadBytes},
		Result: x402.SettleResponse{
			Success: true,
			Payer:   "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B",
			Network: "eip155:8453",
		},
	})
	if err != nil {
		t.Fatalf("recordSettlement: %v", err)
	}

	paid, err := storage.HasPaid(context.Background(), "/weather", "0xab5801a7d398351b8be11c439e05c5b3259aec9b")
	if err != nil || !paid {
		t.Fatalf("payer not recorded: paid=%v err=%v", paid, err)
	}
}
