package siwx

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	x402 "github.com/x402/x402-go"
	x402http "github.com/x402/x402-go/http"
)

// DefaultMaxAge bounds how old a sign-in payload's issuedAt may be.
const DefaultMaxAge = 5 * time.Minute

// Event types emitted by the server-side hook. Every validation failure is
// an event and a silent fall-through to the payment flow, never a rejected
// request.
const (
	EventAccessGranted    = "siwx.access_granted"
	EventMalformedHeader  = "siwx.malformed_header"
	EventInvalidPayload   = "siwx.invalid_payload"
	EventDomainMismatch   = "siwx.domain_mismatch"
	EventURIMismatch      = "siwx.uri_mismatch"
	EventIssuedInFuture   = "siwx.issued_at_in_future"
	EventStale            = "siwx.stale"
	EventExpired          = "siwx.expired"
	EventNotYetValid      = "siwx.not_yet_valid"
	EventNonceReused      = "siwx.nonce_reused"
	EventSignatureInvalid = "siwx.signature_invalid"
	EventNotPaid          = "siwx.not_paid"
	EventStorageError     = "siwx.storage_error"
)

// Event describes one sign-in attempt outcome.
type Event struct {
	Type    string
	Path    string
	Address string
	Reason  string
}

// ServerConfig configures the server-side extension.
type ServerConfig struct {
	// Storage is required. If it implements NonceChecker and NonceRecorder
	// the hook enforces single-use nonces.
	Storage Storage

	// Domain overrides the challenge domain. Empty derives it from the
	// resource URL host on each 402.
	Domain string

	// Statement is the optional human-readable statement in the challenge.
	Statement string

	// Networks are the chains advertised in supportedChains. The signature
	// scheme per chain follows the namespace (eip155 → eip191,
	// solana → ed25519).
	Networks []x402.Network

	// ExpirationSeconds sets the challenge expirationTime. Zero means
	// non-expiring challenges (the field is omitted).
	ExpirationSeconds int

	// MaxAge bounds now − issuedAt on incoming payloads. Zero means
	// DefaultMaxAge.
	MaxAge time.Duration

	// OnEvent, when set, receives every sign-in attempt outcome in
	// addition to the structured log line.
	OnEvent func(Event)

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// ServerSIWX is the server side of the extension. It is a
// x402.ResourceServerExtension (declaration enrichment) plus the
// protected-request and settlement hooks that splice sign-in into the
// payment lifecycle. Attach wires all three into an HTTP resource server.
type ServerSIWX struct {
	config        ServerConfig
	storage       Storage
	nonceChecker  NonceChecker
	nonceRecorder NonceRecorder
	logger        *slog.Logger

	now func() time.Time
}

// NewServerSIWX validates the configuration and builds the server-side
// extension. A storage implementing only one of HasUsedNonce/RecordNonce
// is rejected.
func NewServerSIWX(config ServerConfig) (*ServerSIWX, error) {
	if config.Storage == nil {
		return nil, fmt.Errorf("siwx: storage is required")
	}

	checker, recorder, err := nonceSupport(config.Storage)
	if err != nil {
		return nil, fmt.Errorf("siwx: %w", err)
	}

	if config.MaxAge <= 0 {
		config.MaxAge = DefaultMaxAge
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ServerSIWX{
		config:        config,
		storage:       config.Storage,
		nonceChecker:  checker,
		nonceRecorder: recorder,
		logger:        logger,
		now:           time.Now,
	}, nil
}

// Attach wires the extension into an HTTP resource server: declaration
// enrichment on 402s, the sign-in check before payment, and payer
// recording after settlement.
func (s *ServerSIWX) Attach(server *x402http.X402HTTPResourceServer) {
	server.RegisterExtension(s)
	server.OnProtectedRequest(s.HandleProtectedRequest)
	server.OnAfterSettle(s.recordSettlement)
}

// Key implements x402.ResourceServerExtension.
func (s *ServerSIWX) Key() string { return SignInWithX }

// EnrichDeclaration implements x402.ResourceServerExtension: it rebuilds
// the time-based challenge fields (nonce, issuedAt, expirationTime) on
// every 402 and fills domain and supportedChains.
func (s *ServerSIWX) EnrichDeclaration(declaration interface{}, transportContext interface{}) interface{} {
	decl := declarationFrom(declaration)

	decl.Version = Version
	decl.Nonce = newNonce()
	now := s.now().UTC()
	decl.IssuedAt = now.Format(time.RFC3339)
	if s.config.ExpirationSeconds > 0 {
		decl.ExpirationTime = now.Add(time.Duration(s.config.ExpirationSeconds) * time.Second).Format(time.RFC3339)
	}

	if s.config.Domain != "" {
		decl.Domain = s.config.Domain
	} else if decl.Domain == "" {
		if reqCtx, ok := transportContext.(x402http.HTTPRequestContext); ok && reqCtx.Adapter != nil {
			if u, err := url.Parse(reqCtx.Adapter.GetURL()); err == nil {
				decl.Domain = u.Host
			}
		}
	}
	if s.config.Statement != "" && decl.Statement == "" {
		decl.Statement = s.config.Statement
	}

	if len(decl.SupportedChains) == 0 {
		for _, network := range s.config.Networks {
			scheme := SchemeEIP191
			if network.Namespace() == "solana" {
				scheme = SchemeEd25519
			}
			decl.SupportedChains = append(decl.SupportedChains, SupportedChain{
				ChainID:         string(network),
				SignatureScheme: scheme,
			})
		}
	}

	return decl
}

// HandleProtectedRequest is the OnProtectedRequest hook. When the request
// carries a valid SIGN-IN-WITH-X header from an address that has paid for
// the path before, it grants access; otherwise it returns nil and the
// payment flow proceeds.
func (s *ServerSIWX) HandleProtectedRequest(ctx context.Context, reqCtx x402http.HTTPRequestContext) (*x402http.ProtectedRequestResult, error) {
	if reqCtx.Adapter == nil {
		return nil, nil
	}
	header := reqCtx.Adapter.GetHeader(HeaderName)
	if header == "" {
		return nil, nil
	}

	payload, err := DecodeHeader(header)
	if err != nil {
		s.emit(Event{Type: EventMalformedHeader, Path: reqCtx.Path, Reason: err.Error()})
		return nil, nil
	}

	if event := s.validate(ctx, payload, reqCtx); event != nil {
		s.emit(*event)
		return nil, nil
	}

	address := normalizeAddress(payload.ChainID, payload.Address)
	paid, err := s.storage.HasPaid(ctx, reqCtx.Path, address)
	if err != nil {
		s.emit(Event{Type: EventStorageError, Path: reqCtx.Path, Address: payload.Address, Reason: err.Error()})
		return nil, nil
	}
	if !paid {
		s.emit(Event{Type: EventNotPaid, Path: reqCtx.Path, Address: payload.Address})
		return nil, nil
	}

	if s.nonceRecorder != nil {
		if err := s.nonceRecorder.RecordNonce(ctx, payload.Nonce); err != nil {
			s.emit(Event{Type: EventStorageError, Path: reqCtx.Path, Address: payload.Address, Reason: err.Error()})
			return nil, nil
		}
	}

	s.emit(Event{Type: EventAccessGranted, Path: reqCtx.Path, Address: payload.Address})
	return &x402http.ProtectedRequestResult{GrantAccess: true}, nil
}

// validate runs the ordered payload checks. A nil return means the payload
// passed; otherwise the event describing the first failure.
func (s *ServerSIWX) validate(ctx context.Context, payload Payload, reqCtx x402http.HTTPRequestContext) *Event {
	fail := func(eventType, reason string) *Event {
		return &Event{Type: eventType, Path: reqCtx.Path, Address: payload.Address, Reason: reason}
	}

	if err := payload.Validate(); err != nil {
		return fail(EventInvalidPayload, err.Error())
	}

	resource, err := url.Parse(reqCtx.Adapter.GetURL())
	if err != nil {
		return fail(EventInvalidPayload, fmt.Sprintf("unparseable resource url: %v", err))
	}
	if payload.Domain != resource.Host {
		return fail(EventDomainMismatch, fmt.Sprintf("payload domain %q, resource host %q", payload.Domain, resource.Host))
	}
	origin := resource.Scheme + "://" + resource.Host
	if len(payload.URI) < len(origin) || payload.URI[:len(origin)] != origin {
		return fail(EventURIMismatch, fmt.Sprintf("payload uri %q outside origin %q", payload.URI, origin))
	}

	now := s.now()
	issuedAt, err := time.Parse(time.RFC3339, payload.IssuedAt)
	if err != nil {
		return fail(EventInvalidPayload, fmt.Sprintf("unparseable issuedAt: %v", err))
	}
	if issuedAt.After(now) {
		return fail(EventIssuedInFuture, payload.IssuedAt)
	}
	if now.Sub(issuedAt) > s.config.MaxAge {
		return fail(EventStale, fmt.Sprintf("issued %s ago, max age %s", now.Sub(issuedAt), s.config.MaxAge))
	}

	if payload.ExpirationTime != "" {
		expiration, err := time.Parse(time.RFC3339, payload.ExpirationTime)
		if err != nil {
			return fail(EventInvalidPayload, fmt.Sprintf("unparseable expirationTime: %v", err))
		}
		if !expiration.After(now) {
			return fail(EventExpired, payload.ExpirationTime)
		}
	}
	if payload.NotBefore != "" {
		notBefore, err := time.Parse(time.RFC3339, payload.NotBefore)
		if err != nil {
			return fail(EventInvalidPayload, fmt.Sprintf("unparseable notBefore: %v", err))
		}
		if notBefore.After(now) {
			return fail(EventNotYetValid, payload.NotBefore)
		}
	}

	if s.nonceChecker != nil {
		used, err := s.nonceChecker.HasUsedNonce(ctx, payload.Nonce)
		if err != nil {
			return fail(EventStorageError, err.Error())
		}
		if used {
			return fail(EventNonceReused, payload.Nonce)
		}
	}

	if err := VerifyPayloadSignature(payload); err != nil {
		return fail(EventSignatureInvalid, err.Error())
	}
	return nil
}

// recordSettlement is the AfterSettle hook: a payer who just settled for a
// resource is remembered as having paid for its path.
func (s *ServerSIWX) recordSettlement(resultCtx x402.SettleResultContext) error {
	if resultCtx.Result.Payer == "" {
		return nil
	}

	var payload x402.PaymentPayload
	if err := json.Unmarshal(resultCtx.PayloadBytes, &payload); err != nil || payload.Resource == nil {
		return nil
	}
	resource, err := url.Parse(payload.Resource.URL)
	if err != nil || resource.Path == "" {
		return nil
	}

	address := normalizeAddress(string(resultCtx.Result.Network), resultCtx.Result.Payer)
	if err := s.storage.RecordPayment(resultCtx.Ctx, resource.Path, address); err != nil {
		s.logger.Warn("siwx payment record failed", "path", resource.Path, "error", err)
	}
	return nil
}

// emit logs the event and forwards it to the configured handler.
func (s *ServerSIWX) emit(event Event) {
	if event.Type == EventAccessGranted {
		s.logger.Info("siwx", "event", event.Type, "path", event.Path, "address", event.Address)
	} else {
		s.logger.Debug("siwx", "event", event.Type, "path", event.Path, "address", event.Address, "reason", event.Reason)
	}
	if s.config.OnEvent != nil {
		s.config.OnEvent(event)
	}
}

// DecodeHeader decodes a SIGN-IN-WITH-X header into a payload.
func DecodeHeader(header string) (Payload, error) {
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return Payload{}, fmt.Errorf("invalid base64: %w", err)
	}
	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return Payload{}, fmt.Errorf("invalid payload JSON: %w", err)
	}
	return payload, nil
}

// EncodeHeader encodes a payload into a SIGN-IN-WITH-X header value.
func EncodeHeader(payload Payload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// newNonce generates a 128-bit hex nonce.
func newNonce() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// declarationFrom coerces a route-declared extension value (a Declaration,
// a map, or anything truthy) into a Declaration.
func declarationFrom(declaration interface{}) Declaration {
	switch d := declaration.(type) {
	case Declaration:
		return d
	case *Declaration:
		if d != nil {
			return *d
		}
	case map[string]interface{}:
		data, err := json.Marshal(d)
		if err == nil {
			var decl Declaration
			if json.Unmarshal(data, &decl) == nil {
				return decl
			}
		}
	}
	return Declaration{}
}
