package siwx

import (
	"context"
	"fmt"
	"strings"
)

// Storage is the persistence the server-side extension needs: which
// addresses have paid for which resource paths. Implementations must be
// safe for concurrent use.
//
// Replay defense is optional: a storage that also implements both
// NonceChecker and NonceRecorder gets used-nonce tracking. Implementing
// only one of the pair is a configuration error rejected by NewServerSIWX.
type Storage interface {
	// HasPaid reports whether the address has previously paid for the
	// resource path.
	HasPaid(ctx context.Context, resource, address string) (bool, error)

	// RecordPayment marks the address as having paid for the resource path.
	RecordPayment(ctx context.Context, resource, address string) error
}

// NonceChecker is the read half of optional nonce tracking.
type NonceChecker interface {
	HasUsedNonce(ctx context.Context, nonce string) (bool, error)
}

// NonceRecorder is the write half of optional nonce tracking. The TTL must
// be honored: expired nonces may be reported unused again.
type NonceRecorder interface {
	RecordNonce(ctx context.Context, nonce string) error
}

// nonceSupport resolves the optional nonce capability of a storage.
// Exactly one half of the pair present is an error.
func nonceSupport(storage Storage) (NonceChecker, NonceRecorder, error) {
	checker, hasChecker := storage.(NonceChecker)
	recorder, hasRecorder := storage.(NonceRecorder)

	if hasChecker != hasRecorder {
		return nil, nil, fmt.Errorf("storage must implement both HasUsedNonce and RecordNonce or neither")
	}
	if !hasChecker {
		return nil, nil, nil
	}
	return checker, recorder, nil
}

// normalizeAddress canonicalizes an address for storage keys: lowercase
// for eip155 (hex addresses are case insensitive), verbatim otherwise
// (Base58 is case sensitive).
func normalizeAddress(chainID, address string) string {
	if strings.HasPrefix(chainID, "eip155:") {
		return strings.ToLower(address)
	}
	return address
}
