package paymentidentifier

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	x402 "github.com/x402/x402-go"
)

// GeneratePaymentID returns prefix + a UUID v4 stripped of hyphens, e.g.
// "pay_7d5d747be160e280504c099d984bcfe0". An empty prefix defaults to
// "pay_".
func GeneratePaymentID(prefix string) string {
	if prefix == "" {
		prefix = "pay_"
	}
	return prefix + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// PayloadFingerprint hashes a payload deterministically so two payments
// reusing an ID can be told apart: same fingerprint means a retry, a
// different one means a conflict.
func PayloadFingerprint(payload x402.PaymentPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// IsValidPaymentID reports whether an ID is 16-128 characters of
// alphanumerics, hyphens, and underscores.
func IsValidPaymentID(id string) bool {
	if len(id) < PAYMENT_ID_MIN_LENGTH || len(id) > PAYMENT_ID_MAX_LENGTH {
		return false
	}
	return PAYMENT_ID_PATTERN.MatchString(id)
}
