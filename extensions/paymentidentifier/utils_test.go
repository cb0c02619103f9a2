package paymentidentifier

import (
	"strings"
	"testing"

	x402 "github.com/x402/x402-go"
)

func TestGeneratePaymentID(t *testing.T) {
	id := GeneratePaymentID("")
	if !strings.HasPrefix(id, "pay_") {
		t.Fatalf("default prefix missing: %s", id)
	}
	if len(id) != len("pay_")+32 {
		t.Fatalf("unexpected length: %s", id)
	}
	if !IsValidPaymentID(id) {
		t.Fatalf("generated ID must validate: %s", id)
	}

	custom := GeneratePaymentID("order_")
	if !strings.HasPrefix(custom, "order_") {
		t.Fatalf("custom prefix missing: %s", custom)
	}

	if GeneratePaymentID("") == GeneratePaymentID("") {
		t.Fatal("IDs must be unique")
	}
}

func TestIsValidPaymentID(t *testing.T) {
	cases := []struct {
		id   string
		want bool
	}{
		{"pay_7d5d747be160e280504c099d984bcfe0", true},
		{"order-123_ABC-def-456", true},
		{strings.Repeat("a", 16), true},
		{strings.Repeat("a", 128), true},
		{strings.Repeat("a", 15), false},  // too short
		{strings.Repeat("a", 129), false}, // too long
		{"pay_with spaces!!", false},
		{"pay_Ünicode_chars_here", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsValidPaymentID(tc.id); got != tc.want {
			t.Fatalf("IsValidPaymentID(%q) = %v, want %v", tc.id, got, tc.want)
		}
	}
}

func TestPayloadFingerprint(t *testing.T) {
	payload := x402.PaymentPayload{
		X402Version: 2,
		Payload:     map[string]interface{}{"signature": "0xabc"},
	}

	a, err := PayloadFingerprint(payload)
	if err != nil {
		t.Fatal(err)
	}
	b, err := PayloadFingerprint(payload)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("fingerprint must be deterministic")
	}
	if len(a) != 64 {
		t.Fatalf("expected sha256 hex, got %d chars", len(a))
	}

	payload.Payload["signature"] = "0xdef"
	c, err := PayloadFingerprint(payload)
	if err != nil {
		t.Fatal(err)
	}
	if a == c {
		t.Fatal("different payloads must differ")
	}
}

func TestDeclareAndDetectExtension(t *testing.T) {
	declared := DeclarePaymentIdentifierExtension(true)
	ext, ok := declared[PAYMENT_IDENTIFIER]
	if !ok {
		t.Fatal("declaration missing extension key")
	}
	if !IsPaymentIdentifierExtension(ext) {
		t.Fatal("declared extension must be detected")
	}

	if IsPaymentIdentifierExtension(nil) {
		t.Fatal("nil is not an extension")
	}
	if IsPaymentIdentifierExtension(map[string]interface{}{"info": map[string]interface{}{}}) {
		t.Fatal("info without required must not be detected")
	}
}

func TestValidatePaymentIdentifier(t *testing.T) {
	valid := map[string]interface{}{
		"info": map[string]interface{}{
			"required": true,
			"id":       "pay_7d5d747be160e280504c099d984bcfe0",
		},
	}
	if result := ValidatePaymentIdentifier(valid); !result.Valid {
		t.Fatalf("expected valid, got %v", result.Errors)
	}

	badID := map[string]interface{}{
		"info": map[string]interface{}{
			"required": true,
			"id":       "short",
		},
	}
	if result := ValidatePaymentIdentifier(badID); result.Valid {
		t.Fatal("short ID must be rejected")
	}

	if result := ValidatePaymentIdentifier(nil); result.Valid {
		t.Fatal("nil must be rejected")
	}
}

func TestExtractPaymentIdentifier(t *testing.T) {
	id := GeneratePaymentID("")
	payload := x402.PaymentPayload{
		X402Version: 2,
		Extensions: map[string]interface{}{
			PAYMENT_IDENTIFIER: map[string]interface{}{
				"info": map[string]interface{}{"required": true, "id": id},
			},
		},
	}

	got, err := ExtractPaymentIdentifier(payload, true)
	if err != nil {
		t.Fatal(err)
	}
	if got != id {
		t.Fatalf("extracted %s, want %s", got, id)
	}

	// Absent extension: empty, no error.
	got, err = ExtractPaymentIdentifier(x402.PaymentPayload{X402Version: 2}, true)
	if err != nil || got != "" {
		t.Fatalf("expected empty, got %q, %v", got, err)
	}

	// Invalid ID with validation on.
	payload.Extensions[PAYMENT_IDENTIFIER] = map[string]interface{}{
		"info": map[string]interface{}{"required": true, "id": "bad id!"},
	}
	if _, err := ExtractPaymentIdentifier(payload, true); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestExtractPaymentIdentifierFromBytes(t *testing.T) {
	id := GeneratePaymentID("")
	v2 := []byte(`{"x402Version":2,"payload":{},"extensions":{"payment-identifier":{"info":{"required":true,"id":"` + id + `"}}}}`)
	got, err := ExtractPaymentIdentifierFromBytes(v2, true)
	if err != nil {
		t.Fatal(err)
	}
	if got != id {
		t.Fatalf("extracted %s", got)
	}

	// V1 payloads have no extensions.
	v1 := []byte(`{"x402Version":1,"scheme":"exact","network":"base","payload":{}}`)
	got, err = ExtractPaymentIdentifierFromBytes(v1, true)
	if err != nil || got != "" {
		t.Fatalf("v1 should yield empty, got %q, %v", got, err)
	}

	if _, err := ExtractPaymentIdentifierFromBytes([]byte("{"), true); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}
