package siwx

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/x402/x402-go/mechanisms/svm"
)

func TestBuildMessageEthereum(t *testing.T) {
	p := Payload{
		Domain:   "api.example.com",
		Address:  "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B",
		URI:      "https://api.example.com/weather",
		Version:  "1",
		ChainID:  "eip155:8453",
		Nonce:    "d6a0b1c2e3f4a5b6c7d8e9f0a1b2c3d4",
		IssuedAt: "2026-08-26T12:00:00Z",
	}

	expected := "api.example.com wants you to sign in with your Ethereum account:\n" +
		"0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B\n" +
		"\n" +
		"URI: https://api.example.com/weather\n" +
		"Version: 1\n" +
		"Chain ID: 8453\n" +
		"Nonce: d6a0b1c2e3f4a5b6c7d8e9f0a1b2c3d4\n" +
		"Issued At: 2026-08-26T12:00:00Z"

	if got := BuildMessage(p); got != expected {
		t.Errorf("message mismatch:\ngot:\n%s\nwant:\n%s", got, expected)
	}
}

func TestBuildMessageWithStatementAndOptionalFields(t *testing.T) {
	p := Payload{
		Domain:         "api.example.com",
		Address:        "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B",
		Statement:      "Sign in to access paid content.",
		URI:            "https://api.example.com/weather",
		Version:        "1",
		ChainID:        "eip155:8453",
		Nonce:          "n1",
		IssuedAt:       "2026-08-26T12:00:00Z",
		ExpirationTime: "2026-08-26T12:05:00Z",
		NotBefore:      "2026-08-26T11:59:00Z",
		RequestID:      "req-1",
		Resources:      []string{"https://api.example.com/weather", "https://api.example.com/forecast"},
	}

	message := BuildMessage(p)

	for _, want := range []string{
		"0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B\n\nSign in to access paid content.\n\nURI:",
		"Expiration Time: 2026-08-26T12:05:00Z",
		"Not Before: 2026-08-26T11:59:00Z",
		"Request ID: req-1",
		"Resources:\n- https://api.example.com/weather\n- https://api.example.com/forecast",
	} {
		if !strings.Contains(message, want) {
			t.Errorf("message missing %q:\n%s", want, message)
		}
	}
}

func TestBuildMessageSolana(t *testing.T) {
	p := Payload{
		Domain:   "api.example.com",
		Address:  "9aE476sH92Vz7DMPyq5WLPkrKWivxeuTKEFKd2sZZcde",
		URI:      "https://api.example.com/weather",
		Version:  "1",
		ChainID:  svm.SolanaDevnetCAIP2,
		Nonce:    "n1",
		IssuedAt: "2026-08-26T12:00:00Z",
	}

	message := BuildMessage(p)

	if !strings.Contains(message, "wants you to sign in with your Solana account:") {
		t.Errorf("missing Solana preamble:\n%s", message)
	}
	if !strings.Contains(message, "Chain ID: devnet") {
		t.Errorf("expected devnet alias in Chain ID line:\n%s", message)
	}
}

func TestBuildMessageSolanaUnknownGenesis(t *testing.T) {
	p := Payload{
		Domain:   "api.example.com",
		Address:  "9aE476sH92Vz7DMPyq5WLPkrKWivxeuTKEFKd2sZZcde",
		URI:      "https://api.example.com/weather",
		Version:  "1",
		ChainID:  "solana:AbCdEf1234567890",
		Nonce:    "n1",
		IssuedAt: "2026-08-26T12:00:00Z",
	}

	if !strings.Contains(BuildMessage(p), "Chain ID: AbCdEf1234567890") {
		t.Error("unknown genesis reference should appear verbatim")
	}
}

func TestPayloadJSONRoundTrip(t *testing.T) {
	original := Payload{
		Domain:          "api.example.com",
		Address:         "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B",
		URI:             "https://api.example.com/weather",
		Version:         "1",
		ChainID:         "eip155:8453",
		Nonce:           "n1",
		IssuedAt:        "2026-08-26T12:00:00Z",
		ExpirationTime:  "2026-08-26T12:05:00Z",
		SignatureScheme: SchemeEIP191,
		Signature:       "0xdeadbeef",
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Payload
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Nonce != original.Nonce {
		t.Errorf("round trip changed nonce: %q", decoded.Nonce)
	}
	if decoded.ExpirationTime != original.ExpirationTime || decoded.Signature != original.Signature {
		t.Errorf("round trip mismatch: %+v", decoded)
	}

	header, err := EncodeHeader(original)
	if err != nil {
		t.Fatalf("encode header: %v", err)
	}
	fromHeader, err := DecodeHeader(header)
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if fromHeader.Address != original.Address || fromHeader.ChainID != original.ChainID {
		t.Errorf("header round trip mismatch: %+v", fromHeader)
	}
}

func TestPayloadValidate(t *testing.T) {
	valid := Payload{
		Address:   "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B",
		Version:   "1",
		ChainID:   "eip155:8453",
		Nonce:     "n1",
		Signature: "0xdeadbeef",
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid payload rejected: %v", err)
	}

	cases := map[string]Payload{
		"empty nonce":       {Address: "0xa", Version: "1", ChainID: "eip155:8453", Signature: "0x1"},
		"bad version":       {Address: "0xa", Version: "2", ChainID: "eip155:8453", Nonce: "n", Signature: "0x1"},
		"bad namespace":     {Address: "0xa", Version: "1", ChainID: "cosmos:hub-4", Nonce: "n", Signature: "0x1"},
		"missing address":   {Version: "1", ChainID: "eip155:8453", Nonce: "n", Signature: "0x1"},
		"missing signature": {Address: "0xa", Version: "1", ChainID: "eip155:8453", Nonce: "n"},
	}
	for name, p := range cases {
		if err := p.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}
