package eip2612gassponsor

import (
	"encoding/json"
	"testing"
)

func signedPermitInfo() map[string]interface{} {
	return map[string]interface{}{
		"from":      "0x857b06519E91e3A54538791bDbb0E22373e36b66",
		"asset":     "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		"spender":   "0x000000000022D473030F116dDEE9F6B43aC78BA3",
		"amount":    "115792089237316195423570985008687907853269984665640564039457584007913129639935",
		"nonce":     "0",
		"deadline":  "1740672154",
		"signature": "0x2d6a7588d6acca505cbf0d9a4a227e0c52c6c34008c8e8986a1283259764173608a2ce6496642e377d6da8dbbf5836e9bd15092f9ecab05ded3d6293af148b571c",
		"version":   "1",
	}
}

func validInfo() *Info {
	return &Info{
		From:      "0x857b06519E91e3A54538791bDbb0E22373e36b66",
		Asset:     "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Spender:   "0x000000000022D473030F116dDEE9F6B43aC78BA3",
		Amount:    "115792089237316195423570985008687907853269984665640564039457584007913129639935",
		Nonce:     "0",
		Deadline:  "1740672154",
		Signature: "0x2d6a7588d6acca505cbf0d9a4a227e0c52c6c340",
		Version:   "1",
	}
}

func TestExtractEip2612GasSponsoringInfo(t *testing.T) {
	t.Run("nil extensions", func(t *testing.T) {
		info, err := ExtractEip2612GasSponsoringInfo(nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if info != nil {
			t.Fatal("expected no info without extensions")
		}
	})

	t.Run("extension not declared", func(t *testing.T) {
		info, err := ExtractEip2612GasSponsoringInfo(map[string]interface{}{
			"otherExtension": map[string]interface{}{},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if info != nil {
			t.Fatal("expected no info when the extension is absent")
		}
	})

	t.Run("echoed server declaration is not a permit", func(t *testing.T) {
		// A client that cannot sign sends the declaration back unchanged.
		info, err := ExtractEip2612GasSponsoringInfo(DeclareEip2612GasSponsoringExtension())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if info != nil {
			t.Fatal("expected the server-only declaration to yield no info")
		}
	})

	t.Run("signed permit is extracted", func(t *testing.T) {
		extensions := map[string]interface{}{
			EIP2612GasSponsoring: map[string]interface{}{
				"info":   signedPermitInfo(),
				"schema": map[string]interface{}{},
			},
		}
		info, err := ExtractEip2612GasSponsoringInfo(extensions)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if info == nil {
			t.Fatal("expected the permit to be extracted")
		}
		if info.From != "0x857b06519E91e3A54538791bDbb0E22373e36b66" {
			t.Errorf("unexpected from: %s", info.From)
		}
		if info.Version != "1" {
			t.Errorf("unexpected version: %s", info.Version)
		}
	})
}

func TestExtractEip2612GasSponsoringInfoFromPayloadBytes(t *testing.T) {
	payloadBytes, err := json.Marshal(map[string]interface{}{
		"x402Version": 2,
		"extensions": map[string]interface{}{
			EIP2612GasSponsoring: map[string]interface{}{
				"info":   signedPermitInfo(),
				"schema": map[string]interface{}{},
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	info, err := ExtractEip2612GasSponsoringInfoFromPayloadBytes(payloadBytes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info == nil || info.Nonce != "0" {
		t.Fatalf("expected the permit from raw payload bytes, got %+v", info)
	}

	if _, err := ExtractEip2612GasSponsoringInfoFromPayloadBytes([]byte("not json")); err == nil {
		t.Fatal("expected malformed payload bytes to error")
	}
}

func TestValidateEip2612GasSponsoringInfo(t *testing.T) {
	if !ValidateEip2612GasSponsoringInfo(validInfo()) {
		t.Fatal("expected a well-formed permit to validate")
	}

	mutations := map[string]func(*Info){
		"bad from address":   func(i *Info) { i.From = "invalid" },
		"bad asset address":  func(i *Info) { i.Asset = "857b06519E91e3A54538791bDbb0E22373e36b66" },
		"non-numeric amount": func(i *Info) { i.Amount = "not-a-number" },
		"non-numeric nonce":  func(i *Info) { i.Nonce = "0x1" },
		"non-hex signature":  func(i *Info) { i.Signature = "zz" },
		"bad version":        func(i *Info) { i.Version = "v1" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			info := validInfo()
			mutate(info)
			if ValidateEip2612GasSponsoringInfo(info) {
				t.Fatal("expected validation to reject the permit")
			}
		})
	}
}

func TestDeclareEip2612GasSponsoringExtension(t *testing.T) {
	declaration := DeclareEip2612GasSponsoringExtension()

	raw, ok := declaration[EIP2612GasSponsoring]
	if !ok {
		t.Fatal("expected the declaration under the extension key")
	}
	ext, ok := raw.(Extension)
	if !ok {
		t.Fatalf("expected an Extension, got %T", raw)
	}
	serverInfo, ok := ext.Info.(ServerInfo)
	if !ok || serverInfo.Version != "1" {
		t.Errorf("expected server info version 1, got %+v", ext.Info)
	}

	required, ok := ext.Schema["required"].([]string)
	if !ok {
		t.Fatalf("expected a required list in the schema, got %T", ext.Schema["required"])
	}
	if len(required) != 8 {
		t.Errorf("expected all 8 permit fields to be required, got %d", len(required))
	}
}
