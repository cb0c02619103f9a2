package bazaar

import (
	"encoding/json"
	"testing"
)

func sampleQueryInfo() DiscoveryInfo {
	return DiscoveryInfo{
		Input: QueryInput{
			Type:   "http",
			Method: MethodGet,
			QueryParams: map[string]interface{}{
				"city": "string",
			},
		},
		Output: &OutputInfo{
			Type:    "json",
			Example: map[string]interface{}{"temperature": 20},
		},
	}
}

func TestMethodClassification(t *testing.T) {
	for _, method := range []string{"GET", "get", "HEAD", "DELETE"} {
		if !IsQueryMethod(method) {
			t.Fatalf("%s should be a query method", method)
		}
		if IsBodyMethod(method) {
			t.Fatalf("%s should not be a body method", method)
		}
	}
	for _, method := range []string{"POST", "put", "PATCH"} {
		if !IsBodyMethod(method) {
			t.Fatalf("%s should be a body method", method)
		}
		if IsQueryMethod(method) {
			t.Fatalf("%s should not be a query method", method)
		}
	}
	if IsQueryMethod("CONNECT") || IsBodyMethod("CONNECT") {
		t.Fatal("CONNECT is neither")
	}
}

func TestDeclareDiscoveryExtension(t *testing.T) {
	extension, err := DeclareDiscoveryExtension(sampleQueryInfo())
	if err != nil {
		t.Fatal(err)
	}
	if extension.Schema == nil {
		t.Fatal("declaration must carry the schema")
	}

	if _, err := DeclareDiscoveryExtension(DiscoveryInfo{}); err == nil {
		t.Fatal("missing input must be rejected")
	}
	if _, err := DeclareDiscoveryExtension(DiscoveryInfo{Input: "not a struct"}); err == nil {
		t.Fatal("untyped input must be rejected")
	}
}

func TestDiscoveryInfoUnmarshalDiscriminator(t *testing.T) {
	queryJSON := []byte(`{"input":{"type":"http","method":"GET","queryParams":{"q":"string"}}}`)
	var info DiscoveryInfo
	if err := json.Unmarshal(queryJSON, &info); err != nil {
		t.Fatal(err)
	}
	input, ok := info.Input.(QueryInput)
	if !ok {
		t.Fatalf("expected QueryInput, got %T", info.Input)
	}
	if input.Method != MethodGet {
		t.Fatalf("method = %s", input.Method)
	}

	bodyJSON := []byte(`{"input":{"type":"http","method":"POST","bodyType":"json","body":{"name":"string"}}}`)
	if err := json.Unmarshal(bodyJSON, &info); err != nil {
		t.Fatal(err)
	}
	body, ok := info.Input.(BodyInput)
	if !ok {
		t.Fatalf("expected BodyInput, got %T", info.Input)
	}
	if body.BodyType != "json" {
		t.Fatalf("bodyType = %s", body.BodyType)
	}

	if err := json.Unmarshal([]byte(`{"input":{"method":"TRACE"}}`), &info); err == nil {
		t.Fatal("unsupported method must fail")
	}
	if err := json.Unmarshal([]byte(`{}`), &info); err == nil {
		t.Fatal("missing input must fail")
	}
}

func TestValidateDiscoveryExtension(t *testing.T) {
	extension, err := DeclareDiscoveryExtension(sampleQueryInfo())
	if err != nil {
		t.Fatal(err)
	}
	if result := ValidateDiscoveryExtension(extension); !result.Valid {
		t.Fatalf("declared extension must validate: %v", result.Errors)
	}

	// Break the schema contract: input.type is required.
	broken := extension
	broken.Info = DiscoveryInfo{Input: map[string]interface{}{"method": "GET"}}
	if result := ValidateDiscoveryExtension(broken); result.Valid {
		t.Fatal("missing input.type must fail validation")
	}
}

type fakeTransport struct{}

func (fakeTransport) TransportMethod() string { return "POST" }

func TestEnrichDeclarationSetsMethod(t *testing.T) {
	extension, err := DeclareDiscoveryExtension(DiscoveryInfo{
		Input: BodyInput{Type: "http", BodyType: "json"},
	})
	if err != nil {
		t.Fatal(err)
	}

	enriched := BazaarResourceServerExtension.EnrichDeclaration(extension, fakeTransport{})
	result, ok := enriched.(DiscoveryExtension)
	if !ok {
		t.Fatalf("expected DiscoveryExtension, got %T", enriched)
	}

	input, ok := result.Info.Input.(BodyInput)
	if !ok {
		t.Fatalf("expected BodyInput, got %T", result.Info.Input)
	}
	if input.Method != "POST" {
		t.Fatalf("method = %s", input.Method)
	}

	// After enrichment the schema requires the method field.
	props := result.Schema["properties"].(map[string]interface{})
	inputSchema := props["input"].(map[string]interface{})
	required := inputSchema["required"].([]string)
	found := false
	for _, r := range required {
		if r == "method" {
			found = true
		}
	}
	if !found {
		t.Fatal("schema must require method after enrichment")
	}
}

func TestEnrichDeclarationPassesThroughUnknownTypes(t *testing.T) {
	declaration := map[string]interface{}{"info": "opaque"}
	if got := BazaarResourceServerExtension.EnrichDeclaration(declaration, fakeTransport{}); got == nil {
		t.Fatal("unknown declaration must pass through")
	}

	extension, _ := DeclareDiscoveryExtension(sampleQueryInfo())
	got := BazaarResourceServerExtension.EnrichDeclaration(extension, "no transport context")
	if _, ok := got.(DiscoveryExtension); !ok {
		t.Fatalf("declaration must pass through untouched, got %T", got)
	}
}

func TestExtractDiscoveryInfoV2(t *testing.T) {
	extension, err := DeclareDiscoveryExtension(sampleQueryInfo())
	if err != nil {
		t.Fatal(err)
	}
	extJSON, err := json.Marshal(extension)
	if err != nil {
		t.Fatal(err)
	}

	payloadBytes := []byte(`{
		"x402Version": 2,
		"payload": {"signature": "0xabc"},
		"accepted": {"scheme": "exact", "network": "eip155:8453"},
		"resource": {"url": "https://api.example.com/weather"},
		"extensions": {"bazaar": ` + string(extJSON) + `}
	}`)
	requirementsBytes := []byte(`{"scheme":"exact","network":"eip155:8453"}`)

	discovered, err := ExtractDiscoveryInfo(payloadBytes, requirementsBytes, true)
	if err != nil {
		t.Fatal(err)
	}
	if discovered == nil {
		t.Fatal("expected discovery info")
	}
	if discovered.ResourceURL != "https://api.example.com/weather" {
		t.Fatalf("resource = %s", discovered.ResourceURL)
	}
	if discovered.Method != "GET" {
		t.Fatalf("method = %s", discovered.Method)
	}
	if discovered.X402Version != 2 {
		t.Fatalf("version = %d", discovered.X402Version)
	}
}

func TestExtractDiscoveryInfoAbsent(t *testing.T) {
	payloadBytes := []byte(`{"x402Version":2,"payload":{},"accepted":{"scheme":"exact","network":"eip155:8453"}}`)
	discovered, err := ExtractDiscoveryInfo(payloadBytes, []byte(`{}`), true)
	if err != nil {
		t.Fatal(err)
	}
	if discovered != nil {
		t.Fatal("no extension means no discovery, not an error")
	}
}

func TestValidateAndExtract(t *testing.T) {
	extension, err := DeclareDiscoveryExtension(sampleQueryInfo())
	if err != nil {
		t.Fatal(err)
	}
	result := ValidateAndExtract(extension)
	if !result.Valid {
		t.Fatalf("expected valid: %v", result.Errors)
	}
	if result.Info == nil {
		t.Fatal("expected info")
	}
}
