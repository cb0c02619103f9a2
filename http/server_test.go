package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/x402/x402-go"
)

// stubFacilitator answers for exact/eip155:8453 with configurable results.
type stubFacilitator struct {
	verifyResponse *x402.VerifyResponse
	settleResponse *x402.SettleResponse
	verifyCalls    int
	settleCalls    int
}

func (f *stubFacilitator) Verify(ctx context.Context, payloadBytes, requirementsBytes []byte) (*x402.VerifyResponse, error) {
	f.verifyCalls++
	if f.verifyResponse != nil {
		return f.verifyResponse, nil
	}
	return &x402.VerifyResponse{IsValid: true, Payer: "0xpayer"}, nil
}

func (f *stubFacilitator) Settle(ctx context.Context, payloadBytes, requirementsBytes []byte) (*x402.SettleResponse, error) {
	f.settleCalls++
	if f.settleResponse != nil {
		return f.settleResponse, nil
	}
	return &x402.SettleResponse{
		Success:     true,
		Transaction: "0xtx",
		Network:     "eip155:8453",
		Payer:       "0xpayer",
	}, nil
}

func (f *stubFacilitator) GetSupported(ctx context.Context) (x402.SupportedResponse, error) {
	return x402.SupportedResponse{
		Kinds: []x402.SupportedKind{
			{X402Version: x402.ProtocolVersion, Scheme: "exact", Network: "eip155:8453"},
		},
	}, nil
}

// stubSchemeServer passes prices through as base units.
type stubSchemeServer struct{}

func (s *stubSchemeServer) Scheme() string { return "exact" }

func (s *stubSchemeServer) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
	return x402.AssetAmount{
		Asset:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Amount: "1000",
	}, nil
}

func (s *stubSchemeServer) EnhancePaymentRequirements(ctx context.Context, requirements x402.PaymentRequirements, supportedKind x402.SupportedKind, extensionKeys []string) (x402.PaymentRequirements, error) {
	return requirements, nil
}

func newTestHTTPServer(t *testing.T, facilitator *stubFacilitator) *X402HTTPResourceServer {
	t.Helper()
	routes := RoutesConfig{
		"GET /weather": {
			Accepts: PaymentOptions{{
				Scheme:  "exact",
				PayTo:   "0x0000000000000000000000000000000000000001",
				Price:   "$0.001",
				Network: "eip155:8453",
			}},
			Description: "Weather data",
			MimeType:    "application/json",
		},
	}

	server := Newx402HTTPResourceServer(routes,
		x402.WithFacilitatorClient(facilitator),
		x402.WithSchemeServer("eip155:8453", &stubSchemeServer{}),
	)
	require.NoError(t, server.Initialize(context.Background()))
	return server
}

func weatherRequest(headers map[string]string) HTTPRequestContext {
	if headers == nil {
		headers = map[string]string{}
	}
	return HTTPRequestContext{
		Adapter: &stubAdapter{
			headers: headers,
			url:     "https://api.example.com/weather",
			path:    "/weather",
		},
		Path:   "/weather",
		Method: "GET",
	}
}

type stubAdapter struct {
	headers   map[string]string
	url       string
	path      string
	accept    string
	userAgent string
}

func (a *stubAdapter) GetHeader(name string) string { return a.headers[name] }
func (a *stubAdapter) GetMethod() string            { return "GET" }
func (a *stubAdapter) GetPath() string              { return a.path }
func (a *stubAdapter) GetURL() string               { return a.url }
func (a *stubAdapter) GetAcceptHeader() string      { return a.accept }
func (a *stubAdapter) GetUserAgent() string         { return a.userAgent }

// decode402 pulls the PaymentRequired out of a 402 response's header.
func decode402(t *testing.T, response *HTTPResponseInstructions) x402.PaymentRequired {
	t.Helper()
	header := response.Headers["PAYMENT-REQUIRED"]
	require.NotEmpty(t, header, "402 response must carry PAYMENT-REQUIRED")
	data, err := base64.StdEncoding.DecodeString(header)
	require.NoError(t, err)
	var required x402.PaymentRequired
	require.NoError(t, json.Unmarshal(data, &required))
	return required
}

// paymentHeaderFor builds a v2 payment header whose accepted block deep
// equals the advertised requirement.
func paymentHeaderFor(t *testing.T, required x402.PaymentRequired) string {
	t.Helper()
	require.NotEmpty(t, required.Accepts)
	payload := x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Payload:     map[string]interface{}{"signature": "0xabc", "authorization": map[string]interface{}{}},
		Accepted:    required.Accepts[0],
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(data)
}

func TestProcessHTTPRequestUnprotectedRoute(t *testing.T) {
	server := newTestHTTPServer(t, &stubFacilitator{})

	reqCtx := HTTPRequestContext{
		Adapter: &stubAdapter{url: "https://api.example.com/public", path: "/public"},
		Path:    "/public",
		Method:  "GET",
	}

	result := server.ProcessHTTPRequest(context.Background(), reqCtx, nil)
	assert.Equal(t, ResultNoPaymentRequired, result.Type)
}

func TestProcessHTTPRequestWithoutPaymentReturns402(t *testing.T) {
	server := newTestHTTPServer(t, &stubFacilitator{})

	result := server.ProcessHTTPRequest(context.Background(), weatherRequest(nil), nil)
	require.Equal(t, ResultPaymentError, result.Type)
	require.NotNil(t, result.Response)
	assert.Equal(t, 402, result.Response.Status)

	required := decode402(t, result.Response)
	assert.Equal(t, x402.ProtocolVersion, required.X402Version)
	require.Len(t, required.Accepts, 1)
	assert.Equal(t, "exact", required.Accepts[0].Scheme)
	assert.Equal(t, x402.Network("eip155:8453"), required.Accepts[0].Network)
	assert.Equal(t, "1000", required.Accepts[0].Amount)
	require.NotNil(t, required.Resource)
	assert.Equal(t, "https://api.example.com/weather", required.Resource.URL)
}

func TestProcessHTTPRequestVerifiedThenSettled(t *testing.T) {
	facilitator := &stubFacilitator{}
	server := newTestHTTPServer(t, facilitator)
	ctx := context.Background()

	unpaid := server.ProcessHTTPRequest(ctx, weatherRequest(nil), nil)
	required := decode402(t, unpaid.Response)

	header := paymentHeaderFor(t, required)
	result := server.ProcessHTTPRequest(ctx, weatherRequest(map[string]string{"PAYMENT-SIGNATURE": header}), nil)

	require.Equal(t, ResultPaymentVerified, result.Type)
	assert.Equal(t, 1, facilitator.verifyCalls)
	assert.Zero(t, facilitator.settleCalls, "ProcessHTTPRequest must never settle")
	require.NotEmpty(t, result.PaymentPayload)
	require.NotEmpty(t, result.MatchedRequirement)

	settle := server.ProcessSettlement(ctx, result.PaymentPayload, result.MatchedRequirement, result.DeclaredExtensions)
	require.True(t, settle.Success)
	assert.Equal(t, 1, facilitator.settleCalls)
	assert.Equal(t, "0xtx", settle.Transaction)
	assert.Equal(t, "0xpayer", settle.Payer)
	assert.NotEmpty(t, settle.Headers["PAYMENT-RESPONSE"])
}

func TestProcessHTTPRequestMismatchedPaymentRejected(t *testing.T) {
	server := newTestHTTPServer(t, &stubFacilitator{})
	ctx := context.Background()

	unpaid := server.ProcessHTTPRequest(ctx, weatherRequest(nil), nil)
	required := decode402(t, unpaid.Response)

	// Tamper with the accepted amount: v2 requires deep equality.
	required.Accepts[0].Amount = "999999"
	header := paymentHeaderFor(t, required)

	result := server.ProcessHTTPRequest(ctx, weatherRequest(map[string]string{"PAYMENT-SIGNATURE": header}), nil)
	require.Equal(t, ResultPaymentError, result.Type)
	assert.Equal(t, 402, result.Response.Status)
}

func TestProcessHTTPRequestInvalidPaymentRejected(t *testing.T) {
	facilitator := &stubFacilitator{
		verifyResponse: &x402.VerifyResponse{IsValid: false, InvalidReason: "insufficient_funds"},
	}
	server := newTestHTTPServer(t, facilitator)
	ctx := context.Background()

	unpaid := server.ProcessHTTPRequest(ctx, weatherRequest(nil), nil)
	required := decode402(t, unpaid.Response)
	header := paymentHeaderFor(t, required)

	result := server.ProcessHTTPRequest(ctx, weatherRequest(map[string]string{"PAYMENT-SIGNATURE": header}), nil)
	require.Equal(t, ResultPaymentError, result.Type)
	assert.Equal(t, 402, result.Response.Status)

	refreshed := decode402(t, result.Response)
	assert.Equal(t, "insufficient_funds", refreshed.Error)
}

func TestProcessHTTPRequestMalformedHeader(t *testing.T) {
	server := newTestHTTPServer(t, &stubFacilitator{})

	result := server.ProcessHTTPRequest(context.Background(),
		weatherRequest(map[string]string{"PAYMENT-SIGNATURE": "!!!not-base64!!!"}), nil)
	require.Equal(t, ResultPaymentError, result.Type)
	assert.Equal(t, 400, result.Response.Status)
}

func TestProcessHTTPRequestProtectedHookGrantsAccess(t *testing.T) {
	server := newTestHTTPServer(t, &stubFacilitator{})
	server.OnProtectedRequest(func(ctx context.Context, reqCtx HTTPRequestContext) (*ProtectedRequestResult, error) {
		return &ProtectedRequestResult{GrantAccess: true}, nil
	})

	result := server.ProcessHTTPRequest(context.Background(), weatherRequest(nil), nil)
	assert.Equal(t, ResultNoPaymentRequired, result.Type)
}

func TestProcessHTTPRequestProtectedHookAborts(t *testing.T) {
	server := newTestHTTPServer(t, &stubFacilitator{})
	server.OnProtectedRequest(func(ctx context.Context, reqCtx HTTPRequestContext) (*ProtectedRequestResult, error) {
		return &ProtectedRequestResult{Abort: true, Reason: "blocked"}, nil
	})

	result := server.ProcessHTTPRequest(context.Background(), weatherRequest(nil), nil)
	require.Equal(t, ResultPaymentError, result.Type)
	assert.Equal(t, 402, result.Response.Status)
}

func TestRouteMatching(t *testing.T) {
	routes := RoutesConfig{
		"/literal":        {Accepts: PaymentOptions{{Scheme: "exact"}}},
		"GET /api/*":      {Accepts: PaymentOptions{{Scheme: "exact"}}, Description: "single"},
		"GET /files/**":   {Accepts: PaymentOptions{{Scheme: "exact"}}, Description: "suffix"},
		"GET /api/v1/dog": {Accepts: PaymentOptions{{Scheme: "exact"}}, Description: "exact"},
	}
	compiled := compileRoutes(routes)

	cases := []struct {
		path, method, want string
		match              bool
	}{
		{"/literal", "POST", "", true},         // bare pattern matches any verb
		{"/api/v1/dog", "GET", "exact", true},  // literal beats glob prefixes
		{"/api/data", "GET", "single", true},   // one segment
		{"/files/a/b/c", "GET", "suffix", true},
		{"/api/a/b", "GET", "", false}, // single-segment glob, two segments
		{"/api/data", "DELETE", "", false},
		{"/other", "GET", "", false},
		{"/api//data/", "GET", "single", true},
		{"/literal?q=1#frag", "GET", "", true}, // query and fragment stripped
	}

	for _, tc := range cases {
		config := matchRoute(compiled, tc.path, tc.method)
		if tc.match {
			require.NotNil(t, config, "expected match for %s %s", tc.method, tc.path)
			if tc.want != "" {
				assert.Equal(t, tc.want, config.Description, "%s %s", tc.method, tc.path)
			}
		} else {
			assert.Nil(t, config, "expected no match for %s %s", tc.method, tc.path)
		}
	}
}

func TestValidateAndDecodePaymentHeader(t *testing.T) {
	valid := x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Payload:     map[string]interface{}{"signature": "0xabc"},
		Accepted:    x402.PaymentRequirements{Scheme: "exact", Network: "eip155:8453"},
	}
	data, err := json.Marshal(valid)
	require.NoError(t, err)

	decoded, err := ValidateAndDecodePaymentHeader(base64.StdEncoding.EncodeToString(data))
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(decoded))

	_, err = ValidateAndDecodePaymentHeader("")
	assert.Error(t, err)

	_, err = ValidateAndDecodePaymentHeader("not base64 !!!")
	assert.Error(t, err)

	// v2 payload missing the accepted block
	bad, _ := json.Marshal(map[string]interface{}{
		"x402Version": 2,
		"payload":     map[string]interface{}{},
	})
	_, err = ValidateAndDecodePaymentHeader(base64.StdEncoding.EncodeToString(bad))
	assert.Error(t, err)

	// v1 payload needs scheme and network at top level
	v1, _ := json.Marshal(map[string]interface{}{
		"x402Version": 1,
		"scheme":      "exact",
		"network":     "base",
		"payload":     map[string]interface{}{},
	})
	_, err = ValidateAndDecodePaymentHeader(base64.StdEncoding.EncodeToString(v1))
	assert.NoError(t, err)
}
