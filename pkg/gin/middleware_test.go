package gin

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/x402/x402-go"
	x402http "github.com/x402/x402-go/http"
)

type stubFacilitator struct {
	settleError string
	settleCalls int
}

func (f *stubFacilitator) Verify(ctx context.Context, payloadBytes, requirementsBytes []byte) (*x402.VerifyResponse, error) {
	return &x402.VerifyResponse{IsValid: true, Payer: "0xpayer"}, nil
}

func (f *stubFacilitator) Settle(ctx context.Context, payloadBytes, requirementsBytes []byte) (*x402.SettleResponse, error) {
	f.settleCalls++
	if f.settleError != "" {
		return &x402.SettleResponse{Success: false, ErrorReason: f.settleError}, nil
	}
	return &x402.SettleResponse{Success: true, Transaction: "0xtx", Network: "eip155:8453", Payer: "0xpayer"}, nil
}

func (f *stubFacilitator) GetSupported(ctx context.Context) (x402.SupportedResponse, error) {
	return x402.SupportedResponse{
		Kinds: []x402.SupportedKind{{X402Version: x402.ProtocolVersion, Scheme: "exact", Network: "eip155:8453"}},
	}, nil
}

type stubSchemeServer struct{}

func (s *stubSchemeServer) Scheme() string { return "exact" }

func (s *stubSchemeServer) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
	return x402.AssetAmount{Asset: "0xusdc", Amount: "1000"}, nil
}

func (s *stubSchemeServer) EnhancePaymentRequirements(ctx context.Context, requirements x402.PaymentRequirements, supportedKind x402.SupportedKind, extensionKeys []string) (x402.PaymentRequirements, error) {
	return requirements, nil
}

func newRouter(t *testing.T, facilitator *stubFacilitator) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	routes := x402http.RoutesConfig{
		"GET /weather": {
			Accepts: x402http.PaymentOptions{{
				Scheme:  "exact",
				PayTo:   "0x0000000000000000000000000000000000000001",
				Price:   "$0.001",
				Network: "eip155:8453",
			}},
		},
	}
	server := x402http.Newx402HTTPResourceServer(routes,
		x402.WithFacilitatorClient(facilitator),
		x402.WithSchemeServer("eip155:8453", &stubSchemeServer{}),
	)
	require.NoError(t, server.Initialize(context.Background()))

	router := gin.New()
	router.Use(PaymentMiddleware(server))
	router.GET("/public", func(c *gin.Context) { c.String(http.StatusOK, "open") })
	router.GET("/weather", func(c *gin.Context) { c.String(http.StatusOK, "sunny") })
	return router
}

func paymentHeaderFrom(t *testing.T, recorder *httptest.ResponseRecorder) string {
	t.Helper()
	raw := recorder.Header().Get("PAYMENT-REQUIRED")
	require.NotEmpty(t, raw)
	data, err := base64.StdEncoding.DecodeString(raw)
	require.NoError(t, err)
	var required x402.PaymentRequired
	require.NoError(t, json.Unmarshal(data, &required))
	require.NotEmpty(t, required.Accepts)

	payload := x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Payload:     map[string]interface{}{"signature": "0xabc"},
		Accepted:    required.Accepts[0],
	}
	encoded, err := json.Marshal(payload)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(encoded)
}

func TestGinMiddlewarePassesUnprotectedRoutes(t *testing.T) {
	router := newRouter(t, &stubFacilitator{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://api.example.com/public", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "open", rr.Body.String())
}

func TestGinMiddlewareReturns402WithoutPayment(t *testing.T) {
	facilitator := &stubFacilitator{}
	router := newRouter(t, facilitator)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://api.example.com/weather", nil))

	assert.Equal(t, http.StatusPaymentRequired, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("PAYMENT-REQUIRED"))
	assert.Zero(t, facilitator.settleCalls)
}

func TestGinMiddlewareSettlesAfterSuccessfulHandler(t *testing.T) {
	facilitator := &stubFacilitator{}
	router := newRouter(t, facilitator)

	unpaid := httptest.NewRecorder()
	router.ServeHTTP(unpaid, httptest.NewRequest(http.MethodGet, "http://api.example.com/weather", nil))
	header := paymentHeaderFrom(t, unpaid)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "http://api.example.com/weather", nil)
	req.Header.Set("PAYMENT-SIGNATURE", header)
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "sunny", rr.Body.String())
	assert.Equal(t, 1, facilitator.settleCalls)
	assert.NotEmpty(t, rr.Header().Get("PAYMENT-RESPONSE"))
}

func TestGinMiddlewareSkipsSettlementOnHandlerError(t *testing.T) {
	facilitator := &stubFacilitator{}
	gin.SetMode(gin.TestMode)

	routes := x402http.RoutesConfig{
		"GET /flaky": {
			Accepts: x402http.PaymentOptions{{
				Scheme:  "exact",
				PayTo:   "0x0000000000000000000000000000000000000001",
				Price:   "$0.001",
				Network: "eip155:8453",
			}},
		},
	}
	server := x402http.Newx402HTTPResourceServer(routes,
		x402.WithFacilitatorClient(facilitator),
		x402.WithSchemeServer("eip155:8453", &stubSchemeServer{}),
	)
	require.NoError(t, server.Initialize(context.Background()))

	router := gin.New()
	router.Use(PaymentMiddleware(server))
	router.GET("/flaky", func(c *gin.Context) {
		c.String(http.StatusInternalServerError, "upstream broke")
	})

	unpaid := httptest.NewRecorder()
	router.ServeHTTP(unpaid, httptest.NewRequest(http.MethodGet, "http://api.example.com/flaky", nil))
	header := paymentHeaderFrom(t, unpaid)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "http://api.example.com/flaky", nil)
	req.Header.Set("PAYMENT-SIGNATURE", header)
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Zero(t, facilitator.settleCalls, "failed handler must not charge the payer")
}

func TestGinMiddlewareReplacesResponseOnSettleFailure(t *testing.T) {
	facilitator := &stubFacilitator{settleError: "expired_authorization"}
	router := newRouter(t, facilitator)

	unpaid := httptest.NewRecorder()
	router.ServeHTTP(unpaid, httptest.NewRequest(http.MethodGet, "http://api.example.com/weather", nil))
	header := paymentHeaderFrom(t, unpaid)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "http://api.example.com/weather", nil)
	req.Header.Set("PAYMENT-SIGNATURE", header)
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusPaymentRequired, rr.Code)
	assert.NotContains(t, rr.Body.String(), "sunny")
	assert.Contains(t, rr.Body.String(), "expired_authorization")
}
