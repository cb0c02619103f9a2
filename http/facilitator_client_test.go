package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/x402/x402-go"
)

type staticAuthProvider struct{ token string }

func (p *staticAuthProvider) GetAuthHeaders(ctx context.Context) (AuthHeaders, error) {
	h := map[string]string{"Authorization": "Bearer " + p.token}
	return AuthHeaders{Verify: h, Settle: h, Supported: h}, nil
}

func v2PayloadBytes(t *testing.T) []byte {
	t.Helper()
	data, err := json.Marshal(x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Payload:     map[string]interface{}{"signature": "0xabc"},
		Accepted:    x402.PaymentRequirements{Scheme: "exact", Network: "eip155:8453"},
	})
	require.NoError(t, err)
	return data
}

func requirementsBytes(t *testing.T) []byte {
	t.Helper()
	data, err := json.Marshal(x402.PaymentRequirements{Scheme: "exact", Network: "eip155:8453", Amount: "1000"})
	require.NoError(t, err)
	return data
}

func TestHTTPFacilitatorVerify(t *testing.T) {
	var gotBody map[string]interface{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/verify", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(x402.VerifyResponse{IsValid: true, Payer: "0xpayer"})
	}))
	defer ts.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{
		URL:          ts.URL,
		AuthProvider: &staticAuthProvider{token: "secret"},
	})

	resp, err := client.Verify(context.Background(), v2PayloadBytes(t), requirementsBytes(t))
	require.NoError(t, err)
	assert.True(t, resp.IsValid)
	assert.Equal(t, "0xpayer", resp.Payer)

	// Version detected from the payload, payload and requirements nested.
	assert.Equal(t, float64(2), gotBody["x402Version"])
	assert.Contains(t, gotBody, "paymentPayload")
	assert.Contains(t, gotBody, "paymentRequirements")
}

func TestHTTPFacilitatorVerifyRejection(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(x402.VerifyResponse{
			IsValid:       false,
			InvalidReason: "insufficient_funds",
			Payer:         "0xpayer",
		})
	}))
	defer ts.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: ts.URL})

	_, err := client.Verify(context.Background(), v2PayloadBytes(t), requirementsBytes(t))
	require.Error(t, err)

	var verifyErr *x402.VerifyError
	require.ErrorAs(t, err, &verifyErr)
	assert.Equal(t, "insufficient_funds", verifyErr.InvalidReason)
}

func TestHTTPFacilitatorSettle(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/settle", r.URL.Path)
		json.NewEncoder(w).Encode(x402.SettleResponse{
			Success:     true,
			Transaction: "0xtx",
			Network:     "eip155:8453",
			Payer:       "0xpayer",
		})
	}))
	defer ts.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: ts.URL})

	resp, err := client.Settle(context.Background(), v2PayloadBytes(t), requirementsBytes(t))
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "0xtx", resp.Transaction)
}

func TestHTTPFacilitatorGetSupported(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/supported", r.URL.Path)
		json.NewEncoder(w).Encode(x402.SupportedResponse{
			Kinds: []x402.SupportedKind{
				{X402Version: 2, Scheme: "exact", Network: "eip155:8453"},
				{X402Version: 1, Scheme: "exact", Network: "base"},
			},
		})
	}))
	defer ts.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: ts.URL})

	supported, err := client.GetSupported(context.Background())
	require.NoError(t, err)
	require.Len(t, supported.Kinds, 2)
	assert.Equal(t, "exact", supported.Kinds[0].Scheme)
}

func TestHTTPFacilitatorGetSupportedRetriesRateLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("retry backoff sleeps")
	}

	attempts := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(x402.SupportedResponse{
			Kinds: []x402.SupportedKind{{X402Version: 2, Scheme: "exact", Network: "eip155:8453"}},
		})
	}))
	defer ts.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: ts.URL})

	supported, err := client.GetSupported(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	require.Len(t, supported.Kinds, 1)
}
