package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/x402/x402-go"
)

// fakeSchemeClient signs nothing and counts how often it is asked to pay.
type fakeSchemeClient struct {
	calls int
}

func (c *fakeSchemeClient) Scheme() string { return "exact" }

func (c *fakeSchemeClient) CreatePaymentPayload(ctx context.Context, x402Version int, requirements x402.PaymentRequirements) (x402.PartialPaymentPayload, error) {
	c.calls++
	return x402.PartialPaymentPayload{
		X402Version: x402Version,
		Payload: map[string]interface{}{
			"signature": "0xfake",
		},
	}, nil
}

// requestAdapter adapts *http.Request for ProcessHTTPRequest in tests.
type requestAdapter struct{ r *http.Request }

func (a *requestAdapter) GetHeader(name string) string { return a.r.Header.Get(name) }
func (a *requestAdapter) GetMethod() string            { return a.r.Method }
func (a *requestAdapter) GetPath() string              { return a.r.URL.Path }
func (a *requestAdapter) GetURL() string               { return "https://api.example.com" + a.r.URL.Path }
func (a *requestAdapter) GetAcceptHeader() string      { return a.r.Header.Get("Accept") }
func (a *requestAdapter) GetUserAgent() string         { return a.r.Header.Get("User-Agent") }

func newPayingClient(t *testing.T, scheme *fakeSchemeClient) (*http.Client, *X402HTTPClient) {
	t.Helper()
	core := x402.Newx402Client()
	core.RegisterScheme("eip155:8453", scheme)
	x402HTTP := Newx402HTTPClient(core)
	return WrapHTTPClientWithPayment(&http.Client{}, x402HTTP), x402HTTP
}

func TestRoundTripperEndToEnd(t *testing.T) {
	facilitator := &stubFacilitator{}
	server := newTestHTTPServer(t, facilitator)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqCtx := HTTPRequestContext{
			Adapter: &requestAdapter{r: r},
			Path:    r.URL.Path,
			Method:  r.Method,
		}
		result := server.ProcessHTTPRequest(r.Context(), reqCtx, nil)
		switch result.Type {
		case ResultPaymentVerified:
			settle := server.ProcessSettlement(r.Context(), result.PaymentPayload, result.MatchedRequirement, result.DeclaredExtensions)
			if !settle.Success {
				http.Error(w, settle.ErrorReason, http.StatusPaymentRequired)
				return
			}
			for k, v := range settle.Headers {
				w.Header().Set(k, v)
			}
			w.WriteHeader(http.StatusOK)
			io.WriteString(w, "sunny")
		case ResultPaymentError:
			for k, v := range result.Response.Headers {
				w.Header().Set(k, v)
			}
			w.WriteHeader(result.Response.Status)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer ts.Close()

	scheme := &fakeSchemeClient{}
	client, x402HTTP := newPayingClient(t, scheme)

	resp, err := client.Get(ts.URL + "/weather")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "sunny", string(body))
	assert.Equal(t, 1, scheme.calls)
	assert.Equal(t, 1, facilitator.verifyCalls)
	assert.Equal(t, 1, facilitator.settleCalls)

	headers := map[string]string{}
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	settle, err := x402HTTP.GetPaymentSettleResponse(headers)
	require.NoError(t, err)
	assert.True(t, settle.Success)
	assert.Equal(t, "0xtx", settle.Transaction)
}

func TestRoundTripperPassesThroughNon402(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "free")
	}))
	defer ts.Close()

	scheme := &fakeSchemeClient{}
	client, _ := newPayingClient(t, scheme)

	resp, err := client.Get(ts.URL + "/free")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, scheme.calls)
}

func TestRoundTripperDoesNotPayTwice(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer ts.Close()

	scheme := &fakeSchemeClient{}
	client, _ := newPayingClient(t, scheme)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/weather", nil)
	require.NoError(t, err)
	req.Header.Set("PAYMENT-SIGNATURE", "ZXlKNE5EQXlJam95ZlE9PQ==")

	_, err = client.Do(req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, x402.ErrPaymentAlreadyAttempted))
	assert.Zero(t, scheme.calls)
}

func TestRoundTripperHookAvoidsPayment(t *testing.T) {
	required := x402.PaymentRequired{
		X402Version: x402.ProtocolVersion,
		Accepts: []x402.PaymentRequirements{
			{Scheme: "exact", Network: "eip155:8453", Amount: "1000"},
		},
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("SIGN-IN-WITH-X") != "" {
			io.WriteString(w, "welcome back")
			return
		}
		w.Header().Set("PAYMENT-REQUIRED", encodePaymentRequiredHeader(required))
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer ts.Close()

	scheme := &fakeSchemeClient{}
	client, x402HTTP := newPayingClient(t, scheme)
	x402HTTP.OnPaymentRequired(func(ctx context.Context, req x402.PaymentRequired, r *http.Request) (map[string]string, error) {
		return map[string]string{"SIGN-IN-WITH-X": "signed"}, nil
	})

	resp, err := client.Get(ts.URL + "/weather")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "welcome back", string(body))
	assert.Zero(t, scheme.calls, "hook retry succeeded, no payment should be made")
}

func TestRoundTripperHookRetryStill402FallsBackToPayment(t *testing.T) {
	required := x402.PaymentRequired{
		X402Version: x402.ProtocolVersion,
		Accepts: []x402.PaymentRequirements{
			{Scheme: "exact", Network: "eip155:8453", Amount: "1000"},
		},
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("PAYMENT-SIGNATURE") != "" {
			io.WriteString(w, "paid")
			return
		}
		w.Header().Set("PAYMENT-REQUIRED", encodePaymentRequiredHeader(required))
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer ts.Close()

	scheme := &fakeSchemeClient{}
	client, x402HTTP := newPayingClient(t, scheme)
	hookCalls := 0
	x402HTTP.OnPaymentRequired(func(ctx context.Context, req x402.PaymentRequired, r *http.Request) (map[string]string, error) {
		hookCalls++
		return map[string]string{"SIGN-IN-WITH-X": "expired"}, nil
	})

	resp, err := client.Get(ts.URL + "/weather")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "paid", string(body))
	assert.Equal(t, 1, hookCalls)
	assert.Equal(t, 1, scheme.calls)
}

func TestRoundTripperReplaysBodyOnPaidRetry(t *testing.T) {
	required := x402.PaymentRequired{
		X402Version: x402.ProtocolVersion,
		Accepts: []x402.PaymentRequirements{
			{Scheme: "exact", Network: "eip155:8453", Amount: "1000"},
		},
	}

	var bodies []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(data))
		if r.Header.Get("PAYMENT-SIGNATURE") != "" {
			io.WriteString(w, "stored")
			return
		}
		w.Header().Set("PAYMENT-REQUIRED", encodePaymentRequiredHeader(required))
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer ts.Close()

	scheme := &fakeSchemeClient{}
	client, _ := newPayingClient(t, scheme)

	resp, err := client.Post(ts.URL+"/weather", "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, bodies, 2)
	assert.Equal(t, "hello", bodies[0])
	assert.Equal(t, "hello", bodies[1], "paid retry must carry the original body")
}

func TestGetPaymentRequiredResponseFromBody(t *testing.T) {
	x402HTTP := Newx402HTTPClient(x402.Newx402Client())

	// v1 servers put the payment required JSON in the body.
	body := []byte(`{"x402Version":1,"accepts":[{"scheme":"exact","network":"base"}]}`)
	required, err := x402HTTP.GetPaymentRequiredResponse(map[string]string{}, body)
	require.NoError(t, err)
	assert.Equal(t, 1, required.X402Version)

	_, err = x402HTTP.GetPaymentRequiredResponse(map[string]string{}, nil)
	assert.Error(t, err)
}
