package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	x402 "github.com/x402/x402-go"
	"github.com/x402/x402-go/types"
)

// OnPaymentRequiredHook runs when a 402 arrives, before any payment is
// made. The first hook returning a non-nil header set wins: its headers
// are attached and the request retried once; if that retry still returns
// 402 the flow continues to payment. SIWX registers its sign-in header
// production here.
type OnPaymentRequiredHook func(ctx context.Context, required x402.PaymentRequired, req *http.Request) (map[string]string, error)

// X402HTTPClient wraps X402Client with HTTP payment handling: the 402
// retry loop, header codecs, and the onPaymentRequired hook chain.
type X402HTTPClient struct {
	client                 *x402.X402Client
	onPaymentRequiredHooks []OnPaymentRequiredHook
	logger                 *slog.Logger
}

// Newx402HTTPClient creates an HTTP-aware x402 client around a core
// client.
func Newx402HTTPClient(client *x402.X402Client) *X402HTTPClient {
	return &X402HTTPClient{
		client: client,
		logger: slog.Default(),
	}
}

// Client returns the wrapped core client for scheme registration.
func (c *X402HTTPClient) Client() *x402.X402Client {
	return c.client
}

// OnPaymentRequired registers a hook to run before payment when a 402
// arrives.
func (c *X402HTTPClient) OnPaymentRequired(hook OnPaymentRequiredHook) *X402HTTPClient {
	c.onPaymentRequiredHooks = append(c.onPaymentRequiredHooks, hook)
	return c
}

// EncodePaymentSignatureHeader encodes payload bytes into the header the
// payload's protocol version uses.
func (c *X402HTTPClient) EncodePaymentSignatureHeader(payloadBytes []byte) (map[string]string, error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to detect version: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(payloadBytes)

	switch version {
	case x402.ProtocolVersion:
		return map[string]string{"PAYMENT-SIGNATURE": encoded}, nil
	case x402.ProtocolVersionV1:
		return map[string]string{"X-PAYMENT": encoded}, nil
	default:
		return nil, fmt.Errorf("unsupported x402 version: %d", version)
	}
}

// GetPaymentRequiredResponse extracts payment requirements from a 402
// response: the PAYMENT-REQUIRED header first, then the JSON body for v1
// compatibility.
func (c *X402HTTPClient) GetPaymentRequiredResponse(headers map[string]string, body []byte) (x402.PaymentRequired, error) {
	normalizedHeaders := make(map[string]string, len(headers))
	for k, v := range headers {
		normalizedHeaders[strings.ToUpper(k)] = v
	}

	if header, exists := normalizedHeaders["PAYMENT-REQUIRED"]; exists {
		return decodePaymentRequiredHeader(header)
	}

	if len(body) > 0 {
		var required x402.PaymentRequired
		if err := json.Unmarshal(body, &required); err == nil && required.X402Version >= 1 {
			return required, nil
		}
	}

	return x402.PaymentRequired{}, fmt.Errorf("no payment required information found in response")
}

// GetPaymentSettleResponse extracts the settlement response from response
// headers (v2 PAYMENT-RESPONSE or v1 X-PAYMENT-RESPONSE).
func (c *X402HTTPClient) GetPaymentSettleResponse(headers map[string]string) (x402.SettleResponse, error) {
	normalizedHeaders := make(map[string]string, len(headers))
	for k, v := range headers {
		normalizedHeaders[strings.ToUpper(k)] = v
	}

	if header, exists := normalizedHeaders["PAYMENT-RESPONSE"]; exists {
		return decodePaymentResponseHeader(header)
	}
	if header, exists := normalizedHeaders["X-PAYMENT-RESPONSE"]; exists {
		return decodePaymentResponseHeader(header)
	}

	return x402.SettleResponse{}, fmt.Errorf("payment response header not found")
}

// WrapHTTPClientWithPayment wraps a standard HTTP client with x402 payment
// handling, making 402 negotiation transparent to callers.
func WrapHTTPClientWithPayment(client *http.Client, x402Client *X402HTTPClient) *http.Client {
	if client == nil {
		client = &http.Client{}
	}

	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	client.Transport = &PaymentRoundTripper{
		Transport:  transport,
		x402Client: x402Client,
	}

	return client
}

// PaymentRoundTripper implements http.RoundTripper with the x402 402-retry
// loop: at most one payment per request, body cloned before the first
// send, hooks before payment.
type PaymentRoundTripper struct {
	Transport  http.RoundTripper
	x402Client *X402HTTPClient
}

// RoundTrip implements http.RoundTripper.
func (t *PaymentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// A request that already carries a payment header must not be paid for
	// again: the header means a previous attempt was made.
	if req.Header.Get("PAYMENT-SIGNATURE") != "" || req.Header.Get("X-PAYMENT") != "" {
		resp, err := t.Transport.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusPaymentRequired {
			drainAndClose(resp)
			return nil, x402.ErrPaymentAlreadyAttempted
		}
		return resp, nil
	}

	// Make the body replayable before the first send so the paid retry
	// carries the same body.
	if err := ensureReplayableBody(req); err != nil {
		return nil, err
	}

	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	paymentRequired, err := t.readPaymentRequired(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse payment requirements: %w", err)
	}

	ctx := req.Context()

	// Hook phase: the first hook producing headers gets one free retry.
	for _, hook := range t.x402Client.onPaymentRequiredHooks {
		headers, hookErr := hook(ctx, paymentRequired, req)
		if hookErr != nil {
			t.x402Client.logger.Warn("onPaymentRequired hook error", "error", hookErr)
			continue
		}
		if headers == nil {
			continue
		}

		hookReq, cloneErr := cloneRequest(req)
		if cloneErr != nil {
			return nil, cloneErr
		}
		for k, v := range headers {
			hookReq.Header.Set(k, v)
		}

		hookResp, retryErr := t.Transport.RoundTrip(hookReq)
		if retryErr != nil {
			return nil, retryErr
		}
		if hookResp.StatusCode != http.StatusPaymentRequired {
			return hookResp, nil
		}

		// Still 402: fall through to payment with the fresh requirements.
		paymentRequired, err = t.readPaymentRequired(hookResp)
		if err != nil {
			return nil, fmt.Errorf("failed to parse payment requirements after hook retry: %w", err)
		}
		break
	}

	payload, err := t.x402Client.client.CreatePaymentForRequired(ctx, paymentRequired)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payment payload: %w", err)
	}

	paymentHeaders, err := t.x402Client.EncodePaymentSignatureHeader(payloadBytes)
	if err != nil {
		return nil, err
	}

	paymentReq, err := cloneRequest(req)
	if err != nil {
		return nil, err
	}
	for k, v := range paymentHeaders {
		paymentReq.Header.Set(k, v)
	}
	paymentReq.Header.Set("Access-Control-Expose-Headers", "PAYMENT-RESPONSE,X-PAYMENT-RESPONSE")

	return t.Transport.RoundTrip(paymentReq)
}

// readPaymentRequired decodes the PaymentRequired from a 402 response and
// closes its body.
func (t *PaymentRoundTripper) readPaymentRequired(resp *http.Response) (x402.PaymentRequired, error) {
	headers := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	var body []byte
	if resp.Body != nil {
		var err error
		body, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return x402.PaymentRequired{}, fmt.Errorf("failed to read 402 response body: %w", err)
		}
	}

	return t.x402Client.GetPaymentRequiredResponse(headers, body)
}

// ensureReplayableBody makes req.GetBody available, buffering the body if
// the caller did not supply one.
func ensureReplayableBody(req *http.Request) error {
	if req.Body == nil || req.GetBody != nil {
		return nil
	}

	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to buffer request body: %w", err)
	}

	req.Body = io.NopCloser(bytes.NewReader(data))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return nil
}

// cloneRequest clones a request with a fresh body from GetBody.
func cloneRequest(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to clone request body: %w", err)
		}
		clone.Body = body
	}
	return clone, nil
}

func drainAndClose(resp *http.Response) {
	if resp.Body != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}

// DoWithPayment performs an HTTP request with automatic payment handling.
func (c *X402HTTPClient) DoWithPayment(ctx context.Context, req *http.Request) (*http.Response, error) {
	client := &http.Client{
		Transport: &PaymentRoundTripper{
			Transport:  http.DefaultTransport,
			x402Client: c,
		},
	}
	return client.Do(req.WithContext(ctx))
}

// GetWithPayment performs a GET request with automatic payment handling.
func (c *X402HTTPClient) GetWithPayment(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.DoWithPayment(ctx, req)
}

// PostWithPayment performs a POST request with automatic payment handling.
func (c *X402HTTPClient) PostWithPayment(ctx context.Context, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	return c.DoWithPayment(ctx, req)
}

// encodePaymentRequiredHeader encodes payment requirements as base64 JSON.
func encodePaymentRequiredHeader(required x402.PaymentRequired) string {
	data, err := json.Marshal(required)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal payment required: %v", err))
	}
	return base64.StdEncoding.EncodeToString(data)
}

// decodePaymentRequiredHeader decodes a base64 payment required header.
func decodePaymentRequiredHeader(header string) (x402.PaymentRequired, error) {
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return x402.PaymentRequired{}, fmt.Errorf("invalid base64 encoding: %w", err)
	}

	var required x402.PaymentRequired
	if err := json.Unmarshal(data, &required); err != nil {
		return x402.PaymentRequired{}, fmt.Errorf("invalid payment required JSON: %w", err)
	}

	return required, nil
}

// encodePaymentResponseHeader encodes a settlement response as base64 JSON.
func encodePaymentResponseHeader(response x402.SettleResponse) string {
	data, err := json.Marshal(response)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal settle response: %v", err))
	}
	return base64.StdEncoding.EncodeToString(data)
}

// decodePaymentResponseHeader decodes a base64 payment response header.
func decodePaymentResponseHeader(header string) (x402.SettleResponse, error) {
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return x402.SettleResponse{}, fmt.Errorf("invalid base64 encoding: %w", err)
	}

	var response x402.SettleResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return x402.SettleResponse{}, fmt.Errorf("invalid settle response JSON: %w", err)
	}

	return response, nil
}
