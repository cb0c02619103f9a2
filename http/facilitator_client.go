package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	x402 "github.com/x402/x402-go"
	"github.com/x402/x402-go/types"
)

// HTTPFacilitatorClient talks to a remote facilitator service over HTTP.
// It implements x402.FacilitatorClient for both protocol versions: the
// wire envelope is the same, only the nested payload shapes differ, so
// the version detected from the payload is forwarded as-is.
type HTTPFacilitatorClient struct {
	url          string
	httpClient   *http.Client
	authProvider AuthProvider
	identifier   string
}

// AuthProvider supplies authentication headers for facilitator requests.
// Headers are fetched per request, so short-lived tokens work.
type AuthProvider interface {
	GetAuthHeaders(ctx context.Context) (AuthHeaders, error)
}

// AuthHeaders carries per-endpoint authentication headers. Facilitators
// commonly gate settle behind stronger credentials than verify.
type AuthHeaders struct {
	Verify    map[string]string
	Settle    map[string]string
	Supported map[string]string
}

// FacilitatorConfig configures NewHTTPFacilitatorClient. The zero value
// targets the default public facilitator with a 30s timeout.
type FacilitatorConfig struct {
	// URL is the facilitator's base URL.
	URL string

	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client

	// AuthProvider supplies authentication headers, when required.
	AuthProvider AuthProvider

	// Timeout bounds each request. Defaults to 30s.
	Timeout time.Duration

	// Identifier names this facilitator in logs and errors. Defaults to
	// the URL.
	Identifier string
}

// DefaultFacilitatorURL is the public facilitator used when no URL is
// configured.
const DefaultFacilitatorURL = "https://x402.org/facilitator"

// GetSupported retry policy for 429 responses.
const (
	getSupportedRetries        = 3
	getSupportedRetryBaseDelay = 1 * time.Second
)

// NewHTTPFacilitatorClient builds a facilitator client from config,
// filling in defaults for anything unset. A nil config is valid.
func NewHTTPFacilitatorClient(config *FacilitatorConfig) *HTTPFacilitatorClient {
	if config == nil {
		config = &FacilitatorConfig{}
	}

	url := config.URL
	if url == "" {
		url = DefaultFacilitatorURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	identifier := config.Identifier
	if identifier == "" {
		identifier = url
	}

	return &HTTPFacilitatorClient{
		url:          url,
		httpClient:   httpClient,
		authProvider: config.AuthProvider,
		identifier:   identifier,
	}
}

// errFacilitatorTimeout marks a request that hit the HTTP client's or the
// context's deadline, so callers can map it to the protocol error code.
var errFacilitatorTimeout = errors.New("facilitator request timed out")

// Verify submits a payment for verification.
func (c *HTTPFacilitatorClient) Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*x402.VerifyResponse, error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to detect version: %w", err)
	}

	status, responseBody, err := c.post(ctx, "/verify", version, payloadBytes, requirementsBytes,
		func(h AuthHeaders) map[string]string { return h.Verify })
	if errors.Is(err, errFacilitatorTimeout) {
		return nil, x402.NewVerifyError(x402.ErrFacilitatorTimeout, "", "facilitator verify timed out")
	}
	if err != nil {
		return nil, err
	}

	var verifyResponse x402.VerifyResponse
	if err := json.Unmarshal(responseBody, &verifyResponse); err != nil {
		return nil, x402.NewVerifyError(
			x402.ErrInvalidResponse,
			"",
			fmt.Sprintf("failed to unmarshal verify response: %s", err.Error()),
		)
	}

	if status != http.StatusOK {
		// Rejections come back with a body; surface the facilitator's
		// reason when it gave one.
		if verifyResponse.InvalidReason != "" {
			return nil, x402.NewVerifyError(
				verifyResponse.InvalidReason,
				verifyResponse.Payer,
				verifyResponse.InvalidMessage,
			)
		}
		return nil, fmt.Errorf("facilitator verify failed (%d): %s", status, string(responseBody))
	}

	return &verifyResponse, nil
}

// Settle submits a payment for settlement.
func (c *HTTPFacilitatorClient) Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*x402.SettleResponse, error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to detect version: %w", err)
	}

	status, responseBody, err := c.post(ctx, "/settle", version, payloadBytes, requirementsBytes,
		func(h AuthHeaders) map[string]string { return h.Settle })
	if errors.Is(err, errFacilitatorTimeout) {
		return nil, x402.NewSettleError(x402.ErrFacilitatorTimeout, "", "", "", "facilitator settle timed out")
	}
	if err != nil {
		return nil, err
	}

	var settleResponse x402.SettleResponse
	if err := json.Unmarshal(responseBody, &settleResponse); err != nil {
		return nil, fmt.Errorf("facilitator settle failed (%d): %s", status, string(responseBody))
	}

	if status != http.StatusOK {
		if settleResponse.ErrorReason != "" {
			return nil, x402.NewSettleError(
				settleResponse.ErrorReason,
				settleResponse.Payer,
				settleResponse.Network,
				settleResponse.Transaction,
				fmt.Sprintf("facilitator returned %d", status),
			)
		}
		return nil, fmt.Errorf("facilitator settle failed (%d): %s", status, string(responseBody))
	}

	return &settleResponse, nil
}

// GetSupported fetches the facilitator's supported payment kinds,
// retrying rate-limited responses with exponential backoff.
func (c *HTTPFacilitatorClient) GetSupported(ctx context.Context) (x402.SupportedResponse, error) {
	var lastErr error

	for attempt := 0; attempt < getSupportedRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, "GET", c.url+"/supported", nil)
		if err != nil {
			return x402.SupportedResponse{}, fmt.Errorf("failed to create supported request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		if err := c.applyAuth(ctx, req, func(h AuthHeaders) map[string]string { return h.Supported }); err != nil {
			return x402.SupportedResponse{}, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return x402.SupportedResponse{}, fmt.Errorf("supported request failed: %w", err)
		}

		responseBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return x402.SupportedResponse{}, fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			var supportedResponse x402.SupportedResponse
			if err := json.Unmarshal(responseBody, &supportedResponse); err != nil {
				return x402.SupportedResponse{}, fmt.Errorf("failed to decode supported response: %w", err)
			}
			return supportedResponse, nil
		}

		lastErr = fmt.Errorf("facilitator supported failed (%d): %s", resp.StatusCode, string(responseBody))

		if resp.StatusCode == http.StatusTooManyRequests && attempt < getSupportedRetries-1 {
			delay := getSupportedRetryBaseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return x402.SupportedResponse{}, ctx.Err()
			}
		}

		// Anything but a retryable 429 fails immediately.
		return x402.SupportedResponse{}, lastErr
	}

	return x402.SupportedResponse{}, lastErr
}

// post sends the facilitator request envelope and returns the raw status
// and body. Verify and settle share the same wire shape.
func (c *HTTPFacilitatorClient) post(ctx context.Context, path string, version int, payloadBytes, requirementsBytes []byte, headers func(AuthHeaders) map[string]string) (int, []byte, error) {
	var payloadMap, requirementsMap map[string]interface{}
	if err := json.Unmarshal(payloadBytes, &payloadMap); err != nil {
		return 0, nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if err := json.Unmarshal(requirementsBytes, &requirementsMap); err != nil {
		return 0, nil, fmt.Errorf("failed to unmarshal requirements: %w", err)
	}

	body, err := json.Marshal(map[string]interface{}{
		"x402Version":         version,
		"paymentPayload":      payloadMap,
		"paymentRequirements": requirementsMap,
	})
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if err := c.applyAuth(ctx, req, headers); err != nil {
		return 0, nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, nil, errFacilitatorTimeout
		}
		return 0, nil, fmt.Errorf("facilitator request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, responseBody, nil
}

func (c *HTTPFacilitatorClient) applyAuth(ctx context.Context, req *http.Request, headers func(AuthHeaders) map[string]string) error {
	if c.authProvider == nil {
		return nil
	}
	authHeaders, err := c.authProvider.GetAuthHeaders(ctx)
	if err != nil {
		return fmt.Errorf("failed to get auth headers: %w", err)
	}
	for k, v := range headers(authHeaders) {
		req.Header.Set(k, v)
	}
	return nil
}
