// Package http provides the HTTP-specific pieces of x402: the resource
// layer with route matching and header codecs, the payment-aware client
// transport, and the wire client to remote facilitators.
package http

import (
	"context"
	"io"
	"net/http"

	x402 "github.com/x402/x402-go"
)

// HTTPClient is a short alias for X402HTTPClient.
type HTTPClient = X402HTTPClient

// HTTPServer is a short alias for X402HTTPResourceServer.
type HTTPServer = X402HTTPResourceServer

// NewClient creates an HTTP-aware x402 client around a fresh core client.
func NewClient(opts ...x402.ClientOption) *X402HTTPClient {
	return Newx402HTTPClient(x402.Newx402Client(opts...))
}

// NewServer creates an HTTP resource server around a fresh core server.
func NewServer(routes RoutesConfig, opts ...x402.ResourceServerOption) *X402HTTPResourceServer {
	return Newx402HTTPResourceServer(routes, opts...)
}

// NewFacilitatorClient creates an HTTP facilitator client.
func NewFacilitatorClient(config *FacilitatorConfig) *HTTPFacilitatorClient {
	return NewHTTPFacilitatorClient(config)
}

// WrapClient wraps a standard HTTP client with x402 payment handling.
func WrapClient(client *http.Client, x402Client *X402HTTPClient) *http.Client {
	return WrapHTTPClientWithPayment(client, x402Client)
}

// Get performs a GET request with automatic payment handling.
func Get(ctx context.Context, url string, x402Client *X402HTTPClient) (*http.Response, error) {
	return x402Client.GetWithPayment(ctx, url)
}

// Post performs a POST request with automatic payment handling.
func Post(ctx context.Context, url string, body io.Reader, x402Client *X402HTTPClient) (*http.Response, error) {
	return x402Client.PostWithPayment(ctx, url, body)
}

// Do performs an HTTP request with automatic payment handling.
func Do(ctx context.Context, req *http.Request, x402Client *X402HTTPClient) (*http.Response, error) {
	return x402Client.DoWithPayment(ctx, req)
}
