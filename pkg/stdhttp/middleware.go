// Package stdhttp provides x402 payment middleware for net/http servers.
//
// The middleware fronts an X402HTTPResourceServer: unprotected routes pass
// through, unpaid requests on protected routes get the 402 negotiation
// response, and verified requests run the handler with settlement deferred
// until the handler has produced a successful response.
package stdhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	x402http "github.com/x402/x402-go/http"
)

// MiddlewareConfig carries the optional middleware settings.
type MiddlewareConfig struct {
	PaywallConfig *x402http.PaywallConfig
	Logger        *slog.Logger
}

// Option configures the middleware.
type Option func(*MiddlewareConfig)

// WithPaywallConfig sets the paywall branding used for browser 402s.
func WithPaywallConfig(config *x402http.PaywallConfig) Option {
	return func(c *MiddlewareConfig) { c.PaywallConfig = config }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *MiddlewareConfig) { c.Logger = logger }
}

// PaymentMiddleware returns a net/http middleware enforcing payment on the
// server's protected routes.
//
// The protected handler's response is buffered: settlement runs only after
// the handler returns a non-error status, so a failing upstream never
// charges the payer. A settlement failure replaces the buffered response
// with a 402.
//
// Usage:
//
//	mux.Handle("/", stdhttp.PaymentMiddleware(server)(handler))
func PaymentMiddleware(server *x402http.X402HTTPResourceServer, opts ...Option) func(http.Handler) http.Handler {
	config := &MiddlewareConfig{Logger: slog.Default()}
	for _, opt := range opts {
		opt(config)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqCtx := x402http.HTTPRequestContext{
				Adapter: &httpAdapter{r: r},
				Path:    r.URL.Path,
				Method:  r.Method,
			}

			result := server.ProcessHTTPRequest(r.Context(), reqCtx, config.PaywallConfig)

			switch result.Type {
			case x402http.ResultNoPaymentRequired:
				next.ServeHTTP(w, r)
				return

			case x402http.ResultPaymentError:
				writeInstructions(w, result.Response)
				return
			}

			// Payment verified: buffer the handler's response so settlement
			// can run before anything reaches the wire.
			buffer := &bufferedWriter{
				header:     w.Header(),
				body:       &bytes.Buffer{},
				statusCode: http.StatusOK,
			}

			next.ServeHTTP(buffer, r)

			// A failed upstream ships as-is, unsettled: the payer is not
			// charged for a response they did not get.
			if buffer.statusCode >= http.StatusBadRequest {
				buffer.flush(w)
				return
			}

			// The client may have disconnected, but the handler produced the
			// resource: settlement still has to complete.
			settleCtx := context.WithoutCancel(r.Context())
			settle := server.ProcessSettlement(settleCtx, result.PaymentPayload, result.MatchedRequirement, result.DeclaredExtensions)
			if !settle.Success {
				config.Logger.Warn("settlement failed", "path", reqCtx.Path, "reason", settle.ErrorReason)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusPaymentRequired)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": settle.ErrorReason})
				return
			}

			for name, value := range settle.Headers {
				w.Header().Set(name, value)
			}
			buffer.flush(w)
		})
	}
}

// httpAdapter implements x402http.HTTPAdapter over a net/http request.
type httpAdapter struct {
	r *http.Request
}

func (a *httpAdapter) GetHeader(name string) string { return a.r.Header.Get(name) }
func (a *httpAdapter) GetMethod() string            { return a.r.Method }
func (a *httpAdapter) GetPath() string              { return a.r.URL.Path }
func (a *httpAdapter) GetAcceptHeader() string      { return a.r.Header.Get("Accept") }
func (a *httpAdapter) GetUserAgent() string         { return a.r.UserAgent() }

func (a *httpAdapter) GetURL() string {
	scheme := "http"
	if a.r.TLS != nil {
		scheme = "https"
	}
	if forwarded := a.r.Header.Get("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}
	return scheme + "://" + a.r.Host + a.r.URL.RequestURI()
}

// writeInstructions translates response instructions into an HTTP response.
func writeInstructions(w http.ResponseWriter, instructions *x402http.HTTPResponseInstructions) {
	if instructions == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	for name, value := range instructions.Headers {
		w.Header().Set(name, value)
	}

	if instructions.IsHTML {
		html, _ := instructions.Body.(string)
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(instructions.Status)
		_, _ = w.Write([]byte(html))
		return
	}

	w.WriteHeader(instructions.Status)
	if instructions.Body != nil {
		_ = json.NewEncoder(w).Encode(instructions.Body)
	}
}

// bufferedWriter captures the handler's response without committing it.
type bufferedWriter struct {
	header     http.Header
	body       *bytes.Buffer
	statusCode int
	wroteHead  bool
}

func (w *bufferedWriter) Header() http.Header { return w.header }

func (w *bufferedWriter) WriteHeader(code int) {
	if !w.wroteHead {
		w.statusCode = code
		w.wroteHead = true
	}
}

func (w *bufferedWriter) Write(b []byte) (int, error) {
	if !w.wroteHead {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.Write(b)
}

// flush replays the buffered response onto the real writer.
func (w *bufferedWriter) flush(target http.ResponseWriter) {
	target.WriteHeader(w.statusCode)
	_, _ = target.Write(w.body.Bytes())
}
