// Package gin provides x402 payment middleware for the Gin web framework.
//
// The middleware fronts an X402HTTPResourceServer: unprotected routes pass
// through, unpaid requests on protected routes get the 402 negotiation
// response, and verified requests run the handler with settlement deferred
// until the handler has produced a successful response.
package gin

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

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

// PaymentMiddleware returns a Gin middleware enforcing payment on the
// server's protected routes.
//
// The protected handler's response is buffered: settlement runs only after
// the handler returns a non-error status, so a failing upstream never
// charges the payer. A settlement failure replaces the buffered response
// with a 402.
func PaymentMiddleware(server *x402http.X402HTTPResourceServer, opts ...Option) gin.HandlerFunc {
	config := &MiddlewareConfig{Logger: slog.Default()}
	for _, opt := range opts {
		opt(config)
	}

	return func(c *gin.Context) {
		reqCtx := x402http.HTTPRequestContext{
			Adapter: &ginAdapter{c: c},
			Path:    c.Request.URL.Path,
			Method:  c.Request.Method,
		}

		result := server.ProcessHTTPRequest(c.Request.Context(), reqCtx, config.PaywallConfig)

		switch result.Type {
		case x402http.ResultNoPaymentRequired:
			c.Next()
			return

		case x402http.ResultPaymentError:
			writeInstructions(c, result.Response)
			c.Abort()
			return
		}

		// Payment verified: buffer the handler's response so settlement can
		// run before anything reaches the wire.
		buffer := &bufferedWriter{
			ResponseWriter: c.Writer,
			body:           &bytes.Buffer{},
			statusCode:     http.StatusOK,
		}
		c.Writer = buffer

		c.Next()

		c.Writer = buffer.ResponseWriter

		// A failed upstream ships as-is, unsettled: the payer is not charged
		// for a response they did not get.
		if c.IsAborted() || buffer.statusCode >= http.StatusBadRequest {
			buffer.flush()
			return
		}

		// The client may have disconnected, but the handler produced the
		// resource: settlement still has to complete.
		settleCtx := context.WithoutCancel(c.Request.Context())
		settle := server.ProcessSettlement(settleCtx, result.PaymentPayload, result.MatchedRequirement, result.DeclaredExtensions)
		if !settle.Success {
			config.Logger.Warn("settlement failed", "path", reqCtx.Path, "reason", settle.ErrorReason)
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": settle.ErrorReason})
			return
		}

		for name, value := range settle.Headers {
			c.Header(name, value)
		}
		buffer.flush()
	}
}

// ginAdapter implements x402http.HTTPAdapter over a Gin context.
type ginAdapter struct {
	c *gin.Context
}

func (a *ginAdapter) GetHeader(name string) string { return a.c.GetHeader(name) }
func (a *ginAdapter) GetMethod() string            { return a.c.Request.Method }
func (a *ginAdapter) GetPath() string              { return a.c.Request.URL.Path }
func (a *ginAdapter) GetAcceptHeader() string      { return a.c.GetHeader("Accept") }
func (a *ginAdapter) GetUserAgent() string         { return a.c.Request.UserAgent() }

func (a *ginAdapter) GetURL() string {
	return requestURL(a.c.Request)
}

// requestURL reconstructs the absolute resource URL from the request,
// honoring the forwarded protocol when behind a proxy.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if forwarded := r.Header.Get("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// writeInstructions translates response instructions into a Gin response.
func writeInstructions(c *gin.Context, instructions *x402http.HTTPResponseInstructions) {
	if instructions == nil {
		c.Status(http.StatusInternalServerError)
		return
	}

	for name, value := range instructions.Headers {
		c.Header(name, value)
	}

	if instructions.IsHTML {
		html, _ := instructions.Body.(string)
		c.Data(instructions.Status, "text/html", []byte(html))
		return
	}
	if instructions.Body == nil {
		c.Status(instructions.Status)
		return
	}
	c.JSON(instructions.Status, instructions.Body)
}

// bufferedWriter captures the handler's response without committing it.
type bufferedWriter struct {
	gin.ResponseWriter
	body       *bytes.Buffer
	statusCode int
	wroteHead  bool
}

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

func (w *bufferedWriter) WriteString(s string) (int, error) {
	if !w.wroteHead {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.WriteString(s)
}

func (w *bufferedWriter) Status() int {
	return w.statusCode
}

func (w *bufferedWriter) Size() int {
	return w.body.Len()
}

func (w *bufferedWriter) Written() bool {
	return w.wroteHead
}

// flush replays the buffered response onto the real writer.
func (w *bufferedWriter) flush() {
	w.ResponseWriter.WriteHeader(w.statusCode)
	_, _ = w.ResponseWriter.Write(w.body.Bytes())
}
