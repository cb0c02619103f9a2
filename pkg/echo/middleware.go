// Package echo provides x402 payment middleware for the Echo web framework.
//
// The middleware fronts an X402HTTPResourceServer: unprotected routes pass
// through, unpaid requests on protected routes get the 402 negotiation
// response, and verified requests run the handler with settlement deferred
// until the handler has produced a successful response.
package echo

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

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

// PaymentMiddleware returns an Echo middleware enforcing payment on the
// server's protected routes.
//
// The protected handler's response is buffered: settlement runs only after
// the handler returns successfully with a non-error status, so a failing
// upstream never charges the payer.
//
// Usage:
//
//	e.Use(echox402.PaymentMiddleware(server))
func PaymentMiddleware(server *x402http.X402HTTPResourceServer, opts ...Option) echo.MiddlewareFunc {
	config := &MiddlewareConfig{Logger: slog.Default()}
	for _, opt := range opts {
		opt(config)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			reqCtx := x402http.HTTPRequestContext{
				Adapter: &echoAdapter{c: c},
				Path:    c.Request().URL.Path,
				Method:  c.Request().Method,
			}

			result := server.ProcessHTTPRequest(c.Request().Context(), reqCtx, config.PaywallConfig)

			switch result.Type {
			case x402http.ResultNoPaymentRequired:
				return next(c)

			case x402http.ResultPaymentError:
				return writeInstructions(c, result.Response)
			}

			// Payment verified: buffer the handler's response so settlement
			// can run before anything reaches the wire.
			original := c.Response().Writer
			buffer := &bufferedWriter{
				header:     original.Header(),
				body:       &bytes.Buffer{},
				statusCode: http.StatusOK,
			}
			c.Response().Writer = buffer

			err := next(c)

			c.Response().Writer = original
			if err != nil {
				// Echo's error handler produces the response; nothing was
				// settled and nothing buffered ships.
				return err
			}

			// A failed upstream ships as-is, unsettled.
			if buffer.statusCode >= http.StatusBadRequest {
				buffer.flush(original)
				return nil
			}

			// The client may have disconnected, but the handler produced the
			// resource: settlement still has to complete.
			settleCtx := context.WithoutCancel(c.Request().Context())
			settle := server.ProcessSettlement(settleCtx, result.PaymentPayload, result.MatchedRequirement, result.DeclaredExtensions)
			if !settle.Success {
				config.Logger.Warn("settlement failed", "path", reqCtx.Path, "reason", settle.ErrorReason)
				original.Header().Set("Content-Type", "application/json")
				original.WriteHeader(http.StatusPaymentRequired)
				return json.NewEncoder(original).Encode(map[string]string{"error": settle.ErrorReason})
			}

			for name, value := range settle.Headers {
				original.Header().Set(name, value)
			}
			buffer.flush(original)
			return nil
		}
	}
}

// echoAdapter implements x402http.HTTPAdapter over an Echo context.
type echoAdapter struct {
	c echo.Context
}

func (a *echoAdapter) GetHeader(name string) string { return a.c.Request().Header.Get(name) }
func (a *echoAdapter) GetMethod() string            { return a.c.Request().Method }
func (a *echoAdapter) GetPath() string              { return a.c.Request().URL.Path }
func (a *echoAdapter) GetAcceptHeader() string      { return a.c.Request().Header.Get("Accept") }
func (a *echoAdapter) GetUserAgent() string         { return a.c.Request().UserAgent() }

func (a *echoAdapter) GetURL() string {
	r := a.c.Request()
	scheme := a.c.Scheme()
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// writeInstructions translates response instructions into an Echo response.
func writeInstructions(c echo.Context, instructions *x402http.HTTPResponseInstructions) error {
	if instructions == nil {
		return c.NoContent(http.StatusInternalServerError)
	}

	for name, value := range instructions.Headers {
		c.Response().Header().Set(name, value)
	}

	if instructions.IsHTML {
		html, _ := instructions.Body.(string)
		return c.HTML(instructions.Status, html)
	}
	if instructions.Body == nil {
		return c.NoContent(instructions.Status)
	}
	return c.JSON(instructions.Status, instructions.Body)
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
