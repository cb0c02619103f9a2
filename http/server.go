package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	x402 "github.com/x402/x402-go"
	"github.com/x402/x402-go/types"
)

// HTTPAdapter provides framework-agnostic HTTP operations. Implement this
// for each web framework (gin, echo, net/http, ...).
type HTTPAdapter interface {
	GetHeader(name string) string
	GetMethod() string
	GetPath() string
	GetURL() string
	GetAcceptHeader() string
	GetUserAgent() string
}

// PaywallConfig configures the HTML paywall for browser requests.
type PaywallConfig struct {
	AppName    string `json:"appName,omitempty"`
	AppLogo    string `json:"appLogo,omitempty"`
	CurrentURL string `json:"currentUrl,omitempty"`
	Testnet    bool   `json:"testnet,omitempty"`
}

// DynamicPayToFunc resolves the payTo address per request.
type DynamicPayToFunc func(context.Context, HTTPRequestContext) (string, error)

// DynamicPriceFunc resolves the price per request.
type DynamicPriceFunc func(context.Context, HTTPRequestContext) (x402.Price, error)

// UnpaidResponse is the custom response for unpaid (402) API requests,
// letting servers return preview data or error messages when a request
// lacks payment.
type UnpaidResponse struct {
	ContentType string
	Body        interface{}
}

// UnpaidResponseBodyFunc generates a custom response for unpaid API
// requests. For browser requests the paywall HTML takes precedence.
type UnpaidResponseBodyFunc func(ctx context.Context, reqCtx HTTPRequestContext) (*UnpaidResponse, error)

// PaymentOption is one way a client can pay for access to a route.
// PayTo may be a string or a DynamicPayToFunc; Price may be an x402.Price
// or a DynamicPriceFunc.
type PaymentOption struct {
	Scheme            string                 `json:"scheme"`
	PayTo             interface{}            `json:"payTo"`
	Price             interface{}            `json:"price"`
	Network           x402.Network           `json:"network"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds,omitempty"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// PaymentOptions is a slice of PaymentOption for convenience.
type PaymentOptions = []PaymentOption

// RouteConfig defines payment configuration for an HTTP endpoint.
type RouteConfig struct {
	Accepts PaymentOptions `json:"accepts"`

	Resource          string                 `json:"resource,omitempty"`
	Description       string                 `json:"description,omitempty"`
	MimeType          string                 `json:"mimeType,omitempty"`
	CustomPaywallHTML string                 `json:"customPaywallHtml,omitempty"`
	Extensions        map[string]interface{} `json:"extensions,omitempty"`

	UnpaidResponseBody UnpaidResponseBodyFunc `json:"-"`
}

// HTTPRequestContext encapsulates an HTTP request for payment processing.
// It is also the opaque transport context handed to extensions.
type HTTPRequestContext struct {
	Adapter       HTTPAdapter
	Path          string
	Method        string
	PaymentHeader string
}

// TransportMethod identifies the transport for extensions that key
// declarations by it.
func (c HTTPRequestContext) TransportMethod() string { return "http" }

// HTTPResponseInstructions tells the framework how to respond.
type HTTPResponseInstructions struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    interface{}       `json:"body,omitempty"`
	IsHTML  bool              `json:"isHtml,omitempty"`
}

// HTTPProcessResult is the outcome of ProcessHTTPRequest. On
// payment-verified the payload and matched requirement bytes are carried
// for the deferred settlement call.
type HTTPProcessResult struct {
	Type               string
	Response           *HTTPResponseInstructions
	PaymentPayload     []byte
	MatchedRequirement []byte
	DeclaredExtensions map[string]interface{}
}

// Result type constants.
const (
	ResultNoPaymentRequired = "no-payment-required"
	ResultPaymentVerified   = "payment-verified"
	ResultPaymentError      = "payment-error"
)

// ProcessSettleResult is the outcome of settlement processing.
type ProcessSettleResult struct {
	Success     bool
	Headers     map[string]string
	ErrorReason string
	Transaction string
	Network     x402.Network
	Payer       string
}

// ProtectedRequestResult is returned by OnProtectedRequest hooks.
// GrantAccess short-circuits payment entirely; Abort rejects the request
// with Reason; the zero value continues normal processing.
type ProtectedRequestResult struct {
	GrantAccess bool
	Abort       bool
	Reason      string
}

// OnProtectedRequestHook runs when a protected route is hit, before any
// payment header is examined. SIWX registers its re-authentication check
// here.
type OnProtectedRequestHook func(ctx context.Context, reqCtx HTTPRequestContext) (*ProtectedRequestResult, error)

// X402HTTPResourceServer layers HTTP semantics over the core resource
// server: route matching, header codec, paywall dispatch, and deferred
// settlement.
type X402HTTPResourceServer struct {
	*x402.X402ResourceServer
	compiledRoutes          []compiledRoute
	paywallProvider         PaywallProvider
	onProtectedRequestHooks []OnProtectedRequestHook
	logger                  *slog.Logger
}

// Newx402HTTPResourceServer creates an HTTP resource server with a fresh
// core server.
func Newx402HTTPResourceServer(routes RoutesConfig, opts ...x402.ResourceServerOption) *X402HTTPResourceServer {
	return Wrappedx402HTTPResourceServer(routes, x402.Newx402ResourceServer(opts...))
}

// Wrappedx402HTTPResourceServer wraps an existing resource server with
// HTTP functionality.
func Wrappedx402HTTPResourceServer(routes RoutesConfig, resourceServer *x402.X402ResourceServer) *X402HTTPResourceServer {
	if routes == nil {
		routes = make(RoutesConfig)
	}
	return &X402HTTPResourceServer{
		X402ResourceServer: resourceServer,
		compiledRoutes:     compileRoutes(routes),
		logger:             slog.Default(),
	}
}

// SetPaywallProvider registers the provider used for browser-facing 402
// responses. Without one, browsers get the JSON response.
func (s *X402HTTPResourceServer) SetPaywallProvider(provider PaywallProvider) *X402HTTPResourceServer {
	s.paywallProvider = provider
	return s
}

// OnProtectedRequest registers a hook to run before payment verification
// on protected routes. Hooks run in registration order; the first decisive
// result wins.
func (s *X402HTTPResourceServer) OnProtectedRequest(hook OnProtectedRequestHook) *X402HTTPResourceServer {
	s.onProtectedRequestHooks = append(s.onProtectedRequestHooks, hook)
	return s
}

// RequiresPayment reports whether a request matches a protected route.
func (s *X402HTTPResourceServer) RequiresPayment(reqCtx HTTPRequestContext) bool {
	return matchRoute(s.compiledRoutes, reqCtx.Path, reqCtx.Method) != nil
}

// BuildPaymentRequirementsFromOptions builds requirements for each payment
// option, resolving dynamic payTo/price against the request context.
func (s *X402HTTPResourceServer) BuildPaymentRequirementsFromOptions(ctx context.Context, options []PaymentOption, reqCtx HTTPRequestContext) ([]x402.PaymentRequirements, error) {
	allRequirements := make([]x402.PaymentRequirements, 0, len(options))

	for _, option := range options {
		var resolvedPayTo string
		switch payTo := option.PayTo.(type) {
		case DynamicPayToFunc:
			resolved, err := payTo(ctx, reqCtx)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve dynamic payTo: %w", err)
			}
			resolvedPayTo = resolved
		case func(context.Context, HTTPRequestContext) (string, error):
			resolved, err := payTo(ctx, reqCtx)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve dynamic payTo: %w", err)
			}
			resolvedPayTo = resolved
		case string:
			resolvedPayTo = payTo
		default:
			return nil, fmt.Errorf("payTo must be string or DynamicPayToFunc, got %T", option.PayTo)
		}

		var resolvedPrice x402.Price
		switch price := option.Price.(type) {
		case DynamicPriceFunc:
			resolved, err := price(ctx, reqCtx)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve dynamic price: %w", err)
			}
			resolvedPrice = resolved
		case func(context.Context, HTTPRequestContext) (x402.Price, error):
			resolved, err := price(ctx, reqCtx)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve dynamic price: %w", err)
			}
			resolvedPrice = resolved
		default:
			resolvedPrice = option.Price
		}

		resourceConfig := x402.ResourceConfig{
			Scheme:            option.Scheme,
			PayTo:             resolvedPayTo,
			Price:             resolvedPrice,
			Network:           option.Network,
			MaxTimeoutSeconds: option.MaxTimeoutSeconds,
		}

		requirements, err := s.BuildPaymentRequirements(ctx, resourceConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build requirements for option %s on %s: %w", option.Scheme, option.Network, err)
		}

		allRequirements = append(allRequirements, requirements...)
	}

	return allRequirements, nil
}

// ProcessHTTPRequest handles a request against the route table. It never
// settles: on payment-verified the caller must run the protected handler
// and then call ProcessSettlement only when the handler succeeded.
func (s *X402HTTPResourceServer) ProcessHTTPRequest(ctx context.Context, reqCtx HTTPRequestContext, paywallConfig *PaywallConfig) HTTPProcessResult {
	routeConfig := matchRoute(s.compiledRoutes, reqCtx.Path, reqCtx.Method)
	if routeConfig == nil || len(routeConfig.Accepts) == 0 {
		return HTTPProcessResult{Type: ResultNoPaymentRequired}
	}

	for _, hook := range s.onProtectedRequestHooks {
		result, err := hook(ctx, reqCtx)
		if err != nil {
			s.logger.Warn("onProtectedRequest hook error", "path", reqCtx.Path, "error", err)
			continue
		}
		if result == nil {
			continue
		}
		if result.GrantAccess {
			return HTTPProcessResult{Type: ResultNoPaymentRequired}
		}
		if result.Abort {
			return HTTPProcessResult{
				Type: ResultPaymentError,
				Response: &HTTPResponseInstructions{
					Status:  402,
					Headers: map[string]string{"Content-Type": "application/json"},
					Body:    map[string]string{"error": result.Reason},
				},
			}
		}
	}

	payloadBytes, err := s.extractPayment(reqCtx)
	if err != nil {
		return HTTPProcessResult{
			Type: ResultPaymentError,
			Response: &HTTPResponseInstructions{
				Status:  400,
				Headers: map[string]string{"Content-Type": "application/json"},
				Body:    map[string]string{"error": fmt.Sprintf("Invalid payment: %v", err)},
			},
		}
	}

	requirements, err := s.BuildPaymentRequirementsFromOptions(ctx, routeConfig.Accepts, reqCtx)
	if err != nil {
		return HTTPProcessResult{
			Type: ResultPaymentError,
			Response: &HTTPResponseInstructions{
				Status:  500,
				Headers: map[string]string{"Content-Type": "application/json"},
				Body:    map[string]string{"error": err.Error()},
			},
		}
	}

	resourceInfo := x402.ResourceInfo{
		URL:         reqCtx.Adapter.GetURL(),
		Description: routeConfig.Description,
		MimeType:    routeConfig.MimeType,
	}

	extensions := s.EnrichExtensions(routeConfig.Extensions, reqCtx)

	if payloadBytes == nil {
		paymentRequired := s.CreatePaymentRequiredResponse(requirements, resourceInfo, "", extensions)

		var unpaidResponse *UnpaidResponse
		if routeConfig.UnpaidResponseBody != nil {
			unpaidResponse, err = routeConfig.UnpaidResponseBody(ctx, reqCtx)
			if err != nil {
				return HTTPProcessResult{
					Type: ResultPaymentError,
					Response: &HTTPResponseInstructions{
						Status:  500,
						Headers: map[string]string{"Content-Type": "application/json"},
						Body:    map[string]string{"error": fmt.Sprintf("Failed to generate unpaid response: %v", err)},
					},
				}
			}
		}

		return HTTPProcessResult{
			Type:     ResultPaymentError,
			Response: s.create402Response(paymentRequired, s.isWebBrowser(reqCtx.Adapter), paywallConfig, routeConfig.CustomPaywallHTML, unpaidResponse),
		}
	}

	matching := s.FindMatchingRequirements(requirements, payloadBytes)
	if matching == nil {
		paymentRequired := s.CreatePaymentRequiredResponse(requirements, resourceInfo, "No matching payment requirements", extensions)
		return HTTPProcessResult{
			Type:     ResultPaymentError,
			Response: s.create402Response(paymentRequired, false, paywallConfig, "", nil),
		}
	}

	requirementsBytes, err := json.Marshal(matching)
	if err != nil {
		return HTTPProcessResult{
			Type: ResultPaymentError,
			Response: &HTTPResponseInstructions{
				Status:  500,
				Headers: map[string]string{"Content-Type": "application/json"},
				Body:    map[string]string{"error": err.Error()},
			},
		}
	}

	verification, verifyErr := s.VerifyPayment(ctx, payloadBytes, requirementsBytes)
	if verifyErr != nil || !verification.IsValid {
		errorMsg := ""
		if verifyErr != nil {
			errorMsg = verifyErr.Error()
		} else {
			errorMsg = verification.InvalidReason
		}

		paymentRequired := s.CreatePaymentRequiredResponse(requirements, resourceInfo, errorMsg, extensions)
		return HTTPProcessResult{
			Type:     ResultPaymentError,
			Response: s.create402Response(paymentRequired, false, paywallConfig, "", nil),
		}
	}

	return HTTPProcessResult{
		Type:               ResultPaymentVerified,
		PaymentPayload:     payloadBytes,
		MatchedRequirement: requirementsBytes,
		DeclaredExtensions: routeConfig.Extensions,
	}
}

// ProcessSettlement settles a verified payment after the protected handler
// succeeded and builds the settlement headers for the response.
func (s *X402HTTPResourceServer) ProcessSettlement(ctx context.Context, payloadBytes, requirementsBytes []byte, declaredExtensions map[string]interface{}) *ProcessSettleResult {
	settleResult, err := s.SettlePaymentWithExtensions(ctx, payloadBytes, requirementsBytes, declaredExtensions)
	if err != nil {
		return &ProcessSettleResult{
			Success:     false,
			ErrorReason: err.Error(),
		}
	}

	if !settleResult.Success {
		return &ProcessSettleResult{
			Success:     false,
			ErrorReason: settleResult.ErrorReason,
		}
	}

	return &ProcessSettleResult{
		Success:     true,
		Headers:     s.createSettlementHeaders(payloadBytes, settleResult),
		Transaction: settleResult.Transaction,
		Network:     settleResult.Network,
		Payer:       settleResult.Payer,
	}
}

// extractPayment pulls the payment payload from the request headers.
// Returns nil bytes when no payment header is present.
func (s *X402HTTPResourceServer) extractPayment(reqCtx HTTPRequestContext) ([]byte, error) {
	header := reqCtx.PaymentHeader
	if header == "" && reqCtx.Adapter != nil {
		header = reqCtx.Adapter.GetHeader("PAYMENT-SIGNATURE")
		if header == "" {
			header = reqCtx.Adapter.GetHeader("X-PAYMENT")
		}
	}
	if header == "" {
		return nil, nil
	}

	payload, err := ValidateAndDecodePaymentHeader(header)
	if err != nil {
		return nil, err
	}

	return payload, nil
}

// isWebBrowser checks if the request is from a web browser.
func (s *X402HTTPResourceServer) isWebBrowser(adapter HTTPAdapter) bool {
	if adapter == nil {
		return false
	}
	accept := adapter.GetAcceptHeader()
	userAgent := adapter.GetUserAgent()
	return strings.Contains(accept, "text/html") && strings.Contains(userAgent, "Mozilla")
}

// create402Response builds the 402 response instructions: HTML when the
// request comes from a browser and a paywall is available, JSON with the
// PAYMENT-REQUIRED header otherwise.
func (s *X402HTTPResourceServer) create402Response(paymentRequired x402.PaymentRequired, isWebBrowser bool, paywallConfig *PaywallConfig, customHTML string, unpaidResponse *UnpaidResponse) *HTTPResponseInstructions {
	if isWebBrowser {
		html := customHTML
		if html == "" && s.paywallProvider != nil {
			html = s.paywallProvider.GenerateHTML(paymentRequired, paywallConfig)
		}
		if html != "" {
			return &HTTPResponseInstructions{
				Status:  402,
				Headers: map[string]string{"Content-Type": "text/html"},
				Body:    html,
				IsHTML:  true,
			}
		}
	}

	contentType := "application/json"
	var body interface{}
	if unpaidResponse != nil {
		contentType = unpaidResponse.ContentType
		body = unpaidResponse.Body
	}

	return &HTTPResponseInstructions{
		Status: 402,
		Headers: map[string]string{
			"Content-Type":                  contentType,
			"PAYMENT-REQUIRED":              encodePaymentRequiredHeader(paymentRequired),
			"Access-Control-Expose-Headers": "PAYMENT-REQUIRED",
		},
		Body: body,
	}
}

// createSettlementHeaders encodes the settlement response under the header
// the payer's protocol version expects.
func (s *X402HTTPResourceServer) createSettlementHeaders(payloadBytes []byte, response *x402.SettleResponse) map[string]string {
	headerName := "PAYMENT-RESPONSE"
	if version, err := types.DetectVersion(payloadBytes); err == nil && version == x402.ProtocolVersionV1 {
		headerName = "X-PAYMENT-RESPONSE"
	}

	headers := map[string]string{
		headerName:                      encodePaymentResponseHeader(*response),
		"Access-Control-Expose-Headers": headerName,
	}
	for k, v := range response.Headers {
		headers[k] = v
	}
	return headers
}
