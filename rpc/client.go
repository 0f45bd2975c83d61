package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/giantswarm/console-core/instrumentation"
)

const (
	// DefaultTimeout bounds a single call when the context carries no deadline
	DefaultTimeout = 30 * time.Second

	// maxResponseSize limits how much of a response body is read
	maxResponseSize = 10 << 20

	contentTypeJSON = "application/json"
)

// Request is an outgoing call as seen by interceptors
type Request struct {
	// Procedure is the fully qualified procedure name, e.g. "console.v1.OrganizationService/ListOrganizations"
	Procedure string

	// Header carries request metadata; interceptors add to it before dispatch
	Header http.Header

	// Msg is the request message
	Msg any
}

// UnaryFunc sends a request and decodes the response into out
type UnaryFunc func(ctx context.Context, req *Request, out any) error

// Interceptor wraps a UnaryFunc. Interceptors run in registration order, the first
// registered being the outermost.
type Interceptor func(next UnaryFunc) UnaryFunc

// Client invokes remote procedures through an interceptor chain
type Client struct {
	baseURL    string
	httpClient *http.Client
	transport  UnaryFunc
	logger     *slog.Logger
	limiter    *rate.Limiter

	interceptors    []Interceptor
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	chain UnaryFunc
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithInterceptors appends interceptors to the chain
func WithInterceptors(interceptors ...Interceptor) ClientOption {
	return func(c *Client) {
		c.interceptors = append(c.interceptors, interceptors...)
	}
}

// WithHTTPClient sets the HTTP client used by the JSON transport
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithInstrumentation enables metrics and tracing for outgoing calls
func WithInstrumentation(inst *instrumentation.Instrumentation) ClientOption {
	return func(c *Client) {
		c.instrumentation = inst
	}
}

// WithRateLimit limits outgoing calls to rps per second with the given burst.
// Calls wait for a token and fail only if the context ends first.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps > 0 {
			if burst < 1 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// NewClient creates a client sending JSON over HTTP to baseURL
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := newClient(opts...)
	c.baseURL = strings.TrimRight(baseURL, "/")
	c.transport = c.sendHTTP
	c.chain = c.buildChain()
	return c
}

// NewClientWithTransport creates a client dispatching through a custom transport.
// Useful for in-process servers and tests.
func NewClientWithTransport(transport UnaryFunc, opts ...ClientOption) *Client {
	c := newClient(opts...)
	c.transport = transport
	c.chain = c.buildChain()
	return c
}

func newClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.instrumentation != nil {
		c.tracer = c.instrumentation.Tracer("rpc")
	}
	return c
}

func (c *Client) buildChain() UnaryFunc {
	next := c.transport
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		next = c.interceptors[i](next)
	}
	return next
}

// Call invokes procedure with msg and decodes the response into out (which may be nil)
func (c *Client) Call(ctx context.Context, procedure string, msg, out any) error {
	if procedure == "" {
		return NewError(CodeInvalidArgument, "procedure is required")
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &Error{Code: CodeResourceExhausted, Message: "rate limit wait aborted", cause: err}
		}
	}

	var span trace.Span
	if c.tracer != nil {
		ctx, span = c.tracer.Start(ctx, "rpc."+procedure)
		defer span.End()
	}

	req := &Request{
		Procedure: procedure,
		Header:    make(http.Header),
		Msg:       msg,
	}

	start := time.Now()
	err := c.chain(ctx, req, out)
	code := CodeOf(err)

	if span != nil {
		instrumentation.AddRPCAttributes(span, procedure, req.Header.Get("Authorization") != "")
		instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrRPCCode, string(code)))
		if err != nil {
			instrumentation.RecordError(span, err)
		} else {
			instrumentation.SetSpanSuccess(span)
		}
	}
	if c.instrumentation != nil {
		c.instrumentation.Metrics().RecordRPCCall(ctx, procedure, string(code), float64(time.Since(start).Milliseconds()))
	}

	if err != nil {
		c.logger.Debug("RPC call failed", "procedure", procedure, "code", code, "error", err)
		return err
	}
	return nil
}

// sendHTTP is the default JSON-over-HTTP transport
func (c *Client) sendHTTP(ctx context.Context, req *Request, out any) error {
	body, err := json.Marshal(req.Msg)
	if err != nil {
		return &Error{Code: CodeInvalidArgument, Message: "failed to encode request", cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+req.Procedure, bytes.NewReader(body))
	if err != nil {
		return &Error{Code: CodeInternal, Message: "failed to create request", cause: err}
	}
	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}
	httpReq.Header.Set("Content-Type", contentTypeJSON)
	httpReq.Header.Set("Accept", contentTypeJSON)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &Error{Code: CodeOf(ctxErr), Message: "call aborted", cause: err}
		}
		return &Error{Code: CodeUnavailable, Message: "request failed", cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &Error{Code: CodeUnavailable, Message: "failed to read response", HTTPStatus: resp.StatusCode, cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, payload)
	}

	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &Error{Code: CodeInternal, Message: "failed to decode response", HTTPStatus: resp.StatusCode, cause: err}
	}
	return nil
}

// decodeError builds an *Error from a non-2xx response
func decodeError(status int, payload []byte) *Error {
	var wire struct {
		Code    Code   `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &wire); err != nil || wire.Code == "" {
		return &Error{
			Code:       codeFromHTTPStatus(status),
			Message:    http.StatusText(status),
			HTTPStatus: status,
		}
	}
	return &Error{Code: wire.Code, Message: wire.Message, HTTPStatus: status}
}

// Is reports whether err is an *Error with the given code
func Is(err error, code Code) bool {
	var rpcErr *Error
	return errors.As(err, &rpcErr) && rpcErr.Code == code
}
