package rpc

import (
	"context"
	"regexp"

	"github.com/google/uuid"
)

// RequestIDHeader carries the correlation ID of an outgoing call
const RequestIDHeader = "X-Request-ID"

type requestIDContextKey struct{}

// requestIDPattern keeps caller-supplied IDs safe to put in a header
var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// WithRequestID returns a context whose calls carry requestID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// RequestIDFromContext returns the request ID set by WithRequestID, if any
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDContextKey{}).(string); ok {
		return id
	}
	return ""
}

// RequestIDInterceptor sets RequestIDHeader on every call. The ID comes from
// the context when valid, otherwise a random UUID is used.
func RequestIDInterceptor() Interceptor {
	return func(next UnaryFunc) UnaryFunc {
		return func(ctx context.Context, req *Request, out any) error {
			id := RequestIDFromContext(ctx)
			if !requestIDPattern.MatchString(id) {
				id = uuid.NewString()
			}
			req.Header.Set(RequestIDHeader, id)
			return next(ctx, req, out)
		}
	}
}
