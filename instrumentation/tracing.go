package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys
//
// SECURITY WARNING: Never put credential values (access tokens, refresh tokens,
// ID tokens, authorization codes, PKCE verifiers) into traces or metrics. Only
// record metadata such as token types, expiry times and validation results.
const (
	// Login flow attributes
	AttrProvider     = "console.provider"
	AttrSubject      = "console.subject" // Identity subject (non-secret)
	AttrScope        = "console.scope"
	AttrPKCEMethod   = "console.pkce.method"
	AttrFlowState    = "console.flow.state" // Flow manager state name, not the CSRF state value
	AttrReturnPath   = "console.return_path"
	AttrTokenType    = "console.token_type"    //nolint:gosec // Token type (Bearer, etc.) - NOT the actual token
	AttrTokenPresent = "console.token_present" //nolint:gosec // Whether a credential was attached (boolean)
	AttrError        = "console.error"

	// RPC attributes
	AttrRPCProcedure = "rpc.procedure"
	AttrRPCCode      = "rpc.code"

	// Cache attributes
	AttrCacheKey     = "cache.key"
	AttrCacheEntries = "cache.entries"

	// Mutation attributes
	AttrMutationID    = "mutation.id"
	AttrMutationName  = "mutation.name"
	AttrMutationStage = "mutation.stage"

	// Provider attributes
	AttrProviderName      = "provider.name"
	AttrProviderOperation = "provider.operation"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddLoginAttributes adds common login flow attributes to a span (nil-safe)
func AddLoginAttributes(span trace.Span, provider, subject, scope string) {
	if provider != "" {
		SetSpanAttributes(span, attribute.String(AttrProvider, provider))
	}
	if subject != "" {
		SetSpanAttributes(span, attribute.String(AttrSubject, subject))
	}
	if scope != "" {
		SetSpanAttributes(span, attribute.String(AttrScope, scope))
	}
}

// AddPKCEAttributes adds PKCE-related attributes to a span (nil-safe)
func AddPKCEAttributes(span trace.Span, method string) {
	if method != "" {
		SetSpanAttributes(span, attribute.String(AttrPKCEMethod, method))
	}
}

// AddRPCAttributes adds RPC attributes to a span (nil-safe)
func AddRPCAttributes(span trace.Span, procedure string, tokenPresent bool) {
	SetSpanAttributes(span,
		attribute.String(AttrRPCProcedure, procedure),
		attribute.Bool(AttrTokenPresent, tokenPresent),
	)
}

// AddMutationAttributes adds mutation attributes to a span (nil-safe)
func AddMutationAttributes(span trace.Span, id, name, stage string) {
	SetSpanAttributes(span,
		attribute.String(AttrMutationID, id),
		attribute.String(AttrMutationName, name),
		attribute.String(AttrMutationStage, stage),
	)
}

// AddProviderAttributes adds provider attributes to a span (nil-safe)
func AddProviderAttributes(span trace.Span, providerName, operation string) {
	SetSpanAttributes(span,
		attribute.String(AttrProviderName, providerName),
		attribute.String(AttrProviderOperation, operation),
	)
}
