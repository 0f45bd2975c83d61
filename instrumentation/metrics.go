package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the console core
type Metrics struct {
	// Session / login flow metrics
	LoginStarted      metric.Int64Counter
	CallbackProcessed metric.Int64Counter
	CodeExchanged     metric.Int64Counter
	TokenRefreshed    metric.Int64Counter
	SignedOut         metric.Int64Counter
	CredentialCleared metric.Int64Counter

	// RPC transport metrics
	RPCCallsTotal metric.Int64Counter
	RPCDuration   metric.Float64Histogram
	RPCErrors     metric.Int64Counter

	// Query cache metrics
	CacheReads         metric.Int64Counter
	CacheFetches       metric.Int64Counter
	CacheInvalidations metric.Int64Counter
	CacheCancellations metric.Int64Counter
	CacheEntries       metric.Int64ObservableGauge

	// Mutation metrics
	MutationsTotal    metric.Int64Counter
	MutationDuration  metric.Float64Histogram
	MutationRollbacks metric.Int64Counter

	// Provider metrics
	ProviderAPICallsTotal metric.Int64Counter
	ProviderAPIDuration   metric.Float64Histogram
	ProviderAPIErrors     metric.Int64Counter

	// Audit metrics
	AuditEventsTotal metric.Int64Counter
}

type counterSpec struct {
	target *metric.Int64Counter
	meter  metric.Meter
	name   string
	desc   string
	unit   string
}

type histogramSpec struct {
	target *metric.Float64Histogram
	meter  metric.Meter
	name   string
	desc   string
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	sessionMeter := inst.Meter("session")
	rpcMeter := inst.Meter("rpc")
	cacheMeter := inst.Meter("cache")
	mutationMeter := inst.Meter("mutation")
	providerMeter := inst.Meter("provider")
	securityMeter := inst.Meter("security")

	counters := []counterSpec{
		{&m.LoginStarted, sessionMeter, "console.login.started", "Number of login flows started", "{flow}"},
		{&m.CallbackProcessed, sessionMeter, "console.login.callback.processed", "Number of identity provider callbacks processed", "{callback}"},
		{&m.CodeExchanged, sessionMeter, "console.login.code.exchanged", "Number of authorization codes exchanged for tokens", "{exchange}"},
		{&m.TokenRefreshed, sessionMeter, "console.token.refreshed", "Number of credential refresh attempts", "{refresh}"},
		{&m.SignedOut, sessionMeter, "console.session.signed_out", "Number of sign-outs", "{signout}"},
		{&m.CredentialCleared, sessionMeter, "console.credential.cleared", "Number of credentials cleared after authentication failures", "{credential}"},
		{&m.RPCCallsTotal, rpcMeter, "console.rpc.calls.total", "Total number of outgoing RPC calls", "{call}"},
		{&m.RPCErrors, rpcMeter, "console.rpc.errors.total", "Total number of failed RPC calls", "{error}"},
		{&m.CacheReads, cacheMeter, "console.cache.reads.total", "Number of query cache reads", "{read}"},
		{&m.CacheFetches, cacheMeter, "console.cache.fetches.total", "Number of query cache fetches", "{fetch}"},
		{&m.CacheInvalidations, cacheMeter, "console.cache.invalidations.total", "Number of entries marked stale", "{entry}"},
		{&m.CacheCancellations, cacheMeter, "console.cache.cancellations.total", "Number of in-flight fetches cancelled", "{fetch}"},
		{&m.MutationsTotal, mutationMeter, "console.mutation.total", "Number of settled mutations", "{mutation}"},
		{&m.MutationRollbacks, mutationMeter, "console.mutation.rollbacks.total", "Number of optimistic edits rolled back", "{rollback}"},
		{&m.ProviderAPICallsTotal, providerMeter, "provider.api.calls.total", "Total number of identity provider calls", "{call}"},
		{&m.ProviderAPIErrors, providerMeter, "provider.api.errors.total", "Total number of identity provider errors", "{error}"},
		{&m.AuditEventsTotal, securityMeter, "console.audit.events.total", "Total number of audit events", "{event}"},
	}
	for _, c := range counters {
		counter, err := c.meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.target = counter
	}

	histograms := []histogramSpec{
		{&m.RPCDuration, rpcMeter, "console.rpc.duration", "RPC call duration in milliseconds"},
		{&m.MutationDuration, mutationMeter, "console.mutation.duration", "Mutation duration from start to settlement in milliseconds"},
		{&m.ProviderAPIDuration, providerMeter, "provider.api.duration", "Identity provider call duration in milliseconds"},
	}
	for _, h := range histograms {
		histogram, err := h.meter.Float64Histogram(h.name, metric.WithDescription(h.desc), metric.WithUnit("ms"))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s histogram: %w", h.name, err)
		}
		*h.target = histogram
	}

	var err error
	m.CacheEntries, err = cacheMeter.Int64ObservableGauge(
		"console.cache.entries",
		metric.WithDescription("Current number of query cache entries"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache.entries gauge: %w", err)
	}

	return m, nil
}

// Helper methods for common metric recording patterns

// RecordLoginStarted records the start of a login flow
func (m *Metrics) RecordLoginStarted(ctx context.Context, provider string) {
	m.LoginStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
	))
}

// RecordCallbackProcessed records an identity provider callback
func (m *Metrics) RecordCallbackProcessed(ctx context.Context, provider string, success bool) {
	m.CallbackProcessed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("success", success),
	))
}

// RecordCodeExchange records an authorization code exchange
func (m *Metrics) RecordCodeExchange(ctx context.Context, provider, pkceMethod string, success bool) {
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("pkce_method", pkceMethod),
		attribute.Bool("success", success),
	))
}

// RecordTokenRefresh records a credential refresh attempt
func (m *Metrics) RecordTokenRefresh(ctx context.Context, provider string, success bool) {
	m.TokenRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("success", success),
	))
}

// RecordSignOut records a sign-out
func (m *Metrics) RecordSignOut(ctx context.Context) {
	m.SignedOut.Add(ctx, 1)
}

// RecordCredentialCleared records a credential cleared for the given reason
func (m *Metrics) RecordCredentialCleared(ctx context.Context, reason string) {
	m.CredentialCleared.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordRPCCall records an outgoing RPC call
func (m *Metrics) RecordRPCCall(ctx context.Context, procedure, code string, durationMs float64) {
	m.RPCCallsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("procedure", procedure),
		attribute.String("code", code),
	))
	m.RPCDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("procedure", procedure),
	))
	if code != "ok" {
		m.RPCErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("procedure", procedure),
			attribute.String("code", code),
		))
	}
}

// RecordCacheRead records a cache read and whether it was served from a fresh entry
func (m *Metrics) RecordCacheRead(ctx context.Context, hit bool) {
	m.CacheReads.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("hit", hit),
	))
}

// RecordCacheFetch records a completed cache fetch
func (m *Metrics) RecordCacheFetch(ctx context.Context, result string) {
	m.CacheFetches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
	))
}

// RecordCacheInvalidation records the number of entries marked stale
func (m *Metrics) RecordCacheInvalidation(ctx context.Context, entries int) {
	m.CacheInvalidations.Add(ctx, int64(entries))
}

// RecordCacheCancellation records the number of in-flight fetches cancelled
func (m *Metrics) RecordCacheCancellation(ctx context.Context, fetches int) {
	m.CacheCancellations.Add(ctx, int64(fetches))
}

// RecordMutation records a settled mutation
func (m *Metrics) RecordMutation(ctx context.Context, name, outcome string, durationMs float64) {
	m.MutationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mutation", name),
		attribute.String("outcome", outcome),
	))
	m.MutationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("mutation", name),
	))
}

// RecordMutationRollback records a rollback of an optimistic edit
func (m *Metrics) RecordMutationRollback(ctx context.Context, name string, entries int) {
	m.MutationRollbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mutation", name),
		attribute.Int("entries", entries),
	))
}

// RecordProviderAPICall records an identity provider call
func (m *Metrics) RecordProviderAPICall(ctx context.Context, provider, operation string, durationMs float64, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("provider", provider),
		attribute.String("operation", operation),
	}

	m.ProviderAPICallsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.ProviderAPIDuration.Record(ctx, durationMs, metric.WithAttributes(attrs...))

	if err != nil {
		m.ProviderAPIErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}
