// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for the console core.
//
// This package enables observability across all library layers through:
// - Metrics: Counters, histograms, and gauges for login flows, RPC calls, cache and mutations
// - Traces: Spans for login, token exchange, RPC calls and mutation stages
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "console",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
// When Enabled is true and no TracerProvider is configured, an SDK tracer provider is
// created with the service resource. Metrics use the configured MeterProvider or a no-op.
//
// # Available Metrics
//
// Session:
//   - console.login.started{provider} - Login flows started
//   - console.login.callback.processed{provider, success} - Callbacks processed
//   - console.login.code.exchanged{provider, pkce_method, success} - Code exchanges
//   - console.token.refreshed{provider, success} - Refresh attempts
//   - console.credential.cleared{reason} - Credentials cleared after auth failures
//
// RPC:
//   - console.rpc.calls.total{procedure, code} - Outgoing calls
//   - console.rpc.duration{procedure} - Call duration in milliseconds
//
// Cache:
//   - console.cache.reads.total{hit}, console.cache.fetches.total{result}
//   - console.cache.invalidations.total, console.cache.cancellations.total
//   - console.cache.entries - Current number of entries
//
// Mutations:
//   - console.mutation.total{mutation, outcome}, console.mutation.duration{mutation}
//   - console.mutation.rollbacks.total{mutation, entries}
//
// # Security Considerations
//
// Traces and metrics carry metadata only. Token values, authorization codes and PKCE
// verifiers must never be recorded.
package instrumentation
