// Package rpc is the transport boundary used by the console core.
//
// Remote procedures are modelled as values: a Procedure[Req, Res] names the
// procedure and invokes it through a Client, so interceptors and the query cache
// stay generic over procedure identity. Every call flows through the Client's
// interceptor chain, which is where authentication headers are attached.
//
// The default wire encoding is JSON over HTTP POST to {baseURL}/{procedure}.
// Failures are returned as *Error carrying a Code:
//
//	{"code": "unauthenticated", "message": "token expired"}
//
// Callers classify failures with CodeOf:
//
//	if rpc.CodeOf(err) == rpc.CodeUnauthenticated { ... }
package rpc
