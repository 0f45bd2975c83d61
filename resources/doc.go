// Package resources exposes the console's organizations and projects as cached
// queries and optimistic mutations.
//
// Reads go through the query cache, keyed by procedure and request parameters.
// Writes go through the mutation orchestrator: deletes remove the item from every
// cached list immediately and roll back if the server rejects them; creates wait
// for the server and then invalidate the affected lists.
//
// All calls use the same rpc.Client, so the authentication interceptor governs
// reads and writes alike.
package resources
