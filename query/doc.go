// Package query is a keyed cache of server-owned data.
//
// Each slot is identified by a Key: the procedure path plus its request
// parameters. Parameter order does not matter, so two calls with the same
// procedure and parameters always share a slot. Entries hold the last confirmed
// server response (or an optimistic edit not yet rolled back), a freshness
// timestamp and a stale flag.
//
// Stored values are treated as immutable: edits replace values, they never
// mutate them in place. This is what lets snapshots be plain slices of entries.
//
// Subscribers registered for a key are notified synchronously, in registration
// order, after every change to that key. Listeners may call back into the cache.
//
// Fetch de-duplicates concurrent loads of the same key with singleflight. Cancel
// marks in-flight loads under a prefix as superseded; their results are dropped
// when they arrive.
package query
