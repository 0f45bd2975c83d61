// Package testutil provides testing utilities for the console core: a fake
// OpenID Connect identity provider served over TLS, an in-memory console API,
// identity fixtures and a mock time source.
package testutil
