package util

import (
	"net/url"
	"strings"
)

// SafeTruncate safely truncates a string to maxLen bytes without panicking.
// It is used when logging token prefixes. A negative maxLen returns "".
//
// Example:
//
//	SafeTruncate("very-long-token-abc123", 8) // Returns: "very-lon"
//	SafeTruncate("short", 10)                  // Returns: "short"
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL removes trailing slashes so issuer URLs with and without a
// trailing slash compare equal.
func NormalizeURL(u string) string {
	return strings.TrimRight(u, "/")
}

// IsLocalPath reports whether p is an absolute path on the current origin:
// it must start with a single "/", carry no scheme or host, and contain no
// backslashes (which some user agents treat as "/").
//
// Example:
//
//	IsLocalPath("/profile?tab=keys") // true
//	IsLocalPath("//evil.example")    // false
//	IsLocalPath("https://evil.example/") // false
func IsLocalPath(p string) bool {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.Contains(p, `\`) {
		return false
	}
	u, err := url.Parse(p)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == "" && u.User == nil
}
