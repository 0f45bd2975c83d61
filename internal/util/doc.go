// Package util provides small helpers shared across the console core packages.
//
// Key utilities:
//   - SafeTruncate: Safely truncates strings for logging sensitive data
//   - NormalizeURL: Removes trailing slashes for issuer comparison
//   - IsLocalPath: Validates post-login return paths against open redirects
package util
