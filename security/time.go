package security

import "time"

const (
	// DefaultClockSkewGracePeriod is the grace period applied to credential expiry checks.
	// It absorbs small clock differences between the client and the identity provider.
	DefaultClockSkewGracePeriod = 5 * time.Second

	// DefaultRefreshThreshold is how long before expiry a credential is considered
	// due for refresh.
	DefaultRefreshThreshold = time.Minute
)

// IsExpired reports whether expiresAt lies more than DefaultClockSkewGracePeriod
// before now. A zero expiresAt never expires.
func IsExpired(expiresAt, now time.Time) bool {
	return IsExpiredWithGracePeriod(expiresAt, now, DefaultClockSkewGracePeriod)
}

// IsExpiredWithGracePeriod is IsExpired with a custom grace period
func IsExpiredWithGracePeriod(expiresAt, now time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.After(expiresAt.Add(gracePeriod))
}

// IsExpiringSoon reports whether expiresAt falls within threshold of now
func IsExpiringSoon(expiresAt, now time.Time, threshold time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.Add(threshold).After(expiresAt)
}
