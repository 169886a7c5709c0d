package transfer

import "time"

// DefaultMaxBackoffSecs matches MAX_BACKOFF_SECS's default.
const DefaultMaxBackoffSecs = 3600

// ConsecutiveFailuresBeforeBlacklist is the per-session peer blacklist
// threshold: a peer that fails to serve 3 chunks in a row for a
// given session is blacklisted for the remainder of that session.
const ConsecutiveFailuresBeforeBlacklist = 3

// Backoff computes the per-chunk retry delay: min(2^(attempts-1) seconds,
// maxBackoffSecs). attempts is 1-indexed (the count including the failure
// that just occurred).
func Backoff(attempts int, maxBackoffSecs int) time.Duration {
	if maxBackoffSecs <= 0 {
		maxBackoffSecs = DefaultMaxBackoffSecs
	}
	if attempts < 1 {
		attempts = 1
	}
	// Cap the exponent so 1<<n never overflows before the min() comparison.
	const maxSafeExponent = 31
	exp := attempts - 1
	if exp > maxSafeExponent {
		exp = maxSafeExponent
	}
	secs := int64(1) << uint(exp)
	if secs > int64(maxBackoffSecs) || secs < 0 {
		secs = int64(maxBackoffSecs)
	}
	return time.Duration(secs) * time.Second
}
