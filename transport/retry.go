package transport

import "time"

// RetryConfig holds retry configuration for idempotent requests.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts per request. Values
	// below one mean a single attempt.
	MaxAttempts int

	// BackoffBase is the initial backoff duration.
	BackoffBase time.Duration

	// BackoffMultiplier is applied to backoff on each retry.
	BackoffMultiplier float64

	// MaxBackoff caps the maximum backoff duration.
	MaxBackoff time.Duration
}

// DefaultRetryConfig retries GET requests briefly.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       250 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        2 * time.Second,
	}
}

// NoRetry performs every request exactly once.
func NoRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 1}
}
