package ratelimiter

// RateLimiter is the common interface for all rate limiting algorithms.
type RateLimiter interface {
	// Allow reports whether one more request may proceed now.
	Allow() bool
}
