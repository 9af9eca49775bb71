package ratelimiter

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements the RateLimiter interface using the token bucket
// algorithm. It allows for bursts of requests up to the bucket's capacity.
type TokenBucket struct {
	rate          float64   // tokens generated per second
	capacity      float64   // maximum number of tokens in the bucket
	tokens        float64   // current number of tokens
	lastTokenTime time.Time // last time tokens were added
	mutex         sync.Mutex
}

// NewTokenBucket creates a new TokenBucket.
// rate: the number of tokens to generate per second.
// capacity: the maximum number of tokens (burst size).
func NewTokenBucket(rate float64, capacity int) *TokenBucket {
	return &TokenBucket{
		rate:          rate,
		capacity:      float64(capacity),
		tokens:        float64(capacity), // start with a full bucket
		lastTokenTime: time.Now(),
	}
}

// Allow checks if a request is allowed. It refills the bucket with new
// tokens based on the elapsed time and checks if at least one token is
// available.
func (tb *TokenBucket) Allow() bool {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	tb.refill()

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or the context is cancelled.
// Batch producers (embedding index rebuilds) use this instead of Allow so
// a burst of batches is smoothed out rather than rejected.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if tb.Allow() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(tb.retryInterval()):
		}
	}
}

// refill adds tokens according to the elapsed time. Caller must hold the lock.
func (tb *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastTokenTime)
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed.Seconds() * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastTokenTime = now
}

func (tb *TokenBucket) retryInterval() time.Duration {
	if tb.rate <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(float64(time.Second) / tb.rate)
}
