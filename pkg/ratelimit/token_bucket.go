package ratelimit

import (
	"math"
	"sync"
	"time"
)

// TokenBucket holds up to maxTokens tokens and regains refillRate tokens per second
type TokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
	lastTaken  time.Time
	mu         sync.Mutex
	now        func() time.Time
}

// NewTokenBucket creates a full bucket
func NewTokenBucket(maxTokens float64, refillRate float64) *TokenBucket {
	return newTokenBucketAt(maxTokens, refillRate, time.Now)
}

func newTokenBucketAt(maxTokens, refillRate float64, now func() time.Time) *TokenBucket {
	t := now()
	return &TokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: t,
		lastTaken:  t,
		now:        now,
	}
}

// Allow takes one token if available
func (tb *TokenBucket) Allow() bool {
	ok, _ := tb.Take(1)
	return ok
}

// Take removes n tokens. When the bucket is short it returns false and how long
// until n tokens are back; the wait is zero when the bucket never refills.
func (tb *TokenBucket) Take(n float64) (bool, time.Duration) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.refill()
	if tb.tokens >= n {
		tb.tokens -= n
		tb.lastTaken = now
		return true, 0
	}

	if tb.refillRate <= 0 {
		return false, 0
	}
	missing := n - tb.tokens
	return false, time.Duration(math.Ceil(missing / tb.refillRate * float64(time.Second)))
}

// refill credits the tokens earned since the last call. Callers hold mu.
func (tb *TokenBucket) refill() time.Time {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed > 0 {
		tb.tokens = math.Min(tb.maxTokens, tb.tokens+elapsed*tb.refillRate)
		tb.lastRefill = now
	}
	return now
}

// Reset refills the bucket
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.tokens = tb.maxTokens
	tb.lastRefill = tb.now()
}

// Available returns the tokens that could be taken right now
func (tb *TokenBucket) Available() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	return tb.tokens
}

// lastUsed reports when a token was last taken
func (tb *TokenBucket) lastUsed() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.lastTaken
}
