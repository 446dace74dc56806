package ratelimit

import (
	"sync"
	"time"
)

// IPRateLimiter rate limits based on IP addresses
type IPRateLimiter struct {
	limiters   map[string]*TokenBucket
	mu         sync.Mutex
	maxTokens  float64
	refillRate float64
	idleTTL    time.Duration
	cleanup    *time.Ticker
	stopChan   chan struct{}
	stopOnce   sync.Once
}

// NewIPRateLimiter creates a new IPRateLimiter
func NewIPRateLimiter(maxTokens, refillRate float64) *IPRateLimiter {
	limiter := &IPRateLimiter{
		limiters:   make(map[string]*TokenBucket),
		maxTokens:  maxTokens,
		refillRate: refillRate,
		idleTTL:    30 * time.Minute,
		cleanup:    time.NewTicker(10 * time.Minute),
		stopChan:   make(chan struct{}),
	}

	go limiter.cleanupLoop()

	return limiter
}

// Allow checks if a request from the given IP can proceed
func (ipl *IPRateLimiter) Allow(ip string) bool {
	return ipl.getLimiter(ip).Allow()
}

// Take draws one token for ip and reports the wait when none is left
func (ipl *IPRateLimiter) Take(ip string) (bool, time.Duration) {
	return ipl.getLimiter(ip).Take(1)
}

func (ipl *IPRateLimiter) getLimiter(ip string) *TokenBucket {
	ipl.mu.Lock()
	defer ipl.mu.Unlock()

	limiter, exists := ipl.limiters[ip]
	if !exists {
		limiter = NewTokenBucket(ipl.maxTokens, ipl.refillRate)
		ipl.limiters[ip] = limiter
	}
	return limiter
}

// Size returns the number of tracked clients
func (ipl *IPRateLimiter) Size() int {
	ipl.mu.Lock()
	defer ipl.mu.Unlock()
	return len(ipl.limiters)
}

// evictIdle drops buckets not used since cutoff
func (ipl *IPRateLimiter) evictIdle(cutoff time.Time) {
	ipl.mu.Lock()
	defer ipl.mu.Unlock()

	for ip, limiter := range ipl.limiters {
		if limiter.lastUsed().Before(cutoff) {
			delete(ipl.limiters, ip)
		}
	}
}

func (ipl *IPRateLimiter) cleanupLoop() {
	for {
		select {
		case <-ipl.cleanup.C:
			ipl.evictIdle(time.Now().Add(-ipl.idleTTL))
		case <-ipl.stopChan:
			ipl.cleanup.Stop()
			return
		}
	}
}

// Stop stops the IP rate limiter
func (ipl *IPRateLimiter) Stop() {
	ipl.stopOnce.Do(func() { close(ipl.stopChan) })
}
