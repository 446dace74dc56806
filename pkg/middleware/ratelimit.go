package middleware

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vaidashi/order-settlement-api/pkg/logger"
	"github.com/vaidashi/order-settlement-api/pkg/ratelimit"
)

const (
	defaultGlobalRetryAfter = 10 * time.Second
	defaultIPRetryAfter     = 60 * time.Second
)

// RateLimiterMiddleware throttles requests with a global bucket and one bucket per client IP
type RateLimiterMiddleware struct {
	globalLimiter     *ratelimit.TokenBucket
	ipLimiter         *ratelimit.IPRateLimiter
	logger            logger.Logger
	trustForwardedFor bool
	exempt            []string
}

// RateLimiterConfig configures the rate limiter middleware
type RateLimiterConfig struct {
	GlobalMaxTokens   float64
	GlobalRefillRate  float64
	IPMaxTokens       float64
	IPRefillRate      float64
	TrustForwardedFor bool
	// ExemptPrefixes are path prefixes never throttled. Defaults to the health endpoint.
	ExemptPrefixes []string
}

// NewRateLimiterMiddleware creates a new rate limiter middleware
func NewRateLimiterMiddleware(cfg *RateLimiterConfig, logger logger.Logger) *RateLimiterMiddleware {
	exempt := cfg.ExemptPrefixes
	if exempt == nil {
		exempt = []string{"/api/v1/health"}
	}
	return &RateLimiterMiddleware{
		globalLimiter:     ratelimit.NewTokenBucket(cfg.GlobalMaxTokens, cfg.GlobalRefillRate),
		ipLimiter:         ratelimit.NewIPRateLimiter(cfg.IPMaxTokens, cfg.IPRefillRate),
		logger:            logger,
		trustForwardedFor: cfg.TrustForwardedFor,
		exempt:            exempt,
	}
}

// Middleware answers 429 with a Retry-After header once a bucket is empty
func (m *RateLimiterMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.isExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if ok, wait := m.globalLimiter.Take(1); !ok {
			m.logger.Warn("Global rate limit exceeded", "method", r.Method, "path", r.URL.Path)
			tooManyRequests(w, wait, defaultGlobalRetryAfter, "Global rate limit exceeded. Please try again later.")
			return
		}

		ip := m.getClientIP(r)
		if ok, wait := m.ipLimiter.Take(ip); !ok {
			m.logger.Warn("IP rate limit exceeded", "method", r.Method, "path", r.URL.Path, "ip", ip)
			tooManyRequests(w, wait, defaultIPRetryAfter, "IP rate limit exceeded. Please try again later.")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *RateLimiterMiddleware) isExempt(path string) bool {
	for _, prefix := range m.exempt {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func tooManyRequests(w http.ResponseWriter, wait, fallback time.Duration, message string) {
	if wait <= 0 {
		wait = fallback
	}
	seconds := int(math.Ceil(wait.Seconds()))
	if seconds < 1 {
		seconds = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": message})
}

// getClientIP extracts the client IP from the request
func (m *RateLimiterMiddleware) getClientIP(r *http.Request) string {
	if m.trustForwardedFor {
		if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
			// The left-most entry is the original client
			first, _, _ := strings.Cut(forwardedFor, ",")
			return strings.TrimSpace(first)
		}
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Stop stops the rate limiters
func (m *RateLimiterMiddleware) Stop() {
	m.ipLimiter.Stop()
}

// GetMetrics returns metrics about rate limiting
func (m *RateLimiterMiddleware) GetMetrics() map[string]interface{} {
	return map[string]interface{}{
		"global_available": m.globalLimiter.Available(),
		"tracked_clients":  m.ipLimiter.Size(),
	}
}
