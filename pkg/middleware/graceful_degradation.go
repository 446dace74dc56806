package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vaidashi/order-settlement-api/pkg/circuitbreaker"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

// DegradationConfig tunes when the API starts shedding traffic
type DegradationConfig struct {
	FailureThreshold int64
	ResetTimeout     time.Duration
	HalfOpenMaxCalls int64
	// EssentialPrefixes are never shed and never count towards the breaker
	EssentialPrefixes []string
}

// DefaultDegradationConfig keeps health and admin reachable while the rest is shed
func DefaultDegradationConfig() DegradationConfig {
	return DegradationConfig{
		FailureThreshold:  10,
		ResetTimeout:      30 * time.Second,
		HalfOpenMaxCalls:  5,
		EssentialPrefixes: []string{"/api/v1/health", "/api/v1/admin"},
	}
}

// GracefulDegradation sheds non-essential traffic while handlers keep answering 5xx
type GracefulDegradation struct {
	breaker   *circuitbreaker.CircuitBreaker
	essential []string
	logger    logger.Logger
}

// NewGracefulDegradation creates the middleware with DefaultDegradationConfig
func NewGracefulDegradation(logger logger.Logger) *GracefulDegradation {
	return NewGracefulDegradationWithConfig(DefaultDegradationConfig(), logger)
}

// NewGracefulDegradationWithConfig creates the middleware
func NewGracefulDegradationWithConfig(cfg DegradationConfig, logger logger.Logger) *GracefulDegradation {
	breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.CircuitBreakerConfig{
		Name:             "api",
		FailureThreshold: cfg.FailureThreshold,
		ResetTimeout:     cfg.ResetTimeout,
		HalfOpenMaxCalls: cfg.HalfOpenMaxCalls,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			logger.Warn("API degradation state changed", "from", from.String(), "to", to.String())
		},
	})

	return &GracefulDegradation{
		breaker:   breaker,
		essential: cfg.EssentialPrefixes,
		logger:    logger,
	}
}

// Middleware answers 503 for non-essential requests while the breaker is open
func (gd *GracefulDegradation) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gd.isEssential(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if !gd.breaker.Allow() {
			gd.logger.Warn("Request shed while degraded",
				"path", r.URL.Path,
				"method", r.Method,
				"state", gd.breaker.GetState().String())
			serviceUnavailable(w, gd.breaker.RetryAfter())
			return
		}

		wrappedWriter := NewStatusCodeWriter(w)
		next.ServeHTTP(wrappedWriter, r)

		// Only server faults count; 4xx are business rejections
		switch status := wrappedWriter.StatusCode; {
		case status >= 500:
			gd.breaker.Failure()
		case status < 400:
			gd.breaker.Success()
		}
	})
}

func (gd *GracefulDegradation) isEssential(path string) bool {
	for _, prefix := range gd.essential {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func serviceUnavailable(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int(retryAfter.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   "Service is temporarily unavailable. Please try again later.",
	})
}

// StatusCodeWriter is a wrapper around http.ResponseWriter that captures the status code
type StatusCodeWriter struct {
	http.ResponseWriter
	StatusCode int
}

// NewStatusCodeWriter creates a new StatusCodeWriter
func NewStatusCodeWriter(w http.ResponseWriter) *StatusCodeWriter {
	return &StatusCodeWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code and passes it to the wrapped ResponseWriter
func (scw *StatusCodeWriter) WriteHeader(code int) {
	scw.StatusCode = code
	scw.ResponseWriter.WriteHeader(code)
}

// GetMetrics returns metrics about the circuit breaker
func (gd *GracefulDegradation) GetMetrics() map[string]interface{} {
	return gd.breaker.GetMetrics()
}

// Breaker exposes the underlying breaker for admin endpoints
func (gd *GracefulDegradation) Breaker() *circuitbreaker.CircuitBreaker {
	return gd.breaker
}

// Reset resets the circuit breaker
func (gd *GracefulDegradation) Reset() {
	gd.breaker.Reset()
}
