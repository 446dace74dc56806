package api

import (
	"net/http"
)

// getRateLimitsHandler returns the configured limits and the limiter metrics
func (s *Server) getRateLimitsHandler(w http.ResponseWriter, r *http.Request) {
	limits := s.config.RateLimit
	response := map[string]interface{}{
		"metrics": s.rateLimiter.GetMetrics(),
		"limits": map[string]interface{}{
			"global_max_tokens":  limits.GlobalMaxTokens,
			"global_refill_rate": limits.GlobalRefillRate,
			"ip_max_tokens":      limits.IPMaxTokens,
			"ip_refill_rate":     limits.IPRefillRate,
		},
	}

	s.respondWithData(w, http.StatusOK, response)
}
