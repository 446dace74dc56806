package api

import (
	"net/http"
)

// getCircuitBreakerStatusHandler returns the state of the API breaker and of every client breaker
func (s *Server) getCircuitBreakerStatusHandler(w http.ResponseWriter, r *http.Request) {
	breakers := []map[string]interface{}{s.gracefulDegradation.GetMetrics()}
	for _, cb := range s.deps.Breakers {
		breakers = append(breakers, cb.GetMetrics())
	}

	s.respondWithData(w, http.StatusOK, breakers)
}

// resetCircuitBreakerHandler closes one breaker, or all of them when no name is given
func (s *Server) resetCircuitBreakerHandler(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	reset := []string{}

	if name == "" || name == s.gracefulDegradation.Breaker().Name() {
		s.gracefulDegradation.Reset()
		reset = append(reset, s.gracefulDegradation.Breaker().Name())
	}
	for _, cb := range s.deps.Breakers {
		if name == "" || name == cb.Name() {
			cb.Reset()
			reset = append(reset, cb.Name())
		}
	}

	if len(reset) == 0 {
		s.respondWithError(w, http.StatusNotFound, "Unknown circuit breaker "+name)
		return
	}

	s.respondWithData(w, http.StatusOK, map[string]interface{}{
		"message": "Circuit breaker reset successfully",
		"reset":   reset,
	})
}
