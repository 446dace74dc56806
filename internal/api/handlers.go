package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/vaidashi/order-settlement-api/internal/repository"
	apperrors "github.com/vaidashi/order-settlement-api/pkg/errors"
)

// ApiResponse is the envelope of every JSON response
type ApiResponse struct {
	Success bool                   `json:"success"`
	Data    interface{}            `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Health represents the health check response
type Health struct {
	Status    string `json:"status"`
	Database  string `json:"database"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

// PageResponse wraps a list with the window it was read from
type PageResponse struct {
	Items  interface{} `json:"items"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
	Total  *int        `json:"total,omitempty"`
}

// healthCheckHandler handles the health check endpoint
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	health := Health{
		Status:    "ok",
		Database:  "ok",
		Version:   "0.2.0",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	code := http.StatusOK
	if s.deps.DB != nil {
		if err := s.deps.DB.Ping(r.Context()); err != nil {
			s.logger.Error("Health check database ping failed", "error", err)
			health.Status = "degraded"
			health.Database = "unreachable"
			code = http.StatusServiceUnavailable
		}
	}

	s.respondWithJSON(w, code, ApiResponse{Success: code == http.StatusOK, Data: health})
}

// decodeJSON reads the request body into v. It answers 400 itself and reports false on failure.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return false
	}
	return true
}

// pageFromQuery reads limit and offset query parameters
func pageFromQuery(r *http.Request) repository.Page {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	return repository.Page{Limit: limit, Offset: offset}.Normalize()
}

func pathID(r *http.Request) string {
	return mux.Vars(r)["id"]
}

// respondWithAppError maps a service error onto its HTTP status
func (s *Server) respondWithAppError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.StatusCode(err)

	var appErr *apperrors.AppError
	if !apperrors.As(err, &appErr) || code >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "error", err, "method", r.Method, "path", r.URL.Path)
	}

	if appErr == nil {
		s.respondWithError(w, code, "Internal server error")
		return
	}

	s.respondWithJSON(w, code, ApiResponse{
		Success: false,
		Error:   appErr.Error(),
		Details: appErr.Context,
	})
}

// respondWithError sends a JSON response with an error message
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, ApiResponse{
		Success: false,
		Error:   message,
	})
}

// respondWithJSON sends a JSON response
func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to marshal response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (s *Server) respondWithData(w http.ResponseWriter, code int, data interface{}) {
	s.respondWithJSON(w, code, ApiResponse{Success: true, Data: data})
}
