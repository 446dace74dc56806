package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/internal/outbox"
	"github.com/vaidashi/order-settlement-api/internal/repository"
)

type deadLetterPage struct {
	PageResponse
	Counts map[models.DeadLetterStatus]int `json:"counts"`
}

// getDeadLettersHandler returns dead letter messages, optionally filtered by status
func (s *Server) getDeadLettersHandler(w http.ResponseWriter, r *http.Request) {
	status := models.DeadLetterStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.DeadLetterStatusPending, models.DeadLetterStatusRetrying,
		models.DeadLetterStatusResolved, models.DeadLetterStatusDiscarded:
	default:
		s.respondWithError(w, http.StatusBadRequest, "Unknown dead letter status "+string(status))
		return
	}

	page := pageFromQuery(r)
	messages, err := s.deps.DeadLetters.List(r.Context(), status, page)
	if err != nil {
		s.logger.Error("Failed to fetch dead letter messages", "error", err)
		s.respondWithError(w, http.StatusInternalServerError, "Failed to fetch dead letter messages")
		return
	}
	counts, err := s.deps.DeadLetters.CountByStatus(r.Context())
	if err != nil {
		s.logger.Error("Failed to count dead letter messages", "error", err)
		s.respondWithError(w, http.StatusInternalServerError, "Failed to fetch dead letter messages")
		return
	}

	s.respondWithData(w, http.StatusOK, deadLetterPage{
		PageResponse: PageResponse{Items: messages, Limit: page.Limit, Offset: page.Offset},
		Counts:       counts,
	})
}

// retryDeadLetterHandler republishes a pending dead letter message right away
func (s *Server) retryDeadLetterHandler(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)

	err := s.deps.DeadLetterProcessor.RetryMessage(r.Context(), id)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		s.respondWithError(w, http.StatusNotFound, "Dead letter message not found")
		return
	case errors.Is(err, outbox.ErrNotRetryable):
		s.respondWithError(w, http.StatusConflict, "Only pending messages can be retried")
		return
	case err != nil:
		s.logger.Error("Dead letter retry failed", "error", err, "messageID", id)
		s.respondWithError(w, http.StatusBadGateway, "Retry failed: "+err.Error())
		return
	}

	s.respondWithData(w, http.StatusOK, map[string]string{
		"message": "Dead letter message republished",
		"id":      id,
	})
}

// discardDeadLetterHandler discards a dead letter message
func (s *Server) discardDeadLetterHandler(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)

	var req struct {
		Reason string `json:"reason"`
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if req.Reason == "" {
		req.Reason = "No reason provided"
	}

	err := s.deps.DeadLetters.MarkAsDiscarded(r.Context(), id, req.Reason)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		s.respondWithError(w, http.StatusNotFound, "Dead letter message not found")
		return
	case errors.Is(err, repository.ErrStale):
		s.respondWithError(w, http.StatusConflict, "Only pending or retrying messages can be discarded")
		return
	case err != nil:
		s.logger.Error("Failed to discard dead letter message", "error", err, "messageID", id)
		s.respondWithError(w, http.StatusInternalServerError, "Failed to discard message")
		return
	}

	s.respondWithData(w, http.StatusOK, map[string]string{
		"message": "Dead letter message discarded",
		"id":      id,
	})
}
