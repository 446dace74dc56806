package api

import (
	"net/http"
	"time"

	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/internal/repository"
	"github.com/vaidashi/order-settlement-api/internal/service"
)

// listOrdersHandler returns a page of orders, filtered by status, user_id, from and to
func (s *Server) listOrdersHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.OrderFilter{UserID: q.Get("user_id")}

	if raw := q.Get("status"); raw != "" {
		status, err := models.ParseOrderStatus(raw)
		if err != nil {
			s.respondWithAppError(w, r, err)
			return
		}
		filter.Status = status
	}

	for _, bound := range []struct {
		name string
		dst  *time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		raw := q.Get(bound.name)
		if raw == "" {
			continue
		}
		t, err := parseDate(raw)
		if err != nil {
			s.respondWithError(w, http.StatusBadRequest, "Invalid "+bound.name+" date, expected YYYY-MM-DD or RFC3339")
			return
		}
		*bound.dst = t
	}

	page := pageFromQuery(r)
	orders, err := s.deps.Orders.ListOrders(r.Context(), filter, page)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	resp := PageResponse{Items: orders, Limit: page.Limit, Offset: page.Offset}
	if filter == (repository.OrderFilter{}) {
		if total, err := s.deps.Orders.CountOrders(r.Context()); err == nil {
			resp.Total = &total
		}
	}
	s.respondWithData(w, http.StatusOK, resp)
}

// createOrderHandler creates a new PENDING order
func (s *Server) createOrderHandler(w http.ResponseWriter, r *http.Request) {
	var in service.CreateOrderInput
	if !s.decodeJSON(w, r, &in) {
		return
	}

	order, err := s.deps.Orders.CreateOrder(r.Context(), in)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondWithData(w, http.StatusCreated, order)
}

// getOrderHandler returns an order with its lines
func (s *Server) getOrderHandler(w http.ResponseWriter, r *http.Request) {
	order, err := s.deps.Orders.GetOrder(r.Context(), pathID(r))
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondWithData(w, http.StatusOK, order)
}

// updateOrderHandler changes client fields, lines and optionally the status
func (s *Server) updateOrderHandler(w http.ResponseWriter, r *http.Request) {
	var in service.UpdateOrderInput
	if !s.decodeJSON(w, r, &in) {
		return
	}

	order, err := s.deps.Orders.UpdateOrder(r.Context(), pathID(r), in)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondWithData(w, http.StatusOK, order)
}

type statusRequest struct {
	Status string `json:"status"`
}

// updateOrderStatusHandler applies one status transition
func (s *Server) updateOrderStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	order, err := s.deps.Orders.UpdateOrderStatus(r.Context(), pathID(r), req.Status)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondWithData(w, http.StatusOK, order)
}

// deleteOrderHandler removes a cancelled order
func (s *Server) deleteOrderHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Orders.DeleteOrder(r.Context(), pathID(r)); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listOrderInvoicesHandler returns the invoices covering an order
func (s *Server) listOrderInvoicesHandler(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	if _, err := s.deps.Orders.GetOrder(r.Context(), id); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	invoices, err := s.deps.Invoices.ListByOrder(r.Context(), id)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondWithData(w, http.StatusOK, invoices)
}

// listPendingOrdersHandler returns the orders of a user that can still be paid
func (s *Server) listPendingOrdersHandler(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	if _, err := s.deps.Users.GetUser(r.Context(), id); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	orders, err := s.deps.Orders.ListPendingByUser(r.Context(), id)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondWithData(w, http.StatusOK, orders)
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", raw)
}
