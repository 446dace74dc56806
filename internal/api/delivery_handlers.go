package api

import (
	"net/http"

	"github.com/vaidashi/order-settlement-api/internal/service"
)

// listDeliveriesHandler returns a page of deliveries
func (s *Server) listDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	page := pageFromQuery(r)
	deliveries, err := s.deps.Deliveries.ListDeliveries(r.Context(), page)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondWithData(w, http.StatusOK, PageResponse{Items: deliveries, Limit: page.Limit, Offset: page.Offset})
}

// createDeliveryHandler assigns a courier to an order
func (s *Server) createDeliveryHandler(w http.ResponseWriter, r *http.Request) {
	var in service.CreateDeliveryInput
	if !s.decodeJSON(w, r, &in) {
		return
	}

	d, err := s.deps.Deliveries.CreateDelivery(r.Context(), in)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondWithData(w, http.StatusCreated, d)
}

// getDeliveryHandler returns a delivery
func (s *Server) getDeliveryHandler(w http.ResponseWriter, r *http.Request) {
	d, err := s.deps.Deliveries.GetDelivery(r.Context(), pathID(r))
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondWithData(w, http.StatusOK, d)
}

// updateDeliveryHandler changes a delivery and recomputes its footprint
func (s *Server) updateDeliveryHandler(w http.ResponseWriter, r *http.Request) {
	var in service.UpdateDeliveryInput
	if !s.decodeJSON(w, r, &in) {
		return
	}

	d, err := s.deps.Deliveries.UpdateDelivery(r.Context(), pathID(r), in)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondWithData(w, http.StatusOK, d)
}

// updateDeliveryStatusHandler moves a delivery to a new status
func (s *Server) updateDeliveryStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	d, err := s.deps.Deliveries.UpdateDeliveryStatus(r.Context(), pathID(r), req.Status)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondWithData(w, http.StatusOK, d)
}

// deleteDeliveryHandler removes a delivery and releases its order
func (s *Server) deleteDeliveryHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Deliveries.DeleteDelivery(r.Context(), pathID(r)); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listCouriersHandler returns a page of couriers
func (s *Server) listCouriersHandler(w http.ResponseWriter, r *http.Request) {
	if userID := r.URL.Query().Get("user_id"); userID != "" {
		c, err := s.deps.Couriers.FindByUserID(r.Context(), userID)
		if err != nil {
			s.respondWithAppError(w, r, err)
			return
		}
		s.respondWithData(w, http.StatusOK, c)
		return
	}

	page := pageFromQuery(r)
	couriers, err := s.deps.Couriers.ListCouriers(r.Context(), page)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondWithData(w, http.StatusOK, PageResponse{Items: couriers, Limit: page.Limit, Offset: page.Offset})
}

// createCourierHandler registers a courier
func (s *Server) createCourierHandler(w http.ResponseWriter, r *http.Request) {
	var in service.CourierInput
	if !s.decodeJSON(w, r, &in) {
		return
	}

	c, err := s.deps.Couriers.CreateCourier(r.Context(), in)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondWithData(w, http.StatusCreated, c)
}

// getCourierHandler returns a courier
func (s *Server) getCourierHandler(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Couriers.GetCourier(r.Context(), pathID(r))
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondWithData(w, http.StatusOK, c)
}

// updateCourierHandler replaces a courier profile
func (s *Server) updateCourierHandler(w http.ResponseWriter, r *http.Request) {
	var in service.CourierInput
	if !s.decodeJSON(w, r, &in) {
		return
	}

	c, err := s.deps.Couriers.UpdateCourier(r.Context(), pathID(r), in)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondWithData(w, http.StatusOK, c)
}

// deleteCourierHandler removes a courier without deliveries
func (s *Server) deleteCourierHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Couriers.DeleteCourier(r.Context(), pathID(r)); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listCourierDeliveriesHandler returns the deliveries of a courier
func (s *Server) listCourierDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	deliveries, err := s.deps.Deliveries.ListByCourier(r.Context(), pathID(r))
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondWithData(w, http.StatusOK, deliveries)
}
