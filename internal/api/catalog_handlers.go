package api

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/internal/service"
)

// listProductsHandler returns a page of products
func (s *Server) listProductsHandler(w http.ResponseWriter, r *http.Request) {
	page := pageFromQuery(r)
	products, err := s.deps.Stock.ListProducts(r.Context(), page)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondWithData(w, http.StatusOK, PageResponse{Items: products, Limit: page.Limit, Offset: page.Offset})
}

// createProductHandler adds a catalog entry
func (s *Server) createProductHandler(w http.ResponseWriter, r *http.Request) {
	var in service.CreateProductInput
	if !s.decodeJSON(w, r, &in) {
		return
	}

	p, err := s.deps.Stock.CreateProduct(r.Context(), in)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondWithData(w, http.StatusCreated, p)
}

// getProductHandler returns a product
func (s *Server) getProductHandler(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Stock.GetProduct(r.Context(), pathID(r))
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondWithData(w, http.StatusOK, p)
}

// listMovementsHandler returns the stock ledger of a product
func (s *Server) listMovementsHandler(w http.ResponseWriter, r *http.Request) {
	movements, err := s.deps.Stock.ListMovements(r.Context(), pathID(r))
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondWithData(w, http.StatusOK, movements)
}

type movementRequest struct {
	Type     models.MovementType `json:"type"`
	Quantity int                 `json:"quantity"`
	Reason   string              `json:"reason"`
}

// recordMovementHandler records a manual stock movement
func (s *Server) recordMovementHandler(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	m, err := s.deps.Stock.RecordMovement(r.Context(), pathID(r), req.Type, req.Quantity, req.Reason)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondWithData(w, http.StatusCreated, m)
}

type userRequest struct {
	Name        string           `json:"name"`
	Email       string           `json:"email"`
	Phone       string           `json:"phone"`
	CreditLimit *decimal.Decimal `json:"credit_limit,omitempty"`
}

// createUserHandler registers a customer
func (s *Server) createUserHandler(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	u, err := s.deps.Users.CreateUser(r.Context(), req.Name, req.Email, req.Phone, req.CreditLimit)
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondWithData(w, http.StatusCreated, u)
}

// getUserHandler returns a customer
func (s *Server) getUserHandler(w http.ResponseWriter, r *http.Request) {
	u, err := s.deps.Users.GetUser(r.Context(), pathID(r))
	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}
	s.respondWithData(w, http.StatusOK, u)
}
