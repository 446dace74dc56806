package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/vaidashi/order-settlement-api/internal/config"
	"github.com/vaidashi/order-settlement-api/internal/outbox"
	"github.com/vaidashi/order-settlement-api/internal/repository"
	"github.com/vaidashi/order-settlement-api/internal/service"
	"github.com/vaidashi/order-settlement-api/pkg/circuitbreaker"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
	"github.com/vaidashi/order-settlement-api/pkg/middleware"
)

// Pinger reports whether the database answers
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the collaborators the HTTP layer dispatches to
type Dependencies struct {
	DB                  Pinger
	Orders              *service.OrderService
	Payments            *service.PaymentService
	Invoices            *service.InvoiceService
	Deliveries          *service.DeliveryService
	Couriers            *service.CourierService
	Stock               *service.StockService
	Users               *service.UserService
	DeadLetters         *repository.DeadLetterRepository
	DeadLetterProcessor *outbox.DeadLetterProcessor
	// Breakers of outbound clients, listed on the admin endpoint next to the API breaker
	Breakers []*circuitbreaker.CircuitBreaker
}

// Server is the HTTP boundary of the settlement service
type Server struct {
	config              *config.Config
	logger              logger.Logger
	router              *mux.Router
	httpServer          *http.Server
	deps                Dependencies
	rateLimiter         *middleware.RateLimiterMiddleware
	gracefulDegradation *middleware.GracefulDegradation
}

// NewServer creates a new API server with the given configuration and logger.
func NewServer(cfg *config.Config, deps Dependencies, logger logger.Logger) *Server {
	r := mux.NewRouter()

	s := &Server{
		config: cfg,
		logger: logger,
		router: r,
		deps:   deps,
		rateLimiter: middleware.NewRateLimiterMiddleware(&middleware.RateLimiterConfig{
			GlobalMaxTokens:   cfg.RateLimit.GlobalMaxTokens,
			GlobalRefillRate:  cfg.RateLimit.GlobalRefillRate,
			IPMaxTokens:       cfg.RateLimit.IPMaxTokens,
			IPRefillRate:      cfg.RateLimit.IPRefillRate,
			TrustForwardedFor: cfg.RateLimit.TrustForwardedFor,
		}, logger),
		gracefulDegradation: middleware.NewGracefulDegradation(logger),
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}

	s.setupRoutes()
	return s
}

// Handler returns the root handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.rateLimiter.Stop()
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes configures all the routes for our API
func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.rateLimiter.Middleware)
	s.router.Use(s.gracefulDegradation.Middleware)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.healthCheckHandler).Methods(http.MethodGet)

	api.HandleFunc("/orders", s.listOrdersHandler).Methods(http.MethodGet)
	api.HandleFunc("/orders", s.createOrderHandler).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}", s.getOrderHandler).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", s.updateOrderHandler).Methods(http.MethodPut)
	api.HandleFunc("/orders/{id}", s.deleteOrderHandler).Methods(http.MethodDelete)
	api.HandleFunc("/orders/{id}/status", s.updateOrderStatusHandler).Methods(http.MethodPatch)
	api.HandleFunc("/orders/{id}/invoices", s.listOrderInvoicesHandler).Methods(http.MethodGet)

	api.HandleFunc("/transactions", s.listTransactionsHandler).Methods(http.MethodGet)
	api.HandleFunc("/transactions", s.createTransactionHandler).Methods(http.MethodPost)
	api.HandleFunc("/transactions/{id}", s.getTransactionHandler).Methods(http.MethodGet)
	api.HandleFunc("/transactions/{id}", s.deleteTransactionHandler).Methods(http.MethodDelete)
	api.HandleFunc("/transactions/{id}/status", s.updateTransactionStatusHandler).Methods(http.MethodPatch)
	api.HandleFunc("/transactions/{id}/invoices", s.listTransactionInvoicesHandler).Methods(http.MethodGet)

	api.HandleFunc("/invoices", s.createInvoiceHandler).Methods(http.MethodPost)
	api.HandleFunc("/invoices/{id}", s.getInvoiceHandler).Methods(http.MethodGet)
	api.HandleFunc("/invoices/{id}", s.deleteInvoiceHandler).Methods(http.MethodDelete)
	api.HandleFunc("/invoices/{id}/document", s.getInvoiceDocumentHandler).Methods(http.MethodGet)

	api.HandleFunc("/deliveries", s.listDeliveriesHandler).Methods(http.MethodGet)
	api.HandleFunc("/deliveries", s.createDeliveryHandler).Methods(http.MethodPost)
	api.HandleFunc("/deliveries/{id}", s.getDeliveryHandler).Methods(http.MethodGet)
	api.HandleFunc("/deliveries/{id}", s.updateDeliveryHandler).Methods(http.MethodPut)
	api.HandleFunc("/deliveries/{id}", s.deleteDeliveryHandler).Methods(http.MethodDelete)
	api.HandleFunc("/deliveries/{id}/status", s.updateDeliveryStatusHandler).Methods(http.MethodPatch)

	api.HandleFunc("/couriers", s.listCouriersHandler).Methods(http.MethodGet)
	api.HandleFunc("/couriers", s.createCourierHandler).Methods(http.MethodPost)
	api.HandleFunc("/couriers/{id}", s.getCourierHandler).Methods(http.MethodGet)
	api.HandleFunc("/couriers/{id}", s.updateCourierHandler).Methods(http.MethodPut)
	api.HandleFunc("/couriers/{id}", s.deleteCourierHandler).Methods(http.MethodDelete)
	api.HandleFunc("/couriers/{id}/deliveries", s.listCourierDeliveriesHandler).Methods(http.MethodGet)

	api.HandleFunc("/products", s.listProductsHandler).Methods(http.MethodGet)
	api.HandleFunc("/products", s.createProductHandler).Methods(http.MethodPost)
	api.HandleFunc("/products/{id}", s.getProductHandler).Methods(http.MethodGet)
	api.HandleFunc("/products/{id}/stock", s.listMovementsHandler).Methods(http.MethodGet)
	api.HandleFunc("/products/{id}/stock", s.recordMovementHandler).Methods(http.MethodPost)

	api.HandleFunc("/users", s.createUserHandler).Methods(http.MethodPost)
	api.HandleFunc("/users/{id}", s.getUserHandler).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}/pending-orders", s.listPendingOrdersHandler).Methods(http.MethodGet)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/dead-letters", s.getDeadLettersHandler).Methods(http.MethodGet)
	admin.HandleFunc("/dead-letters/{id}/retry", s.retryDeadLetterHandler).Methods(http.MethodPost)
	admin.HandleFunc("/dead-letters/{id}/discard", s.discardDeadLetterHandler).Methods(http.MethodPost)
	admin.HandleFunc("/circuit-breakers", s.getCircuitBreakerStatusHandler).Methods(http.MethodGet)
	admin.HandleFunc("/circuit-breakers/reset", s.resetCircuitBreakerHandler).Methods(http.MethodPost)
	admin.HandleFunc("/rate-limits", s.getRateLimitsHandler).Methods(http.MethodGet)
}

// Middleware for logging requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := middleware.NewStatusCodeWriter(w)

		next.ServeHTTP(wrapped, r)

		s.logger.Info("Request processed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.StatusCode,
			"duration", time.Since(start),
			"remoteAddr", r.RemoteAddr,
		)
	})
}
