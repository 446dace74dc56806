package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/order-settlement-api/internal/carbon"
	"github.com/vaidashi/order-settlement-api/internal/clients"
	"github.com/vaidashi/order-settlement-api/internal/config"
	"github.com/vaidashi/order-settlement-api/internal/database"
	"github.com/vaidashi/order-settlement-api/internal/document"
	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/internal/outbox"
	"github.com/vaidashi/order-settlement-api/internal/pricing"
	"github.com/vaidashi/order-settlement-api/internal/service"
	"github.com/vaidashi/order-settlement-api/pkg/circuitbreaker"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
	"github.com/vaidashi/order-settlement-api/pkg/retry"
)

type publishResult struct {
	calls int
	err   error
}

func (p *publishResult) HandleMessage(_ context.Context, _ *models.OutboxMessage) error {
	p.calls++
	return p.err
}

type testServer struct {
	handler   http.Handler
	repos     *service.Repositories
	publisher *publishResult
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	log := logger.NewNop()
	db, err := database.Open("sqlite", filepath.Join(t.TempDir(), "api.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.RunMigrations(context.Background()))

	docs, err := document.NewStore(t.TempDir(), "Settlement Test SARL", log)
	require.NoError(t, err)

	repos := service.NewRepositories(db, log)
	notifier := service.NewNotifier(log)
	stock := service.NewStockService(db, repos, notifier, log)
	invoices := service.NewInvoiceService(db, repos, docs, log)

	publisher := &publishResult{}
	dlq := outbox.NewDeadLetterProcessor(repos.DeadLetters, log, &outbox.DeadLetterProcessorConfig{
		PollingInterval: time.Minute,
		BatchSize:       5,
		MaxRetries:      1,
		BackoffStrategy: &retry.ConstantBackoff{Interval: time.Millisecond},
	})
	dlq.SetFallbackHandler(publisher)

	cfg := &config.Config{
		Port: 0,
		RateLimit: config.RateLimitConfig{
			GlobalMaxTokens:  1000,
			GlobalRefillRate: 1000,
			IPMaxTokens:      1000,
			IPRefillRate:     1000,
		},
	}

	routing := circuitbreaker.NewCircuitBreaker(circuitbreaker.CircuitBreakerConfig{
		Name:             "routing",
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
		HalfOpenMaxCalls: 1,
	})

	srv := NewServer(cfg, Dependencies{
		DB:                  db,
		Orders:              service.NewOrderService(db, repos, pricing.NewCalculator(0.20), stock, log),
		Payments:            service.NewPaymentService(db, repos, clients.NewMockGateway(), invoices, notifier, "usd", log),
		Invoices:            invoices,
		Deliveries:          service.NewDeliveryService(db, repos, carbon.NewEstimator(nil, 0, log), notifier, log),
		Couriers:            service.NewCourierService(repos, log),
		Stock:               stock,
		Users:               service.NewUserService(repos.Users, log),
		DeadLetters:         repos.DeadLetters,
		DeadLetterProcessor: dlq,
		Breakers:            []*circuitbreaker.CircuitBreaker{routing},
	}, log)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	return &testServer{handler: srv.Handler(), repos: repos, publisher: publisher}
}

type envelope struct {
	Success bool                   `json:"success"`
	Data    json.RawMessage        `json:"data"`
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details"`
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Header().Get("Content-Type") == "application/json" && rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func decodeData(t *testing.T, env envelope, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, v))
}

// seedOrder creates a user, a product priced 12.50 and a PENDING order of qty units
func (ts *testServer) seedOrder(t *testing.T, qty int) models.Order {
	t.Helper()

	rec, env := ts.do(t, http.MethodPost, "/api/v1/users", map[string]interface{}{
		"name":  "Amira Ben Salah",
		"email": models.GenerateID("mail") + "@example.tn",
	})
	require.Equal(t, http.StatusCreated, rec.Code, env.Error)
	var user models.User
	decodeData(t, env, &user)

	rec, env = ts.do(t, http.MethodPost, "/api/v1/products", map[string]interface{}{
		"name":  "Harissa",
		"price": "12.50",
		"stock": 50,
	})
	require.Equal(t, http.StatusCreated, rec.Code, env.Error)
	var product models.Product
	decodeData(t, env, &product)

	rec, env = ts.do(t, http.MethodPost, "/api/v1/orders", map[string]interface{}{
		"user_id":     user.ID,
		"client_name": "Amira",
		"lines":       []map[string]interface{}{{"product_id": product.ID, "quantity": qty}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, env.Error)
	var order models.Order
	decodeData(t, env, &order)
	return order
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.do(t, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	var health Health
	decodeData(t, env, &health)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "ok", health.Database)
}

func TestCreateAndGetOrder(t *testing.T) {
	ts := newTestServer(t)
	order := ts.seedOrder(t, 2)

	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.True(t, order.Total.Equal(decimal.RequireFromString("25")))
	require.Len(t, order.Lines, 1)
	assert.True(t, order.Lines[0].TTC.Equal(decimal.RequireFromString("30")))

	rec, env := ts.do(t, http.MethodGet, "/api/v1/orders/"+order.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched models.Order
	decodeData(t, env, &fetched)
	assert.Equal(t, order.ID, fetched.ID)

	rec, env = ts.do(t, http.MethodGet, "/api/v1/orders?status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Items []models.Order `json:"items"`
		Limit int            `json:"limit"`
	}
	decodeData(t, env, &page)
	assert.Len(t, page.Items, 1)
	assert.Equal(t, 20, page.Limit)
}

func TestErrorStatusMapping(t *testing.T) {
	ts := newTestServer(t)
	order := ts.seedOrder(t, 1)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"unknown order", http.MethodGet, "/api/v1/orders/ord-missing", nil, http.StatusNotFound},
		{"malformed payload", http.MethodPost, "/api/v1/orders", "{", http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/v1/orders", map[string]interface{}{"colour": "red"}, http.StatusBadRequest},
		{"illegal transition", http.MethodPatch, "/api/v1/orders/" + order.ID + "/status", map[string]string{"status": "DELIVERED"}, http.StatusConflict},
		{"unknown status", http.MethodPatch, "/api/v1/orders/" + order.ID + "/status", map[string]string{"status": "LOST"}, http.StatusBadRequest},
		{"delete pending order", http.MethodDelete, "/api/v1/orders/" + order.ID, nil, http.StatusBadRequest},
		{"amount mismatch", http.MethodPost, "/api/v1/transactions", map[string]interface{}{
			"order_ids": []string{order.ID}, "amount": "99.00", "method": "card",
		}, http.StatusBadRequest},
		{"missing method", http.MethodPost, "/api/v1/transactions", map[string]interface{}{
			"order_ids": []string{order.ID}, "amount": "12.50",
		}, http.StatusBadRequest},
		{"bad date filter", http.MethodGet, "/api/v1/orders?from=yesterday", nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := ts.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, env.Error)
			assert.False(t, env.Success)
			assert.NotEmpty(t, env.Error)
		})
	}
}

func TestValidationDetailsAreReturned(t *testing.T) {
	ts := newTestServer(t)
	order := ts.seedOrder(t, 1)

	rec, env := ts.do(t, http.MethodPost, "/api/v1/orders", map[string]interface{}{
		"user_id":     order.UserID,
		"client_name": "Amira",
		"lines":       []map[string]interface{}{},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "NoLines", env.Details["reason"])
}

func TestSettlementOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	first := ts.seedOrder(t, 2)
	second := ts.seedOrder(t, 4)

	rec, env := ts.do(t, http.MethodPost, "/api/v1/transactions", map[string]interface{}{
		"order_ids": []string{first.ID, second.ID},
		"amount":    "75.00",
		"method":    "card",
	})
	require.Equal(t, http.StatusCreated, rec.Code, env.Error)
	var created service.CreatedTransaction
	decodeData(t, env, &created)
	require.NotNil(t, created.Transaction)
	assert.NotEmpty(t, created.ClientSecret)
	txnID := created.Transaction.ID

	rec, env = ts.do(t, http.MethodPatch, "/api/v1/transactions/"+txnID+"/status", map[string]string{"status": "succeeded"})
	require.Equal(t, http.StatusOK, rec.Code, env.Error)

	rec, _ = ts.do(t, http.MethodPatch, "/api/v1/transactions/"+txnID+"/status", map[string]string{"status": "succeeded"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, env = ts.do(t, http.MethodGet, "/api/v1/orders/"+first.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var paid models.Order
	decodeData(t, env, &paid)
	assert.Equal(t, models.OrderStatusPaid, paid.Status)

	rec, env = ts.do(t, http.MethodGet, "/api/v1/transactions/"+txnID+"/invoices", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var invoices []models.Invoice
	decodeData(t, env, &invoices)
	require.Len(t, invoices, 1)
	assert.True(t, invoices[0].Total.Equal(decimal.RequireFromString("75")))

	rec, _ = ts.do(t, http.MethodGet, "/api/v1/invoices/"+invoices[0].ID+"/document", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))

	rec, _ = ts.do(t, http.MethodDelete, "/api/v1/transactions/"+txnID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeadLetterAdmin(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	msg, err := models.NewNotificationEvent(models.Notification{RecipientID: "usr-1", Message: "hello", Type: "TEST"})
	require.NoError(t, err)
	dead := models.NewDeadLetterMessage(msg, "broker unavailable", "max attempts (5) reached")
	require.NoError(t, ts.repos.DeadLetters.Create(ctx, dead))

	rec, env := ts.do(t, http.MethodGet, "/api/v1/admin/dead-letters?status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Items  []models.DeadLetterMessage      `json:"items"`
		Counts map[models.DeadLetterStatus]int `json:"counts"`
	}
	decodeData(t, env, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, 1, page.Counts[models.DeadLetterStatusPending])

	ts.publisher.err = errors.New("still down")
	rec, _ = ts.do(t, http.MethodPost, "/api/v1/admin/dead-letters/"+dead.ID+"/retry", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	ts.publisher.err = nil
	rec, env = ts.do(t, http.MethodPost, "/api/v1/admin/dead-letters/"+dead.ID+"/retry", nil)
	require.Equal(t, http.StatusOK, rec.Code, env.Error)
	assert.Equal(t, 2, ts.publisher.calls)

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/admin/dead-letters/"+dead.ID+"/retry", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/admin/dead-letters/dlq-missing/discard", map[string]string{"reason": "obsolete"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/admin/dead-letters/"+dead.ID+"/discard", map[string]string{"reason": "obsolete"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	stale := models.NewDeadLetterMessage(msg, "broker unavailable", "no handler")
	require.NoError(t, ts.repos.DeadLetters.Create(ctx, stale))
	rec, env = ts.do(t, http.MethodPost, "/api/v1/admin/dead-letters/"+stale.ID+"/discard", map[string]string{"reason": "obsolete"})
	require.Equal(t, http.StatusOK, rec.Code, env.Error)
	discarded, err := ts.repos.DeadLetters.GetMessage(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeadLetterStatusDiscarded, discarded.Status)
	assert.Contains(t, discarded.FailureReason, "Discarded: obsolete")

	rec, _ = ts.do(t, http.MethodGet, "/api/v1/admin/dead-letters?status=lost", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCircuitBreakerAdmin(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.do(t, http.MethodGet, "/api/v1/admin/circuit-breakers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var breakers []map[string]interface{}
	decodeData(t, env, &breakers)
	require.Len(t, breakers, 2)

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/admin/circuit-breakers/reset?name=routing", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/admin/circuit-breakers/reset?name=nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = ts.do(t, http.MethodGet, "/api/v1/admin/rate-limits", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
