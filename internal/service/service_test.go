package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/order-settlement-api/internal/carbon"
	"github.com/vaidashi/order-settlement-api/internal/clients"
	"github.com/vaidashi/order-settlement-api/internal/database"
	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/internal/pricing"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

type fakeDocs struct {
	mu    sync.Mutex
	files map[string][]byte
	err   error
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{files: make(map[string][]byte)}
}

func (f *fakeDocs) Render(inv *models.Invoice) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	path := "mem://" + inv.ID + ".pdf"
	f.files[path] = []byte("%PDF-" + inv.Number)
	return path, nil
}

func (f *fakeDocs) Read(path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path]
	if !ok {
		return nil, errors.New("no such document")
	}
	return data, nil
}

func (f *fakeDocs) Remove(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path)
	return nil
}

func (f *fakeDocs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.files)
}

type testEnv struct {
	repos      *Repositories
	users      *UserService
	stock      *StockService
	orders     *OrderService
	invoices   *InvoiceService
	payments   *PaymentService
	deliveries *DeliveryService
	couriers   *CourierService
	gateway    *clients.MockGateway
	docs       *fakeDocs
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := logger.NewNop()
	db, err := database.Open("sqlite", filepath.Join(t.TempDir(), "service.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.RunMigrations(context.Background()))

	repos := NewRepositories(db, log)
	notifier := NewNotifier(log)
	env := &testEnv{
		repos:   repos,
		gateway: clients.NewMockGateway(),
		docs:    newFakeDocs(),
	}
	env.users = NewUserService(repos.Users, log)
	env.stock = NewStockService(db, repos, notifier, log)
	env.orders = NewOrderService(db, repos, pricing.NewCalculator(0.20), env.stock, log)
	env.invoices = NewInvoiceService(db, repos, env.docs, log)
	env.payments = NewPaymentService(db, repos, env.gateway, env.invoices, notifier, "usd", log)
	env.deliveries = NewDeliveryService(db, repos, carbon.NewEstimator(nil, 0, log), notifier, log)
	env.couriers = NewCourierService(repos, log)
	return env
}

func (e *testEnv) user(t *testing.T, creditLimit *decimal.Decimal) *models.User {
	t.Helper()
	u, err := e.users.CreateUser(context.Background(), "Amira Ben Salah", models.GenerateID("mail")+"@example.tn", "", creditLimit)
	require.NoError(t, err)
	return u
}

func (e *testEnv) product(t *testing.T, price string, stock int) *models.Product {
	t.Helper()
	p, err := e.stock.CreateProduct(context.Background(), CreateProductInput{
		Name:  "Huile d'olive",
		Price: decimal.RequireFromString(price),
		Stock: stock,
	})
	require.NoError(t, err)
	return p
}

func (e *testEnv) order(t *testing.T, userID string, lines ...LineInput) *models.Order {
	t.Helper()
	o, err := e.orders.CreateOrder(context.Background(), CreateOrderInput{
		UserID:     userID,
		ClientName: "Amira",
		Lines:      lines,
	})
	require.NoError(t, err)
	return o
}

func (e *testEnv) eventTypes(t *testing.T, aggregateType, aggregateID string) []string {
	t.Helper()
	msgs, err := e.repos.Outbox.ListByAggregate(context.Background(), aggregateType, aggregateID)
	require.NoError(t, err)

	var out []string
	for _, m := range msgs {
		out = append(out, m.EventType)
	}
	return out
}

func decimalPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}
