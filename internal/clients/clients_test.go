package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/order-settlement-api/internal/carbon"
	"github.com/vaidashi/order-settlement-api/pkg/circuitbreaker"
	"github.com/vaidashi/order-settlement-api/pkg/errors"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
	"github.com/vaidashi/order-settlement-api/pkg/retry"
)

func newTestStripe(t *testing.T, handler http.HandlerFunc) *StripeClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewStripeClient(srv.URL, "sk_test_123", time.Second, logger.NewNop())
	c.retryConfig.BackoffStrategy = &retry.ConstantBackoff{Interval: time.Millisecond}
	return c
}

func TestStripeCreatesIntent(t *testing.T) {
	c := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		assert.Equal(t, "txn-1", r.Header.Get("Idempotency-Key"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "7500", r.PostForm.Get("amount"))
		assert.Equal(t, "eur", r.PostForm.Get("currency"))
		assert.Equal(t, "txn-1", r.PostForm.Get("metadata[transaction_id]"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"pi_1","client_secret":"pi_1_secret","status":"requires_payment_method","amount":7500,"currency":"eur"}`)
	})

	intent, err := c.CreatePaymentIntent(context.Background(), PaymentIntentRequest{
		AmountCents:    7500,
		Currency:       "EUR",
		IdempotencyKey: "txn-1",
		Metadata:       map[string]string{"transaction_id": "txn-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_1", intent.ID)
	assert.Equal(t, "pi_1_secret", intent.ClientSecret)
}

func TestStripeRetriesWithSameIdempotencyKey(t *testing.T) {
	var calls int32
	keys := make(chan string, 3)
	c := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		keys <- r.Header.Get("Idempotency-Key")
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"id":"pi_2","client_secret":"pi_2_secret"}`)
	})

	_, err := c.CreatePaymentIntent(context.Background(), PaymentIntentRequest{AmountCents: 1000, Currency: "eur"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))

	first, second := <-keys, <-keys
	assert.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

func TestStripeDeclineIsNotRetried(t *testing.T) {
	var calls int32
	c := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusPaymentRequired)
		fmt.Fprint(w, `{"error":{"type":"card_error","code":"card_declined","message":"Your card was declined."}}`)
	})

	for i := 0; i < 6; i++ {
		_, err := c.CreatePaymentIntent(context.Background(), PaymentIntentRequest{AmountCents: 1000, Currency: "eur"})
		require.Error(t, err)
		assert.False(t, errors.IsRetryable(err))
		assert.Contains(t, err.Error(), "Your card was declined.")
	}
	assert.EqualValues(t, 6, atomic.LoadInt32(&calls))
	assert.Equal(t, circuitbreaker.StateClosed, c.Breaker().GetState())
}

func TestStripeOutageBecomesServiceUnavailable(t *testing.T) {
	var calls int32
	c := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.CreatePaymentIntent(context.Background(), PaymentIntentRequest{AmountCents: 1000, Currency: "eur"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrExternalServiceUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, errors.StatusCode(err))
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestStripeRejectsTinyAmounts(t *testing.T) {
	c := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("gateway must not be called")
	})

	_, err := c.CreatePaymentIntent(context.Background(), PaymentIntentRequest{AmountCents: MinimumAmountCents - 1, Currency: "eur"})
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestMockGatewayRecordsRequests(t *testing.T) {
	m := NewMockGateway()
	intent, err := m.CreatePaymentIntent(context.Background(), PaymentIntentRequest{AmountCents: 500, Currency: "EUR"})
	require.NoError(t, err)
	assert.Equal(t, "eur", intent.Currency)
	assert.Len(t, m.Requests(), 1)

	m.Err = errors.NewTemporaryError("down")
	_, err = m.CreatePaymentIntent(context.Background(), PaymentIntentRequest{AmountCents: 500})
	assert.Error(t, err)
	assert.Len(t, m.Requests(), 1)
}

func newTestRouting(t *testing.T, handler http.HandlerFunc) *RoutingClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewRoutingClient(srv.URL, time.Second, logger.NewNop())
	c.retryConfig.BackoffStrategy = &retry.ConstantBackoff{Interval: time.Millisecond}
	return c
}

func TestRoutingDistance(t *testing.T) {
	c := newTestRouting(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/route/v1/driving/2.352200,48.856600;4.835700,45.764000")
		fmt.Fprint(w, `{"code":"Ok","routes":[{"distance":465300,"duration":16200}]}`)
	})

	km, err := c.DrivingDistanceKm(context.Background(),
		carbon.Point{Lat: 48.8566, Lng: 2.3522},
		carbon.Point{Lat: 45.764, Lng: 4.8357})
	require.NoError(t, err)
	assert.InDelta(t, 465.3, km, 0.001)
}

func TestRoutingNoRouteIsPermanent(t *testing.T) {
	var calls int32
	c := newTestRouting(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, `{"code":"NoRoute","message":"Impossible route between points","routes":[]}`)
	})

	_, err := c.DrivingDistanceKm(context.Background(), carbon.Point{}, carbon.Point{Lat: 1, Lng: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPermanentFailure)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestRoutingOpenBreaker(t *testing.T) {
	c := newTestRouting(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < 5; i++ {
		_, err := c.DrivingDistanceKm(context.Background(), carbon.Point{}, carbon.Point{Lat: 1, Lng: 1})
		require.Error(t, err)
	}
	require.Equal(t, circuitbreaker.StateOpen, c.Breaker().GetState())

	_, err := c.DrivingDistanceKm(context.Background(), carbon.Point{}, carbon.Point{Lat: 1, Lng: 1})
	assert.ErrorIs(t, err, errors.ErrExternalServiceUnavailable)
}
