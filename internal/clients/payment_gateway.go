package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vaidashi/order-settlement-api/pkg/circuitbreaker"
	"github.com/vaidashi/order-settlement-api/pkg/errors"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
	"github.com/vaidashi/order-settlement-api/pkg/retry"
)

// MinimumAmountCents is the smallest charge the gateway accepts
const MinimumAmountCents = 50

// PaymentIntentRequest asks the gateway to prepare a charge
type PaymentIntentRequest struct {
	AmountCents    int64
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

// PaymentIntent is the gateway's handle on a prepared charge
type PaymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	AmountCents  int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// PaymentGateway creates payment intents
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntent, error)
}

// StripeClient talks to a Stripe-compatible payment intents API
type StripeClient struct {
	baseURL     string
	secretKey   string
	httpClient  *http.Client
	breaker     *circuitbreaker.CircuitBreaker
	retryConfig *retry.RetryConfig
	logger      logger.Logger
}

type stripeError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewStripeClient creates a new StripeClient instance
func NewStripeClient(baseURL, secretKey string, timeout time.Duration, logger logger.Logger) *StripeClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}

	return &StripeClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: timeout},
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.CircuitBreakerConfig{
			Name:             "payment-gateway",
			FailureThreshold: 5,
			ResetTimeout:     time.Minute,
			HalfOpenMaxCalls: 1,
			IsFailure:        isDownstreamFailure,
			OnStateChange: func(name string, from, to circuitbreaker.State) {
				logger.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
		retryConfig: &retry.RetryConfig{
			MaxAttempts:     3,
			BackoffStrategy: retry.NewHTTPBackoff(),
			Logger:          logger,
			RetryableErrors: retryableHTTPErrors,
		},
		logger: logger,
	}
}

// Breaker exposes the client's circuit breaker for monitoring
func (c *StripeClient) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}

// CreatePaymentIntent creates a payment intent. Retries reuse the idempotency key.
func (c *StripeClient) CreatePaymentIntent(ctx context.Context, in PaymentIntentRequest) (*PaymentIntent, error) {
	if in.AmountCents < MinimumAmountCents {
		return nil, errors.NewValidationError("amount of %d cents is below the gateway minimum of %d", in.AmountCents, MinimumAmountCents)
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(in.AmountCents, 10))
	form.Set("currency", strings.ToLower(in.Currency))
	form.Set("automatic_payment_methods[enabled]", "true")

	keys := make([]string, 0, len(in.Metadata))
	for k := range in.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		form.Set("metadata["+k+"]", in.Metadata[k])
	}
	encoded := form.Encode()

	idempotencyKey := in.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = uuid.New().String()
	}

	var intent PaymentIntent
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return retry.Retry(ctx, func(ctx context.Context) error {
			body, err := doRequest(ctx, c.httpClient, func(ctx context.Context) (*http.Request, error) {
				req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payment_intents", strings.NewReader(encoded))
				if err != nil {
					return nil, err
				}
				req.Header.Set("Authorization", "Bearer "+c.secretKey)
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
				req.Header.Set("Idempotency-Key", idempotencyKey)
				return req, nil
			}, "payment gateway")
			if err != nil {
				return describeStripeError(err)
			}

			if err := json.Unmarshal(body, &intent); err != nil {
				return errors.NewPermanentError(fmt.Sprintf("failed to parse payment intent: %v", err))
			}
			if intent.ID == "" || intent.ClientSecret == "" {
				return errors.NewPermanentError("payment gateway returned an incomplete intent")
			}
			return nil
		}, c.retryConfig)
	})

	if err != nil {
		c.logger.Error("Failed to create payment intent", "error", err, "amountCents", in.AmountCents)
		if errors.IsRetryable(err) || errors.Is(err, circuitbreaker.ErrOpen) {
			return nil, errors.NewExternalServiceUnavailableError("payment gateway", err)
		}
		return nil, err
	}

	c.logger.Info("Payment intent created", "intentID", intent.ID, "amountCents", intent.AmountCents)
	return &intent, nil
}

// describeStripeError replaces the raw body of a 4xx answer with the gateway's own message
func describeStripeError(err error) error {
	var appErr *errors.AppError
	if !errors.As(err, &appErr) || !errors.Is(err, errors.ErrPermanentFailure) {
		return err
	}

	msg := appErr.Message
	if i := strings.Index(msg, ": "); i >= 0 {
		var se stripeError
		if json.Unmarshal([]byte(msg[i+2:]), &se) == nil && se.Error.Message != "" {
			appErr.Message = "payment gateway rejected the request: " + se.Error.Message
		}
	}
	return appErr
}

// MockGateway approves every intent locally. Used in development and tests.
type MockGateway struct {
	mu       sync.Mutex
	requests []PaymentIntentRequest
	// Err, when set, is returned instead of an intent
	Err error
}

// NewMockGateway creates a new MockGateway
func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

// CreatePaymentIntent records the request and returns a synthetic intent
func (m *MockGateway) CreatePaymentIntent(ctx context.Context, in PaymentIntentRequest) (*PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	if in.AmountCents < MinimumAmountCents {
		return nil, errors.NewValidationError("amount of %d cents is below the gateway minimum of %d", in.AmountCents, MinimumAmountCents)
	}

	m.requests = append(m.requests, in)
	id := "pi_mock_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	return &PaymentIntent{
		ID:           id,
		ClientSecret: id + "_secret",
		Status:       "requires_payment_method",
		AmountCents:  in.AmountCents,
		Currency:     strings.ToLower(in.Currency),
	}, nil
}

// Requests returns the intents requested so far
func (m *MockGateway) Requests() []PaymentIntentRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PaymentIntentRequest(nil), m.requests...)
}
