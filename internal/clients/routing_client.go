package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vaidashi/order-settlement-api/internal/carbon"
	"github.com/vaidashi/order-settlement-api/pkg/circuitbreaker"
	"github.com/vaidashi/order-settlement-api/pkg/errors"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
	"github.com/vaidashi/order-settlement-api/pkg/retry"
)

// RoutingClient queries an OSRM-compatible routing service for driving distances
type RoutingClient struct {
	baseURL     string
	httpClient  *http.Client
	breaker     *circuitbreaker.CircuitBreaker
	retryConfig *retry.RetryConfig
	logger      logger.Logger
}

type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	Routes  []struct {
		Distance float64 `json:"distance"` // meters
		Duration float64 `json:"duration"` // seconds
	} `json:"routes"`
}

// NewRoutingClient creates a new RoutingClient instance
func NewRoutingClient(baseURL string, timeout time.Duration, logger logger.Logger) *RoutingClient {
	if timeout <= 0 {
		timeout = carbon.DefaultRoutingTimeout
	}

	return &RoutingClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.CircuitBreakerConfig{
			Name:             "routing",
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
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
func (c *RoutingClient) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}

// DrivingDistanceKm returns the road distance of the fastest route between two points
func (c *RoutingClient) DrivingDistanceKm(ctx context.Context, from, to carbon.Point) (float64, error) {
	// OSRM takes lng,lat pairs
	url := fmt.Sprintf("%s/route/v1/driving/%f,%f;%f,%f?overview=false",
		c.baseURL, from.Lng, from.Lat, to.Lng, to.Lat)

	var km float64
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return retry.Retry(ctx, func(ctx context.Context) error {
			body, err := doRequest(ctx, c.httpClient, func(ctx context.Context) (*http.Request, error) {
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
				if err != nil {
					return nil, err
				}
				req.Header.Set("Accept", "application/json")
				return req, nil
			}, "routing")
			if err != nil {
				return err
			}

			var resp osrmResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return errors.NewPermanentError(fmt.Sprintf("failed to parse routing response: %v", err))
			}
			if resp.Code != "Ok" || len(resp.Routes) == 0 {
				return errors.NewPermanentError(fmt.Sprintf("no route found: %s %s", resp.Code, resp.Message))
			}

			km = resp.Routes[0].Distance / 1000
			return nil
		}, c.retryConfig)
	})

	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return 0, errors.NewExternalServiceUnavailableError("routing", err)
		}
		c.logger.Warn("Routing query failed", "error", err, "breaker", c.breaker.GetState().String())
		return 0, err
	}

	return km, nil
}
