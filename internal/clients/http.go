package clients

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/vaidashi/order-settlement-api/pkg/errors"
)

// maxBodyBytes caps how much of a collaborator's response is read
const maxBodyBytes = 1 << 20

// retryableHTTPErrors are the error kinds worth another attempt
var retryableHTTPErrors = []error{
	errors.ErrTimeout,
	errors.ErrTemporaryFailure,
	errors.ErrServiceUnavailable,
	errors.ErrRateLimited,
}

// isDownstreamFailure reports whether err means the collaborator is unhealthy.
// Rejections of a well-formed call leave the circuit breaker alone.
func isDownstreamFailure(err error) bool {
	for _, kind := range retryableHTTPErrors {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// doRequest sends a freshly built request and classifies the outcome for the retry loop.
// The body of a response with status < 400 is returned.
func doRequest(ctx context.Context, client *http.Client, newReq func(ctx context.Context) (*http.Request, error), service string) ([]byte, error) {
	req, err := newReq(ctx)
	if err != nil {
		return nil, errors.NewInternalError(fmt.Sprintf("failed to create %s request: %v", service, err))
	}

	resp, err := client.Do(req)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, errors.NewTimeoutError(fmt.Sprintf("%s request timed out", service))
		}
		return nil, errors.NewTemporaryError(fmt.Sprintf("failed to send %s request: %v", service, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.NewTemporaryError(fmt.Sprintf("failed to read %s response body: %v", service, err))
	}

	switch {
	case resp.StatusCode < 400:
		return body, nil
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return nil, errors.NewTimeoutError(fmt.Sprintf("%s request timed out", service))
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.NewRateLimitedError(fmt.Sprintf("%s rate limited the request", service))
	case resp.StatusCode >= 500:
		return nil, errors.NewTemporaryError(fmt.Sprintf("%s service error: %d", service, resp.StatusCode))
	default:
		return nil, errors.NewPermanentError(fmt.Sprintf("%s returned error %d: %s", service, resp.StatusCode, truncate(body, 200))).
			WithContext("status", resp.StatusCode)
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
