// Package httpclient provides the shared rate-limited, circuit-broken
// HTTP client every upstream collaborator (data provider, IPFS gateway,
// web3.storage) is built on, plus a retry helper with a bounded
// max-elapsed-time budget.
package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Client wraps *http.Client with a token-bucket rate limiter and a
// circuit breaker so a sustained upstream outage fails fast instead of
// stacking up retries across every chain's tick.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// New builds a Client named name, rate limited to limiter, with requests
// timing out after timeout.
func New(name string, limiter *rate.Limiter, timeout time.Duration) *Client {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &Client{
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Do waits for a rate-limit token, then executes req through the circuit
// breaker. A 5xx response is treated as a breaker failure and returned
// as an error, so sustained 5xx responses trip the breaker the same as
// dial errors; any other status is returned to the caller to inspect.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.http.Do(req.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(*http.Response), nil
}
