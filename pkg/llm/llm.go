// Package llm defines the completion service contract used by the Q&A
// generator and the contradiction resolver. Provider wiring is external;
// the core depends only on Client plus the resilience decorators here.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrInvalidResponse marks a malformed or schema-violating completion.
// Callers treat it as retryable.
var ErrInvalidResponse = errors.New("llm: invalid response")

// Request describes one completion call.
type Request struct {
	Prompt      string
	Model       string
	Temperature float64
	MaxTokens   int
	// ResponseSchema, when non-empty, is a JSON schema the response body
	// must satisfy.
	ResponseSchema string
	// Thinking requests the provider's reasoning mode when available.
	Thinking bool
}

// Response is a completion result.
type Response struct {
	Text string
}

// Client is the completion service contract.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// RetryingClient retries transient completion failures with exponential
// backoff. Schema violations are not retried here; the generator's
// self-repair loop owns that feedback cycle.
type RetryingClient struct {
	inner      Client
	maxRetries uint64
}

// NewRetryingClient wraps a client with bounded exponential retry.
func NewRetryingClient(inner Client, maxRetries int) *RetryingClient {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &RetryingClient{inner: inner, maxRetries: uint64(maxRetries)}
}

// Complete implements Client.
func (r *RetryingClient) Complete(ctx context.Context, req Request) (*Response, error) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = 15 * time.Second

	var resp *Response
	operation := func() error {
		var err error
		resp, err = r.inner.Complete(ctx, req)
		if errors.Is(err, ErrInvalidResponse) {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, r.maxRetries), ctx))
	if err != nil {
		return nil, fmt.Errorf("completion failed after retries: %w", err)
	}
	return resp, nil
}

// BreakerClient guards a client with a circuit breaker.
type BreakerClient struct {
	inner   Client
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerClient wraps a client with a circuit breaker.
func NewBreakerClient(inner Client) *BreakerClient {
	return &BreakerClient{
		inner: inner,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "llm",
			MaxRequests: 2,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Complete implements Client.
func (b *BreakerClient) Complete(ctx context.Context, req Request) (*Response, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.inner.Complete(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Response), nil
}

// RateLimitedClient caps the outbound completion rate.
type RateLimitedClient struct {
	inner   Client
	limiter *rate.Limiter
}

// NewRateLimitedClient wraps a client with a requests-per-second cap.
func NewRateLimitedClient(inner Client, rps float64, burst int) *RateLimitedClient {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedClient{inner: inner, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Complete implements Client.
func (r *RateLimitedClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Complete(ctx, req)
}
