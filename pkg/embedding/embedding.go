// Package embedding defines the embedding service contract together with
// the vector hygiene utilities used by every component that writes
// documents with embeddings: format checks, collection audits, vector
// index readiness, and embedding repair.
package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// Embedder converts text into a fixed-dimension vector. Provider wiring
// lives outside the core; consumers only depend on this contract.
type Embedder interface {
	// Embed returns the embedding of text, or an error on provider failure.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Model identifies the embedding model in use.
	Model() string
	// Dimensions is the fixed output dimension of the model.
	Dimensions() int
}

// RetryingEmbedder retries transient provider failures with exponential
// backoff, honoring the caller's context deadline.
type RetryingEmbedder struct {
	inner       Embedder
	maxRetries  uint64
	maxInterval time.Duration
}

// NewRetryingEmbedder wraps an embedder with bounded exponential retry.
func NewRetryingEmbedder(inner Embedder, maxRetries int) *RetryingEmbedder {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &RetryingEmbedder{
		inner:       inner,
		maxRetries:  uint64(maxRetries),
		maxInterval: 10 * time.Second,
	}
}

// Embed implements Embedder.
func (r *RetryingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = r.maxInterval

	var vector []float32
	operation := func() error {
		var err error
		vector, err = r.inner.Embed(ctx, text)
		return err
	}
	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, r.maxRetries), ctx))
	if err != nil {
		return nil, fmt.Errorf("embedding failed after retries: %w", err)
	}
	return vector, nil
}

// Model implements Embedder.
func (r *RetryingEmbedder) Model() string { return r.inner.Model() }

// Dimensions implements Embedder.
func (r *RetryingEmbedder) Dimensions() int { return r.inner.Dimensions() }

// BreakerEmbedder guards an embedder with a circuit breaker so a failing
// provider sheds load instead of queueing timeouts.
type BreakerEmbedder struct {
	inner   Embedder
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerEmbedder wraps an embedder with a circuit breaker.
func NewBreakerEmbedder(inner Embedder) *BreakerEmbedder {
	return &BreakerEmbedder{
		inner: inner,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "embedder",
			MaxRequests: 3,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Embed implements Embedder.
func (b *BreakerEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.inner.Embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	return result.([]float32), nil
}

// Model implements Embedder.
func (b *BreakerEmbedder) Model() string { return b.inner.Model() }

// Dimensions implements Embedder.
func (b *BreakerEmbedder) Dimensions() int { return b.inner.Dimensions() }
