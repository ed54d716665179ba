package payloadstore

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior for store operations
type RetryConfig struct {
	MaxAttempts   int           `json:"max_attempts"`
	InitialDelay  time.Duration `json:"initial_delay"`
	MaxDelay      time.Duration `json:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor"`
	JitterEnabled bool          `json:"jitter_enabled"`
}

// DefaultRetryConfig returns a sensible default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// WithRetry executes an operation with retry logic. Missing payloads are
// permanent and never retried.
func WithRetry(ctx context.Context, config *RetryConfig, op func(ctx context.Context) error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt >= config.MaxAttempts || err == ErrNotFound {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(config.calculateDelay(attempt)):
		}
	}

	return lastErr
}

// calculateDelay calculates the delay before the next retry attempt
func (c *RetryConfig) calculateDelay(attempt int) time.Duration {
	// Exponential backoff: delay = initial_delay * (backoff_factor ^ (attempt - 1))
	delay := float64(c.InitialDelay) * math.Pow(c.BackoffFactor, float64(attempt-1))

	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}

	// Jitter prevents thundering herd on shared backends.
	if c.JitterEnabled {
		delay += rand.Float64() * 0.1 * delay
	}

	return time.Duration(delay)
}

// RetryingStore wraps a Store with retry logic.
type RetryingStore struct {
	store  Store
	config *RetryConfig
}

// NewRetryingStore creates a retrying wrapper around a store.
func NewRetryingStore(store Store, config *RetryConfig) *RetryingStore {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &RetryingStore{store: store, config: config}
}

func (r *RetryingStore) Put(ctx context.Context, key string, data []byte) error {
	return WithRetry(ctx, r.config, func(ctx context.Context) error {
		return r.store.Put(ctx, key, data)
	})
}

func (r *RetryingStore) Get(ctx context.Context, key string) ([]byte, error) {
	var result []byte
	err := WithRetry(ctx, r.config, func(ctx context.Context) error {
		data, err := r.store.Get(ctx, key)
		if err != nil {
			return err
		}
		result = data
		return nil
	})
	return result, err
}

func (r *RetryingStore) Delete(ctx context.Context, key string) error {
	return WithRetry(ctx, r.config, func(ctx context.Context) error {
		return r.store.Delete(ctx, key)
	})
}

func (r *RetryingStore) Close() error {
	return r.store.Close()
}
