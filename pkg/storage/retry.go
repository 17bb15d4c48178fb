package storage

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/Vadoid/iceberg-explorer/pkg/explorererrors"
	"github.com/Vadoid/iceberg-explorer/pkg/metrics"
)

// RetryPolicy defines retry behavior for storage calls
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64
}

// NewRetryPolicy creates a new retry policy with exponential backoff
func NewRetryPolicy(maxAttempts int, initialDelay time.Duration) *RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RetryPolicy{
		MaxAttempts:     maxAttempts,
		InitialDelay:    initialDelay,
		MaxDelay:        5 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}
}

// Execute runs fn until it succeeds, returns a non-retryable error or the
// attempts are exhausted. The last error is returned unchanged so its type
// still drives the caller's decision.
func (rp *RetryPolicy) Execute(ctx context.Context, operation string, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < rp.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !explorererrors.IsRetryable(err) || attempt == rp.MaxAttempts-1 {
			break
		}

		metrics.StorageRetries.WithLabelValues(operation).Inc()
		timer := time.NewTimer(rp.calculateDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return explorererrors.Wrap(ctx.Err(), explorererrors.ErrorTypeTimeout, "retry cancelled")
		case <-timer.C:
		}
	}

	return lastErr
}

func (rp *RetryPolicy) calculateDelay(attempt int) time.Duration {
	delay := float64(rp.InitialDelay) * math.Pow(rp.Multiplier, float64(attempt))
	if delay > float64(rp.MaxDelay) {
		delay = float64(rp.MaxDelay)
	}

	if rp.RandomizeFactor > 0 {
		delta := rp.RandomizeFactor * delay
		delay = delay - delta + rand.Float64()*(2*delta) //nolint:gosec // jitter only
	}

	return time.Duration(delay)
}

// retryStore decorates a Store with a RetryPolicy.
type retryStore struct {
	next   Store
	policy *RetryPolicy
	logger *zap.Logger
}

// WithRetry wraps s so every call is retried per policy.
func WithRetry(s Store, policy *RetryPolicy, logger *zap.Logger) Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &retryStore{next: s, policy: policy, logger: logger}
}

func (r *retryStore) do(ctx context.Context, operation string, fn func() error) error {
	err := r.policy.Execute(ctx, operation, fn)
	if err != nil && explorererrors.IsRetryable(err) {
		r.logger.Warn("storage call failed after retries",
			zap.String("operation", operation),
			zap.Int("attempts", r.policy.MaxAttempts),
			zap.Error(err))
	}
	return err
}

func (r *retryStore) List(ctx context.Context, bucket, prefix string, limit int) ([]ObjectInfo, error) {
	var out []ObjectInfo
	err := r.do(ctx, "list", func() error {
		var err error
		out, err = r.next.List(ctx, bucket, prefix, limit)
		return err
	})
	return out, err
}

func (r *retryStore) ListDir(ctx context.Context, bucket, prefix string) (*Listing, error) {
	var out *Listing
	err := r.do(ctx, "list_dir", func() error {
		var err error
		out, err = r.next.ListDir(ctx, bucket, prefix)
		return err
	})
	return out, err
}

func (r *retryStore) ReadBytes(ctx context.Context, bucket, key string) ([]byte, error) {
	var out []byte
	err := r.do(ctx, "read", func() error {
		var err error
		out, err = r.next.ReadBytes(ctx, bucket, key)
		return err
	})
	return out, err
}

func (r *retryStore) ReadText(ctx context.Context, bucket, key string) (string, error) {
	data, err := r.ReadBytes(ctx, bucket, key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (r *retryStore) ListBuckets(ctx context.Context, projectID string) ([]string, error) {
	var out []string
	err := r.do(ctx, "list_buckets", func() error {
		var err error
		out, err = r.next.ListBuckets(ctx, projectID)
		return err
	})
	return out, err
}

func (r *retryStore) Scheme() string { return r.next.Scheme() }

func (r *retryStore) Close() error { return r.next.Close() }
