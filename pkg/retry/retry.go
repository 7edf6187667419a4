// Package retry re-runs fetches that failed for a reason a later attempt may
// not hit, such as an image that was still being copied into the folder.
package retry

import (
	"context"
	stderr "errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/project-AI39/artfave/pkg/errors"
	"github.com/project-AI39/artfave/pkg/types"
)

// Config defines retry behavior configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first
	MaxAttempts int `yaml:"max_attempts" toml:"max_attempts"`

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration `yaml:"initial_delay" toml:"initial_delay"`

	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration `yaml:"max_delay" toml:"max_delay"`

	// Multiplier is the factor by which delay increases after each retry
	Multiplier float64 `yaml:"multiplier" toml:"multiplier"`

	// Jitter spreads retries of neighbouring images apart
	Jitter bool `yaml:"jitter" toml:"jitter"`

	// RetryableErrors lists codes retried even when the error is not
	// flagged Retryable
	RetryableErrors []errors.ErrorCode `yaml:"retryable_errors" toml:"retryable_errors"`

	// OnRetry is called before each retry attempt
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-" toml:"-"`
}

// DefaultConfig keeps the total backoff well inside the default per-item
// timeout.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer handles retry logic with exponential backoff
type Retryer struct {
	config Config
}

// New creates a new Retryer with the given configuration
func New(config Config) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 50 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}

	return &Retryer{config: config}
}

// DoWithContext executes fn until it succeeds, fails with an error that is
// not retryable, runs out of attempts or ctx ends.
func (r *Retryer) DoWithContext(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				return err
			}
			return fmt.Errorf("canceled after %d attempts: %w", attempt-1, err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !r.shouldRetry(err, attempt) {
			return err
		}

		delay := r.calculateDelay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("canceled after %d attempts: %w", attempt, ctx.Err())
		case <-timer.C:
		}
	}

	return lastErr
}

// shouldRetry determines if an error is retryable
func (r *Retryer) shouldRetry(err error, attempt int) bool {
	if attempt >= r.config.MaxAttempts {
		return false
	}
	// The caller's deadline is not something another attempt can fix.
	if stderr.Is(err, context.DeadlineExceeded) || stderr.Is(err, context.Canceled) {
		return false
	}

	var ae *errors.ArtfaveError
	if !stderr.As(err, &ae) {
		return false
	}
	if ae.Retryable {
		return true
	}
	for _, code := range r.config.RetryableErrors {
		if ae.Code == code {
			return true
		}
	}
	return false
}

// calculateDelay calculates the delay for the next retry attempt
func (r *Retryer) calculateDelay(attempt int) time.Duration {
	// initialDelay * multiplier^(attempt-1)
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))

	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	if r.config.Jitter {
		// ±20%
		jitter := delay * 0.2 * (rand.Float64()*2 - 1)
		delay += jitter
	}

	return time.Duration(delay)
}

// WithOnRetry returns a new Retryer with a retry callback
func (r *Retryer) WithOnRetry(callback func(attempt int, err error, delay time.Duration)) *Retryer {
	newConfig := r.config
	newConfig.OnRetry = callback
	return New(newConfig)
}

// Fetcher wraps inner so that every fetch goes through r.
func Fetcher[K comparable, V any](inner types.Fetcher[K, V], r *Retryer) types.Fetcher[K, V] {
	return types.FetcherFunc[K, V](func(ctx context.Context, key K) (V, error) {
		var out V
		err := r.DoWithContext(ctx, func(ctx context.Context) error {
			v, err := inner.Fetch(ctx, key)
			if err == nil {
				out = v
			}
			return err
		})
		return out, err
	})
}
