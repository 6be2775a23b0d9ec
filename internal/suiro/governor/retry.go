package governor

import (
	"context"
	"math/rand"
	"time"

	"gopkg.in/yaml.v3"
)

// RetryConfig controls retry pacing.
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	Jitter        bool          `yaml:"jitter"`
}

// UnmarshalYAML accepts durations in "2s"/"1m" form and leaves fields the
// document omits untouched, so file values overlay defaults.
func (c *RetryConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		MaxAttempts   *int     `yaml:"max_attempts"`
		BaseDelay     *string  `yaml:"base_delay"`
		MaxDelay      *string  `yaml:"max_delay"`
		BackoffFactor *float64 `yaml:"backoff_factor"`
		Jitter        *bool    `yaml:"jitter"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.MaxAttempts != nil {
		c.MaxAttempts = *raw.MaxAttempts
	}
	if raw.BaseDelay != nil {
		d, err := time.ParseDuration(*raw.BaseDelay)
		if err != nil {
			return err
		}
		c.BaseDelay = d
	}
	if raw.MaxDelay != nil {
		d, err := time.ParseDuration(*raw.MaxDelay)
		if err != nil {
			return err
		}
		c.MaxDelay = d
	}
	if raw.BackoffFactor != nil {
		c.BackoffFactor = *raw.BackoffFactor
	}
	if raw.Jitter != nil {
		c.Jitter = *raw.Jitter
	}
	return nil
}

// DefaultRetryConfig returns the standard retry policy: 3 attempts, 1s base,
// doubling, capped at 60s, jittered.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		BaseDelay:     time.Second,
		MaxDelay:      60 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}
}

const minBackoff = 100 * time.Millisecond

// Backoff computes the delay before retry number attempt (0-based):
// base * factor^attempt, capped at MaxDelay, with optional random jitter of
// up to ±25% of the delay. The floor keeps jitter from producing a zero or
// negative wait.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	delay := float64(c.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= c.BackoffFactor
		if delay >= float64(c.MaxDelay) {
			break
		}
	}
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}

	if c.Jitter {
		jitterRange := delay * 0.25
		delay += (rand.Float64()*2 - 1) * jitterRange
		if delay < float64(minBackoff) {
			delay = float64(minBackoff)
		}
	}
	return time.Duration(delay)
}

// Retry runs fn until it succeeds, the attempts are exhausted, the error is
// not retryable, or the context is done. retryable decides per error; a nil
// retryable retries everything.
func Retry(ctx context.Context, cfg RetryConfig, retryable func(error) bool, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(cfg.Backoff(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
