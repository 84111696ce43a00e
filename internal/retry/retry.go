// Package retry wraps fallible operations with exponential-backoff retries.
//
// The engine is stateless: every call to Do is independent and safe to run
// concurrently. Transience is decided by a pluggable classifier so callers
// keep control over what is worth retrying; everything not explicitly
// classified as transient is surfaced immediately. The original error is
// always returned unchanged, never wrapped, because callers match on its
// type and identity.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Defaults for the delay schedule.
const (
	DefaultMaxRetries   = 3
	DefaultBaseDelay    = 1 * time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultMultiplier   = 2.0
	DefaultJitterFactor = 0.1
)

// Attempt describes a single failed attempt about to be retried. It exists
// only for the duration of the retried operation and feeds observability,
// never control flow.
type Attempt struct {
	// Number is the 1-based count of attempts made so far.
	Number int

	// Err is the error the attempt failed with.
	Err error

	// Delay is the computed sleep before the next attempt.
	Delay time.Duration
}

// Config controls the retry schedule and classification.
// Zero-valued fields fall back to the package defaults.
type Config struct {
	// MaxRetries is the number of additional attempts beyond the first.
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps every computed delay regardless of attempt count.
	MaxDelay time.Duration

	// Multiplier is the exponential growth factor per attempt.
	Multiplier float64

	// JitterFactor adds up to this fraction of the computed delay at random.
	JitterFactor float64

	// IsRetryable decides whether an error is transient. Defaults to
	// DefaultRetryable.
	IsRetryable func(error) bool

	// OnRetry, if set, is invoked before each sleep. It must not affect
	// control flow.
	OnRetry func(Attempt)
}

func (c Config) withDefaults() Config {
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.Multiplier == 0 {
		c.Multiplier = DefaultMultiplier
	}
	if c.JitterFactor == 0 {
		c.JitterFactor = DefaultJitterFactor
	}
	if c.IsRetryable == nil {
		c.IsRetryable = DefaultRetryable
	}
	return c
}

// Do runs op, retrying on transient failures according to cfg.
//
// On failure the error is re-attempted while retries remain and the
// classifier reports it transient; otherwise the error is returned as-is.
// When retries are exhausted the last error is returned, not a wrapper.
// Cancelling ctx during a backoff sleep also returns the last operation
// error: the operation already failed, and that failure is what the caller
// needs to see.
func Do(ctx context.Context, cfg Config, op func(context.Context) error) error {
	cfg = cfg.withDefaults()

	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt >= cfg.MaxRetries || !cfg.IsRetryable(lastErr) {
			return lastErr
		}

		delay := backoffDelay(cfg, attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(Attempt{Number: attempt + 1, Err: lastErr, Delay: delay})
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		}
	}
}

// DoModel is Do specialized for outbound model calls: cfg supplies the
// schedule (zero fields fall back to package defaults) and the OnRetry
// observer logs attempt count, computed delay, HTTP status when the error
// carries one, and the error message.
func DoModel(ctx context.Context, logger *zap.Logger, cfg Config, op func(context.Context) error) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg.OnRetry = func(a Attempt) {
		fields := []zap.Field{
			zap.Int("attempt", a.Number),
			zap.Duration("delay", a.Delay),
			zap.String("error", a.Err.Error()),
		}
		if status, ok := httpStatus(a.Err); ok {
			fields = append(fields, zap.Int("status", status))
		}
		logger.Warn("model call failed, retrying", fields...)
	}
	return Do(ctx, cfg, op)
}

// backoffDelay computes the sleep before the attempt-th retry (0-based):
// min(base * multiplier^attempt + random(0, jitterFactor * that), maxDelay).
func backoffDelay(cfg Config, attempt int) time.Duration {
	raw := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt))
	raw += rand.Float64() * cfg.JitterFactor * raw
	if raw > float64(cfg.MaxDelay) {
		raw = float64(cfg.MaxDelay)
	}
	return time.Duration(raw)
}
