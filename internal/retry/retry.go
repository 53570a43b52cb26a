// Package retry re-runs an operation that lost an optimistic-concurrency race.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/digilib/lendingledger/core"
	"github.com/digilib/lendingledger/observability"
)

const (
	defaultMaxAttempts  = 4
	defaultBaseDelay    = 10 * time.Millisecond
	defaultJitterFactor = 0.3

	metricRetries           = "retry_attempts_total"
	metricRetryDelay        = "retry_delay_seconds"
	metricAttemptsExhausted = "retry_exhausted_total"

	labelAttempt = "attempt"
)

var (
	ErrEmptyOperation      = errors.New("operation name must not be empty")
	ErrInvalidMaxAttempts  = errors.New("max attempts must be positive")
	ErrNegativeBaseDelay   = errors.New("base delay must not be negative")
	ErrInvalidJitterFactor = errors.New("jitter factor must be between 0.0 and 1.0")
)

// Func is the retried operation.
type Func func(ctx context.Context) error

// Result describes how a Do call went.
type Result struct {
	Attempts      int
	TotalDelay    time.Duration
	LastErrorKind string
}

type config struct {
	maxAttempts  int
	baseDelay    time.Duration
	jitterFactor float64
	operation    string
	observer     observability.Instrumentation
}

type Option func(*config) error

func WithMaxAttempts(attempts int) Option {
	return func(c *config) error {
		if attempts <= 0 {
			return ErrInvalidMaxAttempts
		}

		c.maxAttempts = attempts

		return nil
	}
}

// WithBaseDelay sets the first backoff delay. Each further retry doubles it.
func WithBaseDelay(delay time.Duration) Option {
	return func(c *config) error {
		if delay < 0 {
			return ErrNegativeBaseDelay
		}

		c.baseDelay = delay

		return nil
	}
}

// WithJitterFactor adds up to factor*delay of random extra wait. Valid range is 0.0 to 1.0.
func WithJitterFactor(factor float64) Option {
	return func(c *config) error {
		if factor < 0.0 || factor > 1.0 {
			return ErrInvalidJitterFactor
		}

		c.jitterFactor = factor

		return nil
	}
}

// WithMetrics records retries and delays labeled with operation.
func WithMetrics(collector observability.MetricsCollector, operation string) Option {
	return func(c *config) error {
		if operation == "" {
			return ErrEmptyOperation
		}

		c.observer.Metrics = collector
		c.operation = operation

		return nil
	}
}

// WithLogger logs every retry at debug level and exhaustion at warn level.
func WithLogger(logger observability.Logger) Option {
	return func(c *config) error {
		c.observer.Logger = logger
		return nil
	}
}

// Do runs fn until it succeeds, fails with an error other than core.ErrConcurrentModification,
// or maxAttempts is reached. Between attempts it waits baseDelay * 2^(attempt-1) plus jitter.
// A context that ends while waiting stops the loop with ctx's error.
func Do(ctx context.Context, fn Func, options ...Option) (Result, error) {
	c := &config{
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultBaseDelay,
		jitterFactor: defaultJitterFactor,
	}

	for _, option := range options {
		if err := option(c); err != nil {
			return Result{}, err
		}
	}

	var (
		result  Result
		lastErr error
	)

	for attempt := range c.maxAttempts {
		if attempt > 0 {
			delay := c.backoff(attempt)
			result.TotalDelay += delay

			c.observer.RecordDuration(ctx, metricRetryDelay, delay, c.labels(attempt))
			c.observer.Debug(ctx, "retrying after concurrent modification",
				observability.LabelOperation, c.operation,
				labelAttempt, attempt+1,
				observability.AttrDurationMS, observability.ToMilliseconds(delay),
			)

			timer := time.NewTimer(delay)

			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				result.LastErrorKind = core.ErrorKind(ctx.Err())

				return result, ctx.Err()
			}
		}

		result.Attempts++

		lastErr = fn(ctx)
		result.LastErrorKind = core.ErrorKind(lastErr)

		if lastErr == nil {
			return result, nil
		}

		if !errors.Is(lastErr, core.ErrConcurrentModification) {
			return result, lastErr
		}

		if attempt < c.maxAttempts-1 {
			c.observer.IncrementCounter(ctx, metricRetries, c.labels(attempt+1))
		}
	}

	c.observer.IncrementCounter(ctx, metricAttemptsExhausted, map[string]string{
		observability.LabelOperation: c.operation,
		observability.LabelErrorType: result.LastErrorKind,
	})
	c.observer.Warn(ctx, "giving up after concurrent modifications",
		observability.LabelOperation, c.operation,
		labelAttempt, result.Attempts,
	)

	return result, lastErr
}

func (c *config) backoff(attempt int) time.Duration {
	delay := c.baseDelay * time.Duration(1<<(attempt-1))
	jitter := rand.Float64() * float64(delay) * c.jitterFactor //nolint:gosec // jitter only

	return delay + time.Duration(jitter)
}

func (c *config) labels(attempt int) map[string]string {
	return map[string]string{
		observability.LabelOperation: c.operation,
		labelAttempt:                 strconv.Itoa(attempt),
	}
}
