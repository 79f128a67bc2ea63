package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	errs "storyrelay/pkg/errors"
	"storyrelay/pkg/logger"
)

// Operation is a function that performs an operation that might need retrying
type Operation func() error

// Config holds retry configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts (0 means unlimited)
	MaxAttempts int
	// InitialInterval is the first backoff delay
	InitialInterval time.Duration
	// MaxInterval caps the exponential backoff
	MaxInterval time.Duration
	// Multiplier grows the delay between attempts
	Multiplier float64
	// MaxRetryAfter is the longest server-requested delay that is honored;
	// longer hints end the retries
	MaxRetryAfter time.Duration
	// RetryIf determines if an error should be retried
	RetryIf func(error) bool
	// Logger for retry attempts
	Logger logger.Logger
}

// DefaultConfig returns a retry configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
		MaxRetryAfter:   time.Minute,
		RetryIf:         DefaultRetryIf,
		Logger:          logger.GetLogger(),
	}
}

// DefaultRetryIf retries typed errors whose type is transient and raw
// network errors. Context cancellation is never retried.
func DefaultRetryIf(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *errs.Error
	if errors.As(err, &apiErr) {
		return errs.IsRetryable(apiErr.Type)
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// AfterError carries a server-requested delay before the next attempt
type AfterError struct {
	Err   error
	After time.Duration
}

func (e *AfterError) Error() string {
	return fmt.Sprintf("%v (retry after %s)", e.Err, e.After)
}

func (e *AfterError) Unwrap() error { return e.Err }

// WithRetryAfter annotates err with the delay the server asked for
func WithRetryAfter(err error, after time.Duration) error {
	if err == nil || after <= 0 {
		return err
	}
	return &AfterError{Err: err, After: after}
}

// hintedBackOff prefers a server hint over the exponential schedule
type hintedBackOff struct {
	backoff.BackOff
	hint time.Duration
}

func (h *hintedBackOff) NextBackOff() time.Duration {
	if h.hint > 0 {
		d := h.hint
		h.hint = 0
		return d
	}
	return h.BackOff.NextBackOff()
}

func (h *hintedBackOff) Reset() {
	h.hint = 0
	h.BackOff.Reset()
}

// Do executes op until it succeeds, returns a non-retryable error, runs out
// of attempts, or ctx is done
func Do(ctx context.Context, cfg *Config, op Operation) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = DefaultRetryIf
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.InitialInterval
	exp.MaxInterval = cfg.MaxInterval
	exp.Multiplier = cfg.Multiplier
	exp.MaxElapsedTime = 0

	hinted := &hintedBackOff{BackOff: exp}
	var policy backoff.BackOff = hinted
	if cfg.MaxAttempts > 0 {
		policy = backoff.WithMaxRetries(policy, uint64(cfg.MaxAttempts-1))
	}
	policy = backoff.WithContext(policy, ctx)

	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err == nil {
			if attempt > 1 {
				log.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"attempt": attempt,
				})
			}
			return nil
		}
		if !retryIf(err) {
			return backoff.Permanent(err)
		}

		var after *AfterError
		if errors.As(err, &after) {
			if cfg.MaxRetryAfter > 0 && after.After > cfg.MaxRetryAfter {
				return backoff.Permanent(err)
			}
			hinted.hint = after.After
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		log.WithError(err).WarnWithFields("retrying operation", map[string]interface{}{
			"attempt":      attempt,
			"delay_ms":     delay.Milliseconds(),
			"max_attempts": cfg.MaxAttempts,
		})
	}

	return backoff.RetryNotify(wrapped, policy, notify)
}

// DoWithResult executes an operation that returns a value with retry logic
func DoWithResult[T any](ctx context.Context, cfg *Config, op func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var opErr error
		result, opErr = op()
		return opErr
	})
	return result, err
}
