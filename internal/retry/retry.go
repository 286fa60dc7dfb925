// Package retry provides bounded retry with exponential backoff for
// fallible operations against external services.
//
// Information Hiding:
// - Backoff schedule computation hidden
// - Transient-error classification hidden
package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Options controls retry behavior for a single Do invocation.
type Options struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialDelay is the sleep before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the backoff. Zero means uncapped.
	MaxDelay time.Duration

	// Multiplier scales the delay between attempts. Defaults to 2.
	Multiplier float64

	// RetryIf decides whether an error is worth retrying.
	// Defaults to IsTransient.
	RetryIf func(error) bool

	// LogPrefix is prepended to per-attempt log messages.
	LogPrefix string

	// Logger receives one structured line per failed attempt.
	// Defaults to zap.NewNop().
	Logger *zap.Logger
}

// DefaultOptions returns the retry schedule used for model-service calls:
// 3 attempts, 2s initial delay, 10s cap.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     10 * time.Second,
	}
}

// Do invokes fn until it succeeds, a non-retryable error occurs, the
// attempt budget is exhausted, or ctx is cancelled. The last error is
// returned after exhaustion; non-retryable errors propagate immediately.
func Do(ctx context.Context, opts Options, fn func(context.Context) error) error {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.Multiplier <= 0 {
		opts.Multiplier = 2
	}
	retryIf := opts.RetryIf
	if retryIf == nil {
		retryIf = IsTransient
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	delay := opts.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if !retryIf(lastErr) {
			return lastErr
		}

		if attempt == opts.MaxAttempts {
			logger.Error(opts.LogPrefix+"max attempts reached",
				zap.Int("attempts", opts.MaxAttempts),
				zap.Error(lastErr))
			break
		}

		logger.Warn(opts.LogPrefix+"attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", opts.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(lastErr))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * opts.Multiplier)
		if opts.MaxDelay > 0 && delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
	}

	return lastErr
}

// IsTransient reports whether err looks like a connection or timeout
// class failure. Validation errors and 4xx-style failures are not
// transient and must not be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}
	return false
}
