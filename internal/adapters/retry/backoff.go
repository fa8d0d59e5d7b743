package retry

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// BackoffConfig schedules the waits between attempts. MaxRetries counts
// retries, so a config allows MaxRetries+1 attempts in total.
type BackoffConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      int
	Multiplier      float64
}

// Fixed waits the same interval between every attempt. Server connect
// policies use it.
func Fixed(interval time.Duration, maxRetries int) BackoffConfig {
	return BackoffConfig{
		InitialInterval: interval,
		MaxInterval:     interval,
		MaxRetries:      maxRetries,
		Multiplier:      1.0,
	}
}

// Exponential doubles the wait after each attempt up to max
func Exponential(initial, max time.Duration, maxRetries int) BackoffConfig {
	return BackoffConfig{
		InitialInterval: initial,
		MaxInterval:     max,
		MaxRetries:      maxRetries,
		Multiplier:      2.0,
	}
}

// IsTransient reports whether a registry write failed in a way worth
// retrying: network blips and errors pgx marks safe to resend. Cancellation
// never is.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if pgconn.SafeToRetry(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		// NXDOMAIN is definitive
		return !dnsErr.IsNotFound
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

// Do calls fn until it succeeds, retryable rejects its error, or
// cfg.MaxRetries retries have been made. It returns the number of attempts
// and the last error unwrapped. A cancelled ctx during a wait returns
// ctx.Err().
func Do(ctx context.Context, cfg BackoffConfig, retryable func(error) bool, fn func(attempt int) error) (int, error) {
	interval := cfg.InitialInterval
	multiplier := cfg.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}

	attempts := 0
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		attempts++
		err := fn(attempt)
		if err == nil {
			return attempts, nil
		}
		if attempt == cfg.MaxRetries || !retryable(err) {
			return attempts, err
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempts, ctx.Err()
		case <-timer.C:
		}

		interval = time.Duration(float64(interval) * multiplier)
		if cfg.MaxInterval > 0 && interval > cfg.MaxInterval {
			interval = cfg.MaxInterval
		}
	}

	return attempts, nil
}
