package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/longregen/mcphub/internal/domain"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"cancelled write", context.Canceled, false},
		{"write deadline", fmt.Errorf("update status: %w", context.DeadlineExceeded), false},
		{"registry refused", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, true},
		{"registry reset", fmt.Errorf("update status: %w", &net.OpError{Op: "read", Err: syscall.ECONNRESET}), true},
		{"unknown registry host", &net.DNSError{Name: "db.invalid", IsNotFound: true}, false},
		{"resolver hiccup", &net.DNSError{Name: "db.internal", IsTemporary: true}, true},
		{"constraint violation", errors.New("duplicate key value violates unique constraint"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.expected {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestDo_ConnectPolicyRetriesConnectionFailures(t *testing.T) {
	retryable := func(err error) bool { return domain.IsConnectionFailure(err) }
	refused := domain.NewConnectionError(domain.ErrConnectionRefused, errors.New("dial tcp 10.0.0.7:443"))

	var seen []int
	attempts, err := Do(context.Background(), Fixed(time.Millisecond, 2), retryable, func(attempt int) error {
		seen = append(seen, attempt)
		if attempt < 2 {
			return refused
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Do() error = %v, want nil", err)
	}
	if attempts != 3 {
		t.Errorf("Do() attempts = %d, want 3", attempts)
	}
	if len(seen) != 3 || seen[0] != 0 || seen[2] != 2 {
		t.Errorf("Do() attempt indexes = %v, want [0 1 2]", seen)
	}
}

func TestDo_ConnectPolicyExhausted(t *testing.T) {
	retryable := func(err error) bool { return domain.IsConnectionFailure(err) }
	timeout := domain.NewConnectionError(domain.ErrConnectionTimeout, errors.New("i/o timeout"))

	attempts, err := Do(context.Background(), Fixed(time.Millisecond, 3), retryable, func(int) error {
		return timeout
	})

	if !errors.Is(err, domain.ErrConnectionTimeout) {
		t.Errorf("Do() error = %v, want the last connect failure", err)
	}
	if attempts != 4 {
		t.Errorf("Do() attempts = %d, want 4", attempts)
	}
}

func TestDo_ConfigurationErrorIsNotRetried(t *testing.T) {
	retryable := func(err error) bool { return domain.IsConnectionFailure(err) }
	badConfig := fmt.Errorf("build transport: %w", domain.ErrConfiguration)

	attempts, err := Do(context.Background(), Fixed(time.Second, 5), retryable, func(int) error {
		return badConfig
	})

	if !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("Do() error = %v, want configuration error", err)
	}
	if attempts != 1 {
		t.Errorf("Do() attempts = %d, want 1", attempts)
	}
}

func TestDo_ZeroRetries(t *testing.T) {
	attempts, err := Do(context.Background(), Fixed(time.Second, 0), func(error) bool { return true }, func(int) error {
		return errors.New("fail")
	})
	if err == nil {
		t.Error("Do() error = nil, want non-nil")
	}
	if attempts != 1 {
		t.Errorf("Do() attempts = %d, want 1", attempts)
	}
}

func TestDo_CancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	attempts, err := Do(ctx, Fixed(time.Second, 5), func(error) bool { return true }, func(int) error {
		return errors.New("registry unavailable")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Errorf("Do() attempts = %d, want 1", attempts)
	}
}

func TestExponential_CapsInterval(t *testing.T) {
	cfg := Exponential(time.Millisecond, 3*time.Millisecond, 4)

	var stamps []time.Time
	start := time.Now()
	_, _ = Do(context.Background(), cfg, func(error) bool { return true }, func(int) error {
		stamps = append(stamps, time.Now())
		return errors.New("again")
	})

	if len(stamps) != 5 {
		t.Fatalf("attempts = %d, want 5", len(stamps))
	}
	// waits of 1, 2, 3, 3 ms
	if elapsed := stamps[4].Sub(start); elapsed < 9*time.Millisecond {
		t.Errorf("elapsed %v, want at least 9ms", elapsed)
	}
}
