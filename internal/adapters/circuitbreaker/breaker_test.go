package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := New(2, time.Minute)
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		if err := cb.Execute(func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("attempt %d: got %v, want boom", i, err)
		}
	}

	if cb.State() != StateOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("got %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn must not run while open")
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	var transitions []string
	cb := NewWithOptions(1, 10*time.Second, Options{
		HalfOpenSuccesses: 2,
		now:               clock.now,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = cb.Execute(func() error { return errors.New("down") })
	if cb.State() != StateOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}

	clock.t = clock.t.Add(11 * time.Second)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %s, want half_open", cb.State())
	}

	_ = cb.Execute(func() error { return nil })
	if cb.State() != StateClosed {
		t.Fatalf("state = %s, want closed", cb.State())
	}

	want := []string{"closed->open", "open->half_open", "half_open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreaker_FailedTrialReopens(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	cb := NewWithOptions(3, time.Second, Options{now: clock.now})

	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errors.New("down") })
	}
	clock.t = clock.t.Add(2 * time.Second)

	_ = cb.Execute(func() error { return errors.New("still down") })
	if cb.State() != StateOpen {
		t.Errorf("state = %s, want open after failed trial call", cb.State())
	}
}

func TestCircuitBreaker_IgnoredErrors(t *testing.T) {
	notFound := errors.New("not found")
	cb := NewWithOptions(1, time.Minute, Options{
		IsFailure: func(err error) bool { return !errors.Is(err, notFound) },
	})

	for i := 0; i < 5; i++ {
		if err := cb.Execute(func() error { return notFound }); !errors.Is(err, notFound) {
			t.Fatalf("got %v, want not found", err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %s, want closed", cb.State())
	}
}
