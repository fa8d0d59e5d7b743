package models

import (
	"errors"
	"testing"

	"github.com/longregen/mcphub/internal/domain"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name        string
		from        ConnectionStatus
		to          ConnectionStatus
		shouldError bool
	}{
		{"disconnected to connecting", ConnectionStatusDisconnected, ConnectionStatusConnecting, false},
		{"connecting to connected", ConnectionStatusConnecting, ConnectionStatusConnected, false},
		{"connecting to error", ConnectionStatusConnecting, ConnectionStatusError, false},
		{"connected to disconnected", ConnectionStatusConnected, ConnectionStatusDisconnected, false},
		{"connected to error", ConnectionStatusConnected, ConnectionStatusError, false},
		{"error to connecting", ConnectionStatusError, ConnectionStatusConnecting, false},
		{"error to disconnected", ConnectionStatusError, ConnectionStatusDisconnected, false},
		{"no-op", ConnectionStatusConnected, ConnectionStatusConnected, false},

		{"disconnected to connected", ConnectionStatusDisconnected, ConnectionStatusConnected, true},
		{"connecting to disconnected", ConnectionStatusConnecting, ConnectionStatusDisconnected, true},
		{"error to connected", ConnectionStatusError, ConnectionStatusConnected, true},
		{"connected to connecting", ConnectionStatusConnected, ConnectionStatusConnecting, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.shouldError && err == nil {
				t.Errorf("expected error for %s -> %s", tt.from, tt.to)
			}
			if !tt.shouldError && err != nil {
				t.Errorf("unexpected error for %s -> %s: %v", tt.from, tt.to, err)
			}
		})
	}
}

func TestGetValidTransitions(t *testing.T) {
	tests := []struct {
		from     ConnectionStatus
		expected []ConnectionStatus
	}{
		{ConnectionStatusDisconnected, []ConnectionStatus{ConnectionStatusConnecting, ConnectionStatusError}},
		{ConnectionStatusConnecting, []ConnectionStatus{ConnectionStatusConnected, ConnectionStatusError}},
		{ConnectionStatusConnected, []ConnectionStatus{ConnectionStatusDisconnected, ConnectionStatusError}},
		{ConnectionStatusError, []ConnectionStatus{ConnectionStatusConnecting, ConnectionStatusDisconnected}},
	}

	for _, tt := range tests {
		got := GetValidTransitions(tt.from)
		if len(got) != len(tt.expected) {
			t.Fatalf("GetValidTransitions(%s) returned %d states, want %d", tt.from, len(got), len(tt.expected))
		}
		for _, want := range tt.expected {
			found := false
			for _, s := range got {
				if s == want {
					found = true
				}
			}
			if !found {
				t.Errorf("GetValidTransitions(%s) missing %s", tt.from, want)
			}
		}
	}
}

func TestConnectionStatusValid(t *testing.T) {
	for _, s := range []ConnectionStatus{ConnectionStatusDisconnected, ConnectionStatusConnecting, ConnectionStatusConnected, ConnectionStatusError} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if ConnectionStatus("paused").Valid() {
		t.Error("unknown status should be invalid")
	}
}

func TestInvalidTransitionError(t *testing.T) {
	err := ValidateTransition(ConnectionStatusConnecting, ConnectionStatusDisconnected)
	if err == nil {
		t.Fatal("expected error")
	}

	transitionErr, ok := err.(*InvalidTransitionError)
	if !ok {
		t.Fatalf("expected *InvalidTransitionError, got %T", err)
	}
	if transitionErr.From != ConnectionStatusConnecting || transitionErr.To != ConnectionStatusDisconnected {
		t.Errorf("unexpected transition in error: %+v", transitionErr)
	}
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Error("expected error to match ErrInvalidState")
	}
	if transitionErr.Error() == "" {
		t.Error("expected non-empty message")
	}
}
