package models

import (
	"fmt"

	"github.com/longregen/mcphub/internal/domain"
)

// ConnectionStatus is the lifecycle state of a managed connection
type ConnectionStatus string

const (
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
	ConnectionStatusConnecting   ConnectionStatus = "connecting"
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusError        ConnectionStatus = "error"
)

// Valid reports whether s is one of the known statuses
func (s ConnectionStatus) Valid() bool {
	switch s {
	case ConnectionStatusDisconnected, ConnectionStatusConnecting, ConnectionStatusConnected, ConnectionStatusError:
		return true
	}
	return false
}

// ConnectionTransition represents a state transition
type ConnectionTransition struct {
	From ConnectionStatus
	To   ConnectionStatus
}

// validTransitions defines the allowed state transitions for connections
var validTransitions = map[ConnectionTransition]bool{
	{ConnectionStatusDisconnected, ConnectionStatusConnecting}: true,
	{ConnectionStatusDisconnected, ConnectionStatusError}:      true,

	// connecting is transient and must resolve
	{ConnectionStatusConnecting, ConnectionStatusConnected}: true,
	{ConnectionStatusConnecting, ConnectionStatusError}:     true,

	{ConnectionStatusConnected, ConnectionStatusDisconnected}: true,
	{ConnectionStatusConnected, ConnectionStatusError}:        true,

	// retry or explicit disconnect
	{ConnectionStatusError, ConnectionStatusConnecting}:   true,
	{ConnectionStatusError, ConnectionStatusDisconnected}: true,
}

// ValidateTransition checks if a state transition is valid and returns an error if not
func ValidateTransition(from, to ConnectionStatus) error {
	if from == to {
		return nil
	}

	if !validTransitions[ConnectionTransition{From: from, To: to}] {
		return &InvalidTransitionError{From: from, To: to}
	}

	return nil
}

// CanTransitionTo reports whether s may move to next
func (s ConnectionStatus) CanTransitionTo(next ConnectionStatus) bool {
	return ValidateTransition(s, next) == nil
}

// GetValidTransitions returns all valid transitions from a given state
func GetValidTransitions(from ConnectionStatus) []ConnectionStatus {
	validStates := make([]ConnectionStatus, 0)

	for transition := range validTransitions {
		if transition.From == from {
			validStates = append(validStates, transition.To)
		}
	}

	return validStates
}

// InvalidTransitionError represents an error for invalid state transitions
type InvalidTransitionError struct {
	From ConnectionStatus
	To   ConnectionStatus
}

func (e *InvalidTransitionError) Error() string {
	if e.From == ConnectionStatusConnecting {
		return fmt.Sprintf("connection is still connecting and cannot move to '%s'", e.To)
	}
	return fmt.Sprintf("invalid connection state transition from '%s' to '%s'", e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error {
	return domain.ErrInvalidState
}
