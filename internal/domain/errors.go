package domain

import "errors"

// Common domain errors
var (
	// Server registry errors
	ErrMCPServerNotFound  = errors.New("mcp server not found")
	ErrUserConfigNotFound = errors.New("user server config not found")
	ErrServerDisabled     = errors.New("mcp server is disabled")

	// Connection lifecycle errors
	ErrNotManaged           = errors.New("connection is not managed")
	ErrAlreadyManaged       = errors.New("connection is already managed")
	ErrAlreadyConnected     = errors.New("connection is already connected")
	ErrConnectionInProgress = errors.New("connection operation already in progress")
	ErrNotConnected         = errors.New("transport client is not connected")
	ErrManagerClosed        = errors.New("connection manager is closed")

	// Connection failure taxonomy
	ErrConfiguration     = errors.New("invalid transport configuration")
	ErrConnectionTimeout = errors.New("connection timed out")
	ErrConnectionRefused = errors.New("connection refused")
	ErrDNS               = errors.New("dns resolution failed")
	ErrTLS               = errors.New("tls handshake failed")
	ErrProtocol          = errors.New("protocol error")
	ErrToolListing       = errors.New("tool listing failed")

	// Credential errors
	ErrCredentialsInvalid = errors.New("credentials could not be decrypted")

	// Validation errors
	ErrInvalidID    = errors.New("invalid ID format")
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidState = errors.New("invalid state transition")
	ErrNotFound     = errors.New("resource not found")
)

// DomainError wraps a domain error with additional context
type DomainError struct {
	Err     error
	Message string
	Code    string
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func NewDomainError(err error, message string) *DomainError {
	return &DomainError{
		Err:     err,
		Message: message,
	}
}

func NewDomainErrorWithCode(err error, message, code string) *DomainError {
	return &DomainError{
		Err:     err,
		Message: message,
		Code:    code,
	}
}

// ConnectionError is a classified transport failure. errors.Is matches both
// the taxonomy sentinel in Kind and anything in the wrapped cause.
type ConnectionError struct {
	Kind error
	Err  error
}

func NewConnectionError(kind, cause error) *ConnectionError {
	return &ConnectionError{Kind: kind, Err: cause}
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsConnectionFailure reports whether err belongs to the retryable connection
// failure taxonomy (as opposed to caller or configuration errors).
func IsConnectionFailure(err error) bool {
	return errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrConnectionRefused) ||
		errors.Is(err, ErrDNS) ||
		errors.Is(err, ErrTLS) ||
		errors.Is(err, ErrProtocol)
}

// IsValidationError reports whether err was caused by caller input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrConfiguration) || errors.Is(err, ErrInvalidID)
}
