package models

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/longregen/mcphub/internal/domain"
)

// TransportKind selects the variant of a Transport
type TransportKind string

const (
	TransportKindStream     TransportKind = "stream"
	TransportKindSubprocess TransportKind = "subprocess"
)

// StreamProtocol selects the wire framing for stream transports
type StreamProtocol string

const (
	StreamProtocolStreamableHTTP StreamProtocol = "streamable-http"
	StreamProtocolSSE            StreamProtocol = "sse"
)

// Transport describes how to reach a tool server. Exactly one of Stream or
// Subprocess is populated, matching Kind.
type Transport struct {
	Kind       TransportKind        `json:"kind"`
	Stream     *StreamTransport     `json:"stream,omitempty"`
	Subprocess *SubprocessTransport `json:"subprocess,omitempty"`
}

type StreamTransport struct {
	URL      string            `json:"url"`
	Headers  map[string]string `json:"headers,omitempty"`
	Protocol StreamProtocol    `json:"protocol,omitempty"`
}

type SubprocessTransport struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// NewStreamTransport builds a stream transport using streamable HTTP framing
func NewStreamTransport(endpoint string, headers map[string]string) Transport {
	return Transport{
		Kind:   TransportKindStream,
		Stream: &StreamTransport{URL: endpoint, Headers: headers, Protocol: StreamProtocolStreamableHTTP},
	}
}

// NewSubprocessTransport builds a subprocess transport
func NewSubprocessTransport(command string, args []string, env map[string]string) Transport {
	return Transport{
		Kind:       TransportKindSubprocess,
		Subprocess: &SubprocessTransport{Command: command, Args: args, Env: env},
	}
}

func configurationError(format string, args ...any) error {
	return domain.NewDomainError(domain.ErrConfiguration, fmt.Sprintf(format, args...))
}

// Validate checks the tagged-union invariant and the variant's required fields
func (t Transport) Validate() error {
	switch t.Kind {
	case TransportKindStream:
		if t.Subprocess != nil {
			return configurationError("stream transport must not carry a command")
		}
		if t.Stream == nil || strings.TrimSpace(t.Stream.URL) == "" {
			return configurationError("url is required for stream transport")
		}
		u, err := url.Parse(t.Stream.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return configurationError("stream url must be an absolute http(s) url")
		}
		switch t.Stream.Protocol {
		case "", StreamProtocolStreamableHTTP, StreamProtocolSSE:
		default:
			return configurationError("unsupported stream protocol %q", t.Stream.Protocol)
		}
		return nil
	case TransportKindSubprocess:
		if t.Stream != nil {
			return configurationError("subprocess transport must not carry a url")
		}
		if t.Subprocess == nil || strings.TrimSpace(t.Subprocess.Command) == "" {
			return configurationError("command is required for subprocess transport")
		}
		return nil
	case "":
		return configurationError("transport kind is required")
	default:
		return configurationError("unsupported transport kind %q", t.Kind)
	}
}

// Equal compares the transport-relevant fields of two descriptors
func (t Transport) Equal(other Transport) bool {
	if t.Kind != other.Kind {
		return false
	}
	switch t.Kind {
	case TransportKindStream:
		a, b := t.Stream, other.Stream
		if a == nil || b == nil {
			return a == b
		}
		return a.URL == b.URL && a.protocol() == b.protocol() && maps.Equal(a.Headers, b.Headers)
	case TransportKindSubprocess:
		a, b := t.Subprocess, other.Subprocess
		if a == nil || b == nil {
			return a == b
		}
		return a.Command == b.Command && slices.Equal(a.Args, b.Args) && maps.Equal(a.Env, b.Env)
	}
	return true
}

func (s *StreamTransport) protocol() StreamProtocol {
	if s.Protocol == "" {
		return StreamProtocolStreamableHTTP
	}
	return s.Protocol
}

// EffectiveProtocol returns the protocol with the streamable-http default applied
func (s *StreamTransport) EffectiveProtocol() StreamProtocol {
	return s.protocol()
}

// WithCredentials returns a deep copy with credentials merged into the
// headers (stream) or environment (subprocess). Credentials win on conflict.
func (t Transport) WithCredentials(creds map[string]string) Transport {
	out := t.Clone()
	if len(creds) == 0 {
		return out
	}
	switch out.Kind {
	case TransportKindStream:
		if out.Stream == nil {
			return out
		}
		if out.Stream.Headers == nil {
			out.Stream.Headers = make(map[string]string, len(creds))
		}
		maps.Copy(out.Stream.Headers, creds)
	case TransportKindSubprocess:
		if out.Subprocess == nil {
			return out
		}
		if out.Subprocess.Env == nil {
			out.Subprocess.Env = make(map[string]string, len(creds))
		}
		maps.Copy(out.Subprocess.Env, creds)
	}
	return out
}

// Clone returns a deep copy
func (t Transport) Clone() Transport {
	out := Transport{Kind: t.Kind}
	if t.Stream != nil {
		out.Stream = &StreamTransport{
			URL:      t.Stream.URL,
			Headers:  maps.Clone(t.Stream.Headers),
			Protocol: t.Stream.Protocol,
		}
	}
	if t.Subprocess != nil {
		out.Subprocess = &SubprocessTransport{
			Command: t.Subprocess.Command,
			Args:    slices.Clone(t.Subprocess.Args),
			Env:     maps.Clone(t.Subprocess.Env),
		}
	}
	return out
}

// Target is a short human readable description used in logs
func (t Transport) Target() string {
	switch t.Kind {
	case TransportKindStream:
		if t.Stream != nil {
			return t.Stream.URL
		}
	case TransportKindSubprocess:
		if t.Subprocess != nil {
			return strings.TrimSpace(t.Subprocess.Command + " " + strings.Join(t.Subprocess.Args, " "))
		}
	}
	return string(t.Kind)
}

// Policy bounds how a connection is attempted
type Policy struct {
	MaxRetries int           `json:"max_retries"`
	RetryDelay time.Duration `json:"retry_delay"`
	Timeout    time.Duration `json:"timeout"`
}

const (
	MinMaxRetries = 0
	MaxMaxRetries = 10
	MinRetryDelay = 100 * time.Millisecond
	MaxRetryDelay = 60 * time.Second
	MinTimeout    = 5 * time.Second
	MaxTimeout    = 60 * time.Second
)

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		RetryDelay: time.Second,
		Timeout:    30 * time.Second,
	}
}

// Validate enforces the creation-time bounds
func (p Policy) Validate() error {
	if p.MaxRetries < MinMaxRetries || p.MaxRetries > MaxMaxRetries {
		return domain.NewDomainError(domain.ErrInvalidInput, fmt.Sprintf("max retries must be between %d and %d", MinMaxRetries, MaxMaxRetries))
	}
	if p.RetryDelay < MinRetryDelay || p.RetryDelay > MaxRetryDelay {
		return domain.NewDomainError(domain.ErrInvalidInput, fmt.Sprintf("retry delay must be between %s and %s", MinRetryDelay, MaxRetryDelay))
	}
	if p.Timeout < MinTimeout || p.Timeout > MaxTimeout {
		return domain.NewDomainError(domain.ErrInvalidInput, fmt.Sprintf("timeout must be between %s and %s", MinTimeout, MaxTimeout))
	}
	return nil
}
