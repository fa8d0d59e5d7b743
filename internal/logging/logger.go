package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Field keys shared by every component that logs about a connection.
const (
	UserIDKey    = "user_id"
	ServerIDKey  = "server_id"
	KeyKey       = "connection_key"
	StatusKey    = "status"
	AttemptKey   = "attempt"
	DurationKey  = "duration_ms"
	ComponentKey = "component"
)

type Config struct {
	Level     string `json:"level" yaml:"level"`
	Format    Format `json:"format" yaml:"format"`
	AddSource bool   `json:"add_source" yaml:"add_source"`

	Output io.Writer `json:"-" yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: FormatJSON,
		Output: os.Stderr,
	}
}

// FromEnv overlays MCPHUB_DEBUG, MCPHUB_LOG_LEVEL and MCPHUB_LOG_FORMAT onto cfg.
// MCPHUB_DEBUG wins over MCPHUB_LOG_LEVEL.
func FromEnv(cfg Config) Config {
	if level := os.Getenv("MCPHUB_LOG_LEVEL"); level != "" {
		cfg.Level = strings.ToLower(level)
	}
	if debug := os.Getenv("MCPHUB_DEBUG"); debug == "1" || debug == "true" {
		cfg.Level = "debug"
		cfg.AddSource = true
	}
	if format := os.Getenv("MCPHUB_LOG_FORMAT"); format != "" {
		cfg.Format = Format(strings.ToLower(format))
	}
	return cfg
}

func New(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatText:
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}
	return slog.New(handler)
}

// Setup builds a logger from cfg and installs it as the slog default.
func Setup(cfg Config) *slog.Logger {
	logger := New(cfg)
	slog.SetDefault(logger)
	return logger
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(ComponentKey, component)
}

// Redact masks a secret keeping the last four characters.
func Redact(secret string) string {
	if len(secret) <= 4 {
		return "[REDACTED]"
	}
	return "..." + secret[len(secret)-4:]
}

// RedactMap returns a copy of m with every value masked. Keys are kept so
// logs still show which credentials were applied.
func RedactMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k := range m {
		out[k] = "[REDACTED]"
	}
	return out
}
