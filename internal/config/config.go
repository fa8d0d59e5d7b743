package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/longregen/mcphub/internal/domain/models"
	"github.com/longregen/mcphub/internal/logging"
)

// Config holds all configuration for mcphub
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	MCP      MCPConfig      `json:"mcp" yaml:"mcp"`
	Logging  logging.Config `json:"logging" yaml:"logging"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	PostgresURL string `json:"postgres_url" yaml:"postgres_url"`
	MaxConns    int32  `json:"max_conns" yaml:"max_conns"`
}

// ServerConfig holds API server configuration
type ServerConfig struct {
	Host        string   `json:"host" yaml:"host"`
	Port        int      `json:"port" yaml:"port"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins"` // Allowed CORS origins
}

// MCPConfig holds connection manager tuning and config-file servers
type MCPConfig struct {
	IdleTimeout           Duration `json:"idle_timeout" yaml:"idle_timeout"`
	DefaultMaxRetries     int      `json:"default_max_retries" yaml:"default_max_retries"`
	DefaultRetryDelay     Duration `json:"default_retry_delay" yaml:"default_retry_delay"`
	DefaultTimeout        Duration `json:"default_timeout" yaml:"default_timeout"`
	MaxConcurrentConnects int      `json:"max_concurrent_connects" yaml:"max_concurrent_connects"`
	StatusWriteRate       float64  `json:"status_write_rate" yaml:"status_write_rate"` // persisted status writes per second
	// CredentialKey is a base64 encoded 32 byte key for credential encryption
	CredentialKey string            `json:"credential_key" yaml:"credential_key"`
	Servers       []MCPServerConfig `json:"servers" yaml:"servers"`
}

// MCPServerConfig is a server declared in the config file. Such servers are
// owned by the system user and visible to everyone.
type MCPServerConfig struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Transport is "stdio" (subprocess), "http" (streamable HTTP) or "sse"
	Transport string            `json:"transport" yaml:"transport"`
	Command   string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args      []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	URL       string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	// APIKey is sent as a bearer token on stream transports
	APIKey     string   `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	MaxRetries *int     `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	RetryDelay Duration `json:"retry_delay,omitempty" yaml:"retry_delay,omitempty"`
	Timeout    Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Enabled    *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
	TransportSSE   = "sse"
)

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	defaults := models.DefaultPolicy()
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000"}, // Default development origin
		},
		Database: DatabaseConfig{
			MaxConns: 10,
		},
		MCP: MCPConfig{
			IdleTimeout:           Duration(30 * time.Minute),
			DefaultMaxRetries:     defaults.MaxRetries,
			DefaultRetryDelay:     Duration(defaults.RetryDelay),
			DefaultTimeout:        Duration(defaults.Timeout),
			MaxConcurrentConnects: 4,
			StatusWriteRate:       20,
			Servers:               []MCPServerConfig{},
		},
		Logging: logging.DefaultConfig(),
	}
}

// envString loads a string environment variable into the target pointer if set
func envString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

// envInt loads an integer environment variable into the target pointer if set and valid
func envInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*target = i
		}
	}
}

func envInt32(key string, target *int32) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 32); err == nil {
			*target = int32(i)
		}
	}
}

// envFloat loads a float64 environment variable into the target pointer if set and valid
func envFloat(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}

// envDuration accepts Go duration strings ("90s") or whole seconds
func envDuration(key string, target *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := parseDuration(v); err == nil {
			*target = d
		}
	}
}

// envStringSlice loads a comma-separated environment variable into a string slice
func envStringSlice(key string, target *[]string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			*target = result
		}
	}
}

// Load reads the config file at ConfigPath, applies MCPHUB_* overrides and validates
func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom is Load with an explicit file. A missing file is not an error;
// a file that exists but does not parse is.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := readFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func readFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	envString("MCPHUB_SERVER_HOST", &cfg.Server.Host)
	envInt("MCPHUB_SERVER_PORT", &cfg.Server.Port)
	envStringSlice("MCPHUB_CORS_ORIGINS", &cfg.Server.CORSOrigins)

	envString("MCPHUB_POSTGRES_URL", &cfg.Database.PostgresURL)
	envInt32("MCPHUB_DB_MAX_CONNS", &cfg.Database.MaxConns)

	envDuration("MCPHUB_MCP_IDLE_TIMEOUT", &cfg.MCP.IdleTimeout)
	envInt("MCPHUB_MCP_DEFAULT_MAX_RETRIES", &cfg.MCP.DefaultMaxRetries)
	envDuration("MCPHUB_MCP_DEFAULT_RETRY_DELAY", &cfg.MCP.DefaultRetryDelay)
	envDuration("MCPHUB_MCP_DEFAULT_TIMEOUT", &cfg.MCP.DefaultTimeout)
	envInt("MCPHUB_MCP_MAX_CONCURRENT_CONNECTS", &cfg.MCP.MaxConcurrentConnects)
	envFloat("MCPHUB_MCP_STATUS_WRITE_RATE", &cfg.MCP.StatusWriteRate)
	envString("MCPHUB_CREDENTIAL_KEY", &cfg.MCP.CredentialKey)

	// Config-file servers can be augmented via env
	if serversJSON := os.Getenv("MCPHUB_MCP_SERVERS"); serversJSON != "" {
		var envServers []MCPServerConfig
		if err := json.Unmarshal([]byte(serversJSON), &envServers); err == nil {
			cfg.MCP.Servers = append(cfg.MCP.Servers, envServers...)
		}
	}

	cfg.Logging = logging.FromEnv(cfg.Logging)
}

// isValidURL validates that a URL has proper format
func isValidURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Validate checks that the configuration has valid values
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server port must be between 1 and 65535")
	}

	if c.Database.PostgresURL != "" && !isValidURL(c.Database.PostgresURL) {
		errs = append(errs, "PostgreSQL URL must be a valid URL")
	}
	if c.Database.MaxConns < 1 {
		errs = append(errs, "database max_conns must be at least 1")
	}

	if c.MCP.IdleTimeout < 0 {
		errs = append(errs, "MCP idle timeout must not be negative")
	}
	if err := c.DefaultPolicy().Validate(); err != nil {
		errs = append(errs, "MCP default policy: "+err.Error())
	}
	if c.MCP.MaxConcurrentConnects < 1 {
		errs = append(errs, "MCP max concurrent connects must be at least 1")
	}
	if c.MCP.StatusWriteRate <= 0 {
		errs = append(errs, "MCP status write rate must be positive")
	}
	if c.MCP.CredentialKey != "" {
		if _, err := c.CredentialKeyBytes(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	seen := make(map[string]bool, len(c.MCP.Servers))
	for i, server := range c.MCP.Servers {
		if server.Name == "" {
			errs = append(errs, fmt.Sprintf("MCP server %d: name is required", i))
		} else if seen[server.Name] {
			errs = append(errs, fmt.Sprintf("MCP server %s: duplicate name", server.Name))
		}
		seen[server.Name] = true

		switch server.Transport {
		case TransportStdio:
			if server.Command == "" {
				errs = append(errs, fmt.Sprintf("MCP server %s: command is required for stdio transport", server.Name))
			}
		case TransportHTTP, TransportSSE:
			if server.URL == "" {
				errs = append(errs, fmt.Sprintf("MCP server %s: URL is required for %s transport", server.Name, server.Transport))
			} else if !isValidURL(server.URL) {
				errs = append(errs, fmt.Sprintf("MCP server %s: URL must be a valid URL", server.Name))
			}
		default:
			errs = append(errs, fmt.Sprintf("MCP server %s: transport must be 'stdio', 'http' or 'sse'", server.Name))
		}

		if err := server.Policy(c.DefaultPolicy()).Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("MCP server %s: %v", server.Name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DefaultPolicy is the connection policy for servers created without one
func (c *Config) DefaultPolicy() models.Policy {
	return models.Policy{
		MaxRetries: c.MCP.DefaultMaxRetries,
		RetryDelay: time.Duration(c.MCP.DefaultRetryDelay),
		Timeout:    time.Duration(c.MCP.DefaultTimeout),
	}
}

// CredentialKeyBytes decodes the credential encryption key
func (c *Config) CredentialKeyBytes() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(c.MCP.CredentialKey)
	if err != nil {
		return nil, fmt.Errorf("credential key must be base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("credential key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Policy merges the server's overrides over base
func (s MCPServerConfig) Policy(base models.Policy) models.Policy {
	p := base
	if s.MaxRetries != nil {
		p.MaxRetries = *s.MaxRetries
	}
	if s.RetryDelay != 0 {
		p.RetryDelay = time.Duration(s.RetryDelay)
	}
	if s.Timeout != 0 {
		p.Timeout = time.Duration(s.Timeout)
	}
	return p
}

// TransportDescriptor converts the flat file form into the tagged union
func (s MCPServerConfig) TransportDescriptor() models.Transport {
	switch s.Transport {
	case TransportStdio:
		return models.NewSubprocessTransport(s.Command, s.Args, s.Env)
	default:
		headers := make(map[string]string, len(s.Headers)+1)
		for k, v := range s.Headers {
			headers[k] = v
		}
		if s.APIKey != "" {
			headers["Authorization"] = "Bearer " + s.APIKey
		}
		if len(headers) == 0 {
			headers = nil
		}
		t := models.NewStreamTransport(s.URL, headers)
		if s.Transport == TransportSSE {
			t.Stream.Protocol = models.StreamProtocolSSE
		}
		return t
	}
}

// IsEnabled defaults to true
func (s MCPServerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// ConfigPath returns the path to the config file
func ConfigPath() string {
	if path := os.Getenv("MCPHUB_CONFIG"); path != "" {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}

	configDir := filepath.Join(homeDir, ".config", "mcphub")
	for _, name := range []string{"config.json", "config.yaml", "config.yml"} {
		path := filepath.Join(configDir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return filepath.Join(configDir, "config.json")
}
