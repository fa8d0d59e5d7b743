package main

import (
	"crypto/rand"
	"fmt"
	"log/slog"

	"github.com/longregen/mcphub/internal/adapters/credentials"
	"github.com/longregen/mcphub/internal/application/services"
	"github.com/longregen/mcphub/internal/config"
)

// Version information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// Shared global variables
var (
	cfg     *config.Config
	cfgPath string
	logger  *slog.Logger
)

// staticServers converts the config-file servers into service definitions
func staticServers(c *config.Config) []services.StaticServer {
	defaults := c.DefaultPolicy()
	out := make([]services.StaticServer, 0, len(c.MCP.Servers))
	for _, s := range c.MCP.Servers {
		out = append(out, services.StaticServer{
			Name:        s.Name,
			Description: s.Description,
			Transport:   s.TransportDescriptor(),
			Policy:      s.Policy(defaults),
			Enabled:     s.IsEnabled(),
		})
	}
	return out
}

// newCredentialResolver uses the configured key, or a random one when none
// is set. Credentials sealed with a random key do not survive a restart.
func newCredentialResolver(c *config.Config, logger *slog.Logger) (*credentials.Resolver, error) {
	if c.MCP.CredentialKey != "" {
		key, err := c.CredentialKeyBytes()
		if err != nil {
			return nil, err
		}
		return credentials.NewResolver(key)
	}

	logger.Warn("MCPHUB_CREDENTIAL_KEY not set, using an ephemeral key; stored credentials will not decrypt after restart")
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate credential key: %w", err)
	}
	return credentials.NewResolver(key)
}

// maskSecret masks a secret string for display
func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "(set)"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
