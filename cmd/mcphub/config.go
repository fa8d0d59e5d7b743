package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/longregen/mcphub/internal/config"
)

// configCmd shows current configuration
func configCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			masked := maskedConfig(cfg)

			switch format {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(masked)
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(masked)
			case "text":
			default:
				return fmt.Errorf("unknown format %q", format)
			}

			fmt.Fprintf(out, "Config file: %s\n\n", cfgPath)

			fmt.Fprintln(out, "Server:")
			fmt.Fprintf(out, "  Address:      %s:%d\n", cfg.Server.Host, cfg.Server.Port)
			fmt.Fprintf(out, "  CORS Origins: %v\n", cfg.Server.CORSOrigins)
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Database:")
			fmt.Fprintf(out, "  PostgreSQL: %s\n", maskSecret(cfg.Database.PostgresURL))
			fmt.Fprintf(out, "  Max Conns:  %d\n", cfg.Database.MaxConns)
			fmt.Fprintln(out)

			policy := cfg.DefaultPolicy()
			fmt.Fprintln(out, "MCP:")
			fmt.Fprintf(out, "  Idle Timeout:      %s\n", cfg.MCP.IdleTimeout)
			fmt.Fprintf(out, "  Default Policy:    %d retries, %s apart, %s timeout\n", policy.MaxRetries, policy.RetryDelay, policy.Timeout)
			fmt.Fprintf(out, "  Concurrent Connects: %d\n", cfg.MCP.MaxConcurrentConnects)
			fmt.Fprintf(out, "  Status Write Rate: %.1f/s\n", cfg.MCP.StatusWriteRate)
			fmt.Fprintf(out, "  Credential Key:    %s\n", maskSecret(cfg.MCP.CredentialKey))
			fmt.Fprintf(out, "  Static Servers:    %d\n", len(cfg.MCP.Servers))
			for _, s := range cfg.MCP.Servers {
				state := "enabled"
				if !s.IsEnabled() {
					state = "disabled"
				}
				fmt.Fprintf(out, "    - %s (%s, %s) %s\n", s.Name, s.Transport, state, s.TransportDescriptor().Target())
			}
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Logging:")
			fmt.Fprintf(out, "  Level:  %s\n", cfg.Logging.Level)
			fmt.Fprintf(out, "  Format: %s\n", cfg.Logging.Format)
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Environment variables:")
			fmt.Fprintln(out, "  MCPHUB_CONFIG, MCPHUB_SERVER_HOST, MCPHUB_SERVER_PORT, MCPHUB_CORS_ORIGINS")
			fmt.Fprintln(out, "  MCPHUB_POSTGRES_URL, MCPHUB_DB_MAX_CONNS")
			fmt.Fprintln(out, "  MCPHUB_MCP_IDLE_TIMEOUT, MCPHUB_MCP_DEFAULT_MAX_RETRIES, MCPHUB_MCP_DEFAULT_RETRY_DELAY")
			fmt.Fprintln(out, "  MCPHUB_MCP_DEFAULT_TIMEOUT, MCPHUB_MCP_MAX_CONCURRENT_CONNECTS, MCPHUB_MCP_STATUS_WRITE_RATE")
			fmt.Fprintln(out, "  MCPHUB_CREDENTIAL_KEY, MCPHUB_MCP_SERVERS")
			fmt.Fprintln(out, "  MCPHUB_LOG_LEVEL, MCPHUB_LOG_FORMAT, MCPHUB_DEBUG")
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", "text", "output format: text, json or yaml")
	return cmd
}

// maskedConfig copies c with secrets masked
func maskedConfig(c *config.Config) config.Config {
	out := *c
	out.Database.PostgresURL = maskSecret(c.Database.PostgresURL)
	out.MCP.CredentialKey = maskSecret(c.MCP.CredentialKey)
	out.MCP.Servers = make([]config.MCPServerConfig, len(c.MCP.Servers))
	for i, s := range c.MCP.Servers {
		if s.APIKey != "" {
			s.APIKey = maskSecret(s.APIKey)
		}
		if len(s.Headers) > 0 {
			headers := make(map[string]string, len(s.Headers))
			for k, v := range s.Headers {
				headers[k] = maskSecret(v)
			}
			s.Headers = headers
		}
		if len(s.Env) > 0 {
			env := make(map[string]string, len(s.Env))
			for k, v := range s.Env {
				env[k] = maskSecret(v)
			}
			s.Env = env
		}
		out.MCP.Servers[i] = s
	}
	return out
}
