package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/longregen/mcphub/internal/adapters/mcp"
	"github.com/longregen/mcphub/internal/domain/models"
)

// inspectCmd connects once to a tool server, lists its tools and disconnects.
// Nothing is persisted and no managed connection is created.
func inspectCmd() *cobra.Command {
	var (
		url     string
		sse     bool
		headers []string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "inspect [server-name | -- command args...]",
		Short: "Check connectivity to a tool server",
		Long: `Connect to a tool server once and list the tools it offers.

The target is a server name from the config file, a URL given with --url,
or a command line after "--" that starts a subprocess server.`,
		Example: `  mcphub inspect files
  mcphub inspect --url https://tools.example.com/mcp -H "Authorization=Bearer xyz"
  mcphub inspect -- npx -y @modelcontextprotocol/server-everything`,
		RunE: func(cmd *cobra.Command, args []string) error {
			transport, policy, err := inspectTarget(cmd, args, url, sse, headers)
			if err != nil {
				return err
			}
			if timeout > 0 {
				policy.Timeout = timeout
			}
			return runInspect(cmd.Context(), cmd.OutOrStdout(), transport, policy)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "stream transport URL")
	cmd.Flags().BoolVar(&sse, "sse", false, "use the SSE protocol instead of streamable HTTP")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "request header as Name=Value (repeatable)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "connect timeout (default from config)")
	return cmd
}

func inspectTarget(cmd *cobra.Command, args []string, url string, sse bool, headers []string) (models.Transport, models.Policy, error) {
	policy := cfg.DefaultPolicy()

	if url != "" {
		h := make(map[string]string, len(headers))
		for _, header := range headers {
			name, value, ok := strings.Cut(header, "=")
			if !ok {
				return models.Transport{}, policy, fmt.Errorf("header %q must be Name=Value", header)
			}
			h[strings.TrimSpace(name)] = strings.TrimSpace(value)
		}
		t := models.NewStreamTransport(url, h)
		if sse {
			t.Stream.Protocol = models.StreamProtocolSSE
		}
		return t, policy, nil
	}

	if dash := cmd.ArgsLenAtDash(); dash >= 0 {
		command := args[dash:]
		if len(command) == 0 {
			return models.Transport{}, policy, fmt.Errorf("missing command after --")
		}
		return models.NewSubprocessTransport(command[0], command[1:], nil), policy, nil
	}

	if len(args) != 1 {
		return models.Transport{}, policy, fmt.Errorf("give a server name, --url or a command after --")
	}
	for _, s := range cfg.MCP.Servers {
		if s.Name == args[0] {
			return s.TransportDescriptor(), s.Policy(policy), nil
		}
	}
	return models.Transport{}, policy, fmt.Errorf("no server named %q in %s", args[0], cfgPath)
}

func runInspect(ctx context.Context, out io.Writer, transport models.Transport, policy models.Policy) error {
	if ctx == nil {
		ctx = context.Background()
	}
	factory := mcp.NewClientFactory(version)
	client, err := factory.NewClient(transport)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Probing %s (%s)...\n", transport.Target(), transport.Kind)

	connectCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
	defer cancel()

	start := time.Now()
	if err := client.Connect(connectCtx); err != nil {
		classified := mcp.Classify(err)
		fmt.Fprintf(out, "  Status:  failed (%s)\n", mcp.KindLabel(classified))
		return classified
	}
	defer client.Disconnect()
	latency := time.Since(start)

	tools, err := client.ListTools(connectCtx)
	if err != nil {
		fmt.Fprintf(out, "  Status:  connected, tool listing failed\n")
		return mcp.Classify(err)
	}

	fmt.Fprintf(out, "  Status:  connected in %s\n", latency.Round(time.Millisecond))
	fmt.Fprintf(out, "  Tools:   %d\n", len(tools))
	for _, tool := range tools {
		if tool.Description != "" {
			fmt.Fprintf(out, "    - %s: %s\n", tool.Name, firstLine(tool.Description))
		} else {
			fmt.Fprintf(out, "    - %s\n", tool.Name)
		}
	}
	return nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
