package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/longregen/mcphub/internal/config"
	"github.com/longregen/mcphub/internal/logging"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "mcphub",
		Short: "mcphub - MCP tool server connection manager",
		Long: `mcphub keeps live connections to Model Context Protocol tool servers on
behalf of many users, persists their definitions and status in PostgreSQL
and serves the aggregated tool set over HTTP.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = config.ConfigPath()
			}

			var err error
			cfg, err = config.LoadFrom(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfgPath = configPath

			logger = logging.Setup(cfg.Logging)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $MCPHUB_CONFIG or ~/.config/mcphub/config.json)")

	rootCmd.AddCommand(
		serveCmd(),
		inspectCmd(),
		configCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// versionCmd shows version information
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "mcphub %s\n", version)
			fmt.Fprintf(out, "  Commit:     %s\n", commit)
			fmt.Fprintf(out, "  Build Date: %s\n", buildDate)
		},
	}
}
