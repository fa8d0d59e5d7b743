package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/longregen/mcphub/internal/adapters/http"
	"github.com/longregen/mcphub/internal/adapters/http/handlers"
	"github.com/longregen/mcphub/internal/adapters/id"
	"github.com/longregen/mcphub/internal/adapters/mcp"
	"github.com/longregen/mcphub/internal/adapters/postgres"
	"github.com/longregen/mcphub/internal/adapters/tracing"
	"github.com/longregen/mcphub/internal/application/services"
	"github.com/longregen/mcphub/internal/config"
)

const shutdownTimeout = 30 * time.Second

// serveCmd starts the HTTP API server
func serveCmd() *cobra.Command {
	var traceStdout bool
	var watchConfig bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the mcphub HTTP API server.

The server restores persisted tool server definitions, reconnects the
enabled ones and serves the REST and websocket API under /api/v1.

Required configuration:
  - PostgreSQL database (MCPHUB_POSTGRES_URL)

Optional:
  - Credential encryption key (MCPHUB_CREDENTIAL_KEY, base64 of 32 bytes)
  - Static servers in the config file, reloaded when the file changes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), traceStdout, watchConfig)
		},
	}
	cmd.Flags().BoolVar(&traceStdout, "trace-stdout", false, "export connect spans to stdout")
	cmd.Flags().BoolVar(&watchConfig, "watch", true, "reload static servers when the config file changes")
	return cmd
}

// runServer initializes and starts the HTTP API server
func runServer(ctx context.Context, traceStdout, watchConfig bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger.Info("starting mcphub API server",
		"addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"config", cfgPath,
		"version", version,
	)

	var traceOut io.Writer
	if traceStdout {
		traceOut = os.Stdout
	}
	shutdownTracer, err := tracing.InitTracer("mcphub", traceOut)
	if err != nil {
		logger.Warn("failed to initialize tracing", "error", err)
	} else {
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				logger.Error("error shutting down tracer", "error", err)
			}
		}()
	}

	if cfg.Database.PostgresURL == "" {
		return fmt.Errorf("server mode requires PostgreSQL. Set MCPHUB_POSTGRES_URL")
	}

	logger.Info("connecting to PostgreSQL")
	pool, err := postgres.Connect(ctx, cfg.Database.PostgresURL, cfg.Database.MaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		return err
	}
	logger.Info("database ready")

	serverRepo := postgres.NewMCPServerRepository(pool)
	configRepo := postgres.NewUserServerConfigRepository(pool)
	toolRepo := postgres.NewMCPToolRepository(pool)
	txManager := postgres.NewTransactionManager(pool)
	idGen := id.New()

	resolver, err := newCredentialResolver(cfg, logger)
	if err != nil {
		return err
	}

	factory := mcp.NewClientFactory(version)
	manager := mcp.NewManager(factory, mcp.Options{
		IdleTimeout: time.Duration(cfg.MCP.IdleTimeout),
		Logger:      logger,
		Tracer:      tracing.Tracer(),
	})

	syncer := services.NewStatusSyncer(serverRepo, toolRepo, idGen, services.SyncerOptions{
		WritesPerSecond: cfg.MCP.StatusWriteRate,
		Logger:          logger,
	})
	broadcaster := handlers.NewStatusBroadcaster(logger)
	manager.OnStatusChange(syncer.Observe)
	manager.OnStatusChange(broadcaster.Observe)

	aggregator := mcp.NewAggregator(manager, serverRepo, configRepo, resolver, mcp.AggregatorOptions{
		MaxConcurrentConnects: cfg.MCP.MaxConcurrentConnects,
		Logger:                logger,
	})
	service := services.NewMCPServerService(
		serverRepo,
		configRepo,
		toolRepo,
		txManager,
		manager,
		factory,
		resolver,
		idGen,
		syncer,
		logger,
	)

	if err := service.SyncStaticServers(ctx, staticServers(cfg)); err != nil {
		logger.Warn("failed to sync some static servers", "error", err)
	}
	if _, err := service.Bootstrap(ctx); err != nil {
		logger.Error("bootstrap failed", "error", err)
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if watchConfig && cfgPath != "" {
		go func() {
			err := config.Watch(watchCtx, cfgPath, func(next *config.Config) {
				if err := service.SyncStaticServers(watchCtx, staticServers(next)); err != nil {
					logger.Warn("failed to sync static servers after reload", "error", err)
				}
			}, logger)
			if err != nil {
				logger.Warn("config watcher stopped", "error", err)
			}
		}()
	}

	server := http.NewServer(cfg.Server, http.Deps{
		Servers:     service,
		Aggregator:  aggregator,
		Statuses:    manager,
		Broadcaster: broadcaster,
		DB:          pool,
		Version:     version,
		Logger:      logger,
	})

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "host", cfg.Server.Host, "port", cfg.Server.Port)
		serverErrors <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case err := <-serverErrors:
		if err != nil {
			runErr = fmt.Errorf("server error: %w", err)
		}
	case sig := <-sigChan:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	stopWatch()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("server shutdown error: %w", err))
	}
	if err := service.Close(shutdownCtx); err != nil {
		logger.Warn("background connects did not finish", "error", err)
	}
	if err := manager.Close(shutdownCtx); err != nil {
		logger.Warn("failed to close connections", "error", err)
	}
	if err := syncer.Close(shutdownCtx); err != nil {
		logger.Warn("failed to flush status writes", "error", err)
	}

	logger.Info("server stopped")
	return runErr
}
