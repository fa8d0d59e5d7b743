package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/longregen/mcphub/internal/adapters/metrics"
	"github.com/longregen/mcphub/internal/domain"
	"github.com/longregen/mcphub/internal/domain/models"
	"github.com/longregen/mcphub/internal/logging"
	"github.com/longregen/mcphub/internal/ports"
)

const DefaultMaxConcurrentConnects = 4

// AggregatedTool is an invokable tool together with the server offering it
type AggregatedTool struct {
	models.ToolInfo
	ServerID   string `json:"server_id"`
	ServerName string `json:"server_name"`
}

// Aggregator builds a user's live tool set across all of their enabled
// servers, connecting on demand. One server failing never fails the call.
type Aggregator struct {
	manager     *Manager
	servers     ports.MCPServerRepository
	configs     ports.UserServerConfigRepository
	credentials ports.CredentialResolver
	concurrency int
	logger      *slog.Logger

	inflight singleflight.Group
}

type AggregatorOptions struct {
	MaxConcurrentConnects int
	Logger                *slog.Logger
}

func NewAggregator(
	manager *Manager,
	servers ports.MCPServerRepository,
	configs ports.UserServerConfigRepository,
	credentials ports.CredentialResolver,
	opts AggregatorOptions,
) *Aggregator {
	if opts.MaxConcurrentConnects <= 0 {
		opts.MaxConcurrentConnects = DefaultMaxConcurrentConnects
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Aggregator{
		manager:     manager,
		servers:     servers,
		configs:     configs,
		credentials: credentials,
		concurrency: opts.MaxConcurrentConnects,
		logger:      logging.WithComponent(opts.Logger, "mcp.aggregator"),
	}
}

type serverResult struct {
	skip   bool
	server *models.MCPServer
	config *models.UserServerConfig
	status Status
}

// GetToolsForUser returns the deduplicated tools of every connected enabled
// server, in configuration order. The first server to offer a name wins.
func (a *Aggregator) GetToolsForUser(ctx context.Context, userID string) ([]AggregatedTool, error) {
	results, err := a.collect(ctx, userID)
	if err != nil {
		return nil, err
	}

	tools := []AggregatedTool{}
	seen := make(map[string]string)
	for _, r := range results {
		if r.skip || r.status.Status != models.ConnectionStatusConnected {
			continue
		}
		for _, tool := range r.status.Tools {
			if !r.config.ToolEnabled(tool.Name) {
				continue
			}
			if owner, dup := seen[tool.Name]; dup {
				a.logger.Debug("duplicate tool name skipped",
					"tool", tool.Name,
					logging.ServerIDKey, r.server.ID,
					"kept_from", owner,
				)
				continue
			}
			seen[tool.Name] = r.server.ID
			tools = append(tools, AggregatedTool{ToolInfo: tool, ServerID: r.server.ID, ServerName: r.server.Name})
		}
	}

	metrics.ToolsExposed.Set(float64(len(tools)))
	return tools, nil
}

// GetStatusForUser returns the status of every enabled server keyed by server id
func (a *Aggregator) GetStatusForUser(ctx context.Context, userID string) (map[string]Status, error) {
	results, err := a.collect(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make(map[string]Status, len(results))
	for _, r := range results {
		if r.skip {
			continue
		}
		out[r.server.ID] = r.status
	}
	return out, nil
}

func (a *Aggregator) collect(ctx context.Context, userID string) ([]serverResult, error) {
	configs, err := a.configs.ListEnabledByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list server configs for %s: %w", userID, err)
	}

	results := make([]serverResult, len(configs))
	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, cfg := range configs {
		g.Go(func() error {
			results[i] = a.resolve(ctx, userID, cfg)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func (a *Aggregator) resolve(ctx context.Context, userID string, cfg *models.UserServerConfig) serverResult {
	server, err := a.servers.GetByID(ctx, cfg.ServerID)
	if err != nil {
		if !errors.Is(err, domain.ErrMCPServerNotFound) {
			a.logger.Warn("load server definition", logging.ServerIDKey, cfg.ServerID, "error", err)
		}
		return serverResult{skip: true}
	}
	if !server.Enabled || server.DeletedAt != nil || !server.VisibleTo(userID) {
		return serverResult{skip: true}
	}

	key := Key{UserID: userID, ServerID: server.ID}
	result := serverResult{server: server, config: cfg}

	transport := server.Transport
	if cfg.HasCredentials() {
		creds, err := a.credentials.Decrypt(cfg.EncryptedCredentials, userID)
		if err != nil {
			a.logger.Warn("decrypt credentials", logging.KeyKey, key.String(), "error", err)
			result.status = unmanagedStatus(key)
			result.status.ServerName = server.Name
			result.status.Status = models.ConnectionStatusError
			result.status.LastError = err.Error()
			return result
		}
		transport = transport.WithCredentials(creds)
	}

	reg := Registration{Key: key, ServerName: server.Name, Transport: transport, Policy: server.Policy}
	// The shared connect outlives any one caller; the policy bounds it.
	shared := context.WithoutCancel(ctx)
	ch := a.inflight.DoChan(key.String(), func() (any, error) {
		st, err := a.manager.EnsureConnected(shared, reg)
		if err != nil {
			a.logger.Info("on-demand connect failed", logging.KeyKey, key.String(), "error", err)
			if st.LastError == "" {
				st.LastError = err.Error()
			}
			if st.Status != models.ConnectionStatusConnected {
				st.Status = models.ConnectionStatusError
			}
		}
		return st, nil
	})
	select {
	case res := <-ch:
		result.status = res.Val.(Status)
	case <-ctx.Done():
		result.status = a.manager.Status(key)
		if result.status.Status != models.ConnectionStatusConnected {
			result.status.LastError = ctx.Err().Error()
		}
	}
	if result.status.ServerName == "" {
		result.status.ServerName = server.Name
	}
	return result
}
