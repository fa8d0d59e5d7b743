//go:build integration

package integration

import (
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/longregen/mcphub/internal/adapters/credentials"
	"github.com/longregen/mcphub/internal/adapters/id"
	"github.com/longregen/mcphub/internal/adapters/mcp"
	"github.com/longregen/mcphub/internal/adapters/postgres"
	"github.com/longregen/mcphub/internal/application/services"
)

// Stack is the fully wired service layer over a real database
type Stack struct {
	DB         *TestDB
	Servers    *postgres.MCPServerRepository
	Configs    *postgres.UserServerConfigRepository
	Tools      *postgres.MCPToolRepository
	Manager    *mcp.Manager
	Aggregator *mcp.Aggregator
	Syncer     *services.StatusSyncer
	Service    *services.MCPServerService
}

// NewStack wires the same graph as the serve command
func NewStack(t *testing.T, db *TestDB) *Stack {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	resolver, err := credentials.NewResolver(key)
	if err != nil {
		t.Fatalf("create resolver: %v", err)
	}

	s := &Stack{
		DB:      db,
		Servers: postgres.NewMCPServerRepository(db.Pool),
		Configs: postgres.NewUserServerConfigRepository(db.Pool),
		Tools:   postgres.NewMCPToolRepository(db.Pool),
	}
	idGen := id.New()
	factory := mcp.NewClientFactory("integration")

	s.Manager = mcp.NewManager(factory, mcp.Options{Logger: logger})
	s.Syncer = services.NewStatusSyncer(s.Servers, s.Tools, idGen, services.SyncerOptions{Logger: logger})
	s.Manager.OnStatusChange(s.Syncer.Observe)
	s.Aggregator = mcp.NewAggregator(s.Manager, s.Servers, s.Configs, resolver, mcp.AggregatorOptions{Logger: logger})
	s.Service = services.NewMCPServerService(
		s.Servers, s.Configs, s.Tools,
		postgres.NewTransactionManager(db.Pool),
		s.Manager, factory, resolver, idGen, s.Syncer, logger,
	)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Service.Close(ctx)
		_ = s.Manager.Close(ctx)
		_ = s.Syncer.Close(ctx)
	})
	return s
}

// NewToolServer serves a streamable HTTP tool server and returns its endpoint
func NewToolServer(t *testing.T, name string, tools ...string) string {
	t.Helper()

	s := server.NewMCPServer(name, "1.0.0", server.WithToolCapabilities(false))
	for _, tool := range tools {
		s.AddTool(mcpgo.NewTool(tool, mcpgo.WithDescription(tool+" from "+name)),
			func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
				return mcpgo.NewToolResultText("ok"), nil
			})
	}
	ts := httptest.NewServer(server.NewStreamableHTTPServer(s))
	t.Cleanup(ts.Close)
	return ts.URL + "/mcp"
}
