package ports

import (
	"context"
	"time"

	"github.com/longregen/mcphub/internal/domain/models"
)

// MCPServerRepository persists server definitions. Missing or soft-deleted
// servers are reported as domain.ErrMCPServerNotFound.
type MCPServerRepository interface {
	Create(ctx context.Context, server *models.MCPServer) error
	GetByID(ctx context.Context, id string) (*models.MCPServer, error)
	List(ctx context.Context, filter models.ServerFilter) ([]*models.MCPServer, error)
	Update(ctx context.Context, server *models.MCPServer) error
	// UpdateStatus writes only the cached connection state columns
	UpdateStatus(ctx context.Context, id string, status models.ConnectionStatus, lastError string, lastConnectedAt *time.Time) error
	// Delete soft-deletes the server and cascades its user configs and tool
	// mirror. It returns the row as it was before deletion.
	Delete(ctx context.Context, id string) (*models.MCPServer, error)
}

// MCPToolRepository mirrors advertised tools for offline browsing
type MCPToolRepository interface {
	// ReplaceTools deletes every tool of the server and inserts the given set
	ReplaceTools(ctx context.Context, serverID string, tools []*models.MCPTool) error
	ListByServer(ctx context.Context, serverID string) ([]*models.MCPTool, error)
	// SetEnabled toggles the owner-level flag of one tool
	SetEnabled(ctx context.Context, serverID, name string, enabled bool) error
}

// UserServerConfigRepository persists per-user enablement, credentials and
// tool overrides
type UserServerConfigRepository interface {
	Get(ctx context.Context, userID, serverID string) (*models.UserServerConfig, error)
	// ListEnabledByUser returns the user's enabled configs ordered by creation
	ListEnabledByUser(ctx context.Context, userID string) ([]*models.UserServerConfig, error)
	Upsert(ctx context.Context, cfg *models.UserServerConfig) error
	Delete(ctx context.Context, userID, serverID string) error
}

// TransactionManager handles database transactions
type TransactionManager interface {
	// WithTransaction executes a function within a database transaction
	// If the function returns an error, the transaction is rolled back
	// Otherwise, the transaction is committed
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// IDGenerator generates unique IDs for entities
type IDGenerator interface {
	// GenerateMCPServerID generates a new MCP server ID (amcp_xxx)
	GenerateMCPServerID() string

	// GenerateMCPToolID generates a new mirrored tool ID (amct_xxx)
	GenerateMCPToolID() string

	// GenerateUserServerConfigID generates a new user server config ID (amuc_xxx)
	GenerateUserServerConfigID() string
}
