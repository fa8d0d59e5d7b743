package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/longregen/mcphub/internal/domain"
	"github.com/longregen/mcphub/internal/domain/models"
)

type MCPServerRepository struct {
	BaseRepository
}

func NewMCPServerRepository(pool *pgxpool.Pool) *MCPServerRepository {
	return &MCPServerRepository{
		BaseRepository: NewBaseRepository(pool),
	}
}

const mcpServerColumns = `id, owner_id, name, description, transport, max_retries, retry_delay_ms, timeout_ms,
		       enabled, is_public, connection_status, last_error, last_connected_at,
		       created_at, updated_at, deleted_at`

func (r *MCPServerRepository) Create(ctx context.Context, server *models.MCPServer) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	transport, err := json.Marshal(server.Transport)
	if err != nil {
		return fmt.Errorf("marshal transport: %w", err)
	}

	query := `
		INSERT INTO mcphub_mcp_servers (
			id, owner_id, name, description, transport, max_retries, retry_delay_ms, timeout_ms,
			enabled, is_public, connection_status, last_error, last_connected_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)`

	_, err = r.conn(ctx).Exec(ctx, query,
		server.ID,
		server.OwnerID,
		server.Name,
		nullableText(server.Description),
		transport,
		server.Policy.MaxRetries,
		toMillis(server.Policy.RetryDelay),
		toMillis(server.Policy.Timeout),
		server.Enabled,
		server.IsPublic,
		string(server.ConnectionStatus),
		nullableText(server.LastError),
		nullableTime(server.LastConnectedAt),
		server.CreatedAt,
		server.UpdatedAt,
	)
	return err
}

func (r *MCPServerRepository) GetByID(ctx context.Context, id string) (*models.MCPServer, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + mcpServerColumns + `
		FROM mcphub_mcp_servers
		WHERE id = $1 AND deleted_at IS NULL`

	server, err := scanMCPServer(r.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NewDomainError(domain.ErrMCPServerNotFound, id)
		}
		return nil, err
	}
	return server, nil
}

// List returns non-deleted servers in creation order
func (r *MCPServerRepository) List(ctx context.Context, filter models.ServerFilter) ([]*models.MCPServer, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	conds := []string{"deleted_at IS NULL"}
	var args []any
	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		if filter.IncludePublic {
			conds = append(conds, "(owner_id = $1 OR is_public)")
		} else {
			conds = append(conds, "owner_id = $1")
		}
	}
	if filter.EnabledOnly {
		conds = append(conds, "enabled")
	}

	query := `
		SELECT ` + mcpServerColumns + `
		FROM mcphub_mcp_servers
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY created_at ASC, id ASC`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var servers []*models.MCPServer
	for rows.Next() {
		s, err := scanMCPServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, s)
	}
	return servers, rows.Err()
}

func (r *MCPServerRepository) Update(ctx context.Context, server *models.MCPServer) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	transport, err := json.Marshal(server.Transport)
	if err != nil {
		return fmt.Errorf("marshal transport: %w", err)
	}

	query := `
		UPDATE mcphub_mcp_servers
		SET name = $2,
			description = $3,
			transport = $4,
			max_retries = $5,
			retry_delay_ms = $6,
			timeout_ms = $7,
			enabled = $8,
			is_public = $9,
			updated_at = $10
		WHERE id = $1 AND deleted_at IS NULL`

	tag, err := r.conn(ctx).Exec(ctx, query,
		server.ID,
		server.Name,
		nullableText(server.Description),
		transport,
		server.Policy.MaxRetries,
		toMillis(server.Policy.RetryDelay),
		toMillis(server.Policy.Timeout),
		server.Enabled,
		server.IsPublic,
		server.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.NewDomainError(domain.ErrMCPServerNotFound, server.ID)
	}
	return nil
}

// UpdateStatus writes the cached connection state. A nil lastConnectedAt
// keeps the stored timestamp.
func (r *MCPServerRepository) UpdateStatus(ctx context.Context, id string, status models.ConnectionStatus, lastError string, lastConnectedAt *time.Time) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE mcphub_mcp_servers
		SET connection_status = $2,
			last_error = $3,
			last_connected_at = COALESCE($4, last_connected_at)
		WHERE id = $1 AND deleted_at IS NULL`

	tag, err := r.conn(ctx).Exec(ctx, query, id, string(status), nullableText(lastError), nullableTime(lastConnectedAt))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.NewDomainError(domain.ErrMCPServerNotFound, id)
	}
	return nil
}

// Delete soft-deletes the server and removes its user configs and mirrored
// tools. Callers wrap it in a transaction to make the cascade atomic.
func (r *MCPServerRepository) Delete(ctx context.Context, id string) (*models.MCPServer, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	now := time.Now()
	query := `
		UPDATE mcphub_mcp_servers
		SET deleted_at = $2, updated_at = $2, connection_status = 'disconnected'
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING ` + mcpServerColumns

	server, err := scanMCPServer(r.conn(ctx).QueryRow(ctx, query, id, now))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NewDomainError(domain.ErrMCPServerNotFound, id)
		}
		return nil, err
	}

	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM mcphub_user_server_configs WHERE server_id = $1`, id); err != nil {
		return nil, fmt.Errorf("delete user configs: %w", err)
	}
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM mcphub_mcp_tools WHERE server_id = $1`, id); err != nil {
		return nil, fmt.Errorf("delete tools: %w", err)
	}
	return server, nil
}

func scanMCPServer(row pgx.Row) (*models.MCPServer, error) {
	var s models.MCPServer
	var (
		transport               []byte
		description, lastError  sql.NullString
		retryDelayMs, timeoutMs int64
		status                  string
		lastConnected, deleted  sql.NullTime
	)

	err := row.Scan(
		&s.ID,
		&s.OwnerID,
		&s.Name,
		&description,
		&transport,
		&s.Policy.MaxRetries,
		&retryDelayMs,
		&timeoutMs,
		&s.Enabled,
		&s.IsPublic,
		&status,
		&lastError,
		&lastConnected,
		&s.CreatedAt,
		&s.UpdatedAt,
		&deleted,
	)
	if err != nil {
		return nil, err
	}

	if err := decodeJSONColumn(transport, &s.Transport); err != nil {
		return nil, fmt.Errorf("decode transport of %s: %w", s.ID, err)
	}
	s.Description = textValue(description)
	s.LastError = textValue(lastError)
	s.LastConnectedAt = timeValue(lastConnected)
	s.DeletedAt = timeValue(deleted)
	s.Policy.RetryDelay = fromMillis(retryDelayMs)
	s.Policy.Timeout = fromMillis(timeoutMs)
	s.ConnectionStatus = models.ConnectionStatus(status)
	if !s.ConnectionStatus.Valid() {
		s.ConnectionStatus = models.ConnectionStatusDisconnected
	}
	return &s, nil
}
