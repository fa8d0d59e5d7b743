package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/longregen/mcphub/internal/domain"
	"github.com/longregen/mcphub/internal/domain/models"
)

type MCPToolRepository struct {
	BaseRepository
	tx *TransactionManager
}

func NewMCPToolRepository(pool *pgxpool.Pool) *MCPToolRepository {
	return &MCPToolRepository{
		BaseRepository: NewBaseRepository(pool),
		tx:             NewTransactionManager(pool),
	}
}

// ReplaceTools swaps the mirrored tool set of a server in one transaction.
// Tools the owner disabled stay disabled if the server still offers them.
func (r *MCPToolRepository) ReplaceTools(ctx context.Context, serverID string, tools []*models.MCPTool) error {
	return r.tx.WithTransaction(ctx, func(ctx context.Context) error {
		disabled, err := r.disabledNames(ctx, serverID)
		if err != nil {
			return err
		}

		if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM mcphub_mcp_tools WHERE server_id = $1`, serverID); err != nil {
			return fmt.Errorf("clear tools: %w", err)
		}

		query := `
			INSERT INTO mcphub_mcp_tools (id, server_id, name, description, input_schema, enabled, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`
		for _, tool := range tools {
			schema, err := json.Marshal(tool.InputSchema)
			if err != nil {
				return fmt.Errorf("marshal schema of %s: %w", tool.Name, err)
			}
			if _, off := disabled[tool.Name]; off {
				tool.Disable()
			}
			if _, err := r.conn(ctx).Exec(ctx, query,
				tool.ID,
				serverID,
				tool.Name,
				nullableText(tool.Description),
				schema,
				tool.Enabled,
				tool.CreatedAt,
			); err != nil {
				return fmt.Errorf("insert tool %s: %w", tool.Name, err)
			}
		}
		return nil
	})
}

func (r *MCPToolRepository) disabledNames(ctx context.Context, serverID string) (map[string]struct{}, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT name FROM mcphub_mcp_tools WHERE server_id = $1 AND NOT enabled`, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names[name] = struct{}{}
	}
	return names, rows.Err()
}

func (r *MCPToolRepository) ListByServer(ctx context.Context, serverID string) ([]*models.MCPTool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, server_id, name, description, input_schema, enabled, created_at
		FROM mcphub_mcp_tools
		WHERE server_id = $1
		ORDER BY name ASC`

	rows, err := r.conn(ctx).Query(ctx, query, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tools []*models.MCPTool
	for rows.Next() {
		var t models.MCPTool
		var description sql.NullString
		var schema []byte
		if err := rows.Scan(&t.ID, &t.ServerID, &t.Name, &description, &schema, &t.Enabled, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Description = textValue(description)
		if err := decodeJSONColumn(schema, &t.InputSchema); err != nil {
			return nil, fmt.Errorf("decode schema of %s: %w", t.Name, err)
		}
		tools = append(tools, &t)
	}
	return tools, rows.Err()
}

// SetEnabled flips the owner-level flag of one mirrored tool
func (r *MCPToolRepository) SetEnabled(ctx context.Context, serverID, name string, enabled bool) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE mcphub_mcp_tools SET enabled = $3 WHERE server_id = $1 AND name = $2`,
		serverID, name, enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.NewDomainError(domain.ErrNotFound, "tool "+name)
	}
	return nil
}
