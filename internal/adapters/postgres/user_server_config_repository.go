package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/longregen/mcphub/internal/domain"
	"github.com/longregen/mcphub/internal/domain/models"
)

type UserServerConfigRepository struct {
	BaseRepository
}

func NewUserServerConfigRepository(pool *pgxpool.Pool) *UserServerConfigRepository {
	return &UserServerConfigRepository{
		BaseRepository: NewBaseRepository(pool),
	}
}

func (r *UserServerConfigRepository) Get(ctx context.Context, userID, serverID string) (*models.UserServerConfig, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, user_id, server_id, enabled, encrypted_credentials, tool_overrides, created_at, updated_at
		FROM mcphub_user_server_configs
		WHERE user_id = $1 AND server_id = $2`

	cfg, err := scanUserServerConfig(r.conn(ctx).QueryRow(ctx, query, userID, serverID))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NewDomainError(domain.ErrUserConfigNotFound, userID+"/"+serverID)
		}
		return nil, err
	}
	return cfg, nil
}

// ListEnabledByUser returns enabled configs whose server still exists, in
// the order the user added them
func (r *UserServerConfigRepository) ListEnabledByUser(ctx context.Context, userID string) ([]*models.UserServerConfig, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT c.id, c.user_id, c.server_id, c.enabled, c.encrypted_credentials, c.tool_overrides, c.created_at, c.updated_at
		FROM mcphub_user_server_configs c
		JOIN mcphub_mcp_servers s ON s.id = c.server_id
		WHERE c.user_id = $1 AND c.enabled AND s.deleted_at IS NULL
		ORDER BY c.created_at ASC, c.id ASC`

	rows, err := r.conn(ctx).Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*models.UserServerConfig
	for rows.Next() {
		cfg, err := scanUserServerConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

func (r *UserServerConfigRepository) Upsert(ctx context.Context, cfg *models.UserServerConfig) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var overrides []byte
	if len(cfg.ToolOverrides) > 0 {
		var err error
		overrides, err = json.Marshal(cfg.ToolOverrides)
		if err != nil {
			return fmt.Errorf("marshal tool overrides: %w", err)
		}
	}

	query := `
		INSERT INTO mcphub_user_server_configs (
			id, user_id, server_id, enabled, encrypted_credentials, tool_overrides, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, server_id) DO UPDATE
		SET enabled = EXCLUDED.enabled,
			encrypted_credentials = EXCLUDED.encrypted_credentials,
			tool_overrides = EXCLUDED.tool_overrides,
			updated_at = EXCLUDED.updated_at`

	_, err := r.conn(ctx).Exec(ctx, query,
		cfg.ID,
		cfg.UserID,
		cfg.ServerID,
		cfg.Enabled,
		cfg.EncryptedCredentials,
		overrides,
		cfg.CreatedAt,
		cfg.UpdatedAt,
	)
	return err
}

func (r *UserServerConfigRepository) Delete(ctx context.Context, userID, serverID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM mcphub_user_server_configs WHERE user_id = $1 AND server_id = $2`, userID, serverID)
	return err
}

func scanUserServerConfig(row pgx.Row) (*models.UserServerConfig, error) {
	var cfg models.UserServerConfig
	var overrides []byte

	err := row.Scan(
		&cfg.ID,
		&cfg.UserID,
		&cfg.ServerID,
		&cfg.Enabled,
		&cfg.EncryptedCredentials,
		&overrides,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := decodeJSONColumn(overrides, &cfg.ToolOverrides); err != nil {
		return nil, fmt.Errorf("decode tool overrides: %w", err)
	}
	return &cfg, nil
}
