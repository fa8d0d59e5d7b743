package models

import "time"

// UserServerConfig is a user's enablement, credentials and per-tool
// overrides for one server
type UserServerConfig struct {
	ID                   string          `json:"id"`
	UserID               string          `json:"user_id"`
	ServerID             string          `json:"server_id"`
	Enabled              bool            `json:"enabled"`
	EncryptedCredentials []byte          `json:"-"`
	ToolOverrides        map[string]bool `json:"tool_overrides,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

func NewUserServerConfig(id, userID, serverID string) *UserServerConfig {
	now := time.Now()
	return &UserServerConfig{
		ID:        id,
		UserID:    userID,
		ServerID:  serverID,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ToolEnabled applies the per-tool override, defaulting to enabled when the
// user has no override for that tool
func (c *UserServerConfig) ToolEnabled(name string) bool {
	if c == nil || len(c.ToolOverrides) == 0 {
		return true
	}
	enabled, ok := c.ToolOverrides[name]
	if !ok {
		return true
	}
	return enabled
}

// SetToolEnabled records an override for one tool
func (c *UserServerConfig) SetToolEnabled(name string, enabled bool) {
	if c.ToolOverrides == nil {
		c.ToolOverrides = make(map[string]bool)
	}
	c.ToolOverrides[name] = enabled
	c.UpdatedAt = time.Now()
}

// HasCredentials reports whether an encrypted credential blob is stored
func (c *UserServerConfig) HasCredentials() bool {
	return c != nil && len(c.EncryptedCredentials) > 0
}
