package models

import (
	"time"
)

// ToolInfo is a tool as advertised by a connected server
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// MCPTool mirrors an advertised tool into the registry for offline browsing
type MCPTool struct {
	ID          string         `json:"id"`
	ServerID    string         `json:"server_id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
	Enabled     bool           `json:"enabled"`
	CreatedAt   time.Time      `json:"created_at"`
}

func NewMCPTool(id, serverID string, info ToolInfo) *MCPTool {
	return &MCPTool{
		ID:          id,
		ServerID:    serverID,
		Name:        info.Name,
		Description: info.Description,
		InputSchema: info.InputSchema,
		Enabled:     true,
		CreatedAt:   time.Now(),
	}
}

func (t *MCPTool) Disable() {
	t.Enabled = false
}

func (t *MCPTool) Enable() {
	t.Enabled = true
}

// Info converts the record back to the transport-level shape
func (t *MCPTool) Info() ToolInfo {
	return ToolInfo{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema}
}
