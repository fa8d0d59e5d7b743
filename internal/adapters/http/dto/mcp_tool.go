package dto

import "github.com/longregen/mcphub/internal/domain/models"

type ToolToggleRequest struct {
	Enabled *bool `json:"enabled"`
}

type ToolResponse struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
	Enabled     bool           `json:"enabled"`
	ServerID    string         `json:"server_id"`
	ServerName  string         `json:"server_name,omitempty"`
}

type ToolListResponse struct {
	Tools []ToolResponse `json:"tools"`
	Total int            `json:"total"`
}

func NewToolListResponse(tools []*models.MCPTool) *ToolListResponse {
	out := make([]ToolResponse, 0, len(tools))
	for _, t := range tools {
		out = append(out, ToolResponse{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
			Enabled:     t.Enabled,
			ServerID:    t.ServerID,
		})
	}
	return &ToolListResponse{Tools: out, Total: len(out)}
}
