package handlers

import (
	"context"
	"net/http"

	"github.com/longregen/mcphub/internal/adapters/http/dto"
	"github.com/longregen/mcphub/internal/adapters/mcp"
	"github.com/longregen/mcphub/internal/application/services"
	"github.com/longregen/mcphub/internal/domain/models"
)

// ServerService is the part of services.MCPServerService the handlers use
type ServerService interface {
	Create(ctx context.Context, ownerID string, in services.CreateServerInput) (*models.MCPServer, error)
	Update(ctx context.Context, ownerID, id string, in services.UpdateServerInput) (*models.MCPServer, error)
	SetEnabled(ctx context.Context, userID, id string, enabled bool) (*models.MCPServer, error)
	Delete(ctx context.Context, ownerID, id string) error
	Get(ctx context.Context, userID, id string) (*models.MCPServer, error)
	List(ctx context.Context, userID string) ([]*models.MCPServer, error)
	Action(ctx context.Context, userID, id, action string) (*services.ActionResult, error)
	SetCredentials(ctx context.Context, userID, id string, creds map[string]string) error
	SetToolEnabled(ctx context.Context, userID, id, tool string, enabled bool) error
	ListTools(ctx context.Context, userID, id string) ([]*models.MCPTool, error)
	Dashboard(ctx context.Context, userID string) (*services.Dashboard, error)
}

// ToolAggregator builds the live per-user view across servers
type ToolAggregator interface {
	GetToolsForUser(ctx context.Context, userID string) ([]mcp.AggregatedTool, error)
	GetStatusForUser(ctx context.Context, userID string) (map[string]mcp.Status, error)
}

// MCPHandler handles MCP server configuration endpoints
type MCPHandler struct {
	servers    ServerService
	aggregator ToolAggregator
}

// NewMCPHandler creates a new MCP handler
func NewMCPHandler(servers ServerService, aggregator ToolAggregator) *MCPHandler {
	return &MCPHandler{
		servers:    servers,
		aggregator: aggregator,
	}
}

// ListServers handles GET /api/v1/mcp/servers
func (h *MCPHandler) ListServers(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(r, w)
	if !ok {
		return
	}

	servers, err := h.servers.List(r.Context(), userID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respond(w, r, dto.NewServerListResponse(servers, userID), http.StatusOK)
}

// CreateServer handles POST /api/v1/mcp/servers
func (h *MCPHandler) CreateServer(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(r, w)
	if !ok {
		return
	}

	req, ok := decodeBody[dto.CreateServerRequest](r, w)
	if !ok {
		return
	}

	in := services.CreateServerInput{
		Name:        req.Name,
		Description: req.Description,
		Transport:   req.Transport,
		Enabled:     req.Enabled,
		IsPublic:    req.IsPublic,
		Credentials: req.Credentials,
	}
	if req.Policy != nil {
		policy := req.Policy.ToModel(models.DefaultPolicy())
		in.Policy = &policy
	}

	server, err := h.servers.Create(r.Context(), userID, in)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respond(w, r, dto.NewServerResponse(server, userID), http.StatusCreated)
}

// GetServer handles GET /api/v1/mcp/servers/{id}
func (h *MCPHandler) GetServer(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(r, w)
	if !ok {
		return
	}
	id, ok := validateURLParam(r, w, "id", "Server ID")
	if !ok {
		return
	}

	server, err := h.servers.Get(r.Context(), userID, id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respond(w, r, dto.NewServerResponse(server, userID), http.StatusOK)
}

// UpdateServer handles PATCH /api/v1/mcp/servers/{id}
func (h *MCPHandler) UpdateServer(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(r, w)
	if !ok {
		return
	}
	id, ok := validateURLParam(r, w, "id", "Server ID")
	if !ok {
		return
	}

	req, ok := decodeBody[dto.UpdateServerRequest](r, w)
	if !ok {
		return
	}

	in := services.UpdateServerInput{
		Name:        req.Name,
		Description: req.Description,
		Transport:   req.Transport,
		Enabled:     req.Enabled,
		IsPublic:    req.IsPublic,
	}
	if req.Policy != nil {
		// Partial policy patches merge over the stored policy
		current, err := h.servers.Get(r.Context(), userID, id)
		if err != nil {
			respondDomainError(w, r, err)
			return
		}
		policy := req.Policy.ToModel(current.Policy)
		in.Policy = &policy
	}

	server, err := h.servers.Update(r.Context(), userID, id, in)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respond(w, r, dto.NewServerResponse(server, userID), http.StatusOK)
}

// DeleteServer handles DELETE /api/v1/mcp/servers/{id}
func (h *MCPHandler) DeleteServer(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(r, w)
	if !ok {
		return
	}
	id, ok := validateURLParam(r, w, "id", "Server ID")
	if !ok {
		return
	}

	if err := h.servers.Delete(r.Context(), userID, id); err != nil {
		respondDomainError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ServerAction handles POST /api/v1/mcp/servers/{id}/actions
func (h *MCPHandler) ServerAction(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(r, w)
	if !ok {
		return
	}
	id, ok := validateURLParam(r, w, "id", "Server ID")
	if !ok {
		return
	}

	req, ok := decodeBody[dto.ActionRequest](r, w)
	if !ok {
		return
	}
	if req.Action == "" {
		respondError(w, "invalid_request", "action is required", http.StatusBadRequest)
		return
	}

	result, err := h.servers.Action(r.Context(), userID, id, req.Action)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	resp := dto.ActionResponse{
		Action: result.Action,
		Status: dto.NewConnectionStatusResponse(result.Status),
	}
	if result.Test != nil {
		resp.Test = &dto.TestResponse{
			Success:   result.Test.Success,
			LatencyMs: result.Test.LatencyMs,
			ToolCount: result.Test.ToolCount,
			Error:     result.Test.Error,
		}
		for _, tool := range result.Test.Tools {
			resp.Test.Tools = append(resp.Test.Tools, tool.Name)
		}
	}

	respond(w, r, resp, http.StatusOK)
}

// ToggleServer handles POST /api/v1/mcp/servers/{id}/toggle
func (h *MCPHandler) ToggleServer(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(r, w)
	if !ok {
		return
	}
	id, ok := validateURLParam(r, w, "id", "Server ID")
	if !ok {
		return
	}

	req, ok := decodeBody[dto.ToggleRequest](r, w)
	if !ok {
		return
	}
	if req.Enabled == nil {
		respondError(w, "invalid_request", "enabled is required", http.StatusBadRequest)
		return
	}

	server, err := h.servers.SetEnabled(r.Context(), userID, id, *req.Enabled)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respond(w, r, dto.NewServerResponse(server, userID), http.StatusOK)
}

// SetCredentials handles PUT /api/v1/mcp/servers/{id}/credentials
func (h *MCPHandler) SetCredentials(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(r, w)
	if !ok {
		return
	}
	id, ok := validateURLParam(r, w, "id", "Server ID")
	if !ok {
		return
	}

	req, ok := decodeBody[dto.CredentialsRequest](r, w)
	if !ok {
		return
	}

	if err := h.servers.SetCredentials(r.Context(), userID, id, req.Credentials); err != nil {
		respondDomainError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListServerTools handles GET /api/v1/mcp/servers/{id}/tools
func (h *MCPHandler) ListServerTools(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(r, w)
	if !ok {
		return
	}
	id, ok := validateURLParam(r, w, "id", "Server ID")
	if !ok {
		return
	}

	tools, err := h.servers.ListTools(r.Context(), userID, id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respond(w, r, dto.NewToolListResponse(tools), http.StatusOK)
}

// SetToolEnabled handles PUT /api/v1/mcp/servers/{id}/tools/{tool}
func (h *MCPHandler) SetToolEnabled(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(r, w)
	if !ok {
		return
	}
	id, ok := validateURLParam(r, w, "id", "Server ID")
	if !ok {
		return
	}
	tool, ok := validateURLParam(r, w, "tool", "Tool name")
	if !ok {
		return
	}

	req, ok := decodeBody[dto.ToolToggleRequest](r, w)
	if !ok {
		return
	}
	if req.Enabled == nil {
		respondError(w, "invalid_request", "enabled is required", http.StatusBadRequest)
		return
	}

	if err := h.servers.SetToolEnabled(r.Context(), userID, id, tool, *req.Enabled); err != nil {
		respondDomainError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListTools handles GET /api/v1/mcp/tools
func (h *MCPHandler) ListTools(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(r, w)
	if !ok {
		return
	}

	tools, err := h.aggregator.GetToolsForUser(r.Context(), userID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	resp := dto.ToolListResponse{Tools: make([]dto.ToolResponse, 0, len(tools))}
	for _, t := range tools {
		resp.Tools = append(resp.Tools, dto.ToolResponse{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
			Enabled:     true,
			ServerID:    t.ServerID,
			ServerName:  t.ServerName,
		})
	}
	resp.Total = len(resp.Tools)

	respond(w, r, resp, http.StatusOK)
}

// GetStatus handles GET /api/v1/mcp/status
func (h *MCPHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(r, w)
	if !ok {
		return
	}

	statuses, err := h.aggregator.GetStatusForUser(r.Context(), userID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respond(w, r, dto.NewStatusListResponse(statuses), http.StatusOK)
}

// Dashboard handles GET /api/v1/mcp/dashboard
func (h *MCPHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(r, w)
	if !ok {
		return
	}

	dashboard, err := h.servers.Dashboard(r.Context(), userID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respond(w, r, dto.NewDashboardResponse(dashboard), http.StatusOK)
}
