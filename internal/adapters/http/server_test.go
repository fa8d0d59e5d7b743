package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longregen/mcphub/internal/adapters/mcp"
	"github.com/longregen/mcphub/internal/application/services"
	"github.com/longregen/mcphub/internal/config"
	"github.com/longregen/mcphub/internal/domain"
	"github.com/longregen/mcphub/internal/domain/models"
)

// recordingService records the last call and answers Get/Update/Delete
type recordingService struct {
	lastUser string
	lastID   string
	lastTool string
	calls    []string
}

func (s *recordingService) record(name, userID, id string) {
	s.calls = append(s.calls, name)
	s.lastUser, s.lastID = userID, id
}

func (s *recordingService) server(id, userID string) *models.MCPServer {
	return models.NewMCPServer(id, userID, "search", models.NewStreamTransport("http://tools.internal/mcp", nil), models.DefaultPolicy())
}

func (s *recordingService) Create(ctx context.Context, ownerID string, in services.CreateServerInput) (*models.MCPServer, error) {
	s.record("Create", ownerID, "")
	return s.server("amcp_new", ownerID), nil
}

func (s *recordingService) Update(ctx context.Context, ownerID, id string, in services.UpdateServerInput) (*models.MCPServer, error) {
	s.record("Update", ownerID, id)
	return s.server(id, ownerID), nil
}

func (s *recordingService) SetEnabled(ctx context.Context, userID, id string, enabled bool) (*models.MCPServer, error) {
	s.record("SetEnabled", userID, id)
	return s.server(id, userID), nil
}

func (s *recordingService) Delete(ctx context.Context, ownerID, id string) error {
	s.record("Delete", ownerID, id)
	return nil
}

func (s *recordingService) Get(ctx context.Context, userID, id string) (*models.MCPServer, error) {
	s.record("Get", userID, id)
	if id == "amcp_missing" {
		return nil, domain.ErrMCPServerNotFound
	}
	return s.server(id, userID), nil
}

func (s *recordingService) List(ctx context.Context, userID string) ([]*models.MCPServer, error) {
	s.record("List", userID, "")
	return nil, nil
}

func (s *recordingService) Action(ctx context.Context, userID, id, action string) (*services.ActionResult, error) {
	s.record("Action", userID, id)
	return &services.ActionResult{Action: action, Status: mcp.Status{ServerID: id, Status: models.ConnectionStatusConnected}}, nil
}

func (s *recordingService) SetCredentials(ctx context.Context, userID, id string, creds map[string]string) error {
	s.record("SetCredentials", userID, id)
	return nil
}

func (s *recordingService) SetToolEnabled(ctx context.Context, userID, id, tool string, enabled bool) error {
	s.record("SetToolEnabled", userID, id)
	s.lastTool = tool
	return nil
}

func (s *recordingService) ListTools(ctx context.Context, userID, id string) ([]*models.MCPTool, error) {
	s.record("ListTools", userID, id)
	return nil, nil
}

func (s *recordingService) Dashboard(ctx context.Context, userID string) (*services.Dashboard, error) {
	s.record("Dashboard", userID, "")
	return &services.Dashboard{ByStatus: map[models.ConnectionStatus]int{}}, nil
}

type emptyAggregator struct{}

func (emptyAggregator) GetToolsForUser(ctx context.Context, userID string) ([]mcp.AggregatedTool, error) {
	return nil, nil
}

func (emptyAggregator) GetStatusForUser(ctx context.Context, userID string) (map[string]mcp.Status, error) {
	return map[string]mcp.Status{}, nil
}

type noStatuses struct{}

func (noStatuses) AllStatuses() map[mcp.Key]mcp.Status { return nil }

func newTestServer() (*Server, *recordingService) {
	svc := &recordingService{}
	srv := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0, CORSOrigins: []string{"http://localhost:3000"}}, Deps{
		Servers:    svc,
		Aggregator: emptyAggregator{},
		Statuses:   noStatuses{},
		Version:    "test",
	})
	return srv, svc
}

func TestServer_Routes(t *testing.T) {
	tests := []struct {
		method     string
		path       string
		body       string
		wantStatus int
		wantCall   string
		wantID     string
	}{
		{http.MethodGet, "/api/v1/mcp/servers", "", http.StatusOK, "List", ""},
		{http.MethodPost, "/api/v1/mcp/servers", `{"name":"search"}`, http.StatusCreated, "Create", ""},
		{http.MethodGet, "/api/v1/mcp/servers/amcp_1", "", http.StatusOK, "Get", "amcp_1"},
		{http.MethodGet, "/api/v1/mcp/servers/amcp_missing", "", http.StatusNotFound, "Get", "amcp_missing"},
		{http.MethodPatch, "/api/v1/mcp/servers/amcp_1", `{"name":"renamed"}`, http.StatusOK, "Update", "amcp_1"},
		{http.MethodDelete, "/api/v1/mcp/servers/amcp_1", "", http.StatusNoContent, "Delete", "amcp_1"},
		{http.MethodPost, "/api/v1/mcp/servers/amcp_1/actions", `{"action":"connect"}`, http.StatusOK, "Action", "amcp_1"},
		{http.MethodPost, "/api/v1/mcp/servers/amcp_1/toggle", `{"enabled":true}`, http.StatusOK, "SetEnabled", "amcp_1"},
		{http.MethodPut, "/api/v1/mcp/servers/amcp_1/credentials", `{"credentials":{"k":"v"}}`, http.StatusNoContent, "SetCredentials", "amcp_1"},
		{http.MethodGet, "/api/v1/mcp/servers/amcp_1/tools", "", http.StatusOK, "ListTools", "amcp_1"},
		{http.MethodPut, "/api/v1/mcp/servers/amcp_1/tools/search", `{"enabled":false}`, http.StatusNoContent, "SetToolEnabled", "amcp_1"},
		{http.MethodGet, "/api/v1/mcp/dashboard", "", http.StatusOK, "Dashboard", ""},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			srv, svc := newTestServer()

			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("X-User-ID", "alice")
			req.Header.Set("Content-Type", "application/json")
			rr := httptest.NewRecorder()
			srv.Router().ServeHTTP(rr, req)

			require.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			require.NotEmpty(t, svc.calls)
			assert.Equal(t, tt.wantCall, svc.calls[len(svc.calls)-1])
			assert.Equal(t, "alice", svc.lastUser)
			assert.Equal(t, tt.wantID, svc.lastID)
		})
	}
}

func TestServer_ToolRouteParam(t *testing.T) {
	srv, svc := newTestServer()

	req := httptest.NewRequest(http.MethodPut, "/api/v1/mcp/servers/amcp_1/tools/web_search", strings.NewReader(`{"enabled":true}`))
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)

	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "web_search", svc.lastTool)
	assert.Equal(t, "default_user", svc.lastUser)
}

func TestServer_AggregatedEndpoints(t *testing.T) {
	srv, _ := newTestServer()

	for _, path := range []string{"/api/v1/mcp/tools", "/api/v1/mcp/status"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		srv.Router().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code, path)
	}
}

func TestServer_InvalidUserRejected(t *testing.T) {
	srv, svc := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/mcp/servers", nil)
	req.Header.Set("X-User-ID", "alice; DROP")
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, svc.calls)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer()

	for _, path := range []string{"/health", "/health/detailed", "/metrics"} {
		rr := httptest.NewRecorder()
		srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rr.Code, path)
	}
}

func TestServer_Preflight(t *testing.T) {
	srv, _ := newTestServer()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/mcp/servers/amcp_1", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	req.Header.Set("Access-Control-Request-Headers", "X-User-ID")
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "PATCH")
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), "X-User-ID")
}

func TestServer_StopBeforeStart(t *testing.T) {
	srv, _ := newTestServer()
	assert.NoError(t, srv.Stop(context.Background()))
}
