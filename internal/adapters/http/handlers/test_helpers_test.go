package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/mock"

	"github.com/longregen/mcphub/internal/adapters/http/middleware"
	"github.com/longregen/mcphub/internal/adapters/mcp"
	"github.com/longregen/mcphub/internal/application/services"
	"github.com/longregen/mcphub/internal/domain/models"
)

// Helper function to add user context to requests
func addUserContext(req *http.Request, userID string) *http.Request {
	return req.WithContext(middleware.WithUserID(req.Context(), userID))
}

// setURLParams adds URL parameters to the request context (chi router style)
func setURLParams(req *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// newRequest builds an authenticated request with an optional JSON body
func newRequest(method, target, userID string, body interface{}) *http.Request {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return addUserContext(req, userID)
}

type mockServerService struct {
	mock.Mock
}

func (m *mockServerService) Create(ctx context.Context, ownerID string, in services.CreateServerInput) (*models.MCPServer, error) {
	args := m.Called(ctx, ownerID, in)
	server, _ := args.Get(0).(*models.MCPServer)
	return server, args.Error(1)
}

func (m *mockServerService) Update(ctx context.Context, ownerID, id string, in services.UpdateServerInput) (*models.MCPServer, error) {
	args := m.Called(ctx, ownerID, id, in)
	server, _ := args.Get(0).(*models.MCPServer)
	return server, args.Error(1)
}

func (m *mockServerService) SetEnabled(ctx context.Context, userID, id string, enabled bool) (*models.MCPServer, error) {
	args := m.Called(ctx, userID, id, enabled)
	server, _ := args.Get(0).(*models.MCPServer)
	return server, args.Error(1)
}

func (m *mockServerService) Delete(ctx context.Context, ownerID, id string) error {
	return m.Called(ctx, ownerID, id).Error(0)
}

func (m *mockServerService) Get(ctx context.Context, userID, id string) (*models.MCPServer, error) {
	args := m.Called(ctx, userID, id)
	server, _ := args.Get(0).(*models.MCPServer)
	return server, args.Error(1)
}

func (m *mockServerService) List(ctx context.Context, userID string) ([]*models.MCPServer, error) {
	args := m.Called(ctx, userID)
	servers, _ := args.Get(0).([]*models.MCPServer)
	return servers, args.Error(1)
}

func (m *mockServerService) Action(ctx context.Context, userID, id, action string) (*services.ActionResult, error) {
	args := m.Called(ctx, userID, id, action)
	result, _ := args.Get(0).(*services.ActionResult)
	return result, args.Error(1)
}

func (m *mockServerService) SetCredentials(ctx context.Context, userID, id string, creds map[string]string) error {
	return m.Called(ctx, userID, id, creds).Error(0)
}

func (m *mockServerService) SetToolEnabled(ctx context.Context, userID, id, tool string, enabled bool) error {
	return m.Called(ctx, userID, id, tool, enabled).Error(0)
}

func (m *mockServerService) ListTools(ctx context.Context, userID, id string) ([]*models.MCPTool, error) {
	args := m.Called(ctx, userID, id)
	tools, _ := args.Get(0).([]*models.MCPTool)
	return tools, args.Error(1)
}

func (m *mockServerService) Dashboard(ctx context.Context, userID string) (*services.Dashboard, error) {
	args := m.Called(ctx, userID)
	d, _ := args.Get(0).(*services.Dashboard)
	return d, args.Error(1)
}

type mockAggregator struct {
	mock.Mock
}

func (m *mockAggregator) GetToolsForUser(ctx context.Context, userID string) ([]mcp.AggregatedTool, error) {
	args := m.Called(ctx, userID)
	tools, _ := args.Get(0).([]mcp.AggregatedTool)
	return tools, args.Error(1)
}

func (m *mockAggregator) GetStatusForUser(ctx context.Context, userID string) (map[string]mcp.Status, error) {
	args := m.Called(ctx, userID)
	statuses, _ := args.Get(0).(map[string]mcp.Status)
	return statuses, args.Error(1)
}

type stubStatuses map[mcp.Key]mcp.Status

func (s stubStatuses) AllStatuses() map[mcp.Key]mcp.Status { return s }

func testServer(id, ownerID string) *models.MCPServer {
	server := models.NewMCPServer(id, ownerID, "search",
		models.NewStreamTransport("http://tools.internal/mcp", map[string]string{"Authorization": "Bearer secret"}),
		models.DefaultPolicy())
	server.ConnectionStatus = models.ConnectionStatusConnected
	return server
}

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}
