package encoding_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/longregen/mcphub/internal/adapters/http/dto"
	"github.com/longregen/mcphub/internal/adapters/http/encoding"
	"github.com/longregen/mcphub/internal/domain/models"
)

func TestNegotiateContentType(t *testing.T) {
	tests := []struct {
		accept string
		want   string
	}{
		{"", encoding.ContentTypeJSON},
		{"*/*", encoding.ContentTypeJSON},
		{"application/json", encoding.ContentTypeJSON},
		{"application/msgpack", encoding.ContentTypeMsgpack},
		{"application/json;q=0.9, application/msgpack", encoding.ContentTypeMsgpack},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/mcp/status", nil)
		if tt.accept != "" {
			req.Header.Set("Accept", tt.accept)
		}
		assert.Equal(t, tt.want, encoding.NegotiateContentType(req), "accept %q", tt.accept)
	}
}

func TestWriteMsgpack_StatusListUsesJSONNames(t *testing.T) {
	connectedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	body := &dto.StatusListResponse{
		Statuses: map[string]dto.ConnectionStatusResponse{
			"amcp_1": {ServerID: "amcp_1", ServerName: "search", Status: "connected", ToolCount: 2, LastConnectedAt: &connectedAt},
			"amcp_2": {ServerID: "amcp_2", Status: "error", RetryCount: 3, LastError: "dial tcp: connection refused"},
		},
		Total: 2,
	}

	w := httptest.NewRecorder()
	require.NoError(t, encoding.WriteMsgpack(w, http.StatusOK, body))
	assert.Equal(t, encoding.ContentTypeMsgpack, w.Header().Get("Content-Type"))

	var raw map[string]any
	require.NoError(t, msgpack.Unmarshal(w.Body.Bytes(), &raw))
	assert.Contains(t, raw, "statuses")
	statuses := raw["statuses"].(map[string]any)
	failing := statuses["amcp_2"].(map[string]any)
	assert.Equal(t, "dial tcp: connection refused", failing["last_error"])
	assert.NotContains(t, statuses["amcp_1"].(map[string]any), "last_error")
}

func TestReadMsgpack_CreateServerRequest(t *testing.T) {
	enabled := false
	in := dto.CreateServerRequest{
		Name:      "filesystem",
		Transport: models.NewSubprocessTransport("mcp-fs", []string{"--root", "/srv"}, map[string]string{"LOG": "debug"}),
		Policy:    &dto.PolicyRequest{RetryDelayMs: 500, TimeoutMs: 10000},
		Enabled:   &enabled,
	}

	w := httptest.NewRecorder()
	require.NoError(t, encoding.WriteMsgpack(w, http.StatusCreated, in))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/mcp/servers", bytes.NewReader(w.Body.Bytes()))
	req.Header.Set("Content-Type", encoding.ContentTypeMsgpack)
	require.True(t, encoding.IsMsgpackBody(req))

	var out dto.CreateServerRequest
	require.NoError(t, encoding.ReadMsgpack(req, &out))
	assert.Equal(t, "filesystem", out.Name)
	assert.Equal(t, models.TransportKindSubprocess, out.Transport.Kind)
	require.NotNil(t, out.Transport.Subprocess)
	assert.Equal(t, []string{"--root", "/srv"}, out.Transport.Subprocess.Args)
	require.NotNil(t, out.Policy)
	assert.Nil(t, out.Policy.MaxRetries)
	assert.Equal(t, int64(500), out.Policy.RetryDelayMs)
	require.NotNil(t, out.Enabled)
	assert.False(t, *out.Enabled)
}

func TestReadMsgpack_Garbage(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/mcp/servers", bytes.NewReader([]byte{0xc1}))
	req.Header.Set("Content-Type", encoding.ContentTypeMsgpack)

	var out dto.CreateServerRequest
	assert.Error(t, encoding.ReadMsgpack(req, &out))
}

func TestIsMsgpackBody(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"application/msgpack", true},
		{"application/msgpack; charset=binary", true},
		{"application/json", false},
		{"", false},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPut, "/api/v1/mcp/servers/amcp_1/credentials", nil)
		if tt.contentType != "" {
			req.Header.Set("Content-Type", tt.contentType)
		}
		assert.Equal(t, tt.want, encoding.IsMsgpackBody(req), tt.contentType)
	}
}
