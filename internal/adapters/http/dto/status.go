package dto

import (
	"time"

	"github.com/longregen/mcphub/internal/adapters/mcp"
	"github.com/longregen/mcphub/internal/application/services"
)

type ConnectionStatusResponse struct {
	ServerID        string     `json:"server_id"`
	ServerName      string     `json:"server_name,omitempty"`
	Status          string     `json:"status"`
	RetryCount      int        `json:"retry_count"`
	LastError       string     `json:"last_error,omitempty"`
	ToolError       string     `json:"tool_error,omitempty"`
	ToolCount       int        `json:"tool_count"`
	LastConnectedAt *time.Time `json:"last_connected_at,omitempty"`
}

func NewConnectionStatusResponse(st mcp.Status) ConnectionStatusResponse {
	return ConnectionStatusResponse{
		ServerID:        st.ServerID,
		ServerName:      st.ServerName,
		Status:          string(st.Status),
		RetryCount:      st.RetryCount,
		LastError:       st.LastError,
		ToolError:       st.ToolError,
		ToolCount:       len(st.Tools),
		LastConnectedAt: st.LastConnectedAt,
	}
}

type StatusListResponse struct {
	Statuses map[string]ConnectionStatusResponse `json:"statuses"`
	Total    int                                 `json:"total"`
}

func NewStatusListResponse(statuses map[string]mcp.Status) *StatusListResponse {
	out := make(map[string]ConnectionStatusResponse, len(statuses))
	for id, st := range statuses {
		out[id] = NewConnectionStatusResponse(st)
	}
	return &StatusListResponse{Statuses: out, Total: len(out)}
}

type ActionResponse struct {
	Action string                   `json:"action"`
	Status ConnectionStatusResponse `json:"status"`
	Test   *TestResponse            `json:"test,omitempty"`
}

type TestResponse struct {
	Success   bool     `json:"success"`
	LatencyMs int64    `json:"latency_ms"`
	ToolCount int      `json:"tool_count"`
	Tools     []string `json:"tools,omitempty"`
	Error     string   `json:"error,omitempty"`
}

type LatencyResponse struct {
	Samples   int     `json:"samples"`
	AverageMs float64 `json:"average_ms"`
	P95Ms     float64 `json:"p95_ms"`
}

type DashboardResponse struct {
	TotalServers      int             `json:"total_servers"`
	EnabledServers    int             `json:"enabled_servers"`
	ByStatus          map[string]int  `json:"by_status"`
	ActiveConnections int             `json:"active_connections"`
	TotalTools        int             `json:"total_tools"`
	EnabledTools      int             `json:"enabled_tools"`
	Latency           LatencyResponse `json:"latency"`
}

func NewDashboardResponse(d *services.Dashboard) *DashboardResponse {
	byStatus := make(map[string]int, len(d.ByStatus))
	for status, n := range d.ByStatus {
		byStatus[string(status)] = n
	}
	return &DashboardResponse{
		TotalServers:      d.TotalServers,
		EnabledServers:    d.EnabledServers,
		ByStatus:          byStatus,
		ActiveConnections: d.ActiveConnections,
		TotalTools:        d.TotalTools,
		EnabledTools:      d.EnabledTools,
		Latency: LatencyResponse{
			Samples:   d.Latency.Samples,
			AverageMs: float64(d.Latency.Average) / float64(time.Millisecond),
			P95Ms:     float64(d.Latency.P95) / float64(time.Millisecond),
		},
	}
}
