package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/longregen/mcphub/internal/domain/models"
)

// HealthCheckConfig holds configuration for health checks
type HealthCheckConfig struct {
	Timeout time.Duration // Timeout for each individual health check
}

// DefaultHealthCheckConfig returns default health check configuration
func DefaultHealthCheckConfig() HealthCheckConfig {
	return HealthCheckConfig{
		Timeout: 5 * time.Second,
	}
}

// Pinger is satisfied by *pgxpool.Pool
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	config   HealthCheckConfig
	version  string
	db       Pinger
	statuses StatusSource
}

func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		config:  DefaultHealthCheckConfig(),
		version: version,
	}
}

func NewHealthHandlerWithDeps(version string, db Pinger, statuses StatusSource) *HealthHandler {
	h := NewHealthHandler(version)
	h.db = db
	h.statuses = statuses
	return h
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

type DetailedHealthResponse struct {
	Status      string                   `json:"status"`
	Version     string                   `json:"version"`
	Services    map[string]ServiceHealth `json:"services"`
	Connections map[string]int           `json:"connections,omitempty"`
}

type ServiceHealth struct {
	Status    string  `json:"status"`
	LatencyMs *int64  `json:"latency_ms,omitempty"`
	Error     *string `json:"error,omitempty"`
}

// Handle provides a basic health check endpoint
func (h *HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, HealthResponse{Status: "ok", Version: h.version}, http.StatusOK)
}

// HandleDetailed checks the database and summarises managed connections
func (h *HealthHandler) HandleDetailed(w http.ResponseWriter, r *http.Request) {
	response := DetailedHealthResponse{
		Version:  h.version,
		Services: make(map[string]ServiceHealth),
	}

	if h.db != nil {
		response.Services["database"] = h.checkDatabase(r.Context())
	}

	if h.statuses != nil {
		response.Connections = map[string]int{
			string(models.ConnectionStatusDisconnected): 0,
			string(models.ConnectionStatusConnecting):   0,
			string(models.ConnectionStatusConnected):    0,
			string(models.ConnectionStatusError):        0,
		}
		for _, st := range h.statuses.AllStatuses() {
			response.Connections[string(st.Status)]++
		}
	}

	response.Status = calculateOverallStatus(response.Services)

	statusCode := http.StatusOK
	if response.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	respondJSON(w, response, statusCode)
}

// checkDatabase checks database connectivity
func (h *HealthHandler) checkDatabase(ctx context.Context) ServiceHealth {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()

	err := h.db.Ping(checkCtx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		errMsg := err.Error()
		return ServiceHealth{
			Status:    "unhealthy",
			LatencyMs: &latency,
			Error:     &errMsg,
		}
	}

	return ServiceHealth{
		Status:    "healthy",
		LatencyMs: &latency,
	}
}

// calculateOverallStatus determines the overall system status based on individual services.
// Individual tool servers being down never makes the hub unhealthy.
func calculateOverallStatus(services map[string]ServiceHealth) string {
	for _, service := range services {
		if service.Status == "unhealthy" {
			return "unhealthy"
		}
	}
	return "healthy"
}
