package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/longregen/mcphub/internal/adapters/http/handlers"
	"github.com/longregen/mcphub/internal/adapters/http/middleware"
	"github.com/longregen/mcphub/internal/config"
	"github.com/longregen/mcphub/internal/logging"
)

// Deps are the collaborators the HTTP surface serves
type Deps struct {
	Servers     handlers.ServerService
	Aggregator  handlers.ToolAggregator
	Statuses    handlers.StatusSource
	Broadcaster *handlers.StatusBroadcaster
	DB          handlers.Pinger
	Version     string
	Logger      *slog.Logger
}

type Server struct {
	config     config.ServerConfig
	deps       Deps
	logger     *slog.Logger
	router     *chi.Mux
	httpServer *http.Server
}

func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Broadcaster == nil {
		deps.Broadcaster = handlers.NewStatusBroadcaster(deps.Logger)
	}
	s := &Server{
		config: cfg,
		deps:   deps,
		logger: logging.WithComponent(deps.Logger, "http"),
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.Logger(s.deps.Logger))
	r.Use(middleware.Recovery(s.deps.Logger))
	r.Use(middleware.CORS(s.config.CORSOrigins))
	r.Use(middleware.Metrics)

	healthHandler := handlers.NewHealthHandler(s.deps.Version)
	detailedHealthHandler := handlers.NewHealthHandlerWithDeps(s.deps.Version, s.deps.DB, s.deps.Statuses)
	r.Get("/health", healthHandler.Handle)
	r.Get("/health/detailed", detailedHealthHandler.HandleDetailed)
	r.Handle("/metrics", promhttp.Handler())

	mcpHandler := handlers.NewMCPHandler(s.deps.Servers, s.deps.Aggregator)
	statusWSHandler := handlers.NewStatusWSHandler(s.deps.Statuses, s.deps.Broadcaster, s.config.CORSOrigins, s.deps.Logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth)

		r.Route("/mcp", func(r chi.Router) {
			r.Get("/servers", mcpHandler.ListServers)
			r.Post("/servers", mcpHandler.CreateServer)
			r.Get("/servers/{id}", mcpHandler.GetServer)
			r.Patch("/servers/{id}", mcpHandler.UpdateServer)
			r.Delete("/servers/{id}", mcpHandler.DeleteServer)
			r.Post("/servers/{id}/actions", mcpHandler.ServerAction)
			r.Post("/servers/{id}/toggle", mcpHandler.ToggleServer)
			r.Put("/servers/{id}/credentials", mcpHandler.SetCredentials)
			r.Get("/servers/{id}/tools", mcpHandler.ListServerTools)
			r.Put("/servers/{id}/tools/{tool}", mcpHandler.SetToolEnabled)

			r.Get("/tools", mcpHandler.ListTools)
			r.Get("/status", mcpHandler.GetStatus)
			r.Get("/status/ws", statusWSHandler.Handle)
			r.Get("/dashboard", mcpHandler.Dashboard)
		})
	})

	s.router = r
}

// Start blocks serving until Stop is called
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // No write timeout for WebSocket streaming
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) Broadcaster() *handlers.StatusBroadcaster {
	return s.deps.Broadcaster
}
