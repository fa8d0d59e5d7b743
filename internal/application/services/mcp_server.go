package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/longregen/mcphub/internal/adapters/mcp"
	"github.com/longregen/mcphub/internal/domain"
	"github.com/longregen/mcphub/internal/domain/models"
	"github.com/longregen/mcphub/internal/logging"
	"github.com/longregen/mcphub/internal/ports"
)

const maxServerNameLength = 128

// Server actions accepted by Action
const (
	ActionConnect    = "connect"
	ActionDisconnect = "disconnect"
	ActionReconnect  = "reconnect"
	ActionTest       = "test"
)

type CreateServerInput struct {
	Name        string
	Description string
	Transport   models.Transport
	Policy      *models.Policy
	Enabled     *bool
	IsPublic    bool
	Credentials map[string]string
}

// UpdateServerInput is a patch; nil fields are left unchanged
type UpdateServerInput struct {
	Name        *string
	Description *string
	Transport   *models.Transport
	Policy      *models.Policy
	Enabled     *bool
	IsPublic    *bool
}

// StaticServer is a server declared in the configuration file
type StaticServer struct {
	Name        string
	Description string
	Transport   models.Transport
	Policy      models.Policy
	Enabled     bool
}

type TestResult struct {
	Success   bool              `json:"success"`
	LatencyMs int64             `json:"latency_ms"`
	ToolCount int               `json:"tool_count"`
	Tools     []models.ToolInfo `json:"tools,omitempty"`
	Error     string            `json:"error,omitempty"`
}

type ActionResult struct {
	Action string      `json:"action"`
	Status mcp.Status  `json:"status"`
	Test   *TestResult `json:"test,omitempty"`
}

type Dashboard struct {
	TotalServers      int                             `json:"total_servers"`
	EnabledServers    int                             `json:"enabled_servers"`
	ByStatus          map[models.ConnectionStatus]int `json:"by_status"`
	ActiveConnections int                             `json:"active_connections"`
	TotalTools        int                             `json:"total_tools"`
	EnabledTools      int                             `json:"enabled_tools"`
	Latency           mcp.LatencyStats                `json:"latency"`
}

// MCPServerService is the user-facing surface over the registry and the
// connection manager. It applies the configuration change protocol and keeps
// every status it returns reconciled with the live manager state.
type MCPServerService struct {
	servers     ports.MCPServerRepository
	configs     ports.UserServerConfigRepository
	tools       ports.MCPToolRepository
	tx          ports.TransactionManager
	manager     *mcp.Manager
	factory     ports.TransportClientFactory
	credentials ports.CredentialResolver
	ids         ports.IDGenerator
	syncer      *StatusSyncer
	logger      *slog.Logger

	wg      sync.WaitGroup
	mu      sync.Mutex
	closing bool
	gates   map[string]*serverGate
	ctx     context.Context
	cancel  context.CancelFunc
}

// serverGate serializes configuration changes of one server against the
// background connects they start. A change bumps gen (or the per-user
// generation); a background connect registers only while the generations it
// was started under are still current.
type serverGate struct {
	mu    sync.Mutex
	gen   uint64
	users map[string]uint64
}

type gateTicket struct {
	gate *serverGate
	gen  uint64
	user uint64
}

// bump invalidates every background connect of the server. Callers hold g.mu.
func (g *serverGate) bump() {
	g.gen++
}

// bumpUser invalidates background connects for one user. Callers hold g.mu.
func (g *serverGate) bumpUser(userID string) {
	if g.users == nil {
		g.users = make(map[string]uint64)
	}
	g.users[userID]++
}

// ticket captures the current generations. Callers hold g.mu.
func (g *serverGate) ticket(userID string) gateTicket {
	return gateTicket{gate: g, gen: g.gen, user: g.users[userID]}
}

// current reports whether t is still valid. Callers hold g.mu.
func (t gateTicket) current(userID string) bool {
	return t.gate.gen == t.gen && t.gate.users[userID] == t.user
}

func NewMCPServerService(
	servers ports.MCPServerRepository,
	configs ports.UserServerConfigRepository,
	tools ports.MCPToolRepository,
	tx ports.TransactionManager,
	manager *mcp.Manager,
	factory ports.TransportClientFactory,
	credentials ports.CredentialResolver,
	ids ports.IDGenerator,
	syncer *StatusSyncer,
	logger *slog.Logger,
) *MCPServerService {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MCPServerService{
		servers:     servers,
		configs:     configs,
		tools:       tools,
		tx:          tx,
		manager:     manager,
		factory:     factory,
		credentials: credentials,
		ids:         ids,
		syncer:      syncer,
		logger:      logging.WithComponent(logger, "mcp.service"),
		gates:       make(map[string]*serverGate),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func validateName(name string) error {
	if err := ValidateRequired(name, "server name"); err != nil {
		return err
	}
	return ValidateStringLength(strings.TrimSpace(name), "server name", 1, maxServerNameLength)
}

func (s *MCPServerService) Create(ctx context.Context, ownerID string, in CreateServerInput) (*models.MCPServer, error) {
	if err := ValidateRequired(ownerID, "owner"); err != nil {
		return nil, err
	}
	if err := validateName(in.Name); err != nil {
		return nil, err
	}
	if err := ValidateStringLength(in.Description, "description", 0, maxDescriptionLength); err != nil {
		return nil, err
	}
	if err := ValidateCredentials(in.Credentials); err != nil {
		return nil, err
	}
	if err := in.Transport.Validate(); err != nil {
		return nil, err
	}
	policy := models.DefaultPolicy()
	if in.Policy != nil {
		policy = *in.Policy
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	server := models.NewMCPServer(s.ids.GenerateMCPServerID(), ownerID, strings.TrimSpace(in.Name), in.Transport.Clone(), policy)
	server.Description = in.Description
	server.IsPublic = in.IsPublic
	if in.Enabled != nil {
		server.Enabled = *in.Enabled
	}

	cfg := models.NewUserServerConfig(s.ids.GenerateUserServerConfigID(), ownerID, server.ID)
	if len(in.Credentials) > 0 {
		blob, err := s.credentials.Encrypt(in.Credentials, ownerID)
		if err != nil {
			return nil, fmt.Errorf("encrypt credentials: %w", err)
		}
		cfg.EncryptedCredentials = blob
	}

	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.servers.Create(ctx, server); err != nil {
			return fmt.Errorf("create server: %w", err)
		}
		if err := s.configs.Upsert(ctx, cfg); err != nil {
			return fmt.Errorf("create owner config: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.syncer.Track(server)
	s.logger.Info("server created", logging.ServerIDKey, server.ID, logging.UserIDKey, ownerID, "transport", server.Transport.Kind)
	if server.Enabled {
		g := s.gate(server.ID)
		g.mu.Lock()
		s.reconnectAsync(server, ownerID, g.ticket(ownerID))
		g.mu.Unlock()
	}
	return server, nil
}

// Update persists a patch and applies the configuration change protocol
func (s *MCPServerService) Update(ctx context.Context, ownerID, id string, in UpdateServerInput) (*models.MCPServer, error) {
	if err := ValidateServerIDFormat(id); err != nil {
		return nil, err
	}
	g := s.gate(id)
	g.mu.Lock()
	defer g.mu.Unlock()

	server, err := s.load(ctx, ownerID, id, true)
	if err != nil {
		return nil, err
	}
	before := *server
	before.Transport = server.Transport.Clone()

	if in.Name != nil {
		if err := validateName(*in.Name); err != nil {
			return nil, err
		}
		server.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		if err := ValidateStringLength(*in.Description, "description", 0, maxDescriptionLength); err != nil {
			return nil, err
		}
		server.Description = *in.Description
	}
	if in.Transport != nil {
		if err := in.Transport.Validate(); err != nil {
			return nil, err
		}
		server.Transport = in.Transport.Clone()
	}
	if in.Policy != nil {
		if err := in.Policy.Validate(); err != nil {
			return nil, err
		}
		server.Policy = *in.Policy
	}
	if in.Enabled != nil {
		server.Enabled = *in.Enabled
	}
	if in.IsPublic != nil {
		server.IsPublic = *in.IsPublic
	}
	server.UpdatedAt = time.Now()

	if err := s.servers.Update(ctx, server); err != nil {
		return nil, err
	}
	s.syncer.Track(server)
	s.applyChange(g, &before, server)
	s.reconcile(server)
	return server, nil
}

// applyChange drives the manager after a definition changed. Disabling tears
// every connection down; a transport or policy change rebuilds the owner's
// connection in the background; cosmetic edits need nothing. Callers hold
// g.mu.
func (s *MCPServerService) applyChange(g *serverGate, before, after *models.MCPServer) {
	switch {
	case !after.Enabled:
		g.bump()
		if before.Enabled {
			s.manager.RemoveServer(after.ID)
			s.logger.Info("server disabled", logging.ServerIDKey, after.ID)
		}
	case !before.Enabled || before.TransportChanged(after):
		g.bump()
		s.manager.RemoveServer(after.ID)
		s.reconnectAsync(after, after.OwnerID, g.ticket(after.OwnerID))
	case before.IsPublic && !after.IsPublic:
		for key := range s.manager.AllStatuses() {
			if key.ServerID == after.ID && key.UserID != after.OwnerID {
				_ = s.manager.Remove(key)
			}
		}
	}
}

// SetEnabled toggles a server. For the owner it flips the definition; for
// anyone else it flips their own subscription to a public server.
func (s *MCPServerService) SetEnabled(ctx context.Context, userID, id string, enabled bool) (*models.MCPServer, error) {
	server, err := s.load(ctx, userID, id, false)
	if err != nil {
		return nil, err
	}
	if server.OwnedBy(userID) {
		return s.Update(ctx, userID, id, UpdateServerInput{Enabled: &enabled})
	}

	g := s.gate(server.ID)
	g.mu.Lock()
	defer g.mu.Unlock()
	cfg, err := s.userConfig(ctx, userID, server.ID)
	if err != nil {
		return nil, err
	}
	cfg.Enabled = enabled
	cfg.UpdatedAt = time.Now()
	if err := s.configs.Upsert(ctx, cfg); err != nil {
		return nil, err
	}
	if !enabled {
		g.bumpUser(userID)
		_ = s.manager.Remove(mcp.Key{UserID: userID, ServerID: server.ID})
	}
	s.reconcile(server)
	return server, nil
}

func (s *MCPServerService) Delete(ctx context.Context, ownerID, id string) error {
	if err := ValidateServerIDFormat(id); err != nil {
		return err
	}
	g := s.gate(id)
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := s.load(ctx, ownerID, id, true); err != nil {
		return err
	}
	g.bump()
	s.manager.RemoveServer(id)
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		_, err := s.servers.Delete(ctx, id)
		return err
	})
	if err != nil {
		return err
	}
	s.syncer.Forget(id)
	s.dropGate(id)
	s.logger.Info("server deleted", logging.ServerIDKey, id, logging.UserIDKey, ownerID)
	return nil
}

func (s *MCPServerService) Get(ctx context.Context, userID, id string) (*models.MCPServer, error) {
	server, err := s.load(ctx, userID, id, false)
	if err != nil {
		return nil, err
	}
	s.reconcile(server)
	return server, nil
}

// List returns the caller's servers and every public server
func (s *MCPServerService) List(ctx context.Context, userID string) ([]*models.MCPServer, error) {
	servers, err := s.servers.List(ctx, models.ServerFilter{OwnerID: userID, IncludePublic: true})
	if err != nil {
		return nil, err
	}
	for _, server := range servers {
		s.reconcile(server)
	}
	return servers, nil
}

// reconcile overwrites the persisted status fields with the live ones and
// queues a store correction when they disagreed
func (s *MCPServerService) reconcile(server *models.MCPServer) {
	s.syncer.Track(server)
	result := s.manager.Reconcile(server)
	if result.Changed {
		s.syncer.Correct(server, result)
	}
	result.Apply(server)
}

func (s *MCPServerService) Action(ctx context.Context, userID, id, action string) (*ActionResult, error) {
	server, err := s.load(ctx, userID, id, false)
	if err != nil {
		return nil, err
	}
	key := mcp.Key{UserID: userID, ServerID: server.ID}
	result := &ActionResult{Action: action}

	switch action {
	case ActionConnect, ActionReconnect:
		if err := s.registerCurrent(ctx, userID, id, action == ActionReconnect); err != nil {
			return nil, err
		}
		status, err := s.manager.Connect(ctx, key)
		if err != nil && !isConnectFailure(err) {
			return nil, err
		}
		result.Status = status
	case ActionDisconnect:
		_ = s.manager.Disconnect(key)
		result.Status = s.manager.Status(key)
	case ActionTest:
		test, err := s.test(ctx, server, userID)
		if err != nil {
			return nil, err
		}
		result.Test = test
		result.Status = s.manager.Status(key)
	default:
		return nil, domain.NewDomainError(domain.ErrInvalidInput, fmt.Sprintf("unknown action %q", action))
	}
	return result, nil
}

// registerCurrent registers userID's connection from the stored definition.
// It runs under the server's gate so a concurrent disable or transport change
// cannot be overtaken by a registration built from the older definition.
func (s *MCPServerService) registerCurrent(ctx context.Context, userID, id string, replace bool) error {
	g := s.gate(id)
	g.mu.Lock()
	defer g.mu.Unlock()

	server, err := s.load(ctx, userID, id, false)
	if err != nil {
		return err
	}
	if !server.Enabled {
		return domain.NewDomainError(domain.ErrServerDisabled, server.ID)
	}
	reg, err := s.registration(ctx, server, userID)
	if err != nil {
		return err
	}
	if err := s.manager.Register(ctx, reg, replace); err != nil && !errors.Is(err, domain.ErrAlreadyManaged) {
		return err
	}
	return nil
}

// isConnectFailure reports errors that end up in the entry's error status
// rather than being returned to the caller
func isConnectFailure(err error) bool {
	return domain.IsConnectionFailure(err) || errors.Is(err, domain.ErrToolListing) || errors.Is(err, domain.ErrCredentialsInvalid)
}

// test dials a throwaway client that the manager never sees
func (s *MCPServerService) test(ctx context.Context, server *models.MCPServer, userID string) (*TestResult, error) {
	transport, err := s.transportFor(ctx, server, userID)
	if err != nil {
		return &TestResult{Error: err.Error()}, nil
	}
	client, err := s.factory.NewClient(transport)
	if err != nil {
		return nil, err
	}

	timeout := server.Policy.Timeout
	if timeout <= 0 {
		timeout = models.DefaultPolicy().Timeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result := &TestResult{}
	if err := client.Connect(tctx); err != nil {
		result.Error = mcp.Classify(err).Error()
		result.LatencyMs = time.Since(start).Milliseconds()
		return result, nil
	}
	defer func() {
		if err := client.Disconnect(); err != nil {
			s.logger.Debug("close test client", logging.ServerIDKey, server.ID, "error", err)
		}
	}()

	tools, err := client.ListTools(tctx)
	result.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}
	result.Success = true
	result.Tools = tools
	result.ToolCount = len(tools)
	return result, nil
}

// SetCredentials stores the caller's credentials for a server and rebuilds a
// live connection so the new values take effect
func (s *MCPServerService) SetCredentials(ctx context.Context, userID, id string, creds map[string]string) error {
	if err := ValidateCredentials(creds); err != nil {
		return err
	}
	server, err := s.load(ctx, userID, id, false)
	if err != nil {
		return err
	}
	cfg, err := s.userConfig(ctx, userID, server.ID)
	if err != nil {
		return err
	}
	blob, err := s.credentials.Encrypt(creds, userID)
	if err != nil {
		return fmt.Errorf("encrypt credentials: %w", err)
	}
	cfg.EncryptedCredentials = blob
	cfg.UpdatedAt = time.Now()
	if err := s.configs.Upsert(ctx, cfg); err != nil {
		return err
	}

	key := mcp.Key{UserID: userID, ServerID: server.ID}
	if st := s.manager.Status(key); st.Managed && server.Enabled {
		g := s.gate(server.ID)
		g.mu.Lock()
		s.reconnectAsync(server, userID, g.ticket(userID))
		g.mu.Unlock()
	}
	return nil
}

// SetToolEnabled records a per-user override. The owner's choice is also
// stored on the mirrored tool record.
func (s *MCPServerService) SetToolEnabled(ctx context.Context, userID, id, tool string, enabled bool) error {
	if err := ValidateRequired(tool, "tool name"); err != nil {
		return err
	}
	if err := ValidateStringLength(tool, "tool name", 1, maxToolNameLength); err != nil {
		return err
	}
	server, err := s.load(ctx, userID, id, false)
	if err != nil {
		return err
	}
	cfg, err := s.userConfig(ctx, userID, server.ID)
	if err != nil {
		return err
	}
	cfg.SetToolEnabled(tool, enabled)
	if err := s.configs.Upsert(ctx, cfg); err != nil {
		return err
	}
	if server.OwnedBy(userID) {
		if err := s.tools.SetEnabled(ctx, server.ID, tool, enabled); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}
	return nil
}

// ListTools returns the mirrored tools of a server with the caller's
// overrides applied to Enabled
func (s *MCPServerService) ListTools(ctx context.Context, userID, id string) ([]*models.MCPTool, error) {
	server, err := s.load(ctx, userID, id, false)
	if err != nil {
		return nil, err
	}
	tools, err := s.tools.ListByServer(ctx, server.ID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.configs.Get(ctx, userID, server.ID)
	if err != nil && !errors.Is(err, domain.ErrUserConfigNotFound) {
		return nil, err
	}
	for _, t := range tools {
		t.Enabled = t.Enabled && cfg.ToolEnabled(t.Name)
	}
	return tools, nil
}

func (s *MCPServerService) Dashboard(ctx context.Context, userID string) (*Dashboard, error) {
	servers, err := s.List(ctx, userID)
	if err != nil {
		return nil, err
	}

	d := &Dashboard{ByStatus: map[models.ConnectionStatus]int{
		models.ConnectionStatusDisconnected: 0,
		models.ConnectionStatusConnecting:   0,
		models.ConnectionStatusConnected:    0,
		models.ConnectionStatusError:        0,
	}}
	ids := make([]string, 0, len(servers))
	for _, server := range servers {
		d.TotalServers++
		if server.Enabled {
			d.EnabledServers++
		}
		d.ByStatus[server.ConnectionStatus]++
		ids = append(ids, server.ID)

		tools, err := s.tools.ListByServer(ctx, server.ID)
		if err != nil {
			return nil, err
		}
		d.TotalTools += len(tools)
		for _, t := range tools {
			if t.Enabled {
				d.EnabledTools++
			}
		}
	}

	for key, st := range s.manager.AllStatuses() {
		if key.UserID == userID && st.Status == models.ConnectionStatusConnected {
			d.ActiveConnections++
		}
	}
	d.Latency = s.manager.LatencyStats(ids...)
	return d, nil
}

// Bootstrap reconciles every persisted status against the empty manager and
// starts background connects for enabled servers
func (s *MCPServerService) Bootstrap(ctx context.Context) (int, error) {
	servers, err := s.servers.List(ctx, models.ServerFilter{})
	if err != nil {
		return 0, err
	}
	started := 0
	for _, server := range servers {
		s.reconcile(server)
		if server.Enabled {
			g := s.gate(server.ID)
			g.mu.Lock()
			s.reconnectAsync(server, server.OwnerID, g.ticket(server.OwnerID))
			g.mu.Unlock()
			started++
		}
	}
	s.logger.Info("bootstrap complete", "servers", len(servers), "connecting", started)
	return started, nil
}

// SyncStaticServers makes the system-owned servers match defs by name:
// missing ones are created, changed ones updated, stale ones deleted
func (s *MCPServerService) SyncStaticServers(ctx context.Context, defs []StaticServer) error {
	existing, err := s.servers.List(ctx, models.ServerFilter{OwnerID: models.SystemOwnerID})
	if err != nil {
		return err
	}
	byName := make(map[string]*models.MCPServer, len(existing))
	for _, server := range existing {
		byName[server.Name] = server
	}

	var errs []error
	wanted := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		wanted[def.Name] = struct{}{}
		enabled := def.Enabled
		policy := def.Policy
		transport := def.Transport

		current, ok := byName[def.Name]
		if !ok {
			_, err := s.Create(ctx, models.SystemOwnerID, CreateServerInput{
				Name:        def.Name,
				Description: def.Description,
				Transport:   transport,
				Policy:      &policy,
				Enabled:     &enabled,
				IsPublic:    true,
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("static server %s: %w", def.Name, err))
			}
			continue
		}

		if current.Transport.Equal(transport) && current.Policy == policy &&
			current.Enabled == enabled && current.Description == def.Description && current.IsPublic {
			continue
		}
		public := true
		_, err := s.Update(ctx, models.SystemOwnerID, current.ID, UpdateServerInput{
			Description: &def.Description,
			Transport:   &transport,
			Policy:      &policy,
			Enabled:     &enabled,
			IsPublic:    &public,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("static server %s: %w", def.Name, err))
		}
	}

	for name, server := range byName {
		if _, ok := wanted[name]; ok {
			continue
		}
		if err := s.Delete(ctx, models.SystemOwnerID, server.ID); err != nil {
			errs = append(errs, fmt.Errorf("remove static server %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Close waits for background connects. When ctx expires they are cancelled.
func (s *MCPServerService) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

// Wait blocks until all background work started so far has finished
func (s *MCPServerService) Wait() {
	s.wg.Wait()
}

// reconnectAsync replaces userID's connection to server with a fresh one in
// a detached task. Its outcome is only observable through the manager. The
// task gives up when a later change invalidated t before it registered.
func (s *MCPServerService) reconnectAsync(server *models.MCPServer, userID string, t gateTicket) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	snapshot := *server
	snapshot.Transport = server.Transport.Clone()
	go func() {
		defer s.wg.Done()
		ctx := s.ctx
		key := mcp.Key{UserID: userID, ServerID: snapshot.ID}
		logger := s.logger.With(logging.KeyKey, key.String())

		reg, err := s.registration(ctx, &snapshot, userID)
		if err != nil {
			logger.Warn("background connect skipped", "error", err)
			return
		}

		t.gate.mu.Lock()
		if !t.current(userID) {
			t.gate.mu.Unlock()
			logger.Debug("background connect superseded")
			return
		}
		err = s.manager.Register(ctx, reg, true)
		t.gate.mu.Unlock()
		if err != nil {
			logger.Warn("background register failed", "error", err)
			return
		}
		if _, err := s.manager.Connect(ctx, key); err != nil {
			logger.Info("background connect failed", "error", err)
		}
	}()
}

func (s *MCPServerService) gate(serverID string) *serverGate {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gates[serverID]
	if !ok {
		g = &serverGate{}
		s.gates[serverID] = g
	}
	return g
}

// dropGate forgets a deleted server. Tasks still holding its gate see the
// bumped generation.
func (s *MCPServerService) dropGate(serverID string) {
	s.mu.Lock()
	delete(s.gates, serverID)
	s.mu.Unlock()
}

func (s *MCPServerService) registration(ctx context.Context, server *models.MCPServer, userID string) (mcp.Registration, error) {
	transport, err := s.transportFor(ctx, server, userID)
	if err != nil {
		return mcp.Registration{}, err
	}
	return mcp.Registration{
		Key:        mcp.Key{UserID: userID, ServerID: server.ID},
		ServerName: server.Name,
		Transport:  transport,
		Policy:     server.Policy,
	}, nil
}

// transportFor merges userID's decrypted credentials into the server transport
func (s *MCPServerService) transportFor(ctx context.Context, server *models.MCPServer, userID string) (models.Transport, error) {
	cfg, err := s.configs.Get(ctx, userID, server.ID)
	if err != nil {
		if errors.Is(err, domain.ErrUserConfigNotFound) {
			return server.Transport.Clone(), nil
		}
		return models.Transport{}, err
	}
	if !cfg.HasCredentials() {
		return server.Transport.Clone(), nil
	}
	creds, err := s.credentials.Decrypt(cfg.EncryptedCredentials, userID)
	if err != nil {
		return models.Transport{}, err
	}
	return server.Transport.WithCredentials(creds), nil
}

func (s *MCPServerService) userConfig(ctx context.Context, userID, serverID string) (*models.UserServerConfig, error) {
	cfg, err := s.configs.Get(ctx, userID, serverID)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, domain.ErrUserConfigNotFound) {
		return nil, err
	}
	return models.NewUserServerConfig(s.ids.GenerateUserServerConfigID(), userID, serverID), nil
}

// load fetches a server the caller may see, or modify when write is set.
// Anything else is reported as not found.
func (s *MCPServerService) load(ctx context.Context, userID, id string, write bool) (*models.MCPServer, error) {
	if err := ValidateServerIDFormat(id); err != nil {
		return nil, err
	}
	server, err := s.servers.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !server.VisibleTo(userID) || (write && !server.OwnedBy(userID)) {
		return nil, domain.NewDomainError(domain.ErrMCPServerNotFound, id)
	}
	return server, nil
}
