package services

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/longregen/mcphub/internal/adapters/credentials"
	"github.com/longregen/mcphub/internal/adapters/mcp"
	"github.com/longregen/mcphub/internal/domain"
	"github.com/longregen/mcphub/internal/domain/models"
	"github.com/longregen/mcphub/internal/ports"
)

// Shared fakes for testing

type mockIDGenerator struct {
	server atomic.Int32
	tool   atomic.Int32
	config atomic.Int32
}

func (m *mockIDGenerator) GenerateMCPServerID() string {
	return fmt.Sprintf("amcp_test%d", m.server.Add(1))
}

func (m *mockIDGenerator) GenerateMCPToolID() string {
	return fmt.Sprintf("amct_test%d", m.tool.Add(1))
}

func (m *mockIDGenerator) GenerateUserServerConfigID() string {
	return fmt.Sprintf("amuc_test%d", m.config.Add(1))
}

type mockTransactionManager struct{}

func (m *mockTransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	// Simply execute the function without actual transaction management
	return fn(ctx)
}

func copyServer(s *models.MCPServer) *models.MCPServer {
	c := *s
	c.Transport = s.Transport.Clone()
	return &c
}

type memServerRepo struct {
	mu      sync.Mutex
	servers map[string]*models.MCPServer
	order   []string
}

func newMemServerRepo() *memServerRepo {
	return &memServerRepo{servers: make(map[string]*models.MCPServer)}
}

func (r *memServerRepo) Create(ctx context.Context, s *models.MCPServer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers[s.ID] = copyServer(s)
	r.order = append(r.order, s.ID)
	return nil
}

func (r *memServerRepo) GetByID(ctx context.Context, id string) (*models.MCPServer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.servers[id]
	if !ok || s.DeletedAt != nil {
		return nil, domain.NewDomainError(domain.ErrMCPServerNotFound, id)
	}
	return copyServer(s), nil
}

func (r *memServerRepo) List(ctx context.Context, filter models.ServerFilter) ([]*models.MCPServer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.MCPServer
	for _, id := range r.order {
		s := r.servers[id]
		if s.DeletedAt != nil {
			continue
		}
		if filter.OwnerID != "" && s.OwnerID != filter.OwnerID && !(filter.IncludePublic && s.IsPublic) {
			continue
		}
		if filter.EnabledOnly && !s.Enabled {
			continue
		}
		out = append(out, copyServer(s))
	}
	return out, nil
}

func (r *memServerRepo) Update(ctx context.Context, s *models.MCPServer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.servers[s.ID]
	if !ok || cur.DeletedAt != nil {
		return domain.NewDomainError(domain.ErrMCPServerNotFound, s.ID)
	}
	next := copyServer(s)
	next.ConnectionStatus = cur.ConnectionStatus
	next.LastError = cur.LastError
	next.LastConnectedAt = cur.LastConnectedAt
	r.servers[s.ID] = next
	return nil
}

func (r *memServerRepo) UpdateStatus(ctx context.Context, id string, status models.ConnectionStatus, lastError string, lastConnectedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.servers[id]
	if !ok || s.DeletedAt != nil {
		return domain.NewDomainError(domain.ErrMCPServerNotFound, id)
	}
	s.SetStatus(status, lastError, lastConnectedAt)
	return nil
}

func (r *memServerRepo) Delete(ctx context.Context, id string) (*models.MCPServer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.servers[id]
	if !ok || s.DeletedAt != nil {
		return nil, domain.NewDomainError(domain.ErrMCPServerNotFound, id)
	}
	now := time.Now()
	s.DeletedAt = &now
	return copyServer(s), nil
}

func (r *memServerRepo) status(id string) models.ConnectionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.servers[id].ConnectionStatus
}

func (r *memServerRepo) setStatus(id string, status models.ConnectionStatus, lastError string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers[id].ConnectionStatus = status
	r.servers[id].LastError = lastError
}

type memConfigRepo struct {
	mu      sync.Mutex
	configs map[string]*models.UserServerConfig

	// held, when set, receives a channel per Get; the Get waits until it is closed
	held chan chan struct{}
}

func newMemConfigRepo() *memConfigRepo {
	return &memConfigRepo{configs: make(map[string]*models.UserServerConfig)}
}

func configKey(userID, serverID string) string { return userID + "/" + serverID }

func copyConfig(c *models.UserServerConfig) *models.UserServerConfig {
	out := *c
	out.ToolOverrides = maps.Clone(c.ToolOverrides)
	out.EncryptedCredentials = slices.Clone(c.EncryptedCredentials)
	return &out
}

// holdGets parks every later Get until the test closes the channel it
// publishes. Background connects read the config first, so this pauses them
// before they register.
func (r *memConfigRepo) holdGets() <-chan chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.held = make(chan chan struct{}, 8)
	return r.held
}

func (r *memConfigRepo) releaseGets() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.held = nil
}

func (r *memConfigRepo) Get(ctx context.Context, userID, serverID string) (*models.UserServerConfig, error) {
	r.mu.Lock()
	held := r.held
	r.mu.Unlock()
	if held != nil {
		wait := make(chan struct{})
		held <- wait
		<-wait
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.configs[configKey(userID, serverID)]
	if !ok {
		return nil, domain.NewDomainError(domain.ErrUserConfigNotFound, configKey(userID, serverID))
	}
	return copyConfig(c), nil
}

func (r *memConfigRepo) ListEnabledByUser(ctx context.Context, userID string) ([]*models.UserServerConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.UserServerConfig
	for _, c := range r.configs {
		if c.UserID == userID && c.Enabled {
			out = append(out, copyConfig(c))
		}
	}
	slices.SortFunc(out, func(a, b *models.UserServerConfig) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (r *memConfigRepo) Upsert(ctx context.Context, cfg *models.UserServerConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[configKey(cfg.UserID, cfg.ServerID)] = copyConfig(cfg)
	return nil
}

func (r *memConfigRepo) Delete(ctx context.Context, userID, serverID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.configs, configKey(userID, serverID))
	return nil
}

type memToolRepo struct {
	mu    sync.Mutex
	tools map[string][]*models.MCPTool
}

func newMemToolRepo() *memToolRepo {
	return &memToolRepo{tools: make(map[string][]*models.MCPTool)}
}

func (r *memToolRepo) ReplaceTools(ctx context.Context, serverID string, tools []*models.MCPTool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[serverID] = slices.Clone(tools)
	return nil
}

func (r *memToolRepo) ListByServer(ctx context.Context, serverID string) ([]*models.MCPTool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.MCPTool, 0, len(r.tools[serverID]))
	for _, t := range r.tools[serverID] {
		c := *t
		out = append(out, &c)
	}
	return out, nil
}

func (r *memToolRepo) SetEnabled(ctx context.Context, serverID, name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tools[serverID] {
		if t.Name == name {
			t.Enabled = enabled
			return nil
		}
	}
	return domain.NewDomainError(domain.ErrNotFound, name)
}

func (r *memToolRepo) names(serverID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, t := range r.tools[serverID] {
		out = append(out, t.Name)
	}
	return out
}

// fakeRemote describes how a fake server at one target behaves
type fakeRemote struct {
	tools      []string
	connectErr error
}

type fakeTransportClient struct {
	target    string
	remote    fakeRemote
	connected atomic.Bool
	closed    atomic.Bool
}

func (c *fakeTransportClient) Connect(ctx context.Context) error {
	if c.remote.connectErr != nil {
		return c.remote.connectErr
	}
	c.connected.Store(true)
	return nil
}

func (c *fakeTransportClient) Disconnect() error {
	c.connected.Store(false)
	c.closed.Store(true)
	return nil
}

func (c *fakeTransportClient) IsConnected() bool {
	return c.connected.Load()
}

func (c *fakeTransportClient) ListTools(ctx context.Context) ([]models.ToolInfo, error) {
	if !c.connected.Load() {
		return nil, domain.ErrNotConnected
	}
	out := make([]models.ToolInfo, 0, len(c.remote.tools))
	for _, name := range c.remote.tools {
		out = append(out, models.ToolInfo{Name: name, Description: name + " tool"})
	}
	return out, nil
}

type fakeTransportFactory struct {
	mu      sync.Mutex
	remotes map[string]fakeRemote
	clients []*fakeTransportClient
}

func newFakeTransportFactory() *fakeTransportFactory {
	return &fakeTransportFactory{remotes: make(map[string]fakeRemote)}
}

func (f *fakeTransportFactory) set(target string, r fakeRemote) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remotes[target] = r
}

func (f *fakeTransportFactory) NewClient(t models.Transport) (ports.TransportClient, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeTransportClient{target: t.Target(), remote: f.remotes[t.Target()]}
	f.clients = append(f.clients, c)
	return c, nil
}

func (f *fakeTransportFactory) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *fakeTransportFactory) targets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.clients))
	for _, c := range f.clients {
		out = append(out, c.target)
	}
	return out
}

func (f *fakeTransportFactory) last() *fakeTransportClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clients) == 0 {
		return nil
	}
	return f.clients[len(f.clients)-1]
}

func fastPolicy() *models.Policy {
	return &models.Policy{MaxRetries: 0, RetryDelay: models.MinRetryDelay, Timeout: models.MinTimeout}
}

type serviceFixture struct {
	servers  *memServerRepo
	configs  *memConfigRepo
	tools    *memToolRepo
	factory  *fakeTransportFactory
	manager  *mcp.Manager
	syncer   *StatusSyncer
	resolver *credentials.Resolver
	svc      *MCPServerService
}

func newServiceFixture() *serviceFixture {
	f := &serviceFixture{
		servers: newMemServerRepo(),
		configs: newMemConfigRepo(),
		tools:   newMemToolRepo(),
		factory: newFakeTransportFactory(),
	}
	ids := &mockIDGenerator{}
	f.manager = mcp.NewManager(f.factory, mcp.Options{IdleTimeout: -1})
	f.syncer = NewStatusSyncer(f.servers, f.tools, ids, SyncerOptions{WritesPerSecond: 1000})
	f.manager.OnStatusChange(f.syncer.Observe)
	f.resolver, _ = credentials.NewResolver(make([]byte, 32))
	f.svc = NewMCPServerService(f.servers, f.configs, f.tools, &mockTransactionManager{},
		f.manager, f.factory, f.resolver, ids, f.syncer, nil)
	return f
}

// settle waits for background connects and pending status writes
func (f *serviceFixture) settle() {
	f.svc.Wait()
	_ = f.syncer.Flush(context.Background())
}

func (f *serviceFixture) close() {
	ctx := context.Background()
	_ = f.svc.Close(ctx)
	_ = f.manager.Close(ctx)
	_ = f.syncer.Close(ctx)
}
