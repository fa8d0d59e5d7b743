package mcp

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/longregen/mcphub/internal/domain"
	"github.com/longregen/mcphub/internal/domain/models"
	"github.com/longregen/mcphub/internal/ports"
)

// behavior scripts the fake server reachable at one transport target
type behavior struct {
	tools        []string
	connectErr   error
	connectDelay time.Duration
	listErr      error
	closeErr     error
}

type fakeClient struct {
	target    string
	transport models.Transport
	b         behavior

	mu           sync.Mutex
	connected    bool
	connects     int
	disconnects  int
	forceOffline bool
}

func (c *fakeClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.connects++
	c.mu.Unlock()

	if c.b.connectDelay > 0 {
		select {
		case <-time.After(c.b.connectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if c.b.connectErr != nil {
		return c.b.connectErr
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) Disconnect() error {
	c.mu.Lock()
	c.connected = false
	c.disconnects++
	c.mu.Unlock()
	return c.b.closeErr
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.forceOffline
}

func (c *fakeClient) ListTools(ctx context.Context) ([]models.ToolInfo, error) {
	if !c.IsConnected() {
		return nil, domain.ErrNotConnected
	}
	if c.b.listErr != nil {
		return nil, c.b.listErr
	}
	out := make([]models.ToolInfo, 0, len(c.b.tools))
	for _, name := range c.b.tools {
		out = append(out, models.ToolInfo{Name: name, Description: name + " tool"})
	}
	return out, nil
}

func (c *fakeClient) disconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

type fakeFactory struct {
	mu        sync.Mutex
	behaviors map[string]behavior
	clients   []*fakeClient
	created   atomic.Int32
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{behaviors: make(map[string]behavior)}
}

func (f *fakeFactory) set(target string, b behavior) {
	f.mu.Lock()
	f.behaviors[target] = b
	f.mu.Unlock()
}

func (f *fakeFactory) NewClient(t models.Transport) (ports.TransportClient, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	target := t.Target()
	b, ok := f.behaviors[target]
	if !ok {
		b = behavior{connectErr: errors.New("no fake server at " + target)}
	}
	c := &fakeClient{target: target, transport: t.Clone(), b: b}
	f.clients = append(f.clients, c)
	f.created.Add(1)
	return c, nil
}

func (f *fakeFactory) allClients() []*fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeClient(nil), f.clients...)
}

func (f *fakeFactory) lastClient() *fakeClient {
	clients := f.allClients()
	if len(clients) == 0 {
		return nil
	}
	return clients[len(clients)-1]
}

func streamReg(user, server, url string) Registration {
	return Registration{
		Key:        Key{UserID: user, ServerID: server},
		ServerName: server,
		Transport:  models.NewStreamTransport(url, nil),
		Policy:     models.Policy{MaxRetries: 0, RetryDelay: 10 * time.Millisecond, Timeout: time.Second},
	}
}

func toolNames(tools []models.ToolInfo) []string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	return names
}

// in-memory registry fakes for the aggregator

type memServers struct {
	mu      sync.Mutex
	servers map[string]*models.MCPServer
}

func (r *memServers) Create(ctx context.Context, s *models.MCPServer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.servers == nil {
		r.servers = make(map[string]*models.MCPServer)
	}
	r.servers[s.ID] = s
	return nil
}

func (r *memServers) GetByID(ctx context.Context, id string) (*models.MCPServer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.servers[id]
	if !ok {
		return nil, domain.ErrMCPServerNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memServers) List(ctx context.Context, filter models.ServerFilter) ([]*models.MCPServer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.MCPServer
	for _, s := range r.servers {
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memServers) Update(ctx context.Context, s *models.MCPServer) error {
	return r.Create(ctx, s)
}

func (r *memServers) UpdateStatus(ctx context.Context, id string, status models.ConnectionStatus, lastError string, lastConnectedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.servers[id]
	if !ok {
		return domain.ErrMCPServerNotFound
	}
	s.SetStatus(status, lastError, lastConnectedAt)
	return nil
}

func (r *memServers) Delete(ctx context.Context, id string) (*models.MCPServer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.servers[id]
	if !ok {
		return nil, domain.ErrMCPServerNotFound
	}
	delete(r.servers, id)
	return s, nil
}

type memConfigs struct {
	configs []*models.UserServerConfig
	listErr error
}

func (r *memConfigs) Get(ctx context.Context, userID, serverID string) (*models.UserServerConfig, error) {
	for _, c := range r.configs {
		if c.UserID == userID && c.ServerID == serverID {
			return c, nil
		}
	}
	return nil, domain.ErrUserConfigNotFound
}

func (r *memConfigs) ListEnabledByUser(ctx context.Context, userID string) ([]*models.UserServerConfig, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []*models.UserServerConfig
	for _, c := range r.configs {
		if c.UserID == userID && c.Enabled {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memConfigs) Upsert(ctx context.Context, cfg *models.UserServerConfig) error {
	r.configs = append(r.configs, cfg)
	return nil
}

func (r *memConfigs) Delete(ctx context.Context, userID, serverID string) error {
	return nil
}

// plainResolver treats the blob as "key=value" and rejects other owners
type plainResolver struct{}

func (plainResolver) Decrypt(blob []byte, ownerID string) (map[string]string, error) {
	s := string(blob)
	if s == "corrupt" {
		return nil, domain.ErrCredentialsInvalid
	}
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return map[string]string{s[:i]: s[i+1:]}, nil
		}
	}
	return nil, domain.ErrCredentialsInvalid
}

func (plainResolver) Encrypt(creds map[string]string, ownerID string) ([]byte, error) {
	for k, v := range creds {
		return []byte(k + "=" + v), nil
	}
	return nil, nil
}
