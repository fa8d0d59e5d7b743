package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/longregen/mcphub/internal/adapters/metrics"
	"github.com/longregen/mcphub/internal/adapters/retry"
	"github.com/longregen/mcphub/internal/domain"
	"github.com/longregen/mcphub/internal/domain/models"
	"github.com/longregen/mcphub/internal/logging"
	"github.com/longregen/mcphub/internal/ports"
)

const DefaultIdleTimeout = 30 * time.Minute

// Key identifies one user's link to one server
type Key struct {
	UserID   string
	ServerID string
}

func (k Key) String() string {
	return k.UserID + ":" + k.ServerID
}

// ParseKey is the inverse of Key.String
func ParseKey(s string) (Key, error) {
	user, server, ok := strings.Cut(s, ":")
	if !ok || user == "" || server == "" {
		return Key{}, domain.NewDomainError(domain.ErrInvalidID, fmt.Sprintf("malformed connection key %q", s))
	}
	return Key{UserID: user, ServerID: server}, nil
}

// OwnerKey is the key whose state is mirrored into the server's persisted status
func OwnerKey(server *models.MCPServer) Key {
	return Key{UserID: server.OwnerID, ServerID: server.ID}
}

// Registration is everything the manager needs to connect a key
type Registration struct {
	Key        Key
	ServerName string
	Transport  models.Transport
	Policy     models.Policy
}

// Status is a point-in-time view of one managed connection
type Status struct {
	Key             Key                     `json:"-"`
	ServerID        string                  `json:"server_id"`
	ServerName      string                  `json:"server_name,omitempty"`
	Status          models.ConnectionStatus `json:"status"`
	RetryCount      int                     `json:"retry_count"`
	LastError       string                  `json:"last_error,omitempty"`
	ToolError       string                  `json:"tool_error,omitempty"`
	Tools           []models.ToolInfo       `json:"tools"`
	LastConnectedAt *time.Time              `json:"last_connected_at,omitempty"`
	Managed         bool                    `json:"managed"`
}

func unmanagedStatus(key Key) Status {
	return Status{
		Key:      key,
		ServerID: key.ServerID,
		Status:   models.ConnectionStatusDisconnected,
		Tools:    []models.ToolInfo{},
	}
}

// StatusChange describes one transition. From is empty when the key entered
// management and To is empty when it left.
type StatusChange struct {
	Key    Key
	From   models.ConnectionStatus
	To     models.ConnectionStatus
	Status Status
}

type StatusListener func(StatusChange)

type Options struct {
	IdleTimeout time.Duration
	Logger      *slog.Logger
	Tracer      trace.Tracer
}

// Manager owns every live transport client. Structural changes to the map
// take mu; per-key state is guarded by each entry's own lock and busy flag.
type Manager struct {
	mu     sync.RWMutex
	conns  map[Key]*managedConnection
	closed bool

	factory     ports.TransportClientFactory
	idleTimeout time.Duration
	logger      *slog.Logger
	tracer      trace.Tracer
	latency     *latencyTracker

	listenersMu sync.RWMutex
	listeners   []StatusListener
}

type managedConnection struct {
	mu  sync.Mutex
	key Key
	reg Registration

	client          ports.TransportClient
	status          models.ConnectionStatus
	retryCount      int
	lastError       string
	toolError       string
	lastConnectedAt *time.Time
	tools           []models.ToolInfo

	// busy is the per-key operation lock; done is closed when it clears
	busy              bool
	done              chan struct{}
	pendingDisconnect bool
	removed           bool

	idle    *time.Timer
	idleGen uint64
}

func NewManager(factory ports.TransportClientFactory, opts Options) *Manager {
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("mcp")
	}
	return &Manager{
		conns:       make(map[Key]*managedConnection),
		factory:     factory,
		idleTimeout: opts.IdleTimeout,
		logger:      logging.WithComponent(opts.Logger, "mcp.manager"),
		tracer:      opts.Tracer,
		latency:     newLatencyTracker(),
	}
}

// OnStatusChange subscribes fn to every transition. Listeners run on the
// goroutine that caused the transition and must not block.
func (m *Manager) OnStatusChange(fn StatusListener) {
	m.listenersMu.Lock()
	m.listeners = append(m.listeners, fn)
	m.listenersMu.Unlock()
}

func (m *Manager) emit(changes ...StatusChange) {
	if len(changes) == 0 {
		return
	}
	m.listenersMu.RLock()
	listeners := slices.Clone(m.listeners)
	m.listenersMu.RUnlock()

	for _, ch := range changes {
		metrics.RecordTransition(string(ch.From), string(ch.To))
		if ch.From != "" && ch.To != "" {
			if err := models.ValidateTransition(ch.From, ch.To); err != nil {
				m.logger.Warn("unexpected status transition", logging.KeyKey, ch.Key.String(), "error", err)
			}
		}
		m.logger.Debug("connection status changed",
			logging.KeyKey, ch.Key.String(),
			"from", ch.From,
			"to", ch.To,
		)
		for _, fn := range listeners {
			fn(ch)
		}
	}
}

func (m *Manager) get(key Key) *managedConnection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conns[key]
}

// Register installs an entry without connecting. With replace, an existing
// entry is fully torn down first, waiting for any in-flight connect.
func (m *Manager) Register(ctx context.Context, reg Registration, replace bool) error {
	return m.register(ctx, reg, func(*managedConnection) bool { return replace })
}

// register installs reg. An existing entry is replaced only when replace
// reports true for it; the decision is taken under the map lock.
func (m *Manager) register(ctx context.Context, reg Registration, replace func(*managedConnection) bool) error {
	if reg.Key.UserID == "" || reg.Key.ServerID == "" {
		return domain.NewDomainError(domain.ErrInvalidInput, "connection key requires user and server")
	}
	if err := reg.Transport.Validate(); err != nil {
		return err
	}
	reg.Policy = normalizePolicy(reg.Policy)
	reg.Transport = reg.Transport.Clone()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.ErrManagerClosed
	}
	if old, ok := m.conns[reg.Key]; ok {
		if !replace(old) {
			m.mu.Unlock()
			return domain.NewDomainError(domain.ErrAlreadyManaged, reg.Key.String())
		}
		delete(m.conns, reg.Key)
		m.mu.Unlock()

		if done := m.teardown(old); done != nil {
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		m.mu.Lock()
		if _, raced := m.conns[reg.Key]; raced {
			m.mu.Unlock()
			return domain.NewDomainError(domain.ErrAlreadyManaged, reg.Key.String())
		}
		if m.closed {
			m.mu.Unlock()
			return domain.ErrManagerClosed
		}
	}

	mc := &managedConnection{
		key:    reg.Key,
		reg:    reg,
		status: models.ConnectionStatusDisconnected,
	}
	m.conns[reg.Key] = mc
	m.mu.Unlock()

	m.touch(mc)
	m.emit(StatusChange{Key: reg.Key, To: models.ConnectionStatusDisconnected, Status: mc.snapshot()})
	return nil
}

// EnsureConnected registers reg if needed and connects it unless already
// connected. An entry with a different transport or policy is replaced. An
// in-flight connect started by someone else is awaited rather than rejected.
func (m *Manager) EnsureConnected(ctx context.Context, reg Registration) (Status, error) {
	if err := m.register(ctx, reg, func(mc *managedConnection) bool { return !mc.serves(reg) }); err != nil &&
		!errors.Is(err, domain.ErrAlreadyManaged) {
		return unmanagedStatus(reg.Key), err
	}

	status, err := m.Connect(ctx, reg.Key)
	switch {
	case errors.Is(err, domain.ErrAlreadyConnected):
		return m.Status(reg.Key), nil
	case errors.Is(err, domain.ErrConnectionInProgress):
		if werr := m.Await(ctx, reg.Key); werr != nil {
			return m.Status(reg.Key), werr
		}
		st := m.Status(reg.Key)
		if st.Status != models.ConnectionStatusConnected && st.LastError != "" {
			return st, errors.New(st.LastError)
		}
		return st, nil
	}
	return status, err
}

// Connect runs the retry loop for key. The returned Status is the terminal
// state; the error is the classified failure of the last attempt.
func (m *Manager) Connect(ctx context.Context, key Key) (Status, error) {
	mc := m.get(key)
	if mc == nil {
		return unmanagedStatus(key), domain.NewDomainError(domain.ErrNotManaged, key.String())
	}

	mc.mu.Lock()
	switch {
	case mc.removed:
		mc.mu.Unlock()
		return unmanagedStatus(key), domain.NewDomainError(domain.ErrNotManaged, key.String())
	case mc.busy:
		mc.mu.Unlock()
		return mc.snapshotLocked(), domain.NewDomainError(domain.ErrConnectionInProgress, key.String())
	case mc.status == models.ConnectionStatusConnected:
		st := mc.snapshotLocked()
		mc.mu.Unlock()
		m.touch(mc)
		return st, domain.NewDomainError(domain.ErrAlreadyConnected, key.String())
	}
	mc.busy = true
	mc.done = make(chan struct{})
	mc.pendingDisconnect = false
	mc.retryCount = 0
	reg := mc.reg
	start := mc.transitionLocked(models.ConnectionStatusConnecting)
	mc.mu.Unlock()

	m.touch(mc)
	m.emit(start)

	res := m.dial(ctx, mc, reg)

	var (
		changes []StatusChange
		discard ports.TransportClient
	)
	mc.mu.Lock()
	mc.retryCount = res.attempts - 1
	switch {
	case mc.removed:
		discard = res.client
		from := mc.status
		mc.status = models.ConnectionStatusDisconnected
		mc.tools = nil
		changes = append(changes, StatusChange{Key: key, From: from, Status: mc.snapshotLocked()})
	case mc.pendingDisconnect || res.aborted:
		// connecting must resolve before the disconnect is applied
		discard = res.client
		if res.client != nil {
			changes = append(changes, mc.transitionLocked(models.ConnectionStatusConnected))
		} else {
			changes = append(changes, mc.transitionLocked(models.ConnectionStatusError))
		}
		mc.tools = nil
		mc.toolError = ""
		mc.lastError = ""
		mc.retryCount = 0
		changes = append(changes, mc.transitionLocked(models.ConnectionStatusDisconnected))
	case res.err != nil:
		mc.lastError = res.err.Error()
		mc.tools = nil
		mc.toolError = ""
		changes = append(changes, mc.transitionLocked(models.ConnectionStatusError))
	default:
		now := time.Now()
		mc.client = res.client
		mc.tools = res.tools
		mc.lastError = ""
		mc.toolError = ""
		if res.toolErr != nil {
			mc.toolError = res.toolErr.Error()
		}
		mc.lastConnectedAt = &now
		mc.retryCount = 0
		changes = append(changes, mc.transitionLocked(models.ConnectionStatusConnected))
	}
	mc.busy = false
	mc.pendingDisconnect = false
	close(mc.done)
	final := mc.snapshotLocked()
	mc.mu.Unlock()

	if discard != nil {
		m.closeClient(key, discard)
	}
	m.touch(mc)
	m.emit(changes...)

	if res.err != nil {
		m.logger.Warn("connect failed",
			logging.KeyKey, key.String(),
			logging.AttemptKey, res.attempts,
			"error", res.err,
		)
	} else if final.Status == models.ConnectionStatusConnected {
		m.logger.Info("connected",
			logging.KeyKey, key.String(),
			"server_name", reg.ServerName,
			"tools", len(final.Tools),
			logging.AttemptKey, res.attempts,
		)
	}
	return final, res.err
}

type dialResult struct {
	client   ports.TransportClient
	tools    []models.ToolInfo
	toolErr  error
	attempts int
	aborted  bool
	err      error
}

var errAborted = errors.New("connect aborted by disconnect")

func (m *Manager) dial(ctx context.Context, mc *managedConnection, reg Registration) dialResult {
	var res dialResult
	retryable := func(err error) bool {
		return ctx.Err() == nil && domain.IsConnectionFailure(err)
	}

	attempts, err := retry.Do(ctx, retry.Fixed(reg.Policy.RetryDelay, reg.Policy.MaxRetries), retryable, func(attempt int) error {
		mc.mu.Lock()
		aborted := mc.pendingDisconnect || mc.removed
		mc.retryCount = attempt
		mc.mu.Unlock()
		if aborted {
			return errAborted
		}

		client, tools, toolErr, err := m.attempt(ctx, reg, attempt)
		if err != nil {
			mc.mu.Lock()
			mc.lastError = err.Error()
			mc.mu.Unlock()
			return err
		}
		res.client, res.tools, res.toolErr = client, tools, toolErr
		return nil
	})

	res.attempts = attempts
	switch {
	case errors.Is(err, errAborted):
		res.aborted = true
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			err = domain.NewConnectionError(domain.ErrConnectionTimeout, err)
		}
		res.err = err
	}
	return res
}

func (m *Manager) attempt(ctx context.Context, reg Registration, attempt int) (ports.TransportClient, []models.ToolInfo, error, error) {
	ctx, span := m.tracer.Start(ctx, "mcp.connect", trace.WithAttributes(
		attribute.String("mcp.key", reg.Key.String()),
		attribute.String("mcp.server_id", reg.Key.ServerID),
		attribute.String("mcp.transport", string(reg.Transport.Kind)),
		attribute.Int("mcp.attempt", attempt),
	))
	defer span.End()

	fail := func(err error) error {
		metrics.ConnectAttemptsTotal.WithLabelValues("failure", KindLabel(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, KindLabel(err))
		return err
	}

	client, err := m.factory.NewClient(reg.Transport)
	if err != nil {
		return nil, nil, nil, fail(err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, reg.Policy.Timeout)
	defer cancel()

	start := time.Now()
	if err := client.Connect(attemptCtx); err != nil {
		m.closeClient(reg.Key, client)
		classified := Classify(err)
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil && !errors.Is(classified, domain.ErrConnectionTimeout) {
			classified = domain.NewConnectionError(domain.ErrConnectionTimeout, err)
		}
		return nil, nil, nil, fail(classified)
	}

	tools, toolErr := client.ListTools(attemptCtx)
	elapsed := time.Since(start)
	m.latency.observe(reg.Key.ServerID, elapsed)
	metrics.ConnectDuration.WithLabelValues(string(reg.Transport.Kind)).Observe(elapsed.Seconds())

	if toolErr != nil {
		if !errors.Is(toolErr, domain.ErrToolListing) {
			toolErr = domain.NewConnectionError(domain.ErrToolListing, toolErr)
		}
		tools = nil
		span.RecordError(toolErr)
		metrics.ConnectAttemptsTotal.WithLabelValues("success", KindLabel(toolErr)).Inc()
	} else {
		metrics.ConnectAttemptsTotal.WithLabelValues("success", "none").Inc()
	}
	span.SetAttributes(attribute.Int("mcp.tools", len(tools)))
	return client, tools, toolErr, nil
}

// Disconnect closes the client and leaves the entry disconnected. It never
// fails; during an in-flight connect it marks the entry so the connect
// discards its client on completion.
func (m *Manager) Disconnect(key Key) error {
	mc := m.get(key)
	if mc == nil {
		return nil
	}

	mc.mu.Lock()
	if mc.removed {
		mc.mu.Unlock()
		return nil
	}
	if mc.busy {
		mc.pendingDisconnect = true
		mc.mu.Unlock()
		m.touch(mc)
		return nil
	}
	client := mc.client
	mc.client = nil
	mc.tools = nil
	mc.toolError = ""
	mc.lastError = ""
	mc.retryCount = 0
	var changes []StatusChange
	if mc.status != models.ConnectionStatusDisconnected {
		changes = append(changes, mc.transitionLocked(models.ConnectionStatusDisconnected))
	}
	mc.mu.Unlock()

	if client != nil {
		m.closeClient(key, client)
	}
	m.touch(mc)
	m.emit(changes...)
	return nil
}

// Await blocks until no operation is in flight for key
func (m *Manager) Await(ctx context.Context, key Key) error {
	mc := m.get(key)
	if mc == nil {
		return nil
	}
	mc.mu.Lock()
	if !mc.busy {
		mc.mu.Unlock()
		return nil
	}
	done := mc.done
	mc.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reconnect disconnects and connects again with a fresh client built from
// the currently registered transport
func (m *Manager) Reconnect(ctx context.Context, key Key) (Status, error) {
	if m.get(key) == nil {
		return unmanagedStatus(key), domain.NewDomainError(domain.ErrNotManaged, key.String())
	}
	_ = m.Disconnect(key)
	if err := m.Await(ctx, key); err != nil {
		return m.Status(key), err
	}
	return m.Connect(ctx, key)
}

// Remove disconnects, cancels the idle timer and forgets key. Idempotent.
func (m *Manager) Remove(key Key) error {
	m.mu.Lock()
	mc, ok := m.conns[key]
	if ok {
		delete(m.conns, key)
	}
	m.mu.Unlock()

	if ok {
		m.teardown(mc)
	}
	return nil
}

// RemoveServer removes every user's connection to serverID
func (m *Manager) RemoveServer(serverID string) {
	m.mu.Lock()
	var victims []*managedConnection
	for key, mc := range m.conns {
		if key.ServerID == serverID {
			victims = append(victims, mc)
			delete(m.conns, key)
		}
	}
	m.mu.Unlock()

	for _, mc := range victims {
		m.teardown(mc)
	}
	m.latency.forget(serverID)
}

// teardown finishes an entry already detached from the map. When a connect
// is in flight it returns a channel closed once that connect has discarded
// its client.
func (m *Manager) teardown(mc *managedConnection) <-chan struct{} {
	mc.mu.Lock()
	mc.removed = true
	mc.idleGen++
	if mc.idle != nil {
		mc.idle.Stop()
		mc.idle = nil
	}
	if mc.busy {
		mc.pendingDisconnect = true
		done := mc.done
		mc.mu.Unlock()
		return done
	}
	client := mc.client
	mc.client = nil
	from := mc.status
	mc.status = models.ConnectionStatusDisconnected
	mc.tools = nil
	change := StatusChange{Key: mc.key, From: from, Status: mc.snapshotLocked()}
	mc.mu.Unlock()

	if client != nil {
		m.closeClient(mc.key, client)
	}
	m.emit(change)
	return nil
}

// Status reports the state of key and counts as an access for the idle timer
func (m *Manager) Status(key Key) Status {
	mc := m.get(key)
	if mc == nil {
		return unmanagedStatus(key)
	}
	m.touch(mc)
	return mc.snapshot()
}

// AllStatuses snapshots every managed key without touching idle timers
func (m *Manager) AllStatuses() map[Key]Status {
	m.mu.RLock()
	entries := make([]*managedConnection, 0, len(m.conns))
	for _, mc := range m.conns {
		entries = append(entries, mc)
	}
	m.mu.RUnlock()

	out := make(map[Key]Status, len(entries))
	for _, mc := range entries {
		st := mc.snapshot()
		out[st.Key] = st
	}
	return out
}

// LatencyStats returns observed connect latencies for the given servers
func (m *Manager) LatencyStats(serverIDs ...string) LatencyStats {
	return m.latency.stats(serverIDs...)
}

// Close tears down every entry and rejects further registrations
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	entries := make([]*managedConnection, 0, len(m.conns))
	for key, mc := range m.conns {
		entries = append(entries, mc)
		delete(m.conns, key)
	}
	m.mu.Unlock()

	var pending []<-chan struct{}
	for _, mc := range entries {
		if done := m.teardown(mc); done != nil {
			pending = append(pending, done)
		}
	}
	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// touch resets the idle timer of mc
func (m *Manager) touch(mc *managedConnection) {
	if m.idleTimeout < 0 {
		return
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.removed {
		return
	}
	mc.idleGen++
	gen := mc.idleGen
	if mc.idle != nil {
		mc.idle.Stop()
	}
	mc.idle = time.AfterFunc(m.idleTimeout, func() { m.expire(mc, gen) })
}

func (m *Manager) expire(mc *managedConnection, gen uint64) {
	mc.mu.Lock()
	if mc.idleGen != gen || mc.removed {
		mc.mu.Unlock()
		return
	}
	busy := mc.busy
	mc.mu.Unlock()

	if busy {
		m.touch(mc)
		return
	}

	m.mu.Lock()
	if m.conns[mc.key] != mc {
		m.mu.Unlock()
		return
	}
	delete(m.conns, mc.key)
	m.mu.Unlock()

	metrics.IdleDisconnectsTotal.Inc()
	m.logger.Info("idle connection removed", logging.KeyKey, mc.key.String())
	m.teardown(mc)
}

func (m *Manager) closeClient(key Key, client ports.TransportClient) {
	if err := client.Disconnect(); err != nil {
		m.logger.Warn("close transport client", logging.KeyKey, key.String(), "error", err)
	}
}

// serves reports whether mc was registered with the transport and policy of reg
func (mc *managedConnection) serves(reg Registration) bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.reg.Transport.Equal(reg.Transport) && mc.reg.Policy == normalizePolicy(reg.Policy)
}

func (mc *managedConnection) transitionLocked(to models.ConnectionStatus) StatusChange {
	from := mc.status
	mc.status = to
	return StatusChange{Key: mc.key, From: from, To: to, Status: mc.snapshotLocked()}
}

func (mc *managedConnection) snapshot() Status {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.snapshotLocked()
}

func (mc *managedConnection) snapshotLocked() Status {
	tools := slices.Clone(mc.tools)
	if tools == nil {
		tools = []models.ToolInfo{}
	}
	var lastConnected *time.Time
	if mc.lastConnectedAt != nil {
		t := *mc.lastConnectedAt
		lastConnected = &t
	}
	return Status{
		Key:             mc.key,
		ServerID:        mc.key.ServerID,
		ServerName:      mc.reg.ServerName,
		Status:          mc.status,
		RetryCount:      mc.retryCount,
		LastError:       mc.lastError,
		ToolError:       mc.toolError,
		Tools:           tools,
		LastConnectedAt: lastConnected,
		Managed:         !mc.removed,
	}
}

func normalizePolicy(p models.Policy) models.Policy {
	def := models.DefaultPolicy()
	if p.RetryDelay <= 0 {
		p.RetryDelay = def.RetryDelay
	}
	if p.Timeout <= 0 {
		p.Timeout = def.Timeout
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	return p
}
