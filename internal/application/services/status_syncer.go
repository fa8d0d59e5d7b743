package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/longregen/mcphub/internal/adapters/circuitbreaker"
	"github.com/longregen/mcphub/internal/adapters/mcp"
	"github.com/longregen/mcphub/internal/adapters/metrics"
	"github.com/longregen/mcphub/internal/adapters/retry"
	"github.com/longregen/mcphub/internal/domain"
	"github.com/longregen/mcphub/internal/domain/models"
	"github.com/longregen/mcphub/internal/logging"
	"github.com/longregen/mcphub/internal/ports"
)

const (
	DefaultStatusWriteRate    = 20
	DefaultStatusWriteTimeout = 5 * time.Second
)

// statusWrite is one pending correction of a server's persisted status.
// Writes for the same key coalesce so only the newest state is stored.
type statusWrite struct {
	key             mcp.Key
	verifyOwner     bool
	status          models.ConnectionStatus
	lastError       string
	lastConnectedAt *time.Time
	replaceTools    bool
	tools           []models.ToolInfo
}

type SyncerOptions struct {
	// WritesPerSecond throttles store writes (default 20)
	WritesPerSecond float64
	WriteTimeout    time.Duration
	Backoff         retry.BackoffConfig
	BreakerFailures int
	BreakerTimeout  time.Duration
	Logger          *slog.Logger
}

// StatusSyncer persists manager-observed state into the server registry in
// the background so read paths never wait on the store
type StatusSyncer struct {
	servers ports.MCPServerRepository
	tools   ports.MCPToolRepository
	ids     ports.IDGenerator

	limiter *rate.Limiter
	breaker *circuitbreaker.CircuitBreaker
	backoff retry.BackoffConfig
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[mcp.Key]statusWrite
	order   []mcp.Key
	owners  map[string]string

	wake   chan struct{}
	flush  chan chan struct{}
	stop   chan struct{}
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func NewStatusSyncer(servers ports.MCPServerRepository, tools ports.MCPToolRepository, ids ports.IDGenerator, opts SyncerOptions) *StatusSyncer {
	if opts.WritesPerSecond <= 0 {
		opts.WritesPerSecond = DefaultStatusWriteRate
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultStatusWriteTimeout
	}
	if opts.Backoff.MaxRetries == 0 && opts.Backoff.InitialInterval == 0 {
		opts.Backoff = retry.Exponential(200*time.Millisecond, 2*time.Second, 3)
	}
	if opts.BreakerFailures <= 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	logger := logging.WithComponent(opts.Logger, "status.syncer")
	burst := int(opts.WritesPerSecond)
	if burst < 1 {
		burst = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &StatusSyncer{
		servers: servers,
		tools:   tools,
		ids:     ids,
		limiter: rate.NewLimiter(rate.Limit(opts.WritesPerSecond), burst),
		backoff: opts.Backoff,
		timeout: opts.WriteTimeout,
		logger:  logger,
		pending: make(map[mcp.Key]statusWrite),
		owners:  make(map[string]string),
		wake:    make(chan struct{}, 1),
		flush:   make(chan chan struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.breaker = circuitbreaker.NewWithOptions(opts.BreakerFailures, opts.BreakerTimeout, circuitbreaker.Options{
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, domain.ErrMCPServerNotFound)
		},
		OnStateChange: func(from, to circuitbreaker.State) {
			logger.Warn("status store breaker changed", "from", from.String(), "to", to.String())
		},
	})

	go s.run()
	return s
}

// Track records the owner of a server so manager transitions can be
// attributed without a store lookup
func (s *StatusSyncer) Track(server *models.MCPServer) {
	s.mu.Lock()
	s.owners[server.ID] = server.OwnerID
	s.mu.Unlock()
}

// Forget drops everything known about a deleted server
func (s *StatusSyncer) Forget(serverID string) {
	s.mu.Lock()
	delete(s.owners, serverID)
	s.mu.Unlock()
}

// Correct schedules a write of a reconciled status
func (s *StatusSyncer) Correct(server *models.MCPServer, result mcp.ReconcileResult) {
	s.Track(server)
	s.enqueue(statusWrite{
		key:             mcp.OwnerKey(server),
		status:          result.Status,
		lastError:       result.LastError,
		lastConnectedAt: result.LastConnectedAt,
	})
}

// Observe is a manager status listener. Only the owner's connection is
// mirrored; other users' keys are dropped when the worker checks ownership.
func (s *StatusSyncer) Observe(ch mcp.StatusChange) {
	if ch.From == "" {
		return
	}

	s.mu.Lock()
	owner, known := s.owners[ch.Key.ServerID]
	s.mu.Unlock()
	if known && owner != ch.Key.UserID {
		return
	}

	w := statusWrite{
		key:             ch.Key,
		verifyOwner:     !known,
		status:          ch.To,
		lastError:       ch.Status.LastError,
		lastConnectedAt: ch.Status.LastConnectedAt,
	}
	if ch.To == "" {
		w.status = models.ConnectionStatusDisconnected
		w.lastError = ""
	}
	if ch.To == models.ConnectionStatusConnected && ch.Status.ToolError == "" {
		w.replaceTools = true
		w.tools = ch.Status.Tools
	}
	s.enqueue(w)
}

func (s *StatusSyncer) enqueue(w statusWrite) {
	s.mu.Lock()
	if prev, ok := s.pending[w.key]; ok {
		if !w.replaceTools && prev.replaceTools {
			w.replaceTools = true
			w.tools = prev.tools
		}
		w.verifyOwner = w.verifyOwner && prev.verifyOwner
	} else {
		s.order = append(s.order, w.key)
	}
	s.pending[w.key] = w
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Flush blocks until every write queued before the call has been attempted
func (s *StatusSyncer) Flush(ctx context.Context) error {
	req := make(chan struct{})
	select {
	case s.flush <- req:
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains pending writes and stops the worker. When ctx expires first
// the in-flight write is cancelled.
func (s *StatusSyncer) Close(ctx context.Context) error {
	s.once.Do(func() { close(s.stop) })
	select {
	case <-s.done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-s.done
		return ctx.Err()
	}
}

func (s *StatusSyncer) run() {
	defer close(s.done)
	for {
		select {
		case <-s.wake:
			s.drain()
		case req := <-s.flush:
			s.drain()
			close(req)
		case <-s.stop:
			s.drain()
			return
		}
	}
}

func (s *StatusSyncer) drain() {
	for {
		s.mu.Lock()
		if len(s.order) == 0 {
			s.mu.Unlock()
			return
		}
		batch := make([]statusWrite, 0, len(s.order))
		for _, key := range s.order {
			batch = append(batch, s.pending[key])
		}
		s.order = nil
		clear(s.pending)
		s.mu.Unlock()

		for _, w := range batch {
			if s.ctx.Err() != nil {
				return
			}
			s.apply(s.ctx, w)
		}
	}
}

func (s *StatusSyncer) apply(ctx context.Context, w statusWrite) {
	logger := s.logger.With(logging.KeyKey, w.key.String())

	if w.verifyOwner {
		owner, err := s.ownerOf(ctx, w.key.ServerID)
		if err != nil {
			if !errors.Is(err, domain.ErrMCPServerNotFound) {
				logger.Warn("resolve server owner", "error", err)
			}
			return
		}
		if owner != w.key.UserID {
			return
		}
	}

	err := s.write(ctx, func(ctx context.Context) error {
		return s.servers.UpdateStatus(ctx, w.key.ServerID, w.status, w.lastError, w.lastConnectedAt)
	})
	metrics.StatusWritesTotal.WithLabelValues(writeResult(err)).Inc()
	switch {
	case err == nil:
		logger.Debug("persisted status", logging.StatusKey, w.status)
	case errors.Is(err, domain.ErrMCPServerNotFound):
		s.Forget(w.key.ServerID)
		return
	default:
		logger.Warn("persist status", logging.StatusKey, w.status, "error", err)
		return
	}

	if !w.replaceTools {
		return
	}
	records := make([]*models.MCPTool, 0, len(w.tools))
	for _, info := range w.tools {
		records = append(records, models.NewMCPTool(s.ids.GenerateMCPToolID(), w.key.ServerID, info))
	}
	if err := s.write(ctx, func(ctx context.Context) error {
		return s.tools.ReplaceTools(ctx, w.key.ServerID, records)
	}); err != nil {
		logger.Warn("mirror tools", "tools", len(records), "error", err)
	}
}

func (s *StatusSyncer) ownerOf(ctx context.Context, serverID string) (string, error) {
	s.mu.Lock()
	owner, ok := s.owners[serverID]
	s.mu.Unlock()
	if ok {
		return owner, nil
	}

	lctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	server, err := s.servers.GetByID(lctx, serverID)
	if err != nil {
		return "", err
	}
	s.Track(server)
	return server.OwnerID, nil
}

// write runs fn throttled, retried on transient errors and behind the breaker
func (s *StatusSyncer) write(ctx context.Context, fn func(context.Context) error) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	return s.breaker.Execute(func() error {
		_, err := retry.Do(ctx, s.backoff, retry.IsTransient, func(int) error {
			wctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			return fn(wctx)
		})
		return err
	})
}

func writeResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrMCPServerNotFound):
		return "not_found"
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return "circuit_open"
	default:
		return "error"
	}
}
