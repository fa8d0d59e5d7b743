package handlers

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/longregen/mcphub/internal/adapters/mcp"
	"github.com/longregen/mcphub/internal/adapters/metrics"
	"github.com/longregen/mcphub/internal/logging"
	"github.com/longregen/mcphub/pkg/protocol"
)

const subscriberBuffer = 64

// statusSubscriber is one websocket client. Frames are queued on send and
// written by the connection's own write pump.
type statusSubscriber struct {
	userID string
	format protocol.Format
	send   chan []byte
	seq    atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

func newStatusSubscriber(userID string, format protocol.Format) *statusSubscriber {
	return &statusSubscriber{
		userID: userID,
		format: format,
		send:   make(chan []byte, subscriberBuffer),
		done:   make(chan struct{}),
	}
}

func (s *statusSubscriber) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// enqueue never blocks. A subscriber that cannot keep up is dropped.
func (s *statusSubscriber) enqueue(msgType protocol.MessageType, body interface{}) bool {
	env := protocol.NewEnvelope(s.seq.Add(1), s.userID, msgType, body).
		WithMeta(protocol.MetaKeyTimestamp, time.Now().UnixMilli())
	data, err := env.Encode(s.format)
	if err != nil {
		slog.Warn("encode status event", "type", msgType.String(), "error", err)
		return true
	}
	select {
	case s.send <- data:
		return true
	case <-s.done:
		return false
	default:
		return false
	}
}

// StatusBroadcaster fans connection manager transitions out to websocket
// subscribers. Each user only sees their own keys.
type StatusBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[*statusSubscriber]struct{}
	logger      *slog.Logger
}

func NewStatusBroadcaster(logger *slog.Logger) *StatusBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusBroadcaster{
		subscribers: make(map[string]map[*statusSubscriber]struct{}),
		logger:      logging.WithComponent(logger, "http.status_ws"),
	}
}

func (b *StatusBroadcaster) Subscribe(sub *statusSubscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub.userID] == nil {
		b.subscribers[sub.userID] = make(map[*statusSubscriber]struct{})
	}
	b.subscribers[sub.userID][sub] = struct{}{}
	metrics.StatusSubscribers.Inc()
	b.logger.Debug("status subscriber added", logging.UserIDKey, sub.userID, "total", len(b.subscribers[sub.userID]))
}

func (b *StatusBroadcaster) Unsubscribe(sub *statusSubscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[sub.userID]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	sub.close()
	metrics.StatusSubscribers.Dec()
	if len(subs) == 0 {
		delete(b.subscribers, sub.userID)
	}
	b.logger.Debug("status subscriber removed", logging.UserIDKey, sub.userID, "remaining", len(subs))
}

func (b *StatusBroadcaster) GetSubscriberCount(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[userID])
}

// Observe is registered with Manager.OnStatusChange
func (b *StatusBroadcaster) Observe(ch mcp.StatusChange) {
	b.mu.RLock()
	subs := b.subscribers[ch.Key.UserID]
	if len(subs) == 0 {
		b.mu.RUnlock()
		return
	}
	targets := make([]*statusSubscriber, 0, len(subs))
	for sub := range subs {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	msgType := protocol.TypeStatusChanged
	if ch.To == "" {
		msgType = protocol.TypeConnectionRemoved
	}
	event := statusEvent(ch.Status)
	event.From = string(ch.From)
	if ch.To == "" {
		event.Status = ""
	}

	for _, sub := range targets {
		if !sub.enqueue(msgType, event) {
			b.logger.Warn("dropping slow status subscriber", logging.UserIDKey, sub.userID)
			b.Unsubscribe(sub)
		}
	}
}

func statusEvent(st mcp.Status) protocol.StatusEvent {
	event := protocol.StatusEvent{
		ServerID:   st.ServerID,
		ServerName: st.ServerName,
		Status:     string(st.Status),
		RetryCount: st.RetryCount,
		LastError:  st.LastError,
		ToolError:  st.ToolError,
		ToolCount:  len(st.Tools),
	}
	if st.LastConnectedAt != nil {
		event.LastConnectedAt = st.LastConnectedAt.UnixMilli()
	}
	return event
}
