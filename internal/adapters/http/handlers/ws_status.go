package handlers

import (
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/websocket"

	"github.com/longregen/mcphub/internal/adapters/mcp"
	"github.com/longregen/mcphub/internal/logging"
	"github.com/longregen/mcphub/pkg/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// StatusSource exposes the manager's current view without touching idle timers
type StatusSource interface {
	AllStatuses() map[mcp.Key]mcp.Status
}

// StatusWSHandler upgrades GET /api/v1/mcp/status/ws and pushes status events
type StatusWSHandler struct {
	upgrader    websocket.Upgrader
	statuses    StatusSource
	broadcaster *StatusBroadcaster
	logger      *slog.Logger
}

func NewStatusWSHandler(statuses StatusSource, broadcaster *StatusBroadcaster, allowedOrigins []string, logger *slog.Logger) *StatusWSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	allowedOriginsMap := make(map[string]bool)
	for _, origin := range allowedOrigins {
		allowedOriginsMap[origin] = true
	}

	return &StatusWSHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				return allowedOriginsMap[origin]
			},
		},
		statuses:    statuses,
		broadcaster: broadcaster,
		logger:      logging.WithComponent(logger, "http.status_ws"),
	}
}

func (h *StatusWSHandler) Handle(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(r, w)
	if !ok {
		return
	}

	format := protocol.FormatMsgpack
	if r.URL.Query().Get("format") == "json" {
		format = protocol.FormatJSON
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", logging.UserIDKey, userID, "error", err)
		return
	}
	defer conn.Close()

	sub := newStatusSubscriber(userID, format)
	// Subscribe before taking the snapshot so no transition falls in between
	h.broadcaster.Subscribe(sub)
	defer h.broadcaster.Unsubscribe(sub)

	sub.enqueue(protocol.TypeStatusSnapshot, h.snapshot(userID))

	go h.readPump(conn, sub)
	h.writePump(conn, sub, format)
}

func (h *StatusWSHandler) snapshot(userID string) protocol.StatusSnapshot {
	snap := protocol.StatusSnapshot{Statuses: []protocol.StatusEvent{}}
	for key, st := range h.statuses.AllStatuses() {
		if key.UserID != userID {
			continue
		}
		snap.Statuses = append(snap.Statuses, statusEvent(st))
	}
	sort.Slice(snap.Statuses, func(i, j int) bool {
		return snap.Statuses[i].ServerID < snap.Statuses[j].ServerID
	})
	return snap
}

// readPump only services control frames; clients have nothing to say
func (h *StatusWSHandler) readPump(conn *websocket.Conn, sub *statusSubscriber) {
	defer sub.close()

	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", logging.UserIDKey, sub.userID, "error", err)
			}
			return
		}
	}
}

func (h *StatusWSHandler) writePump(conn *websocket.Conn, sub *statusSubscriber, format protocol.Format) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	messageType := websocket.BinaryMessage
	if format == protocol.FormatJSON {
		messageType = websocket.TextMessage
	}

	for {
		select {
		case data := <-sub.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(messageType, data); err != nil {
				h.logger.Debug("websocket write failed", logging.UserIDKey, sub.userID, "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sub.done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
