// Package protocol defines the status push protocol spoken over the
// /mcp/status/ws websocket. Frames are MessagePack by default and JSON
// when the client asks for it.
package protocol

// MessageType represents the type of protocol message
type MessageType uint16

const (
	// TypeErrorMessage (1) - Error notification
	TypeErrorMessage MessageType = 1
	// TypeStatusSnapshot (2) - Every known status, sent once after subscribing
	TypeStatusSnapshot MessageType = 2
	// TypeStatusChanged (3) - One connection moved to a new state
	TypeStatusChanged MessageType = 3
	// TypeConnectionRemoved (4) - A connection left management
	TypeConnectionRemoved MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case TypeErrorMessage:
		return "error"
	case TypeStatusSnapshot:
		return "status_snapshot"
	case TypeStatusChanged:
		return "status_changed"
	case TypeConnectionRemoved:
		return "connection_removed"
	default:
		return "unknown"
	}
}

// StatusEvent is the observable state of one (user, server) connection
type StatusEvent struct {
	ServerID        string `msgpack:"server_id" json:"server_id"`
	ServerName      string `msgpack:"server_name,omitempty" json:"server_name,omitempty"`
	From            string `msgpack:"from,omitempty" json:"from,omitempty"`
	Status          string `msgpack:"status" json:"status"`
	RetryCount      int    `msgpack:"retry_count" json:"retry_count"`
	LastError       string `msgpack:"last_error,omitempty" json:"last_error,omitempty"`
	ToolError       string `msgpack:"tool_error,omitempty" json:"tool_error,omitempty"`
	ToolCount       int    `msgpack:"tool_count" json:"tool_count"`
	LastConnectedAt int64  `msgpack:"last_connected_at,omitempty" json:"last_connected_at,omitempty"` // unix millis
}

// StatusSnapshot carries every status visible to the subscriber
type StatusSnapshot struct {
	Statuses []StatusEvent `msgpack:"statuses" json:"statuses"`
}

// ErrorMessage reports a problem with the subscription itself
type ErrorMessage struct {
	Code    string `msgpack:"code" json:"code"`
	Message string `msgpack:"message" json:"message"`
}
