package models

import "time"

// SystemOwnerID owns servers declared in the configuration file
const SystemOwnerID = "system"

// MCPServer represents an MCP server definition stored in the database.
// ConnectionStatus, LastError and LastConnectedAt are a cache of what the
// connection manager observed and may be stale.
type MCPServer struct {
	ID               string           `json:"id"`
	OwnerID          string           `json:"owner_id"`
	Name             string           `json:"name"`
	Description      string           `json:"description,omitempty"`
	Transport        Transport        `json:"transport"`
	Policy           Policy           `json:"policy"`
	Enabled          bool             `json:"enabled"`
	IsPublic         bool             `json:"is_public"`
	ConnectionStatus ConnectionStatus `json:"connection_status"`
	LastError        string           `json:"last_error,omitempty"`
	LastConnectedAt  *time.Time       `json:"last_connected_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	DeletedAt        *time.Time       `json:"deleted_at,omitempty"`
}

func NewMCPServer(id, ownerID, name string, transport Transport, policy Policy) *MCPServer {
	now := time.Now()
	return &MCPServer{
		ID:               id,
		OwnerID:          ownerID,
		Name:             name,
		Transport:        transport,
		Policy:           policy,
		Enabled:          true,
		ConnectionStatus: ConnectionStatusDisconnected,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// VisibleTo reports whether userID may read and connect to the server
func (s *MCPServer) VisibleTo(userID string) bool {
	return s.IsPublic || s.OwnerID == userID
}

// OwnedBy reports whether userID may modify the server
func (s *MCPServer) OwnedBy(userID string) bool {
	return s.OwnerID == userID
}

// TransportChanged reports whether other differs in any field that requires
// the live connection to be rebuilt
func (s *MCPServer) TransportChanged(other *MCPServer) bool {
	return !s.Transport.Equal(other.Transport) || s.Policy != other.Policy
}

// SetStatus records an observed connection state
func (s *MCPServer) SetStatus(status ConnectionStatus, lastError string, lastConnectedAt *time.Time) {
	s.ConnectionStatus = status
	s.LastError = lastError
	if lastConnectedAt != nil {
		s.LastConnectedAt = lastConnectedAt
	}
}

// ServerFilter narrows registry listings
type ServerFilter struct {
	OwnerID       string
	IncludePublic bool
	EnabledOnly   bool
}
