package dto

import (
	"time"

	"github.com/longregen/mcphub/internal/domain/models"
)

// PolicyRequest carries the connection policy in milliseconds. Zero values
// fall back to the defaults.
type PolicyRequest struct {
	MaxRetries   *int  `json:"max_retries,omitempty"`
	RetryDelayMs int64 `json:"retry_delay_ms,omitempty"`
	TimeoutMs    int64 `json:"timeout_ms,omitempty"`
}

// ToModel merges the request over base
func (p *PolicyRequest) ToModel(base models.Policy) models.Policy {
	if p == nil {
		return base
	}
	out := base
	if p.MaxRetries != nil {
		out.MaxRetries = *p.MaxRetries
	}
	if p.RetryDelayMs != 0 {
		out.RetryDelay = time.Duration(p.RetryDelayMs) * time.Millisecond
	}
	if p.TimeoutMs != 0 {
		out.Timeout = time.Duration(p.TimeoutMs) * time.Millisecond
	}
	return out
}

type PolicyResponse struct {
	MaxRetries   int   `json:"max_retries"`
	RetryDelayMs int64 `json:"retry_delay_ms"`
	TimeoutMs    int64 `json:"timeout_ms"`
}

func NewPolicyResponse(p models.Policy) PolicyResponse {
	return PolicyResponse{
		MaxRetries:   p.MaxRetries,
		RetryDelayMs: p.RetryDelay.Milliseconds(),
		TimeoutMs:    p.Timeout.Milliseconds(),
	}
}

type CreateServerRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Transport   models.Transport  `json:"transport"`
	Policy      *PolicyRequest    `json:"policy,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty"`
	IsPublic    bool              `json:"is_public,omitempty"`
	Credentials map[string]string `json:"credentials,omitempty"`
}

// UpdateServerRequest is a patch; absent fields are left unchanged
type UpdateServerRequest struct {
	Name        *string           `json:"name,omitempty"`
	Description *string           `json:"description,omitempty"`
	Transport   *models.Transport `json:"transport,omitempty"`
	Policy      *PolicyRequest    `json:"policy,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty"`
	IsPublic    *bool             `json:"is_public,omitempty"`
}

type ActionRequest struct {
	Action string `json:"action"`
}

type ToggleRequest struct {
	Enabled *bool `json:"enabled"`
}

type CredentialsRequest struct {
	Credentials map[string]string `json:"credentials"`
}

type ServerResponse struct {
	ID               string         `json:"id"`
	OwnerID          string         `json:"owner_id"`
	Name             string         `json:"name"`
	Description      string         `json:"description,omitempty"`
	Transport        TransportView  `json:"transport"`
	Policy           PolicyResponse `json:"policy"`
	Enabled          bool           `json:"enabled"`
	IsPublic         bool           `json:"is_public"`
	IsOwner          bool           `json:"is_owner"`
	ConnectionStatus string         `json:"connection_status"`
	LastError        string         `json:"last_error,omitempty"`
	LastConnectedAt  *time.Time     `json:"last_connected_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// TransportView is the transport as shown to callers. Header and env values
// are only revealed to the owner.
type TransportView struct {
	Kind     string            `json:"kind"`
	URL      string            `json:"url,omitempty"`
	Protocol string            `json:"protocol,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Command  string            `json:"command,omitempty"`
	Args     []string          `json:"args,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
}

const redacted = "********"

func NewTransportView(t models.Transport, reveal bool) TransportView {
	view := TransportView{Kind: string(t.Kind)}
	switch {
	case t.Stream != nil:
		view.URL = t.Stream.URL
		view.Protocol = string(t.Stream.EffectiveProtocol())
		view.Headers = redact(t.Stream.Headers, reveal)
	case t.Subprocess != nil:
		view.Command = t.Subprocess.Command
		view.Args = t.Subprocess.Args
		view.Env = redact(t.Subprocess.Env, reveal)
	}
	return view
}

func redact(values map[string]string, reveal bool) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		if reveal {
			out[k] = v
		} else {
			out[k] = redacted
		}
	}
	return out
}

func NewServerResponse(s *models.MCPServer, userID string) *ServerResponse {
	owner := s.OwnedBy(userID)
	return &ServerResponse{
		ID:               s.ID,
		OwnerID:          s.OwnerID,
		Name:             s.Name,
		Description:      s.Description,
		Transport:        NewTransportView(s.Transport, owner),
		Policy:           NewPolicyResponse(s.Policy),
		Enabled:          s.Enabled,
		IsPublic:         s.IsPublic,
		IsOwner:          owner,
		ConnectionStatus: string(s.ConnectionStatus),
		LastError:        s.LastError,
		LastConnectedAt:  s.LastConnectedAt,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

type ServerListResponse struct {
	Servers []*ServerResponse `json:"servers"`
	Total   int               `json:"total"`
}

func NewServerListResponse(servers []*models.MCPServer, userID string) *ServerListResponse {
	out := make([]*ServerResponse, 0, len(servers))
	for _, s := range servers {
		out = append(out, NewServerResponse(s, userID))
	}
	return &ServerListResponse{Servers: out, Total: len(out)}
}
