package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/longregen/mcphub/internal/domain"
	"github.com/longregen/mcphub/internal/domain/models"
)

const (
	protocolVersion = "2024-11-05"
	maxToolPages    = 100
)

// session is the subset of the mcp-go client used here
type session interface {
	Initialize(ctx context.Context, request mcpgo.InitializeRequest) (*mcpgo.InitializeResult, error)
	ListTools(ctx context.Context, request mcpgo.ListToolsRequest) (*mcpgo.ListToolsResult, error)
	Close() error
}

type dialFunc func(ctx context.Context) (session, error)

// Client is a TransportClient backed by mark3labs/mcp-go. One instance owns
// exactly one underlying session and is never reused after Disconnect.
type Client struct {
	target     string
	clientInfo mcpgo.Implementation
	dial       dialFunc

	mu         sync.RWMutex
	session    session
	connected  bool
	serverInfo mcpgo.Implementation
}

func newStreamableHTTPClient(s *models.StreamTransport, info mcpgo.Implementation) *Client {
	headers := maps.Clone(s.Headers)
	return &Client{
		target:     s.URL,
		clientInfo: info,
		dial: func(ctx context.Context) (session, error) {
			var opts []transport.StreamableHTTPCOption
			if len(headers) > 0 {
				opts = append(opts, transport.WithHTTPHeaders(headers))
			}
			c, err := mcpclient.NewStreamableHttpClient(s.URL, opts...)
			if err != nil {
				return nil, fmt.Errorf("create streamable http client: %w", err)
			}
			if err := c.Start(ctx); err != nil {
				c.Close()
				return nil, fmt.Errorf("start streamable http transport: %w", err)
			}
			return c, nil
		},
	}
}

func newSSEClient(s *models.StreamTransport, info mcpgo.Implementation) *Client {
	headers := maps.Clone(s.Headers)
	return &Client{
		target:     s.URL,
		clientInfo: info,
		dial: func(ctx context.Context) (session, error) {
			var opts []transport.ClientOption
			if len(headers) > 0 {
				opts = append(opts, transport.WithHeaders(headers))
			}
			c, err := mcpclient.NewSSEMCPClient(s.URL, opts...)
			if err != nil {
				return nil, fmt.Errorf("create sse client: %w", err)
			}
			if err := c.Start(ctx); err != nil {
				c.Close()
				return nil, fmt.Errorf("start sse transport: %w", err)
			}
			return c, nil
		},
	}
}

func newStdioClient(s *models.SubprocessTransport, info mcpgo.Implementation) *Client {
	env := envSlice(s.Env)
	args := slices.Clone(s.Args)
	return &Client{
		target:     s.Command,
		clientInfo: info,
		dial: func(ctx context.Context) (session, error) {
			// mcp-go spawns the process here
			c, err := mcpclient.NewStdioMCPClient(s.Command, env, args...)
			if err != nil {
				return nil, fmt.Errorf("start subprocess %s: %w", s.Command, err)
			}
			return c, nil
		},
	}
}

// envSlice renders env as sorted KEY=VALUE pairs
func envSlice(env map[string]string) []string {
	keys := slices.Sorted(maps.Keys(env))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// Connect dials the transport and performs the initialize handshake
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	sess, err := c.dial(ctx)
	if err != nil {
		return Classify(err)
	}

	req := mcpgo.InitializeRequest{}
	req.Params.ProtocolVersion = protocolVersion
	req.Params.ClientInfo = c.clientInfo
	req.Params.Capabilities = mcpgo.ClientCapabilities{}

	result, err := sess.Initialize(ctx, req)
	if err != nil {
		sess.Close()
		return Classify(fmt.Errorf("initialize %s: %w", c.target, err))
	}

	c.session = sess
	c.connected = true
	if result != nil {
		c.serverInfo = result.ServerInfo
	}
	return nil
}

func (c *Client) Disconnect() error {
	c.mu.Lock()
	sess := c.session
	c.session = nil
	c.connected = false
	c.mu.Unlock()

	if sess == nil {
		return nil
	}
	return sess.Close()
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// ServerInfo returns what the server reported during the handshake
func (c *Client) ServerInfo() mcpgo.Implementation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// ListTools pages through tools/list. A transport-level failure marks the
// client as no longer connected.
func (c *Client) ListTools(ctx context.Context) ([]models.ToolInfo, error) {
	c.mu.RLock()
	sess, connected := c.session, c.connected
	c.mu.RUnlock()

	if !connected || sess == nil {
		return nil, domain.ErrNotConnected
	}

	var tools []models.ToolInfo
	req := mcpgo.ListToolsRequest{}
	for page := 0; page < maxToolPages; page++ {
		result, err := sess.ListTools(ctx, req)
		if err != nil {
			classified := Classify(err)
			if domain.IsConnectionFailure(classified) && !isProtocolOnly(classified) {
				c.mu.Lock()
				if c.session == sess {
					c.connected = false
				}
				c.mu.Unlock()
			}
			return nil, domain.NewConnectionError(domain.ErrToolListing, err)
		}
		for _, t := range result.Tools {
			info, err := toolInfo(t)
			if err != nil {
				return nil, domain.NewConnectionError(domain.ErrToolListing, err)
			}
			tools = append(tools, info)
		}
		if result.NextCursor == "" {
			break
		}
		req.Params.Cursor = result.NextCursor
	}
	return tools, nil
}

func toolInfo(t mcpgo.Tool) (models.ToolInfo, error) {
	raw := []byte(t.RawInputSchema)
	if len(raw) == 0 {
		var err error
		raw, err = json.Marshal(t.InputSchema)
		if err != nil {
			return models.ToolInfo{}, fmt.Errorf("marshal input schema of %s: %w", t.Name, err)
		}
	}

	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return models.ToolInfo{}, fmt.Errorf("decode input schema of %s: %w", t.Name, err)
	}
	return models.ToolInfo{Name: t.Name, Description: t.Description, InputSchema: schema}, nil
}
