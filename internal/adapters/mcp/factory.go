package mcp

import (
	"fmt"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/longregen/mcphub/internal/domain"
	"github.com/longregen/mcphub/internal/domain/models"
	"github.com/longregen/mcphub/internal/ports"
)

// ClientFactory builds mcp-go backed transport clients
type ClientFactory struct {
	info mcpgo.Implementation
}

var _ ports.TransportClientFactory = (*ClientFactory)(nil)

func NewClientFactory(version string) *ClientFactory {
	if version == "" {
		version = "dev"
	}
	return &ClientFactory{info: mcpgo.Implementation{Name: "mcphub", Version: version}}
}

func (f *ClientFactory) NewClient(t models.Transport) (ports.TransportClient, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	switch t.Kind {
	case models.TransportKindStream:
		switch t.Stream.EffectiveProtocol() {
		case models.StreamProtocolSSE:
			return newSSEClient(t.Stream, f.info), nil
		case models.StreamProtocolStreamableHTTP:
			return newStreamableHTTPClient(t.Stream, f.info), nil
		}
	case models.TransportKindSubprocess:
		return newStdioClient(t.Subprocess, f.info), nil
	}
	return nil, domain.NewDomainError(domain.ErrConfiguration, fmt.Sprintf("no client for transport kind %q", t.Kind))
}
