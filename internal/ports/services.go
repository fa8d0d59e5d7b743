package ports

import (
	"context"

	"github.com/longregen/mcphub/internal/domain/models"
)

// TransportClient is a single logical connection to one tool server
type TransportClient interface {
	// Connect establishes the connection and completes the protocol handshake.
	// The caller bounds it with the context deadline.
	Connect(ctx context.Context) error
	// Disconnect is best-effort; callers log and ignore its error
	Disconnect() error
	IsConnected() bool
	// ListTools fails with domain.ErrNotConnected before Connect succeeds
	ListTools(ctx context.Context) ([]models.ToolInfo, error)
}

// TransportClientFactory builds a fresh client for a transport descriptor
type TransportClientFactory interface {
	NewClient(transport models.Transport) (TransportClient, error)
}

// TransportClientFactoryFunc adapts a function to TransportClientFactory
type TransportClientFactoryFunc func(transport models.Transport) (TransportClient, error)

func (f TransportClientFactoryFunc) NewClient(transport models.Transport) (TransportClient, error) {
	return f(transport)
}

// CredentialResolver encrypts and decrypts per-user credential material.
// Blobs are bound to their owner and fail to decrypt for anyone else.
type CredentialResolver interface {
	Decrypt(blob []byte, ownerID string) (map[string]string, error)
	Encrypt(credentials map[string]string, ownerID string) ([]byte, error)
}
