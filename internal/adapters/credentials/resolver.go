package credentials

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/longregen/mcphub/internal/domain"
)

// Resolver seals per-user credential maps with XChaCha20-Poly1305. The owner
// id is bound as associated data so a blob cannot be replayed for another user.
type Resolver struct {
	key []byte
}

func NewResolver(key []byte) (*Resolver, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("credential key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &Resolver{key: append([]byte(nil), key...)}, nil
}

// NewResolverFromBase64 decodes a standard base64 key
func NewResolverFromBase64(encoded string) (*Resolver, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode credential key: %w", err)
	}
	return NewResolver(key)
}

func (r *Resolver) Encrypt(creds map[string]string, ownerID string) ([]byte, error) {
	if len(creds) == 0 {
		return nil, nil
	}
	aead, err := chacha20poly1305.NewX(r.key)
	if err != nil {
		return nil, err
	}
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("marshal credentials: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, []byte(ownerID)), nil
}

func (r *Resolver) Decrypt(blob []byte, ownerID string) (map[string]string, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	aead, err := chacha20poly1305.NewX(r.key)
	if err != nil {
		return nil, err
	}
	if len(blob) < aead.NonceSize()+aead.Overhead() {
		return nil, domain.NewDomainError(domain.ErrCredentialsInvalid, "ciphertext too short")
	}

	nonce, ciphertext := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(ownerID))
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrCredentialsInvalid, "authentication failed")
	}

	var creds map[string]string
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, domain.NewDomainError(domain.ErrCredentialsInvalid, "malformed payload")
	}
	return creds, nil
}
