package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/yungbote/aitranscriber-backend/internal/domain"
)

// FingerprintStore remembers incomplete upload sessions by fingerprint.
type FingerprintStore interface {
	Get(ctx context.Context, fingerprint string) (domain.UploadSession, bool, error)
	Put(ctx context.Context, fingerprint string, s domain.UploadSession) error
	Delete(ctx context.Context, fingerprint string) error
}

// Fingerprint identifies a file's content at a destination.
func Fingerprint(data []byte, objectName, endpoint string) string {
	content := sha256.Sum256(data)
	h := sha256.New()
	_, _ = h.Write(content[:])
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(objectName))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(endpoint))
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]domain.UploadSession
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string]domain.UploadSession{}}
}

func (m *MemoryStore) Get(_ context.Context, fingerprint string) (domain.UploadSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[fingerprint]
	return s, ok, nil
}

func (m *MemoryStore) Put(_ context.Context, fingerprint string, s domain.UploadSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[fingerprint] = s
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, fingerprint)
	return nil
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
