// Package storage adapts the external object store to the pipeline's
// put/get/delete-by-id contract.
package storage

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrArtifactNotFound is returned when reading or deleting an unknown artifact id.
var ErrArtifactNotFound = errors.New("artifact not found")

// ArtifactStore is the thin adapter over the external object store.
// Put accepts a caller-suggested id; with an empty suggestion the store
// generates one. The returned id is the one actually used.
type ArtifactStore interface {
	Put(ctx context.Context, data []byte, suggestedID string) (string, error)
	Get(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
}

// MemoryStore is an in-memory ArtifactStore for tests and credential-free
// local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore returns an empty in-memory artifact store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Put implements ArtifactStore.Put.
func (s *MemoryStore) Put(ctx context.Context, data []byte, suggestedID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := strings.TrimSpace(suggestedID)
	if id == "" {
		id = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[id] = append([]byte(nil), data...)
	return id, nil
}

// Get implements ArtifactStore.Get.
func (s *MemoryStore) Get(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[id]
	if !ok {
		return nil, ErrArtifactNotFound
	}
	return append([]byte(nil), data...), nil
}

// Delete implements ArtifactStore.Delete. Deleting an unknown id is a no-op.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, id)
	return nil
}

// Len returns the number of stored artifacts. Used by tests.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
