// Package snapshot provides durable storage for exported index state.
//
// The memory engine periodically exports each index's state as an opaque
// serialized blob and hands it to a Store. The engine never touches files or
// the network directly; schema evolution of the blobs is the store's concern,
// not the indices'.
//
// Three implementations are provided:
//   - BadgerStore: persistent store on BadgerDB, for production use
//   - FileStore: one file per snapshot in a directory, for simple deployments
//   - MemStore: in-memory, for tests
package snapshot

import (
	"context"
	"errors"
	"sync"
)

// Errors
var (
	ErrNotFound    = errors.New("snapshot: not found")
	ErrStoreClosed = errors.New("snapshot: store closed")
)

// Store persists named opaque snapshot blobs.
//
// Implementations must be safe for concurrent use. Save overwrites any
// existing snapshot with the same name.
type Store interface {
	Save(ctx context.Context, name string, data []byte) error
	Load(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context) ([]string, error)
	Close() error
}

// MemStore is an in-memory Store for tests and ephemeral deployments.
type MemStore struct {
	mu     sync.RWMutex
	blobs  map[string][]byte
	closed bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{blobs: make(map[string][]byte)}
}

// Save implements Store.
func (s *MemStore) Save(_ context.Context, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.blobs[name] = cp
	return nil
}

// Load implements Store.
func (s *MemStore) Load(_ context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	data, ok := s.blobs[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// List implements Store.
func (s *MemStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	names := make([]string, 0, len(s.blobs))
	for name := range s.blobs {
		names = append(names, name)
	}
	return names, nil
}

// Close implements Store.
func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
