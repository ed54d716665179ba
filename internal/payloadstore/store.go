// Package payloadstore holds queue message bodies too large for the
// transport inline. The emitter swaps an oversized body for a reference
// envelope; the engine resolves the reference before dispatch.
package payloadstore

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound indicates no payload exists for the key.
var ErrNotFound = errors.New("payload not found")

// Store provides an abstraction for payload blobs. Implementations cover
// the local filesystem for development; cloud object storage slots in
// behind the same interface.
type Store interface {
	// Put saves a payload under the key.
	Put(ctx context.Context, key string, data []byte) error

	// Get retrieves a payload by its key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a payload by its key.
	Delete(ctx context.Context, key string) error

	// Close cleans up any resources used by the implementation.
	Close() error
}

// MemoryStore keeps payloads in process memory. Test and single-process
// use only.
type MemoryStore struct {
	mu       sync.RWMutex
	payloads map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{payloads: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.payloads[key] = buf
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.payloads[key]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.payloads, key)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
