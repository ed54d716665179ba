package connstore

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a connection id is unknown.
var ErrNotFound = errors.New("connection not found")

// Connection is one open WebSocket connection. UserID is empty until the
// connection authenticates.
type Connection struct {
	ID          string
	UserID      string
	ConnectedAt time.Time
}

// Store is the connection registry consulted by the WebSocket dispatch
// pipeline: connection lifecycle, per-connection user binding, and the
// is-this-the-user's-last-connection check behind offline notifications.
type Store interface {
	Put(ctx context.Context, conn Connection) error
	Get(ctx context.Context, connID string) (*Connection, error)
	BindUser(ctx context.Context, connID, userID string) error
	Remove(ctx context.Context, connID string) (*Connection, error)
	CountForUser(ctx context.Context, userID string) (int, error)
	Close() error
}

// MemoryStore is the in-process Store used by tests and the local dev
// server.
type MemoryStore struct {
	mu    sync.RWMutex
	conns map[string]Connection
}

// NewMemoryStore creates an empty in-memory registry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{conns: make(map[string]Connection)}
}

func (s *MemoryStore) Put(_ context.Context, conn Connection) error {
	if conn.ConnectedAt.IsZero() {
		conn.ConnectedAt = time.Now()
	}
	s.mu.Lock()
	s.conns[conn.ID] = conn
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, connID string) (*Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.conns[connID]
	if !ok {
		return nil, ErrNotFound
	}
	return &conn, nil
}

func (s *MemoryStore) BindUser(_ context.Context, connID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[connID]
	if !ok {
		return ErrNotFound
	}
	conn.UserID = userID
	s.conns[connID] = conn
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, connID string) (*Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[connID]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.conns, connID)
	return &conn, nil
}

func (s *MemoryStore) CountForUser(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, conn := range s.conns {
		if conn.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) Close() error { return nil }
