package credentials

import (
	"context"
	"sync"
)

// MemoryStore is a non-durable Store for tests and ephemeral sessions.
type MemoryStore struct {
	mu sync.Mutex
	t  *Tokens
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Get(ctx context.Context) (*Tokens, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.t == nil {
		return nil, nil
	}
	t := *m.t
	return &t, nil
}

func (m *MemoryStore) Set(ctx context.Context, t Tokens) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = &t
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = nil
	return nil
}
