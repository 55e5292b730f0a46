package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/squadup/mobilecore/internal/api"
	"github.com/squadup/mobilecore/internal/repositories/kv"
)

// Well-known storage keys for the two snapshot lists.
const (
	PendingKey    = "pending_mutations"
	DeadLetterKey = "dead_mutations"
)

// Mutation is one persisted state-changing call awaiting delivery.
type Mutation struct {
	ID         string         `json:"id"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
	Descriptor api.Descriptor `json:"descriptor"`
	// Attempts counts failed drain cycles; used by the dead-letter policy.
	Attempts int `json:"attempts,omitempty"`
}

// Store persists an ordered mutation list as a single snapshot: the whole
// list is rewritten on every change, so a half-applied update can never
// corrupt ordering.
type Store interface {
	Load(ctx context.Context) ([]Mutation, error)
	Save(ctx context.Context, ms []Mutation) error
}

// kvStore keeps the JSON-encoded snapshot under one kv key.
type kvStore struct {
	repo kv.Repository
	key  string
}

// NewKVStore returns a Store persisting under the given kv key.
func NewKVStore(repo kv.Repository, key string) Store {
	return &kvStore{repo: repo, key: key}
}

func (s *kvStore) Load(ctx context.Context) ([]Mutation, error) {
	raw, err := s.repo.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to load queue snapshot: %w", err)
	}
	if raw == nil {
		return nil, nil
	}

	var ms []Mutation
	if err := json.Unmarshal(raw, &ms); err != nil {
		return nil, fmt.Errorf("failed to decode queue snapshot: %w", err)
	}
	return ms, nil
}

func (s *kvStore) Save(ctx context.Context, ms []Mutation) error {
	if ms == nil {
		ms = []Mutation{}
	}
	raw, err := json.Marshal(ms)
	if err != nil {
		return fmt.Errorf("failed to encode queue snapshot: %w", err)
	}
	if err := s.repo.Set(ctx, s.key, raw); err != nil {
		return fmt.Errorf("failed to persist queue snapshot: %w", err)
	}
	return nil
}
