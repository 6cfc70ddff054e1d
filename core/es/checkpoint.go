package es

import (
	"context"
	"sync"
)

// CheckpointStore persists the last commit sequence a consumer processed, so
// a restarted consumer resumes from where it left off instead of replaying
// the whole log.
type CheckpointStore interface {
	// Get returns ErrCheckpointNotFound when no checkpoint was ever set.
	Get(ctx context.Context) (lastSeq uint64, err error)
	Set(ctx context.Context, lastSeq uint64) error
}

type InMemCheckpointStore struct {
	mu  sync.RWMutex
	set bool
	v   uint64
}

func NewInMemCheckpointStore() *InMemCheckpointStore {
	return &InMemCheckpointStore{}
}

func (s *InMemCheckpointStore) Get(context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.set {
		return 0, ErrCheckpointNotFound
	}
	return s.v, nil
}

func (s *InMemCheckpointStore) Set(_ context.Context, v uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set = true
	s.v = v
	return nil
}

var _ CheckpointStore = (*InMemCheckpointStore)(nil)
