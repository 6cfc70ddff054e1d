package es

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// InMemoryStore is a simple, correct (optimistic) store for tests and dev.
type InMemoryStore struct {
	mu      sync.Mutex
	log     *slog.Logger
	seq     uint64
	streams map[string][]Envelope
	*Dispatcher
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		log:        slog.Default().With(slog.String("store", "memory")),
		streams:    map[string][]Envelope{},
		Dispatcher: NewDispatcher(),
	}
}

func (s *InMemoryStore) Append(
	_ context.Context,
	streamID string,
	expectedVersion Version,
	events []Envelope,
) (*AppendResult, error) {
	if len(events) == 0 {
		return nil, ErrNoEvents
	}

	s.mu.Lock()

	stream := s.streams[streamID]
	current := Version(0)
	if len(stream) > 0 {
		current = stream[len(stream)-1].Version
	}
	if current != expectedVersion {
		s.mu.Unlock()
		return nil, fmt.Errorf(
			"%w: stream %s at version %d, expected %d",
			ErrConflict, streamID, current, expectedVersion,
		)
	}

	stored := make([]Envelope, 0, len(events))
	for i, e := range events {
		if err := e.Validate(); err != nil {
			s.mu.Unlock()
			return nil, err
		}
		want := expectedVersion + Version(i+1)
		if e.Version != want {
			s.mu.Unlock()
			return nil, fmt.Errorf("event %s has version %d, want %d", e.ID, e.Version, want)
		}
		s.seq++
		e.Seq = s.seq
		stored = append(stored, e)
	}
	s.streams[streamID] = append(stream, stored...)
	lastSeq := s.seq
	s.mu.Unlock()

	s.log.Debug("append",
		slog.String("stream_id", streamID),
		slog.Int("num_events", len(stored)),
		slog.Uint64("last_seq", lastSeq),
	)

	// committed; notify
	s.Dispatch(Batch{StreamID: streamID, Events: stored})

	return &AppendResult{Events: stored, LastSeq: lastSeq}, nil
}

func (s *InMemoryStore) ReadForward(
	_ context.Context,
	streamID string,
	fromVersion Version,
	limit int,
) ([]Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream, ok := s.streams[streamID]
	if !ok {
		return nil, nil
	}

	out := make([]Envelope, 0)
	for _, e := range stream {
		if e.Version < fromVersion {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) CurrentVersion(_ context.Context, streamID string) (Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.streams[streamID]
	if len(stream) == 0 {
		return 0, nil
	}
	return stream[len(stream)-1].Version, nil
}

func (s *InMemoryStore) ReadAll(_ context.Context, fromSeq uint64, limit int) ([]Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Envelope, 0)
	for _, stream := range s.streams {
		for _, e := range stream {
			if e.Seq >= fromSeq {
				out = append(out, e)
			}
		}
	}
	sortBySeq(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortBySeq(envs []Envelope) {
	// insertion sort; streams are already seq-ordered internally and the
	// merged slice is nearly sorted
	for i := 1; i < len(envs); i++ {
		for j := i; j > 0 && envs[j-1].Seq > envs[j].Seq; j-- {
			envs[j-1], envs[j] = envs[j], envs[j-1]
		}
	}
}

var _ EventStore = (*InMemoryStore)(nil)
