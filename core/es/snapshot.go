package es

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Snapshot is a cached, non-authoritative serialization of aggregate state
// at a given stream version. It only ever shortens replay; the log remains
// the source of truth.
type Snapshot struct {
	ID         string    `json:"id"`
	StreamID   string    `json:"stream_id"`
	Version    Version   `json:"stream_version"`
	Type       string    `json:"snapshot_type"`
	Data       []byte    `json:"data"`
	RecordedAt time.Time `json:"recorded_at"`
}

// SnapshotStore persists snapshots. Snapshots are not used for concurrency
// control, so last-write-wins semantics are acceptable: the Executor only
// saves snapshots at versions it just observed from a successful append.
type SnapshotStore interface {
	Save(ctx context.Context, s *Snapshot) error
	// LoadLatest returns ErrSnapshotNotFound when the stream has none.
	LoadLatest(ctx context.Context, streamID string) (*Snapshot, error)
}

// NewSnapshot serializes agg at the given version. Aggregates implementing
// Snapshottable control their own encoding; everything else is JSON.
func NewSnapshot(agg Aggregate, streamID string, version Version) (*Snapshot, error) {
	data, err := marshalAggregate(agg)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		ID:         gonanoid.Must(),
		StreamID:   streamID,
		Version:    version,
		Type:       agg.AggregateType(),
		Data:       data,
		RecordedAt: time.Now().Truncate(time.Microsecond),
	}, nil
}

func marshalAggregate(agg Aggregate) ([]byte, error) {
	if s, ok := agg.(Snapshottable); ok {
		return s.Snapshot()
	}
	return json.Marshal(agg)
}

// RestoreSnapshot loads snapshot data into agg.
func RestoreSnapshot(agg Aggregate, snapshot *Snapshot) error {
	if s, ok := agg.(Snapshottable); ok {
		if err := s.RestoreSnapshot(snapshot.Data); err != nil {
			return fmt.Errorf("failed to restore snapshot: %w", err)
		}
		return nil
	}
	if err := json.Unmarshal(snapshot.Data, agg); err != nil {
		return fmt.Errorf("failed to restore snapshot: %w", err)
	}
	return nil
}

// === In-memory snapshot store ===

type InMemorySnapshotStore struct {
	mu        sync.Mutex
	snapshots map[string]*Snapshot
}

func NewInMemorySnapshotStore() *InMemorySnapshotStore {
	return &InMemorySnapshotStore{snapshots: map[string]*Snapshot{}}
}

func (s *InMemorySnapshotStore) Save(_ context.Context, snapshot *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.StreamID] = snapshot
	return nil
}

func (s *InMemorySnapshotStore) LoadLatest(_ context.Context, streamID string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, ok := s.snapshots[streamID]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return snapshot, nil
}

var _ SnapshotStore = (*InMemorySnapshotStore)(nil)
