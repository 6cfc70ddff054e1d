package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/wildkoala/chronicle/core/es"
)

// eventRow is the storage shape of one envelope. Seq is the global commit
// order; the composite unique index on (stream_id, stream_version) is the
// concurrency-control invariant.
type eventRow struct {
	Seq        uint64    `gorm:"primaryKey;autoIncrement"`
	EventID    string    `gorm:"uniqueIndex;size:32;not null"`
	StreamID   string    `gorm:"uniqueIndex:idx_events_stream_version,priority:1;size:128;not null"`
	Version    uint64    `gorm:"uniqueIndex:idx_events_stream_version,priority:2;column:stream_version;not null"`
	EventType  string    `gorm:"size:64;not null"`
	Data       []byte    `gorm:"type:jsonb"`
	Metadata   []byte    `gorm:"type:jsonb"`
	RecordedAt time.Time `gorm:"not null"`
}

func (eventRow) TableName() string { return "events" }

func toEventRow(e es.Envelope) eventRow {
	return eventRow{
		EventID:    e.ID,
		StreamID:   e.StreamID,
		Version:    e.Version.Uint64(),
		EventType:  e.Type,
		Data:       e.Data,
		Metadata:   e.Metadata,
		RecordedAt: e.RecordedAt,
	}
}

func (r eventRow) envelope() es.Envelope {
	return es.Envelope{
		ID:         r.EventID,
		Seq:        r.Seq,
		StreamID:   r.StreamID,
		Version:    es.Version(r.Version),
		Type:       r.EventType,
		Data:       json.RawMessage(r.Data),
		Metadata:   json.RawMessage(r.Metadata),
		RecordedAt: r.RecordedAt,
	}
}

// EventStore is the PostgreSQL es.EventStore. Append instrumentation lives in
// the Executor, which wraps every store call; recording it here as well would
// double-count.
type EventStore struct {
	log *slog.Logger
	db  *gorm.DB
	*es.Dispatcher
}

func NewEventStore(log *slog.Logger, db *gorm.DB) *EventStore {
	return &EventStore{
		log:        log.With(slog.String("component", "event_store")),
		db:         db,
		Dispatcher: es.NewDispatcher(),
	}
}

func (s *EventStore) Append(ctx context.Context, streamID string, expectedVersion es.Version, events []es.Envelope) (*es.AppendResult, error) {
	if len(events) == 0 {
		return nil, es.ErrNoEvents
	}

	rows := make([]eventRow, 0, len(events))
	for i, e := range events {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if e.StreamID != streamID {
			return nil, fmt.Errorf("envelope stream id %q does not match %q", e.StreamID, streamID)
		}
		if want := expectedVersion + es.Version(i+1); e.Version != want {
			return nil, fmt.Errorf("envelope version %d is not contiguous, want %d", e.Version, want)
		}
		rows = append(rows, toEventRow(e))
	}

	err := s.db.WithContext(ctx).Create(&rows).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, fmt.Errorf("%w: stream %s at version %d", es.ErrConflict, streamID, expectedVersion)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to append to stream %s: %w", streamID, err)
	}

	stored := make([]es.Envelope, 0, len(rows))
	for _, r := range rows {
		stored = append(stored, r.envelope())
	}

	// committed; notify subscribers
	s.Dispatch(es.Batch{StreamID: streamID, Events: stored})

	return &es.AppendResult{
		Events:  stored,
		LastSeq: stored[len(stored)-1].Seq,
	}, nil
}

func (s *EventStore) ReadForward(ctx context.Context, streamID string, fromVersion es.Version, limit int) ([]es.Envelope, error) {
	q := s.db.WithContext(ctx).
		Where("stream_id = ? AND stream_version >= ?", streamID, fromVersion.Uint64()).
		Order("stream_version ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []eventRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to read stream %s: %w", streamID, err)
	}
	return toEnvelopes(rows), nil
}

func (s *EventStore) CurrentVersion(ctx context.Context, streamID string) (es.Version, error) {
	var version uint64
	err := s.db.WithContext(ctx).
		Model(&eventRow{}).
		Where("stream_id = ?", streamID).
		Select("COALESCE(MAX(stream_version), 0)").
		Scan(&version).Error
	if err != nil {
		return 0, fmt.Errorf("failed to read version of stream %s: %w", streamID, err)
	}
	return es.Version(version), nil
}

func (s *EventStore) ReadAll(ctx context.Context, fromSeq uint64, limit int) ([]es.Envelope, error) {
	q := s.db.WithContext(ctx).
		Where("seq >= ?", fromSeq).
		Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []eventRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to read log from seq %d: %w", fromSeq, err)
	}
	return toEnvelopes(rows), nil
}

func toEnvelopes(rows []eventRow) []es.Envelope {
	out := make([]es.Envelope, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.envelope())
	}
	return out
}

var _ es.EventStore = (*EventStore)(nil)
