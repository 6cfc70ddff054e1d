package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/wildkoala/chronicle/core/es"
)

// snapshotRow keeps one snapshot per (stream, version). Older rows are
// harmless; LoadLatest always picks the highest version.
type snapshotRow struct {
	SnapshotID   string    `gorm:"primaryKey;size:32"`
	StreamID     string    `gorm:"uniqueIndex:idx_snapshots_stream_version,priority:1;size:128;not null"`
	Version      uint64    `gorm:"uniqueIndex:idx_snapshots_stream_version,priority:2;column:stream_version;not null"`
	SnapshotType string    `gorm:"size:64;not null"`
	Data         []byte    `gorm:"type:jsonb"`
	RecordedAt   time.Time `gorm:"not null"`
}

func (snapshotRow) TableName() string { return "snapshots" }

// SnapshotStore is the PostgreSQL es.SnapshotStore.
type SnapshotStore struct {
	db *gorm.DB
}

func NewSnapshotStore(db *gorm.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) Save(ctx context.Context, snapshot *es.Snapshot) error {
	row := snapshotRow{
		SnapshotID:   snapshot.ID,
		StreamID:     snapshot.StreamID,
		Version:      snapshot.Version.Uint64(),
		SnapshotType: snapshot.Type,
		Data:         snapshot.Data,
		RecordedAt:   snapshot.RecordedAt,
	}
	err := s.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// a concurrent executor snapshotted the same version; identical content
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to save snapshot for stream %s: %w", snapshot.StreamID, err)
	}
	return nil
}

func (s *SnapshotStore) LoadLatest(ctx context.Context, streamID string) (*es.Snapshot, error) {
	var row snapshotRow
	err := s.db.WithContext(ctx).
		Where("stream_id = ?", streamID).
		Order("stream_version DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, es.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot for stream %s: %w", streamID, err)
	}
	return &es.Snapshot{
		ID:         row.SnapshotID,
		StreamID:   row.StreamID,
		Version:    es.Version(row.Version),
		Type:       row.SnapshotType,
		Data:       row.Data,
		RecordedAt: row.RecordedAt,
	}, nil
}

var _ es.SnapshotStore = (*SnapshotStore)(nil)
