package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wildkoala/chronicle/conversation"
	"github.com/wildkoala/chronicle/readmodel"
)

// ReadModelStore is the PostgreSQL readmodel.Store. Every save is an upsert
// so re-projecting a prefix of the log is idempotent.
type ReadModelStore struct {
	db *gorm.DB
}

func NewReadModelStore(db *gorm.DB) *ReadModelStore {
	return &ReadModelStore{db: db}
}

func (s *ReadModelStore) GetConversation(ctx context.Context, streamID string) (*readmodel.Conversation, error) {
	var row readmodel.Conversation
	err := s.db.WithContext(ctx).First(&row, "stream_id = ?", streamID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, readmodel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *ReadModelStore) SaveConversation(ctx context.Context, c *readmodel.Conversation) error {
	return s.upsert(ctx, c)
}

func (s *ReadModelStore) StaleStreaming(ctx context.Context, olderThan time.Time) ([]readmodel.Conversation, error) {
	var rows []readmodel.Conversation
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", string(conversation.StatusStreaming), olderThan).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale streaming conversations: %w", err)
	}
	return rows, nil
}

func (s *ReadModelStore) GetMessage(ctx context.Context, id string) (*readmodel.Message, error) {
	var row readmodel.Message
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, readmodel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *ReadModelStore) SaveMessage(ctx context.Context, m *readmodel.Message) error {
	return s.upsert(ctx, m)
}

func (s *ReadModelStore) ListMessages(ctx context.Context, streamID string) ([]readmodel.Message, error) {
	var rows []readmodel.Message
	err := s.db.WithContext(ctx).
		Where("stream_id = ?", streamID).
		Order("position ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *ReadModelStore) DeleteMessagesFrom(ctx context.Context, streamID string, fromPosition int) error {
	return s.db.WithContext(ctx).
		Where("stream_id = ? AND position >= ?", streamID, fromPosition).
		Delete(&readmodel.Message{}).Error
}

func (s *ReadModelStore) SaveChunk(ctx context.Context, c *readmodel.Chunk) error {
	return s.upsert(ctx, c)
}

func (s *ReadModelStore) ListChunks(ctx context.Context, messageID string) ([]readmodel.Chunk, error) {
	var rows []readmodel.Chunk
	err := s.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("index ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *ReadModelStore) DeleteChunks(ctx context.Context, messageID string) error {
	return s.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Delete(&readmodel.Chunk{}).Error
}

func (s *ReadModelStore) GetToolCall(ctx context.Context, id string) (*readmodel.ToolCall, error) {
	var row readmodel.ToolCall
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, readmodel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *ReadModelStore) SaveToolCall(ctx context.Context, tc *readmodel.ToolCall) error {
	return s.upsert(ctx, tc)
}

func (s *ReadModelStore) TruncateAll(ctx context.Context) error {
	db := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true})
	for _, model := range readModels() {
		if err := db.Delete(model).Error; err != nil {
			return fmt.Errorf("failed to truncate %T: %w", model, err)
		}
	}
	return nil
}

func (s *ReadModelStore) upsert(ctx context.Context, row any) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(row).Error
}

func readModels() []any {
	return []any{
		&readmodel.Conversation{},
		&readmodel.Message{},
		&readmodel.Chunk{},
		&readmodel.ToolCall{},
	}
}

func allModels() []any {
	return append([]any{&eventRow{}, &snapshotRow{}}, readModels()...)
}

var _ readmodel.Store = (*ReadModelStore)(nil)
