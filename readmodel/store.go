package readmodel

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for read-model rows that do not exist.
var ErrNotFound = errors.New("read model row not found")

// Store is the persistence surface the Projector writes through and query
// layers read from. Save methods are upserts so that reapplying events in
// order is idempotent.
type Store interface {
	GetConversation(ctx context.Context, streamID string) (*Conversation, error)
	SaveConversation(ctx context.Context, c *Conversation) error
	// StaleStreaming lists conversations stuck in streaming status whose
	// last update is older than the cutoff; the recovery sweeper acts on
	// these read-model timestamps, never on log state directly.
	StaleStreaming(ctx context.Context, olderThan time.Time) ([]Conversation, error)

	GetMessage(ctx context.Context, id string) (*Message, error)
	SaveMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, streamID string) ([]Message, error)
	// DeleteMessagesFrom removes every message of the stream at or after
	// the given position.
	DeleteMessagesFrom(ctx context.Context, streamID string, fromPosition int) error

	SaveChunk(ctx context.Context, c *Chunk) error
	ListChunks(ctx context.Context, messageID string) ([]Chunk, error)
	DeleteChunks(ctx context.Context, messageID string) error

	GetToolCall(ctx context.Context, id string) (*ToolCall, error)
	SaveToolCall(ctx context.Context, tc *ToolCall) error

	// TruncateAll wipes every read-model table; used by full rebuilds.
	TruncateAll(ctx context.Context) error
}
