// Package readmodel maintains the denormalized, query-optimized tables that
// mirror the conversation log. Rows are owned exclusively by the Projector
// and mutated only in response to committed events; UI and API layers query
// these tables and never read the log directly.
package readmodel

import (
	"time"

	"gorm.io/datatypes"
)

// Conversation is the summary row for one conversation stream.
type Conversation struct {
	StreamID       string `gorm:"primaryKey;size:128" json:"stream_id"`
	ConversationID string `gorm:"uniqueIndex;size:64" json:"conversation_id"`
	UserID         string `gorm:"index;size:64" json:"user_id"`
	Title          string `gorm:"size:512" json:"title"`
	ModelID        string `gorm:"size:128" json:"model_id,omitempty"`
	LLMModelID     string `gorm:"size:128" json:"llm_model_id,omitempty"`
	Status         string `gorm:"index;size:16" json:"status"`
	ParentStreamID string `gorm:"size:128" json:"parent_stream_id,omitempty"`
	ForkAtVersion  uint64 `json:"fork_at_version,omitempty"`
	// LastVersion is the stream version of the last projected event.
	LastVersion  uint64    `json:"last_version"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	// UpdatedAt carries the commit time of the last projected event, not the
	// row write time; the staleness sweep depends on that.
	UpdatedAt  time.Time  `gorm:"index;autoUpdateTime:false" json:"updated_at"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
}

// Message is one conversation turn.
type Message struct {
	ID       string `gorm:"primaryKey;size:64" json:"id"`
	StreamID string `gorm:"index:idx_messages_stream_position,priority:1;size:128" json:"stream_id"`
	// Position is the 1-based, oldest-first ordinal within the conversation.
	Position  int            `gorm:"index:idx_messages_stream_position,priority:2" json:"position"`
	Role      string         `gorm:"size:16" json:"role"`
	Content   string         `gorm:"type:text" json:"content"`
	Status    string         `gorm:"size:16" json:"status"`
	ModelID   string         `gorm:"size:128" json:"model_id,omitempty"`
	Sources   datatypes.JSON `json:"sources,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime:false" json:"updated_at"`
}

// Chunk is one streamed fragment of an in-flight assistant message. Chunk
// rows are transient: they are deleted once their message completes.
type Chunk struct {
	// ID is message id + chunk index, making re-projection idempotent.
	ID        string    `gorm:"primaryKey;size:80" json:"id"`
	StreamID  string    `gorm:"index;size:128" json:"stream_id"`
	MessageID string    `gorm:"index;size:64" json:"message_id"`
	Index     int       `json:"index"`
	Content   string    `gorm:"type:text" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ToolCall is one tool invocation row.
type ToolCall struct {
	ID        string         `gorm:"primaryKey;size:64" json:"id"`
	StreamID  string         `gorm:"index;size:128" json:"stream_id"`
	MessageID string         `gorm:"index;size:64" json:"message_id"`
	Name      string         `gorm:"size:128" json:"name"`
	Arguments datatypes.JSON `json:"arguments,omitempty"`
	Result    datatypes.JSON `json:"result,omitempty"`
	Status    string         `gorm:"size:16" json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime:false" json:"updated_at"`
}

const (
	ToolCallRunning   = "running"
	ToolCallCompleted = "completed"
)
