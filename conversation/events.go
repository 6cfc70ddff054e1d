package conversation

import (
	"time"

	"github.com/wildkoala/chronicle/core/es"
)

// Event type discriminators, persisted in the envelope's event_type column.
// These names are part of the storage contract and must never change.
const (
	EventCreated         = "conversation_created"
	EventUserMessage     = "user_message_added"
	EventStreamStarted   = "assistant_stream_started"
	EventChunkReceived   = "assistant_chunk_received"
	EventStreamCompleted = "assistant_stream_completed"
	EventStreamFailed    = "assistant_stream_failed"
	EventToolCallStarted = "tool_call_started"
	EventToolCallDone    = "tool_call_completed"
	EventForked          = "conversation_forked"
	EventTitleUpdated    = "conversation_title_updated"
	EventArchived        = "conversation_archived"
	EventTruncated       = "conversation_truncated"
)

// Source is a retrieval-augmented-generation attribution entry carried on
// stream completion. Only sources actually cited in the final text survive
// projection (see readmodel.FilterCitedSources).
type Source struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	URI   string `json:"uri,omitempty"`
}

type (
	Created struct {
		ConversationID string    `json:"conversation_id"`
		UserID         string    `json:"user_id"`
		Title          string    `json:"title"`
		ModelID        string    `json:"model_id,omitempty"`
		SystemPrompt   string    `json:"system_prompt,omitempty"`
		LLMModelID     string    `json:"llm_model_id,omitempty"`
		CreatedAt      time.Time `json:"created_at"`
	}

	UserMessageAdded struct {
		MessageID string    `json:"message_id"`
		Content   string    `json:"content"`
		CreatedAt time.Time `json:"created_at"`
	}

	StreamStarted struct {
		MessageID string    `json:"message_id"`
		ModelID   string    `json:"model_id"`
		StartedAt time.Time `json:"started_at"`
	}

	ChunkReceived struct {
		MessageID string `json:"message_id"`
		Index     int    `json:"index"`
		Content   string `json:"content"`
	}

	StreamCompleted struct {
		MessageID   string    `json:"message_id"`
		Content     string    `json:"content"`
		Sources     []Source  `json:"sources,omitempty"`
		CompletedAt time.Time `json:"completed_at"`
	}

	StreamFailed struct {
		MessageID string    `json:"message_id"`
		Reason    string    `json:"reason"`
		FailedAt  time.Time `json:"failed_at"`
	}

	ToolCallStarted struct {
		ToolCallID string         `json:"tool_call_id"`
		MessageID  string         `json:"message_id"`
		Name       string         `json:"name"`
		Arguments  map[string]any `json:"arguments,omitempty"`
		StartedAt  time.Time      `json:"started_at"`
	}

	ToolCallCompleted struct {
		ToolCallID  string         `json:"tool_call_id"`
		Result      map[string]any `json:"result,omitempty"`
		CompletedAt time.Time      `json:"completed_at"`
	}

	Forked struct {
		ParentStreamID string     `json:"parent_stream_id"`
		ForkAtVersion  es.Version `json:"fork_at_version"`
		ForkedAt       time.Time  `json:"forked_at"`
	}

	TitleUpdated struct {
		Title     string    `json:"title"`
		UpdatedAt time.Time `json:"updated_at"`
	}

	Archived struct {
		ArchivedAt time.Time `json:"archived_at"`
	}

	Truncated struct {
		MessageID   string    `json:"message_id"`
		TruncatedAt time.Time `json:"truncated_at"`
	}
)

func (*Created) EventType() string           { return EventCreated }
func (*UserMessageAdded) EventType() string  { return EventUserMessage }
func (*StreamStarted) EventType() string     { return EventStreamStarted }
func (*ChunkReceived) EventType() string     { return EventChunkReceived }
func (*StreamCompleted) EventType() string   { return EventStreamCompleted }
func (*StreamFailed) EventType() string      { return EventStreamFailed }
func (*ToolCallStarted) EventType() string   { return EventToolCallStarted }
func (*ToolCallCompleted) EventType() string { return EventToolCallDone }
func (*Forked) EventType() string            { return EventForked }
func (*TitleUpdated) EventType() string      { return EventTitleUpdated }
func (*Archived) EventType() string          { return EventArchived }
func (*Truncated) EventType() string         { return EventTruncated }

// RegisterEvents adds every conversation event type to the registry.
func RegisterEvents(r es.Registrar) {
	r.Register(
		es.EventOf[Created](),
		es.EventOf[UserMessageAdded](),
		es.EventOf[StreamStarted](),
		es.EventOf[ChunkReceived](),
		es.EventOf[StreamCompleted](),
		es.EventOf[StreamFailed](),
		es.EventOf[ToolCallStarted](),
		es.EventOf[ToolCallCompleted](),
		es.EventOf[Forked](),
		es.EventOf[TitleUpdated](),
		es.EventOf[Archived](),
		es.EventOf[Truncated](),
	)
}
