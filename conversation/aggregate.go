package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wildkoala/chronicle/core/es"
)

// AggregateType is the stream ID prefix for conversation streams.
const AggregateType = "conversation"

// DefaultTitle is used when a conversation is created without one.
const DefaultTitle = "New Conversation"

// StreamID returns the stream identifier for a conversation,
// "conversation-<uuid>".
func StreamID(conversationID string) string {
	return es.StreamIDFor(AggregateType, conversationID)
}

type Status string

const (
	// StatusCreated is the initial state before the creation event; no
	// conversation exists yet.
	StatusCreated   Status = "created"
	StatusActive    Status = "active"
	StatusStreaming Status = "streaming"
	// StatusArchived is terminal and absorbing: every command is rejected.
	StatusArchived Status = "archived"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	MessageComplete  = "complete"
	MessageStreaming = "streaming"
	MessageFailed    = "failed"
)

// Domain errors. Archived conversations always yield ErrArchived regardless
// of which command was attempted.
var (
	ErrArchived         = es.NewDomainError("already_archived", "conversation is archived")
	ErrAlreadyCreated   = es.NewDomainError("already_created", "conversation already exists")
	ErrNotCreated       = es.NewDomainError("not_created", "conversation does not exist")
	ErrNotActive        = es.NewDomainError("not_active", "conversation is not active")
	ErrNotStreaming     = es.NewDomainError("not_streaming", "no assistant stream in progress")
	ErrAlreadyStreaming = es.NewDomainError("already_streaming", "an assistant stream is in progress")
	ErrEmptyMessage     = es.NewDomainError("empty_message", "message content is empty")
	ErrEmptyTitle       = es.NewDomainError("empty_title", "title is empty")
	ErrUnknownMessage   = es.NewDomainError("unknown_message", "message not found in conversation")
	ErrUnknownToolCall  = es.NewDomainError("unknown_tool_call", "tool call not found or already completed")
)

// Message is one conversation turn as derived state.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// ToolCall tracks one tool invocation within the in-flight stream.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
	Completed bool           `json:"completed"`
}

// StreamState is the sub-record active only while Status == streaming.
type StreamState struct {
	MessageID string     `json:"message_id"`
	ModelID   string     `json:"model_id"`
	Chunks    []string   `json:"chunks"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Conversation is the derived state of one conversation stream. It is never
// persisted as a primary record: each load folds the stream's events (after
// an optional snapshot) through Apply, and it is recreated fresh for every
// command execution.
type Conversation struct {
	ConversationID string     `json:"conversation_id"`
	UserID         string     `json:"user_id"`
	Title          string     `json:"title"`
	ModelID        string     `json:"model_id,omitempty"`
	SystemPrompt   string     `json:"system_prompt,omitempty"`
	LLMModelID     string     `json:"llm_model_id,omitempty"`
	ParentStreamID string     `json:"parent_stream_id,omitempty"`
	ForkAtVersion  es.Version `json:"fork_at_version,omitempty"`
	Status         Status     `json:"status"`
	// Messages is ordered newest-first.
	Messages      []Message    `json:"messages"`
	CurrentStream *StreamState `json:"current_stream,omitempty"`
}

// New returns a conversation in its initial state.
func New() *Conversation {
	return &Conversation{Status: StatusCreated}
}

// Register adds the conversation factory to the aggregate type table.
func Register(t *es.TypeTable) {
	t.Register(AggregateType, func() es.Aggregate { return New() })
}

func (c *Conversation) AggregateType() string { return AggregateType }

// message returns the index of id in Messages, or -1.
func (c *Conversation) message(id string) int {
	for i, m := range c.Messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// Apply folds one event into the state. It performs exactly the mutation the
// event implies and nothing else: no I/O, no randomness, no time reads — all
// such values were decided in Handle and embedded in the event data, so
// replay is deterministic.
func (c *Conversation) Apply(event any) error {
	switch e := event.(type) {
	case *Created:
		c.ConversationID = e.ConversationID
		c.UserID = e.UserID
		c.Title = e.Title
		c.ModelID = e.ModelID
		c.SystemPrompt = e.SystemPrompt
		c.LLMModelID = e.LLMModelID
		c.Status = StatusActive

	case *UserMessageAdded:
		c.Messages = append([]Message{{
			ID:        e.MessageID,
			Role:      RoleUser,
			Content:   e.Content,
			Status:    MessageComplete,
			CreatedAt: e.CreatedAt,
		}}, c.Messages...)

	case *StreamStarted:
		c.Messages = append([]Message{{
			ID:        e.MessageID,
			Role:      RoleAssistant,
			Status:    MessageStreaming,
			CreatedAt: e.StartedAt,
		}}, c.Messages...)
		c.CurrentStream = &StreamState{MessageID: e.MessageID, ModelID: e.ModelID}
		c.Status = StatusStreaming

	case *ChunkReceived:
		if c.CurrentStream != nil {
			c.CurrentStream.Chunks = append(c.CurrentStream.Chunks, e.Content)
		}

	case *StreamCompleted:
		if i := c.message(e.MessageID); i >= 0 {
			c.Messages[i].Content = e.Content
			c.Messages[i].Status = MessageComplete
		}
		c.CurrentStream = nil
		c.Status = StatusActive

	case *StreamFailed:
		if i := c.message(e.MessageID); i >= 0 {
			if c.CurrentStream != nil {
				c.Messages[i].Content = strings.Join(c.CurrentStream.Chunks, "")
			}
			c.Messages[i].Status = MessageFailed
		}
		c.CurrentStream = nil
		c.Status = StatusActive

	case *ToolCallStarted:
		if c.CurrentStream != nil {
			c.CurrentStream.ToolCalls = append(c.CurrentStream.ToolCalls, ToolCall{
				ID:        e.ToolCallID,
				Name:      e.Name,
				Arguments: e.Arguments,
			})
		}

	case *ToolCallCompleted:
		if c.CurrentStream != nil {
			for i := range c.CurrentStream.ToolCalls {
				if c.CurrentStream.ToolCalls[i].ID == e.ToolCallID {
					c.CurrentStream.ToolCalls[i].Result = e.Result
					c.CurrentStream.ToolCalls[i].Completed = true
				}
			}
		}

	case *Forked:
		c.ParentStreamID = e.ParentStreamID
		c.ForkAtVersion = e.ForkAtVersion

	case *TitleUpdated:
		c.Title = e.Title

	case *Archived:
		c.CurrentStream = nil
		c.Status = StatusArchived

	case *Truncated:
		// Messages are newest-first: the target and everything newer go.
		if i := c.message(e.MessageID); i >= 0 {
			c.Messages = c.Messages[i+1:]
		}
		c.CurrentStream = nil
		c.Status = StatusActive

	default:
		return fmt.Errorf("unknown conversation event: %T", event)
	}
	return nil
}

// Handle validates cmd against the current state and returns the events to
// record. It never mutates the state: transitions happen only when the
// returned events are folded back through Apply.
func (c *Conversation) Handle(cmd es.Command) ([]es.Event, error) {
	// archived is absorbing
	if c.Status == StatusArchived {
		return nil, ErrArchived
	}

	now := time.Now().Truncate(time.Microsecond)

	switch cmd := cmd.(type) {
	case *CreateConversation:
		if c.Status != StatusCreated {
			return nil, ErrAlreadyCreated
		}
		if cmd.ConversationID == "" || cmd.UserID == "" {
			return nil, es.NewDomainError("invalid_create", "conversation id and user id are required")
		}
		title := cmd.Title
		if title == "" {
			title = DefaultTitle
		}
		return []es.Event{&Created{
			ConversationID: cmd.ConversationID,
			UserID:         cmd.UserID,
			Title:          title,
			ModelID:        cmd.ModelID,
			SystemPrompt:   cmd.SystemPrompt,
			LLMModelID:     cmd.LLMModelID,
			CreatedAt:      now,
		}}, nil
	}

	if c.Status == StatusCreated {
		return nil, ErrNotCreated
	}

	switch cmd := cmd.(type) {
	case *AddUserMessage:
		if c.Status != StatusActive {
			return nil, ErrAlreadyStreaming
		}
		if strings.TrimSpace(cmd.Content) == "" {
			return nil, ErrEmptyMessage
		}
		return []es.Event{&UserMessageAdded{
			MessageID: uuid.NewString(),
			Content:   cmd.Content,
			CreatedAt: now,
		}}, nil

	case *StartAssistantStream:
		if c.Status != StatusActive {
			return nil, ErrAlreadyStreaming
		}
		return []es.Event{&StreamStarted{
			MessageID: uuid.NewString(),
			ModelID:   cmd.ModelID,
			StartedAt: now,
		}}, nil

	case *ReceiveChunk:
		if c.Status != StatusStreaming {
			return nil, ErrNotStreaming
		}
		return []es.Event{&ChunkReceived{
			MessageID: c.CurrentStream.MessageID,
			Index:     len(c.CurrentStream.Chunks),
			Content:   cmd.Content,
		}}, nil

	case *CompleteStream:
		if c.Status != StatusStreaming {
			return nil, ErrNotStreaming
		}
		content := cmd.Content
		if content == "" {
			content = strings.Join(c.CurrentStream.Chunks, "")
		}
		return []es.Event{&StreamCompleted{
			MessageID:   c.CurrentStream.MessageID,
			Content:     content,
			Sources:     cmd.Sources,
			CompletedAt: now,
		}}, nil

	case *FailStream:
		if c.Status != StatusStreaming {
			return nil, ErrNotStreaming
		}
		return []es.Event{&StreamFailed{
			MessageID: c.CurrentStream.MessageID,
			Reason:    cmd.Reason,
			FailedAt:  now,
		}}, nil

	case *StartToolCall:
		if c.Status != StatusStreaming {
			return nil, ErrNotStreaming
		}
		return []es.Event{&ToolCallStarted{
			ToolCallID: uuid.NewString(),
			MessageID:  c.CurrentStream.MessageID,
			Name:       cmd.Name,
			Arguments:  cmd.Arguments,
			StartedAt:  now,
		}}, nil

	case *CompleteToolCall:
		if c.Status != StatusStreaming {
			return nil, ErrNotStreaming
		}
		for _, tc := range c.CurrentStream.ToolCalls {
			if tc.ID == cmd.ToolCallID && !tc.Completed {
				return []es.Event{&ToolCallCompleted{
					ToolCallID:  cmd.ToolCallID,
					Result:      cmd.Result,
					CompletedAt: now,
				}}, nil
			}
		}
		return nil, ErrUnknownToolCall

	case *UpdateTitle:
		if strings.TrimSpace(cmd.Title) == "" {
			return nil, ErrEmptyTitle
		}
		if cmd.Title == c.Title {
			return nil, nil // no-op
		}
		return []es.Event{&TitleUpdated{Title: cmd.Title, UpdatedAt: now}}, nil

	case *Archive:
		return []es.Event{&Archived{ArchivedAt: now}}, nil

	case *TruncateConversation:
		if c.message(cmd.MessageID) < 0 {
			return nil, ErrUnknownMessage
		}
		return []es.Event{&Truncated{MessageID: cmd.MessageID, TruncatedAt: now}}, nil
	}

	return nil, fmt.Errorf("%w: %T", es.ErrUnknownCommand, cmd)
}

var _ es.Aggregate = (*Conversation)(nil)
