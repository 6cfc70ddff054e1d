package conversation

import "github.com/wildkoala/chronicle/core/es"

type (
	CreateConversation struct {
		ConversationID string `json:"conversation_id"`
		UserID         string `json:"user_id"`
		Title          string `json:"title,omitempty"`
		ModelID        string `json:"model_id,omitempty"`
		SystemPrompt   string `json:"system_prompt,omitempty"`
		LLMModelID     string `json:"llm_model_id,omitempty"`
	}

	AddUserMessage struct {
		Content string `json:"content"`
	}

	StartAssistantStream struct {
		ModelID string `json:"model_id"`
	}

	ReceiveChunk struct {
		Content string `json:"content"`
	}

	CompleteStream struct {
		// Content is the full assembled text. When empty the accumulated
		// chunks are joined instead.
		Content string   `json:"content,omitempty"`
		Sources []Source `json:"sources,omitempty"`
	}

	FailStream struct {
		Reason string `json:"reason"`
	}

	StartToolCall struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments,omitempty"`
	}

	CompleteToolCall struct {
		ToolCallID string         `json:"tool_call_id"`
		Result     map[string]any `json:"result,omitempty"`
	}

	UpdateTitle struct {
		Title string `json:"title"`
	}

	Archive struct{}

	TruncateConversation struct {
		// MessageID is the first message to drop; it and every later
		// message are removed.
		MessageID string `json:"message_id"`
	}
)

func (*CreateConversation) CommandName() string   { return "create_conversation" }
func (*AddUserMessage) CommandName() string       { return "add_user_message" }
func (*StartAssistantStream) CommandName() string { return "start_assistant_stream" }
func (*ReceiveChunk) CommandName() string         { return "receive_chunk" }
func (*CompleteStream) CommandName() string       { return "complete_stream" }
func (*FailStream) CommandName() string           { return "fail_stream" }
func (*StartToolCall) CommandName() string        { return "start_tool_call" }
func (*CompleteToolCall) CommandName() string     { return "complete_tool_call" }
func (*UpdateTitle) CommandName() string          { return "update_title" }
func (*Archive) CommandName() string              { return "archive" }
func (*TruncateConversation) CommandName() string { return "truncate_conversation" }

// RegisterCommands adds every conversation command to the registry so
// external callers can submit {command_name, parameter_map} unions.
func RegisterCommands(r es.CommandRegistrar) {
	r.Register(
		es.CommandOf[CreateConversation](),
		es.CommandOf[AddUserMessage](),
		es.CommandOf[StartAssistantStream](),
		es.CommandOf[ReceiveChunk](),
		es.CommandOf[CompleteStream](),
		es.CommandOf[FailStream](),
		es.CommandOf[StartToolCall](),
		es.CommandOf[CompleteToolCall](),
		es.CommandOf[UpdateTitle](),
		es.CommandOf[Archive](),
		es.CommandOf[TruncateConversation](),
	)
}
