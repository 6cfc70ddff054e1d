package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wildkoala/chronicle/core/es"
)

// ErrUnknownPosition rejects forks pointing past the parent's messages.
var ErrUnknownPosition = es.NewDomainError("unknown_position", "no message at the requested position")

// ForkResult describes the conversation a fork produced.
type ForkResult struct {
	ConversationID string
	StreamID       string
	ParentStreamID string
	ForkAtVersion  es.Version
	Events         []es.Envelope
}

// Forker copies a prefix of a parent conversation into a fresh stream. Fork
// is distinct from ordinary command execution: it translates the parent's
// events up to a target message position — remapping conversation, message
// and tool-call identifiers — and appends them to a new stream followed by
// one Forked event recording provenance. The parent stream is never mutated.
type Forker struct {
	log    *slog.Logger
	store  es.EventStore
	events *es.EventRegistry
}

func NewForker(log *slog.Logger, store es.EventStore, events *es.EventRegistry) *Forker {
	return &Forker{
		log:    log.With(slog.String("component", "forker")),
		store:  store,
		events: events,
	}
}

// Fork copies parentStreamID up to the 1-based, oldest-first message
// position and appends the translated sequence to a new stream. The fork
// version is the parent version at which that message was recorded; message
// positions are only recorded by events valid outside an in-flight stream,
// so the copied prefix always ends in active status.
func (f *Forker) Fork(ctx context.Context, parentStreamID string, position int) (*ForkResult, error) {
	if position < 1 {
		return nil, ErrUnknownPosition
	}

	parent, err := f.readAll(ctx, parentStreamID)
	if err != nil {
		return nil, err
	}
	if len(parent) == 0 {
		return nil, fmt.Errorf("%w: %s", es.ErrStreamNotFound, parentStreamID)
	}

	forkVersion, err := forkVersionAt(parent, position)
	if err != nil {
		return nil, err
	}

	var (
		conversationID = uuid.NewString()
		streamID       = StreamID(conversationID)
		ids            = map[string]string{} // parent id -> fork id
		remap          = func(id string) string {
			if id == "" {
				return id
			}
			mapped, ok := ids[id]
			if !ok {
				mapped = uuid.NewString()
				ids[id] = mapped
			}
			return mapped
		}
	)

	translated := make([]es.Event, 0, int(forkVersion)+1)
	for _, env := range parent {
		if env.Version > forkVersion {
			break
		}
		decoded, err := f.events.Decode(env)
		if err != nil {
			return nil, err
		}
		event, ok := decoded.(es.Event)
		if !ok {
			return nil, fmt.Errorf("%w: %s", es.ErrUnknownEventType, env.Type)
		}
		translateIdentifiers(event, conversationID, remap)
		translated = append(translated, event)
	}
	translated = append(translated, &Forked{
		ParentStreamID: parentStreamID,
		ForkAtVersion:  forkVersion,
		ForkedAt:       time.Now().Truncate(time.Microsecond),
	})

	res, err := es.Append(ctx, f.store, streamID, 0, translated...)
	if err != nil {
		return nil, err
	}

	f.log.Info("forked conversation",
		slog.String("parent_stream_id", parentStreamID),
		slog.String("stream_id", streamID),
		forkVersion.SlogAttrWithKey("fork_at_version"),
		slog.Int("num_events", len(translated)),
	)

	return &ForkResult{
		ConversationID: conversationID,
		StreamID:       streamID,
		ParentStreamID: parentStreamID,
		ForkAtVersion:  forkVersion,
		Events:         res.Events,
	}, nil
}

func (f *Forker) readAll(ctx context.Context, streamID string) ([]es.Envelope, error) {
	const page = 1000
	var all []es.Envelope
	from := es.Version(1)
	for {
		envs, err := f.store.ReadForward(ctx, streamID, from, page)
		if err != nil {
			return nil, err
		}
		all = append(all, envs...)
		if len(envs) < page {
			return all, nil
		}
		from = envs[len(envs)-1].Version + 1
	}
}

// forkVersionAt returns the version of the event that recorded the message
// at the given oldest-first position. User turns are recorded by
// user_message_added, assistant turns by assistant_stream_completed.
func forkVersionAt(parent []es.Envelope, position int) (es.Version, error) {
	seen := 0
	for _, env := range parent {
		switch env.Type {
		case EventUserMessage, EventStreamCompleted:
			seen++
			if seen == position {
				return env.Version, nil
			}
		}
	}
	return 0, ErrUnknownPosition
}

// translateIdentifiers substitutes fork-local identifiers in place while
// leaving order, content and timestamps untouched.
func translateIdentifiers(event es.Event, conversationID string, remap func(string) string) {
	switch e := event.(type) {
	case *Created:
		e.ConversationID = conversationID
	case *UserMessageAdded:
		e.MessageID = remap(e.MessageID)
	case *StreamStarted:
		e.MessageID = remap(e.MessageID)
	case *ChunkReceived:
		e.MessageID = remap(e.MessageID)
	case *StreamCompleted:
		e.MessageID = remap(e.MessageID)
	case *StreamFailed:
		e.MessageID = remap(e.MessageID)
	case *ToolCallStarted:
		e.ToolCallID = remap(e.ToolCallID)
		e.MessageID = remap(e.MessageID)
	case *ToolCallCompleted:
		e.ToolCallID = remap(e.ToolCallID)
	case *Truncated:
		e.MessageID = remap(e.MessageID)
	}
}
