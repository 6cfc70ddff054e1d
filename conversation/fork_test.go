package conversation

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildkoala/chronicle/core/es"
)

func newConversationExecutor(t *testing.T, store es.EventStore) (*es.Executor, *es.EventRegistry) {
	t.Helper()
	events := es.NewEventRegistry()
	RegisterEvents(events)
	types := es.NewTypeTable()
	Register(types)
	return es.NewExecutor(slog.Default(), store, es.NewInMemorySnapshotStore(), events, types), events
}

// seedConversation records two full exchanges plus a title change and
// returns the stream ID.
func seedConversation(t *testing.T, x *es.Executor) string {
	t.Helper()
	ctx := context.Background()
	streamID := StreamID("parent")

	run := func(cmd es.Command) *es.ExecuteResult {
		res, err := x.Execute(ctx, streamID, cmd)
		require.NoError(t, err)
		return res
	}

	run(&CreateConversation{ConversationID: "parent", UserID: "u1", Title: "parent"})
	run(&AddUserMessage{Content: "first question"})
	run(&StartAssistantStream{ModelID: "m"})
	run(&ReceiveChunk{Content: "first "})
	run(&ReceiveChunk{Content: "answer"})
	res := run(&StartToolCall{Name: "lookup"})
	state := res.State.(*Conversation)
	run(&CompleteToolCall{ToolCallID: state.CurrentStream.ToolCalls[0].ID})
	run(&CompleteStream{})
	run(&AddUserMessage{Content: "second question"})
	run(&StartAssistantStream{ModelID: "m"})
	run(&CompleteStream{Content: "second answer"})
	run(&UpdateTitle{Title: "renamed"})

	return streamID
}

func TestForker_ForkAtPosition(t *testing.T) {
	ctx := context.Background()
	store := es.NewInMemoryStore()
	x, events := newConversationExecutor(t, store)
	parentID := seedConversation(t, x)

	forker := NewForker(slog.Default(), store, events)

	// position 2 is the first assistant answer
	res, err := forker.Fork(ctx, parentID, 2)
	require.NoError(t, err)
	assert.Equal(t, parentID, res.ParentStreamID)
	assert.NotEqual(t, parentID, res.StreamID)
	assert.Equal(t, StreamID(res.ConversationID), res.StreamID)

	fork, version, err := es.LoadAs[*Conversation](ctx, x, res.StreamID)
	require.NoError(t, err)
	assert.Equal(t, res.ForkAtVersion+1, version) // prefix plus the fork marker

	// the fork holds exactly the first exchange and is immediately usable
	assert.Equal(t, StatusActive, fork.Status)
	require.Len(t, fork.Messages, 2)
	assert.Equal(t, "first answer", fork.Messages[0].Content)
	assert.Equal(t, "first question", fork.Messages[1].Content)
	assert.Equal(t, parentID, fork.ParentStreamID)
	assert.Equal(t, res.ForkAtVersion, fork.ForkAtVersion)

	// identifiers are fork-local
	parent, _, err := es.LoadAs[*Conversation](ctx, x, parentID)
	require.NoError(t, err)
	assert.NotEqual(t, parent.ConversationID, fork.ConversationID)
	assert.NotEqual(t, parent.Messages[len(parent.Messages)-1].ID, fork.Messages[1].ID)

	// the fork diverges without touching the parent
	_, err = x.Execute(ctx, res.StreamID, &AddUserMessage{Content: "different question"})
	require.NoError(t, err)
	parentVersion, err := store.CurrentVersion(ctx, parentID)
	require.NoError(t, err)
	assert.Less(t, res.ForkAtVersion, parentVersion)
}

func TestForker_RemapsIDsConsistently(t *testing.T) {
	ctx := context.Background()
	store := es.NewInMemoryStore()
	x, events := newConversationExecutor(t, store)
	parentID := seedConversation(t, x)

	forker := NewForker(slog.Default(), store, events)
	res, err := forker.Fork(ctx, parentID, 2)
	require.NoError(t, err)

	// every event referring to the first assistant message must agree on its
	// remapped ID, chunk and tool-call events included
	ids := map[string]bool{}
	for _, env := range res.Events {
		decoded, err := events.Decode(env)
		require.NoError(t, err)
		switch e := decoded.(type) {
		case *StreamStarted:
			ids[e.MessageID] = true
		case *ChunkReceived:
			ids[e.MessageID] = true
		case *ToolCallStarted:
			ids[e.MessageID] = true
		case *StreamCompleted:
			ids[e.MessageID] = true
		}
	}
	assert.Len(t, ids, 1)
}

func TestForker_ForkWholeConversation(t *testing.T) {
	ctx := context.Background()
	store := es.NewInMemoryStore()
	x, events := newConversationExecutor(t, store)
	parentID := seedConversation(t, x)

	forker := NewForker(slog.Default(), store, events)
	res, err := forker.Fork(ctx, parentID, 4)
	require.NoError(t, err)

	fork, _, err := es.LoadAs[*Conversation](ctx, x, res.StreamID)
	require.NoError(t, err)
	require.Len(t, fork.Messages, 4)
	// the title change came after the last message, so it is not part of
	// the copied prefix
	assert.Equal(t, "parent", fork.Title)
}

func TestForker_InvalidPositions(t *testing.T) {
	ctx := context.Background()
	store := es.NewInMemoryStore()
	x, events := newConversationExecutor(t, store)
	parentID := seedConversation(t, x)

	forker := NewForker(slog.Default(), store, events)

	_, err := forker.Fork(ctx, parentID, 0)
	assert.ErrorIs(t, err, ErrUnknownPosition)
	_, err = forker.Fork(ctx, parentID, 5)
	assert.ErrorIs(t, err, ErrUnknownPosition)
	_, err = forker.Fork(ctx, StreamID("missing"), 1)
	assert.ErrorIs(t, err, es.ErrStreamNotFound)
}
