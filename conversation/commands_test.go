package conversation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildkoala/chronicle/core/es"
)

func TestCommandRegistry_DecodesByName(t *testing.T) {
	r := es.NewCommandRegistry()
	RegisterCommands(r)

	cmd, err := r.Decode("add_user_message", json.RawMessage(`{"content":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, &AddUserMessage{Content: "hello"}, cmd)

	cmd, err = r.Decode("start_tool_call", json.RawMessage(`{"name":"lookup","arguments":{"q":"x"}}`))
	require.NoError(t, err)
	assert.Equal(t, &StartToolCall{Name: "lookup", Arguments: map[string]any{"q": "x"}}, cmd)

	cmd, err = r.Decode("archive", nil)
	require.NoError(t, err)
	assert.Equal(t, &Archive{}, cmd)

	_, err = r.Decode("self_destruct", nil)
	assert.ErrorIs(t, err, es.ErrUnknownCommand)
}

func TestEventRegistry_RoundTrip(t *testing.T) {
	r := es.NewEventRegistry()
	RegisterEvents(r)

	envs, err := es.WrapAll(StreamID("c1"), 0, []es.Event{
		&UserMessageAdded{MessageID: "m1", Content: "hi"},
	})
	require.NoError(t, err)

	decoded, err := r.Decode(envs[0])
	require.NoError(t, err)
	event, ok := decoded.(*UserMessageAdded)
	require.True(t, ok)
	assert.Equal(t, "m1", event.MessageID)
	assert.Equal(t, "hi", event.Content)
}
