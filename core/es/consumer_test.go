package es

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectingHandler struct {
	mu   sync.Mutex
	envs []Envelope
}

func (h *collectingHandler) HandleBatch(_ context.Context, b Batch) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.envs = append(h.envs, b.Events...)
	return nil
}

func (h *collectingHandler) seqs() []uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]uint64, 0, len(h.envs))
	for _, e := range h.envs {
		out = append(out, e.Seq)
	}
	return out
}

func TestConsumer_CatchUpThenLive(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	checkpoints := NewInMemCheckpointStore()
	handler := &collectingHandler{}

	// history before the consumer exists
	for i := 0; i < 5; i++ {
		_, err := Append(ctx, store, "tally-1", Version(i), &tallyAdded{Amount: i})
		require.NoError(t, err)
	}

	c := NewConsumer(slog.Default(), store, checkpoints, handler,
		WithConsumerName("test"),
		WithConsumerPageSize(2),
	)
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	// live deliveries after catch-up
	for i := 5; i < 8; i++ {
		_, err := Append(ctx, store, "tally-1", Version(i), &tallyAdded{Amount: i})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return len(handler.seqs()) == 8
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7, 8}, handler.seqs())

	seq, err := checkpoints.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), seq)
}

func TestConsumer_ResumesFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	checkpoints := NewInMemCheckpointStore()
	handler := &collectingHandler{}

	for i := 0; i < 6; i++ {
		_, err := Append(ctx, store, "tally-1", Version(i), &tallyAdded{Amount: i})
		require.NoError(t, err)
	}
	require.NoError(t, checkpoints.Set(ctx, 4))

	c := NewConsumer(slog.Default(), store, checkpoints, handler)
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	require.Eventually(t, func() bool {
		return len(handler.seqs()) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []uint64{5, 6}, handler.seqs())
}

func TestConsumer_DropsAlreadyHandledSeqs(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	checkpoints := NewInMemCheckpointStore()
	handler := &collectingHandler{}

	c := NewConsumer(slog.Default(), store, checkpoints, handler)
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	_, err := Append(ctx, store, "tally-1", 0, &tallyAdded{Amount: 1})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(handler.seqs()) == 1
	}, time.Second, 10*time.Millisecond)

	// redelivering the same seq is a no-op
	seq, handled, err := c.handleBatch(ctx, Batch{
		StreamID: "tally-1",
		Events:   handler.envs[:1],
	}, 1)
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Equal(t, uint64(1), seq)
}
