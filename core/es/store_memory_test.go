package es

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStore_AppendAndReadForward(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	res, err := Append(ctx, store, "tally-1", 0,
		&tallyAdded{Amount: 1},
		&tallyAdded{Amount: 2},
	)
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
	assert.Equal(t, uint64(2), res.LastSeq)
	assert.Equal(t, Version(1), res.Events[0].Version)
	assert.Equal(t, Version(2), res.Events[1].Version)

	envs, err := store.ReadForward(ctx, "tally-1", 1, 0)
	require.NoError(t, err)
	require.Len(t, envs, 2)
	assert.Equal(t, "tally_added", envs[0].Type)

	envs, err = store.ReadForward(ctx, "tally-1", 2, 0)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, Version(2), envs[0].Version)

	version, err := store.CurrentVersion(ctx, "tally-1")
	require.NoError(t, err)
	assert.Equal(t, Version(2), version)

	version, err = store.CurrentVersion(ctx, "tally-2")
	require.NoError(t, err)
	assert.Equal(t, Version(0), version)
}

func TestInMemoryStore_AppendConflict(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	_, err := Append(ctx, store, "tally-1", 0, &tallyAdded{Amount: 1})
	require.NoError(t, err)

	// stale expected version
	_, err = Append(ctx, store, "tally-1", 0, &tallyAdded{Amount: 2})
	require.ErrorIs(t, err, ErrConflict)

	// too far ahead
	_, err = Append(ctx, store, "tally-1", 5, &tallyAdded{Amount: 2})
	require.ErrorIs(t, err, ErrConflict)

	// the failed appends left nothing behind
	version, err := store.CurrentVersion(ctx, "tally-1")
	require.NoError(t, err)
	assert.Equal(t, Version(1), version)
}

func TestInMemoryStore_ConcurrentAppendExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	const writers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := Append(ctx, store, "tally-1", 0, &tallyAdded{Amount: n})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrConflict)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)

	envs, err := store.ReadForward(ctx, "tally-1", 1, 0)
	require.NoError(t, err)
	assert.Len(t, envs, 1)
}

func TestInMemoryStore_ReadAll(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	_, err := Append(ctx, store, "tally-1", 0, &tallyAdded{Amount: 1})
	require.NoError(t, err)
	_, err = Append(ctx, store, "tally-2", 0, &tallyAdded{Amount: 2})
	require.NoError(t, err)
	_, err = Append(ctx, store, "tally-1", 1, &tallyAdded{Amount: 3})
	require.NoError(t, err)

	envs, err := store.ReadAll(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, envs, 3)
	for i, e := range envs {
		assert.Equal(t, uint64(i+1), e.Seq)
	}

	envs, err = store.ReadAll(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, uint64(2), envs[0].Seq)
}

func TestInMemoryStore_SubscribeDeliversCommittedBatches(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	sub, err := store.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Cancel()

	filtered, err := store.Subscribe(ctx, WithStreamFilter("tally-2"))
	require.NoError(t, err)
	defer filtered.Cancel()

	_, err = Append(ctx, store, "tally-1", 0, &tallyAdded{Amount: 1})
	require.NoError(t, err)
	_, err = Append(ctx, store, "tally-2", 0, &tallyAdded{Amount: 2})
	require.NoError(t, err)

	b := recvBatch(t, sub)
	assert.Equal(t, "tally-1", b.StreamID)
	b = recvBatch(t, sub)
	assert.Equal(t, "tally-2", b.StreamID)

	b = recvBatch(t, filtered)
	assert.Equal(t, "tally-2", b.StreamID)
	require.Len(t, b.Events, 1)
	assert.Equal(t, Version(1), b.Events[0].Version)
}

func recvBatch(t *testing.T, sub Subscription) Batch {
	t.Helper()
	select {
	case b := <-sub.Chan():
		return b
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for batch")
		return Batch{}
	}
}
