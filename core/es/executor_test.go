package es

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T, store EventStore, opts ...ExecutorOption) (*Executor, *InMemorySnapshotStore) {
	t.Helper()
	events, types := tallyRegistries()
	snapshots := NewInMemorySnapshotStore()
	return NewExecutor(slog.Default(), store, snapshots, events, types, opts...), snapshots
}

func TestExecutor_ExecuteAndLoad(t *testing.T) {
	ctx := context.Background()
	x, _ := newTestExecutor(t, NewInMemoryStore())

	res, err := x.Execute(ctx, "tally-1", &addToTally{Amount: 3})
	require.NoError(t, err)
	assert.Equal(t, Version(1), res.Version)
	require.Len(t, res.Events, 1)
	assert.Equal(t, &tally{Total: 3, Count: 1}, res.State)

	res, err = x.Execute(ctx, "tally-1", &addToTally{Amount: 4})
	require.NoError(t, err)
	assert.Equal(t, Version(2), res.Version)
	assert.Equal(t, &tally{Total: 7, Count: 2}, res.State)

	state, version, err := LoadAs[*tally](ctx, x, "tally-1")
	require.NoError(t, err)
	assert.Equal(t, Version(2), version)
	assert.Equal(t, &tally{Total: 7, Count: 2}, state)
}

func TestExecutor_LoadEmptyStream(t *testing.T) {
	ctx := context.Background()
	x, _ := newTestExecutor(t, NewInMemoryStore())

	state, version, err := LoadAs[*tally](ctx, x, "tally-nope")
	require.NoError(t, err)
	assert.Equal(t, Version(0), version)
	assert.Equal(t, &tally{}, state)
}

func TestExecutor_UnknownAggregateType(t *testing.T) {
	ctx := context.Background()
	x, _ := newTestExecutor(t, NewInMemoryStore())

	_, _, err := x.Load(ctx, "widget-1")
	require.ErrorIs(t, err, ErrUnknownAggregateType)
}

func TestExecutor_NoOpCommandSkipsAppend(t *testing.T) {
	ctx := context.Background()
	store := &appendCountingStore{EventStore: NewInMemoryStore()}
	x, _ := newTestExecutor(t, store)

	res, err := x.Execute(ctx, "tally-1", &addToTally{Amount: 0})
	require.NoError(t, err)
	assert.Equal(t, Version(0), res.Version)
	assert.Empty(t, res.Events)
	assert.Equal(t, 0, store.count())
}

func TestExecutor_DomainErrorIsNotRetried(t *testing.T) {
	ctx := context.Background()
	store := &appendCountingStore{EventStore: NewInMemoryStore()}
	x, _ := newTestExecutor(t, store)

	_, err := x.Execute(ctx, "tally-1", &addToTally{Amount: -1})
	require.Error(t, err)
	assert.True(t, IsDomainError(err))
	assert.Equal(t, 0, store.count())
}

func TestExecutor_RetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	store := &appendCountingStore{
		EventStore: NewInMemoryStore(),
		failures:   2,
		err:        fmt.Errorf("%w: simulated", ErrConflict),
	}
	x, _ := newTestExecutor(t, store)

	res, err := x.Execute(ctx, "tally-1", &addToTally{Amount: 1})
	require.NoError(t, err)
	assert.Equal(t, Version(1), res.Version)
	assert.Equal(t, 3, store.count())
}

func TestExecutor_ConflictRetriesExhaust(t *testing.T) {
	ctx := context.Background()
	store := &appendCountingStore{
		EventStore: NewInMemoryStore(),
		failures:   100,
		err:        fmt.Errorf("%w: simulated", ErrConflict),
	}
	x, _ := newTestExecutor(t, store)

	_, err := x.Execute(ctx, "tally-1", &addToTally{Amount: 1})
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, DefaultRetryAttempts, store.count())
}

func TestExecutor_NonConflictAppendErrorIsNotRetried(t *testing.T) {
	ctx := context.Background()
	store := &appendCountingStore{
		EventStore: NewInMemoryStore(),
		failures:   100,
		err:        fmt.Errorf("disk on fire"),
	}
	x, _ := newTestExecutor(t, store)

	_, err := x.Execute(ctx, "tally-1", &addToTally{Amount: 1})
	require.Error(t, err)
	assert.Equal(t, 1, store.count())
}

func TestExecutor_AppendMetricsRecordedOnce(t *testing.T) {
	ctx := context.Background()
	events, types := tallyRegistries()
	spy := newSpyMetrics()
	x := NewExecutor(slog.Default(), NewInMemoryStore(), NewInMemorySnapshotStore(), events, types,
		WithExecutorMetrics(spy),
	)

	_, err := x.Execute(ctx, "tally-1", &addToTally{Amount: 1})
	require.NoError(t, err)

	// one command, one append: each signal recorded exactly once
	assert.Equal(t, 1, spy.eventsAppended)
	assert.Equal(t, 1, spy.appendTimers)
}

func TestExecutor_SnapshotAtIntervalBoundary(t *testing.T) {
	ctx := context.Background()
	x, snapshots := newTestExecutor(t, NewInMemoryStore(), WithSnapshotInterval(3))

	for i := 0; i < 2; i++ {
		_, err := x.Execute(ctx, "tally-1", &addToTally{Amount: 1})
		require.NoError(t, err)
	}
	_, err := snapshots.LoadLatest(ctx, "tally-1")
	require.ErrorIs(t, err, ErrSnapshotNotFound)

	// crossing version 3 triggers the async snapshot
	_, err = x.Execute(ctx, "tally-1", &addToTally{Amount: 1})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := snapshots.LoadLatest(ctx, "tally-1")
		return err == nil
	}, time.Second, 10*time.Millisecond)

	snapshot, err := snapshots.LoadLatest(ctx, "tally-1")
	require.NoError(t, err)
	assert.Equal(t, Version(3), snapshot.Version)
	assert.Equal(t, tallyType, snapshot.Type)
}

func TestExecutor_LoadFromSnapshotMatchesFullReplay(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	x, snapshots := newTestExecutor(t, store)

	for i := 1; i <= 7; i++ {
		_, err := x.Execute(ctx, "tally-1", &addToTally{Amount: i})
		require.NoError(t, err)
	}
	full, fullVersion, err := LoadAs[*tally](ctx, x, "tally-1")
	require.NoError(t, err)

	// snapshot mid-stream, then load again through snapshot + tail
	snapAgg := &tally{}
	for _, amount := range []int{1, 2, 3, 4} {
		require.NoError(t, snapAgg.Apply(&tallyAdded{Amount: amount}))
	}
	snapshot, err := NewSnapshot(snapAgg, "tally-1", 4)
	require.NoError(t, err)
	require.NoError(t, snapshots.Save(ctx, snapshot))

	got, gotVersion, err := LoadAs[*tally](ctx, x, "tally-1")
	require.NoError(t, err)
	assert.Equal(t, fullVersion, gotVersion)
	assert.Equal(t, full, got)
}

func TestExecutor_PagedReplay(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	x, _ := newTestExecutor(t, store, WithReplayPageSize(2))

	for i := 0; i < 5; i++ {
		_, err := x.Execute(ctx, "tally-1", &addToTally{Amount: 1})
		require.NoError(t, err)
	}

	state, version, err := LoadAs[*tally](ctx, x, "tally-1")
	require.NoError(t, err)
	assert.Equal(t, Version(5), version)
	assert.Equal(t, &tally{Total: 5, Count: 5}, state)
}
