package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

const (
	// DefaultRetryAttempts bounds the optimistic-concurrency retry loop.
	DefaultRetryAttempts = 3
	// DefaultSnapshotInterval is the version boundary at whose multiples a
	// snapshot is taken (a command crossing version N*100 triggers one).
	DefaultSnapshotInterval = 100
	// DefaultReplayPageSize bounds a single ReadForward page during load.
	DefaultReplayPageSize = 10_000
)

// ExecuteResult is what a successful command execution returns: the state
// derived after folding the newly stored events, those events, and the
// stream version they brought it to.
type ExecuteResult struct {
	State   Aggregate
	Events  []Envelope
	Version Version
}

// Executor orchestrates load-from-snapshot-plus-replay and command execution
// with retry-on-conflict. It is the only write-path component that talks to
// both the event store and the snapshot store. The retry loop is the
// system's sole mechanism for serializing concurrent commands against one
// stream: command handling is cheap and pure relative to the append I/O, so
// optimistic retry beats locking.
type Executor struct {
	log       *slog.Logger
	store     EventStore
	snapshots SnapshotStore
	events    *EventRegistry
	types     *TypeTable

	retryAttempts    int
	snapshotInterval int
	replayPageSize   int
	metrics          Metrics
}

type ExecutorOption func(*Executor)

func WithRetryAttempts(n int) ExecutorOption {
	return func(x *Executor) { x.retryAttempts = n }
}

func WithSnapshotInterval(n int) ExecutorOption {
	return func(x *Executor) { x.snapshotInterval = n }
}

func WithReplayPageSize(n int) ExecutorOption {
	return func(x *Executor) { x.replayPageSize = n }
}

func WithExecutorMetrics(m Metrics) ExecutorOption {
	return func(x *Executor) { x.metrics = m }
}

func NewExecutor(
	log *slog.Logger,
	store EventStore,
	snapshots SnapshotStore,
	events *EventRegistry,
	types *TypeTable,
	opts ...ExecutorOption,
) *Executor {
	x := &Executor{
		log:              log.With(slog.String("component", "executor")),
		store:            store,
		snapshots:        snapshots,
		events:           events,
		types:            types,
		retryAttempts:    DefaultRetryAttempts,
		snapshotInterval: DefaultSnapshotInterval,
		replayPageSize:   DefaultReplayPageSize,
		metrics:          NopMetrics(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Load derives the current state of streamID: latest snapshot (if any), then
// every subsequent event folded in version order, paged by replayPageSize.
// A stream with no snapshot and no events loads as the initial state at
// version 0. State is recreated fresh on every call; nothing is cached.
func (x *Executor) Load(ctx context.Context, streamID string) (Aggregate, Version, error) {
	aggType := AggregateTypeOf(streamID)
	defer x.metrics.ExecutorLoadDuration(aggType).ObserveDuration()

	agg, err := x.types.New(aggType)
	if err != nil {
		return nil, 0, err
	}

	version := Version(0)
	if x.snapshots != nil {
		snapshot, err := x.snapshots.LoadLatest(ctx, streamID)
		if err != nil && !errors.Is(err, ErrSnapshotNotFound) {
			return nil, 0, fmt.Errorf("failed to load snapshot: %w", err)
		}
		if err == nil {
			if err := RestoreSnapshot(agg, snapshot); err != nil {
				return nil, 0, err
			}
			version = snapshot.Version
		}
	}

	for {
		page, err := x.store.ReadForward(ctx, streamID, version+1, x.replayPageSize)
		if err != nil {
			return nil, 0, err
		}
		for _, env := range page {
			if env.Version != version+1 {
				return nil, 0, fmt.Errorf("stream %s: expected version %d, got %d", streamID, version+1, env.Version)
			}
			event, err := x.events.Decode(env)
			if err != nil {
				return nil, 0, err
			}
			if err := agg.Apply(event); err != nil {
				return nil, 0, fmt.Errorf("failed to apply %s at version %d: %w", env.Type, env.Version, err)
			}
			version = env.Version
		}
		if len(page) < x.replayPageSize {
			break
		}
	}

	return agg, version, nil
}

// Execute loads the stream, handles cmd and appends the resulting events,
// retrying the whole round on ErrConflict up to the configured cap. Domain
// errors are surfaced immediately — they are not concurrency artifacts. A
// no-op command (Handle returns no events) returns the loaded state
// unchanged without touching the log.
func (x *Executor) Execute(ctx context.Context, streamID string, cmd Command) (*ExecuteResult, error) {
	aggType := AggregateTypeOf(streamID)
	log := x.log.With(
		slog.String("stream_id", streamID),
		slog.String("command", cmd.CommandName()),
	)

	var lastErr error
	for attempt := 1; attempt <= x.retryAttempts; attempt++ {
		agg, version, err := x.Load(ctx, streamID)
		if err != nil {
			return nil, err
		}

		events, err := agg.Handle(cmd)
		if err != nil {
			return nil, err
		}
		if len(events) == 0 {
			return &ExecuteResult{State: agg, Version: version}, nil
		}

		envs, err := WrapAll(streamID, version, events)
		if err != nil {
			return nil, err
		}

		timer := x.metrics.StoreAppendDuration(aggType)
		res, err := x.store.Append(ctx, streamID, version, envs)
		timer.ObserveDuration()
		if err != nil {
			if errors.Is(err, ErrConflict) {
				x.metrics.ConcurrencyConflict(aggType)
				log.Debug("append conflict, retrying", slog.Int("attempt", attempt))
				lastErr = err
				continue
			}
			return nil, err
		}
		x.metrics.EventsAppended(aggType, len(events))

		// fold the stored events into the loaded state
		for _, event := range events {
			if err := agg.Apply(event); err != nil {
				return nil, fmt.Errorf("failed to apply stored event %s: %w", event.EventType(), err)
			}
		}
		newVersion := version + Version(len(events))

		if x.snapshots != nil && x.snapshotInterval > 0 &&
			int(newVersion)/x.snapshotInterval > int(version)/x.snapshotInterval {
			go x.saveSnapshot(context.WithoutCancel(ctx), agg, streamID, newVersion)
		}

		log.Debug("executed",
			slog.Int("num_events", len(events)),
			newVersion.SlogAttr(),
		)

		return &ExecuteResult{State: agg, Events: res.Events, Version: newVersion}, nil
	}

	return nil, fmt.Errorf("command %s on %s exhausted %d attempts: %w",
		cmd.CommandName(), streamID, x.retryAttempts, lastErr)
}

// saveSnapshot persists a snapshot in the background. Snapshots are advisory:
// a failure here costs replay time later, never correctness.
func (x *Executor) saveSnapshot(ctx context.Context, agg Aggregate, streamID string, version Version) {
	snapshot, err := NewSnapshot(agg, streamID, version)
	if err != nil {
		x.log.Error("failed to serialize snapshot",
			slog.String("stream_id", streamID), slog.Any("error", err))
		return
	}
	if err := x.snapshots.Save(ctx, snapshot); err != nil {
		x.log.Error("failed to save snapshot",
			slog.String("stream_id", streamID), slog.Any("error", err))
		return
	}
	x.metrics.SnapshotSaved(agg.AggregateType())
	x.log.Debug("snapshot saved",
		slog.String("stream_id", streamID),
		version.SlogAttr(),
	)
}

// ExecuteAs runs cmd against streamID and returns the resulting state as T.
func ExecuteAs[T Aggregate](ctx context.Context, x *Executor, streamID string, cmd Command) (T, *ExecuteResult, error) {
	var zero T
	res, err := x.Execute(ctx, streamID, cmd)
	if err != nil {
		return zero, nil, err
	}
	state, ok := res.State.(T)
	if !ok {
		return zero, nil, fmt.Errorf("stream %s holds %T, not %T", streamID, res.State, zero)
	}
	return state, res, nil
}

// LoadAs loads streamID and returns the derived state as T.
func LoadAs[T Aggregate](ctx context.Context, x *Executor, streamID string) (T, Version, error) {
	var zero T
	agg, version, err := x.Load(ctx, streamID)
	if err != nil {
		return zero, 0, err
	}
	state, ok := agg.(T)
	if !ok {
		return zero, 0, fmt.Errorf("stream %s holds %T, not %T", streamID, agg, zero)
	}
	return state, version, nil
}
