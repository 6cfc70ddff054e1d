// Package es is the event-sourcing core behind the conversational record.
//
// # Overview
//
// State is never stored as a primary record. Each aggregate instance owns a
// stream: an append-only, strictly ordered sequence of immutable events. The
// current state is derived on demand by folding the stream through the
// aggregate's Apply function, optionally starting from a cached snapshot to
// bound replay length.
//
// # Core Components
//
// EventStore: durable append-only storage of Envelopes per stream. Append is
// atomic and conditional on the caller's expected version; a concurrent
// writer that commits first causes ErrConflict. Use [NewInMemoryStore] for
// tests or the adapters/postgres implementation for production storage.
//
// SnapshotStore: advisory cache of serialized aggregate state at a given
// version. Snapshots are never authoritative; the log is the source of truth.
//
// Aggregate: the behavioral contract every aggregate type implements. The
// zero value returned by its factory is the initial state, Apply folds one
// event into the state, and Handle validates a command against the current
// state and returns the events to record without mutating anything.
// Factories are registered in a [TypeTable] keyed by the stream type tag.
//
// Executor: the only component on the write path that talks to both stores.
// It loads state (snapshot + tail replay), runs Handle, appends the returned
// events with optimistic concurrency, and retries the whole round on
// ErrConflict up to a configurable cap:
//
//	x := es.NewExecutor(log, store, snapshots, registry, types)
//	res, err := x.Execute(ctx, streamID, &conversation.AddUserMessage{Content: "hi"})
//
// Consumer: subscribes to the store, resumes from a persisted checkpoint and
// dispatches committed batches to a handler (typically the read-model
// projector in package readmodel).
//
// # Concurrency
//
// Cross-stream concurrency is unbounded. Within a stream the unique
// (stream_id, stream_version) pair is the sole concurrency-control mechanism:
// one writer wins per round, the others get ErrConflict and retry. No
// stream-level lock is ever taken.
package es
