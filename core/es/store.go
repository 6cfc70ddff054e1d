package es

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// AppendResult carries the stored envelopes (with Seq and RecordedAt filled
// in by the store) after a successful append.
type AppendResult struct {
	Events  []Envelope
	LastSeq uint64
}

// EventStore stores and loads envelopes per stream.
//
// Append is atomic: either all events commit or none do. It assigns versions
// expectedVersion+1..expectedVersion+len(events) and fails with ErrConflict
// when any of those versions already exist for the stream — detected through
// the (stream_id, stream_version) uniqueness invariant at commit time, never
// by read-then-check. Subscribers are notified only after the append is
// durably committed.
type EventStore interface {
	Append(ctx context.Context, streamID string, expectedVersion Version, events []Envelope) (*AppendResult, error)
	// ReadForward returns events with version >= fromVersion, strictly
	// ordered by version. limit <= 0 means unbounded.
	ReadForward(ctx context.Context, streamID string, fromVersion Version, limit int) ([]Envelope, error)
	// CurrentVersion returns 0 for a stream with no events.
	CurrentVersion(ctx context.Context, streamID string) (Version, error)
	// ReadAll pages the whole log in commit (Seq) order, for read-model
	// rebuilds and checkpointed consumers. limit <= 0 means unbounded.
	ReadAll(ctx context.Context, fromSeq uint64, limit int) ([]Envelope, error)
	// Subscribe delivers per-commit batches after each successful append.
	// Delivery is best-effort: subscribers needing durability must read
	// from the log. A slow subscriber never blocks appending writers.
	Subscribe(ctx context.Context, opts ...SubscribeOption) (Subscription, error)
}

// Batch is one committed append as delivered to subscribers.
type Batch struct {
	StreamID string
	Events   []Envelope
}

type Subscription interface {
	Chan() <-chan Batch
	Cancel()
}

type subscribeOptions struct {
	streamID string
}

type SubscribeOption func(*subscribeOptions)

// WithStreamFilter restricts a subscription to a single stream.
func WithStreamFilter(streamID string) SubscribeOption {
	return func(o *subscribeOptions) { o.streamID = streamID }
}

func newSubscribeOptions(opts ...SubscribeOption) subscribeOptions {
	var o subscribeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WrapAll envelopes typed events for an append at versions expect+1 onward.
// Payloads are JSON-encoded here; this is the single serialize boundary
// between typed domain events and the string-keyed storage encoding.
func WrapAll(streamID string, expect Version, events []Event) ([]Envelope, error) {
	if len(events) == 0 {
		return nil, ErrNoEvents
	}
	envs := make([]Envelope, 0, len(events))
	for i, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s event: %w", ev.EventType(), err)
		}
		envs = append(envs, Envelope{
			ID:         gonanoid.Must(),
			StreamID:   streamID,
			Version:    expect + Version(i+1),
			Type:       ev.EventType(),
			Data:       data,
			RecordedAt: time.Now().Truncate(time.Microsecond),
		})
	}
	return envs, nil
}

// Append wraps and appends typed events in one call.
func Append(ctx context.Context, store EventStore, streamID string, expect Version, events ...Event) (*AppendResult, error) {
	envs, err := WrapAll(streamID, expect, events)
	if err != nil {
		return nil, err
	}
	return store.Append(ctx, streamID, expect, envs)
}
