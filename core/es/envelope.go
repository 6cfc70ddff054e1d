package es

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Envelope is the persisted form of one event. It is the unit of storage in
// the EventStore and carries everything needed to decode and route the event
// during replay or consumption.
type Envelope struct {
	// ID is the unique identifier of this envelope.
	ID string `json:"id"`
	// Seq is the global commit sequence assigned by the store. It orders
	// events across streams and drives consumer checkpoints and rebuilds;
	// it plays no role in concurrency control.
	Seq uint64 `json:"seq"`
	// StreamID identifies the stream, e.g. "conversation-<uuid>".
	StreamID string `json:"stream_id"`
	// Version is the per-stream position (1, 2, 3, ...).
	Version Version `json:"stream_version"`
	// Type is the event type discriminator used for decode routing.
	Type string `json:"event_type"`
	// Data is the JSON-encoded event payload. Payloads serialize with
	// string-keyed maps only, so they round-trip through any JSON-like
	// storage encoding.
	Data json.RawMessage `json:"data"`
	// Metadata is an optional string-keyed payload, empty by default.
	Metadata json.RawMessage `json:"metadata,omitempty"`
	// RecordedAt is the commit timestamp, microsecond precision.
	RecordedAt time.Time `json:"recorded_at"`
}

func (e Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("envelope id is empty")
	}
	if e.StreamID == "" {
		return fmt.Errorf("envelope stream id is empty")
	}
	if e.Version == 0 {
		return fmt.Errorf("envelope version is zero")
	}
	if e.Type == "" {
		return fmt.Errorf("envelope event type is empty")
	}
	if e.RecordedAt.IsZero() {
		return fmt.Errorf("envelope recorded at is zero")
	}
	return nil
}

func (e Envelope) SlogAttrs() []any {
	return []any{
		"event_id", e.ID,
		"stream_id", e.StreamID,
		"event_type", e.Type,
		"version", uint64(e.Version),
		"seq", e.Seq,
	}
}

// Decoder turns a persisted envelope back into a typed domain event.
type Decoder interface {
	Decode(e Envelope) (any, error)
}

// StreamIDFor composes a stream identifier from an aggregate type tag and an
// instance ID, e.g. StreamIDFor("conversation", uuid) -> "conversation-<uuid>".
func StreamIDFor(aggType, id string) string { return aggType + "-" + id }

// AggregateTypeOf extracts the type tag from a stream ID: the segment before
// the first '-'. It selects the aggregate factory from the TypeTable.
func AggregateTypeOf(streamID string) string {
	if i := strings.Index(streamID, "-"); i > 0 {
		return streamID[:i]
	}
	return streamID
}
