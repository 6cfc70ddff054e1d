package es

import (
	"fmt"
	"sync"
)

// Aggregate is the behavioral contract for event-sourced state machines.
// Implementations are plain structs holding derived state:
//
//   - the value returned by the registered factory is the initial state
//   - Apply folds one event into the state; it must be total, deterministic
//     and side-effect-free (no I/O, randomness or time reads), because it
//     runs identically during replay and post-append state derivation
//   - Handle validates a command against the current state and returns the
//     events to record, or a *DomainError; it must not mutate the state
//     itself — state changes happen only by folding the returned events
type Aggregate interface {
	// AggregateType returns the type tag used as the stream ID prefix.
	AggregateType() string
	Apply(event any) error
	Handle(cmd Command) ([]Event, error)
}

// AggregateFactory constructs an aggregate in its initial state.
type AggregateFactory func() Aggregate

// TypeTable is the static registry of aggregate factories keyed by type tag.
// Concrete aggregate types register here once at wiring time; the Executor
// resolves the factory from the stream ID prefix instead of relying on
// runtime reflection.
type TypeTable struct {
	mu        sync.RWMutex
	factories map[string]AggregateFactory
}

func NewTypeTable() *TypeTable {
	return &TypeTable{factories: map[string]AggregateFactory{}}
}

func (t *TypeTable) Register(aggType string, f AggregateFactory) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.factories[aggType] = f
}

// New returns a fresh aggregate of the given type in its initial state.
func (t *TypeTable) New(aggType string) (Aggregate, error) {
	t.mu.RLock()
	f, ok := t.factories[aggType]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAggregateType, aggType)
	}
	return f(), nil
}

// Snapshottable lets an aggregate control its own snapshot encoding. Without
// it the Executor falls back to JSON marshaling of the aggregate value.
type Snapshottable interface {
	Snapshot() (data []byte, err error)
	RestoreSnapshot(data []byte) error
}
