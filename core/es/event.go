package es

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Event is implemented by every domain event. The returned name is the
// stable discriminator persisted in the envelope's event_type column; it
// must never change once events of that type have been stored.
type Event interface {
	EventType() string
}

// EventRegistry is the fixed bidirectional mapping between event type names
// and constructors. Encoding uses EventType(), decoding looks the name up
// here; no runtime reflection is involved.
type EventRegistry struct {
	mu    sync.RWMutex
	ctors map[string]func() Event
}

func NewEventRegistry() *EventRegistry {
	return &EventRegistry{ctors: map[string]func() Event{}}
}

// Registrar is the registration half of EventRegistry, passed to aggregate
// packages so they can register their event constructors.
type Registrar interface {
	Register(ctors ...func() Event)
}

// Register adds event constructors. Each constructor is invoked once to
// derive the type name; later decodes call it again for fresh instances.
func (r *EventRegistry) Register(ctors ...func() Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ctor := range ctors {
		r.ctors[ctor().EventType()] = ctor
	}
}

// Decode reconstructs the typed event carried by env. Returns
// ErrUnknownEventType when the envelope's type was never registered.
func (r *EventRegistry) Decode(env Envelope) (any, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[env.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, env.Type)
	}
	ev := ctor()
	if env.Data != nil {
		if err := json.Unmarshal(env.Data, ev); err != nil {
			return nil, fmt.Errorf("failed to decode %s event: %w", env.Type, err)
		}
	}
	return ev, nil
}

var _ Decoder = (*EventRegistry)(nil)

// EventOf returns a constructor for events of type T.
func EventOf[T any, PT interface {
	*T
	Event
}]() func() Event {
	return func() Event { return PT(new(T)) }
}
