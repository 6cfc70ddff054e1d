package es

import (
	"context"
	"sync"

	"github.com/wildkoala/chronicle/core/metrics"
)

// Test fixtures: a minimal tally aggregate exercising the full contract.

const tallyType = "tally"

type tallyAdded struct {
	Amount int `json:"amount"`
}

func (*tallyAdded) EventType() string { return "tally_added" }

type addToTally struct {
	Amount int `json:"amount"`
}

func (*addToTally) CommandName() string { return "add_to_tally" }

type tally struct {
	Total int `json:"total"`
	Count int `json:"count"`
}

func newTally() Aggregate { return &tally{} }

func (*tally) AggregateType() string { return tallyType }

func (t *tally) Apply(event any) error {
	e := event.(*tallyAdded)
	t.Total += e.Amount
	t.Count++
	return nil
}

func (t *tally) Handle(cmd Command) ([]Event, error) {
	c := cmd.(*addToTally)
	if c.Amount < 0 {
		return nil, NewDomainError("negative_amount", "amount must not be negative")
	}
	if c.Amount == 0 {
		return nil, nil // no-op
	}
	return []Event{&tallyAdded{Amount: c.Amount}}, nil
}

func tallyRegistries() (*EventRegistry, *TypeTable) {
	events := NewEventRegistry()
	events.Register(EventOf[tallyAdded]())
	types := NewTypeTable()
	types.Register(tallyType, newTally)
	return events, types
}

// spyMetrics counts metric recordings so tests can assert each signal is
// recorded exactly once per operation.
type spyMetrics struct {
	Metrics
	mu             sync.Mutex
	eventsAppended int
	appendTimers   int
}

func newSpyMetrics() *spyMetrics {
	return &spyMetrics{Metrics: NopMetrics()}
}

func (m *spyMetrics) EventsAppended(_ string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventsAppended += count
}

func (m *spyMetrics) StoreAppendDuration(string) metrics.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendTimers++
	return metrics.NopTimer()
}

// appendCountingStore wraps an EventStore, counting Append calls and
// optionally failing the first few with err.
type appendCountingStore struct {
	EventStore
	mu       sync.Mutex
	appends  int
	failures int
	err      error
}

func (s *appendCountingStore) Append(ctx context.Context, streamID string, expect Version, events []Envelope) (*AppendResult, error) {
	s.mu.Lock()
	s.appends++
	fail := s.appends <= s.failures
	s.mu.Unlock()
	if fail {
		return nil, s.err
	}
	return s.EventStore.Append(ctx, streamID, expect, events)
}

func (s *appendCountingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appends
}
