package es

import (
	"context"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Dispatcher fans committed batches out to subscribers. Store
// implementations embed one and call Dispatch after each durable commit.
// Every subscription drains its own pending queue on a dedicated goroutine,
// so delivery order per subscriber matches commit order while appending
// writers never wait for subscriber processing.
type Dispatcher struct {
	mu   sync.Mutex
	subs map[string]*dispatchSubscription
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{subs: map[string]*dispatchSubscription{}}
}

func (d *Dispatcher) Subscribe(ctx context.Context, opts ...SubscribeOption) (Subscription, error) {
	options := newSubscribeOptions(opts...)

	d.mu.Lock()
	defer d.mu.Unlock()

	subID := gonanoid.Must()
	sub := &dispatchSubscription{
		filter: options.streamID,
		ch:     make(chan Batch),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		remove: func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			delete(d.subs, subID)
		},
	}
	d.subs[subID] = sub
	go sub.run()

	context.AfterFunc(ctx, sub.Cancel)

	return sub, nil
}

// Dispatch enqueues b for every matching subscriber. Callers must invoke it
// only after the append committed.
func (d *Dispatcher) Dispatch(b Batch) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, sub := range d.subs {
		if sub.filter != "" && sub.filter != b.StreamID {
			continue
		}
		sub.push(b)
	}
}

type dispatchSubscription struct {
	filter string
	ch     chan Batch
	wake   chan struct{}
	done   chan struct{}
	once   sync.Once
	remove func()

	mu      sync.Mutex
	pending []Batch
}

func (s *dispatchSubscription) Chan() <-chan Batch { return s.ch }

func (s *dispatchSubscription) Cancel() {
	s.once.Do(func() {
		s.remove()
		close(s.done)
	})
}

func (s *dispatchSubscription) push(b Batch) {
	s.mu.Lock()
	s.pending = append(s.pending, b)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *dispatchSubscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.pending) == 0 {
				s.mu.Unlock()
				break
			}
			b := s.pending[0]
			s.pending = s.pending[1:]
			s.mu.Unlock()

			select {
			case s.ch <- b:
			case <-s.done:
				return
			}
		}
	}
}
