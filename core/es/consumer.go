package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Handler processes one committed batch. Handlers must tolerate seeing a
// batch more than once: delivery during catch-up/live handover can overlap,
// and reapplying events in order is idempotent by design.
type Handler interface {
	HandleBatch(ctx context.Context, b Batch) error
}

type HandlerFunc func(ctx context.Context, b Batch) error

func (f HandlerFunc) HandleBatch(ctx context.Context, b Batch) error { return f(ctx, b) }

// Consumer feeds committed events from an EventStore into a Handler. On
// start it catches up from its persisted checkpoint by paging the log in
// commit order, then switches to live deliveries from a subscription. The
// checkpoint advances after each successfully handled batch.
type Consumer struct {
	log         *slog.Logger
	store       EventStore
	handler     Handler
	checkpoints CheckpointStore
	name        string
	pageSize    int

	closeOnce sync.Once
	closeChan chan struct{}
	done      chan struct{}
}

type ConsumerOption func(*Consumer)

func WithConsumerName(name string) ConsumerOption {
	return func(c *Consumer) { c.name = name }
}

func WithConsumerPageSize(n int) ConsumerOption {
	return func(c *Consumer) { c.pageSize = n }
}

func NewConsumer(
	log *slog.Logger,
	store EventStore,
	checkpoints CheckpointStore,
	handler Handler,
	opts ...ConsumerOption,
) *Consumer {
	c := &Consumer{
		store:       store,
		handler:     handler,
		checkpoints: checkpoints,
		name:        "consumer",
		pageSize:    1000,
		closeChan:   make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = log.With(slog.String("consumer", c.name))
	return c
}

// Start catches up from the checkpoint, then consumes live deliveries on a
// background goroutine until Stop or ctx cancellation.
func (c *Consumer) Start(ctx context.Context) error {
	lastSeq, err := c.checkpoints.Get(ctx)
	if err != nil && !errors.Is(err, ErrCheckpointNotFound) {
		return err
	}

	c.log.Info("starting", slog.Uint64("last_seq", lastSeq))

	// Subscribe before catching up so no commit falls between the final
	// catch-up page and the first live delivery. The overlap window is
	// deduplicated by seq below.
	sub, err := c.store.Subscribe(ctx)
	if err != nil {
		return err
	}

	lastSeq, err = c.catchUp(ctx, lastSeq)
	if err != nil {
		sub.Cancel()
		return err
	}

	c.log.Info("live", slog.Uint64("last_seq", lastSeq))

	go func() {
		defer func() {
			sub.Cancel()
			c.log.Info("stopped")
			close(c.done)
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.closeChan:
				return
			case b := <-sub.Chan():
				seq, handled, err := c.handleBatch(ctx, b, lastSeq)
				if err != nil {
					c.log.Error("batch handler failed", slog.Any("error", err))
					continue
				}
				if handled {
					lastSeq = seq
				}
			}
		}
	}()

	return nil
}

func (c *Consumer) Stop() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		<-c.done
	})
}

func (c *Consumer) catchUp(ctx context.Context, lastSeq uint64) (uint64, error) {
	for {
		page, err := c.store.ReadAll(ctx, lastSeq+1, c.pageSize)
		if err != nil {
			return lastSeq, fmt.Errorf("catch-up read failed: %w", err)
		}
		if len(page) == 0 {
			return lastSeq, nil
		}
		for _, batch := range groupByStream(page) {
			seq, handled, err := c.handleBatch(ctx, batch, lastSeq)
			if err != nil {
				return lastSeq, err
			}
			if handled {
				lastSeq = seq
			}
		}
		if len(page) < c.pageSize {
			return lastSeq, nil
		}
	}
}

// handleBatch drops events at or below lastSeq, dispatches the rest, and
// persists the new checkpoint. Returns the batch's max seq and whether
// anything was handled.
func (c *Consumer) handleBatch(ctx context.Context, b Batch, lastSeq uint64) (uint64, bool, error) {
	fresh := b.Events[:0:0]
	maxSeq := lastSeq
	for _, e := range b.Events {
		if e.Seq <= lastSeq {
			continue
		}
		fresh = append(fresh, e)
		if e.Seq > maxSeq {
			maxSeq = e.Seq
		}
	}
	if len(fresh) == 0 {
		return lastSeq, false, nil
	}

	if err := c.handler.HandleBatch(ctx, Batch{StreamID: b.StreamID, Events: fresh}); err != nil {
		return lastSeq, false, err
	}
	if err := c.checkpoints.Set(ctx, maxSeq); err != nil {
		return lastSeq, false, fmt.Errorf("failed to persist checkpoint: %w", err)
	}
	return maxSeq, true, nil
}

// groupByStream splits a seq-ordered page into per-stream batches while
// preserving intra-stream order.
func groupByStream(envs []Envelope) []Batch {
	var (
		batches []Batch
		index   = map[string]int{}
	)
	for _, e := range envs {
		i, ok := index[e.StreamID]
		if !ok {
			index[e.StreamID] = len(batches)
			batches = append(batches, Batch{StreamID: e.StreamID})
			i = len(batches) - 1
		}
		batches[i].Events = append(batches[i].Events, e)
	}
	return batches
}
