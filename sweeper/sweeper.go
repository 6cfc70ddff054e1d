// Package sweeper recovers conversations stuck in the streaming state after
// their producer crashed mid-stream. It periodically scans the read model for
// streaming conversations that have not progressed recently and fails their
// in-flight stream through the normal command path, so recovery is recorded
// in the log like any other transition.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/wildkoala/chronicle/conversation"
	"github.com/wildkoala/chronicle/core/es"
	"github.com/wildkoala/chronicle/readmodel"
)

const (
	DefaultInterval  = 2 * time.Minute
	DefaultStaleness = 5 * time.Minute

	// ReasonOrphaned marks stream failures recorded by the sweeper.
	ReasonOrphaned = "orphaned"
)

type Sweeper struct {
	log       *slog.Logger
	executor  *es.Executor
	store     readmodel.Store
	metrics   es.Metrics
	interval  time.Duration
	staleness time.Duration
	now       func() time.Time

	scheduler gocron.Scheduler
}

type Option func(*Sweeper)

func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) { s.interval = d }
}

func WithStaleness(d time.Duration) Option {
	return func(s *Sweeper) { s.staleness = d }
}

func WithMetrics(m es.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

func New(log *slog.Logger, executor *es.Executor, store readmodel.Store, opts ...Option) *Sweeper {
	s := &Sweeper{
		log:       log.With(slog.String("component", "sweeper")),
		executor:  executor,
		store:     store,
		metrics:   es.NopMetrics(),
		interval:  DefaultInterval,
		staleness: DefaultStaleness,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules periodic sweeps until Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			if err := s.Sweep(ctx); err != nil {
				s.log.Error("sweep failed", slog.Any("error", err))
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	s.scheduler = scheduler
	scheduler.Start()
	s.log.Info("sweeper started",
		slog.Duration("interval", s.interval),
		slog.Duration("staleness", s.staleness),
	)
	return nil
}

func (s *Sweeper) Stop() error {
	if s.scheduler == nil {
		return nil
	}
	return s.scheduler.Shutdown()
}

// Sweep runs one recovery pass: every conversation stuck in streaming with no
// progress inside the staleness window gets its stream failed with reason
// "orphaned". A conversation that resumed between the scan and the command is
// skipped by the domain guard (ErrNotStreaming), which is not an error here.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := s.now().Add(-s.staleness)
	stale, err := s.store.StaleStreaming(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to list stale streams: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	recovered := 0
	for _, conv := range stale {
		_, err := s.executor.Execute(ctx, conv.StreamID, &conversation.FailStream{Reason: ReasonOrphaned})
		switch {
		case errors.Is(err, conversation.ErrNotStreaming),
			errors.Is(err, conversation.ErrArchived):
			// resolved by someone else since the scan
			continue
		case err != nil:
			s.log.Error("failed to recover stream",
				slog.String("stream_id", conv.StreamID),
				slog.Any("error", err),
			)
			continue
		}
		recovered++
		s.log.Warn("recovered orphaned stream",
			slog.String("stream_id", conv.StreamID),
			slog.String("conversation_id", conv.ConversationID),
			slog.Time("last_update", conv.UpdatedAt),
		)
	}

	if recovered > 0 {
		s.metrics.StreamsRecovered(recovered)
	}
	return nil
}
