package readmodel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"gorm.io/datatypes"

	"github.com/wildkoala/chronicle/conversation"
	"github.com/wildkoala/chronicle/core/es"
)

// ProjectionError reports a single event that failed to apply to the read
// model, with enough context to diagnose it. One failing event never aborts
// its batch: the read model for that event stays stale until a rebuild or a
// later compensating event corrects it.
type ProjectionError struct {
	StreamID  string
	EventType string
	Version   es.Version
	Err       error
}

func (e *ProjectionError) Error() string {
	return fmt.Sprintf("projection failed: stream=%s type=%s version=%d: %v",
		e.StreamID, e.EventType, e.Version, e.Err)
}

func (e *ProjectionError) Unwrap() error { return e.Err }

// Projector applies committed conversation events to the read-model tables.
// It is an explicit, constructed component owning its store handle — wired
// by whoever supervises its lifecycle, not registered implicitly.
type Projector struct {
	log     *slog.Logger
	store   Store
	events  *es.EventRegistry
	metrics es.Metrics

	queue     chan es.Batch
	queueSize int
	closeOnce sync.Once
	closing   chan struct{}
	drained   chan struct{}
	started   bool
}

type ProjectorOption func(*Projector)

// WithQueueSize bounds the async projection queue.
func WithQueueSize(n int) ProjectorOption {
	return func(p *Projector) { p.queueSize = n }
}

func WithProjectorMetrics(m es.Metrics) ProjectorOption {
	return func(p *Projector) { p.metrics = m }
}

func NewProjector(log *slog.Logger, store Store, events *es.EventRegistry, opts ...ProjectorOption) *Projector {
	p := &Projector{
		log:       log.With(slog.String("component", "projector")),
		store:     store,
		events:    events,
		metrics:   es.NopMetrics(),
		queueSize: 256,
		closing:   make(chan struct{}),
		drained:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.queue = make(chan es.Batch, p.queueSize)
	return p
}

// Start launches the async worker. Required only when ProjectAsync is used.
func (p *Projector) Start(ctx context.Context) {
	p.started = true
	go func() {
		defer close(p.drained)
		for {
			select {
			case b := <-p.queue:
				p.metrics.ProjectionQueueDepth(len(p.queue))
				p.Project(ctx, b.StreamID, b.Events)
			case <-p.closing:
				// drain whatever was queued before shutdown
				for {
					select {
					case b := <-p.queue:
						p.Project(ctx, b.StreamID, b.Events)
					default:
						return
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the async worker after draining queued work.
func (p *Projector) Shutdown(ctx context.Context) error {
	if !p.started {
		return nil
	}
	p.closeOnce.Do(func() { close(p.closing) })
	select {
	case <-p.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Project applies events to the read model in order. Each event runs in its
// own failure boundary: a malformed or unexpected event is reported and
// skipped, and the rest of the batch continues. The returned slice holds one
// entry per failed event.
func (p *Projector) Project(ctx context.Context, streamID string, events []es.Envelope) []*ProjectionError {
	var failures []*ProjectionError
	for _, env := range events {
		if err := p.applyEvent(ctx, env); err != nil {
			pe := &ProjectionError{
				StreamID:  streamID,
				EventType: env.Type,
				Version:   env.Version,
				Err:       err,
			}
			p.log.Error("projection error", slog.Any("error", pe))
			p.metrics.ProjectionApplied(env.Type, false)
			failures = append(failures, pe)
			continue
		}
		p.metrics.ProjectionApplied(env.Type, true)
	}
	return failures
}

// ProjectAsync enqueues events onto the bounded work queue and returns once
// queued; intended for high-frequency low-latency events such as streaming
// chunks where the caller does not need read-after-write confirmation. A
// full queue applies backpressure rather than dropping work.
func (p *Projector) ProjectAsync(streamID string, events []es.Envelope) {
	p.queue <- es.Batch{StreamID: streamID, Events: events}
	p.metrics.ProjectionQueueDepth(len(p.queue))
}

// HandleBatch lets the projector sit behind an es.Consumer.
func (p *Projector) HandleBatch(ctx context.Context, b es.Batch) error {
	p.Project(ctx, b.StreamID, b.Events)
	// projection failures are isolated per event, never batch failures
	return nil
}

var _ es.Handler = (*Projector)(nil)

// RebuildAll truncates every read-model table and replays the entire log in
// commit order through the same per-event projection logic. Used to recover
// from read-model corruption or projection logic changes.
func (p *Projector) RebuildAll(ctx context.Context, store es.EventStore) error {
	const page = 1000

	if err := p.store.TruncateAll(ctx); err != nil {
		return fmt.Errorf("failed to truncate read models: %w", err)
	}
	p.log.Info("read models truncated, replaying log")

	var (
		fromSeq  = uint64(1)
		total    int
		failures int
	)
	for {
		envs, err := store.ReadAll(ctx, fromSeq, page)
		if err != nil {
			return fmt.Errorf("rebuild read failed: %w", err)
		}
		if len(envs) == 0 {
			break
		}
		for _, env := range envs {
			if errs := p.Project(ctx, env.StreamID, []es.Envelope{env}); len(errs) > 0 {
				failures += len(errs)
			}
			total++
		}
		fromSeq = envs[len(envs)-1].Seq + 1
		if len(envs) < page {
			break
		}
	}

	p.log.Info("rebuild complete",
		slog.Int("events", total),
		slog.Int("failures", failures),
	)
	return nil
}

// conversationRow loads the parent conversation row, or nil when it is
// missing — the caller reports and skips instead of raising.
func (p *Projector) conversationRow(ctx context.Context, env es.Envelope) (*Conversation, error) {
	row, err := p.store.GetConversation(ctx, env.StreamID)
	if errors.Is(err, ErrNotFound) {
		p.log.Warn("missing parent conversation, skipping event",
			slog.String("stream_id", env.StreamID),
			slog.String("event_type", env.Type),
			env.Version.SlogAttr(),
		)
		return nil, nil
	}
	return row, err
}

// messagePosition assigns the position for a new message row, or returns the
// existing row's position when the event is a redelivery. Delivery is
// at-least-once, so reapplying a batch must not inflate MessageCount or shift
// positions.
func (p *Projector) messagePosition(ctx context.Context, messageID string, row *Conversation) (position int, fresh bool, err error) {
	existing, err := p.store.GetMessage(ctx, messageID)
	if errors.Is(err, ErrNotFound) {
		return row.MessageCount + 1, true, nil
	}
	if err != nil {
		return 0, false, err
	}
	return existing.Position, false, nil
}

func (p *Projector) applyEvent(ctx context.Context, env es.Envelope) error {
	decoded, err := p.events.Decode(env)
	if err != nil {
		return err
	}

	switch e := decoded.(type) {
	case *conversation.Created:
		return p.store.SaveConversation(ctx, &Conversation{
			StreamID:       env.StreamID,
			ConversationID: e.ConversationID,
			UserID:         e.UserID,
			Title:          e.Title,
			ModelID:        e.ModelID,
			LLMModelID:     e.LLMModelID,
			Status:         string(conversation.StatusActive),
			LastVersion:    env.Version.Uint64(),
			CreatedAt:      e.CreatedAt,
			UpdatedAt:      env.RecordedAt,
		})

	case *conversation.UserMessageAdded:
		row, err := p.conversationRow(ctx, env)
		if err != nil || row == nil {
			return err
		}
		position, fresh, err := p.messagePosition(ctx, e.MessageID, row)
		if err != nil {
			return err
		}
		if err := p.store.SaveMessage(ctx, &Message{
			ID:        e.MessageID,
			StreamID:  env.StreamID,
			Position:  position,
			Role:      conversation.RoleUser,
			Content:   e.Content,
			Status:    conversation.MessageComplete,
			CreatedAt: e.CreatedAt,
			UpdatedAt: env.RecordedAt,
		}); err != nil {
			return err
		}
		if fresh {
			row.MessageCount++
		}
		return p.touch(ctx, row, env)

	case *conversation.StreamStarted:
		row, err := p.conversationRow(ctx, env)
		if err != nil || row == nil {
			return err
		}
		position, fresh, err := p.messagePosition(ctx, e.MessageID, row)
		if err != nil {
			return err
		}
		if err := p.store.SaveMessage(ctx, &Message{
			ID:        e.MessageID,
			StreamID:  env.StreamID,
			Position:  position,
			Role:      conversation.RoleAssistant,
			Status:    conversation.MessageStreaming,
			ModelID:   e.ModelID,
			CreatedAt: e.StartedAt,
			UpdatedAt: env.RecordedAt,
		}); err != nil {
			return err
		}
		if fresh {
			row.MessageCount++
		}
		row.Status = string(conversation.StatusStreaming)
		return p.touch(ctx, row, env)

	case *conversation.ChunkReceived:
		row, err := p.conversationRow(ctx, env)
		if err != nil || row == nil {
			return err
		}
		if err := p.store.SaveChunk(ctx, &Chunk{
			ID:        fmt.Sprintf("%s-%d", e.MessageID, e.Index),
			StreamID:  env.StreamID,
			MessageID: e.MessageID,
			Index:     e.Index,
			Content:   e.Content,
			CreatedAt: env.RecordedAt,
		}); err != nil {
			return err
		}
		return p.touch(ctx, row, env)

	case *conversation.StreamCompleted:
		row, err := p.conversationRow(ctx, env)
		if err != nil || row == nil {
			return err
		}
		msg, err := p.store.GetMessage(ctx, e.MessageID)
		if err != nil {
			return err
		}
		msg.Content = e.Content
		msg.Status = conversation.MessageComplete
		msg.UpdatedAt = env.RecordedAt
		msg.Sources, err = encodeSources(FilterCitedSources(e.Content, e.Sources))
		if err != nil {
			return err
		}
		if err := p.store.SaveMessage(ctx, msg); err != nil {
			return err
		}
		// the completed row supersedes the transient chunk rows
		if err := p.store.DeleteChunks(ctx, e.MessageID); err != nil {
			return err
		}
		row.Status = string(conversation.StatusActive)
		return p.touch(ctx, row, env)

	case *conversation.StreamFailed:
		row, err := p.conversationRow(ctx, env)
		if err != nil || row == nil {
			return err
		}
		msg, err := p.store.GetMessage(ctx, e.MessageID)
		if err != nil {
			return err
		}
		chunks, err := p.store.ListChunks(ctx, e.MessageID)
		if err != nil {
			return err
		}
		var partial strings.Builder
		for _, c := range chunks {
			partial.WriteString(c.Content)
		}
		msg.Content = partial.String()
		msg.Status = conversation.MessageFailed
		msg.UpdatedAt = env.RecordedAt
		if err := p.store.SaveMessage(ctx, msg); err != nil {
			return err
		}
		row.Status = string(conversation.StatusActive)
		return p.touch(ctx, row, env)

	case *conversation.ToolCallStarted:
		row, err := p.conversationRow(ctx, env)
		if err != nil || row == nil {
			return err
		}
		args, err := encodeJSON(e.Arguments)
		if err != nil {
			return err
		}
		if err := p.store.SaveToolCall(ctx, &ToolCall{
			ID:        e.ToolCallID,
			StreamID:  env.StreamID,
			MessageID: e.MessageID,
			Name:      e.Name,
			Arguments: args,
			Status:    ToolCallRunning,
			CreatedAt: e.StartedAt,
			UpdatedAt: env.RecordedAt,
		}); err != nil {
			return err
		}
		return p.touch(ctx, row, env)

	case *conversation.ToolCallCompleted:
		row, err := p.conversationRow(ctx, env)
		if err != nil || row == nil {
			return err
		}
		tc, err := p.store.GetToolCall(ctx, e.ToolCallID)
		if err != nil {
			return err
		}
		tc.Result, err = encodeJSON(e.Result)
		if err != nil {
			return err
		}
		tc.Status = ToolCallCompleted
		tc.UpdatedAt = env.RecordedAt
		if err := p.store.SaveToolCall(ctx, tc); err != nil {
			return err
		}
		return p.touch(ctx, row, env)

	case *conversation.Forked:
		row, err := p.conversationRow(ctx, env)
		if err != nil || row == nil {
			return err
		}
		row.ParentStreamID = e.ParentStreamID
		row.ForkAtVersion = e.ForkAtVersion.Uint64()
		return p.touch(ctx, row, env)

	case *conversation.TitleUpdated:
		row, err := p.conversationRow(ctx, env)
		if err != nil || row == nil {
			return err
		}
		row.Title = e.Title
		return p.touch(ctx, row, env)

	case *conversation.Archived:
		row, err := p.conversationRow(ctx, env)
		if err != nil || row == nil {
			return err
		}
		row.Status = string(conversation.StatusArchived)
		archivedAt := e.ArchivedAt
		row.ArchivedAt = &archivedAt
		return p.touch(ctx, row, env)

	case *conversation.Truncated:
		row, err := p.conversationRow(ctx, env)
		if err != nil || row == nil {
			return err
		}
		msg, err := p.store.GetMessage(ctx, e.MessageID)
		if err != nil {
			return err
		}
		if err := p.store.DeleteMessagesFrom(ctx, env.StreamID, msg.Position); err != nil {
			return err
		}
		row.MessageCount = msg.Position - 1
		row.Status = string(conversation.StatusActive)
		return p.touch(ctx, row, env)
	}

	return fmt.Errorf("%w: %T", es.ErrUnknownEventType, decoded)
}

// touch persists the conversation row with the projected version and the
// event's commit time as the freshness timestamp the sweeper keys off.
func (p *Projector) touch(ctx context.Context, row *Conversation, env es.Envelope) error {
	row.LastVersion = env.Version.Uint64()
	row.UpdatedAt = env.RecordedAt
	return p.store.SaveConversation(ctx, row)
}

func encodeSources(sources []conversation.Source) (datatypes.JSON, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	return encodeJSON(sources)
}

func encodeJSON(v any) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(data), nil
}
