// Package nats bridges committed events onto NATS subjects so interactive
// clients can follow a conversation live. Delivery is best-effort by design:
// the log is the source of truth and anything missed is recovered by reading
// it, so plain core NATS publishing is sufficient.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/wildkoala/chronicle/core/es"
)

// EventSubject is the per-stream subject committed events are published to.
func EventSubject(streamID string) string { return "event:" + streamID }

// ToolApprovalSubject carries out-of-band tool approval requests for a
// stream; it is not fed by the event log.
func ToolApprovalSubject(streamID string) string { return "tool-approval:" + streamID }

// Notifier publishes committed envelopes to per-stream subjects.
type Notifier struct {
	log  *slog.Logger
	conn *nats.Conn
}

func Connect(log *slog.Logger, url string) (*Notifier, error) {
	conn, err := nats.Connect(url,
		nats.Name("chronicle-notifier"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return NewNotifier(log, conn), nil
}

func NewNotifier(log *slog.Logger, conn *nats.Conn) *Notifier {
	return &Notifier{
		log:  log.With(slog.String("component", "notifier")),
		conn: conn,
	}
}

// Publish sends every envelope of the batch to its stream subject.
func (n *Notifier) Publish(b es.Batch) {
	subject := EventSubject(b.StreamID)
	for _, env := range b.Events {
		data, err := json.Marshal(env)
		if err != nil {
			n.log.Error("failed to encode envelope", slog.Any("error", err), slog.String("event_id", env.ID))
			continue
		}
		if err := n.conn.Publish(subject, data); err != nil {
			n.log.Warn("failed to publish event notification",
				slog.Any("error", err),
				slog.String("subject", subject),
				slog.String("event_id", env.ID),
			)
		}
	}
}

// Run pumps a store subscription into NATS until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context, store es.EventStore) error {
	sub, err := store.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to store: %w", err)
	}
	defer sub.Cancel()

	n.log.Info("notifier running")
	for {
		select {
		case b, ok := <-sub.Chan():
			if !ok {
				return nil
			}
			n.Publish(b)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (n *Notifier) Close() {
	if err := n.conn.Drain(); err != nil {
		n.log.Warn("failed to drain nats connection", slog.Any("error", err))
	}
}
