// Package notifier publishes pipeline outcome notifications to NATS.
// Publishing is best-effort: a failed publish is logged by the caller and
// never blocks acknowledgement of the underlying event.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// ProcessedEvent is published after a handler succeeds and the entry is
// acknowledged.
type ProcessedEvent struct {
	EntryID     string    `json:"entry_id"`
	EventType   string    `json:"event_type"`
	ClientID    string    `json:"client_id,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	Attempt     int64     `json:"attempt"`
	ProcessedAt time.Time `json:"processed_at"`
}

// QuarantinedEvent is published when an entry is moved to quarantine.
type QuarantinedEvent struct {
	EntryID       string    `json:"entry_id"`
	EventType     string    `json:"event_type,omitempty"`
	ClientID      string    `json:"client_id,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	Reason        string    `json:"reason"`
	Attempt       int64     `json:"attempt"`
	QuarantinedAt time.Time `json:"quarantined_at"`
}

// ReprocessedEvent is published when an operator releases a quarantined
// entry back into the log.
type ReprocessedEvent struct {
	EntryID       string    `json:"entry_id"`
	NewEntryID    string    `json:"new_entry_id"`
	ReprocessedAt time.Time `json:"reprocessed_at"`
}

// Publisher publishes outcome notifications. A nil Publisher is valid and
// publishes nothing, so callers never need to branch on whether NATS is
// configured.
type Publisher struct {
	conn *nats.Conn
}

// Connect dials NATS and returns a Publisher.
func Connect(url string) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("identity-sub"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Publisher{conn: conn}, nil
}

// PublishProcessed publishes a processed notification.
func (p *Publisher) PublishProcessed(ctx context.Context, event *ProcessedEvent) error {
	return p.publish(ctx, SubjectEventProcessed, event)
}

// PublishQuarantined publishes a quarantined notification.
func (p *Publisher) PublishQuarantined(ctx context.Context, event *QuarantinedEvent) error {
	return p.publish(ctx, SubjectEventQuarantined, event)
}

// PublishReprocessed publishes a reprocessed notification.
func (p *Publisher) PublishReprocessed(ctx context.Context, event *ReprocessedEvent) error {
	return p.publish(ctx, SubjectEventReprocessed, event)
}

func (p *Publisher) publish(ctx context.Context, subject string, data interface{}) error {
	if p == nil || p.conn == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	bytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return p.conn.Publish(subject, bytes)
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}
