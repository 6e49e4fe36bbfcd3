// Package stream implements the durable event log on Redis Streams. The
// stream is the single source of truth for accepted events and the only
// shared mutable state in the pipeline: consumers coordinate exclusively
// through its atomic claim and ack primitives.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/btall/core-africare-identity-sub001/pkg/lifecycle"
)

// Field names used for entries on the wire.
const (
	fieldType       = "type"
	fieldClientID   = "client_id"
	fieldOccurredAt = "occurred_at"
	fieldPayload    = "payload"
	fieldEnqueuedAt = "enqueued_at"
)

// Options configures a Log.
type Options struct {
	// Stream is the Redis stream key.
	Stream string

	// Group is the consumer group name.
	Group string

	// ClaimIdleTimeout is the minimum idle time before a claimed entry
	// becomes reclaimable by another consumer. This is the failure detector
	// for crashed or hung consumers.
	ClaimIdleTimeout time.Duration

	// BaseBackoff and BackoffCap shape the retry delay: an entry on its
	// n-th delivery is withheld for base << (n-1), capped.
	BaseBackoff time.Duration
	BackoffCap  time.Duration

	// BlockInterval bounds how long ClaimNext blocks waiting for new
	// entries when the log is drained.
	BlockInterval time.Duration

	// ReclaimBatch is how many pending entries are examined per reclaim
	// scan.
	ReclaimBatch int64
}

func (o *Options) applyDefaults() {
	if o.Stream == "" {
		o.Stream = "identity:events"
	}
	if o.Group == "" {
		o.Group = "identity-sub"
	}
	if o.ClaimIdleTimeout <= 0 {
		o.ClaimIdleTimeout = 60 * time.Second
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = time.Second
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = 5 * time.Minute
	}
	if o.BlockInterval <= 0 {
		o.BlockInterval = 2 * time.Second
	}
	if o.ReclaimBatch <= 0 {
		o.ReclaimBatch = 32
	}
}

// Entry is one claimed element of the log. DeliveryCount reflects the
// consumer group's delivery record: 1 on first claim, incremented on every
// reclaim. DecodeErr is set when the stored fields could not be parsed back
// into an event; such entries cannot be processed and should be quarantined.
type Entry struct {
	EntryID       string
	Event         *lifecycle.Event
	EnqueuedAt    time.Time
	DeliveryCount int64
	DecodeErr     error
}

// Log is the append-only durable log plus its consumer-group state.
type Log struct {
	client *redis.Client
	opts   Options
}

// New creates a Log over the given Redis client.
func New(client *redis.Client, opts Options) *Log {
	opts.applyDefaults()
	return &Log{client: client, opts: opts}
}

// Stream returns the configured stream key.
func (l *Log) Stream() string { return l.opts.Stream }

// Group returns the configured consumer group name.
func (l *Log) Group() string { return l.opts.Group }

// EnsureGroup creates the stream and consumer group if they do not exist.
func (l *Log) EnsureGroup(ctx context.Context) error {
	err := l.client.XGroupCreateMkStream(ctx, l.opts.Stream, l.opts.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Append durably records evt and returns its log-assigned entry ID. IDs are
// unique and increasing within the stream. Append never waits on consumer
// progress; a stalled consumer cannot block ingestion.
func (l *Log) Append(ctx context.Context, evt *lifecycle.Event) (string, error) {
	payload, err := evt.MarshalPayload()
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	id, err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: l.opts.Stream,
		Values: map[string]interface{}{
			fieldType:       string(evt.Type),
			fieldClientID:   evt.ClientID,
			fieldOccurredAt: strconv.FormatInt(evt.OccurredAt.Unix(), 10),
			fieldPayload:    string(payload),
			fieldEnqueuedAt: strconv.FormatInt(time.Now().UnixNano(), 10),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("append to stream: %w", err)
	}
	return id, nil
}

// ClaimNext atomically assigns the next eligible entry to consumer and
// returns it, or nil when nothing is eligible. Stalled entries whose idle
// time has passed their retry threshold are reclaimed first; otherwise the
// next never-delivered entry is read, blocking up to BlockInterval.
func (l *Log) ClaimNext(ctx context.Context, consumer string) (*Entry, error) {
	if entry, err := l.reclaimStalled(ctx, consumer); err != nil || entry != nil {
		return entry, err
	}
	return l.readNew(ctx, consumer)
}

func (l *Log) reclaimStalled(ctx context.Context, consumer string) (*Entry, error) {
	pending, err := l.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: l.opts.Stream,
		Group:  l.opts.Group,
		Start:  "-",
		End:    "+",
		Count:  l.opts.ReclaimBatch,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan pending entries: %w", err)
	}

	for _, p := range pending {
		threshold := l.retryThreshold(p.RetryCount)
		if p.Idle < threshold {
			continue
		}

		// MinIdle re-checks idle time server-side, so a concurrent claim
		// by another consumer resets the clock and this claim comes back
		// empty instead of double-delivering.
		msgs, err := l.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   l.opts.Stream,
			Group:    l.opts.Group,
			Consumer: consumer,
			MinIdle:  threshold,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("claim entry %s: %w", p.ID, err)
		}
		if len(msgs) == 0 {
			continue
		}

		return l.entryFromMessage(msgs[0], p.RetryCount+1), nil
	}

	return nil, nil
}

func (l *Log) readNew(ctx context.Context, consumer string) (*Entry, error) {
	streams, err := l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    l.opts.Group,
		Consumer: consumer,
		Streams:  []string{l.opts.Stream, ">"},
		Count:    1,
		Block:    l.opts.BlockInterval,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read from stream: %w", err)
	}

	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	// First delivery: the group's delivery record starts at 1.
	return l.entryFromMessage(streams[0].Messages[0], 1), nil
}

// Ack marks the entry as done and removes it from the active working set.
// Acking an already-acked or unknown entry is a no-op.
func (l *Log) Ack(ctx context.Context, entryID string) error {
	if err := l.client.XAck(ctx, l.opts.Stream, l.opts.Group, entryID).Err(); err != nil {
		return fmt.Errorf("ack entry %s: %w", entryID, err)
	}
	if err := l.client.XDel(ctx, l.opts.Stream, entryID).Err(); err != nil {
		return fmt.Errorf("delete entry %s: %w", entryID, err)
	}
	return nil
}

// PendingCount returns the number of claimed-but-unacknowledged entries, the
// consumer group's lag indicator.
func (l *Log) PendingCount(ctx context.Context) (int64, error) {
	p, err := l.client.XPending(ctx, l.opts.Stream, l.opts.Group).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("pending summary: %w", err)
	}
	return p.Count, nil
}

// Len returns the number of entries currently stored in the stream.
func (l *Log) Len(ctx context.Context) (int64, error) {
	n, err := l.client.XLen(ctx, l.opts.Stream).Result()
	if err != nil {
		return 0, fmt.Errorf("stream length: %w", err)
	}
	return n, nil
}

// retryThreshold computes how long an entry on its count-th delivery must
// sit idle before redelivery. The exponential term slows down repeated
// failures; the claim idle timeout is the floor, because below it the log
// cannot distinguish a failed delivery from one still being worked on.
func (l *Log) retryThreshold(deliveryCount int64) time.Duration {
	delay := l.retryDelay(deliveryCount)
	if delay < l.opts.ClaimIdleTimeout {
		return l.opts.ClaimIdleTimeout
	}
	return delay
}

func (l *Log) retryDelay(deliveryCount int64) time.Duration {
	if deliveryCount < 1 {
		deliveryCount = 1
	}
	shift := deliveryCount - 1
	if shift > 16 {
		shift = 16
	}
	delay := l.opts.BaseBackoff << uint(shift)
	if delay > l.opts.BackoffCap || delay <= 0 {
		delay = l.opts.BackoffCap
	}
	return delay
}

func (l *Log) entryFromMessage(msg redis.XMessage, deliveryCount int64) *Entry {
	entry := &Entry{
		EntryID:       msg.ID,
		DeliveryCount: deliveryCount,
	}

	evt, enqueuedAt, err := decodeValues(msg.Values)
	if err != nil {
		entry.DecodeErr = err
		return entry
	}
	entry.Event = evt
	entry.EnqueuedAt = enqueuedAt
	return entry
}

func decodeValues(values map[string]interface{}) (*lifecycle.Event, time.Time, error) {
	typ, err := stringField(values, fieldType)
	if err != nil {
		return nil, time.Time{}, err
	}
	payload, err := stringField(values, fieldPayload)
	if err != nil {
		return nil, time.Time{}, err
	}
	occurredRaw, err := stringField(values, fieldOccurredAt)
	if err != nil {
		return nil, time.Time{}, err
	}
	occurredUnix, err := strconv.ParseInt(occurredRaw, 10, 64)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("parse occurred_at: %w", err)
	}

	clientID, _ := stringField(values, fieldClientID)

	p, err := lifecycle.ParsePayload(lifecycle.EventType(typ), []byte(payload))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("decode stored payload: %w", err)
	}

	var enqueuedAt time.Time
	if enqueuedRaw, err := stringField(values, fieldEnqueuedAt); err == nil {
		if ns, err := strconv.ParseInt(enqueuedRaw, 10, 64); err == nil {
			enqueuedAt = time.Unix(0, ns).UTC()
		}
	}

	return &lifecycle.Event{
		Type:       lifecycle.EventType(typ),
		ClientID:   clientID,
		OccurredAt: time.Unix(occurredUnix, 0).UTC(),
		Payload:    p,
	}, enqueuedAt, nil
}

func stringField(values map[string]interface{}, key string) (string, error) {
	v, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing field %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q is not a string", key)
	}
	return s, nil
}
