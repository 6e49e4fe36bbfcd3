// Package quarantine is the terminal store for entries that exhausted their
// retry budget or failed permanently. Entries are held until an operator
// inspects them; reprocessing is the only sanctioned path back into the
// active log, and it is never automatic.
package quarantine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/btall/core-africare-identity-sub001/internal/stream"
	"github.com/btall/core-africare-identity-sub001/pkg/lifecycle"
)

// ErrNotFound is returned when the requested entry is not in quarantine.
var ErrNotFound = errors.New("quarantine entry not found")

const (
	indexKey  = "identity:quarantine:index"
	entryKey  = "identity:quarantine:entry:"
	fieldData = "record"
)

// Record is one quarantined entry, preserving the original event verbatim.
type Record struct {
	EntryID       string          `json:"entry_id"`
	EventType     string          `json:"event_type"`
	ClientID      string          `json:"client_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
	Reason        string          `json:"reason"`
	QuarantinedAt time.Time       `json:"quarantined_at"`
	DeliveryCount int64           `json:"delivery_count"`
}

// Store holds quarantined entries in Redis: one hash per entry plus a sorted
// set indexed by quarantine time for enumeration.
type Store struct {
	client *redis.Client
	log    *stream.Log
}

// New creates a Store. The log handle is used by Reprocess to re-append
// events to the active stream.
func New(client *redis.Client, log *stream.Log) *Store {
	return &Store{client: client, log: log}
}

// Add quarantines the entry. The transition happens at most once: adding an
// entry that is already quarantined returns the existing record unchanged.
func (s *Store) Add(ctx context.Context, entry *stream.Entry, reason string) (*Record, error) {
	now := time.Now().UTC()

	rec := &Record{
		EntryID:       entry.EntryID,
		Reason:        reason,
		QuarantinedAt: now,
		DeliveryCount: entry.DeliveryCount,
	}
	if entry.Event != nil {
		payload, err := entry.Event.MarshalPayload()
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		rec.EventType = string(entry.Event.Type)
		rec.ClientID = entry.Event.ClientID
		rec.OccurredAt = entry.Event.OccurredAt
		rec.Payload = payload
	}

	// NX on the index is the once-only guard; losing the race means the
	// entry was already quarantined by another consumer.
	added, err := s.client.ZAddNX(ctx, indexKey, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: entry.EntryID,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("index quarantine entry: %w", err)
	}
	if added == 0 {
		return s.Get(ctx, entry.EntryID)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode quarantine record: %w", err)
	}
	if err := s.client.HSet(ctx, entryKey+entry.EntryID, fieldData, string(data)).Err(); err != nil {
		return nil, fmt.Errorf("store quarantine record: %w", err)
	}

	return rec, nil
}

// Get returns the record for entryID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, entryID string) (*Record, error) {
	data, err := s.client.HGet(ctx, entryKey+entryID, fieldData).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load quarantine record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("decode quarantine record: %w", err)
	}
	return &rec, nil
}

// List returns up to limit records in quarantine order, oldest first. A
// non-positive limit returns everything.
func (s *Store) List(ctx context.Context, limit int64) ([]*Record, error) {
	stop := limit - 1
	if limit <= 0 {
		stop = -1
	}

	ids, err := s.client.ZRange(ctx, indexKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list quarantine index: %w", err)
	}

	records := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Length returns the number of entries currently in quarantine.
func (s *Store) Length(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, indexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("quarantine length: %w", err)
	}
	return n, nil
}

// Reprocess re-appends the quarantined event to the main log as a fresh
// entry with a reset delivery record, then removes it from quarantine. The
// new entry ID is returned.
func (s *Store) Reprocess(ctx context.Context, entryID string) (string, error) {
	rec, err := s.Get(ctx, entryID)
	if err != nil {
		return "", err
	}

	payload, err := lifecycle.ParsePayload(lifecycle.EventType(rec.EventType), rec.Payload)
	if err != nil {
		return "", fmt.Errorf("reprocess %s: stored event no longer parses: %w", entryID, err)
	}

	newID, err := s.log.Append(ctx, &lifecycle.Event{
		Type:       lifecycle.EventType(rec.EventType),
		ClientID:   rec.ClientID,
		OccurredAt: rec.OccurredAt,
		Payload:    payload,
	})
	if err != nil {
		return "", fmt.Errorf("reprocess %s: %w", entryID, err)
	}

	if err := s.client.ZRem(ctx, indexKey, entryID).Err(); err != nil {
		return "", fmt.Errorf("remove quarantine index: %w", err)
	}
	if err := s.client.Del(ctx, entryKey+entryID).Err(); err != nil {
		return "", fmt.Errorf("remove quarantine record: %w", err)
	}

	return newID, nil
}
