// Package verifier authenticates inbound identity provider webhooks before
// they are trusted by the rest of the pipeline.
package verifier

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/btall/core-africare-identity-sub001/pkg/lifecycle"
)

var (
	// ErrSignatureInvalid means the declared HMAC does not match the payload.
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrTimestampOutOfWindow means the declared timestamp is outside the
	// accepted freshness window.
	ErrTimestampOutOfWindow = errors.New("timestamp out of window")

	// ErrSchemaInvalid means the payload does not match the schema for the
	// declared event type.
	ErrSchemaInvalid = errors.New("schema invalid")

	// ErrFiltered means the sender is not allow-listed for this event type.
	// Filtered events are dropped silently; this is not a failure state.
	ErrFiltered = errors.New("filtered")
)

// RawEvent is an unverified inbound delivery: opaque bytes plus the declared
// signature and timestamp headers. It exists only during verification.
type RawEvent struct {
	Body      []byte
	Signature string // hex HMAC-SHA256 from X-Signature
	Timestamp int64  // epoch seconds from X-Timestamp
}

// envelope is the wire shape of the webhook body.
type envelope struct {
	Type     lifecycle.EventType `json:"type"`
	ClientID string              `json:"client_id"`
	Data     json.RawMessage     `json:"data"`
}

// Config holds the verification policy.
type Config struct {
	Secret           string
	MaxPastWindow    time.Duration // default 30 days, wide to allow backlog replay
	MaxFutureSkew    time.Duration // default 1 hour, narrow to block forged timestamps
	AllowedClientIDs []string
}

// Verifier validates authenticity, freshness, schema, and sender policy for
// raw webhook deliveries. It is stateless and safe for concurrent use.
type Verifier struct {
	secret        []byte
	maxPastWindow time.Duration
	maxFutureSkew time.Duration
	allowed       map[string]struct{}
	now           func() time.Time
}

// New creates a Verifier from cfg. An empty allow-list means every sender is
// accepted.
func New(cfg Config) *Verifier {
	if cfg.MaxPastWindow == 0 {
		cfg.MaxPastWindow = 30 * 24 * time.Hour
	}
	if cfg.MaxFutureSkew == 0 {
		cfg.MaxFutureSkew = time.Hour
	}

	var allowed map[string]struct{}
	if len(cfg.AllowedClientIDs) > 0 {
		allowed = make(map[string]struct{}, len(cfg.AllowedClientIDs))
		for _, id := range cfg.AllowedClientIDs {
			allowed[id] = struct{}{}
		}
	}

	return &Verifier{
		secret:        []byte(cfg.Secret),
		maxPastWindow: cfg.MaxPastWindow,
		maxFutureSkew: cfg.MaxFutureSkew,
		allowed:       allowed,
		now:           time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Verify checks raw and returns the validated event. Checks run in order:
// signature, freshness, schema, sender policy. Delete events skip the sender
// policy entirely.
func (v *Verifier) Verify(raw RawEvent) (*lifecycle.Event, error) {
	if !v.validSignature(raw) {
		return nil, ErrSignatureInvalid
	}

	occurredAt := time.Unix(raw.Timestamp, 0).UTC()
	now := v.now().UTC()
	if occurredAt.Before(now.Add(-v.maxPastWindow)) || occurredAt.After(now.Add(v.maxFutureSkew)) {
		return nil, ErrTimestampOutOfWindow
	}

	var env envelope
	if err := json.Unmarshal(raw.Body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
	}
	if !env.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown event type %q", ErrSchemaInvalid, env.Type)
	}

	payload, err := lifecycle.ParsePayload(env.Type, env.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
	}

	// Deletion events are never filtered: suppressing an irreversible
	// deletion is a correctness and compliance violation.
	if env.Type != lifecycle.EventDelete && !v.senderAllowed(env.ClientID) {
		return nil, ErrFiltered
	}

	return &lifecycle.Event{
		Type:       env.Type,
		ClientID:   env.ClientID,
		OccurredAt: occurredAt,
		Payload:    payload,
	}, nil
}

func (v *Verifier) validSignature(raw RawEvent) bool {
	declared, err := hex.DecodeString(raw.Signature)
	if err != nil {
		return false
	}
	return hmac.Equal(declared, v.computeSignature(raw.Timestamp, raw.Body))
}

func (v *Verifier) computeSignature(timestamp int64, body []byte) []byte {
	h := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(h, "%d.", timestamp)
	h.Write(body)
	return h.Sum(nil)
}

// Sign computes the hex signature for a timestamp and body. Used by the
// event seeder and by senders in tests.
func Sign(secret string, timestamp int64, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(h, "%d.", timestamp)
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func (v *Verifier) senderAllowed(clientID string) bool {
	if v.allowed == nil {
		return true
	}
	_, ok := v.allowed[clientID]
	return ok
}
