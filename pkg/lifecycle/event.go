// Package lifecycle defines the user lifecycle event model shared between
// the ingestion pipeline and downstream synchronization handlers.
package lifecycle

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies the kind of lifecycle change an event describes.
type EventType string

const (
	EventRegister EventType = "register"
	EventUpdate   EventType = "update"
	EventDelete   EventType = "delete"
	EventMerge    EventType = "merge"
)

// KnownTypes lists every event type the pipeline accepts.
var KnownTypes = []EventType{EventRegister, EventUpdate, EventDelete, EventMerge}

// Valid reports whether t is a recognized event type.
func (t EventType) Valid() bool {
	switch t {
	case EventRegister, EventUpdate, EventDelete, EventMerge:
		return true
	}
	return false
}

// Payload is the schema-checked body of a lifecycle event. Each event type
// has exactly one payload variant; ParsePayload selects and validates it.
type Payload interface {
	// EventType returns the variant tag of this payload.
	EventType() EventType

	// Validate checks that every field required by the variant is present
	// and well formed.
	Validate() error
}

// RegisterPayload describes a newly registered user account.
type RegisterPayload struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone,omitempty"`
	Locale   string `json:"locale,omitempty"`
}

func (p *RegisterPayload) EventType() EventType { return EventRegister }

func (p *RegisterPayload) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("register: user_id is required")
	}
	if p.Email == "" {
		return fmt.Errorf("register: email is required")
	}
	if p.FullName == "" {
		return fmt.Errorf("register: full_name is required")
	}
	return nil
}

// UpdatePayload describes a change to an existing user's attributes. At
// least one updatable field must be present alongside the user id.
type UpdatePayload struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email,omitempty"`
	FullName string `json:"full_name,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Locale   string `json:"locale,omitempty"`
}

func (p *UpdatePayload) EventType() EventType { return EventUpdate }

func (p *UpdatePayload) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("update: user_id is required")
	}
	if p.Email == "" && p.FullName == "" && p.Phone == "" && p.Locale == "" {
		return fmt.Errorf("update: at least one changed field is required")
	}
	return nil
}

// DeletePayload describes an irreversible account deletion. Deletion events
// are never filtered by sender policy; suppressing one is a compliance
// violation.
type DeletePayload struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason,omitempty"`
}

func (p *DeletePayload) EventType() EventType { return EventDelete }

func (p *DeletePayload) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("delete: user_id is required")
	}
	return nil
}

// MergePayload describes two accounts being merged; UserID is absorbed into
// MergedIntoID.
type MergePayload struct {
	UserID       string `json:"user_id"`
	MergedIntoID string `json:"merged_into_id"`
}

func (p *MergePayload) EventType() EventType { return EventMerge }

func (p *MergePayload) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("merge: user_id is required")
	}
	if p.MergedIntoID == "" {
		return fmt.Errorf("merge: merged_into_id is required")
	}
	return nil
}

// ParsePayload decodes and validates the payload variant for the given event
// type. Unknown fields-required combinations are rejected here, not at
// handler time.
func ParsePayload(t EventType, data []byte) (Payload, error) {
	var p Payload
	switch t {
	case EventRegister:
		p = &RegisterPayload{}
	case EventUpdate:
		p = &UpdatePayload{}
	case EventDelete:
		p = &DeletePayload{}
	case EventMerge:
		p = &MergePayload{}
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}

	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Event is a verified lifecycle event. Instances are immutable after
// creation by the verifier and travel through the durable log unchanged.
type Event struct {
	Type       EventType
	ClientID   string
	OccurredAt time.Time
	Payload    Payload
}

// MarshalPayload returns the JSON encoding of the event's payload, as stored
// in the durable log.
func (e *Event) MarshalPayload() ([]byte, error) {
	return json.Marshal(e.Payload)
}

// UserID returns the subject user of the event.
func (e *Event) UserID() string {
	switch p := e.Payload.(type) {
	case *RegisterPayload:
		return p.UserID
	case *UpdatePayload:
		return p.UserID
	case *DeletePayload:
		return p.UserID
	case *MergePayload:
		return p.UserID
	}
	return ""
}
