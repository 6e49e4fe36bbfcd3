package logging

import "log/slog"

// Common field names for consistent logging across the pipeline.
const (
	FieldService   = "service"
	FieldEntryID   = "entry_id"
	FieldEventType = "event_type"
	FieldClientID  = "client_id"
	FieldUserID    = "user_id"
	FieldConsumer  = "consumer"
	FieldAttempt   = "attempt"
	FieldReason    = "reason"
	FieldError     = "error"
	FieldDuration  = "duration_ms"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// EntryID returns a slog attribute for a log entry ID.
func EntryID(id string) slog.Attr {
	return slog.String(FieldEntryID, id)
}

// EventType returns a slog attribute for the lifecycle event type.
func EventType(t string) slog.Attr {
	return slog.String(FieldEventType, t)
}

// ClientID returns a slog attribute for the sending client.
func ClientID(id string) slog.Attr {
	return slog.String(FieldClientID, id)
}

// Consumer returns a slog attribute for the consumer name.
func Consumer(name string) slog.Attr {
	return slog.String(FieldConsumer, name)
}

// Attempt returns a slog attribute for the delivery attempt count.
func Attempt(n int64) slog.Attr {
	return slog.Int64(FieldAttempt, n)
}

// Reason returns a slog attribute for a failure or quarantine reason.
func Reason(r string) slog.Attr {
	return slog.String(FieldReason, r)
}

// Error returns a slog attribute for an error value.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}
