package lifecycle

import (
	"context"
	"errors"
	"fmt"
)

// Handler processes a verified lifecycle event. Implementations live in the
// domain layer (demographic record sync, metadata sync) and must be
// idempotent: the pipeline delivers at least once and may re-invoke a
// handler with the same event after a crash or timeout.
//
// A nil return acknowledges the event. Failures are classified by returning
// a TransientError (retried with backoff) or a PermanentError (quarantined
// immediately). Any other error is treated as transient.
type Handler interface {
	Handle(ctx context.Context, evt *Event) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt *Event) error

func (f HandlerFunc) Handle(ctx context.Context, evt *Event) error { return f(ctx, evt) }

// TransientError marks a failure that may succeed on retry, such as a
// downstream store being unreachable.
type TransientError struct {
	Reason string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient: %s: %v", e.Reason, e.Err)
	}
	return "transient: " + e.Reason
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying cannot fix, such as a payload
// the handler's schema rejects outright.
type PermanentError struct {
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permanent: %s: %v", e.Reason, e.Err)
	}
	return "permanent: " + e.Reason
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure.
func Transient(reason string, err error) error {
	return &TransientError{Reason: reason, Err: err}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(reason string, err error) error {
	return &PermanentError{Reason: reason, Err: err}
}

// IsPermanent reports whether err is classified as a permanent failure.
// Classification is explicit: only a PermanentError in the chain counts.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// FailureReason returns the classified reason for a handler failure, falling
// back to the error text for unclassified errors.
func FailureReason(err error) string {
	var pe *PermanentError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	var te *TransientError
	if errors.As(err, &te) {
		return te.Reason
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
