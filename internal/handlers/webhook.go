// Package handlers implements the HTTP boundary: the webhook ingress, the
// operator admin API, and health probes.
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/btall/core-africare-identity-sub001/internal/logging"
	"github.com/btall/core-africare-identity-sub001/internal/metrics"
	"github.com/btall/core-africare-identity-sub001/internal/stream"
	"github.com/btall/core-africare-identity-sub001/internal/verifier"
)

// maxBodyBytes bounds webhook payload size.
const maxBodyBytes = 1 << 20

// WebhookHandler accepts deliveries from the identity provider, verifies
// them, and appends accepted events to the durable log.
type WebhookHandler struct {
	verifier *verifier.Verifier
	log      *stream.Log
	logger   *logging.Logger
}

func NewWebhookHandler(v *verifier.Verifier, log *stream.Log, logger *logging.Logger) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{verifier: v, log: log, logger: logger}
}

// HandleEvent is POST /webhooks/identity. The delivery is settled before the
// response: a 202 means the event is durably appended (or filtered), so the
// provider never needs to redeliver it.
func (h *WebhookHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx := r.Context()

	timestamp, err := strconv.ParseInt(r.Header.Get("X-Timestamp"), 10, 64)
	if err != nil {
		metrics.WebhookRejected.WithLabelValues("timestamp").Inc()
		sendError(w, http.StatusUnauthorized, "missing or malformed X-Timestamp")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		metrics.WebhookRejected.WithLabelValues("body").Inc()
		sendError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	defer r.Body.Close()

	evt, err := h.verifier.Verify(verifier.RawEvent{
		Body:      body,
		Signature: r.Header.Get("X-Signature"),
		Timestamp: timestamp,
	})
	if err != nil {
		h.rejectOrFilter(ctx, w, err)
		return
	}

	entryID, err := h.log.Append(ctx, evt)
	if err != nil {
		h.logger.ErrorContext(ctx, "append failed", logging.Error(err))
		sendError(w, http.StatusServiceUnavailable, "event log unavailable")
		return
	}

	metrics.EventsProduced.WithLabelValues(string(evt.Type)).Inc()
	h.logger.InfoContext(ctx, "event accepted",
		logging.EntryID(entryID),
		logging.EventType(string(evt.Type)),
		logging.ClientID(evt.ClientID),
	)

	sendJSON(w, http.StatusAccepted, map[string]string{"entry_id": entryID})
}

// rejectOrFilter maps verification failures to their HTTP outcomes.
func (h *WebhookHandler) rejectOrFilter(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, verifier.ErrSignatureInvalid):
		metrics.WebhookRejected.WithLabelValues("signature").Inc()
		h.logger.WarnContext(ctx, "webhook rejected", logging.Reason("signature"))
		sendError(w, http.StatusUnauthorized, "signature verification failed")

	case errors.Is(err, verifier.ErrTimestampOutOfWindow):
		metrics.WebhookRejected.WithLabelValues("timestamp").Inc()
		h.logger.WarnContext(ctx, "webhook rejected", logging.Reason("timestamp"))
		sendError(w, http.StatusUnauthorized, "timestamp outside accepted window")

	case errors.Is(err, verifier.ErrSchemaInvalid):
		metrics.WebhookRejected.WithLabelValues("schema").Inc()
		h.logger.WarnContext(ctx, "webhook rejected", logging.Reason("schema"), logging.Error(err))
		sendError(w, http.StatusBadRequest, "payload does not match event schema")

	case errors.Is(err, verifier.ErrFiltered):
		// Not an error state: the sender is simply not subscribed.
		metrics.EventsFiltered.Inc()
		h.logger.DebugContext(ctx, "event filtered by allow-list")
		sendJSON(w, http.StatusAccepted, map[string]string{"status": "filtered"})

	default:
		h.logger.ErrorContext(ctx, "verification failed", logging.Error(err))
		sendError(w, http.StatusBadRequest, "invalid delivery")
	}
}
