package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/btall/core-africare-identity-sub001/internal/logging"
	"github.com/btall/core-africare-identity-sub001/internal/notifier"
	"github.com/btall/core-africare-identity-sub001/internal/quarantine"
	"github.com/btall/core-africare-identity-sub001/internal/repository"
	"github.com/btall/core-africare-identity-sub001/internal/stream"
)

const defaultListLimit = 100

// Notifier publishes reprocess notifications. Nil-safe via *notifier.Publisher.
type Notifier interface {
	PublishReprocessed(ctx context.Context, event *notifier.ReprocessedEvent) error
}

// AuditRecorder persists operator-initiated outcomes.
type AuditRecorder interface {
	RecordOutcome(ctx context.Context, rec repository.OutcomeRecord) error
}

// AdminHandler exposes the operator API: quarantine inspection, manual
// reprocessing, and pipeline stats.
type AdminHandler struct {
	log      *stream.Log
	store    *quarantine.Store
	notifier Notifier
	audit    AuditRecorder
	logger   *logging.Logger
}

// NewAdminHandler creates the operator API handler. notif and audit may be
// nil.
func NewAdminHandler(log *stream.Log, store *quarantine.Store, notif Notifier, audit AuditRecorder, logger *logging.Logger) *AdminHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminHandler{log: log, store: store, notifier: notif, audit: audit, logger: logger}
}

// HandleQuarantine is GET /admin/quarantine.
func (h *AdminHandler) HandleQuarantine(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := int64(defaultListLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 {
			sendError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := h.store.List(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "quarantine list failed", logging.Error(err))
		sendError(w, http.StatusServiceUnavailable, "quarantine unavailable")
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"entries": records,
		"count":   len(records),
	})
}

// HandleQuarantineEntry routes GET /admin/quarantine/{id} and
// POST /admin/quarantine/{id}/reprocess.
func (h *AdminHandler) HandleQuarantineEntry(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/admin/quarantine/")

	if r.Method == http.MethodPost && strings.HasSuffix(rest, "/reprocess") {
		h.reprocess(w, r, strings.TrimSuffix(rest, "/reprocess"))
		return
	}
	if r.Method == http.MethodGet && !strings.Contains(rest, "/") {
		h.getEntry(w, r, rest)
		return
	}

	sendError(w, http.StatusNotFound, "not found")
}

func (h *AdminHandler) getEntry(w http.ResponseWriter, r *http.Request, entryID string) {
	rec, err := h.store.Get(r.Context(), entryID)
	if err != nil {
		if errors.Is(err, quarantine.ErrNotFound) {
			sendError(w, http.StatusNotFound, "no quarantined entry with that id")
			return
		}
		h.logger.ErrorContext(r.Context(), "quarantine get failed", logging.Error(err))
		sendError(w, http.StatusServiceUnavailable, "quarantine unavailable")
		return
	}
	sendJSON(w, http.StatusOK, rec)
}

func (h *AdminHandler) reprocess(w http.ResponseWriter, r *http.Request, entryID string) {
	ctx := r.Context()

	newID, err := h.store.Reprocess(ctx, entryID)
	if err != nil {
		if errors.Is(err, quarantine.ErrNotFound) {
			sendError(w, http.StatusNotFound, "no quarantined entry with that id")
			return
		}
		h.logger.ErrorContext(ctx, "reprocess failed",
			logging.EntryID(entryID), logging.Error(err))
		sendError(w, http.StatusServiceUnavailable, "reprocess failed")
		return
	}

	h.logger.InfoContext(ctx, "quarantined entry reprocessed",
		logging.EntryID(entryID), "new_entry_id", newID)

	if h.notifier != nil {
		notice := &notifier.ReprocessedEvent{
			EntryID:       entryID,
			NewEntryID:    newID,
			ReprocessedAt: time.Now().UTC(),
		}
		if err := h.notifier.PublishReprocessed(ctx, notice); err != nil {
			h.logger.WarnContext(ctx, "reprocess notification failed",
				logging.EntryID(entryID), logging.Error(err))
		}
	}

	if h.audit != nil {
		err := h.audit.RecordOutcome(ctx, repository.OutcomeRecord{
			EntryID: entryID,
			Outcome: repository.OutcomeReprocessed,
			Reason:  "operator reprocess",
		})
		if err != nil {
			h.logger.WarnContext(ctx, "audit record failed",
				logging.EntryID(entryID), logging.Error(err))
		}
	}

	sendJSON(w, http.StatusOK, map[string]string{
		"entry_id":     entryID,
		"new_entry_id": newID,
	})
}

// HandleStats is GET /admin/stats.
func (h *AdminHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx := r.Context()

	streamLen, err := h.log.Len(ctx)
	if err != nil {
		sendError(w, http.StatusServiceUnavailable, "event log unavailable")
		return
	}
	pending, err := h.log.PendingCount(ctx)
	if err != nil {
		sendError(w, http.StatusServiceUnavailable, "event log unavailable")
		return
	}
	quarantined, err := h.store.Length(ctx)
	if err != nil {
		sendError(w, http.StatusServiceUnavailable, "quarantine unavailable")
		return
	}

	sendJSON(w, http.StatusOK, map[string]int64{
		"stream_length":     streamLen,
		"pending_count":     pending,
		"quarantine_length": quarantined,
	})
}

// Health is GET /healthz.
func (h *AdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ready is GET /readyz: ready once the log answers.
func (h *AdminHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if _, err := h.log.Len(r.Context()); err != nil {
		sendJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
