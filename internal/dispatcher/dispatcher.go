// Package dispatcher runs the consumer side of the pipeline: worker
// goroutines claim entries from the durable log, route them to handlers,
// and settle each delivery as acked, retried, or quarantined.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/btall/core-africare-identity-sub001/internal/logging"
	"github.com/btall/core-africare-identity-sub001/internal/metrics"
	"github.com/btall/core-africare-identity-sub001/internal/notifier"
	"github.com/btall/core-africare-identity-sub001/internal/quarantine"
	"github.com/btall/core-africare-identity-sub001/internal/repository"
	"github.com/btall/core-africare-identity-sub001/internal/router"
	"github.com/btall/core-africare-identity-sub001/internal/stream"
	"github.com/btall/core-africare-identity-sub001/pkg/lifecycle"
)

// Quarantine reasons attached to records and emitted as metric labels.
const (
	reasonMaxAttempts = "max attempts exceeded"
	reasonPermanent   = "permanent failure"
	reasonUndecodable = "undecodable entry"
)

// Notifier publishes outcome notifications. Satisfied by *notifier.Publisher;
// a nil implementation is valid.
type Notifier interface {
	PublishProcessed(ctx context.Context, event *notifier.ProcessedEvent) error
	PublishQuarantined(ctx context.Context, event *notifier.QuarantinedEvent) error
}

// AuditRecorder persists terminal outcomes. Satisfied by
// *repository.PostgresRepository.
type AuditRecorder interface {
	RecordOutcome(ctx context.Context, rec repository.OutcomeRecord) error
}

// Options configures a Dispatcher.
type Options struct {
	Workers        int
	MaxAttempts    int64
	HandlerTimeout time.Duration

	// ConsumerPrefix names the consumers registered in the group; workers
	// are "<prefix>-0" .. "<prefix>-N". Defaults to the hostname.
	ConsumerPrefix string

	// GaugeInterval is how often pending and quarantine gauges refresh.
	GaugeInterval time.Duration
}

func (o *Options) applyDefaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.HandlerTimeout <= 0 {
		o.HandlerTimeout = 30 * time.Second
	}
	if o.ConsumerPrefix == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "identity-sub"
		}
		o.ConsumerPrefix = host
	}
	if o.GaugeInterval <= 0 {
		o.GaugeInterval = 15 * time.Second
	}
}

// Dispatcher owns the worker pool. Construct with New, then Start; Stop
// waits for in-flight deliveries to settle.
type Dispatcher struct {
	log        *stream.Log
	router     *router.Router
	quarantine *quarantine.Store
	notifier   Notifier
	audit      AuditRecorder
	logger     *logging.Logger
	opts       Options

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// New creates a Dispatcher. notif and audit may be nil.
func New(log *stream.Log, rt *router.Router, q *quarantine.Store, notif Notifier, audit AuditRecorder, logger *logging.Logger, opts Options) *Dispatcher {
	opts.applyDefaults()
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		log:        log,
		router:     rt,
		quarantine: q,
		notifier:   notif,
		audit:      audit,
		logger:     logger,
		opts:       opts,
		stopChan:   make(chan struct{}),
	}
}

// Start launches the worker goroutines and the gauge refresher.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.opts.Workers; i++ {
		consumer := fmt.Sprintf("%s-%d", d.opts.ConsumerPrefix, i)
		d.wg.Add(1)
		go d.run(ctx, consumer)
	}

	d.wg.Add(1)
	go d.refreshGauges(ctx)

	d.logger.InfoContext(ctx, "dispatcher started",
		"workers", d.opts.Workers,
		"max_attempts", d.opts.MaxAttempts,
		"consumer_prefix", d.opts.ConsumerPrefix,
	)
}

// Stop signals the workers and blocks until they exit. Safe to call more
// than once.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopChan) })
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, consumer string) {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		if _, err := d.processNext(ctx, consumer); err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.ErrorContext(ctx, "claim failed, backing off",
				logging.Consumer(consumer), logging.Error(err))
			select {
			case <-time.After(time.Second):
			case <-d.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

// processNext claims and settles at most one entry. It reports whether an
// entry was processed; a (false, nil) return means the log was drained.
func (d *Dispatcher) processNext(ctx context.Context, consumer string) (bool, error) {
	entry, err := d.log.ClaimNext(ctx, consumer)
	if err != nil {
		return false, err
	}
	if entry == nil {
		return false, nil
	}

	if entry.DecodeErr != nil {
		d.logger.WarnContext(ctx, "quarantining undecodable entry",
			logging.EntryID(entry.EntryID),
			logging.Consumer(consumer),
			logging.Error(entry.DecodeErr),
		)
		return true, d.settleQuarantine(ctx, entry, reasonUndecodable)
	}

	metrics.EventsConsumed.WithLabelValues(string(entry.Event.Type)).Inc()

	start := time.Now()
	handlerCtx, cancel := context.WithTimeout(ctx, d.opts.HandlerTimeout)
	err = d.router.Dispatch(handlerCtx, entry.Event)
	cancel()
	metrics.ProcessingDuration.Observe(time.Since(start).Seconds())

	if err == nil {
		return true, d.settleAck(ctx, entry, consumer)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		err = lifecycle.Transient("handler timeout", err)
	}

	if lifecycle.IsPermanent(err) {
		metrics.EventsFailed.WithLabelValues("permanent").Inc()
		d.logger.WarnContext(ctx, "permanent handler failure",
			logging.EntryID(entry.EntryID),
			logging.EventType(string(entry.Event.Type)),
			logging.Attempt(entry.DeliveryCount),
			logging.Error(err),
		)
		return true, d.settleQuarantine(ctx, entry, reasonPermanent+": "+lifecycle.FailureReason(err))
	}

	metrics.EventsFailed.WithLabelValues("transient").Inc()

	if entry.DeliveryCount >= d.opts.MaxAttempts {
		d.logger.WarnContext(ctx, "retry budget exhausted",
			logging.EntryID(entry.EntryID),
			logging.EventType(string(entry.Event.Type)),
			logging.Attempt(entry.DeliveryCount),
			logging.Error(err),
		)
		return true, d.settleQuarantine(ctx, entry, reasonMaxAttempts)
	}

	// Transient failure within the retry budget: leave the entry pending.
	// The reclaim path redelivers it after the backoff threshold.
	d.logger.InfoContext(ctx, "transient handler failure, will retry",
		logging.EntryID(entry.EntryID),
		logging.EventType(string(entry.Event.Type)),
		logging.Attempt(entry.DeliveryCount),
		logging.Error(err),
	)
	return true, nil
}

func (d *Dispatcher) settleAck(ctx context.Context, entry *stream.Entry, consumer string) error {
	if err := d.log.Ack(ctx, entry.EntryID); err != nil {
		return fmt.Errorf("ack %s: %w", entry.EntryID, err)
	}

	metrics.EventsAcked.Inc()
	d.logger.InfoContext(ctx, "event processed",
		logging.EntryID(entry.EntryID),
		logging.EventType(string(entry.Event.Type)),
		logging.ClientID(entry.Event.ClientID),
		logging.Consumer(consumer),
		logging.Attempt(entry.DeliveryCount),
	)

	if d.notifier != nil {
		notice := &notifier.ProcessedEvent{
			EntryID:     entry.EntryID,
			EventType:   string(entry.Event.Type),
			ClientID:    entry.Event.ClientID,
			UserID:      entry.Event.UserID(),
			Attempt:     entry.DeliveryCount,
			ProcessedAt: time.Now().UTC(),
		}
		if err := d.notifier.PublishProcessed(ctx, notice); err != nil {
			d.logger.WarnContext(ctx, "processed notification failed",
				logging.EntryID(entry.EntryID), logging.Error(err))
		}
	}

	d.recordOutcome(ctx, entry, repository.OutcomeAcked, "")
	return nil
}

func (d *Dispatcher) settleQuarantine(ctx context.Context, entry *stream.Entry, reason string) error {
	rec, err := d.quarantine.Add(ctx, entry, reason)
	if err != nil {
		// The entry stays pending and will be reclaimed; quarantining is
		// retried on a later delivery rather than losing the event.
		return fmt.Errorf("quarantine %s: %w", entry.EntryID, err)
	}
	if err := d.log.Ack(ctx, entry.EntryID); err != nil {
		return fmt.Errorf("ack quarantined %s: %w", entry.EntryID, err)
	}

	metrics.EventsQuarantined.WithLabelValues(quarantineReasonLabel(reason)).Inc()

	if d.notifier != nil {
		notice := &notifier.QuarantinedEvent{
			EntryID:       entry.EntryID,
			EventType:     rec.EventType,
			ClientID:      rec.ClientID,
			Reason:        reason,
			Attempt:       entry.DeliveryCount,
			QuarantinedAt: rec.QuarantinedAt,
		}
		if entry.Event != nil {
			notice.UserID = entry.Event.UserID()
		}
		if err := d.notifier.PublishQuarantined(ctx, notice); err != nil {
			d.logger.WarnContext(ctx, "quarantine notification failed",
				logging.EntryID(entry.EntryID), logging.Error(err))
		}
	}

	d.recordOutcome(ctx, entry, repository.OutcomeQuarantined, reason)
	return nil
}

func (d *Dispatcher) recordOutcome(ctx context.Context, entry *stream.Entry, outcome, reason string) {
	if d.audit == nil {
		return
	}

	rec := repository.OutcomeRecord{
		EntryID: entry.EntryID,
		Outcome: outcome,
		Reason:  reason,
		Attempt: entry.DeliveryCount,
	}
	if entry.Event != nil {
		rec.EventType = string(entry.Event.Type)
		rec.ClientID = entry.Event.ClientID
		rec.UserID = entry.Event.UserID()
	}
	if err := d.audit.RecordOutcome(ctx, rec); err != nil {
		d.logger.WarnContext(ctx, "audit record failed",
			logging.EntryID(entry.EntryID), logging.Error(err))
	}
}

func (d *Dispatcher) refreshGauges(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.opts.GaugeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n, err := d.log.PendingCount(ctx); err == nil {
				metrics.PendingCount.Set(float64(n))
			}
			if n, err := d.quarantine.Length(ctx); err == nil {
				metrics.QuarantineLength.Set(float64(n))
			}
		case <-d.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// quarantineReasonLabel collapses free-form reasons to a bounded label set.
func quarantineReasonLabel(reason string) string {
	switch reason {
	case reasonMaxAttempts:
		return "max_attempts"
	case reasonUndecodable:
		return "undecodable"
	default:
		return "permanent"
	}
}
