package notifier

// NATS subjects published by the subscriber. Downstream consumers (cache
// invalidation, compliance tooling) subscribe to these.
const (
	SubjectEventProcessed   = "identity.events.processed"
	SubjectEventQuarantined = "identity.events.quarantined"
	SubjectEventReprocessed = "identity.events.reprocessed"
)
