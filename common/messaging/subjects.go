package messaging

// Subject constants for the paywatch message bus.
// Follow the pattern: {domain}.{resource}.{qualifier}
const (
	// SubjectOutcomesPrefix prefixes owner-facing payment outcomes; the
	// outcome kind is appended (payments.outcomes.confirmed, ...).
	SubjectOutcomesPrefix = "payments.outcomes"

	// SubjectOutcomesAll matches every outcome kind.
	SubjectOutcomesAll = SubjectOutcomesPrefix + ".>"

	// SubjectAdminAlerts carries operator alerts (untracked funds, fraud, review items).
	SubjectAdminAlerts = "payments.alerts.admin"

	// SubjectReconcileTrigger requests an immediate reconciliation pass (request/reply).
	SubjectReconcileTrigger = "payments.reconcile.trigger"
)

// Queue group names for load-balanced consumers.
const (
	QueueReconcilers = "payments-reconcilers"
	QueueNotifiers   = "payments-notifiers"
)

// OutcomeSubject returns the subject for an outcome kind.
// Example: payments.outcomes.confirmed
func OutcomeSubject(kind string) string {
	return SubjectOutcomesPrefix + "." + kind
}
