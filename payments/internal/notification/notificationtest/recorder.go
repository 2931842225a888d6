// Package notificationtest provides a notifier that records deliveries.
package notificationtest

import (
	"context"
	"sync"

	"github.com/i3lani/paywatch/payments/internal/models"
)

// Recorder implements notification.Notifier in memory.
type Recorder struct {
	mu       sync.Mutex
	outcomes []*models.PaymentOutcome
	alerts   []*models.AdminAlert
	Err      error
}

func (r *Recorder) Notify(ctx context.Context, outcome *models.PaymentOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
	return r.Err
}

func (r *Recorder) Alert(ctx context.Context, alert *models.AdminAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return r.Err
}

// Outcomes returns a copy of the delivered outcomes.
func (r *Recorder) Outcomes() []*models.PaymentOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.PaymentOutcome(nil), r.outcomes...)
}

// Alerts returns a copy of the delivered alerts.
func (r *Recorder) Alerts() []*models.AdminAlert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.AdminAlert(nil), r.alerts...)
}

// OutcomesOf returns delivered outcomes of kind.
func (r *Recorder) OutcomesOf(kind models.OutcomeKind) []*models.PaymentOutcome {
	var out []*models.PaymentOutcome
	for _, o := range r.Outcomes() {
		if o.Kind == kind {
			out = append(out, o)
		}
	}
	return out
}

// AlertsOf returns delivered alerts of kind.
func (r *Recorder) AlertsOf(kind models.AlertKind) []*models.AdminAlert {
	var out []*models.AdminAlert
	for _, a := range r.Alerts() {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}
