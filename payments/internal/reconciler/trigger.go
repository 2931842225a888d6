package reconciler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/i3lani/paywatch/common/logging"
	"github.com/i3lani/paywatch/common/messaging"
)

// Bus is what the trigger listener needs from the message broker.
type Bus interface {
	messaging.Subscriber
	messaging.Responder
}

// TriggerListener answers force-reconcile requests arriving on the bus
// with the pass's TickReport.
type TriggerListener struct {
	bus     Bus
	scanner *Scanner
	logger  *logging.Logger
	sub     messaging.Subscription
}

// NewTriggerListener creates a listener for scanner.
func NewTriggerListener(bus Bus, scanner *Scanner, logger *logging.Logger) *TriggerListener {
	return &TriggerListener{bus: bus, scanner: scanner, logger: logger}
}

// Start subscribes to the trigger subject in the reconcilers queue group,
// so one replica serves each request.
func (l *TriggerListener) Start() error {
	sub, err := l.bus.QueueSubscribe(messaging.SubjectReconcileTrigger, messaging.QueueReconcilers, l.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", messaging.SubjectReconcileTrigger, err)
	}
	l.sub = sub
	l.logger.Info("reconcile trigger listening", "subject", messaging.SubjectReconcileTrigger)
	return nil
}

// Stop unsubscribes.
func (l *TriggerListener) Stop() error {
	if l.sub == nil {
		return nil
	}
	err := l.sub.Unsubscribe()
	l.sub = nil
	return err
}

func (l *TriggerListener) handle(ctx context.Context, msg *messaging.Message) error {
	report := l.scanner.RunOnce(ctx, TriggerBus)
	if msg.Reply == "" {
		return nil
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal tick report: %w", err)
	}
	if err := l.bus.Respond(ctx, msg, data); err != nil {
		l.logger.WarnContext(ctx, "failed to answer reconcile trigger", logging.Error(err))
		return err
	}
	return nil
}
