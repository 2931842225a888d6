// Package notification delivers payment outcomes to owners and alerts to
// administrators.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/i3lani/paywatch/common/logging"
	"github.com/i3lani/paywatch/common/messaging"
	"github.com/i3lani/paywatch/payments/internal/metrics"
	"github.com/i3lani/paywatch/payments/internal/models"
)

// Notifier is the dispatcher used by both watchers.
type Notifier interface {
	Notify(ctx context.Context, outcome *models.PaymentOutcome) error
	Alert(ctx context.Context, alert *models.AdminAlert) error
}

// Channel is one delivery mechanism.
type Channel interface {
	Notifier
	Type() string
}

// BusChannel publishes outcomes and alerts as JSON on the message bus.
type BusChannel struct {
	publisher messaging.Publisher
}

// NewBusChannel creates a channel publishing through publisher.
func NewBusChannel(publisher messaging.Publisher) *BusChannel {
	return &BusChannel{publisher: publisher}
}

func (b *BusChannel) Type() string {
	return "nats"
}

func (b *BusChannel) Notify(ctx context.Context, outcome *models.PaymentOutcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	return b.publisher.PublishMsg(ctx, &messaging.Message{
		Subject:  messaging.OutcomeSubject(string(outcome.Kind)),
		Data:     data,
		Metadata: map[string]string{"owner_id": outcome.OwnerID, "memo": outcome.Memo},
	})
}

func (b *BusChannel) Alert(ctx context.Context, alert *models.AdminAlert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	return b.publisher.PublishMsg(ctx, &messaging.Message{
		Subject:  messaging.SubjectAdminAlerts,
		Data:     data,
		Metadata: map[string]string{"kind": string(alert.Kind)},
	})
}

// WebhookChannel sends notifications via HTTP POST. Outcomes go to URL and
// alerts to AdminURL; an empty URL skips that kind of message.
type WebhookChannel struct {
	URL      string
	AdminURL string
	client   *http.Client
}

// NewWebhookChannel creates a webhook notification channel.
func NewWebhookChannel(url, adminURL string, timeout time.Duration) *WebhookChannel {
	return &WebhookChannel{
		URL:      url,
		AdminURL: adminURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (w *WebhookChannel) Type() string {
	return "webhook"
}

func (w *WebhookChannel) Notify(ctx context.Context, outcome *models.PaymentOutcome) error {
	if w.URL == "" {
		return nil
	}
	return w.post(ctx, w.URL, "payment_outcome", outcome)
}

func (w *WebhookChannel) Alert(ctx context.Context, alert *models.AdminAlert) error {
	if w.AdminURL == "" {
		return nil
	}
	return w.post(ctx, w.AdminURL, "admin_alert", alert)
}

func (w *WebhookChannel) post(ctx context.Context, url, event string, body any) error {
	payload := map[string]any{
		"event":     event,
		"data":      body,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Paywatch/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// LogChannel writes notifications to the service log.
type LogChannel struct {
	logger *logging.Logger
}

// NewLogChannel creates a log-based notification channel.
func NewLogChannel(logger *logging.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (l *LogChannel) Type() string {
	return "log"
}

func (l *LogChannel) Notify(ctx context.Context, outcome *models.PaymentOutcome) error {
	l.logger.InfoContext(ctx, "payment outcome",
		logging.OwnerID(outcome.OwnerID),
		logging.Memo(outcome.Memo),
		logging.TxHash(outcome.TxHash),
		logging.Status(string(outcome.Kind)),
	)
	return nil
}

func (l *LogChannel) Alert(ctx context.Context, alert *models.AdminAlert) error {
	l.logger.WarnContext(ctx, "admin alert",
		"kind", string(alert.Kind),
		logging.Memo(alert.Memo),
		logging.TxHash(alert.TxHash),
		"message", alert.Message,
	)
	return nil
}

// MultiChannel sends notifications to multiple channels. Delivery succeeds
// when at least one channel accepted the message.
type MultiChannel struct {
	channels []Channel
	logger   *logging.Logger
}

// NewMultiChannel creates a notifier that fans out to channels.
func NewMultiChannel(logger *logging.Logger, channels ...Channel) *MultiChannel {
	return &MultiChannel{channels: channels, logger: logger}
}

func (m *MultiChannel) Type() string {
	return "multi"
}

func (m *MultiChannel) Notify(ctx context.Context, outcome *models.PaymentOutcome) error {
	if outcome.OccurredAt.IsZero() {
		outcome.OccurredAt = time.Now().UTC()
	}
	return m.fanOut(ctx, string(outcome.Kind), func(ch Channel) error {
		return ch.Notify(ctx, outcome)
	})
}

func (m *MultiChannel) Alert(ctx context.Context, alert *models.AdminAlert) error {
	if alert.RaisedAt.IsZero() {
		alert.RaisedAt = time.Now().UTC()
	}
	return m.fanOut(ctx, string(alert.Kind), func(ch Channel) error {
		return ch.Alert(ctx, alert)
	})
}

func (m *MultiChannel) fanOut(ctx context.Context, kind string, send func(Channel) error) error {
	var lastErr error
	successCount := 0

	for _, ch := range m.channels {
		if err := send(ch); err != nil {
			metrics.NotificationsSent.WithLabelValues(ch.Type(), kind, "error").Inc()
			m.logger.WarnContext(ctx, "notification channel failed",
				"channel", ch.Type(), "kind", kind, logging.Error(err))
			lastErr = fmt.Errorf("%s channel failed: %w", ch.Type(), err)
		} else {
			metrics.NotificationsSent.WithLabelValues(ch.Type(), kind, "success").Inc()
			successCount++
		}
	}

	if successCount == 0 && len(m.channels) > 0 {
		return fmt.Errorf("all notification channels failed: %w", lastErr)
	}

	return nil
}
