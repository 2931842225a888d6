package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i3lani/paywatch/common/logging"
	"github.com/i3lani/paywatch/common/messaging"
	"github.com/i3lani/paywatch/common/messaging/memory"
	"github.com/i3lani/paywatch/payments/internal/models"
)

func testRecord() *models.RendezvousRecord {
	return &models.RendezvousRecord{
		Memo:           "AB1234",
		OwnerID:        "owner-1",
		ExpectedAmount: decimal.RequireFromString("10"),
		Currency:       "TON",
		Status:         models.RecordPending,
	}
}

func TestBusChannel_PublishesOutcomeByKind(t *testing.T) {
	bus := memory.NewBus()
	defer bus.Close()

	var got []*messaging.Message
	_, err := bus.Subscribe(messaging.SubjectOutcomesAll, func(ctx context.Context, msg *messaging.Message) error {
		got = append(got, msg)
		return nil
	})
	require.NoError(t, err)

	ch := NewBusChannel(bus)
	require.NoError(t, ch.Notify(context.Background(), Confirmed(testRecord(), "tx-1", decimal.NullDecimal{})))

	require.Len(t, got, 1)
	assert.Equal(t, "payments.outcomes.confirmed", got[0].Subject)
	assert.Equal(t, "owner-1", got[0].Metadata["owner_id"])

	var decoded models.PaymentOutcome
	require.NoError(t, json.Unmarshal(got[0].Data, &decoded))
	assert.Equal(t, models.OutcomeConfirmed, decoded.Kind)
	assert.Equal(t, "tx-1", decoded.TxHash)
}

func TestBusChannel_Alert(t *testing.T) {
	bus := memory.NewBus()
	defer bus.Close()

	var subject string
	_, err := bus.Subscribe(messaging.SubjectAdminAlerts, func(ctx context.Context, msg *messaging.Message) error {
		subject = msg.Subject
		return nil
	})
	require.NoError(t, err)

	err = NewBusChannel(bus).Alert(context.Background(), &models.AdminAlert{Kind: models.AlertUntrackedPayment, Message: "funds"})
	require.NoError(t, err)
	assert.Equal(t, messaging.SubjectAdminAlerts, subject)
}

func TestWebhookChannel(t *testing.T) {
	var mu sync.Mutex
	paths := map[string]map[string]any{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		_ = json.Unmarshal(body, &payload)
		mu.Lock()
		paths[r.URL.Path] = payload
		mu.Unlock()
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	ch := NewWebhookChannel(server.URL+"/owners", server.URL+"/admins", time.Second)
	ctx := context.Background()

	require.NoError(t, ch.Notify(ctx, Expired(testRecord())))
	require.NoError(t, ch.Alert(ctx, &models.AdminAlert{Kind: models.AlertFraudSuspected}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "payment_outcome", paths["/owners"]["event"])
	assert.Equal(t, "admin_alert", paths["/admins"]["event"])
}

func TestWebhookChannel_EmptyURLSkips(t *testing.T) {
	ch := NewWebhookChannel("", "", time.Second)
	assert.NoError(t, ch.Notify(context.Background(), Expired(testRecord())))
	assert.NoError(t, ch.Alert(context.Background(), &models.AdminAlert{}))
}

func TestWebhookChannel_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	err := NewWebhookChannel(server.URL, "", time.Second).Notify(context.Background(), Expired(testRecord()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

type recordingChannel struct {
	mu       sync.Mutex
	name     string
	err      error
	outcomes []*models.PaymentOutcome
	alerts   []*models.AdminAlert
}

func (r *recordingChannel) Type() string { return r.name }

func (r *recordingChannel) Notify(ctx context.Context, o *models.PaymentOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
	return r.err
}

func (r *recordingChannel) Alert(ctx context.Context, a *models.AdminAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return r.err
}

func TestMultiChannel(t *testing.T) {
	ok := &recordingChannel{name: "ok"}
	broken := &recordingChannel{name: "broken", err: errors.New("down")}
	ctx := context.Background()

	multi := NewMultiChannel(logging.Discard(), broken, ok)
	require.NoError(t, multi.Notify(ctx, Expired(testRecord())))
	require.NoError(t, multi.Alert(ctx, &models.AdminAlert{Kind: models.AlertManualReview}))
	assert.Len(t, ok.outcomes, 1)
	assert.Len(t, broken.outcomes, 1)
	assert.False(t, ok.alerts[0].RaisedAt.IsZero())

	allBroken := NewMultiChannel(logging.Discard(), broken)
	err := allBroken.Notify(ctx, Expired(testRecord()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all notification channels failed")

	assert.NoError(t, NewMultiChannel(logging.Discard()).Notify(ctx, Expired(testRecord())))
}

func TestLogChannel(t *testing.T) {
	ch := NewLogChannel(logging.Discard())
	assert.Equal(t, "log", ch.Type())
	assert.NoError(t, ch.Notify(context.Background(), Expired(testRecord())))
	assert.NoError(t, ch.Alert(context.Background(), &models.AdminAlert{}))
}

func TestMessages(t *testing.T) {
	rec := testRecord()

	under := Underpaid(rec, "tx", decimal.RequireFromString("9.5"), decimal.RequireFromString("-0.5"))
	assert.Equal(t, models.OutcomeUnderpaid, under.Kind)
	assert.Contains(t, under.Message, "short by 0.5 TON")
	assert.Equal(t, NextActionTopUp, under.NextAction)

	over := Overpaid(rec, "tx", decimal.RequireFromString("12"), decimal.RequireFromString("2"))
	assert.Contains(t, over.Message, "excess of 2 TON")

	support := ContactSupport(rec, "tx")
	assert.NotContains(t, support.Message, "fraud")
	assert.NotContains(t, support.Message, "risk")

	exp := Expired(rec)
	assert.Equal(t, NextActionResend, exp.NextAction)

	conf := Confirmed(rec, "tx", decimal.NewNullDecimal(decimal.RequireFromString("10")))
	require.NotNil(t, conf.Received)
	assert.Equal(t, "owner-1", conf.OwnerID)

	assert.Equal(t, models.OutcomeFailed, Failed(rec, "retry budget exhausted").Kind)
	assert.Equal(t, models.OutcomeRefunded, Refunded(rec).Kind)
	assert.Equal(t, models.OutcomeUnderReview, UnderReview(rec, "tx").Kind)
}
