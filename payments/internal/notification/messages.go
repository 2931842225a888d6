package notification

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/i3lani/paywatch/payments/internal/models"
)

// Next actions suggested to the owner.
const (
	NextActionResend  = "resend_payment"
	NextActionTopUp   = "send_difference"
	NextActionWait    = "wait_for_review"
	NextActionSupport = "contact_support"
)

func outcome(kind models.OutcomeKind, rec *models.RendezvousRecord, txHash string) *models.PaymentOutcome {
	return &models.PaymentOutcome{
		Kind:       kind,
		OwnerID:    rec.OwnerID,
		Memo:       rec.Memo,
		TxHash:     txHash,
		Expected:   rec.ExpectedAmount,
		OccurredAt: time.Now().UTC(),
	}
}

// Confirmed tells the owner the payment was credited.
func Confirmed(rec *models.RendezvousRecord, txHash string, received decimal.NullDecimal) *models.PaymentOutcome {
	o := outcome(models.OutcomeConfirmed, rec, txHash)
	if received.Valid {
		r := received.Decimal
		o.Received = &r
	}
	o.Message = fmt.Sprintf("Payment of %s %s for %s confirmed.", rec.ExpectedAmount.String(), rec.Currency, rec.Memo)
	return o
}

// Underpaid states the exact shortfall so the owner can top up.
func Underpaid(rec *models.RendezvousRecord, txHash string, received decimal.Decimal, diff decimal.Decimal) *models.PaymentOutcome {
	o := outcome(models.OutcomeUnderpaid, rec, txHash)
	short := diff.Neg()
	o.Received = &received
	o.Difference = &diff
	o.Message = fmt.Sprintf("Received %s %s for %s, expected %s. You are short by %s %s.",
		received.String(), rec.Currency, rec.Memo, rec.ExpectedAmount.String(), short.String(), rec.Currency)
	o.NextAction = NextActionTopUp
	return o
}

// Overpaid states the excess; the payment waits for a decision.
func Overpaid(rec *models.RendezvousRecord, txHash string, received decimal.Decimal, diff decimal.Decimal) *models.PaymentOutcome {
	o := outcome(models.OutcomeOverpaid, rec, txHash)
	o.Received = &received
	o.Difference = &diff
	o.Message = fmt.Sprintf("Received %s %s for %s, expected %s. The excess of %s %s is under review; you may proceed with the excess.",
		received.String(), rec.Currency, rec.Memo, rec.ExpectedAmount.String(), diff.String(), rec.Currency)
	o.NextAction = NextActionWait
	return o
}

// UnderReview covers payments held for a human without more detail.
func UnderReview(rec *models.RendezvousRecord, txHash string) *models.PaymentOutcome {
	o := outcome(models.OutcomeUnderReview, rec, txHash)
	o.Message = fmt.Sprintf("Your payment for %s is being reviewed.", rec.Memo)
	o.NextAction = NextActionWait
	return o
}

// ContactSupport is the only thing an owner learns about a fraud block.
func ContactSupport(rec *models.RendezvousRecord, txHash string) *models.PaymentOutcome {
	o := outcome(models.OutcomeContactSupport, rec, txHash)
	o.Message = fmt.Sprintf("We could not process your payment for %s automatically. Please contact support.", rec.Memo)
	o.NextAction = NextActionSupport
	return o
}

// Expired says the window lapsed; a resend starts a new memo.
func Expired(rec *models.RendezvousRecord) *models.PaymentOutcome {
	o := outcome(models.OutcomeExpired, rec, "")
	o.Message = fmt.Sprintf("The payment window for %s has closed. Start a new payment to receive a new code.", rec.Memo)
	o.NextAction = NextActionResend
	return o
}

// Failed is sent when the retry budget is exhausted.
func Failed(rec *models.RendezvousRecord, reason string) *models.PaymentOutcome {
	o := outcome(models.OutcomeFailed, rec, "")
	o.Message = fmt.Sprintf("Payment for %s failed: %s", rec.Memo, reason)
	o.NextAction = NextActionSupport
	return o
}

// Refunded tells the owner a confirmed payment was reversed.
func Refunded(rec *models.RendezvousRecord) *models.PaymentOutcome {
	o := outcome(models.OutcomeRefunded, rec, "")
	o.Message = fmt.Sprintf("Payment for %s has been refunded.", rec.Memo)
	return o
}
