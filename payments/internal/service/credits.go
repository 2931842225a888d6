package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/i3lani/paywatch/common/logging"
	"github.com/i3lani/paywatch/payments/internal/confirmation"
	"github.com/i3lani/paywatch/payments/internal/models"
	"github.com/i3lani/paywatch/payments/internal/repository"
)

// creditsProvider labels synthetic transactions built from credit charges.
const creditsProvider = "credits"

// SettleCredit runs a platform credit charge through the same confirmation
// path as a ledger transfer. The charge id makes the callback idempotent.
func (s *Service) SettleCredit(ctx context.Context, memo string, req *models.SettleCreditRequest) (*models.ProcessResult, error) {
	memo = NormalizeMemo(memo)
	chargeID := strings.TrimSpace(req.ChargeID)
	if chargeID == "" {
		return nil, ErrInvalidChargeID
	}
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	payment, err := s.store.GetRequestByMemo(ctx, memo)
	if err != nil {
		return nil, err
	}
	if payment.Method != models.MethodCredits {
		return nil, ErrNotCreditPayment
	}
	rec, err := s.store.Lookup(ctx, memo)
	if err != nil {
		return nil, err
	}

	tx := models.RawTransaction{
		TxHash:         "credits:" + chargeID,
		Sender:         req.PayerID,
		Amount:         decimal.NewNullDecimal(req.Amount),
		Memo:           &memo,
		ObservedAt:     s.now(),
		SourceProvider: creditsProvider,
	}
	result, err := s.processor.Process(ctx, rec, tx, models.WatcherCredits)
	if err != nil {
		return nil, err
	}

	switch result.Action {
	case models.AuditConfirmed, models.AuditAlreadyConfirmed:
		s.moveRequest(ctx, memo, models.RequestConfirmed)
	case models.AuditFraudBlocked:
		s.moveRequest(ctx, memo, models.RequestFailed)
	}

	s.logger.InfoContext(ctx, "credit charge settled",
		logging.Memo(memo), logging.TxHash(tx.TxHash), "action", string(result.Action))
	return result, nil
}

// ProceedWithExcess is the owner accepting an overpayment from the checkout
// flow. It confirms the record with the overpaying transfer.
func (s *Service) ProceedWithExcess(ctx context.Context, ownerID, memo string) (*models.RendezvousRecord, error) {
	memo = NormalizeMemo(memo)
	rec, err := s.store.Lookup(ctx, memo)
	if err != nil {
		return nil, err
	}
	if rec.OwnerID != ownerID {
		return nil, ErrForbidden
	}

	item, err := s.store.FindPendingReview(ctx, models.ReviewOverpayment, memo)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoPendingReview
	}
	if err != nil {
		return nil, err
	}

	if err := s.approve(ctx, rec, item, "owner:"+ownerID, "owner proceeded with excess", models.WatcherOwner); err != nil {
		return nil, err
	}
	return s.store.Lookup(ctx, memo)
}

// approve confirms rec with the transfer behind item and closes the item.
// The registry swap decides first, so the item stays pending when the
// record already left pending.
func (s *Service) approve(ctx context.Context, rec *models.RendezvousRecord, item *models.ReviewItem, resolvedBy, note, watcher string) error {
	if err := s.processor.Approve(ctx, rec, item.TxHash, item.Amount, watcher); err != nil {
		if errors.Is(err, confirmation.ErrNotPending) {
			return err
		}
		return fmt.Errorf("approve %s: %w", rec.Memo, err)
	}
	if err := s.store.ResolveReviewItem(ctx, item.ID, models.ReviewApproved, resolvedBy, note); err != nil && !errors.Is(err, repository.ErrAlreadyResolved) {
		s.logger.ErrorContext(ctx, "failed to close approved review item", logging.Memo(rec.Memo), "review_id", item.ID, logging.Error(err))
	}
	s.moveRequest(ctx, rec.Memo, models.RequestConfirmed)
	return nil
}
