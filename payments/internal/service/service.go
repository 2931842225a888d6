// Package service implements the payment engine's exposed operations on top
// of the registry, the confirmation processor and the two watchers.
package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/i3lani/paywatch/common/logging"
	"github.com/i3lani/paywatch/payments/internal/audit"
	"github.com/i3lani/paywatch/payments/internal/confirmation"
	"github.com/i3lani/paywatch/payments/internal/fraud"
	"github.com/i3lani/paywatch/payments/internal/models"
	"github.com/i3lani/paywatch/payments/internal/repository"
)

var (
	ErrInvalidOwner          = errors.New("owner_id is required")
	ErrInvalidAmount         = errors.New("amount must be positive and within the allowed maximum")
	ErrUnsupportedCurrency   = errors.New("currency is not supported")
	ErrUnsupportedMethod     = errors.New("payment method is not supported")
	ErrMemoExhausted         = errors.New("could not allocate a unique memo")
	ErrInvalidChargeID       = errors.New("charge_id is required")
	ErrNotCreditPayment      = errors.New("payment is not a credits payment")
	ErrForbidden             = errors.New("payment belongs to another owner")
	ErrNoPendingReview       = errors.New("no pending review item for this payment")
	ErrInvalidResolution     = errors.New("resolution must be approve or reject")
	ErrNotConfirmed          = errors.New("payment is not confirmed")
	ErrReconcilerUnavailable = errors.New("reconciliation scanner is not running")
	ErrEmptyQuery            = errors.New("search query is required")
)

// Watcher starts an Active Monitor for a payment request.
type Watcher interface {
	Watch(req *models.PaymentRequest) bool
}

// Reconciler runs one scanner pass on demand.
type Reconciler interface {
	RunOnce(ctx context.Context, trigger string) *models.TickReport
}

// Settings hold checkout parameters.
type Settings struct {
	Account      string
	Currency     string
	Methods      []models.PaymentMethod
	MaxAmount    decimal.Decimal
	Window       time.Duration
	MaxRetries   int
	MemoAttempts int
	MemoPattern  *regexp.Regexp
}

// Service provides business logic for payments.
type Service struct {
	store      repository.Store
	processor  *confirmation.Processor
	fraud      *fraud.Evaluator
	audit      *audit.Log
	watcher    Watcher
	reconciler Reconciler
	memos      MemoGenerator
	settings   Settings
	logger     *logging.Logger
	now        func() time.Time
}

// NewService creates a new Service. watcher and reconciler may be nil when
// the process runs without them.
func NewService(store repository.Store, processor *confirmation.Processor, evaluator *fraud.Evaluator, auditLog *audit.Log, watcher Watcher, reconciler Reconciler, memos MemoGenerator, settings Settings, logger *logging.Logger) *Service {
	if settings.MemoAttempts <= 0 {
		settings.MemoAttempts = 8
	}
	return &Service{
		store:      store,
		processor:  processor,
		fraud:      evaluator,
		audit:      auditLog,
		watcher:    watcher,
		reconciler: reconciler,
		memos:      memos,
		settings:   settings,
		logger:     logger,
		now:        time.Now,
	}
}

// InitiatePayment allocates a memo, persists the record and its payment
// request, and starts watching the ledger for ton payments.
func (s *Service) InitiatePayment(ctx context.Context, req *models.InitiatePaymentRequest) (*models.InitiatePaymentResponse, error) {
	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" {
		return nil, ErrInvalidOwner
	}
	if !req.Amount.IsPositive() || (s.settings.MaxAmount.IsPositive() && req.Amount.GreaterThan(s.settings.MaxAmount)) {
		return nil, ErrInvalidAmount
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.settings.Currency
	}
	if !strings.EqualFold(currency, s.settings.Currency) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, req.Currency)
	}

	method := req.Method
	if method == "" {
		method = models.MethodTON
	}
	if !slices.Contains(s.settings.Methods, method) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}

	expiresAt := s.now().Add(s.settings.Window)
	rec, err := s.allocate(ctx, models.NewRecord{
		OwnerID:        ownerID,
		ExpectedAmount: req.Amount,
		Currency:       currency,
		Metadata:       req.Metadata,
		ExpiresAt:      expiresAt,
	})
	if err != nil {
		return nil, err
	}

	payment := &models.PaymentRequest{
		OwnerID:    ownerID,
		Amount:     req.Amount,
		Currency:   currency,
		Method:     method,
		Memo:       rec.Memo,
		ExpiresAt:  rec.ExpiresAt,
		MaxRetries: s.settings.MaxRetries,
	}
	if method == models.MethodTON {
		payment.RecipientAddress = s.settings.Account
	}
	// A record without a request is still swept by the scanner at expiry.
	if err := s.store.CreateRequest(ctx, payment); err != nil {
		return nil, fmt.Errorf("create payment request: %w", err)
	}

	if err := s.fraud.RecordAttempt(ctx, ownerID, rec.Memo, rec.CreatedAt); err != nil {
		s.logger.WarnContext(ctx, "failed to record payment attempt", logging.Memo(rec.Memo), logging.Error(err))
	}

	if method == models.MethodTON && s.watcher != nil {
		s.watcher.Watch(payment)
	}

	s.logger.InfoContext(ctx, "payment initiated",
		logging.Memo(rec.Memo),
		logging.OwnerID(ownerID),
		logging.Amount(req.Amount.String()),
		"method", string(method),
		"payment_id", payment.ID,
	)

	return &models.InitiatePaymentResponse{
		PaymentID:        payment.ID,
		Memo:             rec.Memo,
		RecipientAddress: payment.RecipientAddress,
		Amount:           req.Amount,
		Currency:         currency,
		Method:           method,
		ExpiresAt:        rec.ExpiresAt,
	}, nil
}

// allocate creates the record under a fresh memo, retrying on collisions.
func (s *Service) allocate(ctx context.Context, nr models.NewRecord) (*models.RendezvousRecord, error) {
	for range s.settings.MemoAttempts {
		memo := s.memos()
		if s.settings.MemoPattern != nil && !s.settings.MemoPattern.MatchString(memo) {
			return nil, fmt.Errorf("generated memo %q does not match memo.pattern", memo)
		}
		nr.Memo = memo
		rec, err := s.store.Create(ctx, nr)
		if errors.Is(err, repository.ErrDuplicateMemo) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create record: %w", err)
		}
		return rec, nil
	}
	return nil, ErrMemoExhausted
}

// GetStatus returns the record for memo and its payment request.
func (s *Service) GetStatus(ctx context.Context, memo string) (*models.PaymentStatus, error) {
	memo = NormalizeMemo(memo)
	rec, err := s.store.Lookup(ctx, memo)
	if err != nil {
		return nil, err
	}
	status := &models.PaymentStatus{Record: rec}

	req, err := s.store.GetRequestByMemo(ctx, memo)
	switch {
	case err == nil:
		status.Request = req
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}
	return status, nil
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// NormalizeMemo uppercases and trims a memo typed by a person.
func NormalizeMemo(memo string) string {
	return strings.ToUpper(strings.TrimSpace(memo))
}

// moveRequest applies status to the payment request of memo when the
// transition is allowed. The record is authoritative; failures are logged.
func (s *Service) moveRequest(ctx context.Context, memo string, status models.RequestStatus) {
	req, err := s.store.GetRequestByMemo(ctx, memo)
	if errors.Is(err, repository.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.WarnContext(ctx, "payment request lookup failed", logging.Memo(memo), logging.Error(err))
		return
	}
	if !requestCanMove(req.Status, status) {
		return
	}
	if err := s.store.UpdateRequestStatus(ctx, req.ID, status); err != nil {
		s.logger.WarnContext(ctx, "payment request update failed", logging.Memo(memo), logging.Error(err))
	}
}

func requestCanMove(from, to models.RequestStatus) bool {
	switch {
	case from == to:
		return false
	case !from.IsTerminal():
		return true
	case from == models.RequestFailed && to == models.RequestConfirmed:
		// A human approval overrides a fraud block or spent retry budget.
		return true
	case from == models.RequestConfirmed && to == models.RequestRefunded:
		return true
	}
	return false
}
