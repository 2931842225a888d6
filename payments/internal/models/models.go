// Package models provides data models for the payments service.
package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/i3lani/paywatch/common/messaging"
)

// =============================================================================
// Rendezvous Records
// =============================================================================

// RecordStatus is the lifecycle state of a RendezvousRecord.
type RecordStatus string

const (
	RecordPending   RecordStatus = "pending"
	RecordConfirmed RecordStatus = "confirmed"
	RecordExpired   RecordStatus = "expired"
	RecordRefunded  RecordStatus = "refunded"
)

// RendezvousRecord is a promise to pay: the memo a payer must attach to a
// transfer, and what that transfer must carry.
type RendezvousRecord struct {
	ID              string          `json:"id"` // UUID v7
	Memo            string          `json:"memo"`
	OwnerID         string          `json:"owner_id"`
	ExpectedAmount  decimal.Decimal `json:"expected_amount"`
	Currency        string          `json:"currency"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	Status          RecordStatus    `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
	ConfirmedAt     *time.Time      `json:"confirmed_at,omitempty"`
	ConfirmedTxHash *string         `json:"confirmed_tx_hash,omitempty"`
}

// IsTerminal returns true once the record can no longer be confirmed.
func (r *RendezvousRecord) IsTerminal() bool {
	return r.Status != RecordPending
}

// NewRecord describes a record to create.
type NewRecord struct {
	Memo           string
	OwnerID        string
	ExpectedAmount decimal.Decimal
	Currency       string
	Metadata       json.RawMessage
	ExpiresAt      time.Time
}

// =============================================================================
// Ledger Transactions
// =============================================================================

// RawTransaction is a provider-returned ledger entry in canonical form.
// Amount and Memo are absent when the provider response did not carry them.
type RawTransaction struct {
	TxHash         string              `json:"tx_hash"`
	Sender         string              `json:"sender_address,omitempty"`
	Recipient      string              `json:"recipient_address,omitempty"`
	Amount         decimal.NullDecimal `json:"amount"`
	Memo           *string             `json:"memo,omitempty"`
	ObservedAt     time.Time           `json:"observed_at"`
	SourceProvider string              `json:"source_provider"`
}

// MemoText returns the memo or "" when absent.
func (t *RawTransaction) MemoText() string {
	if t.Memo == nil {
		return ""
	}
	return *t.Memo
}

// =============================================================================
// Payment Requests
// =============================================================================

// PaymentMethod selects how a payment settles.
type PaymentMethod string

const (
	MethodTON     PaymentMethod = "ton"
	MethodCredits PaymentMethod = "credits"
)

// RequestStatus is the Active Monitor's view of a payment.
type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestProcessing RequestStatus = "processing"
	RequestConfirmed  RequestStatus = "confirmed"
	RequestFailed     RequestStatus = "failed"
	RequestExpired    RequestStatus = "expired"
	RequestRefunded   RequestStatus = "refunded"
)

// IsTerminal returns true for statuses an Active Monitor never leaves.
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case RequestConfirmed, RequestFailed, RequestExpired, RequestRefunded:
		return true
	}
	return false
}

// PaymentRequest is the operational wrapper watched by one Active Monitor.
type PaymentRequest struct {
	ID               string          `json:"id"` // UUID v7
	OwnerID          string          `json:"owner_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Method           PaymentMethod   `json:"method"`
	Memo             string          `json:"memo"`
	RecipientAddress string          `json:"recipient_address"`
	CreatedAt        time.Time       `json:"created_at"`
	ExpiresAt        time.Time       `json:"expires_at"`
	Status           RequestStatus   `json:"status"`
	RetryCount       int             `json:"retry_count"`
	MaxRetries       int             `json:"max_retries"`
}

// =============================================================================
// Evaluation Results
// =============================================================================

// ValidationStatus classifies a received amount.
type ValidationStatus string

const (
	ValidationExact        ValidationStatus = "exact"
	ValidationUnderpayment ValidationStatus = "underpayment"
	ValidationOverpayment  ValidationStatus = "overpayment"
	ValidationError        ValidationStatus = "error"
)

// Action is what the confirmation path does with a candidate.
type Action string

const (
	ActionConfirm      Action = "confirm"
	ActionReject       Action = "reject"
	ActionManualReview Action = "manual_review"
)

// ValidationResult is the Amount Validator's verdict.
type ValidationResult struct {
	Valid      bool             `json:"valid"`
	Status     ValidationStatus `json:"status"`
	Difference decimal.Decimal  `json:"difference"`
	Action     Action           `json:"action"`
	Reason     string           `json:"reason"`
}

// FraudAnalysis is the Fraud Heuristic Evaluator's verdict.
type FraudAnalysis struct {
	RiskScore            float64  `json:"risk_score"`
	RiskFactors          []string `json:"risk_factors"`
	IsSuspicious         bool     `json:"is_suspicious"`
	RequiresManualReview bool     `json:"requires_manual_review"`
}

// =============================================================================
// Untracked Payments
// =============================================================================

// UntrackedReason says why a transfer could not be matched to a record.
type UntrackedReason string

const (
	UntrackedNoRecord       UntrackedReason = "no_record"
	UntrackedExpiredRecord  UntrackedReason = "expired_record"
	UntrackedDuplicate      UntrackedReason = "duplicate_payment"
	UntrackedPredatesRecord UntrackedReason = "predates_record"
)

// ReviewStatus is the administrative state shared by untracked payments and
// review items.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending_review"
	ReviewResolved ReviewStatus = "resolved"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// UntrackedPayment is a detected incoming transfer with no record to credit.
// It stays pending until an administrator resolves it.
type UntrackedPayment struct {
	ID             int64               `json:"id"`
	Memo           string              `json:"memo"`
	Amount         decimal.NullDecimal `json:"amount"`
	Sender         string              `json:"sender,omitempty"`
	TxHash         string              `json:"tx_hash"`
	SourceProvider string              `json:"source_provider,omitempty"`
	Reason         UntrackedReason     `json:"reason"`
	ObservedAt     time.Time           `json:"observed_at"`
	ReviewStatus   ReviewStatus        `json:"review_status"`
	CreatedAt      time.Time           `json:"created_at"`
	ResolvedAt     *time.Time          `json:"resolved_at,omitempty"`
	ResolvedBy     *string             `json:"resolved_by,omitempty"`
	Note           *string             `json:"note,omitempty"`
}

// =============================================================================
// Review Queue
// =============================================================================

// ReviewKind categorizes a review item.
type ReviewKind string

const (
	ReviewOverpayment     ReviewKind = "overpayment"
	ReviewFraud           ReviewKind = "fraud"
	ReviewValidationError ReviewKind = "validation_error"
)

// ReviewItem is a ManualReview-flagged event awaiting a decision.
type ReviewItem struct {
	ID         int64               `json:"id"`
	Kind       ReviewKind          `json:"kind"`
	Memo       string              `json:"memo"`
	TxHash     string              `json:"tx_hash"`
	OwnerID    string              `json:"owner_id"`
	Amount     decimal.NullDecimal `json:"amount"`
	Expected   decimal.Decimal     `json:"expected"`
	Details    json.RawMessage     `json:"details,omitempty"`
	Status     ReviewStatus        `json:"status"`
	CreatedAt  time.Time           `json:"created_at"`
	ResolvedAt *time.Time          `json:"resolved_at,omitempty"`
	ResolvedBy *string             `json:"resolved_by,omitempty"`
	Note       *string             `json:"note,omitempty"`
}

// Resolution is an administrator's decision on a review item.
type Resolution string

const (
	ResolutionApprove Resolution = "approve"
	ResolutionReject  Resolution = "reject"
)

// =============================================================================
// Audit Log
// =============================================================================

// AuditAction is the outcome recorded for a (memo, tx) pair.
type AuditAction string

const (
	AuditConfirmed        AuditAction = "confirmed"
	AuditAlreadyConfirmed AuditAction = "already_confirmed"
	AuditRejected         AuditAction = "rejected"
	AuditManualReview     AuditAction = "manual_review"
	AuditFraudBlocked     AuditAction = "fraud_blocked"
	AuditExpired          AuditAction = "expired"
	AuditRefunded         AuditAction = "refunded"
	AuditApproved         AuditAction = "approved"
	AuditUntracked        AuditAction = "untracked"
)

// AuditEntry is one append-only audit log row.
type AuditEntry struct {
	ID         int64             `json:"id"`
	Memo       string            `json:"memo"`
	TxHash     string            `json:"tx_hash"`
	Action     AuditAction       `json:"action"`
	Watcher    string            `json:"watcher"`
	Validation *ValidationResult `json:"validation,omitempty"`
	Fraud      *FraudAnalysis    `json:"fraud,omitempty"`
	Detail     string            `json:"detail,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Watcher names written to the audit log.
const (
	WatcherMonitor = "monitor"
	WatcherScanner = "scanner"
	WatcherAdmin   = "admin"
	WatcherCredits = "credits"
	WatcherOwner   = "owner"
)

// =============================================================================
// Notifications
// =============================================================================

// OutcomeKind is the owner-facing outcome category.
type OutcomeKind string

const (
	OutcomeConfirmed      OutcomeKind = "confirmed"
	OutcomeUnderpaid      OutcomeKind = "underpaid"
	OutcomeOverpaid       OutcomeKind = "overpaid"
	OutcomeUnderReview    OutcomeKind = "under_review"
	OutcomeContactSupport OutcomeKind = "contact_support"
	OutcomeExpired        OutcomeKind = "expired"
	OutcomeFailed         OutcomeKind = "failed"
	OutcomeRefunded       OutcomeKind = "refunded"
)

// PaymentOutcome is delivered to the Notification Dispatcher.
type PaymentOutcome struct {
	Kind       OutcomeKind      `json:"kind"`
	OwnerID    string           `json:"owner_id"`
	Memo       string           `json:"memo"`
	TxHash     string           `json:"tx_hash,omitempty"`
	Expected   decimal.Decimal  `json:"expected"`
	Received   *decimal.Decimal `json:"received,omitempty"`
	Difference *decimal.Decimal `json:"difference,omitempty"`
	Message    string           `json:"message"`
	NextAction string           `json:"next_action,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// AlertKind categorizes administrative alerts.
type AlertKind string

const (
	AlertUntrackedPayment AlertKind = "untracked_payment"
	AlertFraudSuspected   AlertKind = "fraud_suspected"
	AlertFraudFlagged     AlertKind = "fraud_flagged"
	AlertManualReview     AlertKind = "manual_review"
	AlertWatcherHalted    AlertKind = "watcher_halted"
)

// AdminAlert is delivered to the administrative collaborator.
type AdminAlert struct {
	Kind     AlertKind      `json:"kind"`
	Memo     string         `json:"memo,omitempty"`
	TxHash   string         `json:"tx_hash,omitempty"`
	OwnerID  string         `json:"owner_id,omitempty"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
	RaisedAt time.Time      `json:"raised_at"`
}

// =============================================================================
// API Types
// =============================================================================

// InitiatePaymentRequest is the API request for starting a checkout.
type InitiatePaymentRequest struct {
	OwnerID  string          `json:"owner_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency,omitempty"`
	Method   PaymentMethod   `json:"method,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// InitiatePaymentResponse tells the payer where and how to pay.
type InitiatePaymentResponse struct {
	PaymentID        string          `json:"payment_id"`
	Memo             string          `json:"memo"`
	RecipientAddress string          `json:"recipient_address"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Method           PaymentMethod   `json:"method"`
	ExpiresAt        time.Time       `json:"expires_at"`
}

// PaymentStatus combines a record with its payment request, if any.
type PaymentStatus struct {
	Record  *RendezvousRecord `json:"record"`
	Request *PaymentRequest   `json:"request,omitempty"`
}

// SettleCreditRequest is the platform callback for an in-app credit charge.
type SettleCreditRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	ChargeID string          `json:"charge_id"`
	PayerID  string          `json:"payer_id,omitempty"`
}

// ProceedWithExcessRequest is the owner accepting an overpayment.
type ProceedWithExcessRequest struct {
	OwnerID string `json:"owner_id"`
}

// RefundRequest is the API request for refunding a confirmed payment.
type RefundRequest struct {
	Note string `json:"note,omitempty"`
}

// HealthResponse is returned by the health endpoints.
type HealthResponse struct {
	Status  string                  `json:"status"`
	Service string                  `json:"service"`
	Error   string                  `json:"error,omitempty"`
	Bus     *messaging.HealthStatus `json:"bus,omitempty"`
}

// ResolveRequest is the API request for resolving a review item or untracked payment.
type ResolveRequest struct {
	Resolution Resolution `json:"resolution,omitempty"`
	Note       string     `json:"note,omitempty"`
}

// ProcessResult reports what the confirmation path did with one candidate.
type ProcessResult struct {
	Memo       string            `json:"memo"`
	TxHash     string            `json:"tx_hash"`
	Action     AuditAction       `json:"action"`
	Validation *ValidationResult `json:"validation,omitempty"`
	Fraud      *FraudAnalysis    `json:"fraud,omitempty"`
	Notified   bool              `json:"notified"`
}

// TickReport summarizes one Reconciliation Scanner pass.
type TickReport struct {
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration_ns"`
	Fetched          int           `json:"fetched"`
	Candidates       int           `json:"candidates"`
	Confirmed        int           `json:"confirmed"`
	AlreadyConfirmed int           `json:"already_confirmed"`
	Rejected         int           `json:"rejected"`
	ManualReview     int           `json:"manual_review"`
	FraudBlocked     int           `json:"fraud_blocked"`
	Untracked        int           `json:"untracked"`
	Expired          int           `json:"expired"`
	Skipped          int           `json:"skipped"`
	FetchError       string        `json:"fetch_error,omitempty"`
	Errors           []string      `json:"errors,omitempty"`
}

// Pagination holds pagination metadata
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

// ListUntrackedResponse contains paginated untracked payments
type ListUntrackedResponse struct {
	Items      []*UntrackedPayment `json:"items"`
	Pagination Pagination          `json:"pagination"`
}

// ListReviewResponse contains paginated review items
type ListReviewResponse struct {
	Items      []*ReviewItem `json:"items"`
	Pagination Pagination    `json:"pagination"`
}
