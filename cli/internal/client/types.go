package client

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Record mirrors the service's rendezvous record.
type Record struct {
	ID              string          `json:"id" yaml:"id"`
	Memo            string          `json:"memo" yaml:"memo"`
	OwnerID         string          `json:"owner_id" yaml:"owner_id"`
	ExpectedAmount  decimal.Decimal `json:"expected_amount" yaml:"expected_amount"`
	Currency        string          `json:"currency" yaml:"currency"`
	Status          string          `json:"status" yaml:"status"`
	CreatedAt       time.Time       `json:"created_at" yaml:"created_at"`
	ExpiresAt       time.Time       `json:"expires_at" yaml:"expires_at"`
	ConfirmedAt     *time.Time      `json:"confirmed_at,omitempty" yaml:"confirmed_at,omitempty"`
	ConfirmedTxHash *string         `json:"confirmed_tx_hash,omitempty" yaml:"confirmed_tx_hash,omitempty"`
}

// Request mirrors the payment request watched by an active monitor.
type Request struct {
	ID         string          `json:"id" yaml:"id"`
	Method     string          `json:"method" yaml:"method"`
	Amount     decimal.Decimal `json:"amount" yaml:"amount"`
	Status     string          `json:"status" yaml:"status"`
	RetryCount int             `json:"retry_count" yaml:"retry_count"`
	MaxRetries int             `json:"max_retries" yaml:"max_retries"`
	ExpiresAt  time.Time       `json:"expires_at" yaml:"expires_at"`
}

// PaymentStatus is the GET /payments/{memo} response.
type PaymentStatus struct {
	Record  *Record  `json:"record" yaml:"record"`
	Request *Request `json:"request,omitempty" yaml:"request,omitempty"`
}

// ReviewItem is an event awaiting an administrator's decision.
type ReviewItem struct {
	ID         int64               `json:"id" yaml:"id"`
	Kind       string              `json:"kind" yaml:"kind"`
	Memo       string              `json:"memo" yaml:"memo"`
	TxHash     string              `json:"tx_hash" yaml:"tx_hash"`
	OwnerID    string              `json:"owner_id" yaml:"owner_id"`
	Amount     decimal.NullDecimal `json:"amount" yaml:"amount"`
	Expected   decimal.Decimal     `json:"expected" yaml:"expected"`
	Details    json.RawMessage     `json:"details,omitempty" yaml:"-"`
	Status     string              `json:"status" yaml:"status"`
	CreatedAt  time.Time           `json:"created_at" yaml:"created_at"`
	ResolvedAt *time.Time          `json:"resolved_at,omitempty" yaml:"resolved_at,omitempty"`
	ResolvedBy *string             `json:"resolved_by,omitempty" yaml:"resolved_by,omitempty"`
	Note       *string             `json:"note,omitempty" yaml:"note,omitempty"`
}

// UntrackedPayment is a transfer no record could absorb.
type UntrackedPayment struct {
	ID           int64               `json:"id" yaml:"id"`
	Memo         string              `json:"memo" yaml:"memo"`
	Amount       decimal.NullDecimal `json:"amount" yaml:"amount"`
	Sender       string              `json:"sender,omitempty" yaml:"sender,omitempty"`
	TxHash       string              `json:"tx_hash" yaml:"tx_hash"`
	Reason       string              `json:"reason" yaml:"reason"`
	ObservedAt   time.Time           `json:"observed_at" yaml:"observed_at"`
	ReviewStatus string              `json:"review_status" yaml:"review_status"`
	ResolvedBy   *string             `json:"resolved_by,omitempty" yaml:"resolved_by,omitempty"`
	Note         *string             `json:"note,omitempty" yaml:"note,omitempty"`
}

// Pagination is the list metadata returned with every page.
type Pagination struct {
	Page  int `json:"page" yaml:"page"`
	Limit int `json:"limit" yaml:"limit"`
	Total int `json:"total" yaml:"total"`
}

// ReviewPage is one page of review items.
type ReviewPage struct {
	Items      []*ReviewItem `json:"items" yaml:"items"`
	Pagination Pagination    `json:"pagination" yaml:"pagination"`
}

// UntrackedPage is one page of untracked payments.
type UntrackedPage struct {
	Items      []*UntrackedPayment `json:"items" yaml:"items"`
	Pagination Pagination          `json:"pagination" yaml:"pagination"`
}

// AuditEntry is one audit log row.
type AuditEntry struct {
	ID        int64     `json:"id" yaml:"id"`
	Memo      string    `json:"memo" yaml:"memo"`
	TxHash    string    `json:"tx_hash" yaml:"tx_hash"`
	Action    string    `json:"action" yaml:"action"`
	Watcher   string    `json:"watcher" yaml:"watcher"`
	Detail    string    `json:"detail,omitempty" yaml:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// TickReport summarizes one reconciliation pass.
type TickReport struct {
	StartedAt        time.Time     `json:"started_at" yaml:"started_at"`
	Duration         time.Duration `json:"duration_ns" yaml:"duration"`
	Fetched          int           `json:"fetched" yaml:"fetched"`
	Candidates       int           `json:"candidates" yaml:"candidates"`
	Confirmed        int           `json:"confirmed" yaml:"confirmed"`
	AlreadyConfirmed int           `json:"already_confirmed" yaml:"already_confirmed"`
	Rejected         int           `json:"rejected" yaml:"rejected"`
	ManualReview     int           `json:"manual_review" yaml:"manual_review"`
	FraudBlocked     int           `json:"fraud_blocked" yaml:"fraud_blocked"`
	Untracked        int           `json:"untracked" yaml:"untracked"`
	Expired          int           `json:"expired" yaml:"expired"`
	Skipped          int           `json:"skipped" yaml:"skipped"`
	FetchError       string        `json:"fetch_error,omitempty" yaml:"fetch_error,omitempty"`
	Errors           []string      `json:"errors,omitempty" yaml:"errors,omitempty"`
}
