package confirmation

import (
	"regexp"
	"strings"
	"time"

	"github.com/i3lani/paywatch/payments/internal/address"
	"github.com/i3lani/paywatch/payments/internal/models"
)

// Matcher decides which ledger entries are candidates for a record.
type Matcher struct {
	normalizer *address.Normalizer
	account    string
	pattern    *regexp.Regexp
	clockSkew  time.Duration
}

// NewMatcher creates a Matcher for transfers into account. pattern is the
// memo format issued by this service.
func NewMatcher(normalizer *address.Normalizer, account string, pattern *regexp.Regexp, clockSkew time.Duration) *Matcher {
	return &Matcher{
		normalizer: normalizer,
		account:    account,
		pattern:    pattern,
		clockSkew:  clockSkew,
	}
}

// Memo extracts a plausible memo from tx. Payers add whitespace, change case
// or append words, so each word of the comment is tried in order.
func (m *Matcher) Memo(tx *models.RawTransaction) (string, bool) {
	text := strings.ToUpper(strings.TrimSpace(tx.MemoText()))
	if text == "" {
		return "", false
	}
	if m.pattern.MatchString(text) {
		return text, true
	}
	for _, word := range strings.Fields(text) {
		word = strings.Trim(word, ".,;:!#\"'()")
		if m.pattern.MatchString(word) {
			return word, true
		}
	}
	return "", false
}

// Incoming reports whether tx credits the watched account. Providers that
// do not report a destination are trusted, since they list incoming
// transfers of the queried account.
func (m *Matcher) Incoming(tx *models.RawTransaction) bool {
	if tx.Recipient == "" || m.account == "" {
		return true
	}
	return m.normalizer.Equivalent(tx.Recipient, m.account)
}

// Predates reports whether tx was observed before rec could have been paid.
func (m *Matcher) Predates(tx *models.RawTransaction, rec *models.RendezvousRecord) bool {
	if tx.ObservedAt.IsZero() {
		return false
	}
	return tx.ObservedAt.Before(rec.CreatedAt.Add(-m.clockSkew))
}

// Account returns the watched account.
func (m *Matcher) Account() string {
	return m.account
}
