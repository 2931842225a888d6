package ledger

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/tonkeeper/tongo/ton"
)

// nanoExp converts nanotons to TON.
const nanoExp = -9

// parseNano reads a nanoton amount encoded as a JSON string or number.
// Anything else is absent.
func parseNano(raw json.RawMessage) decimal.NullDecimal {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d.Shift(nanoExp))
}

// canonicalHash renders a transaction hash as lowercase hex whether the
// provider reported it in hex, base64 or base64url. Hashes that are not 32
// bytes in any of those encodings are kept as reported.
func canonicalHash(s string) string {
	s = strings.TrimSpace(s)
	h, err := ton.ParseHash(s)
	if err != nil {
		return s
	}
	return h.Hex()
}

// parseUnix reads unix seconds encoded as a JSON string or number, falling
// back to fallback.
func parseUnix(raw json.RawMessage, fallback time.Time) time.Time {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil || sec <= 0 {
		return fallback
	}
	return time.Unix(sec, 0).UTC()
}

// memoPtr returns a trimmed memo, nil when empty or not printable text.
func memoPtr(s string) *string {
	s = strings.TrimSpace(strings.TrimRight(s, "\x00"))
	if s == "" || !utf8.ValidString(s) {
		return nil
	}
	return &s
}

// decodeBase64Text decodes a base64 text payload, nil on failure.
func decodeBase64Text(s string) *string {
	if s == "" {
		return nil
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return memoPtr(string(b))
		}
	}
	return nil
}

// firstMemo returns the first non-nil candidate.
func firstMemo(candidates ...*string) *string {
	for _, c := range candidates {
		if c != nil {
			return c
		}
	}
	return nil
}
