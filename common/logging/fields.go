package logging

import "log/slog"

// Common field names for consistent logging across the payment engine.
const (
	FieldService  = "service"
	FieldOwnerID  = "owner_id"
	FieldMemo     = "memo"
	FieldTxHash   = "tx_hash"
	FieldProvider = "provider"
	FieldWatcher  = "watcher"
	FieldAmount   = "amount"
	FieldStatus   = "status"
	FieldMethod   = "method"
	FieldPath     = "path"
	FieldDuration = "duration_ms"
	FieldError    = "error"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// OwnerID returns a slog attribute for the owner of a payment.
func OwnerID(id string) slog.Attr {
	return slog.String(FieldOwnerID, id)
}

// Memo returns a slog attribute for a rendezvous memo.
func Memo(memo string) slog.Attr {
	return slog.String(FieldMemo, memo)
}

// TxHash returns a slog attribute for a ledger transaction hash.
func TxHash(hash string) slog.Attr {
	return slog.String(FieldTxHash, hash)
}

// Provider returns a slog attribute for a ledger provider name.
func Provider(name string) slog.Attr {
	return slog.String(FieldProvider, name)
}

// Watcher returns a slog attribute naming which watcher observed a transaction.
func Watcher(name string) slog.Attr {
	return slog.String(FieldWatcher, name)
}

// Amount returns a slog attribute for a decimal amount rendered as text.
func Amount(v string) slog.Attr {
	return slog.String(FieldAmount, v)
}

// Status returns a slog attribute for a status string.
func Status(s string) slog.Attr {
	return slog.String(FieldStatus, s)
}

// Method returns a slog attribute for the HTTP method.
func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

// Path returns a slog attribute for the HTTP path.
func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}
