// Package idemkey derives deterministic idempotency keys for payment
// requests. A key is a stable fingerprint of the request's semantic content
// (who pays which bill, how much, in what currency) so that retries of the
// same logical operation always collide on the same key.
//
// Derivation is pure: no clock, no randomness. The canonical form is
//
//	userID|billID|normalizedAmount|UPPER(currency)
//
// where normalizedAmount strips trailing fractional zeros, so 100, 100.0 and
// 100.00 canonicalize identically. The canonical string is hashed with
// SHA-256 and encoded with unpadded URL-safe base64, yielding a fixed 43-char
// key that is safe to use in headers and as a unique database column.
package idemkey

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxKeyLen is the upper bound callers must enforce before using an
// externally supplied key as a lookup. Derived keys are always 43 characters;
// the bound leaves headroom for client-generated keys.
const MaxKeyLen = 64

// Derive returns the idempotency key for (userID, billID, amount, currency).
// Currency comparison is case-insensitive; genuinely different currencies or
// amounts produce different keys.
func Derive(userID, billID string, amount decimal.Decimal, currency string) string {
	canonical := strings.Join([]string{
		userID,
		billID,
		normalizeAmount(amount),
		strings.ToUpper(currency),
	}, "|")

	sum := sha256.Sum256([]byte(canonical))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Valid reports whether an externally supplied key is usable as a lookup:
// non-empty and within MaxKeyLen.
func Valid(key string) bool {
	return key != "" && len(key) <= MaxKeyLen
}

// normalizeAmount renders the amount without trailing fractional zeros so
// that textually different spellings of the same value canonicalize equally.
func normalizeAmount(amount decimal.Decimal) string {
	s := amount.String()
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimRight(s, ".")
	}
	return s
}
