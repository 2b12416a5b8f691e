package guard

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Intent detection is a fixed keyword heuristic, not an LLM call. The guard's
// contract depends on this determinism: adversarial phrasing can change what
// the assistant says, but it cannot change whether the guard considers a
// message payment-related or confirmatory.

var (
	// billIDPattern matches human-style bill references ("bill-42",
	// "bill 42", "bill_42").
	billIDPattern = regexp.MustCompile(`(?i)\b(bill[-_ ]?\d+)\b`)

	// uuidPattern matches canonical UUIDs, the external bill id format.
	uuidPattern = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

	// amountPattern captures a decimal amount with up to two fraction digits.
	amountPattern = regexp.MustCompile(`(?i)(\$|usd|eur|inr)?\s*(\d+(?:\.\d{1,2})?)`)

	// datePattern matches ISO dates (yyyy-mm-dd) for scheduled payments.
	datePattern = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
)

// confirmationVocabulary is the closed set of affirmative replies. Anything
// outside it is not a confirmation, full stop.
var confirmationVocabulary = map[string]struct{}{
	"confirm":   {},
	"confirmed": {},
	"ok":        {},
	"okay":      {},
	"proceed":   {},
	"go ahead":  {},
}

// isPaymentIntent reports whether the message expresses intent to pay or
// schedule a payment.
func isPaymentIntent(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "pay") || strings.Contains(m, "payment") || strings.Contains(m, "schedule")
}

// isConfirmation reports whether the message is an explicit affirmative
// reply. A leading "yes" counts so that "yes, pay bill-7" confirms while
// still naming the bill.
func isConfirmation(msg string) bool {
	m := strings.ToLower(strings.TrimSpace(msg))
	if strings.HasPrefix(m, "yes") {
		return true
	}
	_, ok := confirmationVocabulary[m]
	return ok
}

// extractBillID returns the bill reference named in the message, or "" when
// none is present. UUIDs are preferred over the short "bill-N" form; short
// forms are uppercased so "bill-7" and "Bill 7" resolve identically.
func extractBillID(msg string) string {
	if m := uuidPattern.FindString(msg); m != "" {
		return strings.ToLower(m)
	}
	if m := billIDPattern.FindString(msg); m != "" {
		norm := strings.ToUpper(m)
		norm = strings.ReplaceAll(norm, " ", "-")
		norm = strings.ReplaceAll(norm, "_", "-")
		return norm
	}
	return ""
}

// extractAmount returns the first decimal amount in the message, or nil.
func extractAmount(msg string) *decimal.Decimal {
	m := amountPattern.FindStringSubmatch(msg)
	if m == nil {
		return nil
	}
	d, err := decimal.NewFromString(m[2])
	if err != nil {
		return nil
	}
	return &d
}

// extractDate returns the first ISO date in the message, or nil.
func extractDate(msg string) *time.Time {
	m := datePattern.FindStringSubmatch(msg)
	if m == nil {
		return nil
	}
	t, err := time.Parse("2006-01-02", m[1])
	if err != nil {
		return nil
	}
	return &t
}
