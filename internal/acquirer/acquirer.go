// Package acquirer abstracts the external party that actually moves money.
// The core only ever talks to the Client interface; swapping the mock for a
// real processor integration is a wiring change in main.
package acquirer

import (
	"context"

	"github.com/shopspring/decimal"
)

// Response is the acquirer's answer to an authorize or capture call.
type Response struct {
	Success      bool
	RemoteAuthID string
	Reason       string
}

// Client is the acquirer abstraction. Every call carries an idempotency key
// so that re-delivery of an outbox event that was already executed (but whose
// processed flag failed to persist) does not double-charge.
type Client interface {
	// Authorize places a hold for amount/currency against the tokenized
	// card. RemoteAuthID identifies the hold for a later capture.
	Authorize(ctx context.Context, token string, amount decimal.Decimal, currency, paymentID, idempotencyKey string) (Response, error)

	// Capture settles a previously authorized hold.
	Capture(ctx context.Context, remoteAuthID string, amount decimal.Decimal, idempotencyKey string) (Response, error)
}
