// Package guard implements the payment confirmation guard: a deterministic,
// conversation-scoped state machine that gates every state-changing payment
// action behind an explicit, time-limited user confirmation.
//
// This file defines the expiring key-value abstraction the guard persists its
// state through. Expiry is checked on every read; lazy eviction is acceptable
// and unread expired entries are only reclaimed by a periodic sweep (see
// scheduler.StateSweeper) or by the backing store's native TTL.
package guard

import (
	"context"
	"time"
)

// StateStore is an expiring key-value store scoped to a conversation. Values
// are opaque strings (the guard stores JSON); every entry carries a TTL after
// which Get must report a miss.
type StateStore interface {
	// Get returns the live value for (conversationID, key). Expired or
	// missing entries report ok=false.
	Get(ctx context.Context, conversationID, key string) (value string, ok bool, err error)

	// Put stores value under (conversationID, key) with the given TTL,
	// replacing any previous entry.
	Put(ctx context.Context, conversationID, key, value string, ttl time.Duration) error

	// Delete removes the entry for (conversationID, key). Deleting a missing
	// entry is not an error.
	Delete(ctx context.Context, conversationID, key string) error

	// Clear removes every entry belonging to the conversation.
	Clear(ctx context.Context, conversationID string) error
}
