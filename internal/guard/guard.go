// Package guard – confirmation guard evaluation.
//
// Evaluate is a pure function of (stored state, incoming message): it makes
// no network or LLM calls, and its only side effect is keyed put/get/delete
// against the conversation-scoped StateStore. The chat flow runs every user
// message through Evaluate before any payment tool is exposed; no
// state-changing payment action is ever taken from a plain user message
// without an explicit, fresh confirmation.
package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ConversationState is the guard-owned state attached to a conversation.
type ConversationState string

// Conversation states. Only guard transition functions mutate these.
const (
	StateIdle                 ConversationState = "IDLE"
	StateAwaitingConfirmation ConversationState = "AWAITING_CONFIRMATION"
	StatePaymentIntentAllowed ConversationState = "PAYMENT_INTENT_ALLOWED"
	StateExecutingPayment     ConversationState = "EXECUTING_PAYMENT"
	StateCompleted            ConversationState = "COMPLETED"
	StateFailed               ConversationState = "FAILED"
)

// PendingPayment is the draft recorded when confirmation is requested.
type PendingPayment struct {
	BillID        string           `json:"bill_id"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	ScheduledDate *time.Time       `json:"scheduled_date,omitempty"`
}

// Conversation is the serialized per-conversation guard state.
type Conversation struct {
	ConversationID          string            `json:"conversation_id"`
	UserID                  string            `json:"user_id"`
	State                   ConversationState `json:"state"`
	Pending                 *PendingPayment   `json:"pending,omitempty"`
	ConfirmationRequestedAt *time.Time        `json:"confirmation_requested_at,omitempty"`
}

// Result is the guard's verdict on a single message.
//
// Exactly one of three shapes comes back: allow (Allowed, no message), block
// (not Allowed, UserMessage explains why), or confirmation-required (not
// Allowed, UserMessage prompts, Pending carries the draft). Confirmed is set
// when the message consumed a fresh pending confirmation.
type Result struct {
	Allowed       bool              `json:"allowed"`
	Confirmed     bool              `json:"confirmed"`
	PaymentIntent bool              `json:"payment_intent"`
	BillID        string            `json:"bill_id,omitempty"`
	UserMessage   string            `json:"user_message,omitempty"`
	NextState     ConversationState `json:"next_state,omitempty"`
	Pending       *PendingPayment   `json:"pending,omitempty"`
}

// DefaultConfirmationTTL bounds how long a requested confirmation stays
// actionable.
const DefaultConfirmationTTL = 5 * time.Minute

// Confirmation marker values stored per (conversation, bill).
const (
	markerPending   = "PENDING"
	markerConfirmed = "CONFIRMED"
)

const conversationKey = "conversation"

// Guard evaluates user messages against stored conversation state.
// Confirmations are keyed per (conversation, bill): a user discussing two
// bills holds two independent pending confirmations, and confirming one
// leaves the other untouched.
type Guard struct {
	Store StateStore
	TTL   time.Duration

	// Now is the clock; overridable in tests.
	Now func() time.Time
}

// New returns a Guard over the given store with the default TTL.
func New(store StateStore) *Guard {
	return &Guard{Store: store, TTL: DefaultConfirmationTTL, Now: time.Now}
}

// confirmationKey scopes a confirmation marker to one bill.
func confirmationKey(billID string) string {
	return "payment_confirmation:" + billID
}

// Evaluate classifies the incoming message deterministically and returns the
// guard's verdict. It never errors on user input; errors come only from the
// state store.
func (g *Guard) Evaluate(ctx context.Context, conversationID, userID, message string) (Result, error) {
	conv, err := g.loadConversation(ctx, conversationID, userID)
	if err != nil {
		return Result{}, err
	}

	confirmation := isConfirmation(message)
	intent := isPaymentIntent(message)
	billID := extractBillID(message)

	if confirmation {
		return g.handleConfirmation(ctx, conv, billID)
	}
	if intent {
		return g.handleIntent(ctx, conv, message, billID)
	}

	// Not payment-related; the guard does not interfere.
	return Result{Allowed: true}, nil
}

// handleConfirmation consumes a pending confirmation, re-requests one that
// expired, or starts a fresh cycle when the reply names a different bill.
func (g *Guard) handleConfirmation(ctx context.Context, conv *Conversation, billID string) (Result, error) {
	target := billID
	if target == "" && conv.Pending != nil {
		target = conv.Pending.BillID
	}
	if target == "" {
		return Result{
			Allowed:     false,
			UserMessage: "There is no payment awaiting confirmation.",
		}, nil
	}

	marker, ok, err := g.Store.Get(ctx, conv.ConversationID, confirmationKey(target))
	if err != nil {
		return Result{}, err
	}

	switch {
	case ok && marker == markerPending:
		// Fresh pending confirmation: consume it exactly once.
		if err := g.Store.Put(ctx, conv.ConversationID, confirmationKey(target), markerConfirmed, g.TTL); err != nil {
			return Result{}, err
		}
		pending := conv.Pending
		if pending == nil || pending.BillID != target {
			pending = &PendingPayment{BillID: target}
		}
		conv.State = StatePaymentIntentAllowed
		conv.Pending = pending
		if err := g.saveConversation(ctx, conv); err != nil {
			return Result{}, err
		}
		return Result{
			Allowed:   true,
			Confirmed: true,
			BillID:    target,
			NextState: StatePaymentIntentAllowed,
			Pending:   pending,
		}, nil

	case ok && marker == markerConfirmed:
		// Replayed confirmation; nothing new to consume but still allowed.
		return Result{
			Allowed:   true,
			Confirmed: true,
			BillID:    target,
			NextState: conv.State,
			Pending:   conv.Pending,
		}, nil

	default:
		// No live marker: the confirmation expired, or the reply names a
		// bill that was never pending. Either way a different or stale bill
		// id must never be silently confirmed; start a fresh
		// confirmation cycle scoped to the named bill.
		return g.requestConfirmation(ctx, conv, &PendingPayment{BillID: target},
			fmt.Sprintf("Please confirm the payment for bill %s before I proceed. Reply \"yes\" to confirm.", target))
	}
}

// handleIntent runs the payment-intent flow for a non-confirmation message.
func (g *Guard) handleIntent(ctx context.Context, conv *Conversation, message, billID string) (Result, error) {
	if conv.State == StateExecutingPayment {
		return Result{
			Allowed:       false,
			PaymentIntent: true,
			UserMessage:   "A payment is already in progress.",
		}, nil
	}
	if billID == "" {
		return Result{
			Allowed:       false,
			PaymentIntent: true,
			UserMessage:   "Please specify which bill you want to pay.",
		}, nil
	}

	marker, ok, err := g.Store.Get(ctx, conv.ConversationID, confirmationKey(billID))
	if err != nil {
		return Result{}, err
	}
	if ok && marker == markerConfirmed {
		return Result{
			Allowed:       true,
			Confirmed:     true,
			PaymentIntent: true,
			BillID:        billID,
			NextState:     conv.State,
			Pending:       conv.Pending,
		}, nil
	}

	// Strip the bill reference before sniffing for an amount so the digits
	// in "bill-7" are not mistaken for money.
	stripped := billIDPattern.ReplaceAllString(uuidPattern.ReplaceAllString(message, ""), "")
	stripped = datePattern.ReplaceAllString(stripped, "")
	draft := &PendingPayment{
		BillID:        billID,
		Amount:        extractAmount(stripped),
		ScheduledDate: extractDate(message),
	}
	return g.requestConfirmation(ctx, conv, draft,
		fmt.Sprintf("You are about to make a payment for bill %s. Reply \"yes\" to confirm.", billID))
}

// requestConfirmation records a PENDING marker plus the draft and moves the
// conversation to AWAITING_CONFIRMATION.
func (g *Guard) requestConfirmation(ctx context.Context, conv *Conversation, draft *PendingPayment, msg string) (Result, error) {
	if err := g.Store.Put(ctx, conv.ConversationID, confirmationKey(draft.BillID), markerPending, g.TTL); err != nil {
		return Result{}, err
	}
	now := g.Now().UTC()
	conv.State = StateAwaitingConfirmation
	conv.Pending = draft
	conv.ConfirmationRequestedAt = &now
	if err := g.saveConversation(ctx, conv); err != nil {
		return Result{}, err
	}
	return Result{
		Allowed:       false,
		PaymentIntent: true,
		BillID:        draft.BillID,
		UserMessage:   msg,
		NextState:     StateAwaitingConfirmation,
		Pending:       draft,
	}, nil
}

// MarkExecuting transitions the conversation into EXECUTING_PAYMENT. Only
// AWAITING_CONFIRMATION and PAYMENT_INTENT_ALLOWED may enter execution; any
// other source state is an error, never a silent transition.
func (g *Guard) MarkExecuting(ctx context.Context, conversationID, userID string) error {
	conv, err := g.loadConversation(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if conv.State != StateAwaitingConfirmation && conv.State != StatePaymentIntentAllowed {
		return fmt.Errorf("cannot move to EXECUTING_PAYMENT from %s", conv.State)
	}
	conv.State = StateExecutingPayment
	return g.saveConversation(ctx, conv)
}

// Complete records the terminal outcome and clears the pending draft along
// with any confirmation markers for the conversation.
func (g *Guard) Complete(ctx context.Context, conversationID, userID string, success bool) error {
	conv, err := g.loadConversation(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if err := g.Store.Clear(ctx, conversationID); err != nil {
		return err
	}
	conv.State = StateCompleted
	if !success {
		conv.State = StateFailed
	}
	conv.Pending = nil
	conv.ConfirmationRequestedAt = nil
	return g.saveConversation(ctx, conv)
}

// loadConversation reads the stored conversation or starts an IDLE one.
func (g *Guard) loadConversation(ctx context.Context, conversationID, userID string) (*Conversation, error) {
	raw, ok, err := g.Store.Get(ctx, conversationID, conversationKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Conversation{
			ConversationID: conversationID,
			UserID:         userID,
			State:          StateIdle,
		}, nil
	}
	var conv Conversation
	if err := json.Unmarshal([]byte(raw), &conv); err != nil {
		// Corrupt state is treated as absent; the cycle restarts cleanly.
		return &Conversation{
			ConversationID: conversationID,
			UserID:         userID,
			State:          StateIdle,
		}, nil
	}
	return &conv, nil
}

// saveConversation persists the conversation with the guard TTL.
func (g *Guard) saveConversation(ctx context.Context, conv *Conversation) error {
	raw, err := json.Marshal(conv)
	if err != nil {
		return err
	}
	return g.Store.Put(ctx, conv.ConversationID, conversationKey, string(raw), g.TTL)
}
