package guard

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return d
}

func newTestGuard() (*Guard, *MemoryStore) {
	store := NewMemoryStore()
	g := New(store)
	return g, store
}

func TestEvaluate_NonPaymentMessage_Allowed(t *testing.T) {
	g, _ := newTestGuard()
	res, err := g.Evaluate(context.Background(), "c1", "u1", "what is my balance?")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Allowed || res.PaymentIntent || res.Confirmed {
		t.Fatalf("non-payment message should pass through untouched: %+v", res)
	}
}

func TestEvaluate_PaymentIntent_RequestsConfirmation(t *testing.T) {
	g, _ := newTestGuard()
	res, err := g.Evaluate(context.Background(), "c1", "u1", "please pay bill-7 of $45.50")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Allowed {
		t.Fatalf("first intent must not be allowed")
	}
	if !res.PaymentIntent {
		t.Fatalf("expected payment intent flag")
	}
	if res.BillID != "BILL-7" {
		t.Fatalf("bill id = %q, want BILL-7", res.BillID)
	}
	if res.NextState != StateAwaitingConfirmation {
		t.Fatalf("next state = %q", res.NextState)
	}
	if res.Pending == nil || res.Pending.Amount == nil || !res.Pending.Amount.Equal(dec(t, "45.50")) {
		t.Fatalf("pending draft missing amount: %+v", res.Pending)
	}
	if res.UserMessage == "" {
		t.Fatalf("expected a confirmation prompt")
	}
}

func TestEvaluate_IntentWithoutBillID_Prompts(t *testing.T) {
	g, _ := newTestGuard()
	res, err := g.Evaluate(context.Background(), "c1", "u1", "I want to pay something")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Allowed || !res.PaymentIntent {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.UserMessage != "Please specify which bill you want to pay." {
		t.Fatalf("unexpected prompt: %q", res.UserMessage)
	}
}

func TestEvaluate_ConfirmationConsumedOnce(t *testing.T) {
	g, _ := newTestGuard()
	ctx := context.Background()

	if _, err := g.Evaluate(ctx, "c1", "u1", "pay bill-7"); err != nil {
		t.Fatalf("intent: %v", err)
	}

	res, err := g.Evaluate(ctx, "c1", "u1", "yes")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !res.Allowed || !res.Confirmed {
		t.Fatalf("fresh confirmation should allow: %+v", res)
	}
	if res.BillID != "BILL-7" || res.NextState != StatePaymentIntentAllowed {
		t.Fatalf("unexpected verdict: %+v", res)
	}
	if res.Pending == nil || res.Pending.BillID != "BILL-7" {
		t.Fatalf("pending draft not carried: %+v", res.Pending)
	}

	// Replaying the confirmation stays allowed but the marker is no longer
	// PENDING, so state does not advance again.
	res2, err := g.Evaluate(ctx, "c1", "u1", "yes")
	if err != nil {
		t.Fatalf("replay confirm: %v", err)
	}
	if !res2.Allowed || !res2.Confirmed {
		t.Fatalf("replayed confirmation should still be allowed: %+v", res2)
	}
}

func TestEvaluate_ConfirmationWithoutPending(t *testing.T) {
	g, _ := newTestGuard()
	res, err := g.Evaluate(context.Background(), "c1", "u1", "confirm")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Allowed || res.Confirmed {
		t.Fatalf("confirmation with nothing pending must not allow: %+v", res)
	}
	if res.UserMessage != "There is no payment awaiting confirmation." {
		t.Fatalf("unexpected message: %q", res.UserMessage)
	}
}

func TestEvaluate_ConfirmationExpired_StartsFreshCycle(t *testing.T) {
	g, store := newTestGuard()
	ctx := context.Background()

	base := time.Now()
	g.Now = func() time.Time { return base }
	store.now = func() time.Time { return base }

	if _, err := g.Evaluate(ctx, "c1", "u1", "pay bill-3"); err != nil {
		t.Fatalf("intent: %v", err)
	}

	// Cross the TTL boundary; the stored PENDING marker is now stale.
	later := base.Add(DefaultConfirmationTTL + time.Second)
	g.Now = func() time.Time { return later }
	store.now = func() time.Time { return later }

	res, err := g.Evaluate(ctx, "c1", "u1", "yes, pay bill-3")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if res.Allowed || res.Confirmed {
		t.Fatalf("expired confirmation must not allow: %+v", res)
	}
	if res.NextState != StateAwaitingConfirmation {
		t.Fatalf("expected a fresh confirmation cycle, got %+v", res)
	}

	// The fresh cycle works: confirming now succeeds.
	res2, err := g.Evaluate(ctx, "c1", "u1", "yes")
	if err != nil {
		t.Fatalf("second confirm: %v", err)
	}
	if !res2.Allowed || !res2.Confirmed || res2.BillID != "BILL-3" {
		t.Fatalf("fresh cycle confirm failed: %+v", res2)
	}
}

func TestEvaluate_ConfirmationNamingDifferentBill_NotConfirmed(t *testing.T) {
	g, _ := newTestGuard()
	ctx := context.Background()

	if _, err := g.Evaluate(ctx, "c1", "u1", "pay bill-1"); err != nil {
		t.Fatalf("intent: %v", err)
	}

	// "yes" for a bill that was never pending must start its own cycle, not
	// piggyback on bill-1's confirmation.
	res, err := g.Evaluate(ctx, "c1", "u1", "yes, bill-2")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if res.Allowed || res.Confirmed {
		t.Fatalf("different bill must not ride an existing confirmation: %+v", res)
	}
	if res.BillID != "BILL-2" || res.NextState != StateAwaitingConfirmation {
		t.Fatalf("expected new cycle for BILL-2: %+v", res)
	}

	// bill-1's confirmation is still intact.
	res2, err := g.Evaluate(ctx, "c1", "u1", "yes, bill-1")
	if err != nil {
		t.Fatalf("confirm bill-1: %v", err)
	}
	if !res2.Allowed || !res2.Confirmed || res2.BillID != "BILL-1" {
		t.Fatalf("bill-1 confirmation lost: %+v", res2)
	}
}

func TestEvaluate_PerBillConfirmationsIndependent(t *testing.T) {
	g, _ := newTestGuard()
	ctx := context.Background()

	if _, err := g.Evaluate(ctx, "c1", "u1", "pay bill-1"); err != nil {
		t.Fatalf("intent 1: %v", err)
	}
	if _, err := g.Evaluate(ctx, "c1", "u1", "pay bill-2"); err != nil {
		t.Fatalf("intent 2: %v", err)
	}

	res, err := g.Evaluate(ctx, "c1", "u1", "yes, bill-2")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !res.Confirmed || res.BillID != "BILL-2" {
		t.Fatalf("bill-2 confirmation failed: %+v", res)
	}

	// bill-1 still has a live PENDING marker of its own.
	res2, err := g.Evaluate(ctx, "c1", "u1", "yes, bill-1")
	if err != nil {
		t.Fatalf("confirm bill-1: %v", err)
	}
	if !res2.Confirmed || res2.BillID != "BILL-1" {
		t.Fatalf("bill-1 confirmation affected by bill-2: %+v", res2)
	}
}

func TestEvaluate_IntentWhileExecuting_Blocked(t *testing.T) {
	g, _ := newTestGuard()
	ctx := context.Background()

	if _, err := g.Evaluate(ctx, "c1", "u1", "pay bill-9"); err != nil {
		t.Fatalf("intent: %v", err)
	}
	if _, err := g.Evaluate(ctx, "c1", "u1", "yes"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := g.MarkExecuting(ctx, "c1", "u1"); err != nil {
		t.Fatalf("mark executing: %v", err)
	}

	res, err := g.Evaluate(ctx, "c1", "u1", "pay bill-10")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Allowed {
		t.Fatalf("intent during execution must be blocked")
	}
	if res.UserMessage != "A payment is already in progress." {
		t.Fatalf("unexpected message: %q", res.UserMessage)
	}
}

func TestMarkExecuting_InvalidSourceState(t *testing.T) {
	g, _ := newTestGuard()
	if err := g.MarkExecuting(context.Background(), "c1", "u1"); err == nil {
		t.Fatalf("IDLE conversation must not enter execution")
	}
}

func TestComplete_ClearsStateAndMarkers(t *testing.T) {
	g, store := newTestGuard()
	ctx := context.Background()

	if _, err := g.Evaluate(ctx, "c1", "u1", "pay bill-5"); err != nil {
		t.Fatalf("intent: %v", err)
	}
	if _, err := g.Evaluate(ctx, "c1", "u1", "yes"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := g.MarkExecuting(ctx, "c1", "u1"); err != nil {
		t.Fatalf("mark executing: %v", err)
	}
	if err := g.Complete(ctx, "c1", "u1", true); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Confirmation markers are gone; a new intent starts from scratch.
	if _, ok, _ := store.Get(ctx, "c1", confirmationKey("BILL-5")); ok {
		t.Fatalf("confirmation marker should be cleared")
	}
	res, err := g.Evaluate(ctx, "c1", "u1", "pay bill-5")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Allowed || res.NextState != StateAwaitingConfirmation {
		t.Fatalf("completed conversation should restart the cycle: %+v", res)
	}
}

func TestComplete_FailureRecordsFailedState(t *testing.T) {
	g, store := newTestGuard()
	ctx := context.Background()

	if _, err := g.Evaluate(ctx, "c1", "u1", "pay bill-5"); err != nil {
		t.Fatalf("intent: %v", err)
	}
	if err := g.Complete(ctx, "c1", "u1", false); err != nil {
		t.Fatalf("complete: %v", err)
	}

	raw, ok, err := store.Get(ctx, "c1", conversationKey)
	if err != nil || !ok {
		t.Fatalf("conversation state missing: ok=%v err=%v", ok, err)
	}
	if want := `"state":"FAILED"`; !strings.Contains(raw, want) {
		t.Fatalf("expected %s in %s", want, raw)
	}
}

func TestEvaluate_ConversationsIsolated(t *testing.T) {
	g, _ := newTestGuard()
	ctx := context.Background()

	if _, err := g.Evaluate(ctx, "c1", "u1", "pay bill-7"); err != nil {
		t.Fatalf("intent: %v", err)
	}

	// A confirmation in a different conversation finds no pending marker.
	res, err := g.Evaluate(ctx, "c2", "u1", "yes, bill-7")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Allowed || res.Confirmed {
		t.Fatalf("cross-conversation confirmation must not allow: %+v", res)
	}
}
