package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/wells/bill-assistant-backend/internal/domain"
	"github.com/wells/bill-assistant-backend/internal/repo"
)

func assistantMessage(conversationID, message string) map[string]any {
	return map[string]any{
		"conversation_id": conversationID,
		"message":         message,
	}
}

func TestAssistant_NonPaymentMessagePassesThrough(t *testing.T) {
	r, _ := newHandlerRig(t)

	w := doJSON(t, r, http.MethodPost, "/assistant/messages", assistantMessage("conv-1", "what do I owe?"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decode(t, w)
	if body["allowed"] != true || body["confirmed"] != false {
		t.Fatalf("unexpected verdict: %s", w.Body.String())
	}
}

func TestAssistant_ConfirmationFlowCreatesPayment(t *testing.T) {
	r, db := newHandlerRig(t)

	w := doJSON(t, r, http.MethodPost, "/bills", map[string]any{
		"merchant_id": "merch-1",
		"description": "Electricity March",
		"amount":      "88.00",
		"currency":    "EUR",
		"due_date":    "2031-01-15T00:00:00Z",
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create bill: %d %s", w.Code, w.Body.String())
	}
	billID := decode(t, w)["id"].(string)

	// Payment intent: blocked, confirmation requested.
	w = doJSON(t, r, http.MethodPost, "/assistant/messages", assistantMessage("conv-1", "please pay bill "+billID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("intent: %d", w.Code)
	}
	body := decode(t, w)
	if body["allowed"] != false || body["state"] != "AWAITING_CONFIRMATION" {
		t.Fatalf("intent verdict: %s", w.Body.String())
	}
	if body["payment"] != nil {
		t.Fatalf("no payment may exist before confirmation")
	}

	// Confirmation: the recorded draft executes.
	w = doJSON(t, r, http.MethodPost, "/assistant/messages", assistantMessage("conv-1", "yes"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("confirm: %d", w.Code)
	}
	body = decode(t, w)
	if body["confirmed"] != true {
		t.Fatalf("confirm verdict: %s", w.Body.String())
	}
	payment, okCast := body["payment"].(map[string]any)
	if !okCast {
		t.Fatalf("payment missing: %s", w.Body.String())
	}
	if payment["status"] != "CREATED" || payment["approval_source"] != domain.ApprovalSourceAI {
		t.Fatalf("payment = %v", payment)
	}
	if payment["bill_id"] != billID {
		t.Fatalf("bill id = %v, want %v", payment["bill_id"], billID)
	}

	// Without a card token, nothing is queued for the acquirer.
	var backlog int64
	db.Model(&domain.OutboxEvent{}).Where("processed = ?", false).Count(&backlog)
	if backlog != 0 {
		t.Fatalf("backlog = %d, want 0", backlog)
	}
}

func TestAssistant_ShortBillReferenceResolves(t *testing.T) {
	r, _ := newHandlerRig(t)

	w := doJSON(t, r, http.MethodPost, "/bills", map[string]any{
		"merchant_id": "merch-1",
		"reference":   "bill-7",
		"description": "Gas April",
		"amount":      "52.00",
		"currency":    "EUR",
		"due_date":    "2031-02-15T00:00:00Z",
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create bill: %d %s", w.Code, w.Body.String())
	}
	billID := decode(t, w)["id"].(string)

	// The user names the bill by its short handle, not the UUID.
	w = doJSON(t, r, http.MethodPost, "/assistant/messages", assistantMessage("conv-1", "please pay bill 7"), nil)
	if decode(t, w)["allowed"] != false {
		t.Fatalf("intent should request confirmation: %s", w.Body.String())
	}

	w = doJSON(t, r, http.MethodPost, "/assistant/messages", assistantMessage("conv-1", "yes"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("confirm: %d", w.Code)
	}
	body := decode(t, w)
	payment, okCast := body["payment"].(map[string]any)
	if !okCast {
		t.Fatalf("short reference did not resolve: %s", w.Body.String())
	}
	if payment["bill_id"] != billID {
		t.Fatalf("bill id = %v, want %v", payment["bill_id"], billID)
	}

	// The reference stays scoped to its owner.
	other := map[string]string{"X-User-ID": "someone-else"}
	w = doJSON(t, r, http.MethodPost, "/assistant/messages", assistantMessage("conv-2", "pay bill 7"), other)
	if decode(t, w)["allowed"] != false {
		t.Fatalf("intent should request confirmation")
	}
	w = doJSON(t, r, http.MethodPost, "/assistant/messages", assistantMessage("conv-2", "yes"), other)
	body = decode(t, w)
	if body["payment"] != nil {
		t.Fatalf("another user's reference resolved: %s", w.Body.String())
	}
}

func TestAssistant_ConfirmedWithCardTokenQueuesAuthorize(t *testing.T) {
	r, db := newHandlerRig(t)

	w := doJSON(t, r, http.MethodPost, "/cards", map[string]any{
		"pan":    "4111111111111111",
		"expiry": "2031-12-01T00:00:00Z",
	}, nil)
	token := decode(t, w)["token"].(string)

	w = doJSON(t, r, http.MethodPost, "/bills", map[string]any{
		"merchant_id": "merch-1",
		"description": "Water",
		"amount":      "40.00",
		"currency":    "EUR",
		"due_date":    "2031-01-15T00:00:00Z",
	}, nil)
	billID := decode(t, w)["id"].(string)

	w = doJSON(t, r, http.MethodPost, "/assistant/messages", assistantMessage("conv-1", "pay bill "+billID), nil)
	if decode(t, w)["allowed"] != false {
		t.Fatalf("intent should be blocked")
	}

	confirm := assistantMessage("conv-1", "yes")
	confirm["card_token"] = token
	w = doJSON(t, r, http.MethodPost, "/assistant/messages", confirm, nil)
	body := decode(t, w)
	payment, okCast := body["payment"].(map[string]any)
	if !okCast || payment["status"] != "CREATED" {
		t.Fatalf("payment = %s", w.Body.String())
	}

	events, err := repo.ListUnprocessedEvents(context.Background(), db, 10)
	if err != nil || len(events) != 1 || events[0].EventType != domain.EventAuthorizePayment {
		t.Fatalf("authorize event missing: %+v err=%v", events, err)
	}
}

func TestAssistant_UnknownBillEndsCleanly(t *testing.T) {
	r, _ := newHandlerRig(t)

	// bill-7 never exists; the confirmation consumes, the execution fails
	// with a user-facing reply, and no payment is created.
	w := doJSON(t, r, http.MethodPost, "/assistant/messages", assistantMessage("conv-1", "pay bill-7"), nil)
	if decode(t, w)["allowed"] != false {
		t.Fatalf("intent should request confirmation")
	}
	w = doJSON(t, r, http.MethodPost, "/assistant/messages", assistantMessage("conv-1", "yes"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("confirm: %d", w.Code)
	}
	body := decode(t, w)
	if body["payment"] != nil {
		t.Fatalf("payment created for missing bill: %s", w.Body.String())
	}
	reply, _ := body["reply"].(string)
	if reply == "" {
		t.Fatalf("expected a user-facing reply")
	}
}

func TestAssistant_BadRequest(t *testing.T) {
	r, _ := newHandlerRig(t)

	w := doJSON(t, r, http.MethodPost, "/assistant/messages", map[string]any{"message": "hi"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}
