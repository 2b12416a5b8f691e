// Assistant HTTP handler.
//
//   - POST /assistant/messages
//
// Every user message goes through the confirmation guard before any payment
// action is taken. The guard is deterministic and cannot be bypassed by
// message content: a payment only executes after the guard reports a fresh
// confirmation, and the draft that executes is the one recorded when the
// confirmation was requested.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wells/bill-assistant-backend/internal/domain"
	"github.com/wells/bill-assistant-backend/internal/guard"
	"github.com/wells/bill-assistant-backend/internal/services"
)

// AssistantMessageRequest is one user utterance in a conversation.
type AssistantMessageRequest struct {
	ConversationID string `json:"conversation_id" binding:"required" example:"conv-1"`
	Message        string `json:"message" binding:"required" example:"please pay bill-7"`
	// CardToken optionally authorizes immediate execution once confirmed.
	CardToken string `json:"card_token,omitempty" example:"tok_9c1e"`
}

// AssistantMessageResponse is the assistant's verdict plus any payment it
// created on a confirmed message.
type AssistantMessageResponse struct {
	Reply     string                  `json:"reply,omitempty"`
	Allowed   bool                    `json:"allowed"`
	Confirmed bool                    `json:"confirmed"`
	State     guard.ConversationState `json:"state,omitempty"`
	Payment   *domain.Payment         `json:"payment,omitempty"`
}

// PostAssistantMessage godoc
// @ID          postAssistantMessage
// @Summary     Send a message to the payment assistant
// @Description Runs the message through the confirmation guard. Payment-intent
// @Description messages trigger a confirmation prompt; a confirming reply
// @Description consumes the pending confirmation exactly once and executes the
// @Description recorded draft.
// @Tags        Assistant
// @Accept      json
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.AssistantMessageRequest  true  "User message"
// @Success     200  {object}  handlers.AssistantMessageResponse
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /assistant/messages [post]
func (h *Handlers) PostAssistantMessage(c *gin.Context) {
	var req AssistantMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation_id and message required")
		return
	}

	ctx := c.Request.Context()
	uid := userID(c)

	res, err := h.guard.Evaluate(ctx, req.ConversationID, uid, req.Message)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	resp := AssistantMessageResponse{
		Reply:     res.UserMessage,
		Allowed:   res.Allowed,
		Confirmed: res.Confirmed,
		State:     res.NextState,
	}

	// Only a freshly consumed confirmation with a recorded draft moves money.
	if !res.Confirmed || res.Pending == nil {
		ok(c, http.StatusOK, resp)
		return
	}

	payment, reply := h.executeConfirmedDraft(c, uid, req, res.Pending)
	resp.Payment = payment
	if reply != "" {
		resp.Reply = reply
	}
	ok(c, http.StatusOK, resp)
}

// executeConfirmedDraft turns a confirmed pending draft into a real payment
// intent. Guard bookkeeping failures and bill lookups that miss produce a
// user-facing reply rather than an HTTP error; the conversation can always
// continue.
//
// With a card token the intent carries an authorize order that the outbox
// dispatcher relays asynchronously; the assistant never blocks on the
// acquirer. Without one the intent is created and left for the approval flow.
func (h *Handlers) executeConfirmedDraft(c *gin.Context, uid string, req AssistantMessageRequest, pending *guard.PendingPayment) (*domain.Payment, string) {
	ctx := c.Request.Context()

	// The draft may name the bill by UUID or by short reference ("BILL-7").
	bill, err := h.billSvc.Resolve(ctx, uid, pending.BillID)
	if err != nil {
		_ = h.guard.Complete(ctx, req.ConversationID, uid, false)
		if errors.Is(err, services.ErrBillNotFound) {
			return nil, "I could not find bill " + pending.BillID + "."
		}
		return nil, "Something went wrong looking up the bill. No payment was made."
	}

	amount := bill.Amount
	if pending.Amount != nil {
		amount = *pending.Amount
	}

	if err := h.guard.MarkExecuting(ctx, req.ConversationID, uid); err != nil {
		return nil, "This payment is no longer confirmable. Please start again."
	}

	p, err := h.paySvc.CreateIntent(ctx, services.CreateIntentInput{
		CustomerID:     uid,
		BillID:         bill.ID,
		MerchantID:     bill.MerchantID,
		Amount:         amount,
		Currency:       bill.Currency,
		CardToken:      req.CardToken,
		ScheduledDate:  pending.ScheduledDate,
		ApprovalSource: domain.ApprovalSourceAI,
	})
	if err != nil {
		_ = h.guard.Complete(ctx, req.ConversationID, uid, false)
		return nil, "The payment could not be created: " + err.Error()
	}
	_ = h.guard.Complete(ctx, req.ConversationID, uid, true)

	switch {
	case p.Status == domain.StatusScheduled:
		return p, "Payment " + p.PaymentID + " for " + bill.Description + " is scheduled for " + p.ScheduledDate.Format("2006-01-02") + "."
	case req.CardToken != "":
		return p, "Payment " + p.PaymentID + " for " + bill.Description + " has been submitted."
	default:
		return p, "Payment " + p.PaymentID + " for " + bill.Description + " is created and awaiting a payment method."
	}
}
