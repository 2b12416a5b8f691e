// Scheduled payment HTTP handlers.
//
//   - POST   /scheduled-payments            (schedule)
//   - GET    /scheduled-payments/{id}
//   - DELETE /scheduled-payments/{id}       (cancel before execution)
//   - POST   /internal/scheduled-payments/run   (trigger the due batch)
//   - POST   /internal/bills/sweep-overdue      (trigger the overdue sweep)
//
// The /internal endpoints exist for operators and tests; the scheduler runs
// the same services on a timer.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/wells/bill-assistant-backend/internal/services"
)

// SchedulePaymentRequest is the JSON payload for scheduling a payment.
type SchedulePaymentRequest struct {
	BillID        string          `json:"bill_id" binding:"required"`
	MerchantID    string          `json:"merchant_id"`
	CardToken     string          `json:"card_token" binding:"required"`
	Amount        decimal.Decimal `json:"amount" binding:"required"`
	Currency      string          `json:"currency" binding:"required"`
	ScheduledDate time.Time       `json:"scheduled_date" binding:"required"`
}

// SchedulePayment godoc
// @ID          schedulePayment
// @Summary     Schedule a payment for a future date
// @Tags        ScheduledPayments
// @Accept      json
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.SchedulePaymentRequest  true  "Schedule payload"
// @Success     201  {object}  domain.ScheduledPayment
// @Failure     400  {object}  handlers.ErrorResponse "Invalid schedule"
// @Router      /scheduled-payments [post]
func (h *Handlers) SchedulePayment(c *gin.Context) {
	var req SchedulePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	sp, err := h.schedSvc.Schedule(c.Request.Context(), services.ScheduleInput{
		CustomerID:    userID(c),
		BillID:        req.BillID,
		MerchantID:    req.MerchantID,
		CardToken:     req.CardToken,
		Amount:        req.Amount,
		Currency:      req.Currency,
		ScheduledDate: req.ScheduledDate,
	})
	if err != nil {
		failPayment(c, err)
		return
	}
	ok(c, http.StatusCreated, sp)
}

// GetScheduledPayment godoc
// @ID          getScheduledPayment
// @Summary     Get a scheduled payment
// @Tags        ScheduledPayments
// @Produce     json
// @Param       id  path  string  true  "Scheduled payment ID"
// @Success     200  {object}  domain.ScheduledPayment
// @Failure     404  {object}  handlers.ErrorResponse "Not found"
// @Router      /scheduled-payments/{id} [get]
func (h *Handlers) GetScheduledPayment(c *gin.Context) {
	sp, err := h.schedSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failPayment(c, err)
		return
	}
	ok(c, http.StatusOK, sp)
}

// CancelScheduledPayment godoc
// @ID          cancelScheduledPayment
// @Summary     Cancel a scheduled payment before it executes
// @Tags        ScheduledPayments
// @Param       id  path  string  true  "Scheduled payment ID"
// @Success     204  {string}  string "No Content"
// @Failure     404  {object}  handlers.ErrorResponse "Not found"
// @Failure     409  {object}  handlers.ErrorResponse "Already executing or finished"
// @Router      /scheduled-payments/{id} [delete]
func (h *Handlers) CancelScheduledPayment(c *gin.Context) {
	cancelled, err := h.schedSvc.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		failPayment(c, err)
		return
	}
	if !cancelled {
		fail(c, http.StatusConflict, ErrCodeConflict, "scheduled payment is no longer cancellable")
		return
	}
	noContent(c)
}

// RunScheduledPayments godoc
// @ID          runScheduledPayments
// @Summary     Execute all due scheduled payments now
// @Tags        Internal
// @Produce     json
// @Param       as_of  query  string  false  "Run as of this date (YYYY-MM-DD, defaults to now)"
// @Success     200  {object}  services.ExecutionReport
// @Failure     400  {object}  handlers.ErrorResponse "Bad as_of date"
// @Failure     500  {object}  handlers.ErrorResponse "Batch error"
// @Router      /internal/scheduled-payments/run [post]
func (h *Handlers) RunScheduledPayments(c *gin.Context) {
	asOf := time.Now().UTC()
	if raw := c.Query("as_of"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "as_of must be YYYY-MM-DD")
			return
		}
		// End of day so everything due on as_of is picked up.
		asOf = parsed.Add(24*time.Hour - time.Nanosecond)
	}
	report, err := h.schedSvc.ExecuteDue(c.Request.Context(), asOf)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, report)
}

// SweepOverdueBills godoc
// @ID          sweepOverdueBills
// @Summary     Flip bills past their due date to OVERDUE now
// @Tags        Internal
// @Produce     json
// @Success     200  {object}  map[string]int64
// @Failure     500  {object}  handlers.ErrorResponse "Sweep error"
// @Router      /internal/bills/sweep-overdue [post]
func (h *Handlers) SweepOverdueBills(c *gin.Context) {
	n, err := h.billSvc.SweepOverdue(c.Request.Context(), time.Now().UTC())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"marked_overdue": n})
}

// DispatchOutbox godoc
// @ID          dispatchOutbox
// @Summary     Run one outbox pass now instead of waiting for the ticker
// @Tags        Internal
// @Produce     json
// @Success     200  {object}  map[string]int
// @Failure     500  {object}  handlers.ErrorResponse "Dispatch error"
// @Router      /internal/outbox/dispatch [post]
func (h *Handlers) DispatchOutbox(c *gin.Context) {
	dispatched, err := h.outbox.Dispatch(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"dispatched": dispatched})
}
