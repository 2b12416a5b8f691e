// Payment HTTP handlers.
//
// This file exposes REST endpoints for payment resources:
//   - POST   /payments                      (create intent, idempotent)
//   - GET    /payments                      (list, paginated)
//   - GET    /payments/{id}                 (status)
//   - GET    /payments/{id}/ledger          (accounting trail)
//   - POST   /payments/{id}/approval        (request approval)
//   - POST   /payments/{id}/approve
//   - POST   /payments/{id}/reject
//   - POST   /payments/{id}/capture
//   - POST   /payments/{id}/execute
//   - DELETE /payments/{id}                 (cancel)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate service sentinels into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/wells/bill-assistant-backend/internal/domain"
	"github.com/wells/bill-assistant-backend/internal/guard"
	"github.com/wells/bill-assistant-backend/internal/repo"
	"github.com/wells/bill-assistant-backend/internal/services"
	"github.com/wells/bill-assistant-backend/internal/sysutil"
	"github.com/wells/bill-assistant-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// PaymentService defines payment lifecycle operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type PaymentService interface {
	// CreateIntent creates a payment idempotently.
	CreateIntent(ctx context.Context, in services.CreateIntentInput) (*domain.Payment, error)
	// Get fetches a payment by external payment id.
	Get(ctx context.Context, paymentID string) (*domain.Payment, error)
	// ListByCustomer returns a page of the customer's payments and the total.
	ListByCustomer(ctx context.Context, customerID string, page, pageSize int) ([]domain.Payment, int64, error)
	// RequestApproval, Approve, and Reject drive the human approval flow.
	RequestApproval(ctx context.Context, paymentID string) (*domain.Payment, error)
	Approve(ctx context.Context, paymentID string) (*domain.Payment, error)
	Reject(ctx context.Context, paymentID, reason string) (*domain.Payment, error)
	// Cancel withdraws a payment the state machine still allows cancelling.
	Cancel(ctx context.Context, paymentID string) (bool, error)
	// Capture requests settlement of an authorized payment.
	Capture(ctx context.Context, paymentID string, amount decimal.Decimal) (*domain.Payment, error)
	// Execute runs a payment synchronously against the acquirer.
	Execute(ctx context.Context, paymentID, cardToken string) (*domain.Payment, error)
}

// ScheduledPaymentService defines future-dated payment operations.
type ScheduledPaymentService interface {
	Schedule(ctx context.Context, in services.ScheduleInput) (*domain.ScheduledPayment, error)
	Get(ctx context.Context, id string) (*domain.ScheduledPayment, error)
	Cancel(ctx context.Context, id string) (bool, error)
	ExecuteDue(ctx context.Context, asOf time.Time) (services.ExecutionReport, error)
}

// BillService defines bill operations consumed by HTTP handlers.
type BillService interface {
	Create(ctx context.Context, b *domain.Bill) (*domain.Bill, error)
	Get(ctx context.Context, id string) (*domain.Bill, error)
	// Resolve accepts either a bill UUID or a short reference ("BILL-7")
	// and returns the customer's matching bill.
	Resolve(ctx context.Context, customerID, ref string) (*domain.Bill, error)
	List(ctx context.Context, customerID string) ([]domain.Bill, error)
	SweepOverdue(ctx context.Context, asOf time.Time) (int64, error)
}

// CardService defines card tokenization operations.
type CardService interface {
	Register(ctx context.Context, customerID, pan string, expiry time.Time) (*domain.CardToken, error)
}

// LedgerReader exposes the accounting trail for a payment.
type LedgerReader interface {
	Entries(ctx context.Context, paymentInternalID string) ([]domain.LedgerEntry, error)
}

// OutboxDispatcher drains pending outbox events in a single pass.
type OutboxDispatcher interface {
	Dispatch(ctx context.Context) (int, error)
}

// AssistantGuard is the confirmation guard consulted by the assistant endpoint.
type AssistantGuard interface {
	Evaluate(ctx context.Context, conversationID, userID, message string) (guard.Result, error)
	MarkExecuting(ctx context.Context, conversationID, userID string) error
	Complete(ctx context.Context, conversationID, userID string, success bool) error
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for payments, scheduled payments, bills,
// cards, and the assistant guard. It depends on abstract service interfaces to
// keep transport concerns separate from business logic.
type Handlers struct {
	paySvc   PaymentService
	schedSvc ScheduledPaymentService
	billSvc  BillService
	cardSvc  CardService
	ledger   LedgerReader
	guard    AssistantGuard
	outbox   OutboxDispatcher
}

// New constructs and returns a Handlers instance bound to the given services.
func New(paySvc PaymentService, schedSvc ScheduledPaymentService, billSvc BillService, cardSvc CardService, led LedgerReader, g AssistantGuard, disp OutboxDispatcher) *Handlers {
	return &Handlers{
		paySvc:   paySvc,
		schedSvc: schedSvc,
		billSvc:  billSvc,
		cardSvc:  cardSvc,
		ledger:   led,
		guard:    g,
		outbox:   disp,
	}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	var fromCtx, fromHeader string
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok {
			fromCtx = s
		}
	}
	if c != nil && c.Request != nil {
		fromHeader = strings.TrimSpace(c.GetHeader("X-User-ID"))
	}
	return sysutil.FirstNonEmpty(fromCtx, fromHeader, "demo-user")
}

//
// DTOs
//

// CreatePaymentRequest is the JSON payload for creating a payment intent.
type CreatePaymentRequest struct {
	BillID        string          `json:"bill_id" binding:"required" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	MerchantID    string          `json:"merchant_id" example:"merch-42"`
	Amount        decimal.Decimal `json:"amount" binding:"required" example:"120.50"`
	Currency      string          `json:"currency" binding:"required" example:"EUR"`
	CardToken     string          `json:"card_token" example:"tok_9c1e"`
	ScheduledDate *time.Time      `json:"scheduled_date,omitempty"`
}

// RejectPaymentRequest carries the optional rejection reason.
type RejectPaymentRequest struct {
	Reason string `json:"reason" example:"amount looks wrong"`
}

// CapturePaymentRequest carries the settlement amount.
type CapturePaymentRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required" example:"120.50"`
}

// ExecutePaymentRequest carries the card token used for direct execution.
type ExecutePaymentRequest struct {
	CardToken string `json:"card_token" binding:"required" example:"tok_9c1e"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListPaymentsResponse wraps a page of payments and pagination information.
type ListPaymentsResponse struct {
	Payments   []domain.Payment `json:"payments"`
	Pagination Pagination       `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// failPayment translates service sentinels into the HTTP error taxonomy.
func failPayment(c *gin.Context, err error) {
	var transition *domain.InvalidTransitionError
	switch {
	case errors.Is(err, services.ErrPaymentNotFound),
		errors.Is(err, services.ErrBillNotFound),
		errors.Is(err, services.ErrScheduleNotFound),
		errors.Is(err, services.ErrCardTokenNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrDuplicatePayment):
		fail(c, http.StatusConflict, ErrCodeDuplicatePayment, err.Error())
	case errors.Is(err, services.ErrAlreadyProcessing):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, services.ErrPaymentNotAuthorized):
		fail(c, http.StatusConflict, ErrCodePaymentNotAuthorized, err.Error())
	case errors.As(err, &transition):
		fail(c, http.StatusConflict, ErrCodeInvalidTransition, err.Error())
	case errors.Is(err, services.ErrInvalidAmount),
		errors.Is(err, services.ErrInvalidCurrency),
		errors.Is(err, services.ErrInvalidIdempotencyKey),
		errors.Is(err, services.ErrInvalidSchedule),
		errors.Is(err, services.ErrCardTokenRequired),
		errors.Is(err, services.ErrInvalidCard),
		errors.Is(err, services.ErrCardExpired):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

//
// Handlers
//

// CreatePayment godoc
// @ID          createPayment
// @Summary     Create a payment intent
// @Description Creates a payment for a bill. Safe to retry: the Idempotency-Key
// @Description header (or the derived key) deduplicates repeated submissions.
// @Tags        Payments
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID (demo header)"  example(user123)
// @Param       Idempotency-Key  header  string  false "Client idempotency key"
// @Param       body             body    handlers.CreatePaymentRequest  true  "Create payment payload"
//
// @Success     201  {object}  domain.Payment
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     409  {object}  handlers.ErrorResponse  "Key reuse with different payload"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /payments [post]
func (h *Handlers) CreatePayment(c *gin.Context) {
	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	key := c.GetHeader("Idempotency-Key")
	p, err := h.paySvc.CreateIntent(c.Request.Context(), services.CreateIntentInput{
		CustomerID:     userID(c),
		BillID:         req.BillID,
		MerchantID:     req.MerchantID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		IdempotencyKey: key,
		CardToken:      req.CardToken,
		ScheduledDate:  req.ScheduledDate,
	})
	if err != nil {
		failPayment(c, err)
		return
	}

	// Record the key so the replay detector can flag retries of this request.
	// Best effort: a failed write only costs the client the rate-limit bypass.
	if key != "" {
		if svc, ok := h.paySvc.(*services.PaymentService); ok && svc.DB != nil {
			ttl := 24 * time.Hour
			_, _ = repo.CreateIdempotency(c.Request.Context(), svc.DB, userID(c), key, p.PaymentID, http.StatusCreated, ttl)
		}
	}

	ok(c, http.StatusCreated, p)
}

// GetPayment godoc
// @ID          getPayment
// @Summary     Get payment status
// @Tags        Payments
// @Produce     json
// @Param       id  path  string  true  "External payment ID"  example(pay_9c1e)
// @Success     200  {object}  domain.Payment
// @Failure     404  {object}  handlers.ErrorResponse "Payment not found"
// @Router      /payments/{id} [get]
func (h *Handlers) GetPayment(c *gin.Context) {
	p, err := h.paySvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failPayment(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// ListPayments godoc
// @ID          listPayments
// @Summary     List payments (paginated)
// @Tags        Payments
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       page       query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size  query   int     false "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListPaymentsResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /payments [get]
func (h *Handlers) ListPayments(c *gin.Context) {
	page, pageSize := clampPagination(c)

	items, total, err := h.paySvc.ListByCustomer(c.Request.Context(), userID(c), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := utils.PageCount(total, pageSize)
	ok(c, http.StatusOK, ListPaymentsResponse{
		Payments: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetPaymentLedger godoc
// @ID          getPaymentLedger
// @Summary     Get the accounting trail for a payment
// @Tags        Payments
// @Produce     json
// @Param       id  path  string  true  "External payment ID"
// @Success     200  {array}   domain.LedgerEntry
// @Failure     404  {object}  handlers.ErrorResponse "Payment not found"
// @Router      /payments/{id}/ledger [get]
func (h *Handlers) GetPaymentLedger(c *gin.Context) {
	p, err := h.paySvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failPayment(c, err)
		return
	}
	entries, err := h.ledger.Entries(c.Request.Context(), p.ID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, entries)
}

// RequestApproval godoc
// @ID          requestPaymentApproval
// @Summary     Put a payment into the approval queue
// @Tags        Payments
// @Produce     json
// @Param       id  path  string  true  "External payment ID"
// @Success     200  {object}  domain.Payment
// @Failure     409  {object}  handlers.ErrorResponse "Illegal transition"
// @Router      /payments/{id}/approval [post]
func (h *Handlers) RequestApproval(c *gin.Context) {
	p, err := h.paySvc.RequestApproval(c.Request.Context(), c.Param("id"))
	if err != nil {
		failPayment(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// ApprovePayment godoc
// @ID          approvePayment
// @Summary     Approve a payment
// @Tags        Payments
// @Produce     json
// @Param       id  path  string  true  "External payment ID"
// @Success     200  {object}  domain.Payment
// @Failure     409  {object}  handlers.ErrorResponse "Illegal transition"
// @Router      /payments/{id}/approve [post]
func (h *Handlers) ApprovePayment(c *gin.Context) {
	p, err := h.paySvc.Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		failPayment(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// RejectPayment godoc
// @ID          rejectPayment
// @Summary     Reject a payment awaiting approval
// @Tags        Payments
// @Accept      json
// @Produce     json
// @Param       id    path  string  true  "External payment ID"
// @Param       body  body  handlers.RejectPaymentRequest  false  "Rejection reason"
// @Success     200  {object}  domain.Payment
// @Failure     409  {object}  handlers.ErrorResponse "Illegal transition"
// @Router      /payments/{id}/reject [post]
func (h *Handlers) RejectPayment(c *gin.Context) {
	var req RejectPaymentRequest
	_ = c.ShouldBindJSON(&req) // reason is optional

	p, err := h.paySvc.Reject(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		failPayment(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// CapturePayment godoc
// @ID          capturePayment
// @Summary     Capture an authorized payment
// @Tags        Payments
// @Accept      json
// @Produce     json
// @Param       id    path  string  true  "External payment ID"
// @Param       body  body  handlers.CapturePaymentRequest  true  "Settlement amount"
// @Success     202  {object}  domain.Payment
// @Failure     409  {object}  handlers.ErrorResponse "No live authorization"
// @Router      /payments/{id}/capture [post]
func (h *Handlers) CapturePayment(c *gin.Context) {
	var req CapturePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	p, err := h.paySvc.Capture(c.Request.Context(), c.Param("id"), req.Amount)
	if err != nil {
		failPayment(c, err)
		return
	}
	// The dispatcher settles asynchronously.
	ok(c, http.StatusAccepted, p)
}

// ExecutePayment godoc
// @ID          executePayment
// @Summary     Execute a payment synchronously
// @Tags        Payments
// @Accept      json
// @Produce     json
// @Param       id    path  string  true  "External payment ID"
// @Param       body  body  handlers.ExecutePaymentRequest  true  "Card token"
// @Success     200  {object}  domain.Payment
// @Failure     409  {object}  handlers.ErrorResponse "Already processing"
// @Router      /payments/{id}/execute [post]
func (h *Handlers) ExecutePayment(c *gin.Context) {
	var req ExecutePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "card_token required")
		return
	}

	p, err := h.paySvc.Execute(c.Request.Context(), c.Param("id"), req.CardToken)
	if err != nil {
		failPayment(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// CancelPayment godoc
// @ID          cancelPayment
// @Summary     Cancel a payment
// @Tags        Payments
// @Param       id  path  string  true  "External payment ID"
// @Success     204  {string}  string "No Content"
// @Failure     404  {object}  handlers.ErrorResponse "Payment not found"
// @Failure     409  {object}  handlers.ErrorResponse "Illegal transition"
// @Router      /payments/{id} [delete]
func (h *Handlers) CancelPayment(c *gin.Context) {
	if _, err := h.paySvc.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		failPayment(c, err)
		return
	}
	noContent(c)
}
