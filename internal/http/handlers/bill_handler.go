// Bill and card HTTP handlers.
//
//   - POST /bills        (create)
//   - GET  /bills        (list for the current user, soonest due first)
//   - GET  /bills/{id}
//   - POST /cards        (tokenize a card; the PAN is never stored)
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wells/bill-assistant-backend/internal/domain"
)

// CreateBillRequest is the JSON payload for creating a bill.
type CreateBillRequest struct {
	MerchantID  string          `json:"merchant_id" binding:"required" example:"merch-42"`
	Reference   string          `json:"reference" binding:"omitempty,max=32" example:"BILL-7"`
	Description string          `json:"description" binding:"required,min=1,max=255" example:"Electricity March"`
	Amount      decimal.Decimal `json:"amount" binding:"required" example:"120.50"`
	Currency    string          `json:"currency" binding:"required" example:"EUR"`
	DueDate     time.Time       `json:"due_date" binding:"required"`
}

// RegisterCardRequest is the JSON payload for tokenizing a card.
type RegisterCardRequest struct {
	PAN    string    `json:"pan" binding:"required" example:"4242424242424242"`
	Expiry time.Time `json:"expiry" binding:"required"`
}

// CreateBill godoc
// @ID          createBill
// @Summary     Create a bill
// @Tags        Bills
// @Accept      json
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.CreateBillRequest  true  "Create bill payload"
// @Success     201  {object}  domain.Bill
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Router      /bills [post]
func (h *Handlers) CreateBill(c *gin.Context) {
	var req CreateBillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	b, err := h.billSvc.Create(c.Request.Context(), &domain.Bill{
		CustomerID:  userID(c),
		Reference:   req.Reference,
		MerchantID:  req.MerchantID,
		Description: req.Description,
		Amount:      req.Amount,
		Currency:    req.Currency,
		DueDate:     req.DueDate,
	})
	if err != nil {
		failPayment(c, err)
		return
	}
	ok(c, http.StatusCreated, b)
}

// ListBills godoc
// @ID          listBills
// @Summary     List the current user's bills
// @Tags        Bills
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Success     200  {array}   domain.Bill
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /bills [get]
func (h *Handlers) ListBills(c *gin.Context) {
	bills, err := h.billSvc.List(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, bills)
}

// GetBill godoc
// @ID          getBill
// @Summary     Get a bill
// @Tags        Bills
// @Produce     json
// @Param       id  path  string  true  "Bill ID (UUID)"  format(uuid)
// @Success     200  {object}  domain.Bill
// @Failure     404  {object}  handlers.ErrorResponse "Bill not found"
// @Router      /bills/{id} [get]
func (h *Handlers) GetBill(c *gin.Context) {
	billID := c.Param("id")
	if _, err := uuid.Parse(billID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "bill id must be a UUID")
		return
	}

	b, err := h.billSvc.Get(c.Request.Context(), billID)
	if err != nil {
		failPayment(c, err)
		return
	}
	ok(c, http.StatusOK, b)
}

// RegisterCard godoc
// @ID          registerCard
// @Summary     Tokenize a card
// @Description Validates the card number, stores only an opaque token and a
// @Description masked reference, and returns the token for later payments.
// @Tags        Cards
// @Accept      json
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.RegisterCardRequest  true  "Card payload"
// @Success     201  {object}  domain.CardToken
// @Failure     400  {object}  handlers.ErrorResponse "Invalid or expired card"
// @Router      /cards [post]
func (h *Handlers) RegisterCard(c *gin.Context) {
	var req RegisterCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	t, err := h.cardSvc.Register(c.Request.Context(), userID(c), req.PAN, req.Expiry)
	if err != nil {
		failPayment(c, err)
		return
	}
	ok(c, http.StatusCreated, t)
}
