// Package services – PaymentService
//
// This file implements PaymentService, the application-level component that
// owns the payment lifecycle: idempotent intent creation (with the
// transactional outbox write), capture requests, the approval flow, direct
// execution, and cancellation. Status mutation always goes through
// domain.ValidateTransition and persists with an optimistic version
// predicate, so an illegal transition is rejected before any write and a
// racing write surfaces as a conflict instead of a lost update.
//
// Observability: public methods are OpenTelemetry-instrumented; spans include
// payment/bill identifiers.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/wells/bill-assistant-backend/internal/acquirer"
	"github.com/wells/bill-assistant-backend/internal/domain"
	"github.com/wells/bill-assistant-backend/internal/idemkey"
	"github.com/wells/bill-assistant-backend/internal/ledger"
	"github.com/wells/bill-assistant-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/currency"
)

// PaymentService coordinates payment persistence, the outbox protocol, and
// the acquirer abstraction.
type PaymentService struct {
	DB       *gorm.DB
	Acquirer acquirer.Client
	Ledger   *ledger.Service
}

// CreateIntentInput carries everything needed to create a payment intent.
// IdempotencyKey may be left empty, in which case the deterministic key is
// derived from (customer, bill, amount, currency).
type CreateIntentInput struct {
	CustomerID     string          `json:"customer_id"`
	BillID         string          `json:"bill_id"`
	MerchantID     string          `json:"merchant_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CardToken      string          `json:"card_token,omitempty"`
	ScheduledDate  *time.Time      `json:"scheduled_date,omitempty"`
	ApprovalSource string          `json:"approval_source,omitempty"`
}

// CreateIntent creates a payment record idempotently.
//
// Semantics:
//   - A repeated call with the same key and an identical payload returns the
//     previously created payment without creating a second row.
//   - The same key with a different payload yields ErrDuplicatePayment.
//   - When a card token is supplied, the AUTHORIZE_PAYMENT outbox event is
//     written in the same transaction as the payment row; the dispatcher
//     relays it to the acquirer asynchronously.
//   - A scheduled date puts the payment in SCHEDULED instead of CREATED.
func (s *PaymentService) CreateIntent(ctx context.Context, in CreateIntentInput) (*domain.Payment, error) {
	tr := otel.Tracer("services/PaymentService")
	ctx, span := tr.Start(ctx, "CreateIntent",
		trace.WithAttributes(
			attribute.String("bill.id", in.BillID),
			attribute.String("customer.id", in.CustomerID),
		),
	)
	defer span.End()

	if !in.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if _, err := currency.ParseISO(in.Currency); err != nil {
		return nil, ErrInvalidCurrency
	}
	in.Currency = strings.ToUpper(in.Currency)

	key := in.IdempotencyKey
	if key == "" {
		key = idemkey.Derive(in.CustomerID, in.BillID, in.Amount, in.Currency)
	}
	if !idemkey.Valid(key) {
		return nil, ErrInvalidIdempotencyKey
	}

	// Replay check before attempting the insert.
	if existing, err := repo.FindPaymentByIdempotencyKey(ctx, s.DB, key); err == nil {
		return s.replayOrConflict(existing, in)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if in.ApprovalSource == "" {
		in.ApprovalSource = domain.ApprovalSourceUser
	}
	status := domain.StatusCreated
	if in.ScheduledDate != nil {
		status = domain.StatusScheduled
	}

	p := &domain.Payment{
		ID:             uuid.NewString(),
		PaymentID:      "pay_" + uuid.NewString(),
		CustomerID:     in.CustomerID,
		BillID:         in.BillID,
		MerchantID:     in.MerchantID,
		Amount:         in.Amount,
		Currency:       in.Currency,
		Status:         status,
		IdempotencyKey: key,
		ApprovalSource: in.ApprovalSource,
		ScheduledDate:  in.ScheduledDate,
		CreatedAt:      time.Now().UTC(),
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CreatePayment(ctx, tx, p); err != nil {
			return err
		}
		if in.CardToken != "" && status == domain.StatusCreated {
			payload, err := json.Marshal(domain.AuthorizePayload{
				CardToken: in.CardToken,
				Amount:    in.Amount,
				Currency:  in.Currency,
				PaymentID: p.ID,
			})
			if err != nil {
				return err
			}
			if _, err := repo.CreateOutboxEvent(ctx, tx, p.ID, domain.EventAuthorizePayment, string(payload)); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, repo.ErrDuplicate) {
		// Lost the insert race; fall back to the replay check on whoever won.
		existing, ferr := repo.FindPaymentByIdempotencyKey(ctx, s.DB, key)
		if ferr != nil {
			return nil, ferr
		}
		return s.replayOrConflict(existing, in)
	}
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("payment_id", p.PaymentID).
		Str("bill_id", p.BillID).
		Str("status", string(p.Status)).
		Msg("created payment intent")
	return p, nil
}

// replayOrConflict decides between a legitimate idempotent replay (identical
// payload → return the prior payment) and a key collision with different
// content (ErrDuplicatePayment).
func (s *PaymentService) replayOrConflict(existing *domain.Payment, in CreateIntentInput) (*domain.Payment, error) {
	samePayload := existing.CustomerID == in.CustomerID &&
		existing.BillID == in.BillID &&
		existing.Amount.Equal(in.Amount) &&
		strings.EqualFold(existing.Currency, in.Currency) &&
		sameDate(existing.ScheduledDate, in.ScheduledDate)
	if !samePayload {
		return nil, ErrDuplicatePayment
	}
	return existing, nil
}

// sameDate compares two optional dates by calendar day.
func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Get fetches a payment by external payment id.
func (s *PaymentService) Get(ctx context.Context, paymentID string) (*domain.Payment, error) {
	p, err := repo.GetPaymentByPaymentID(ctx, s.DB, paymentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPaymentNotFound
	}
	return p, err
}

// ListByCustomer returns a page of the customer's payments plus the total.
func (s *PaymentService) ListByCustomer(ctx context.Context, customerID string, page, pageSize int) ([]domain.Payment, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountPaymentsByCustomer(ctx, s.DB, customerID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Payment{}, 0, nil
	}
	items, err := repo.ListPaymentsByCustomer(ctx, s.DB, customerID, offset, pageSize)
	return items, total, err
}

// transition validates current → next against the state machine, then
// persists with the optimistic version predicate.
func (s *PaymentService) transition(ctx context.Context, p *domain.Payment, next domain.PaymentStatus, extra map[string]any) error {
	if err := domain.ValidateTransition(p.Status, next); err != nil {
		return err
	}
	return repo.UpdatePaymentStatus(ctx, s.DB, p, next, extra)
}

// RequestApproval moves a payment into APPROVAL_PENDING.
func (s *PaymentService) RequestApproval(ctx context.Context, paymentID string) (*domain.Payment, error) {
	p, err := s.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, p, domain.StatusApprovalPending, nil); err != nil {
		return nil, err
	}
	return p, nil
}

// Approve moves a payment into APPROVED.
func (s *PaymentService) Approve(ctx context.Context, paymentID string) (*domain.Payment, error) {
	p, err := s.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, p, domain.StatusApproved, nil); err != nil {
		return nil, err
	}
	return p, nil
}

// Reject moves an APPROVAL_PENDING payment into REJECTED.
func (s *PaymentService) Reject(ctx context.Context, paymentID, reason string) (*domain.Payment, error) {
	p, err := s.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, p, domain.StatusRejected, map[string]any{"failure_reason": reason}); err != nil {
		return nil, err
	}
	return p, nil
}

// Cancel moves a payment into CANCELLED if the state machine allows it and
// reports whether the cancellation happened. An illegal source state returns
// false with the transition error.
func (s *PaymentService) Cancel(ctx context.Context, paymentID string) (bool, error) {
	p, err := s.Get(ctx, paymentID)
	if err != nil {
		return false, err
	}
	now := time.Now().UTC()
	if err := s.transition(ctx, p, domain.StatusCancelled, map[string]any{"cancelled_at": now}); err != nil {
		return false, err
	}
	log.Info().Str("payment_id", paymentID).Msg("cancelled payment")
	return true, nil
}

// Capture requests settlement of a previously authorized payment by writing
// a CAPTURE_PAYMENT outbox event; the dispatcher performs the acquirer call.
// Only AUTHORIZED payments can be captured.
func (s *PaymentService) Capture(ctx context.Context, paymentID string, amount decimal.Decimal) (*domain.Payment, error) {
	p, err := s.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != domain.StatusAuthorized {
		return nil, ErrPaymentNotAuthorized
	}
	if !amount.IsPositive() || amount.GreaterThan(p.Amount) {
		return nil, ErrInvalidAmount
	}

	payload, err := json.Marshal(domain.CapturePayload{
		RemoteAuthID: p.GatewayReference,
		Amount:       amount,
		PaymentID:    p.ID,
	})
	if err != nil {
		return nil, err
	}
	if _, err := repo.CreateOutboxEvent(ctx, s.DB, p.ID, domain.EventCapturePayment, string(payload)); err != nil {
		return nil, err
	}
	return p, nil
}

// Execute runs a payment synchronously against the acquirer: claim
// PROCESSING, authorize and capture with stable idempotency keys, then settle
// into SUCCESS or FAILED. Already-successful payments return immediately
// (idempotent); payments claimed by another worker yield ErrAlreadyProcessing.
//
// On SUCCESS the originating bill is reconciled to PAID best-effort: a
// reconciliation failure is logged, never propagated, and never rolls back
// the completed payment.
func (s *PaymentService) Execute(ctx context.Context, paymentID, cardToken string) (*domain.Payment, error) {
	tr := otel.Tracer("services/PaymentService")
	ctx, span := tr.Start(ctx, "Execute",
		trace.WithAttributes(attribute.String("payment.id", paymentID)),
	)
	defer span.End()

	p, err := s.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status == domain.StatusSuccess {
		return p, nil
	}
	if p.Status == domain.StatusProcessing {
		return nil, ErrAlreadyProcessing
	}
	if cardToken == "" {
		return nil, ErrCardTokenNotFound
	}
	if _, err := repo.FindCardTokenByToken(ctx, s.DB, cardToken); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCardTokenNotFound
		}
		return nil, err
	}

	// Claim before any external work.
	if err := s.transition(ctx, p, domain.StatusProcessing, nil); err != nil {
		var conflict *domain.InvalidTransitionError
		if errors.As(err, &conflict) {
			return nil, err
		}
		if errors.Is(err, repo.ErrVersionConflict) {
			return nil, ErrAlreadyProcessing
		}
		return nil, err
	}

	auth, err := s.Acquirer.Authorize(ctx, cardToken, p.Amount, p.Currency, p.PaymentID, "exec-auth-"+p.IdempotencyKey)
	if err == nil && auth.Success {
		capResp, cerr := s.Acquirer.Capture(ctx, auth.RemoteAuthID, p.Amount, "exec-cap-"+p.IdempotencyKey)
		if cerr == nil && capResp.Success {
			now := time.Now().UTC()
			if terr := s.transition(ctx, p, domain.StatusSuccess, map[string]any{
				"gateway_reference": auth.RemoteAuthID,
				"executed_at":       now,
			}); terr != nil {
				return nil, terr
			}
			s.Ledger.WriteReserve(ctx, p)
			s.Ledger.WriteCapture(ctx, p)
			if berr := repo.MarkBillPaid(ctx, s.DB, p.BillID, p.PaymentID); berr != nil {
				log.Warn().Err(berr).
					Str("payment_id", p.PaymentID).
					Str("bill_id", p.BillID).
					Msg("payment executed but bill reconciliation failed")
			}
			log.Info().Str("payment_id", p.PaymentID).Msg("payment executed")
			return p, nil
		}
		err = cerr
		if err == nil {
			err = errors.New(capResp.Reason)
		}
	}

	reason := "acquirer declined"
	if err != nil {
		reason = err.Error()
	} else if auth.Reason != "" {
		reason = auth.Reason
	}
	if terr := s.transition(ctx, p, domain.StatusFailed, map[string]any{"failure_reason": reason}); terr != nil {
		return nil, terr
	}
	log.Warn().Str("payment_id", p.PaymentID).Str("reason", reason).Msg("payment execution failed")
	return p, nil
}
