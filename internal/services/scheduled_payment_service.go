// Package services – ScheduledPaymentService
//
// Future-dated payments are stored as execution orders, not payments. The
// batch run materializes a payment per due order at execution time, claiming
// each order with a compare-and-swap before any acquirer work so that
// overlapping runs never execute the same order twice.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"golang.org/x/text/currency"

	"github.com/wells/bill-assistant-backend/internal/domain"
	"github.com/wells/bill-assistant-backend/internal/idemkey"
	"github.com/wells/bill-assistant-backend/internal/repo"
)

// ScheduledPaymentService manages future-dated payment orders and their
// batch execution.
type ScheduledPaymentService struct {
	DB       *gorm.DB
	Payments *PaymentService
}

// ScheduleInput carries a request to pay a bill on a future date.
type ScheduleInput struct {
	CustomerID    string          `json:"customer_id"`
	BillID        string          `json:"bill_id"`
	MerchantID    string          `json:"merchant_id"`
	CardToken     string          `json:"card_token"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	ScheduledDate time.Time       `json:"scheduled_date"`
}

// ExecutionReport summarizes one batch run.
type ExecutionReport struct {
	Due       int `json:"due"`
	Claimed   int `json:"claimed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Schedule validates and stores a future-dated payment order.
func (s *ScheduledPaymentService) Schedule(ctx context.Context, in ScheduleInput) (*domain.ScheduledPayment, error) {
	if !in.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if _, err := currency.ParseISO(in.Currency); err != nil {
		return nil, ErrInvalidCurrency
	}
	if in.ScheduledDate.Before(time.Now().UTC()) {
		return nil, ErrInvalidSchedule
	}
	// The order must carry a valid token now: execution happens unattended.
	if in.CardToken == "" {
		return nil, ErrCardTokenRequired
	}
	if _, err := repo.FindCardTokenByToken(ctx, s.DB, in.CardToken); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCardTokenNotFound
		}
		return nil, err
	}

	now := time.Now().UTC()
	sp := &domain.ScheduledPayment{
		ID:            uuid.NewString(),
		BillID:        in.BillID,
		CustomerID:    in.CustomerID,
		MerchantID:    in.MerchantID,
		CardToken:     in.CardToken,
		Amount:        in.Amount,
		Currency:      in.Currency,
		ScheduledDate: in.ScheduledDate,
		Status:        domain.ScheduleStatusScheduled,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := repo.CreateScheduledPayment(ctx, s.DB, sp); err != nil {
		return nil, err
	}
	log.Info().
		Str("schedule_id", sp.ID).
		Str("bill_id", sp.BillID).
		Time("scheduled_date", sp.ScheduledDate).
		Msg("scheduled payment")
	return sp, nil
}

// Get fetches a scheduled payment by id.
func (s *ScheduledPaymentService) Get(ctx context.Context, id string) (*domain.ScheduledPayment, error) {
	sp, err := repo.GetScheduledPayment(ctx, s.DB, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrScheduleNotFound
	}
	return sp, err
}

// Cancel withdraws a scheduled order that has not started executing.
// Orders already claimed, finished, or canceled report false.
func (s *ScheduledPaymentService) Cancel(ctx context.Context, id string) (bool, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return repo.CancelScheduledPayment(ctx, s.DB, id)
}

// ExecuteDue runs every order due at asOf, exactly once per order.
//
// Each order is claimed with a status+version compare-and-swap before any
// work; an order claimed by a concurrent run is skipped, not retried. One
// order's failure is recorded on that order alone and never aborts the
// batch. The per-order idempotency key folds in the due date, so a recurring
// bill scheduled for two different dates produces two distinct payments
// while a crashed-and-retried run for the same date replays the same one.
func (s *ScheduledPaymentService) ExecuteDue(ctx context.Context, asOf time.Time) (ExecutionReport, error) {
	var report ExecutionReport

	due, err := repo.ListDueScheduledPayments(ctx, s.DB, asOf)
	if err != nil {
		return report, err
	}
	report.Due = len(due)

	for i := range due {
		sp := &due[i]
		if err := repo.ClaimScheduledPayment(ctx, s.DB, sp); err != nil {
			if errors.Is(err, repo.ErrVersionConflict) {
				report.Skipped++
				continue
			}
			log.Error().Err(err).Str("schedule_id", sp.ID).Msg("claiming scheduled payment failed")
			report.Skipped++
			continue
		}
		report.Claimed++

		if s.executeOne(ctx, sp) {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}

	log.Info().
		Int("due", report.Due).
		Int("claimed", report.Claimed).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Msg("scheduled payment batch finished")
	return report, nil
}

// executeOne materializes and executes the payment for one claimed order,
// then records the terminal outcome on the order.
func (s *ScheduledPaymentService) executeOne(ctx context.Context, sp *domain.ScheduledPayment) bool {
	key := idemkey.Derive(
		sp.CustomerID,
		sp.BillID+"@"+sp.ScheduledDate.UTC().Format("2006-01-02"),
		sp.Amount,
		sp.Currency,
	)
	p, err := s.Payments.CreateIntent(ctx, CreateIntentInput{
		CustomerID:     sp.CustomerID,
		BillID:         sp.BillID,
		MerchantID:     sp.MerchantID,
		Amount:         sp.Amount,
		Currency:       sp.Currency,
		IdempotencyKey: key,
		ScheduledDate:  &sp.ScheduledDate,
		ApprovalSource: domain.ApprovalSourceSystem,
	})
	if err != nil {
		s.finish(ctx, sp, domain.ScheduleStatusFailed, "")
		log.Error().Err(err).Str("schedule_id", sp.ID).Msg("creating payment for scheduled order failed")
		return false
	}

	executed, err := s.Payments.Execute(ctx, p.PaymentID, sp.CardToken)
	if err != nil || executed.Status != domain.StatusSuccess {
		s.finish(ctx, sp, domain.ScheduleStatusFailed, p.PaymentID)
		if err != nil {
			log.Error().Err(err).Str("schedule_id", sp.ID).Str("payment_id", p.PaymentID).Msg("executing scheduled payment failed")
		} else {
			log.Warn().Str("schedule_id", sp.ID).Str("payment_id", p.PaymentID).Str("reason", executed.FailureReason).Msg("scheduled payment declined")
		}
		return false
	}

	s.finish(ctx, sp, domain.ScheduleStatusCompleted, p.PaymentID)
	return true
}

func (s *ScheduledPaymentService) finish(ctx context.Context, sp *domain.ScheduledPayment, status domain.ScheduleStatus, paymentID string) {
	if err := repo.FinishScheduledPayment(ctx, s.DB, sp, status, paymentID); err != nil {
		log.Error().Err(err).Str("schedule_id", sp.ID).Msg("recording scheduled payment outcome failed")
	}
}
