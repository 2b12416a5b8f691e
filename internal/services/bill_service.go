// Package services – BillService
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"golang.org/x/text/currency"

	"github.com/wells/bill-assistant-backend/internal/domain"
	"github.com/wells/bill-assistant-backend/internal/repo"
)

// BillService manages the bills that payments settle.
type BillService struct {
	DB *gorm.DB
}

// Create validates and stores a new bill. Bills due within the caller's
// grace window start as DUE instead of UNPAID.
func (s *BillService) Create(ctx context.Context, b *domain.Bill) (*domain.Bill, error) {
	if !b.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if _, err := currency.ParseISO(b.Currency); err != nil {
		return nil, ErrInvalidCurrency
	}
	if b.Status == "" {
		b.Status = domain.BillStatusUnpaid
	}
	// References match case-insensitively, so store the canonical form.
	b.Reference = strings.ToUpper(strings.TrimSpace(b.Reference))
	return repo.CreateBill(ctx, s.DB, b)
}

// Get fetches a bill by id.
func (s *BillService) Get(ctx context.Context, id string) (*domain.Bill, error) {
	b, err := repo.GetBill(ctx, s.DB, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBillNotFound
	}
	return b, err
}

// Resolve fetches the customer's bill named by ref, which is either the bill
// UUID or a short reference like "BILL-7". The assistant passes whatever the
// user typed, so both forms must land on the same bill.
func (s *BillService) Resolve(ctx context.Context, customerID, ref string) (*domain.Bill, error) {
	if _, err := uuid.Parse(ref); err == nil {
		return s.Get(ctx, ref)
	}
	ref = strings.ToUpper(strings.TrimSpace(ref))
	b, err := repo.GetBillByReference(ctx, s.DB, customerID, ref)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBillNotFound
	}
	return b, err
}

// List returns the customer's bills ordered by due date.
func (s *BillService) List(ctx context.Context, customerID string) ([]domain.Bill, error) {
	return repo.ListBills(ctx, s.DB, customerID)
}

// SweepOverdue flips every bill past its due date to OVERDUE and returns the
// number of bills changed. Invoked daily by the background sweeper.
func (s *BillService) SweepOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	n, err := repo.MarkOverdueBills(ctx, s.DB, asOf)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int64("bills", n).Msg("marked overdue bills")
	}
	return n, nil
}
