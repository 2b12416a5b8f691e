// Package ledger records money movement as an append-only double-entry style
// trail. Every successful authorization produces a RESERVE entry and every
// settlement a CAPTURE entry, keyed by the internal payment id, so the
// acquirer-facing flow can be reconciled after the fact.
//
// Ledger writes are deliberately best-effort from the caller's point of view:
// a failed write is logged and surfaced, but dispatchers treat it as
// non-fatal because the payment state machine, not the ledger, is the source
// of truth for payment status.
package ledger

import (
	"context"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/wells/bill-assistant-backend/internal/domain"
	"github.com/wells/bill-assistant-backend/internal/repo"
)

// Service appends ledger entries for payments.
type Service struct {
	DB *gorm.DB
}

// New returns a ledger service backed by db.
func New(db *gorm.DB) *Service {
	return &Service{DB: db}
}

// WriteReserve records that funds were reserved for the payment.
func (s *Service) WriteReserve(ctx context.Context, p *domain.Payment) {
	s.write(ctx, p, domain.LedgerEntryReserve)
}

// WriteCapture records that reserved funds were captured.
func (s *Service) WriteCapture(ctx context.Context, p *domain.Payment) {
	s.write(ctx, p, domain.LedgerEntryCapture)
}

func (s *Service) write(ctx context.Context, p *domain.Payment, entryType string) {
	if _, err := repo.CreateLedgerEntry(ctx, s.DB, p.ID, entryType, p.Amount, p.Currency); err != nil {
		log.Error().Err(err).
			Str("payment_id", p.PaymentID).
			Str("entry_type", entryType).
			Msg("ledger write failed")
	}
}

// Entries returns the full trail for a payment, oldest first.
func (s *Service) Entries(ctx context.Context, paymentInternalID string) ([]domain.LedgerEntry, error) {
	return repo.ListLedgerEntries(ctx, s.DB, paymentInternalID)
}
