// Package repo – ledger entry persistence. Entries are append-only.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/wells/bill-assistant-backend/internal/domain"
)

// CreateLedgerEntry appends an accounting record for a payment.
func CreateLedgerEntry(ctx context.Context, db *gorm.DB, paymentID, entryType string, amount decimal.Decimal, currency string) (*domain.LedgerEntry, error) {
	e := &domain.LedgerEntry{
		ID:        uuid.NewString(),
		PaymentID: paymentID,
		EntryType: entryType,
		Amount:    amount,
		Currency:  currency,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(e).Error; err != nil {
		return nil, err
	}
	return e, nil
}

// ListLedgerEntries returns all entries for a payment, oldest first.
func ListLedgerEntries(ctx context.Context, db *gorm.DB, paymentID string) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	err := db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}
