// Package repo – scheduled payment persistence.
//
// The claim helper here is the mutual-exclusion barrier for the batch
// executor: flipping SCHEDULED → PROCESSING with a version predicate before
// any external work means a second runner re-reading the same row cannot
// claim it again.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/wells/bill-assistant-backend/internal/domain"
)

// CreateScheduledPayment inserts a new scheduled payment row.
func CreateScheduledPayment(ctx context.Context, db *gorm.DB, sp *domain.ScheduledPayment) error {
	return db.WithContext(ctx).Create(sp).Error
}

// GetScheduledPayment fetches a scheduled payment by id, or ErrNotFound.
func GetScheduledPayment(ctx context.Context, db *gorm.DB, id string) (*domain.ScheduledPayment, error) {
	var sp domain.ScheduledPayment
	err := db.WithContext(ctx).Where("id = ?", id).First(&sp).Error
	if err != nil {
		return nil, err
	}
	return &sp, nil
}

// ListDueScheduledPayments returns every SCHEDULED row with scheduled_date on
// or before asOf, oldest first.
func ListDueScheduledPayments(ctx context.Context, db *gorm.DB, asOf time.Time) ([]domain.ScheduledPayment, error) {
	var out []domain.ScheduledPayment
	err := db.WithContext(ctx).
		Where("status = ? AND scheduled_date <= ?", domain.ScheduleStatusScheduled, asOf).
		Order("scheduled_date asc").
		Find(&out).Error
	return out, err
}

// ClaimScheduledPayment atomically flips SCHEDULED → PROCESSING. The
// predicate includes both the source status and the version the caller read;
// zero rows affected means another executor run claimed the row first, and
// the caller must skip it (ErrVersionConflict).
func ClaimScheduledPayment(ctx context.Context, db *gorm.DB, sp *domain.ScheduledPayment) error {
	res := db.WithContext(ctx).
		Model(&domain.ScheduledPayment{}).
		Where("id = ? AND status = ? AND version = ?", sp.ID, domain.ScheduleStatusScheduled, sp.Version).
		Updates(map[string]any{
			"status":     domain.ScheduleStatusProcessing,
			"version":    sp.Version + 1,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	sp.Status = domain.ScheduleStatusProcessing
	sp.Version++
	return nil
}

// FinishScheduledPayment records the terminal outcome of an execution
// attempt, attaching the resolved payment id on success.
func FinishScheduledPayment(ctx context.Context, db *gorm.DB, sp *domain.ScheduledPayment, status domain.ScheduleStatus, resolvedPaymentID string) error {
	updates := map[string]any{
		"status":     status,
		"version":    sp.Version + 1,
		"updated_at": time.Now().UTC(),
	}
	if resolvedPaymentID != "" {
		updates["resolved_payment_id"] = resolvedPaymentID
	}
	res := db.WithContext(ctx).
		Model(&domain.ScheduledPayment{}).
		Where("id = ? AND version = ?", sp.ID, sp.Version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	sp.Status = status
	sp.Version++
	if resolvedPaymentID != "" {
		sp.ResolvedPaymentID = resolvedPaymentID
	}
	return nil
}

// CancelScheduledPayment flips SCHEDULED → CANCELED. Rows in any other state
// are left untouched and the call reports false.
func CancelScheduledPayment(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.ScheduledPayment{}).
		Where("id = ? AND status = ?", id, domain.ScheduleStatusScheduled).
		Updates(map[string]any{
			"status":     domain.ScheduleStatusCanceled,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
