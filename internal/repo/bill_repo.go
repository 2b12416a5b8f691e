// Package repo – bill persistence.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wells/bill-assistant-backend/internal/domain"
)

// CreateBill inserts a new Bill row with a UUID primary key.
func CreateBill(ctx context.Context, db *gorm.DB, b *domain.Bill) (*domain.Bill, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(b).Error; err != nil {
		return nil, err
	}
	return b, nil
}

// GetBill fetches a bill by id, or ErrNotFound.
func GetBill(ctx context.Context, db *gorm.DB, id string) (*domain.Bill, error) {
	var b domain.Bill
	err := db.WithContext(ctx).Where("id = ?", id).First(&b).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBillByReference fetches the customer's bill carrying the given short
// reference ("BILL-7"). References are stored uppercased; callers normalize
// before lookup. The newest bill wins if a customer reused a reference.
func GetBillByReference(ctx context.Context, db *gorm.DB, customerID, reference string) (*domain.Bill, error) {
	var b domain.Bill
	err := db.WithContext(ctx).
		Where("customer_id = ? AND reference = ?", customerID, reference).
		Order("created_at desc").
		First(&b).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBills returns all bills belonging to customerID, ordered by due date
// ascending (soonest first).
func ListBills(ctx context.Context, db *gorm.DB, customerID string) ([]domain.Bill, error) {
	var out []domain.Bill
	err := db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("due_date asc").
		Find(&out).Error
	return out, err
}

// MarkBillPaid flips a bill to PAID and records the settling payment id.
// Returns ErrNotFound if the bill does not exist.
func MarkBillPaid(ctx context.Context, db *gorm.DB, id, paymentID string) error {
	res := db.WithContext(ctx).
		Model(&domain.Bill{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     domain.BillStatusPaid,
			"payment_id": paymentID,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkOverdueBills flips every unpaid bill whose due date passed to OVERDUE
// and returns how many rows changed. The overdue sweep calls this daily.
func MarkOverdueBills(ctx context.Context, db *gorm.DB, asOf time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Bill{}).
		Where("status IN ? AND due_date < ?", []string{domain.BillStatusUnpaid, domain.BillStatusDue}, asOf).
		Updates(map[string]any{
			"status":     domain.BillStatusOverdue,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}
