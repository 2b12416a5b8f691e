// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Payment
// aggregate.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a payment is not found, functions return ErrNotFound.
//   - Unique violations (idempotency key, payment id) map to ErrDuplicate.
//   - Stale optimistic writes map to ErrVersionConflict.
//   - On other DB errors, the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/wells/bill-assistant-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates a unique-constraint violation, typically on the
// payments idempotency key.
var ErrDuplicate = errors.New("duplicate")

// ErrVersionConflict indicates a lost-update race: the row's version moved
// between read and write. Callers retry or fail; the write never lands.
var ErrVersionConflict = errors.New("version conflict")

// isUniqueViolation detects unique-constraint violations across drivers.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key")
}

// CreatePayment inserts a new Payment row. Unique violations (an existing
// payment already bound to the idempotency key) map to ErrDuplicate so the
// service layer can run its replay-vs-conflict check.
func CreatePayment(ctx context.Context, db *gorm.DB, p *domain.Payment) error {
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetPaymentByPaymentID fetches a payment by its external payment id, or
// ErrNotFound.
func GetPaymentByPaymentID(ctx context.Context, db *gorm.DB, paymentID string) (*domain.Payment, error) {
	var p domain.Payment
	err := db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPaymentByID fetches a payment by its internal id, or ErrNotFound.
func GetPaymentByID(ctx context.Context, db *gorm.DB, id string) (*domain.Payment, error) {
	var p domain.Payment
	err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// FindPaymentByIdempotencyKey returns the payment bound to the key, or
// ErrNotFound.
func FindPaymentByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*domain.Payment, error) {
	var p domain.Payment
	err := db.WithContext(ctx).Where("idempotency_key = ?", key).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPaymentsByCustomer returns a page of payments owned by customerID,
// newest first. Use CountPaymentsByCustomer for pagination metadata.
func ListPaymentsByCustomer(ctx context.Context, db *gorm.DB, customerID string, offset, limit int) ([]domain.Payment, error) {
	var out []domain.Payment
	err := db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountPaymentsByCustomer returns the total number of payments owned by
// customerID.
func CountPaymentsByCustomer(ctx context.Context, db *gorm.DB, customerID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Payment{}).
		Where("customer_id = ?", customerID).
		Count(&total).Error
	return total, err
}

// UpdatePaymentStatus performs a compare-and-swap write of the payment's
// status plus the given extra columns. The predicate matches the version the
// caller read; zero rows affected means another writer got there first and
// the caller receives ErrVersionConflict.
//
// Status legality is the service layer's responsibility (domain.
// ValidateTransition runs before this is called); this function only
// guarantees the write is not a lost update.
func UpdatePaymentStatus(ctx context.Context, db *gorm.DB, p *domain.Payment, next domain.PaymentStatus, extra map[string]any) error {
	updates := map[string]any{
		"status":     next,
		"version":    p.Version + 1,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range extra {
		updates[k] = v
	}
	res := db.WithContext(ctx).
		Model(&domain.Payment{}).
		Where("id = ? AND version = ?", p.ID, p.Version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	p.Status = next
	p.Version++
	return nil
}
