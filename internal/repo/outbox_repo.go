// Package repo – outbox event persistence.
//
// Outbox rows are written inside the same transaction as the domain change
// they describe (callers pass the transaction-bound handle), then consumed by
// the dispatcher. The only legal mutation after insert is flipping the
// processed flag.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wells/bill-assistant-backend/internal/domain"
)

// CreateOutboxEvent inserts an unprocessed event for the given aggregate.
func CreateOutboxEvent(ctx context.Context, db *gorm.DB, aggregateID, eventType, payload string) (*domain.OutboxEvent, error) {
	e := &domain.OutboxEvent{
		ID:          uuid.NewString(),
		AggregateID: aggregateID,
		EventType:   eventType,
		Payload:     payload,
		Processed:   false,
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(e).Error; err != nil {
		return nil, err
	}
	return e, nil
}

// ListUnprocessedEvents returns unprocessed events ordered by creation time
// ascending, capped at limit. Ordering keeps same-aggregate events roughly in
// creation order, but authorize-before-capture is enforced by when capture
// events are emitted, not by this sort.
func ListUnprocessedEvents(ctx context.Context, db *gorm.DB, limit int) ([]domain.OutboxEvent, error) {
	var out []domain.OutboxEvent
	err := db.WithContext(ctx).
		Where("processed = ?", false).
		Order("created_at asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// MarkEventProcessed flips the processed flag. Events are never unmarked.
func MarkEventProcessed(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.OutboxEvent{}).
		Where("id = ?", id).
		Update("processed", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountUnprocessedEvents returns the current outbox backlog size, exposed as
// a gauge by the dispatcher.
func CountUnprocessedEvents(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.OutboxEvent{}).
		Where("processed = ?", false).
		Count(&total).Error
	return total, err
}
