// Package repo – card token persistence.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wells/bill-assistant-backend/internal/domain"
)

// CreateCardToken inserts a tokenized card reference.
func CreateCardToken(ctx context.Context, db *gorm.DB, t *domain.CardToken) (*domain.CardToken, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(t).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return t, nil
}

// FindCardTokenByToken fetches a card token by its opaque token string, or
// ErrNotFound.
func FindCardTokenByToken(ctx context.Context, db *gorm.DB, token string) (*domain.CardToken, error) {
	var t domain.CardToken
	err := db.WithContext(ctx).Where("token = ?", token).First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}
