// Package domain – HTTP idempotency records.
package domain

import "time"

// Idempotency records the outcome of a previously processed unsafe request,
// keyed by (user_id, key). It lets the HTTP layer replay the originally
// produced response without re-executing side effects. The payment-level
// dedup lives on payments.idempotency_key; this table only accelerates the
// transport-level replay path.
type Idempotency struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID    string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_key,priority:1"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_key,priority:2"`
	PaymentID string    `gorm:"type:TEXT NOT NULL"`
	Status    int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
