// Package domain – payment aggregate.
//
// This file defines the Payment record, the transactional OutboxEvent rows
// that drive asynchronous acquirer calls, and the ScheduledPayment rows used
// by the due-date batch executor. Status transitions for all three are
// guarded by the state machine in status.go; nothing in the codebase mutates
// a status column directly.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ApprovalSource records who initiated a payment.
const (
	ApprovalSourceUser   = "USER"
	ApprovalSourceAI     = "AI_SUGGESTED"
	ApprovalSourceSystem = "SYSTEM"
)

// Payment is the central money-movement record. It is created idempotently
// (unique idempotency key), advances through the PaymentStatus state machine,
// and is the only row multiple background flows may race on. Writers must use
// the optimistic Version column; a stale write affects zero rows and is
// surfaced as a conflict instead of silently overwriting.
//
// Fields:
//   - ID: internal UUID primary key (char(36)).
//   - PaymentID: external-facing identifier ("pay_" + UUID), unique.
//   - CustomerID / BillID / MerchantID: ownership and target references.
//   - Amount / Currency: fixed-point amount and ISO 4217 code.
//   - Status: PaymentStatus enum column, mutated only via ValidateTransition.
//   - IdempotencyKey: unique dedup fingerprint; immutable once bound.
//   - ApprovalSource: USER, AI_SUGGESTED, or SYSTEM.
//   - GatewayReference: remote authorization id returned by the acquirer.
//   - FailureReason: terminal failure detail for status queries.
//   - ScheduledDate: due date for SCHEDULED payments, nil otherwise.
//   - Version: optimistic concurrency counter.
type Payment struct {
	ID               string          `json:"-"                 gorm:"type:char(36);primaryKey"`
	PaymentID        string          `json:"payment_id"        gorm:"type:varchar(64);not null;uniqueIndex"`
	CustomerID       string          `json:"customer_id"       gorm:"type:varchar(64);not null;index"`
	BillID           string          `json:"bill_id"           gorm:"type:varchar(64);not null;index"`
	MerchantID       string          `json:"merchant_id"       gorm:"type:varchar(64)"`
	Amount           decimal.Decimal `json:"amount"            gorm:"type:decimal(20,4);not null"`
	Currency         string          `json:"currency"          gorm:"type:char(3);not null"`
	Status           PaymentStatus   `json:"status"            gorm:"type:varchar(20);not null;index"`
	IdempotencyKey   string          `json:"idempotency_key"   gorm:"type:varchar(64);not null;uniqueIndex"`
	ApprovalSource   string          `json:"approval_source"   gorm:"type:varchar(16);not null;default:'USER'"`
	GatewayReference string          `json:"gateway_reference,omitempty" gorm:"type:varchar(128)"`
	FailureReason    string          `json:"failure_reason,omitempty"    gorm:"type:varchar(512)"`
	ScheduledDate    *time.Time      `json:"scheduled_date,omitempty"    gorm:"index"`
	Version          int64           `json:"-"                 gorm:"not null;default:0"`
	ExecutedAt       *time.Time      `json:"executed_at,omitempty"`
	CancelledAt      *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	DeletedAt        gorm.DeletedAt  `json:"-"                 gorm:"index"`
}

// TableName returns the database table name for Payment.
func (Payment) TableName() string { return "payments" }

// Outbox event types understood by the dispatcher.
const (
	EventAuthorizePayment = "AUTHORIZE_PAYMENT"
	EventCapturePayment   = "CAPTURE_PAYMENT"
)

// OutboxEvent is a to-be-delivered acquirer operation written in the same
// transaction as the domain state change it represents. Rows are never
// mutated after insert except to flip Processed.
type OutboxEvent struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	AggregateID string    `json:"aggregate_id" gorm:"type:char(36);not null;index"`
	EventType   string    `json:"event_type"   gorm:"type:varchar(32);not null;check:event_type IN ('AUTHORIZE_PAYMENT','CAPTURE_PAYMENT')"`
	Payload     string    `json:"payload"      gorm:"type:text;not null"`
	Processed   bool      `json:"processed"    gorm:"not null;default:false;index"`
	CreatedAt   time.Time `json:"created_at"   gorm:"index"`
}

// TableName returns the database table name for OutboxEvent.
func (OutboxEvent) TableName() string { return "outbox_events" }

// AuthorizePayload is the JSON body of an AUTHORIZE_PAYMENT outbox event.
type AuthorizePayload struct {
	CardToken string          `json:"card_token"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	PaymentID string          `json:"payment_id"`
}

// CapturePayload is the JSON body of a CAPTURE_PAYMENT outbox event.
type CapturePayload struct {
	RemoteAuthID string          `json:"remote_auth_id"`
	Amount       decimal.Decimal `json:"amount"`
	PaymentID    string          `json:"payment_id"`
}

// ScheduledPayment is a future-dated execution order. The payment record is
// created at execution time, not at scheduling time; ResolvedPaymentID is
// filled in once the batch executor has created it.
type ScheduledPayment struct {
	ID                string          `json:"id"            gorm:"type:char(36);primaryKey"`
	BillID            string          `json:"bill_id"       gorm:"type:varchar(64);not null;index"`
	CustomerID        string          `json:"customer_id"   gorm:"type:varchar(64);not null;index"`
	MerchantID        string          `json:"merchant_id"   gorm:"type:varchar(64)"`
	CardToken         string          `json:"-"             gorm:"type:varchar(64)"`
	ResolvedPaymentID string          `json:"payment_id,omitempty" gorm:"type:varchar(64)"`
	Amount            decimal.Decimal `json:"amount"        gorm:"type:decimal(20,4);not null"`
	Currency          string          `json:"currency"      gorm:"type:char(3);not null"`
	ScheduledDate     time.Time       `json:"scheduled_date" gorm:"not null;index"`
	Status            ScheduleStatus  `json:"status"        gorm:"type:varchar(16);not null;index"`
	Version           int64           `json:"-"             gorm:"not null;default:0"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// TableName returns the database table name for ScheduledPayment.
func (ScheduledPayment) TableName() string { return "scheduled_payments" }
