// Package domain defines the persistence models for bills, customers, card
// tokens, and ledger entries. These types are mapped with GORM and form the
// core data layer of the bill assistant application.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Bill status values. Bills move UNPAID → DUE → OVERDUE as time passes and
// end at PAID once a payment settles.
const (
	BillStatusUnpaid  = "UNPAID"
	BillStatusDue     = "DUE"
	BillStatusOverdue = "OVERDUE"
	BillStatusPaid    = "PAID"
)

// Bill represents a payable obligation owned by a customer. Bills are the
// target of payment intents and are reconciled to PAID after a successful
// payment execution.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - CustomerID: identifier of the bill owner; indexed for efficient retrieval.
//   - Reference: optional short handle ("BILL-7") unique per customer by
//     convention, stored uppercased; the assistant resolves it to the bill.
//   - MerchantID: the merchant the bill is owed to.
//   - Description: human-readable bill label (e.g. "Electricity March").
//   - Amount / Currency: fixed-point amount due and ISO currency code.
//   - Status: UNPAID, DUE, OVERDUE, or PAID.
//   - DueDate: calendar date the bill becomes overdue after.
//   - PaymentID: id of the payment that settled the bill, set on reconciliation.
type Bill struct {
	ID          string          `json:"id"          gorm:"type:char(36);primaryKey"`
	CustomerID  string          `json:"customer_id" gorm:"type:varchar(64);not null;index:idx_customer_bills;index:idx_customer_reference,priority:1"`
	Reference   string          `json:"reference,omitempty" gorm:"type:varchar(32);index:idx_customer_reference,priority:2"`
	MerchantID  string          `json:"merchant_id" gorm:"type:varchar(64);not null"`
	Description string          `json:"description" gorm:"type:varchar(255);not null"`
	Amount      decimal.Decimal `json:"amount"      gorm:"type:decimal(20,4);not null"`
	Currency    string          `json:"currency"    gorm:"type:char(3);not null"`
	Status      string          `json:"status"      gorm:"type:varchar(16);not null;default:'UNPAID';check:status IN ('UNPAID','DUE','OVERDUE','PAID')"`
	DueDate     time.Time       `json:"due_date"`
	PaymentID   string          `json:"payment_id,omitempty" gorm:"type:varchar(64)"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	DeletedAt   gorm.DeletedAt  `json:"-"           gorm:"index"`
}

// TableName returns the database table name for Bill.
func (Bill) TableName() string { return "bills" }

// Customer represents an account holder who owns bills and initiates payments.
type Customer struct {
	ID        string         `json:"id"    gorm:"type:char(36);primaryKey"`
	Name      string         `json:"name"  gorm:"type:varchar(255);not null"`
	Email     string         `json:"email" gorm:"type:varchar(255);not null;uniqueIndex"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"     gorm:"index"`
}

// TableName returns the database table name for Customer.
func (Customer) TableName() string { return "customers" }

// CardToken is an opaque reference to a tokenized card held by the
// tokenization collaborator. Only the masked PAN and brand are stored here;
// the raw card number never enters this system.
type CardToken struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	Token      string    `json:"token"       gorm:"type:varchar(64);not null;uniqueIndex"`
	CustomerID string    `json:"customer_id" gorm:"type:varchar(64);not null;index"`
	MaskedPAN  string    `json:"masked_pan"  gorm:"type:varchar(19);not null"`
	Brand      string    `json:"brand"       gorm:"type:varchar(16)"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// TableName returns the database table name for CardToken.
func (CardToken) TableName() string { return "card_tokens" }

// Ledger entry types written alongside payment state transitions.
const (
	LedgerEntryReserve = "RESERVE"
	LedgerEntryCapture = "CAPTURE"
)

// LedgerEntry is an append-only accounting record of a reservation or
// capture. Entries are written next to the state transition they describe and
// are never updated.
type LedgerEntry struct {
	ID        string          `json:"id"         gorm:"type:char(36);primaryKey"`
	PaymentID string          `json:"payment_id" gorm:"type:varchar(64);not null;index"`
	EntryType string          `json:"entry_type" gorm:"type:varchar(16);not null;check:entry_type IN ('RESERVE','CAPTURE')"`
	Amount    decimal.Decimal `json:"amount"     gorm:"type:decimal(20,4);not null"`
	Currency  string          `json:"currency"   gorm:"type:char(3);not null"`
	CreatedAt time.Time       `json:"created_at"`
}

// TableName returns the database table name for LedgerEntry.
func (LedgerEntry) TableName() string { return "ledger_entries" }
