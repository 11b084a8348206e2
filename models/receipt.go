package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ReceiptSequenceName is the counter key receipts draw their ids from
const ReceiptSequenceName = "Receipt"

// NamedRef is a denormalized reference to a record owned by another service
type NamedRef struct {
	ID   string `gorm:"size:64" json:"id"`
	Name string `gorm:"size:255" json:"name"`
}

// Receipt represents a payment receipt issued to a customer
// Table: receipts
// ID is allocated from the "Receipt" sequence before insert, never by the database
// Soft deleted through DeletedAt
type Receipt struct {
	ID   int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	UUID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uk_receipts_uuid" json:"uuid"`

	Customer        NamedRef        `gorm:"embedded;embeddedPrefix:customer_" json:"customer"`
	Amount          decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"amount"`
	AmountInLetters string          `gorm:"size:512;not null" json:"amount_in_letters"`
	Date            time.Time       `gorm:"not null;index:idx_receipts_date" json:"date"`
	Branch          NamedRef        `gorm:"embedded;embeddedPrefix:branch_" json:"branch"`
	ReceivedBy      NamedRef        `gorm:"embedded;embeddedPrefix:received_by_" json:"received_by"`
	PaymentType     NamedRef        `gorm:"embedded;embeddedPrefix:payment_type_" json:"payment_type"`
	PaymentReason   NamedRef        `gorm:"embedded;embeddedPrefix:payment_reason_" json:"payment_reason"`
	Details         *string         `gorm:"type:text" json:"details,omitempty"`
	CreatedBy       NamedRef        `gorm:"embedded;embeddedPrefix:created_by_" json:"created_by"`

	CreatedAt time.Time      `gorm:"index:idx_receipts_created_at" json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index:idx_receipts_deleted_at" json:"-"`
}

func (Receipt) TableName() string {
	return "receipts"
}

// SequenceName implements sequence.Entity
func (r *Receipt) SequenceName() string {
	return ReceiptSequenceName
}

// SetSequenceID implements sequence.Entity
func (r *Receipt) SetSequenceID(id int64) {
	r.ID = id
}

// ReceiptFilter represents filter criteria for receipt queries
type ReceiptFilter struct {
	CustomerIDs []string
	BranchID    *string
	DateFrom    *time.Time
	DateTo      *time.Time
}

// ReceiptDayTotal is one row of the per-day dashboard aggregation
type ReceiptDayTotal struct {
	Day         string          `json:"day"` // YYYY-MM-DD, UTC
	TotalAmount decimal.Decimal `json:"total_amount"`
	Count       int64           `json:"count"`
}

// ReceiptRefCount is one row of the group-by-reference dashboard aggregation
type ReceiptRefCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}
