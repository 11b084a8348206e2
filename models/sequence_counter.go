// Package models contains the persisted entities of the receipts service
package models

import "time"

// SequenceCounter holds the last value handed out for one entity type.
// Table: sequence_counters
// Rows are created lazily by the first allocation and only ever incremented.
type SequenceCounter struct {
	Name      string    `gorm:"primaryKey;size:64" json:"name"`
	LastValue int64     `gorm:"not null" json:"last_value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SequenceCounter) TableName() string {
	return "sequence_counters"
}
