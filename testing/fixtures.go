package testing

import (
	"fmt"
	"time"

	"github.com/amirphl/receipts-service/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TestFixtures writes rows directly, bypassing sequence allocation
type TestFixtures struct {
	DB *gorm.DB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *gorm.DB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// NewReceipt builds an unsaved receipt for customer with the given id, amount and date
func NewReceipt(id int64, customerID string, amount string, date time.Time) *models.Receipt {
	return &models.Receipt{
		ID:              id,
		UUID:            uuid.New(),
		Customer:        models.NamedRef{ID: customerID, Name: "Customer " + customerID},
		Amount:          decimal.RequireFromString(amount),
		AmountInLetters: fmt.Sprintf("%s dollars", amount),
		Date:            date.UTC(),
		Branch:          models.NamedRef{ID: "b-1", Name: "Main Branch"},
		ReceivedBy:      models.NamedRef{ID: "u-1", Name: "Cashier"},
		PaymentType:     models.NamedRef{ID: "pt-1", Name: "Cash"},
		PaymentReason:   models.NamedRef{ID: "pr-1", Name: "Monthly fee"},
		CreatedBy:       models.NamedRef{ID: "m-1", Name: "Manager"},
	}
}

// CreateReceipt inserts r as-is
func (tf *TestFixtures) CreateReceipt(r *models.Receipt) (*models.Receipt, error) {
	if err := tf.DB.Create(r).Error; err != nil {
		return nil, fmt.Errorf("failed to create receipt %d: %w", r.ID, err)
	}
	return r, nil
}

// SetCounter forces a counter to value, creating it when absent
func (tf *TestFixtures) SetCounter(name string, value int64) error {
	counter := models.SequenceCounter{Name: name, LastValue: value}
	return tf.DB.Save(&counter).Error
}
