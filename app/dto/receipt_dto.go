package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReceiptBodyKeys are the only keys accepted in create and update bodies
var ReceiptBodyKeys = []string{
	"customer",
	"amount",
	"amountInLetters",
	"date",
	"branch",
	"receivedBy",
	"paymentType",
	"paymentReason",
	"details",
}

// NamedRefDTO references a record owned by another service
type NamedRefDTO struct {
	ID   string `json:"id" validate:"required,max=64"`
	Name string `json:"name" validate:"max=255"`
}

// CustomerRefRequest selects a customer; the name is resolved server side
type CustomerRefRequest struct {
	ID string `json:"id" validate:"required,max=64"`
}

// CreateReceiptRequest is the body of POST /api/v1/receipts
type CreateReceiptRequest struct {
	Customer        CustomerRefRequest `json:"customer" validate:"required"`
	Amount          *decimal.Decimal   `json:"amount" validate:"required"`
	AmountInLetters string             `json:"amountInLetters" validate:"required,max=512"`
	Date            *time.Time         `json:"date"`
	Branch          *NamedRefDTO       `json:"branch" validate:"omitempty"`
	ReceivedBy      NamedRefDTO        `json:"receivedBy" validate:"required"`
	PaymentType     NamedRefDTO        `json:"paymentType" validate:"required"`
	PaymentReason   NamedRefDTO        `json:"paymentReason" validate:"required"`
	Details         *string            `json:"details" validate:"omitempty,max=4096"`
}

// UpdateReceiptRequest is the body of PATCH /api/v1/receipts/:id; absent fields are left unchanged
type UpdateReceiptRequest struct {
	Customer        *CustomerRefRequest `json:"customer" validate:"omitempty"`
	Amount          *decimal.Decimal    `json:"amount"`
	AmountInLetters *string             `json:"amountInLetters" validate:"omitempty,min=1,max=512"`
	Date            *time.Time          `json:"date"`
	Branch          *NamedRefDTO        `json:"branch" validate:"omitempty"`
	ReceivedBy      *NamedRefDTO        `json:"receivedBy" validate:"omitempty"`
	PaymentType     *NamedRefDTO        `json:"paymentType" validate:"omitempty"`
	PaymentReason   *NamedRefDTO        `json:"paymentReason" validate:"omitempty"`
	Details         *string             `json:"details" validate:"omitempty,max=4096"`
}

// IsEmpty reports whether the update carries no field
func (r *UpdateReceiptRequest) IsEmpty() bool {
	return r.Customer == nil && r.Amount == nil && r.AmountInLetters == nil && r.Date == nil &&
		r.Branch == nil && r.ReceivedBy == nil && r.PaymentType == nil && r.PaymentReason == nil &&
		r.Details == nil
}

// ReceiptDTO is a receipt as returned by the API
type ReceiptDTO struct {
	ID              int64           `json:"id"`
	UUID            string          `json:"uuid"`
	Customer        NamedRefDTO     `json:"customer"`
	Amount          decimal.Decimal `json:"amount"`
	AmountInLetters string          `json:"amountInLetters"`
	Date            string          `json:"date"`
	Branch          *NamedRefDTO    `json:"branch,omitempty"`
	ReceivedBy      NamedRefDTO     `json:"receivedBy"`
	PaymentType     NamedRefDTO     `json:"paymentType"`
	PaymentReason   NamedRefDTO     `json:"paymentReason"`
	Details         *string         `json:"details,omitempty"`
	CreatedBy       NamedRefDTO     `json:"createdBy"`
	CreatedAt       string          `json:"createdAt"`
	UpdatedAt       string          `json:"updatedAt"`
}

// ListReceiptsRequest filters GET /api/v1/receipts
type ListReceiptsRequest struct {
	PageRequest
	CustomerIDs []string
	BranchID    *string
	DateFrom    *time.Time // inclusive
	DateTo      *time.Time // exclusive
}

// ListReceiptsResponse is a page of receipts with the total matching count
type ListReceiptsResponse struct {
	Data  []ReceiptDTO `json:"data"`
	Count int64        `json:"count"`
}

// SearchReceiptsRequest searches by customer name or receipt id; exactly one is expected
type SearchReceiptsRequest struct {
	PageRequest
	Name string
	ID   *int64
}

// DashboardRequest selects the dashboard grouping
type DashboardRequest struct {
	Ref string `query:"ref" validate:"required"`
}

// DashboardDayDTO is one day of the date dashboard
type DashboardDayDTO struct {
	Day         string          `json:"day"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Count       int64           `json:"count"`
}

// DashboardGroupDTO is one referenced name and how many receipts carry it
type DashboardGroupDTO struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// DashboardResponse carries Days for ref=date and Groups otherwise
type DashboardResponse struct {
	Ref    string              `json:"ref"`
	Days   []DashboardDayDTO   `json:"days,omitempty"`
	Groups []DashboardGroupDTO `json:"groups,omitempty"`
}

// SequenceDTO is the state of one counter
type SequenceDTO struct {
	Name      string `json:"name"`
	LastValue int64  `json:"lastValue"`
}
