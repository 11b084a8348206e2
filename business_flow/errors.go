// Package businessflow contains the core business logic and use cases of the receipts service
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Receipt-related errors
	ErrReceiptNotFound       = errors.New("receipt not found")
	ErrReceiptUpdateRequired = errors.New("at least one field must be provided for update")
	ErrAmountNegative        = errors.New("amount must not be negative")

	// Customer-related errors
	ErrCustomerNotFound           = errors.New("customer not found")
	ErrCustomerServiceUnavailable = errors.New("customer service unavailable")

	// Query errors
	ErrSearchCriteriaRequired = errors.New("either name or id is required")
	ErrUnsupportedDashboard   = errors.New("unsupported dashboard reference")

	// Sequence errors
	ErrSequenceNotFound = errors.New("sequence not found")
)

// Error codes returned to API clients
const (
	CodeInvalidAmount               = "INVALID_AMOUNT"
	CodeReceiptNotFound             = "RECEIPT_NOT_FOUND"
	CodeReceiptUpdateRequired       = "RECEIPT_UPDATE_REQUIRED"
	CodeReceiptCreateFailed         = "RECEIPT_CREATE_FAILED"
	CodeReceiptUpdateFailed         = "RECEIPT_UPDATE_FAILED"
	CodeReceiptDeleteFailed         = "RECEIPT_DELETE_FAILED"
	CodeListReceiptsFailed          = "LIST_RECEIPTS_FAILED"
	CodeExportFailed                = "EXPORT_FAILED"
	CodeDashboardFailed             = "DASHBOARD_FAILED"
	CodeInvalidDashboardRef         = "INVALID_DASHBOARD_REF"
	CodeSearchCriteriaRequired      = "SEARCH_CRITERIA_REQUIRED"
	CodeCustomerNotFound            = "CUSTOMER_NOT_FOUND"
	CodeCustomerServiceUnavailable  = "CUSTOMER_SERVICE_UNAVAILABLE"
	CodeSequenceUnavailable         = "SEQUENCE_UNAVAILABLE"
	CodeSequenceConstraintViolation = "SEQUENCE_CONSTRAINT_VIOLATION"
	CodeSequenceNotFound            = "SEQUENCE_NOT_FOUND"
	CodeInvalidSequenceName         = "INVALID_SEQUENCE_NAME"
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

// AsBusinessError returns the first BusinessError in err's chain.
func AsBusinessError(err error) (*BusinessError, bool) {
	var be *BusinessError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

func IsReceiptNotFound(err error) bool {
	return errors.Is(err, ErrReceiptNotFound)
}

func IsCustomerNotFound(err error) bool {
	return errors.Is(err, ErrCustomerNotFound)
}

func IsCustomerServiceUnavailable(err error) bool {
	return errors.Is(err, ErrCustomerServiceUnavailable)
}

func IsSequenceNotFound(err error) bool {
	return errors.Is(err, ErrSequenceNotFound)
}
