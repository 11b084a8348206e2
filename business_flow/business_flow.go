package businessflow

import (
	"time"

	"github.com/amirphl/receipts-service/app/dto"
	"github.com/amirphl/receipts-service/models"
)

const RequestIDKey = "X-Request-ID"

// ClientMetadata holds client information attached to log lines of a request
type ClientMetadata struct {
	IPAddress  string            `json:"ip_address"`
	UserAgent  string            `json:"user_agent"`
	RequestID  string            `json:"request_id,omitempty"`
	Additional map[string]string `json:"additional,omitempty"`
}

// NewClientMetadata creates a new ClientMetadata instance with basic information
func NewClientMetadata(ipAddress, userAgent string) *ClientMetadata {
	return &ClientMetadata{
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		Additional: make(map[string]string),
	}
}

// AddAdditional adds additional custom information to the metadata
func (cm *ClientMetadata) AddAdditional(key, value string) {
	if cm.Additional == nil {
		cm.Additional = make(map[string]string)
	}
	cm.Additional[key] = value
}

// SetRequestID sets the request ID
func (cm *ClientMetadata) SetRequestID(requestID string) {
	cm.RequestID = requestID
}

// Actor is the authenticated manager performing a request.
// AuthHeader is forwarded to the customers service.
type Actor struct {
	ManagerID   string
	ManagerName string
	AuthHeader  string
}

func toNamedRefDTO(ref models.NamedRef) dto.NamedRefDTO {
	return dto.NamedRefDTO{ID: ref.ID, Name: ref.Name}
}

func fromNamedRefDTO(ref dto.NamedRefDTO) models.NamedRef {
	return models.NamedRef{ID: ref.ID, Name: ref.Name}
}

// ToReceiptDTO converts a receipt model to its API representation
func ToReceiptDTO(r *models.Receipt) dto.ReceiptDTO {
	out := dto.ReceiptDTO{
		ID:              r.ID,
		UUID:            r.UUID.String(),
		Customer:        toNamedRefDTO(r.Customer),
		Amount:          r.Amount,
		AmountInLetters: r.AmountInLetters,
		Date:            r.Date.UTC().Format(time.RFC3339),
		ReceivedBy:      toNamedRefDTO(r.ReceivedBy),
		PaymentType:     toNamedRefDTO(r.PaymentType),
		PaymentReason:   toNamedRefDTO(r.PaymentReason),
		Details:         r.Details,
		CreatedBy:       toNamedRefDTO(r.CreatedBy),
		CreatedAt:       r.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       r.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if r.Branch.ID != "" {
		branch := toNamedRefDTO(r.Branch)
		out.Branch = &branch
	}
	return out
}

// ToReceiptDTOs converts a slice of receipt models
func ToReceiptDTOs(receipts []*models.Receipt) []dto.ReceiptDTO {
	out := make([]dto.ReceiptDTO, 0, len(receipts))
	for _, r := range receipts {
		out = append(out, ToReceiptDTO(r))
	}
	return out
}
