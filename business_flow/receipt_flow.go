package businessflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/amirphl/receipts-service/app/dto"
	"github.com/amirphl/receipts-service/app/services"
	"github.com/amirphl/receipts-service/models"
	"github.com/amirphl/receipts-service/repository"
	"github.com/amirphl/receipts-service/sequence"
	"github.com/amirphl/receipts-service/utils"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DashboardRefDate selects the per-day dashboard
const DashboardRefDate = "date"

const (
	exportSheetName = "Receipts"
	exportRowLimit  = 10000
)

// ReceiptFlow defines the receipt use cases
type ReceiptFlow interface {
	CreateReceipt(ctx context.Context, req *dto.CreateReceiptRequest, actor Actor, metadata *ClientMetadata) (*dto.ReceiptDTO, error)
	ListReceipts(ctx context.Context, req *dto.ListReceiptsRequest) (*dto.ListReceiptsResponse, error)
	SearchReceipts(ctx context.Context, req *dto.SearchReceiptsRequest, actor Actor) (*dto.ListReceiptsResponse, error)
	GetReceipt(ctx context.Context, id int64) (*dto.ReceiptDTO, error)
	Dashboard(ctx context.Context, req *dto.DashboardRequest) (*dto.DashboardResponse, error)
	UpdateReceipt(ctx context.Context, id int64, req *dto.UpdateReceiptRequest, actor Actor, metadata *ClientMetadata) (*dto.ReceiptDTO, error)
	DeleteReceipt(ctx context.Context, id int64, metadata *ClientMetadata) error
	ExportReceipts(ctx context.Context, req *dto.ListReceiptsRequest) (string, []byte, error)
}

// ReceiptFlowImpl implements ReceiptFlow
type ReceiptFlowImpl struct {
	receiptRepo repository.ReceiptRepository
	customers   services.CustomerService
	assigner    *sequence.Assigner
	logger      *zap.Logger
}

func NewReceiptFlow(receiptRepo repository.ReceiptRepository, customers services.CustomerService, assigner *sequence.Assigner, logger *zap.Logger) ReceiptFlow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReceiptFlowImpl{
		receiptRepo: receiptRepo,
		customers:   customers,
		assigner:    assigner,
		logger:      logger.Named("receipt_flow"),
	}
}

func (f *ReceiptFlowImpl) CreateReceipt(ctx context.Context, req *dto.CreateReceiptRequest, actor Actor, metadata *ClientMetadata) (*dto.ReceiptDTO, error) {
	if req.Amount == nil || req.Amount.IsNegative() {
		return nil, NewBusinessError(CodeInvalidAmount, "Amount must be zero or positive", ErrAmountNegative)
	}

	customer, err := f.resolveCustomer(ctx, req.Customer.ID, actor)
	if err != nil {
		return nil, err
	}

	date := utils.UTCNow()
	if req.Date != nil {
		date = req.Date.UTC()
	}

	receipt := models.Receipt{
		UUID:            uuid.New(),
		Customer:        models.NamedRef{ID: req.Customer.ID, Name: customer.FullName()},
		Amount:          *req.Amount,
		AmountInLetters: req.AmountInLetters,
		Date:            date,
		ReceivedBy:      fromNamedRefDTO(req.ReceivedBy),
		PaymentType:     fromNamedRefDTO(req.PaymentType),
		PaymentReason:   fromNamedRefDTO(req.PaymentReason),
		Details:         req.Details,
		CreatedBy:       models.NamedRef{ID: actor.ManagerID, Name: actor.ManagerName},
	}
	if req.Branch != nil {
		receipt.Branch = fromNamedRefDTO(*req.Branch)
	}

	if err := f.persist(ctx, &receipt, true); err != nil {
		return nil, err
	}

	f.logger.Info("receipt created",
		zap.Int64("id", receipt.ID),
		zap.String("customer_id", receipt.Customer.ID),
		zap.String("manager_id", actor.ManagerID),
		zap.String("request_id", requestIDOf(ctx, metadata)),
	)

	out := ToReceiptDTO(&receipt)
	return &out, nil
}

// persist writes r, first assigning its id from the receipt sequence when isNew.
func (f *ReceiptFlowImpl) persist(ctx context.Context, r *models.Receipt, isNew bool) error {
	if _, err := f.assigner.Assign(ctx, r, isNew); err != nil {
		switch {
		case sequence.IsConstraintViolation(err):
			return NewBusinessError(CodeSequenceConstraintViolation, "Receipt number allocation is inconsistent", err)
		case errors.Is(err, sequence.ErrInvalidName):
			return NewBusinessError(CodeReceiptCreateFailed, "Receipt sequence name is invalid", err)
		default:
			return NewBusinessError(CodeSequenceUnavailable, "Receipt number allocation is unavailable", err)
		}
	}

	if err := f.receiptRepo.Save(ctx, r); err != nil {
		if isNew {
			err = f.assigner.Orphaned(ctx, r.SequenceName(), r.ID, err)
		}
		return NewBusinessError(CodeReceiptCreateFailed, "Failed to create receipt", err)
	}
	return nil
}

func (f *ReceiptFlowImpl) resolveCustomer(ctx context.Context, id string, actor Actor) (*services.Customer, error) {
	customer, err := f.customers.ByID(ctx, id, actor.AuthHeader)
	switch {
	case err == nil:
		return customer, nil
	case errors.Is(err, services.ErrCustomerNotFound):
		return nil, NewBusinessErrorf(CodeCustomerNotFound, "Customer %s not found", ErrCustomerNotFound, id)
	default:
		return nil, NewBusinessError(CodeCustomerServiceUnavailable, "Customer service is unavailable", errors.Join(ErrCustomerServiceUnavailable, err))
	}
}

func listFilter(req *dto.ListReceiptsRequest) models.ReceiptFilter {
	return models.ReceiptFilter{
		CustomerIDs: req.CustomerIDs,
		BranchID:    req.BranchID,
		DateFrom:    utils.TimeToUTCPtr(req.DateFrom),
		DateTo:      utils.TimeToUTCPtr(req.DateTo),
	}
}

func (f *ReceiptFlowImpl) ListReceipts(ctx context.Context, req *dto.ListReceiptsRequest) (*dto.ListReceiptsResponse, error) {
	return f.page(ctx, listFilter(req), req.PageRequest)
}

func (f *ReceiptFlowImpl) SearchReceipts(ctx context.Context, req *dto.SearchReceiptsRequest, actor Actor) (*dto.ListReceiptsResponse, error) {
	switch {
	case req.ID != nil:
		receipt, err := f.receiptRepo.ByID(ctx, *req.ID)
		if err != nil {
			return nil, NewBusinessError(CodeListReceiptsFailed, "Failed to search receipts", err)
		}
		if receipt == nil {
			return &dto.ListReceiptsResponse{Data: []dto.ReceiptDTO{}, Count: 0}, nil
		}
		return &dto.ListReceiptsResponse{Data: []dto.ReceiptDTO{ToReceiptDTO(receipt)}, Count: 1}, nil

	case req.Name != "":
		ids, err := f.customers.SearchByName(ctx, req.Name, actor.AuthHeader)
		if err != nil {
			return nil, NewBusinessError(CodeCustomerServiceUnavailable, "Customer service is unavailable", errors.Join(ErrCustomerServiceUnavailable, err))
		}
		if len(ids) == 0 {
			return &dto.ListReceiptsResponse{Data: []dto.ReceiptDTO{}, Count: 0}, nil
		}
		return f.page(ctx, models.ReceiptFilter{CustomerIDs: ids}, req.PageRequest)

	default:
		return nil, NewBusinessError(CodeSearchCriteriaRequired, "Either name or id is required", ErrSearchCriteriaRequired)
	}
}

// page loads one page of receipts and the total count concurrently.
func (f *ReceiptFlowImpl) page(ctx context.Context, filter models.ReceiptFilter, p dto.PageRequest) (*dto.ListReceiptsResponse, error) {
	limit := normalizeLimit(p.Limit)
	skip := max(p.Skip, 0)

	var (
		receipts []*models.Receipt
		count    int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		receipts, err = f.receiptRepo.ByFilter(gctx, filter, "", limit, skip)
		return err
	})
	g.Go(func() error {
		var err error
		count, err = f.receiptRepo.Count(gctx, filter)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, NewBusinessError(CodeListReceiptsFailed, "Failed to list receipts", err)
	}

	return &dto.ListReceiptsResponse{Data: ToReceiptDTOs(receipts), Count: count}, nil
}

func (f *ReceiptFlowImpl) GetReceipt(ctx context.Context, id int64) (*dto.ReceiptDTO, error) {
	receipt, err := f.receiptRepo.ByID(ctx, id)
	if err != nil {
		return nil, NewBusinessError(CodeListReceiptsFailed, "Failed to load receipt", err)
	}
	if receipt == nil {
		return nil, NewBusinessError(CodeReceiptNotFound, "Receipt not exist!", ErrReceiptNotFound)
	}
	out := ToReceiptDTO(receipt)
	return &out, nil
}

func (f *ReceiptFlowImpl) Dashboard(ctx context.Context, req *dto.DashboardRequest) (*dto.DashboardResponse, error) {
	if req.Ref == DashboardRefDate {
		since := utils.StartOfDayUTC(utils.UTCNow().Add(-utils.DashboardWindow))
		rows, err := f.receiptRepo.DailyTotals(ctx, since)
		if err != nil {
			return nil, NewBusinessError(CodeDashboardFailed, "Failed to build dashboard", err)
		}
		days := make([]dto.DashboardDayDTO, 0, len(rows))
		for _, row := range rows {
			days = append(days, dto.DashboardDayDTO{Day: row.Day, TotalAmount: row.TotalAmount, Count: row.Count})
		}
		return &dto.DashboardResponse{Ref: req.Ref, Days: days}, nil
	}

	if !repository.SupportedGroupRef(req.Ref) {
		return nil, NewBusinessErrorf(CodeInvalidDashboardRef, "Unsupported dashboard reference %q", ErrUnsupportedDashboard, req.Ref)
	}
	rows, err := f.receiptRepo.CountByRef(ctx, req.Ref)
	if err != nil {
		return nil, NewBusinessError(CodeDashboardFailed, "Failed to build dashboard", err)
	}
	groups := make([]dto.DashboardGroupDTO, 0, len(rows))
	for _, row := range rows {
		groups = append(groups, dto.DashboardGroupDTO{Name: row.Name, Count: row.Count})
	}
	return &dto.DashboardResponse{Ref: req.Ref, Groups: groups}, nil
}

func (f *ReceiptFlowImpl) UpdateReceipt(ctx context.Context, id int64, req *dto.UpdateReceiptRequest, actor Actor, metadata *ClientMetadata) (*dto.ReceiptDTO, error) {
	if req.IsEmpty() {
		return nil, NewBusinessError(CodeReceiptUpdateRequired, "At least one field must be provided", ErrReceiptUpdateRequired)
	}
	if req.Amount != nil && req.Amount.IsNegative() {
		return nil, NewBusinessError(CodeInvalidAmount, "Amount must be zero or positive", ErrAmountNegative)
	}

	existing, err := f.receiptRepo.ByID(ctx, id)
	if err != nil {
		return nil, NewBusinessError(CodeReceiptUpdateFailed, "Failed to update receipt", err)
	}
	if existing == nil {
		return nil, NewBusinessError(CodeReceiptNotFound, "Receipt not exist!", ErrReceiptNotFound)
	}

	fields := map[string]any{}
	if req.Customer != nil {
		customer, err := f.resolveCustomer(ctx, req.Customer.ID, actor)
		if err != nil {
			return nil, err
		}
		fields["customer_id"] = req.Customer.ID
		fields["customer_name"] = customer.FullName()
	}
	if req.Amount != nil {
		fields["amount"] = *req.Amount
	}
	if req.AmountInLetters != nil {
		fields["amount_in_letters"] = *req.AmountInLetters
	}
	if req.Date != nil {
		fields["date"] = req.Date.UTC()
	}
	if req.Details != nil {
		fields["details"] = *req.Details
	}
	setRef := func(prefix string, ref *dto.NamedRefDTO) {
		if ref != nil {
			fields[prefix+"_id"] = ref.ID
			fields[prefix+"_name"] = ref.Name
		}
	}
	setRef("branch", req.Branch)
	setRef("received_by", req.ReceivedBy)
	setRef("payment_type", req.PaymentType)
	setRef("payment_reason", req.PaymentReason)

	updated, err := f.receiptRepo.Update(ctx, id, fields)
	if err != nil {
		return nil, NewBusinessError(CodeReceiptUpdateFailed, "Failed to update receipt", err)
	}
	if updated == nil {
		return nil, NewBusinessError(CodeReceiptNotFound, "Receipt not exist!", ErrReceiptNotFound)
	}

	f.logger.Info("receipt updated",
		zap.Int64("id", id),
		zap.Int("fields", len(fields)),
		zap.String("manager_id", actor.ManagerID),
		zap.String("request_id", requestIDOf(ctx, metadata)),
	)

	out := ToReceiptDTO(updated)
	return &out, nil
}

func (f *ReceiptFlowImpl) DeleteReceipt(ctx context.Context, id int64, metadata *ClientMetadata) error {
	deleted, err := f.receiptRepo.SoftDelete(ctx, id)
	if err != nil {
		return NewBusinessError(CodeReceiptDeleteFailed, "Failed to delete receipt", err)
	}
	if !deleted {
		return NewBusinessError(CodeReceiptNotFound, "Receipt not exist!", ErrReceiptNotFound)
	}
	f.logger.Info("receipt deleted", zap.Int64("id", id), zap.String("request_id", requestIDOf(ctx, metadata)))
	return nil
}

// ExportReceipts renders the filtered receipts, newest first, as an xlsx workbook.
func (f *ReceiptFlowImpl) ExportReceipts(ctx context.Context, req *dto.ListReceiptsRequest) (string, []byte, error) {
	filter := listFilter(req)
	receipts, err := f.receiptRepo.ByFilter(ctx, filter, "", exportRowLimit, 0)
	if err != nil {
		return "", nil, NewBusinessError(CodeExportFailed, "Failed to fetch receipts", err)
	}

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()
	if err := xl.SetSheetName(xl.GetSheetName(0), exportSheetName); err != nil {
		return "", nil, NewBusinessError(CodeExportFailed, "Failed to build Excel file", err)
	}

	if err := writeReceiptSheet(xl, exportSheetName, receipts); err != nil {
		return "", nil, NewBusinessError(CodeExportFailed, "Failed to build Excel file", err)
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, NewBusinessError(CodeExportFailed, "Failed to write Excel file", err)
	}
	filename := fmt.Sprintf("receipts_%s.xlsx", utils.UTCNow().Format("20060102_150405"))
	return filename, buf.Bytes(), nil
}

// writeReceiptSheet writes a header row and one row per receipt to sheet
func writeReceiptSheet(xl *excelize.File, sheet string, receipts []*models.Receipt) error {
	header := []string{
		"id", "uuid", "customer_id", "customer_name", "amount", "amount_in_letters", "date",
		"branch", "received_by", "payment_type", "payment_reason", "details", "created_by", "created_at",
	}
	if err := xl.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}

	for i, r := range receipts {
		details := ""
		if r.Details != nil {
			details = *r.Details
		}
		record := []string{
			strconv.FormatInt(r.ID, 10),
			r.UUID.String(),
			r.Customer.ID,
			r.Customer.Name,
			r.Amount.StringFixed(2),
			r.AmountInLetters,
			r.Date.UTC().Format(time.RFC3339),
			r.Branch.Name,
			r.ReceivedBy.Name,
			r.PaymentType.Name,
			r.PaymentReason.Name,
			details,
			r.CreatedBy.Name,
			r.CreatedAt.UTC().Format(time.RFC3339),
		}
		cellRef, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := xl.SetSheetRow(sheet, cellRef, &record); err != nil {
			return fmt.Errorf("receipt %d: %w", r.ID, err)
		}
	}
	return nil
}

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return utils.DefaultPageLimit
	case limit > utils.MaxPageLimit:
		return utils.MaxPageLimit
	default:
		return limit
	}
}

func requestIDOf(ctx context.Context, metadata *ClientMetadata) string {
	if metadata != nil && metadata.RequestID != "" {
		return metadata.RequestID
	}
	return utils.RequestID(ctx)
}
