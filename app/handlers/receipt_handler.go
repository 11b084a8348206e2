package handlers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/receipts-service/app/dto"
	businessflow "github.com/amirphl/receipts-service/business_flow"
	"github.com/amirphl/receipts-service/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ReceiptHandlerInterface defines the contract for receipt handlers
type ReceiptHandlerInterface interface {
	Create(c fiber.Ctx) error
	List(c fiber.Ctx) error
	Search(c fiber.Ctx) error
	Get(c fiber.Ctx) error
	Dashboard(c fiber.Ctx) error
	Update(c fiber.Ctx) error
	Delete(c fiber.Ctx) error
	Export(c fiber.Ctx) error
}

// ReceiptHandler handles receipt-related HTTP requests
type ReceiptHandler struct {
	flow      businessflow.ReceiptFlow
	validator *validator.Validate
	logger    *zap.Logger
}

// NewReceiptHandler creates a new receipt handler
func NewReceiptHandler(flow businessflow.ReceiptFlow, logger *zap.Logger) *ReceiptHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReceiptHandler{
		flow:      flow,
		validator: validator.New(),
		logger:    logger.Named("receipt_handler"),
	}
}

// flowError writes the response for an error returned by the receipt flow
func (h *ReceiptHandler) flowError(c fiber.Ctx, err error, fallbackMessage, fallbackCode string) error {
	if be, ok := businessflow.AsBusinessError(err); ok {
		status, known := statusForCode[be.Code]
		if !known {
			status = fiber.StatusInternalServerError
		}
		if status >= fiber.StatusInternalServerError {
			h.logger.Error(be.Message,
				zap.String("code", be.Code),
				zap.String("path", c.Path()),
				zap.String("request_id", clientMetadata(c).RequestID),
				zap.Error(err),
			)
			return errorResponse(c, status, be.Message, be.Code, nil)
		}
		return errorResponse(c, status, be.Message, be.Code, be.Error())
	}

	h.logger.Error(fallbackMessage, zap.String("path", c.Path()), zap.Error(err))
	return errorResponse(c, fiber.StatusInternalServerError, fallbackMessage, fallbackCode, nil)
}

func (h *ReceiptHandler) checkKeys(c fiber.Ctx) error {
	bad, err := disallowedKeys(c.Body(), dto.ReceiptBodyKeys)
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if len(bad) > 0 {
		return errorResponse(c, fiber.StatusBadRequest, "Request body contains keys that are not allowed", "INVALID_KEYS", bad)
	}
	return nil
}

func parseReceiptID(c fiber.Ctx) (int64, bool) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func parsePage(c fiber.Ctx) (dto.PageRequest, error) {
	var page dto.PageRequest
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return page, err
		}
		page.Limit = n
	}
	if v := c.Query("skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return page, err
		}
		page.Skip = n
	}
	return page, nil
}

// customerIDs collects repeated and comma separated customerId query values
func customerIDs(c fiber.Ctx) []string {
	raw := c.RequestCtx().QueryArgs().PeekMulti("customerId")
	values := make([]string, 0, len(raw))
	for _, v := range raw {
		values = append(values, string(v))
	}
	return utils.SplitCSV(values...)
}

// listQuery reads the customerId, branchId, dateFrom and dateTo filters shared by list and export.
// A date-only dateTo covers that whole day.
func listQuery(c fiber.Ctx) (dto.ListReceiptsRequest, error) {
	req := dto.ListReceiptsRequest{CustomerIDs: customerIDs(c)}
	if v := strings.TrimSpace(c.Query("branchId")); v != "" {
		req.BranchID = &v
	}

	from, _, err := parseDateQuery(c.Query("dateFrom"))
	if err != nil {
		return req, fmt.Errorf("dateFrom: %w", err)
	}
	to, dateOnly, err := parseDateQuery(c.Query("dateTo"))
	if err != nil {
		return req, fmt.Errorf("dateTo: %w", err)
	}
	if to != nil && dateOnly {
		end := to.AddDate(0, 0, 1)
		to = &end
	}
	if from != nil && to != nil && !from.Before(*to) {
		return req, errors.New("dateFrom must be before dateTo")
	}
	req.DateFrom, req.DateTo = from, to
	return req, nil
}

// parseDateQuery accepts RFC 3339 timestamps or YYYY-MM-DD dates, read as UTC midnight
func parseDateQuery(v string) (*time.Time, bool, error) {
	if v == "" {
		return nil, false, nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return &t, true, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, false, fmt.Errorf("invalid date %q, expected YYYY-MM-DD or RFC 3339", v)
	}
	t = t.UTC()
	return &t, false, nil
}

// Create Receipt
// @Description Create a receipt. Its id is taken from the "Receipt" sequence and the customer name is resolved from the customers service.
// @Tags Receipts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.CreateReceiptRequest true "Receipt"
// @Success 201 {object} dto.APIResponse{data=dto.ReceiptDTO} "Receipt created successfully"
// @Failure 400 {object} dto.APIResponse "Validation error or disallowed keys"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Failure 404 {object} dto.APIResponse "Customer not found"
// @Failure 502 {object} dto.APIResponse "Customer service unavailable"
// @Failure 503 {object} dto.APIResponse "Receipt number allocation unavailable"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/receipts [post]
func (h *ReceiptHandler) Create(c fiber.Ctx) error {
	actor, ok := actorFromLocals(c)
	if !ok {
		return errorResponse(c, fiber.StatusUnauthorized, "Manager ID not found in context", "MISSING_MANAGER_ID", nil)
	}

	if err := h.checkKeys(c); err != nil {
		return err
	}

	var req dto.CreateReceiptRequest
	if err := c.Bind().JSON(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := createRequestContext(c, "/api/v1/receipts")
	defer cancel()

	result, err := h.flow.CreateReceipt(ctx, &req, actor, clientMetadata(c))
	if err != nil {
		return h.flowError(c, err, "Failed to create receipt", businessflow.CodeReceiptCreateFailed)
	}

	return successResponse(c, fiber.StatusCreated, "Receipt created successfully", result)
}

// List Receipts
// @Description List receipts newest first, optionally filtered by one or more customer ids
// @Tags Receipts
// @Produce json
// @Security BearerAuth
// @Param limit query integer false "Page size (default 20, max 100)"
// @Param skip query integer false "Rows to skip"
// @Param customerId query []string false "Customer ids, repeated or comma separated" collectionFormat(multi)
// @Param branchId query string false "Branch id"
// @Param dateFrom query string false "Earliest receipt date, YYYY-MM-DD or RFC 3339, inclusive"
// @Param dateTo query string false "Latest receipt date, YYYY-MM-DD (whole day) or RFC 3339 (exclusive)"
// @Success 200 {object} dto.APIResponse{data=dto.ListReceiptsResponse} "Receipts retrieved successfully"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/receipts [get]
func (h *ReceiptHandler) List(c fiber.Ctx) error {
	page, err := parsePage(c)
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "limit and skip must be integers", "VALIDATION_ERROR", err.Error())
	}
	if err := h.validator.Struct(&page); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}
	req, err := listQuery(c)
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid filter", "VALIDATION_ERROR", err.Error())
	}
	req.PageRequest = page

	ctx, cancel := createRequestContext(c, "/api/v1/receipts")
	defer cancel()

	result, err := h.flow.ListReceipts(ctx, &req)
	if err != nil {
		return h.flowError(c, err, "Failed to list receipts", businessflow.CodeListReceiptsFailed)
	}
	return successResponse(c, fiber.StatusOK, "Receipts retrieved successfully", result)
}

// Search Receipts
// @Description Search receipts by customer name (resolved by the customers service) or by receipt id
// @Tags Receipts
// @Produce json
// @Security BearerAuth
// @Param name query string false "Customer name"
// @Param id query integer false "Receipt id"
// @Param limit query integer false "Page size (default 20, max 100)"
// @Param skip query integer false "Rows to skip"
// @Success 200 {object} dto.APIResponse{data=dto.ListReceiptsResponse} "Receipts retrieved successfully"
// @Failure 400 {object} dto.APIResponse "Neither name nor id given"
// @Failure 502 {object} dto.APIResponse "Customer service unavailable"
// @Router /api/v1/receipts/search [get]
func (h *ReceiptHandler) Search(c fiber.Ctx) error {
	actor, _ := actorFromLocals(c)

	page, err := parsePage(c)
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "limit and skip must be integers", "VALIDATION_ERROR", err.Error())
	}
	if err := h.validator.Struct(&page); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	req := dto.SearchReceiptsRequest{PageRequest: page, Name: c.Query("name")}
	if v := c.Query("id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errorResponse(c, fiber.StatusBadRequest, "id must be an integer", "VALIDATION_ERROR", err.Error())
		}
		req.ID = &id
	}

	ctx, cancel := createRequestContext(c, "/api/v1/receipts/search")
	defer cancel()

	result, err := h.flow.SearchReceipts(ctx, &req, actor)
	if err != nil {
		return h.flowError(c, err, "Failed to search receipts", businessflow.CodeListReceiptsFailed)
	}
	return successResponse(c, fiber.StatusOK, "Receipts retrieved successfully", result)
}

// Get Receipt
// @Tags Receipts
// @Produce json
// @Security BearerAuth
// @Param id path integer true "Receipt id"
// @Success 200 {object} dto.APIResponse{data=dto.ReceiptDTO}
// @Failure 400 {object} dto.APIResponse
// @Failure 404 {object} dto.APIResponse
// @Router /api/v1/receipts/{id} [get]
func (h *ReceiptHandler) Get(c fiber.Ctx) error {
	id, ok := parseReceiptID(c)
	if !ok {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid receipt id", "INVALID_RECEIPT_ID", nil)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/receipts/:id")
	defer cancel()

	result, err := h.flow.GetReceipt(ctx, id)
	if err != nil {
		return h.flowError(c, err, "Failed to load receipt", businessflow.CodeListReceiptsFailed)
	}
	return successResponse(c, fiber.StatusOK, "Receipt retrieved successfully", result)
}

// Dashboard
// @Description Aggregate receipts. ref=date sums the last 30 days per day; other refs count receipts per referenced name.
// @Tags Receipts
// @Produce json
// @Security BearerAuth
// @Param ref query string true "date, customer, branch, receivedBy, paymentType, paymentReason or createdBy"
// @Success 200 {object} dto.APIResponse{data=dto.DashboardResponse}
// @Failure 400 {object} dto.APIResponse
// @Router /api/v1/receipts/dashboard [get]
func (h *ReceiptHandler) Dashboard(c fiber.Ctx) error {
	req := dto.DashboardRequest{Ref: c.Query("ref")}
	if err := h.validator.Struct(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := createRequestContext(c, "/api/v1/receipts/dashboard")
	defer cancel()

	result, err := h.flow.Dashboard(ctx, &req)
	if err != nil {
		return h.flowError(c, err, "Failed to build dashboard", businessflow.CodeDashboardFailed)
	}
	return successResponse(c, fiber.StatusOK, "Dashboard retrieved successfully", result)
}

// Update Receipt
// @Description Partially update a receipt. The id never changes and no sequence value is allocated.
// @Tags Receipts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path integer true "Receipt id"
// @Param request body dto.UpdateReceiptRequest true "Fields to change"
// @Success 200 {object} dto.APIResponse{data=dto.ReceiptDTO}
// @Failure 400 {object} dto.APIResponse
// @Failure 404 {object} dto.APIResponse
// @Router /api/v1/receipts/{id} [patch]
func (h *ReceiptHandler) Update(c fiber.Ctx) error {
	actor, ok := actorFromLocals(c)
	if !ok {
		return errorResponse(c, fiber.StatusUnauthorized, "Manager ID not found in context", "MISSING_MANAGER_ID", nil)
	}
	id, ok := parseReceiptID(c)
	if !ok {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid receipt id", "INVALID_RECEIPT_ID", nil)
	}

	if err := h.checkKeys(c); err != nil {
		return err
	}

	var req dto.UpdateReceiptRequest
	if err := c.Bind().JSON(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := createRequestContext(c, "/api/v1/receipts/:id")
	defer cancel()

	result, err := h.flow.UpdateReceipt(ctx, id, &req, actor, clientMetadata(c))
	if err != nil {
		return h.flowError(c, err, "Failed to update receipt", businessflow.CodeReceiptUpdateFailed)
	}
	return successResponse(c, fiber.StatusOK, "Receipt updated successfully", result)
}

// Delete Receipt
// @Tags Receipts
// @Produce json
// @Security BearerAuth
// @Param id path integer true "Receipt id"
// @Success 200 {object} dto.APIResponse
// @Failure 404 {object} dto.APIResponse
// @Router /api/v1/receipts/{id} [delete]
func (h *ReceiptHandler) Delete(c fiber.Ctx) error {
	id, ok := parseReceiptID(c)
	if !ok {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid receipt id", "INVALID_RECEIPT_ID", nil)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/receipts/:id")
	defer cancel()

	if err := h.flow.DeleteReceipt(ctx, id, clientMetadata(c)); err != nil {
		return h.flowError(c, err, "Failed to delete receipt", businessflow.CodeReceiptDeleteFailed)
	}
	return successResponse(c, fiber.StatusOK, "Receipt deleted successfully", fiber.Map{"id": id})
}

// Export Receipts
// @Description Download the filtered receipts as an Excel workbook
// @Tags Receipts
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security BearerAuth
// @Param customerId query []string false "Customer ids, repeated or comma separated" collectionFormat(multi)
// @Param branchId query string false "Branch id"
// @Param dateFrom query string false "Earliest receipt date, YYYY-MM-DD or RFC 3339, inclusive"
// @Param dateTo query string false "Latest receipt date, YYYY-MM-DD (whole day) or RFC 3339 (exclusive)"
// @Success 200 {file} file
// @Failure 400 {object} dto.APIResponse "Invalid filter"
// @Failure 500 {object} dto.APIResponse
// @Router /api/v1/receipts/export [get]
func (h *ReceiptHandler) Export(c fiber.Ctx) error {
	req, err := listQuery(c)
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid filter", "VALIDATION_ERROR", err.Error())
	}

	ctx, cancel := createRequestContext(c, "/api/v1/receipts/export")
	defer cancel()

	filename, data, err := h.flow.ExportReceipts(ctx, &req)
	if err != nil {
		return h.flowError(c, err, "Failed to export receipts", businessflow.CodeExportFailed)
	}

	c.Set(fiber.HeaderContentType, xlsxContentType)
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return c.Status(fiber.StatusOK).Send(data)
}
