package handlers

import (
	businessflow "github.com/amirphl/receipts-service/business_flow"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

// SequenceHandler serves read-only counter state to administrators
type SequenceHandler struct {
	flow   businessflow.SequenceFlow
	logger *zap.Logger
}

func NewSequenceHandler(flow businessflow.SequenceFlow, logger *zap.Logger) *SequenceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SequenceHandler{flow: flow, logger: logger.Named("sequence_handler")}
}

// Current Sequence Value
// @Description Read the last value handed out by a counter without allocating
// @Tags Admin Sequences
// @Produce json
// @Security BearerAuth
// @Param name path string true "Counter name, e.g. Receipt"
// @Success 200 {object} dto.APIResponse{data=dto.SequenceDTO}
// @Failure 404 {object} dto.APIResponse
// @Failure 503 {object} dto.APIResponse
// @Router /api/v1/admin/sequences/{name} [get]
func (h *SequenceHandler) Current(c fiber.Ctx) error {
	ctx, cancel := createRequestContext(c, "/api/v1/admin/sequences/:name")
	defer cancel()

	result, err := h.flow.Current(ctx, c.Params("name"))
	if err != nil {
		be, ok := businessflow.AsBusinessError(err)
		if !ok {
			h.logger.Error("sequence read failed", zap.Error(err))
			return errorResponse(c, fiber.StatusInternalServerError, "Failed to read sequence", "SEQUENCE_READ_FAILED", nil)
		}
		status, known := statusForCode[be.Code]
		if !known {
			status = fiber.StatusInternalServerError
		}
		if status >= fiber.StatusInternalServerError {
			h.logger.Error(be.Message, zap.String("code", be.Code), zap.Error(err))
		}
		return errorResponse(c, status, be.Message, be.Code, nil)
	}
	return successResponse(c, fiber.StatusOK, "Sequence retrieved successfully", result)
}
