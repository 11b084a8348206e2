// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"

	"github.com/amirphl/receipts-service/app/dto"
	"github.com/amirphl/receipts-service/app/middleware"
	businessflow "github.com/amirphl/receipts-service/business_flow"
	"github.com/amirphl/receipts-service/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/requestid"
)

func getValidationErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return err.Field() + " is required"
	case "min":
		return err.Field() + " must be at least " + err.Param()
	case "max":
		return err.Field() + " must be at most " + err.Param()
	case "oneof":
		return err.Field() + " must be one of: " + err.Param()
	case "numeric":
		return err.Field() + " must contain only numbers"
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", err.Field(), err.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", err.Field(), err.Param())
	default:
		return err.Field() + " is invalid"
	}
}

func validationMessages(err error) []string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{err.Error()}
	}
	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		messages = append(messages, getValidationErrorMessage(fe))
	}
	return messages
}

// disallowedKeys returns the top-level JSON keys of body that are not in allowed, sorted.
// A body that is not a JSON object yields an error.
func disallowedKeys(body []byte, allowed []string) ([]string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, fmt.Errorf("request body must be a JSON object")
	}
	var bad []string
	for key := range fields {
		if !slices.Contains(allowed, key) {
			bad = append(bad, key)
		}
	}
	sort.Strings(bad)
	return bad, nil
}

// createRequestContext builds the context handed to flows. The caller must call cancel.
func createRequestContext(c fiber.Ctx, endpoint string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), utils.DefaultRequestTimeout)
	ctx = context.WithValue(ctx, utils.RequestIDKey, requestid.FromContext(c))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.TimeoutKey, utils.DefaultRequestTimeout)
	if auth, ok := c.Locals(middleware.LocalAuthHeader).(string); ok {
		ctx = context.WithValue(ctx, utils.AuthHeaderKey, auth)
	}
	return ctx, cancel
}

func clientMetadata(c fiber.Ctx) *businessflow.ClientMetadata {
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	metadata.SetRequestID(requestid.FromContext(c))
	return metadata
}

// actorFromLocals reads the manager placed in locals by the auth middleware
func actorFromLocals(c fiber.Ctx) (businessflow.Actor, bool) {
	managerID, ok := c.Locals(middleware.LocalManagerID).(string)
	if !ok || managerID == "" {
		return businessflow.Actor{}, false
	}
	managerName, _ := c.Locals(middleware.LocalManagerName).(string)
	authHeader, _ := c.Locals(middleware.LocalAuthHeader).(string)
	return businessflow.Actor{ManagerID: managerID, ManagerName: managerName, AuthHeader: authHeader}, true
}

func errorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func successResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// statusForCode maps business error codes to HTTP statuses; unknown codes are 500
var statusForCode = map[string]int{
	businessflow.CodeInvalidAmount:               fiber.StatusBadRequest,
	businessflow.CodeReceiptUpdateRequired:       fiber.StatusBadRequest,
	businessflow.CodeInvalidDashboardRef:         fiber.StatusBadRequest,
	businessflow.CodeSearchCriteriaRequired:      fiber.StatusBadRequest,
	businessflow.CodeInvalidSequenceName:         fiber.StatusBadRequest,
	businessflow.CodeReceiptNotFound:             fiber.StatusNotFound,
	businessflow.CodeCustomerNotFound:            fiber.StatusNotFound,
	businessflow.CodeSequenceNotFound:            fiber.StatusNotFound,
	businessflow.CodeCustomerServiceUnavailable:  fiber.StatusBadGateway,
	businessflow.CodeSequenceUnavailable:         fiber.StatusServiceUnavailable,
	businessflow.CodeSequenceConstraintViolation: fiber.StatusInternalServerError,
}
