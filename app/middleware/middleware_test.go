package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/amirphl/receipts-service/app/dto"
	"github.com/amirphl/receipts-service/app/services"
	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenService(t *testing.T, ttl time.Duration) services.TokenService {
	t.Helper()
	ts, err := services.NewTokenService(ttl, "receipts-service", "receipts-service-api", "test-secret-key-for-jwt-signing-32-chars")
	require.NoError(t, err)
	return ts
}

func newAuthApp(ts services.TokenService) *fiber.App {
	app := fiber.New()
	app.Get("/me", NewAuthMiddleware(ts).Authenticate(), func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"manager_id":   c.Locals(LocalManagerID),
			"manager_name": c.Locals(LocalManagerName),
			"auth_header":  c.Locals(LocalAuthHeader),
		})
	})
	return app
}

func TestAuthenticate(t *testing.T) {
	ts := newTestTokenService(t, time.Hour)
	valid, err := ts.GenerateManagerToken("m-1", "Sara")
	require.NoError(t, err)

	app := newAuthApp(ts)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+valid)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "m-1", body["manager_id"])
	assert.Equal(t, "Sara", body["manager_name"])
	assert.Equal(t, "Bearer "+valid, body["auth_header"])
}

func TestAuthenticate_Rejections(t *testing.T) {
	ts := newTestTokenService(t, time.Hour)
	app := newAuthApp(ts)

	tests := []struct {
		name   string
		header string
		code   string
	}{
		{name: "missing header", header: "", code: "MISSING_AUTHORIZATION_HEADER"},
		{name: "wrong scheme", header: "Basic abc", code: "INVALID_AUTHORIZATION_FORMAT"},
		{name: "garbage token", header: "Bearer abc.def.ghi", code: "TOKEN_INVALID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

			var body struct {
				Success bool            `json:"success"`
				Error   dto.ErrorDetail `json:"error"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.False(t, body.Success)
			assert.Equal(t, tt.code, body.Error.Code)
		})
	}
}

func TestMetrics_RecordsRouteTemplate(t *testing.T) {
	app := fiber.New()
	app.Use(Metrics())
	app.Get("/receipts/:id", func(c fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/receipts/:id", "204"))

	for _, id := range []string{"601", "602"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/receipts/"+id, nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	}

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/receipts/:id", "204"))
	assert.Equal(t, 2.0, after-before)
	assert.Zero(t, testutil.ToFloat64(httpInFlight))
}
