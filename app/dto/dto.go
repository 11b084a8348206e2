// Package dto defines the request and response shapes of the HTTP API
package dto

// APIResponse represents the standard API response structure
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Error   any    `json:"error,omitempty"`
}

// ErrorDetail represents error details in API responses
type ErrorDetail struct {
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// PageRequest is the limit/skip pair shared by list endpoints
type PageRequest struct {
	Limit int `query:"limit" validate:"omitempty,min=1,max=100"`
	Skip  int `query:"skip" validate:"omitempty,min=0"`
}

// HealthResponse reports reachability of the service dependencies
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
}
