package utils

import "context"

type contextKey string

// Request-scoped context keys populated by handlers
const (
	RequestIDKey  contextKey = "request_id"
	UserAgentKey  contextKey = "user_agent"
	IPAddressKey  contextKey = "ip_address"
	EndpointKey   contextKey = "endpoint"
	TimeoutKey    contextKey = "timeout"
	AuthHeaderKey contextKey = "authorization"
)

// RequestID returns the request id stored on ctx, or "".
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}

// AuthHeader returns the caller's Authorization header stored on ctx, or "".
func AuthHeader(ctx context.Context) string {
	if v, ok := ctx.Value(AuthHeaderKey).(string); ok {
		return v
	}
	return ""
}
