package utils

import (
	"time"
)

// CORS and security constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)

// Request handling constants
const (
	// DefaultRequestTimeout bounds every request-scoped context created by handlers
	DefaultRequestTimeout = 30 * time.Second

	// DefaultPageLimit is used when a list request carries no limit
	DefaultPageLimit = 20

	// MaxPageLimit caps the limit accepted by list and search endpoints
	MaxPageLimit = 100

	// DashboardWindow is the look-back window of the date dashboard
	DashboardWindow = 30 * 24 * time.Hour
)
