package api

import (
	"github.com/mattjoyce/deckrelay/internal/dispatch"
	"github.com/mattjoyce/deckrelay/internal/storage"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	ConfigHash    string `json:"config_hash,omitempty"`
	Routers       int    `json:"routers"`
	PendingRecord int    `json:"pending_records"`
	Waiting       int    `json:"waiting_requesters"`
}

// RoutersResponse is returned by GET /routers.
type RoutersResponse struct {
	Routers []dispatch.ContextKey `json:"routers"`
}

// JournalResponse is returned by GET /relay/journal.
type JournalResponse struct {
	Entries []storage.RelayEntry `json:"entries"`
}
