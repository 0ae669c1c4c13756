// Package rest provides the REST ingest and query API for the monitoring
// service.
package rest

import (
	"github.com/roof-guardian/monitoring-api/internal/recovery"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// AcceptedResponse acknowledges fire-and-forget ingestion.
type AcceptedResponse struct {
	ID string `json:"id,omitempty"`
}

// RegisterComponentRequest is the body for registering a component with the
// recovery controller and health assessor. Empty actions install defaults.
type RegisterComponentRequest struct {
	Name    string            `json:"name" binding:"required"`
	Actions []recovery.Action `json:"actions"`
}

// ComponentActions lists a component's registered recovery actions.
type ComponentActions struct {
	Name    string            `json:"name"`
	Actions []recovery.Action `json:"actions"`
}

// TriggerResponse reports whether a manual recovery was enqueued.
type TriggerResponse struct {
	Component string `json:"component"`
	Triggered bool   `json:"triggered"`
}
