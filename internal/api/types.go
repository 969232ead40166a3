// Package api provides the HTTP API for the board automation service.
package api

import (
	"time"

	"github.com/p-blackswan/board-automation/internal/action"
	"github.com/p-blackswan/board-automation/internal/filter"
	"github.com/p-blackswan/board-automation/internal/rule"
)

// ProblemDetail is an RFC 7807 error payload.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// --- Request DTOs ---

// RuleRequest is the payload for creating or replacing a rule.
type RuleRequest struct {
	Name    string          `json:"name"`
	Trigger rule.Trigger    `json:"trigger"`
	Filters []filter.Filter `json:"filters,omitempty"`
	Action  action.Action   `json:"action"`
	Enabled *bool           `json:"enabled,omitempty"`
}

// EventRequest is the payload for POST /api/v1/events.
type EventRequest struct {
	Type      string `json:"type"`
	TaskID    string `json:"task_id,omitempty"`
	SectionID string `json:"section_id,omitempty"`
}

// --- Response DTOs ---

// BulkResponse reports the outcome of a bulk pause/resume/enable.
type BulkResponse struct {
	Count   int      `json:"count"`
	RuleIDs []string `json:"rule_ids"`
}

// UndoResponse describes a performed or pending undo.
type UndoResponse struct {
	Description string     `json:"description,omitempty"`
	RuleName    string     `json:"rule_name,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// ExecutionsResponse wraps a rule's bounded execution history.
type ExecutionsResponse struct {
	RuleID     string                   `json:"rule_id"`
	Count      int                      `json:"count"`
	Executions []rule.ExecutionLogEntry `json:"executions"`
}
