// Package remote defines the wire types and the HTTP client for talking to a
// modsync server.
package remote

import (
	"github.com/kilupskalvis/modsync/internal/models"
)

// CreateModuleRequest is the body of POST /api/v1/courses/{course}/modules.
type CreateModuleRequest = models.ModuleFields

// UpdateModuleRequest is the body of PATCH /api/v1/modules/{id}. Absent
// fields are left unchanged.
type UpdateModuleRequest = models.ModulePatch

// ReorderRequest is the body of PUT /api/v1/courses/{course}/modules/order.
// It must list every module of the course exactly once with positions 1..N.
type ReorderRequest struct {
	Positions []models.PositionUpdate `json:"positions"`
}

// CompactResponse reports the outcome of an admin compaction.
type CompactResponse struct {
	Course     string `json:"course"`
	Modules    int    `json:"modules"`
	Renumbered int    `json:"renumbered"`
}

// ErrorResponse is the structured error format returned by the server.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Detail  map[string]string `json:"detail,omitempty"`
}

// Error codes used in ErrorResponse.Error.
const (
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeInvalid      = "invalid_request"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeRateLimited  = "rate_limited"
	CodeInternal     = "internal_error"
)
