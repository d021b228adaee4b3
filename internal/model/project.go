package model

import (
	"time"

	"github.com/terracoord/digcheck/internal/geometry"
)

// ProjectState is the lifecycle state of an excavation project.
type ProjectState string

const (
	StateDraft           ProjectState = "draft"
	StateForwardPlanning ProjectState = "forward_planning"
	StatePendingApproval ProjectState = "pending_approval"
	StateApproved        ProjectState = "approved"
	StateInProgress      ProjectState = "in_progress"
	StateCompleted       ProjectState = "completed"
	StateRejected        ProjectState = "rejected"
	StateCancelled       ProjectState = "cancelled"
)

// CountsAsCandidate reports whether a project in this state occupies ground
// that new submissions must be checked against. Drafts have no claim yet;
// completed, rejected, and cancelled projects have released theirs.
func (s ProjectState) CountsAsCandidate() bool {
	switch s {
	case StateForwardPlanning, StatePendingApproval, StateApproved, StateInProgress:
		return true
	default:
		return false
	}
}

// TriggersCheck reports whether a submission in this state requires a
// conflict check. Only submissions at or before the approval checkpoint do.
func (s ProjectState) TriggersCheck() bool {
	return s == StateDraft || s == StatePendingApproval
}

// Project is an excavation project with its footprint and schedule.
// Read-only to the conflict engine.
type Project struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	WorkCategory string               `json:"work_category"`
	State        ProjectState         `json:"state"`
	Geometry     *geometry.Normalized `json:"-"`
	Window       Window               `json:"window"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}
