package entity

import (
	"time"

	"github.com/garyjia/wfm-approvals/internal/domain/workflow"
)

// Assignment is the pending unit of work on an instance. A sequential step
// has one pending assignment; a parallel step has one per approver.
type Assignment struct {
	ID         int64  `json:"id"`
	InstanceID int64  `json:"instance_id"`
	StepIndex  int    `json:"step_index"`
	StepName   string `json:"step_name"`

	// AssigneeRole is empty for assignments naming a user directly.
	// Candidates are the users resolved when the assignment was created.
	AssigneeRole string   `json:"assignee_role,omitempty"`
	Candidates   []string `json:"candidates"`

	DueAt           *time.Time `json:"due_at,omitempty"`
	Status          string     `json:"status"`
	EscalationLevel int        `json:"escalation_level"`

	Decision string `json:"decision,omitempty"`
	ActedBy  string `json:"acted_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsOpen returns true while the assignment can still be acted on
func (a *Assignment) IsOpen() bool {
	return a.Status == AssignmentStatusPending || a.Status == AssignmentStatusEscalating
}

// CanAct reports whether actor owns this assignment
func (a *Assignment) CanAct(actor workflow.Actor) bool {
	if actor.IsSystem() {
		return true
	}
	if len(a.Candidates) > 0 {
		for _, c := range a.Candidates {
			if c == actor.ID {
				return true
			}
		}
		return false
	}
	return a.AssigneeRole != "" && actor.HasRole(a.AssigneeRole)
}

// IsOverdue returns true once now has passed the due date
func (a *Assignment) IsOverdue(now time.Time) bool {
	return a.DueAt != nil && !now.Before(*a.DueAt)
}
