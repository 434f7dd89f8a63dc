// Package workflowtest provides workflow definitions shared by tests
package workflowtest

import (
	"time"

	"github.com/garyjia/wfm-approvals/internal/domain/condition"
	"github.com/garyjia/wfm-approvals/internal/domain/workflow"
)

const (
	// Vacation is the name of the vacation workflow fixture
	Vacation = "vacation_standard"

	// SupervisorTimeout is 48 business hours in minutes, six 8-hour days
	SupervisorTimeout = 48 * 60
)

// VacationBuilder returns a builder for vacation_standard v1. Requests with at
// least 14 days notice route to a single supervisor; others also go to HR.
// Supervisor steps escalate to department_head after their timeout, then to an
// hr_manager notification, then the request is put on hold.
func VacationBuilder() *workflow.Builder {
	lastStep := condition.Compare{Field: "_steps_remaining", Op: condition.OpEq, Value: 0}
	moreSteps := condition.Compare{Field: "_steps_remaining", Op: condition.OpGt, Value: 0}

	b := workflow.NewBuilder(Vacation, 1).
		Describe("Standard vacation approval").
		State("draft", workflow.KindInitial).
		State("pending_supervisor", workflow.KindIntermediate).
		State("pending_hr", workflow.KindIntermediate).
		State("approved", workflow.KindFinal).
		State("rejected", workflow.KindFinal).
		State("cancelled", workflow.KindError)

	b.Configure("draft").
		Permit("submit", "pending_supervisor", workflow.WithRequester(), workflow.WithAuto(0, false)).
		Permit("cancel", "cancelled", workflow.WithRequester())

	b.Configure("pending_supervisor").
		PermitIf("approve", "approved", lastStep,
			workflow.AsDecision(), workflow.WithRoles("supervisor", "department_head"),
			workflow.WithActions(workflow.Action{
				Type:       workflow.ActionNotify,
				Template:   "vacation_approved",
				Recipients: []string{"requester"},
			})).
		PermitIf("approve", "pending_hr", moreSteps,
			workflow.AsDecision(), workflow.WithRoles("supervisor", "department_head")).
		Permit("reject", "rejected", workflow.AsDecision(), workflow.WithRoles("supervisor", "department_head")).
		Permit("cancel", "cancelled", workflow.WithRequester())

	b.Configure("pending_hr").
		Permit("approve", "approved", workflow.AsDecision(), workflow.WithRoles("hr")).
		Permit("reject", "rejected", workflow.AsDecision(), workflow.WithRoles("hr")).
		Permit("cancel", "cancelled", workflow.WithRequester())

	supervisor := workflow.ApprovalStep{
		Name:              "supervisor",
		Mode:              workflow.ModeSequential,
		Role:              "supervisor",
		TimeoutMinutes:    SupervisorTimeout,
		BusinessHoursOnly: true,
		ExcludeWeekends:   true,
		ExcludeHolidays:   true,
	}
	hr := supervisor
	hr.Name = "hr"
	hr.Role = "hr"

	b.Route(workflow.RoutingRule{
		ID:        "long_notice",
		Priority:  10,
		Condition: condition.Compare{Field: "advance_notice_days", Op: condition.OpGte, Value: 14},
		Chain:     []workflow.ApprovalStep{supervisor},
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	b.DefaultChain(supervisor, hr)

	b.Escalate(workflow.EscalationRule{
		ID:             "supervisor_l1",
		State:          "pending_supervisor",
		Level:          1,
		Trigger:        workflow.TriggerTimeBased,
		TimeoutMinutes: 24 * 60,
		Actions:        []workflow.EscalationAction{{Type: workflow.EscalateReassign, Role: "department_head"}},
		Next:           "supervisor_l2",
	})
	b.Escalate(workflow.EscalationRule{
		ID:             "supervisor_l2",
		State:          "pending_supervisor",
		Level:          2,
		Trigger:        workflow.TriggerTimeBased,
		TimeoutMinutes: 24 * 60,
		Actions: []workflow.EscalationAction{{
			Type:       workflow.EscalateNotify,
			Template:   "vacation_overdue",
			Recipients: []string{"hr_manager"},
		}},
		Terminal: workflow.TerminalAction{Type: workflow.TerminalHold},
	})
	return b
}

// VacationDefinition builds vacation_standard v1
func VacationDefinition() *workflow.Definition {
	return VacationBuilder().MustBuild()
}

// ReviewBoardDefinition is a single parallel step decided by quorum
func ReviewBoardDefinition(quorum workflow.Quorum, approvers ...string) *workflow.Definition {
	b := workflow.NewBuilder("review_board", 1).
		State("open", workflow.KindInitial).
		State("accepted", workflow.KindFinal).
		State("declined", workflow.KindFinal)

	b.Configure("open").
		Permit("accept", "accepted", workflow.AsDecision()).
		Permit("decline", "declined", workflow.AsDecision())

	b.DefaultChain(workflow.ApprovalStep{
		Name:      "board",
		Mode:      workflow.ModeParallel,
		Approvers: approvers,
		Quorum:    quorum,
		Fallback:  "decline",
	})
	return b.MustBuild()
}
