package workflow

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/wfm-approvals/internal/application/calendar"
	"github.com/garyjia/wfm-approvals/internal/application/port"
	"github.com/garyjia/wfm-approvals/internal/domain/entity"
	domainwf "github.com/garyjia/wfm-approvals/internal/domain/workflow"
)

// UserPrefix marks approver entries that name a user instead of a role
const UserPrefix = "user:"

// Deadlines computes due dates
type Deadlines interface {
	ComputeDeadline(ctx context.Context, start time.Time, minutes int, opts calendar.Options) (time.Time, error)
}

type wallClock struct{}

func (wallClock) ComputeDeadline(_ context.Context, start time.Time, minutes int, _ calendar.Options) (time.Time, error) {
	return start.Add(time.Duration(minutes) * time.Minute), nil
}

// Assigner builds assignments for approval steps. Roles are resolved to users
// when an assignment is created, so later membership changes do not alter it.
type Assigner struct {
	identity  port.IdentityResolver
	deadlines Deadlines
	logger    *zap.Logger
}

// NewAssigner creates an Assigner. identity may be nil, in which case
// assignments are matched by role alone. deadlines nil means wall-clock time.
func NewAssigner(identity port.IdentityResolver, deadlines Deadlines, logger *zap.Logger) *Assigner {
	if deadlines == nil {
		deadlines = wallClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assigner{identity: identity, deadlines: deadlines, logger: logger}
}

// OpenStep builds the assignments of the instance's current step: one for a
// sequential step, one per approver for a parallel step. It returns nil when
// the chain has no step at the current index.
func (a *Assigner) OpenStep(ctx context.Context, inst *entity.Instance, now time.Time) []*entity.Assignment {
	step, ok := inst.CurrentStep()
	if !ok {
		return nil
	}

	due := a.DueAt(ctx, now, step.TimeoutMinutes, calendar.StepOptions(step))
	participants := step.Participants()
	out := make([]*entity.Assignment, 0, len(participants))
	for _, p := range participants {
		asg := &entity.Assignment{
			InstanceID: inst.ID,
			StepIndex:  inst.StepIndex,
			StepName:   step.Name,
			DueAt:      due,
			Status:     entity.AssignmentStatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if user, isUser := strings.CutPrefix(p, UserPrefix); isUser {
			asg.Candidates = []string{user}
		} else {
			asg.AssigneeRole = p
			asg.Candidates = a.Resolve(ctx, p, inst)
		}
		out = append(out, asg)
	}
	return out
}

// Resolve returns the users holding role for inst, sorted and deduplicated.
// Resolution failures are logged and yield no candidates.
func (a *Assigner) Resolve(ctx context.Context, role string, inst *entity.Instance) []string {
	if a.identity == nil || role == "" {
		return nil
	}

	users, err := a.identity.ResolveRole(ctx, role, port.RoleContext{
		InstanceID: inst.ID,
		Workflow:   inst.Workflow,
		Requester:  inst.Requester,
		Data:       inst.Data,
	})
	if err != nil {
		a.logger.Warn("Failed to resolve role, assignment falls back to role match",
			zap.String("role", role),
			zap.Int64("instance_id", inst.ID),
			zap.Error(err))
		return nil
	}

	seen := make(map[string]bool, len(users))
	out := make([]string, 0, len(users))
	for _, u := range users {
		if u != "" && !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	sort.Strings(out)
	return out
}

// DueAt returns the deadline minutes after start, or nil without a timeout.
// A calendar that cannot produce a deadline falls back to wall-clock time.
func (a *Assigner) DueAt(ctx context.Context, start time.Time, minutes int, opts calendar.Options) *time.Time {
	if minutes <= 0 {
		return nil
	}

	due, err := a.deadlines.ComputeDeadline(ctx, start, minutes, opts)
	if err != nil {
		a.logger.Error("Failed to compute deadline, using wall-clock time",
			zap.Int("minutes", minutes),
			zap.Error(err))
		due = start.Add(time.Duration(minutes) * time.Minute)
	}
	return &due
}

// Recipient tokens expanded by ExpandRecipients
const (
	RecipientRequester = "requester"
	RecipientActor     = "actor"
	RecipientRole      = "role:"
)

// ExpandRecipients turns recipient tokens into user IDs: "requester", "actor"
// and "role:<name>" are resolved, anything else is taken literally
func (a *Assigner) ExpandRecipients(ctx context.Context, specs []string, inst *entity.Instance, actor string) []string {
	seen := make(map[string]bool, len(specs))
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}

	for _, spec := range specs {
		switch {
		case spec == RecipientRequester:
			add(inst.Requester)
		case spec == RecipientActor:
			if !strings.HasPrefix(actor, domainwf.SystemActorPrefix) {
				add(actor)
			}
		case strings.HasPrefix(spec, RecipientRole):
			for _, u := range a.Resolve(ctx, strings.TrimPrefix(spec, RecipientRole), inst) {
				add(u)
			}
		default:
			add(spec)
		}
	}
	return out
}

// NewOutboxAction builds a pending outbox row for inst
func NewOutboxAction(inst *entity.Instance, kind, template, target string, recipients []string, payload map[string]interface{}, now time.Time) *entity.OutboxAction {
	body := map[string]interface{}{
		"workflow":      inst.Workflow,
		"instance_id":   inst.ID,
		"state":         inst.CurrentState,
		"requester":     inst.Requester,
		"entity_link":   inst.EntityLink,
		"instance_data": inst.Data,
	}
	for k, v := range payload {
		body[k] = v
	}

	return &entity.OutboxAction{
		DeliveryID:    uuid.NewString(),
		InstanceID:    inst.ID,
		Kind:          kind,
		Template:      template,
		Target:        target,
		Recipients:    recipients,
		Payload:       body,
		Status:        entity.OutboxStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
