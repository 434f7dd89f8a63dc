package workflow

import (
	"context"
	"errors"

	"github.com/garyjia/wfm-approvals/internal/domain/entity"
	domainwf "github.com/garyjia/wfm-approvals/internal/domain/workflow"
)

// ErrInvalidRequest is returned for requests missing required fields
var ErrInvalidRequest = errors.New("invalid request")

// Engine owns the instance lifecycle: it starts instances, validates and
// applies transitions, and keeps assignments and history in step.
type Engine interface {
	// Start creates an instance at the workflow's initial state, resolves its
	// approval chain and opens the first step
	Start(ctx context.Context, req StartRequest) (*StartResult, error)

	// ApplyTransition fires a transition on behalf of an actor. The instance is
	// unchanged when an error is returned.
	ApplyTransition(ctx context.Context, req TransitionRequest) (*TransitionResult, error)

	// ForceTransition fires a transition as the escalation system. Authorization
	// is bypassed; legality and conditions are still enforced.
	ForceTransition(ctx context.Context, instanceID int64, transition, reason string) (*TransitionResult, error)

	// GetInstance returns an instance with its assignments and history
	GetInstance(ctx context.Context, instanceID int64) (*InstanceView, error)

	// ListPendingFor returns the instances awaiting action from actor
	ListPendingFor(ctx context.Context, actor domainwf.Actor) ([]int64, error)
}

// StartRequest starts an instance. Version 0 selects the latest active version.
type StartRequest struct {
	Workflow   string                 `json:"workflow"`
	Version    int                    `json:"version,omitempty"`
	Requester  string                 `json:"requester"`
	Data       map[string]interface{} `json:"data"`
	EntityLink string                 `json:"entity_link,omitempty"`
}

// StartResult describes a newly started instance
type StartResult struct {
	InstanceID int64  `json:"instance_id"`
	State      string `json:"state"`
	Version    int64  `json:"version"`
	RuleID     string `json:"rule_id"`
}

// TransitionRequest fires a transition. ExpectedVersion, when non-zero, must
// equal the stored version.
type TransitionRequest struct {
	InstanceID      int64                  `json:"instance_id"`
	Transition      string                 `json:"transition"`
	Actor           domainwf.Actor         `json:"actor"`
	Data            map[string]interface{} `json:"data,omitempty"`
	Reason          string                 `json:"reason,omitempty"`
	ExpectedVersion int64                  `json:"expected_version,omitempty"`
}

// TransitionResult reports the outcome of ApplyTransition
type TransitionResult struct {
	InstanceID    int64  `json:"instance_id"`
	PreviousState string `json:"previous_state"`
	NewState      string `json:"new_state"`
	Status        string `json:"status"`
	Version       int64  `json:"version"`
}

// InstanceView is an instance with its assignments and history
type InstanceView struct {
	Instance    *entity.Instance       `json:"instance"`
	Assignments []*entity.Assignment   `json:"assignments"`
	History     []*entity.HistoryEntry `json:"history"`
}

// PendingAssignments returns the open assignments of the view
func (v *InstanceView) PendingAssignments() []*entity.Assignment {
	var out []*entity.Assignment
	for _, a := range v.Assignments {
		if a.IsOpen() {
			out = append(out, a)
		}
	}
	return out
}
