package entity

import (
	"time"

	"github.com/garyjia/wfm-approvals/internal/domain/workflow"
)

// Instance is one execution of a workflow definition
type Instance struct {
	ID              int64                  `json:"id"`
	Workflow        string                 `json:"workflow"`
	WorkflowVersion int                    `json:"workflow_version"`
	CurrentState    string                 `json:"current_state"`
	Version         int64                  `json:"version"`
	Requester       string                 `json:"requester"`
	Data            map[string]interface{} `json:"data"`
	EntityLink      string                 `json:"entity_link,omitempty"`

	// Chain is the approval chain resolved at start; StepIndex points into it
	RuleID    string                 `json:"rule_id"`
	Chain     workflow.ApprovalChain `json:"chain"`
	StepIndex int                    `json:"step_index"`

	Status  string `json:"status"`
	OnHold  bool   `json:"on_hold"`
	Outcome string `json:"outcome,omitempty"`

	StateEnteredAt time.Time  `json:"state_entered_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// IsActive returns true until the instance reaches a terminal state
func (i *Instance) IsActive() bool {
	return i.Status == InstanceStatusActive
}

// CurrentStep returns the chain step awaiting a decision
func (i *Instance) CurrentStep() (workflow.ApprovalStep, bool) {
	return i.Chain.Step(i.StepIndex)
}

// StepsRemaining counts the chain steps after the current one
func (i *Instance) StepsRemaining() int {
	n := len(i.Chain.Steps) - i.StepIndex - 1
	if n < 0 {
		return 0
	}
	return n
}

// EvalData merges instance data with call data and the reserved fields
// conditions may reference. Call data wins over stored data.
func (i *Instance) EvalData(call map[string]interface{}, actor string) map[string]interface{} {
	merged := make(map[string]interface{}, len(i.Data)+len(call)+4)
	for k, v := range i.Data {
		merged[k] = v
	}
	for k, v := range call {
		merged[k] = v
	}
	merged[FieldStepsRemaining] = i.StepsRemaining()
	merged[FieldStepIndex] = i.StepIndex
	merged[FieldRequester] = i.Requester
	merged[FieldActor] = actor
	return merged
}

// MergeData folds call data into the stored payload
func (i *Instance) MergeData(call map[string]interface{}) {
	if len(call) == 0 {
		return
	}
	if i.Data == nil {
		i.Data = make(map[string]interface{}, len(call))
	}
	for k, v := range call {
		i.Data[k] = v
	}
}
