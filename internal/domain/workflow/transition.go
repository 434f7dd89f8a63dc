package workflow

import (
	"strings"

	"github.com/garyjia/wfm-approvals/internal/domain/condition"
)

// SystemActorPrefix marks actors that are the engine itself
const SystemActorPrefix = "system:"

const (
	ActorEscalation = "system:escalation"
	ActorAuto       = "system:auto"
)

// Actor is the identity invoking an operation
type Actor struct {
	ID          string   `json:"id"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// IsSystem returns true for engine-internal actors
func (a Actor) IsSystem() bool {
	return strings.HasPrefix(a.ID, SystemActorPrefix)
}

// HasRole returns true if the actor holds role
func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (a Actor) hasPermission(p string) bool {
	for _, have := range a.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// Authorization lists who may invoke a transition. Empty roles and
// permissions means any actor.
type Authorization struct {
	Roles          []string `json:"roles,omitempty" yaml:"roles"`
	Permissions    []string `json:"permissions,omitempty" yaml:"permissions"`
	AllowRequester bool     `json:"allow_requester,omitempty" yaml:"allow_requester"`
}

// Permits reports whether actor satisfies the requirement. requester is the
// instance's requester, used when AllowRequester is set. System actors are
// always permitted.
func (a Authorization) Permits(actor Actor, requester string) bool {
	if actor.IsSystem() {
		return true
	}
	if len(a.Roles) == 0 && len(a.Permissions) == 0 && !a.AllowRequester {
		return true
	}
	if a.AllowRequester && actor.ID != "" && actor.ID == requester {
		return true
	}
	for _, r := range a.Roles {
		if actor.HasRole(r) {
			return true
		}
	}
	for _, p := range a.Permissions {
		if actor.hasPermission(p) {
			return true
		}
	}
	return false
}

// ActionType selects how a side-effect action is delivered
type ActionType string

const (
	ActionNotify     ActionType = "notify"
	ActionSideEffect ActionType = "side_effect"
)

// Action is a side effect requested after a successful transition. The engine
// never interprets Payload; it is handed to collaborators as-is.
type Action struct {
	Type       ActionType             `json:"type"`
	Template   string                 `json:"template,omitempty"`
	Target     string                 `json:"target,omitempty"`
	Recipients []string               `json:"recipients,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// AutoTransition makes a transition fire without an actor once its state has
// been held for TimeoutMinutes (immediately when zero).
type AutoTransition struct {
	TimeoutMinutes    int  `json:"timeout_minutes"`
	BusinessHoursOnly bool `json:"business_hours_only"`
}

// Transition is a legal move between two states of one workflow
type Transition struct {
	Key           string
	From          string
	To            string
	Condition     condition.Expr
	Authorization Authorization
	Auto          *AutoTransition
	Actions       []Action

	// StepDecision marks transitions that resolve the current approval step:
	// only a pending assignee may invoke them and parallel steps apply a quorum.
	StepDecision bool
}

// Guard returns the transition's condition, defaulting to Always
func (t Transition) Guard() condition.Expr {
	if t.Condition == nil {
		return condition.Always{}
	}
	return t.Condition
}
