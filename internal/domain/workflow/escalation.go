package workflow

import (
	"fmt"
	"sort"

	"github.com/garyjia/wfm-approvals/internal/domain/condition"
)

// TriggerType decides what makes an escalation level fire
type TriggerType string

const (
	TriggerTimeBased      TriggerType = "time_based"
	TriggerConditionBased TriggerType = "condition_based"
	TriggerManual         TriggerType = "manual"
)

// EscalationActionType is what a fired level does
type EscalationActionType string

const (
	EscalateReassign        EscalationActionType = "reassign"
	EscalateForceTransition EscalationActionType = "force_transition"
	EscalateNotify          EscalationActionType = "notify"
)

// TerminalActionType resolves an exhausted chain
type TerminalActionType string

const (
	TerminalReject  TerminalActionType = "reject"
	TerminalApprove TerminalActionType = "approve"
	TerminalHold    TerminalActionType = "hold"
)

// EscalationAction is one effect of a fired level
type EscalationAction struct {
	Type       EscalationActionType
	Role       string
	Transition string
	Template   string
	Recipients []string
}

// TerminalAction runs when a chain has no further level. Transition names the
// transition forced by reject/approve and defaults to the action's name.
type TerminalAction struct {
	Type       TerminalActionType
	Transition string
}

// TransitionKey returns the transition forced by the terminal action
func (t TerminalAction) TransitionKey() string {
	if t.Transition != "" {
		return t.Transition
	}
	return string(t.Type)
}

// EscalationRule is the configuration form of one level: rules point to their
// successor by ID. Rules are compiled into EscalationChains at publish time.
type EscalationRule struct {
	ID                string
	State             string
	Level             int
	Trigger           TriggerType
	TimeoutMinutes    int
	BusinessHoursOnly bool
	ExcludeWeekends   bool
	ExcludeHolidays   bool
	Condition         condition.Expr
	Actions           []EscalationAction
	Next              string
	Terminal          TerminalAction
}

// EscalationLevel is a compiled rule inside a chain. Its timeout is the time
// allowed after it fires before the next level (or the terminal action) is due.
type EscalationLevel struct {
	RuleID            string
	Level             int
	Trigger           TriggerType
	TimeoutMinutes    int
	BusinessHoursOnly bool
	ExcludeWeekends   bool
	ExcludeHolidays   bool
	Condition         condition.Expr
	Actions           []EscalationAction
}

// EscalationChain is an ordered array of levels. State is empty for the
// workflow-wide chain.
type EscalationChain struct {
	State    string
	Levels   []EscalationLevel
	Terminal TerminalAction
}

// NextAfter returns the first level strictly above fired, or false when the
// chain is exhausted
func (c EscalationChain) NextAfter(fired int) (EscalationLevel, bool) {
	for _, l := range c.Levels {
		if l.Level > fired {
			return l, true
		}
	}
	return EscalationLevel{}, false
}

// CompileEscalations turns pointer-linked rules into chains. Every head rule
// (one no other rule points to) starts a chain; the walk rejects unknown
// successors, cycles and non-increasing levels. The terminal action of the
// last rule in a walk becomes the chain's terminal action.
func CompileEscalations(rules []EscalationRule) ([]EscalationChain, error) {
	if len(rules) == 0 {
		return nil, nil
	}

	byID := make(map[string]EscalationRule, len(rules))
	referenced := make(map[string]bool)
	for _, r := range rules {
		if r.ID == "" {
			return nil, fmt.Errorf("escalation rule without id")
		}
		if _, dup := byID[r.ID]; dup {
			return nil, fmt.Errorf("duplicate escalation rule id %q", r.ID)
		}
		byID[r.ID] = r
		if r.Next != "" {
			referenced[r.Next] = true
		}
	}

	heads := make([]EscalationRule, 0)
	for _, r := range rules {
		if !referenced[r.ID] {
			heads = append(heads, r)
		}
	}
	if len(heads) == 0 {
		return nil, fmt.Errorf("escalation rules form a cycle with no entry point")
	}

	chains := make([]EscalationChain, 0, len(heads))
	visitedGlobal := make(map[string]bool)
	for _, head := range heads {
		chain := EscalationChain{State: head.State}
		visited := make(map[string]bool)
		current := head
		for {
			if visited[current.ID] {
				return nil, fmt.Errorf("escalation rule %q is part of a cycle", current.ID)
			}
			visited[current.ID] = true
			visitedGlobal[current.ID] = true

			if current.State != chain.State {
				return nil, fmt.Errorf("escalation rule %q is scoped to %q but its chain starts in %q", current.ID, current.State, chain.State)
			}
			if n := len(chain.Levels); n > 0 && current.Level <= chain.Levels[n-1].Level {
				return nil, fmt.Errorf("escalation rule %q has level %d, not above %d", current.ID, current.Level, chain.Levels[n-1].Level)
			}

			chain.Levels = append(chain.Levels, EscalationLevel{
				RuleID:            current.ID,
				Level:             current.Level,
				Trigger:           current.Trigger,
				TimeoutMinutes:    current.TimeoutMinutes,
				BusinessHoursOnly: current.BusinessHoursOnly,
				ExcludeWeekends:   current.ExcludeWeekends,
				ExcludeHolidays:   current.ExcludeHolidays,
				Condition:         current.Condition,
				Actions:           current.Actions,
			})

			if current.Next == "" {
				chain.Terminal = current.Terminal
				break
			}
			next, ok := byID[current.Next]
			if !ok {
				return nil, fmt.Errorf("escalation rule %q points to unknown rule %q", current.ID, current.Next)
			}
			current = next
		}
		chains = append(chains, chain)
	}

	// Rules unreachable from any head sit on a cycle
	for _, r := range rules {
		if !visitedGlobal[r.ID] {
			return nil, fmt.Errorf("escalation rule %q is part of a cycle", r.ID)
		}
	}

	sort.SliceStable(chains, func(i, j int) bool { return chains[i].State < chains[j].State })
	return chains, nil
}
