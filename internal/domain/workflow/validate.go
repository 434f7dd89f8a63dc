package workflow

import (
	"fmt"
	"strings"
)

// Validate checks the structural invariants of a definition. It returns a
// *ConfigError listing every problem, or nil.
func Validate(d *Definition) error {
	if d == nil {
		return &ConfigError{Problems: []string{"definition is nil"}}
	}

	cerr := &ConfigError{Workflow: d.Name, Version: d.Version}

	if strings.TrimSpace(d.Name) == "" {
		cerr.add("name is required")
	}
	if d.Version < 1 {
		cerr.add("version must be >= 1")
	}

	states := validateStates(d, cerr)
	validateTransitions(d, states, cerr)
	validateChains(d, states, cerr)
	validateEscalations(d, states, cerr)

	return cerr.orNil()
}

func validateStates(d *Definition, cerr *ConfigError) map[string]State {
	states := make(map[string]State, len(d.States))
	initial := 0
	for _, s := range d.States {
		if s.Key == "" {
			cerr.add("state with empty key")
			continue
		}
		if _, dup := states[s.Key]; dup {
			cerr.add("duplicate state %q", s.Key)
			continue
		}
		if !s.Kind.IsValid() {
			cerr.add("state %q has invalid kind %q", s.Key, s.Kind)
		}
		if s.Kind == KindInitial {
			initial++
		}
		states[s.Key] = s
	}

	if initial != 1 {
		cerr.add("exactly one initial state required, found %d", initial)
	}
	return states
}

func validateTransitions(d *Definition, states map[string]State, cerr *ConfigError) {
	seen := make(map[string]bool, len(d.Transitions))
	for _, t := range d.Transitions {
		label := fmt.Sprintf("transition %s(%s->%s)", t.Key, t.From, t.To)
		if t.Key == "" {
			cerr.add("%s has empty key", label)
		}

		from, okFrom := states[t.From]
		if !okFrom {
			cerr.add("%s references unknown state %q", label, t.From)
		}
		if _, ok := states[t.To]; !ok {
			cerr.add("%s references unknown state %q", label, t.To)
		}
		if okFrom && from.IsTerminal() {
			cerr.add("%s leaves terminal state %q", label, t.From)
		}

		id := t.From + "\x00" + t.To + "\x00" + t.Key
		if seen[id] {
			cerr.add("%s is declared twice", label)
		}
		seen[id] = true

		if t.Auto != nil && t.Auto.TimeoutMinutes < 0 {
			cerr.add("%s has negative auto timeout", label)
		}
		for _, a := range t.Actions {
			if a.Type != ActionNotify && a.Type != ActionSideEffect {
				cerr.add("%s has action of unknown type %q", label, a.Type)
			}
		}
	}
}

func validateChains(d *Definition, states map[string]State, cerr *ConfigError) {
	if len(d.DefaultChain) == 0 {
		cerr.add("default approval chain is required")
	}
	validateSteps(d, "default chain", d.DefaultChain, cerr)

	ids := make(map[string]bool, len(d.RoutingRules))
	for _, r := range d.RoutingRules {
		if r.ID == "" || r.ID == DefaultRuleID {
			cerr.add("routing rule id %q is reserved or empty", r.ID)
		}
		if ids[r.ID] {
			cerr.add("duplicate routing rule %q", r.ID)
		}
		ids[r.ID] = true

		if len(r.Chain) == 0 {
			cerr.add("routing rule %q has an empty chain", r.ID)
		}
		if r.EffectiveFrom != nil && r.EffectiveTo != nil && r.EffectiveTo.Before(*r.EffectiveFrom) {
			cerr.add("routing rule %q ends before it starts", r.ID)
		}
		validateSteps(d, "routing rule "+r.ID, r.Chain, cerr)
	}
}

func validateSteps(d *Definition, owner string, steps []ApprovalStep, cerr *ConfigError) {
	for i, s := range steps {
		label := fmt.Sprintf("%s step %d (%s)", owner, i, s.Name)
		if s.TimeoutMinutes < 0 {
			cerr.add("%s has negative timeout", label)
		}

		switch s.Mode {
		case ModeSequential, "":
			if s.Role == "" {
				cerr.add("%s needs a role", label)
			}
		case ModeParallel:
			if len(s.Approvers) == 0 {
				cerr.add("%s needs approvers", label)
			}
			if s.Quorum.Kind == QuorumCount && s.Quorum.N > len(s.Approvers) {
				cerr.add("%s quorum %s exceeds %d approvers", label, s.Quorum, len(s.Approvers))
			}
			if s.Quorum.Kind != QuorumFirst && s.Fallback == "" {
				cerr.add("%s needs a fallback decision for quorum %s", label, s.Quorum)
			}
			if s.Fallback != "" && !hasDecision(d, s.Fallback) {
				cerr.add("%s fallback %q is not a step decision transition", label, s.Fallback)
			}
		default:
			cerr.add("%s has unknown mode %q", label, s.Mode)
		}
	}
}

func hasDecision(d *Definition, key string) bool {
	for _, t := range d.Transitions {
		if t.Key == key && t.StepDecision {
			return true
		}
	}
	return false
}

func hasTransitionKey(d *Definition, key string) bool {
	for _, t := range d.Transitions {
		if t.Key == key {
			return true
		}
	}
	return false
}

// declaredFrom reports whether key leaves state, or for a workflow-wide
// chain ("") some non-terminal state
func declaredFrom(d *Definition, states map[string]State, state, key string) bool {
	for _, t := range d.Transitions {
		if t.Key != key {
			continue
		}
		if state != "" && t.From == state {
			return true
		}
		if s, ok := states[t.From]; state == "" && ok && !s.IsTerminal() {
			return true
		}
	}
	return false
}

func validateEscalations(d *Definition, states map[string]State, cerr *ConfigError) {
	scopes := make(map[string]bool, len(d.Escalations))
	for _, c := range d.Escalations {
		scope := c.State
		if scope == "" {
			scope = "(workflow)"
		} else if s, ok := states[c.State]; !ok {
			cerr.add("escalation chain scoped to unknown state %q", c.State)
		} else if s.IsTerminal() {
			cerr.add("escalation chain scoped to terminal state %q", c.State)
		}

		if scopes[c.State] {
			cerr.add("more than one escalation chain for %s", scope)
		}
		scopes[c.State] = true

		if len(c.Levels) == 0 {
			cerr.add("escalation chain for %s has no levels", scope)
		}
		prev := 0
		for i, l := range c.Levels {
			label := fmt.Sprintf("escalation %s level %d", scope, l.Level)
			if l.Level < 1 {
				cerr.add("%s must be >= 1", label)
			}
			if i > 0 && l.Level <= prev {
				cerr.add("%s is not above level %d", label, prev)
			}
			prev = l.Level

			switch l.Trigger {
			case TriggerTimeBased, TriggerConditionBased, TriggerManual:
			default:
				cerr.add("%s has unknown trigger %q", label, l.Trigger)
			}
			if l.Trigger == TriggerConditionBased && l.Condition == nil {
				cerr.add("%s is condition based but has no condition", label)
			}
			if l.TimeoutMinutes < 0 {
				cerr.add("%s has negative timeout", label)
			}

			for _, a := range l.Actions {
				switch a.Type {
				case EscalateReassign:
					if a.Role == "" {
						cerr.add("%s reassign needs a role", label)
					}
				case EscalateForceTransition:
					switch {
					case !hasTransitionKey(d, a.Transition):
						cerr.add("%s forces unknown transition %q", label, a.Transition)
					case !declaredFrom(d, states, c.State, a.Transition):
						cerr.add("%s forces %q, which is not declared from %s", label, a.Transition, scope)
					}
				case EscalateNotify:
					if a.Template == "" {
						cerr.add("%s notify needs a template", label)
					}
				default:
					cerr.add("%s has unknown action %q", label, a.Type)
				}
			}
		}

		switch c.Terminal.Type {
		case TerminalHold:
		case TerminalReject, TerminalApprove:
			if !hasTransitionKey(d, c.Terminal.TransitionKey()) {
				cerr.add("escalation chain for %s ends with unknown transition %q", scope, c.Terminal.TransitionKey())
			}
		default:
			cerr.add("escalation chain for %s has invalid terminal action %q", scope, c.Terminal.Type)
		}
	}
}
