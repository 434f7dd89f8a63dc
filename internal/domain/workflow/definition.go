package workflow

import "time"

// Definition is one published version of a workflow. Definitions are
// immutable once published; a change is a new version.
type Definition struct {
	Name        string
	Version     int
	Description string
	States      []State
	Transitions []Transition

	RoutingRules []RoutingRule
	DefaultChain []ApprovalStep
	Escalations  []EscalationChain

	// Rules is opaque business configuration handed to collaborators
	Rules map[string]interface{}

	PublishedAt time.Time
}

// Key identifies a definition version
type Key struct {
	Name    string
	Version int
}

// InitialState returns the single initial state
func (d *Definition) InitialState() (State, bool) {
	for _, s := range d.States {
		if s.Kind == KindInitial {
			return s, true
		}
	}
	return State{}, false
}

// State looks up a state by key
func (d *Definition) State(key string) (State, bool) {
	for _, s := range d.States {
		if s.Key == key {
			return s, true
		}
	}
	return State{}, false
}

// IsTerminal returns true if key names a final or error state
func (d *Definition) IsTerminal(key string) bool {
	s, ok := d.State(key)
	return ok && s.IsTerminal()
}

// TransitionsFrom returns the transitions for (from, key) in declaration order
func (d *Definition) TransitionsFrom(from, key string) []Transition {
	var out []Transition
	for _, t := range d.Transitions {
		if t.From == from && t.Key == key {
			out = append(out, t)
		}
	}
	return out
}

// HasTransition reports whether (from, to) is an edge of the definition
func (d *Definition) HasTransition(from, to string) bool {
	for _, t := range d.Transitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// AutoTransitions returns the automatic transitions leaving state
func (d *Definition) AutoTransitions(state string) []Transition {
	var out []Transition
	for _, t := range d.Transitions {
		if t.From == state && t.Auto != nil {
			out = append(out, t)
		}
	}
	return out
}

// EscalationFor returns the chain scoped to state, else the workflow-wide chain
func (d *Definition) EscalationFor(state string) (EscalationChain, bool) {
	var wide *EscalationChain
	for i := range d.Escalations {
		c := &d.Escalations[i]
		if c.State == state {
			return *c, true
		}
		if c.State == "" {
			wide = c
		}
	}
	if wide != nil {
		return *wide, true
	}
	return EscalationChain{}, false
}

// MaxEscalationLevels bounds any walk over the definition's escalation chains
func (d *Definition) MaxEscalationLevels() int {
	n := 0
	for _, c := range d.Escalations {
		n += len(c.Levels)
	}
	return n
}
