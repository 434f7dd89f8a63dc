package workflow

import "fmt"

// Select picks the transition to fire for key from state. Candidates are tried
// in declaration order and the first one whose condition holds against data
// wins, mirroring guarded transitions sharing a trigger. permits filters
// candidates by authorization.
func (d *Definition) Select(from, key string, data map[string]interface{}, permits func(Transition) bool) (Transition, error) {
	if d.IsTerminal(from) {
		return Transition{}, fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	}

	candidates := d.TransitionsFrom(from, key)
	if len(candidates) == 0 {
		return Transition{}, fmt.Errorf("%w: cannot fire %s from state %s", ErrInvalidTransition, key, from)
	}

	allowed := candidates[:0:0]
	for _, t := range candidates {
		if permits == nil || permits(t) {
			allowed = append(allowed, t)
		}
	}
	if len(allowed) == 0 {
		return Transition{}, fmt.Errorf("%w: %s from state %s", ErrUnauthorized, key, from)
	}

	var last *ConditionError
	for _, t := range allowed {
		ok, err := t.Guard().Eval(data)
		if err == nil && ok {
			return t, nil
		}
		last = &ConditionError{Transition: key, Condition: t.Guard().String(), Cause: err}
	}
	return Transition{}, last
}
