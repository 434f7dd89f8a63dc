package workflow

// StateKind classifies a state's role in the lifecycle
type StateKind string

const (
	KindInitial      StateKind = "initial"
	KindIntermediate StateKind = "intermediate"
	KindFinal        StateKind = "final"
	KindError        StateKind = "error"
)

var validKinds = map[StateKind]bool{
	KindInitial:      true,
	KindIntermediate: true,
	KindFinal:        true,
	KindError:        true,
}

// IsTerminal returns true for kinds that allow no outgoing transitions
func (k StateKind) IsTerminal() bool {
	return k == KindFinal || k == KindError
}

// IsValid returns true if the kind is one of the defined constants
func (k StateKind) IsValid() bool {
	return validKinds[k]
}

// String returns the string representation of the kind
func (k StateKind) String() string {
	return string(k)
}

// State is a named node of a workflow definition
type State struct {
	Key  string    `json:"key" yaml:"key"`
	Kind StateKind `json:"kind" yaml:"kind"`
}

// IsTerminal returns true if the state is final or error
func (s State) IsTerminal() bool {
	return s.Kind.IsTerminal()
}
