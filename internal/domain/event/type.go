package event

// Type identifies the type of domain event
type Type string

const (
	TypeInstanceStarted      Type = "instance.started"
	TypeInstanceTransitioned Type = "instance.transitioned"
	TypeVoteRecorded         Type = "instance.vote_recorded"
	TypeInstanceCompleted    Type = "instance.completed"
	TypeAssignmentEscalated  Type = "assignment.escalated"
	TypeActionRequested      Type = "action.requested"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeInstanceStarted,
		TypeInstanceTransitioned,
		TypeVoteRecorded,
		TypeInstanceCompleted,
		TypeAssignmentEscalated,
		TypeActionRequested:
		return true
	default:
		return false
	}
}
