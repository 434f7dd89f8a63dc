package entity

// Instance status constants
const (
	InstanceStatusActive    = "active"
	InstanceStatusCompleted = "completed"
	InstanceStatusCancelled = "cancelled"
)

// Assignment status constants
const (
	AssignmentStatusPending    = "pending"
	AssignmentStatusEscalating = "escalating"
	AssignmentStatusFulfilled  = "fulfilled"
	AssignmentStatusExpired    = "expired"
	AssignmentStatusReassigned = "reassigned"
	AssignmentStatusCancelled  = "cancelled"
)

// History kinds
const (
	HistoryKindStart      = "start"
	HistoryKindTransition = "transition"
	HistoryKindVote       = "vote"
	HistoryKindEscalation = "escalation"
	HistoryKindRouting    = "routing"
)

// Outbox kinds and statuses
const (
	OutboxKindNotify     = "notify"
	OutboxKindSideEffect = "side_effect"

	OutboxStatusPending   = "pending"
	OutboxStatusDelivered = "delivered"
	OutboxStatusFailed    = "failed"
)

// Reserved condition fields merged into instance data on evaluation
const (
	FieldStepsRemaining = "_steps_remaining"
	FieldStepIndex      = "_step_index"
	FieldRequester      = "_requester"
	FieldActor          = "_actor"
)

// Transition result statuses
const (
	ResultTransitioned = "transitioned"
	ResultVoteRecorded = "vote_recorded"
	ResultCompleted    = "completed"
)
