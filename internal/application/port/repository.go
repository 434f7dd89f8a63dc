package port

import (
	"context"
	"time"

	"github.com/garyjia/wfm-approvals/internal/domain/entity"
	"github.com/garyjia/wfm-approvals/internal/domain/workflow"
)

// InstanceRepository defines persistence operations for Instance
type InstanceRepository interface {
	Create(ctx context.Context, instance *entity.Instance) error

	// GetByID returns nil, nil when the instance does not exist
	GetByID(ctx context.Context, id int64) (*entity.Instance, error)

	// UpdateIfVersion writes instance only if the stored version still equals
	// expected. It returns workflow.ErrConcurrentModification otherwise.
	UpdateIfVersion(ctx context.Context, instance *entity.Instance, expected int64) error

	// ListActiveInState returns one page of active, not on-hold instances
	// matching q, ordered by (StateEnteredAt, ID)
	ListActiveInState(ctx context.Context, q StateQuery) ([]*entity.Instance, error)
}

// StateQuery selects the instances of one workflow version that entered
// State before EnteredBefore. A non-zero AfterID resumes listing after the
// instance at (AfterEnteredAt, AfterID).
type StateQuery struct {
	Workflow      string
	Version       int
	State         string
	EnteredBefore time.Time

	AfterEnteredAt time.Time
	AfterID        int64
	Limit          int
}

// Next returns the query for the page after last
func (q StateQuery) Next(last *entity.Instance) StateQuery {
	q.AfterEnteredAt = last.StateEnteredAt
	q.AfterID = last.ID
	return q
}

// AssignmentRepository defines persistence operations for Assignment
type AssignmentRepository interface {
	Create(ctx context.Context, assignment *entity.Assignment) error
	GetByID(ctx context.Context, id int64) (*entity.Assignment, error)
	GetByInstanceID(ctx context.Context, instanceID int64) ([]*entity.Assignment, error)

	// GetOpenByInstanceID returns pending and escalating assignments
	GetOpenByInstanceID(ctx context.Context, instanceID int64) ([]*entity.Assignment, error)

	// ListOverdue returns pending assignments due at or before now, earliest first
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]*entity.Assignment, error)

	// ListPendingInstanceIDs returns instances with a pending assignment the
	// actor may act on, either as a candidate or through an unresolved role
	ListPendingInstanceIDs(ctx context.Context, actor workflow.Actor) ([]int64, error)

	// Claim moves an assignment from one status to another atomically and
	// reports whether this caller won
	Claim(ctx context.Context, id int64, from, to string) (bool, error)

	Update(ctx context.Context, assignment *entity.Assignment) error
}

// HistoryFilter narrows a history query
type HistoryFilter struct {
	InstanceID int64
	Workflow   string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// HistoryRepository is the append-only audit log
type HistoryRepository interface {
	Append(ctx context.Context, entry *entity.HistoryEntry) error
	GetByInstanceID(ctx context.Context, instanceID int64) ([]*entity.HistoryEntry, error)
	List(ctx context.Context, filter HistoryFilter) ([]*entity.HistoryEntry, error)
}

// OutboxRepository stores action-requested markers until delivery
type OutboxRepository interface {
	Enqueue(ctx context.Context, action *entity.OutboxAction) error

	// ListDue returns pending actions whose next attempt is due
	ListDue(ctx context.Context, now time.Time, limit int) ([]*entity.OutboxAction, error)
	MarkDelivered(ctx context.Context, id int64, at time.Time) error

	// RecordFailure counts a failed attempt; giveUp marks the action failed
	RecordFailure(ctx context.Context, id int64, errMsg string, nextAttempt time.Time, giveUp bool) error
	GetByInstanceID(ctx context.Context, instanceID int64) ([]*entity.OutboxAction, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
