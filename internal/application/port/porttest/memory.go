// Package porttest provides in-memory implementations of the application
// ports for tests
package porttest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/wfm-approvals/internal/application/port"
	"github.com/garyjia/wfm-approvals/internal/domain/entity"
	"github.com/garyjia/wfm-approvals/internal/domain/workflow"
)

type txKey struct{}

// Store keeps every repository in memory. Transactions are serialized and
// roll back on error.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex

	instances   map[int64]*entity.Instance
	assignments map[int64]*entity.Assignment
	history     []*entity.HistoryEntry
	outbox      map[int64]*entity.OutboxAction
	nextID      int64
}

var _ port.TransactionManager = (*Store)(nil)

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		instances:   make(map[int64]*entity.Instance),
		assignments: make(map[int64]*entity.Assignment),
		outbox:      make(map[int64]*entity.OutboxAction),
	}
}

// Instances returns the instance repository
func (s *Store) Instances() port.InstanceRepository { return instanceRepo{s} }

// Assignments returns the assignment repository
func (s *Store) Assignments() port.AssignmentRepository { return assignmentRepo{s} }

// History returns the history repository
func (s *Store) History() port.HistoryRepository { return historyRepo{s} }

// Outbox returns the outbox repository
func (s *Store) Outbox() port.OutboxRepository { return outboxRepo{s} }

// WithTransaction runs fn serialized against other transactions. Nested
// calls join the outer transaction.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	instances   map[int64]*entity.Instance
	assignments map[int64]*entity.Assignment
	history     []*entity.HistoryEntry
	outbox      map[int64]*entity.OutboxAction
	nextID      int64
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := snapshot{
		instances:   make(map[int64]*entity.Instance, len(s.instances)),
		assignments: make(map[int64]*entity.Assignment, len(s.assignments)),
		history:     append([]*entity.HistoryEntry(nil), s.history...),
		outbox:      make(map[int64]*entity.OutboxAction, len(s.outbox)),
		nextID:      s.nextID,
	}
	for id, v := range s.instances {
		snap.instances[id] = cloneInstance(v)
	}
	for id, v := range s.assignments {
		snap.assignments[id] = cloneAssignment(v)
	}
	for id, v := range s.outbox {
		c := *v
		snap.outbox[id] = &c
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.instances = snap.instances
	s.assignments = snap.assignments
	s.history = snap.history
	s.outbox = snap.outbox
	s.nextID = snap.nextID
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func cloneInstance(i *entity.Instance) *entity.Instance {
	c := *i
	if i.Data != nil {
		c.Data = make(map[string]interface{}, len(i.Data))
		for k, v := range i.Data {
			c.Data[k] = v
		}
	}
	c.Chain.Steps = append([]workflow.ApprovalStep(nil), i.Chain.Steps...)
	if i.CompletedAt != nil {
		t := *i.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func cloneAssignment(a *entity.Assignment) *entity.Assignment {
	c := *a
	c.Candidates = append([]string(nil), a.Candidates...)
	if a.DueAt != nil {
		t := *a.DueAt
		c.DueAt = &t
	}
	return &c
}

type instanceRepo struct{ s *Store }

func (r instanceRepo) Create(_ context.Context, inst *entity.Instance) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	inst.ID = r.s.id()
	r.s.instances[inst.ID] = cloneInstance(inst)
	return nil
}

func (r instanceRepo) GetByID(_ context.Context, id int64) (*entity.Instance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	inst, ok := r.s.instances[id]
	if !ok {
		return nil, nil
	}
	return cloneInstance(inst), nil
}

func (r instanceRepo) UpdateIfVersion(_ context.Context, inst *entity.Instance, expected int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.instances[inst.ID]
	if !ok || stored.Version != expected {
		return fmt.Errorf("%w: instance %d", workflow.ErrConcurrentModification, inst.ID)
	}
	r.s.instances[inst.ID] = cloneInstance(inst)
	return nil
}

func (r instanceRepo) ListActiveInState(_ context.Context, q port.StateQuery) ([]*entity.Instance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*entity.Instance
	for _, inst := range r.s.instances {
		if !inst.IsActive() || inst.OnHold ||
			inst.Workflow != q.Workflow || inst.WorkflowVersion != q.Version ||
			inst.CurrentState != q.State || !inst.StateEnteredAt.Before(q.EnteredBefore) {
			continue
		}
		if q.AfterID > 0 && !enteredAfter(inst, q.AfterEnteredAt, q.AfterID) {
			continue
		}
		out = append(out, cloneInstance(inst))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StateEnteredAt.Equal(out[j].StateEnteredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StateEnteredAt.Before(out[j].StateEnteredAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func enteredAfter(inst *entity.Instance, at time.Time, id int64) bool {
	if inst.StateEnteredAt.Equal(at) {
		return inst.ID > id
	}
	return inst.StateEnteredAt.After(at)
}

type assignmentRepo struct{ s *Store }

func (r assignmentRepo) Create(_ context.Context, a *entity.Assignment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a.ID = r.s.id()
	r.s.assignments[a.ID] = cloneAssignment(a)
	return nil
}

func (r assignmentRepo) GetByID(_ context.Context, id int64) (*entity.Assignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.assignments[id]
	if !ok {
		return nil, nil
	}
	return cloneAssignment(a), nil
}

func (r assignmentRepo) GetByInstanceID(_ context.Context, instanceID int64) ([]*entity.Assignment, error) {
	return r.filter(func(a *entity.Assignment) bool { return a.InstanceID == instanceID }), nil
}

func (r assignmentRepo) GetOpenByInstanceID(_ context.Context, instanceID int64) ([]*entity.Assignment, error) {
	return r.filter(func(a *entity.Assignment) bool { return a.InstanceID == instanceID && a.IsOpen() }), nil
}

func (r assignmentRepo) ListOverdue(_ context.Context, now time.Time, limit int) ([]*entity.Assignment, error) {
	out := r.filter(func(a *entity.Assignment) bool {
		return a.Status == entity.AssignmentStatusPending && a.IsOverdue(now)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].DueAt.Before(*out[j].DueAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r assignmentRepo) ListPendingInstanceIDs(_ context.Context, actor workflow.Actor) ([]int64, error) {
	seen := make(map[int64]bool)
	var ids []int64
	for _, a := range r.filter(func(a *entity.Assignment) bool { return a.IsOpen() && a.CanAct(actor) }) {
		if !seen[a.InstanceID] {
			seen[a.InstanceID] = true
			ids = append(ids, a.InstanceID)
		}
	}
	return ids, nil
}

func (r assignmentRepo) Claim(_ context.Context, id int64, from, to string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.assignments[id]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	return true, nil
}

func (r assignmentRepo) Update(_ context.Context, a *entity.Assignment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.assignments[a.ID]; !ok {
		return fmt.Errorf("assignment %d not found", a.ID)
	}
	r.s.assignments[a.ID] = cloneAssignment(a)
	return nil
}

// filter returns matching assignments ordered by id
func (r assignmentRepo) filter(match func(*entity.Assignment) bool) []*entity.Assignment {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*entity.Assignment
	for _, a := range r.s.assignments {
		if match(a) {
			out = append(out, cloneAssignment(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type historyRepo struct{ s *Store }

func (r historyRepo) Append(_ context.Context, entry *entity.HistoryEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	entry.ID = r.s.id()
	c := *entry
	r.s.history = append(r.s.history, &c)
	return nil
}

func (r historyRepo) GetByInstanceID(ctx context.Context, instanceID int64) ([]*entity.HistoryEntry, error) {
	return r.List(ctx, port.HistoryFilter{InstanceID: instanceID})
}

func (r historyRepo) List(_ context.Context, filter port.HistoryFilter) ([]*entity.HistoryEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*entity.HistoryEntry
	for _, h := range r.s.history {
		if filter.InstanceID != 0 && h.InstanceID != filter.InstanceID {
			continue
		}
		if filter.Workflow != "" {
			inst, ok := r.s.instances[h.InstanceID]
			if !ok || inst.Workflow != filter.Workflow {
				continue
			}
		}
		if !filter.Since.IsZero() && h.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && !h.Timestamp.Before(filter.Until) {
			continue
		}
		c := *h
		out = append(out, &c)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

type outboxRepo struct{ s *Store }

func (r outboxRepo) Enqueue(_ context.Context, action *entity.OutboxAction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	action.ID = r.s.id()
	c := *action
	r.s.outbox[action.ID] = &c
	return nil
}

func (r outboxRepo) ListDue(_ context.Context, now time.Time, limit int) ([]*entity.OutboxAction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*entity.OutboxAction
	for _, a := range r.s.outbox {
		if a.Status == entity.OutboxStatusPending && !a.NextAttemptAt.After(now) {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r outboxRepo) MarkDelivered(_ context.Context, id int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.outbox[id]
	if !ok {
		return fmt.Errorf("outbox action %d not found", id)
	}
	a.Status = entity.OutboxStatusDelivered
	a.Attempts++
	a.DeliveredAt = &at
	a.UpdatedAt = at
	return nil
}

func (r outboxRepo) RecordFailure(_ context.Context, id int64, errMsg string, nextAttempt time.Time, giveUp bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.outbox[id]
	if !ok {
		return fmt.Errorf("outbox action %d not found", id)
	}
	a.Attempts++
	a.LastError = errMsg
	a.NextAttemptAt = nextAttempt
	if giveUp {
		a.Status = entity.OutboxStatusFailed
	}
	return nil
}

func (r outboxRepo) GetByInstanceID(_ context.Context, instanceID int64) ([]*entity.OutboxAction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*entity.OutboxAction
	for _, a := range r.s.outbox {
		if a.InstanceID == instanceID {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
