package repository

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/wfm-approvals/internal/application/port"
	"github.com/garyjia/wfm-approvals/internal/application/registry"
	appwf "github.com/garyjia/wfm-approvals/internal/application/workflow"
	"github.com/garyjia/wfm-approvals/internal/domain/entity"
	"github.com/garyjia/wfm-approvals/internal/domain/workflow"
	"github.com/garyjia/wfm-approvals/internal/domain/workflow/workflowtest"
	"github.com/garyjia/wfm-approvals/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/wfm-approvals/pkg/database"
)

var t0 = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

type repos struct {
	db          *sqlite.DB
	instances   port.InstanceRepository
	assignments port.AssignmentRepository
	history     port.HistoryRepository
	outbox      port.OutboxRepository
}

func setupDB(t *testing.T) *repos {
	t.Helper()
	logger := zap.NewNop()

	conn, err := database.New(database.Config{
		Path:         filepath.Join(t.TempDir(), "wfm.db"),
		MaxOpenConns: 4,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, database.NewMigrator(conn, logger).Up())

	db := sqlite.NewDB(conn.DB, logger)
	return &repos{
		db:          db,
		instances:   NewInstanceRepository(db, logger),
		assignments: NewAssignmentRepository(db, logger),
		history:     NewHistoryRepository(db, logger),
		outbox:      NewOutboxRepository(db, logger),
	}
}

func newInstance(state string) *entity.Instance {
	return &entity.Instance{
		Workflow:        "vacation_standard",
		WorkflowVersion: 1,
		CurrentState:    state,
		Version:         1,
		Requester:       "riley",
		Data:            map[string]interface{}{"days": 3, "reason": "trip"},
		RuleID:          workflow.DefaultRuleID,
		Chain: workflow.ApprovalChain{RuleID: workflow.DefaultRuleID, Steps: []workflow.ApprovalStep{
			{Name: "board", Mode: workflow.ModeParallel, Approvers: []string{"user:ana", "user:ben"}, Quorum: workflow.Quorum{Kind: workflow.QuorumCount, N: 2}, Fallback: "reject"},
		}},
		Status:         entity.InstanceStatusActive,
		StateEnteredAt: t0,
		CreatedAt:      t0,
		UpdatedAt:      t0,
	}
}

func TestInstanceRepository(t *testing.T) {
	r := setupDB(t)
	ctx := context.Background()

	inst := newInstance("pending_supervisor")
	require.NoError(t, r.instances.Create(ctx, inst))
	require.NotZero(t, inst.ID)

	got, err := r.instances.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "pending_supervisor", got.CurrentState)
	assert.Equal(t, float64(3), got.Data["days"])
	assert.Equal(t, inst.Chain, got.Chain)
	assert.True(t, t0.Equal(got.StateEnteredAt))
	assert.Nil(t, got.CompletedAt)

	missing, err := r.instances.GetByID(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	got.CurrentState = "approved"
	got.Status = entity.InstanceStatusCompleted
	got.Version = 2
	done := t0.Add(time.Hour)
	got.CompletedAt = &done
	require.NoError(t, r.instances.UpdateIfVersion(ctx, got, 1))

	stale := *got
	stale.Version = 3
	err = r.instances.UpdateIfVersion(ctx, &stale, 1)
	assert.ErrorIs(t, err, workflow.ErrConcurrentModification)

	reloaded, err := r.instances.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), reloaded.Version)
	require.NotNil(t, reloaded.CompletedAt)
	assert.True(t, done.Equal(*reloaded.CompletedAt))
}

func TestInstanceRepository_ListActiveInState(t *testing.T) {
	r := setupDB(t)
	ctx := context.Background()

	old := newInstance("open")
	old.StateEnteredAt = t0.Add(-3 * time.Hour)
	recent := newInstance("open")
	recent.StateEnteredAt = t0.Add(-10 * time.Minute)
	held := newInstance("open")
	held.OnHold = true
	held.StateEnteredAt = t0.Add(-5 * time.Hour)
	other := newInstance("closed")
	other.StateEnteredAt = t0.Add(-5 * time.Hour)

	for _, inst := range []*entity.Instance{recent, old, held, other} {
		require.NoError(t, r.instances.Create(ctx, inst))
	}

	q := port.StateQuery{Workflow: "vacation_standard", Version: 1, State: "open", EnteredBefore: t0.Add(-time.Hour), Limit: 10}
	got, err := r.instances.ListActiveInState(ctx, q)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, old.ID, got[0].ID)

	q.EnteredBefore = t0
	got, err = r.instances.ListActiveInState(ctx, q)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []int64{old.ID, recent.ID}, []int64{got[0].ID, got[1].ID})

	q.Limit = 1
	page, err := r.instances.ListActiveInState(ctx, q)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, old.ID, page[0].ID)

	page, err = r.instances.ListActiveInState(ctx, q.Next(page[0]))
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, recent.ID, page[0].ID)

	page, err = r.instances.ListActiveInState(ctx, q.Next(page[0]))
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestInstanceRepository_ListActiveInStateSameInstant(t *testing.T) {
	r := setupDB(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		inst := newInstance("open")
		inst.StateEnteredAt = t0.Add(-2 * time.Hour)
		require.NoError(t, r.instances.Create(ctx, inst))
		ids = append(ids, inst.ID)
	}

	q := port.StateQuery{Workflow: "vacation_standard", Version: 1, State: "open", EnteredBefore: t0, Limit: 2}
	first, err := r.instances.ListActiveInState(ctx, q)
	require.NoError(t, err)
	require.Len(t, first, 2)

	rest, err := r.instances.ListActiveInState(ctx, q.Next(first[1]))
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, []int64{ids[0], ids[1], ids[2]}, []int64{first[0].ID, first[1].ID, rest[0].ID})
}

func TestAssignmentRepository(t *testing.T) {
	r := setupDB(t)
	ctx := context.Background()

	inst := newInstance("pending_supervisor")
	require.NoError(t, r.instances.Create(ctx, inst))

	due := func(d time.Duration) *time.Time {
		v := t0.Add(d)
		return &v
	}
	late := &entity.Assignment{InstanceID: inst.ID, StepName: "supervisor", AssigneeRole: "supervisor", Candidates: []string{"sam"}, DueAt: due(-time.Hour), Status: entity.AssignmentStatusPending, CreatedAt: t0, UpdatedAt: t0}
	later := &entity.Assignment{InstanceID: inst.ID, StepName: "supervisor", AssigneeRole: "hr", DueAt: due(-time.Minute), Status: entity.AssignmentStatusPending, CreatedAt: t0, UpdatedAt: t0}
	future := &entity.Assignment{InstanceID: inst.ID, StepName: "supervisor", Candidates: []string{"ana"}, DueAt: due(time.Hour), Status: entity.AssignmentStatusPending, CreatedAt: t0, UpdatedAt: t0}
	noDue := &entity.Assignment{InstanceID: inst.ID, StepName: "supervisor", Candidates: []string{"ben"}, Status: entity.AssignmentStatusPending, CreatedAt: t0, UpdatedAt: t0}
	for _, a := range []*entity.Assignment{future, later, noDue, late} {
		require.NoError(t, r.assignments.Create(ctx, a))
	}

	overdue, err := r.assignments.ListOverdue(ctx, t0, 10)
	require.NoError(t, err)
	require.Len(t, overdue, 2)
	assert.Equal(t, late.ID, overdue[0].ID)
	assert.Equal(t, []string{"sam"}, overdue[0].Candidates)

	won, err := r.assignments.Claim(ctx, late.ID, entity.AssignmentStatusPending, entity.AssignmentStatusEscalating)
	require.NoError(t, err)
	assert.True(t, won)
	won, err = r.assignments.Claim(ctx, late.ID, entity.AssignmentStatusPending, entity.AssignmentStatusEscalating)
	require.NoError(t, err)
	assert.False(t, won)

	overdue, err = r.assignments.ListOverdue(ctx, t0, 10)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, later.ID, overdue[0].ID)

	open, err := r.assignments.GetOpenByInstanceID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Len(t, open, 4)

	future.Status = entity.AssignmentStatusFulfilled
	future.Decision = "approve"
	future.ActedBy = "ana"
	require.NoError(t, r.assignments.Update(ctx, future))
	got, err := r.assignments.GetByID(ctx, future.ID)
	require.NoError(t, err)
	assert.Equal(t, "approve", got.Decision)
	require.NotNil(t, got.DueAt)
	assert.True(t, future.DueAt.Equal(*got.DueAt))

	tests := []struct {
		name  string
		actor workflow.Actor
		want  []int64
	}{
		{"candidate", workflow.Actor{ID: "sam"}, []int64{inst.ID}},
		{"role of unresolved assignment", workflow.Actor{ID: "hal", Roles: []string{"hr"}}, []int64{inst.ID}},
		{"role does not override candidates", workflow.Actor{ID: "sue", Roles: []string{"supervisor"}}, nil},
		{"fulfilled assignment", workflow.Actor{ID: "ana"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, err := r.assignments.ListPendingInstanceIDs(ctx, tt.actor)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestHistoryRepository(t *testing.T) {
	r := setupDB(t)
	ctx := context.Background()

	inst := newInstance("draft")
	require.NoError(t, r.instances.Create(ctx, inst))

	for i, kind := range []string{entity.HistoryKindStart, entity.HistoryKindRouting, entity.HistoryKindTransition} {
		require.NoError(t, r.history.Append(ctx, &entity.HistoryEntry{
			InstanceID: inst.ID,
			Kind:       kind,
			FromState:  "draft",
			ToState:    "pending_supervisor",
			Actor:      "riley",
			Details:    map[string]interface{}{"seq": i},
			Timestamp:  t0.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := r.history.GetByInstanceID(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, entity.HistoryKindStart, all[0].Kind)
	assert.Equal(t, float64(2), all[2].Details["seq"])

	window, err := r.history.List(ctx, port.HistoryFilter{Workflow: "vacation_standard", Since: t0.Add(time.Minute), Until: t0.Add(2 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, entity.HistoryKindRouting, window[0].Kind)

	none, err := r.history.List(ctx, port.HistoryFilter{Workflow: "overtime"})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = r.db.ExecContext(ctx, `UPDATE workflow_history SET actor = 'mallory'`)
	assert.Error(t, err)
	_, err = r.db.ExecContext(ctx, `DELETE FROM workflow_history`)
	assert.Error(t, err)
}

func TestOutboxRepository(t *testing.T) {
	r := setupDB(t)
	ctx := context.Background()

	inst := newInstance("approved")
	require.NoError(t, r.instances.Create(ctx, inst))

	action := appwf.NewOutboxAction(inst, entity.OutboxKindNotify, "vacation_approved", "", []string{"riley"}, nil, t0)
	require.NoError(t, r.outbox.Enqueue(ctx, action))

	dup := *action
	dup.ID = 0
	assert.Error(t, r.outbox.Enqueue(ctx, &dup))

	due, err := r.outbox.ListDue(ctx, t0, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, action.DeliveryID, due[0].DeliveryID)
	assert.Equal(t, "vacation_standard", due[0].Payload["workflow"])

	require.NoError(t, r.outbox.RecordFailure(ctx, action.ID, "lark unavailable", t0.Add(time.Minute), false))
	due, err = r.outbox.ListDue(ctx, t0, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = r.outbox.ListDue(ctx, t0.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].Attempts)
	assert.Equal(t, "lark unavailable", due[0].LastError)

	require.NoError(t, r.outbox.MarkDelivered(ctx, action.ID, t0.Add(2*time.Minute)))
	stored, err := r.outbox.GetByInstanceID(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, entity.OutboxStatusDelivered, stored[0].Status)
	assert.Equal(t, 2, stored[0].Attempts)
	require.NotNil(t, stored[0].DeliveredAt)
}

func TestWithTransaction_RollsBack(t *testing.T) {
	r := setupDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	var id int64
	err := r.db.WithTransaction(ctx, func(txCtx context.Context) error {
		inst := newInstance("draft")
		if err := r.instances.Create(txCtx, inst); err != nil {
			return err
		}
		id = inst.ID
		return r.db.WithTransaction(txCtx, func(inner context.Context) error {
			return boom
		})
	})
	assert.ErrorIs(t, err, boom)

	got, err := r.instances.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEngineOnSQLite_ConcurrentDecisions(t *testing.T) {
	r := setupDB(t)
	ctx := context.Background()

	reg := registry.New(zap.NewNop())
	require.NoError(t, reg.Publish(workflowtest.VacationDefinition()))
	engine := appwf.NewEngine(reg, appwf.Repositories{
		Instances:   r.instances,
		Assignments: r.assignments,
		History:     r.history,
		Outbox:      r.outbox,
	}, r.db)

	res, err := engine.Start(ctx, appwf.StartRequest{
		Workflow:  workflowtest.Vacation,
		Requester: "riley",
		Data:      map[string]interface{}{"advance_notice_days": 20},
	})
	require.NoError(t, err)
	assert.Equal(t, "long_notice", res.RuleID)

	supervisor := workflow.Actor{ID: "sam", Roles: []string{"supervisor"}}
	var (
		wg      sync.WaitGroup
		barrier = make(chan struct{})
		errs    = make([]error, 2)
	)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-barrier
			_, errs[i] = engine.ApplyTransition(ctx, appwf.TransitionRequest{
				InstanceID:      res.InstanceID,
				Transition:      "approve",
				Actor:           supervisor,
				ExpectedVersion: res.Version,
			})
		}(i)
	}
	close(barrier)
	wg.Wait()

	ok, conflicts := 0, 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else if errors.Is(err, workflow.ErrConcurrentModification) {
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)

	view, err := engine.GetInstance(ctx, res.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, "approved", view.Instance.CurrentState)
	assert.Equal(t, res.Version+1, view.Instance.Version)

	actions, err := r.outbox.GetByInstanceID(ctx, res.InstanceID)
	require.NoError(t, err)
	assert.Len(t, actions, 1)
}
