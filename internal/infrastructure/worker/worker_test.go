package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/garyjia/wfm-approvals/internal/application/escalation"
	"github.com/garyjia/wfm-approvals/internal/application/port/porttest"
	"github.com/garyjia/wfm-approvals/internal/domain/entity"
)

var t0 = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

type countingRecorder struct {
	mu        sync.Mutex
	delivered map[string]int
	failed    map[string]int
	gaveUp    int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{delivered: map[string]int{}, failed: map[string]int{}}
}

func (r *countingRecorder) Delivered(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered[kind]++
}

func (r *countingRecorder) DeliveryFailed(kind string, gaveUp bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[kind]++
	if gaveUp {
		r.gaveUp++
	}
}

func enqueue(t *testing.T, store *porttest.Store, kind string) *entity.OutboxAction {
	t.Helper()
	a := &entity.OutboxAction{
		DeliveryID:    "d-" + kind,
		InstanceID:    7,
		Kind:          kind,
		Template:      "vacation_approved",
		Target:        "payroll.sync",
		Recipients:    []string{"riley"},
		Status:        entity.OutboxStatusPending,
		NextAttemptAt: t0,
	}
	require.NoError(t, store.Outbox().Enqueue(context.Background(), a))
	return a
}

func newOutboxWorker(store *porttest.Store, notifier *porttest.Notifier, handler *porttest.ActionHandler, now *time.Time, rec DeliveryRecorder) *OutboxWorker {
	return NewOutboxWorker(OutboxWorkerConfig{
		PollInterval: time.Hour,
		MaxAttempts:  3,
		BaseBackoff:  time.Minute,
		MaxBackoff:   3 * time.Minute,
	}, store.Outbox(), notifier, handler, zap.NewNop(),
		WithOutboxClock(func() time.Time { return *now }),
		WithDeliveryRecorder(rec))
}

func TestOutboxWorker_DeliversByKind(t *testing.T) {
	store := porttest.NewStore()
	notifier := &porttest.Notifier{}
	handler := &porttest.ActionHandler{}
	rec := newCountingRecorder()
	now := t0

	notify := enqueue(t, store, entity.OutboxKindNotify)
	effect := enqueue(t, store, entity.OutboxKindSideEffect)

	w := newOutboxWorker(store, notifier, handler, &now, rec)
	delivered, failed, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)
	assert.Equal(t, 0, failed)

	msgs := notifier.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, notify.DeliveryID, msgs[0].DeliveryID)
	assert.Equal(t, []string{"riley"}, msgs[0].Recipients)

	require.Len(t, handler.Handled, 1)
	assert.Equal(t, effect.DeliveryID, handler.Handled[0].DeliveryID)

	stored, err := store.Outbox().GetByInstanceID(context.Background(), 7)
	require.NoError(t, err)
	for _, a := range stored {
		assert.Equal(t, entity.OutboxStatusDelivered, a.Status)
	}
	assert.Equal(t, 1, rec.delivered[entity.OutboxKindNotify])
	assert.Equal(t, 1, rec.delivered[entity.OutboxKindSideEffect])

	delivered, _, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, delivered)
}

func TestOutboxWorker_RetriesWithBackoffThenGivesUp(t *testing.T) {
	store := porttest.NewStore()
	notifier := &porttest.Notifier{Err: errors.New("lark unavailable")}
	rec := newCountingRecorder()
	now := t0

	action := enqueue(t, store, entity.OutboxKindNotify)
	w := newOutboxWorker(store, notifier, &porttest.ActionHandler{}, &now, rec)
	ctx := context.Background()

	get := func() *entity.OutboxAction {
		stored, err := store.Outbox().GetByInstanceID(ctx, 7)
		require.NoError(t, err)
		require.Len(t, stored, 1)
		return stored[0]
	}

	_, failed, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
	got := get()
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "lark unavailable", got.LastError)
	assert.Equal(t, t0.Add(time.Minute), got.NextAttemptAt)

	// not due yet
	_, failed, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, failed)

	now = t0.Add(time.Minute)
	_, _, err = w.RunOnce(ctx)
	require.NoError(t, err)
	got = get()
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, now.Add(2*time.Minute), got.NextAttemptAt)
	assert.Equal(t, entity.OutboxStatusPending, got.Status)

	now = now.Add(2 * time.Minute)
	_, _, err = w.RunOnce(ctx)
	require.NoError(t, err)
	got = get()
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, entity.OutboxStatusFailed, got.Status)
	assert.Equal(t, 1, rec.gaveUp)
	assert.Equal(t, action.DeliveryID, got.DeliveryID)
}

func TestOutboxWorker_Backoff(t *testing.T) {
	w := NewOutboxWorker(OutboxWorkerConfig{BaseBackoff: time.Second, MaxBackoff: 5 * time.Second}, nil, nil, nil, zap.NewNop())
	assert.Equal(t, time.Second, w.backoff(1))
	assert.Equal(t, 2*time.Second, w.backoff(2))
	assert.Equal(t, 4*time.Second, w.backoff(3))
	assert.Equal(t, 5*time.Second, w.backoff(4))
	assert.Equal(t, 5*time.Second, w.backoff(30))
}

func TestOutboxWorker_UnknownKindFails(t *testing.T) {
	store := porttest.NewStore()
	now := t0
	enqueue(t, store, "webhook")

	w := newOutboxWorker(store, &porttest.Notifier{}, &porttest.ActionHandler{}, &now, newCountingRecorder())
	delivered, failed, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, delivered)
	assert.Equal(t, 1, failed)
}

type fakeSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *fakeSweeper) Sweep(_ context.Context, _ time.Time) (escalation.SweepReport, error) {
	s.calls.Add(1)
	return escalation.SweepReport{Scanned: 1, Escalated: 1}, s.err
}

func TestEscalationWorker_RunOnce(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sweeper := &fakeSweeper{}
	w := NewEscalationWorker(EscalationWorkerConfig{Interval: time.Hour}, sweeper, zap.New(core))

	report, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Escalated)
	assert.Zero(t, logs.Len())

	sweeper.err = errors.New("database is locked")
	_, err = w.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int32(2), sweeper.calls.Load())
	assert.Equal(t, 1, logs.FilterMessage("Escalation sweep failed").Len())
}

func TestWorkerManager_Lifecycle(t *testing.T) {
	sweeper := &fakeSweeper{}
	w := NewEscalationWorker(EscalationWorkerConfig{Interval: 5 * time.Millisecond}, sweeper, zap.NewNop())

	m := NewWorkerManager(zap.NewNop())
	m.Register(w)
	assert.Equal(t, 1, m.GetWorkerCount())

	assert.Equal(t, []Status{{Name: "EscalationWorker", Running: false}}, m.Status())

	require.NoError(t, m.StartAll(context.Background()))
	assert.True(t, m.IsRunning())
	assert.Equal(t, []Status{{Name: "EscalationWorker", Running: true}}, m.Status())
	assert.Error(t, m.StartAll(context.Background()))

	assert.Eventually(t, func() bool { return sweeper.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.StopAll())
	assert.False(t, m.IsRunning())

	calls := sweeper.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, sweeper.calls.Load())

	require.NoError(t, m.StopAll())
}

func TestWorkerManager_StartFailureStopsStartedWorkers(t *testing.T) {
	sweeper := &fakeSweeper{}
	good := NewEscalationWorker(EscalationWorkerConfig{Interval: 5 * time.Millisecond}, sweeper, zap.NewNop())
	bad := NewEscalationWorker(EscalationWorkerConfig{}, &fakeSweeper{}, zap.NewNop())

	m := NewWorkerManager(zap.NewNop())
	m.Register(good)
	m.Register(bad)

	require.Error(t, m.StartAll(context.Background()))
	assert.False(t, m.IsRunning())
	for _, st := range m.Status() {
		assert.False(t, st.Running, st.Name)
	}

	calls := sweeper.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, sweeper.calls.Load())
	require.NoError(t, m.StopAll())
}

func TestPollLoop_RejectsZeroInterval(t *testing.T) {
	w := NewEscalationWorker(EscalationWorkerConfig{}, &fakeSweeper{}, zap.NewNop())
	assert.Error(t, w.Start(context.Background()))
}
