// Package escalation drives overdue assignments through their escalation
// chains and fires timed automatic transitions.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/wfm-approvals/internal/application/calendar"
	"github.com/garyjia/wfm-approvals/internal/application/dispatcher"
	"github.com/garyjia/wfm-approvals/internal/application/port"
	"github.com/garyjia/wfm-approvals/internal/application/workflow"
	"github.com/garyjia/wfm-approvals/internal/domain/entity"
	"github.com/garyjia/wfm-approvals/internal/domain/event"
	domainwf "github.com/garyjia/wfm-approvals/internal/domain/workflow"
)

const (
	// DefaultBatchSize bounds the rows read per query of a sweep
	DefaultBatchSize = 100

	// DefaultRecheckInterval is how long a deferred condition_based level
	// waits before it is evaluated again
	DefaultRecheckInterval = time.Minute
)

// Outcomes of escalating one assignment
const (
	OutcomeEscalated = "escalated"
	OutcomeTerminal  = "terminal"
	OutcomeHeld      = "held"
	OutcomeDeferred  = "deferred"
	OutcomeManual    = "awaiting_manual"
	OutcomeNoChain   = "no_chain"
	OutcomeStale     = "stale"
)

// Catalog lists every published definition version
type Catalog interface {
	workflow.DefinitionSource
	Definitions() []*domainwf.Definition
}

// BusinessTime computes deadlines and elapsed business minutes
type BusinessTime interface {
	ComputeDeadline(ctx context.Context, start time.Time, minutes int, opts calendar.Options) (time.Time, error)
	BusinessMinutesBetween(ctx context.Context, from, to time.Time, opts calendar.Options) (int, error)
}

// Recorder observes escalation outcomes
type Recorder interface {
	Escalated(workflow, outcome string)
	SweepCompleted(d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) Escalated(string, string)     {}
func (nopRecorder) SweepCompleted(time.Duration) {}

// SweepReport summarizes one sweep
type SweepReport struct {
	Scanned   int `json:"scanned"`
	Escalated int `json:"escalated"`
	Terminal  int `json:"terminal"`
	Deferred  int `json:"deferred"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	AutoFired int `json:"auto_fired"`
}

// Result describes the escalation of one assignment
type Result struct {
	AssignmentID int64  `json:"assignment_id"`
	Level        int    `json:"level"`
	Outcome      string `json:"outcome"`
}

// Scheduler escalates overdue assignments. Several schedulers may sweep the
// same store: assignments are claimed with a status compare-and-swap and
// instance writes use the version compare-and-swap.
type Scheduler struct {
	catalog     Catalog
	engine      workflow.Engine
	repos       workflow.Repositories
	txManager   port.TransactionManager
	assigner    *workflow.Assigner
	clock       BusinessTime
	dispatcher  dispatcher.Dispatcher
	recorder    Recorder
	logger      *zap.Logger
	batchSize   int
	recheck     time.Duration
	manualRoles []string
	now         func() time.Time
}

// Option configures the scheduler
type Option func(*Scheduler)

// WithBatchSize bounds how many overdue assignments one sweep handles
func WithBatchSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithRecheckInterval sets how far a deferred assignment's deadline moves
func WithRecheckInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.recheck = d
		}
	}
}

// WithManualRoles restricts EscalateNow to actors holding one of roles
func WithManualRoles(roles ...string) Option {
	return func(s *Scheduler) { s.manualRoles = roles }
}

// WithDispatcher publishes assignment.escalated events
func WithDispatcher(d dispatcher.Dispatcher) Option {
	return func(s *Scheduler) { s.dispatcher = d }
}

// WithRecorder registers an outcome observer
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// WithLogger sets the scheduler logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock overrides the time source used by EscalateNow
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a scheduler
func NewScheduler(
	catalog Catalog,
	engine workflow.Engine,
	repos workflow.Repositories,
	txManager port.TransactionManager,
	assigner *workflow.Assigner,
	clock BusinessTime,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		catalog:   catalog,
		engine:    engine,
		repos:     repos,
		txManager: txManager,
		assigner:  assigner,
		clock:     clock,
		recorder:  nopRecorder{},
		logger:    zap.NewNop(),
		batchSize: DefaultBatchSize,
		recheck:   DefaultRecheckInterval,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep escalates the assignments overdue at now and fires timed automatic
// transitions. Per-assignment failures are logged and counted; the error is
// reserved for failing to list work.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	started := time.Now()
	defer func() { s.recorder.SweepCompleted(time.Since(started)) }()

	var report SweepReport
	overdue, err := s.repos.Assignments.ListOverdue(ctx, now, s.batchSize)
	if err != nil {
		return report, fmt.Errorf("failed to list overdue assignments: %w", err)
	}
	report.Scanned = len(overdue)

	for _, a := range overdue {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		res, err := s.claimAndEscalate(ctx, a.ID, now, nil, "")
		switch {
		case err != nil:
			report.Failed++
		case res == nil:
			report.Skipped++
		default:
			report.count(res.Outcome)
		}
	}

	fired, err := s.fireTimedAutos(ctx, now)
	report.AutoFired = fired
	if err != nil {
		return report, err
	}

	if report.Scanned > 0 || report.AutoFired > 0 {
		s.logger.Info("Escalation sweep completed",
			zap.Int("scanned", report.Scanned),
			zap.Int("escalated", report.Escalated),
			zap.Int("terminal", report.Terminal),
			zap.Int("deferred", report.Deferred),
			zap.Int("skipped", report.Skipped),
			zap.Int("failed", report.Failed),
			zap.Int("auto_fired", report.AutoFired))
	}
	return report, nil
}

func (r *SweepReport) count(outcome string) {
	switch outcome {
	case OutcomeEscalated:
		r.Escalated++
	case OutcomeTerminal, OutcomeHeld:
		r.Terminal++
	case OutcomeDeferred:
		r.Deferred++
	default:
		r.Skipped++
	}
}

// EscalateNow fires the next level for the pending assignments of the
// instance's current step, whatever the level's trigger
func (s *Scheduler) EscalateNow(ctx context.Context, instanceID int64, actor domainwf.Actor, reason string) ([]Result, error) {
	if actor.ID == "" {
		return nil, fmt.Errorf("%w: actor is required", workflow.ErrInvalidRequest)
	}
	if !s.mayEscalate(actor) {
		return nil, fmt.Errorf("%w: %s may not escalate instances", domainwf.ErrUnauthorized, actor.ID)
	}

	inst, err := s.repos.Instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, fmt.Errorf("%w: instance %d", domainwf.ErrNotFound, instanceID)
	}
	if !inst.IsActive() {
		return nil, fmt.Errorf("%w: instance %d is %s", domainwf.ErrInvalidTransition, inst.ID, inst.Status)
	}

	open, err := s.repos.Assignments.GetOpenByInstanceID(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var results []Result
	for _, a := range open {
		if a.StepIndex != inst.StepIndex || a.Status != entity.AssignmentStatusPending {
			continue
		}
		res, err := s.claimAndEscalate(ctx, a.ID, now, &actor, reason)
		if err != nil {
			return results, err
		}
		if res != nil {
			results = append(results, *res)
		}
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: instance %d has no pending assignment to escalate", domainwf.ErrInvalidTransition, instanceID)
	}
	return results, nil
}

func (s *Scheduler) mayEscalate(actor domainwf.Actor) bool {
	if actor.IsSystem() || len(s.manualRoles) == 0 {
		return true
	}
	for _, r := range s.manualRoles {
		if actor.HasRole(r) {
			return true
		}
	}
	return false
}

// claimAndEscalate returns nil, nil when another worker holds the assignment.
// The claim is the first write of the escalation transaction, so a failure
// rolls it back and the assignment stays pending for the next sweep.
func (s *Scheduler) claimAndEscalate(ctx context.Context, assignmentID int64, now time.Time, manual *domainwf.Actor, reason string) (*Result, error) {
	j := &job{now: now, manual: manual, reason: reason}
	nested := &workflow.AfterCommit{}

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		j.events = j.events[:0]
		nested.Discard()

		claimed, err := s.repos.Assignments.Claim(txCtx, assignmentID, entity.AssignmentStatusPending, entity.AssignmentStatusEscalating)
		if err != nil {
			return err
		}
		j.claimed = claimed
		if !claimed {
			return nil
		}
		return s.escalate(workflow.WithAfterCommit(txCtx, nested), assignmentID, j)
	})
	if err != nil {
		s.logger.Error("Escalation failed, assignment left pending",
			zap.Int64("assignment_id", assignmentID),
			zap.Error(err))
		return nil, err
	}
	if !j.claimed {
		return nil, nil
	}

	s.recorder.Escalated(j.workflow, j.result.Outcome)
	s.publish(ctx, j.events)
	nested.Run(ctx)
	s.logger.Info("Assignment escalated",
		zap.Int64("assignment_id", assignmentID),
		zap.Int64("instance_id", j.instanceID),
		zap.Int("level", j.result.Level),
		zap.String("outcome", j.result.Outcome))
	return &j.result, nil
}

// job carries one escalation through its transaction
type job struct {
	now        time.Time
	manual     *domainwf.Actor
	reason     string
	claimed    bool
	workflow   string
	instanceID int64
	result     Result
	events     []*event.Event
}

func (s *Scheduler) escalate(txCtx context.Context, assignmentID int64, j *job) error {
	a, err := s.repos.Assignments.GetByID(txCtx, assignmentID)
	if err != nil {
		return err
	}
	if a == nil {
		return fmt.Errorf("%w: assignment %d", domainwf.ErrNotFound, assignmentID)
	}
	j.result = Result{AssignmentID: a.ID, Level: a.EscalationLevel}
	j.instanceID = a.InstanceID

	// Escalated by another sweep since it was listed
	if j.manual == nil && !a.IsOverdue(j.now) {
		j.claimed = false
		a.Status = entity.AssignmentStatusPending
		return s.repos.Assignments.Update(txCtx, a)
	}

	inst, err := s.repos.Instances.GetByID(txCtx, a.InstanceID)
	if err != nil {
		return err
	}
	if inst == nil || !inst.IsActive() || inst.OnHold || a.StepIndex != inst.StepIndex {
		a.Status = entity.AssignmentStatusCancelled
		a.UpdatedAt = j.now
		j.result.Outcome = OutcomeStale
		return s.repos.Assignments.Update(txCtx, a)
	}
	j.workflow = inst.Workflow

	def, err := s.catalog.Get(inst.Workflow, inst.WorkflowVersion)
	if err != nil {
		return err
	}

	chain, ok := def.EscalationFor(inst.CurrentState)
	if !ok {
		return s.park(txCtx, inst, a, j, OutcomeNoChain, "no escalation chain for state "+inst.CurrentState)
	}

	level, ok := chain.NextAfter(a.EscalationLevel)
	if !ok {
		return s.terminal(txCtx, def, chain, inst, a, j)
	}

	if j.manual == nil {
		switch level.Trigger {
		case domainwf.TriggerManual:
			return s.park(txCtx, inst, a, j, OutcomeManual,
				fmt.Sprintf("escalation level %d awaits manual escalation", level.Level))
		case domainwf.TriggerConditionBased:
			holds, err := level.Condition.Eval(inst.EvalData(nil, domainwf.ActorEscalation))
			if err != nil || !holds {
				recheck := j.now.Add(s.recheck)
				a.Status = entity.AssignmentStatusPending
				a.DueAt = &recheck
				a.UpdatedAt = j.now
				j.result.Outcome = OutcomeDeferred
				return s.repos.Assignments.Update(txCtx, a)
			}
		}
	}

	return s.fire(txCtx, inst, a, level, j)
}

// fire runs the actions of level against the claimed assignment
func (s *Scheduler) fire(txCtx context.Context, inst *entity.Instance, a *entity.Assignment, level domainwf.EscalationLevel, j *job) error {
	due := s.nextDue(txCtx, j.now, level)
	var (
		forced  string
		summary []string
		target  = a
	)

	a.EscalationLevel = level.Level
	a.UpdatedAt = j.now

	for _, action := range level.Actions {
		switch action.Type {
		case domainwf.EscalateReassign:
			a.Status = entity.AssignmentStatusReassigned
			target = &entity.Assignment{
				InstanceID:      inst.ID,
				StepIndex:       a.StepIndex,
				StepName:        a.StepName,
				AssigneeRole:    action.Role,
				Candidates:      s.assigner.Resolve(txCtx, action.Role, inst),
				DueAt:           due,
				Status:          entity.AssignmentStatusPending,
				EscalationLevel: level.Level,
				CreatedAt:       j.now,
				UpdatedAt:       j.now,
			}
			if err := s.repos.Assignments.Create(txCtx, target); err != nil {
				return err
			}
			summary = append(summary, "reassign to "+action.Role)

		case domainwf.EscalateNotify:
			row := workflow.NewOutboxAction(inst, entity.OutboxKindNotify, action.Template, "",
				s.assigner.ExpandRecipients(txCtx, action.Recipients, inst, domainwf.ActorEscalation),
				map[string]interface{}{
					"escalation_level": level.Level,
					"rule_id":          level.RuleID,
					"assignment_id":    a.ID,
				}, j.now)
			if err := s.repos.Outbox.Enqueue(txCtx, row); err != nil {
				return err
			}
			summary = append(summary, "notify "+action.Template)

		case domainwf.EscalateForceTransition:
			forced = action.Transition
			summary = append(summary, "force "+action.Transition)
		}
	}

	if a.Status == entity.AssignmentStatusEscalating {
		a.Status = entity.AssignmentStatusPending
		a.DueAt = due
	}
	if err := s.repos.Assignments.Update(txCtx, a); err != nil {
		return err
	}

	if err := s.bump(txCtx, inst, j.now); err != nil {
		return err
	}
	if err := s.appendHistory(txCtx, inst, a, j,
		fmt.Sprintf("escalation level %d (%s): %s", level.Level, level.RuleID, strings.Join(summary, ", ")),
		map[string]interface{}{
			"level":          level.Level,
			"rule_id":        level.RuleID,
			"assignment_id":  a.ID,
			"new_assignment": target.ID,
		}); err != nil {
		return err
	}

	j.result.Level = level.Level
	j.result.Outcome = OutcomeEscalated
	j.events = append(j.events, event.NewEvent(event.TypeAssignmentEscalated, inst.ID, inst.Workflow, map[string]interface{}{
		"assignment_id": a.ID,
		"level":         level.Level,
		"rule_id":       level.RuleID,
		"state":         inst.CurrentState,
	}))

	if forced == "" {
		return nil
	}
	_, err := s.engine.ForceTransition(txCtx, inst.ID, forced,
		fmt.Sprintf("escalation level %d forced %s", level.Level, forced))
	if err == nil || !notApplicable(err) {
		return err
	}

	s.logger.Warn("Forced escalation transition not possible, holding instance",
		zap.Int64("instance_id", inst.ID),
		zap.Int("level", level.Level),
		zap.String("transition", forced),
		zap.Error(err))
	return s.hold(txCtx, inst, target, j,
		fmt.Sprintf("escalation level %d could not force %s: %v", level.Level, forced, err))
}

// notApplicable reports a transition the instance's state or data rule out
func notApplicable(err error) bool {
	return errors.Is(err, domainwf.ErrConditionNotMet) || errors.Is(err, domainwf.ErrInvalidTransition)
}

// terminal resolves an exhausted chain. A reject or approve that is not legal
// from the current state falls back to hold.
func (s *Scheduler) terminal(txCtx context.Context, def *domainwf.Definition, chain domainwf.EscalationChain, inst *entity.Instance, a *entity.Assignment, j *job) error {
	reason := fmt.Sprintf("%s: escalation chain for %s ended with %s",
		domainwf.ErrEscalationChainExhausted, inst.CurrentState, chain.Terminal.Type)

	if chain.Terminal.Type != domainwf.TerminalHold {
		key := chain.Terminal.TransitionKey()
		if len(def.TransitionsFrom(inst.CurrentState, key)) > 0 {
			a.Status = entity.AssignmentStatusPending
			a.DueAt = nil
			a.UpdatedAt = j.now
			if err := s.repos.Assignments.Update(txCtx, a); err != nil {
				return err
			}

			_, err := s.engine.ForceTransition(txCtx, inst.ID, key, reason)
			if err == nil {
				j.result.Outcome = OutcomeTerminal
				return nil
			}
			if !notApplicable(err) {
				return err
			}
			s.logger.Warn("Terminal escalation transition not possible, holding instance",
				zap.Int64("instance_id", inst.ID),
				zap.String("transition", key),
				zap.Error(err))
		} else {
			s.logger.Warn("Terminal escalation transition not declared for state, holding instance",
				zap.Int64("instance_id", inst.ID),
				zap.String("state", inst.CurrentState),
				zap.String("transition", key))
		}
	}

	return s.hold(txCtx, inst, a, j, reason)
}

// hold expires the open assignment and puts the instance on hold
func (s *Scheduler) hold(txCtx context.Context, inst *entity.Instance, a *entity.Assignment, j *job, reason string) error {
	inst.OnHold = true
	a.Status = entity.AssignmentStatusExpired
	a.DueAt = nil
	a.UpdatedAt = j.now
	if err := s.repos.Assignments.Update(txCtx, a); err != nil {
		return err
	}
	if err := s.bump(txCtx, inst, j.now); err != nil {
		return err
	}
	if err := s.appendHistory(txCtx, inst, a, j, reason+", instance on hold",
		map[string]interface{}{"assignment_id": a.ID, "terminal": string(domainwf.TerminalHold)}); err != nil {
		return err
	}

	j.result.Outcome = OutcomeHeld
	j.events = append(j.events, event.NewEvent(event.TypeAssignmentEscalated, inst.ID, inst.Workflow, map[string]interface{}{
		"assignment_id": a.ID,
		"terminal":      string(domainwf.TerminalHold),
	}))
	return nil
}

// park leaves the assignment pending without a deadline
func (s *Scheduler) park(txCtx context.Context, inst *entity.Instance, a *entity.Assignment, j *job, outcome, reason string) error {
	a.Status = entity.AssignmentStatusPending
	a.DueAt = nil
	a.UpdatedAt = j.now
	if err := s.repos.Assignments.Update(txCtx, a); err != nil {
		return err
	}

	j.result.Outcome = outcome
	return s.appendHistory(txCtx, inst, a, j, reason, map[string]interface{}{"assignment_id": a.ID})
}

// nextDue is when the level after this one becomes due
func (s *Scheduler) nextDue(ctx context.Context, now time.Time, level domainwf.EscalationLevel) *time.Time {
	if level.TimeoutMinutes <= 0 {
		return &now
	}
	return s.assigner.DueAt(ctx, now, level.TimeoutMinutes, calendar.LevelOptions(level))
}

func (s *Scheduler) bump(txCtx context.Context, inst *entity.Instance, now time.Time) error {
	expected := inst.Version
	inst.Version++
	inst.UpdatedAt = now
	return s.repos.Instances.UpdateIfVersion(txCtx, inst, expected)
}

func (s *Scheduler) appendHistory(txCtx context.Context, inst *entity.Instance, a *entity.Assignment, j *job, reason string, details map[string]interface{}) error {
	if j.manual != nil {
		details["requested_by"] = j.manual.ID
		if j.reason != "" {
			reason += ": " + j.reason
		}
	}
	return s.repos.History.Append(txCtx, &entity.HistoryEntry{
		InstanceID: inst.ID,
		Kind:       entity.HistoryKindEscalation,
		FromState:  inst.CurrentState,
		ToState:    inst.CurrentState,
		Actor:      domainwf.ActorEscalation,
		Reason:     reason,
		Details:    details,
		Timestamp:  j.now,
	})
}

func (s *Scheduler) publish(ctx context.Context, events []*event.Event) {
	if s.dispatcher == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	for _, evt := range events {
		s.dispatcher.DispatchAsync(detached, evt)
	}
}
