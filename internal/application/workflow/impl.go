package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/wfm-approvals/internal/application/dispatcher"
	"github.com/garyjia/wfm-approvals/internal/application/port"
	"github.com/garyjia/wfm-approvals/internal/application/routing"
	"github.com/garyjia/wfm-approvals/internal/domain/entity"
	"github.com/garyjia/wfm-approvals/internal/domain/event"
	domainwf "github.com/garyjia/wfm-approvals/internal/domain/workflow"
)

// DefaultMaxAutoHops bounds a chain of immediate automatic transitions
const DefaultMaxAutoHops = 16

// DefinitionSource resolves published definitions
type DefinitionSource interface {
	Get(name string, version int) (*domainwf.Definition, error)
}

// Router resolves the approval chain of a new instance
type Router interface {
	Resolve(def *domainwf.Definition, data map[string]interface{}, asOf time.Time) (domainwf.ApprovalChain, error)
}

// Recorder observes transition outcomes
type Recorder interface {
	TransitionApplied(workflow, transition, status string)
	TransitionRejected(workflow, transition string, err error)
	Conflict(workflow string)
}

type nopRecorder struct{}

func (nopRecorder) TransitionApplied(string, string, string) {}
func (nopRecorder) TransitionRejected(string, string, error) {}
func (nopRecorder) Conflict(string)                          {}

// Repositories groups the stores the engine writes
type Repositories struct {
	Instances   port.InstanceRepository
	Assignments port.AssignmentRepository
	History     port.HistoryRepository
	Outbox      port.OutboxRepository
}

// engineImpl is the concrete implementation of Engine
type engineImpl struct {
	definitions DefinitionSource
	repos       Repositories
	txManager   port.TransactionManager
	router      Router
	assigner    *Assigner
	dispatcher  dispatcher.Dispatcher
	recorder    Recorder
	logger      *zap.Logger
	now         func() time.Time
	maxAutoHops int
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithRouter replaces the default routing resolver
func WithRouter(r Router) EngineOption {
	return func(e *engineImpl) {
		e.router = r
	}
}

// WithAssigner sets how assignments are built
func WithAssigner(a *Assigner) EngineOption {
	return func(e *engineImpl) {
		e.assigner = a
	}
}

// WithRecorder registers an outcome observer
func WithRecorder(r Recorder) EngineOption {
	return func(e *engineImpl) {
		e.recorder = r
	}
}

// WithLogger sets the engine logger
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = l
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// WithMaxAutoHops bounds chained immediate automatic transitions
func WithMaxAutoHops(n int) EngineOption {
	return func(e *engineImpl) {
		if n > 0 {
			e.maxAutoHops = n
		}
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	definitions DefinitionSource,
	repos Repositories,
	txManager port.TransactionManager,
	opts ...EngineOption,
) Engine {
	e := &engineImpl{
		definitions: definitions,
		repos:       repos,
		txManager:   txManager,
		recorder:    nopRecorder{},
		logger:      zap.NewNop(),
		now:         func() time.Time { return time.Now().UTC() },
		maxAutoHops: DefaultMaxAutoHops,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.router == nil {
		e.router = routing.NewResolver(e.logger)
	}
	if e.assigner == nil {
		e.assigner = NewAssigner(nil, nil, e.logger)
	}

	return e
}

// firing carries one mutation of an instance through a transaction
type firing struct {
	def    *domainwf.Definition
	inst   *entity.Instance
	actor  domainwf.Actor
	data   map[string]interface{}
	reason string
	now    time.Time
	open   []*entity.Assignment
	events []*event.Event
}

// Start creates an instance at the initial state and opens its first step
func (e *engineImpl) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	if req.Workflow == "" || req.Requester == "" {
		return nil, fmt.Errorf("%w: workflow and requester are required", ErrInvalidRequest)
	}

	def, err := e.definitions.Get(req.Workflow, req.Version)
	if err != nil {
		return nil, err
	}
	initial, ok := def.InitialState()
	if !ok {
		return nil, fmt.Errorf("%w: workflow %s has no initial state", domainwf.ErrConfig, def.Name)
	}

	now := e.now()
	data := copyData(req.Data)
	chain, err := e.router.Resolve(def, data, now)
	if err != nil {
		e.logger.Error("Failed to resolve approval chain",
			zap.String("workflow", def.Name),
			zap.Int("version", def.Version),
			zap.Error(err))
		return nil, err
	}

	inst := &entity.Instance{
		Workflow:        def.Name,
		WorkflowVersion: def.Version,
		CurrentState:    initial.Key,
		Version:         1,
		Requester:       req.Requester,
		Data:            data,
		EntityLink:      req.EntityLink,
		RuleID:          chain.RuleID,
		Chain:           chain,
		Status:          entity.InstanceStatusActive,
		StateEnteredAt:  now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	f := &firing{def: def, inst: inst, actor: domainwf.Actor{ID: req.Requester}, now: now}
	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		f.events = f.events[:0]
		if err := e.repos.Instances.Create(txCtx, inst); err != nil {
			return err
		}

		if err := e.repos.History.Append(txCtx, &entity.HistoryEntry{
			InstanceID: inst.ID,
			Kind:       entity.HistoryKindStart,
			ToState:    initial.Key,
			Actor:      req.Requester,
			Reason:     "instance started",
			Timestamp:  now,
		}); err != nil {
			return err
		}
		if err := e.repos.History.Append(txCtx, &entity.HistoryEntry{
			InstanceID: inst.ID,
			Kind:       entity.HistoryKindRouting,
			ToState:    initial.Key,
			Actor:      req.Requester,
			Reason:     "approval chain resolved",
			Details: map[string]interface{}{
				"rule_id": chain.RuleID,
				"steps":   stepNames(chain),
			},
			Timestamp: now,
		}); err != nil {
			return err
		}

		f.events = append(f.events, event.NewEvent(event.TypeInstanceStarted, inst.ID, inst.Workflow, map[string]interface{}{
			"state":     inst.CurrentState,
			"requester": inst.Requester,
			"rule_id":   chain.RuleID,
		}))

		if err := e.followAuto(txCtx, f); err != nil {
			return err
		}
		if !inst.IsActive() {
			return nil
		}
		return e.openStep(txCtx, f)
	})
	if err != nil {
		e.logger.Error("Failed to start instance",
			zap.String("workflow", req.Workflow),
			zap.String("requester", req.Requester),
			zap.Error(err))
		return nil, err
	}

	events := f.events
	afterCommit(ctx, func(ctx context.Context) {
		e.publish(ctx, events)
		e.logger.Info("Instance started",
			zap.Int64("instance_id", inst.ID),
			zap.String("workflow", inst.Workflow),
			zap.Int("version", inst.WorkflowVersion),
			zap.String("state", inst.CurrentState),
			zap.String("rule_id", inst.RuleID))
	})

	return &StartResult{
		InstanceID: inst.ID,
		State:      inst.CurrentState,
		Version:    inst.Version,
		RuleID:     inst.RuleID,
	}, nil
}

// ApplyTransition fires a transition on behalf of req.Actor
func (e *engineImpl) ApplyTransition(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	if req.InstanceID <= 0 || req.Transition == "" || req.Actor.ID == "" {
		return nil, fmt.Errorf("%w: instance, transition and actor are required", ErrInvalidRequest)
	}
	return e.apply(ctx, req)
}

// ForceTransition fires a transition as the escalation system
func (e *engineImpl) ForceTransition(ctx context.Context, instanceID int64, transition, reason string) (*TransitionResult, error) {
	return e.apply(ctx, TransitionRequest{
		InstanceID: instanceID,
		Transition: transition,
		Actor:      domainwf.Actor{ID: domainwf.ActorEscalation},
		Reason:     reason,
	})
}

func (e *engineImpl) apply(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	var (
		result       *TransitionResult
		workflowName string
		f            *firing
	)

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		inst, err := e.load(txCtx, req.InstanceID)
		if err != nil {
			return err
		}
		workflowName = inst.Workflow

		if req.ExpectedVersion != 0 && inst.Version != req.ExpectedVersion {
			return fmt.Errorf("%w: instance %d is at version %d, expected %d",
				domainwf.ErrConcurrentModification, inst.ID, inst.Version, req.ExpectedVersion)
		}
		if !inst.IsActive() {
			return fmt.Errorf("%w: instance %d is %s", domainwf.ErrInvalidTransition, inst.ID, inst.Status)
		}

		def, err := e.definitions.Get(inst.Workflow, inst.WorkflowVersion)
		if err != nil {
			return err
		}

		open, err := e.repos.Assignments.GetOpenByInstanceID(txCtx, inst.ID)
		if err != nil {
			return err
		}

		f = &firing{
			def:    def,
			inst:   inst,
			actor:  req.Actor,
			data:   req.Data,
			reason: req.Reason,
			now:    e.now(),
			open:   open,
		}
		result, err = e.transition(txCtx, f, req.Transition)
		return err
	})
	if err != nil {
		e.reject(workflowName, req, err)
		return nil, err
	}

	events := f.events
	afterCommit(ctx, func(ctx context.Context) {
		e.recorder.TransitionApplied(workflowName, req.Transition, result.Status)
		e.publish(ctx, events)
		e.logger.Info("Transition applied",
			zap.Int64("instance_id", result.InstanceID),
			zap.String("transition", req.Transition),
			zap.String("actor", req.Actor.ID),
			zap.String("from", result.PreviousState),
			zap.String("to", result.NewState),
			zap.String("status", result.Status),
			zap.Int64("version", result.Version))
	})
	return result, nil
}

func (e *engineImpl) transition(txCtx context.Context, f *firing, key string) (*TransitionResult, error) {
	inst := f.inst
	stepOpen := inStep(f.open, inst.StepIndex)

	permits := func(t domainwf.Transition) bool {
		if !t.Authorization.Permits(f.actor, inst.Requester) {
			return false
		}
		if !t.StepDecision || f.actor.IsSystem() {
			return true
		}
		return ownAssignment(stepOpen, f.actor) != nil
	}

	t, err := f.def.Select(inst.CurrentState, key, inst.EvalData(f.data, f.actor.ID), permits)
	if err != nil {
		return nil, err
	}

	prev := inst.CurrentState
	status := entity.ResultTransitioned

	step, hasStep := inst.CurrentStep()
	if t.StepDecision && hasStep && step.Mode == domainwf.ModeParallel && !f.actor.IsSystem() {
		moved, err := e.vote(txCtx, f, t, step, stepOpen)
		if err != nil {
			return nil, err
		}
		if !moved {
			status = entity.ResultVoteRecorded
		}
	} else if err := e.move(txCtx, f, t, nil); err != nil {
		return nil, err
	}

	if status != entity.ResultVoteRecorded {
		if err := e.followAuto(txCtx, f); err != nil {
			return nil, err
		}
	}
	if !inst.IsActive() {
		status = entity.ResultCompleted
	}

	return &TransitionResult{
		InstanceID:    inst.ID,
		PreviousState: prev,
		NewState:      inst.CurrentState,
		Status:        status,
		Version:       inst.Version,
	}, nil
}

// vote records a parallel step vote and resolves the step once a decision
// reaches the quorum, or fires the step's fallback once none can
func (e *engineImpl) vote(txCtx context.Context, f *firing, t domainwf.Transition, step domainwf.ApprovalStep, stepOpen []*entity.Assignment) (bool, error) {
	inst := f.inst
	mine := ownAssignment(stepOpen, f.actor)
	if mine == nil {
		return false, fmt.Errorf("%w: %s has no pending vote on instance %d", domainwf.ErrUnauthorized, f.actor.ID, inst.ID)
	}

	all, err := e.repos.Assignments.GetByInstanceID(txCtx, inst.ID)
	if err != nil {
		return false, err
	}

	participants := 0
	votes := make(map[string]int)
	for _, a := range all {
		if a.StepIndex != inst.StepIndex ||
			a.Status == entity.AssignmentStatusReassigned ||
			a.Status == entity.AssignmentStatusCancelled {
			continue
		}
		participants++
		if a.Status == entity.AssignmentStatusFulfilled && a.Decision != "" {
			votes[a.Decision]++
		}
	}
	votes[t.Key]++
	outstanding := len(stepOpen) - 1
	required := step.Quorum.Required(participants)

	mine.Status = entity.AssignmentStatusFulfilled
	mine.Decision = t.Key
	mine.ActedBy = f.actor.ID
	mine.UpdatedAt = f.now

	if votes[t.Key] >= required {
		return true, e.move(txCtx, f, t, mine)
	}

	if !quorumReachable(f.def, inst.CurrentState, votes, outstanding, required) {
		fallback, err := f.def.Select(inst.CurrentState, step.Fallback, inst.EvalData(f.data, f.actor.ID), nil)
		if err != nil {
			return false, fmt.Errorf("step %s fallback %s: %w", step.Name, step.Fallback, err)
		}
		f.reason = fmt.Sprintf("quorum %s unreachable, fallback %s", step.Quorum, step.Fallback)
		return true, e.move(txCtx, f, fallback, mine)
	}

	readVersion := inst.Version
	inst.MergeData(f.data)
	f.data = nil
	inst.Version++
	inst.UpdatedAt = f.now
	if err := e.repos.Instances.UpdateIfVersion(txCtx, inst, readVersion); err != nil {
		return false, err
	}
	if err := e.repos.Assignments.Update(txCtx, mine); err != nil {
		return false, err
	}
	if err := e.appendVote(txCtx, f, mine); err != nil {
		return false, err
	}

	f.events = append(f.events, event.NewEvent(event.TypeVoteRecorded, inst.ID, inst.Workflow, map[string]interface{}{
		"state":    inst.CurrentState,
		"decision": t.Key,
		"actor":    f.actor.ID,
		"votes":    votes[t.Key],
		"required": required,
	}))
	return false, nil
}

// move applies t to the instance. The version compare-and-swap is the first
// write so a losing writer leaves no trace.
func (e *engineImpl) move(txCtx context.Context, f *firing, t domainwf.Transition, voter *entity.Assignment) error {
	inst := f.inst
	from := inst.CurrentState
	stepIndex := inst.StepIndex
	readVersion := inst.Version
	terminal := f.def.IsTerminal(t.To)

	inst.MergeData(f.data)
	f.data = nil
	inst.CurrentState = t.To
	inst.StateEnteredAt = f.now
	inst.Version++
	inst.UpdatedAt = f.now
	switch {
	case terminal:
		inst.Status = entity.InstanceStatusCompleted
		if target, _ := f.def.State(t.To); target.Kind == domainwf.KindError {
			inst.Status = entity.InstanceStatusCancelled
		}
		inst.Outcome = t.To
		inst.OnHold = false
		completed := f.now
		inst.CompletedAt = &completed
	case t.StepDecision:
		inst.StepIndex++
	}

	if err := e.repos.Instances.UpdateIfVersion(txCtx, inst, readVersion); err != nil {
		return err
	}

	if voter != nil {
		if err := e.repos.Assignments.Update(txCtx, voter); err != nil {
			return err
		}
		if err := e.appendVote(txCtx, f, voter); err != nil {
			return err
		}
	}
	if err := e.closeAssignments(txCtx, f, t, stepIndex, terminal, voter); err != nil {
		return err
	}

	if err := e.repos.History.Append(txCtx, &entity.HistoryEntry{
		InstanceID: inst.ID,
		Kind:       entity.HistoryKindTransition,
		FromState:  from,
		ToState:    t.To,
		Transition: t.Key,
		Actor:      f.actor.ID,
		Reason:     f.reason,
		Timestamp:  f.now,
	}); err != nil {
		return err
	}

	for _, a := range t.Actions {
		row := NewOutboxAction(inst, string(a.Type), a.Template, a.Target,
			e.assigner.ExpandRecipients(txCtx, a.Recipients, inst, f.actor.ID),
			withTransition(a.Payload, t, from), f.now)
		if err := e.repos.Outbox.Enqueue(txCtx, row); err != nil {
			return err
		}
	}

	f.events = append(f.events, event.NewEvent(event.TypeInstanceTransitioned, inst.ID, inst.Workflow, map[string]interface{}{
		"from":       from,
		"to":         t.To,
		"transition": t.Key,
		"actor":      f.actor.ID,
		"version":    inst.Version,
	}))

	if terminal {
		f.events = append(f.events, event.NewEvent(event.TypeInstanceCompleted, inst.ID, inst.Workflow, map[string]interface{}{
			"outcome": inst.Outcome,
			"status":  inst.Status,
		}))
		return nil
	}
	if t.StepDecision {
		return e.openStep(txCtx, f)
	}
	return nil
}

// closeAssignments resolves the assignments a transition makes obsolete: all
// of them on a terminal state, those of the decided step otherwise
func (e *engineImpl) closeAssignments(txCtx context.Context, f *firing, t domainwf.Transition, stepIndex int, terminal bool, voter *entity.Assignment) error {
	var own *entity.Assignment
	if voter == nil && t.StepDecision && !f.actor.IsSystem() {
		own = ownAssignment(inStep(f.open, stepIndex), f.actor)
	}

	for _, a := range f.open {
		if a == voter || !a.IsOpen() {
			continue
		}
		if !terminal && !(t.StepDecision && a.StepIndex == stepIndex) {
			continue
		}

		switch {
		case a == own:
			a.Status = entity.AssignmentStatusFulfilled
			a.Decision = t.Key
			a.ActedBy = f.actor.ID
		case f.actor.IsSystem() && t.StepDecision && a.StepIndex == stepIndex:
			a.Status = entity.AssignmentStatusExpired
			a.Decision = t.Key
			a.ActedBy = f.actor.ID
		default:
			a.Status = entity.AssignmentStatusCancelled
		}
		a.UpdatedAt = f.now
		if err := e.repos.Assignments.Update(txCtx, a); err != nil {
			return err
		}
	}
	return nil
}

// openStep creates the assignments of the instance's current step
func (e *engineImpl) openStep(txCtx context.Context, f *firing) error {
	created := e.assigner.OpenStep(txCtx, f.inst, f.now)
	for _, a := range created {
		if err := e.repos.Assignments.Create(txCtx, a); err != nil {
			return err
		}
	}
	f.open = append(f.open, created...)
	return nil
}

// followAuto fires immediate automatic transitions until none applies
func (e *engineImpl) followAuto(txCtx context.Context, f *firing) error {
	for hop := 0; hop < e.maxAutoHops; hop++ {
		if !f.inst.IsActive() {
			return nil
		}
		t, ok := immediateAuto(f.def, f.inst)
		if !ok {
			return nil
		}

		f.actor = domainwf.Actor{ID: domainwf.ActorAuto}
		f.reason = "automatic transition"
		if err := e.move(txCtx, f, t, nil); err != nil {
			return err
		}
	}

	e.logger.Warn("Automatic transition hop limit reached",
		zap.Int64("instance_id", f.inst.ID),
		zap.String("state", f.inst.CurrentState),
		zap.Int("limit", e.maxAutoHops))
	return nil
}

func immediateAuto(def *domainwf.Definition, inst *entity.Instance) (domainwf.Transition, bool) {
	data := inst.EvalData(nil, domainwf.ActorAuto)
	for _, t := range def.AutoTransitions(inst.CurrentState) {
		if t.Auto.TimeoutMinutes > 0 {
			continue
		}
		if ok, err := t.Guard().Eval(data); err == nil && ok {
			return t, true
		}
	}
	return domainwf.Transition{}, false
}

func (e *engineImpl) appendVote(txCtx context.Context, f *firing, a *entity.Assignment) error {
	return e.repos.History.Append(txCtx, &entity.HistoryEntry{
		InstanceID: f.inst.ID,
		Kind:       entity.HistoryKindVote,
		FromState:  f.inst.CurrentState,
		ToState:    f.inst.CurrentState,
		Transition: a.Decision,
		Actor:      a.ActedBy,
		Reason:     "vote on step " + a.StepName,
		Details:    map[string]interface{}{"assignment_id": a.ID},
		Timestamp:  f.now,
	})
}

// GetInstance returns an instance with its assignments and history
func (e *engineImpl) GetInstance(ctx context.Context, instanceID int64) (*InstanceView, error) {
	inst, err := e.load(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	assignments, err := e.repos.Assignments.GetByInstanceID(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load assignments: %w", err)
	}
	history, err := e.repos.History.GetByInstanceID(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	return &InstanceView{Instance: inst, Assignments: assignments, History: history}, nil
}

// ListPendingFor returns the instances awaiting action from actor
func (e *engineImpl) ListPendingFor(ctx context.Context, actor domainwf.Actor) ([]int64, error) {
	if actor.ID == "" {
		return nil, fmt.Errorf("%w: actor is required", ErrInvalidRequest)
	}
	return e.repos.Assignments.ListPendingInstanceIDs(ctx, actor)
}

func (e *engineImpl) load(ctx context.Context, id int64) (*entity.Instance, error) {
	inst, err := e.repos.Instances.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, fmt.Errorf("%w: instance %d", domainwf.ErrNotFound, id)
	}
	return inst, nil
}

func (e *engineImpl) reject(workflowName string, req TransitionRequest, err error) {
	fields := []zap.Field{
		zap.Int64("instance_id", req.InstanceID),
		zap.String("transition", req.Transition),
		zap.String("actor", req.Actor.ID),
		zap.Error(err),
	}

	switch {
	case errors.Is(err, domainwf.ErrConcurrentModification):
		e.logger.Debug("Transition lost a concurrent update", fields...)
		e.recorder.Conflict(workflowName)
	case errors.Is(err, domainwf.ErrInvalidTransition),
		errors.Is(err, domainwf.ErrUnauthorized),
		errors.Is(err, domainwf.ErrConditionNotMet),
		errors.Is(err, domainwf.ErrNotFound),
		errors.Is(err, ErrInvalidRequest):
		e.logger.Warn("Transition rejected", fields...)
		e.recorder.TransitionRejected(workflowName, req.Transition, err)
	default:
		e.logger.Error("Transition failed", fields...)
		e.recorder.TransitionRejected(workflowName, req.Transition, err)
	}
}

func (e *engineImpl) publish(ctx context.Context, events []*event.Event) {
	if e.dispatcher == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	for _, evt := range events {
		e.dispatcher.DispatchAsync(detached, evt)
	}
}

func inStep(open []*entity.Assignment, stepIndex int) []*entity.Assignment {
	var out []*entity.Assignment
	for _, a := range open {
		if a.StepIndex == stepIndex && a.IsOpen() {
			out = append(out, a)
		}
	}
	return out
}

func ownAssignment(open []*entity.Assignment, actor domainwf.Actor) *entity.Assignment {
	for _, a := range open {
		if a.IsOpen() && a.CanAct(actor) {
			return a
		}
	}
	return nil
}

// quorumReachable reports whether any decision of state can still collect
// required votes from the outstanding assignments
func quorumReachable(def *domainwf.Definition, state string, votes map[string]int, outstanding, required int) bool {
	for _, t := range def.Transitions {
		if t.From == state && t.StepDecision && votes[t.Key]+outstanding >= required {
			return true
		}
	}
	return false
}

func withTransition(payload map[string]interface{}, t domainwf.Transition, from string) map[string]interface{} {
	out := make(map[string]interface{}, len(payload)+3)
	for k, v := range payload {
		out[k] = v
	}
	out["transition"] = t.Key
	out["from"] = from
	out["to"] = t.To
	return out
}

func stepNames(chain domainwf.ApprovalChain) []string {
	names := make([]string, len(chain.Steps))
	for i, s := range chain.Steps {
		names[i] = s.Name
	}
	return names
}

func copyData(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
