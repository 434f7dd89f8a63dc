package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/wfm-approvals/internal/application/calendar"
	"github.com/garyjia/wfm-approvals/internal/application/escalation"
	"github.com/garyjia/wfm-approvals/internal/application/port"
	"github.com/garyjia/wfm-approvals/internal/application/registry"
	appwf "github.com/garyjia/wfm-approvals/internal/application/workflow"
	"github.com/garyjia/wfm-approvals/internal/domain/entity"
	domainwf "github.com/garyjia/wfm-approvals/internal/domain/workflow"
	"github.com/garyjia/wfm-approvals/pkg/utils"
)

// Escalator fires escalation levels on request
type Escalator interface {
	EscalateNow(ctx context.Context, instanceID int64, actor domainwf.Actor, reason string) ([]escalation.Result, error)
}

// Catalog lists published workflow definitions
type Catalog interface {
	List() []registry.Summary
	Get(name string, version int) (*domainwf.Definition, error)
}

// BusinessClock measures elapsed business time
type BusinessClock interface {
	BusinessMinutesBetween(ctx context.Context, from, to time.Time, opts calendar.Options) (int, error)
}

// HistoryWriter renders history entries as a spreadsheet
type HistoryWriter interface {
	Write(w io.Writer, entries []*entity.HistoryEntry) error
}

// RequestObserver records request latency
type RequestObserver interface {
	ObserveRequest(method, route string, status int, d time.Duration)
}

// Services are the collaborators behind the API. Metrics, Requests, History
// and Exporter are optional; their routes answer 404 or are absent without them.
type Services struct {
	Engine    appwf.Engine
	Escalator Escalator
	Catalog   Catalog
	Clock     BusinessClock
	Roles     port.RoleLookup
	History   port.HistoryRepository
	Exporter  HistoryWriter
	Metrics   http.Handler
	Requests  RequestObserver
	Now       func() time.Time
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	services Services
	logger   Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, logger Logger) *Handlers {
	if services.Now == nil {
		services.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Handlers{services: services, logger: logger}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// StartInstanceRequest is the body of POST /api/v1/instances
type StartInstanceRequest struct {
	Workflow   string                 `json:"workflow" binding:"required"`
	Version    int                    `json:"version"`
	Requester  string                 `json:"requester" binding:"required"`
	Data       map[string]interface{} `json:"data"`
	EntityLink string                 `json:"entity_link"`
}

// TransitionRequest is the body of POST /api/v1/instances/:id/transitions
type TransitionRequest struct {
	Transition      string                 `json:"transition" binding:"required"`
	Actor           string                 `json:"actor" binding:"required"`
	Data            map[string]interface{} `json:"data"`
	Reason          string                 `json:"reason"`
	ExpectedVersion int64                  `json:"expected_version"`
}

// EscalateRequest is the body of POST /api/v1/instances/:id/escalate
type EscalateRequest struct {
	Actor  string `json:"actor" binding:"required"`
	Reason string `json:"reason"`
}

// PendingResponse lists the instances awaiting an actor
type PendingResponse struct {
	Actor       string  `json:"actor"`
	InstanceIDs []int64 `json:"instance_ids"`
}

// AssignmentTime is the business time of one open assignment
type AssignmentTime struct {
	AssignmentID     int64      `json:"assignment_id"`
	StepName         string     `json:"step_name"`
	DueAt            *time.Time `json:"due_at,omitempty"`
	MinutesOpen      int        `json:"business_minutes_open"`
	MinutesRemaining *int       `json:"business_minutes_remaining,omitempty"`
}

// BusinessTimeResponse reports how long an instance has waited in business time
type BusinessTimeResponse struct {
	InstanceID     int64            `json:"instance_id"`
	State          string           `json:"state"`
	StateEnteredAt time.Time        `json:"state_entered_at"`
	AsOf           time.Time        `json:"as_of"`
	Options        calendar.Options `json:"options"`
	MinutesInState int              `json:"business_minutes_in_state"`
	Assignments    []AssignmentTime `json:"assignments"`
}

// WorkflowResponse describes one published definition
type WorkflowResponse struct {
	Name         string                  `json:"name"`
	Version      int                     `json:"version"`
	Description  string                  `json:"description,omitempty"`
	States       []domainwf.State        `json:"states"`
	Transitions  []TransitionView        `json:"transitions"`
	RoutingRules []RoutingRuleView       `json:"routing_rules"`
	DefaultChain []domainwf.ApprovalStep `json:"default_chain"`
	Escalations  []EscalationChainView   `json:"escalations,omitempty"`
	Rules        map[string]interface{}  `json:"rules,omitempty"`
	PublishedAt  time.Time               `json:"published_at"`
}

// TransitionView is the JSON form of a transition
type TransitionView struct {
	Key          string                   `json:"key"`
	From         string                   `json:"from"`
	To           string                   `json:"to"`
	Condition    string                   `json:"condition"`
	Roles        []string                 `json:"roles,omitempty"`
	Permissions  []string                 `json:"permissions,omitempty"`
	Requester    bool                     `json:"allow_requester,omitempty"`
	StepDecision bool                     `json:"decision,omitempty"`
	Auto         *domainwf.AutoTransition `json:"auto,omitempty"`
	Actions      []domainwf.Action        `json:"actions,omitempty"`
}

// RoutingRuleView is the JSON form of a routing rule
type RoutingRuleView struct {
	ID            string                  `json:"id"`
	Priority      int                     `json:"priority"`
	Condition     string                  `json:"condition"`
	Chain         []domainwf.ApprovalStep `json:"chain"`
	EffectiveFrom *time.Time              `json:"effective_from,omitempty"`
	EffectiveTo   *time.Time              `json:"effective_to,omitempty"`
}

// EscalationChainView is the JSON form of an escalation chain
type EscalationChainView struct {
	State    string `json:"state,omitempty"`
	Levels   []int  `json:"levels"`
	Terminal string `json:"terminal"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HealthResponse{
			Status:    "healthy",
			Timestamp: h.services.Now().Format(time.RFC3339),
			Version:   "1.0.0",
		},
	})
}

// StartInstance handles POST /api/v1/instances
func (h *Handlers) StartInstance(c *gin.Context) {
	var req StartInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}
	if err := utils.ValidateUserID(req.Requester); err != nil {
		h.badRequest(c, "invalid requester", err)
		return
	}
	if isSystemActor(req.Requester) {
		h.fail(c, "Rejected start", req.Requester, domainwf.ErrUnauthorized)
		return
	}

	res, err := h.services.Engine.Start(c.Request.Context(), appwf.StartRequest{
		Workflow:   req.Workflow,
		Version:    req.Version,
		Requester:  req.Requester,
		Data:       req.Data,
		EntityLink: req.EntityLink,
	})
	if err != nil {
		h.fail(c, "Failed to start instance", req.Workflow, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: res})
}

// GetInstance handles GET /api/v1/instances/:id
func (h *Handlers) GetInstance(c *gin.Context) {
	id, ok := h.instanceID(c)
	if !ok {
		return
	}

	view, err := h.services.Engine.GetInstance(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to get instance", id, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: view})
}

// ApplyTransition handles POST /api/v1/instances/:id/transitions
func (h *Handlers) ApplyTransition(c *gin.Context) {
	id, ok := h.instanceID(c)
	if !ok {
		return
	}

	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	actor, err := h.actor(c.Request.Context(), req.Actor)
	if err != nil {
		h.fail(c, "Rejected transition", id, err)
		return
	}

	res, err := h.services.Engine.ApplyTransition(c.Request.Context(), appwf.TransitionRequest{
		InstanceID:      id,
		Transition:      req.Transition,
		Actor:           actor,
		Data:            req.Data,
		Reason:          req.Reason,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		h.fail(c, "Transition failed", id, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: res})
}

// Escalate handles POST /api/v1/instances/:id/escalate
func (h *Handlers) Escalate(c *gin.Context) {
	id, ok := h.instanceID(c)
	if !ok {
		return
	}

	var req EscalateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	actor, err := h.actor(c.Request.Context(), req.Actor)
	if err != nil {
		h.fail(c, "Rejected escalation", id, err)
		return
	}

	results, err := h.services.Escalator.EscalateNow(c.Request.Context(), id, actor, req.Reason)
	if err != nil {
		h.fail(c, "Escalation failed", id, err)
		return
	}

	h.logger.Info("Escalated instance", "instance_id", id, "actor", actor.ID, "assignments", len(results))
	c.JSON(http.StatusOK, Response{Success: true, Data: results})
}

// ListPending handles GET /api/v1/pending?actor=
func (h *Handlers) ListPending(c *gin.Context) {
	actor, err := h.actor(c.Request.Context(), c.Query("actor"))
	if err != nil {
		h.fail(c, "Rejected pending query", c.Query("actor"), err)
		return
	}

	ids, err := h.services.Engine.ListPendingFor(c.Request.Context(), actor)
	if err != nil {
		h.fail(c, "Failed to list pending instances", actor.ID, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: PendingResponse{Actor: actor.ID, InstanceIDs: ids}})
}

// BusinessTime handles GET /api/v1/instances/:id/business-time
func (h *Handlers) BusinessTime(c *gin.Context) {
	id, ok := h.instanceID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	view, err := h.services.Engine.GetInstance(ctx, id)
	if err != nil {
		h.fail(c, "Failed to get instance", id, err)
		return
	}

	inst := view.Instance
	now := h.services.Now()
	asOf := now
	if inst.CompletedAt != nil {
		asOf = *inst.CompletedAt
	}

	opts := calendar.Options{BusinessHoursOnly: true, ExcludeWeekends: true, ExcludeHolidays: true}
	if step, ok := inst.CurrentStep(); ok {
		opts = calendar.StepOptions(step)
	}

	inState, err := h.services.Clock.BusinessMinutesBetween(ctx, inst.StateEnteredAt, asOf, opts)
	if err != nil {
		h.fail(c, "Failed to measure business time", id, err)
		return
	}

	resp := BusinessTimeResponse{
		InstanceID:     inst.ID,
		State:          inst.CurrentState,
		StateEnteredAt: inst.StateEnteredAt,
		AsOf:           asOf,
		Options:        opts,
		MinutesInState: inState,
		Assignments:    []AssignmentTime{},
	}
	for _, a := range view.PendingAssignments() {
		open, err := h.services.Clock.BusinessMinutesBetween(ctx, a.CreatedAt, now, opts)
		if err != nil {
			h.fail(c, "Failed to measure business time", id, err)
			return
		}
		at := AssignmentTime{AssignmentID: a.ID, StepName: a.StepName, DueAt: a.DueAt, MinutesOpen: open}
		if a.DueAt != nil {
			left, err := h.services.Clock.BusinessMinutesBetween(ctx, now, *a.DueAt, opts)
			if err != nil {
				h.fail(c, "Failed to measure business time", id, err)
				return
			}
			at.MinutesRemaining = &left
		}
		resp.Assignments = append(resp.Assignments, at)
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: resp})
}

// ListWorkflows handles GET /api/v1/workflows
func (h *Handlers) ListWorkflows(c *gin.Context) {
	summaries := h.services.Catalog.List()
	if summaries == nil {
		summaries = []registry.Summary{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: summaries})
}

// GetWorkflow handles GET /api/v1/workflows/:name?version=
func (h *Handlers) GetWorkflow(c *gin.Context) {
	name := c.Param("name")
	version := 0
	if v := c.Query("version"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.badRequest(c, "invalid version", err)
			return
		}
		version = n
	}

	def, err := h.services.Catalog.Get(name, version)
	if err != nil {
		h.fail(c, "Failed to get workflow", name, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: toWorkflowResponse(def)})
}

// ExportHistory handles GET /api/v1/history/export?workflow=&since=&until=
// and streams the matching history as an xlsx workbook
func (h *Handlers) ExportHistory(c *gin.Context) {
	if h.services.History == nil || h.services.Exporter == nil {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "history export is not enabled"})
		return
	}

	filter := port.HistoryFilter{Workflow: c.Query("workflow")}
	for param, dst := range map[string]*time.Time{"since": &filter.Since, "until": &filter.Until} {
		v := c.Query(param)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.badRequest(c, "invalid "+param+", expected RFC3339", err)
			return
		}
		*dst = t.UTC()
	}

	entries, err := h.services.History.List(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, "Failed to list history", filter.Workflow, err)
		return
	}

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", `attachment; filename="history.xlsx"`)
	c.Status(http.StatusOK)
	if err := h.services.Exporter.Write(c.Writer, entries); err != nil {
		h.logger.Error("Failed to write history export", "error", err)
	}
}

// actor builds the identity for userID. Roles come from the directory,
// never from the request.
func (h *Handlers) actor(ctx context.Context, userID string) (domainwf.Actor, error) {
	if err := utils.ValidateUserID(userID); err != nil {
		return domainwf.Actor{}, fmt.Errorf("%w: %v", appwf.ErrInvalidRequest, err)
	}
	if isSystemActor(userID) {
		return domainwf.Actor{}, domainwf.ErrUnauthorized
	}

	actor := domainwf.Actor{ID: userID}
	if h.services.Roles != nil {
		roles, err := h.services.Roles.RolesOf(ctx, userID)
		if err != nil {
			return domainwf.Actor{}, err
		}
		actor.Roles = roles
	}
	return actor, nil
}

func isSystemActor(id string) bool {
	return strings.HasPrefix(id, domainwf.SystemActorPrefix)
}

func (h *Handlers) instanceID(c *gin.Context) (int64, bool) {
	idStr := c.Param("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		h.badRequest(c, "invalid instance ID", err)
		return 0, false
	}
	return id, true
}

func (h *Handlers) badRequest(c *gin.Context, msg string, err error) {
	h.logger.Error("Invalid request", "path", c.FullPath(), "reason", msg, "error", err)
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: msg})
}

func (h *Handlers) fail(c *gin.Context, msg string, subject interface{}, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "subject", subject, "error", err)
		c.JSON(status, Response{Success: false, Error: "internal error"})
		return
	}
	h.logger.Info(msg, "subject", subject, "status", status, "error", err.Error())
	c.JSON(status, Response{Success: false, Error: err.Error()})
}

// StatusFor maps engine errors to HTTP status codes
func StatusFor(err error) int {
	switch {
	case errors.Is(err, appwf.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domainwf.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domainwf.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domainwf.ErrConcurrentModification),
		errors.Is(err, domainwf.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domainwf.ErrConditionNotMet),
		errors.Is(err, domainwf.ErrRoutingResolution),
		errors.Is(err, domainwf.ErrConfig):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func toWorkflowResponse(def *domainwf.Definition) WorkflowResponse {
	resp := WorkflowResponse{
		Name:         def.Name,
		Version:      def.Version,
		Description:  def.Description,
		States:       def.States,
		DefaultChain: def.DefaultChain,
		Rules:        def.Rules,
		PublishedAt:  def.PublishedAt,
		Transitions:  make([]TransitionView, 0, len(def.Transitions)),
		RoutingRules: make([]RoutingRuleView, 0, len(def.RoutingRules)),
	}

	for _, t := range def.Transitions {
		resp.Transitions = append(resp.Transitions, TransitionView{
			Key:          t.Key,
			From:         t.From,
			To:           t.To,
			Condition:    t.Guard().String(),
			Roles:        t.Authorization.Roles,
			Permissions:  t.Authorization.Permissions,
			Requester:    t.Authorization.AllowRequester,
			StepDecision: t.StepDecision,
			Auto:         t.Auto,
			Actions:      t.Actions,
		})
	}
	for _, r := range def.RoutingRules {
		cond := "true"
		if r.Condition != nil {
			cond = r.Condition.String()
		}
		resp.RoutingRules = append(resp.RoutingRules, RoutingRuleView{
			ID:            r.ID,
			Priority:      r.Priority,
			Condition:     cond,
			Chain:         r.Chain,
			EffectiveFrom: r.EffectiveFrom,
			EffectiveTo:   r.EffectiveTo,
		})
	}
	for _, chain := range def.Escalations {
		view := EscalationChainView{State: chain.State, Terminal: string(chain.Terminal.Type)}
		for _, l := range chain.Levels {
			view.Levels = append(view.Levels, l.Level)
		}
		resp.Escalations = append(resp.Escalations, view)
	}
	return resp
}
