package workflow

import (
	"fmt"
	"time"

	"github.com/garyjia/wfm-approvals/internal/domain/condition"
)

// Builder assembles a Definition fluently. Errors are collected and returned
// by Build together with the definition's own validation problems.
type Builder struct {
	def         *Definition
	escalations []EscalationRule
	errs        []string
}

// StateConfiguration configures transitions leaving one state
type StateConfiguration struct {
	builder *Builder
	from    string
}

// TransitionOption customizes a transition declared through the builder
type TransitionOption func(*Transition)

// NewBuilder starts a definition for (name, version)
func NewBuilder(name string, version int) *Builder {
	return &Builder{
		def: &Definition{Name: name, Version: version},
	}
}

// Describe sets the human description
func (b *Builder) Describe(text string) *Builder {
	b.def.Description = text
	return b
}

// State declares a state
func (b *Builder) State(key string, kind StateKind) *Builder {
	b.def.States = append(b.def.States, State{Key: key, Kind: kind})
	return b
}

// Configure returns the configuration for transitions leaving state
func (b *Builder) Configure(state string) *StateConfiguration {
	return &StateConfiguration{builder: b, from: state}
}

// Permit allows key to move to toState
func (c *StateConfiguration) Permit(key, toState string, opts ...TransitionOption) *StateConfiguration {
	t := Transition{Key: key, From: c.from, To: toState}
	for _, opt := range opts {
		opt(&t)
	}
	c.builder.def.Transitions = append(c.builder.def.Transitions, t)
	return c
}

// PermitIf allows key to move to toState when cond holds
func (c *StateConfiguration) PermitIf(key, toState string, cond condition.Expr, opts ...TransitionOption) *StateConfiguration {
	return c.Permit(key, toState, append([]TransitionOption{WithCondition(cond)}, opts...)...)
}

// WithCondition sets the transition's guard
func WithCondition(cond condition.Expr) TransitionOption {
	return func(t *Transition) { t.Condition = cond }
}

// WithRoles restricts the transition to actors holding any of roles
func WithRoles(roles ...string) TransitionOption {
	return func(t *Transition) { t.Authorization.Roles = append(t.Authorization.Roles, roles...) }
}

// WithPermissions restricts the transition to actors holding any of perms
func WithPermissions(perms ...string) TransitionOption {
	return func(t *Transition) { t.Authorization.Permissions = append(t.Authorization.Permissions, perms...) }
}

// WithRequester lets the instance's requester invoke the transition
func WithRequester() TransitionOption {
	return func(t *Transition) { t.Authorization.AllowRequester = true }
}

// AsDecision marks the transition as resolving the current approval step
func AsDecision() TransitionOption {
	return func(t *Transition) { t.StepDecision = true }
}

// WithAuto makes the transition automatic after timeoutMinutes in the state
func WithAuto(timeoutMinutes int, businessHoursOnly bool) TransitionOption {
	return func(t *Transition) {
		t.Auto = &AutoTransition{TimeoutMinutes: timeoutMinutes, BusinessHoursOnly: businessHoursOnly}
	}
}

// WithActions appends side-effect actions
func WithActions(actions ...Action) TransitionOption {
	return func(t *Transition) { t.Actions = append(t.Actions, actions...) }
}

// Route adds a routing rule; rules added later are considered newer
func (b *Builder) Route(rule RoutingRule) *Builder {
	rule.Seq = len(b.def.RoutingRules)
	b.def.RoutingRules = append(b.def.RoutingRules, rule)
	return b
}

// DefaultChain sets the chain used when no routing rule matches
func (b *Builder) DefaultChain(steps ...ApprovalStep) *Builder {
	b.def.DefaultChain = append([]ApprovalStep(nil), steps...)
	return b
}

// Escalate adds a pointer-linked escalation rule, compiled at Build
func (b *Builder) Escalate(rule EscalationRule) *Builder {
	b.escalations = append(b.escalations, rule)
	return b
}

// BusinessRules attaches opaque business configuration
func (b *Builder) BusinessRules(rules map[string]interface{}) *Builder {
	b.def.Rules = rules
	return b
}

// Build compiles escalations and validates the definition
func (b *Builder) Build() (*Definition, error) {
	chains, err := CompileEscalations(b.escalations)
	if err != nil {
		b.errs = append(b.errs, err.Error())
	}
	b.def.Escalations = chains

	if err := Validate(b.def); err != nil {
		cerr, ok := err.(*ConfigError)
		if !ok {
			return nil, err
		}
		cerr.Problems = append(b.errs, cerr.Problems...)
		return nil, cerr
	}
	if len(b.errs) > 0 {
		return nil, &ConfigError{Workflow: b.def.Name, Version: b.def.Version, Problems: b.errs}
	}

	if b.def.PublishedAt.IsZero() {
		b.def.PublishedAt = time.Now().UTC()
	}
	return b.def, nil
}

// MustBuild is Build for definitions declared in code; it panics on error
func (b *Builder) MustBuild() *Definition {
	d, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("workflow %s: %v", b.def.Name, err))
	}
	return d
}
