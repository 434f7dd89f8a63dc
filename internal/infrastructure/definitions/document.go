package definitions

import (
	"fmt"
	"time"

	"github.com/garyjia/wfm-approvals/internal/domain/condition"
	"github.com/garyjia/wfm-approvals/internal/domain/workflow"
)

// document is the YAML form of a workflow definition
type document struct {
	Name         string                 `yaml:"name"`
	Version      int                    `yaml:"version"`
	Description  string                 `yaml:"description"`
	States       []workflow.State       `yaml:"states"`
	Transitions  []transitionDoc        `yaml:"transitions"`
	RoutingRules []routingDoc           `yaml:"routing_rules"`
	DefaultChain []stepDoc              `yaml:"default_chain"`
	Escalations  []escalationDoc        `yaml:"escalations"`
	Rules        map[string]interface{} `yaml:"rules"`
}

type transitionDoc struct {
	Key            string                 `yaml:"key"`
	From           string                 `yaml:"from"`
	To             string                 `yaml:"to"`
	Condition      map[string]interface{} `yaml:"condition"`
	Roles          []string               `yaml:"roles"`
	Permissions    []string               `yaml:"permissions"`
	AllowRequester bool                   `yaml:"allow_requester"`
	Decision       bool                   `yaml:"decision"`
	Auto           *autoDoc               `yaml:"auto"`
	Actions        []actionDoc            `yaml:"actions"`
}

type autoDoc struct {
	TimeoutMinutes    int  `yaml:"timeout_minutes"`
	BusinessHoursOnly bool `yaml:"business_hours_only"`
}

type actionDoc struct {
	Type       string                 `yaml:"type"`
	Template   string                 `yaml:"template"`
	Target     string                 `yaml:"target"`
	Recipients []string               `yaml:"recipients"`
	Payload    map[string]interface{} `yaml:"payload"`
}

type stepDoc struct {
	Name              string   `yaml:"name"`
	Mode              string   `yaml:"mode"`
	Role              string   `yaml:"role"`
	Approvers         []string `yaml:"approvers"`
	Quorum            string   `yaml:"quorum"`
	Fallback          string   `yaml:"fallback"`
	TimeoutMinutes    int      `yaml:"timeout_minutes"`
	BusinessHoursOnly bool     `yaml:"business_hours_only"`
	ExcludeWeekends   bool     `yaml:"exclude_weekends"`
	ExcludeHolidays   bool     `yaml:"exclude_holidays"`
}

type routingDoc struct {
	ID            string                 `yaml:"id"`
	Priority      int                    `yaml:"priority"`
	Condition     map[string]interface{} `yaml:"condition"`
	Chain         []stepDoc              `yaml:"chain"`
	EffectiveFrom string                 `yaml:"effective_from"`
	EffectiveTo   string                 `yaml:"effective_to"`
	CreatedAt     string                 `yaml:"created_at"`
}

type escalationDoc struct {
	ID                string                 `yaml:"id"`
	State             string                 `yaml:"state"`
	Level             int                    `yaml:"level"`
	Trigger           string                 `yaml:"trigger"`
	Condition         map[string]interface{} `yaml:"condition"`
	TimeoutMinutes    int                    `yaml:"timeout_minutes"`
	BusinessHoursOnly bool                   `yaml:"business_hours_only"`
	ExcludeWeekends   bool                   `yaml:"exclude_weekends"`
	ExcludeHolidays   bool                   `yaml:"exclude_holidays"`
	Actions           []escalationActionDoc  `yaml:"actions"`
	Next              string                 `yaml:"next"`
	Terminal          *terminalDoc           `yaml:"terminal"`
}

type escalationActionDoc struct {
	Type       string   `yaml:"type"`
	Role       string   `yaml:"role"`
	Transition string   `yaml:"transition"`
	Template   string   `yaml:"template"`
	Recipients []string `yaml:"recipients"`
}

type terminalDoc struct {
	Action     string `yaml:"action"`
	Transition string `yaml:"transition"`
}

// problems collects conversion errors so one load reports all of them
type problems []string

func (p *problems) add(format string, args ...interface{}) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

// build converts the document through the definition builder
func (d *document) build() (*workflow.Definition, error) {
	var errs problems
	b := workflow.NewBuilder(d.Name, d.Version).Describe(d.Description)

	for _, s := range d.States {
		b.State(s.Key, s.Kind)
	}

	for _, t := range d.Transitions {
		opts := []workflow.TransitionOption{}
		if cond := errs.condition(fmt.Sprintf("transition %s(%s->%s)", t.Key, t.From, t.To), t.Condition); cond != nil {
			opts = append(opts, workflow.WithCondition(cond))
		}
		if len(t.Roles) > 0 {
			opts = append(opts, workflow.WithRoles(t.Roles...))
		}
		if len(t.Permissions) > 0 {
			opts = append(opts, workflow.WithPermissions(t.Permissions...))
		}
		if t.AllowRequester {
			opts = append(opts, workflow.WithRequester())
		}
		if t.Decision {
			opts = append(opts, workflow.AsDecision())
		}
		if t.Auto != nil {
			opts = append(opts, workflow.WithAuto(t.Auto.TimeoutMinutes, t.Auto.BusinessHoursOnly))
		}
		if len(t.Actions) > 0 {
			actions := make([]workflow.Action, 0, len(t.Actions))
			for _, a := range t.Actions {
				actions = append(actions, workflow.Action{
					Type:       workflow.ActionType(a.Type),
					Template:   a.Template,
					Target:     a.Target,
					Recipients: a.Recipients,
					Payload:    a.Payload,
				})
			}
			opts = append(opts, workflow.WithActions(actions...))
		}
		b.Configure(t.From).Permit(t.Key, t.To, opts...)
	}

	for _, r := range d.RoutingRules {
		label := "routing rule " + r.ID
		rule := workflow.RoutingRule{
			ID:            r.ID,
			Priority:      r.Priority,
			Condition:     errs.condition(label, r.Condition),
			Chain:         errs.steps(label, r.Chain),
			EffectiveFrom: errs.date(label+" effective_from", r.EffectiveFrom),
			EffectiveTo:   errs.date(label+" effective_to", r.EffectiveTo),
		}
		if created := errs.date(label+" created_at", r.CreatedAt); created != nil {
			rule.CreatedAt = *created
		}
		if rule.Condition == nil {
			rule.Condition = condition.Always{}
		}
		b.Route(rule)
	}

	b.DefaultChain(errs.steps("default chain", d.DefaultChain)...)

	for _, e := range d.Escalations {
		label := "escalation " + e.ID
		rule := workflow.EscalationRule{
			ID:                e.ID,
			State:             e.State,
			Level:             e.Level,
			Trigger:           workflow.TriggerType(e.Trigger),
			TimeoutMinutes:    e.TimeoutMinutes,
			BusinessHoursOnly: e.BusinessHoursOnly,
			ExcludeWeekends:   e.ExcludeWeekends,
			ExcludeHolidays:   e.ExcludeHolidays,
			Condition:         errs.condition(label, e.Condition),
			Next:              e.Next,
		}
		if rule.Trigger == "" {
			rule.Trigger = workflow.TriggerTimeBased
		}
		for _, a := range e.Actions {
			rule.Actions = append(rule.Actions, workflow.EscalationAction{
				Type:       workflow.EscalationActionType(a.Type),
				Role:       a.Role,
				Transition: a.Transition,
				Template:   a.Template,
				Recipients: a.Recipients,
			})
		}
		if e.Terminal != nil {
			rule.Terminal = workflow.TerminalAction{
				Type:       workflow.TerminalActionType(e.Terminal.Action),
				Transition: e.Terminal.Transition,
			}
		} else if e.Next == "" {
			rule.Terminal = workflow.TerminalAction{Type: workflow.TerminalHold}
		}
		b.Escalate(rule)
	}

	if len(d.Rules) > 0 {
		b.BusinessRules(d.Rules)
	}

	def, err := b.Build()
	if len(errs) == 0 {
		return def, err
	}

	cerr := &workflow.ConfigError{Workflow: d.Name, Version: d.Version, Problems: errs}
	if built, ok := err.(*workflow.ConfigError); ok {
		cerr.Problems = append(cerr.Problems, built.Problems...)
	} else if err != nil {
		cerr.Problems = append(cerr.Problems, err.Error())
	}
	return nil, cerr
}

func (p *problems) condition(owner string, spec map[string]interface{}) condition.Expr {
	if len(spec) == 0 {
		return nil
	}
	expr, err := condition.Parse(spec)
	if err != nil {
		p.add("%s: %v", owner, err)
		return nil
	}
	return expr
}

func (p *problems) steps(owner string, docs []stepDoc) []workflow.ApprovalStep {
	steps := make([]workflow.ApprovalStep, 0, len(docs))
	for i, s := range docs {
		mode := workflow.StepMode(s.Mode)
		if mode == "" {
			mode = workflow.ModeSequential
		}
		quorum, err := workflow.ParseQuorum(s.Quorum)
		if err != nil {
			p.add("%s step %d (%s): %v", owner, i, s.Name, err)
		}
		steps = append(steps, workflow.ApprovalStep{
			Name:              s.Name,
			Mode:              mode,
			Role:              s.Role,
			Approvers:         s.Approvers,
			Quorum:            quorum,
			Fallback:          s.Fallback,
			TimeoutMinutes:    s.TimeoutMinutes,
			BusinessHoursOnly: s.BusinessHoursOnly,
			ExcludeWeekends:   s.ExcludeWeekends,
			ExcludeHolidays:   s.ExcludeHolidays,
		})
	}
	return steps
}

// date accepts a calendar date or an RFC 3339 timestamp
func (p *problems) date(owner, value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	p.add("%s: invalid date %q", owner, value)
	return nil
}
