// Package routing selects the approval chain for an instance.
package routing

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/wfm-approvals/internal/domain/workflow"
)

// Resolver picks the approval chain of the first matching routing rule.
// It holds no mutable state and is safe for concurrent use.
type Resolver struct {
	logger *zap.Logger
}

// NewResolver creates a resolver
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger}
}

// Resolve filters rules to those effective on asOf, walks them by ascending
// priority (ties: oldest CreatedAt, then declaration order) and returns the
// chain of the first rule whose condition holds. Without a match the default
// chain is returned.
func (r *Resolver) Resolve(def *workflow.Definition, data map[string]interface{}, asOf time.Time) (workflow.ApprovalChain, error) {
	for _, rule := range Ordered(def.RoutingRules, asOf) {
		cond := rule.Condition
		if cond == nil {
			return chainOf(rule.ID, rule.Chain), nil
		}

		ok, err := cond.Eval(data)
		if err != nil {
			r.logger.Warn("Routing rule evaluation failed, treating as no match",
				zap.String("workflow", def.Name),
				zap.String("rule", rule.ID),
				zap.Error(err))
			continue
		}
		if ok {
			return chainOf(rule.ID, rule.Chain), nil
		}
	}

	if len(def.DefaultChain) == 0 {
		return workflow.ApprovalChain{}, fmt.Errorf("%w: workflow %s v%d has no default chain: %w",
			workflow.ErrRoutingResolution, def.Name, def.Version, workflow.ErrConfig)
	}
	return chainOf(workflow.DefaultRuleID, def.DefaultChain), nil
}

// Ordered returns the rules effective on asOf in evaluation order
func Ordered(rules []workflow.RoutingRule, asOf time.Time) []workflow.RoutingRule {
	out := make([]workflow.RoutingRule, 0, len(rules))
	for _, rule := range rules {
		if rule.ActiveOn(asOf) {
			out = append(out, rule)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Seq < b.Seq
	})
	return out
}

func chainOf(ruleID string, steps []workflow.ApprovalStep) workflow.ApprovalChain {
	cp := make([]workflow.ApprovalStep, len(steps))
	for i, s := range steps {
		s.Approvers = append([]string(nil), s.Approvers...)
		cp[i] = s
	}
	return workflow.ApprovalChain{RuleID: ruleID, Steps: cp}
}
