package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/wfm-approvals/internal/domain/condition"
	"github.com/garyjia/wfm-approvals/internal/domain/workflow"
	"github.com/garyjia/wfm-approvals/internal/domain/workflow/workflowtest"
)

var asOf = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func step(role string) workflow.ApprovalStep {
	return workflow.ApprovalStep{Name: role, Mode: workflow.ModeSequential, Role: role}
}

func definition(rules ...workflow.RoutingRule) *workflow.Definition {
	return &workflow.Definition{
		Name:         "overtime",
		Version:      1,
		RoutingRules: rules,
		DefaultChain: []workflow.ApprovalStep{step("supervisor"), step("hr")},
	}
}

func TestResolve_VacationScenario(t *testing.T) {
	r := NewResolver(nil)
	def := workflowtest.VacationDefinition()

	chain, err := r.Resolve(def, map[string]interface{}{"advance_notice_days": 20}, asOf)
	require.NoError(t, err)
	assert.Equal(t, "long_notice", chain.RuleID)
	require.Len(t, chain.Steps, 1)
	assert.Equal(t, "supervisor", chain.Steps[0].Role)

	chain, err = r.Resolve(def, map[string]interface{}{"advance_notice_days": 3}, asOf)
	require.NoError(t, err)
	assert.Equal(t, workflow.DefaultRuleID, chain.RuleID)
	assert.Len(t, chain.Steps, 2)
}

func TestResolve_PriorityOrder(t *testing.T) {
	r := NewResolver(nil)
	def := definition(
		workflow.RoutingRule{ID: "low", Priority: 50, Condition: condition.Always{}, Chain: []workflow.ApprovalStep{step("a")}},
		workflow.RoutingRule{ID: "high", Priority: 1, Condition: condition.Always{}, Chain: []workflow.ApprovalStep{step("b")}},
	)

	chain, err := r.Resolve(def, nil, asOf)
	require.NoError(t, err)
	assert.Equal(t, "high", chain.RuleID)
}

func TestResolve_TieBreakOldestFirst(t *testing.T) {
	r := NewResolver(nil)
	older := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.AddDate(1, 0, 0)

	def := definition(
		workflow.RoutingRule{ID: "newer", Priority: 5, Condition: condition.Always{}, CreatedAt: newer, Seq: 0, Chain: []workflow.ApprovalStep{step("a")}},
		workflow.RoutingRule{ID: "older", Priority: 5, Condition: condition.Always{}, CreatedAt: older, Seq: 1, Chain: []workflow.ApprovalStep{step("b")}},
		workflow.RoutingRule{ID: "declared_later", Priority: 5, Condition: condition.Always{}, CreatedAt: older, Seq: 2, Chain: []workflow.ApprovalStep{step("c")}},
	)

	chain, err := r.Resolve(def, nil, asOf)
	require.NoError(t, err)
	assert.Equal(t, "older", chain.RuleID)
}

func TestResolve_EffectiveWindow(t *testing.T) {
	r := NewResolver(nil)
	from := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	def := definition(workflow.RoutingRule{
		ID: "holiday_season", Priority: 1, Condition: condition.Always{},
		EffectiveFrom: &from, EffectiveTo: &to,
		Chain: []workflow.ApprovalStep{step("director")},
	})

	chain, err := r.Resolve(def, nil, asOf)
	require.NoError(t, err)
	assert.Equal(t, workflow.DefaultRuleID, chain.RuleID)

	chain, err = r.Resolve(def, nil, to.Add(20*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "holiday_season", chain.RuleID)
}

func TestResolve_EvaluationErrorIsNoMatch(t *testing.T) {
	r := NewResolver(nil)
	def := definition(workflow.RoutingRule{
		ID: "broken", Priority: 1,
		Condition: condition.Compare{Field: "hours", Op: condition.OpGt, Value: 8},
		Chain:     []workflow.ApprovalStep{step("director")},
	})

	chain, err := r.Resolve(def, map[string]interface{}{"hours": true}, asOf)
	require.NoError(t, err)
	assert.Equal(t, workflow.DefaultRuleID, chain.RuleID)
}

func TestResolve_NoDefaultChain(t *testing.T) {
	r := NewResolver(nil)
	def := definition()
	def.DefaultChain = nil

	_, err := r.Resolve(def, nil, asOf)
	assert.ErrorIs(t, err, workflow.ErrRoutingResolution)
	assert.ErrorIs(t, err, workflow.ErrConfig)
}

func TestResolve_Deterministic(t *testing.T) {
	r := NewResolver(nil)
	match := workflow.RoutingRule{
		ID: "big", Priority: 20,
		Condition: condition.Compare{Field: "hours", Op: condition.OpGte, Value: 10},
		Chain:     []workflow.ApprovalStep{step("director")},
	}
	miss1 := workflow.RoutingRule{
		ID: "weekend", Priority: 5,
		Condition: condition.Compare{Field: "weekend", Op: condition.OpEq, Value: true},
		Chain:     []workflow.ApprovalStep{step("ops")},
	}
	miss2 := workflow.RoutingRule{
		ID: "night", Priority: 10,
		Condition: condition.Membership{Field: "shift", Values: []interface{}{"night"}},
		Chain:     []workflow.ApprovalStep{step("night_lead")},
	}
	data := map[string]interface{}{"hours": 12, "weekend": false, "shift": "day"}

	first, err := r.Resolve(definition(match, miss1, miss2), data, asOf)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := r.Resolve(definition(match, miss1, miss2), data, asOf)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	// Reordering priorities of non-matching rules does not change the result
	miss1.Priority, miss2.Priority = 30, 1
	reordered, err := r.Resolve(definition(miss2, match, miss1), data, asOf)
	require.NoError(t, err)
	assert.Equal(t, first, reordered)
	assert.Equal(t, "big", first.RuleID)
}

func TestResolve_ReturnsCopy(t *testing.T) {
	r := NewResolver(nil)
	def := definition()

	chain, err := r.Resolve(def, nil, asOf)
	require.NoError(t, err)
	chain.Steps[0].Role = "changed"
	assert.Equal(t, "supervisor", def.DefaultChain[0].Role)
}
