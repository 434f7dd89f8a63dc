package workflow_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/wfm-approvals/internal/domain/condition"
	"github.com/garyjia/wfm-approvals/internal/domain/workflow"
	"github.com/garyjia/wfm-approvals/internal/domain/workflow/workflowtest"
)

func TestStateKind_IsTerminal(t *testing.T) {
	tests := []struct {
		kind     workflow.StateKind
		expected bool
	}{
		{workflow.KindInitial, false},
		{workflow.KindIntermediate, false},
		{workflow.KindFinal, true},
		{workflow.KindError, true},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.kind.IsTerminal())
		})
	}
}

func TestBuilder_VacationDefinition(t *testing.T) {
	def := workflowtest.VacationDefinition()

	initial, ok := def.InitialState()
	require.True(t, ok)
	assert.Equal(t, "draft", initial.Key)
	assert.True(t, def.IsTerminal("approved"))
	assert.True(t, def.IsTerminal("cancelled"))
	assert.False(t, def.IsTerminal("pending_hr"))
	assert.Len(t, def.TransitionsFrom("pending_supervisor", "approve"), 2)
	assert.Len(t, def.AutoTransitions("draft"), 1)

	chain, ok := def.EscalationFor("pending_supervisor")
	require.True(t, ok)
	require.Len(t, chain.Levels, 2)
	assert.Equal(t, "department_head", chain.Levels[0].Actions[0].Role)
	assert.Equal(t, workflow.TerminalHold, chain.Terminal.Type)

	_, ok = def.EscalationFor("pending_hr")
	assert.False(t, ok)
	assert.Equal(t, 2, def.MaxEscalationLevels())
}

func TestSelect(t *testing.T) {
	def := workflowtest.VacationDefinition()
	supervisor := workflow.Actor{ID: "u-sup", Roles: []string{"supervisor"}}
	permitsFor := func(a workflow.Actor) func(workflow.Transition) bool {
		return func(tr workflow.Transition) bool { return tr.Authorization.Permits(a, "u-req") }
	}

	t.Run("guard picks the matching branch", func(t *testing.T) {
		tr, err := def.Select("pending_supervisor", "approve", map[string]interface{}{"_steps_remaining": 1}, permitsFor(supervisor))
		require.NoError(t, err)
		assert.Equal(t, "pending_hr", tr.To)

		tr, err = def.Select("pending_supervisor", "approve", map[string]interface{}{"_steps_remaining": 0}, permitsFor(supervisor))
		require.NoError(t, err)
		assert.Equal(t, "approved", tr.To)
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := def.Select("pending_supervisor", "submit", nil, permitsFor(supervisor))
		assert.ErrorIs(t, err, workflow.ErrInvalidTransition)
	})

	t.Run("terminal state", func(t *testing.T) {
		_, err := def.Select("approved", "approve", nil, permitsFor(supervisor))
		assert.ErrorIs(t, err, workflow.ErrInvalidTransition)
	})

	t.Run("actor without role", func(t *testing.T) {
		clerk := workflow.Actor{ID: "u-clerk", Roles: []string{"clerk"}}
		_, err := def.Select("pending_supervisor", "approve", map[string]interface{}{"_steps_remaining": 0}, permitsFor(clerk))
		assert.ErrorIs(t, err, workflow.ErrUnauthorized)
	})

	t.Run("requester may cancel", func(t *testing.T) {
		requester := workflow.Actor{ID: "u-req"}
		tr, err := def.Select("pending_hr", "cancel", nil, permitsFor(requester))
		require.NoError(t, err)
		assert.Equal(t, "cancelled", tr.To)
	})

	t.Run("failed guard surfaces the condition", func(t *testing.T) {
		_, err := def.Select("pending_supervisor", "approve", map[string]interface{}{}, permitsFor(supervisor))
		require.Error(t, err)
		assert.ErrorIs(t, err, workflow.ErrConditionNotMet)

		var cerr *workflow.ConditionError
		require.True(t, errors.As(err, &cerr))
		assert.Equal(t, "approve", cerr.Transition)
		assert.Contains(t, cerr.Condition, "_steps_remaining")
	})
}

func TestAuthorization_Permits(t *testing.T) {
	auth := workflow.Authorization{Roles: []string{"hr"}, Permissions: []string{"approve:any"}}

	assert.True(t, auth.Permits(workflow.Actor{ID: "a", Roles: []string{"hr"}}, ""))
	assert.True(t, auth.Permits(workflow.Actor{ID: "b", Permissions: []string{"approve:any"}}, ""))
	assert.True(t, auth.Permits(workflow.Actor{ID: workflow.ActorEscalation}, ""))
	assert.False(t, auth.Permits(workflow.Actor{ID: "c", Roles: []string{"clerk"}}, "c"))
	assert.True(t, workflow.Authorization{}.Permits(workflow.Actor{ID: "anyone"}, ""))
}

func TestValidate(t *testing.T) {
	valid := func() *workflow.Builder {
		b := workflow.NewBuilder("leave", 1).
			State("open", workflow.KindInitial).
			State("done", workflow.KindFinal)
		b.Configure("open").Permit("approve", "done", workflow.AsDecision())
		b.DefaultChain(workflow.ApprovalStep{Name: "mgr", Mode: workflow.ModeSequential, Role: "manager"})
		return b
	}

	t.Run("valid", func(t *testing.T) {
		_, err := valid().Build()
		require.NoError(t, err)
	})

	tests := []struct {
		name    string
		mutate  func(b *workflow.Builder)
		problem string
	}{
		{
			name:    "second initial state",
			mutate:  func(b *workflow.Builder) { b.State("other", workflow.KindInitial) },
			problem: "exactly one initial state",
		},
		{
			name:    "duplicate state",
			mutate:  func(b *workflow.Builder) { b.State("done", workflow.KindFinal) },
			problem: `duplicate state "done"`,
		},
		{
			name:    "unknown target",
			mutate:  func(b *workflow.Builder) { b.Configure("open").Permit("skip", "nowhere") },
			problem: `unknown state "nowhere"`,
		},
		{
			name:    "transition from terminal",
			mutate:  func(b *workflow.Builder) { b.Configure("done").Permit("reopen", "open") },
			problem: `leaves terminal state "done"`,
		},
		{
			name:    "duplicate transition",
			mutate:  func(b *workflow.Builder) { b.Configure("open").Permit("approve", "done") },
			problem: "declared twice",
		},
		{
			name:    "no default chain",
			mutate:  func(b *workflow.Builder) { b.DefaultChain() },
			problem: "default approval chain is required",
		},
		{
			name: "parallel without fallback",
			mutate: func(b *workflow.Builder) {
				b.DefaultChain(workflow.ApprovalStep{
					Name: "board", Mode: workflow.ModeParallel,
					Approvers: []string{"user:a", "user:b"},
					Quorum:    workflow.Quorum{Kind: workflow.QuorumMajority},
				})
			},
			problem: "needs a fallback decision",
		},
		{
			name: "escalation forces unknown transition",
			mutate: func(b *workflow.Builder) {
				b.Escalate(workflow.EscalationRule{
					ID: "l1", Level: 1, Trigger: workflow.TriggerTimeBased,
					Actions:  []workflow.EscalationAction{{Type: workflow.EscalateForceTransition, Transition: "expire"}},
					Terminal: workflow.TerminalAction{Type: workflow.TerminalHold},
				})
			},
			problem: `forces unknown transition "expire"`,
		},
		{
			name: "escalation forces transition from another state",
			mutate: func(b *workflow.Builder) {
				b.State("review", workflow.KindIntermediate)
				b.Configure("open").Permit("send", "review")
				b.Configure("review").Permit("expire", "done")
				b.Escalate(workflow.EscalationRule{
					ID: "l1", State: "open", Level: 1, Trigger: workflow.TriggerTimeBased,
					Actions:  []workflow.EscalationAction{{Type: workflow.EscalateForceTransition, Transition: "expire"}},
					Terminal: workflow.TerminalAction{Type: workflow.TerminalHold},
				})
			},
			problem: `forces "expire", which is not declared from open`,
		},
		{
			name: "terminal approve without transition",
			mutate: func(b *workflow.Builder) {
				b.Escalate(workflow.EscalationRule{
					ID: "l1", Level: 1, Trigger: workflow.TriggerTimeBased,
					Terminal: workflow.TerminalAction{Type: workflow.TerminalReject},
				})
			},
			problem: `ends with unknown transition "reject"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := valid()
			tt.mutate(b)
			_, err := b.Build()
			require.Error(t, err)
			assert.ErrorIs(t, err, workflow.ErrConfig)

			var cerr *workflow.ConfigError
			require.True(t, errors.As(err, &cerr))
			assert.Contains(t, cerr.Error(), tt.problem)
		})
	}
}

func TestCompileEscalations(t *testing.T) {
	rule := func(id string, level int, next string) workflow.EscalationRule {
		return workflow.EscalationRule{ID: id, State: "s", Level: level, Trigger: workflow.TriggerTimeBased, Next: next}
	}

	t.Run("orders levels by pointer walk", func(t *testing.T) {
		chains, err := workflow.CompileEscalations([]workflow.EscalationRule{
			rule("b", 2, "c"), rule("c", 5, ""), rule("a", 1, "b"),
		})
		require.NoError(t, err)
		require.Len(t, chains, 1)

		var levels []int
		for _, l := range chains[0].Levels {
			levels = append(levels, l.Level)
		}
		assert.Equal(t, []int{1, 2, 5}, levels)

		next, ok := chains[0].NextAfter(2)
		require.True(t, ok)
		assert.Equal(t, "c", next.RuleID)
		_, ok = chains[0].NextAfter(5)
		assert.False(t, ok)
	})

	t.Run("cycle without entry", func(t *testing.T) {
		_, err := workflow.CompileEscalations([]workflow.EscalationRule{rule("a", 1, "b"), rule("b", 2, "a")})
		assert.ErrorContains(t, err, "cycle")
	})

	t.Run("cycle behind a head", func(t *testing.T) {
		_, err := workflow.CompileEscalations([]workflow.EscalationRule{
			rule("h", 1, ""), rule("x", 2, "y"), rule("y", 3, "x"),
		})
		assert.ErrorContains(t, err, "cycle")
	})

	t.Run("non increasing level", func(t *testing.T) {
		_, err := workflow.CompileEscalations([]workflow.EscalationRule{rule("a", 2, "b"), rule("b", 2, "")})
		assert.ErrorContains(t, err, "not above")
	})

	t.Run("unknown successor", func(t *testing.T) {
		_, err := workflow.CompileEscalations([]workflow.EscalationRule{rule("a", 1, "zz")})
		assert.ErrorContains(t, err, "unknown rule")
	})

	t.Run("walk terminates within level count", func(t *testing.T) {
		def := workflowtest.VacationDefinition()
		chain, _ := def.EscalationFor("pending_supervisor")

		fired, steps := 0, 0
		for {
			next, ok := chain.NextAfter(fired)
			if !ok {
				break
			}
			fired = next.Level
			steps++
			require.LessOrEqual(t, steps, def.MaxEscalationLevels())
		}
		assert.Equal(t, 2, steps)
	})
}

func TestQuorum(t *testing.T) {
	tests := []struct {
		in       string
		total    int
		required int
	}{
		{"", 3, 3},
		{"all", 4, 4},
		{"majority", 4, 3},
		{"majority", 3, 2},
		{"first", 5, 1},
		{"count:2", 5, 2},
		{"count:9", 3, 3},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			q, err := workflow.ParseQuorum(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.required, q.Required(tt.total))
		})
	}

	_, err := workflow.ParseQuorum("count:0")
	assert.Error(t, err)
	_, err = workflow.ParseQuorum("most")
	assert.Error(t, err)
}

func TestRoutingRule_ActiveOn(t *testing.T) {
	from := mustDate(t, "2025-03-01")
	to := mustDate(t, "2025-03-31")
	rule := workflow.RoutingRule{ID: "march", EffectiveFrom: &from, EffectiveTo: &to, Condition: condition.Always{}}

	assert.True(t, rule.ActiveOn(mustDate(t, "2025-03-01")))
	assert.True(t, rule.ActiveOn(to.Add(23*time.Hour)))
	assert.False(t, rule.ActiveOn(mustDate(t, "2025-04-01")))
	assert.False(t, rule.ActiveOn(mustDate(t, "2025-02-28")))
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return d
}
