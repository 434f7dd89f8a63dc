package definitions

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/wfm-approvals/internal/application/registry"
	"github.com/garyjia/wfm-approvals/internal/domain/workflow"
)

const shippedDir = "../../../configs/workflows"

func TestLoadFile_ShippedVacationDefinition(t *testing.T) {
	f, err := LoadFile(filepath.Join(shippedDir, "vacation_standard.yaml"))
	require.NoError(t, err)
	def := f.Definition

	assert.Equal(t, "vacation_standard", def.Name)
	assert.Equal(t, 1, def.Version)
	assert.Len(t, def.States, 6)
	initial, ok := def.InitialState()
	require.True(t, ok)
	assert.Equal(t, "draft", initial.Key)

	approve := def.TransitionsFrom("pending_supervisor", "approve")
	require.Len(t, approve, 2)
	assert.Equal(t, "approved", approve[0].To)
	assert.True(t, approve[0].StepDecision)
	assert.Equal(t, []string{"supervisor", "department_head"}, approve[0].Authorization.Roles)
	last, err := approve[0].Guard().Eval(map[string]interface{}{"_steps_remaining": 0})
	require.NoError(t, err)
	assert.True(t, last)
	require.Len(t, approve[0].Actions, 2)
	assert.Equal(t, workflow.ActionSideEffect, approve[0].Actions[1].Type)

	submit := def.TransitionsFrom("draft", "submit")
	require.Len(t, submit, 1)
	require.NotNil(t, submit[0].Auto)
	assert.Zero(t, submit[0].Auto.TimeoutMinutes)
	assert.True(t, submit[0].Authorization.AllowRequester)

	require.Len(t, def.RoutingRules, 1)
	rule := def.RoutingRules[0]
	assert.Equal(t, "long_notice", rule.ID)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), rule.CreatedAt)
	require.Len(t, rule.Chain, 1)
	assert.Equal(t, workflow.ModeSequential, rule.Chain[0].Mode)
	assert.Equal(t, 2880, rule.Chain[0].TimeoutMinutes)

	require.Len(t, def.DefaultChain, 2)
	assert.Equal(t, "hr", def.DefaultChain[1].Role)

	chain, ok := def.EscalationFor("pending_supervisor")
	require.True(t, ok)
	require.Len(t, chain.Levels, 2)
	assert.Equal(t, workflow.EscalateReassign, chain.Levels[0].Actions[0].Type)
	assert.Equal(t, workflow.TerminalHold, chain.Terminal.Type)

	assert.Equal(t, 15, def.Rules["max_consecutive_days"])
}

func TestParse_ParallelStep(t *testing.T) {
	data, err := os.ReadFile("testdata/review_board.yaml")
	require.NoError(t, err)

	def, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, def.DefaultChain, 1)
	step := def.DefaultChain[0]
	assert.Equal(t, workflow.ModeParallel, step.Mode)
	assert.Equal(t, workflow.QuorumMajority, step.Quorum.Kind)
	assert.Equal(t, 2, step.Quorum.Required(len(step.Approvers)))
}

func TestParse_ReportsEveryProblem(t *testing.T) {
	doc := `
name: broken
version: 1
states:
  - {key: open, kind: initial}
  - {key: done, kind: final}
transitions:
  - key: finish
    from: open
    to: done
    condition: {field: amount, op: between, value: 3}
  - {key: finish, from: done, to: open}
default_chain:
  - {name: board, mode: parallel, approvers: [a, b], quorum: most}
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.True(t, errors.Is(err, workflow.ErrConfig))

	var cerr *workflow.ConfigError
	require.ErrorAs(t, err, &cerr)
	joined := cerr.Error()
	assert.Contains(t, joined, "unknown operator")
	assert.Contains(t, joined, "unknown quorum")
	assert.Contains(t, joined, "leaves terminal state")
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("name: x\nversion: 1\nstatez: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statez")

	_, err = Parse([]byte("  \n"))
	assert.Error(t, err)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	copyFile(t, "testdata/review_board.yaml", filepath.Join(dir, "b.yaml"))
	copyFile(t, filepath.Join(shippedDir, "vacation_standard.yaml"), filepath.Join(dir, "a.yml"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	files, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "vacation_standard", files[0].Definition.Name)
	assert.Equal(t, "review_board", files[1].Definition.Name)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.yaml"), []byte("name: [\n"), 0o644))
	files, err = LoadDir(dir)
	assert.Error(t, err)
	assert.Len(t, files, 2)

	files, err = LoadDir(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestPublishDir(t *testing.T) {
	reg := registry.New(zap.NewNop())

	n, err := PublishDir(shippedDir, reg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	def, err := reg.Get("vacation_standard", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, def.Version)

	_, err = PublishDir(shippedDir, reg, zap.NewNop())
	assert.ErrorIs(t, err, workflow.ErrConfig)
}

func copyFile(t *testing.T, from, to string) {
	t.Helper()
	data, err := os.ReadFile(from)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(to, data, 0o644))
}
