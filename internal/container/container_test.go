package container

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appwf "github.com/garyjia/wfm-approvals/internal/application/workflow"
	"github.com/garyjia/wfm-approvals/internal/domain/entity"
	domainwf "github.com/garyjia/wfm-approvals/internal/domain/workflow"
	"github.com/garyjia/wfm-approvals/internal/infrastructure/directory"
	"github.com/garyjia/wfm-approvals/internal/infrastructure/notifier"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "wfm.db")
	cfg.Definitions.Dir = "../../configs/workflows"
	cfg.Directory = directory.Config{
		Roles: map[string][]string{"supervisor": {"sam"}, "hr": {"hana"}},
	}
	return cfg
}

func TestNewContainer_Validation(t *testing.T) {
	_, err := NewContainer(nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewContainer(DefaultConfig(), nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Lark.AppID = "cli_123"
	_, err = NewContainer(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestContainer_Lifecycle(t *testing.T) {
	c, err := NewContainer(testConfig(t), zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	assert.True(t, c.Ready())
	assert.Error(t, c.Start(ctx))

	health := c.Health()
	assert.True(t, health.Overall, "%+v", health.Components)
	assert.Equal(t, 2, c.Workers().GetWorkerCount())
	assert.True(t, health.Components["worker:EscalationWorker"].Healthy)
	assert.True(t, health.Components["worker:OutboxWorker"].Healthy)
	require.NotEmpty(t, c.Registry().List())

	// no Lark credentials configured
	_, isLog := c.notifier.(*notifier.LogNotifier)
	assert.True(t, isLog)

	res, err := c.Engine().Start(ctx, appwf.StartRequest{
		Workflow:  "vacation_standard",
		Requester: "riley",
		Data:      map[string]interface{}{"advance_notice_days": 30, "days": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, "pending_supervisor", res.State)

	out, err := c.Engine().ApplyTransition(ctx, appwf.TransitionRequest{
		InstanceID: res.InstanceID,
		Transition: "approve",
		Actor:      domainwf.Actor{ID: "sam", Roles: []string{"supervisor"}},
	})
	require.NoError(t, err)
	assert.Equal(t, entity.ResultCompleted, out.Status)

	actions, err := c.Repositories().Outbox.GetByInstanceID(ctx, res.InstanceID)
	require.NoError(t, err)
	kinds := map[string]bool{}
	for _, a := range actions {
		kinds[a.Kind] = true
	}
	assert.True(t, kinds[entity.OutboxKindNotify])
	assert.True(t, kinds[entity.OutboxKindSideEffect])

	services := c.HTTPServices()
	assert.NotNil(t, services.Metrics)
	assert.NotNil(t, services.Exporter)

	require.NoError(t, c.Close())
	assert.False(t, c.Ready())
	assert.Error(t, c.Close())
	assert.Error(t, c.Start(ctx))
}

func TestContainer_StartFailsOnBadDefinitions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Definitions.Dir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Definitions.Dir, "broken.yaml"), []byte("name: broken\nversion: 0\n"), 0o644))

	c, err := NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Error(t, c.Start(context.Background()))
	assert.False(t, c.Ready())
}
