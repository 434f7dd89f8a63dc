package container

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/wfm-approvals/internal/application/calendar"
	"github.com/garyjia/wfm-approvals/internal/application/dispatcher"
	"github.com/garyjia/wfm-approvals/internal/application/escalation"
	"github.com/garyjia/wfm-approvals/internal/application/port"
	"github.com/garyjia/wfm-approvals/internal/application/registry"
	appwf "github.com/garyjia/wfm-approvals/internal/application/workflow"
	"github.com/garyjia/wfm-approvals/internal/domain/event"
	infracal "github.com/garyjia/wfm-approvals/internal/infrastructure/calendar"
	"github.com/garyjia/wfm-approvals/internal/infrastructure/definitions"
	infraLark "github.com/garyjia/wfm-approvals/internal/infrastructure/external/lark"
	"github.com/garyjia/wfm-approvals/internal/infrastructure/metrics"
	"github.com/garyjia/wfm-approvals/internal/infrastructure/notifier"
	"github.com/garyjia/wfm-approvals/internal/infrastructure/persistence/repository"
	"github.com/garyjia/wfm-approvals/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/wfm-approvals/internal/infrastructure/worker"
	"github.com/garyjia/wfm-approvals/pkg/database"
	"github.com/garyjia/wfm-approvals/pkg/utils"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	Conn           *database.DB
	TransactionMgr *sqlite.DB
}

// ProvideDatabase opens the database, applies pending migrations and wraps
// the connection in a transaction manager.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	conn, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(conn, logger).Up(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		Conn:           conn,
		TransactionMgr: sqlite.NewDB(conn.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories over the transaction manager.
func ProvideRepositories(db *sqlite.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Instances:   repository.NewInstanceRepository(db, logger),
		Assignments: repository.NewAssignmentRepository(db, logger),
		History:     repository.NewHistoryRepository(db, logger),
		Outbox:      repository.NewOutboxRepository(db, logger),
	}, nil
}

// ProvideRegistry creates the definition registry and publishes every file
// of the definitions directory.
func ProvideRegistry(cfg *DefinitionsConfig, logger *zap.Logger) (*registry.Registry, error) {
	reg := registry.New(logger)
	if cfg == nil || cfg.Dir == "" {
		logger.Warn("No definitions directory configured, registry starts empty")
		return reg, nil
	}

	n, err := definitions.PublishDir(cfg.Dir, reg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to publish workflow definitions: %w", err)
	}
	logger.Info("Workflow definitions published", zap.String("dir", cfg.Dir), zap.Int("count", n))
	return reg, nil
}

// ProvideCalendar builds the static calendar behind a breaker-guarded
// deadline service. Degraded days are counted on m when it is non-nil.
func ProvideCalendar(cfg *CalendarConfig, m *metrics.Metrics, logger *zap.Logger) (*calendar.Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("calendar config is required")
	}

	static, err := infracal.NewStaticCalendar(cfg.Static)
	if err != nil {
		return nil, err
	}

	opts := []calendar.Option{
		calendar.WithLocation(static.Location()),
		calendar.WithBreaker(cfg.Breaker),
	}
	if m != nil {
		opts = append(opts, calendar.WithDegradedHook(m.CalendarDegraded))
	}
	return calendar.NewService(static, logger, opts...), nil
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(utils.NewKeyValueLogger(logger)),
	), nil
}

// WorkflowDeps holds dependencies required for creating the workflow engine.
type WorkflowDeps struct {
	Registry   *registry.Registry
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Dispatcher dispatcher.Dispatcher
	Assigner   *appwf.Assigner
	Metrics    *metrics.Metrics
	Engine     *EngineConfig
	Logger     *zap.Logger
}

// ProvideWorkflowEngine creates the state machine executor.
func ProvideWorkflowEngine(deps *WorkflowDeps) (appwf.Engine, error) {
	if deps == nil {
		return nil, fmt.Errorf("workflow dependencies are required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}

	opts := []appwf.EngineOption{
		appwf.WithLogger(deps.Logger),
		appwf.WithAssigner(deps.Assigner),
	}
	if deps.Dispatcher != nil {
		opts = append(opts, appwf.WithDispatcher(deps.Dispatcher))
	}
	if deps.Metrics != nil {
		opts = append(opts, appwf.WithRecorder(deps.Metrics))
	}
	if deps.Engine != nil && deps.Engine.MaxAutoHops > 0 {
		opts = append(opts, appwf.WithMaxAutoHops(deps.Engine.MaxAutoHops))
	}

	return appwf.NewEngine(deps.Registry, deps.Repos.workflow(), deps.TxManager, opts...), nil
}

// SchedulerDeps holds dependencies required for creating the escalation scheduler.
type SchedulerDeps struct {
	Registry   *registry.Registry
	Engine     appwf.Engine
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Assigner   *appwf.Assigner
	Calendar   *calendar.Service
	Dispatcher dispatcher.Dispatcher
	Metrics    *metrics.Metrics
	Config     *SchedulerConfig
	Logger     *zap.Logger
}

// ProvideScheduler creates the escalation scheduler.
func ProvideScheduler(deps *SchedulerDeps) (*escalation.Scheduler, error) {
	if deps == nil || deps.Engine == nil || deps.Repos == nil || deps.Calendar == nil {
		return nil, fmt.Errorf("scheduler dependencies are required")
	}

	opts := []escalation.Option{escalation.WithLogger(deps.Logger)}
	if deps.Dispatcher != nil {
		opts = append(opts, escalation.WithDispatcher(deps.Dispatcher))
	}
	if deps.Metrics != nil {
		opts = append(opts, escalation.WithRecorder(deps.Metrics))
	}
	if deps.Config != nil {
		if deps.Config.BatchSize > 0 {
			opts = append(opts, escalation.WithBatchSize(deps.Config.BatchSize))
		}
		if deps.Config.Interval > 0 {
			opts = append(opts, escalation.WithRecheckInterval(deps.Config.Interval))
		}
		if len(deps.Config.ManualRoles) > 0 {
			opts = append(opts, escalation.WithManualRoles(deps.Config.ManualRoles...))
		}
	}

	return escalation.NewScheduler(deps.Registry, deps.Engine, deps.Repos.workflow(), deps.TxManager,
		deps.Assigner, deps.Calendar, opts...), nil
}

// ProvideNotifier returns a Lark notifier when credentials are configured,
// otherwise a notifier that writes to the log.
func ProvideNotifier(cfg *LarkConfig, logger *zap.Logger) (port.Notifier, error) {
	larkCfg := infraLark.Config{}
	if cfg != nil {
		larkCfg = infraLark.Config{AppID: cfg.AppID, AppSecret: cfg.AppSecret, ReceiveIDType: cfg.ReceiveIDType}
	}
	if !larkCfg.Enabled() {
		logger.Info("Lark credentials not configured, notifications go to the log")
		return notifier.NewLogNotifier(logger), nil
	}

	sdk := infraLark.NewSDKClient(larkCfg, logger)
	n, err := infraLark.NewNotifier(infraLark.NewMessenger(sdk, logger), larkCfg.ReceiveIDType, cfg.Templates, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Lark notifier configured", zap.String("app_id", sdk.GetAppID()))
	return n, nil
}

// ProvideActionHandler routes outbox side effects through the dispatcher.
// A log subscriber is registered so side effects without an integration
// are still acknowledged.
func ProvideActionHandler(d dispatcher.Dispatcher, logger *zap.Logger) port.ActionHandler {
	d.Subscribe(event.TypeActionRequested, "action_log", func(_ context.Context, evt *event.Event) error {
		logger.Info("Side effect requested",
			zap.String("target", evt.GetPayloadString(dispatcher.PayloadTarget)),
			zap.String("delivery_id", evt.CorrelationID),
			zap.Int64("instance_id", evt.InstanceID),
			zap.String("workflow", evt.Workflow))
		return nil
	})
	return dispatcher.NewActionHandler(d)
}

// WorkerDeps holds dependencies required for creating workers.
type WorkerDeps struct {
	Scheduler     *escalation.Scheduler
	Repos         *RepositoryBundle
	Notifier      port.Notifier
	ActionHandler port.ActionHandler
	Metrics       *metrics.Metrics
	SchedulerCfg  *SchedulerConfig
	OutboxCfg     *OutboxConfig
	Logger        *zap.Logger
}

// ProvideWorkers creates and registers all background workers.
// Returns *worker.WorkerManager with all workers registered but not started.
func ProvideWorkers(deps *WorkerDeps) (*worker.WorkerManager, error) {
	if deps == nil {
		return nil, fmt.Errorf("worker dependencies are required")
	}
	if deps.Scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.SchedulerCfg == nil || deps.OutboxCfg == nil {
		return nil, fmt.Errorf("worker config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	manager := worker.NewWorkerManager(deps.Logger)

	manager.Register(worker.NewEscalationWorker(
		worker.EscalationWorkerConfig{Interval: deps.SchedulerCfg.Interval},
		deps.Scheduler,
		deps.Logger,
	))

	var opts []worker.OutboxOption
	if deps.Metrics != nil {
		opts = append(opts, worker.WithDeliveryRecorder(deps.Metrics))
	}
	manager.Register(worker.NewOutboxWorker(
		worker.OutboxWorkerConfig{
			PollInterval:    deps.OutboxCfg.PollInterval,
			BatchSize:       deps.OutboxCfg.BatchSize,
			MaxAttempts:     deps.OutboxCfg.MaxAttempts,
			BaseBackoff:     deps.OutboxCfg.BaseBackoff,
			MaxBackoff:      deps.OutboxCfg.MaxBackoff,
			DeliveryTimeout: deps.OutboxCfg.DeliveryTimeout,
		},
		deps.Repos.Outbox,
		deps.Notifier,
		deps.ActionHandler,
		deps.Logger,
		opts...,
	))

	return manager, nil
}
