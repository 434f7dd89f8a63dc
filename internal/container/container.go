package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/wfm-approvals/internal/application/calendar"
	"github.com/garyjia/wfm-approvals/internal/application/dispatcher"
	"github.com/garyjia/wfm-approvals/internal/application/escalation"
	"github.com/garyjia/wfm-approvals/internal/application/port"
	"github.com/garyjia/wfm-approvals/internal/application/registry"
	appwf "github.com/garyjia/wfm-approvals/internal/application/workflow"
	"github.com/garyjia/wfm-approvals/internal/infrastructure/directory"
	"github.com/garyjia/wfm-approvals/internal/infrastructure/export"
	"github.com/garyjia/wfm-approvals/internal/infrastructure/metrics"
	"github.com/garyjia/wfm-approvals/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/wfm-approvals/internal/infrastructure/worker"
	httpapi "github.com/garyjia/wfm-approvals/internal/interfaces/http"
	"github.com/garyjia/wfm-approvals/pkg/database"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	conn         *database.DB
	db           *sqlite.DB
	repositories *RepositoryBundle

	// Infrastructure - Collaborators
	metrics   *metrics.Metrics
	calendar  *calendar.Service
	directory *directory.Directory
	notifier  port.Notifier

	// Application
	registry   *registry.Registry
	dispatcher dispatcher.Dispatcher
	assigner   *appwf.Assigner
	engine     appwf.Engine
	scheduler  *escalation.Scheduler
	actions    port.ActionHandler

	// Workers
	workers *worker.WorkerManager

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Instances   port.InstanceRepository
	Assignments port.AssignmentRepository
	History     port.HistoryRepository
	Outbox      port.OutboxRepository
}

func (r *RepositoryBundle) workflow() appwf.Repositories {
	return appwf.Repositories{
		Instances:   r.Instances,
		Assignments: r.Assignments,
		History:     r.History,
		Outbox:      r.Outbox,
	}
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components and begins processing.
// Components are initialized in dependency order:
// 1. Database and repositories
// 2. Metrics, calendar and directory
// 3. Definition registry
// 4. Event dispatcher, workflow engine and escalation scheduler
// 5. Notification and side-effect delivery
// 6. Workers
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	steps := []struct {
		name string
		fn   func() error
	}{
		{"database", c.initDatabase},
		{"collaborators", c.initCollaborators},
		{"registry", c.initRegistry},
		{"workflow", c.initDispatcherAndWorkflow},
		{"delivery", c.initDelivery},
		{"workers", c.initWorkers},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			c.teardown()
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		c.logger.Info("Initialized", zap.String("component", step.name))
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	errs := c.teardown()

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

func (c *Container) teardown() []error {
	var errs []error

	if c.cancel != nil {
		c.cancel()
	}

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		} else {
			c.logger.Info("Workers stopped")
		}
		c.workers = nil
	}

	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
		c.dispatcher = nil
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
		c.conn = nil
	}
	return errs
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health() *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, healthy bool, msg string) {
		status.Components[name] = ComponentHealth{Healthy: healthy, Message: msg}
		if !healthy {
			status.Overall = false
		}
	}

	switch {
	case c.conn == nil:
		set("database", false, "not initialized")
	default:
		if err := c.conn.Ping(); err != nil {
			set("database", false, fmt.Sprintf("ping failed: %v", err))
		} else {
			set("database", true, "")
		}
	}

	if c.workers != nil {
		set("workers", c.workers.IsRunning(), fmt.Sprintf("worker count: %d", c.workers.GetWorkerCount()))
		for _, st := range c.workers.Status() {
			set("worker:"+st.Name, st.Running, "")
		}
	} else {
		set("workers", false, "not initialized")
	}

	if c.registry != nil {
		set("registry", true, fmt.Sprintf("published versions: %d", len(c.registry.List())))
	} else {
		set("registry", false, "not initialized")
	}

	set("dispatcher", c.dispatcher != nil, "")
	return status
}

func (c *Container) initDatabase() error {
	bundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.conn = bundle.Conn
	c.db = bundle.TransactionMgr

	repos, err := ProvideRepositories(c.db, c.logger)
	if err != nil {
		return err
	}
	c.repositories = repos
	return nil
}

func (c *Container) initCollaborators() error {
	c.metrics = metrics.New()

	cal, err := ProvideCalendar(&c.config.Calendar, c.metrics, c.logger)
	if err != nil {
		return err
	}
	c.calendar = cal

	c.directory = directory.New(c.config.Directory)
	return nil
}

func (c *Container) initRegistry() error {
	reg, err := ProvideRegistry(&c.config.Definitions, c.logger)
	if err != nil {
		return err
	}
	c.registry = reg
	return nil
}

func (c *Container) initDispatcherAndWorkflow() error {
	disp, err := ProvideDispatcher(c.logger)
	if err != nil {
		return err
	}
	c.dispatcher = disp

	c.assigner = appwf.NewAssigner(c.directory, c.calendar, c.logger)

	engine, err := ProvideWorkflowEngine(&WorkflowDeps{
		Registry:   c.registry,
		Repos:      c.repositories,
		TxManager:  c.db,
		Dispatcher: c.dispatcher,
		Assigner:   c.assigner,
		Metrics:    c.metrics,
		Engine:     &c.config.Engine,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.engine = engine

	scheduler, err := ProvideScheduler(&SchedulerDeps{
		Registry:   c.registry,
		Engine:     c.engine,
		Repos:      c.repositories,
		TxManager:  c.db,
		Assigner:   c.assigner,
		Calendar:   c.calendar,
		Dispatcher: c.dispatcher,
		Metrics:    c.metrics,
		Config:     &c.config.Scheduler,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.scheduler = scheduler
	return nil
}

func (c *Container) initDelivery() error {
	n, err := ProvideNotifier(&c.config.Lark, c.logger)
	if err != nil {
		return err
	}
	c.notifier = n
	c.actions = ProvideActionHandler(c.dispatcher, c.logger)
	return nil
}

func (c *Container) initWorkers() error {
	workers, err := ProvideWorkers(&WorkerDeps{
		Scheduler:     c.scheduler,
		Repos:         c.repositories,
		Notifier:      c.notifier,
		ActionHandler: c.actions,
		Metrics:       c.metrics,
		SchedulerCfg:  &c.config.Scheduler,
		OutboxCfg:     &c.config.Outbox,
		Logger:        c.logger,
	})
	if err != nil {
		return err
	}
	c.workers = workers

	if err := c.workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	return nil
}

// HTTPServices returns the collaborators the HTTP API serves.
func (c *Container) HTTPServices() httpapi.Services {
	return httpapi.Services{
		Engine:    c.engine,
		Escalator: c.scheduler,
		Catalog:   c.registry,
		Clock:     c.calendar,
		Roles:     c.directory,
		History:   c.repositories.History,
		Exporter:  export.NewHistoryExporter(c.logger),
		Metrics:   c.metrics.Handler(),
		Requests:  c.metrics,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// DB returns the transaction manager.
func (c *Container) DB() port.TransactionManager {
	return c.db
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Registry returns the definition registry.
func (c *Container) Registry() *registry.Registry {
	return c.registry
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Engine returns the workflow engine.
func (c *Container) Engine() appwf.Engine {
	return c.engine
}

// Scheduler returns the escalation scheduler.
func (c *Container) Scheduler() *escalation.Scheduler {
	return c.scheduler
}

// Calendar returns the business time service.
func (c *Container) Calendar() *calendar.Service {
	return c.calendar
}

// Directory returns the identity directory.
func (c *Container) Directory() *directory.Directory {
	return c.directory
}

// Metrics returns the metrics registry.
func (c *Container) Metrics() *metrics.Metrics {
	return c.metrics
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}
