package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/wfm-approvals/internal/application/escalation"
)

// Sweeper runs one escalation pass
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (escalation.SweepReport, error)
}

// EscalationWorkerConfig holds configuration for the escalation worker
type EscalationWorkerConfig struct {
	Interval time.Duration
}

// DefaultEscalationWorkerConfig returns default configuration
func DefaultEscalationWorkerConfig() EscalationWorkerConfig {
	return EscalationWorkerConfig{Interval: time.Minute}
}

// EscalationWorker sweeps overdue assignments on a schedule. Sweeps are
// idempotent, so several processes may run one against the same database.
type EscalationWorker struct {
	pollLoop
	sweeper Sweeper
	now     func() time.Time
}

// NewEscalationWorker creates a new escalation worker
func NewEscalationWorker(cfg EscalationWorkerConfig, sweeper Sweeper, logger *zap.Logger) *EscalationWorker {
	w := &EscalationWorker{
		sweeper: sweeper,
		now:     func() time.Time { return time.Now().UTC() },
	}
	w.pollLoop = pollLoop{
		name:     "EscalationWorker",
		interval: cfg.Interval,
		tick:     func(ctx context.Context) { _, _ = w.RunOnce(ctx) },
		logger:   logger,
	}
	return w
}

// RunOnce performs a single sweep at the current time. The sweeper logs
// its own summary.
func (w *EscalationWorker) RunOnce(ctx context.Context) (escalation.SweepReport, error) {
	report, err := w.sweeper.Sweep(ctx, w.now())
	if err != nil {
		w.logger.Error("Escalation sweep failed", zap.Error(err))
	}
	return report, err
}
