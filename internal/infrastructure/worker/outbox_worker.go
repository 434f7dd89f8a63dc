package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/wfm-approvals/internal/application/port"
	"github.com/garyjia/wfm-approvals/internal/domain/entity"
)

// OutboxWorkerConfig holds configuration for the outbox worker
type OutboxWorkerConfig struct {
	PollInterval    time.Duration
	BatchSize       int
	MaxAttempts     int
	BaseBackoff     time.Duration
	MaxBackoff      time.Duration
	DeliveryTimeout time.Duration
}

// DefaultOutboxWorkerConfig returns default configuration
func DefaultOutboxWorkerConfig() OutboxWorkerConfig {
	return OutboxWorkerConfig{
		PollInterval:    5 * time.Second,
		BatchSize:       50,
		MaxAttempts:     8,
		BaseBackoff:     30 * time.Second,
		MaxBackoff:      time.Hour,
		DeliveryTimeout: 30 * time.Second,
	}
}

// DeliveryRecorder observes outbox deliveries
type DeliveryRecorder interface {
	Delivered(kind string)
	DeliveryFailed(kind string, gaveUp bool)
}

type nopDeliveryRecorder struct{}

func (nopDeliveryRecorder) Delivered(string)            {}
func (nopDeliveryRecorder) DeliveryFailed(string, bool) {}

// OutboxWorker drains the outbox: notify actions go to the Notifier and
// side_effect actions to the ActionHandler. Failed deliveries are retried
// with exponential backoff until MaxAttempts.
type OutboxWorker struct {
	pollLoop
	config   OutboxWorkerConfig
	outbox   port.OutboxRepository
	notifier port.Notifier
	handler  port.ActionHandler
	recorder DeliveryRecorder
	now      func() time.Time
}

// OutboxOption configures the outbox worker
type OutboxOption func(*OutboxWorker)

// WithDeliveryRecorder registers a delivery observer
func WithDeliveryRecorder(r DeliveryRecorder) OutboxOption {
	return func(w *OutboxWorker) { w.recorder = r }
}

// WithOutboxClock overrides the time source
func WithOutboxClock(now func() time.Time) OutboxOption {
	return func(w *OutboxWorker) { w.now = now }
}

// NewOutboxWorker creates a new outbox worker
func NewOutboxWorker(
	cfg OutboxWorkerConfig,
	outbox port.OutboxRepository,
	notifier port.Notifier,
	handler port.ActionHandler,
	logger *zap.Logger,
	opts ...OutboxOption,
) *OutboxWorker {
	defaults := DefaultOutboxWorkerConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaults.BaseBackoff
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}

	w := &OutboxWorker{
		config:   cfg,
		outbox:   outbox,
		notifier: notifier,
		handler:  handler,
		recorder: nopDeliveryRecorder{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	w.pollLoop = pollLoop{
		name:     "OutboxWorker",
		interval: cfg.PollInterval,
		tick:     func(ctx context.Context) { _, _, _ = w.RunOnce(ctx) },
		logger:   logger,
	}
	return w
}

// RunOnce delivers one batch of due actions and reports how many were
// delivered and how many failed
func (w *OutboxWorker) RunOnce(ctx context.Context) (delivered, failed int, err error) {
	due, err := w.outbox.ListDue(ctx, w.now(), w.config.BatchSize)
	if err != nil {
		w.logger.Error("Failed to list due outbox actions", zap.Error(err))
		return 0, 0, err
	}

	for _, action := range due {
		if ctx.Err() != nil {
			return delivered, failed, ctx.Err()
		}
		if w.process(ctx, action) {
			delivered++
		} else {
			failed++
		}
	}

	if len(due) > 0 {
		w.logger.Info("Outbox batch processed",
			zap.Int("due", len(due)),
			zap.Int("delivered", delivered),
			zap.Int("failed", failed))
	}
	return delivered, failed, nil
}

func (w *OutboxWorker) process(ctx context.Context, action *entity.OutboxAction) bool {
	deliverErr := w.deliver(ctx, action)
	now := w.now()

	if deliverErr == nil {
		if err := w.outbox.MarkDelivered(ctx, action.ID, now); err != nil {
			// Delivery happened; the row stays pending and is redelivered
			// under the same delivery ID.
			w.logger.Error("Failed to mark outbox action delivered",
				zap.Int64("action_id", action.ID),
				zap.String("delivery_id", action.DeliveryID),
				zap.Error(err))
			return false
		}
		w.recorder.Delivered(action.Kind)
		return true
	}

	attempt := action.Attempts + 1
	giveUp := attempt >= w.config.MaxAttempts
	next := now.Add(w.backoff(attempt))

	logFields := []zap.Field{
		zap.Int64("action_id", action.ID),
		zap.Int64("instance_id", action.InstanceID),
		zap.String("kind", action.Kind),
		zap.Int("attempt", attempt),
		zap.Error(deliverErr),
	}
	if giveUp {
		w.logger.Error("Outbox action failed permanently", logFields...)
	} else {
		w.logger.Warn("Outbox delivery failed, will retry", append(logFields, zap.Time("next_attempt_at", next))...)
	}

	if err := w.outbox.RecordFailure(ctx, action.ID, deliverErr.Error(), next, giveUp); err != nil {
		w.logger.Error("Failed to record outbox failure",
			zap.Int64("action_id", action.ID),
			zap.Error(err))
	}
	w.recorder.DeliveryFailed(action.Kind, giveUp)
	return false
}

func (w *OutboxWorker) deliver(ctx context.Context, action *entity.OutboxAction) error {
	if w.config.DeliveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.DeliveryTimeout)
		defer cancel()
	}

	switch action.Kind {
	case entity.OutboxKindNotify:
		if w.notifier == nil {
			return fmt.Errorf("no notifier configured")
		}
		if len(action.Recipients) == 0 {
			w.logger.Warn("Notification has no recipients, dropping",
				zap.Int64("action_id", action.ID),
				zap.String("template", action.Template))
			return nil
		}
		_, err := w.notifier.Send(ctx, port.Notification{
			DeliveryID: action.DeliveryID,
			InstanceID: action.InstanceID,
			Template:   action.Template,
			Recipients: action.Recipients,
			Payload:    action.Payload,
		})
		return err

	case entity.OutboxKindSideEffect:
		if w.handler == nil {
			return fmt.Errorf("no action handler configured")
		}
		return w.handler.Handle(ctx, action)

	default:
		return fmt.Errorf("unknown outbox action kind %q", action.Kind)
	}
}

// backoff doubles from BaseBackoff per attempt, capped at MaxBackoff
func (w *OutboxWorker) backoff(attempt int) time.Duration {
	d := w.config.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= w.config.MaxBackoff {
			return w.config.MaxBackoff
		}
	}
	return d
}
