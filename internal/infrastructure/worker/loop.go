package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// pollLoop runs tick on a fixed interval until stopped. Workers embed it and
// supply their own tick.
type pollLoop struct {
	name     string
	interval time.Duration
	tick     func(ctx context.Context)
	logger   *zap.Logger

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
}

func (l *pollLoop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.isRunning {
		return fmt.Errorf("%s already running", l.name)
	}
	if l.interval <= 0 {
		return fmt.Errorf("%s: poll interval must be positive", l.name)
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.isRunning = true

	go l.run(runCtx, l.done)

	l.logger.Info("Worker loop started",
		zap.String("worker_name", l.name),
		zap.Duration("poll_interval", l.interval))
	return nil
}

// Stop cancels the loop and waits for the tick in progress to return
func (l *pollLoop) Stop() error {
	l.mu.Lock()
	if !l.isRunning {
		l.mu.Unlock()
		return nil
	}
	l.isRunning = false
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	cancel()
	<-done
	return nil
}

func (l *pollLoop) Name() string {
	return l.name
}

func (l *pollLoop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Debug("Poll loop context cancelled", zap.String("worker_name", l.name))
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}
