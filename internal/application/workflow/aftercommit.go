package workflow

import (
	"context"
	"sync"
)

type afterCommitKey struct{}

// AfterCommit queues the event publishing, metrics and logs of engine calls
// that join a transaction owned by the caller. The owner runs the queue once
// its transaction has committed and drops it otherwise.
type AfterCommit struct {
	mu  sync.Mutex
	fns []func(ctx context.Context)
}

// WithAfterCommit returns a ctx under which engine calls queue their
// post-commit work on ac instead of running it
func WithAfterCommit(ctx context.Context, ac *AfterCommit) context.Context {
	return context.WithValue(ctx, afterCommitKey{}, ac)
}

func afterCommitFrom(ctx context.Context) *AfterCommit {
	ac, _ := ctx.Value(afterCommitKey{}).(*AfterCommit)
	return ac
}

// Run executes the queued work in order and empties the queue
func (ac *AfterCommit) Run(ctx context.Context) {
	ac.mu.Lock()
	fns := ac.fns
	ac.fns = nil
	ac.mu.Unlock()

	for _, fn := range fns {
		fn(ctx)
	}
}

// Discard drops the queued work
func (ac *AfterCommit) Discard() {
	ac.mu.Lock()
	ac.fns = nil
	ac.mu.Unlock()
}

// Len reports how much work is queued
func (ac *AfterCommit) Len() int {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return len(ac.fns)
}

func (ac *AfterCommit) add(fn func(ctx context.Context)) {
	ac.mu.Lock()
	ac.fns = append(ac.fns, fn)
	ac.mu.Unlock()
}

// afterCommit runs fn now, or queues it when ctx carries an AfterCommit
func afterCommit(ctx context.Context, fn func(ctx context.Context)) {
	if ac := afterCommitFrom(ctx); ac != nil {
		ac.add(fn)
		return
	}
	fn(ctx)
}
