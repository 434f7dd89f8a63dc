package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/wfm-approvals/internal/domain/event"
)

// mockLogger implements Logger for testing
type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (m *mockLogger) Debug(string, ...interface{}) {}

func (m *mockLogger) Info(msg string, _ ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, _ ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

func (m *mockLogger) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

func started(id int64) *event.Event {
	return event.NewEvent(event.TypeInstanceStarted, id, "vacation_standard", nil)
}

func TestSubscribeAndDispatch(t *testing.T) {
	d := NewDispatcher()
	var order []string

	d.Subscribe(event.TypeInstanceStarted, "first", func(ctx context.Context, evt *event.Event) error {
		order = append(order, "first")
		return nil
	})
	d.SubscribeAll("audit", func(ctx context.Context, evt *event.Event) error {
		order = append(order, "all:"+evt.Type.String())
		return nil
	})
	d.Subscribe(event.TypeInstanceStarted, "second", func(ctx context.Context, evt *event.Event) error {
		order = append(order, "second")
		return nil
	})

	require.NoError(t, d.Dispatch(context.Background(), started(1)))
	assert.Equal(t, []string{"first", "second", "all:instance.started"}, order)

	order = nil
	require.NoError(t, d.Dispatch(context.Background(), event.NewEvent(event.TypeInstanceCompleted, 1, "wf", nil)))
	assert.Equal(t, []string{"all:instance.completed"}, order)
}

func TestDispatch_ContinuesAfterFailure(t *testing.T) {
	logger := &mockLogger{}
	d := NewDispatcher(WithLogger(logger))
	var called atomic.Int32
	boom := errors.New("boom")

	d.Subscribe(event.TypeInstanceStarted, "failing", func(ctx context.Context, evt *event.Event) error {
		return boom
	})
	d.Subscribe(event.TypeInstanceStarted, "panicking", func(ctx context.Context, evt *event.Event) error {
		panic("handler bug")
	})
	d.Subscribe(event.TypeInstanceStarted, "healthy", func(ctx context.Context, evt *event.Event) error {
		called.Add(1)
		return nil
	})

	err := d.Dispatch(context.Background(), started(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "handler panic")
	assert.Equal(t, int32(1), called.Load())
	assert.Equal(t, 2, logger.ErrorCount())
}

func TestUnsubscribe(t *testing.T) {
	d := NewDispatcher()
	var called atomic.Int32
	h := func(ctx context.Context, evt *event.Event) error {
		called.Add(1)
		return nil
	}

	d.Subscribe(event.TypeInstanceStarted, "a", h)
	d.Subscribe(event.TypeInstanceStarted, "b", h)
	d.Unsubscribe(event.TypeInstanceStarted, "a")

	require.NoError(t, d.Dispatch(context.Background(), started(1)))
	assert.Equal(t, int32(1), called.Load())

	handlers := d.ListHandlers(event.TypeInstanceStarted)
	require.Len(t, handlers, 1)
	assert.Equal(t, "b", handlers[0].Name)
	assert.Nil(t, handlers[0].Handler)
}

func TestDispatchAsync(t *testing.T) {
	d := NewDispatcher()
	var called atomic.Int32

	for _, name := range []string{"a", "b"} {
		d.Subscribe(event.TypeVoteRecorded, name, func(ctx context.Context, evt *event.Event) error {
			called.Add(1)
			return nil
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.DispatchAsync(context.WithoutCancel(ctx), event.NewEvent(event.TypeVoteRecorded, 3, "wf", nil))
	cancel()

	require.NoError(t, d.Close())
	assert.Equal(t, int32(2), called.Load())
}

func TestClose(t *testing.T) {
	logger := &mockLogger{}
	d := NewDispatcher(WithLogger(logger))
	var called atomic.Int32
	d.Subscribe(event.TypeInstanceStarted, "h", func(ctx context.Context, evt *event.Event) error {
		called.Add(1)
		return nil
	})

	require.NoError(t, d.Close())
	assert.Error(t, d.Close())

	assert.ErrorIs(t, d.Dispatch(context.Background(), started(1)), ErrClosed)
	d.DispatchAsync(context.Background(), started(2))
	assert.Equal(t, int32(0), called.Load())
	assert.Equal(t, 1, logger.ErrorCount())
}

func TestConcurrentSubscribeAndDispatch(t *testing.T) {
	d := NewDispatcher()
	var called atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			d.Subscribe(event.TypeInstanceTransitioned, "h", func(ctx context.Context, evt *event.Event) error {
				called.Add(1)
				return nil
			})
		}()
		go func(id int64) {
			defer wg.Done()
			d.DispatchAsync(context.Background(), event.NewEvent(event.TypeInstanceTransitioned, id, "wf", nil))
		}(int64(i))
	}
	wg.Wait()
	require.NoError(t, d.Close())

	assert.Len(t, d.ListHandlers(event.TypeInstanceTransitioned), 20)
	assert.LessOrEqual(t, called.Load(), int32(20*20))
}

func TestDispatchAsync_RacingClose(t *testing.T) {
	for round := 0; round < 50; round++ {
		d := NewDispatcher()
		var called atomic.Int32
		d.Subscribe(event.TypeInstanceStarted, "h", func(ctx context.Context, evt *event.Event) error {
			called.Add(1)
			return nil
		})

		var (
			wg       sync.WaitGroup
			admitted atomic.Int32
			barrier  = make(chan struct{})
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				<-barrier
				d.DispatchAsync(context.Background(), started(id))
				admitted.Add(1)
			}(int64(i))
		}
		close(barrier)
		require.NoError(t, d.Close())

		// Everything dispatched before Close returned has already run
		handled := called.Load()
		wg.Wait()
		assert.Equal(t, handled, called.Load())
		assert.Equal(t, int32(8), admitted.Load())
	}
}
