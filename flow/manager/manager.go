// Package manager runs workflow executions in the background and fans
// their event streams out to subscribers. Event buffers are retained for
// a TTL after an execution finishes so late joiners can read history.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/floweave/floweave/flow/event"
)

const (
	// MaxEventsPerExecution caps one execution's event buffer. When an
	// append would exceed it, the oldest half is discarded: retention is
	// deliberately biased to recent events so late subscribers get an
	// accurate tail.
	MaxEventsPerExecution = 1000

	// EventTTL is how long a finished execution's events and subscribers
	// are retained before sweeping.
	EventTTL = 3600 * time.Second

	// subscriberBuffer sizes each subscriber channel. Sends never block
	// the producer; a slow subscriber loses events instead.
	subscriberBuffer = 256
)

// entry is the per-execution lifecycle state.
type entry struct {
	cancel       context.CancelFunc // nil once the task has finished
	events       []event.Event
	subscribers  []chan event.Event
	lastActivity time.Time
	closed       bool // shutdown already emitted the terminal event
}

// Manager owns per-execution background tasks, event buffers, and
// subscriber lists. It implements event.Emitter so a runtime wired with
// the manager as its emitter streams straight into the right buffer.
type Manager struct {
	logger *slog.Logger
	ttl    time.Duration
	max    int
	now    func() time.Time

	mu         sync.Mutex
	executions map[string]*entry
	wg         sync.WaitGroup
	down       bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithTTL overrides the event retention TTL.
func WithTTL(d time.Duration) Option {
	return func(m *Manager) { m.ttl = d }
}

// WithMaxEvents overrides the per-execution event cap.
func WithMaxEvents(n int) Option {
	return func(m *Manager) { m.max = n }
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a Manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		logger:     slog.Default(),
		ttl:        EventTTL,
		max:        MaxEventsPerExecution,
		now:        time.Now,
		executions: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dispatch starts run as a background task recorded under executionID.
// The runtime inside run emits the execution's lifecycle events through
// this manager; Dispatch additionally emits failed when run returns an
// error before the runtime produced a terminal event (validation
// failures, panics).
func (m *Manager) Dispatch(executionID string, run func(ctx context.Context) error) error {
	m.mu.Lock()
	if m.down {
		m.mu.Unlock()
		return fmt.Errorf("manager is shut down")
	}
	m.sweepLocked()
	if e, ok := m.executions[executionID]; ok && e.cancel != nil {
		m.mu.Unlock()
		return fmt.Errorf("execution %s is already running", executionID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := m.entryLocked(executionID)
	e.cancel = cancel
	e.closed = false
	e.lastActivity = m.now().UTC()
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("execution panicked", "execution_id", executionID, "panic", r)
				m.Emit(event.New(executionID, event.TypeFailed, map[string]any{
					"error": fmt.Sprintf("panic: %v", r),
				}))
			}
			m.clearTask(executionID)
		}()

		if err := run(ctx); err != nil {
			m.logger.Error("execution failed to start", "execution_id", executionID, "error", err)
			m.Emit(event.New(executionID, event.TypeFailed, map[string]any{
				"error": err.Error(),
			}))
		}
	}()
	return nil
}

// clearTask drops the task handle; events and subscribers remain until
// TTL expiry.
func (m *Manager) clearTask(executionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.executions[executionID]; ok {
		e.cancel = nil
		e.lastActivity = m.now().UTC()
	}
}

// Emit implements event.Emitter: appends to the execution's ring buffer
// and mirrors to its subscribers. Never blocks.
func (m *Manager) Emit(ev event.Event) {
	m.mu.Lock()
	e := m.entryLocked(ev.ExecutionID)
	if e.closed {
		m.mu.Unlock()
		return
	}
	e.events = append(e.events, ev)
	if len(e.events) > m.max {
		// Drop the oldest half.
		keep := e.events[len(e.events)/2:]
		e.events = append(make([]event.Event, 0, len(keep)), keep...)
	}
	e.lastActivity = m.now().UTC()
	subs := append([]chan event.Event(nil), e.subscribers...)
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber; at-most-once delivery permits the drop.
		}
	}
}

// Subscribe attaches a new stream to an execution. Events emitted after
// subscription are mirrored to the returned channel; call GetEvents for
// history.
func (m *Manager) Subscribe(executionID string) <-chan event.Event {
	ch := make(chan event.Event, subscriberBuffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entryLocked(executionID)
	e.subscribers = append(e.subscribers, ch)
	e.lastActivity = m.now().UTC()
	return ch
}

// Unsubscribe detaches a stream and closes it.
func (m *Manager) Unsubscribe(executionID string, stream <-chan event.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[executionID]
	if !ok {
		return
	}
	for i, ch := range e.subscribers {
		if ch == stream {
			e.subscribers = append(e.subscribers[:i], e.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
	if len(e.subscribers) == 0 && e.cancel == nil && len(e.events) == 0 {
		delete(m.executions, executionID)
	}
}

// IsRunning reports whether the execution's task handle is present.
func (m *Manager) IsRunning(executionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[executionID]
	return ok && e.cancel != nil
}

// GetEvents returns a copy of the execution's current event buffer.
func (m *Manager) GetEvents(executionID string) []event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[executionID]
	if !ok {
		return nil
	}
	out := make([]event.Event, len(e.events))
	copy(out, e.events)
	return out
}

// Shutdown cancels every in-flight task, emits a terminal failed event
// with reason "Server shutting down" on each, waits for cancellation to
// settle, and clears all state.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.down = true
	var cancels []context.CancelFunc
	for id, e := range m.executions {
		if e.cancel == nil {
			continue
		}
		ev := event.New(id, event.TypeFailed, map[string]any{"error": "Server shutting down"})
		e.events = append(e.events, ev)
		for _, ch := range e.subscribers {
			select {
			case ch <- ev:
			default:
			}
		}
		e.closed = true
		cancels = append(cancels, e.cancel)
	}
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	m.wg.Wait()

	m.mu.Lock()
	for _, e := range m.executions {
		for _, ch := range e.subscribers {
			close(ch)
		}
	}
	m.executions = make(map[string]*entry)
	m.mu.Unlock()
}

// sweepLocked removes finished executions whose last activity is past the
// TTL. Caller holds the lock.
func (m *Manager) sweepLocked() {
	cutoff := m.now().UTC().Add(-m.ttl)
	for id, e := range m.executions {
		if e.cancel == nil && e.lastActivity.Before(cutoff) {
			for _, ch := range e.subscribers {
				close(ch)
			}
			delete(m.executions, id)
		}
	}
}

func (m *Manager) entryLocked(executionID string) *entry {
	e, ok := m.executions[executionID]
	if !ok {
		e = &entry{lastActivity: m.now().UTC()}
		m.executions[executionID] = e
	}
	return e
}
