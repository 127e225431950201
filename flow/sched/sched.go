// Package sched manages cron-triggered workflow executions. Each enabled
// schedule is registered as a cron entry with a per-schedule IANA
// timezone; fires are handed to a dispatcher, typically backed by the
// background execution manager.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/floweave/floweave/flow"
	"github.com/floweave/floweave/flow/store"
)

// MisfireGrace is how late a fire may be and still run. A scheduler that
// was offline longer than this silently drops the missed firing.
const MisfireGrace = 60 * time.Second

const tickInterval = time.Second

// Dispatcher starts one execution for a fired schedule.
type Dispatcher func(ctx context.Context, s *flow.Schedule) error

// Scheduler owns the trigger table: one cron entry per enabled schedule.
type Scheduler struct {
	store    store.ScheduleStore
	dispatch Dispatcher
	logger   *slog.Logger
	now      func() time.Time
	parser   cron.Parser

	mu      sync.Mutex
	entries map[string]*cronEntry
	stop    chan struct{}
	running bool
}

// cronEntry is one registered trigger. next is kept in UTC.
type cronEntry struct {
	schedule *flow.Schedule
	spec     cron.Schedule
	loc      *time.Location
	next     time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a Scheduler over a schedule store and a dispatcher.
func New(st store.ScheduleStore, dispatch Dispatcher, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    st,
		dispatch: dispatch,
		logger:   slog.Default(),
		now:      time.Now,
		// 5-field expressions with an optional leading seconds field.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour |
			cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		entries: make(map[string]*cronEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateExpression rejects malformed cron expressions before a schedule
// is accepted.
func (s *Scheduler) ValidateExpression(expr string) error {
	if _, err := s.parser.Parse(expr); err != nil {
		return &flow.Error{
			Code:    flow.ErrCodeValidation,
			Message: fmt.Sprintf("invalid cron expression %q: %v", expr, err),
		}
	}
	return nil
}

// Start loads all enabled schedules, registers their triggers, and runs
// the tick loop until Stop or ctx cancellation.
func (s *Scheduler) Start(ctx context.Context) error {
	schedules, err := s.store.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("load enabled schedules: %w", err)
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.running = true
	s.stop = make(chan struct{})
	s.mu.Unlock()

	for _, sch := range schedules {
		if err := s.register(ctx, sch); err != nil {
			s.logger.Warn("skipping schedule", "schedule_id", sch.ID, "error", err)
		}
	}

	go s.loop(ctx)
	s.logger.Info("scheduler started", "schedules", len(schedules))
	return nil
}

// Stop halts the tick loop. Registered triggers stay in place so Start
// can be called again.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		close(s.stop)
		s.running = false
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.CheckDue(ctx)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// CheckDue fires every trigger whose next run time has arrived. Fires
// later than the misfire grace are dropped and the trigger advances.
// Exposed so tests can drive the scheduler with an injected clock.
func (s *Scheduler) CheckDue(ctx context.Context) {
	now := s.now().UTC()

	s.mu.Lock()
	var due []*cronEntry
	for _, e := range s.entries {
		if !e.next.After(now) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		fireAt := e.next
		if now.Sub(fireAt) > MisfireGrace {
			s.logger.Warn("dropping misfired schedule past grace window",
				"schedule_id", e.schedule.ID, "scheduled_for", fireAt, "now", now)
			s.advance(ctx, e, now, false)
			continue
		}
		s.fire(ctx, e, fireAt)
	}
}

// fire dispatches one execution and writes last_run_at / next_run_at back
// to the store.
func (s *Scheduler) fire(ctx context.Context, e *cronEntry, fireAt time.Time) {
	if err := s.dispatch(ctx, e.schedule); err != nil {
		s.logger.Error("schedule dispatch failed",
			"schedule_id", e.schedule.ID, "error", err)
	}

	s.mu.Lock()
	last := fireAt
	e.schedule.LastRunAt = &last
	s.mu.Unlock()
	s.advance(ctx, e, fireAt, true)
}

// advance computes the next fire time after `after` and persists the
// schedule when persist is set.
func (s *Scheduler) advance(ctx context.Context, e *cronEntry, after time.Time, persist bool) {
	s.mu.Lock()
	next := e.spec.Next(after.In(e.loc)).UTC()
	e.next = next
	e.schedule.NextRunAt = &next
	sch := *e.schedule
	s.mu.Unlock()

	if persist {
		if err := s.store.SaveSchedule(ctx, &sch); err != nil {
			s.logger.Error("persist schedule run times",
				"schedule_id", sch.ID, "error", err)
		}
	}
}

// register parses and installs one trigger.
func (s *Scheduler) register(ctx context.Context, sch *flow.Schedule) error {
	spec, err := s.parser.Parse(sch.Expression)
	if err != nil {
		return &flow.Error{
			Code:    flow.ErrCodeValidation,
			Message: fmt.Sprintf("invalid cron expression %q: %v", sch.Expression, err),
		}
	}
	loc := s.location(sch)

	now := s.now().UTC()
	next := spec.Next(now.In(loc)).UTC()

	s.mu.Lock()
	s.entries[sch.ID] = &cronEntry{schedule: sch, spec: spec, loc: loc, next: next}
	s.mu.Unlock()

	sch.NextRunAt = &next
	if err := s.store.SaveSchedule(ctx, sch); err != nil {
		return fmt.Errorf("persist next_run_at: %w", err)
	}
	return nil
}

// location resolves the schedule's IANA timezone, warning and falling
// back to UTC when it is unset or unknown.
func (s *Scheduler) location(sch *flow.Schedule) *time.Location {
	if sch.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(sch.Timezone)
	if err != nil {
		s.logger.Warn("unknown timezone, using UTC",
			"schedule_id", sch.ID, "timezone", sch.Timezone)
		return time.UTC
	}
	return loc
}

// Add validates and persists a new schedule, installing its trigger when
// enabled.
func (s *Scheduler) Add(ctx context.Context, sch *flow.Schedule) error {
	if err := s.ValidateExpression(sch.Expression); err != nil {
		return err
	}
	if sch.Enabled {
		return s.register(ctx, sch)
	}
	return s.store.SaveSchedule(ctx, sch)
}

// Update reconciles a changed schedule with the trigger table.
func (s *Scheduler) Update(ctx context.Context, sch *flow.Schedule) error {
	if err := s.ValidateExpression(sch.Expression); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.entries, sch.ID)
	s.mu.Unlock()
	if sch.Enabled {
		return s.register(ctx, sch)
	}
	return s.store.SaveSchedule(ctx, sch)
}

// Remove uninstalls a schedule's trigger and deletes it from the store.
func (s *Scheduler) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return s.store.DeleteSchedule(ctx, id)
}

// Enable turns a stored schedule on and installs its trigger.
func (s *Scheduler) Enable(ctx context.Context, id string) error {
	sch, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	sch.Enabled = true
	return s.register(ctx, sch)
}

// Disable turns a schedule off and uninstalls its trigger.
func (s *Scheduler) Disable(ctx context.Context, id string) error {
	sch, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	sch.Enabled = false
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return s.store.SaveSchedule(ctx, sch)
}
