// Package schedule triggers chains from cron expressions.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron parses a 5-field cron expression or a descriptor such as @hourly
func ParseCron(expr string) (cron.Schedule, error) {
	return parser.Parse(expr)
}

// Validate checks that a schedule can be registered
func Validate(s domain.Schedule) error {
	if s.ChainID == "" {
		return fmt.Errorf("chain id is required")
	}
	if s.Cron == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := ParseCron(s.Cron); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// RunFunc starts the chain of a due schedule
type RunFunc func(ctx context.Context, s domain.Schedule) error

type entry struct {
	schedule domain.Schedule
	cron     cron.Schedule
	lastRun  time.Time
	running  bool
}

// Scheduler keeps registered schedules and fires the ones that are due
type Scheduler struct {
	entries map[string]*entry
	mu      sync.RWMutex
	log     *zap.SugaredLogger

	// Tick is how often Start checks for due schedules
	Tick time.Duration
}

// NewScheduler creates a scheduler with the given schedules
func NewScheduler(schedules []*domain.Schedule, log *zap.SugaredLogger) (*Scheduler, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Scheduler{
		entries: make(map[string]*entry),
		log:     log,
		Tick:    time.Minute,
	}
	for _, sch := range schedules {
		if err := s.Add(*sch); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", sch.ID, err)
		}
	}
	return s, nil
}

// Add registers or replaces a schedule
func (s *Scheduler) Add(sch domain.Schedule) error {
	if err := Validate(sch); err != nil {
		return err
	}
	parsed, _ := ParseCron(sch.Cron)

	last := sch.CreatedAt
	if sch.LastRunAt != nil {
		last = *sch.LastRunAt
	}
	if last.IsZero() {
		last = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sch.ID] = &entry{schedule: sch, cron: parsed, lastRun: last}
	return nil
}

// Remove unregisters a schedule
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Sync replaces the registered schedules with the given set. Schedules
// already registered keep their last run time and running state.
func (s *Scheduler) Sync(schedules []*domain.Schedule) error {
	keep := make(map[string]bool, len(schedules))
	for _, sch := range schedules {
		keep[sch.ID] = true

		s.mu.RLock()
		e, ok := s.entries[sch.ID]
		s.mu.RUnlock()
		if ok && e.schedule.Cron == sch.Cron && e.schedule.Enabled == sch.Enabled {
			continue
		}
		if err := s.Add(*sch); err != nil {
			return fmt.Errorf("schedule %s: %w", sch.ID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.entries {
		if !keep[id] {
			delete(s.entries, id)
		}
	}
	return nil
}

// List returns the registered schedules ordered by id
func (s *Scheduler) List() []domain.Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Schedule, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.schedule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NextRun returns the next time a schedule fires, or zero if unknown
func (s *Scheduler) NextRun(id string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return time.Time{}
	}
	return e.cron.Next(time.Now())
}

// ShouldRun reports whether a schedule is due at now
func (s *Scheduler) ShouldRun(id string, now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok || !e.schedule.Enabled || e.running {
		return false
	}
	return !now.Before(e.cron.Next(e.lastRun))
}

// Due returns the schedules that should run at now
func (s *Scheduler) Due(now time.Time) []domain.Schedule {
	var due []domain.Schedule
	for _, sch := range s.List() {
		if s.ShouldRun(sch.ID, now) {
			due = append(due, sch)
		}
	}
	return due
}

// MarkRunning marks a schedule as currently running so it does not overlap itself
func (s *Scheduler) MarkRunning(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.running = true
	}
}

// MarkComplete records that a schedule's run finished
func (s *Scheduler) MarkComplete(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.running = false
		e.lastRun = at
		e.schedule.LastRunAt = &at
	}
}

// Start checks for due schedules every Tick until ctx is done. Each due
// schedule runs in its own goroutine.
func (s *Scheduler) Start(ctx context.Context, run RunFunc) error {
	tick := s.Tick
	if tick <= 0 {
		tick = time.Minute
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			for _, sch := range s.Due(now) {
				s.MarkRunning(sch.ID)
				wg.Add(1)
				go func(sch domain.Schedule, firedAt time.Time) {
					defer wg.Done()
					s.log.Infow("schedule fired", "schedule_id", sch.ID, "chain_id", sch.ChainID, "cron", sch.Cron)
					if err := run(ctx, sch); err != nil {
						s.log.Errorw("scheduled run failed", "schedule_id", sch.ID, "chain_id", sch.ChainID, "error", err)
					}
					s.MarkComplete(sch.ID, firedAt)
				}(sch, now)
			}
		}
	}
}
