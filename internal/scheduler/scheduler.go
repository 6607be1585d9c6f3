// Package scheduler drives the sync engine's periodic ticks.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// TickFunc is the callback invoked on each scheduled tick.
type TickFunc func(ctx context.Context) error

// Status is a snapshot of the scheduler for the status endpoint.
type Status struct {
	Running   bool      `json:"running"`
	Schedule  string    `json:"schedule"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run"`
	LastError string    `json:"last_error,omitempty"`
}

// Scheduler runs ticks on a cron schedule against a single mailbox.
// Ticks are serialized: a tick that fires while the previous one is
// still running is skipped, never queued, so two ticks can't race on
// cursor advancement.
type Scheduler struct {
	cron     *cron.Cron
	tickFunc TickFunc
	logger   *slog.Logger
	schedule string

	mu      sync.RWMutex
	entryID cron.EntryID
	running bool
	lastRun time.Time
	lastErr error

	ctx     context.Context    // cancelled on Stop
	cancel  context.CancelFunc // cancels ctx
	wg      sync.WaitGroup     // tracks the in-flight tick
	stopped bool
}

// New creates a scheduler with the given cron expression and tick
// callback. Returns an error if the expression is invalid.
func New(cronExpr string, tickFunc TickFunc) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
		))),
		tickFunc: tickFunc,
		logger:   slog.Default(),
		schedule: cronExpr,
		ctx:      ctx,
		cancel:   cancel,
	}

	entryID, err := s.cron.AddFunc(cronExpr, func() {
		if !s.tryBegin() {
			return
		}
		s.runTick()
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	s.entryID = entryID

	return s, nil
}

// WithLogger sets the logger for the scheduler.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// Start begins executing scheduled ticks.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "schedule", s.schedule)
}

// Stop gracefully stops the scheduler, cancels the in-flight tick, and
// returns a context that is done when all work completes.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("scheduler stopping")

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		close(done)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-done
		cancel()
	}()
	return ctx
}

// TriggerTick runs a tick outside the schedule. Returns an error when a
// tick is already running or the scheduler has stopped.
func (s *Scheduler) TriggerTick() error {
	if !s.tryBegin() {
		s.mu.RLock()
		stopped := s.stopped
		s.mu.RUnlock()
		if stopped {
			return fmt.Errorf("scheduler is stopped")
		}
		return fmt.Errorf("tick already running")
	}
	go s.runTick()
	return nil
}

// Status returns the scheduler's current state.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Running:  s.running,
		Schedule: s.schedule,
		LastRun:  s.lastRun,
		NextRun:  s.cron.Entry(s.entryID).Next,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// tryBegin marks a tick as running. Returns false when one is already in
// flight or the scheduler has stopped.
func (s *Scheduler) tryBegin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.running {
		return false
	}
	s.running = true
	s.wg.Add(1)
	return true
}

// runTick executes one tick. The caller must have called tryBegin.
func (s *Scheduler) runTick() {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	start := time.Now()
	err := s.tickFunc(s.ctx)

	s.mu.Lock()
	s.lastRun = time.Now()
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("tick failed", "duration", time.Since(start), "error", err)
	} else {
		s.logger.Debug("tick completed", "duration", time.Since(start))
	}
}

// ValidateCronExpr validates a cron expression without scheduling anything.
func ValidateCronExpr(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
