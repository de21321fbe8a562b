// Package scheduler provides cron-based scheduling for recurring conversion
// scans of watched archive directories.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// RunFunc is the callback invoked when a scheduled scan should run. It
// receives the watched directory and should discover and convert whatever
// new archives it finds there.
type RunFunc func(ctx context.Context, target string) error

// TargetStatus represents the scan status of a watched directory.
type TargetStatus struct {
	Target    string
	Running   bool
	LastRun   time.Time
	NextRun   time.Time
	Schedule  string
	LastError string
}

// Scheduler manages cron-based conversion scans.
type Scheduler struct {
	cron    *cron.Cron
	runFunc RunFunc
	logger  *slog.Logger

	mu        sync.RWMutex
	jobs      map[string]cron.EntryID // target dir -> cron entry ID
	schedules map[string]string       // target dir -> cron expression
	running   map[string]bool         // target dir -> scan in flight
	lastRun   map[string]time.Time    // target dir -> last successful scan
	lastErr   map[string]error        // target dir -> last error

	ctx     context.Context    // cancelled on Stop
	cancel  context.CancelFunc // cancels ctx
	wg      sync.WaitGroup     // tracks running scan goroutines
	started bool               // true after Start(), false after Stop()
	stopped bool               // true after Stop()
}

// New creates a new Scheduler with the given scan callback.
func New(runFunc RunFunc) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
		))),
		runFunc:   runFunc,
		logger:    slog.Default(),
		jobs:      make(map[string]cron.EntryID),
		schedules: make(map[string]string),
		running:   make(map[string]bool),
		lastRun:   make(map[string]time.Time),
		lastErr:   make(map[string]error),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// WithLogger sets the logger for the scheduler.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// AddTarget schedules scans of a directory using the given cron expression.
// Returns an error if the cron expression is invalid.
func (s *Scheduler) AddTarget(target, cronExpr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Remove existing schedule if present
	if entryID, exists := s.jobs[target]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, target)
		delete(s.schedules, target)
	}

	// Validate and add the cron job
	entryID, err := s.cron.AddFunc(cronExpr, func() {
		s.mu.Lock()
		if s.stopped || s.running[target] {
			s.mu.Unlock()
			return
		}
		s.running[target] = true
		s.wg.Add(1)
		s.mu.Unlock()
		s.runScan(target)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	s.jobs[target] = entryID
	s.schedules[target] = cronExpr
	s.logger.Info("scheduled scan",
		"target", target,
		"schedule", cronExpr,
		"next_run", s.cron.Entry(entryID).Next)

	return nil
}

// AddTargets schedules every directory with the same cron expression.
// Returns the number of targets scheduled and any errors encountered.
func (s *Scheduler) AddTargets(targets []string, cronExpr string) (int, []error) {
	var errors []error
	scheduled := 0

	for _, target := range targets {
		if err := s.AddTarget(target, cronExpr); err != nil {
			errors = append(errors, fmt.Errorf("%s: %w", target, err))
		} else {
			scheduled++
		}
	}

	return scheduled, errors
}

// RemoveTarget removes the schedule for a directory.
func (s *Scheduler) RemoveTarget(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, exists := s.jobs[target]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, target)
		delete(s.schedules, target)
		s.logger.Info("removed schedule", "target", target)
	}
}

// Start begins executing scheduled jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.started = true
	s.stopped = false
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// IsRunning returns true if the scheduler has been started and not yet stopped.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started && !s.stopped
}

// Stop gracefully stops the scheduler, cancels running scans, and waits for
// them to finish. Returns a context that is done when all work completes.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("scheduler stopping")

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	s.cancel() // signal running scans to stop

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

// runScan executes a scan of a directory (called by cron or TriggerRun).
// The caller must have already called wg.Add(1) and set running[target] = true.
func (s *Scheduler) runScan(target string) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.running[target] = false
		s.mu.Unlock()
	}()

	s.logger.Info("starting scheduled scan", "target", target)
	start := time.Now()

	err := s.runFunc(s.ctx, target)

	s.mu.Lock()
	if err != nil {
		s.lastErr[target] = err
		s.logger.Error("scheduled scan failed",
			"target", target,
			"duration", time.Since(start),
			"error", err)
	} else {
		s.lastRun[target] = time.Now()
		s.lastErr[target] = nil
		s.logger.Info("scheduled scan completed",
			"target", target,
			"duration", time.Since(start))
	}
	s.mu.Unlock()
}

// IsScheduled returns true if the directory has been added to the scheduler.
func (s *Scheduler) IsScheduled(target string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.jobs[target]
	return exists
}

// TriggerRun manually triggers a scan of a directory (outside of schedule).
// Returns an error if a scan is already running, the directory is not
// scheduled, or the scheduler has been stopped.
func (s *Scheduler) TriggerRun(target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("scheduler is stopped")
	}

	if _, exists := s.jobs[target]; !exists {
		return fmt.Errorf("directory %s is not scheduled", target)
	}
	if s.running[target] {
		return fmt.Errorf("scan already running for %s", target)
	}

	s.running[target] = true
	s.wg.Add(1)
	go s.runScan(target)
	return nil
}

// Status returns the current status of all watched directories.
func (s *Scheduler) Status() []TargetStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var statuses []TargetStatus
	for target, entryID := range s.jobs {
		entry := s.cron.Entry(entryID)
		status := TargetStatus{
			Target:   target,
			Running:  s.running[target],
			LastRun:  s.lastRun[target],
			NextRun:  entry.Next,
			Schedule: s.schedules[target],
		}
		if err := s.lastErr[target]; err != nil {
			status.LastError = err.Error()
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// ValidateCronExpr validates a cron expression without scheduling anything.
func ValidateCronExpr(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
