package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	s := New(func(ctx context.Context, target string) error {
		return nil
	})

	if s == nil {
		t.Fatal("New() returned nil")
	}
	if s.cron == nil {
		t.Error("cron is nil")
	}
	if s.jobs == nil {
		t.Error("jobs map is nil")
	}
}

func TestAddTarget(t *testing.T) {
	s := New(func(ctx context.Context, target string) error {
		return nil
	})

	// Valid cron expression
	if err := s.AddTarget("/archives", "0 2 * * *"); err != nil {
		t.Errorf("AddTarget() with valid cron = %v, want nil", err)
	}

	// Check job was added
	s.mu.RLock()
	_, exists := s.jobs["/archives"]
	s.mu.RUnlock()

	if !exists {
		t.Error("job was not added to jobs map")
	}
}

func TestAddTargetInvalidCron(t *testing.T) {
	s := New(func(ctx context.Context, target string) error {
		return nil
	})

	err := s.AddTarget("/archives", "invalid cron")
	if err == nil {
		t.Error("AddTarget() with invalid cron = nil, want error")
	}
}

func TestAddTargetReplacesExisting(t *testing.T) {
	s := New(func(ctx context.Context, target string) error {
		return nil
	})

	// Add initial schedule
	if err := s.AddTarget("/archives", "0 2 * * *"); err != nil {
		t.Fatalf("AddTarget() = %v", err)
	}

	s.mu.RLock()
	firstID := s.jobs["/archives"]
	s.mu.RUnlock()

	// Replace with new schedule
	if err := s.AddTarget("/archives", "0 3 * * *"); err != nil {
		t.Fatalf("AddTarget() replacement = %v", err)
	}

	s.mu.RLock()
	secondID := s.jobs["/archives"]
	s.mu.RUnlock()

	if firstID == secondID {
		t.Error("job ID was not updated after replacement")
	}
}

func TestRemoveTarget(t *testing.T) {
	s := New(func(ctx context.Context, target string) error {
		return nil
	})

	if err := s.AddTarget("/archives", "0 2 * * *"); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	s.RemoveTarget("/archives")

	s.mu.RLock()
	_, exists := s.jobs["/archives"]
	s.mu.RUnlock()

	if exists {
		t.Error("job still exists after RemoveTarget()")
	}
}

func TestRemoveTargetNonExistent(t *testing.T) {
	s := New(func(ctx context.Context, target string) error {
		return nil
	})

	// Should not panic
	s.RemoveTarget("/nonexistent")
}

func TestAddTargets(t *testing.T) {
	s := New(func(ctx context.Context, target string) error {
		return nil
	})

	scheduled, errs := s.AddTargets([]string{"/archives/a", "/archives/b"}, "0 1 * * *")

	if len(errs) != 0 {
		t.Errorf("AddTargets() errors = %v", errs)
	}
	if scheduled != 2 {
		t.Errorf("AddTargets() scheduled = %d, want 2", scheduled)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.jobs["/archives/a"]; !ok {
		t.Error("/archives/a should be scheduled")
	}
	if _, ok := s.jobs["/archives/b"]; !ok {
		t.Error("/archives/b should be scheduled")
	}
}

func TestAddTargetsWithErrors(t *testing.T) {
	s := New(func(ctx context.Context, target string) error {
		return nil
	})

	if err := s.AddTarget("/valid", "0 1 * * *"); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	scheduled, errs := s.AddTargets([]string{"/also-valid"}, "not a cron")

	if scheduled != 0 {
		t.Errorf("scheduled = %d, want 0", scheduled)
	}
	if len(errs) != 1 {
		t.Errorf("len(errs) = %d, want 1", len(errs))
	}
}

func TestStartStop(t *testing.T) {
	s := New(func(ctx context.Context, target string) error {
		return nil
	})

	s.Start()
	ctx := s.Stop()

	// Wait for stop
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Error("Stop() did not complete in time")
	}
}

func TestIsRunning(t *testing.T) {
	s := New(func(ctx context.Context, target string) error {
		return nil
	})

	// Not running before Start
	if s.IsRunning() {
		t.Error("IsRunning() = true before Start()")
	}

	s.Start()

	// Running after Start
	if !s.IsRunning() {
		t.Error("IsRunning() = false after Start()")
	}

	ctx := s.Stop()

	// Not running after Stop
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop()")
	}

	// Wait for stop
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Error("Stop() did not complete in time")
	}
}

func TestStopCancelsRunningScan(t *testing.T) {
	scanStarted := make(chan struct{})
	s := New(func(ctx context.Context, target string) error {
		close(scanStarted)
		<-ctx.Done()
		return ctx.Err()
	})

	if err := s.AddTarget("/archives", "0 0 1 1 *"); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}

	// Trigger scan
	if err := s.TriggerRun("/archives"); err != nil {
		t.Fatalf("TriggerRun: %v", err)
	}

	// Wait for scan to start
	select {
	case <-scanStarted:
	case <-time.After(time.Second):
		t.Fatal("scan did not start")
	}

	// Stop should cancel the running scan
	ctx := s.Stop()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Error("Stop() did not complete after cancelling scan")
	}

	// Verify the error was recorded
	statuses := s.Status()
	for _, status := range statuses {
		if status.Target == "/archives" {
			if status.LastError == "" {
				t.Error("expected error after cancelled scan")
			}
			return
		}
	}
}

func TestTriggerRun(t *testing.T) {
	var called atomic.Int32
	s := New(func(ctx context.Context, target string) error {
		called.Add(1)
		time.Sleep(50 * time.Millisecond)
		return nil
	})

	if err := s.AddTarget("/archives", "0 0 1 1 *"); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}

	// Trigger manually
	err := s.TriggerRun("/archives")
	if err != nil {
		t.Errorf("TriggerRun() = %v", err)
	}

	// Wait for scan to start
	time.Sleep(10 * time.Millisecond)

	// Second trigger should fail (already running)
	err = s.TriggerRun("/archives")
	if err == nil {
		t.Error("TriggerRun() while running = nil, want error")
	}

	// Wait for completion
	time.Sleep(100 * time.Millisecond)

	if called.Load() != 1 {
		t.Errorf("runFunc called %d times, want 1", called.Load())
	}
}

func TestScanPreventsDoubleRun(t *testing.T) {
	var concurrent atomic.Int32
	var maxConcurrent atomic.Int32

	s := New(func(ctx context.Context, target string) error {
		c := concurrent.Add(1)
		if c > maxConcurrent.Load() {
			maxConcurrent.Store(c)
		}
		time.Sleep(50 * time.Millisecond)
		concurrent.Add(-1)
		return nil
	})

	if err := s.AddTarget("/archives", "0 0 1 1 *"); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}

	// Try to trigger multiple times concurrently
	for i := 0; i < 5; i++ {
		_ = s.TriggerRun("/archives")
	}

	time.Sleep(200 * time.Millisecond)

	if maxConcurrent.Load() > 1 {
		t.Errorf("max concurrent = %d, want 1", maxConcurrent.Load())
	}
}

func TestStatus(t *testing.T) {
	s := New(func(ctx context.Context, target string) error {
		return nil
	})

	if err := s.AddTarget("/archives/a", "0 2 * * *"); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	if err := s.AddTarget("/archives/b", "0 3 * * *"); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	s.Start()
	defer s.Stop()

	statuses := s.Status()

	if len(statuses) != 2 {
		t.Errorf("len(Status()) = %d, want 2", len(statuses))
	}

	// Find /archives/a status
	var found bool
	for _, status := range statuses {
		if status.Target == "/archives/a" {
			found = true
			if status.Running {
				t.Error("status.Running = true, want false")
			}
			if status.NextRun.IsZero() {
				t.Error("status.NextRun is zero")
			}
			break
		}
	}
	if !found {
		t.Error("/archives/a not found in status")
	}
}

func TestStatusAfterScanSuccess(t *testing.T) {
	s := New(func(ctx context.Context, target string) error {
		return nil
	})

	if err := s.AddTarget("/archives", "0 0 1 1 *"); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	if err := s.TriggerRun("/archives"); err != nil {
		t.Fatalf("TriggerRun: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	statuses := s.Status()
	for _, status := range statuses {
		if status.Target == "/archives" {
			if status.LastRun.IsZero() {
				t.Error("LastRun should be set after successful scan")
			}
			if status.LastError != "" {
				t.Errorf("LastError = %q, want empty", status.LastError)
			}
			return
		}
	}
	t.Error("/archives not found in status")
}

func TestStatusAfterScanError(t *testing.T) {
	s := New(func(ctx context.Context, target string) error {
		return errors.New("scan failed")
	})

	if err := s.AddTarget("/archives", "0 0 1 1 *"); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	if err := s.TriggerRun("/archives"); err != nil {
		t.Fatalf("TriggerRun: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	statuses := s.Status()
	for _, status := range statuses {
		if status.Target == "/archives" {
			if status.LastError == "" {
				t.Error("LastError should be set after failed scan")
			}
			return
		}
	}
	t.Error("/archives not found in status")
}

func TestTriggerRunAfterStop(t *testing.T) {
	s := New(func(ctx context.Context, target string) error {
		return nil
	})

	if err := s.AddTarget("/archives", "0 0 1 1 *"); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}

	ctx := s.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("Stop() did not complete in time")
	}

	err := s.TriggerRun("/archives")
	if err == nil {
		t.Error("TriggerRun() after Stop() = nil, want error")
	}
}

func TestValidateCronExpr(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 2 * * *", false},    // 2am daily
		{"*/15 * * * *", false}, // Every 15 minutes
		{"0 0 1 * *", false},    // Monthly on 1st
		{"0 0 * * 0", false},    // Weekly on Sunday
		{"invalid", true},
		{"* * * * * *", true}, // Too many fields
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			err := ValidateCronExpr(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCronExpr(%q) error = %v, wantErr = %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}
