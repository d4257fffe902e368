// Package worker runs the background maintenance loops.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrShutdownTimeout is returned when tasks don't stop within timeout.
var ErrShutdownTimeout = errors.New("scheduler shutdown timed out")

// TaskFunc is one run of a periodic task.
type TaskFunc func(ctx context.Context) error

// Task is a named function run on a fixed interval.
type Task struct {
	Name     string
	Interval time.Duration
	Run      TaskFunc
	// RunOnStart runs the task once before the first tick.
	RunOnStart bool
}

// Scheduler runs each registered task on its own ticker.
type Scheduler struct {
	tasks  []Task
	logger *slog.Logger

	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewScheduler creates an idle scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers a task. Tasks with a non-positive interval are skipped.
// Add must be called before Start.
func (s *Scheduler) Add(t Task) {
	if t.Interval <= 0 || t.Run == nil {
		s.logger.Warn("task disabled", "task", t.Name, "interval", t.Interval)
		return
	}
	s.tasks = append(s.tasks, t)
}

// Tasks returns the names of registered tasks.
func (s *Scheduler) Tasks() []string {
	names := make([]string, len(s.tasks))
	for i, t := range s.tasks {
		names[i] = t.Name
	}
	return names
}

// Start launches one goroutine per task.
func (s *Scheduler) Start() {
	if s.started {
		return
	}
	s.started = true
	s.logger.Info("starting scheduler", "tasks", s.Tasks())

	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(t)
	}
}

// Stop cancels all tasks and waits up to timeout for them to return.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.logger.Info("stopping scheduler")
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped gracefully")
		return nil
	case <-time.After(timeout):
		return ErrShutdownTimeout
	}
}

func (s *Scheduler) loop(t Task) {
	defer s.wg.Done()

	logger := s.logger.With("task", t.Name)
	logger.Debug("task started", "interval", t.Interval)

	if t.RunOnStart {
		s.runOnce(t, logger)
	}

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			logger.Debug("task stopping")
			return
		case <-ticker.C:
			s.runOnce(t, logger)
		}
	}
}

func (s *Scheduler) runOnce(t Task, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("task panicked", "panic", r)
		}
	}()

	if err := t.Run(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("task failed", "error", err)
	}
}
