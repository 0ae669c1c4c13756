// Package scheduler owns cancellable periodic tasks keyed by name. The
// health assessor schedules one task per registered component; unregistering
// cancels exactly that component's timer.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler runs named periodic tasks until cancelled.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[string]context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
	closed bool
}

// New creates a Scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		tasks:  make(map[string]context.CancelFunc),
		logger: logger,
	}
}

// Schedule starts a periodic task. An existing task with the same name is
// cancelled first. The task runs once immediately, then on every tick.
func (s *Scheduler) Schedule(name string, interval time.Duration, task func(ctx context.Context)) {
	if interval <= 0 {
		interval = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return
	}
	if prev, ok := s.tasks[name]; ok {
		prev()
	}
	s.tasks[name] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()

		// Recovered per invocation so one panic does not end the
		// ticker loop.
		run := func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("scheduled task panicked", "task", name, "panic", r)
				}
			}()
			task(ctx)
		}

		run()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}

// Cancel stops the named task if it exists.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, ok := s.tasks[name]; ok {
		cancel()
		delete(s.tasks, name)
	}
}

// Names returns the currently scheduled task names.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	return names
}

// Stop cancels every task and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.closed = true
	for name, cancel := range s.tasks {
		cancel()
		delete(s.tasks, name)
	}
	s.mu.Unlock()

	s.wg.Wait()
}
