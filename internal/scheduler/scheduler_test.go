package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduleRunsImmediately(t *testing.T) {
	sched := New(nil)
	defer sched.Stop()

	var runs atomic.Int64
	sched.Schedule("t1", time.Hour, func(ctx context.Context) {
		runs.Add(1)
	})

	deadline := time.After(time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("Task never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestScheduleTicks(t *testing.T) {
	sched := New(nil)
	defer sched.Stop()

	var runs atomic.Int64
	sched.Schedule("t1", 10*time.Millisecond, func(ctx context.Context) {
		runs.Add(1)
	})

	deadline := time.After(2 * time.Second)
	for runs.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("Expected at least 3 runs, got %d", runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestScheduleReplacesSameName(t *testing.T) {
	sched := New(nil)
	defer sched.Stop()

	var first, second atomic.Int64
	sched.Schedule("t1", 10*time.Millisecond, func(ctx context.Context) {
		first.Add(1)
	})
	sched.Schedule("t1", 10*time.Millisecond, func(ctx context.Context) {
		second.Add(1)
	})

	deadline := time.After(2 * time.Second)
	for second.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("Replacement task stalled at %d runs", second.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	if names := sched.Names(); len(names) != 1 {
		t.Errorf("Expected 1 scheduled task, got %v", names)
	}

	// The replaced task stops; its count settles.
	settled := first.Load()
	time.Sleep(50 * time.Millisecond)
	if got := first.Load(); got != settled {
		t.Errorf("Replaced task still running: %d -> %d", settled, got)
	}
}

func TestCancelStopsTask(t *testing.T) {
	sched := New(nil)
	defer sched.Stop()

	var runs atomic.Int64
	sched.Schedule("t1", 10*time.Millisecond, func(ctx context.Context) {
		runs.Add(1)
	})

	deadline := time.After(time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("Task never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}

	sched.Cancel("t1")
	settled := runs.Load()
	time.Sleep(50 * time.Millisecond)
	if got := runs.Load(); got > settled+1 {
		t.Errorf("Task kept running after cancel: %d -> %d", settled, got)
	}

	if names := sched.Names(); len(names) != 0 {
		t.Errorf("Expected no scheduled tasks, got %v", names)
	}
}

func TestStopRejectsNewTasks(t *testing.T) {
	sched := New(nil)
	sched.Stop()

	var runs atomic.Int64
	sched.Schedule("late", 10*time.Millisecond, func(ctx context.Context) {
		runs.Add(1)
	})

	time.Sleep(30 * time.Millisecond)
	if got := runs.Load(); got != 0 {
		t.Errorf("Task scheduled after Stop ran %d times", got)
	}
}

func TestPanickingTaskDoesNotCrash(t *testing.T) {
	sched := New(nil)
	defer sched.Stop()

	sched.Schedule("bad", time.Hour, func(ctx context.Context) {
		panic("task failure")
	})

	// Another task on the same scheduler still runs.
	var runs atomic.Int64
	sched.Schedule("good", time.Hour, func(ctx context.Context) {
		runs.Add(1)
	})

	deadline := time.After(time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("Healthy task never ran alongside panicking task")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPanickingTaskKeepsTicking(t *testing.T) {
	sched := New(nil)
	defer sched.Stop()

	var runs atomic.Int64
	sched.Schedule("flaky", 10*time.Millisecond, func(ctx context.Context) {
		runs.Add(1)
		panic("task failure")
	})

	// Each tick panics; the loop must survive and run again.
	deadline := time.After(time.Second)
	for runs.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("Expected at least 3 runs of a panicking task, got %d", runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}
