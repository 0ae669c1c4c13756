package recovery

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/roof-guardian/monitoring-api/internal/telemetry"
)

func newTestController(t *testing.T) (*Controller, *telemetry.Store) {
	t.Helper()
	store := telemetry.NewStore(telemetry.Config{}, nil, nil)
	controller := NewController(store, Config{}, nil)
	controller.Start()
	t.Cleanup(controller.Stop)
	return controller, store
}

// waitAttempts polls until the controller's audit log holds at least n
// entries for the component. Executions run on the worker goroutine.
func waitAttempts(t *testing.T, c *Controller, component string, n int) []Attempt {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		attempts := c.Attempts(AttemptFilter{ComponentName: component})
		if len(attempts) >= n {
			return attempts
		}
		select {
		case <-deadline:
			t.Fatalf("Expected %d attempts for %s, got %d", n, component, len(attempts))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// settleAttempts asserts the audit log stays at exactly n entries.
func settleAttempts(t *testing.T, c *Controller, component string, n int) {
	t.Helper()
	time.Sleep(50 * time.Millisecond)
	if attempts := c.Attempts(AttemptFilter{ComponentName: component}); len(attempts) != n {
		t.Fatalf("Expected exactly %d attempts for %s, got %d", n, component, len(attempts))
	}
}

func errorAction(id string, pattern string, priority int) Action {
	return Action{
		ID:       id,
		Name:     id,
		Trigger:  Trigger{ErrorPattern: pattern},
		Kind:     KindReset,
		Enabled:  true,
		Priority: priority,
	}
}

func TestRegisterComponentValidation(t *testing.T) {
	controller, _ := newTestController(t)

	tests := []struct {
		name    string
		comp    string
		actions []Action
		wantErr bool
	}{
		{"defaults on empty list", "Foo", nil, false},
		{"valid custom list", "Bar", []Action{errorAction("a1", "timeout", 10)}, false},
		{"missing component name", "", nil, true},
		{"missing action id", "Baz", []Action{{Name: "x", Kind: KindReset, Enabled: true}}, true},
		{"bad regexp", "Baz", []Action{errorAction("a1", "(", 10)}, true},
		{"duplicate action ids", "Baz", []Action{errorAction("a1", "x", 10), errorAction("a1", "y", 20)}, true},
		{"custom without func", "Baz", []Action{{ID: "a1", Name: "x", Kind: KindCustom, Enabled: true}}, true},
		{"unknown kind", "Baz", []Action{{ID: "a1", Name: "x", Kind: "reboot", Enabled: true}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := controller.RegisterComponent(tt.comp, tt.actions)
			if (err != nil) != tt.wantErr {
				t.Errorf("RegisterComponent() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestErrorPatternTriggersOneAttempt(t *testing.T) {
	controller, store := newTestController(t)
	if err := controller.RegisterComponent("Foo", []Action{errorAction("on-timeout", `(?i)timeout`, 10)}); err != nil {
		t.Fatalf("RegisterComponent failed: %v", err)
	}

	store.ReportError(telemetry.ErrorReport{ComponentName: "Foo", Message: "request TIMEOUT after 30s"})

	attempts := waitAttempts(t, controller, "Foo", 1)
	if attempts[0].ActionID != "on-timeout" {
		t.Errorf("Expected action on-timeout, got %s", attempts[0].ActionID)
	}
	if !attempts[0].Success {
		t.Errorf("Expected successful attempt, got error %q", attempts[0].Error)
	}
	settleAttempts(t, controller, "Foo", 1)
}

func TestNonMatchingEventNoAttempt(t *testing.T) {
	controller, store := newTestController(t)
	if err := controller.RegisterComponent("Foo", []Action{errorAction("on-timeout", "timeout", 10)}); err != nil {
		t.Fatalf("RegisterComponent failed: %v", err)
	}

	store.ReportError(telemetry.ErrorReport{ComponentName: "Foo", Message: "validation failed"})
	store.ReportError(telemetry.ErrorReport{ComponentName: "Bar", Message: "timeout"})

	settleAttempts(t, controller, "Foo", 0)
}

func TestConsecutiveThreshold(t *testing.T) {
	controller, store := newTestController(t)
	if err := controller.RegisterComponent("Foo", []Action{{
		ID:      "reset-degraded",
		Name:    "reset",
		Trigger: Trigger{HealthStatus: telemetry.StatusDegraded, Consecutive: 3},
		Kind:    KindReset,
		Enabled: true,
	}}); err != nil {
		t.Fatalf("RegisterComponent failed: %v", err)
	}

	degraded := telemetry.HealthCheck{ComponentName: "Foo", Status: telemetry.StatusDegraded}

	store.UpsertHealth(degraded)
	store.UpsertHealth(degraded)
	settleAttempts(t, controller, "Foo", 0)

	store.UpsertHealth(degraded)
	waitAttempts(t, controller, "Foo", 1)
}

func TestConsecutiveResetOnSuccess(t *testing.T) {
	controller, store := newTestController(t)
	if err := controller.RegisterComponent("Foo", []Action{{
		ID:      "reset-degraded",
		Name:    "reset",
		Trigger: Trigger{HealthStatus: telemetry.StatusDegraded, Consecutive: 2},
		Kind:    KindReset,
		Enabled: true,
	}}); err != nil {
		t.Fatalf("RegisterComponent failed: %v", err)
	}

	degraded := telemetry.HealthCheck{ComponentName: "Foo", Status: telemetry.StatusDegraded}

	store.UpsertHealth(degraded)
	store.UpsertHealth(degraded)
	waitAttempts(t, controller, "Foo", 1)

	// Wait for the post-execution counter reset before the next event.
	deadline := time.After(time.Second)
	for {
		controller.mu.Lock()
		_, pending := controller.consecutive[cooldownKey("Foo", "reset-degraded")]
		controller.mu.Unlock()
		if !pending {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Consecutive counter never reset after success")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// The counter reset on success: one more degraded event is not enough.
	store.UpsertHealth(degraded)
	settleAttempts(t, controller, "Foo", 1)
}

func TestPriorityArbitrationSelectsOne(t *testing.T) {
	controller, store := newTestController(t)
	var mu sync.Mutex
	var ran []string
	mk := func(id string, priority int) Action {
		return Action{
			ID:      id,
			Name:    id,
			Trigger: Trigger{ErrorPattern: "timeout"},
			Kind:    KindCustom,
			Custom: func(ctx context.Context) error {
				mu.Lock()
				ran = append(ran, id)
				mu.Unlock()
				return nil
			},
			Enabled:  true,
			Priority: priority,
		}
	}
	if err := controller.RegisterComponent("Foo", []Action{mk("low", 5), mk("high", 10)}); err != nil {
		t.Fatalf("RegisterComponent failed: %v", err)
	}

	store.ReportError(telemetry.ErrorReport{ComponentName: "Foo", Message: "timeout"})

	attempts := waitAttempts(t, controller, "Foo", 1)
	settleAttempts(t, controller, "Foo", 1)
	if attempts[0].ActionID != "high" {
		t.Errorf("Expected high-priority action, got %s", attempts[0].ActionID)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ran) != 1 || ran[0] != "high" {
		t.Errorf("Expected only the high-priority action to run, got %v", ran)
	}
}

func TestCooldownBlocksRepeatExecution(t *testing.T) {
	controller, store := newTestController(t)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	controller.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}

	action := errorAction("on-timeout", "timeout", 10)
	action.CooldownMinutes = 5
	if err := controller.RegisterComponent("Foo", []Action{action}); err != nil {
		t.Fatalf("RegisterComponent failed: %v", err)
	}

	report := telemetry.ErrorReport{ComponentName: "Foo", Message: "timeout"}

	store.ReportError(report)
	waitAttempts(t, controller, "Foo", 1)

	store.ReportError(report)
	settleAttempts(t, controller, "Foo", 1)

	mu.Lock()
	clock = clock.Add(6 * time.Minute)
	mu.Unlock()

	store.ReportError(report)
	waitAttempts(t, controller, "Foo", 2)
}

func TestCooldownFallsThroughToLowerPriority(t *testing.T) {
	controller, store := newTestController(t)

	high := errorAction("high", "timeout", 10)
	high.CooldownMinutes = 60
	low := errorAction("low", "timeout", 5)
	if err := controller.RegisterComponent("Foo", []Action{high, low}); err != nil {
		t.Fatalf("RegisterComponent failed: %v", err)
	}

	report := telemetry.ErrorReport{ComponentName: "Foo", Message: "timeout"}

	store.ReportError(report)
	attempts := waitAttempts(t, controller, "Foo", 1)
	if attempts[0].ActionID != "high" {
		t.Fatalf("Expected first execution to pick high, got %s", attempts[0].ActionID)
	}

	// high is inside its cooldown; the next event falls through to low.
	store.ReportError(report)
	attempts = waitAttempts(t, controller, "Foo", 2)
	if attempts[0].ActionID != "low" {
		t.Errorf("Expected fallthrough to low, got %s", attempts[0].ActionID)
	}
}

func TestFailingCustomActionAudited(t *testing.T) {
	controller, store := newTestController(t)
	if err := controller.RegisterComponent("Foo", []Action{{
		ID:      "flaky",
		Name:    "flaky",
		Trigger: Trigger{ErrorPattern: "timeout"},
		Kind:    KindCustom,
		Custom: func(ctx context.Context) error {
			return fmt.Errorf("still broken")
		},
		Enabled: true,
	}}); err != nil {
		t.Fatalf("RegisterComponent failed: %v", err)
	}

	store.ReportError(telemetry.ErrorReport{ComponentName: "Foo", Message: "timeout"})

	attempts := waitAttempts(t, controller, "Foo", 1)
	if attempts[0].Success {
		t.Error("Expected failed attempt")
	}
	if attempts[0].Error != "still broken" {
		t.Errorf("Expected error 'still broken', got %q", attempts[0].Error)
	}
}

func TestPanickingCustomActionAudited(t *testing.T) {
	controller, store := newTestController(t)
	if err := controller.RegisterComponent("Foo", []Action{{
		ID:      "bad",
		Name:    "bad",
		Trigger: Trigger{ErrorPattern: "timeout"},
		Kind:    KindCustom,
		Custom: func(ctx context.Context) error {
			panic("action blew up")
		},
		Enabled: true,
	}}); err != nil {
		t.Fatalf("RegisterComponent failed: %v", err)
	}

	store.ReportError(telemetry.ErrorReport{ComponentName: "Foo", Message: "timeout"})

	attempts := waitAttempts(t, controller, "Foo", 1)
	if attempts[0].Success {
		t.Error("Expected panicking action audited as failure")
	}
}

func TestRecoveryHandlerNotified(t *testing.T) {
	controller, store := newTestController(t)
	if err := controller.RegisterComponent("Foo", []Action{errorAction("on-timeout", "timeout", 10)}); err != nil {
		t.Fatalf("RegisterComponent failed: %v", err)
	}

	var mu sync.Mutex
	var notifications []Notification
	controller.SetRecoveryHandler("Foo", func(n Notification) {
		mu.Lock()
		notifications = append(notifications, n)
		mu.Unlock()
	})

	store.ReportError(telemetry.ErrorReport{ComponentName: "Foo", Message: "timeout"})
	waitAttempts(t, controller, "Foo", 1)

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(notifications)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Handler never notified")
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	got := notifications[0]
	if got.ComponentName != "Foo" || got.ActionID != "on-timeout" || got.Kind != KindReset {
		t.Errorf("Unexpected notification %+v", got)
	}
}

func TestUnregisterMidExecutionKeepsAuditDropsNotification(t *testing.T) {
	controller, store := newTestController(t)

	started := make(chan struct{})
	release := make(chan struct{})
	if err := controller.RegisterComponent("Foo", []Action{{
		ID:      "slow-fix",
		Name:    "slow-fix",
		Trigger: Trigger{ErrorPattern: "timeout"},
		Kind:    KindCustom,
		Enabled: true,
		Custom: func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		},
	}}); err != nil {
		t.Fatalf("RegisterComponent failed: %v", err)
	}

	var mu sync.Mutex
	notified := 0
	controller.SetRecoveryHandler("Foo", func(n Notification) {
		mu.Lock()
		notified++
		mu.Unlock()
	})

	store.ReportError(telemetry.ErrorReport{ComponentName: "Foo", Message: "timeout"})

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("Action never started")
	}

	// The component goes away while its attempt is still running.
	controller.UnregisterComponent("Foo")
	close(release)

	attempts := waitAttempts(t, controller, "Foo", 1)
	if !attempts[0].Success {
		t.Errorf("Expected in-flight attempt audited as success, got error %q", attempts[0].Error)
	}
	if attempts[0].ActionID != "slow-fix" {
		t.Errorf("Expected action slow-fix, got %s", attempts[0].ActionID)
	}

	// The audit record stays; the notification is discarded.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if notified != 0 {
		t.Errorf("Expected no notification after unregister, got %d", notified)
	}
}

func TestTriggerRecoveryManual(t *testing.T) {
	controller, _ := newTestController(t)
	if err := controller.RegisterComponent("Foo", []Action{errorAction("on-timeout", "timeout", 10)}); err != nil {
		t.Fatalf("RegisterComponent failed: %v", err)
	}

	if !controller.TriggerRecovery("Foo", "on-timeout") {
		t.Fatal("Expected manual trigger to enqueue")
	}
	attempts := waitAttempts(t, controller, "Foo", 1)
	if manual, _ := attempts[0].Metrics["manual"].(bool); !manual {
		t.Error("Expected attempt marked manual")
	}

	if controller.TriggerRecovery("Foo", "missing-action") {
		t.Error("Expected trigger with unknown action id to report false")
	}
	if controller.TriggerRecovery("Unknown", "") {
		t.Error("Expected trigger for unregistered component to report false")
	}
}

func TestTriggerRecoveryPicksHighestPriority(t *testing.T) {
	controller, _ := newTestController(t)
	if err := controller.RegisterComponent("Foo", []Action{
		errorAction("low", "x", 5),
		errorAction("high", "x", 50),
	}); err != nil {
		t.Fatalf("RegisterComponent failed: %v", err)
	}

	if !controller.TriggerRecovery("Foo", "") {
		t.Fatal("Expected manual trigger to enqueue")
	}
	attempts := waitAttempts(t, controller, "Foo", 1)
	if attempts[0].ActionID != "high" {
		t.Errorf("Expected highest-priority action, got %s", attempts[0].ActionID)
	}
}

func TestUnregisterClearsState(t *testing.T) {
	controller, store := newTestController(t)
	if err := controller.RegisterComponent("Foo", []Action{{
		ID:      "reset-degraded",
		Name:    "reset",
		Trigger: Trigger{HealthStatus: telemetry.StatusDegraded, Consecutive: 3},
		Kind:    KindReset,
		Enabled: true,
	}}); err != nil {
		t.Fatalf("RegisterComponent failed: %v", err)
	}

	degraded := telemetry.HealthCheck{ComponentName: "Foo", Status: telemetry.StatusDegraded}
	store.UpsertHealth(degraded)
	store.UpsertHealth(degraded)

	controller.UnregisterComponent("Foo")
	if got := controller.Components(); len(got) != 0 {
		t.Fatalf("Expected no components, got %v", got)
	}

	// Re-registering starts the consecutive count from zero.
	if err := controller.RegisterComponent("Foo", []Action{{
		ID:      "reset-degraded",
		Name:    "reset",
		Trigger: Trigger{HealthStatus: telemetry.StatusDegraded, Consecutive: 3},
		Kind:    KindReset,
		Enabled: true,
	}}); err != nil {
		t.Fatalf("RegisterComponent failed: %v", err)
	}
	store.UpsertHealth(degraded)
	store.UpsertHealth(degraded)
	settleAttempts(t, controller, "Foo", 0)
}

func TestDefaultActionsInstalled(t *testing.T) {
	controller, _ := newTestController(t)
	if err := controller.RegisterComponent("Foo", nil); err != nil {
		t.Fatalf("RegisterComponent failed: %v", err)
	}

	actions, ok := controller.Actions("Foo")
	if !ok {
		t.Fatal("Expected registered component")
	}
	if len(actions) != len(DefaultActions()) {
		t.Fatalf("Expected %d default actions, got %d", len(DefaultActions()), len(actions))
	}
	for _, a := range actions {
		if err := a.Validate(); err != nil {
			t.Errorf("Default action %s invalid: %v", a.ID, err)
		}
	}
}

func TestQueueOverflowRecordedAsFailure(t *testing.T) {
	store := telemetry.NewStore(telemetry.Config{}, nil, nil)
	controller := NewController(store, Config{QueueSize: 1}, nil)
	// Worker not started: the queue fills after one enqueue.
	if err := controller.RegisterComponent("Foo", []Action{errorAction("on-timeout", "timeout", 10)}); err != nil {
		t.Fatalf("RegisterComponent failed: %v", err)
	}

	if !controller.TriggerRecovery("Foo", "on-timeout") {
		t.Fatal("Expected first trigger to enqueue")
	}
	if !controller.TriggerRecovery("Foo", "on-timeout") {
		t.Fatal("Expected second trigger to be accepted for arbitration")
	}

	attempts := controller.Attempts(AttemptFilter{ComponentName: "Foo"})
	if len(attempts) != 1 {
		t.Fatalf("Expected 1 overflow attempt, got %d", len(attempts))
	}
	if attempts[0].Success || attempts[0].Error != "recovery queue full" {
		t.Errorf("Expected overflow failure, got %+v", attempts[0])
	}
}
