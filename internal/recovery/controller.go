package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/roof-guardian/monitoring-api/internal/metrics"
	"github.com/roof-guardian/monitoring-api/internal/telemetry"
)

// Notification tells the owning component which remediation was executed so
// it can re-key or reset itself. Delivery is discarded for components
// unregistered while the action was in flight.
type Notification struct {
	ComponentName string     `json:"componentName"`
	ActionID      string     `json:"actionId"`
	Kind          ActionKind `json:"kind"`
}

// Handler receives recovery notifications for one component.
type Handler func(n Notification)

// Config holds controller tuning.
type Config struct {
	// QueueSize bounds pending executions. Overflow is recorded as a failed
	// attempt, not silently dropped.
	QueueSize int
	// AttemptCapacity bounds the audit log.
	AttemptCapacity int
	// ExecutionTimeout bounds one action execution.
	ExecutionTimeout time.Duration
}

// DefaultConfig returns the default controller tuning.
func DefaultConfig() Config {
	return Config{
		QueueSize:        32,
		AttemptCapacity:  200,
		ExecutionTimeout: 30 * time.Second,
	}
}

type execTask struct {
	component string
	action    Action
	manual    bool
}

// Controller matches telemetry events against per-component recovery
// actions, arbitrates by priority and cooldown, and executes exactly one
// action per triggering event. Matching runs synchronously on the publish
// path; execution is handed to a worker goroutine so a slow action cannot
// stall reporters.
type Controller struct {
	store  *telemetry.Store
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	actions  map[string][]*Action
	handlers map[string]Handler
	// lastRun gates each (component, action) pair by the action's cooldown.
	lastRun map[string]time.Time
	// consecutive counts matches in a row per (component, action); it
	// resets only on a successful execution of that action.
	consecutive map[string]int
	breakers    map[string]*gobreaker.CircuitBreaker
	attempts    []Attempt

	queue       chan execTask
	quit        chan struct{}
	wg          sync.WaitGroup
	unsubscribe func()
	now         func() time.Time
}

// NewController creates a recovery controller over the store.
func NewController(store *telemetry.Store, cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.AttemptCapacity <= 0 {
		cfg.AttemptCapacity = def.AttemptCapacity
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = def.ExecutionTimeout
	}

	return &Controller{
		store:       store,
		cfg:         cfg,
		logger:      logger,
		actions:     make(map[string][]*Action),
		handlers:    make(map[string]Handler),
		lastRun:     make(map[string]time.Time),
		consecutive: make(map[string]int),
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
		queue:       make(chan execTask, cfg.QueueSize),
		quit:        make(chan struct{}),
		now:         time.Now,
	}
}

// Start subscribes to the store and launches the execution worker.
func (c *Controller) Start() {
	c.unsubscribe = c.store.Subscribe(c.HandleEvent)
	c.wg.Add(1)
	go c.worker()
}

// Stop detaches from the store, drains the queue and waits for in-flight
// executions to finish.
func (c *Controller) Stop() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	close(c.quit)
	c.wg.Wait()
}

// RegisterComponent registers remediation actions for a component. An empty
// action list installs the default set. Malformed actions fail fast.
func (c *Controller) RegisterComponent(name string, actions []Action) error {
	if name == "" {
		return fmt.Errorf("component name is required")
	}
	if len(actions) == 0 {
		actions = DefaultActions()
	}

	compiled := make([]*Action, 0, len(actions))
	seen := make(map[string]bool, len(actions))
	for _, action := range actions {
		a := action
		if err := a.compile(); err != nil {
			return fmt.Errorf("registering %s: %w", name, err)
		}
		if seen[a.ID] {
			return fmt.Errorf("registering %s: duplicate action id %s", name, a.ID)
		}
		seen[a.ID] = true
		compiled = append(compiled, &a)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions[name] = compiled
	if _, ok := c.breakers[name]; !ok {
		c.breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "recovery:" + name,
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		})
	}
	return nil
}

// UnregisterComponent removes a component's actions, handler, cooldown and
// consecutive-counter state. In-flight attempts finish; their audit record
// is kept and their notification discarded.
func (c *Controller) UnregisterComponent(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.actions, name)
	delete(c.handlers, name)
	delete(c.breakers, name)
	prefix := name + "|"
	for key := range c.lastRun {
		if strings.HasPrefix(key, prefix) {
			delete(c.lastRun, key)
		}
	}
	for key := range c.consecutive {
		if strings.HasPrefix(key, prefix) {
			delete(c.consecutive, key)
		}
	}
}

// SetRecoveryHandler installs the component-keyed notification target.
func (c *Controller) SetRecoveryHandler(name string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[name] = handler
}

// Components returns the registered component names.
func (c *Controller) Components() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.actions))
	for name := range c.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Actions returns a copy of a component's registered actions.
func (c *Controller) Actions(name string) ([]Action, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	registered, ok := c.actions[name]
	if !ok {
		return nil, false
	}
	out := make([]Action, 0, len(registered))
	for _, a := range registered {
		out = append(out, *a)
	}
	return out, true
}

// Attempts returns matching audit entries, newest first.
func (c *Controller) Attempts(filter AttemptFilter) []Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Attempt, 0)
	for i := len(c.attempts) - 1; i >= 0; i-- {
		a := c.attempts[i]
		if filter.ComponentName != "" && a.ComponentName != filter.ComponentName {
			continue
		}
		out = append(out, a)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// HandleEvent matches one telemetry event against the owning component's
// actions and enqueues at most one execution.
func (c *Controller) HandleEvent(ev telemetry.Event) {
	component := eventComponent(ev)
	if component == "" {
		return
	}

	c.mu.Lock()
	registered, ok := c.actions[component]
	if !ok {
		c.mu.Unlock()
		return
	}

	// Every matching action advances its consecutive counter, whether or
	// not it ends up executing this time.
	var eligible []*Action
	for _, action := range registered {
		if !action.Enabled || !action.matches(ev) {
			continue
		}
		key := cooldownKey(component, action.ID)
		c.consecutive[key]++
		if c.consecutive[key] >= needed(action) {
			eligible = append(eligible, action)
		}
	}

	selected := c.arbitrateLocked(component, eligible)
	c.mu.Unlock()

	if selected != nil {
		c.enqueue(execTask{component: component, action: *selected})
	}
}

// TriggerRecovery is the manual override. It still respects cooldown; with
// an empty actionID it picks the highest-priority enabled action. It reports
// whether an execution was enqueued and is a no-op otherwise.
func (c *Controller) TriggerRecovery(component, actionID string) bool {
	c.mu.Lock()
	registered, ok := c.actions[component]
	if !ok {
		c.mu.Unlock()
		return false
	}

	var candidates []*Action
	for _, action := range registered {
		if !action.Enabled {
			continue
		}
		if actionID != "" && action.ID != actionID {
			continue
		}
		candidates = append(candidates, action)
	}

	selected := c.arbitrateLocked(component, candidates)
	c.mu.Unlock()

	if selected == nil {
		return false
	}
	c.enqueue(execTask{component: component, action: *selected, manual: true})
	return true
}

// arbitrateLocked orders eligible actions by descending priority, skips any
// inside its cooldown, claims the first survivor's cooldown slot and returns
// it. Only one action wins per call.
func (c *Controller) arbitrateLocked(component string, eligible []*Action) *Action {
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Priority > eligible[j].Priority
	})

	for _, action := range eligible {
		key := cooldownKey(component, action.ID)
		if last, ok := c.lastRun[key]; ok && c.now().Sub(last) < action.Cooldown() {
			continue
		}
		c.lastRun[key] = c.now()
		return action
	}
	return nil
}

func (c *Controller) enqueue(task execTask) {
	select {
	case c.queue <- task:
		metrics.RecoveryQueueDepth.Set(float64(len(c.queue)))
	default:
		c.logger.Warn("recovery queue full, dropping execution",
			"component", task.component,
			"action", task.action.ID,
		)
		c.recordAttempt(Attempt{
			ID:            uuid.New().String(),
			ComponentName: task.component,
			ActionID:      task.action.ID,
			ActionName:    task.action.Name,
			Timestamp:     c.now(),
			Success:       false,
			Error:         "recovery queue full",
		})
	}
}

func (c *Controller) worker() {
	defer c.wg.Done()
	for {
		select {
		case task := <-c.queue:
			metrics.RecoveryQueueDepth.Set(float64(len(c.queue)))
			c.execute(task)
		case <-c.quit:
			// Drain what was already enqueued, then exit.
			for {
				select {
				case task := <-c.queue:
					c.execute(task)
				default:
					return
				}
			}
		}
	}
}

func (c *Controller) execute(task execTask) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ExecutionTimeout)
	defer cancel()

	c.mu.Lock()
	breaker := c.breakers[task.component]
	c.mu.Unlock()

	start := c.now()
	var err error
	if breaker != nil {
		_, err = breaker.Execute(func() (interface{}, error) {
			return nil, c.perform(ctx, task)
		})
	} else {
		// Component was unregistered while queued; still run and audit.
		err = c.perform(ctx, task)
	}
	duration := c.now().Sub(start)

	attempt := Attempt{
		ID:            uuid.New().String(),
		ComponentName: task.component,
		ActionID:      task.action.ID,
		ActionName:    task.action.Name,
		Timestamp:     start,
		Success:       err == nil,
		Metrics: map[string]interface{}{
			"durationMs": float64(duration.Milliseconds()),
			"manual":     task.manual,
		},
	}
	if err != nil {
		attempt.Error = err.Error()
	}
	c.recordAttempt(attempt)

	if err != nil {
		metrics.RecoveryAttemptsTotal.WithLabelValues("failure").Inc()
		c.logger.Error("recovery action failed",
			"component", task.component,
			"action", task.action.ID,
			"error", err,
		)
		return
	}
	metrics.RecoveryAttemptsTotal.WithLabelValues("success").Inc()
	c.logger.Info("recovery action executed",
		"component", task.component,
		"action", task.action.ID,
		"kind", task.action.Kind,
		"duration_ms", duration.Milliseconds(),
	)

	c.mu.Lock()
	delete(c.consecutive, cooldownKey(task.component, task.action.ID))
	handler := c.handlers[task.component]
	_, stillRegistered := c.actions[task.component]
	c.mu.Unlock()

	// The notification is discarded for components unregistered mid-flight;
	// the audit record above is retained either way.
	if stillRegistered && handler != nil {
		c.notify(handler, Notification{
			ComponentName: task.component,
			ActionID:      task.action.ID,
			Kind:          task.action.Kind,
		})
	}
}

// perform runs the remediation itself. For reload, remount and reset the
// in-process effect is the component notification; custom actions run the
// caller's effect with panic containment.
func (c *Controller) perform(ctx context.Context, task execTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovery action panicked: %v", r)
		}
	}()

	switch task.action.Kind {
	case KindCustom:
		if task.action.Custom == nil {
			return fmt.Errorf("custom action %s has no function", task.action.ID)
		}
		return task.action.Custom(ctx)
	case KindReload, KindRemount, KindReset:
		return ctx.Err()
	default:
		return fmt.Errorf("unknown action kind %q", task.action.Kind)
	}
}

func (c *Controller) notify(handler Handler, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("recovery handler panicked", "component", n.ComponentName, "panic", r)
		}
	}()
	handler(n)
}

func (c *Controller) recordAttempt(attempt Attempt) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.attempts = append(c.attempts, attempt)
	if len(c.attempts) > c.cfg.AttemptCapacity {
		c.attempts = c.attempts[len(c.attempts)-c.cfg.AttemptCapacity:]
	}
}

func needed(action *Action) int {
	if action.Trigger.Consecutive < 1 {
		return 1
	}
	return action.Trigger.Consecutive
}

func cooldownKey(component, actionID string) string {
	return component + "|" + actionID
}

func eventComponent(ev telemetry.Event) string {
	switch ev := ev.(type) {
	case telemetry.ErrorEvent:
		return ev.Report.ComponentName
	case telemetry.MetricEvent:
		return ev.Metric.ComponentName
	case telemetry.HealthEvent:
		return ev.Check.ComponentName
	default:
		return ""
	}
}
