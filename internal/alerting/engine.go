package alerting

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roof-guardian/monitoring-api/internal/metrics"
	"github.com/roof-guardian/monitoring-api/internal/telemetry"
)

// Engine consumes telemetry events and creates alerts for matching rules.
// Rule evaluation runs synchronously on the publish path; notification
// actions are dispatched on a goroutine so a slow channel cannot stall
// reporters.
type Engine struct {
	store    *telemetry.Store
	notifier Notifier
	logger   *slog.Logger

	mu    sync.Mutex
	rules map[string]*Rule
	// lastFired gates each rule by its own cooldown, independent of the
	// store's per-alert-key rate limit.
	lastFired map[string]time.Time
	// matchTimes holds per-rule match timestamps pruned to the rule's
	// window, backing the minOccurrences sliding-window count.
	matchTimes map[string][]time.Time

	unsubscribe func()
	now         func() time.Time
}

// observation is a rule-evaluation view of one telemetry event.
type observation struct {
	category  telemetry.AlertType
	component string
	fields    map[string]interface{}
}

// NewEngine creates an alert engine over the store, loaded with the default
// rule set. A nil notifier disables notification actions.
func NewEngine(store *telemetry.Store, notifier Notifier, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}

	e := &Engine{
		store:      store,
		notifier:   notifier,
		logger:     logger,
		rules:      make(map[string]*Rule),
		lastFired:  make(map[string]time.Time),
		matchTimes: make(map[string][]time.Time),
		now:        time.Now,
	}
	for _, rule := range DefaultRules() {
		r := rule
		e.rules[r.ID] = &r
	}
	return e
}

// Start subscribes the engine to the store.
func (e *Engine) Start() {
	e.unsubscribe = e.store.Subscribe(e.HandleEvent)
}

// Stop detaches the engine from the store.
func (e *Engine) Stop() {
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
}

// AddRule registers a rule, replacing any rule with the same id. Malformed
// rules are rejected here so evaluation never errors.
func (e *Engine) AddRule(rule Rule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid alert rule: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[rule.ID] = &rule
	delete(e.lastFired, rule.ID)
	delete(e.matchTimes, rule.ID)
	return nil
}

// RemoveRule deletes a rule and its cooldown/window state.
func (e *Engine) RemoveRule(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.rules[id]; !ok {
		return fmt.Errorf("alert rule %s not found", id)
	}
	delete(e.rules, id)
	delete(e.lastFired, id)
	delete(e.matchTimes, id)
	return nil
}

// SetRuleEnabled toggles a rule without clearing its state.
func (e *Engine) SetRuleEnabled(id string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rule, ok := e.rules[id]
	if !ok {
		return fmt.Errorf("alert rule %s not found", id)
	}
	rule.Enabled = enabled
	return nil
}

// Rules returns a copy of the registry.
func (e *Engine) Rules() []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Rule, 0, len(e.rules))
	for _, rule := range e.rules {
		out = append(out, *rule)
	}
	return out
}

// HandleEvent evaluates one telemetry event against the registry.
func (e *Engine) HandleEvent(ev telemetry.Event) {
	obs, ok := observe(ev)
	if !ok {
		return
	}

	e.mu.Lock()
	var fired []Rule
	for _, rule := range e.rules {
		if !rule.Enabled || rule.Condition.Type != obs.category {
			continue
		}
		value, present := obs.fields[rule.Condition.Metric]
		if !present {
			continue
		}
		if !evaluate(rule.Condition.Operator, value, rule.Condition.Threshold) {
			continue
		}

		metrics.RuleMatchesTotal.WithLabelValues(rule.ID).Inc()

		if !e.windowSatisfiedLocked(rule) {
			continue
		}
		if last, ok := e.lastFired[rule.ID]; ok && e.now().Sub(last) < rule.Cooldown() {
			metrics.AlertsSuppressedTotal.WithLabelValues("rule_cooldown").Inc()
			continue
		}
		e.lastFired[rule.ID] = e.now()
		fired = append(fired, *rule)
	}
	e.mu.Unlock()

	for _, rule := range fired {
		e.fire(rule, obs)
	}
}

// windowSatisfiedLocked records a match and reports whether the rule's
// sliding window holds enough occurrences to fire. Rules without a window
// fire on every match.
func (e *Engine) windowSatisfiedLocked(rule *Rule) bool {
	if rule.Condition.MinOccurrences <= 1 {
		return true
	}

	now := e.now()
	cutoff := now.Add(-rule.Window())
	times := e.matchTimes[rule.ID]
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	e.matchTimes[rule.ID] = kept
	return len(kept) >= rule.Condition.MinOccurrences
}

func (e *Engine) fire(rule Rule, obs observation) {
	alert, created := e.store.CreateAlert(telemetry.Alert{
		Type:          rule.Condition.Type,
		Severity:      rule.Severity,
		Title:         rule.Name,
		Message:       describeMatch(rule, obs),
		ComponentName: obs.component,
		Metadata: map[string]interface{}{
			"ruleId":   rule.ID,
			"metric":   rule.Condition.Metric,
			"observed": obs.fields[rule.Condition.Metric],
		},
	})
	if !created {
		return
	}

	e.logger.Debug("alert rule fired", "rule", rule.ID, "component", obs.component)

	// Actions run off the publish path, in declaration order.
	go e.runActions(rule, alert)
}

func (e *Engine) runActions(rule Rule, alert telemetry.Alert) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("alert notifier panicked", "rule", rule.ID, "panic", r)
		}
	}()

	if rule.Actions.Toast {
		e.notifier.Toast(alert)
	}
	if rule.Actions.Console {
		e.notifier.Console(alert)
	}
	if rule.Actions.Email {
		e.notifier.Email(alert)
	}
	if rule.Actions.Webhook {
		e.notifier.Webhook(alert)
	}
	if alert.Severity == telemetry.SeverityHigh || alert.Severity == telemetry.SeverityCritical {
		e.notifier.AudibleCue(alert)
	}
}

func describeMatch(rule Rule, obs observation) string {
	observed := obs.fields[rule.Condition.Metric]
	subject := obs.component
	if subject == "" {
		subject = string(obs.category)
	}
	return fmt.Sprintf("%s: %s %s %v (observed %v)",
		subject, rule.Condition.Metric, rule.Condition.Operator, rule.Condition.Threshold, observed)
}

// observe projects an event into the fields rules can reference. Alert
// events are not re-evaluated; alerting on alerts would self-amplify.
func observe(ev telemetry.Event) (observation, bool) {
	switch ev := ev.(type) {
	case telemetry.ErrorEvent:
		return observation{
			category:  telemetry.AlertTypeError,
			component: ev.Report.ComponentName,
			fields: map[string]interface{}{
				"message":    ev.Report.Message,
				"stack":      ev.Report.Stack,
				"level":      string(ev.Report.Level),
				"retryCount": float64(ev.Report.RetryCount),
			},
		}, true
	case telemetry.MetricEvent:
		return observation{
			category:  telemetry.AlertTypePerformance,
			component: ev.Metric.ComponentName,
			fields: map[string]interface{}{
				string(ev.Metric.MetricType): ev.Metric.Value,
				"value":                      ev.Metric.Value,
			},
		}, true
	case telemetry.HealthEvent:
		return observation{
			category:  telemetry.AlertTypeHealth,
			component: ev.Check.ComponentName,
			fields: map[string]interface{}{
				"status":          string(ev.Check.Status),
				"renderTime":      ev.Check.Metrics.RenderTime,
				"errorRate":       ev.Check.Metrics.ErrorRate,
				"memoryUsage":     ev.Check.Metrics.MemoryUsage,
				"apiResponseTime": ev.Check.Metrics.APIResponseTime,
			},
		}, true
	default:
		return observation{}, false
	}
}

// evaluate applies an operator. A type mismatch between value and operator
// evaluates to false; evaluation never errors.
func evaluate(op Operator, value, threshold interface{}) bool {
	switch op {
	case OperatorGT:
		v, ok1 := asFloat(value)
		t, ok2 := asFloat(threshold)
		return ok1 && ok2 && v > t
	case OperatorLT:
		v, ok1 := asFloat(value)
		t, ok2 := asFloat(threshold)
		return ok1 && ok2 && v < t
	case OperatorEQ:
		if v, ok1 := asFloat(value); ok1 {
			if t, ok2 := asFloat(threshold); ok2 {
				return v == t
			}
			return false
		}
		return value == threshold
	case OperatorContains:
		v, ok1 := value.(string)
		t, ok2 := threshold.(string)
		return ok1 && ok2 && strings.Contains(strings.ToLower(v), strings.ToLower(t))
	default:
		return false
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
