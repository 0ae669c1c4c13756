// Package recovery maintains a per-component registry of remediation
// actions, matches them against telemetry events, and executes at most one
// bounded corrective action per triggering event.
package recovery

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/roof-guardian/monitoring-api/internal/telemetry"
)

// ActionKind is the remediation a component is asked to perform.
type ActionKind string

const (
	KindReload  ActionKind = "reload"  // full remount plus state reset
	KindRemount ActionKind = "remount" // discard and recreate instance state
	KindReset   ActionKind = "reset"   // clear internal state, keep instance
	KindCustom  ActionKind = "custom"  // caller-supplied effect
)

// Trigger is the predicate deciding when an action matches an event. All
// fields are optional; an action with an empty trigger only runs manually.
type Trigger struct {
	// ErrorPattern is a regular expression tested against an error's
	// message and stack.
	ErrorPattern string `json:"errorPattern,omitempty" yaml:"errorPattern,omitempty"`
	// PerformanceThreshold matches any metric whose value exceeds it.
	PerformanceThreshold float64 `json:"performanceThreshold,omitempty" yaml:"performanceThreshold,omitempty"`
	// HealthStatus matches a health event with exactly this status.
	HealthStatus telemetry.HealthStatus `json:"healthStatus,omitempty" yaml:"healthStatus,omitempty"`
	// Consecutive requires the predicate to match this many times in a row
	// before the action becomes eligible.
	Consecutive int `json:"consecutive,omitempty" yaml:"consecutive,omitempty"`
}

// CustomFunc is a caller-supplied remediation effect.
type CustomFunc func(ctx context.Context) error

// Action is one registered remediation.
type Action struct {
	ID              string     `json:"id" yaml:"id"`
	Name            string     `json:"name" yaml:"name"`
	Description     string     `json:"description,omitempty" yaml:"description,omitempty"`
	Trigger         Trigger    `json:"trigger" yaml:"trigger"`
	Kind            ActionKind `json:"kind" yaml:"kind"`
	Custom          CustomFunc `json:"-" yaml:"-"`
	CooldownMinutes int        `json:"cooldownMinutes" yaml:"cooldownMinutes"`
	Enabled         bool       `json:"enabled" yaml:"enabled"`
	Priority        int        `json:"priority" yaml:"priority"`

	pattern *regexp.Regexp
}

// Cooldown returns the action's cooldown as a duration.
func (a Action) Cooldown() time.Duration {
	return time.Duration(a.CooldownMinutes) * time.Minute
}

// Validate rejects malformed actions without mutating the receiver.
func (a Action) Validate() error {
	cp := a
	return cp.compile()
}

// compile validates the action shape and compiles its error pattern.
// Registration fails fast on a malformed action.
func (a *Action) compile() error {
	if a.ID == "" {
		return fmt.Errorf("action id is required")
	}
	if a.Name == "" {
		return fmt.Errorf("action %s: name is required", a.ID)
	}
	switch a.Kind {
	case KindReload, KindRemount, KindReset:
	case KindCustom:
		if a.Custom == nil {
			return fmt.Errorf("action %s: custom kind requires a custom function", a.ID)
		}
	default:
		return fmt.Errorf("action %s: unknown kind %q", a.ID, a.Kind)
	}
	if a.CooldownMinutes < 0 {
		return fmt.Errorf("action %s: cooldownMinutes must not be negative", a.ID)
	}
	if a.Trigger.Consecutive < 0 {
		return fmt.Errorf("action %s: consecutive must not be negative", a.ID)
	}
	switch a.Trigger.HealthStatus {
	case "", telemetry.StatusHealthy, telemetry.StatusDegraded, telemetry.StatusUnhealthy:
	default:
		return fmt.Errorf("action %s: unknown health status %q", a.ID, a.Trigger.HealthStatus)
	}
	if a.Trigger.ErrorPattern != "" {
		re, err := regexp.Compile(a.Trigger.ErrorPattern)
		if err != nil {
			return fmt.Errorf("action %s: invalid error pattern: %w", a.ID, err)
		}
		a.pattern = re
	}
	return nil
}

// matches reports whether the action's trigger matches the event. Consecutive
// counting and cooldowns are handled by the controller.
func (a *Action) matches(ev telemetry.Event) bool {
	switch ev := ev.(type) {
	case telemetry.ErrorEvent:
		if a.pattern == nil {
			return false
		}
		return a.pattern.MatchString(ev.Report.Message) || a.pattern.MatchString(ev.Report.Stack)
	case telemetry.MetricEvent:
		// Metric-type agnostic numeric compare.
		return a.Trigger.PerformanceThreshold > 0 && ev.Metric.Value > a.Trigger.PerformanceThreshold
	case telemetry.HealthEvent:
		return a.Trigger.HealthStatus != "" && ev.Check.Status == a.Trigger.HealthStatus
	default:
		return false
	}
}

// Attempt is one entry in the append-only recovery audit log.
type Attempt struct {
	ID            string                 `json:"id"`
	ComponentName string                 `json:"componentName"`
	ActionID      string                 `json:"actionId"`
	ActionName    string                 `json:"actionName"`
	Timestamp     time.Time              `json:"timestamp"`
	Success       bool                   `json:"success"`
	Error         string                 `json:"error,omitempty"`
	Metrics       map[string]interface{} `json:"metrics,omitempty"`
}

// AttemptFilter selects audit entries in queries.
type AttemptFilter struct {
	ComponentName string
	Limit         int
}

// DefaultActions is the baseline action set used when a component registers
// without its own.
func DefaultActions() []Action {
	return []Action{
		{
			ID:              "remount-unhealthy",
			Name:            "Remount unhealthy component",
			Description:     "Discard and recreate the component once it reports unhealthy",
			Trigger:         Trigger{HealthStatus: telemetry.StatusUnhealthy},
			Kind:            KindRemount,
			CooldownMinutes: 5,
			Enabled:         true,
			Priority:        100,
		},
		{
			ID:              "reset-degraded",
			Name:            "Reset persistently degraded component",
			Description:     "Clear internal state after three consecutive degraded assessments",
			Trigger:         Trigger{HealthStatus: telemetry.StatusDegraded, Consecutive: 3},
			Kind:            KindReset,
			CooldownMinutes: 2,
			Enabled:         true,
			Priority:        50,
		},
		{
			ID:              "reload-chunk-error",
			Name:            "Reload on chunk or memory errors",
			Description:     "Full reload when the bundle or heap is beyond repair",
			Trigger:         Trigger{ErrorPattern: `(?i)(chunk load|out of memory)`},
			Kind:            KindReload,
			CooldownMinutes: 15,
			Enabled:         true,
			Priority:        10,
		},
	}
}
