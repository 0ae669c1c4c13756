// Package alerting evaluates telemetry events against a configurable rule
// registry and creates rate-limited, severity-tagged alerts with configured
// notification actions.
package alerting

import (
	"fmt"
	"time"

	"github.com/roof-guardian/monitoring-api/internal/telemetry"
)

// Operator is a rule comparison operator.
type Operator string

const (
	OperatorGT       Operator = "gt"
	OperatorLT       Operator = "lt"
	OperatorEQ       Operator = "eq"
	OperatorContains Operator = "contains"
)

// Condition describes when a rule matches. Type selects the event category,
// Metric the observed field inside the event. A window is declared with
// TimeWindowMinutes and MinOccurrences: the rule fires only when the window
// holds at least MinOccurrences matches.
type Condition struct {
	Type              telemetry.AlertType `json:"type" yaml:"type"`
	Metric            string              `json:"metric" yaml:"metric"`
	Operator          Operator            `json:"operator" yaml:"operator"`
	Threshold         interface{}         `json:"threshold" yaml:"threshold"`
	TimeWindowMinutes int                 `json:"timeWindowMinutes,omitempty" yaml:"timeWindowMinutes,omitempty"`
	MinOccurrences    int                 `json:"minOccurrences,omitempty" yaml:"minOccurrences,omitempty"`
}

// Actions selects which notification channels run when a rule fires.
type Actions struct {
	Toast   bool `json:"toast" yaml:"toast"`
	Console bool `json:"console" yaml:"console"`
	Email   bool `json:"email" yaml:"email"`
	Webhook bool `json:"webhook" yaml:"webhook"`
}

// Rule is one alert rule registry entry.
type Rule struct {
	ID              string             `json:"id" yaml:"id"`
	Name            string             `json:"name" yaml:"name"`
	Enabled         bool               `json:"enabled" yaml:"enabled"`
	Condition       Condition          `json:"condition" yaml:"condition"`
	Severity        telemetry.Severity `json:"severity" yaml:"severity"`
	Actions         Actions            `json:"actions" yaml:"actions"`
	CooldownMinutes int                `json:"cooldownMinutes" yaml:"cooldownMinutes"`
}

// Cooldown returns the rule's cooldown as a duration.
func (r Rule) Cooldown() time.Duration {
	return time.Duration(r.CooldownMinutes) * time.Minute
}

// Window returns the rule's occurrence window as a duration.
func (r Rule) Window() time.Duration {
	return time.Duration(r.Condition.TimeWindowMinutes) * time.Minute
}

// Validate rejects malformed rules. Registration fails fast; a rule that
// passes here can never error at evaluation time.
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.Name == "" {
		return fmt.Errorf("rule %s: name is required", r.ID)
	}
	switch r.Condition.Type {
	case telemetry.AlertTypeError, telemetry.AlertTypePerformance, telemetry.AlertTypeHealth, telemetry.AlertTypeWarning:
	default:
		return fmt.Errorf("rule %s: unknown condition type %q", r.ID, r.Condition.Type)
	}
	if r.Condition.Metric == "" {
		return fmt.Errorf("rule %s: condition metric is required", r.ID)
	}
	switch r.Condition.Operator {
	case OperatorGT, OperatorLT:
		if _, ok := asFloat(r.Condition.Threshold); !ok {
			return fmt.Errorf("rule %s: operator %s requires a numeric threshold", r.ID, r.Condition.Operator)
		}
	case OperatorEQ:
	case OperatorContains:
		if _, ok := r.Condition.Threshold.(string); !ok {
			return fmt.Errorf("rule %s: operator contains requires a string threshold", r.ID)
		}
	default:
		return fmt.Errorf("rule %s: unknown operator %q", r.ID, r.Condition.Operator)
	}
	switch r.Severity {
	case telemetry.SeverityLow, telemetry.SeverityMedium, telemetry.SeverityHigh, telemetry.SeverityCritical:
	default:
		return fmt.Errorf("rule %s: unknown severity %q", r.ID, r.Severity)
	}
	if r.CooldownMinutes < 0 {
		return fmt.Errorf("rule %s: cooldownMinutes must not be negative", r.ID)
	}
	if r.Condition.MinOccurrences > 1 && r.Condition.TimeWindowMinutes <= 0 {
		return fmt.Errorf("rule %s: minOccurrences > 1 requires timeWindowMinutes", r.ID)
	}
	return nil
}

// DefaultRules returns the built-in rule set covering slow renders, error
// floods, API latency and unhealthy components.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:      "slow-render",
			Name:    "Slow component render",
			Enabled: true,
			Condition: Condition{
				Type:      telemetry.AlertTypePerformance,
				Metric:    "render",
				Operator:  OperatorGT,
				Threshold: 100.0,
			},
			Severity:        telemetry.SeverityMedium,
			Actions:         Actions{Toast: true, Console: true},
			CooldownMinutes: 5,
		},
		{
			ID:      "render-spike",
			Name:    "Repeated render spikes",
			Enabled: true,
			Condition: Condition{
				Type:              telemetry.AlertTypePerformance,
				Metric:            "render",
				Operator:          OperatorGT,
				Threshold:         200.0,
				TimeWindowMinutes: 5,
				MinOccurrences:    3,
			},
			Severity:        telemetry.SeverityHigh,
			Actions:         Actions{Toast: true, Console: true, Email: true},
			CooldownMinutes: 10,
		},
		{
			ID:      "error-flood",
			Name:    "Error flood",
			Enabled: true,
			Condition: Condition{
				Type:              telemetry.AlertTypeError,
				Metric:            "message",
				Operator:          OperatorContains,
				Threshold:         "error",
				TimeWindowMinutes: 5,
				MinOccurrences:    5,
			},
			Severity:        telemetry.SeverityHigh,
			Actions:         Actions{Toast: true, Console: true, Email: true},
			CooldownMinutes: 10,
		},
		{
			ID:      "api-latency",
			Name:    "Slow API response",
			Enabled: true,
			Condition: Condition{
				Type:      telemetry.AlertTypePerformance,
				Metric:    "api",
				Operator:  OperatorGT,
				Threshold: 2000.0,
			},
			Severity:        telemetry.SeverityMedium,
			Actions:         Actions{Console: true},
			CooldownMinutes: 5,
		},
		{
			ID:      "component-unhealthy",
			Name:    "Component unhealthy",
			Enabled: true,
			Condition: Condition{
				Type:      telemetry.AlertTypeHealth,
				Metric:    "status",
				Operator:  OperatorEQ,
				Threshold: "unhealthy",
			},
			Severity:        telemetry.SeverityCritical,
			Actions:         Actions{Toast: true, Console: true, Email: true, Webhook: true},
			CooldownMinutes: 5,
		},
	}
}
