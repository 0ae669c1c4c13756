// Package telemetry provides the in-memory telemetry store at the center of
// the monitoring control loop: bounded buffers for error reports, performance
// metrics and alerts, live per-component health records, and synchronous
// publish/subscribe fan-out to the alert engine, health assessor and recovery
// controller.
package telemetry

import "time"

// ErrorLevel classifies where in the component tree an error was caught.
type ErrorLevel string

const (
	ErrorLevelPage      ErrorLevel = "page"
	ErrorLevelComponent ErrorLevel = "component"
	ErrorLevelSection   ErrorLevel = "section"
)

// ErrorReport is a captured application error. Reports are immutable once
// appended and are evicted oldest-first when the buffer is full.
type ErrorReport struct {
	ID             string                 `json:"id"`
	Message        string                 `json:"message"`
	Stack          string                 `json:"stack,omitempty"`
	ComponentStack string                 `json:"componentStack,omitempty"`
	ComponentName  string                 `json:"componentName"`
	Level          ErrorLevel             `json:"level"`
	Timestamp      time.Time              `json:"timestamp"`
	RetryCount     int                    `json:"retryCount"`
	URL            string                 `json:"url,omitempty"`
	UserAgent      string                 `json:"userAgent,omitempty"`
	AdditionalInfo map[string]interface{} `json:"additionalInfo,omitempty"`
}

// MetricType classifies a performance measurement.
type MetricType string

const (
	MetricTypeRender    MetricType = "render"
	MetricTypeOperation MetricType = "operation"
	MetricTypeAPI       MetricType = "api"
	MetricTypeMemory    MetricType = "memory"
)

// PerformanceMetric is a single performance measurement. Metrics are
// immutable and evicted oldest-first.
type PerformanceMetric struct {
	ID            string                 `json:"id"`
	ComponentName string                 `json:"componentName"`
	MetricType    MetricType             `json:"metricType"`
	Value         float64                `json:"value"`
	Threshold     float64                `json:"threshold,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// HealthStatus is the derived health of one component.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// HealthMetrics holds the measurements backing a health assessment.
// MemoryUsage and APIResponseTime are optional; zero means not measured.
type HealthMetrics struct {
	RenderTime      float64 `json:"renderTime"`
	ErrorRate       float64 `json:"errorRate"`
	MemoryUsage     float64 `json:"memoryUsage,omitempty"`
	APIResponseTime float64 `json:"apiResponseTime,omitempty"`
}

// HealthCheck is the live health record for one component. It is upserted,
// not appended; the store keeps exactly one per component name.
type HealthCheck struct {
	ComponentName string        `json:"componentName"`
	Status        HealthStatus  `json:"status"`
	LastCheck     time.Time     `json:"lastCheck"`
	Metrics       HealthMetrics `json:"metrics"`
	Issues        []string      `json:"issues,omitempty"`
}

// AlertType categorizes an alert by the kind of telemetry that produced it.
type AlertType string

const (
	AlertTypeError       AlertType = "error"
	AlertTypePerformance AlertType = "performance"
	AlertTypeHealth      AlertType = "health"
	AlertTypeWarning     AlertType = "warning"
)

// Severity orders alerts by urgency.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert is a user-facing notification created by the alert engine. It
// mutates only through acknowledge/resolve, monotonically: resolve implies
// acknowledged and neither flag is ever un-set.
type Alert struct {
	ID            string                 `json:"id"`
	Type          AlertType              `json:"type"`
	Severity      Severity               `json:"severity"`
	Title         string                 `json:"title"`
	Message       string                 `json:"message"`
	ComponentName string                 `json:"componentName,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	Acknowledged  bool                   `json:"acknowledged"`
	Resolved      bool                   `json:"resolved"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Event is the tagged union flowing from the store to its subscribers.
// The three variants below are the only implementations; created alerts
// flow over their own subscription channel instead.
type Event interface {
	eventKind() string
}

// ErrorEvent wraps an appended ErrorReport.
type ErrorEvent struct {
	Report ErrorReport
}

// MetricEvent wraps an appended PerformanceMetric.
type MetricEvent struct {
	Metric PerformanceMetric
}

// HealthEvent wraps an upserted HealthCheck.
type HealthEvent struct {
	Check HealthCheck
}

func (ErrorEvent) eventKind() string  { return "error" }
func (MetricEvent) eventKind() string { return "metric" }
func (HealthEvent) eventKind() string { return "health" }

// ErrorFilter selects error reports in queries. Zero values match all.
type ErrorFilter struct {
	ComponentName string
	Level         ErrorLevel
	Limit         int
}

// MetricFilter selects performance metrics in queries.
type MetricFilter struct {
	ComponentName string
	MetricType    MetricType
	Limit         int
}

// AlertFilter selects alerts in queries. Acknowledged and Resolved are
// tri-state: nil matches both.
type AlertFilter struct {
	Type          AlertType
	Severity      Severity
	ComponentName string
	Acknowledged  *bool
	Resolved      *bool
	Limit         int
}
