// Package health derives a per-component health status from recent
// telemetry and publishes it back into the store.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roof-guardian/monitoring-api/internal/scheduler"
	"github.com/roof-guardian/monitoring-api/internal/telemetry"
)

// Config holds assessment thresholds. Render and API thresholds are in
// milliseconds, the memory threshold in megabytes.
type Config struct {
	Interval           time.Duration
	RenderThreshold    float64
	ErrorRateThreshold float64
	MemoryThreshold    float64
	APIThreshold       float64
	// CriticalComponents get the stricter memory and zero-render rules.
	CriticalComponents []string
}

// DefaultConfig returns the default assessment thresholds.
func DefaultConfig() Config {
	return Config{
		Interval:           30 * time.Second,
		RenderThreshold:    50,
		ErrorRateThreshold: 0.1,
		MemoryThreshold:    150,
		APIThreshold:       2000,
		CriticalComponents: []string{"PropertyTable", "InspectionScheduler"},
	}
}

// componentStats accumulates the raw measurements behind one component's
// assessment.
type componentStats struct {
	renderCount     int
	totalRenderTime float64
	lastRenderTime  float64
	errorCount      int
	memoryUsage     float64 // MB; 0 means never measured
	lastAPITime     float64 // ms; 0 means never measured
	lastUpdate      time.Time
}

// Assessor computes component health on a periodic per-component timer and
// on demand. It subscribes to the store for raw telemetry and publishes
// HealthCheck records through UpsertHealth.
type Assessor struct {
	store  *telemetry.Store
	sched  *scheduler.Scheduler
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	components map[string]*componentStats
	registered map[string]bool
	critical   map[string]bool

	unsubscribe func()
	now         func() time.Time
}

// NewAssessor creates a health assessor.
func NewAssessor(store *telemetry.Store, sched *scheduler.Scheduler, cfg Config, logger *slog.Logger) *Assessor {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.RenderThreshold <= 0 {
		cfg.RenderThreshold = def.RenderThreshold
	}
	if cfg.ErrorRateThreshold <= 0 {
		cfg.ErrorRateThreshold = def.ErrorRateThreshold
	}
	if cfg.MemoryThreshold <= 0 {
		cfg.MemoryThreshold = def.MemoryThreshold
	}
	if cfg.APIThreshold <= 0 {
		cfg.APIThreshold = def.APIThreshold
	}

	critical := make(map[string]bool, len(cfg.CriticalComponents))
	for _, name := range cfg.CriticalComponents {
		critical[name] = true
	}

	return &Assessor{
		store:      store,
		sched:      sched,
		cfg:        cfg,
		logger:     logger,
		components: make(map[string]*componentStats),
		registered: make(map[string]bool),
		critical:   critical,
		now:        time.Now,
	}
}

// Start subscribes the assessor to raw telemetry.
func (a *Assessor) Start() {
	a.unsubscribe = a.store.Subscribe(a.handleEvent)
}

// Stop detaches from the store and cancels all component timers.
func (a *Assessor) Stop() {
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}

	a.mu.Lock()
	names := make([]string, 0, len(a.registered))
	for name := range a.registered {
		names = append(names, name)
	}
	a.mu.Unlock()

	for _, name := range names {
		a.sched.Cancel(timerName(name))
	}
}

// RegisterComponent starts periodic assessment for a component.
func (a *Assessor) RegisterComponent(name string) {
	a.mu.Lock()
	if a.components[name] == nil {
		a.components[name] = &componentStats{lastUpdate: a.now()}
	}
	a.registered[name] = true
	a.mu.Unlock()

	a.sched.Schedule(timerName(name), a.cfg.Interval, func(ctx context.Context) {
		a.CheckComponent(name)
	})
	a.logger.Debug("component registered for health assessment", "component", name)
}

// UnregisterComponent cancels the component's timer and drops its stats.
func (a *Assessor) UnregisterComponent(name string) {
	a.sched.Cancel(timerName(name))

	a.mu.Lock()
	delete(a.components, name)
	delete(a.registered, name)
	a.mu.Unlock()
}

// Registered returns the components under periodic assessment.
func (a *Assessor) Registered() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	names := make([]string, 0, len(a.registered))
	for name := range a.registered {
		names = append(names, name)
	}
	return names
}

// CheckComponent runs one assessment pass and publishes the result. It may
// be called on demand between timer ticks.
func (a *Assessor) CheckComponent(name string) telemetry.HealthCheck {
	a.mu.Lock()
	stats, ok := a.components[name]
	if !ok {
		stats = &componentStats{lastUpdate: a.now()}
		a.components[name] = stats
	}
	check := a.assessLocked(name, stats)
	a.mu.Unlock()

	// Publish outside the lock: upsert re-enters this assessor through the
	// store's synchronous fan-out.
	a.store.UpsertHealth(check)
	return check
}

// assessLocked applies the escalation ladder. A later step never lowers the
// status reached by an earlier one.
func (a *Assessor) assessLocked(name string, stats *componentStats) telemetry.HealthCheck {
	status := telemetry.StatusHealthy
	var issues []string

	var avgRender float64
	if stats.renderCount > 0 {
		avgRender = stats.totalRenderTime / float64(stats.renderCount)
	}
	var errorRate float64
	if stats.renderCount > 0 {
		errorRate = float64(stats.errorCount) / float64(stats.renderCount)
	}

	if stats.renderCount > 0 && avgRender > a.cfg.RenderThreshold {
		status = telemetry.StatusDegraded
		issues = append(issues, fmt.Sprintf("average render time %.1fms exceeds %.1fms", avgRender, a.cfg.RenderThreshold))
	}

	if stats.lastRenderTime > 2*a.cfg.RenderThreshold {
		status = telemetry.StatusUnhealthy
		issues = append(issues, fmt.Sprintf("last render time %.1fms exceeds %.1fms", stats.lastRenderTime, 2*a.cfg.RenderThreshold))
	}

	if errorRate > a.cfg.ErrorRateThreshold {
		status = escalate(status)
		issues = append(issues, fmt.Sprintf("error rate %.2f exceeds %.2f", errorRate, a.cfg.ErrorRateThreshold))
	}

	if a.critical[name] && stats.memoryUsage > a.cfg.MemoryThreshold {
		status = escalate(status)
		issues = append(issues, fmt.Sprintf("memory usage %.1fMB exceeds %.1fMB", stats.memoryUsage, a.cfg.MemoryThreshold))
	}

	if stats.lastAPITime > a.cfg.APIThreshold {
		// API latency alone never makes a component unhealthy.
		if status == telemetry.StatusHealthy {
			status = telemetry.StatusDegraded
		}
		issues = append(issues, fmt.Sprintf("API response time %.0fms exceeds %.0fms", stats.lastAPITime, a.cfg.APIThreshold))
	}

	if a.now().Sub(stats.lastUpdate) > 2*a.cfg.Interval {
		if status == telemetry.StatusHealthy {
			status = telemetry.StatusDegraded
		}
		issues = append(issues, "inactive: no telemetry since "+stats.lastUpdate.Format(time.RFC3339))
	}

	if a.critical[name] && stats.renderCount == 0 {
		status = telemetry.StatusUnhealthy
		issues = append(issues, "critical component has never rendered")
	}
	if len(issues) > 2 {
		status = telemetry.StatusUnhealthy
	}

	return telemetry.HealthCheck{
		ComponentName: name,
		Status:        status,
		LastCheck:     a.now(),
		Metrics: telemetry.HealthMetrics{
			RenderTime:      avgRender,
			ErrorRate:       errorRate,
			MemoryUsage:     stats.memoryUsage,
			APIResponseTime: stats.lastAPITime,
		},
		Issues: issues,
	}
}

func (a *Assessor) handleEvent(ev telemetry.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch ev := ev.(type) {
	case telemetry.ErrorEvent:
		stats := a.statsLocked(ev.Report.ComponentName)
		stats.errorCount++
		stats.lastUpdate = a.now()
	case telemetry.MetricEvent:
		stats := a.statsLocked(ev.Metric.ComponentName)
		switch ev.Metric.MetricType {
		case telemetry.MetricTypeRender:
			stats.renderCount++
			stats.totalRenderTime += ev.Metric.Value
			stats.lastRenderTime = ev.Metric.Value
		case telemetry.MetricTypeAPI:
			stats.lastAPITime = ev.Metric.Value
		case telemetry.MetricTypeMemory:
			stats.memoryUsage = ev.Metric.Value
		}
		stats.lastUpdate = a.now()
	}
}

func (a *Assessor) statsLocked(name string) *componentStats {
	stats, ok := a.components[name]
	if !ok {
		stats = &componentStats{lastUpdate: a.now()}
		a.components[name] = stats
	}
	return stats
}

// escalate moves healthy to degraded and degraded to unhealthy.
func escalate(status telemetry.HealthStatus) telemetry.HealthStatus {
	switch status {
	case telemetry.StatusHealthy:
		return telemetry.StatusDegraded
	default:
		return telemetry.StatusUnhealthy
	}
}

func timerName(component string) string {
	return "health:" + component
}
