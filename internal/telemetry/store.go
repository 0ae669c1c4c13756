package telemetry

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roof-guardian/monitoring-api/internal/metrics"
)

// Persister receives error reports and alerts for best-effort durable
// storage. Implementations must tolerate concurrent calls. Failures are
// logged and ignored; the store never depends on persistence succeeding.
type Persister interface {
	PersistError(report ErrorReport) error
	PersistAlert(alert Alert) error
}

// Config holds store capacities and the alert rate-limit window.
type Config struct {
	ErrorCapacity  int
	MetricCapacity int
	AlertCapacity  int
	// AlertRateLimit is the minimum interval between two alerts sharing the
	// same (type, component, severity) key.
	AlertRateLimit time.Duration
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		ErrorCapacity:  100,
		MetricCapacity: 500,
		AlertCapacity:  50,
		AlertRateLimit: 5 * time.Minute,
	}
}

// Store is the shared in-memory telemetry record. All mutations are
// mutex-guarded; readers only ever observe complete states. The reporting
// methods never panic out to callers.
type Store struct {
	mu      sync.RWMutex
	errors  *buffer[ErrorReport]
	metrics *buffer[PerformanceMetric]
	alerts  *buffer[Alert]
	health  map[string]*HealthCheck

	// lastAlertAt rate-limits alert creation per (type, component, severity).
	lastAlertAt map[string]time.Time
	rateLimit   time.Duration

	subMu       sync.RWMutex
	subscribers map[int]func(Event)
	alertSubs   map[int]func(Alert)
	nextSubID   int

	persister Persister
	logger    *slog.Logger
	now       func() time.Time
}

// NewStore creates a telemetry store with the given configuration.
// The persister is optional.
func NewStore(cfg Config, persister Persister, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.ErrorCapacity <= 0 {
		cfg.ErrorCapacity = def.ErrorCapacity
	}
	if cfg.MetricCapacity <= 0 {
		cfg.MetricCapacity = def.MetricCapacity
	}
	if cfg.AlertCapacity <= 0 {
		cfg.AlertCapacity = def.AlertCapacity
	}
	if cfg.AlertRateLimit <= 0 {
		cfg.AlertRateLimit = def.AlertRateLimit
	}

	return &Store{
		errors:      newBuffer[ErrorReport](cfg.ErrorCapacity),
		metrics:     newBuffer[PerformanceMetric](cfg.MetricCapacity),
		alerts:      newBuffer[Alert](cfg.AlertCapacity),
		health:      make(map[string]*HealthCheck),
		lastAlertAt: make(map[string]time.Time),
		rateLimit:   cfg.AlertRateLimit,
		subscribers: make(map[int]func(Event)),
		alertSubs:   make(map[int]func(Alert)),
		persister:   persister,
		logger:      logger,
		now:         time.Now,
	}
}

// ReportError appends an error report, filling in id and timestamp when the
// reporter left them empty. Fire-and-forget: it never returns an error and
// never panics out.
func (s *Store) ReportError(report ErrorReport) {
	defer s.recoverInternal("ReportError")

	if report.ID == "" {
		report.ID = uuid.New().String()
	}
	if report.Timestamp.IsZero() {
		report.Timestamp = s.now()
	}
	if report.Level == "" {
		report.Level = ErrorLevelComponent
	}

	s.mu.Lock()
	s.errors.push(report)
	size := s.errors.len()
	s.mu.Unlock()

	metrics.EventsTotal.WithLabelValues("error").Inc()
	metrics.BufferSize.WithLabelValues("errors").Set(float64(size))

	s.persistAsync(func(p Persister) error { return p.PersistError(report) })
	s.publish(ErrorEvent{Report: report})
}

// ReportMetric appends a performance metric. Fire-and-forget.
func (s *Store) ReportMetric(metric PerformanceMetric) {
	defer s.recoverInternal("ReportMetric")

	if metric.ID == "" {
		metric.ID = uuid.New().String()
	}
	if metric.Timestamp.IsZero() {
		metric.Timestamp = s.now()
	}

	s.mu.Lock()
	s.metrics.push(metric)
	size := s.metrics.len()
	s.mu.Unlock()

	metrics.EventsTotal.WithLabelValues("metric").Inc()
	metrics.BufferSize.WithLabelValues("metrics").Set(float64(size))

	s.publish(MetricEvent{Metric: metric})
}

// UpsertHealth replaces the live health record for check.ComponentName.
func (s *Store) UpsertHealth(check HealthCheck) {
	defer s.recoverInternal("UpsertHealth")

	if check.LastCheck.IsZero() {
		check.LastCheck = s.now()
	}

	s.mu.Lock()
	cp := check
	cp.Issues = append([]string(nil), check.Issues...)
	s.health[check.ComponentName] = &cp
	s.mu.Unlock()

	metrics.EventsTotal.WithLabelValues("health").Inc()
	metrics.ComponentHealthStatus.WithLabelValues(check.ComponentName).Set(statusGauge(check.Status))

	s.publish(HealthEvent{Check: check})
}

// CreateAlert appends an alert unless its (type, component, severity) key is
// inside the rate-limit window. Returns the stored alert and whether it was
// created.
func (s *Store) CreateAlert(alert Alert) (Alert, bool) {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = s.now()
	}

	key := fmt.Sprintf("%s|%s|%s", alert.Type, alert.ComponentName, alert.Severity)

	s.mu.Lock()
	if last, ok := s.lastAlertAt[key]; ok && s.now().Sub(last) < s.rateLimit {
		s.mu.Unlock()
		metrics.AlertsSuppressedTotal.WithLabelValues("rate_limit").Inc()
		s.logger.Debug("alert suppressed by rate limit", "key", key)
		return Alert{}, false
	}
	s.lastAlertAt[key] = s.now()
	s.alerts.push(alert)
	size := s.alerts.len()
	s.mu.Unlock()

	metrics.AlertsCreatedTotal.WithLabelValues(string(alert.Severity)).Inc()
	metrics.BufferSize.WithLabelValues("alerts").Set(float64(size))

	s.persistAsync(func(p Persister) error { return p.PersistAlert(alert) })
	s.publishAlert(alert)
	return alert, true
}

// AcknowledgeAlert marks an alert acknowledged. Idempotent; acknowledged is
// never un-set.
func (s *Store) AcknowledgeAlert(id string) (Alert, error) {
	return s.mutateAlert(id, func(a *Alert) {
		a.Acknowledged = true
	})
}

// ResolveAlert marks an alert resolved. Resolving implies acknowledging.
func (s *Store) ResolveAlert(id string) (Alert, error) {
	return s.mutateAlert(id, func(a *Alert) {
		a.Acknowledged = true
		a.Resolved = true
	})
}

func (s *Store) mutateAlert(id string, mutate func(*Alert)) (Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found *Alert
	s.alerts.each(func(a *Alert) bool {
		if a.ID == id {
			found = a
			return false
		}
		return true
	})
	if found == nil {
		return Alert{}, fmt.Errorf("alert %s not found", id)
	}
	mutate(found)
	return *found, nil
}

// Errors returns matching error reports, newest first, as defensive copies.
func (s *Store) Errors(filter ErrorFilter) []ErrorReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ErrorReport, 0)
	for _, r := range s.errors.newestFirst() {
		if filter.ComponentName != "" && r.ComponentName != filter.ComponentName {
			continue
		}
		if filter.Level != "" && r.Level != filter.Level {
			continue
		}
		out = append(out, r)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// Metrics returns matching performance metrics, newest first.
func (s *Store) Metrics(filter MetricFilter) []PerformanceMetric {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]PerformanceMetric, 0)
	for _, m := range s.metrics.newestFirst() {
		if filter.ComponentName != "" && m.ComponentName != filter.ComponentName {
			continue
		}
		if filter.MetricType != "" && m.MetricType != filter.MetricType {
			continue
		}
		out = append(out, m)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// Alerts returns matching alerts, newest first.
func (s *Store) Alerts(filter AlertFilter) []Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Alert, 0)
	for _, a := range s.alerts.newestFirst() {
		if filter.Type != "" && a.Type != filter.Type {
			continue
		}
		if filter.Severity != "" && a.Severity != filter.Severity {
			continue
		}
		if filter.ComponentName != "" && a.ComponentName != filter.ComponentName {
			continue
		}
		if filter.Acknowledged != nil && a.Acknowledged != *filter.Acknowledged {
			continue
		}
		if filter.Resolved != nil && a.Resolved != *filter.Resolved {
			continue
		}
		out = append(out, a)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// Health returns the live health record for one component.
func (s *Store) Health(componentName string) (HealthCheck, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	check, ok := s.health[componentName]
	if !ok {
		return HealthCheck{}, false
	}
	cp := *check
	cp.Issues = append([]string(nil), check.Issues...)
	return cp, true
}

// HealthAll returns all live health records.
func (s *Store) HealthAll() []HealthCheck {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]HealthCheck, 0, len(s.health))
	for _, check := range s.health {
		cp := *check
		cp.Issues = append([]string(nil), check.Issues...)
		out = append(out, cp)
	}
	return out
}

// Subscribe registers a handler for error, metric and health events. The
// handler is called synchronously on the reporting path; it must not block.
// The returned function removes the subscription.
func (s *Store) Subscribe(handler func(Event)) func() {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = handler
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subscribers, id)
		s.subMu.Unlock()
	}
}

// SubscribeAlerts registers a handler called for each created alert.
func (s *Store) SubscribeAlerts(handler func(Alert)) func() {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.alertSubs[id] = handler
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.alertSubs, id)
		s.subMu.Unlock()
	}
}

// Seed loads previously persisted records without notifying subscribers or
// re-persisting. Used once at startup to warm the buffers from a snapshot.
func (s *Store) Seed(reports []ErrorReport, alerts []Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range reports {
		s.errors.push(r)
	}
	for _, a := range alerts {
		s.alerts.push(a)
	}
}

func (s *Store) publish(ev Event) {
	s.subMu.RLock()
	handlers := make([]func(Event), 0, len(s.subscribers))
	for _, h := range s.subscribers {
		handlers = append(handlers, h)
	}
	s.subMu.RUnlock()

	for _, h := range handlers {
		s.callSafely(func() { h(ev) })
	}
}

func (s *Store) publishAlert(alert Alert) {
	s.subMu.RLock()
	handlers := make([]func(Alert), 0, len(s.alertSubs))
	for _, h := range s.alertSubs {
		handlers = append(handlers, h)
	}
	s.subMu.RUnlock()

	for _, h := range handlers {
		s.callSafely(func() { h(alert) })
	}
}

// callSafely shields the reporting path from a panicking subscriber.
func (s *Store) callSafely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("telemetry subscriber panicked", "panic", r)
		}
	}()
	fn()
}

func (s *Store) persistAsync(write func(Persister) error) {
	if s.persister == nil {
		return
	}
	p := s.persister
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("persister panicked", "panic", r)
			}
		}()
		if err := write(p); err != nil {
			s.logger.Warn("best-effort persistence failed", "error", err)
		}
	}()
}

func (s *Store) recoverInternal(op string) {
	if r := recover(); r != nil {
		s.logger.Error("telemetry store internal failure", "op", op, "panic", r)
	}
}

func statusGauge(status HealthStatus) float64 {
	switch status {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	default:
		return -1
	}
}
