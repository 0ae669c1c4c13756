package loadgen

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/roof-guardian/monitoring-api/internal/telemetry"
)

// Scenario scripts how a synthetic component degrades over time.
type Scenario string

const (
	ScenarioSteady            Scenario = "steady"
	ScenarioRenderDegradation Scenario = "render-degradation"
	ScenarioErrorBurst        Scenario = "error-burst"
	ScenarioAPISlowdown       Scenario = "api-slowdown"
	ScenarioMemoryClimb       Scenario = "memory-climb"
)

// Component is one synthetic dashboard component.
type Component struct {
	Name     string
	Scenario Scenario
	Interval time.Duration
}

// DefaultComponents returns the stock simulation set, one component per
// scenario.
func DefaultComponents() []Component {
	return []Component{
		{Name: "PropertyTable", Scenario: ScenarioRenderDegradation, Interval: 2 * time.Second},
		{Name: "InspectionScheduler", Scenario: ScenarioErrorBurst, Interval: 3 * time.Second},
		{Name: "ContactsPanel", Scenario: ScenarioSteady, Interval: 2 * time.Second},
		{Name: "WorkOrderBoard", Scenario: ScenarioAPISlowdown, Interval: 4 * time.Second},
		{Name: "PhotoGallery", Scenario: ScenarioMemoryClimb, Interval: 5 * time.Second},
	}
}

// Driver runs all components until the context is cancelled.
type Driver struct {
	client *Client
	logger *slog.Logger
	rng    *rand.Rand
	rngMu  sync.Mutex
}

// NewDriver creates a scenario driver.
func NewDriver(client *Client, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		client: client,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run registers each component, then drives its scenario until ctx ends.
func (d *Driver) Run(ctx context.Context, components []Component) {
	var wg sync.WaitGroup
	for _, comp := range components {
		if err := d.client.RegisterComponent(ctx, comp.Name); err != nil {
			d.logger.Warn("component registration failed", "component", comp.Name, "error", err)
		}
		wg.Add(1)
		go func(comp Component) {
			defer wg.Done()
			d.runComponent(ctx, comp)
		}(comp)
	}
	wg.Wait()
}

func (d *Driver) runComponent(ctx context.Context, comp Component) {
	interval := comp.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			d.step(ctx, comp, time.Since(start), tick)
		}
	}
}

// step emits one round of telemetry. Degradation scenarios worsen with
// elapsed time so health transitions and recovery triggers become visible
// within a few minutes.
func (d *Driver) step(ctx context.Context, comp Component, elapsed time.Duration, tick int) {
	minutes := elapsed.Minutes()

	switch comp.Scenario {
	case ScenarioSteady:
		d.reportRender(ctx, comp.Name, 15+d.jitter(10))

	case ScenarioRenderDegradation:
		// Starts healthy, crosses the degraded threshold around minute 1
		// and the unhealthy threshold around minute 3.
		d.reportRender(ctx, comp.Name, 30+minutes*40+d.jitter(15))

	case ScenarioErrorBurst:
		d.reportRender(ctx, comp.Name, 20+d.jitter(10))
		if tick%3 == 0 {
			d.reportError(ctx, comp.Name, "timeout error while loading inspection slots")
		}

	case ScenarioAPISlowdown:
		d.reportRender(ctx, comp.Name, 25+d.jitter(10))
		d.reportAPI(ctx, comp.Name, 500+minutes*800+d.jitter(200))

	case ScenarioMemoryClimb:
		d.reportRender(ctx, comp.Name, 20+d.jitter(10))
		d.reportMemory(ctx, comp.Name, 60+minutes*30+d.jitter(5))
	}
}

func (d *Driver) reportRender(ctx context.Context, name string, ms float64) {
	d.report(ctx, telemetry.PerformanceMetric{
		ComponentName: name,
		MetricType:    telemetry.MetricTypeRender,
		Value:         ms,
	})
}

func (d *Driver) reportAPI(ctx context.Context, name string, ms float64) {
	d.report(ctx, telemetry.PerformanceMetric{
		ComponentName: name,
		MetricType:    telemetry.MetricTypeAPI,
		Value:         ms,
	})
}

func (d *Driver) reportMemory(ctx context.Context, name string, mb float64) {
	d.report(ctx, telemetry.PerformanceMetric{
		ComponentName: name,
		MetricType:    telemetry.MetricTypeMemory,
		Value:         mb,
	})
}

func (d *Driver) report(ctx context.Context, metric telemetry.PerformanceMetric) {
	if err := d.client.ReportMetric(ctx, metric); err != nil {
		d.logger.Warn("metric report failed", "component", metric.ComponentName, "error", err)
	}
}

func (d *Driver) reportError(ctx context.Context, name, message string) {
	err := d.client.ReportError(ctx, telemetry.ErrorReport{
		ComponentName: name,
		Message:       message,
		Level:         telemetry.ErrorLevelComponent,
		URL:           "https://dashboard.local/" + name,
		UserAgent:     "loadgen-simulator",
	})
	if err != nil {
		d.logger.Warn("error report failed", "component", name, "error", err)
	}
}

func (d *Driver) jitter(max float64) float64 {
	d.rngMu.Lock()
	defer d.rngMu.Unlock()
	return d.rng.Float64() * max
}
