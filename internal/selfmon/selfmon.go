// Package selfmon reports the monitoring service's own memory usage as
// ordinary telemetry, so the health assessor's memory rule also covers the
// control loop itself.
package selfmon

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/roof-guardian/monitoring-api/internal/scheduler"
	"github.com/roof-guardian/monitoring-api/internal/telemetry"
)

// ComponentName is the component the self-monitor reports as.
const ComponentName = "MonitoringService"

// Monitor samples the service process and reports memory metrics.
type Monitor struct {
	store    *telemetry.Store
	proc     *process.Process
	interval time.Duration
	logger   *slog.Logger
}

// New creates a self-monitor for the current process.
func New(store *telemetry.Store, interval time.Duration, logger *slog.Logger) (*Monitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Monitor{store: store, proc: proc, interval: interval, logger: logger}, nil
}

// Start schedules periodic sampling on the shared scheduler.
func (m *Monitor) Start(sched *scheduler.Scheduler) {
	sched.Schedule("selfmon", m.interval, m.sample)
}

// Stop cancels the sampling task.
func (m *Monitor) Stop(sched *scheduler.Scheduler) {
	sched.Cancel("selfmon")
}

func (m *Monitor) sample(ctx context.Context) {
	info, err := m.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		m.logger.Warn("self-monitor memory sample failed", "error", err)
		return
	}

	rssMB := float64(info.RSS) / (1024 * 1024)
	m.store.ReportMetric(telemetry.PerformanceMetric{
		ComponentName: ComponentName,
		MetricType:    telemetry.MetricTypeMemory,
		Value:         rssMB,
		Metadata: map[string]interface{}{
			"vmsBytes": info.VMS,
		},
	})
}
