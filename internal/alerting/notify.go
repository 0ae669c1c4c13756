package alerting

import (
	"log/slog"

	"github.com/roof-guardian/monitoring-api/internal/telemetry"
)

// Notifier delivers a fired alert over the configured channels. Email and
// Webhook are stubs; their real transport lives outside this service.
type Notifier interface {
	Toast(alert telemetry.Alert)
	Console(alert telemetry.Alert)
	Email(alert telemetry.Alert)
	Webhook(alert telemetry.Alert)
	AudibleCue(alert telemetry.Alert)
}

// LogNotifier is the default Notifier. Every channel renders as a structured
// log line; the dashboard picks toasts up over the WebSocket feed instead.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Toast(alert telemetry.Alert) {
	n.logger.Info("alert toast",
		"alert_id", alert.ID,
		"severity", alert.Severity,
		"title", alert.Title,
		"component", alert.ComponentName,
	)
}

func (n *LogNotifier) Console(alert telemetry.Alert) {
	n.logger.Warn("alert",
		"alert_id", alert.ID,
		"type", alert.Type,
		"severity", alert.Severity,
		"title", alert.Title,
		"message", alert.Message,
		"component", alert.ComponentName,
	)
}

func (n *LogNotifier) Email(alert telemetry.Alert) {
	// Stub: transport is an external collaborator.
	n.logger.Info("alert email queued",
		"alert_id", alert.ID,
		"severity", alert.Severity,
		"title", alert.Title,
	)
}

func (n *LogNotifier) Webhook(alert telemetry.Alert) {
	// Stub: transport is an external collaborator.
	n.logger.Info("alert webhook queued",
		"alert_id", alert.ID,
		"severity", alert.Severity,
		"title", alert.Title,
	)
}

func (n *LogNotifier) AudibleCue(alert telemetry.Alert) {
	n.logger.Info("alert audible cue",
		"alert_id", alert.ID,
		"severity", alert.Severity,
	)
}

// NopNotifier discards all notifications. Used in tests and when the engine
// runs headless.
type NopNotifier struct{}

func (NopNotifier) Toast(telemetry.Alert)      {}
func (NopNotifier) Console(telemetry.Alert)    {}
func (NopNotifier) Email(telemetry.Alert)      {}
func (NopNotifier) Webhook(telemetry.Alert)    {}
func (NopNotifier) AudibleCue(telemetry.Alert) {}
