// Package config handles application configuration: defaults, an optional
// YAML file, then environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roof-guardian/monitoring-api/internal/alerting"
	"github.com/roof-guardian/monitoring-api/internal/recovery"
	"github.com/roof-guardian/monitoring-api/internal/selfmon"
)

// Config holds the application configuration.
type Config struct {
	// Environment (development, production)
	Environment string `yaml:"environment"`

	// HTTP server address
	HTTPAddr string `yaml:"httpAddr"`

	// Log level: debug, info, warn, error
	LogLevel string `yaml:"logLevel"`

	Store       StoreConfig    `yaml:"store"`
	Health      HealthConfig   `yaml:"health"`
	Recovery    RecoveryConfig `yaml:"recovery"`
	Snapshot    SnapshotConfig `yaml:"snapshot"`
	Archive     ArchiveConfig  `yaml:"archive"`
	SelfMonitor SelfMonConfig  `yaml:"selfMonitor"`

	// Rules replaces the default alert rule registry when non-empty.
	Rules []alerting.Rule `yaml:"rules"`

	// Components pre-registers dashboard components at startup.
	Components []ComponentConfig `yaml:"components"`
}

// StoreConfig bounds the telemetry buffers.
type StoreConfig struct {
	ErrorCapacity         int `yaml:"errorCapacity"`
	MetricCapacity        int `yaml:"metricCapacity"`
	AlertCapacity         int `yaml:"alertCapacity"`
	AlertRateLimitMinutes int `yaml:"alertRateLimitMinutes"`
}

// HealthConfig holds health assessment thresholds.
type HealthConfig struct {
	IntervalSeconds    int      `yaml:"intervalSeconds"`
	RenderThresholdMs  float64  `yaml:"renderThresholdMs"`
	ErrorRateThreshold float64  `yaml:"errorRateThreshold"`
	MemoryThresholdMB  float64  `yaml:"memoryThresholdMb"`
	APIThresholdMs     float64  `yaml:"apiThresholdMs"`
	CriticalComponents []string `yaml:"criticalComponents"`
}

// RecoveryConfig tunes the recovery controller.
type RecoveryConfig struct {
	QueueSize               int `yaml:"queueSize"`
	AttemptCapacity         int `yaml:"attemptCapacity"`
	ExecutionTimeoutSeconds int `yaml:"executionTimeoutSeconds"`
}

// SnapshotConfig configures the best-effort local SQLite snapshot.
type SnapshotConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Keep    int    `yaml:"keep"`
}

// ArchiveConfig configures the optional snapshot archiver.
type ArchiveConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Backend         string `yaml:"backend"` // local, s3, minio
	IntervalMinutes int    `yaml:"intervalMinutes"`
	LocalPath       string `yaml:"localPath"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
}

// SelfMonConfig configures the process self-monitor.
type SelfMonConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"intervalSeconds"`
}

// ComponentConfig declares a dashboard component and its recovery actions.
// An empty action list means the default set.
type ComponentConfig struct {
	Name    string            `yaml:"name"`
	Actions []recovery.Action `yaml:"actions"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Environment: "development",
		HTTPAddr:    ":8080",
		LogLevel:    "info",
		Store: StoreConfig{
			ErrorCapacity:         100,
			MetricCapacity:        500,
			AlertCapacity:         50,
			AlertRateLimitMinutes: 5,
		},
		Health: HealthConfig{
			IntervalSeconds:    30,
			RenderThresholdMs:  50,
			ErrorRateThreshold: 0.1,
			MemoryThresholdMB:  150,
			APIThresholdMs:     2000,
			// The self-monitor's component is critical so its memory
			// telemetry is subject to the memory rule.
			CriticalComponents: []string{"PropertyTable", "InspectionScheduler", selfmon.ComponentName},
		},
		Recovery: RecoveryConfig{
			QueueSize:               32,
			AttemptCapacity:         200,
			ExecutionTimeoutSeconds: 30,
		},
		Snapshot: SnapshotConfig{
			Enabled: true,
			Path:    "monitoring_snapshot.db",
			Keep:    200,
		},
		Archive: ArchiveConfig{
			Enabled:         false,
			Backend:         "local",
			IntervalMinutes: 15,
			LocalPath:       "./archives",
			Region:          "us-east-1",
			Bucket:          "monitoring-snapshots",
		},
		SelfMonitor: SelfMonConfig{
			Enabled:         true,
			IntervalSeconds: 30,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// MONITOR_* environment variables, in that order. Declared rules and
// recovery actions are validated here so a bad config fails at startup.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	for _, rule := range cfg.Rules {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("config rules: %w", err)
		}
	}
	for _, comp := range cfg.Components {
		if comp.Name == "" {
			return nil, fmt.Errorf("config components: name is required")
		}
		for _, action := range comp.Actions {
			if err := action.Validate(); err != nil {
				return nil, fmt.Errorf("config component %s: %w", comp.Name, err)
			}
		}
	}

	switch cfg.Archive.Backend {
	case "local", "s3", "minio":
	default:
		return nil, fmt.Errorf("config archive: unknown backend %q", cfg.Archive.Backend)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Environment = getEnv("MONITOR_ENVIRONMENT", cfg.Environment)
	cfg.HTTPAddr = getEnv("MONITOR_HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = getEnv("MONITOR_LOG_LEVEL", cfg.LogLevel)

	cfg.Store.ErrorCapacity = getEnvInt("MONITOR_ERROR_CAPACITY", cfg.Store.ErrorCapacity)
	cfg.Store.MetricCapacity = getEnvInt("MONITOR_METRIC_CAPACITY", cfg.Store.MetricCapacity)
	cfg.Store.AlertCapacity = getEnvInt("MONITOR_ALERT_CAPACITY", cfg.Store.AlertCapacity)
	cfg.Store.AlertRateLimitMinutes = getEnvInt("MONITOR_ALERT_RATE_LIMIT_MINUTES", cfg.Store.AlertRateLimitMinutes)

	cfg.Health.IntervalSeconds = getEnvInt("MONITOR_HEALTH_INTERVAL_SECONDS", cfg.Health.IntervalSeconds)
	if v := os.Getenv("MONITOR_CRITICAL_COMPONENTS"); v != "" {
		cfg.Health.CriticalComponents = splitNonEmpty(v)
	}

	cfg.Snapshot.Enabled = getEnvBool("MONITOR_SNAPSHOT_ENABLED", cfg.Snapshot.Enabled)
	cfg.Snapshot.Path = getEnv("MONITOR_SNAPSHOT_PATH", cfg.Snapshot.Path)

	cfg.Archive.Enabled = getEnvBool("MONITOR_ARCHIVE_ENABLED", cfg.Archive.Enabled)
	cfg.Archive.Backend = getEnv("MONITOR_ARCHIVE_BACKEND", cfg.Archive.Backend)
	cfg.Archive.LocalPath = getEnv("MONITOR_ARCHIVE_LOCAL_PATH", cfg.Archive.LocalPath)
	cfg.Archive.Endpoint = getEnv("MONITOR_ARCHIVE_ENDPOINT", cfg.Archive.Endpoint)
	cfg.Archive.Region = getEnv("MONITOR_ARCHIVE_REGION", cfg.Archive.Region)
	cfg.Archive.Bucket = getEnv("MONITOR_ARCHIVE_BUCKET", cfg.Archive.Bucket)
	cfg.Archive.AccessKeyID = getEnv("MONITOR_ARCHIVE_ACCESS_KEY_ID", cfg.Archive.AccessKeyID)
	cfg.Archive.SecretAccessKey = getEnv("MONITOR_ARCHIVE_SECRET_ACCESS_KEY", cfg.Archive.SecretAccessKey)

	cfg.SelfMonitor.Enabled = getEnvBool("MONITOR_SELFMON_ENABLED", cfg.SelfMonitor.Enabled)
}

func splitNonEmpty(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
