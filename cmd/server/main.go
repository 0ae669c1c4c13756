// Package main is the entry point for the monitoring-api server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roof-guardian/monitoring-api/internal/alerting"
	"github.com/roof-guardian/monitoring-api/internal/api/rest"
	"github.com/roof-guardian/monitoring-api/internal/api/ws"
	"github.com/roof-guardian/monitoring-api/internal/config"
	"github.com/roof-guardian/monitoring-api/internal/health"
	"github.com/roof-guardian/monitoring-api/internal/recovery"
	"github.com/roof-guardian/monitoring-api/internal/scheduler"
	"github.com/roof-guardian/monitoring-api/internal/selfmon"
	"github.com/roof-guardian/monitoring-api/internal/storage"
	"github.com/roof-guardian/monitoring-api/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting monitoring-api", "environment", cfg.Environment)

	// Best-effort local snapshot persistence.
	var persister telemetry.Persister
	var snapshot *storage.SnapshotStore
	if cfg.Snapshot.Enabled {
		snapshot, err = storage.OpenSnapshot(cfg.Snapshot.Path, cfg.Snapshot.Keep)
		if err != nil {
			// Non-authoritative storage: degrade, don't die.
			slog.Warn("Snapshot store unavailable, continuing without persistence", "error", err)
		} else {
			persister = snapshot
		}
	}

	store := telemetry.NewStore(telemetry.Config{
		ErrorCapacity:  cfg.Store.ErrorCapacity,
		MetricCapacity: cfg.Store.MetricCapacity,
		AlertCapacity:  cfg.Store.AlertCapacity,
		AlertRateLimit: time.Duration(cfg.Store.AlertRateLimitMinutes) * time.Minute,
	}, persister, logger)

	// Opportunistic read-back of the previous run's snapshot.
	if snapshot != nil {
		reports, err := snapshot.RecentErrors(cfg.Store.ErrorCapacity)
		if err != nil {
			slog.Warn("Failed to read persisted errors", "error", err)
		}
		alerts, err := snapshot.RecentAlerts(cfg.Store.AlertCapacity)
		if err != nil {
			slog.Warn("Failed to read persisted alerts", "error", err)
		}
		store.Seed(reports, alerts)
		slog.Info("Seeded store from snapshot", "errors", len(reports), "alerts", len(alerts))
	}

	sched := scheduler.New(logger)

	assessor := health.NewAssessor(store, sched, health.Config{
		Interval:           time.Duration(cfg.Health.IntervalSeconds) * time.Second,
		RenderThreshold:    cfg.Health.RenderThresholdMs,
		ErrorRateThreshold: cfg.Health.ErrorRateThreshold,
		MemoryThreshold:    cfg.Health.MemoryThresholdMB,
		APIThreshold:       cfg.Health.APIThresholdMs,
		CriticalComponents: cfg.Health.CriticalComponents,
	}, logger)

	engine := alerting.NewEngine(store, alerting.NewLogNotifier(logger), logger)
	if len(cfg.Rules) > 0 {
		for _, rule := range engine.Rules() {
			_ = engine.RemoveRule(rule.ID)
		}
		for _, rule := range cfg.Rules {
			if err := engine.AddRule(rule); err != nil {
				slog.Error("Failed to load alert rule", "rule", rule.ID, "error", err)
				os.Exit(1)
			}
		}
	}

	controller := recovery.NewController(store, recovery.Config{
		QueueSize:        cfg.Recovery.QueueSize,
		AttemptCapacity:  cfg.Recovery.AttemptCapacity,
		ExecutionTimeout: time.Duration(cfg.Recovery.ExecutionTimeoutSeconds) * time.Second,
	}, logger)

	for _, comp := range cfg.Components {
		if err := controller.RegisterComponent(comp.Name, comp.Actions); err != nil {
			slog.Error("Failed to register component", "component", comp.Name, "error", err)
			os.Exit(1)
		}
		assessor.RegisterComponent(comp.Name)
	}

	engine.Start()
	controller.Start()
	assessor.Start()

	var selfMonitor *selfmon.Monitor
	if cfg.SelfMonitor.Enabled {
		selfMonitor, err = selfmon.New(store, time.Duration(cfg.SelfMonitor.IntervalSeconds)*time.Second, logger)
		if err != nil {
			slog.Warn("Self-monitor unavailable", "error", err)
		} else {
			selfMonitor.Start(sched)
			// Assessed like any dashboard component; critical by
			// default so the memory rule applies to it.
			assessor.RegisterComponent(selfmon.ComponentName)
		}
	}

	if cfg.Archive.Enabled {
		archiver, err := storage.NewArchiver(storage.ArchiverConfig{
			Backend:         storage.Backend(cfg.Archive.Backend),
			LocalPath:       cfg.Archive.LocalPath,
			Endpoint:        cfg.Archive.Endpoint,
			Region:          cfg.Archive.Region,
			Bucket:          cfg.Archive.Bucket,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
		}, store, logger)
		if err != nil {
			slog.Error("Failed to initialize archiver", "error", err)
			os.Exit(1)
		}
		interval := time.Duration(cfg.Archive.IntervalMinutes) * time.Minute
		sched.Schedule("archiver", interval, func(ctx context.Context) {
			if err := archiver.Archive(ctx); err != nil {
				slog.Warn("Snapshot archive failed", "error", err)
			}
		})
	}

	if snapshot != nil {
		sched.Schedule("snapshot-prune", time.Hour, func(ctx context.Context) {
			if err := snapshot.CutoffPrune(24 * time.Hour); err != nil {
				slog.Warn("Snapshot prune failed", "error", err)
			}
		})
	}

	hub := ws.NewHub(logger)
	hub.Attach(store)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	handlers := rest.NewHandlers(store, engine, assessor, controller, hub, logger)
	handlers.RegisterRoutes(router)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("Starting HTTP server", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	hub.Detach()
	assessor.Stop()
	engine.Stop()
	controller.Stop() // drains the recovery queue
	sched.Stop()
	if snapshot != nil {
		if err := snapshot.Close(); err != nil {
			slog.Warn("Snapshot store close error", "error", err)
		}
	}

	slog.Info("Shutdown complete")
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
