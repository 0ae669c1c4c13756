// Package main drives synthetic dashboard components against a running
// monitoring-api server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/roof-guardian/monitoring-api/internal/loadgen"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "monitoring-api base URL")
	duration := flag.Duration("duration", 10*time.Minute, "how long to run (0 = until interrupted)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if *duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		cancel()
	}()

	components := loadgen.DefaultComponents()
	slog.Info("Starting simulator",
		"server", *serverURL,
		"components", len(components),
		"duration", duration.String(),
	)

	client := loadgen.NewClient(*serverURL, 5*time.Second)
	driver := loadgen.NewDriver(client, logger)
	driver.Run(ctx, components)

	slog.Info("Simulator finished")
}
