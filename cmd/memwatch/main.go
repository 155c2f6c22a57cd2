package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofrs/flock"

	"memwatch/internal/logging"
	"memwatch/internal/probe"
	"memwatch/internal/telemetry"
	"memwatch/pkg/config"
)

var (
	configPath = flag.String("config", "configs/memwatch.yaml", "Path to configuration file")
	instanceID = flag.String("instance-id", "", "Unique instance identifier")
	limitFlag  = flag.String("limit", "", "Memory limit override, e.g. 512MB (default: host-enforced limit)")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Early error before logging is initialized
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Override with command line flags
	if *instanceID != "" {
		cfg.Node.ID = *instanceID
	}
	if *limitFlag != "" {
		cfg.Monitor.MemoryLimit = *limitFlag
		if _, err := config.ParseSize(*limitFlag); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: Invalid -limit: %v\n", err)
			os.Exit(1)
		}
	}

	// Initialize structured logging system
	logger, err := logging.InitializeFromConfig(cfg.Node.ID, logging.LogConfig{
		Level:         cfg.Logging.Level,
		EnableConsole: cfg.Logging.EnableConsole,
		EnableFile:    cfg.Logging.EnableFile,
		LogFile:       cfg.Logging.LogFile,
		BufferSize:    cfg.Logging.BufferSize,
		LogDir:        cfg.Logging.LogDir,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	// Create context with correlation ID for startup
	startupCorrelationID := logging.NewCorrelationID()
	ctx := logging.WithCorrelationID(context.Background(), startupCorrelationID)

	logging.Info(ctx, logging.ComponentMain, logging.ActionStart, "memwatch starting", map[string]interface{}{
		"instance_id":  cfg.Node.ID,
		"config_file":  *configPath,
		"memory_limit": cfg.Monitor.MemoryLimit,
	})

	// Only one instance may sample per host; a second one would just burn
	// cycles reading the same counters.
	lock := flock.New(cfg.Node.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		logging.Fatal(ctx, logging.ComponentMain, logging.ActionStart, "failed to acquire instance lock", err)
		os.Exit(1)
	}
	if !locked {
		logging.Fatal(ctx, logging.ComponentMain, logging.ActionStart, "another memwatch instance holds the lock", nil, map[string]interface{}{
			"lock_file": cfg.Node.LockFile,
		})
		os.Exit(1)
	}
	defer lock.Unlock()

	// Wire the OS-backed collaborators
	provider, err := probe.NewSystemProvider(cfg.MemoryLimitBytes())
	if err != nil {
		logging.Fatal(ctx, logging.ComponentMain, logging.ActionStart, "failed to create memory provider", err)
		os.Exit(1)
	}

	var source telemetry.PressureSource
	if cfg.Monitor.PressureSource != "none" {
		watcher, err := probe.NewPressureWatcher(cfg.Monitor.PressureSource)
		if err != nil {
			logging.Fatal(ctx, logging.ComponentMain, logging.ActionStart, "failed to create pressure watcher", err)
			os.Exit(1)
		}
		source = watcher
	}

	monitor, err := telemetry.NewMonitor(telemetry.MonitorConfig{
		Provider: provider,
		Pressure: source,
	})
	if err != nil {
		logging.Fatal(ctx, logging.ComponentMain, logging.ActionStart, "failed to create monitor", err)
		os.Exit(1)
	}

	if err := monitor.Start(ctx); err != nil {
		logging.Fatal(ctx, logging.ComponentMain, logging.ActionStart, "failed to start monitor", err)
		os.Exit(1)
	}

	// Log every footprint movement at debug level
	sub := monitor.Subscribe(func(sample telemetry.MemorySample) {
		logging.Debug(ctx, logging.ComponentMain, logging.ActionDeliver, "memory footprint changed", map[string]interface{}{
			"used":      sample.Used,
			"remaining": sample.Remaining,
			"limit":     sample.Limit(),
			"state":     sample.State.String(),
			"pressure":  sample.Pressure.String(),
		})
	})
	defer sub.Cancel()

	// Consume the structured change stream and surface transitions
	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	go func() {
		for {
			select {
			case <-consumerCtx.Done():
				return
			case ev := <-monitor.Events():
				logging.Info(ctx, logging.ComponentMain, logging.ActionDeliver, "memory severity changed", map[string]interface{}{
					"changes":      ev.Changes.String(),
					"old_state":    ev.Old.State.String(),
					"new_state":    ev.New.State.String(),
					"old_pressure": ev.Old.Pressure.String(),
					"new_pressure": ev.New.Pressure.String(),
					"used":         ev.New.Used,
					"limit":        ev.New.Limit(),
				})
			}
		}
	}()

	// SIGHUP re-reads the config; only the log level can change at runtime.
	reloader := config.NewReloader(*configPath)
	reloader.OnReload(func(next *config.Config) {
		logger.SetLevel(logging.LogLevelFromString(next.Logging.Level))
		logging.Info(ctx, logging.ComponentConfig, logging.ActionReload, "configuration reloaded", map[string]interface{}{
			"log_level": next.Logging.Level,
		})
	})

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if _, err := reloader.Reload(); err != nil {
				logging.Warn(ctx, logging.ComponentConfig, logging.ActionReload, "config reload failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logging.Info(ctx, logging.ComponentMain, logging.ActionStop, "shutdown signal received", map[string]interface{}{
		"signal": sig.String(),
		"stats":  monitor.Stats(),
	})

	stopConsumer()
	monitor.Stop()
}
