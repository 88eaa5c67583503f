// ABOUTME: Entry point for the fingerprint background service engine
// ABOUTME: Wires config, store, device hub, broadcaster, and session coordinator

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/devkazuto/fingerprint-service/internal/capture"
	"github.com/devkazuto/fingerprint-service/internal/config"
	"github.com/devkazuto/fingerprint-service/internal/device"
	"github.com/devkazuto/fingerprint-service/internal/driver"
	"github.com/devkazuto/fingerprint-service/internal/enroll"
	"github.com/devkazuto/fingerprint-service/internal/events"
	"github.com/devkazuto/fingerprint-service/internal/match"
	"github.com/devkazuto/fingerprint-service/internal/session"
	"github.com/devkazuto/fingerprint-service/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
   __ _                                  _       _
  / _(_)_ __   __ _  ___ _ __ _ __  _ __(_)_ __ | |_
 | |_| | '_ \ / _' |/ _ \ '__| '_ \| '__| | '_ \| __|
 |  _| | | | | (_| |  __/ |  | |_) | |  | | | | | |_
 |_| |_|_| |_|\__, |\___|_|  | .__/|_|  |_|_| |_|\__|
              |___/          |_|
`

// getConfigPath returns the path to the service config file.
// Priority: FPSERVICE_CONFIG env var > XDG_CONFIG_HOME/fingerprint/service.yaml > ~/.config/fingerprint/service.yaml
func getConfigPath() string {
	if envPath := os.Getenv("FPSERVICE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "service.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "fingerprint", "service.yaml")
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func main() {
	color.Cyan(banner)
	fmt.Printf("fingerprint-service %s\n\n", version)

	// Optional .env for local development
	_ = godotenv.Load()

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		logger.Error("opening store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Driver selection. The simulated driver always backs the frame
	// source; a real USB HID shim would slot in here for physical
	// readers.
	sim := driver.NewSimulated()
	var drv driver.Driver = sim
	if cfg.Devices.Driver == "sourceafis" {
		drv = driver.NewSourceAFIS(sim, cfg.Quality.ConsistencyThreshold)
	}

	hub := device.NewHub(cfg.Capture.OperationTimeout, logger)
	for _, d := range cfg.Devices.Simulated {
		hub.Attach(device.Info{
			ID:     d.ID,
			Serial: d.Serial,
			Model:  d.Model,
			Capability: device.Capability{
				ResolutionDPI: 500,
				ImageWidth:    288,
				ImageHeight:   375,
			},
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBroadcaster(cfg.Events.HeartbeatInterval, cfg.Events.SubscriberTimeout, logger)
	go bus.Run(ctx)
	defer bus.Close()

	pipeline := capture.NewPipeline(drv, capture.Config{
		FingerTimeout:     cfg.Capture.FingerTimeout,
		EnrollmentMinimum: cfg.Quality.EnrollmentMinimum,
		MatchMinimum:      cfg.Quality.MatchMinimum,
	}, logger)

	enroller := enroll.NewOrchestrator(enroll.Config{
		Samples:           cfg.Enrollment.Samples,
		MinQuality:        cfg.Quality.EnrollmentMinimum,
		MaxRetriesPerSlot: cfg.Enrollment.MaxRetriesPerSlot,
		InterScanDelay:    cfg.Capture.InterScanDelay,
	}, drv, logger)

	engine := match.NewEngine(drv, logger)

	coordinator := session.NewCoordinator(hub, pipeline, enroller, engine, st, bus, session.Config{
		SessionTimeout:    cfg.Capture.OperationTimeout,
		CaptureRetries:    cfg.Enrollment.MaxRetriesPerSlot,
		VerifyThreshold:   cfg.Quality.VerifyThreshold,
		IdentifyThreshold: cfg.Quality.IdentifyThreshold,
	}, logger)

	logger.Info("engine ready",
		"devices", len(hub.List()),
		"driver", cfg.Devices.Driver,
		"database", cfg.Database.Path,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("shutting down", "signal", sig.String())
	coordinator.StopAll()
}
