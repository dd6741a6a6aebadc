// Package main provides the trackerd daemon - one replica of the federated
// file tracker.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peerloom/trackerd/internal/bootstrap"
	"github.com/peerloom/trackerd/internal/broadcast"
	"github.com/peerloom/trackerd/internal/config"
	"github.com/peerloom/trackerd/internal/events"
	"github.com/peerloom/trackerd/internal/httpapi"
	"github.com/peerloom/trackerd/internal/store"
	"github.com/peerloom/trackerd/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile     = flag.String("config", config.DefaultConfigFile, "Config file path (TOML)")
		initialTracker = flag.String("initial-tracker", "", "Initial tracker IP to bootstrap from, or 'none'")
		showVersion    = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.GetDefault()

	if *showVersion {
		log.Infof("trackerd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Warn("Using default settings", "config", *configFile, "reason", err)
	} else {
		log.Info("Config loaded", "path", *configFile)
	}
	settings := cfg.Settings

	level := "info"
	if settings.DebugMode {
		level = "debug"
	}
	log = logging.New(&logging.Config{Level: level, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage
	st, err := store.New(&store.Config{DBPath: settings.DBPath})
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer st.Close()
	log.Info("Storage initialized", "path", st.Path())

	// Join the federation (or run standalone) before serving
	if err := bootstrap.Run(st, bootstrap.Config{
		InitialTracker: strings.ToLower(*initialTracker),
		Port:           settings.ServerPort,
	}); err != nil {
		log.Fatal("Bootstrap failed", "error", err)
	}

	// Outbound replication
	bcastCfg := broadcast.DefaultConfig()
	bcastCfg.Port = settings.ServerPort
	bcastCfg.WorkerCount = settings.BroadcastThreadCount
	bcastCfg.MaxFailures = settings.MaxTrackerFailures
	bcaster := broadcast.New(st, bcastCfg)
	bcaster.Start()
	defer bcaster.Stop()

	// Live event feed for observers
	hub := events.NewHub()
	go hub.Run(ctx)

	// HTTP surface
	srv := httpapi.New(st, bcaster, hub, httpapi.Config{
		Addr:             fmt.Sprintf(":%d", settings.ServerPort),
		KeepAliveTimeout: settings.KeepaliveTimeoutDuration(),
	})
	if err := srv.Start(); err != nil {
		log.Fatal("Failed to start HTTP surface", "error", err)
	}

	printBanner(log, &settings)

	// Wait for an interrupt, or for a sibling to tell us we're dead
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Shutting down...", "signal", sig)
	case <-bcaster.ShutdownRequested():
		log.Error("Evicted from a sibling's tracker set, shutting down")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping HTTP surface", "error", err)
	}

	log.Info("Goodbye!")
}

func printBanner(log *logging.Logger, settings *config.Settings) {
	log.Info("")
	log.Info("=================================================")
	log.Infof("  Peerloom Tracker (v%s)", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  API: http://0.0.0.0:%d", settings.ServerPort)
	log.Infof("  WS:  ws://0.0.0.0:%d/events", settings.ServerPort)
	log.Info("")
	log.Infof("  DB: %s | keepalive: %ds | workers: %d | max failures: %d",
		settings.DBPath, settings.KeepaliveTimeout,
		settings.BroadcastThreadCount, settings.MaxTrackerFailures)
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
