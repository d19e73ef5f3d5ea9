// Command winstatd runs the winstat service: telemetry sources feed
// per-series sliding windows whose statistics are served over HTTP,
// streamed over WebSocket and exported to Prometheus.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/HerbHall/winstat/internal/cache"
	"github.com/HerbHall/winstat/internal/config"
	"github.com/HerbHall/winstat/internal/event"
	"github.com/HerbHall/winstat/internal/insight"
	"github.com/HerbHall/winstat/internal/mqtt"
	"github.com/HerbHall/winstat/internal/probe"
	"github.com/HerbHall/winstat/internal/registry"
	"github.com/HerbHall/winstat/internal/server"
	"github.com/HerbHall/winstat/internal/store"
	"github.com/HerbHall/winstat/internal/version"
	"github.com/HerbHall/winstat/internal/ws"
	"github.com/HerbHall/winstat/pkg/plugin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Println(version.Info())
		return
	}

	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Load configuration (before logger, so log level/format can be configured).
	viperCfg, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(viperCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(viperCfg, logger); err != nil {
		logger.Error("winstat server failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(viperCfg *viper.Viper, logger *zap.Logger) error {
	cfg := config.New(viperCfg)
	logger.Info("winstat server starting", zap.String("version", version.Short()))

	if f := viperCfg.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded",
			zap.String("component", "config"),
			zap.String("source", f),
		)
	} else {
		logger.Warn("no configuration file found, using defaults",
			zap.String("component", "config"),
		)
	}

	var srvCfg server.Config
	if err := viperCfg.UnmarshalKey("server", &srvCfg); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open database
	dbPath := viperCfg.GetString("database.path")
	if dir := filepath.Dir(dbPath); dir != "." && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := store.New(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.CheckVersion(ctx, version.Short()); err != nil {
		return err
	}
	logger.Info("database initialized",
		zap.String("component", "database"),
		zap.String("path", dbPath),
	)

	bus := event.NewBus(logger.Named("event"))

	// Optional snapshot cache.
	var cacheCfg cache.Config
	if err := viperCfg.UnmarshalKey("cache.redis", &cacheCfg); err != nil {
		return fmt.Errorf("cache config: %w", err)
	}
	var insightOpts []insight.Option
	var extraRoutes []server.RouteRegistrar
	if cacheCfg.Enabled() {
		if err := cacheCfg.Validate(); err != nil {
			return err
		}
		snapshots := cache.New(cacheCfg)
		defer snapshots.Close()

		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := snapshots.Ping(pingCtx); err != nil {
			logger.Warn("redis not reachable, cache writes will be retried per update",
				zap.String("component", "cache"),
				zap.String("addr", cacheCfg.Addr),
				zap.Error(err),
			)
		}
		pingCancel()

		insightOpts = append(insightOpts, insight.WithCache(snapshots))
		extraRoutes = append(extraRoutes, cache.NewHandler(snapshots, logger.Named("cache")))
		logger.Info("snapshot cache enabled",
			zap.String("component", "cache"),
			zap.String("addr", cacheCfg.Addr),
		)
	}

	// Register plugins (compile-time composition)
	reg := registry.New(logger.Named("registry"))
	analyticsModule := insight.New(insightOpts...)
	modules := []plugin.Plugin{analyticsModule}
	if viperCfg.GetBool("plugins.probe.enabled") {
		modules = append(modules, probe.New())
	}
	if viperCfg.GetBool("plugins.mqtt.enabled") {
		modules = append(modules, mqtt.New())
	}
	for _, m := range modules {
		if err := reg.Register(m); err != nil {
			return fmt.Errorf("register plugin: %w", err)
		}
	}

	// Validate dependency graph and API versions
	if err := reg.Validate(); err != nil {
		return fmt.Errorf("plugin validation: %w", err)
	}

	if err := reg.InitAll(ctx, func(name string) plugin.Dependencies {
		return plugin.Dependencies{
			Config:  cfg.Sub("plugins." + name),
			Logger:  logger.Named(name),
			Store:   db,
			Bus:     bus,
			Plugins: reg,
		}
	}); err != nil {
		return fmt.Errorf("initialize plugins: %w", err)
	}

	if err := reg.StartAll(ctx); err != nil {
		return fmt.Errorf("start plugins: %w", err)
	}

	// WebSocket stream of window updates
	wsHandler := ws.NewHandler(bus, analyticsModule, logger.Named("ws"), viperCfg.GetStringSlice("server.ws_origins")...)
	defer wsHandler.Close()
	extraRoutes = append(extraRoutes, wsHandler)

	readyCheck := server.ReadinessChecker(func(ctx context.Context) error {
		return db.Ping(ctx)
	})
	srv := server.New(srvCfg, reg, logger, readyCheck, extraRoutes...)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	logger.Info("winstat server ready", zap.String("addr", srvCfg.Addr()))

	// Wait for shutdown signal or server failure
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case runErr = <-errCh:
		logger.Error("server error", zap.Error(runErr))
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	reg.StopAll(shutdownCtx)
	if err := bus.Wait(shutdownCtx); err != nil {
		logger.Warn("event handlers still running at shutdown", zap.Error(err))
	}

	logger.Info("winstat server stopped")
	return runErr
}
