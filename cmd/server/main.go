package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/frostdev-ops/pma-sensor-core/internal/adapters/miniserver"
	"github.com/frostdev-ops/pma-sensor-core/internal/api"
	"github.com/frostdev-ops/pma-sensor-core/internal/api/handlers"
	"github.com/frostdev-ops/pma-sensor-core/internal/config"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/cache"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/directory"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/metrics"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/parsers"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/resolver"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/sensors"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/state"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/types"
	"github.com/frostdev-ops/pma-sensor-core/internal/database"
	"github.com/frostdev-ops/pma-sensor-core/internal/websocket"
	"github.com/frostdev-ops/pma-sensor-core/pkg/logger"
	"github.com/frostdev-ops/pma-sensor-core/pkg/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const primeTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load configuration:", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
		File:   cfg.Logging.File,
	})
	log.WithField("version", version.GetFullVersion()).Info("Starting PMA sensor core")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("Server failed")
	}
	log.Info("Server exited")
}

func run(ctx context.Context, cfg *config.Config, log *logger.BatchLogger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var collector *metrics.PrometheusCollector
	if cfg.Monitoring.Metrics.Enabled {
		collector = metrics.NewPrometheusCollector(&cfg.Monitoring.Metrics, registry)
	}

	client := miniserver.NewClient(cfg.Miniserver, log.Logger)

	dir, closeDir, err := buildDirectory(ctx, cfg, client, log.Logger)
	if err != nil {
		return err
	}
	defer closeDir()

	sensorRegistry := sensors.NewRegistry(nil, log.Logger)
	for _, mapping := range cfg.Sensors.ExplicitMappings {
		kind, _ := types.ParseSensorKind(mapping.Kind)
		if err := sensorRegistry.SetExplicitMapping(mapping.UUID, types.NewSensorType(kind)); err != nil {
			return fmt.Errorf("invalid explicit mapping for %s: %w", mapping.UUID, err)
		}
	}

	cacheManager := cache.NewManager(cfg.Cache, log.Logger, cache.WithMetrics(collector))
	valueResolver := resolver.New(dir, sensorRegistry, parsers.NewDefaultRegistry(log.Logger),
		cacheManager, client, log.Logger, resolver.WithMetrics(collector))

	stateManager := state.NewManager(cfg.State, valueResolver, dir, log.Logger,
		state.WithMetrics(collector),
		state.WithMaintenance("purge_cache", cacheManager.Config().DeviceStateTTL, func() {
			if n := cacheManager.PurgeExpired(); n > 0 {
				log.WithField("purged", n).Debug("Expired cache entries purged")
			}
		}),
	)
	if err := stateManager.Start(); err != nil {
		return fmt.Errorf("failed to start state manager: %w", err)
	}
	defer stateManager.Stop()

	prime(ctx, stateManager, dir, log.Logger)

	hub := websocket.NewHub(stateManager, cfg.WebSocket, cfg.Security.AllowedOrigins, log.Logger, collector)
	h := handlers.NewHandlers(handlers.Dependencies{
		State:     stateManager,
		Values:    valueResolver,
		Cache:     cacheManager,
		Sensors:   sensorRegistry,
		Directory: dir,
		Hub:       hub,
		Logger:    log.Logger,
	})
	router := api.NewRouter(cfg, h, log, collector, registry)

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.WithField("addr", srv.Addr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	log.FlushPending()
	return err
}

// buildDirectory loads the device directory from the configured source. The
// returned func releases its resources.
func buildDirectory(ctx context.Context, cfg *config.Config, client *miniserver.Client, log *logrus.Logger) (directory.Directory, func(), error) {
	noop := func() {}

	switch cfg.Directory.Source {
	case config.DirectorySourceSQLite:
		db, err := database.Open(cfg.Database)
		if err != nil {
			return nil, noop, err
		}
		closeDB := func() { db.Close() }

		if cfg.Database.Migration.Enabled && cfg.Database.Migration.AutoMigrate {
			if err := database.Migrate(db, cfg.Database.MigrationsPath); err != nil {
				closeDB()
				return nil, noop, err
			}
		}

		repo := database.NewDeviceRepository(db, log)
		if cfg.Directory.Import != "" {
			devices, err := directory.ReadFile(cfg.Directory.Import)
			if err != nil {
				closeDB()
				return nil, noop, fmt.Errorf("failed to read directory import: %w", err)
			}
			if err := repo.UpsertAll(ctx, devices); err != nil {
				closeDB()
				return nil, noop, err
			}
			log.WithField("devices", len(devices)).Info("Directory import applied")
		}

		dir := directory.NewRefreshing(repo.Load, cfg.Cache.StructureTTL, cfg.Cache.RoomTTL, log)
		if err := dir.Refresh(ctx); err != nil {
			closeDB()
			return nil, noop, fmt.Errorf("failed to load directory from database: %w", err)
		}
		return dir, closeDB, nil

	case config.DirectorySourceMiniserver:
		dir := directory.NewRefreshing(client.LoadStructure, cfg.Cache.StructureTTL, cfg.Cache.RoomTTL, log)
		if err := dir.Refresh(ctx); err != nil {
			return nil, noop, fmt.Errorf("failed to load miniserver structure: %w", err)
		}
		return dir, noop, nil

	default:
		dir, err := directory.LoadFile(cfg.Directory.File)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to load directory file: %w", err)
		}
		log.WithField("devices", dir.Len()).Info("Directory loaded from file")
		return dir, noop, nil
	}
}

// prime resolves every known device once so queries have state from the start
func prime(ctx context.Context, manager *state.Manager, dir directory.Directory, log *logrus.Logger) {
	devices := dir.Devices()
	uuids := make([]string, 0, len(devices))
	for _, d := range devices {
		uuids = append(uuids, d.UUID)
	}
	if len(uuids) == 0 {
		log.Warn("Directory is empty, nothing to prime")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, primeTimeout)
	defer cancel()

	events, err := manager.Refresh(ctx, uuids)
	if err != nil {
		log.WithError(err).Warn("Initial device resolution failed, states fill in as devices report")
		return
	}
	log.WithFields(logrus.Fields{
		"devices": len(uuids),
		"events":  len(events),
	}).Info("Device states primed")
}
