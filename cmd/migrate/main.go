package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/frostdev-ops/pma-sensor-core/internal/config"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/directory"
	"github.com/frostdev-ops/pma-sensor-core/internal/database"
	"github.com/frostdev-ops/pma-sensor-core/pkg/logger"
)

const usage = `Usage: migrate [-config path] <command>

Commands:
  up             apply pending migrations
  down           roll back every migration
  version        print the applied schema version
  import <file>  load a YAML or JSON device list into the directory table
`

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load configuration:", err)
		os.Exit(1)
	}
	log := logger.New(logger.Options{
		Level:  cfg.Logging.Level,
		Format: "text",
		Output: "stderr",
	})

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("Failed to open database")
	}
	defer db.Close()

	path := cfg.Database.MigrationsPath
	switch flag.Arg(0) {
	case "up":
		if err := database.Migrate(db, path); err != nil {
			log.WithError(err).Fatal("Migration failed")
		}
		log.Info("Migrations applied successfully")

	case "down":
		if err := database.MigrateDown(db, path); err != nil {
			log.WithError(err).Fatal("Rollback failed")
		}
		log.Info("Migrations rolled back successfully")

	case "version":
		version, dirty, err := database.MigrationVersion(db, path)
		if err != nil {
			log.WithError(err).Fatal("Failed to read version")
		}
		fmt.Printf("version %d (dirty: %t)\n", version, dirty)

	case "import":
		if flag.NArg() < 2 {
			flag.Usage()
			os.Exit(2)
		}
		if err := database.Migrate(db, path); err != nil {
			log.WithError(err).Fatal("Migration failed")
		}
		devices, err := directory.ReadFile(flag.Arg(1))
		if err != nil {
			log.WithError(err).Fatal("Failed to read device file")
		}
		repo := database.NewDeviceRepository(db, log.Logger)
		if err := repo.UpsertAll(context.Background(), devices); err != nil {
			log.WithError(err).Fatal("Import failed")
		}
		log.WithField("devices", len(devices)).Info("Devices imported")

	default:
		flag.Usage()
		os.Exit(2)
	}
}
