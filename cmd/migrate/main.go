package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/erp/agency/internal/infrastructure/config"
	"github.com/erp/agency/internal/infrastructure/logger"
	"github.com/erp/agency/internal/infrastructure/migration"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func main() {
	var (
		target   string
		logLevel string
	)

	flag.StringVar(&target, "target", "local", "Store to migrate (local, remote)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	command := args[0]

	log, err := logger.New(&logger.Config{
		Level:      logLevel,
		Format:     "console",
		Output:     "stdout",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	db, m, err := open(target, cfg, log)
	if err != nil {
		log.Fatal("Failed to create migrator", zap.String("target", target), zap.Error(err))
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Warn("Failed to close migrator", zap.Error(err))
		}
		_ = db.Close()
	}()

	log = log.With(zap.String("target", target))

	switch command {
	case "up":
		if err := m.Up(); err != nil {
			log.Fatal("Migration up failed", zap.Error(err))
		}

	case "down":
		if err := m.Down(); err != nil {
			log.Fatal("Migration down failed", zap.Error(err))
		}

	case "step":
		if len(args) < 2 {
			log.Fatal("Number of steps required. Usage: migrate step <n>")
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			log.Fatal("Invalid step count", zap.String("value", args[1]))
		}
		if err := m.Steps(n); err != nil {
			log.Fatal("Migration step failed", zap.Int("steps", n), zap.Error(err))
		}

	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			log.Fatal("Failed to read version", zap.Error(err))
		}
		if version == 0 {
			log.Info("No migrations applied")
		} else {
			log.Info("Current migration version",
				zap.Uint("version", version),
				zap.Bool("dirty", dirty),
			)
		}

	case "force":
		if len(args) < 2 {
			log.Fatal("Version required. Usage: migrate force <version>")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			log.Fatal("Invalid version number", zap.String("value", args[1]))
		}
		log.Warn("Forcing migration version - use with caution!")
		if err := m.Force(version); err != nil {
			log.Fatal("Force version failed", zap.Error(err))
		}

	default:
		log.Error("Unknown command", zap.String("command", command))
		printUsage()
		os.Exit(1)
	}
}

// open connects to the selected store and builds its migrator
func open(target string, cfg *config.Config, log *zap.Logger) (*sql.DB, *migration.Migrator, error) {
	switch target {
	case "local":
		if dir := filepath.Dir(cfg.LocalStore.Path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, nil, fmt.Errorf("failed to create local store directory: %w", err)
			}
		}
		db, err := sql.Open("sqlite3", cfg.LocalStore.Path)
		if err != nil {
			return nil, nil, err
		}
		m, err := migration.NewLocal(db, log)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return db, m, nil
	case "remote":
		db, err := sql.Open("postgres", cfg.Remote.DSN())
		if err != nil {
			return nil, nil, err
		}
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("remote store unreachable: %w", err)
		}
		m, err := migration.NewRemote(db, log)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return db, m, nil
	default:
		return nil, nil, fmt.Errorf("unknown target %q", target)
	}
}

func printUsage() {
	fmt.Println(`Agency Schema Migration Tool

Usage:
  migrate [flags] <command> [arguments]

Commands:
  up                    Apply all pending migrations
  down                  Roll back all migrations
  step <n>              Apply n migrations (positive=up, negative=down)
  version               Show current migration version
  force <version>       Force set migration version (use with caution)

Flags:
  -target string        Store to migrate: local or remote (default: local)
  -log-level string     Log level: debug, info, warn, error (default: info)

Environment Variables:
  AGENCY_LOCAL_STORE_PATH
  AGENCY_REMOTE_HOST, AGENCY_REMOTE_PORT, AGENCY_REMOTE_USER,
  AGENCY_REMOTE_PASSWORD, AGENCY_REMOTE_DBNAME, AGENCY_REMOTE_SSLMODE

Examples:
  # Prepare the shared remote schema
  migrate -target remote up

  # Roll back the last local migration
  migrate step -1

  # Check current version
  migrate -target remote version`)
}
