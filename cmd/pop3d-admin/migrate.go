package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/migadu/pop3d/consts"
	"github.com/migadu/pop3d/db"
	"github.com/migadu/pop3d/logger"
)

func handleMigrateCommand(ctx context.Context) {
	if len(os.Args) < 3 {
		printMigrateUsage()
		os.Exit(1)
	}

	subcommand := os.Args[2]
	switch subcommand {
	case "up":
		handleMigrateUp(ctx)
	case "down":
		handleMigrateDown(ctx)
	case "version":
		handleMigrateVersion(ctx)
	case "force":
		handleMigrateForce(ctx)
	case "help", "--help", "-h":
		printMigrateUsage()
	default:
		fmt.Printf("Unknown migrate subcommand: %s\n\n", subcommand)
		printMigrateUsage()
		os.Exit(1)
	}
}

func printMigrateUsage() {
	fmt.Printf(`Database Schema Migration Management

Run this while pop3d is stopped. On PostgreSQL an advisory lock keeps two
migrations from running at once.

Usage:
  pop3d-admin migrate <subcommand> [options]

Subcommands:
  up        Apply all pending upwards migrations
  down      Revert migrations
  version   Show the current migration version and dirty state
  force     Force the database to a specific version (for fixing dirty states)

Examples:
  pop3d-admin migrate up
  pop3d-admin migrate down --limit 2
  pop3d-admin migrate down --all
  pop3d-admin migrate version
  pop3d-admin migrate force 1
`)
}

// migrateSession holds a migrate instance and, on PostgreSQL, the connection
// owning the advisory lock.
type migrateSession struct {
	database *db.Database
	m        *migrate.Migrate
	lockConn *sql.Conn
}

func openMigrateSession(ctx context.Context, configPath string, exclusive bool) (*migrateSession, error) {
	database, _, err := openDatabase(ctx, configPath)
	if err != nil {
		return nil, err
	}
	m, err := database.Migrator(ctx)
	if err != nil {
		database.Close()
		return nil, err
	}

	s := &migrateSession{database: database, m: m}
	if exclusive && database.Dialect() == db.DialectPostgres {
		if err := s.acquireExclusiveLock(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *migrateSession) acquireExclusiveLock(ctx context.Context) error {
	conn, err := s.database.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to reserve connection for advisory lock: %w", err)
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var lockAcquired bool
	if err := conn.QueryRowContext(queryCtx, "SELECT pg_try_advisory_lock($1)", consts.MigrationAdvisoryLockID).Scan(&lockAcquired); err != nil {
		conn.Close()
		return fmt.Errorf("failed to query for advisory lock: %w", err)
	}
	if !lockAcquired {
		conn.Close()
		return fmt.Errorf("could not acquire exclusive database lock. Is another migration running?")
	}

	s.lockConn = conn
	logger.Info("Acquired exclusive database lock for migration")
	return nil
}

func (s *migrateSession) Close() {
	if s.lockConn != nil {
		queryCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		var unlocked bool
		if err := s.lockConn.QueryRowContext(queryCtx, "SELECT pg_advisory_unlock($1)", consts.MigrationAdvisoryLockID).Scan(&unlocked); err != nil {
			logger.Warn("Failed to release advisory lock after migration", "error", err)
		} else if !unlocked {
			logger.Warn("pg_advisory_unlock reported lock was not held at time of release")
		}
		cancel()
		s.lockConn.Close()
	}
	if srcErr, dbErr := s.m.Close(); srcErr != nil || dbErr != nil {
		logger.Warn("Failed to close migrator", "source_error", srcErr, "database_error", dbErr)
	}
	s.database.Close()
}

func handleMigrateUp(ctx context.Context) {
	fs := flag.NewFlagSet("migrate up", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	fs.Usage = func() {
		fmt.Println("Usage: pop3d-admin migrate up [--config config.toml]")
		fmt.Println("Applies all pending upwards migrations.")
	}
	fs.Parse(os.Args[3:])

	s, err := openMigrateSession(ctx, *configPath, true)
	if err != nil {
		fatal(err)
	}
	defer s.Close()

	logger.Info("Applying UP migrations...")
	if err := s.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		fatal(fmt.Errorf("failed to apply UP migrations: %w", err))
	}
	logger.Info("Migrations applied successfully")
	showVersion(s.m)
}

func handleMigrateDown(ctx context.Context) {
	fs := flag.NewFlagSet("migrate down", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	limit := fs.Int("limit", 1, "Number of migrations to revert")
	all := fs.Bool("all", false, "Revert all migrations")
	fs.Usage = func() {
		fmt.Println("Usage: pop3d-admin migrate down [--config config.toml] [--limit N | --all]")
		fmt.Println("Reverts migrations. Defaults to reverting one migration.")
	}
	fs.Parse(os.Args[3:])

	s, err := openMigrateSession(ctx, *configPath, true)
	if err != nil {
		fatal(err)
	}
	defer s.Close()

	steps := *limit
	if *all {
		version, dirty, err := s.m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			logger.Info("No migrations to revert")
			return
		}
		if err != nil {
			fatal(fmt.Errorf("failed to get current migration version: %w", err))
		}
		if dirty {
			fatal(fmt.Errorf("database is in a dirty state (version %d), fix it with 'force'", version))
		}
		steps = int(version)
	}

	logger.Info("Reverting migrations", "steps", steps)
	if err := s.m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		fatal(fmt.Errorf("failed to revert migrations: %w", err))
	}
	logger.Info("Migrations reverted successfully")
	showVersion(s.m)
}

func handleMigrateVersion(ctx context.Context) {
	fs := flag.NewFlagSet("migrate version", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	fs.Usage = func() {
		fmt.Println("Usage: pop3d-admin migrate version [--config config.toml]")
		fmt.Println("Shows the current migration version and dirty state.")
	}
	fs.Parse(os.Args[3:])

	s, err := openMigrateSession(ctx, *configPath, false)
	if err != nil {
		fatal(err)
	}
	defer s.Close()

	showVersion(s.m)
}

func handleMigrateForce(ctx context.Context) {
	fs := flag.NewFlagSet("migrate force", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	fs.Usage = func() {
		fmt.Println("Usage: pop3d-admin migrate force [--config config.toml] <version>")
		fmt.Println("Forcibly sets the database migration version. USE WITH CAUTION.")
	}
	fs.Parse(os.Args[3:])

	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	version, err := strconv.Atoi(fs.Arg(0))
	if err != nil {
		fatal(fmt.Errorf("invalid version number: %w", err))
	}

	s, err := openMigrateSession(ctx, *configPath, true)
	if err != nil {
		fatal(err)
	}
	defer s.Close()

	logger.Info("Forcing database version", "version", version)
	if err := s.m.Force(version); err != nil {
		fatal(fmt.Errorf("failed to force version: %w", err))
	}
	showVersion(s.m)
}

func showVersion(m *migrate.Migrate) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		fmt.Println("Current migration version: none")
		return
	}
	if err != nil {
		fmt.Printf("Failed to get migration version: %v\n", err)
		return
	}

	fmt.Printf("Current migration version: %d\n", version)
	if dirty {
		fmt.Println("Dirty state: YES (Database may be in an inconsistent state. Use 'force' to fix.)")
	} else {
		fmt.Println("Dirty state: no")
	}
}
