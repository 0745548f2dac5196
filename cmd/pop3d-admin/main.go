package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/migadu/pop3d/config"
	"github.com/migadu/pop3d/db"
	"github.com/migadu/pop3d/logger"
	"github.com/migadu/pop3d/mailstore"
	"github.com/migadu/pop3d/storage"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	command := os.Args[1]
	switch command {
	case "migrate":
		handleMigrateCommand(ctx)
	case "add-account":
		handleAddAccount(ctx)
	case "passwd":
		handlePasswd(ctx)
	case "set-apop":
		handleSetAPOP(ctx)
	case "delete-account":
		handleDeleteAccount(ctx)
	case "list-accounts":
		handleListAccounts(ctx)
	case "import":
		handleImport(ctx)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`pop3d Admin Tool

Usage:
  pop3d-admin <command> [options]

Commands:
  migrate          Manage the database schema
  add-account      Create a new account
  passwd           Change an account's password
  set-apop         Set or clear an account's APOP secret
  delete-account   Delete an account and its messages
  list-accounts    List all accounts with their maildrop totals
  import           Deliver .eml files into a maildrop
  help             Show this help message

Examples:
  pop3d-admin migrate up
  pop3d-admin add-account --address user@example.com --password secret
  pop3d-admin set-apop --address user@example.com --secret tanstaaf
  pop3d-admin import --address user@example.com ./maildir/cur
  pop3d-admin list-accounts --config /etc/pop3d/config.toml

Use 'pop3d-admin <command> --help' for more information about a command.
`)
}

// loadConfig reads the configuration file. A missing file falls back to the
// defaults so the tool can be pointed at a local SQLite database.
func loadConfig(configPath string) (config.Config, error) {
	cfg := config.NewDefaultConfig()
	if err := config.LoadConfigFromFile(configPath, &cfg); err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("error parsing configuration file '%s': %w", configPath, err)
		}
		logger.Warn("Configuration file not found, using defaults", "path", configPath)
	}
	if _, err := logger.Initialize(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Warning initializing logger: %v\n", err)
	}
	return cfg, nil
}

// openDatabase opens the configured database without migrating it.
func openDatabase(ctx context.Context, configPath string) (*db.Database, config.Config, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, cfg, err
	}
	database, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, cfg, err
	}
	return database, cfg, nil
}

// openBlobStore returns nil when object storage is not configured.
func openBlobStore(ctx context.Context, cfg config.Config) (mailstore.BlobStore, error) {
	if !cfg.S3.Enabled() {
		return nil, nil
	}
	s3, err := storage.New(cfg.S3)
	if err != nil {
		return nil, err
	}
	if err := s3.CheckBucket(ctx); err != nil {
		return nil, err
	}
	return s3, nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
