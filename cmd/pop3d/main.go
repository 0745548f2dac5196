package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/migadu/pop3d/config"
	"github.com/migadu/pop3d/db"
	"github.com/migadu/pop3d/logger"
	"github.com/migadu/pop3d/mailstore"
	"github.com/migadu/pop3d/pkg/errors"
	"github.com/migadu/pop3d/pkg/health"
	"github.com/migadu/pop3d/pkg/metrics"
	"github.com/migadu/pop3d/storage"
	"github.com/migadu/pop3d/tlsmanager"
)

// Version information, injected at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigPath = "config.toml"

// serverManager tracks running servers for coordinated shutdown
type serverManager struct {
	wg sync.WaitGroup
}

func (sm *serverManager) Add()  { sm.wg.Add(1) }
func (sm *serverManager) Done() { sm.wg.Done() }
func (sm *serverManager) Wait() { sm.wg.Wait() }

// serverDependencies holds the services shared by the listeners.
type serverDependencies struct {
	config        config.Config
	database      *db.Database
	storage       *storage.S3Storage
	store         *mailstore.Store
	tlsManager    *tlsmanager.Manager
	healthMonitor *health.HealthMonitor
	collector     *metrics.Collector
	serverManager *serverManager
}

func main() {
	errorHandler := errors.NewErrorHandler()
	cfg := config.NewDefaultConfig()

	showVersion := flag.Bool("version", false, "Show version information and exit")
	flag.BoolVar(showVersion, "v", false, "Show version information and exit")
	configPath := flag.String("config", defaultConfigPath, "Path to TOML configuration file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("pop3d version %s (commit: %s, built at: %s)\n", version, commit, date)
		os.Exit(0)
	}

	loadAndValidateConfig(*configPath, &cfg, errorHandler)

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "POP3D: Warning initializing logger: %v\n", err)
	}
	if logFile != nil {
		defer func(f *os.File) {
			if err := f.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "POP3D: Error closing log file %s: %v\n", f.Name(), err)
			}
		}(logFile)
	}

	logger.Infof("pop3d starting (version %s, commit: %s, built: %s)", version, commit, date)
	logger.Infof("Logging format: %s, level: %s", cfg.Logging.Format, cfg.Logging.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, initErr := initializeServices(ctx, cfg)
	if initErr != nil {
		errorHandler.FatalError("initialize services", initErr)
		os.Exit(errorHandler.WaitForExit())
	}
	defer deps.database.Close()
	if deps.healthMonitor != nil {
		defer deps.healthMonitor.Stop()
	}
	if deps.collector != nil {
		defer deps.collector.Stop()
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for sig := range signalChan {
			if sig == syscall.SIGHUP {
				reloadCertificates(deps.tlsManager)
				continue
			}
			logger.Infof("Received signal: %s, shutting down...", sig)
			cancel()
			return
		}
	}()

	errChan := startServers(ctx, deps)

	select {
	case <-ctx.Done():
		errorHandler.Shutdown(ctx)
		logger.Infof("Waiting for all servers to stop gracefully...")

		done := make(chan struct{})
		go func() {
			deps.serverManager.Wait()
			close(done)
		}()

		// Each POP3 server already waits for its own drain timeout.
		select {
		case <-done:
			logger.Infof("All servers stopped")
		case <-time.After(shutdownTimeout(cfg)):
			logger.Warn("Server shutdown timeout reached")
		}
	case err := <-errChan:
		errorHandler.FatalError("server operation", err)
		cancel()
		os.Exit(errorHandler.WaitForExit())
	}
}

func loadAndValidateConfig(configPath string, cfg *config.Config, errorHandler *errors.ErrorHandler) {
	if err := config.LoadConfigFromFile(configPath, cfg); err != nil {
		if os.IsNotExist(err) && configPath == defaultConfigPath {
			logger.Infof("WARNING: default configuration file '%s' not found. Using application defaults.", configPath)
		} else {
			errorHandler.ConfigError(configPath, err)
			os.Exit(errorHandler.WaitForExit())
		}
	} else {
		logger.Infof("loaded configuration from %s", configPath)
	}

	if err := cfg.Validate(); err != nil {
		errorHandler.ValidationError("configuration", err)
		os.Exit(errorHandler.WaitForExit())
	}
}

func initializeServices(ctx context.Context, cfg config.Config) (*serverDependencies, error) {
	deps := &serverDependencies{
		config:        cfg,
		serverManager: &serverManager{},
	}

	database, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	deps.database = database

	if cfg.Database.AutoMigrate {
		timeout, err := cfg.Database.GetMigrationTimeout()
		if err != nil {
			database.Close()
			return nil, err
		}
		migrateCtx, cancel := context.WithTimeout(ctx, timeout)
		err = database.Migrate(migrateCtx)
		cancel()
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	// The store takes an interface, so a nil *S3Storage must not reach it.
	var blobs mailstore.BlobStore
	if cfg.S3.Enabled() {
		s3, err := storage.New(cfg.S3)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		if err := s3.CheckBucket(ctx); err != nil {
			database.Close()
			return nil, err
		}
		deps.storage = s3
		blobs = s3
		logger.Info("Message bodies are stored in S3", "endpoint", cfg.S3.Endpoint, "bucket", cfg.S3.Bucket, "encrypted", cfg.S3.Encrypt)
	} else {
		logger.Info("Message bodies are stored in the database")
	}
	deps.store = mailstore.New(database, blobs)

	if cfg.TLS.Enabled() {
		deps.tlsManager, err = tlsmanager.New(cfg.TLS)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to initialize TLS: %w", err)
		}
	}

	if cfg.Metrics.Enabled {
		deps.healthMonitor = health.NewHealthMonitor()
		deps.healthMonitor.RegisterCheck(health.CreateDatabaseHealthCheck(database.DB.PingContext))
		if deps.storage != nil {
			deps.healthMonitor.RegisterCheck(health.CreateS3HealthCheck(deps.storage.CheckBucket))
		}
		deps.healthMonitor.Start(ctx)

		interval, err := cfg.Metrics.GetCollectInterval()
		if err != nil {
			database.Close()
			return nil, err
		}
		deps.collector = metrics.NewCollector(database, interval)
		go deps.collector.Start(ctx)
	}

	return deps, nil
}

func reloadCertificates(m *tlsmanager.Manager) {
	if m == nil {
		logger.Info("Received SIGHUP, no TLS certificates to reload")
		return
	}
	if err := m.Reload(); err != nil {
		logger.Error("Failed to reload TLS certificates", "error", err)
		return
	}
	logger.Info("Reloaded TLS certificates")
}

// shutdownTimeout is the longest drain timeout of the running listeners plus
// a grace period for the HTTP servers.
func shutdownTimeout(cfg config.Config) time.Duration {
	longest := 30 * time.Second
	for _, srv := range []config.POP3ServerConfig{cfg.Servers.POP3, cfg.Servers.POP3S} {
		if d, err := srv.GetDrainTimeout(); err == nil && d > longest {
			longest = d
		}
	}
	return longest + 5*time.Second
}
