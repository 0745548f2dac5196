// Package config loads the pop3d TOML configuration.
package config

import (
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/migadu/pop3d/helpers"
)

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Output    string `toml:"output"`     // "stderr", "stdout", "syslog" or a file path
	Format    string `toml:"format"`     // "json" or "console"
	Level     string `toml:"level"`      // "debug", "info", "warn", "error"
	SyslogTag string `toml:"syslog_tag"` // Defaults to "pop3d"
}

// MetricsConfig holds the HTTP endpoint serving Prometheus metrics and health.
type MetricsConfig struct {
	Enabled         bool   `toml:"enabled"`
	Addr            string `toml:"addr"`
	Path            string `toml:"path"`
	CollectInterval string `toml:"collect_interval"` // Store gauges refresh interval (default: 1m)
}

// GetCollectInterval parses the store statistics refresh interval.
func (m *MetricsConfig) GetCollectInterval() (time.Duration, error) {
	if m.CollectInterval == "" {
		return time.Minute, nil
	}
	return helpers.ParseDuration(m.CollectInterval)
}

// PostgresConfig holds the connection settings used when driver is "postgres".
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Name     string `toml:"name"`
	TLSMode  bool   `toml:"tls"`
}

// DSN renders the settings as a pgx connection URL.
func (p *PostgresConfig) DSN() string {
	port := p.Port
	if port == 0 {
		port = 5432
	}
	sslmode := "disable"
	if p.TLSMode {
		sslmode = "require"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     net.JoinHostPort(p.Host, strconv.Itoa(port)),
		Path:     "/" + p.Name,
		RawQuery: "sslmode=" + sslmode,
	}
	return u.String()
}

// DatabaseConfig selects and tunes the account and message store.
type DatabaseConfig struct {
	Driver           string          `toml:"driver"`            // "sqlite" or "postgres"
	Path             string          `toml:"path"`              // SQLite database file
	Postgres         *PostgresConfig `toml:"postgres"`          // Used when driver is "postgres"
	Debug            bool            `toml:"debug"`             // Log every query
	MaxConns         int             `toml:"max_conns"`         // Maximum open connections
	MaxConnLifetime  string          `toml:"max_conn_lifetime"` // Maximum lifetime of a connection
	QueryTimeout     string          `toml:"query_timeout"`     // Per query timeout (default: 30s)
	MigrationTimeout string          `toml:"migration_timeout"` // Timeout for migrations at startup (default: 2m)
	AutoMigrate      bool            `toml:"auto_migrate"`      // Run migrations when pop3d starts
	LockTTL          string          `toml:"lock_ttl"`          // Maildrop locks older than this are stale (default: 30m)
}

// GetQueryTimeout parses the query timeout duration.
func (d *DatabaseConfig) GetQueryTimeout() (time.Duration, error) {
	if d.QueryTimeout == "" {
		return 30 * time.Second, nil
	}
	return helpers.ParseDuration(d.QueryTimeout)
}

// GetMaxConnLifetime parses the connection lifetime. Zero means unlimited.
func (d *DatabaseConfig) GetMaxConnLifetime() (time.Duration, error) {
	if d.MaxConnLifetime == "" {
		return time.Hour, nil
	}
	return helpers.ParseDuration(d.MaxConnLifetime)
}

// GetMigrationTimeout parses the migration timeout duration.
func (d *DatabaseConfig) GetMigrationTimeout() (time.Duration, error) {
	if d.MigrationTimeout == "" {
		return 2 * time.Minute, nil
	}
	return helpers.ParseDuration(d.MigrationTimeout)
}

// GetLockTTL parses the maildrop lock staleness threshold.
func (d *DatabaseConfig) GetLockTTL() (time.Duration, error) {
	if d.LockTTL == "" {
		return 30 * time.Minute, nil
	}
	return helpers.ParseDuration(d.LockTTL)
}

// S3Config holds the object storage for message bodies. Without an endpoint
// bodies are kept in the database.
type S3Config struct {
	Endpoint      string `toml:"endpoint"`
	DisableTLS    bool   `toml:"disable_tls"`
	AccessKey     string `toml:"access_key"`
	SecretKey     string `toml:"secret_key"`
	Bucket        string `toml:"bucket"`
	Debug         bool   `toml:"debug"` // Trace S3 requests to stdout
	Encrypt       bool   `toml:"encrypt"`
	EncryptionKey string `toml:"encryption_key"` // 64 hex characters
}

// Enabled reports whether object storage is configured.
func (s *S3Config) Enabled() bool {
	return s.Endpoint != ""
}

// TLSLetsEncryptConfig configures ACME certificates through autocert.
type TLSLetsEncryptConfig struct {
	Email    string   `toml:"email"`
	Domains  []string `toml:"domains"`
	CacheDir string   `toml:"cache_dir"` // Certificate cache (default: /var/lib/pop3d/certs)
	HTTPAddr string   `toml:"http_addr"` // HTTP-01 challenge listener (default: ":80")
}

// TLSConfig configures certificates for implicit TLS listeners.
type TLSConfig struct {
	Provider    string                `toml:"provider"` // "file" or "letsencrypt"
	CertFile    string                `toml:"cert_file"`
	KeyFile     string                `toml:"key_file"`
	LetsEncrypt *TLSLetsEncryptConfig `toml:"letsencrypt"`
}

// Enabled reports whether a certificate source is configured.
func (t *TLSConfig) Enabled() bool {
	return t.Provider != ""
}

// POP3ServerConfig configures one POP3 listener.
type POP3ServerConfig struct {
	Start               bool     `toml:"start"`
	Addr                string   `toml:"addr"`
	TLS                 bool     `toml:"tls"` // Implicit TLS (POP3S)
	Service             string   `toml:"service"`
	MaxConnections      int      `toml:"max_connections"`        // Maximum concurrent connections
	MaxConnectionsPerIP int      `toml:"max_connections_per_ip"` // Maximum connections per IP address
	TrustedNetworks     []string `toml:"trusted_networks"`       // Exempt from the per-IP limit
	CommandTimeout      string   `toml:"command_timeout"`        // Maximum idle time before disconnection (default: 10m)
	MaxInvalidCommands  int      `toml:"max_invalid_commands"`   // Invalid lines tolerated (default: 10)
	MaxLineLength       int      `toml:"max_line_length"`        // Longest accepted command line (default: 4096)
	DefaultLanguage     string   `toml:"default_language"`       // Initial response language (default: "en")
	Capabilities        []string `toml:"capabilities"`           // Overrides the CAPA listing
	DrainTimeout        string   `toml:"drain_timeout"`          // Graceful shutdown wait (default: 30s)
}

// GetCommandTimeout parses the idle timeout. RFC 1939 requires at least 10m.
func (c *POP3ServerConfig) GetCommandTimeout() (time.Duration, error) {
	if c.CommandTimeout == "" {
		return 10 * time.Minute, nil
	}
	return helpers.ParseDuration(c.CommandTimeout)
}

// GetDrainTimeout parses the graceful shutdown wait.
func (c *POP3ServerConfig) GetDrainTimeout() (time.Duration, error) {
	if c.DrainTimeout == "" {
		return 30 * time.Second, nil
	}
	return helpers.ParseDuration(c.DrainTimeout)
}

// ServersConfig holds the listeners.
type ServersConfig struct {
	POP3  POP3ServerConfig `toml:"pop3"`
	POP3S POP3ServerConfig `toml:"pop3s"`
}

// Config is the root of the configuration file.
type Config struct {
	Hostname string         `toml:"hostname"` // Used in greetings and APOP banners
	Logging  LoggingConfig  `toml:"logging"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Database DatabaseConfig `toml:"database"`
	S3       S3Config       `toml:"s3"`
	TLS      TLSConfig      `toml:"tls"`
	Servers  ServersConfig  `toml:"servers"`
}

// NewDefaultConfig returns a configuration that serves plain POP3 on :110
// from a local SQLite database.
func NewDefaultConfig() Config {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	return Config{
		Hostname: hostname,
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9110",
			Path:    "/metrics",
		},
		Database: DatabaseConfig{
			Driver:           "sqlite",
			Path:             "/var/lib/pop3d/pop3d.db",
			MaxConns:         10,
			MaxConnLifetime:  "1h",
			QueryTimeout:     "30s",
			MigrationTimeout: "2m",
			AutoMigrate:      true,
			LockTTL:          "30m",
		},
		Servers: ServersConfig{
			POP3: POP3ServerConfig{
				Start:              true,
				Addr:               ":110",
				CommandTimeout:     "10m",
				MaxInvalidCommands: 10,
				MaxLineLength:      4096,
				DefaultLanguage:    "en",
			},
			POP3S: POP3ServerConfig{
				Start:              false,
				Addr:               ":995",
				TLS:                true,
				CommandTimeout:     "10m",
				MaxInvalidCommands: 10,
				MaxLineLength:      4096,
				DefaultLanguage:    "en",
			},
		},
	}
}

// Validate checks settings that cannot be checked while decoding.
func (c *Config) Validate() error {
	var errs []error

	if c.Hostname == "" {
		errs = append(errs, errors.New("hostname is required"))
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for the sqlite driver"))
		}
	case "postgres":
		if c.Database.Postgres == nil || c.Database.Postgres.Host == "" {
			errs = append(errs, errors.New("database.postgres.host is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported database.driver %q", c.Database.Driver))
	}

	durations := map[string]func() (time.Duration, error){
		"database.query_timeout":        c.Database.GetQueryTimeout,
		"database.max_conn_lifetime":    c.Database.GetMaxConnLifetime,
		"database.migration_timeout":    c.Database.GetMigrationTimeout,
		"database.lock_ttl":             c.Database.GetLockTTL,
		"metrics.collect_interval":      c.Metrics.GetCollectInterval,
		"servers.pop3.command_timeout":  c.Servers.POP3.GetCommandTimeout,
		"servers.pop3.drain_timeout":    c.Servers.POP3.GetDrainTimeout,
		"servers.pop3s.command_timeout": c.Servers.POP3S.GetCommandTimeout,
		"servers.pop3s.drain_timeout":   c.Servers.POP3S.GetDrainTimeout,
	}
	for key, parse := range durations {
		if _, err := parse(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}

	for name, srv := range map[string]*POP3ServerConfig{"pop3": &c.Servers.POP3, "pop3s": &c.Servers.POP3S} {
		if !srv.Start {
			continue
		}
		if srv.Addr == "" {
			errs = append(errs, fmt.Errorf("servers.%s.addr is required", name))
		}
		if srv.TLS && !c.TLS.Enabled() {
			errs = append(errs, fmt.Errorf("servers.%s.tls requires a [tls] provider", name))
		}
	}

	switch c.TLS.Provider {
	case "":
	case "file":
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			errs = append(errs, errors.New("tls.cert_file and tls.key_file are required for the file provider"))
		}
	case "letsencrypt":
		if c.TLS.LetsEncrypt == nil || len(c.TLS.LetsEncrypt.Domains) == 0 {
			errs = append(errs, errors.New("tls.letsencrypt.domains is required for the letsencrypt provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported tls.provider %q", c.TLS.Provider))
	}

	if c.S3.Enabled() {
		if c.S3.Bucket == "" {
			errs = append(errs, errors.New("s3.bucket is required when s3.endpoint is set"))
		}
		if c.S3.Encrypt && len(c.S3.EncryptionKey) != 64 {
			errs = append(errs, errors.New("s3.encryption_key must be 64 hex characters"))
		}
	}

	return errors.Join(errs...)
}

// LoadConfigFromFile decodes configPath over cfg, which normally holds the
// defaults. Unknown keys are reported but do not fail the load.
func LoadConfigFromFile(configPath string, cfg *Config) error {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	metadata, err := toml.Decode(string(content), cfg)
	if err != nil {
		return enhanceConfigError(err)
	}

	if undecoded := metadata.Undecoded(); len(undecoded) > 0 {
		log.Printf("WARNING: Configuration file '%s' contains unknown keys that will be ignored:", configPath)
		for _, key := range undecoded {
			log.Printf("WARNING:   - %s", key)
		}
	}

	trimStringFields(reflect.ValueOf(cfg).Elem())
	return nil
}

// enhanceConfigError adds the position of a TOML parse error.
func enhanceConfigError(err error) error {
	var parseErr toml.ParseError
	if errors.As(err, &parseErr) {
		return fmt.Errorf("configuration error at line %d: %s", parseErr.Position.Line, parseErr.Message)
	}
	return fmt.Errorf("configuration error: %w", err)
}

// trimStringFields removes surrounding whitespace from every string reachable
// from v.
func trimStringFields(v reflect.Value) {
	if !v.IsValid() {
		return
	}

	switch v.Kind() {
	case reflect.String:
		if v.CanSet() {
			v.SetString(strings.TrimSpace(v.String()))
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			trimStringFields(v.Index(i))
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if v.Field(i).CanSet() {
				trimStringFields(v.Field(i))
			}
		}
	case reflect.Ptr:
		if !v.IsNil() {
			trimStringFields(v.Elem())
		}
	}
}
