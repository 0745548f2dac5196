package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/migadu/pop3d/config"
	"github.com/migadu/pop3d/logger"
	"github.com/migadu/pop3d/pkg/metrics"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations
var MigrationsFS embed.FS

// Dialect selects the SQL flavour and the migration set.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

type Database struct {
	DB *sql.DB

	dialect      Dialect
	dsn          string
	queryTimeout time.Duration
	lockTTL      time.Duration
	debug        bool
}

// Open connects to the configured database and verifies the connection. It
// does not run migrations; see Migrate.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Database, error) {
	queryTimeout, err := cfg.GetQueryTimeout()
	if err != nil {
		return nil, fmt.Errorf("invalid query_timeout: %w", err)
	}
	lockTTL, err := cfg.GetLockTTL()
	if err != nil {
		return nil, fmt.Errorf("invalid lock_ttl: %w", err)
	}
	lifetime, err := cfg.GetMaxConnLifetime()
	if err != nil {
		return nil, fmt.Errorf("invalid max_conn_lifetime: %w", err)
	}

	d := &Database{
		queryTimeout: queryTimeout,
		lockTTL:      lockTTL,
		debug:        cfg.Debug,
	}

	var driverName string
	switch cfg.Driver {
	case "", string(DialectSQLite):
		if cfg.Path == "" {
			return nil, errors.New("database path is required for sqlite")
		}
		d.dialect = DialectSQLite
		d.dsn = sqliteDSN(cfg.Path)
		driverName = "sqlite"
	case string(DialectPostgres):
		if cfg.Postgres == nil {
			return nil, errors.New("postgres configuration is missing")
		}
		d.dialect = DialectPostgres
		d.dsn = cfg.Postgres.DSN()
		driverName = "pgx"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	sqlDB, err := sql.Open(driverName, d.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if d.dialect == DialectSQLite {
		// One writer at a time; concurrent writers only produce SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	} else if cfg.MaxConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxConns)
	}
	sqlDB.SetConnMaxLifetime(lifetime)

	pingCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to the database: %w", err)
	}

	d.DB = sqlDB
	logger.Info("Database connected", "driver", d.dialect)
	return d, nil
}

func sqliteDSN(path string) string {
	params := url.Values{}
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "journal_mode(WAL)")
	return "file:" + path + "?" + params.Encode()
}

// Dialect reports which SQL flavour the database speaks.
func (d *Database) Dialect() Dialect {
	return d.dialect
}

func (d *Database) Close() error {
	if d.DB == nil {
		return nil
	}
	return d.DB.Close()
}

// Migrate applies all pending migrations.
func (d *Database) Migrate(ctx context.Context) error {
	m, err := d.Migrator(ctx)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err == nil {
		logger.Info("Database schema is up to date", "version", version, "dirty", dirty)
	}
	return nil
}

// Migrator returns a migrate instance on a dedicated connection. Closing it
// leaves the Database usable.
func (d *Database) Migrator(ctx context.Context) (*migrate.Migrate, error) {
	migrations, err := fs.Sub(MigrationsFS, "migrations/"+string(d.dialect))
	if err != nil {
		return nil, fmt.Errorf("failed to get migrations subdirectory: %w", err)
	}
	sourceDriver, err := iofs.New(migrations, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source driver: %w", err)
	}

	driverName := "sqlite"
	if d.dialect == DialectPostgres {
		driverName = "pgx"
	}
	sqlDB, err := sql.Open(driverName, d.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sql.DB for migrations: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	var dbDriver database.Driver
	if d.dialect == DialectPostgres {
		dbDriver, err = pgxv5.WithInstance(sqlDB, &pgxv5.Config{})
	} else {
		dbDriver, err = migratesqlite.WithInstance(sqlDB, &migratesqlite.Config{})
	}
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, driverName, dbDriver)
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrationLogger{}
	return m, nil
}

type migrationLogger struct{}

func (l *migrationLogger) Printf(format string, v ...any) {
	logger.Infof("[MIGRATE] "+strings.TrimRight(format, "\n"), v...)
}

func (l *migrationLogger) Verbose() bool {
	return false
}

// rebind rewrites ? placeholders to $n for postgres.
func (d *Database) rebind(query string) string {
	if d.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (d *Database) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.queryTimeout)
}

func (d *Database) logQuery(operation, query string) {
	if d.debug {
		logger.Debug("DB query", "operation", operation, "query", query)
	}
}

func observe(operation string, start time.Time, err error) {
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	status := "success"
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		status = "failure"
	}
	metrics.DBQueriesTotal.WithLabelValues(operation, status).Inc()
}

// TimedQueryRow wraps QueryRowContext with duration metrics.
func (d *Database) TimedQueryRow(ctx context.Context, operation, query string, args ...any) *sql.Row {
	query = d.rebind(query)
	d.logQuery(operation, query)
	start := time.Now()
	row := d.DB.QueryRowContext(ctx, query, args...)
	observe(operation, start, row.Err())
	return row
}

// TimedQuery wraps QueryContext with duration metrics.
func (d *Database) TimedQuery(ctx context.Context, operation, query string, args ...any) (*sql.Rows, error) {
	query = d.rebind(query)
	d.logQuery(operation, query)
	start := time.Now()
	rows, err := d.DB.QueryContext(ctx, query, args...)
	observe(operation, start, err)
	return rows, err
}

// TimedExec wraps ExecContext with duration metrics.
func (d *Database) TimedExec(ctx context.Context, operation, query string, args ...any) (sql.Result, error) {
	query = d.rebind(query)
	d.logQuery(operation, query)
	start := time.Now()
	res, err := d.DB.ExecContext(ctx, query, args...)
	observe(operation, start, err)
	return res, err
}

// measuredTx runs statements inside a transaction with the same rebinding
// as the Database helpers.
type measuredTx struct {
	tx *sql.Tx
	d  *Database
}

func (t *measuredTx) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	query = t.d.rebind(query)
	t.d.logQuery("tx", query)
	return t.tx.QueryRowContext(ctx, query, args...)
}

func (t *measuredTx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	query = t.d.rebind(query)
	t.d.logQuery("tx", query)
	return t.tx.QueryContext(ctx, query, args...)
}

func (t *measuredTx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	query = t.d.rebind(query)
	t.d.logQuery("tx", query)
	return t.tx.ExecContext(ctx, query, args...)
}

// inTx runs fn in a transaction, committing when it returns nil.
func (d *Database) inTx(ctx context.Context, operation string, fn func(tx *measuredTx) error) (err error) {
	start := time.Now()
	defer func() { observe(operation, start, err) }()

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err = fn(&measuredTx{tx: tx, d: d}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
