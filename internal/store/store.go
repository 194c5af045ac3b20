package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/relq/internal/provider"
	"github.com/roach88/relq/internal/querysql"
)

// Driver names as registered with database/sql.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Store executes relq commands on a database/sql handle.
type Store struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for command tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// DriverFor returns the database/sql driver serving a dialect.
func DriverFor(dialect string) (string, error) {
	switch strings.ToLower(dialect) {
	case querysql.SQLite.Name:
		return DriverSQLite, nil
	case querysql.Postgres.Name:
		return DriverPostgres, nil
	case querysql.MySQL.Name:
		return DriverMySQL, nil
	default:
		return "", fmt.Errorf("no driver for dialect %q", dialect)
	}
}

// Open connects to a database. An empty sqlite3 dsn opens a private
// in-memory database.
func Open(driver, dsn string, opts ...Option) (*Store, error) {
	dsn, err := normalizeDSN(driver, dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify connection works
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := applyPragmas(db, dsn); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	s := &Store{db: db, driver: driver, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// normalizeDSN validates dsn for driver and returns the form the driver
// expects.
func normalizeDSN(driver, dsn string) (string, error) {
	switch driver {
	case DriverSQLite:
		if dsn == "" {
			return ":memory:", nil
		}
		return dsn, nil
	case DriverPostgres:
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			conn, err := pq.ParseURL(dsn)
			if err != nil {
				return "", fmt.Errorf("invalid postgres url: %w", err)
			}
			return conn, nil
		}
		if dsn == "" {
			return "", fmt.Errorf("postgres needs a connection string")
		}
		return dsn, nil
	case DriverMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("invalid mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		return cfg.FormatDSN(), nil
	default:
		return "", fmt.Errorf("unsupported driver %q", driver)
	}
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB, dsn string) error {
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	if !strings.Contains(dsn, ":memory:") && !strings.Contains(dsn, "mode=memory") {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Driver returns the database/sql driver name.
func (s *Store) Driver() string {
	return s.driver
}

// Query implements provider.Connection. Callers close the returned rows.
func (s *Store) Query(ctx context.Context, cmd *querysql.Command) (provider.Rows, error) {
	s.logger.Debug("store query", "command", cmd.ID.String(), "sql", cmd.Text)
	rows, err := s.db.QueryContext(ctx, cmd.Text, cmd.Args()...)
	if err != nil {
		return nil, fmt.Errorf("command %s: %w", cmd.ID, err)
	}
	return rows, nil
}

// Exec implements provider.Connection.
func (s *Store) Exec(ctx context.Context, cmd *querysql.Command) (provider.Result, error) {
	s.logger.Debug("store exec", "command", cmd.ID.String(), "sql", cmd.Text)
	res, err := s.db.ExecContext(ctx, cmd.Text, cmd.Args()...)
	if err != nil {
		return nil, fmt.Errorf("command %s: %w", cmd.ID, err)
	}
	return res, nil
}

// Apply executes commands in order, stopping at the first failure. It is
// used for schema setup.
func (s *Store) Apply(ctx context.Context, cmds ...*querysql.Command) error {
	for _, cmd := range cmds {
		if _, err := s.Exec(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

var _ provider.Connection = (*Store)(nil)
