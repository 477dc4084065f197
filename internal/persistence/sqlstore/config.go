package sqlstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DriverSQLite selects modernc.org/sqlite.
	DriverSQLite = "sqlite"
	// DriverPostgres selects the pgx stdlib driver.
	DriverPostgres = "pgx"
)

// DatabaseConfig describes how to reach the backing database.
type DatabaseConfig struct {
	// Driver is the database/sql driver name, DriverSQLite or DriverPostgres.
	Driver string

	// DSN is a file path or file: URI for SQLite and a connection string for Postgres.
	DSN string

	// BusyTimeout sets how long SQLite waits for database locks.
	BusyTimeout time.Duration

	// JournalMode sets the SQLite journal mode (WAL, DELETE, MEMORY, ...).
	JournalMode string

	// Synchronous sets the SQLite synchronous mode (FULL, NORMAL, OFF).
	Synchronous string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// MigrationsEnabled runs pending migrations when the store is opened.
	MigrationsEnabled bool
}

// DefaultDatabaseConfig returns a configuration with sensible defaults for driver.
func DefaultDatabaseConfig(driver, dsn string) DatabaseConfig {
	cfg := DatabaseConfig{
		Driver:            driver,
		DSN:               dsn,
		MaxOpenConns:      25,
		MaxIdleConns:      5,
		ConnMaxLifetime:   5 * time.Minute,
		MigrationsEnabled: true,
	}
	if driver == DriverSQLite {
		cfg.BusyTimeout = 30 * time.Second
		cfg.JournalMode = "WAL"
		cfg.Synchronous = "NORMAL"
	}
	return cfg
}

// TempFileTestConfig returns a SQLite configuration for temporary file-based testing.
func TempFileTestConfig(path string) DatabaseConfig {
	return DatabaseConfig{
		Driver:            DriverSQLite,
		DSN:               path,
		BusyTimeout:       5 * time.Second,
		JournalMode:       "WAL",
		Synchronous:       "OFF",
		MaxOpenConns:      4,
		MaxIdleConns:      2,
		ConnMaxLifetime:   time.Minute,
		MigrationsEnabled: true,
	}
}

// Validate checks the configuration before a connection is attempted.
func (c DatabaseConfig) Validate() error {
	switch c.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unsupported database driver %q", c.Driver)
	}
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("DSN cannot be empty")
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("BusyTimeout cannot be negative")
	}
	validJournalModes := map[string]bool{
		"DELETE": true, "TRUNCATE": true, "PERSIST": true, "MEMORY": true, "WAL": true, "OFF": true,
	}
	if c.JournalMode != "" && !validJournalModes[strings.ToUpper(c.JournalMode)] {
		return fmt.Errorf("invalid journal mode: %s", c.JournalMode)
	}
	validSyncModes := map[string]bool{"OFF": true, "NORMAL": true, "FULL": true, "EXTRA": true}
	if c.Synchronous != "" && !validSyncModes[strings.ToUpper(c.Synchronous)] {
		return fmt.Errorf("invalid synchronous mode: %s", c.Synchronous)
	}
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 || c.ConnMaxLifetime < 0 {
		return fmt.Errorf("connection pool limits cannot be negative")
	}
	return nil
}

// dataSourceName returns the DSN handed to sql.Open. For SQLite the PRAGMAs
// are encoded as _pragma parameters so every pooled connection applies them.
func (c DatabaseConfig) dataSourceName() string {
	if c.Driver != DriverSQLite {
		return c.DSN
	}

	pragmas := []string{"_pragma=foreign_keys(1)"}
	if c.BusyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("_pragma=busy_timeout(%d)", c.BusyTimeout.Milliseconds()))
	}
	if c.JournalMode != "" {
		pragmas = append(pragmas, fmt.Sprintf("_pragma=journal_mode(%s)", strings.ToUpper(c.JournalMode)))
	}
	if c.Synchronous != "" {
		pragmas = append(pragmas, fmt.Sprintf("_pragma=synchronous(%s)", strings.ToUpper(c.Synchronous)))
	}

	dsn := c.DSN
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(pragmas, "&")
}

// ensureDatabaseDir creates the parent directory of a SQLite database file.
func (c DatabaseConfig) ensureDatabaseDir() error {
	if c.Driver != DriverSQLite {
		return nil
	}
	path := strings.TrimPrefix(c.DSN, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}
	return nil
}
