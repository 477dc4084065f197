// Package sqlstore implements the persistence repositories on database/sql,
// backed by SQLite (modernc.org/sqlite) or Postgres (pgx).
package sqlstore

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/example/rental-broker/internal/persistence/sqlstore/migration"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// MigrationFiles returns the embedded schema migrations.
func MigrationFiles() fs.FS {
	files, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		panic(fmt.Sprintf("sqlstore: embedded migrations: %v", err))
	}
	return files
}

// Store bundles the SQL repositories over one connection pool.
type Store struct {
	*UserRepository
	*ListingRepository
	*ViewingRepository
	*SessionRepository
	*FavoriteRepository

	pool   *ConnectionPool
	logger *slog.Logger
}

// Open connects to the database described by cfg and, when enabled, brings
// the schema up to date.
func Open(ctx context.Context, cfg DatabaseConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := NewConnectionPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store := &Store{
		UserRepository:     NewUserRepository(pool),
		ListingRepository:  NewListingRepository(pool),
		ViewingRepository:  NewViewingRepository(pool),
		SessionRepository:  NewSessionRepository(pool),
		FavoriteRepository: NewFavoriteRepository(pool),
		pool:               pool,
		logger:             logger.With("driver", cfg.Driver),
	}

	if cfg.MigrationsEnabled {
		if err := store.Migrate(ctx); err != nil {
			_ = pool.Close()
			return nil, err
		}
	}
	return store, nil
}

// Migrate applies pending embedded migrations.
func (s *Store) Migrate(ctx context.Context) error {
	manager := migration.NewManager(
		migration.NewFileScanner(),
		migration.NewSQLExecutor(s.pool.DB()),
		MigrationFiles(),
		s.logger,
	)
	if err := manager.RunMigrations(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Ping tests the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}
