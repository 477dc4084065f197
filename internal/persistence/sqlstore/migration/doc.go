// Package migration applies versioned schema files to a SQL database.
//
// Migration files follow the naming convention {version}_{description}.sql
// (e.g. "001_initial_schema.sql") and are read from an fs.FS, which is
// normally the embedded migrations directory. Applied versions and their
// checksums are tracked in a schema_migrations table so that each file runs
// exactly once.
//
// Example usage:
//
//	manager := migration.NewManager(migration.NewFileScanner(), migration.NewSQLExecutor(db), files, logger)
//	if err := manager.RunMigrations(ctx); err != nil {
//		return err
//	}
package migration
