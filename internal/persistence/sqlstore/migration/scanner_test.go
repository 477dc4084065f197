package migration

import (
	"errors"
	"strings"
	"testing"
	"testing/fstest"
)

func mapFS(files map[string]string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, content := range files {
		fsys[name] = &fstest.MapFile{Data: []byte(content)}
	}
	return fsys
}

func TestFileScanner_ScanMigrations(t *testing.T) {
	tests := []struct {
		name          string
		files         map[string]string
		expectedOrder []string
		expectedErr   error
		errorContains string
	}{
		{
			name: "valid migration directory with multiple files",
			files: map[string]string{
				"001_initial_schema.sql": "CREATE TABLE users (id TEXT PRIMARY KEY);",
				"002_add_listings.sql":   "CREATE TABLE listings (id TEXT PRIMARY KEY);",
				"010_add_indexes.sql":    "CREATE INDEX idx_users_email ON users(email);",
			},
			expectedOrder: []string{"001", "002", "010"},
		},
		{
			name:          "empty migration directory",
			files:         map[string]string{},
			expectedOrder: []string{},
		},
		{
			name: "non-SQL files are ignored",
			files: map[string]string{
				"001_initial_schema.sql": "CREATE TABLE users (id TEXT PRIMARY KEY);",
				"README.md":              "# Migrations",
			},
			expectedOrder: []string{"001"},
		},
		{
			name: "invalid filename format",
			files: map[string]string{
				"invalid_name.sql": "CREATE TABLE test (id TEXT);",
			},
			expectedErr:   ErrInvalidMigrationFile,
			errorContains: "does not match pattern",
		},
		{
			name: "empty file",
			files: map[string]string{
				"001_empty.sql": "   \n",
			},
			expectedErr: ErrInvalidMigrationFile,
		},
		{
			name: "unbalanced parentheses",
			files: map[string]string{
				"001_broken.sql": "CREATE TABLE users (id TEXT PRIMARY KEY;",
			},
			expectedErr:   ErrInvalidMigrationFile,
			errorContains: "parenthesis",
		},
		{
			name: "unterminated string",
			files: map[string]string{
				"001_broken.sql": "INSERT INTO users (id) VALUES ('abc);",
			},
			expectedErr:   ErrInvalidMigrationFile,
			errorContains: "unterminated",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			migrations, err := NewFileScanner().ScanMigrations(mapFS(tt.files))

			if tt.expectedErr != nil {
				if !errors.Is(err, tt.expectedErr) {
					t.Fatalf("expected %v, got %v", tt.expectedErr, err)
				}
				if tt.errorContains != "" && !strings.Contains(err.Error(), tt.errorContains) {
					t.Fatalf("expected error to contain %q, got %q", tt.errorContains, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(migrations) != len(tt.expectedOrder) {
				t.Fatalf("expected %d migrations, got %d", len(tt.expectedOrder), len(migrations))
			}
			for i, version := range tt.expectedOrder {
				if migrations[i].Version != version {
					t.Fatalf("position %d: expected version %s, got %s", i, version, migrations[i].Version)
				}
			}
		})
	}
}

func TestFileScanner_DuplicateVersion(t *testing.T) {
	fsys := mapFS(map[string]string{
		"002_first.sql":          "CREATE TABLE a (id TEXT);",
		"002_second.sql":         "CREATE TABLE b (id TEXT);",
		"001_initial_schema.sql": "CREATE TABLE c (id TEXT);",
	})
	_, err := NewFileScanner().ScanMigrations(fsys)
	if !errors.Is(err, ErrDuplicateVersion) {
		t.Fatalf("expected ErrDuplicateVersion, got %v", err)
	}
}

func TestFileScanner_ParseMigrationFile(t *testing.T) {
	t.Run("prefers the header description", func(t *testing.T) {
		fsys := mapFS(map[string]string{
			"003_add_reviews.sql": "-- Migration: 003\n-- Description: Track listing reviewers\nALTER TABLE listings ADD COLUMN reviewed_by TEXT;",
		})
		migration, err := NewFileScanner().ParseMigrationFile(fsys, "003_add_reviews.sql")
		if err != nil {
			t.Fatalf("ParseMigrationFile failed: %v", err)
		}
		if migration.Description != "Track listing reviewers" {
			t.Fatalf("unexpected description %q", migration.Description)
		}
		if len(migration.Checksum) != 64 {
			t.Fatalf("expected sha256 hex checksum, got %q", migration.Checksum)
		}
	})

	t.Run("falls back to the filename", func(t *testing.T) {
		fsys := mapFS(map[string]string{
			"004_add_viewing_indexes.sql": "CREATE INDEX idx ON viewings(listing_id);",
		})
		migration, err := NewFileScanner().ParseMigrationFile(fsys, "004_add_viewing_indexes.sql")
		if err != nil {
			t.Fatalf("ParseMigrationFile failed: %v", err)
		}
		if migration.Description != "add viewing indexes" {
			t.Fatalf("unexpected description %q", migration.Description)
		}
	})

	t.Run("reports missing files", func(t *testing.T) {
		_, err := NewFileScanner().ParseMigrationFile(fstest.MapFS{}, "001_missing.sql")
		var fsErr *FileSystemError
		if !errors.As(err, &fsErr) {
			t.Fatalf("expected FileSystemError, got %v", err)
		}
	})
}

func TestSplitStatements(t *testing.T) {
	sql := "-- Description: demo\nCREATE TABLE a (id TEXT); -- trailing\n\n;CREATE TABLE b (id TEXT);\n"
	statements := splitStatements(sql)
	if len(statements) != 2 {
		t.Fatalf("expected 2 statements, got %d: %#v", len(statements), statements)
	}
	if statements[0] != "CREATE TABLE a (id TEXT)" {
		t.Fatalf("unexpected first statement %q", statements[0])
	}
}
