package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/rental-broker/internal/logging"
	"github.com/example/rental-broker/internal/persistence"
	"github.com/example/rental-broker/internal/persistence/memory"
	"github.com/example/rental-broker/internal/persistence/sqlstore"
)

// StoreHarness exposes every repository of one backing store.
type StoreHarness struct {
	Name      string
	Users     persistence.UserRepository
	Listings  persistence.ListingRepository
	Viewings  persistence.ViewingRepository
	Sessions  persistence.SessionRepository
	Favorites persistence.FavoriteRepository

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *StoreHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness opens a migrated SQLite store in a temporary file. The
// store is closed when the test finishes.
func NewSQLiteHarness(tb testing.TB) *StoreHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "broker.db")
	store, err := sqlstore.Open(context.Background(), sqlstore.TempFileTestConfig(path), logging.Discard())
	if err != nil {
		tb.Fatalf("failed to open sqlite store: %v", err)
	}

	harness := &StoreHarness{
		Name:      "sqlite",
		Users:     store,
		Listings:  store,
		Viewings:  store,
		Sessions:  store,
		Favorites: store,
		cleanup:   func() { _ = store.Close() },
	}
	tb.Cleanup(harness.Close)
	return harness
}

// NewMemoryHarness returns a harness over an empty memory store.
func NewMemoryHarness(tb testing.TB) *StoreHarness {
	tb.Helper()
	store := memory.New()
	return &StoreHarness{
		Name:      "memory",
		Users:     store,
		Listings:  store,
		Viewings:  store,
		Sessions:  store,
		Favorites: store,
		cleanup:   func() { _ = store.Close() },
	}
}

// HarnessFactory opens a fresh harness for a test.
type HarnessFactory func(tb testing.TB) *StoreHarness

// AllStores lists a factory for every store implementation so contract tests
// can run the same cases against each of them.
func AllStores() []HarnessFactory {
	return []HarnessFactory{NewMemoryHarness, NewSQLiteHarness}
}
