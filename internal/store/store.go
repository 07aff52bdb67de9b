// Package store persists tasks, attempts and the append-only task event log.
//
// The store is the source of truth for task state. Kanban backends mirror
// it; on conflict the store wins under the internal-primary policy. Rows are
// materialized from events so a rebuilt database replays to the same state.
package store

import (
	"context"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/openfleet/bosun/internal/store/driver"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// timeFormat is how timestamps are stored in TEXT columns, both dialects.
const timeFormat = time.RFC3339

// Store wraps a database connection with driver abstraction.
type Store struct {
	drv driver.Driver
	now func() time.Time

	// sink receives every appended event, when set. Used to feed the live
	// event stream without coupling the store to transport.
	sink func(Event)
}

// Open opens the SQLite task store at path, creating parent directories and
// applying migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return OpenWithDialect(path, driver.DialectSQLite)
}

// OpenInMemory opens an isolated in-memory SQLite store. Intended for tests.
func OpenInMemory() (*Store, error) {
	return OpenWithDialect(":memory:", driver.DialectSQLite)
}

// OpenWithDialect opens a store with a specific dialect and DSN.
func OpenWithDialect(dsn string, dialect driver.Dialect) (*Store, error) {
	drv, err := driver.New(dialect)
	if err != nil {
		return nil, err
	}
	if err := drv.Open(dsn); err != nil {
		return nil, err
	}
	if err := drv.Migrate(context.Background(), schemaFS); err != nil {
		_ = drv.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{drv: drv, now: time.Now}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.drv.Close()
}

// SetEventSink registers a callback invoked for every newly appended event.
// Replayed duplicates do not reach the sink.
func (s *Store) SetEventSink(sink func(Event)) {
	s.sink = sink
}

// SetClock injects a clock for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// ph returns the dialect placeholder for a 1-based index.
func (s *Store) ph(i int) string {
	return s.drv.Placeholder(i)
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(timeFormat)
}

func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeFormat, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
