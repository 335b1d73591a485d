// ABOUTME: Connection factories producing single-connection SQLite handles with PRAGMA tuning.
// ABOUTME: File-backed and shared in-memory variants for pools of cooperating workers.

package sqlitedb

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// DriverName returns the registered SQL driver name for the selected
// build ("sqlite" pure Go, "sqlite3" CGO).
func DriverName() string { return driverName }

// DriverPackage identifies the driver implementation in use.
func DriverPackage() string { return driverPackage }

// settings are the PRAGMAs applied to every new handle.
type settings struct {
	wal         bool
	foreignKeys bool
	busyTimeout time.Duration
	synchronous string
	mmapSize    int64
	tempStore   string
}

func defaultSettings() settings {
	return settings{
		wal:         true,
		foreignKeys: true,
		busyTimeout: 5 * time.Second,
	}
}

// Option tunes the PRAGMAs applied when a handle is opened.
type Option func(*settings)

// WithWAL toggles WAL journal mode. On by default: concurrent readers
// need it once more than one worker touches the same database file.
func WithWAL(enabled bool) Option {
	return func(s *settings) { s.wal = enabled }
}

// WithForeignKeys toggles foreign key enforcement. On by default.
func WithForeignKeys(enabled bool) Option {
	return func(s *settings) { s.foreignKeys = enabled }
}

// WithBusyTimeout sets how long the engine waits on a locked database
// before returning SQLITE_BUSY. Defaults to 5s.
func WithBusyTimeout(d time.Duration) Option {
	return func(s *settings) { s.busyTimeout = d }
}

// WithSynchronous sets the synchronous level (OFF, NORMAL, FULL, EXTRA).
func WithSynchronous(level string) Option {
	return func(s *settings) { s.synchronous = level }
}

// WithMmapSize sets the memory-map size in bytes.
func WithMmapSize(bytes int64) Option {
	return func(s *settings) { s.mmapSize = bytes }
}

// WithTempStore sets where temporary tables live (DEFAULT, FILE, MEMORY).
func WithTempStore(store string) Option {
	return func(s *settings) { s.tempStore = store }
}

// Open opens one single-connection handle on the database file at path,
// creating parent directories as needed, and applies the PRAGMA tuning.
func Open(path string, opts ...Option) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	return open("file:"+path, opts...)
}

// OpenInMemory opens one single-connection handle on a named shared
// in-memory database. Handles opened with the same name see the same
// database, which is how a pool's workers share one memory instance; an
// empty name gets a fresh unique database.
func OpenInMemory(name string, opts ...Option) (*sql.DB, error) {
	if name == "" {
		name = uuid.NewString()
	}
	return open(memoryDSN(name), opts...)
}

func memoryDSN(name string) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
}

// Factory returns a connection factory producing a new single-connection
// handle on the given DSN per call; hand it to pool.Config.Factory. It is
// safe to call concurrently.
func Factory(dsn string, opts ...Option) func() (*sql.DB, error) {
	return func() (*sql.DB, error) {
		return open(dsn, opts...)
	}
}

// FileFactory is Factory over a database file path.
func FileFactory(path string, opts ...Option) func() (*sql.DB, error) {
	return Factory("file:"+path, opts...)
}

// MemoryFactory is Factory over a named shared in-memory database. An
// empty name is replaced with a unique one, chosen once, so every handle
// from the returned factory shares the same instance.
func MemoryFactory(name string, opts ...Option) func() (*sql.DB, error) {
	if name == "" {
		name = uuid.NewString()
	}
	return Factory(memoryDSN(name), opts...)
}

// open opens the DSN, caps the handle at exactly one underlying
// connection and applies the PRAGMA tuning.
func open(dsn string, opts ...Option) (*sql.DB, error) {
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One worker, one connection: the handle must never grow a second
	// physical connection behind the executor's back.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := applyPragmas(db, cfg); err != nil {
		db.Close()
		return nil, err
	}

	slog.Default().Debug("database handle opened",
		"component", "sqlitedb", "dsn", dsn, "driver", driverName)
	return db, nil
}

func applyPragmas(db *sql.DB, cfg settings) error {
	pragmas := make([]string, 0, 6)
	if cfg.busyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.busyTimeout.Milliseconds()))
	}
	if cfg.wal {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	if cfg.foreignKeys {
		pragmas = append(pragmas, "PRAGMA foreign_keys=ON")
	}
	if cfg.synchronous != "" {
		pragmas = append(pragmas, "PRAGMA synchronous="+cfg.synchronous)
	}
	if cfg.mmapSize > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA mmap_size=%d", cfg.mmapSize))
	}
	if cfg.tempStore != "" {
		pragmas = append(pragmas, "PRAGMA temp_store="+cfg.tempStore)
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("applying %q: %w", pragma, err)
		}
	}
	return nil
}
