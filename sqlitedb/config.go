// ABOUTME: TOML-backed deployment configuration for database location and pool sizing.
// ABOUTME: Loads, validates and turns into a connection factory.

package sqlitedb

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like
// "5s" or "250ms".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the file-loadable database configuration.
type Config struct {
	// Path locates the database file. Ignored when InMemory is set.
	Path string `toml:"path"`
	// InMemory uses a shared in-memory database instead of a file.
	InMemory bool `toml:"in_memory"`
	// MemoryName names the shared in-memory database; empty picks a
	// unique name.
	MemoryName string `toml:"memory_name"`
	// Connections is the pool's worker/connection count.
	Connections int `toml:"connections"`
	// StreamDepth bounds each streaming call's hand-off buffer.
	StreamDepth int `toml:"stream_depth"`
	// BusyTimeout is how long the engine waits on a locked database.
	BusyTimeout Duration `toml:"busy_timeout"`
	// WAL toggles WAL journal mode.
	WAL bool `toml:"wal"`
	// Synchronous sets the synchronous level; empty keeps the engine
	// default.
	Synchronous string `toml:"synchronous"`
}

// DefaultConfig returns the configuration used when a field is absent
// from the loaded file.
func DefaultConfig() Config {
	return Config{
		Connections: 4,
		StreamDepth: 128,
		BusyTimeout: Duration(5 * time.Second),
		WAL:         true,
	}
}

// Load reads and validates a TOML configuration file.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()
	return LoadReader(f)
}

// LoadReader decodes and validates TOML configuration from r. Absent
// fields keep their defaults; unknown keys are rejected.
func LoadReader(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	meta, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("unknown config keys: %v", undecoded)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for contradictions.
func (c Config) Validate() error {
	if !c.InMemory && c.Path == "" {
		return fmt.Errorf("config: either path or in_memory must be set")
	}
	if c.InMemory && c.Path != "" {
		return fmt.Errorf("config: path and in_memory are mutually exclusive")
	}
	if c.Connections < 1 {
		return fmt.Errorf("config: connections must be at least 1, got %d", c.Connections)
	}
	if c.StreamDepth < 1 {
		return fmt.Errorf("config: stream_depth must be at least 1, got %d", c.StreamDepth)
	}
	return nil
}

func (c Config) options() []Option {
	opts := []Option{
		WithWAL(c.WAL),
		WithBusyTimeout(time.Duration(c.BusyTimeout)),
	}
	if c.Synchronous != "" {
		opts = append(opts, WithSynchronous(c.Synchronous))
	}
	return opts
}

// Factory returns the connection factory described by the configuration,
// suitable for pool.Config.Factory.
func (c Config) Factory() func() (*sql.DB, error) {
	if c.InMemory {
		return MemoryFactory(c.MemoryName, c.options()...)
	}
	return FileFactory(c.Path, c.options()...)
}
