// ABOUTME: Configuration loading tests: TOML decoding, defaults, validation.

package sqlitedb

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadReader_Defaults(t *testing.T) {
	cfg, err := LoadReader(strings.NewReader(`path = "/var/lib/app/app.db"`))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/app/app.db", cfg.Path)
	assert.Equal(t, 4, cfg.Connections)
	assert.Equal(t, 128, cfg.StreamDepth)
	assert.Equal(t, Duration(5*time.Second), cfg.BusyTimeout)
	assert.True(t, cfg.WAL)
	assert.False(t, cfg.InMemory)
}

func TestLoadReader_FullConfig(t *testing.T) {
	cfg, err := LoadReader(strings.NewReader(`
in_memory = true
memory_name = "testdb"
connections = 8
stream_depth = 32
busy_timeout = "250ms"
wal = false
synchronous = "NORMAL"
`))
	require.NoError(t, err)

	assert.True(t, cfg.InMemory)
	assert.Equal(t, "testdb", cfg.MemoryName)
	assert.Equal(t, 8, cfg.Connections)
	assert.Equal(t, 32, cfg.StreamDepth)
	assert.Equal(t, Duration(250*time.Millisecond), cfg.BusyTimeout)
	assert.False(t, cfg.WAL)
	assert.Equal(t, "NORMAL", cfg.Synchronous)
}

func TestLoadReader_UnknownKeys(t *testing.T) {
	_, err := LoadReader(strings.NewReader(`
path = "app.db"
journal = "wal"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config keys")
}

func TestLoadReader_BadDuration(t *testing.T) {
	_, err := LoadReader(strings.NewReader(`
path = "app.db"
busy_timeout = "soon"
`))
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "no location",
			mutate:  func(c *Config) {},
			wantErr: "either path or in_memory",
		},
		{
			name: "both locations",
			mutate: func(c *Config) {
				c.Path = "app.db"
				c.InMemory = true
			},
			wantErr: "mutually exclusive",
		},
		{
			name: "zero connections",
			mutate: func(c *Config) {
				c.Path = "app.db"
				c.Connections = 0
			},
			wantErr: "connections",
		},
		{
			name: "zero stream depth",
			mutate: func(c *Config) {
				c.Path = "app.db"
				c.StreamDepth = 0
			},
			wantErr: "stream_depth",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	cfg := DefaultConfig()
	cfg.Path = "app.db"
	require.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db.toml")
	require.NoError(t, os.WriteFile(path, []byte(`path = "`+filepath.Join(dir, "app.db")+`"`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "app.db"), cfg.Path)

	_, err = Load(filepath.Join(dir, "missing.toml"))
	require.Error(t, err)
}

func TestConfig_Factory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "from-config.db")

	db, err := cfg.Factory()()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Ping())
	assert.Equal(t, 1, db.Stats().MaxOpenConnections)

	mem := DefaultConfig()
	mem.InMemory = true
	mdb, err := mem.Factory()()
	require.NoError(t, err)
	t.Cleanup(func() { mdb.Close() })
	require.NoError(t, mdb.Ping())
}
