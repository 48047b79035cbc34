package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-go-golems/parley/pkg/errdefs"
	"github.com/go-go-golems/parley/pkg/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New())
	require.NoError(t, err)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, storage.BackendFile, cfg.Storage.Backend)
	assert.Equal(t, filepath.Join(home, ".parley", "data"), cfg.Storage.Path)
	assert.Equal(t, "parley", cfg.Storage.Namespace)
	assert.Equal(t, 20*time.Millisecond, cfg.Streaming.TickInterval)
	assert.Equal(t, 3, cfg.Streaming.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Streaming.StartDelay)
	assert.Equal(t, 250*time.Millisecond, cfg.Persistence.FlushDelay)
	assert.Equal(t, "127.0.0.1:8089", cfg.Server.Addr)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  backend: sqlite
  path: /tmp/parley-test
streaming:
  tick-interval: 5ms
  batch-size: 8
log:
  level: debug
  format: json
`), 0o644))

	v := viper.New()
	require.NoError(t, InitViper(v, nil, path))
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, storage.BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, "/tmp/parley-test", cfg.Storage.Path)
	assert.Equal(t, 5*time.Millisecond, cfg.Streaming.TickInterval)
	assert.Equal(t, 8, cfg.Streaming.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Streaming.StartDelay)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("PARLEY_STORAGE_BACKEND", "memory")
	t.Setenv("PARLEY_STREAMING_BATCH_SIZE", "5")

	v := viper.New()
	require.NoError(t, InitViper(v, nil, ""))
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, storage.BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, 5, cfg.Streaming.BatchSize)
}

func TestFlagsBindToSectionKeys(t *testing.T) {
	root := &cobra.Command{Use: "parley"}
	root.PersistentFlags().String("storage-backend", "", "")
	root.PersistentFlags().Bool("log-with-caller", false, "")
	require.NoError(t, root.PersistentFlags().Parse([]string{"--storage-backend", "memory", "--log-with-caller"}))

	v := viper.New()
	require.NoError(t, InitViper(v, root, ""))
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, storage.BackendMemory, cfg.Storage.Backend)
	assert.True(t, cfg.Log.WithCaller)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(v *viper.Viper){
		"backend":     func(v *viper.Viper) { v.Set("storage.backend", "redis") },
		"batch size":  func(v *viper.Viper) { v.Set("streaming.batch-size", 0) },
		"flush delay": func(v *viper.Viper) { v.Set("persistence.flush-delay", "-1s") },
		"log level":   func(v *viper.Viper) { v.Set("log.level", "loud") },
		"log format":  func(v *viper.Viper) { v.Set("log.format", "xml") },
	}
	for name, set := range cases {
		t.Run(name, func(t *testing.T) {
			v := viper.New()
			set(v)
			_, err := Load(v)
			assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)
		})
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	got, err := ExpandHome("~/x/y")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "x", "y"), got)

	got, err = ExpandHome("/abs/~/path")
	require.NoError(t, err)
	assert.Equal(t, "/abs/~/path", got)
}

func TestInitLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.log")
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json", File: path}))
	assert.Error(t, InitLogger(LogConfig{Format: "xml"}))
	assert.Equal(t, "parley", FlagKey("parley"))
	assert.Equal(t, "log.with-caller", FlagKey("log-with-caller"))
}
