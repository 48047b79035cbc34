package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-go-golems/parley/pkg/errdefs"
	"github.com/go-go-golems/parley/pkg/persistence"
	"github.com/go-go-golems/parley/pkg/storage"
	"github.com/go-go-golems/parley/pkg/streaming"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const AppName = "parley"

type StorageConfig struct {
	Backend   string `mapstructure:"backend" yaml:"backend"`
	Path      string `mapstructure:"path" yaml:"path"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
	// Watch reconciles changes written by other processes sharing the storage.
	Watch bool `mapstructure:"watch" yaml:"watch"`
}

type PersistenceConfig struct {
	FlushDelay time.Duration `mapstructure:"flush-delay" yaml:"flush-delay"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

type Config struct {
	Storage     StorageConfig     `mapstructure:"storage" yaml:"storage"`
	Streaming   streaming.Config  `mapstructure:"streaming" yaml:"streaming"`
	Persistence PersistenceConfig `mapstructure:"persistence" yaml:"persistence"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	sd := streaming.DefaultConfig()
	v.SetDefault("storage.backend", storage.BackendFile)
	v.SetDefault("storage.path", filepath.Join("~", "."+AppName, "data"))
	v.SetDefault("storage.namespace", persistence.DefaultNamespace)
	v.SetDefault("storage.watch", false)
	v.SetDefault("streaming.tick-interval", sd.TickInterval)
	v.SetDefault("streaming.batch-size", sd.BatchSize)
	v.SetDefault("streaming.start-delay", sd.StartDelay)
	v.SetDefault("persistence.flush-delay", persistence.DefaultFlushDelay)
	v.SetDefault("server.addr", "127.0.0.1:8089")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.with-caller", false)
}

// Load reads the effective configuration from v.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "could not decode configuration")
	}

	path, err := ExpandHome(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	cfg.Storage.Path = path
	if cfg.Log.File != "" {
		if cfg.Log.File, err = ExpandHome(cfg.Log.File); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case storage.BackendMemory, storage.BackendFile, storage.BackendSQLite:
	default:
		return errdefs.InvalidArgument("storage.backend", "unknown backend "+c.Storage.Backend)
	}
	if c.Storage.Backend != storage.BackendMemory && c.Storage.Path == "" {
		return errdefs.InvalidArgument("storage.path", "must not be empty")
	}
	if c.Persistence.FlushDelay < 0 {
		return errdefs.InvalidArgument("persistence.flush-delay", "must not be negative")
	}
	if err := c.Streaming.Validate(); err != nil {
		return err
	}
	return c.Log.Validate()
}

// StorageOptions converts the storage section for storage.Open.
func (c *Config) StorageOptions() storage.Options {
	return storage.Options{Backend: c.Storage.Backend, Path: c.Storage.Path}
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") && !strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "could not resolve home directory")
	}
	return filepath.Join(home, path[1:]), nil
}
