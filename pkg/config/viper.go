package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// InitViper loads an optional .env file, discovers the config file and binds the
// persistent flags of root. Keys are read from PARLEY_* environment variables with
// dashes and dots mapped to underscores.
func InitViper(v *viper.Viper, root *cobra.Command, configPath string) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "could not load .env")
	}

	v.SetEnvPrefix(AppName)
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/." + AppName)
		if xdg, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(xdg, AppName))
		}
	}

	err := v.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		// no config file, defaults and environment apply
	} else if err != nil {
		return errors.Wrap(err, "could not read config file")
	}
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if root != nil {
		var bindErr error
		root.PersistentFlags().VisitAll(func(f *pflag.Flag) {
			if bindErr == nil {
				bindErr = v.BindPFlag(FlagKey(f.Name), f)
			}
		})
		if bindErr != nil {
			return errors.Wrap(bindErr, "could not bind flags")
		}
	}

	log.Debug().Str("config", v.ConfigFileUsed()).Msg("loaded configuration")
	return nil
}

// FlagKey maps a flag name to its config key: the first dash separates the section,
// so --log-with-caller sets log.with-caller.
func FlagKey(flag string) string {
	return strings.Replace(flag, "-", ".", 1)
}

// Settings returns the configuration as plain values, durations as strings.
func (c *Config) Settings() map[string]interface{} {
	d := func(x time.Duration) string { return x.String() }
	return map[string]interface{}{
		"storage": map[string]interface{}{
			"backend":   c.Storage.Backend,
			"path":      c.Storage.Path,
			"namespace": c.Storage.Namespace,
			"watch":     c.Storage.Watch,
		},
		"streaming": map[string]interface{}{
			"tick-interval": d(c.Streaming.TickInterval),
			"batch-size":    c.Streaming.BatchSize,
			"start-delay":   d(c.Streaming.StartDelay),
		},
		"persistence": map[string]interface{}{
			"flush-delay": d(c.Persistence.FlushDelay),
		},
		"server": map[string]interface{}{
			"addr": c.Server.Addr,
		},
		"log": map[string]interface{}{
			"level":       c.Log.Level,
			"format":      c.Log.Format,
			"file":        c.Log.File,
			"with-caller": c.Log.WithCaller,
		},
	}
}
