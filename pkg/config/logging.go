package config

import (
	"io"
	"os"

	"github.com/go-go-golems/parley/pkg/errdefs"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file"`
	WithCaller bool   `mapstructure:"with-caller" yaml:"with-caller"`
}

func (c LogConfig) Validate() error {
	if c.Level != "" {
		if _, err := zerolog.ParseLevel(c.Level); err != nil {
			return errdefs.InvalidArgument("log.level", "unknown level "+c.Level)
		}
	}
	switch c.Format {
	case "", "text", "json":
		return nil
	default:
		return errdefs.InvalidArgument("log.format", "must be text or json")
	}
}

// InitLogger configures the global zerolog logger. Text output is colored only on a
// terminal; a log file, when set, is rotated by lumberjack.
func InitLogger(cfg LogConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := zerolog.New(newLogWriter(cfg, os.Stderr)).With().Timestamp().Logger()
	if cfg.WithCaller {
		logger = logger.With().Caller().Logger()
	}
	log.Logger = logger

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		level, _ = zerolog.ParseLevel(cfg.Level)
	}
	zerolog.SetGlobalLevel(level)
	return nil
}

func newLogWriter(cfg LogConfig, out *os.File) io.Writer {
	var w io.Writer = out
	if cfg.Format != "json" {
		w = zerolog.ConsoleWriter{Out: out, NoColor: !isatty.IsTerminal(out.Fd())}
	}
	if cfg.File == "" {
		return w
	}
	return io.MultiWriter(w, zerolog.ConsoleWriter{
		NoColor: true,
		Out: &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		},
	})
}
