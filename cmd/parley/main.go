package main

import (
	"os"

	"github.com/go-go-golems/parley/cmd/parley/cmds"
	"github.com/go-go-golems/parley/pkg/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRootCommand() *cobra.Command {
	env := &cmds.Env{}
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:           "parley",
		Short:         "parley keeps your conversations, projects and settings",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			if err := config.InitViper(v, cmd.Root(), configPath); err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			if err := config.InitLogger(cfg.Log); err != nil {
				return err
			}
			env.Config = cfg
			env.Out = cmd.OutOrStdout()
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Path to config file (default ~/.parley/config.yaml)")
	pf.String("storage-backend", "", "Storage backend: file, sqlite or memory")
	pf.String("storage-path", "", "Directory or database file of the storage backend")
	pf.String("storage-namespace", "", "Prefix of the storage keys")
	pf.Bool("storage-watch", false, "Pick up changes written by other instances")
	pf.String("log-level", "", "Log level (trace, debug, info, warn, error)")
	pf.String("log-format", "", "Log format (json, text)")
	pf.String("log-file", "", "Log file, rotated (default: stderr only)")
	pf.Bool("log-with-caller", false, "Log caller")

	cmds.Register(rootCmd, env)
	return rootCmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
