package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-go-golems/parley/pkg/config"
	"github.com/go-go-golems/parley/pkg/storage"
	"github.com/go-go-golems/parley/pkg/workspace"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tcnksm/go-input"
	"gopkg.in/yaml.v3"
)

// Env is shared by all commands. Config is set by the root command before any
// subcommand runs.
type Env struct {
	Config *config.Config
	Out    io.Writer
}

// Register adds every parley command to root.
func Register(root *cobra.Command, env *Env) {
	root.AddCommand(
		newChatCommand(env),
		newProjectCommand(env),
		newCategoryCommand(env),
		newSettingsCommand(env),
		newServeCommand(env),
		newExportCommand(env),
		newConfigCommand(env),
	)
}

// withWorkspace opens the configured workspace, runs fn and closes the workspace,
// flushing pending writes.
func (e *Env) withWorkspace(ctx context.Context, watch bool, fn func(ws *workspace.Workspace) error) (err error) {
	if e.Config == nil {
		return errors.New("configuration not loaded")
	}
	backend, err := storage.Open(e.Config.StorageOptions())
	if err != nil {
		return errors.Wrap(err, "could not open storage")
	}
	defer func() {
		if cerr := backend.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "could not close storage")
		}
	}()

	ws, err := workspace.Open(ctx, workspace.Options{
		Backend:    backend,
		Namespace:  e.Config.Storage.Namespace,
		Streaming:  e.Config.Streaming,
		FlushDelay: e.Config.Persistence.FlushDelay,
		Watch:      watch,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := ws.Close(context.Background()); cerr != nil {
			log.Error().Err(cerr).Msg("could not close workspace")
			if err == nil {
				err = cerr
			}
		}
	}()

	return fn(ws)
}

func (e *Env) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(e.Out, format, args...)
}

func (e *Env) printYAML(v interface{}) error {
	enc := yaml.NewEncoder(e.Out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return errors.Wrap(err, "could not encode yaml")
	}
	return enc.Close()
}

// confirm asks a yes/no question on the terminal. Without a terminal, only --yes
// allows destructive commands.
func confirm(cmd *cobra.Command, question string) (bool, error) {
	if yes, _ := cmd.Flags().GetBool("yes"); yes {
		return true, nil
	}
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return false, errors.New("not a terminal, pass --yes to confirm")
	}

	ui := &input.UI{Writer: os.Stderr, Reader: os.Stdin}
	answer, err := ui.Ask(question+" [y/n]", &input.Options{
		Default:  "n",
		Required: true,
		Loop:     true,
		ValidateFunc: func(answer string) error {
			switch strings.ToLower(answer) {
			case "y", "n":
				return nil
			default:
				return fmt.Errorf("please enter 'y' or 'n'")
			}
		},
	})
	if err != nil {
		return false, errors.Wrap(err, "could not read answer")
	}
	return strings.EqualFold(answer, "y"), nil
}
