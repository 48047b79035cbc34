package cmds

import (
	"github.com/go-go-golems/parley/pkg/errdefs"
	"github.com/go-go-golems/parley/pkg/models"
	"github.com/go-go-golems/parley/pkg/settings"
	"github.com/go-go-golems/parley/pkg/workspace"
	"github.com/spf13/cobra"
)

func newSettingsCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show and change user settings",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return env.withWorkspace(cmd.Context(), false, func(ws *workspace.Workspace) error {
				return env.printYAML(ws.Settings().Get())
			})
		},
	}

	set := &cobra.Command{
		Use:   "set",
		Short: "Change the settings given as flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := settingsUpdateFromFlags(cmd)
			if err != nil {
				return err
			}
			return env.withWorkspace(cmd.Context(), false, func(ws *workspace.Workspace) error {
				updated, err := ws.UpdateSettings(cmd.Context(), u)
				if err != nil {
					return err
				}
				return env.printYAML(updated)
			})
		},
	}
	set.Flags().String("default-model", "", "Default model for new chats")
	set.Flags().Bool("web-search", true, "Enable web search")
	set.Flags().Bool("file-attachments", true, "Allow file attachments")
	set.Flags().Int("max-file-size", 0, "Maximum attachment size in MB")
	set.Flags().Int("max-attachments", 0, "Maximum number of attachments per message")

	cmd.AddCommand(show, set)
	return cmd
}

func settingsUpdateFromFlags(cmd *cobra.Command) (settings.Update, error) {
	var u settings.Update
	f := cmd.Flags()
	if f.Changed("default-model") {
		raw, _ := f.GetString("default-model")
		tag, err := models.Parse(raw)
		if err != nil {
			return u, err
		}
		if tag.IsZero() {
			return u, errdefs.InvalidArgument("default-model", "must not be empty")
		}
		u.DefaultModel = &tag
	}
	if f.Changed("web-search") {
		v, _ := f.GetBool("web-search")
		u.EnableWebSearch = &v
	}
	if f.Changed("file-attachments") {
		v, _ := f.GetBool("file-attachments")
		u.EnableFileAttachments = &v
	}
	if f.Changed("max-file-size") {
		v, _ := f.GetInt("max-file-size")
		u.MaxFileSizeMB = &v
	}
	if f.Changed("max-attachments") {
		v, _ := f.GetInt("max-attachments")
		u.MaxAttachments = &v
	}
	return u, nil
}
