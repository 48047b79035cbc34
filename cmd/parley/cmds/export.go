package cmds

import (
	"encoding/json"
	"os"

	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/errdefs"
	"github.com/go-go-golems/parley/pkg/projects"
	"github.com/go-go-golems/parley/pkg/settings"
	"github.com/go-go-golems/parley/pkg/workspace"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type exportDocument struct {
	Projects         []*projects.Project  `json:"projects" yaml:"projects"`
	CustomCategories []projects.Category  `json:"customCategories" yaml:"customCategories"`
	Chats            []*conversation.Chat `json:"chats" yaml:"chats"`
	Settings         settings.Settings    `json:"settings" yaml:"settings"`
	CurrentChatID    string               `json:"currentChatId,omitempty" yaml:"currentChatId,omitempty"`
	CurrentProjectID string               `json:"currentProjectId,omitempty" yaml:"currentProjectId,omitempty"`
}

func newExportCommand(env *Env) *cobra.Command {
	var output, format string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every chat, project and setting as YAML or JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "yaml" && format != "json" {
				return errdefs.InvalidArgument("format", "must be yaml or json")
			}
			return env.withWorkspace(cmd.Context(), false, func(ws *workspace.Workspace) error {
				chats := ws.Chats().Snapshot()
				ps := ws.Projects().Snapshot()
				doc := exportDocument{
					Projects:         ps.Projects,
					CustomCategories: ws.Projects().CustomCategories(cmd.Context()),
					Chats:            chats.Chats,
					Settings:         ws.Settings().Get(),
					CurrentChatID:    chats.CurrentChatID,
					CurrentProjectID: ps.CurrentProjectID,
				}

				out := *env
				if output != "" && output != "-" {
					f, err := os.Create(output)
					if err != nil {
						return errors.Wrap(err, "could not create export file")
					}
					defer f.Close()
					out.Out = f
				}
				if format == "json" {
					enc := json.NewEncoder(out.Out)
					enc.SetIndent("", "  ")
					return errors.Wrap(enc.Encode(doc), "could not encode json")
				}
				return out.printYAML(doc)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "-", "Output file, - for stdout")
	cmd.Flags().StringVar(&format, "format", "yaml", "Output format: yaml or json")
	return cmd
}
