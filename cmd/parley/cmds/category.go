package cmds

import (
	"strings"

	"github.com/go-go-golems/parley/pkg/workspace"
	"github.com/spf13/cobra"
)

func newCategoryCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "category",
		Short: "Manage project categories",
	}

	list := newCategoryListCommand(env)

	var emoji string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a custom category",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withWorkspace(cmd.Context(), false, func(ws *workspace.Workspace) error {
				id, err := ws.AddCategory(cmd.Context(), strings.Join(args, " "), emoji)
				if err != nil {
					return err
				}
				env.printf("%s\n", id)
				return nil
			})
		},
	}
	add.Flags().StringVar(&emoji, "emoji", "📁", "Emoji of the category")

	remove := &cobra.Command{
		Use:   "remove <category-id>",
		Short: "Remove a custom category; its projects become uncategorized",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withWorkspace(cmd.Context(), false, func(ws *workspace.Workspace) error {
				return ws.RemoveCategory(cmd.Context(), args[0])
			})
		},
	}

	cmd.AddCommand(list, add, remove)
	return cmd
}
