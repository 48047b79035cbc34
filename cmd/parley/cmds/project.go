package cmds

import (
	"strings"

	"github.com/go-go-golems/parley/pkg/models"
	"github.com/go-go-golems/parley/pkg/projects"
	"github.com/go-go-golems/parley/pkg/workspace"
	"github.com/spf13/cobra"
)

func newProjectCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}
	cmd.AddCommand(
		newProjectCreateCommand(env),
		newProjectListCommand(env),
		newProjectUpdateCommand(env),
		newProjectArchiveCommand(env, true),
		newProjectArchiveCommand(env, false),
		newProjectDeleteCommand(env),
		newProjectSelectCommand(env),
	)
	return cmd
}

func addProjectFlags(cmd *cobra.Command) {
	cmd.Flags().String("category", "", "Category id")
	cmd.Flags().String("emoji", "", "Emoji shown next to the name")
	cmd.Flags().String("description", "", "Description")
	cmd.Flags().String("instructions", "", "Instructions for the assistant")
	cmd.Flags().String("model", "", "Default model of the project's chats")
	cmd.Flags().Bool("web", false, "Enable web search")
}

// projectUpdateFromFlags only sets fields whose flag was given.
func projectUpdateFromFlags(cmd *cobra.Command) (projects.ProjectUpdate, error) {
	var u projects.ProjectUpdate
	str := func(name string) *string {
		if !cmd.Flags().Changed(name) {
			return nil
		}
		v, _ := cmd.Flags().GetString(name)
		return &v
	}
	u.Name = str("name")
	u.Category = str("category")
	u.Emoji = str("emoji")
	u.Description = str("description")
	u.Instructions = str("instructions")
	if raw := str("model"); raw != nil {
		tag, err := models.Parse(*raw)
		if err != nil {
			return u, err
		}
		u.DefaultModel = &tag
	}
	if cmd.Flags().Changed("web") {
		web, _ := cmd.Flags().GetBool("web")
		u.WebEnabled = &web
	}
	return u, nil
}

func newProjectCreateCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a project",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := projectUpdateFromFlags(cmd)
			if err != nil {
				return err
			}
			spec := projects.ProjectSpec{Name: strings.Join(args, " ")}
			if u.Category != nil {
				spec.Category = *u.Category
			}
			if u.Emoji != nil {
				spec.Emoji = *u.Emoji
			}
			if u.Description != nil {
				spec.Description = *u.Description
			}
			if u.Instructions != nil {
				spec.Instructions = *u.Instructions
			}
			if u.DefaultModel != nil {
				spec.DefaultModel = *u.DefaultModel
			}
			if u.WebEnabled != nil {
				spec.WebEnabled = *u.WebEnabled
			}
			return env.withWorkspace(cmd.Context(), false, func(ws *workspace.Workspace) error {
				id, err := ws.CreateProject(cmd.Context(), spec)
				if err != nil {
					return err
				}
				env.printf("%s\n", id)
				return nil
			})
		},
	}
	addProjectFlags(cmd)
	return cmd
}

func newProjectUpdateCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <project-id>",
		Short: "Change fields of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := projectUpdateFromFlags(cmd)
			if err != nil {
				return err
			}
			return env.withWorkspace(cmd.Context(), false, func(ws *workspace.Workspace) error {
				return ws.UpdateProject(cmd.Context(), args[0], u)
			})
		},
	}
	cmd.Flags().String("name", "", "New name")
	addProjectFlags(cmd)
	return cmd
}

func newProjectArchiveCommand(env *Env, archive bool) *cobra.Command {
	use, short := "archive <project-id>", "Archive a project"
	if !archive {
		use, short = "unarchive <project-id>", "Restore an archived project"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withWorkspace(cmd.Context(), false, func(ws *workspace.Workspace) error {
				if archive {
					return ws.ArchiveProject(cmd.Context(), args[0])
				}
				return ws.UnarchiveProject(cmd.Context(), args[0])
			})
		},
	}
}

func newProjectDeleteCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a project; its chats are kept without a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return env.withWorkspace(ctx, false, func(ws *workspace.Workspace) error {
				p, err := ws.Projects().Project(ctx, args[0])
				if err != nil {
					return err
				}
				ok, err := confirm(cmd, "Delete project \""+p.Name+"\"?")
				if err != nil || !ok {
					return err
				}
				return ws.DeleteProject(ctx, p.ID)
			})
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newProjectSelectCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "select [project-id]",
		Short: "Select a project; without an id the selection is cleared",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return env.withWorkspace(cmd.Context(), false, func(ws *workspace.Workspace) error {
				return ws.SelectProject(cmd.Context(), id)
			})
		},
	}
}
