package cmds

import (
	"context"
	"time"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/projects"
	"github.com/go-go-golems/parley/pkg/workspace"
	"github.com/spf13/cobra"
)

const timeLayout = "2006-01-02 15:04"

// buildListCommand turns a glaze command into a cobra command with the glazed
// output flags (--output, --fields, --sort-columns, ...).
func buildListCommand(c cmds.GlazeCommand) *cobra.Command {
	cmd, err := cli.BuildCobraCommandFromGlazeCommand(c)
	cobra.CheckErr(err)
	return cmd
}

func newChatListCommand(env *Env) *cobra.Command {
	c, err := NewChatListCommand(env)
	cobra.CheckErr(err)
	return buildListCommand(c)
}

func newProjectListCommand(env *Env) *cobra.Command {
	c, err := NewProjectListCommand(env)
	cobra.CheckErr(err)
	return buildListCommand(c)
}

func newCategoryListCommand(env *Env) *cobra.Command {
	c, err := NewCategoryListCommand(env)
	cobra.CheckErr(err)
	return buildListCommand(c)
}

type ChatListCommand struct {
	*cmds.CommandDescription
	env *Env
}

var _ cmds.GlazeCommand = (*ChatListCommand)(nil)

type ChatListSettings struct {
	Project string `glazed.parameter:"project"`
	Orphans bool   `glazed.parameter:"orphans"`
	Search  string `glazed.parameter:"search"`
	Limit   int    `glazed.parameter:"limit"`
}

func NewChatListCommand(env *Env) (*ChatListCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, err
	}
	return &ChatListCommand{
		env: env,
		CommandDescription: cmds.NewCommandDescription(
			"list",
			cmds.WithShort("List chats, most recently updated first"),
			cmds.WithFlags(
				parameters.NewParameterDefinition(
					"project",
					parameters.ParameterTypeString,
					parameters.WithHelp("Only chats of this project"),
				),
				parameters.NewParameterDefinition(
					"orphans",
					parameters.ParameterTypeBool,
					parameters.WithHelp("Only chats without a project"),
					parameters.WithDefault(false),
				),
				parameters.NewParameterDefinition(
					"search",
					parameters.ParameterTypeString,
					parameters.WithHelp("Glob matched against titles, e.g. '*recursion*'"),
				),
				parameters.NewParameterDefinition(
					"limit",
					parameters.ParameterTypeInteger,
					parameters.WithHelp("Maximum number of chats, 0 for all"),
					parameters.WithDefault(0),
				),
			),
			cmds.WithLayersList(glazedParameterLayer),
		),
	}, nil
}

func (c *ChatListCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *layers.ParsedLayers,
	gp middlewares.Processor,
) error {
	s := &ChatListSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return err
	}

	return c.env.withWorkspace(ctx, false, func(ws *workspace.Workspace) error {
		var list []*conversation.Chat
		switch {
		case s.Search != "":
			found, err := ws.Chats().FindChats(ctx, s.Search)
			if err != nil {
				return err
			}
			list = found
		case s.Project != "":
			list = ws.Chats().ChatsByProject(ctx, s.Project)
		case s.Orphans:
			list = ws.Chats().OrphanChats(ctx)
		default:
			list = ws.Chats().RecentChats(ctx, s.Limit)
		}

		current := ws.Chats().CurrentChatID()
		for _, chat := range list {
			row := types.NewRow(
				types.MRP("id", chat.ID),
				types.MRP("title", chat.Title),
				types.MRP("project", chat.ProjectID),
				types.MRP("messages", len(chat.Messages)),
				types.MRP("current", chat.ID == current),
				types.MRP("updated", chat.UpdatedAt.In(time.Local).Format(timeLayout)),
			)
			if err := gp.AddRow(ctx, row); err != nil {
				return err
			}
		}
		return nil
	})
}

type ProjectListCommand struct {
	*cmds.CommandDescription
	env *Env
}

var _ cmds.GlazeCommand = (*ProjectListCommand)(nil)

type ProjectListSettings struct {
	Archived bool `glazed.parameter:"archived"`
	All      bool `glazed.parameter:"all"`
}

func NewProjectListCommand(env *Env) (*ProjectListCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, err
	}
	return &ProjectListCommand{
		env: env,
		CommandDescription: cmds.NewCommandDescription(
			"list",
			cmds.WithShort("List projects, newest first"),
			cmds.WithFlags(
				parameters.NewParameterDefinition(
					"archived",
					parameters.ParameterTypeBool,
					parameters.WithHelp("Only archived projects"),
					parameters.WithDefault(false),
				),
				parameters.NewParameterDefinition(
					"all",
					parameters.ParameterTypeBool,
					parameters.WithHelp("Include archived projects"),
					parameters.WithDefault(false),
				),
			),
			cmds.WithLayersList(glazedParameterLayer),
		),
	}, nil
}

func (c *ProjectListCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *layers.ParsedLayers,
	gp middlewares.Processor,
) error {
	s := &ProjectListSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return err
	}

	return c.env.withWorkspace(ctx, false, func(ws *workspace.Workspace) error {
		var list []*projects.Project
		if s.Archived {
			list = ws.Projects().ArchivedProjects(ctx)
		} else {
			list = ws.Projects().Projects(ctx, projects.ListOptions{IncludeArchived: s.All})
		}

		current := ws.Projects().CurrentProjectID()
		for _, p := range list {
			row := types.NewRow(
				types.MRP("id", p.ID),
				types.MRP("emoji", p.Emoji),
				types.MRP("name", p.Name),
				types.MRP("category", p.Category),
				types.MRP("model", string(p.DefaultModel)),
				types.MRP("chats", len(ws.Chats().ChatsByProject(ctx, p.ID))),
				types.MRP("archived", p.Archived),
				types.MRP("current", p.ID == current),
			)
			if err := gp.AddRow(ctx, row); err != nil {
				return err
			}
		}
		return nil
	})
}

type CategoryListCommand struct {
	*cmds.CommandDescription
	env *Env
}

var _ cmds.GlazeCommand = (*CategoryListCommand)(nil)

func NewCategoryListCommand(env *Env) (*CategoryListCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, err
	}
	return &CategoryListCommand{
		env: env,
		CommandDescription: cmds.NewCommandDescription(
			"list",
			cmds.WithShort("List built-in and custom categories"),
			cmds.WithLayersList(glazedParameterLayer),
		),
	}, nil
}

func (c *CategoryListCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	_ *layers.ParsedLayers,
	gp middlewares.Processor,
) error {
	return c.env.withWorkspace(ctx, false, func(ws *workspace.Workspace) error {
		for _, cat := range ws.Projects().Categories(ctx) {
			row := types.NewRow(
				types.MRP("id", cat.ID),
				types.MRP("emoji", cat.Emoji),
				types.MRP("name", cat.Name),
				types.MRP("custom", cat.Custom),
			)
			if err := gp.AddRow(ctx, row); err != nil {
				return err
			}
		}
		return nil
	})
}
