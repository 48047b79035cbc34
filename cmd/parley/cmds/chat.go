package cmds

import (
	"context"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/models"
	"github.com/go-go-golems/parley/pkg/streaming"
	"github.com/go-go-golems/parley/pkg/workspace"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newChatCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Create, list and talk to chats",
	}
	cmd.AddCommand(
		newChatNewCommand(env),
		newChatListCommand(env),
		newChatShowCommand(env),
		newChatSendCommand(env),
		newChatRenameCommand(env),
		newChatDeleteCommand(env),
		newChatMoveCommand(env),
		newChatSelectCommand(env),
		newChatCancelCommand(env),
	)
	return cmd
}

func newChatNewCommand(env *Env) *cobra.Command {
	var projectID, title string
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Start an empty chat and select it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return env.withWorkspace(cmd.Context(), false, func(ws *workspace.Workspace) error {
				id, err := ws.CreateChat(cmd.Context(), conversation.CreateChatOptions{ProjectID: projectID, Title: title})
				if err != nil {
					return err
				}
				env.printf("%s\n", id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "Project the chat belongs to")
	cmd.Flags().StringVar(&title, "title", "", "Initial title")
	return cmd
}

func newChatShowCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "show [chat-id]",
		Short: "Print a chat, the current chat by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return env.withWorkspace(ctx, false, func(ws *workspace.Workspace) error {
				if len(args) == 0 {
					c, ok := ws.Chats().CurrentChat(ctx)
					if !ok {
						return errors.New("no chat selected")
					}
					return env.printYAML(c)
				}
				c, err := ws.Chats().Chat(ctx, args[0])
				if err != nil {
					return err
				}
				return env.printYAML(c)
			})
		},
	}
}

func newChatSendCommand(env *Env) *cobra.Command {
	var (
		chatID  string
		model   string
		attach  []string
		current bool
	)
	cmd := &cobra.Command{
		Use:   "send <message>...",
		Short: "Send a message and print the streamed reply",
		Long: "Send a message to a chat and wait for the reply. Without --chat or --current a new " +
			"chat is started in the selected project. Interrupting keeps the partial reply.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tag, err := models.Parse(model)
			if err != nil {
				return err
			}
			attachments, err := readAttachments(attach)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			return env.withWorkspace(cmd.Context(), false, func(ws *workspace.Workspace) error {
				target := chatID
				if current {
					target = ws.Chats().CurrentChatID()
					if target == "" {
						return errors.New("no chat selected")
					}
				}
				return sendAndStream(ctx, env, ws, workspace.SendOptions{
					ChatID:      target,
					Content:     strings.Join(args, " "),
					Model:       tag,
					Attachments: attachments,
				})
			})
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "Chat to send to")
	cmd.Flags().BoolVar(&current, "current", false, "Send to the selected chat")
	cmd.Flags().StringVar(&model, "model", "", "Model: Auto, Claude, ChatGPT, Gemini or Perplexity")
	cmd.Flags().StringSliceVar(&attach, "attach", nil, "File to attach, may be repeated")
	return cmd
}

// sendAndStream prints deltas as they arrive when stdout is a terminal, and only the
// final reply otherwise. A cancelled ctx cancels the stream.
func sendAndStream(ctx context.Context, env *Env, ws *workspace.Workspace, opts workspace.SendOptions) error {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, err := ws.Bus().Subscribe(subCtx, events.Filter{Types: []events.EventType{events.EventTypeMessageContent}})
	if err != nil {
		return err
	}

	res, err := ws.SendMessage(ctx, opts)
	if err != nil {
		return err
	}

	live := isatty.IsTerminal(os.Stdout.Fd())
	printed := 0
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				ch = nil
				continue
			}
			c, isContent := ev.(*events.EventMessageContent)
			if live && isContent && c.Metadata().ChatID == res.ChatID {
				env.printf("%s", c.Content[printed:])
				printed = len(c.Content)
			}
			continue
		case <-res.Run.Done():
		case <-ctx.Done():
			ws.CancelStream(context.Background(), res.ChatID)
		}
		break
	}

	state, _ := res.Run.Wait(context.Background())
	content := res.Run.Content()
	if printed < len(content) {
		env.printf("%s", content[printed:])
	}
	env.printf("\n")
	if state == streaming.StateCancelled {
		env.printf("[cancelled: %s]\n", res.Run.Reason())
	}
	return nil
}

func readAttachments(paths []string) ([]*conversation.Attachment, error) {
	ret := make([]*conversation.Attachment, 0, len(paths))
	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			return nil, errors.Wrapf(err, "could not read attachment %s", p)
		}
		if fi.IsDir() {
			return nil, errors.Errorf("attachment %s is a directory", p)
		}
		mimeType := mime.TypeByExtension(filepath.Ext(p))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		ret = append(ret, conversation.NewAttachment(filepath.Base(p), fi.Size(), mimeType))
	}
	return ret, nil
}

func newChatRenameCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <chat-id> <title>",
		Short: "Rename a chat",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withWorkspace(cmd.Context(), false, func(ws *workspace.Workspace) error {
				return ws.RenameChat(cmd.Context(), args[0], strings.Join(args[1:], " "))
			})
		},
	}
}

func newChatDeleteCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <chat-id>",
		Short: "Delete a chat and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return env.withWorkspace(ctx, false, func(ws *workspace.Workspace) error {
				c, err := ws.Chats().Chat(ctx, args[0])
				if err != nil {
					return err
				}
				ok, err := confirm(cmd, "Delete chat \""+c.Title+"\"?")
				if err != nil || !ok {
					return err
				}
				return ws.DeleteChat(ctx, c.ID)
			})
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newChatMoveCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "move <chat-id> [project-id]",
		Short: "Move a chat into a project, or out of its project without one",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := ""
			if len(args) == 2 {
				projectID = args[1]
			}
			return env.withWorkspace(cmd.Context(), false, func(ws *workspace.Workspace) error {
				return ws.MoveChat(cmd.Context(), args[0], projectID)
			})
		},
	}
}

func newChatSelectCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "select [chat-id]",
		Short: "Select a chat; without an id the selection is cleared",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return env.withWorkspace(cmd.Context(), false, func(ws *workspace.Workspace) error {
				return ws.SelectChat(cmd.Context(), id)
			})
		},
	}
}

// newChatCancelCommand only reaches streams of this process; against a running
// server use POST /api/chats/{id}/cancel.
func newChatCancelCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <chat-id>",
		Short: "Stop the reply streaming into a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return env.withWorkspace(ctx, false, func(ws *workspace.Workspace) error {
				if _, err := ws.Chats().Chat(ctx, args[0]); err != nil {
					return err
				}
				if !ws.Streams().IsStreaming(args[0]) {
					env.printf("no reply is streaming into %s\n", args[0])
					return nil
				}
				ws.CancelStream(ctx, args[0])
				return nil
			})
		},
	}
}
