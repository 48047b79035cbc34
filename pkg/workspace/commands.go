package workspace

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/errdefs"
	"github.com/go-go-golems/parley/pkg/models"
	"github.com/go-go-golems/parley/pkg/projects"
	"github.com/go-go-golems/parley/pkg/settings"
	"github.com/go-go-golems/parley/pkg/streaming"
	"github.com/go-go-golems/parley/pkg/viewstate"
	"github.com/rs/zerolog/log"
)

func (w *Workspace) CreateChat(ctx context.Context, opts conversation.CreateChatOptions) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chats.CreateChat(ctx, opts)
}

func (w *Workspace) SelectChat(ctx context.Context, chatID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chats.SetCurrentChat(ctx, chatID)
}

func (w *Workspace) RenameChat(ctx context.Context, chatID, title string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chats.RenameChat(ctx, chatID, title)
}

// ChatUpdate changes the title and/or project of a chat. A nil field is left
// alone; an empty ProjectID detaches the chat.
type ChatUpdate struct {
	Title     *string
	ProjectID *string
}

// UpdateChat applies both parts of update or neither.
func (w *Workspace) UpdateChat(ctx context.Context, chatID string, update ChatUpdate) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if update.Title == nil && update.ProjectID == nil {
		return errdefs.InvalidArgument("update", "nothing to update")
	}
	if _, err := w.chats.Chat(ctx, chatID); err != nil {
		return err
	}
	if update.Title != nil && strings.TrimSpace(*update.Title) == "" {
		return errdefs.InvalidArgument("title", "must not be empty")
	}
	if update.ProjectID != nil && *update.ProjectID != "" && !w.projects.ProjectExists(ctx, *update.ProjectID) {
		return errdefs.NotFound("project", *update.ProjectID)
	}

	if update.ProjectID != nil {
		if err := w.chats.MoveChatToProject(ctx, chatID, *update.ProjectID); err != nil {
			return err
		}
	}
	if update.Title != nil {
		return w.chats.RenameChat(ctx, chatID, *update.Title)
	}
	return nil
}

// DeleteChat cancels the chat's stream, if any, and removes the chat.
func (w *Workspace) DeleteChat(ctx context.Context, chatID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.chats.Chat(ctx, chatID); err != nil {
		return err
	}
	w.streams.Forget(chatID)
	if err := w.chats.DeleteChat(ctx, chatID); err != nil {
		return err
	}
	w.ui.ForgetDeleted(chatID, "")
	return nil
}

func (w *Workspace) MoveChat(ctx context.Context, chatID, projectID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chats.MoveChatToProject(ctx, chatID, projectID)
}

func (w *Workspace) CreateProject(ctx context.Context, spec projects.ProjectSpec) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.projects.CreateProject(ctx, spec)
}

func (w *Workspace) UpdateProject(ctx context.Context, projectID string, update projects.ProjectUpdate) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.projects.UpdateProject(ctx, projectID, update)
}

func (w *Workspace) RenameProject(ctx context.Context, projectID, name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.projects.RenameProject(ctx, projectID, name)
}

func (w *Workspace) ArchiveProject(ctx context.Context, projectID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.projects.ArchiveProject(ctx, projectID)
}

func (w *Workspace) UnarchiveProject(ctx context.Context, projectID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.projects.UnarchiveProject(ctx, projectID)
}

// DeleteProject removes the project. Its chats are kept and detached.
func (w *Workspace) DeleteProject(ctx context.Context, projectID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.projects.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	w.ui.ForgetDeleted("", projectID)
	return nil
}

func (w *Workspace) SelectProject(ctx context.Context, projectID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.projects.SetCurrentProject(ctx, projectID)
}

func (w *Workspace) AddCategory(ctx context.Context, name, emoji string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.projects.AddCategory(ctx, name, emoji)
}

func (w *Workspace) RemoveCategory(ctx context.Context, categoryID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.projects.RemoveCategory(ctx, categoryID)
}

func (w *Workspace) UpdateSettings(ctx context.Context, update settings.Update) (settings.Settings, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.settings.Update(ctx, update)
}

type SendOptions struct {
	// ChatID empty starts a new chat in the current project.
	ChatID      string
	Content     string
	Model       models.Tag
	Attachments []*conversation.Attachment
}

type SendResult struct {
	ChatID    string
	MessageID string
	Model     models.Tag
	Run       *streaming.Run
}

// SendMessage appends a query and starts streaming the reply. Failures are reported
// to the caller and raised as an error toast.
func (w *Workspace) SendMessage(ctx context.Context, opts SendOptions) (*SendResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	res, err := w.sendLocked(ctx, opts)
	if err != nil {
		log.Warn().Err(err).Str("chat_id", opts.ChatID).Msg("send failed")
		w.ui.PushToast(viewstate.ToastError, "Message could not be sent", 0)
		return nil, err
	}
	return res, nil
}

func (w *Workspace) sendLocked(ctx context.Context, opts SendOptions) (*SendResult, error) {
	content := strings.TrimSpace(opts.Content)
	if content == "" && len(opts.Attachments) == 0 {
		return nil, errdefs.InvalidArgument("content", "must not be empty")
	}
	if !opts.Model.IsZero() && !opts.Model.Valid() {
		return nil, errdefs.InvalidArgument("model", "unknown model "+string(opts.Model))
	}

	sizes := make([]int64, 0, len(opts.Attachments))
	for i, a := range opts.Attachments {
		if a == nil {
			return nil, errdefs.InvalidArgument("attachments", "entry "+strconv.Itoa(i)+" is nil")
		}
		sizes = append(sizes, a.Size)
	}
	if err := w.settings.ValidateAttachments(sizes); err != nil {
		w.ui.OpenModal(viewstate.FileLimitModal{Reason: err.Error()})
		return nil, err
	}

	chatID := opts.ChatID
	var projectID string
	if chatID == "" {
		projectID = w.projects.CurrentProjectID()
		id, err := w.chats.CreateChat(ctx, conversation.CreateChatOptions{ProjectID: projectID})
		if err != nil {
			return nil, err
		}
		chatID = id
	} else {
		c, err := w.chats.Chat(ctx, chatID)
		if err != nil {
			return nil, err
		}
		projectID = c.ProjectID
	}
	if w.streams.IsStreaming(chatID) || w.chats.IsStreaming(chatID) {
		return nil, errdefs.Conflict("chat", chatID, "a response is already streaming")
	}

	model := w.resolveModel(ctx, opts.Model, projectID)
	msgID, err := w.chats.AppendMessage(ctx, chatID, conversation.AppendOptions{
		Role:        conversation.RoleQuery,
		Content:     content,
		Model:       model,
		Attachments: opts.Attachments,
	})
	if err != nil {
		return nil, err
	}

	run, err := w.streams.Start(ctx, chatID, content, model)
	if err != nil {
		return nil, err
	}
	return &SendResult{ChatID: chatID, MessageID: msgID, Model: model, Run: run}, nil
}

// resolveModel picks the first of: the explicit model, the model selected in the
// composer, the project default and the settings default.
func (w *Workspace) resolveModel(ctx context.Context, explicit models.Tag, projectID string) models.Tag {
	var projectModel models.Tag
	if projectID != "" {
		if p, err := w.projects.Project(ctx, projectID); err == nil {
			projectModel = p.DefaultModel
		}
	}
	return models.Resolve(explicit, w.ui.SelectedModel(), projectModel, w.settings.Get().DefaultModel)
}

// CancelStream stops the reply streaming into chatID. Cancelling a chat that is not
// streaming is a no-op.
func (w *Workspace) CancelStream(_ context.Context, chatID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.streams.Cancel(chatID)
}
