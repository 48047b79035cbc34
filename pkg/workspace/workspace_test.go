package workspace

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/parley/pkg/clock"
	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/errdefs"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/models"
	"github.com/go-go-golems/parley/pkg/projects"
	"github.com/go-go-golems/parley/pkg/settings"
	"github.com/go-go-golems/parley/pkg/storage"
	"github.com/go-go-golems/parley/pkg/streaming"
	"github.com/go-go-golems/parley/pkg/viewstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reply = "Recursion is a function calling itself."

func openWorkspace(t *testing.T, backend storage.Backend, fc *clock.Fake) *Workspace {
	t.Helper()
	w, err := Open(context.Background(), Options{
		Backend:  backend,
		Clock:    fc,
		Composer: streaming.StaticComposer(reply),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close(context.Background()) })
	return w
}

func newFakeClock() *clock.Fake {
	return clock.NewFake(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
}

func TestScenarioA_FirstQueryNamesTheChat(t *testing.T) {
	ctx := context.Background()
	w := openWorkspace(t, nil, newFakeClock())

	chatID, err := w.CreateChat(ctx, conversation.CreateChatOptions{})
	require.NoError(t, err)
	c, err := w.Chats().Chat(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, conversation.DefaultTitle, c.Title)
	assert.Equal(t, chatID, w.Chats().CurrentChatID())

	// 40 runes, under the limit
	res, err := w.SendMessage(ctx, SendOptions{ChatID: chatID, Content: "Explain recursion in under 50 characters"})
	require.NoError(t, err)
	c, err = w.Chats().Chat(ctx, res.ChatID)
	require.NoError(t, err)
	assert.Equal(t, "Explain recursion in under 50 characters", c.Title)

	long := "Explain recursion in under 50 characters, with an example in Go"
	other, err := w.SendMessage(ctx, SendOptions{Content: long})
	require.NoError(t, err)
	c, err = w.Chats().Chat(ctx, other.ChatID)
	require.NoError(t, err)
	assert.Equal(t, "Explain recursion in under 50 characters, with ...", c.Title)
	assert.Equal(t, conversation.MaxTitleLength, len([]rune(c.Title)))
}

func TestScenarioB_DeletingAProjectKeepsItsChats(t *testing.T) {
	ctx := context.Background()
	w := openWorkspace(t, nil, newFakeClock())

	projectID, err := w.CreateProject(ctx, projects.ProjectSpec{Name: "Research"})
	require.NoError(t, err)
	chatID, err := w.CreateChat(ctx, conversation.CreateChatOptions{ProjectID: projectID})
	require.NoError(t, err)
	require.NoError(t, w.Validate(ctx))

	require.NoError(t, w.DeleteProject(ctx, projectID))

	c, err := w.Chats().Chat(ctx, chatID)
	require.NoError(t, err)
	assert.Empty(t, c.ProjectID)
	assert.Len(t, w.Chats().OrphanChats(ctx), 1)
	assert.NoError(t, w.Validate(ctx))
}

func TestScenarioC_CancelKeepsPartialReply(t *testing.T) {
	ctx := context.Background()
	fc := newFakeClock()
	w := openWorkspace(t, nil, fc)
	cfg := streaming.DefaultConfig()

	res, err := w.SendMessage(ctx, SendOptions{Content: "hi", Model: models.Auto})
	require.NoError(t, err)
	assert.True(t, w.Streams().IsStreaming(res.ChatID))

	fc.Advance(cfg.StartDelay + 3*cfg.TickInterval)
	assert.Equal(t, reply[:4*cfg.BatchSize], res.Run.Content())
	require.NoError(t, w.Validate(ctx))

	w.CancelStream(ctx, res.ChatID)
	w.CancelStream(ctx, res.ChatID)
	assert.Equal(t, streaming.StateCancelled, res.Run.State())

	fc.Advance(time.Second)
	c, err := w.Chats().Chat(ctx, res.ChatID)
	require.NoError(t, err)
	require.Len(t, c.Messages, 2)
	assert.Equal(t, reply[:12], c.Messages[1].Content)
	assert.False(t, w.Chats().IsStreaming(res.ChatID))
}

func TestScenarioD_SecondSendWhileStreamingConflicts(t *testing.T) {
	ctx := context.Background()
	fc := newFakeClock()
	w := openWorkspace(t, nil, fc)

	res, err := w.SendMessage(ctx, SendOptions{Content: "first"})
	require.NoError(t, err)
	_, err = w.SendMessage(ctx, SendOptions{ChatID: res.ChatID, Content: "second"})
	assert.ErrorIs(t, err, errdefs.ErrConflict)

	_, err = w.Streams().Start(ctx, res.ChatID, "again", models.Auto)
	assert.ErrorIs(t, err, errdefs.ErrConflict)

	// the rejected query was not appended
	c, err := w.Chats().Chat(ctx, res.ChatID)
	require.NoError(t, err)
	assert.Len(t, c.Messages, 2)

	v := w.UI().View()
	require.NotEmpty(t, v.Toasts)
	assert.Equal(t, viewstate.ToastError, v.Toasts[len(v.Toasts)-1].Level)

	fc.Advance(10 * time.Second)
	_, err = w.SendMessage(ctx, SendOptions{ChatID: res.ChatID, Content: "second"})
	assert.NoError(t, err)
}

func TestScenarioE_MalformedChatsStartEmpty(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	require.NoError(t, backend.Set(ctx, "parley_chats", []byte(`[{"id": broken`)))

	w := openWorkspace(t, backend, newFakeClock())
	assert.Equal(t, 0, w.Chats().Len())
	assert.NoError(t, w.Validate(ctx))

	_, err := w.CreateChat(ctx, conversation.CreateChatOptions{})
	assert.NoError(t, err)
}

func TestStateSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	fc := newFakeClock()

	w := openWorkspace(t, backend, fc)
	projectID, err := w.CreateProject(ctx, projects.ProjectSpec{Name: "Garden", DefaultModel: models.Gemini})
	require.NoError(t, err)
	res, err := w.SendMessage(ctx, SendOptions{Content: "when to plant tulips"})
	require.NoError(t, err)
	require.NoError(t, w.MoveChat(ctx, res.ChatID, projectID))
	fc.Advance(10 * time.Second)
	require.NoError(t, w.Close(ctx))

	again := openWorkspace(t, backend, fc)
	c, err := again.Chats().Chat(ctx, res.ChatID)
	require.NoError(t, err)
	assert.Equal(t, projectID, c.ProjectID)
	require.Len(t, c.Messages, 2)
	assert.Equal(t, reply, c.Messages[1].Content)
	assert.Equal(t, res.ChatID, again.Chats().CurrentChatID())
	assert.NoError(t, again.Validate(ctx))
}

func TestDanglingReferencesAreRepairedOnLoad(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	fc := newFakeClock()

	w := openWorkspace(t, backend, fc)
	projectID, err := w.CreateProject(ctx, projects.ProjectSpec{Name: "Temp"})
	require.NoError(t, err)
	chatID, err := w.CreateChat(ctx, conversation.CreateChatOptions{ProjectID: projectID})
	require.NoError(t, err)
	require.NoError(t, w.Close(ctx))

	// simulate a writer that removed the project without touching the chats
	require.NoError(t, backend.Set(ctx, "parley_projects", []byte(`{"version":1,"data":[]}`)))

	again := openWorkspace(t, backend, fc)
	c, err := again.Chats().Chat(ctx, chatID)
	require.NoError(t, err)
	assert.Empty(t, c.ProjectID)
	assert.NoError(t, again.Validate(ctx))
}

func TestModelResolution(t *testing.T) {
	ctx := context.Background()
	w := openWorkspace(t, nil, newFakeClock())

	gemini := models.Gemini
	_, err := w.UpdateSettings(ctx, settings.Update{DefaultModel: &gemini})
	require.NoError(t, err)

	res, err := w.SendMessage(ctx, SendOptions{Content: "plain"})
	require.NoError(t, err)
	assert.Equal(t, models.Gemini, res.Model)

	projectID, err := w.CreateProject(ctx, projects.ProjectSpec{Name: "Essays", DefaultModel: models.Claude})
	require.NoError(t, err)
	require.NoError(t, w.SelectProject(ctx, projectID))
	res, err = w.SendMessage(ctx, SendOptions{Content: "in project"})
	require.NoError(t, err)
	assert.Equal(t, models.Claude, res.Model)
	c, err := w.Chats().Chat(ctx, res.ChatID)
	require.NoError(t, err)
	assert.Equal(t, projectID, c.ProjectID)

	require.NoError(t, w.UI().SelectModel(models.Perplexity))
	res, err = w.SendMessage(ctx, SendOptions{Content: "picked"})
	require.NoError(t, err)
	assert.Equal(t, models.Perplexity, res.Model)

	res, err = w.SendMessage(ctx, SendOptions{Content: "explicit", Model: models.ChatGPT})
	require.NoError(t, err)
	assert.Equal(t, models.ChatGPT, res.Model)
}

func TestAttachmentLimitsOpenFileLimitModal(t *testing.T) {
	ctx := context.Background()
	w := openWorkspace(t, nil, newFakeClock())

	big := conversation.NewAttachment("scan.pdf", 50*1024*1024, "application/pdf")
	_, err := w.SendMessage(ctx, SendOptions{Content: "read this", Attachments: []*conversation.Attachment{big}})
	require.ErrorIs(t, err, errdefs.ErrInvalidArgument)

	m, ok := w.UI().Modal()
	require.True(t, ok)
	assert.Equal(t, viewstate.ModalFileLimit, m.Kind())
	assert.Equal(t, 0, w.Chats().Len())

	small := conversation.NewAttachment("notes.txt", 1024, "text/plain")
	res, err := w.SendMessage(ctx, SendOptions{Attachments: []*conversation.Attachment{small}})
	require.NoError(t, err)
	c, err := w.Chats().Chat(ctx, res.ChatID)
	require.NoError(t, err)
	require.Len(t, c.Messages[0].Attachments, 1)
	assert.Equal(t, "notes.txt", c.Messages[0].Attachments[0].Name)
}

func TestSendRejectsEmptyContent(t *testing.T) {
	w := openWorkspace(t, nil, newFakeClock())
	_, err := w.SendMessage(context.Background(), SendOptions{Content: "   "})
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)
	_, err = w.SendMessage(context.Background(), SendOptions{ChatID: "missing", Content: "hi"})
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
	_, err = w.SendMessage(context.Background(), SendOptions{
		Content:     "hi",
		Attachments: []*conversation.Attachment{conversation.NewAttachment("a.txt", 3, "text/plain"), nil},
	})
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)
	assert.Equal(t, 0, w.Chats().Len())
}

func TestUpdateChatIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	w := openWorkspace(t, nil, newFakeClock())

	chatID, err := w.CreateChat(ctx, conversation.CreateChatOptions{})
	require.NoError(t, err)
	title, missing := "Moved", "missing"
	err = w.UpdateChat(ctx, chatID, ChatUpdate{Title: &title, ProjectID: &missing})
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
	c, err := w.Chats().Chat(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, conversation.DefaultTitle, c.Title)

	projectID, err := w.CreateProject(ctx, projects.ProjectSpec{Name: "Thesis"})
	require.NoError(t, err)
	require.NoError(t, w.UpdateChat(ctx, chatID, ChatUpdate{Title: &title, ProjectID: &projectID}))
	c, err = w.Chats().Chat(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, "Moved", c.Title)
	assert.Equal(t, projectID, c.ProjectID)

	assert.ErrorIs(t, w.UpdateChat(ctx, chatID, ChatUpdate{}), errdefs.ErrInvalidArgument)
}

func TestDeleteChatCancelsItsStream(t *testing.T) {
	ctx := context.Background()
	fc := newFakeClock()
	w := openWorkspace(t, nil, fc)

	res, err := w.SendMessage(ctx, SendOptions{Content: "hello"})
	require.NoError(t, err)
	fc.Advance(streaming.DefaultConfig().StartDelay)

	require.NoError(t, w.DeleteChat(ctx, res.ChatID))
	assert.Equal(t, streaming.StateCancelled, res.Run.State())
	assert.Equal(t, streaming.StateIdle, w.Streams().State(res.ChatID))
	assert.Empty(t, w.Chats().CurrentChatID())
	assert.ErrorIs(t, w.DeleteChat(ctx, res.ChatID), errdefs.ErrNotFound)

	fc.Advance(time.Second)
	assert.NoError(t, w.Validate(ctx))
}

func TestDeletedChatClosesItsDialog(t *testing.T) {
	ctx := context.Background()
	w := openWorkspace(t, nil, newFakeClock())
	chatID, err := w.CreateChat(ctx, conversation.CreateChatOptions{})
	require.NoError(t, err)

	w.UI().OpenModal(viewstate.ChatDeleteModal{ChatID: chatID, Title: conversation.DefaultTitle})
	require.NoError(t, w.DeleteChat(ctx, chatID))

	_, open := w.UI().Modal()
	assert.False(t, open)
}

func TestCategoriesAndArchive(t *testing.T) {
	ctx := context.Background()
	w := openWorkspace(t, nil, newFakeClock())

	catID, err := w.AddCategory(ctx, "Home Improvement", "🔨")
	require.NoError(t, err)
	projectID, err := w.CreateProject(ctx, projects.ProjectSpec{Name: "Kitchen", Category: catID})
	require.NoError(t, err)

	require.NoError(t, w.ArchiveProject(ctx, projectID))
	assert.Len(t, w.Projects().ArchivedProjects(ctx), 1)
	assert.Empty(t, w.Projects().Projects(ctx, projects.ListOptions{}))
	require.NoError(t, w.UnarchiveProject(ctx, projectID))

	require.NoError(t, w.RemoveCategory(ctx, catID))
	p, err := w.Projects().Project(ctx, projectID)
	require.NoError(t, err)
	assert.Empty(t, p.Category)

	assert.ErrorIs(t, w.RemoveCategory(ctx, "work"), errdefs.ErrInvalidArgument)
	require.NoError(t, w.RenameProject(ctx, projectID, "Kitchen remodel"))
	p, err = w.Projects().Project(ctx, projectID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p.Name, "Kitchen remodel"))
}

func TestUnreadSubscriberDoesNotStallCommands(t *testing.T) {
	ctx := context.Background()
	w := openWorkspace(t, nil, newFakeClock())

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	_, err := w.Bus().Subscribe(subCtx, events.Filter{})
	require.NoError(t, err)

	chatID, err := w.CreateChat(ctx, conversation.CreateChatOptions{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		for i := 0; i < 5000; i++ {
			if err := w.RenameChat(ctx, chatID, "Renamed "+strconv.Itoa(i)); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("rename blocked behind an unread subscriber")
	}
}
