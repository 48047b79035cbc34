package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/parley/pkg/clock"
	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/models"
	"github.com/go-go-golems/parley/pkg/projects"
	"github.com/go-go-golems/parley/pkg/settings"
	"github.com/go-go-golems/parley/pkg/streaming"
	"github.com/go-go-golems/parley/pkg/viewstate"
	"github.com/go-go-golems/parley/pkg/workspace"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reply = "Hello from the simulator."

func setupServer(t *testing.T) (*Server, *workspace.Workspace, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	ws, err := workspace.Open(context.Background(), workspace.Options{
		Clock:    fc,
		Composer: streaming.StaticComposer(reply),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close(context.Background()) })
	return NewServer(ws), ws, fc
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHealth(t *testing.T) {
	s, _, _ := setupServer(t)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestChatLifecycle(t *testing.T) {
	s, ws, _ := setupServer(t)
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/chats", map[string]string{})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created conversation.Chat
	decode(t, rec, &created)
	assert.Equal(t, conversation.DefaultTitle, created.Title)

	rec = doJSON(t, h, http.MethodGet, "/api/chats/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var current conversation.Chat
	decode(t, rec, &current)
	assert.Equal(t, created.ID, current.ID)

	rec = doJSON(t, h, http.MethodPatch, "/api/chats/"+created.ID, map[string]string{"title": "  Renamed  "})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var renamed conversation.Chat
	decode(t, rec, &renamed)
	assert.Equal(t, "Renamed", renamed.Title)

	rec = doJSON(t, h, http.MethodPatch, "/api/chats/"+created.ID, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// an unknown project rejects the whole update, title included
	rec = doJSON(t, h, http.MethodPatch, "/api/chats/"+created.ID, map[string]string{"title": "Moved", "projectId": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doJSON(t, h, http.MethodGet, "/api/chats/"+created.ID, nil)
	decode(t, rec, &renamed)
	assert.Equal(t, "Renamed", renamed.Title)

	rec = doJSON(t, h, http.MethodGet, "/api/chats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []conversation.Chat
	decode(t, rec, &list)
	require.Len(t, list, 1)

	rec = doJSON(t, h, http.MethodDelete, "/api/chats/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, ws.Chats().Len())

	rec = doJSON(t, h, http.MethodGet, "/api/chats/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doJSON(t, h, http.MethodGet, "/api/chats/current", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendAndCancel(t *testing.T) {
	s, ws, fc := setupServer(t)
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/messages", map[string]string{
		"content": "What is a monad?",
		"model":   "claude",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var res sendResponse
	decode(t, rec, &res)
	assert.Equal(t, models.Claude, res.Model)
	assert.NotEmpty(t, res.RunID)

	rec = doJSON(t, h, http.MethodGet, "/api/chats/"+res.ChatID, nil)
	var view struct {
		conversation.Chat
		Streaming bool `json:"streaming"`
	}
	decode(t, rec, &view)
	assert.True(t, view.Streaming)
	assert.Equal(t, "What is a monad?", view.Title)

	rec = doJSON(t, h, http.MethodPost, "/api/chats/"+res.ChatID+"/messages", map[string]string{"content": "again"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	fc.Advance(streaming.DefaultConfig().StartDelay)
	rec = doJSON(t, h, http.MethodPost, "/api/chats/"+res.ChatID+"/cancel", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, ws.Chats().IsStreaming(res.ChatID))

	c, err := ws.Chats().Chat(context.Background(), res.ChatID)
	require.NoError(t, err)
	require.Len(t, c.Messages, 2)
	assert.True(t, strings.HasPrefix(reply, c.Messages[1].Content))
	assert.NotEqual(t, reply, c.Messages[1].Content)

	rec = doJSON(t, h, http.MethodPost, "/api/chats/unknown/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendValidation(t *testing.T) {
	s, ws, _ := setupServer(t)
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/messages", map[string]string{"content": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/messages", map[string]string{"content": "hi", "model": "llama"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/messages", map[string]interface{}{
		"content":     "summarize",
		"attachments": []map[string]interface{}{{"name": "big.pdf", "size": 50 * 1024 * 1024, "type": "application/pdf"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	m, ok := ws.UI().Modal()
	require.True(t, ok)
	assert.Equal(t, viewstate.ModalFileLimit, m.Kind())

	req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestProjectEndpoints(t *testing.T) {
	s, ws, _ := setupServer(t)
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/projects", map[string]string{"name": "Thesis", "category": "research"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var p projects.Project
	decode(t, rec, &p)
	assert.Equal(t, models.Auto, p.DefaultModel)

	rec = doJSON(t, h, http.MethodPost, "/api/projects", map[string]string{"name": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPatch, "/api/projects/"+p.ID, map[string]string{"model": "gemini"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &p)
	assert.Equal(t, models.Gemini, p.DefaultModel)
	assert.Equal(t, "Thesis", p.Name)

	rec = doJSON(t, h, http.MethodPost, "/api/chats", map[string]string{"projectId": p.ID})
	require.Equal(t, http.StatusCreated, rec.Code)
	var chat conversation.Chat
	decode(t, rec, &chat)

	rec = doJSON(t, h, http.MethodGet, "/api/projects/"+p.ID+"/chats", nil)
	var inProject []conversation.Chat
	decode(t, rec, &inProject)
	require.Len(t, inProject, 1)

	rec = doJSON(t, h, http.MethodPost, "/api/projects/"+p.ID+"/archive", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, h, http.MethodGet, "/api/projects", nil)
	var active []projects.Project
	decode(t, rec, &active)
	assert.Empty(t, active)
	rec = doJSON(t, h, http.MethodGet, "/api/projects?archived=only", nil)
	var archived []projects.Project
	decode(t, rec, &archived)
	require.Len(t, archived, 1)

	rec = doJSON(t, h, http.MethodDelete, "/api/projects/"+p.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	c, err := ws.Chats().Chat(context.Background(), chat.ID)
	require.NoError(t, err)
	assert.Empty(t, c.ProjectID)

	rec = doJSON(t, h, http.MethodGet, "/api/projects/"+p.ID+"/chats", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCategoriesAndSettings(t *testing.T) {
	s, _, _ := setupServer(t)
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/categories", map[string]string{"name": "Cooking", "emoji": "🍳"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var cat projects.Category
	decode(t, rec, &cat)
	assert.True(t, cat.Custom)

	rec = doJSON(t, h, http.MethodGet, "/api/categories", nil)
	var cats []projects.Category
	decode(t, rec, &cats)
	assert.Len(t, cats, len(projects.BuiltinCategories)+1)

	rec = doJSON(t, h, http.MethodDelete, "/api/categories/work", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doJSON(t, h, http.MethodDelete, "/api/categories/"+cat.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodPatch, "/api/settings", map[string]interface{}{"maxAttachments": 3, "defaultModel": "perplexity"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var st settings.Settings
	decode(t, rec, &st)
	assert.Equal(t, 3, st.MaxAttachments)
	assert.Equal(t, models.Perplexity, st.DefaultModel)

	rec = doJSON(t, h, http.MethodPatch, "/api/settings", map[string]interface{}{"maxFileSize": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUIEndpoints(t *testing.T) {
	s, ws, _ := setupServer(t)
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/ui/model", map[string]string{"model": "ChatGPT"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var v viewstate.View
	decode(t, rec, &v)
	assert.Equal(t, models.ChatGPT, v.SelectedModel)

	rec = doJSON(t, h, http.MethodPost, "/api/ui/sidebar", nil)
	decode(t, rec, &v)
	assert.False(t, v.SidebarOpen)

	id := ws.UI().PushToast(viewstate.ToastInfo, "hello", 0)
	rec = doJSON(t, h, http.MethodDelete, "/api/ui/toasts/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, h, http.MethodDelete, "/api/ui/toasts/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/models", nil)
	var opts []models.Option
	decode(t, rec, &opts)
	assert.Len(t, opts, len(models.Options))
}

func TestEventsWebsocket(t *testing.T) {
	s, ws, fc := setupServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	chatID, err := ws.CreateChat(context.Background(), conversation.CreateChatOptions{})
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events?chat_id=" + chatID + "&type=stream.started,stream.completed"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, err = ws.SendMessage(context.Background(), workspace.SendOptions{ChatID: chatID, Content: "hi"})
	require.NoError(t, err)
	fc.Advance(5 * time.Second)

	var types []events.EventType
	for len(types) < 2 {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		ev, err := events.NewEventFromJSON(data)
		require.NoError(t, err)
		assert.Equal(t, chatID, ev.Metadata().ChatID)
		types = append(types, ev.Type())
	}
	assert.Equal(t, []events.EventType{events.EventTypeStreamStarted, events.EventTypeStreamCompleted}, types)
}
