package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/errdefs"
	"github.com/go-go-golems/parley/pkg/models"
	"github.com/go-go-golems/parley/pkg/projects"
	"github.com/go-go-golems/parley/pkg/settings"
	"github.com/go-go-golems/parley/pkg/workspace"
)

type chatView struct {
	*conversation.Chat
	Streaming bool `json:"streaming"`
}

func (s *Server) chatView(c *conversation.Chat) chatView {
	return chatView{Chat: c, Streaming: s.ws.Chats().IsStreaming(c.ID)}
}

func (s *Server) chatViews(chats []*conversation.Chat) []chatView {
	ret := make([]chatView, 0, len(chats))
	for _, c := range chats {
		ret = append(ret, s.chatView(c))
	}
	return ret
}

// normalizeModel accepts model names case-insensitively.
func normalizeModel(tag *models.Tag) error {
	if tag == nil || tag.IsZero() {
		return nil
	}
	parsed, err := models.Parse(string(*tag))
	if err != nil {
		return err
	}
	*tag = parsed
	return nil
}

func (s *Server) handleListModels(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, models.Options)
}

// handleListChats supports ?project=, ?orphans=true, ?q=<glob> and ?limit=.
func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	chats := s.ws.Chats()

	var list []*conversation.Chat
	switch {
	case q.Get("q") != "":
		found, err := chats.FindChats(ctx, q.Get("q"))
		if err != nil {
			respondError(w, err)
			return
		}
		list = found
	case q.Get("project") != "":
		list = chats.ChatsByProject(ctx, q.Get("project"))
	case q.Get("orphans") == "true":
		list = chats.OrphanChats(ctx)
	default:
		limit := 0
		if raw := q.Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				respondError(w, errdefs.InvalidArgument("limit", "must be a non-negative integer"))
				return
			}
			limit = n
		}
		list = chats.RecentChats(ctx, limit)
	}
	respondJSON(w, http.StatusOK, s.chatViews(list))
}

type createChatRequest struct {
	ProjectID string `json:"projectId"`
	Title     string `json:"title"`
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	id, err := s.ws.CreateChat(r.Context(), conversation.CreateChatOptions{ProjectID: req.ProjectID, Title: req.Title})
	if err != nil {
		respondError(w, err)
		return
	}
	s.respondChat(w, r, id, http.StatusCreated)
}

func (s *Server) handleCurrentChat(w http.ResponseWriter, r *http.Request) {
	c, ok := s.ws.Chats().CurrentChat(r.Context())
	if !ok {
		respondError(w, errdefs.NotFound("chat", "current"))
		return
	}
	respondJSON(w, http.StatusOK, s.chatView(c))
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	s.respondChat(w, r, chi.URLParam(r, "chatID"), http.StatusOK)
}

func (s *Server) respondChat(w http.ResponseWriter, r *http.Request, id string, status int) {
	c, err := s.ws.Chats().Chat(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, status, s.chatView(c))
}

// updateChatRequest renames and/or moves a chat. An empty projectId detaches it.
type updateChatRequest struct {
	Title     *string `json:"title"`
	ProjectID *string `json:"projectId"`
}

func (s *Server) handleUpdateChat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "chatID")
	var req updateChatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := s.ws.UpdateChat(r.Context(), id, workspace.ChatUpdate{Title: req.Title, ProjectID: req.ProjectID}); err != nil {
		respondError(w, err)
		return
	}
	s.respondChat(w, r, id, http.StatusOK)
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	if err := s.ws.DeleteChat(r.Context(), chi.URLParam(r, "chatID")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSelectChat(w http.ResponseWriter, r *http.Request) {
	if err := s.ws.SelectChat(r.Context(), chi.URLParam(r, "chatID")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sendRequest struct {
	Content     string                     `json:"content"`
	Model       models.Tag                 `json:"model"`
	Attachments []*conversation.Attachment `json:"attachments"`
}

type sendResponse struct {
	ChatID    string     `json:"chatId"`
	MessageID string     `json:"messageId"`
	Model     models.Tag `json:"model"`
	RunID     string     `json:"runId"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	s.send(w, r, chi.URLParam(r, "chatID"))
}

// handleSendNew starts a new chat in the current project.
func (s *Server) handleSendNew(w http.ResponseWriter, r *http.Request) {
	s.send(w, r, "")
}

func (s *Server) send(w http.ResponseWriter, r *http.Request, chatID string) {
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := normalizeModel(&req.Model); err != nil {
		respondError(w, err)
		return
	}
	for i, a := range req.Attachments {
		if a == nil {
			respondError(w, errdefs.InvalidArgument("attachments", "entry "+strconv.Itoa(i)+" is null"))
			return
		}
		if a.ID == "" {
			req.Attachments[i] = conversation.NewAttachment(a.Name, a.Size, a.MimeType)
			req.Attachments[i].Payload = a.Payload
		}
	}

	res, err := s.ws.SendMessage(r.Context(), workspace.SendOptions{
		ChatID:      chatID,
		Content:     req.Content,
		Model:       req.Model,
		Attachments: req.Attachments,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, sendResponse{
		ChatID:    res.ChatID,
		MessageID: res.MessageID,
		Model:     res.Model,
		RunID:     res.Run.ID,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "chatID")
	if _, err := s.ws.Chats().Chat(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	s.ws.CancelStream(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	ps := s.ws.Projects()
	switch r.URL.Query().Get("archived") {
	case "only":
		respondJSON(w, http.StatusOK, ps.ArchivedProjects(r.Context()))
	case "true":
		respondJSON(w, http.StatusOK, ps.Projects(r.Context(), projects.ListOptions{IncludeArchived: true}))
	default:
		respondJSON(w, http.StatusOK, ps.Projects(r.Context(), projects.ListOptions{}))
	}
}

type projectRequest struct {
	Name         *string     `json:"name"`
	Category     *string     `json:"category"`
	Emoji        *string     `json:"emoji"`
	Description  *string     `json:"description"`
	Instructions *string     `json:"instructions"`
	DefaultModel *models.Tag `json:"model"`
	WebEnabled   *bool       `json:"webEnabled"`
}

func (p projectRequest) spec() projects.ProjectSpec {
	var ret projects.ProjectSpec
	if p.Name != nil {
		ret.Name = *p.Name
	}
	if p.Category != nil {
		ret.Category = *p.Category
	}
	if p.Emoji != nil {
		ret.Emoji = *p.Emoji
	}
	if p.Description != nil {
		ret.Description = *p.Description
	}
	if p.Instructions != nil {
		ret.Instructions = *p.Instructions
	}
	if p.DefaultModel != nil {
		ret.DefaultModel = *p.DefaultModel
	}
	if p.WebEnabled != nil {
		ret.WebEnabled = *p.WebEnabled
	}
	return ret
}

func (p projectRequest) update() projects.ProjectUpdate {
	return projects.ProjectUpdate{
		Name:         p.Name,
		Category:     p.Category,
		Emoji:        p.Emoji,
		Description:  p.Description,
		Instructions: p.Instructions,
		DefaultModel: p.DefaultModel,
		WebEnabled:   p.WebEnabled,
	}
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := normalizeModel(req.DefaultModel); err != nil {
		respondError(w, err)
		return
	}
	id, err := s.ws.CreateProject(r.Context(), req.spec())
	if err != nil {
		respondError(w, err)
		return
	}
	s.respondProject(w, r, id, http.StatusCreated)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	s.respondProject(w, r, chi.URLParam(r, "projectID"), http.StatusOK)
}

func (s *Server) respondProject(w http.ResponseWriter, r *http.Request, id string, status int) {
	p, err := s.ws.Projects().Project(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, status, p)
}

func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "projectID")
	var req projectRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := normalizeModel(req.DefaultModel); err != nil {
		respondError(w, err)
		return
	}
	if err := s.ws.UpdateProject(r.Context(), id, req.update()); err != nil {
		respondError(w, err)
		return
	}
	s.respondProject(w, r, id, http.StatusOK)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.ws.DeleteProject(r.Context(), chi.URLParam(r, "projectID")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProjectChats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "projectID")
	if !s.ws.Projects().ProjectExists(r.Context(), id) {
		respondError(w, errdefs.NotFound("project", id))
		return
	}
	respondJSON(w, http.StatusOK, s.chatViews(s.ws.Chats().ChatsByProject(r.Context(), id)))
}

func (s *Server) handleArchiveProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "projectID")
	if err := s.ws.ArchiveProject(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	s.respondProject(w, r, id, http.StatusOK)
}

func (s *Server) handleUnarchiveProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "projectID")
	if err := s.ws.UnarchiveProject(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	s.respondProject(w, r, id, http.StatusOK)
}

func (s *Server) handleSelectProject(w http.ResponseWriter, r *http.Request) {
	if err := s.ws.SelectProject(r.Context(), chi.URLParam(r, "projectID")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.ws.Projects().Categories(r.Context()))
}

type categoryRequest struct {
	Name  string `json:"name"`
	Emoji string `json:"emoji"`
}

func (s *Server) handleAddCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	id, err := s.ws.AddCategory(r.Context(), req.Name, req.Emoji)
	if err != nil {
		respondError(w, err)
		return
	}
	for _, c := range s.ws.Projects().CustomCategories(r.Context()) {
		if c.ID == id {
			respondJSON(w, http.StatusCreated, c)
			return
		}
	}
	respondJSON(w, http.StatusCreated, projects.Category{ID: id, Name: req.Name, Emoji: req.Emoji, Custom: true})
}

func (s *Server) handleRemoveCategory(w http.ResponseWriter, r *http.Request) {
	if err := s.ws.RemoveCategory(r.Context(), chi.URLParam(r, "categoryID")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.ws.Settings().Get())
}

type settingsRequest struct {
	DefaultModel          *models.Tag `json:"defaultModel"`
	EnableWebSearch       *bool       `json:"enableWebSearch"`
	EnableFileAttachments *bool       `json:"enableFileAttachments"`
	MaxFileSizeMB         *int        `json:"maxFileSize"`
	MaxAttachments        *int        `json:"maxAttachments"`
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := normalizeModel(req.DefaultModel); err != nil {
		respondError(w, err)
		return
	}
	updated, err := s.ws.UpdateSettings(r.Context(), settings.Update{
		DefaultModel:          req.DefaultModel,
		EnableWebSearch:       req.EnableWebSearch,
		EnableFileAttachments: req.EnableFileAttachments,
		MaxFileSizeMB:         req.MaxFileSizeMB,
		MaxAttachments:        req.MaxAttachments,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleGetUI(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.ws.UI().View())
}

type selectModelRequest struct {
	Model models.Tag `json:"model"`
}

func (s *Server) handleSelectModel(w http.ResponseWriter, r *http.Request) {
	var req selectModelRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	tag, err := models.Parse(string(req.Model))
	if err != nil {
		respondError(w, err)
		return
	}
	if err := s.ws.UI().SelectModel(tag); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.ws.UI().View())
}

func (s *Server) handleToggleSidebar(w http.ResponseWriter, _ *http.Request) {
	s.ws.UI().ToggleSidebar()
	respondJSON(w, http.StatusOK, s.ws.UI().View())
}

func (s *Server) handleCloseModal(w http.ResponseWriter, _ *http.Request) {
	s.ws.UI().CloseModal()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDismissToast(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "toastID")
	if !s.ws.UI().DismissToast(id) {
		respondError(w, errdefs.NotFound("toast", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
