package conversation

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/go-go-golems/parley/pkg/clock"
	"github.com/go-go-golems/parley/pkg/errdefs"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/models"
	"github.com/google/uuid"
	clone "github.com/huandu/go-clone"
	"github.com/mb0/glob"
	"github.com/rs/zerolog/log"
)

// Section names the part of the store a mutation touched. The persistence layer maps
// sections to storage keys.
type Section string

const (
	SectionChats  Section = "chats"
	SectionActive Section = "active"
)

// ProjectResolver reports whether a project id refers to an existing project.
type ProjectResolver interface {
	ProjectExists(ctx context.Context, id string) bool
}

type ChangeFunc func(section Section)

type entry struct {
	chat *Chat
	// insertion order, used as tie-break for equal UpdatedAt
	seq uint64
	// id of the response message currently being streamed into, if any
	active string
}

// Store is the authoritative collection of chats. All methods are safe for concurrent
// use; returned chats are deep copies.
type Store struct {
	mu            sync.RWMutex
	chats         map[string]*entry
	seq           uint64
	currentChatID string

	clock    clock.Clock
	resolver ProjectResolver
	sink     events.Sink
	hooks    []ChangeFunc
}

type StoreOption func(*Store)

func WithClock(c clock.Clock) StoreOption {
	return func(s *Store) {
		s.clock = c
	}
}

func WithProjectResolver(r ProjectResolver) StoreOption {
	return func(s *Store) {
		s.resolver = r
	}
}

func WithEventSink(sink events.Sink) StoreOption {
	return func(s *Store) {
		s.sink = sink
	}
}

func WithChangeHook(fn ChangeFunc) StoreOption {
	return func(s *Store) {
		s.hooks = append(s.hooks, fn)
	}
}

func NewStore(options ...StoreOption) *Store {
	ret := &Store{
		chats: map[string]*entry{},
		clock: clock.Real(),
		sink:  events.NopSink{},
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// OnChange registers fn to be called after every committed mutation.
func (s *Store) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

func (s *Store) SetProjectResolver(r ProjectResolver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolver = r
}

type CreateChatOptions struct {
	ProjectID string
	// Title seeds the chat title; it goes through DeriveTitle.
	Title string
}

// CreateChat adds an empty chat and makes it the current chat.
func (s *Store) CreateChat(ctx context.Context, opts CreateChatOptions) (string, error) {
	if opts.ProjectID != "" && !s.projectExists(ctx, opts.ProjectID) {
		return "", errdefs.NotFound("project", opts.ProjectID)
	}

	now := s.clock.Now()
	chat := &Chat{
		ID:        uuid.NewString(),
		Title:     DeriveTitle(opts.Title),
		ProjectID: opts.ProjectID,
		Messages:  []*Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.seq++
	s.chats[chat.ID] = &entry{chat: chat, seq: s.seq}
	s.currentChatID = chat.ID
	s.mu.Unlock()

	log.Debug().Str("chat_id", chat.ID).Str("project_id", chat.ProjectID).Msg("created chat")

	md := s.metadata(chat.ID, "")
	md.ProjectID = chat.ProjectID
	s.commit([]Section{SectionChats, SectionActive},
		events.NewChatEvent(events.EventTypeChatCreated, md, chat.Title),
		events.NewChatEvent(events.EventTypeChatSelected, md, chat.Title),
	)
	return chat.ID, nil
}

type AppendOptions struct {
	Role        Role
	Content     string
	Model       models.Tag
	Attachments []*Attachment
}

// AppendMessage appends a message to a chat. The first query of a chat sets its title.
func (s *Store) AppendMessage(_ context.Context, chatID string, opts AppendOptions) (string, error) {
	if !opts.Role.Valid() {
		return "", errdefs.InvalidArgument("role", "unknown role "+string(opts.Role))
	}
	if !opts.Model.IsZero() && !opts.Model.Valid() {
		return "", errdefs.InvalidArgument("model", "unknown model "+string(opts.Model))
	}

	var attachments []*Attachment
	if len(opts.Attachments) > 0 {
		attachments = clone.Clone(opts.Attachments).([]*Attachment)
		for _, a := range attachments {
			if a.ID == "" {
				a.ID = uuid.NewString()
			}
		}
	}

	s.mu.Lock()
	e, ok := s.chats[chatID]
	if !ok {
		s.mu.Unlock()
		return "", errdefs.NotFound("chat", chatID)
	}
	if e.active != "" {
		s.mu.Unlock()
		return "", errdefs.InvalidState("chat", chatID, "a response is still streaming")
	}

	msg := &Message{
		ID:          uuid.NewString(),
		Role:        opts.Role,
		Content:     opts.Content,
		Model:       opts.Model,
		Attachments: attachments,
		CreatedAt:   s.clock.Now(),
	}
	e.chat.Messages = append(e.chat.Messages, msg)
	titleChanged := false
	if len(e.chat.Messages) == 1 && msg.Role == RoleQuery {
		e.chat.Title = DeriveTitle(msg.Content)
		titleChanged = true
	}
	s.touchLocked(e)
	title := e.chat.Title
	s.mu.Unlock()

	log.Debug().Str("chat_id", chatID).Str("message_id", msg.ID).Str("role", string(msg.Role)).Msg("appended message")

	evs := []events.Event{
		events.NewMessageAppendedEvent(s.metadata(chatID, msg.ID), string(msg.Role), string(msg.Model), msg.Content),
	}
	if titleChanged {
		evs = append(evs, events.NewChatEvent(events.EventTypeChatUpdated, s.metadata(chatID, ""), title))
	}
	s.commit([]Section{SectionChats}, evs...)
	return msg.ID, nil
}

// BeginResponse appends an empty response message and marks it as the chat's active
// streaming target.
func (s *Store) BeginResponse(_ context.Context, chatID string, model models.Tag) (string, error) {
	if !model.IsZero() && !model.Valid() {
		return "", errdefs.InvalidArgument("model", "unknown model "+string(model))
	}

	s.mu.Lock()
	e, ok := s.chats[chatID]
	if !ok {
		s.mu.Unlock()
		return "", errdefs.NotFound("chat", chatID)
	}
	if e.active != "" {
		s.mu.Unlock()
		return "", errdefs.InvalidState("chat", chatID, "a response is already streaming")
	}
	msg := &Message{
		ID:        uuid.NewString(),
		Role:      RoleResponse,
		Model:     model,
		CreatedAt: s.clock.Now(),
	}
	e.chat.Messages = append(e.chat.Messages, msg)
	e.active = msg.ID
	s.touchLocked(e)
	s.mu.Unlock()

	md := s.metadata(chatID, msg.ID)
	md.Streaming = true
	s.commit([]Section{SectionChats},
		events.NewMessageAppendedEvent(md, string(RoleResponse), string(model), ""),
	)
	return msg.ID, nil
}

// MutateActiveMessage replaces the content of the chat's active streaming message.
// Any other message is immutable.
func (s *Store) MutateActiveMessage(_ context.Context, chatID, messageID, content string) error {
	s.mu.Lock()
	e, ok := s.chats[chatID]
	if !ok {
		s.mu.Unlock()
		return errdefs.NotFound("chat", chatID)
	}
	if e.active == "" || e.active != messageID {
		s.mu.Unlock()
		return errdefs.InvalidState("message", messageID, "not the active streaming target")
	}
	msg, _ := e.chat.Message(messageID)
	if msg == nil {
		e.active = ""
		s.mu.Unlock()
		return errdefs.InvalidState("message", messageID, "not the active streaming target")
	}
	delta := content
	if strings.HasPrefix(content, msg.Content) {
		delta = content[len(msg.Content):]
	}
	msg.Content = content
	s.mu.Unlock()

	log.Trace().Str("chat_id", chatID).Str("message_id", messageID).Int("length", len(content)).Msg("mutated active message")

	md := s.metadata(chatID, messageID)
	md.Streaming = true
	s.commit([]Section{SectionChats}, events.NewMessageContentEvent(md, delta, content))
	return nil
}

// FinishActiveMessage clears the active streaming marker, freezing the message.
func (s *Store) FinishActiveMessage(_ context.Context, chatID, messageID string) error {
	s.mu.Lock()
	e, ok := s.chats[chatID]
	if !ok {
		s.mu.Unlock()
		return errdefs.NotFound("chat", chatID)
	}
	if e.active == "" || e.active != messageID {
		s.mu.Unlock()
		return errdefs.InvalidState("message", messageID, "not the active streaming target")
	}
	e.active = ""
	s.touchLocked(e)
	s.mu.Unlock()

	s.commit([]Section{SectionChats})
	return nil
}

func (s *Store) RenameChat(_ context.Context, chatID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return errdefs.InvalidArgument("title", "must not be empty")
	}

	s.mu.Lock()
	e, ok := s.chats[chatID]
	if !ok {
		s.mu.Unlock()
		return errdefs.NotFound("chat", chatID)
	}
	e.chat.Title = title
	s.touchLocked(e)
	s.mu.Unlock()

	s.commit([]Section{SectionChats},
		events.NewChatEvent(events.EventTypeChatUpdated, s.metadata(chatID, ""), title))
	return nil
}

// DeleteChat removes a chat and its messages. Deleting the current chat clears the
// current selection.
func (s *Store) DeleteChat(_ context.Context, chatID string) error {
	s.mu.Lock()
	e, ok := s.chats[chatID]
	if !ok {
		s.mu.Unlock()
		return errdefs.NotFound("chat", chatID)
	}
	delete(s.chats, chatID)
	clearedCurrent := s.currentChatID == chatID
	if clearedCurrent {
		s.currentChatID = ""
	}
	s.mu.Unlock()

	log.Debug().Str("chat_id", chatID).Bool("was_current", clearedCurrent).Msg("deleted chat")

	md := s.metadata(chatID, "")
	md.ProjectID = e.chat.ProjectID
	sections := []Section{SectionChats}
	evs := []events.Event{events.NewChatEvent(events.EventTypeChatDeleted, md, e.chat.Title)}
	if clearedCurrent {
		sections = append(sections, SectionActive)
		evs = append(evs, events.NewChatEvent(events.EventTypeChatSelected, s.metadata("", ""), ""))
	}
	s.commit(sections, evs...)
	return nil
}

// MoveChatToProject reassigns a chat. An empty projectID detaches the chat.
func (s *Store) MoveChatToProject(ctx context.Context, chatID, projectID string) error {
	if projectID != "" && !s.projectExists(ctx, projectID) {
		return errdefs.NotFound("project", projectID)
	}

	s.mu.Lock()
	e, ok := s.chats[chatID]
	if !ok {
		s.mu.Unlock()
		return errdefs.NotFound("chat", chatID)
	}
	e.chat.ProjectID = projectID
	s.touchLocked(e)
	title := e.chat.Title
	s.mu.Unlock()

	md := s.metadata(chatID, "")
	md.ProjectID = projectID
	s.commit([]Section{SectionChats}, events.NewChatEvent(events.EventTypeChatUpdated, md, title))
	return nil
}

// SetCurrentChat selects a chat. An empty chatID clears the selection.
func (s *Store) SetCurrentChat(_ context.Context, chatID string) error {
	s.mu.Lock()
	title := ""
	if chatID != "" {
		e, ok := s.chats[chatID]
		if !ok {
			s.mu.Unlock()
			return errdefs.NotFound("chat", chatID)
		}
		title = e.chat.Title
	}
	s.currentChatID = chatID
	s.mu.Unlock()

	s.commit([]Section{SectionActive},
		events.NewChatEvent(events.EventTypeChatSelected, s.metadata(chatID, ""), title))
	return nil
}

// ClearProjectReferences detaches every chat of a project and returns how many
// chats were touched. UpdatedAt is left unchanged.
func (s *Store) ClearProjectReferences(_ context.Context, projectID string) (int, error) {
	if projectID == "" {
		return 0, errdefs.InvalidArgument("projectId", "must not be empty")
	}

	var evs []events.Event
	s.mu.Lock()
	for id, e := range s.chats {
		if e.chat.ProjectID != projectID {
			continue
		}
		e.chat.ProjectID = ""
		evs = append(evs, events.NewChatEvent(events.EventTypeChatUpdated, s.metadata(id, ""), e.chat.Title))
	}
	s.mu.Unlock()

	if len(evs) > 0 {
		log.Debug().Str("project_id", projectID).Int("chats", len(evs)).Msg("detached chats from project")
		s.commit([]Section{SectionChats}, evs...)
	}
	return len(evs), nil
}

func (s *Store) Chat(_ context.Context, chatID string) (*Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.chats[chatID]
	if !ok {
		return nil, errdefs.NotFound("chat", chatID)
	}
	return e.chat.Clone(), nil
}

// Chats returns every chat in insertion order.
func (s *Store) Chats(_ context.Context) []*Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.entriesLocked(nil)
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	return cloneChats(entries)
}

func (s *Store) CurrentChatID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentChatID
}

func (s *Store) CurrentChat(_ context.Context) (*Chat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.chats[s.currentChatID]
	if !ok {
		return nil, false
	}
	return e.chat.Clone(), true
}

// ChatsByProject returns the chats of a project, most recently updated first.
func (s *Store) ChatsByProject(_ context.Context, projectID string) []*Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.entriesLocked(func(c *Chat) bool { return c.ProjectID == projectID })
	sortRecent(entries)
	return cloneChats(entries)
}

// RecentChats returns chats across all projects, most recently updated first.
// A non-positive limit returns every chat.
func (s *Store) RecentChats(_ context.Context, limit int) []*Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.entriesLocked(nil)
	sortRecent(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return cloneChats(entries)
}

// OrphanChats returns the chats that belong to no project.
func (s *Store) OrphanChats(ctx context.Context) []*Chat {
	return s.ChatsByProject(ctx, "")
}

// FindChats matches titles against a case-insensitive glob pattern. A pattern without
// wildcards matches as a substring.
func (s *Store) FindChats(_ context.Context, pattern string) ([]*Chat, error) {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return nil, errdefs.InvalidArgument("pattern", "must not be empty")
	}
	if !strings.ContainsAny(pattern, "*?[") {
		pattern = "*" + pattern + "*"
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var matchErr error
	entries := s.entriesLocked(func(c *Chat) bool {
		ok, err := glob.Match(pattern, strings.ToLower(c.Title))
		if err != nil {
			matchErr = err
			return false
		}
		return ok
	})
	if matchErr != nil {
		return nil, errdefs.InvalidArgument("pattern", matchErr.Error())
	}
	sortRecent(entries)
	return cloneChats(entries), nil
}

// ActiveMessage returns the id of the message currently being streamed into.
func (s *Store) ActiveMessage(chatID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.chats[chatID]
	if !ok || e.active == "" {
		return "", false
	}
	return e.active, true
}

func (s *Store) IsStreaming(chatID string) bool {
	_, ok := s.ActiveMessage(chatID)
	return ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chats)
}

func (s *Store) projectExists(ctx context.Context, id string) bool {
	s.mu.RLock()
	r := s.resolver
	s.mu.RUnlock()
	if r == nil {
		return true
	}
	return r.ProjectExists(ctx, id)
}

func (s *Store) touchLocked(e *entry) {
	e.chat.UpdatedAt = clock.Later(e.chat.UpdatedAt, s.clock.Now())
}

func (s *Store) entriesLocked(keep func(*Chat) bool) []*entry {
	ret := make([]*entry, 0, len(s.chats))
	for _, e := range s.chats {
		if keep == nil || keep(e.chat) {
			ret = append(ret, e)
		}
	}
	return ret
}

func (s *Store) metadata(chatID, messageID string) events.EventMetadata {
	return events.EventMetadata{
		ChatID:    chatID,
		MessageID: messageID,
		Time:      s.clock.Now(),
	}
}

func (s *Store) commit(sections []Section, evs ...events.Event) {
	for _, ev := range evs {
		events.PublishBlind(s.sink, ev)
	}
	s.mu.RLock()
	hooks := append([]ChangeFunc(nil), s.hooks...)
	s.mu.RUnlock()
	for _, section := range sections {
		for _, h := range hooks {
			h(section)
		}
	}
}

func sortRecent(entries []*entry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.chat.UpdatedAt.Equal(b.chat.UpdatedAt) {
			return a.chat.UpdatedAt.After(b.chat.UpdatedAt)
		}
		return a.seq > b.seq
	})
}

func cloneChats(entries []*entry) []*Chat {
	ret := make([]*Chat, 0, len(entries))
	for _, e := range entries {
		ret = append(ret, e.chat.Clone())
	}
	return ret
}
