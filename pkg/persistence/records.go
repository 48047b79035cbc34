package persistence

import (
	"context"
	"encoding/json"

	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/projects"
	"github.com/go-go-golems/parley/pkg/settings"
)

// Record names. The storage key of a record is <namespace>_<name>.
const (
	RecordProjects         = "projects"
	RecordCustomCategories = "custom_categories"
	RecordChats            = "chats"
	RecordSettings         = "settings"
	RecordActiveState      = "active_state"
)

// Record binds one storage key to a piece of in-memory state.
type Record interface {
	// Encode returns the value to persist. It must be deterministic for equal state.
	Encode() (interface{}, error)
	// Decode replaces the in-memory state with data.
	Decode(data json.RawMessage) error
	// Reset installs the empty state.
	Reset()
}

type chatsRecord struct {
	store *conversation.Store
}

func ChatsRecord(store *conversation.Store) Record {
	return &chatsRecord{store: store}
}

func (r *chatsRecord) Encode() (interface{}, error) {
	return r.store.Snapshot().Chats, nil
}

func (r *chatsRecord) Decode(data json.RawMessage) error {
	var chats []*conversation.Chat
	if err := json.Unmarshal(data, &chats); err != nil {
		return err
	}
	return r.store.Restore(conversation.Snapshot{Chats: chats, CurrentChatID: r.store.CurrentChatID()})
}

func (r *chatsRecord) Reset() {
	_ = r.store.Restore(conversation.Snapshot{})
}

type projectsRecord struct {
	store *projects.Store
}

func ProjectsRecord(store *projects.Store) Record {
	return &projectsRecord{store: store}
}

func (r *projectsRecord) Encode() (interface{}, error) {
	return r.store.Snapshot().Projects, nil
}

func (r *projectsRecord) Decode(data json.RawMessage) error {
	var ps []*projects.Project
	if err := json.Unmarshal(data, &ps); err != nil {
		return err
	}
	return r.store.Restore(projects.Snapshot{Projects: ps, CurrentProjectID: r.store.CurrentProjectID()})
}

func (r *projectsRecord) Reset() {
	_ = r.store.Restore(projects.Snapshot{})
}

type categoriesRecord struct {
	store *projects.Store
}

func CategoriesRecord(store *projects.Store) Record {
	return &categoriesRecord{store: store}
}

func (r *categoriesRecord) Encode() (interface{}, error) {
	return r.store.CustomCategories(context.Background()), nil
}

func (r *categoriesRecord) Decode(data json.RawMessage) error {
	var cs []projects.Category
	if err := json.Unmarshal(data, &cs); err != nil {
		return err
	}
	r.store.RestoreCategories(cs)
	return nil
}

func (r *categoriesRecord) Reset() {
	r.store.RestoreCategories(nil)
}

type settingsRecord struct {
	store *settings.Store
}

func SettingsRecord(store *settings.Store) Record {
	return &settingsRecord{store: store}
}

func (r *settingsRecord) Encode() (interface{}, error) {
	return r.store.Get(), nil
}

func (r *settingsRecord) Decode(data json.RawMessage) error {
	// start from the defaults so fields missing from older payloads keep their default
	s := settings.Default()
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	r.store.Restore(s)
	return nil
}

func (r *settingsRecord) Reset() {
	r.store.Restore(settings.Default())
}

// ActiveState is the persisted pair of current chat and current project.
type ActiveState struct {
	ChatID    string `json:"chatId,omitempty"`
	ProjectID string `json:"projectId,omitempty"`
}

type activeStateRecord struct {
	chats    *conversation.Store
	projects *projects.Store
}

func ActiveStateRecord(chats *conversation.Store, ps *projects.Store) Record {
	return &activeStateRecord{chats: chats, projects: ps}
}

func (r *activeStateRecord) Encode() (interface{}, error) {
	return ActiveState{
		ChatID:    r.chats.CurrentChatID(),
		ProjectID: r.projects.CurrentProjectID(),
	}, nil
}

func (r *activeStateRecord) Decode(data json.RawMessage) error {
	var s ActiveState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	r.chats.RestoreCurrent(s.ChatID)
	r.projects.RestoreCurrent(s.ProjectID)
	return nil
}

func (r *activeStateRecord) Reset() {
	r.chats.RestoreCurrent("")
	r.projects.RestoreCurrent("")
}
