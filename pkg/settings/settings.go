package settings

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-go-golems/parley/pkg/errdefs"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/models"
)

const megabyte = 1024 * 1024

// Settings are the user preferences that apply across chats.
type Settings struct {
	DefaultModel          models.Tag `json:"defaultModel" yaml:"defaultModel"`
	EnableWebSearch       bool       `json:"enableWebSearch" yaml:"enableWebSearch"`
	EnableFileAttachments bool       `json:"enableFileAttachments" yaml:"enableFileAttachments"`
	// MaxFileSizeMB bounds the size of a single attachment, in megabytes.
	MaxFileSizeMB  int `json:"maxFileSize" yaml:"maxFileSize"`
	MaxAttachments int `json:"maxAttachments" yaml:"maxAttachments"`
}

func Default() Settings {
	return Settings{
		DefaultModel:          models.Auto,
		EnableWebSearch:       true,
		EnableFileAttachments: true,
		MaxFileSizeMB:         10,
		MaxAttachments:        10,
	}
}

func (s Settings) Validate() error {
	if !s.DefaultModel.Valid() {
		return errdefs.InvalidArgument("defaultModel", "unknown model "+string(s.DefaultModel))
	}
	if s.MaxFileSizeMB <= 0 {
		return errdefs.InvalidArgument("maxFileSize", "must be positive")
	}
	if s.MaxAttachments <= 0 {
		return errdefs.InvalidArgument("maxAttachments", "must be positive")
	}
	return nil
}

// Update is a partial update; nil fields are left unchanged.
type Update struct {
	DefaultModel          *models.Tag
	EnableWebSearch       *bool
	EnableFileAttachments *bool
	MaxFileSizeMB         *int
	MaxAttachments        *int
}

type ChangeFunc func()

type Store struct {
	mu       sync.RWMutex
	settings Settings
	sink     events.Sink
	hooks    []ChangeFunc
}

type StoreOption func(*Store)

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
		settings: Default(),
		sink:     events.NopSink{},
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (s *Store) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func (s *Store) Update(_ context.Context, u Update) (Settings, error) {
	s.mu.Lock()
	next := s.settings
	if u.DefaultModel != nil {
		next.DefaultModel = *u.DefaultModel
	}
	if u.EnableWebSearch != nil {
		next.EnableWebSearch = *u.EnableWebSearch
	}
	if u.EnableFileAttachments != nil {
		next.EnableFileAttachments = *u.EnableFileAttachments
	}
	if u.MaxFileSizeMB != nil {
		next.MaxFileSizeMB = *u.MaxFileSizeMB
	}
	if u.MaxAttachments != nil {
		next.MaxAttachments = *u.MaxAttachments
	}
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return s.Get(), err
	}
	s.settings = next
	hooks := append([]ChangeFunc(nil), s.hooks...)
	s.mu.Unlock()

	events.PublishBlind(s.sink, events.NewSettingsUpdatedEvent())
	for _, h := range hooks {
		h()
	}
	return next, nil
}

// Restore replaces the settings with persisted values. Invalid values fall back to
// the defaults field by field.
func (s *Store) Restore(persisted Settings) {
	d := Default()
	if !persisted.DefaultModel.Valid() {
		persisted.DefaultModel = d.DefaultModel
	}
	if persisted.MaxFileSizeMB <= 0 {
		persisted.MaxFileSizeMB = d.MaxFileSizeMB
	}
	if persisted.MaxAttachments <= 0 {
		persisted.MaxAttachments = d.MaxAttachments
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = persisted
}

// ValidateAttachments checks a prospective send against the attachment limits.
func (s *Store) ValidateAttachments(sizes []int64) error {
	if len(sizes) == 0 {
		return nil
	}
	cur := s.Get()
	if !cur.EnableFileAttachments {
		return errdefs.InvalidArgument("attachments", "file attachments are disabled")
	}
	if len(sizes) > cur.MaxAttachments {
		return errdefs.InvalidArgument("attachments",
			fmt.Sprintf("at most %d attachments are allowed, got %d", cur.MaxAttachments, len(sizes)))
	}
	limit := int64(cur.MaxFileSizeMB) * megabyte
	for _, size := range sizes {
		if size > limit {
			return errdefs.InvalidArgument("attachments",
				fmt.Sprintf("attachment of %d bytes exceeds the %d MB limit", size, cur.MaxFileSizeMB))
		}
	}
	return nil
}
