package viewstate

import (
	"context"
	"sync"
	"time"

	"github.com/go-go-golems/parley/pkg/clock"
	"github.com/go-go-golems/parley/pkg/errdefs"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

type ToastLevel string

const (
	ToastSuccess ToastLevel = "success"
	ToastError   ToastLevel = "error"
	ToastInfo    ToastLevel = "info"
	ToastWarning ToastLevel = "warning"
)

const DefaultToastDuration = 3 * time.Second

type Toast struct {
	ID       string        `json:"id"`
	Level    ToastLevel    `json:"type"`
	Message  string        `json:"message"`
	Duration time.Duration `json:"duration"`
}

type Section string

const (
	SectionProjects Section = "projects"
	SectionRecents  Section = "recents"
	SectionArchived Section = "archived"
)

// View is a copy of the state at one point in time.
type View struct {
	Theme         Theme            `json:"theme"`
	SidebarOpen   bool             `json:"sidebarOpen"`
	Sections      map[Section]bool `json:"sections"`
	Modal         *ModalView       `json:"modal,omitempty"`
	Dropdown      *Dropdown        `json:"dropdown,omitempty"`
	Toasts        []Toast          `json:"toasts"`
	Mobile        bool             `json:"isMobile"`
	SelectedModel models.Tag       `json:"selectedModel,omitempty"`
}

type toastEntry struct {
	toast Toast
	timer clock.Timer
}

// State holds ephemeral view state. Nothing in it is persisted.
type State struct {
	mu            sync.Mutex
	clock         clock.Clock
	theme         Theme
	sidebarOpen   bool
	sections      map[Section]bool
	modal         Modal
	dropdown      *Dropdown
	toasts        []*toastEntry
	mobile        bool
	selectedModel models.Tag
}

type Option func(*State)

func WithClock(c clock.Clock) Option {
	return func(s *State) {
		s.clock = c
	}
}

func New(options ...Option) *State {
	ret := &State{
		clock:       clock.Real(),
		theme:       ThemeDark,
		sidebarOpen: true,
		sections: map[Section]bool{
			SectionProjects: false,
			SectionRecents:  true,
			SectionArchived: false,
		},
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (s *State) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		Theme:         s.theme,
		SidebarOpen:   s.sidebarOpen,
		Sections:      map[Section]bool{},
		Modal:         viewOf(s.modal),
		Mobile:        s.mobile,
		SelectedModel: s.selectedModel,
		Toasts:        make([]Toast, 0, len(s.toasts)),
	}
	for k, open := range s.sections {
		v.Sections[k] = open
	}
	if s.dropdown != nil {
		d := *s.dropdown
		v.Dropdown = &d
	}
	for _, t := range s.toasts {
		v.Toasts = append(v.Toasts, t.toast)
	}
	return v
}

func (s *State) SetTheme(t Theme) error {
	switch t {
	case ThemeLight, ThemeDark, ThemeSystem:
	default:
		return errdefs.InvalidArgument("theme", "unknown theme "+string(t))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.theme = t
	return nil
}

func (s *State) ToggleSidebar() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sidebarOpen = !s.sidebarOpen
	return s.sidebarOpen
}

func (s *State) SetSidebarOpen(open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sidebarOpen = open
}

// SetMobile switches mobile layout. Entering it closes the sidebar.
func (s *State) SetMobile(mobile bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mobile = mobile
	if mobile {
		s.sidebarOpen = false
	}
}

func (s *State) ToggleSection(sec Section) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	open, ok := s.sections[sec]
	if !ok {
		return false, errdefs.InvalidArgument("section", "unknown section "+string(sec))
	}
	s.sections[sec] = !open
	return !open, nil
}

// OpenModal replaces the open modal and closes any dropdown.
func (s *State) OpenModal(m Modal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modal = m
	s.dropdown = nil
}

func (s *State) CloseModal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modal = nil
}

func (s *State) Modal() (Modal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modal, s.modal != nil
}

func (s *State) OpenDropdown(d Dropdown) error {
	if !d.Kind.Valid() {
		return errdefs.InvalidArgument("dropdown", "unknown dropdown "+string(d.Kind))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropdown = &d
	return nil
}

func (s *State) CloseDropdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropdown = nil
}

func (s *State) Dropdown() (Dropdown, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropdown == nil {
		return Dropdown{}, false
	}
	return *s.dropdown, true
}

// SelectModel sets the model picked in the composer. The zero tag clears it.
func (s *State) SelectModel(tag models.Tag) error {
	if !tag.IsZero() && !tag.Valid() {
		return errdefs.InvalidArgument("model", "unknown model "+string(tag))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedModel = tag
	return nil
}

func (s *State) SelectedModel() models.Tag {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedModel
}

// PushToast queues a toast that is removed after d, or DefaultToastDuration when d
// is zero.
func (s *State) PushToast(level ToastLevel, message string, d time.Duration) string {
	if d <= 0 {
		d = DefaultToastDuration
	}
	e := &toastEntry{toast: Toast{ID: uuid.NewString(), Level: level, Message: message, Duration: d}}
	id := e.toast.ID

	s.mu.Lock()
	s.toasts = append(s.toasts, e)
	e.timer = s.clock.AfterFunc(d, func() { s.DismissToast(id) })
	s.mu.Unlock()
	return id
}

func (s *State) DismissToast(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.toasts {
		if e.toast.ID != id {
			continue
		}
		if e.timer != nil {
			e.timer.Stop()
		}
		s.toasts = append(s.toasts[:i], s.toasts[i+1:]...)
		return true
	}
	return false
}

func (s *State) ClearToasts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.toasts {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	s.toasts = nil
}

// HandleEvent closes the modal and dropdown when the chat or project they refer to
// was deleted.
func (s *State) HandleEvent(ev events.Event) {
	var chatID, projectID string
	switch ev.Type() {
	case events.EventTypeChatDeleted:
		chatID = ev.Metadata().ChatID
	case events.EventTypeProjectDeleted:
		projectID = ev.Metadata().ProjectID
	default:
		return
	}
	s.ForgetDeleted(chatID, projectID)
}

// ForgetDeleted closes the modal and dropdown when they refer to chatID or projectID.
func (s *State) ForgetDeleted(chatID, projectID string) {
	if chatID == "" && projectID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.modal != nil {
		c, p := s.modal.refs()
		if (chatID != "" && c == chatID) || (projectID != "" && p == projectID) {
			log.Debug().Str("modal", string(s.modal.Kind())).Msg("closing modal of deleted target")
			s.modal = nil
		}
	}
	if s.dropdown != nil {
		c, p := s.dropdown.refs()
		if (chatID != "" && c == chatID) || (projectID != "" && p == projectID) {
			s.dropdown = nil
		}
	}
}

// Subscriber is implemented by events.Bus.
type Subscriber interface {
	Subscribe(ctx context.Context, filter events.Filter) (<-chan events.Event, error)
}

// Follow subscribes to deletion events and feeds them into HandleEvent until ctx is
// done. It returns once the subscription is in place; the returned channel is closed
// when following stops.
func (s *State) Follow(ctx context.Context, sub Subscriber) (<-chan struct{}, error) {
	ch, err := sub.Subscribe(ctx, events.Filter{
		Types: []events.EventType{events.EventTypeChatDeleted, events.EventTypeProjectDeleted},
	})
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			s.HandleEvent(ev)
		}
	}()
	return done, nil
}
