package projects

import (
	"context"
	"sort"
	"sync"

	"github.com/go-go-golems/parley/pkg/clock"
	"github.com/go-go-golems/parley/pkg/errdefs"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Section string

const (
	SectionProjects   Section = "projects"
	SectionCategories Section = "categories"
	SectionActive     Section = "active"
)

type ChangeFunc func(section Section)

// DeleteHook runs before a project is removed. Returning an error aborts the deletion.
type DeleteHook func(ctx context.Context, projectID string) error

type projectEntry struct {
	project *Project
	seq     uint64
}

// Store is a thread-safe collection of projects and custom categories.
type Store struct {
	mu               sync.RWMutex
	projects         map[string]*projectEntry
	seq              uint64
	custom           []Category
	currentProjectID string

	clock       clock.Clock
	sink        events.Sink
	hooks       []ChangeFunc
	deleteHooks []DeleteHook
}

type StoreOption func(*Store)

func WithClock(c clock.Clock) StoreOption {
	return func(s *Store) {
		s.clock = c
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

func WithDeleteHook(fn DeleteHook) StoreOption {
	return func(s *Store) {
		s.deleteHooks = append(s.deleteHooks, fn)
	}
}

func NewStore(options ...StoreOption) *Store {
	ret := &Store{
		projects: map[string]*projectEntry{},
		clock:    clock.Real(),
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

// OnDelete registers a hook that runs before every project deletion.
func (s *Store) OnDelete(fn DeleteHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteHooks = append(s.deleteHooks, fn)
}

func (s *Store) CreateProject(_ context.Context, spec ProjectSpec) (string, error) {
	name, err := validateName(spec.Name)
	if err != nil {
		return "", err
	}
	model, err := validateModel(spec.DefaultModel)
	if err != nil {
		return "", err
	}

	now := s.clock.Now()
	p := &Project{
		ID:           uuid.NewString(),
		Name:         name,
		Category:     spec.Category,
		Emoji:        spec.Emoji,
		Description:  spec.Description,
		Instructions: spec.Instructions,
		DefaultModel: model,
		WebEnabled:   spec.WebEnabled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.mu.Lock()
	if p.Category != "" && !s.categoryExistsLocked(p.Category) {
		s.mu.Unlock()
		return "", errdefs.InvalidArgument("category", "unknown category "+p.Category)
	}
	s.seq++
	s.projects[p.ID] = &projectEntry{project: p, seq: s.seq}
	s.mu.Unlock()

	log.Debug().Str("project_id", p.ID).Str("name", p.Name).Msg("created project")
	s.commit([]Section{SectionProjects},
		events.NewProjectEvent(events.EventTypeProjectCreated, s.metadata(p.ID), p.Name, false))
	return p.ID, nil
}

// UpdateProject merges the non-nil fields of update into the project.
func (s *Store) UpdateProject(_ context.Context, id string, update ProjectUpdate) error {
	if update.Name != nil {
		name, err := validateName(*update.Name)
		if err != nil {
			return err
		}
		update.Name = &name
	}
	if update.DefaultModel != nil {
		model, err := validateModel(*update.DefaultModel)
		if err != nil {
			return err
		}
		update.DefaultModel = &model
	}

	s.mu.Lock()
	e, ok := s.projects[id]
	if !ok {
		s.mu.Unlock()
		return errdefs.NotFound("project", id)
	}
	if update.Category != nil && *update.Category != "" && !s.categoryExistsLocked(*update.Category) {
		s.mu.Unlock()
		return errdefs.InvalidArgument("category", "unknown category "+*update.Category)
	}
	p := e.project
	if update.Name != nil {
		p.Name = *update.Name
	}
	if update.Category != nil {
		p.Category = *update.Category
	}
	if update.Emoji != nil {
		p.Emoji = *update.Emoji
	}
	if update.Description != nil {
		p.Description = *update.Description
	}
	if update.Instructions != nil {
		p.Instructions = *update.Instructions
	}
	if update.DefaultModel != nil {
		p.DefaultModel = *update.DefaultModel
	}
	if update.WebEnabled != nil {
		p.WebEnabled = *update.WebEnabled
	}
	s.touchLocked(p)
	name, archived := p.Name, p.Archived
	s.mu.Unlock()

	s.commit([]Section{SectionProjects},
		events.NewProjectEvent(events.EventTypeProjectUpdated, s.metadata(id), name, archived))
	return nil
}

func (s *Store) RenameProject(ctx context.Context, id, name string) error {
	return s.UpdateProject(ctx, id, ProjectUpdate{Name: &name})
}

func (s *Store) ArchiveProject(_ context.Context, id string) error {
	return s.setArchived(id, true)
}

func (s *Store) UnarchiveProject(_ context.Context, id string) error {
	return s.setArchived(id, false)
}

// setArchived only flips the flag; chats are not touched.
func (s *Store) setArchived(id string, archived bool) error {
	s.mu.Lock()
	e, ok := s.projects[id]
	if !ok {
		s.mu.Unlock()
		return errdefs.NotFound("project", id)
	}
	e.project.Archived = archived
	s.touchLocked(e.project)
	name := e.project.Name
	s.mu.Unlock()

	s.commit([]Section{SectionProjects},
		events.NewProjectEvent(events.EventTypeProjectUpdated, s.metadata(id), name, archived))
	return nil
}

// DeleteProject runs the delete hooks and then removes the project. If a hook fails
// the project is kept.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	s.mu.RLock()
	_, ok := s.projects[id]
	hooks := append([]DeleteHook(nil), s.deleteHooks...)
	s.mu.RUnlock()
	if !ok {
		return errdefs.NotFound("project", id)
	}

	for _, h := range hooks {
		if err := h(ctx, id); err != nil {
			return errors.Wrapf(err, "could not release references to project %s", id)
		}
	}

	s.mu.Lock()
	e, ok := s.projects[id]
	if !ok {
		s.mu.Unlock()
		return errdefs.NotFound("project", id)
	}
	delete(s.projects, id)
	clearedCurrent := s.currentProjectID == id
	if clearedCurrent {
		s.currentProjectID = ""
	}
	s.mu.Unlock()

	log.Debug().Str("project_id", id).Bool("was_current", clearedCurrent).Msg("deleted project")

	sections := []Section{SectionProjects}
	evs := []events.Event{events.NewProjectEvent(events.EventTypeProjectDeleted, s.metadata(id), e.project.Name, e.project.Archived)}
	if clearedCurrent {
		sections = append(sections, SectionActive)
		evs = append(evs, events.NewProjectEvent(events.EventTypeProjectSelected, s.metadata(""), "", false))
	}
	s.commit(sections, evs...)
	return nil
}

// SetCurrentProject selects a project. An empty id clears the selection.
func (s *Store) SetCurrentProject(_ context.Context, id string) error {
	s.mu.Lock()
	name := ""
	if id != "" {
		e, ok := s.projects[id]
		if !ok {
			s.mu.Unlock()
			return errdefs.NotFound("project", id)
		}
		name = e.project.Name
	}
	s.currentProjectID = id
	s.mu.Unlock()

	s.commit([]Section{SectionActive},
		events.NewProjectEvent(events.EventTypeProjectSelected, s.metadata(id), name, false))
	return nil
}

func (s *Store) Project(_ context.Context, id string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.projects[id]
	if !ok {
		return nil, errdefs.NotFound("project", id)
	}
	return e.project.Clone(), nil
}

func (s *Store) ProjectExists(_ context.Context, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.projects[id]
	return ok
}

type ListOptions struct {
	IncludeArchived bool
}

// Projects lists projects, most recently created first.
func (s *Store) Projects(_ context.Context, opts ListOptions) []*Project {
	return s.list(func(p *Project) bool { return opts.IncludeArchived || !p.Archived })
}

func (s *Store) ArchivedProjects(_ context.Context) []*Project {
	return s.list(func(p *Project) bool { return p.Archived })
}

func (s *Store) CurrentProjectID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentProjectID
}

func (s *Store) CurrentProject(_ context.Context) (*Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.projects[s.currentProjectID]
	if !ok {
		return nil, false
	}
	return e.project.Clone(), true
}

func (s *Store) list(keep func(*Project) bool) []*Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]*projectEntry, 0, len(s.projects))
	for _, e := range s.projects {
		if keep(e.project) {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq > entries[j].seq })
	ret := make([]*Project, 0, len(entries))
	for _, e := range entries {
		ret = append(ret, e.project.Clone())
	}
	return ret
}

func (s *Store) touchLocked(p *Project) {
	p.UpdatedAt = clock.Later(p.UpdatedAt, s.clock.Now())
}

func (s *Store) metadata(projectID string) events.EventMetadata {
	return events.EventMetadata{ProjectID: projectID, Time: s.clock.Now()}
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
