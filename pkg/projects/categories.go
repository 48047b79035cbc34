package projects

import (
	"context"
	"strings"

	"github.com/go-go-golems/parley/pkg/errdefs"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/iancoleman/strcase"
)

// AddCategory creates a custom category. Its id is the kebab-cased name.
func (s *Store) AddCategory(_ context.Context, name, emoji string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errdefs.InvalidArgument("name", "must not be empty")
	}
	id := strcase.ToKebab(name)
	if id == "" {
		return "", errdefs.InvalidArgument("name", "must contain letters or digits")
	}

	s.mu.Lock()
	if s.categoryExistsLocked(id) {
		s.mu.Unlock()
		return "", errdefs.Conflict("category", id, "already exists")
	}
	s.custom = append(s.custom, Category{ID: id, Name: name, Emoji: emoji, Custom: true})
	s.mu.Unlock()

	md := s.metadata("")
	md.CategoryID = id
	s.commit([]Section{SectionCategories}, events.NewCategoryEvent(events.EventTypeCategoryAdded, md, name))
	return id, nil
}

// RemoveCategory deletes a custom category. Projects filed under it lose their category.
func (s *Store) RemoveCategory(_ context.Context, id string) error {
	if IsBuiltinCategory(id) {
		return errdefs.InvalidArgument("category", "built-in category "+id+" cannot be removed")
	}

	s.mu.Lock()
	idx := -1
	for i, c := range s.custom {
		if c.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return errdefs.NotFound("category", id)
	}
	removed := s.custom[idx]
	s.custom = append(s.custom[:idx], s.custom[idx+1:]...)
	var touched []events.Event
	for pid, e := range s.projects {
		if e.project.Category == id {
			e.project.Category = ""
			touched = append(touched, events.NewProjectEvent(events.EventTypeProjectUpdated, s.metadata(pid), e.project.Name, e.project.Archived))
		}
	}
	s.mu.Unlock()

	md := s.metadata("")
	md.CategoryID = id
	sections := []Section{SectionCategories}
	if len(touched) > 0 {
		sections = append(sections, SectionProjects)
	}
	s.commit(sections, append([]events.Event{events.NewCategoryEvent(events.EventTypeCategoryRemoved, md, removed.Name)}, touched...)...)
	return nil
}

// Categories returns the built-in categories followed by the custom ones.
func (s *Store) Categories(_ context.Context) []Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := make([]Category, 0, len(BuiltinCategories)+len(s.custom))
	ret = append(ret, BuiltinCategories...)
	ret = append(ret, s.custom...)
	return ret
}

func (s *Store) CustomCategories(_ context.Context) []Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Category{}, s.custom...)
}

func (s *Store) categoryExistsLocked(id string) bool {
	if IsBuiltinCategory(id) {
		return true
	}
	for _, c := range s.custom {
		if c.ID == id {
			return true
		}
	}
	return false
}
