package projects

import (
	"sort"

	"github.com/go-go-golems/parley/pkg/errdefs"
)

// Snapshot lists projects in insertion order.
type Snapshot struct {
	Projects         []*Project `json:"projects" yaml:"projects"`
	CurrentProjectID string     `json:"currentProjectId,omitempty" yaml:"currentProjectId,omitempty"`
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]*projectEntry, 0, len(s.projects))
	for _, e := range s.projects {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	ret := Snapshot{
		Projects:         make([]*Project, 0, len(entries)),
		CurrentProjectID: s.currentProjectID,
	}
	for _, e := range entries {
		ret.Projects = append(ret.Projects, e.project.Clone())
	}
	return ret
}

// Restore replaces all projects. A current id that does not resolve is cleared.
// Restore does not fire change hooks or delete hooks.
func (s *Store) Restore(snap Snapshot) error {
	projects := map[string]*projectEntry{}
	var seq uint64
	for _, p := range snap.Projects {
		if p == nil {
			continue
		}
		if p.ID == "" {
			return errdefs.InvalidArgument("projects", "project without id")
		}
		if _, dup := projects[p.ID]; dup {
			return errdefs.InvalidArgument("projects", "duplicate project id "+p.ID)
		}
		seq++
		projects[p.ID] = &projectEntry{project: p.Clone(), seq: seq}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects = projects
	s.seq = seq
	if _, ok := s.projects[snap.CurrentProjectID]; !ok {
		s.currentProjectID = ""
	} else {
		s.currentProjectID = snap.CurrentProjectID
	}
	return nil
}

func (s *Store) RestoreCurrent(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[projectID]; ok {
		s.currentProjectID = projectID
		return
	}
	s.currentProjectID = ""
}

// RestoreCategories replaces the custom categories. Built-in ids and duplicates in
// the input are skipped.
func (s *Store) RestoreCategories(custom []Category) {
	seen := map[string]bool{}
	ret := make([]Category, 0, len(custom))
	for _, c := range custom {
		if c.ID == "" || IsBuiltinCategory(c.ID) || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		c.Custom = true
		ret = append(ret, c)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.custom = ret
}
