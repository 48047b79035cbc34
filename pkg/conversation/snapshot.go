package conversation

import (
	"context"
	"sort"

	"github.com/go-go-golems/parley/pkg/errdefs"
)

// Snapshot is the serializable state of a Store. Chats are listed in insertion order.
type Snapshot struct {
	Chats         []*Chat `json:"chats" yaml:"chats"`
	CurrentChatID string  `json:"currentChatId,omitempty" yaml:"currentChatId,omitempty"`
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.entriesLocked(nil)
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	return Snapshot{
		Chats:         cloneChats(entries),
		CurrentChatID: s.currentChatID,
	}
}

// Restore replaces the whole store content. Streaming markers are dropped, and a
// current chat id that does not resolve is cleared. Restore does not fire change hooks.
func (s *Store) Restore(snap Snapshot) error {
	chats := map[string]*entry{}
	var seq uint64
	for _, c := range snap.Chats {
		if c == nil {
			continue
		}
		if c.ID == "" {
			return errdefs.InvalidArgument("chats", "chat without id")
		}
		if _, dup := chats[c.ID]; dup {
			return errdefs.InvalidArgument("chats", "duplicate chat id "+c.ID)
		}
		cloned := c.Clone()
		if cloned.Messages == nil {
			cloned.Messages = []*Message{}
		}
		seq++
		chats[c.ID] = &entry{chat: cloned, seq: seq}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = chats
	s.seq = seq
	if _, ok := s.chats[snap.CurrentChatID]; ok {
		s.currentChatID = snap.CurrentChatID
	} else {
		s.currentChatID = ""
	}
	return nil
}

// RestoreCurrent sets the current chat from persisted state, ignoring ids that do
// not resolve.
func (s *Store) RestoreCurrent(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chatID]; ok {
		s.currentChatID = chatID
		return
	}
	s.currentChatID = ""
}

// DanglingProjectRefs lists chats whose project does not resolve.
func (s *Store) DanglingProjectRefs(ctx context.Context, r ProjectResolver) []string {
	s.mu.RLock()
	refs := map[string]string{}
	for id, e := range s.chats {
		if e.chat.ProjectID != "" {
			refs[id] = e.chat.ProjectID
		}
	}
	s.mu.RUnlock()

	var ret []string
	for id, pid := range refs {
		if !r.ProjectExists(ctx, pid) {
			ret = append(ret, id)
		}
	}
	sort.Strings(ret)
	return ret
}
