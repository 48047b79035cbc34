package workspace

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-go-golems/parley/pkg/errdefs"
)

// Validate checks the cross-store invariants and returns an InvalidState error
// listing every violation.
func (w *Workspace) Validate(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var problems []string

	for _, id := range w.chats.DanglingProjectRefs(ctx, w.projects) {
		problems = append(problems, fmt.Sprintf("chat %s references a missing project", id))
	}

	if cur := w.chats.CurrentChatID(); cur != "" {
		if _, err := w.chats.Chat(ctx, cur); err != nil {
			problems = append(problems, fmt.Sprintf("current chat %s does not exist", cur))
		}
	}
	if cur := w.projects.CurrentProjectID(); cur != "" && !w.projects.ProjectExists(ctx, cur) {
		problems = append(problems, fmt.Sprintf("current project %s does not exist", cur))
	}

	for _, c := range w.chats.Chats(ctx) {
		if c.UpdatedAt.Before(c.CreatedAt) {
			problems = append(problems, fmt.Sprintf("chat %s was updated before it was created", c.ID))
		}

		active, ok := w.chats.ActiveMessage(c.ID)
		if !ok {
			if w.streams.IsStreaming(c.ID) {
				problems = append(problems, fmt.Sprintf("chat %s has a running stream but no active message", c.ID))
			}
			continue
		}
		last := c.LastMessage()
		if last == nil || last.ID != active {
			problems = append(problems, fmt.Sprintf("chat %s has an active message that is not its last message", c.ID))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return errdefs.InvalidState("workspace", "", strings.Join(problems, "; "))
}
