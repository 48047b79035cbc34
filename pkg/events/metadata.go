package events

import (
	"time"

	"github.com/rs/zerolog"
)

// EventMetadata identifies what an event is about. Events about a message are keyed
// by (ChatID, MessageID).
type EventMetadata struct {
	ChatID     string    `json:"chat_id,omitempty" yaml:"chat_id,omitempty"`
	MessageID  string    `json:"message_id,omitempty" yaml:"message_id,omitempty"`
	ProjectID  string    `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	CategoryID string    `json:"category_id,omitempty" yaml:"category_id,omitempty"`
	RunID      string    `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Streaming  bool      `json:"streaming,omitempty" yaml:"streaming,omitempty"`
	Time       time.Time `json:"time,omitempty" yaml:"time,omitempty"`
	Sequence   uint64    `json:"seq" yaml:"seq"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	if em.ChatID != "" {
		e.Str("chat_id", em.ChatID)
	}
	if em.MessageID != "" {
		e.Str("message_id", em.MessageID)
	}
	if em.ProjectID != "" {
		e.Str("project_id", em.ProjectID)
	}
	if em.CategoryID != "" {
		e.Str("category_id", em.CategoryID)
	}
	if em.RunID != "" {
		e.Str("run_id", em.RunID)
	}
	if em.Streaming {
		e.Bool("streaming", true)
	}
	e.Uint64("seq", em.Sequence)
}
