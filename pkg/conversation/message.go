package conversation

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-go-golems/parley/pkg/models"
	"github.com/google/uuid"
	clone "github.com/huandu/go-clone"
)

type Role string

const (
	RoleQuery    Role = "query"
	RoleResponse Role = "response"
)

func (r Role) Valid() bool {
	return r == RoleQuery || r == RoleResponse
}

const (
	DefaultTitle   = "New conversation"
	MaxTitleLength = 50
)

// Attachment is file metadata attached to a query. Payload optionally carries the
// inline content and is base64 encoded on the wire.
type Attachment struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Size     int64  `json:"size" yaml:"size"`
	MimeType string `json:"type" yaml:"type"`
	Payload  []byte `json:"payload,omitempty" yaml:"payload,omitempty"`
}

type Message struct {
	ID          string        `json:"id" yaml:"id"`
	Role        Role          `json:"type" yaml:"type"`
	Content     string        `json:"content" yaml:"content"`
	Model       models.Tag    `json:"model,omitempty" yaml:"model,omitempty"`
	Attachments []*Attachment `json:"attachments,omitempty" yaml:"attachments,omitempty"`
	CreatedAt   time.Time     `json:"timestamp" yaml:"timestamp"`
}

type Chat struct {
	ID        string     `json:"id" yaml:"id"`
	Title     string     `json:"title" yaml:"title"`
	ProjectID string     `json:"projectId,omitempty" yaml:"projectId,omitempty"`
	Messages  []*Message `json:"messages" yaml:"messages"`
	CreatedAt time.Time  `json:"createdAt" yaml:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt" yaml:"updatedAt"`
}

func (c *Chat) Clone() *Chat {
	if c == nil {
		return nil
	}
	return clone.Clone(c).(*Chat)
}

// LastMessage returns the most recent message, or nil for an empty chat.
func (c *Chat) LastMessage() *Message {
	if c == nil || len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

func (c *Chat) Message(id string) (*Message, int) {
	for i, m := range c.Messages {
		if m.ID == id {
			return m, i
		}
	}
	return nil, -1
}

// NewAttachment assigns an id to a new attachment descriptor.
func NewAttachment(name string, size int64, mimeType string) *Attachment {
	return &Attachment{
		ID:       uuid.NewString(),
		Name:     name,
		Size:     size,
		MimeType: mimeType,
	}
}

// DeriveTitle turns the first query of a chat into its title: whitespace is trimmed and
// text longer than MaxTitleLength runes is cut to MaxTitleLength-3 runes plus "...".
// An empty result falls back to DefaultTitle.
func DeriveTitle(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultTitle
	}
	if utf8.RuneCountInString(s) <= MaxTitleLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:MaxTitleLength-3]) + "..."
}
