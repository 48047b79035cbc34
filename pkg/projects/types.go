package projects

import (
	"strings"
	"time"

	"github.com/go-go-golems/parley/pkg/errdefs"
	"github.com/go-go-golems/parley/pkg/models"
	clone "github.com/huandu/go-clone"
)

type Project struct {
	ID           string     `json:"id" yaml:"id"`
	Name         string     `json:"name" yaml:"name"`
	Category     string     `json:"category" yaml:"category"`
	Emoji        string     `json:"emoji" yaml:"emoji"`
	Description  string     `json:"description" yaml:"description"`
	Instructions string     `json:"instructions" yaml:"instructions"`
	DefaultModel models.Tag `json:"model" yaml:"model"`
	WebEnabled   bool       `json:"webEnabled" yaml:"webEnabled"`
	Archived     bool       `json:"archived" yaml:"archived"`
	CreatedAt    time.Time  `json:"createdAt" yaml:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt" yaml:"updatedAt"`
}

func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	return clone.Clone(p).(*Project)
}

type Category struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Emoji  string `json:"emoji" yaml:"emoji"`
	Custom bool   `json:"isCustom" yaml:"isCustom"`
}

// BuiltinCategories are always present and cannot be removed.
var BuiltinCategories = []Category{
	{ID: "work", Name: "Work", Emoji: "💼"},
	{ID: "personal", Name: "Personal", Emoji: "✨"},
	{ID: "research", Name: "Research", Emoji: "🔬"},
	{ID: "creative", Name: "Creative", Emoji: "🎨"},
}

func IsBuiltinCategory(id string) bool {
	for _, c := range BuiltinCategories {
		if c.ID == id {
			return true
		}
	}
	return false
}

// ProjectSpec is the input of CreateProject.
type ProjectSpec struct {
	Name         string
	Category     string
	Emoji        string
	Description  string
	Instructions string
	DefaultModel models.Tag
	WebEnabled   bool
}

// ProjectUpdate is a partial update; nil fields are left unchanged.
type ProjectUpdate struct {
	Name         *string
	Category     *string
	Emoji        *string
	Description  *string
	Instructions *string
	DefaultModel *models.Tag
	WebEnabled   *bool
}

func (u ProjectUpdate) IsEmpty() bool {
	return u.Name == nil && u.Category == nil && u.Emoji == nil && u.Description == nil &&
		u.Instructions == nil && u.DefaultModel == nil && u.WebEnabled == nil
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errdefs.InvalidArgument("name", "must not be empty")
	}
	return name, nil
}

func validateModel(tag models.Tag) (models.Tag, error) {
	if tag.IsZero() {
		return models.Auto, nil
	}
	if !tag.Valid() {
		return "", errdefs.InvalidArgument("model", "unknown model "+string(tag))
	}
	return tag, nil
}
