package models

import (
	"strings"

	"github.com/go-go-golems/parley/pkg/errdefs"
)

// Tag names the model a message was produced with, or the model requested for a send.
type Tag string

const (
	Auto       Tag = "Auto"
	Claude     Tag = "Claude"
	ChatGPT    Tag = "ChatGPT"
	Gemini     Tag = "Gemini"
	Perplexity Tag = "Perplexity"
)

type Option struct {
	Tag         Tag    `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	FullName    string `json:"fullName" yaml:"fullName"`
	Description string `json:"description" yaml:"description"`
	Badge       string `json:"badge,omitempty" yaml:"badge,omitempty"`
}

// Options is the model catalog, in display order.
var Options = []Option{
	{Tag: Auto, Name: "Auto", FullName: "Auto", Description: "AI Decision Engine routes to optimal model", Badge: "ADE"},
	{Tag: Claude, Name: "Claude", FullName: "Claude Sonnet 4.5", Description: "Best for reasoning and complex tasks"},
	{Tag: ChatGPT, Name: "ChatGPT", FullName: "ChatGPT 4", Description: "Excellent for creative and analytical work"},
	{Tag: Gemini, Name: "Gemini", FullName: "Gemini 2.0 Pro", Description: "Great for research and multimodal tasks"},
	{Tag: Perplexity, Name: "Perplexity", FullName: "Perplexity", Description: "Optimized for web search and research"},
}

func (t Tag) String() string { return string(t) }

func (t Tag) Valid() bool {
	_, ok := Lookup(t)
	return ok
}

func (t Tag) IsZero() bool { return t == "" }

// Lookup returns the catalog entry for t.
func Lookup(t Tag) (Option, bool) {
	for _, o := range Options {
		if o.Tag == t {
			return o, true
		}
	}
	return Option{}, false
}

// Parse resolves a user supplied model name case-insensitively. The empty
// string parses to the zero Tag.
func Parse(s string) (Tag, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	for _, o := range Options {
		if strings.EqualFold(string(o.Tag), s) {
			return o.Tag, nil
		}
	}
	return "", errdefs.InvalidArgument("model", "unknown model "+s)
}

// Resolve returns the first non-zero tag, falling back to Auto.
func Resolve(tags ...Tag) Tag {
	for _, t := range tags {
		if !t.IsZero() {
			return t
		}
	}
	return Auto
}
