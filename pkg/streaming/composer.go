package streaming

import (
	"bytes"
	"context"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/go-go-golems/parley/pkg/models"
	"github.com/pkg/errors"
)

// Request describes the reply a Composer should plan.
type Request struct {
	ChatID string
	Prompt string
	Model  models.Tag
}

// Composer produces the full text a run will stream.
type Composer interface {
	Compose(ctx context.Context, req Request) (string, error)
}

type ComposerFunc func(ctx context.Context, req Request) (string, error)

func (f ComposerFunc) Compose(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// StaticComposer always streams text.
func StaticComposer(text string) Composer {
	return ComposerFunc(func(context.Context, Request) (string, error) {
		return text, nil
	})
}

// EchoComposer streams the prompt back.
func EchoComposer() Composer {
	return ComposerFunc(func(_ context.Context, req Request) (string, error) {
		return req.Prompt, nil
	})
}

var defaultTemplates = []string{
	`Happy to help with "{{ .Prompt | trunc 60 }}".

Here is what matters most:

1. **Scope**: settle what the answer has to cover before going into detail.
2. **Context**: {{ .ModelName }} works best when the surrounding constraints are spelled out.
3. **Next step**: pick the smallest change that moves things forward.

Want me to expand on any of these?`,
	`Good question. Let me break it down.

## Overview

{{ .Prompt | trunc 80 | title }} has a few sides to it:

- **Principles**: the ideas everything else rests on
- **Practice**: how it plays out in real use
- **Pitfalls**: the mistakes people make most often

Ask away if anything needs more detail.`,
	`Here is a small example to make it concrete:

` + "```go" + `
func answer() string {
	return {{ .Prompt | trunc 40 | quote }}
}
` + "```" + `

The function just returns the input; the shape is what matters here. {{ .ModelName }} can walk through a fuller version if you like.`,
}

type templateData struct {
	Prompt    string
	Model     models.Tag
	ModelName string
}

// TemplateComposer renders one of a fixed set of sprig templates. The template is
// picked from the prompt length, so a given prompt always gets the same reply.
type TemplateComposer struct {
	templates []*template.Template
}

func NewTemplateComposer(sources ...string) (*TemplateComposer, error) {
	if len(sources) == 0 {
		sources = defaultTemplates
	}
	ret := &TemplateComposer{}
	for i, src := range sources {
		t, err := template.New("reply").Funcs(sprig.TxtFuncMap()).Parse(src)
		if err != nil {
			return nil, errors.Wrapf(err, "could not parse reply template %d", i)
		}
		ret.templates = append(ret.templates, t)
	}
	return ret, nil
}

func (c *TemplateComposer) Compose(_ context.Context, req Request) (string, error) {
	model := models.Resolve(req.Model)
	name := string(model)
	if o, ok := models.Lookup(model); ok {
		name = o.FullName
	}

	t := c.templates[len([]rune(req.Prompt))%len(c.templates)]
	var buf bytes.Buffer
	if err := t.Execute(&buf, templateData{Prompt: req.Prompt, Model: model, ModelName: name}); err != nil {
		return "", errors.Wrap(err, "could not render reply")
	}
	return buf.String(), nil
}
