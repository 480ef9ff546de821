package scheduler

import (
	"fmt"
	"strings"

	"github.com/fleetworks/fleetd/internal/store"
)

// TemplateContext carries the substitution values for one template
// instantiation.
type TemplateContext struct {
	Repository string   `json:"repository,omitempty"`
	Branch     string   `json:"branch,omitempty"`
	PRNumber   string   `json:"prNumber,omitempty"`
	Files      []string `json:"files,omitempty"`
	Labels     []string `json:"labels,omitempty"`
}

func (c *TemplateContext) value(name string) (string, bool) {
	switch name {
	case "repository":
		return c.Repository, c.Repository != ""
	case "branch":
		return c.Branch, c.Branch != ""
	case "prNumber":
		return c.PRNumber, c.PRNumber != ""
	case "files":
		return strings.Join(c.Files, ", "), len(c.Files) > 0
	case "labels":
		return strings.Join(c.Labels, ", "), len(c.Labels) > 0
	}
	return "", false
}

// RenderTemplate substitutes {placeholder} occurrences in the prompt and
// enforces the template's required context. A required value that is
// absent fails the render.
func RenderTemplate(t *store.Template, c TemplateContext) (string, error) {
	for _, req := range t.RequiredContext {
		if _, ok := c.value(req); !ok {
			return "", fmt.Errorf("template %q requires context %q", t.Name, req)
		}
	}
	out := t.PromptTemplate
	for _, name := range []string{"repository", "branch", "prNumber", "files", "labels"} {
		ph := "{" + name + "}"
		if !strings.Contains(out, ph) {
			continue
		}
		v, ok := c.value(name)
		if !ok {
			return "", fmt.Errorf("template %q references %q with no value", t.Name, name)
		}
		out = strings.ReplaceAll(out, ph, v)
	}
	return out, nil
}
