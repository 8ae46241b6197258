package worktree

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Template describes a sandbox environment a worktree can be created from.
type Template struct {
	Slug          string   `yaml:"slug" json:"slug"`
	Name          string   `yaml:"name" json:"name"`
	Image         string   `yaml:"image" json:"image"`
	SetupCommands []string `yaml:"setup_commands" json:"setup_commands,omitempty"`
}

// Catalog is the set of available templates keyed by slug.
type Catalog struct {
	templates map[string]Template
	order     []string
}

// builtinTemplates is used when no catalog file is configured.
var builtinTemplates = []Template{
	{Slug: "default", Name: "Default", Image: "devchain/sandbox:latest"},
	{Slug: "node", Name: "Node.js", Image: "devchain/sandbox-node:latest"},
	{Slug: "go", Name: "Go", Image: "devchain/sandbox-go:latest"},
}

// LoadCatalog reads the template catalog from a yaml file. An empty path
// yields the built-in catalog.
func LoadCatalog(path string) (*Catalog, error) {
	templates := builtinTemplates
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read template catalog: %w", err)
		}
		var file struct {
			Templates []Template `yaml:"templates"`
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse template catalog: %w", err)
		}
		if len(file.Templates) == 0 {
			return nil, fmt.Errorf("template catalog %s defines no templates", path)
		}
		templates = file.Templates
	}

	catalog := &Catalog{templates: make(map[string]Template, len(templates))}
	for _, t := range templates {
		if t.Slug == "" {
			return nil, fmt.Errorf("template catalog entry %q has no slug", t.Name)
		}
		if _, dup := catalog.templates[t.Slug]; dup {
			return nil, fmt.Errorf("duplicate template slug %q", t.Slug)
		}
		catalog.templates[t.Slug] = t
		catalog.order = append(catalog.order, t.Slug)
	}
	return catalog, nil
}

// Get returns the template for a slug. An empty slug resolves to the first
// catalog entry.
func (c *Catalog) Get(slug string) (Template, error) {
	if slug == "" {
		return c.templates[c.order[0]], nil
	}
	t, ok := c.templates[slug]
	if !ok {
		return Template{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, slug)
	}
	return t, nil
}

// List returns all templates in catalog order.
func (c *Catalog) List() []Template {
	out := make([]Template, 0, len(c.order))
	for _, slug := range c.order {
		out = append(out, c.templates[slug])
	}
	return out
}
