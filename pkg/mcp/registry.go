package mcp

import (
	"fmt"
	"strings"
	"sync"
)

// Catalog holds the resources and prompts a server publishes, in
// registration order.
type Catalog struct {
	mu          sync.RWMutex
	resources   map[string]Resource
	resOrder    []string
	prompts     map[string]Prompt
	promptOrder []string
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{
		resources: make(map[string]Resource),
		prompts:   make(map[string]Prompt),
	}
}

// AddResources registers resources. Nothing is registered if any URI is
// already taken or a resource is invalid.
func (c *Catalog) AddResources(resources ...Resource) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var conflicts []string
	seen := make(map[string]bool, len(resources))
	for _, r := range resources {
		if r.URI == "" || r.Handler == nil {
			return fmt.Errorf("%w: resource %q needs a URI and a handler", ErrInvalidArguments, r.URI)
		}
		if _, exists := c.resources[r.URI]; exists || seen[r.URI] {
			conflicts = append(conflicts, r.URI)
		}
		seen[r.URI] = true
	}
	if len(conflicts) > 0 {
		return fmt.Errorf("%w: resources %s", ErrConflict, strings.Join(conflicts, ", "))
	}

	for _, r := range resources {
		if r.MimeType == "" {
			r.MimeType = "application/json"
		}
		if r.Name == "" {
			r.Name = r.URI
		}
		c.resources[r.URI] = r
		c.resOrder = append(c.resOrder, r.URI)
	}
	return nil
}

// AddPrompts registers prompts with the same all-or-nothing rule as
// AddResources.
func (c *Catalog) AddPrompts(prompts ...Prompt) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var conflicts []string
	seen := make(map[string]bool, len(prompts))
	for _, p := range prompts {
		if p.Name == "" || p.Handler == nil {
			return fmt.Errorf("%w: prompt %q needs a name and a handler", ErrInvalidArguments, p.Name)
		}
		if _, exists := c.prompts[p.Name]; exists || seen[p.Name] {
			conflicts = append(conflicts, p.Name)
		}
		seen[p.Name] = true
	}
	if len(conflicts) > 0 {
		return fmt.Errorf("%w: prompts %s", ErrConflict, strings.Join(conflicts, ", "))
	}

	for _, p := range prompts {
		if p.Arguments == nil {
			p.Arguments = []PromptArgument{}
		}
		c.prompts[p.Name] = p
		c.promptOrder = append(c.promptOrder, p.Name)
	}
	return nil
}

// Resources returns every resource in registration order
func (c *Catalog) Resources() []Resource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Resource, 0, len(c.resOrder))
	for _, uri := range c.resOrder {
		out = append(out, c.resources[uri])
	}
	return out
}

// Prompts returns every prompt in registration order
func (c *Catalog) Prompts() []Prompt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Prompt, 0, len(c.promptOrder))
	for _, name := range c.promptOrder {
		out = append(out, c.prompts[name])
	}
	return out
}

// Resource looks up a resource by URI. An exact match wins; otherwise the
// first resource whose URI ends with uri, or whose scheme-less URI ends
// uri, is returned. This lets REST clients drop the scheme.
func (c *Catalog) Resource(uri string) (Resource, bool) {
	if uri == "" {
		return Resource{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	if r, ok := c.resources[uri]; ok {
		return r, true
	}
	for _, known := range c.resOrder {
		_, path, found := strings.Cut(known, "://")
		if !found {
			path = known
		}
		if strings.HasSuffix(known, uri) || (path != "" && strings.HasSuffix(uri, path)) {
			return c.resources[known], true
		}
	}
	return Resource{}, false
}

// Prompt looks up a prompt by name
func (c *Catalog) Prompt(name string) (Prompt, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prompts[name]
	return p, ok
}

// Len returns the number of resources and prompts
func (c *Catalog) Len() (resources, prompts int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.resources), len(c.prompts)
}
