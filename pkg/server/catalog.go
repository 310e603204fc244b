package server

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/alsk1992/Flip-God-sub006/pkg/mcp"
)

// ReadFunc produces the content behind a resource URI.
type ReadFunc func(ctx context.Context) (mcp.ResourceContent, error)

type resourceEntry struct {
	info mcp.Resource
	read ReadFunc
}

// ResourceCatalog holds the resources the server itself serves, in
// registration order.
type ResourceCatalog struct {
	mu        sync.RWMutex
	order     []string
	entries   map[string]resourceEntry
	templates []mcp.ResourceTemplate
}

// NewResourceCatalog creates an empty catalog.
func NewResourceCatalog() *ResourceCatalog {
	return &ResourceCatalog{entries: make(map[string]resourceEntry)}
}

// Add registers a resource with a reader. Re-adding a URI replaces the entry.
func (c *ResourceCatalog) Add(info mcp.Resource, read ReadFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[info.URI]; !exists {
		c.order = append(c.order, info.URI)
	}
	c.entries[info.URI] = resourceEntry{info: info, read: read}
}

// AddStatic registers a resource whose content is a fixed text payload.
func (c *ResourceCatalog) AddStatic(info mcp.Resource, text string) {
	uri, mime := info.URI, info.MimeType
	c.Add(info, func(context.Context) (mcp.ResourceContent, error) {
		return mcp.ResourceContent{URI: uri, MimeType: mime, Text: text}, nil
	})
}

// AddTemplate registers a parameterized resource template.
func (c *ResourceCatalog) AddTemplate(tpl mcp.ResourceTemplate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.templates = append(c.templates, tpl)
}

// List returns resource descriptors in registration order.
func (c *ResourceCatalog) List() []mcp.Resource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]mcp.Resource, 0, len(c.order))
	for _, uri := range c.order {
		out = append(out, c.entries[uri].info)
	}
	return out
}

// Templates returns registered resource templates.
func (c *ResourceCatalog) Templates() []mcp.ResourceTemplate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]mcp.ResourceTemplate, len(c.templates))
	copy(out, c.templates)
	return out
}

// Read resolves a URI and produces its content.
func (c *ResourceCatalog) Read(ctx context.Context, uri string) (mcp.ResourceContent, error) {
	c.mu.RLock()
	entry, ok := c.entries[uri]
	c.mu.RUnlock()
	if !ok {
		return mcp.ResourceContent{}, fmt.Errorf("%w: %s", mcp.ErrResourceNotFound, uri)
	}
	return entry.read(ctx)
}

type promptEntry struct {
	info     mcp.Prompt
	messages []mcp.PromptMessage
}

// PromptCatalog holds the prompt templates the server serves. Message text
// may contain {{argument}} placeholders expanded by prompts/get.
type PromptCatalog struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]promptEntry
}

// NewPromptCatalog creates an empty catalog.
func NewPromptCatalog() *PromptCatalog {
	return &PromptCatalog{entries: make(map[string]promptEntry)}
}

// Add registers a prompt template. Re-adding a name replaces the entry.
func (c *PromptCatalog) Add(info mcp.Prompt, messages []mcp.PromptMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[info.Name]; !exists {
		c.order = append(c.order, info.Name)
	}
	c.entries[info.Name] = promptEntry{info: info, messages: messages}
}

// List returns prompt descriptors in registration order.
func (c *PromptCatalog) List() []mcp.Prompt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]mcp.Prompt, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.entries[name].info)
	}
	return out
}

// Get expands a prompt with the given arguments. Unknown prompts and missing
// required arguments are errors.
func (c *PromptCatalog) Get(name string, args map[string]string) (*mcp.PromptGetResult, error) {
	c.mu.RLock()
	entry, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", mcp.ErrPromptNotFound, name)
	}
	for _, arg := range entry.info.Arguments {
		if arg.Required {
			if _, present := args[arg.Name]; !present {
				return nil, fmt.Errorf("missing required argument %q for prompt %s", arg.Name, name)
			}
		}
	}
	messages := make([]mcp.PromptMessage, len(entry.messages))
	for i, m := range entry.messages {
		if m.Content.Type == "text" {
			m.Content.Text = expandPlaceholders(m.Content.Text, args)
		}
		messages[i] = m
	}
	return &mcp.PromptGetResult{Description: entry.info.Description, Messages: messages}, nil
}

// expandPlaceholders substitutes {{key}} tokens with argument values.
func expandPlaceholders(text string, args map[string]string) string {
	for k, v := range args {
		text = strings.ReplaceAll(text, "{{"+k+"}}", v)
	}
	return text
}
