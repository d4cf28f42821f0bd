// Package tools defines schema-described callable tools and the name-keyed registry that
// merges built-in and externally supplied tools into one active set.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Property is a JSON-schema property.
type Property struct {
	Type        string              `json:"type"`
	Description string              `json:"description,omitempty"`
	Enum        []string            `json:"enum,omitempty"`
	Items       *Property           `json:"items,omitempty"`
	Properties  map[string]Property `json:"properties,omitempty"`
	Required    []string            `json:"required,omitempty"`
}

// InputSchema is the JSON-schema object describing a tool's arguments.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Definition is what the model sees of a tool.
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// Tool is a callable tool. Exec returns either text or any JSON-serialisable value.
type Tool interface {
	Definition() Definition
	Exec(ctx context.Context, args map[string]any) (any, error)
}

// Func adapts a function to Tool.
type Func struct {
	Def Definition
	Fn  func(ctx context.Context, args map[string]any) (any, error)
}

// Definition implements Tool.
func (f *Func) Definition() Definition { return f.Def }

// Exec implements Tool.
func (f *Func) Exec(ctx context.Context, args map[string]any) (any, error) {
	return f.Fn(ctx, args)
}

// Registry is a name-keyed tool set. It is safe for concurrent use.
type Registry struct {
	tools map[string]Tool
	mu    sync.RWMutex
}

// NewRegistry creates a registry holding ts; later tools replace earlier ones with the same name.
func NewRegistry(ts ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(ts))}
	r.Merge(ts...)
	return r
}

// Register adds t, failing if its name is already taken.
func (r *Registry) Register(t Tool) error {
	name := t.Definition().Name
	if name == "" {
		return fmt.Errorf("tool has no name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = t
	return nil
}

// Merge adds ts by name, replacing existing tools of the same name.
func (r *Registry) Merge(ts ...Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range ts {
		if t == nil {
			continue
		}
		r.tools[t.Definition().Name] = t
	}
}

// Remove drops the named tool if present.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the sorted tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the tool definitions sorted by name.
func (r *Registry) Definitions() []Definition {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(names))
	for _, n := range names {
		if t, ok := r.tools[n]; ok {
			defs = append(defs, t.Definition())
		}
	}
	return defs
}

// Len returns the number of tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Clone returns an independent copy of the registry.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := &Registry{tools: make(map[string]Tool, len(r.tools))}
	for k, v := range r.tools {
		c.tools[k] = v
	}
	return c
}

func stringArg(args map[string]any, key string, required bool) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("%s is required", key)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	if required && s == "" {
		return "", fmt.Errorf("%s must not be empty", key)
	}
	return s, nil
}

func boolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

// intArg accepts JSON numbers (float64) and ints.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return def
	}
}

// Map returns the property as a plain JSON-schema map.
func (p Property) Map() map[string]any {
	m := map[string]any{"type": p.Type}
	if p.Description != "" {
		m["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		m["enum"] = p.Enum
	}
	if p.Items != nil {
		m["items"] = p.Items.Map()
	}
	if len(p.Properties) > 0 {
		props := make(map[string]any, len(p.Properties))
		for k, v := range p.Properties {
			props[k] = v.Map()
		}
		m["properties"] = props
	}
	if len(p.Required) > 0 {
		m["required"] = p.Required
	}
	return m
}

// PropertyMap returns the schema properties as plain JSON-schema maps.
func (s InputSchema) PropertyMap() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for k, v := range s.Properties {
		props[k] = v.Map()
	}
	return props
}

// Map returns the whole schema as a plain JSON-schema map.
func (s InputSchema) Map() map[string]any {
	typ := s.Type
	if typ == "" {
		typ = "object"
	}
	m := map[string]any{"type": typ, "properties": s.PropertyMap()}
	if len(s.Required) > 0 {
		m["required"] = s.Required
	}
	return m
}
