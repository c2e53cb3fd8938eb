package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// Handler is the function signature for tool execution. The returned string
// is fed back to the model verbatim.
type Handler func(ctx context.Context, args map[string]interface{}) (string, error)

// Definition describes one invocable tool. Name is the tool's only identity:
// allow/block/rate-limit lookups all key on it.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
	Handler     Handler         `json:"-"`
}

// Registry holds the set of invocable local tools.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*Definition
	schemas map[string]*gojsonschema.Schema
	logger  zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		tools:   make(map[string]*Definition),
		schemas: make(map[string]*gojsonschema.Schema),
		logger:  logger.With().Str("component", "tool_registry").Logger(),
	}
}

// Register adds a tool. A later registration with the same name overwrites
// the earlier one.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %q has no handler", def.Name)
	}

	var schema *gojsonschema.Schema
	if len(def.Parameters) > 0 {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(def.Parameters))
		if err != nil {
			return fmt.Errorf("tool %q has invalid parameter schema: %w", def.Name, err)
		}
		schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		r.logger.Debug().Str("tool", def.Name).Msg("Overwriting existing tool registration")
	}
	r.tools[def.Name] = &def
	if schema != nil {
		r.schemas[def.Name] = schema
	} else {
		delete(r.schemas, def.Name)
	}
	return nil
}

// Get returns the tool with the given name, or nil.
func (r *Registry) Get(name string) *Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Remove deletes a tool by name.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Definition, 0, len(r.tools))
	for _, def := range r.tools {
		out = append(out, *def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns all registered tool names sorted.
func (r *Registry) Names() []string {
	defs := r.List()
	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.Name
	}
	return names
}

// Subset returns a new registry containing only the named tools. Unknown
// names are skipped.
func (r *Registry) Subset(names []string) *Registry {
	sub := NewRegistry(r.logger)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range names {
		if def, ok := r.tools[name]; ok {
			sub.tools[name] = def
			if schema, ok := r.schemas[name]; ok {
				sub.schemas[name] = schema
			}
		}
	}
	return sub
}

// Filter returns a new registry with the allow filter applied first (empty
// allow keeps everything), then the block filter.
func (r *Registry) Filter(allow, block []string) *Registry {
	allowed := make(map[string]bool, len(allow))
	for _, name := range allow {
		allowed[name] = true
	}
	blocked := make(map[string]bool, len(block))
	for _, name := range block {
		blocked[name] = true
	}

	sub := NewRegistry(r.logger)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, def := range r.tools {
		if len(allowed) > 0 && !allowed[name] {
			continue
		}
		if blocked[name] {
			continue
		}
		sub.tools[name] = def
		if schema, ok := r.schemas[name]; ok {
			sub.schemas[name] = schema
		}
	}
	return sub
}

// Validate checks arguments against the tool's parameter schema. Tools
// registered without a schema accept anything.
func (r *Registry) Validate(name string, args map[string]interface{}) error {
	r.mu.RLock()
	schema := r.schemas[name]
	r.mu.RUnlock()

	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		errs := result.Errors()
		if len(errs) > 0 {
			return fmt.Errorf("invalid arguments: %s", errs[0].String())
		}
		return fmt.Errorf("invalid arguments")
	}
	return nil
}

// ObjectSchema builds a JSON-schema object from property definitions. It is
// a convenience for hand-registered tools.
func ObjectSchema(properties map[string]interface{}, required []string) json.RawMessage {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	data, err := json.Marshal(schema)
	if err != nil {
		// Only reachable with non-marshalable property values.
		panic(fmt.Sprintf("tool: cannot marshal schema: %v", err))
	}
	return data
}
