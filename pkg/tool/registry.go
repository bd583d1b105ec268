package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

// Call is a model-issued request to invoke a named tool. It is
// immutable once received; the ID correlates the result back to the
// request in the model-side protocol.
type Call struct {
	ID     string                 `json:"id"`
	Name   string                 `json:"name"`
	Params map[string]interface{} `json:"params"`
}

// Schema is the declarative tool shape advertised to the model.
type Schema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Tool is the capability set every tool variant implements.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Invoke(ctx context.Context, params map[string]interface{}) (Result, error)
}

// Registry maps tool names to executable capabilities and holds the
// compiled input schemas used to validate model-supplied arguments.
type Registry struct {
	tools   map[string]Tool
	schemas map[string]*gojsonschema.Schema
	mu      sync.RWMutex
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// Register adds a tool to the registry. Tool names are unique.
func (r *Registry) Register(t Tool) error {
	if t.Name() == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(t.InputSchema()))
	if err != nil {
		return fmt.Errorf("invalid input schema for tool %s: %w", t.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool already registered: %s", t.Name())
	}

	r.tools[t.Name()] = t
	r.schemas[t.Name()] = schema

	log.Info().Str("tool", t.Name()).Msg("Tool registered")

	return nil
}

// Get returns a tool by name, or nil if not registered.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns the sorted names of all registered tools.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns the declarative shapes of all registered tools for
// export to the model client, in name order.
func (r *Registry) Schemas() []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]Schema, 0, len(r.tools))
	for _, t := range r.tools {
		schemas = append(schemas, Schema{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

// Dispatch looks up and invokes the tool named by call. A name not in
// the registry and arguments that fail schema validation both produce a
// Failure result the model can adapt to, never a fatal error. Errors
// returned by the tool itself pass through unchanged.
func (r *Registry) Dispatch(ctx context.Context, call Call) (Result, error) {
	r.mu.RLock()
	t := r.tools[call.Name]
	schema := r.schemas[call.Name]
	r.mu.RUnlock()

	if t == nil {
		log.Warn().Str("tool", call.Name).Msg("Unknown tool requested")
		return NewFailure(fmt.Sprintf("unknown tool: %s", call.Name)), nil
	}

	if err := validateParams(schema, call.Params); err != nil {
		log.Warn().Str("tool", call.Name).Err(err).Msg("Parameter validation failed")
		return NewFailure(fmt.Sprintf("invalid arguments for %s: %v", call.Name, err)), nil
	}

	log.Debug().Str("tool", call.Name).Str("call_id", call.ID).Msg("Dispatching tool call")

	return t.Invoke(ctx, call.Params)
}

func validateParams(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("%v", msgs)
	}
	return nil
}
