package contract

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaRegistry holds per-command-type JSON Schemas (Draft 2020-12) used
// to validate admission payloads. Registering a schema is optional: command
// types without one accept any well-formed JSON payload.
//
// Safe for concurrent use.
type SchemaRegistry struct {
	mu       sync.RWMutex
	compiled map[string]*jsonschema.Schema
}

// NewSchemaRegistry creates an empty schema registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// Register compiles and stores the schema for a command type, replacing
// any previous schema. The schema must be a valid JSON Schema document.
func (r *SchemaRegistry) Register(commandType string, schema []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schema))
	if err != nil {
		return fmt.Errorf("contract: unmarshal schema for %q: %w", commandType, err)
	}

	c := jsonschema.NewCompiler()
	c.AssertFormat()

	url := "conduct:///" + commandType + ".json"
	if err := c.AddResource(url, doc); err != nil {
		return fmt.Errorf("contract: add schema resource for %q: %w", commandType, err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("contract: compile schema for %q: %w", commandType, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.compiled[commandType] = compiled
	return nil
}

// Validate checks a raw admission payload against the schema registered
// for the command type. Failures are returned as ClassifiedError with
// ClassSchema so admission can reject them synchronously.
//
// An empty payload is validated as JSON null. Missing schema means ok.
func (r *SchemaRegistry) Validate(commandType string, payload []byte) error {
	r.mu.RLock()
	sch, ok := r.compiled[commandType]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	if len(payload) == 0 {
		payload = []byte("null")
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return Errorf(ClassSchema, "payload for %q is not valid JSON: %v", commandType, err)
	}

	if err := sch.Validate(doc); err != nil {
		return NewError(ClassSchema, fmt.Errorf("payload for %q: %w", commandType, err))
	}

	return nil
}

// Has reports whether a schema is registered for the command type.
func (r *SchemaRegistry) Has(commandType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.compiled[commandType]
	return ok
}
