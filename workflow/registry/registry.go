// Package registry holds the catalog of known task kinds: their display
// metadata, parameter schemas, and default-parameter builders.
//
// The registry is process-wide with an init-before-use discipline: register
// every task during startup, before the orchestrator serves its first
// request. Registration is at-most-once per internal name.
package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/synthos-ai/orchestrator/workflow"
)

// DefaultParamsFunc builds the baseline parameters for a task before the
// node's own params are merged on top. It receives the live execution
// context (read-only by convention) and the task's configuration section.
type DefaultParamsFunc func(ec *workflow.ExecutionContext, taskConfig map[string]any) map[string]any

// TaskMetadata describes one registered task kind.
type TaskMetadata struct {
	// InternalName is the unique key task nodes reference via taskType and
	// the bus matches completions on.
	InternalName string `json:"internalName"`

	// DisplayName is the human-facing label.
	DisplayName string `json:"displayName"`

	// Description is optional free text.
	Description string `json:"description,omitempty"`

	// ParamsSchema is a JSON Schema document validating the task's resolved
	// parameters. Empty means no validation.
	ParamsSchema json.RawMessage `json:"paramsSchema,omitempty"`

	// GenerateDefaultParams seeds the parameter merge. Nil means no
	// defaults.
	GenerateDefaultParams DefaultParamsFunc `json:"-"`
}

// Registry is a thread-safe task catalog. The zero value is not usable;
// call New.
type Registry struct {
	mu       sync.RWMutex
	tasks    map[string]*TaskMetadata
	compiled map[string]*jsonschema.Schema
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		tasks:    make(map[string]*TaskMetadata),
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a task kind. Registering the same internal name twice is an
// error; a task's identity must not change underneath running workflows.
func (r *Registry) Register(meta *TaskMetadata) error {
	if meta == nil || meta.InternalName == "" {
		return fmt.Errorf("task metadata requires an internal name")
	}

	var schema *jsonschema.Schema
	if len(meta.ParamsSchema) > 0 {
		compiler := jsonschema.NewCompiler()
		url := "registry:///" + meta.InternalName + ".json"
		if err := compiler.AddResource(url, bytes.NewReader(meta.ParamsSchema)); err != nil {
			return fmt.Errorf("invalid params schema for task %q: %w", meta.InternalName, err)
		}
		var err error
		schema, err = compiler.Compile(url)
		if err != nil {
			return fmt.Errorf("failed to compile params schema for task %q: %w", meta.InternalName, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[meta.InternalName]; exists {
		return fmt.Errorf("task %q is already registered", meta.InternalName)
	}
	// Detach from the caller's struct so later mutations cannot change a
	// registered task's identity.
	stored := *meta
	if len(meta.ParamsSchema) > 0 {
		stored.ParamsSchema = append(json.RawMessage(nil), meta.ParamsSchema...)
	}
	r.tasks[meta.InternalName] = &stored
	if schema != nil {
		r.compiled[meta.InternalName] = schema
	}
	return nil
}

// Get returns the task by internal name, or workflow.ErrUnknownTaskType.
func (r *Registry) Get(internalName string) (*TaskMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.tasks[internalName]
	if !ok {
		return nil, fmt.Errorf("task %q: %w", internalName, workflow.ErrUnknownTaskType)
	}
	return meta, nil
}

// List returns all registered tasks sorted by internal name.
func (r *Registry) List() []*TaskMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*TaskMetadata, 0, len(r.tasks))
	for _, meta := range r.tasks {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].InternalName < out[j].InternalName
	})
	return out
}

// ValidateParams checks params against the task's schema. Tasks without a
// schema accept anything.
func (r *Registry) ValidateParams(internalName string, params map[string]any) error {
	r.mu.RLock()
	schema, ok := r.compiled[internalName]
	_, registered := r.tasks[internalName]
	r.mu.RUnlock()

	if !registered {
		return fmt.Errorf("task %q: %w", internalName, workflow.ErrUnknownTaskType)
	}
	if !ok {
		return nil
	}

	// The validator expects plain decoded JSON values, so round-trip the
	// params to normalize Go types (int vs float64 and friends).
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params for task %q: %w", internalName, err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to decode params for task %q: %w", internalName, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("params for task %q failed validation: %w", internalName, err)
	}
	return nil
}
