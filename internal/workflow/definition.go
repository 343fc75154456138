package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// DependencyGraph maps step identifiers to the step ids they depend on. It is
// merged with each StepRef's DependsOn list during normalization.
type DependencyGraph map[string][]string

// Clone returns a deep copy of the graph.
func (g DependencyGraph) Clone() DependencyGraph {
	if len(g) == 0 {
		return nil
	}
	out := make(DependencyGraph, len(g))
	for key, deps := range g {
		if len(deps) == 0 {
			out[key] = nil
			continue
		}
		clone := make([]string, len(deps))
		copy(clone, deps)
		out[key] = clone
	}
	return out
}

// WorkflowDefinition declares a workflow graph in a serialisable form so it
// can be kept in YAML files and instantiated into an engine.
type WorkflowDefinition struct {
	ID          string                `json:"id" yaml:"id"`
	Name        string                `json:"name" yaml:"name"`
	Description string                `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []StepRef             `json:"steps" yaml:"steps"`
	Graph       DependencyGraph       `json:"graph,omitempty" yaml:"graph,omitempty"`
	Metadata    map[string]string     `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Runtime     WorkflowRuntimeConfig `json:"runtime,omitempty" yaml:"runtime,omitempty"`
}

// Clone returns a deep copy of the workflow definition.
func (def WorkflowDefinition) Clone() WorkflowDefinition {
	clone := WorkflowDefinition{
		ID:          def.ID,
		Name:        def.Name,
		Description: def.Description,
		Metadata:    cloneStringMap(def.Metadata),
		Graph:       def.Graph.Clone(),
		Runtime:     def.Runtime,
	}
	if len(def.Steps) > 0 {
		clone.Steps = make([]StepRef, len(def.Steps))
		for i, ref := range def.Steps {
			clone.Steps[i] = ref.Clone()
		}
	}
	return clone
}

// Validate ensures the workflow definition is self-consistent. Dependencies
// on ids that no step declares are allowed; they surface as "not found"
// blockers once the workflow is instantiated.
func (def WorkflowDefinition) Validate() error {
	if def.ID == "" {
		return fmt.Errorf("workflow: id is required")
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("workflow %s: at least one step is required", def.ID)
	}
	seen := map[string]struct{}{}
	for idx, ref := range def.Steps {
		if err := ref.Validate(); err != nil {
			return fmt.Errorf("workflow %s step[%d]: %w", def.ID, idx, err)
		}
		if _, exists := seen[ref.ID]; exists {
			return fmt.Errorf("workflow %s: duplicate step id %s", def.ID, ref.ID)
		}
		seen[ref.ID] = struct{}{}
	}
	for key, deps := range def.Graph {
		if _, ok := seen[key]; !ok {
			return fmt.Errorf("workflow %s: graph references unknown step %s", def.ID, key)
		}
		for _, dep := range deps {
			if dep == key {
				return fmt.Errorf("workflow %s: step %s depends on itself", def.ID, key)
			}
		}
	}
	if err := def.Runtime.validate(); err != nil {
		return fmt.Errorf("workflow %s runtime: %w", def.ID, err)
	}
	return nil
}

// Normalized clones the definition, merges graph edges into each step's
// DependsOn list, and validates the result.
func (def WorkflowDefinition) Normalized() (WorkflowDefinition, error) {
	clone := def.Clone()
	for i := range clone.Steps {
		clone.Steps[i].ID = strings.TrimSpace(clone.Steps[i].ID)
	}
	if err := clone.Validate(); err != nil {
		return WorkflowDefinition{}, err
	}
	if clone.Graph == nil {
		clone.Graph = DependencyGraph{}
	}
	for i, ref := range clone.Steps {
		merged := mergeDependencies(clone.Graph[ref.ID], ref.DependsOn)
		clone.Graph[ref.ID] = merged
		clone.Steps[i].DependsOn = cloneStringSlice(merged)
	}
	clone.Runtime = clone.Runtime.normalized()
	return clone, nil
}

// WorkflowRuntimeConfig configures how callers drive the workflow.
type WorkflowRuntimeConfig struct {
	MaxParallel int `json:"max_parallel,omitempty" yaml:"max_parallel,omitempty"`
	Retries     int `json:"retries,omitempty" yaml:"retries,omitempty"`
}

func (cfg WorkflowRuntimeConfig) normalized() WorkflowRuntimeConfig {
	if cfg.MaxParallel < 0 {
		cfg.MaxParallel = 0
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return cfg
}

func (cfg WorkflowRuntimeConfig) validate() error {
	if cfg.Retries > 100 {
		return fmt.Errorf("retries must be <= 100")
	}
	return nil
}

// StepIDs returns the step identifiers in declaration order.
func (def WorkflowDefinition) StepIDs() []string {
	ids := make([]string, 0, len(def.Steps))
	for _, ref := range def.Steps {
		ids = append(ids, ref.ID)
	}
	return ids
}

// Dependencies returns the merged dependency list for a step.
func (def WorkflowDefinition) Dependencies(id string) []string {
	if def.Graph == nil {
		return nil
	}
	return cloneStringSlice(def.Graph[id])
}

// Title prefers Name and falls back to ID.
func (def WorkflowDefinition) Title() string {
	if strings.TrimSpace(def.Name) != "" {
		return def.Name
	}
	return def.ID
}

// StepRef describes one step of a definition and the named action it runs.
type StepRef struct {
	ID          string       `json:"id" yaml:"id"`
	Name        string       `json:"name,omitempty" yaml:"name,omitempty"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	DependsOn   []string     `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Action      string       `json:"action,omitempty" yaml:"action,omitempty"`
	Config      ActionConfig `json:"config,omitempty" yaml:"config,omitempty"`
}

// Clone returns a deep copy of the step reference.
func (ref StepRef) Clone() StepRef {
	clone := StepRef{
		ID:          ref.ID,
		Name:        ref.Name,
		Description: ref.Description,
		Action:      ref.Action,
	}
	if len(ref.DependsOn) > 0 {
		clone.DependsOn = cloneStringSlice(ref.DependsOn)
	}
	if len(ref.Config) > 0 {
		clone.Config = ref.Config.Clone()
	}
	return clone
}

// Validate ensures the reference is usable.
func (ref StepRef) Validate() error {
	if strings.TrimSpace(ref.ID) == "" {
		return fmt.Errorf("workflow: step id is required")
	}
	deps := append([]string{}, ref.DependsOn...)
	sort.Strings(deps)
	for i := range deps {
		if deps[i] == ref.ID {
			return fmt.Errorf("workflow: step %s depends on itself", ref.ID)
		}
		if i > 0 && deps[i] == deps[i-1] {
			return fmt.Errorf("workflow: step %s has duplicate dependency on %s", ref.ID, deps[i])
		}
	}
	return nil
}

// NewStep materialises the reference into a Step without an action.
func (ref StepRef) NewStep() *Step {
	name := ref.Name
	if name == "" {
		name = ref.ID
	}
	return NewStep(ref.ID, name, ref.Description).AddPrerequisites(ref.DependsOn...)
}

// ActionConfig carries action-specific settings (opaque to the engine).
type ActionConfig map[string]any

// Clone returns a shallow copy of the config map.
func (cfg ActionConfig) Clone() ActionConfig {
	if len(cfg) == 0 {
		return nil
	}
	clone := make(ActionConfig, len(cfg))
	for key, value := range cfg {
		clone[key] = value
	}
	return clone
}

func mergeDependencies(existing, adds []string) []string {
	if len(adds) == 0 && len(existing) == 0 {
		return nil
	}
	set := map[string]struct{}{}
	for _, id := range existing {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	for _, id := range adds {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func cloneStringSlice(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	clone := make([]string, len(values))
	copy(clone, values)
	return clone
}

func cloneStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	clone := make(map[string]string, len(values))
	for key, value := range values {
		clone[key] = value
	}
	return clone
}
