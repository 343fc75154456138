// Package builder assembles engines from graph literals and from workflow
// definitions.
package builder

import (
	"errors"
	"fmt"

	"github.com/kingrea/stepflow/internal/action"
	"github.com/kingrea/stepflow/internal/workflow"
	"github.com/kingrea/stepflow/internal/workflow/engine"
)

// Builder registers steps with a fresh engine as they are declared. Errors
// are collected and reported together by Build so graph literals can be
// written as a single chain.
type Builder struct {
	engine *engine.Engine
	errs   []error
}

// New starts a builder for an engine configured with opts.
func New(opts ...engine.Option) *Builder {
	return &Builder{engine: engine.New(opts...)}
}

// Step declares a step that runs the engine's default action.
func (b *Builder) Step(id, name, description string, prerequisites ...string) *Builder {
	return b.Add(workflow.NewStep(id, name, description).AddPrerequisites(prerequisites...))
}

// StepWithAction declares a step with its own action.
func (b *Builder) StepWithAction(id, name, description string, act workflow.Action, prerequisites ...string) *Builder {
	return b.Add(workflow.NewStep(id, name, description).AddPrerequisites(prerequisites...).SetAction(act))
}

// StepFunc declares a step whose action is fn.
func (b *Builder) StepFunc(id, name, description string, fn workflow.ActionFunc, prerequisites ...string) *Builder {
	var act workflow.Action
	if fn != nil {
		act = fn
	}
	return b.StepWithAction(id, name, description, act, prerequisites...)
}

// Add registers a prepared step.
func (b *Builder) Add(step *workflow.Step) *Builder {
	if err := b.engine.AddStep(step); err != nil {
		b.errs = append(b.errs, err)
	}
	return b
}

// Err returns the registration errors collected so far.
func (b *Builder) Err() error {
	return errors.Join(b.errs...)
}

// Build returns the engine. The engine is returned even when some
// registrations failed so callers can inspect what was accepted.
func (b *Builder) Build() (*engine.Engine, error) {
	return b.engine, b.Err()
}

// MustBuild panics on any registration error.
func (b *Builder) MustBuild() *engine.Engine {
	eng, err := b.Build()
	if err != nil {
		panic(err)
	}
	return eng
}

// FromDefinition instantiates def into a new engine, resolving each step's
// named action through registry. Steps without an action use the engine's
// default. The definition is rejected if its prerequisites form a cycle.
func FromDefinition(def workflow.WorkflowDefinition, registry *action.Registry, opts ...engine.Option) (*engine.Engine, error) {
	normalized, err := def.Normalized()
	if err != nil {
		return nil, err
	}
	if registry == nil {
		registry = action.NewBuiltinRegistry()
	}
	opts = append([]engine.Option{engine.WithName(normalized.Title())}, opts...)
	b := New(opts...)
	for _, ref := range normalized.Steps {
		step := ref.NewStep()
		if ref.Action != "" {
			act, err := registry.Resolve(ref.Action, action.Config(ref.Config))
			if err != nil {
				return nil, fmt.Errorf("workflow %s step %s: %w", normalized.ID, ref.ID, err)
			}
			step.SetAction(act)
		}
		b.Add(step)
	}
	eng, err := b.Build()
	if err != nil {
		return nil, err
	}
	if err := eng.Validate(); err != nil {
		return nil, fmt.Errorf("workflow %s: %w", normalized.ID, err)
	}
	return eng, nil
}
