package catalog

import (
	"fmt"

	"github.com/kingrea/stepflow/internal/workflow/builder"
	"github.com/kingrea/stepflow/internal/workflow/engine"
)

// StepSpec is the tuple form of a step: id, display name and prerequisites.
type StepSpec struct {
	ID            string
	Name          string
	Prerequisites []string
}

// Configurable registers one step per StepSpec, in order, with a generated
// description.
func Configurable(specs []StepSpec, opts ...engine.Option) (*engine.Engine, error) {
	b := builder.New(named(TitleConfigurable, opts)...)
	for _, spec := range specs {
		b.Step(spec.ID, spec.Name, fmt.Sprintf("Auto-generated step: %s", spec.Name), spec.Prerequisites...)
	}
	return b.Build()
}

// SampleConfiguration is the six-step chain used by the configurable preset.
func SampleConfiguration() []StepSpec {
	return []StepSpec{
		{ID: "STEP_A", Name: "Initialize System"},
		{ID: "STEP_B", Name: "Load Configuration", Prerequisites: []string{"STEP_A"}},
		{ID: "STEP_C", Name: "Validate Input", Prerequisites: []string{"STEP_B"}},
		{ID: "STEP_D", Name: "Process Data", Prerequisites: []string{"STEP_C"}},
		{ID: "STEP_E", Name: "Generate Output", Prerequisites: []string{"STEP_D"}},
		{ID: "STEP_F", Name: "Cleanup", Prerequisites: []string{"STEP_E"}},
	}
}
