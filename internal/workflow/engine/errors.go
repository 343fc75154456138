package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateStep is returned when a step id is already registered.
	ErrDuplicateStep = errors.New("workflow engine: duplicate step")
	// ErrStepNotFound is returned when an operation names an unregistered step.
	ErrStepNotFound = errors.New("workflow engine: step not found")
	// ErrInvalidTransition is returned when a step cannot start right now.
	ErrInvalidTransition = errors.New("workflow engine: invalid state transition")
	// ErrInvalidStep is returned for nil steps or steps without an id.
	ErrInvalidStep = errors.New("workflow engine: invalid step")
	// ErrStepOwned is returned when a step already belongs to another engine.
	ErrStepOwned = errors.New("workflow engine: step owned by another workflow")
	// ErrCyclicDependency is returned by Validate when prerequisites loop.
	ErrCyclicDependency = errors.New("workflow engine: cyclic dependency")
	// ErrStepReset is returned when a step was reset while its action ran, so
	// the attempt's result was dropped.
	ErrStepReset = errors.New("workflow engine: step reset during execution")
)

// TransitionError carries every reason a step could not start. It matches
// ErrInvalidTransition with errors.Is.
type TransitionError struct {
	StepID   string
	StepName string
	Reasons  []string
}

func (e *TransitionError) Error() string {
	label := e.StepName
	if label == "" {
		label = e.StepID
	}
	if len(e.Reasons) == 0 {
		return fmt.Sprintf("workflow engine: cannot execute step '%s'", label)
	}
	return fmt.Sprintf("workflow engine: cannot execute step '%s': %s", label, strings.Join(e.Reasons, ", "))
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
