package workflow

import "context"

// Action is the unit of work attached to a step. Run may block; it receives
// the step so it can read configuration and write results into the data bag.
// Returning false or a non-nil error marks the attempt as failed.
type Action interface {
	Run(ctx context.Context, step *Step) (bool, error)
}

// ActionFunc adapts a plain function to the Action interface.
type ActionFunc func(ctx context.Context, step *Step) (bool, error)

// Run calls f.
func (f ActionFunc) Run(ctx context.Context, step *Step) (bool, error) {
	return f(ctx, step)
}

// NoOp succeeds immediately.
var NoOp Action = ActionFunc(func(context.Context, *Step) (bool, error) {
	return true, nil
})
