// Package runner drives an engine to completion by repeatedly asking the
// scheduler for a runnable batch and executing that batch concurrently.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kingrea/stepflow/internal/workflow"
	"github.com/kingrea/stepflow/internal/workflow/engine"
	"github.com/kingrea/stepflow/internal/workflow/scheduler"
)

// Runner executes every reachable step of an engine. A failed step blocks
// its dependents but never stops independent branches.
type Runner struct {
	engine      *engine.Engine
	maxParallel int
	retries     int
	targets     []string
	gates       map[string]scheduler.ManualGateState
	forceFail   map[string]struct{}
	onBatch     func(round int, ids []string)
	logger      *slog.Logger
}

// Option customizes a Runner.
type Option func(*Runner)

// WithMaxParallel caps concurrent step executions. Zero means unlimited.
func WithMaxParallel(n int) Option {
	return func(r *Runner) {
		if n >= 0 {
			r.maxParallel = n
		}
	}
}

// WithRetries allows each failed step up to n extra attempts.
func WithRetries(n int) Option {
	return func(r *Runner) {
		if n >= 0 {
			r.retries = n
		}
	}
}

// WithTargets restricts the run to targets and their prerequisites.
func WithTargets(ids ...string) Option {
	return func(r *Runner) {
		r.targets = append(r.targets, ids...)
	}
}

// WithManualGates holds gated steps until approved.
func WithManualGates(gates map[string]scheduler.ManualGateState) Option {
	return func(r *Runner) {
		r.gates = gates
	}
}

// WithForcedFailures makes every attempt of the listed steps fail.
func WithForcedFailures(ids ...string) Option {
	return func(r *Runner) {
		for _, id := range ids {
			r.forceFail[id] = struct{}{}
		}
	}
}

// WithBatchHook is called before each batch is dispatched.
func WithBatchHook(fn func(round int, ids []string)) Option {
	return func(r *Runner) {
		r.onBatch = fn
	}
}

// WithLogger routes runner diagnostics to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New constructs a runner for eng.
func New(eng *engine.Engine, opts ...Option) (*Runner, error) {
	if eng == nil {
		return nil, fmt.Errorf("workflow runner: engine is required")
	}
	r := &Runner{
		engine:    eng,
		forceFail: map[string]struct{}{},
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Summary reports what a run did.
type Summary struct {
	Rounds    int                 `json:"rounds"`
	Attempts  map[string]int      `json:"attempts"`
	Completed []string            `json:"completed"`
	Failed    []string            `json:"failed,omitempty"`
	Blocked   map[string][]string `json:"blocked,omitempty"`
	Pending   []string            `json:"pending,omitempty"`
	Status    engine.EngineStatus `json:"status"`
}

// Run executes batches until nothing else can start. It returns an error
// only for cancellation or structural engine errors; step failures are
// reported in the summary.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	summary := Summary{Attempts: map[string]int{}}
	var mu sync.Mutex
	for {
		if err := ctx.Err(); err != nil {
			return r.finish(summary), err
		}
		state := r.engine.Snapshot()
		sched, err := scheduler.New(state)
		if err != nil {
			return r.finish(summary), err
		}
		batch, err := sched.Runnable(scheduler.RunnableRequest{
			Targets:     r.targets,
			MaxParallel: r.maxParallel,
			Exhausted:   r.exhausted(state, summary.Attempts),
			ManualGates: r.gates,
		})
		if err != nil {
			return r.finish(summary), err
		}
		ids := batch.IDs()
		if len(ids) == 0 {
			return r.finish(summary), nil
		}
		summary.Rounds++
		if r.onBatch != nil {
			r.onBatch(summary.Rounds, ids)
		}
		r.logger.Debug("dispatching batch", "round", summary.Rounds, "steps", ids)

		g, gctx := errgroup.WithContext(ctx)
		if r.maxParallel > 0 {
			g.SetLimit(r.maxParallel)
		}
		for _, id := range ids {
			g.Go(func() error {
				mu.Lock()
				summary.Attempts[id]++
				mu.Unlock()
				var opts []engine.ExecuteOption
				if _, forced := r.forceFail[id]; forced {
					opts = append(opts, engine.WithForcedFailure())
				}
				ok, err := r.engine.ExecuteStep(gctx, id, opts...)
				if errors.Is(err, engine.ErrInvalidTransition) {
					r.logger.Debug("step claimed elsewhere", "step", id, "error", err)
					return nil
				}
				if err != nil {
					return err
				}
				if !ok {
					r.logger.Warn("step failed", "step", id)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return r.finish(summary), err
		}
	}
}

func (r *Runner) exhausted(state engine.State, attempts map[string]int) []string {
	var out []string
	for _, step := range state.Steps {
		if step.Status == workflow.StatusFailed && attempts[step.ID] > r.retries {
			out = append(out, step.ID)
		}
	}
	return out
}

func (r *Runner) finish(summary Summary) Summary {
	state := r.engine.Snapshot()
	summary.Completed = nil
	summary.Failed = nil
	summary.Pending = nil
	for _, step := range state.Steps {
		switch step.Status {
		case workflow.StatusCompleted:
			summary.Completed = append(summary.Completed, step.ID)
		case workflow.StatusFailed:
			summary.Failed = append(summary.Failed, step.ID)
		default:
			if _, blocked := state.Blocked[step.ID]; !blocked {
				summary.Pending = append(summary.Pending, step.ID)
			}
		}
	}
	sort.Strings(summary.Completed)
	sort.Strings(summary.Failed)
	sort.Strings(summary.Pending)
	summary.Blocked = state.Blocked
	summary.Status = state.Status
	return summary
}
