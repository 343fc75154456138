package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/stepflow/internal/workflow"
	"github.com/kingrea/stepflow/internal/workflow/resolver"
)

// Engine owns a set of steps and drives their execution. The transition lock
// serialises every check-and-commit so two callers racing on one step id
// cannot both pass the executability gate; it is never held while an action
// runs, so independent steps execute concurrently.
type Engine struct {
	id   string
	name string

	mu    sync.RWMutex
	steps map[string]*entry
	order []string

	obsMu     sync.RWMutex
	observers map[int]Observer
	nextObs   int

	clock         func() time.Time
	logger        *slog.Logger
	defaultAction workflow.Action
}

type entry struct {
	step *workflow.Step
	tr   *workflow.Transitions
}

// Option customizes the engine instance.
type Option func(*Engine)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger routes engine diagnostics to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithDefaultAction sets the action used for steps that have none.
func WithDefaultAction(action workflow.Action) Option {
	return func(e *Engine) {
		if action != nil {
			e.defaultAction = action
		}
	}
}

// WithObserver registers an observer at construction time.
func WithObserver(obs Observer) Option {
	return func(e *Engine) {
		if obs != nil {
			e.observers[e.nextObs] = obs
			e.nextObs++
		}
	}
}

// WithName sets a display name for the workflow.
func WithName(name string) Option {
	return func(e *Engine) {
		e.name = strings.TrimSpace(name)
	}
}

// New constructs an empty engine.
func New(opts ...Option) *Engine {
	engine := &Engine{
		id:            uuid.NewString(),
		steps:         map[string]*entry{},
		observers:     map[int]Observer{},
		clock:         time.Now,
		logger:        slog.New(slog.DiscardHandler),
		defaultAction: workflow.NoOp,
	}
	for _, opt := range opts {
		opt(engine)
	}
	engine.logger = engine.logger.With("engine", engine.id)
	return engine
}

// ID returns the engine's unique identifier.
func (e *Engine) ID() string {
	return e.id
}

// Name returns the display name, or the id when none was set.
func (e *Engine) Name() string {
	if e.name != "" {
		return e.name
	}
	return e.id
}

// Subscribe adds an observer and returns a function that removes it.
func (e *Engine) Subscribe(obs Observer) func() {
	if obs == nil {
		return func() {}
	}
	e.obsMu.Lock()
	key := e.nextObs
	e.nextObs++
	e.observers[key] = obs
	e.obsMu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			e.obsMu.Lock()
			delete(e.observers, key)
			e.obsMu.Unlock()
		})
	}
}

// AddStep registers step. The engine takes ownership of the step's status;
// registering the same step with a second engine fails with ErrStepOwned.
func (e *Engine) AddStep(step *workflow.Step) error {
	if step == nil {
		return fmt.Errorf("%w: step is nil", ErrInvalidStep)
	}
	id := step.ID()
	if id == "" {
		return fmt.Errorf("%w: step id is required", ErrInvalidStep)
	}
	e.mu.Lock()
	if _, exists := e.steps[id]; exists {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateStep, id)
	}
	tr, err := step.Claim()
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStepOwned, id)
	}
	e.steps[id] = &entry{step: step, tr: tr}
	e.order = append(e.order, id)
	e.mu.Unlock()

	e.logger.Debug("step registered", "step", id, "prerequisites", step.Prerequisites())
	e.emit(Event{Type: EventRegistered, StepID: id, StepName: step.Name(), To: step.Status()})
	return nil
}

// GetStep looks up a step by id.
func (e *Engine) GetStep(id string) (*workflow.Step, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent, ok := e.steps[id]
	if !ok {
		return nil, false
	}
	return ent.step, true
}

// Steps returns every registered step ordered by id.
func (e *Engine) Steps() []*workflow.Step {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := append([]string{}, e.order...)
	sort.Strings(ids)
	out := make([]*workflow.Step, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.steps[id].step)
	}
	return out
}

// Len returns the number of registered steps.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.steps)
}

// CanExecute reports whether id exists, is neither in progress nor
// completed, and has every prerequisite registered and completed.
func (e *Engine) CanExecute(id string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.resolverLocked().CanExecute(id, false)
}

// ExecutableSteps returns the steps that may start now, ordered by id.
func (e *Engine) ExecutableSteps() []*workflow.Step {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ready := e.resolverLocked().Ready()
	out := make([]*workflow.Step, 0, len(ready))
	for _, node := range ready {
		out = append(out, e.steps[node.ID].step)
	}
	return out
}

// BlockedSteps maps every step that is waiting on prerequisites to the
// reasons it cannot start.
func (e *Engine) BlockedSteps() map[string][]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.resolverLocked().Blocked()
}

// IsCompleted reports whether every step has completed. An empty workflow
// is complete.
func (e *Engine) IsCompleted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, ent := range e.steps {
		if ent.step.Status() != workflow.StatusCompleted {
			return false
		}
	}
	return true
}

// HasFailures reports whether any step is in the failed state.
func (e *Engine) HasFailures() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, ent := range e.steps {
		if ent.step.Status() == workflow.StatusFailed {
			return true
		}
	}
	return false
}

// Validate reports prerequisite cycles. Prerequisites that are not
// registered are not errors; they show up as blockers instead.
func (e *Engine) Validate() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if cycle := e.resolverLocked().Cycle(); len(cycle) > 0 {
		return fmt.Errorf("%w: %s", ErrCyclicDependency, strings.Join(cycle, " -> "))
	}
	return nil
}

// ExecuteOption tweaks a single ExecuteStep call.
type ExecuteOption func(*executeConfig)

type executeConfig struct {
	forceFailure bool
	rerun        bool
}

// WithForcedFailure marks the attempt as failed after the action returns,
// whatever its result.
func WithForcedFailure() ExecuteOption {
	return func(cfg *executeConfig) {
		cfg.forceFailure = true
	}
}

// WithRerun allows a completed step to run again. Prerequisites are still
// checked and an in-progress step is never re-entered.
func WithRerun() ExecuteOption {
	return func(cfg *executeConfig) {
		cfg.rerun = true
	}
}

// ExecuteStep runs a single step. Structural problems are returned as errors
// (ErrStepNotFound, *TransitionError). The action's own failure is never
// returned: it is recorded on the step and reported as false.
func (e *Engine) ExecuteStep(ctx context.Context, id string, opts ...ExecuteOption) (bool, error) {
	cfg := executeConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	e.mu.Lock()
	ent, ok := e.steps[id]
	if !ok {
		e.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrStepNotFound, id)
	}
	res := e.resolverLocked()
	if !res.CanExecute(id, cfg.rerun) {
		reasons := res.Reasons(id, cfg.rerun)
		e.mu.Unlock()
		e.logger.Warn("step not executable", "step", id, "reasons", reasons)
		return false, &TransitionError{StepID: id, StepName: ent.step.Name(), Reasons: reasons}
	}
	att, err := ent.tr.Begin()
	e.mu.Unlock()
	if err != nil {
		return false, &TransitionError{StepID: id, StepName: ent.step.Name(), Reasons: []string{err.Error()}}
	}

	step := ent.step
	e.logger.Info("step started", "step", id, "from", att.Previous)
	e.emit(Event{Type: EventStarted, StepID: id, StepName: step.Name(), From: att.Previous, To: workflow.StatusInProgress})

	success, runErr := e.runAction(ctx, step)
	message := ""
	switch {
	case runErr != nil:
		success = false
		message = runErr.Error()
	case cfg.forceFailure:
		success = false
	}

	e.mu.Lock()
	if success {
		err = ent.tr.Complete(att, e.clock())
	} else {
		err = ent.tr.Fail(att, message)
	}
	e.mu.Unlock()
	if err != nil {
		e.logger.Warn("step result discarded", "step", id, "error", err)
		return false, fmt.Errorf("%w: %s", ErrStepReset, id)
	}

	if success {
		e.logger.Info("step completed", "step", id, "outcome", step.Outcome())
		e.emit(Event{Type: EventCompleted, StepID: id, StepName: step.Name(), From: workflow.StatusInProgress, To: workflow.StatusCompleted, Outcome: step.Outcome()})
		return true, nil
	}
	errMsg := step.ErrorMessage()
	e.logger.Warn("step failed", "step", id, "error", errMsg)
	e.emit(Event{Type: EventFailed, StepID: id, StepName: step.Name(), From: workflow.StatusInProgress, To: workflow.StatusFailed, Error: errMsg})
	return false, nil
}

func (e *Engine) runAction(ctx context.Context, step *workflow.Step) (ok bool, err error) {
	action := step.Action()
	if action == nil {
		action = e.defaultAction
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if ctx == nil {
		ctx = context.Background()
	}
	return action.Run(ctx, step)
}

// Reset returns every step to NotStarted and clears errors, completion
// times, outcomes and data bags.
func (e *Engine) Reset() {
	e.mu.Lock()
	events := make([]Event, 0, len(e.order))
	for _, id := range e.order {
		ent := e.steps[id]
		prev := ent.tr.Reset()
		events = append(events, Event{Type: EventReset, StepID: id, StepName: ent.step.Name(), From: prev, To: workflow.StatusNotStarted})
	}
	e.mu.Unlock()
	e.logger.Info("workflow reset", "steps", len(events))
	for _, evt := range events {
		e.emit(evt)
	}
}

// resolverLocked builds a resolver over the current statuses. Callers must
// hold e.mu.
func (e *Engine) resolverLocked() *resolver.Resolver {
	entries := make([]resolver.Entry, 0, len(e.order))
	for _, id := range e.order {
		step := e.steps[id].step
		entries = append(entries, resolver.Entry{
			ID:            id,
			Name:          step.Name(),
			Status:        step.Status(),
			Prerequisites: step.Prerequisites(),
		})
	}
	res, err := resolver.New(entries)
	if err != nil {
		// ids are unique and non-empty by construction
		panic(err)
	}
	return res
}

func (e *Engine) emit(evt Event) {
	evt.ID = uuid.NewString()
	evt.EngineID = e.id
	if evt.At.IsZero() {
		evt.At = e.clock()
	}
	e.obsMu.RLock()
	keys := make([]int, 0, len(e.observers))
	for key := range e.observers {
		keys = append(keys, key)
	}
	sort.Ints(keys)
	observers := make([]Observer, 0, len(keys))
	for _, key := range keys {
		observers = append(observers, e.observers[key])
	}
	e.obsMu.RUnlock()
	for _, obs := range observers {
		obs.Observe(evt)
	}
}
