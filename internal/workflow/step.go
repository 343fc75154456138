package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	// ErrStepClaimed is returned when the step's transitions were already
	// handed out.
	ErrStepClaimed = errors.New("workflow: step already claimed")
	// ErrStaleAttempt is returned when an attempt commits after a reset or
	// a newer attempt has begun.
	ErrStaleAttempt = errors.New("workflow: stale attempt")
)

// Step is a single unit of work inside a workflow. Identity and display
// metadata are fixed at construction; status, error and completion time are
// only written through the Transitions handle returned by Claim.
type Step struct {
	id          string
	name        string
	description string

	mu            sync.RWMutex
	prerequisites []string
	prereqSet     map[string]struct{}
	action        Action
	data          map[string]any

	status       Status
	errorMessage string
	completedAt  time.Time
	outcome      Outcome
	attempt      uint64
	claimed      bool
}

// NewStep constructs a NotStarted step.
func NewStep(id, name, description string) *Step {
	return &Step{
		id:          strings.TrimSpace(id),
		name:        name,
		description: description,
		prereqSet:   map[string]struct{}{},
		data:        map[string]any{},
		status:      StatusNotStarted,
	}
}

// ID returns the immutable step identifier.
func (s *Step) ID() string {
	return s.id
}

// Name returns the display name.
func (s *Step) Name() string {
	return s.name
}

// Description returns the display description.
func (s *Step) Description() string {
	return s.description
}

// Label prefers the display name and falls back to the id.
func (s *Step) Label() string {
	if strings.TrimSpace(s.name) != "" {
		return s.name
	}
	return s.id
}

// AddPrerequisite inserts id into the prerequisite set. Adding an id that is
// already present, or an empty id, is a no-op.
func (s *Step) AddPrerequisite(id string) *Step {
	id = strings.TrimSpace(id)
	if id == "" {
		return s
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.prereqSet[id]; ok {
		return s
	}
	if s.prereqSet == nil {
		s.prereqSet = map[string]struct{}{}
	}
	s.prereqSet[id] = struct{}{}
	s.prerequisites = append(s.prerequisites, id)
	return s
}

// AddPrerequisites inserts every id in order.
func (s *Step) AddPrerequisites(ids ...string) *Step {
	for _, id := range ids {
		s.AddPrerequisite(id)
	}
	return s
}

// Prerequisites returns the prerequisite ids in insertion order.
func (s *Step) Prerequisites() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneStringSlice(s.prerequisites)
}

// HasPrerequisite reports whether id is a prerequisite of the step.
func (s *Step) HasPrerequisite(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.prereqSet[id]
	return ok
}

// SetAction replaces the unit of work executed for this step. A nil action
// makes the engine fall back to its default action.
func (s *Step) SetAction(action Action) *Step {
	s.mu.Lock()
	s.action = action
	s.mu.Unlock()
	return s
}

// SetActionFunc is shorthand for SetAction(ActionFunc(fn)).
func (s *Step) SetActionFunc(fn func(ctx context.Context, step *Step) (bool, error)) *Step {
	if fn == nil {
		return s.SetAction(nil)
	}
	return s.SetAction(ActionFunc(fn))
}

// Action returns the configured action, or nil.
func (s *Step) Action() Action {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.action
}

// Status returns the current status.
func (s *Step) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// ErrorMessage returns the failure text recorded by the last failed attempt.
func (s *Step) ErrorMessage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errorMessage
}

// CompletedAt returns the completion time. The boolean is false unless the
// step is Completed.
func (s *Step) CompletedAt() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status != StatusCompleted {
		return time.Time{}, false
	}
	return s.completedAt, true
}

// Outcome returns the completion annotation.
func (s *Step) Outcome() Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outcome
}

// MarkOutcome lets a running action classify its own success. The engine
// records OutcomeOK when nothing was marked.
func (s *Step) MarkOutcome(outcome Outcome) error {
	if !outcome.Valid() {
		return fmt.Errorf("workflow: step %s: unknown outcome %q", s.id, outcome)
	}
	s.mu.Lock()
	s.outcome = outcome
	s.mu.Unlock()
	return nil
}

// Set stores a value in the step's data bag.
func (s *Step) Set(key string, value any) {
	s.mu.Lock()
	if s.data == nil {
		s.data = map[string]any{}
	}
	s.data[key] = value
	s.mu.Unlock()
}

// Get reads a value from the step's data bag.
func (s *Step) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.data[key]
	return value, ok
}

// Data returns a shallow copy of the data bag.
func (s *Step) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAnyMap(s.data)
}

// StepInfo is a consistent, copyable view of a step.
type StepInfo struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	Status        Status         `json:"status"`
	Outcome       Outcome        `json:"outcome,omitempty"`
	Prerequisites []string       `json:"prerequisites,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	HasAction     bool           `json:"has_action"`
}

// Info captures every mutable field under a single read lock.
func (s *Step) Info() StepInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := StepInfo{
		ID:            s.id,
		Name:          s.name,
		Description:   s.description,
		Status:        s.status,
		Outcome:       s.outcome,
		Prerequisites: cloneStringSlice(s.prerequisites),
		ErrorMessage:  s.errorMessage,
		Data:          cloneAnyMap(s.data),
		HasAction:     s.action != nil,
	}
	if s.status == StatusCompleted {
		at := s.completedAt
		info.CompletedAt = &at
	}
	return info
}

// Claim hands out the only Transitions handle for the step. Every later call
// fails with ErrStepClaimed.
func (s *Step) Claim() (*Transitions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed {
		return nil, fmt.Errorf("%w: %s", ErrStepClaimed, s.id)
	}
	s.claimed = true
	return &Transitions{step: s}, nil
}

// Transitions is the single writer of a step's status fields.
type Transitions struct {
	step *Step
}

// Step returns the step this handle drives.
func (t *Transitions) Step() *Step {
	return t.step
}

// Attempt identifies one InProgress run of a step. Only the attempt that is
// still current may commit its result.
type Attempt struct {
	Previous Status
	seq      uint64
}

// Begin moves the step into InProgress and clears the previous error and
// outcome. The data bag is kept.
func (t *Transitions) Begin() (Attempt, error) {
	s := t.step
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.status
	if !prev.CanTransition(StatusInProgress) {
		return Attempt{Previous: prev}, fmt.Errorf("workflow: step %s: cannot move from %s to %s", s.id, prev, StatusInProgress)
	}
	s.attempt++
	s.status = StatusInProgress
	s.errorMessage = ""
	s.outcome = OutcomeNone
	s.completedAt = time.Time{}
	return Attempt{Previous: prev, seq: s.attempt}, nil
}

func (s *Step) checkAttemptLocked(att Attempt) error {
	if att.seq == 0 || att.seq != s.attempt {
		return fmt.Errorf("%w: step %s", ErrStaleAttempt, s.id)
	}
	return nil
}

// Complete records success of att at the given time.
func (t *Transitions) Complete(att Attempt, at time.Time) error {
	s := t.step
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAttemptLocked(att); err != nil {
		return err
	}
	if !s.status.CanTransition(StatusCompleted) {
		return fmt.Errorf("workflow: step %s: cannot move from %s to %s", s.id, s.status, StatusCompleted)
	}
	s.status = StatusCompleted
	s.completedAt = at
	s.errorMessage = ""
	if s.outcome == OutcomeNone {
		s.outcome = OutcomeOK
	}
	return nil
}

// Fail records att as failed with message.
func (t *Transitions) Fail(att Attempt, message string) error {
	s := t.step
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAttemptLocked(att); err != nil {
		return err
	}
	if !s.status.CanTransition(StatusFailed) {
		return fmt.Errorf("workflow: step %s: cannot move from %s to %s", s.id, s.status, StatusFailed)
	}
	if strings.TrimSpace(message) == "" {
		message = fmt.Sprintf("step '%s' failed during execution", s.labelLocked())
	}
	s.status = StatusFailed
	s.errorMessage = message
	s.completedAt = time.Time{}
	s.outcome = OutcomeNone
	return nil
}

// Reset forces the step back to NotStarted and clears error, completion time,
// outcome and data. Any attempt still running becomes stale. It returns the
// previous status.
func (t *Transitions) Reset() Status {
	s := t.step
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.status
	s.attempt++
	s.status = StatusNotStarted
	s.errorMessage = ""
	s.completedAt = time.Time{}
	s.outcome = OutcomeNone
	s.data = map[string]any{}
	return prev
}

func (s *Step) labelLocked() string {
	if strings.TrimSpace(s.name) != "" {
		return s.name
	}
	return s.id
}

func cloneAnyMap(values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	clone := make(map[string]any, len(values))
	for key, value := range values {
		clone[key] = value
	}
	return clone
}
