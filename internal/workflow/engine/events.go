package engine

import (
	"time"

	"github.com/kingrea/stepflow/internal/workflow"
)

// EventType names a step transition.
type EventType string

const (
	EventRegistered EventType = "registered"
	EventStarted    EventType = "started"
	EventCompleted  EventType = "completed"
	EventFailed     EventType = "failed"
	EventReset      EventType = "reset"
)

// Event describes one transition of one step.
type Event struct {
	ID       string           `json:"id"`
	EngineID string           `json:"engine_id"`
	Type     EventType        `json:"type"`
	StepID   string           `json:"step_id"`
	StepName string           `json:"step_name,omitempty"`
	From     workflow.Status  `json:"from,omitempty"`
	To       workflow.Status  `json:"to"`
	Outcome  workflow.Outcome `json:"outcome,omitempty"`
	Error    string           `json:"error,omitempty"`
	At       time.Time        `json:"at"`
}

// Observer receives transition events. Observe is called synchronously after
// the transition commits and without any engine lock held, so it may query
// the engine but should return quickly.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe calls f.
func (f ObserverFunc) Observe(evt Event) {
	f(evt)
}
