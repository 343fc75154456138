package workflow

// Status enumerates the lifecycle of a single step.
type Status string

const (
	StatusNotStarted Status = "not-started"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a legal edge of the
// step state machine. Reset is not modelled here: it may move any status back
// to StatusNotStarted.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusNotStarted, StatusFailed:
		return next == StatusInProgress
	case StatusInProgress:
		return next == StatusCompleted || next == StatusFailed
	case StatusCompleted:
		// explicit re-run only
		return next == StatusInProgress
	default:
		return false
	}
}

// Outcome classifies a completed step. It is an annotation carried alongside
// StatusCompleted and never participates in prerequisite checks.
type Outcome string

const (
	OutcomeNone    Outcome = ""
	OutcomeOK      Outcome = "ok"
	OutcomeWarning Outcome = "warning"
	OutcomeNoData  Outcome = "no-data"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeNone, OutcomeOK, OutcomeWarning, OutcomeNoData:
		return true
	default:
		return false
	}
}
