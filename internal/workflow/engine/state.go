package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kingrea/stepflow/internal/workflow"
	"github.com/kingrea/stepflow/internal/workflow/resolver"
)

// EngineStatus enumerates coarse workflow phases.
type EngineStatus string

const (
	EngineStatusUnknown  EngineStatus = "unknown"
	EngineStatusRunning  EngineStatus = "running"
	EngineStatusBlocked  EngineStatus = "blocked"
	EngineStatusComplete EngineStatus = "complete"
	EngineStatusError    EngineStatus = "error"
)

// State captures a point-in-time view of the whole workflow.
type State struct {
	EngineID string       `json:"engine_id"`
	Name     string       `json:"name,omitempty"`
	Status   EngineStatus `json:"status"`
	// StatusReason provides human readable explanation for non-running states.
	StatusReason string              `json:"status_reason,omitempty"`
	Steps        []StepStatus        `json:"steps"`
	Executable   []string            `json:"executable"`
	Blocked      map[string][]string `json:"blocked,omitempty"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// StepStatus exposes resolver metadata for a single step.
type StepStatus struct {
	workflow.StepInfo
	State      resolver.NodeState `json:"state"`
	Dependents []string           `json:"dependents,omitempty"`
	BlockedBy  []resolver.Blocker `json:"blocked_by,omitempty"`
}

// Step returns the status of id within the snapshot.
func (s State) Step(id string) (StepStatus, bool) {
	for _, step := range s.Steps {
		if step.ID == id {
			return step, true
		}
	}
	return StepStatus{}, false
}

// Counts tallies steps per status.
func (s State) Counts() map[workflow.Status]int {
	counts := make(map[workflow.Status]int, 4)
	for _, step := range s.Steps {
		counts[step.Status]++
	}
	return counts
}

// Snapshot returns a consistent view of every step, the executable set, and
// blocking reasons. Steps are ordered by id.
func (e *Engine) Snapshot() State {
	e.mu.RLock()
	infos := make(map[string]workflow.StepInfo, len(e.order))
	entries := make([]resolver.Entry, 0, len(e.order))
	for _, id := range e.order {
		info := e.steps[id].step.Info()
		infos[id] = info
		entries = append(entries, resolver.Entry{
			ID:            id,
			Name:          info.Name,
			Status:        info.Status,
			Prerequisites: info.Prerequisites,
		})
	}
	e.mu.RUnlock()

	res, err := resolver.New(entries)
	if err != nil {
		return State{EngineID: e.id, Name: e.name, Status: EngineStatusUnknown, StatusReason: err.Error(), UpdatedAt: e.clock()}
	}
	steps := summarizeSteps(res, infos)
	status, reason := deriveEngineStatus(steps)
	return State{
		EngineID:     e.id,
		Name:         e.name,
		Status:       status,
		StatusReason: reason,
		Steps:        steps,
		Executable:   readyIDs(res.Ready()),
		Blocked:      res.Blocked(),
		UpdatedAt:    e.clock(),
	}
}

func summarizeSteps(res *resolver.Resolver, infos map[string]workflow.StepInfo) []StepStatus {
	nodes := res.Nodes()
	out := make([]StepStatus, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, StepStatus{
			StepInfo:   infos[node.ID],
			State:      node.State,
			Dependents: cloneStrings(node.Dependents),
			BlockedBy:  res.Blockers(node.ID),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func deriveEngineStatus(steps []StepStatus) (EngineStatus, string) {
	var failed []string
	for _, step := range steps {
		if step.Status == workflow.StatusFailed {
			failed = append(failed, step.ID)
		}
	}
	if len(failed) > 0 {
		return EngineStatusError, fmt.Sprintf("%s failed", strings.Join(failed, ", "))
	}
	hasActive := false
	hasPending := false
	for _, step := range steps {
		switch step.State {
		case resolver.NodeStateReady, resolver.NodeStateRunning:
			hasActive = true
		case resolver.NodeStateBlocked:
			hasPending = true
		}
	}
	if !hasActive && !hasPending {
		return EngineStatusComplete, ""
	}
	if hasActive {
		return EngineStatusRunning, ""
	}
	return EngineStatusBlocked, "no step can start until missing prerequisites are registered"
}

func readyIDs(nodes []*resolver.Node) []string {
	ids := make([]string, 0, len(nodes))
	for _, node := range nodes {
		ids = append(ids, node.ID)
	}
	return ids
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
