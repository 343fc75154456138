package scheduler

import (
	"fmt"

	"github.com/kingrea/stepflow/internal/workflow/engine"
	"github.com/kingrea/stepflow/internal/workflow/resolver"
)

// Scheduler picks runnable batches from an engine snapshot. It examines the
// resolved queue, filters steps that are truly runnable, and enforces any
// configured constraints.
type Scheduler struct {
	resolver *resolver.Resolver
}

// New wires a Scheduler to an engine snapshot.
func New(state engine.State) (*Scheduler, error) {
	entries := make([]resolver.Entry, 0, len(state.Steps))
	for _, step := range state.Steps {
		entries = append(entries, resolver.Entry{
			ID:            step.ID,
			Name:          step.Name,
			Status:        step.Status,
			Prerequisites: step.Prerequisites,
		})
	}
	res, err := resolver.New(entries)
	if err != nil {
		return nil, fmt.Errorf("workflow: scheduler snapshot: %w", err)
	}
	return &Scheduler{resolver: res}, nil
}

// RunnableRequest captures the current runtime state plus any scheduling
// constraints. The Scheduler produces batches that satisfy these constraints.
type RunnableRequest struct {
	// Targets optionally narrows scheduling to a subset of steps and their
	// prerequisites. When empty, every incomplete step is considered.
	Targets []string
	// BatchSize limits how many runnable steps are returned at once. Values <= 0
	// are treated as "no limit" (subject to MaxParallel enforcement).
	BatchSize int
	// MaxParallel caps how many steps may be active at once, including the
	// steps listed in Running. Values <= 0 disable the limit.
	MaxParallel int
	// Running should list step ids that are currently executing so the
	// scheduler won't dispatch them twice.
	Running []string
	// Exhausted lists failed steps that have used up their retries.
	Exhausted []string
	// ManualGates describes whether a step requires manual approval and the
	// approval status.
	ManualGates map[string]ManualGateState
}

// ManualGateState records whether a manual approval is required before a step
// may run.
type ManualGateState struct {
	Required bool   `json:"required"`
	Approved bool   `json:"approved"`
	Note     string `json:"note,omitempty"`
}

// RunnableBatch describes the scheduler's decision.
type RunnableBatch struct {
	Nodes   []*resolver.Node
	Skipped map[string]SkipReason
}

// IDs returns the step ids of the batch in dispatch order.
func (b RunnableBatch) IDs() []string {
	ids := make([]string, 0, len(b.Nodes))
	for _, node := range b.Nodes {
		ids = append(ids, node.ID)
	}
	return ids
}

// SkipReason explains why a step was excluded from the runnable set.
type SkipReason struct {
	Reason SkipReasonCode `json:"reason"`
	Detail string         `json:"detail,omitempty"`
}

// SkipReasonCode enumerates scheduler skip reasons.
type SkipReasonCode string

const (
	SkipReasonNotReady    SkipReasonCode = "not-ready"
	SkipReasonManualGate  SkipReasonCode = "manual-gate"
	SkipReasonConcurrency SkipReasonCode = "concurrency"
	SkipReasonActive      SkipReasonCode = "already-running"
	SkipReasonExhausted   SkipReasonCode = "exhausted"
)

// Runnable returns a batch of runnable steps constrained by the request.
func (s *Scheduler) Runnable(req RunnableRequest) (RunnableBatch, error) {
	queue, err := s.resolver.Queue(req.Targets...)
	if err != nil {
		return RunnableBatch{}, err
	}
	rq := newRunnableQueue(queue)
	running := toSet(req.Running)
	exhausted := toSet(req.Exhausted)
	manual := req.manualGateSet()
	maxBatch := req.batchLimit(rq.Len(), len(running))
	result := RunnableBatch{}
	if maxBatch == 0 {
		if req.MaxParallel > 0 && len(running) >= req.MaxParallel {
			for _, node := range s.resolver.Ready() {
				if _, busy := running[node.ID]; busy {
					continue
				}
				result.addSkip(node.ID, SkipReason{Reason: SkipReasonConcurrency, Detail: fmt.Sprintf("max parallel %d reached", req.MaxParallel)})
				break
			}
		}
		return result, nil
	}
	for rq.Len() > 0 {
		node := rq.Pop()
		if node == nil {
			break
		}
		if _, runningAlready := running[node.ID]; runningAlready || node.State == resolver.NodeStateRunning {
			result.addSkip(node.ID, SkipReason{Reason: SkipReasonActive, Detail: "step already running"})
			continue
		}
		if node.State != resolver.NodeStateReady {
			result.addSkip(node.ID, SkipReason{Reason: SkipReasonNotReady, Detail: string(node.State)})
			continue
		}
		if _, done := exhausted[node.ID]; done {
			result.addSkip(node.ID, SkipReason{Reason: SkipReasonExhausted, Detail: "retries exhausted"})
			continue
		}
		if gate, ok := manual[node.ID]; ok && gate.Required && !gate.Approved {
			note := gate.Note
			if note == "" {
				note = "awaiting manual approval"
			}
			result.addSkip(node.ID, SkipReason{Reason: SkipReasonManualGate, Detail: note})
			continue
		}
		result.Nodes = append(result.Nodes, node)
		if len(result.Nodes) >= maxBatch {
			break
		}
	}
	return result, nil
}

func toSet(ids []string) map[string]struct{} {
	if len(ids) == 0 {
		return map[string]struct{}{}
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	return set
}

func (req RunnableRequest) manualGateSet() map[string]ManualGateState {
	if len(req.ManualGates) == 0 {
		return map[string]ManualGateState{}
	}
	set := make(map[string]ManualGateState, len(req.ManualGates))
	for id, state := range req.ManualGates {
		if id == "" {
			continue
		}
		set[id] = state
	}
	return set
}

func (req RunnableRequest) batchLimit(queueLen int, runningCount int) int {
	limit := req.BatchSize
	if limit <= 0 || limit > queueLen {
		limit = queueLen
	}
	if req.MaxParallel > 0 {
		remaining := req.MaxParallel - runningCount
		if remaining <= 0 {
			return 0
		}
		if limit == 0 || limit > remaining {
			limit = remaining
		}
	}
	return limit
}

func (b *RunnableBatch) addSkip(id string, reason SkipReason) {
	if id == "" {
		return
	}
	if b.Skipped == nil {
		b.Skipped = make(map[string]SkipReason)
	}
	b.Skipped[id] = reason
}

type runnableQueue struct {
	nodes []*resolver.Node
}

func newRunnableQueue(nodes []*resolver.Node) *runnableQueue {
	if len(nodes) == 0 {
		return &runnableQueue{}
	}
	copyNodes := make([]*resolver.Node, len(nodes))
	copy(copyNodes, nodes)
	return &runnableQueue{nodes: copyNodes}
}

func (q *runnableQueue) Len() int {
	return len(q.nodes)
}

func (q *runnableQueue) Pop() *resolver.Node {
	if len(q.nodes) == 0 {
		return nil
	}
	node := q.nodes[0]
	q.nodes = q.nodes[1:]
	return node
}
