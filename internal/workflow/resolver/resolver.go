package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kingrea/stepflow/internal/workflow"
)

// NodeState represents the resolver's understanding of a step's readiness.
type NodeState string

const (
	NodeStateReady    NodeState = "ready"
	NodeStateBlocked  NodeState = "blocked"
	NodeStateRunning  NodeState = "running"
	NodeStateComplete NodeState = "complete"
)

// Entry is the resolver's input: the status snapshot of one registered step.
type Entry struct {
	ID            string
	Name          string
	Status        workflow.Status
	Prerequisites []string
}

// Node captures a step plus its dependency metadata.
type Node struct {
	ID           string
	Name         string
	Status       workflow.Status
	Dependencies []string
	Dependents   []string

	State     NodeState
	BlockedBy []Blocker
}

// Label prefers the display name and falls back to the id.
func (n *Node) Label() string {
	if strings.TrimSpace(n.Name) != "" {
		return n.Name
	}
	return n.ID
}

// Blocker describes one unmet prerequisite.
type Blocker struct {
	ID      string          `json:"id"`
	Name    string          `json:"name,omitempty"`
	Status  workflow.Status `json:"status,omitempty"`
	Missing bool            `json:"missing,omitempty"`
}

// Reason renders the blocker as a human readable sentence.
func (b Blocker) Reason() string {
	if b.Missing {
		return fmt.Sprintf("prerequisite '%s' not found", b.ID)
	}
	name := b.Name
	if strings.TrimSpace(name) == "" {
		name = b.ID
	}
	return fmt.Sprintf("prerequisite '%s' is %s", name, b.Status)
}

// Resolver evaluates prerequisite satisfaction over a single status snapshot.
// It never mutates steps; callers build a new Resolver whenever statuses
// change.
type Resolver struct {
	nodes      map[string]*Node
	orderedIDs []string
}

// New constructs a resolver from entries given in registration order.
func New(entries []Entry) (*Resolver, error) {
	nodes := make(map[string]*Node, len(entries))
	ordered := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.ID == "" {
			return nil, fmt.Errorf("workflow: resolver entry id is required")
		}
		if _, exists := nodes[entry.ID]; exists {
			return nil, fmt.Errorf("workflow: duplicate resolver entry %s", entry.ID)
		}
		nodes[entry.ID] = &Node{
			ID:           entry.ID,
			Name:         entry.Name,
			Status:       entry.Status,
			Dependencies: dedupe(entry.Prerequisites),
		}
		ordered = append(ordered, entry.ID)
	}
	for _, id := range ordered {
		node := nodes[id]
		for _, depID := range node.Dependencies {
			if dep, ok := nodes[depID]; ok {
				dep.Dependents = append(dep.Dependents, node.ID)
			}
		}
	}
	res := &Resolver{nodes: nodes, orderedIDs: ordered}
	for _, node := range nodes {
		if len(node.Dependents) > 1 {
			sort.Strings(node.Dependents)
		}
		res.evaluate(node)
	}
	return res, nil
}

// Nodes returns the nodes in registration order.
func (r *Resolver) Nodes() []*Node {
	out := make([]*Node, 0, len(r.orderedIDs))
	for _, id := range r.orderedIDs {
		if node, ok := r.nodes[id]; ok {
			out = append(out, node)
		}
	}
	return out
}

// Node retrieves a specific node by step id.
func (r *Resolver) Node(id string) (*Node, bool) {
	node, ok := r.nodes[id]
	return node, ok
}

// CanExecute reports whether id may start now. With rerun set, a completed
// step is treated as executable provided its prerequisites still hold.
func (r *Resolver) CanExecute(id string, rerun bool) bool {
	node, ok := r.nodes[id]
	if !ok {
		return false
	}
	switch node.Status {
	case workflow.StatusInProgress:
		return false
	case workflow.StatusCompleted:
		if !rerun {
			return false
		}
	}
	return len(node.BlockedBy) == 0
}

// Reasons lists every reason id cannot start, including its own status.
// It returns nil when CanExecute(id, rerun) holds.
func (r *Resolver) Reasons(id string, rerun bool) []string {
	node, ok := r.nodes[id]
	if !ok {
		return []string{fmt.Sprintf("step '%s' not found", id)}
	}
	var reasons []string
	switch node.Status {
	case workflow.StatusInProgress:
		reasons = append(reasons, fmt.Sprintf("step '%s' is %s", node.Label(), node.Status))
	case workflow.StatusCompleted:
		if !rerun {
			reasons = append(reasons, fmt.Sprintf("step '%s' is %s", node.Label(), node.Status))
		}
	}
	for _, blocker := range node.BlockedBy {
		reasons = append(reasons, blocker.Reason())
	}
	return reasons
}

// Ready returns the executable nodes ordered by id.
func (r *Resolver) Ready() []*Node {
	var ready []*Node
	for _, id := range r.sortedIDs() {
		node := r.nodes[id]
		if node.State == NodeStateReady {
			ready = append(ready, node)
		}
	}
	return ready
}

// Blockers returns the unmet prerequisites of id.
func (r *Resolver) Blockers(id string) []Blocker {
	node, ok := r.nodes[id]
	if !ok || len(node.BlockedBy) == 0 {
		return nil
	}
	out := make([]Blocker, len(node.BlockedBy))
	copy(out, node.BlockedBy)
	return out
}

// Blocked maps every blocked step id to its reasons. Completed and running
// steps are never reported.
func (r *Resolver) Blocked() map[string][]string {
	out := map[string][]string{}
	for _, id := range r.orderedIDs {
		node := r.nodes[id]
		if node.State != NodeStateBlocked {
			continue
		}
		reasons := make([]string, 0, len(node.BlockedBy))
		for _, blocker := range node.BlockedBy {
			reasons = append(reasons, blocker.Reason())
		}
		out[id] = reasons
	}
	return out
}

// Queue returns steps that must run to satisfy the requested targets. If no
// targets are provided, every incomplete step is considered. Dependencies are
// returned before the steps that require them, already-complete steps are
// skipped, and unregistered prerequisites are left out.
func (r *Resolver) Queue(targets ...string) ([]*Node, error) {
	if len(targets) == 0 {
		targets = r.sortedIDs()
	}
	visited := make(map[string]bool, len(r.nodes))
	ordered := make([]*Node, 0, len(r.nodes))
	var visit func(string, bool) error
	visit = func(id string, target bool) error {
		if visited[id] {
			return nil
		}
		node, ok := r.nodes[id]
		if !ok {
			if target {
				return fmt.Errorf("workflow: unknown step %s", id)
			}
			return nil
		}
		visited[id] = true
		for _, dep := range node.Dependencies {
			if err := visit(dep, false); err != nil {
				return err
			}
		}
		if node.State != NodeStateComplete {
			ordered = append(ordered, node)
		}
		return nil
	}
	for _, id := range targets {
		if err := visit(id, true); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

// Cycle returns the first dependency cycle found, as a path that starts and
// ends with the same id, or nil when the graph is acyclic. Edges to
// unregistered steps are ignored.
func (r *Resolver) Cycle() []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(r.nodes))
	var stack []string
	var found []string
	var visit func(string) bool
	visit = func(id string) bool {
		color[id] = grey
		stack = append(stack, id)
		deps := append([]string{}, r.nodes[id].Dependencies...)
		sort.Strings(deps)
		for _, dep := range deps {
			if _, ok := r.nodes[dep]; !ok {
				continue
			}
			switch color[dep] {
			case grey:
				start := 0
				for i, sid := range stack {
					if sid == dep {
						start = i
						break
					}
				}
				found = append(append([]string{}, stack[start:]...), dep)
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}
	for _, id := range r.sortedIDs() {
		if color[id] == white && visit(id) {
			return found
		}
	}
	return nil
}

func (r *Resolver) evaluate(node *Node) {
	node.BlockedBy = r.blockers(node)
	switch {
	case node.Status == workflow.StatusCompleted:
		node.State = NodeStateComplete
	case node.Status == workflow.StatusInProgress:
		node.State = NodeStateRunning
	case len(node.BlockedBy) > 0:
		node.State = NodeStateBlocked
	default:
		node.State = NodeStateReady
	}
}

func (r *Resolver) blockers(node *Node) []Blocker {
	if len(node.Dependencies) == 0 {
		return nil
	}
	blockers := make([]Blocker, 0, len(node.Dependencies))
	for _, depID := range node.Dependencies {
		dep, ok := r.nodes[depID]
		if !ok {
			blockers = append(blockers, Blocker{ID: depID, Missing: true})
			continue
		}
		if dep.Status != workflow.StatusCompleted {
			blockers = append(blockers, Blocker{ID: dep.ID, Name: dep.Name, Status: dep.Status})
		}
	}
	if len(blockers) == 0 {
		return nil
	}
	return blockers
}

func (r *Resolver) sortedIDs() []string {
	ids := append([]string{}, r.orderedIDs...)
	sort.Strings(ids)
	return ids
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
