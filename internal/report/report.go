// Package report renders engine snapshots and run summaries as terminal
// text.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/stepflow/internal/workflow"
	"github.com/kingrea/stepflow/internal/workflow/engine"
	"github.com/kingrea/stepflow/internal/workflow/runner"
)

const timeLayout = "15:04:05"

// Printer writes styled reports to w. Colors are only emitted when w is a
// terminal.
type Printer struct {
	w      io.Writer
	header lipgloss.Style
	muted  lipgloss.Style
	err    lipgloss.Style
	status map[workflow.Status]lipgloss.Style
}

// New returns a Printer bound to w.
func New(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w:      w,
		header: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")),
		muted:  r.NewStyle().Foreground(lipgloss.Color("#A0AEC0")),
		err:    r.NewStyle().Foreground(lipgloss.Color("#FF6B6B")),
		status: map[workflow.Status]lipgloss.Style{
			workflow.StatusNotStarted: r.NewStyle().Foreground(lipgloss.Color("#CCCCCC")),
			workflow.StatusInProgress: r.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true),
			workflow.StatusCompleted:  r.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true),
			workflow.StatusFailed:     r.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true),
		},
	}
}

// Icon is the one-character marker used for status in listings.
func Icon(status workflow.Status) string {
	switch status {
	case workflow.StatusCompleted:
		return "✔"
	case workflow.StatusInProgress:
		return "▶"
	case workflow.StatusFailed:
		return "✖"
	default:
		return "○"
	}
}

// State prints every step with its status, then the executable and blocked
// sets.
func (p *Printer) State(state engine.State) error {
	var b strings.Builder
	title := "Current workflow state"
	if state.Name != "" {
		title = fmt.Sprintf("%s · %s", state.Name, title)
	}
	b.WriteString(p.header.Render(title))
	b.WriteString("\n")
	for _, step := range state.Steps {
		fmt.Fprintf(&b, "  %s %s: %s (%s)\n",
			Icon(step.Status), step.ID, step.Name, p.statusText(step.Status, step.Outcome))
		if step.ErrorMessage != "" {
			fmt.Fprintf(&b, "      %s\n", p.err.Render("error: "+step.ErrorMessage))
		}
		if step.CompletedAt != nil {
			fmt.Fprintf(&b, "      completed %s\n", step.CompletedAt.Format(timeLayout))
		}
		if len(step.Prerequisites) > 0 {
			fmt.Fprintf(&b, "      prerequisites: %s\n", strings.Join(step.Prerequisites, ", "))
		}
	}
	b.WriteString("\n")
	if len(state.Executable) > 0 {
		fmt.Fprintf(&b, "Ready to execute: %s\n", strings.Join(state.Executable, ", "))
	} else {
		b.WriteString("Nothing ready to execute\n")
	}
	for _, id := range sortedKeys(state.Blocked) {
		fmt.Fprintf(&b, "Blocked %s: %s\n", id, strings.Join(state.Blocked[id], ", "))
	}
	counts := state.Counts()
	fmt.Fprintf(&b, "Progress: %d/%d completed, %d failed\n",
		counts[workflow.StatusCompleted], len(state.Steps), counts[workflow.StatusFailed])
	fmt.Fprintf(&b, "Status: %s", state.Status)
	if state.StatusReason != "" {
		fmt.Fprintf(&b, " (%s)", state.StatusReason)
	}
	b.WriteString("\n")
	_, err := io.WriteString(p.w, b.String())
	return err
}

// Details prints the full record of every step.
func (p *Printer) Details(state engine.State) error {
	for _, step := range state.Steps {
		if err := p.Step(step); err != nil {
			return err
		}
	}
	return nil
}

// Step prints one step's record including its data bag.
func (p *Printer) Step(step engine.StepStatus) error {
	var b strings.Builder
	b.WriteString(p.header.Render(fmt.Sprintf("Step %s: %s", step.ID, step.Name)))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  Status: %s\n", p.statusText(step.Status, step.Outcome))
	if step.Description != "" {
		fmt.Fprintf(&b, "  Description: %s\n", step.Description)
	}
	prereqs := "None"
	if len(step.Prerequisites) > 0 {
		prereqs = strings.Join(step.Prerequisites, ", ")
	}
	fmt.Fprintf(&b, "  Prerequisites: %s\n", prereqs)
	if len(step.Dependents) > 0 {
		fmt.Fprintf(&b, "  Dependents: %s\n", strings.Join(step.Dependents, ", "))
	}
	for _, blocker := range step.BlockedBy {
		fmt.Fprintf(&b, "  Blocked: %s\n", blocker.Reason())
	}
	if step.ErrorMessage != "" {
		fmt.Fprintf(&b, "  Error: %s\n", p.err.Render(step.ErrorMessage))
	}
	if step.CompletedAt != nil {
		fmt.Fprintf(&b, "  Completed: %s\n", step.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	if len(step.Data) > 0 {
		b.WriteString("  Data:\n")
		for _, key := range sortedKeys(step.Data) {
			fmt.Fprintf(&b, "    %s = %v\n", key, step.Data[key])
		}
	}
	b.WriteString("\n")
	_, err := io.WriteString(p.w, b.String())
	return err
}

// Summary prints the outcome of a runner pass.
func (p *Printer) Summary(summary runner.Summary) error {
	var b strings.Builder
	b.WriteString(p.header.Render("Run summary"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  rounds: %d\n", summary.Rounds)
	fmt.Fprintf(&b, "  completed: %d\n", len(summary.Completed))
	if len(summary.Failed) > 0 {
		fmt.Fprintf(&b, "  failed: %s\n", p.err.Render(strings.Join(summary.Failed, ", ")))
	}
	for _, id := range sortedKeys(summary.Blocked) {
		fmt.Fprintf(&b, "  blocked %s: %s\n", id, strings.Join(summary.Blocked[id], ", "))
	}
	if len(summary.Pending) > 0 {
		fmt.Fprintf(&b, "  pending: %s\n", p.muted.Render(strings.Join(summary.Pending, ", ")))
	}
	for _, id := range sortedKeys(summary.Attempts) {
		if n := summary.Attempts[id]; n > 1 {
			fmt.Fprintf(&b, "  %s attempts: %d\n", id, n)
		}
	}
	fmt.Fprintf(&b, "  status: %s\n", summary.Status)
	_, err := io.WriteString(p.w, b.String())
	return err
}

func (p *Printer) statusText(status workflow.Status, outcome workflow.Outcome) string {
	text := string(status)
	if status == workflow.StatusCompleted && outcome != workflow.OutcomeNone && outcome != workflow.OutcomeOK {
		text = fmt.Sprintf("%s, %s", text, outcome)
	}
	style, ok := p.status[status]
	if !ok {
		return text
	}
	return style.Render(text)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
