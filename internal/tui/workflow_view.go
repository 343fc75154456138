package tui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/stepflow/internal/report"
	"github.com/kingrea/stepflow/internal/workflow"
	"github.com/kingrea/stepflow/internal/workflow/engine"
)

var (
	labelStyleReady   = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	labelStyleBlocked = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	labelStyleRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	labelStyleWarning = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	labelStylePending = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	labelStyleDefault = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	detailTextStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
)

type stepLabel struct {
	text  string
	style lipgloss.Style
}

// stepFinishedMsg reports the end of one ExecuteStep call.
type stepFinishedMsg struct {
	id  string
	ok  bool
	err error
}

// workflowView drives one engine. Execution happens in tea.Cmds; the view
// re-reads the engine snapshot whenever a step finishes.
type workflowView struct {
	app         *App
	engine      *engine.Engine
	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc

	state       engine.State
	selection   int
	running     map[string]struct{}
	showDetails bool
}

func newWorkflowView(app *App, eng *engine.Engine) *workflowView {
	ctx, cancel := context.WithCancel(context.Background())
	view := &workflowView{
		app:     app,
		engine:  eng,
		ctx:     ctx,
		cancel:  cancel,
		running: map[string]struct{}{},
	}
	if app.logbook != nil {
		view.unsubscribe = eng.Subscribe(app.logbook)
	}
	view.refresh()
	return view
}

// close cancels in-flight actions and detaches the journal.
func (v *workflowView) close() {
	v.cancel()
	if v.unsubscribe != nil {
		v.unsubscribe()
		v.unsubscribe = nil
	}
}

func (v *workflowView) refresh() {
	v.state = v.engine.Snapshot()
	if v.selection >= len(v.state.Steps) {
		v.selection = max(0, len(v.state.Steps)-1)
	}
}

func (v *workflowView) Update(msg tea.Msg) tea.Cmd {
	switch m := msg.(type) {
	case stepFinishedMsg:
		return v.handleStepFinished(m)
	case tea.KeyMsg:
		return v.handleKeyMsg(m)
	}
	return nil
}

func (v *workflowView) handleKeyMsg(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "up", "k":
		if v.selection > 0 {
			v.selection--
		}
	case "down", "j":
		if v.selection < len(v.state.Steps)-1 {
			v.selection++
		}
	case "enter":
		return v.executeSelected()
	case "f":
		return v.executeSelected(engine.WithForcedFailure())
	case "R":
		return v.executeSelected(engine.WithRerun())
	case "a":
		return v.executeAll()
	case "x":
		v.engine.Reset()
		v.refresh()
		v.setStatus("Workflow reset")
	case "d":
		v.showDetails = !v.showDetails
	}
	return nil
}

func (v *workflowView) current() (engine.StepStatus, bool) {
	if len(v.state.Steps) == 0 {
		return engine.StepStatus{}, false
	}
	return v.state.Steps[v.selection], true
}

func (v *workflowView) executeSelected(opts ...engine.ExecuteOption) tea.Cmd {
	step, ok := v.current()
	if !ok {
		return nil
	}
	if _, busy := v.running[step.ID]; busy {
		v.setStatus(fmt.Sprintf("%s is already running", step.Name))
		return nil
	}
	v.setStatus(fmt.Sprintf("Executing %s...", step.Name))
	return v.execute(step.ID, opts...)
}

func (v *workflowView) executeAll() tea.Cmd {
	var cmds []tea.Cmd
	for _, id := range v.state.Executable {
		if _, busy := v.running[id]; busy {
			continue
		}
		cmds = append(cmds, v.execute(id))
	}
	if len(cmds) == 0 {
		v.setStatus("No executable steps")
		return nil
	}
	v.setStatus(fmt.Sprintf("Executing %d step(s) concurrently...", len(cmds)))
	return tea.Batch(cmds...)
}

func (v *workflowView) execute(id string, opts ...engine.ExecuteOption) tea.Cmd {
	v.running[id] = struct{}{}
	eng, ctx := v.engine, v.ctx
	return func() tea.Msg {
		ok, err := eng.ExecuteStep(ctx, id, opts...)
		return stepFinishedMsg{id: id, ok: ok, err: err}
	}
}

func (v *workflowView) handleStepFinished(msg stepFinishedMsg) tea.Cmd {
	delete(v.running, msg.id)
	v.refresh()
	name := msg.id
	if step, ok := v.state.Step(msg.id); ok {
		name = step.Name
	}
	var transition *engine.TransitionError
	switch {
	case errors.As(msg.err, &transition):
		v.setStatus(fmt.Sprintf("Cannot execute %s: %s", name, strings.Join(transition.Reasons, "; ")))
	case errors.Is(msg.err, engine.ErrStepReset):
		v.setStatus(fmt.Sprintf("%s was reset while running", name))
	case msg.err != nil:
		v.setStatus(fmt.Sprintf("%s: %v", name, msg.err))
	case msg.ok:
		v.setStatus(fmt.Sprintf("%s completed", name))
	default:
		step, _ := v.state.Step(msg.id)
		v.setStatus(fmt.Sprintf("%s failed: %s", name, step.ErrorMessage))
	}
	if v.state.Status == engine.EngineStatusComplete && len(v.running) == 0 {
		v.setStatus("Workflow complete")
	}
	return nil
}

func (v *workflowView) View() string {
	statusLine := fmt.Sprintf("Workflow: %s · Status: %s", v.state.Name, friendlyLabel(string(v.state.Status)))
	if v.state.StatusReason != "" {
		statusLine += fmt.Sprintf(" · %s", v.state.StatusReason)
	}
	lines := []string{statusLine, fmt.Sprintf("Ready steps: %d", len(v.state.Executable)), ""}
	for i, step := range v.state.Steps {
		lines = append(lines, v.renderStepLine(i, step))
		if i == v.selection {
			lines = append(lines, v.renderStepDetails(step))
		}
	}
	lines = append(lines,
		"",
		"enter=execute  f=force failure  R=re-run  a=run all ready  x=reset  d=details",
		"esc=back to menu  q=quit",
	)
	return strings.Join(lines, "\n")
}

func (v *workflowView) renderStepLine(idx int, step engine.StepStatus) string {
	indicator := " "
	if idx == v.selection {
		indicator = ">"
	}
	labels := v.stepLabels(step)
	rendered := make([]string, 0, len(labels))
	for _, label := range labels {
		rendered = append(rendered, label.style.Render(label.text))
	}
	return fmt.Sprintf("%s %s %s (%s) · [%s]", indicator, report.Icon(step.Status), step.Name, step.ID, strings.Join(rendered, ", "))
}

func (v *workflowView) stepLabels(step engine.StepStatus) []stepLabel {
	labels := []stepLabel{{text: friendlyLabel(string(step.Status)), style: labelStyleForStatus(step.Status)}}
	if step.Outcome != workflow.OutcomeNone && step.Outcome != workflow.OutcomeOK {
		labels = append(labels, stepLabel{text: friendlyLabel(string(step.Outcome)), style: labelStyleWarning})
	}
	if _, ok := v.running[step.ID]; ok {
		labels = append(labels, stepLabel{text: "Running", style: labelStyleRunning})
	} else if contains(v.state.Executable, step.ID) {
		labels = append(labels, stepLabel{text: "Ready", style: labelStyleReady})
	}
	if _, blocked := v.state.Blocked[step.ID]; blocked {
		labels = append(labels, stepLabel{text: "Blocked", style: labelStyleBlocked})
	}
	return labels
}

func labelStyleForStatus(status workflow.Status) lipgloss.Style {
	switch status {
	case workflow.StatusCompleted:
		return labelStyleReady
	case workflow.StatusFailed:
		return labelStyleBlocked
	case workflow.StatusInProgress:
		return labelStyleRunning
	case workflow.StatusNotStarted:
		return labelStylePending
	default:
		return labelStyleDefault
	}
}

func (v *workflowView) renderStepDetails(step engine.StepStatus) string {
	if v.showDetails {
		var b strings.Builder
		_ = report.New(&b).Step(step)
		return detailTextStyle.Render(indent(strings.TrimRight(b.String(), "\n"), "    "))
	}
	var details []string
	if step.Description != "" {
		details = append(details, step.Description)
	}
	if len(step.Prerequisites) > 0 {
		details = append(details, fmt.Sprintf("Prerequisites: %s", strings.Join(step.Prerequisites, ", ")))
	}
	if reasons := v.state.Blocked[step.ID]; len(reasons) > 0 {
		details = append(details, fmt.Sprintf("Blocked: %s", strings.Join(reasons, "; ")))
	}
	if step.ErrorMessage != "" {
		details = append(details, fmt.Sprintf("Error: %s", step.ErrorMessage))
	}
	if len(step.Data) > 0 {
		keys := make([]string, 0, len(step.Data))
		for key := range step.Data {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, key := range keys {
			pairs = append(pairs, fmt.Sprintf("%s=%v", key, step.Data[key]))
		}
		details = append(details, fmt.Sprintf("Data: %s", strings.Join(pairs, ", ")))
	}
	if len(details) == 0 {
		return detailTextStyle.Render("    no additional details")
	}
	return detailTextStyle.Render("    " + strings.Join(details, "\n    "))
}

func (v *workflowView) setStatus(message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		return
	}
	v.app.statusMsg = message
}

func friendlyLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	replacer := strings.NewReplacer("_", " ", "-", " ")
	words := strings.Fields(replacer.Replace(strings.ToLower(value)))
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

func indent(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
