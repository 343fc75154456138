// internal/tui/app.go
//
// Interactive front end for stepflow, built on bubbletea (The Elm
// Architecture): the App holds all state, Update folds messages into it and
// View renders it.

package tui

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/stepflow/internal/catalog"
	"github.com/kingrea/stepflow/internal/config"
	"github.com/kingrea/stepflow/internal/logbook"
	"github.com/kingrea/stepflow/internal/workflow"
	"github.com/kingrea/stepflow/internal/workflow/engine"
)

// appState represents which screen is active.
type appState int

const (
	stateMainMenu appState = iota
	stateWorkflow
)

const journalFile = "journal.log"

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithSource overrides where workflows are resolved from.
func WithSource(src catalog.Source) AppOption {
	return func(a *App) {
		a.source = src
		a.sourceSet = true
	}
}

// WithDefaultAction sets the action for steps that carry none.
func WithDefaultAction(action workflow.Action) AppOption {
	return func(a *App) {
		if action != nil {
			a.defaultAction = action
		}
	}
}

// WithLogger routes engine transition logs.
func WithLogger(logger *slog.Logger) AppOption {
	return func(a *App) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// App is the main application model.
type App struct {
	state   appState
	config  *config.Config
	logbook *logbook.Logbook
	logger  *slog.Logger

	source        catalog.Source
	sourceSet     bool
	defaultAction workflow.Action

	mainMenu     list.Model
	workflowView *workflowView
	statusMsg    string

	width  int
	height int
}

// menuItem is one workflow entry, or the Exit entry when id is empty.
type menuItem struct {
	id    string
	title string
	desc  string
}

func (i menuItem) Title() string       { return i.title }
func (i menuItem) Description() string { return i.desc }
func (i menuItem) FilterValue() string { return i.title }

// NewApp creates the TUI for projectDir.
func NewApp(projectDir string, opts ...AppOption) (*App, error) {
	cfg, err := config.NewConfig(projectDir)
	if err != nil {
		return nil, err
	}
	lb, err := logbook.New(filepath.Join(cfg.LogsDir(), journalFile))
	if err != nil {
		return nil, err
	}
	sim := cfg.Project.Simulation
	app := &App{
		state:   stateMainMenu,
		config:  cfg,
		logbook: lb,
		logger:  slog.New(slog.DiscardHandler),
		defaultAction: &workflow.Simulated{
			MinDelay:    sim.MinDelay,
			MaxDelay:    sim.MaxDelay,
			FailureRate: sim.FailureRate,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	if !app.sourceSet {
		app.source = catalog.Source{Dirs: cfg.WorkflowDirs()}
	}

	mainMenu := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	mainMenu.Title = "⬡ STEPFLOW"
	mainMenu.SetShowStatusBar(false)
	mainMenu.SetFilteringEnabled(false)
	app.mainMenu = mainMenu
	if err := app.refreshMainMenu(); err != nil {
		return nil, err
	}
	lb.Info("Session opened · default workflow: %s", cfg.DefaultWorkflow())
	return app, nil
}

func (a *App) refreshMainMenu() error {
	entries, err := a.source.Entries()
	if err != nil {
		return err
	}
	items := make([]list.Item, 0, len(entries)+1)
	selected := 0
	for _, entry := range entries {
		if strings.EqualFold(entry.ID, a.config.DefaultWorkflow()) {
			selected = len(items)
		}
		desc := entry.Description
		if desc == "" {
			desc = fmt.Sprintf("Workflow ID: %s", entry.ID)
		}
		if entry.Origin == catalog.OriginDefinition {
			desc += " · definition"
		}
		items = append(items, menuItem{id: entry.ID, title: entry.Title, desc: desc})
	}
	items = append(items, menuItem{title: "Exit", desc: "Quit stepflow"})
	a.mainMenu.SetItems(items)
	a.mainMenu.Select(selected)
	return nil
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return nil
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.mainMenu.SetSize(max(0, msg.Width-6), max(0, msg.Height-14))
		return a, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			a.closeWorkflow()
			return a, tea.Quit
		case "esc":
			if a.state == stateWorkflow {
				return a.returnToMainMenu()
			}
		case "enter":
			if a.state == stateMainMenu {
				return a.handleMainMenuSelection()
			}
		}
	}

	switch a.state {
	case stateMainMenu:
		var cmd tea.Cmd
		a.mainMenu, cmd = a.mainMenu.Update(msg)
		return a, cmd
	case stateWorkflow:
		if a.workflowView != nil {
			return a, a.workflowView.Update(msg)
		}
	}
	return a, nil
}

func (a *App) handleMainMenuSelection() (tea.Model, tea.Cmd) {
	item, ok := a.mainMenu.SelectedItem().(menuItem)
	if !ok {
		return a, nil
	}
	if item.id == "" {
		a.logbook.Info("Menu · Exit selected")
		return a, tea.Quit
	}
	a.logbook.Info("Menu · %s selected", item.title)
	if err := a.openWorkflow(item.id); err != nil {
		a.statusMsg = fmt.Sprintf("Cannot open %s: %v", item.id, err)
		a.logbook.Error("Open %s failed: %v", item.id, err)
	}
	return a, nil
}

// openWorkflow builds a fresh engine for id and switches to its screen.
func (a *App) openWorkflow(id string) error {
	eng, err := a.source.Open(id,
		engine.WithDefaultAction(a.defaultAction),
		engine.WithLogger(a.logger),
	)
	if err != nil {
		return err
	}
	if err := a.config.SetDefaultWorkflow(id); err != nil {
		a.logbook.Warn("Could not persist workflow selection: %v", err)
	}
	a.closeWorkflow()
	a.workflowView = newWorkflowView(a, eng)
	a.state = stateWorkflow
	a.statusMsg = fmt.Sprintf("%s ready · %d step(s)", eng.Name(), eng.Len())
	return nil
}

func (a *App) closeWorkflow() {
	if a.workflowView != nil {
		a.workflowView.close()
		a.workflowView = nil
	}
}

func (a *App) returnToMainMenu() (tea.Model, tea.Cmd) {
	a.closeWorkflow()
	a.state = stateMainMenu
	a.statusMsg = ""
	if err := a.refreshMainMenu(); err != nil {
		a.statusMsg = fmt.Sprintf("Workflow list unavailable: %v", err)
	}
	return a, nil
}

// View renders the current state to a string.
func (a *App) View() string {
	width := a.width
	if width <= 0 {
		width = 100
	}
	var content string
	switch a.state {
	case stateMainMenu:
		content = a.mainMenu.View()
	case stateWorkflow:
		if a.workflowView != nil {
			content = a.workflowView.View()
		}
	}
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		MarginBottom(1).
		Render("⬡ STEPFLOW")
	body := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Width(max(20, width-4)).
		Render(content)
	sections := []string{header, body}
	if logPanel := a.renderLogPanel(); logPanel != "" {
		sections = append(sections, logPanel)
	}
	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		MarginTop(1).
		Render(a.statusMsg)
	sections = append(sections, footer)
	return strings.Join(sections, "\n")
}

func (a *App) renderLogPanel() string {
	lines, total := a.logbook.Tail(8)
	if len(lines) == 0 {
		return ""
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("LOG · %s (%d entries)", filepath.Base(a.logbook.Path()), total))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(lines, "\n"))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}
