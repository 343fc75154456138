package cli

import (
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/kingrea/stepflow/internal/tui"
)

func newTUICmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Drive workflows interactively",
		Long: `Open the interactive menu. Pick a workflow, then execute steps one at a
time, force failures, re-run completed steps or run every ready step at once.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := tui.NewApp(s.cfg.ProjectDir,
				tui.WithSource(s.source),
				tui.WithDefaultAction(s.defaultAction()),
				tui.WithLogger(s.logger()),
			)
			if err != nil {
				return err
			}
			_, err = tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
			return err
		},
	}
}

func journalPath(s *session) string {
	return filepath.Join(s.cfg.LogsDir(), "journal.log")
}
