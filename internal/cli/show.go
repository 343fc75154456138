package cli

import (
	"github.com/spf13/cobra"

	"github.com/kingrea/stepflow/internal/report"
)

func newShowCmd(s *session) *cobra.Command {
	var details bool
	cmd := &cobra.Command{
		Use:   "show [workflow|file]",
		Short: "Print a workflow's steps, readiness and blockers",
		Long: `Build a workflow without running it and print its initial state.

EXAMPLES:
  # Overview of the default workflow
  stepflow show

  # Every step in detail
  stepflow show deployment --details`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := s.openWorkflow(args)
			if err != nil {
				return err
			}
			printer := report.New(cmd.OutOrStdout())
			state := eng.Snapshot()
			if details {
				return printer.Details(state)
			}
			return printer.State(state)
		},
	}
	cmd.Flags().BoolVarP(&details, "details", "d", false, "print every step in detail")
	return cmd
}
