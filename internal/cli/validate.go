package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/kingrea/stepflow/internal/workflow"
	"github.com/kingrea/stepflow/internal/workflow/builder"
)

func newValidateCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file|->",
		Short: "Check a YAML workflow definition",
		Long: `Parse a definition, resolve its actions and reject duplicate ids,
unknown actions and prerequisite cycles. Pass - to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				def workflow.WorkflowDefinition
				err error
			)
			if args[0] == "-" {
				def, err = workflow.LoadDefinitionReader(cmd.InOrStdin())
			} else {
				def, err = workflow.LoadDefinitionFile(args[0])
			}
			if err != nil {
				return err
			}
			eng, err := builder.FromDefinition(def, s.source.Registry)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printf(out, "%s: %s is valid (%d steps, ready: %v)\n",
				args[0], def.Title(), eng.Len(), eng.Snapshot().Executable)
			printf(out, "  steps: %s\n", strings.Join(def.StepIDs(), ", "))
			return nil
		},
	}
}
