package cli

import (
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newListCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List catalog presets and workflow definitions",
		Long: `Display every workflow that show, run, tui and serve accept by id.

Definitions found in the configured workflow dirs shadow presets with the
same id. The configured default is marked with *.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := s.source.Entries()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			printf(tw, "ID\tTITLE\tORIGIN\n")
			for _, entry := range entries {
				id := entry.ID
				if id == s.cfg.DefaultWorkflow() {
					id += " *"
				}
				printf(tw, "%s\t%s\t%s\n", id, entry.Title, entry.Origin)
			}
			return tw.Flush()
		},
	}
}
