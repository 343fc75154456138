package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kingrea/stepflow/internal/report"
	"github.com/kingrea/stepflow/internal/workflow"
	"github.com/kingrea/stepflow/internal/workflow/engine"
	"github.com/kingrea/stepflow/internal/workflow/runner"
	"github.com/kingrea/stepflow/internal/workflow/scheduler"
)

func newRunCmd(s *session) *cobra.Command {
	var (
		maxParallel int
		retries     int
		fail        []string
		targets     []string
		hold        []string
	)
	cmd := &cobra.Command{
		Use:   "run [workflow|file]",
		Short: "Execute a workflow until nothing else can start",
		Long: `Run every executable step in rounds until the workflow completes or is
blocked. Failed steps do not abort the run; their dependents stay blocked.
The final snapshot is written to .stepflow/reports/<workflow>.json.

EXAMPLES:
  # Run the default workflow
  stepflow run

  # Two steps at a time, one retry, FACT forced to fail
  stepflow run file-fact-price --max-parallel 2 --retries 1 --fail FACT

  # Run a definition file
  stepflow run ./workflows/nightly.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, key, err := s.openWorkflow(args)
			if err != nil {
				return err
			}
			rt, err := s.runtimeFor(args)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("max-parallel") {
				maxParallel = rt.MaxParallel
			}
			if !cmd.Flags().Changed("retries") {
				retries = rt.Retries
			}
			for _, id := range concat(fail, targets, hold) {
				if _, ok := eng.GetStep(id); !ok {
					return fmt.Errorf("%w: %s", engine.ErrStepNotFound, id)
				}
			}
			out := cmd.OutOrStdout()
			r, err := runner.New(eng,
				runner.WithMaxParallel(maxParallel),
				runner.WithRetries(retries),
				runner.WithForcedFailures(fail...),
				runner.WithTargets(targets...),
				runner.WithManualGates(holdGates(hold)),
				runner.WithLogger(s.logger()),
				runner.WithBatchHook(func(round int, ids []string) {
					printf(out, "round %d: %v\n", round, ids)
				}),
			)
			if err != nil {
				return err
			}
			summary, runErr := r.Run(ctx)

			printer := report.New(out)
			state := eng.Snapshot()
			if err := printer.State(state); err != nil {
				return err
			}
			if err := printer.Summary(summary); err != nil {
				return err
			}
			repo := engine.NewRepository(filepath.Join(s.cfg.ReportsDir(), key+".json"))
			if err := repo.Save(state); err != nil {
				return fmt.Errorf("export snapshot: %w", err)
			}
			printf(out, "snapshot: %s\n", repo.Path())
			return runErr
		},
	}
	cmd.Flags().IntVar(&maxParallel, "max-parallel", 0, "steps per round (0 = unlimited; default from config)")
	cmd.Flags().IntVar(&retries, "retries", 0, "re-executions of a failed step (default from config)")
	cmd.Flags().StringArrayVar(&fail, "fail", nil, "force STEP to fail (repeatable)")
	cmd.Flags().StringArrayVar(&targets, "target", nil, "only run STEP and its prerequisites (repeatable)")
	cmd.Flags().StringArrayVar(&hold, "hold", nil, "never start STEP; it stays pending (repeatable)")
	return cmd
}

// runtimeFor layers a definition's runtime block over the project config.
func (s *session) runtimeFor(args []string) (workflow.WorkflowRuntimeConfig, error) {
	out := workflow.WorkflowRuntimeConfig{
		MaxParallel: s.cfg.Project.Runtime.MaxParallel,
		Retries:     s.cfg.Project.Runtime.Retries,
	}
	name := s.cfg.DefaultWorkflow()
	if len(args) > 0 {
		name = args[0]
	}
	def, ok, err := s.source.Definition(name)
	if err != nil || !ok {
		return out, err
	}
	if def.Runtime.MaxParallel > 0 {
		out.MaxParallel = def.Runtime.MaxParallel
	}
	if def.Runtime.Retries > 0 {
		out.Retries = def.Runtime.Retries
	}
	return out, nil
}

// holdGates maps --hold ids to unapproved manual gates.
func holdGates(ids []string) map[string]scheduler.ManualGateState {
	if len(ids) == 0 {
		return nil
	}
	gates := make(map[string]scheduler.ManualGateState, len(ids))
	for _, id := range ids {
		gates[id] = scheduler.ManualGateState{Required: true, Note: "held from the command line"}
	}
	return gates
}

func concat(lists ...[]string) []string {
	var out []string
	for _, list := range lists {
		out = append(out, list...)
	}
	return out
}
