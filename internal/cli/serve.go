package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kingrea/stepflow/internal/logbook"
	"github.com/kingrea/stepflow/internal/statusapi"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(s *session) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve [workflow|file]",
		Short: "Expose a workflow over HTTP and websocket",
		Long: `Build a workflow and serve its state, step execution and a live stream of
transitions until interrupted.

The bind address comes from server.host/server.port in the project config,
STEPFLOW_API_HOST/STEPFLOW_API_PORT, or --addr, in increasing precedence.

EXAMPLES:
  stepflow serve complex --addr :9090
  curl localhost:9090/workflow/executable
  curl -X POST localhost:9090/workflow/steps/AUTH/execute`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, _, err := s.openWorkflow(args)
			if err != nil {
				return err
			}
			settings := statusapi.SettingsFromConfig(s.cfg)
			if addr != "" {
				if settings, err = settings.ParseAddr(addr); err != nil {
					return err
				}
			}
			lb, err := logbook.New(journalPath(s))
			if err != nil {
				return err
			}
			unsubscribe := eng.Subscribe(lb)
			defer unsubscribe()

			srv, err := statusapi.NewServer(eng, settings, statusapi.WithLogger(s.logger()))
			if err != nil {
				return err
			}
			if err := srv.Start(ctx); err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "serving %s at %s (ctrl+c to stop)\n", eng.Name(), srv.BaseURL())
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address host:port (overrides config)")
	return cmd
}
