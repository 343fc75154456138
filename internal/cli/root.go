// Package cli wires the stepflow commands.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kingrea/stepflow/internal/catalog"
	"github.com/kingrea/stepflow/internal/config"
	"github.com/kingrea/stepflow/internal/logging"
	"github.com/kingrea/stepflow/internal/workflow"
	"github.com/kingrea/stepflow/internal/workflow/engine"
)

// session carries what every command needs once the root has initialised
// the project directory.
type session struct {
	projectDir string
	logLevel   string

	cfg    *config.Config
	log    *logging.Logger
	source catalog.Source
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	s := &session{}
	root := &cobra.Command{
		Use:   "stepflow",
		Short: "Run and inspect dependency-ordered workflows",
		Long: `stepflow executes workflows made of steps with prerequisites.

A step runs only when every prerequisite has completed. Workflows come from
the built-in catalog or from YAML definitions in the project's workflow dirs.

EXAMPLES:
  # List available workflows
  stepflow list

  # Run a workflow to completion, failing FACT on purpose
  stepflow run file-fact-price --fail FACT

  # Drive a workflow interactively
  stepflow tui

  # Serve a workflow over HTTP
  stepflow serve complex --addr :9090`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return s.open()
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return s.close()
		},
	}
	root.PersistentFlags().StringVarP(&s.projectDir, "project", "p", "", "project directory (default: current directory)")
	root.PersistentFlags().StringVar(&s.logLevel, "log-level", "", "log level: debug, info, warn, error (default: from config)")

	root.AddCommand(
		newListCmd(s),
		newShowCmd(s),
		newRunCmd(s),
		newValidateCmd(s),
		newTUICmd(s),
		newServeCmd(s),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func (s *session) open() error {
	dir := s.projectDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
		dir = cwd
	}
	if err := config.InitDir(dir); err != nil {
		return fmt.Errorf("initialize %s: %w", config.Dir, err)
	}
	cfg, err := config.NewConfig(dir)
	if err != nil {
		return err
	}
	levelName := s.logLevel
	if levelName == "" {
		levelName = cfg.Project.Logging.Level
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.ProjectDir, level)
	if err != nil {
		return err
	}
	s.cfg = cfg
	s.log = logger
	s.source = catalog.Source{Dirs: cfg.WorkflowDirs()}
	return nil
}

func (s *session) close() error {
	if s.log == nil {
		return nil
	}
	return s.log.Close()
}

func (s *session) logger() *slog.Logger {
	if s.log == nil {
		return logging.Discard()
	}
	return s.log.Logger
}

// defaultAction is the simulated action configured for the project.
func (s *session) defaultAction() workflow.Action {
	sim := s.cfg.Project.Simulation
	return &workflow.Simulated{
		MinDelay:    sim.MinDelay,
		MaxDelay:    sim.MaxDelay,
		FailureRate: sim.FailureRate,
	}
}

// openWorkflow resolves name, falling back to the configured default.
func (s *session) openWorkflow(args []string) (*engine.Engine, string, error) {
	name := s.cfg.DefaultWorkflow()
	if len(args) > 0 {
		name = args[0]
	}
	eng, err := s.source.Open(name,
		engine.WithDefaultAction(s.defaultAction()),
		engine.WithLogger(s.logger()),
	)
	if err != nil {
		return nil, "", err
	}
	s.logger().Info("workflow opened", "workflow", name, "engine", eng.ID(), "steps", eng.Len())
	return eng, workflowKey(name), nil
}

// workflowKey turns a workflow name or definition path into a file-safe key.
func workflowKey(name string) string {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." {
		return "workflow"
	}
	return base
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
