// internal/config/config.go
//
// This package handles configuration and the .stepflow directory structure.
// A project that runs stepflow gets a .stepflow/ folder in its root holding
// config.yaml, logs and exported run reports.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Dir is the name of the directory we create in each project
	Dir = ".stepflow"

	defaultWorkflowID = "file-fact-price"
	defaultHost       = "127.0.0.1"
	defaultPort       = 8080
	maxRetries        = 100
)

const defaultProjectConfigYAML = `# stepflow project configuration
version: 1

workflows:
  # Catalog preset or definition id used when none is given.
  default: file-fact-price
  # Directories scanned for *.yaml workflow definitions, relative to the project.
  dirs:
    - workflows

# Default action used by steps without their own.
simulation:
  min_delay: 1s
  max_delay: 3s
  failure_rate: 0

runtime:
  max_parallel: 0
  retries: 0

logging:
  level: info

server:
  host: 127.0.0.1
  port: 8080
`

// WorkflowConfig captures workflow preferences.
type WorkflowConfig struct {
	Default string   `yaml:"default"`
	Dirs    []string `yaml:"dirs,omitempty"`
}

// SimulationConfig tunes the default simulated action.
type SimulationConfig struct {
	MinDelay    time.Duration `yaml:"min_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	FailureRate float64       `yaml:"failure_rate"`
}

// RuntimeConfig holds runner defaults.
type RuntimeConfig struct {
	MaxParallel int `yaml:"max_parallel"`
	Retries     int `yaml:"retries"`
}

// LoggingConfig selects the log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ServerConfig is the status API listen address.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ProjectConfig models .stepflow/config.yaml.
type ProjectConfig struct {
	Version    int              `yaml:"version"`
	Workflows  WorkflowConfig   `yaml:"workflows"`
	Simulation SimulationConfig `yaml:"simulation"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
	Logging    LoggingConfig    `yaml:"logging"`
	Server     ServerConfig     `yaml:"server"`
}

// Config holds the runtime configuration for stepflow.
type Config struct {
	// ProjectDir is the directory stepflow was started from
	ProjectDir string

	// StateDir is ProjectDir/.stepflow
	StateDir string

	Project ProjectConfig
}

// InitDir creates the .stepflow directory structure in the given project
// directory and writes a default config.yaml when none exists.
//
// Structure created:
// .stepflow/
// ├── config.yaml
// ├── logs/      <- stepflow.log
// └── reports/   <- exported run snapshots
func InitDir(projectDir string) error {
	root := filepath.Join(projectDir, Dir)
	dirs := []string{
		filepath.Join(root, "logs"),
		filepath.Join(root, "reports"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return ensureProjectConfig(filepath.Join(root, "config.yaml"))
}

// NewConfig creates a Config populated with project settings. A missing
// config file yields the defaults.
func NewConfig(projectDir string) (*Config, error) {
	if strings.TrimSpace(projectDir) == "" {
		projectDir = "."
	}
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("config: resolve project dir: %w", err)
	}
	cfg := &Config{
		ProjectDir: abs,
		StateDir:   filepath.Join(abs, Dir),
		Project:    DefaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.StateDir, "logs")
}

// ReportsDir returns where run snapshots are exported.
func (c *Config) ReportsDir() string {
	return filepath.Join(c.StateDir, "reports")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.StateDir, "config.yaml")
}

// WorkflowDirs returns the definition directories as absolute paths.
func (c *Config) WorkflowDirs() []string {
	return c.Project.Workflows.Dirs
}

// DefaultWorkflow returns the configured default workflow identifier.
func (c *Config) DefaultWorkflow() string {
	return c.Project.Workflows.Default
}

// Addr returns host:port for the status API.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Project.Server.Host, c.Project.Server.Port)
}

// SetDefaultWorkflow updates the default workflow identifier and persists
// the value back to .stepflow/config.yaml.
func (c *Config) SetDefaultWorkflow(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("config: workflow id is required")
	}
	c.Project.Workflows.Default = id
	return c.saveProjectConfig()
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.Project.normalize(c.ProjectDir)
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	parsed := DefaultProjectConfig()
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize(c.ProjectDir)
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

// DefaultProjectConfig mirrors the file written by InitDir.
func DefaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version: 1,
		Workflows: WorkflowConfig{
			Default: defaultWorkflowID,
			Dirs:    []string{"workflows"},
		},
		Simulation: SimulationConfig{
			MinDelay: time.Second,
			MaxDelay: 3 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
		Server:  ServerConfig{Host: defaultHost, Port: defaultPort},
	}
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if strings.TrimSpace(pc.Logging.Level) == "" {
		pc.Logging.Level = "info"
	}
	if strings.TrimSpace(pc.Server.Host) == "" {
		pc.Server.Host = defaultHost
	}
	if pc.Server.Port == 0 {
		pc.Server.Port = defaultPort
	}
}

func (pc *ProjectConfig) normalize(base string) {
	pc.Workflows.Default = strings.TrimSpace(pc.Workflows.Default)
	if pc.Workflows.Default == "" {
		pc.Workflows.Default = defaultWorkflowID
	}
	dirs := make([]string, 0, len(pc.Workflows.Dirs))
	for _, dir := range pc.Workflows.Dirs {
		if resolved := resolvePath(base, dir); resolved != "" && !contains(dirs, resolved) {
			dirs = append(dirs, resolved)
		}
	}
	pc.Workflows.Dirs = dirs
	pc.Logging.Level = strings.ToLower(strings.TrimSpace(pc.Logging.Level))
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	sim := pc.Simulation
	if sim.MinDelay < 0 || sim.MaxDelay < 0 {
		return fmt.Errorf("simulation delays must be >= 0")
	}
	if sim.MaxDelay < sim.MinDelay {
		return fmt.Errorf("simulation.max_delay must be >= simulation.min_delay")
	}
	if sim.FailureRate < 0 || sim.FailureRate > 1 {
		return fmt.Errorf("simulation.failure_rate must be between 0 and 1")
	}
	if pc.Runtime.MaxParallel < 0 {
		return fmt.Errorf("runtime.max_parallel must be >= 0")
	}
	if pc.Runtime.Retries < 0 || pc.Runtime.Retries > maxRetries {
		return fmt.Errorf("runtime.retries must be between 0 and %d", maxRetries)
	}
	switch pc.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	if pc.Server.Port < 0 || pc.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535")
	}
	return nil
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}

func (c *Config) saveProjectConfig() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Project.applyDefaults()
	c.Project.normalize(c.ProjectDir)
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.StateDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure state dir: %w", err)
	}
	data, err := yaml.Marshal(c.Project)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	return nil
}
