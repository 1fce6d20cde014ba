// Package config holds all conductor configuration: YAML file, built-in
// defaults and environment overrides, in that order of precedence
// (environment wins).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all conductor configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store"`
	Assistant   AssistantConfig   `yaml:"assistant"`
	Dispatcher  DispatcherConfig  `yaml:"dispatcher"`
	Improvement ImprovementConfig `yaml:"improvement"`
	Paths       PathsConfig       `yaml:"paths"`
}

// StoreConfig configures the relational state store. SupabaseURL and
// SupabaseKey come from the environment and identify the hosted store a
// deployment points the dashboard at; the SQLite file at DatabasePath is
// the operational store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
	SupabaseURL  string `yaml:"-"`
	SupabaseKey  string `yaml:"-"`
}

// AssistantConfig configures the assistant subprocess contract.
type AssistantConfig struct {
	Binary             string `yaml:"binary"`
	RunTimeoutSeconds  int    `yaml:"run_timeout_seconds"`
	EvalTimeoutSeconds int    `yaml:"eval_timeout_seconds"`
}

// DispatcherConfig configures the scheduling loop.
type DispatcherConfig struct {
	MaxConcurrentRuns     int `yaml:"max_concurrent_runs"`
	PendingPollSeconds    int `yaml:"pending_poll_seconds"`
	PerTaskStaggerSeconds int `yaml:"per_task_stagger_seconds"`
}

// ImprovementConfig configures the improvement engine.
// MaxImprovementsPerFileWeek is a declared safety target; the data model
// carries no per-file application index, so it is surfaced here but not
// enforced.
type ImprovementConfig struct {
	CooldownHours              int `yaml:"improvement_cooldown_hours"`
	SweepSeconds               int `yaml:"improvement_sweep_seconds"`
	MaxImprovementsPerFileWeek int `yaml:"max_improvements_per_file_week"`
}

// PathsConfig anchors the filesystem layout under the host home
// directory.
type PathsConfig struct {
	OrchestratorDir string `yaml:"orchestrator_dir"`
	ProjectsDir     string `yaml:"projects_dir"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	orchDir := filepath.Join(home, "orchestrator")
	return Config{
		Store: StoreConfig{
			DatabasePath: filepath.Join(orchDir, "conductor.db"),
		},
		Assistant: AssistantConfig{
			Binary:             "claude",
			RunTimeoutSeconds:  600,
			EvalTimeoutSeconds: 120,
		},
		Dispatcher: DispatcherConfig{
			MaxConcurrentRuns:     3,
			PendingPollSeconds:    10,
			PerTaskStaggerSeconds: 2,
		},
		Improvement: ImprovementConfig{
			CooldownHours:              24,
			SweepSeconds:               1800,
			MaxImprovementsPerFileWeek: 3,
		},
		Paths: PathsConfig{
			OrchestratorDir: orchDir,
			ProjectsDir:     filepath.Join(home, "projects"),
		},
	}
}

// Load reads the YAML file at path (missing-ok) on top of the defaults,
// then applies environment overrides. A .env file in the orchestrator
// directory or the working directory is honored first.
func Load(path string) (Config, error) {
	cfg := Default()

	// Missing .env files are fine.
	_ = godotenv.Load(filepath.Join(cfg.Paths.OrchestratorDir, ".env"))
	_ = godotenv.Load()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv applies process-environment overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("SUPABASE_URL"); v != "" {
		c.Store.SupabaseURL = v
	}
	if v := os.Getenv("SUPABASE_KEY"); v != "" {
		c.Store.SupabaseKey = v
	}
	if v := os.Getenv("CONDUCTOR_DB"); v != "" {
		c.Store.DatabasePath = v
	}
	if v := os.Getenv("CONDUCTOR_ASSISTANT"); v != "" {
		c.Assistant.Binary = v
	}
}

// RunTimeout is the wall-clock bound for a task run.
func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.Assistant.RunTimeoutSeconds) * time.Second
}

// EvalTimeout is the wall-clock bound for a self-evaluation.
func (c Config) EvalTimeout() time.Duration {
	return time.Duration(c.Assistant.EvalTimeoutSeconds) * time.Second
}

// PendingPoll is the dispatcher poll interval.
func (c Config) PendingPoll() time.Duration {
	return time.Duration(c.Dispatcher.PendingPollSeconds) * time.Second
}

// PerTaskStagger is the delay between consecutive dispatches in a poll.
func (c Config) PerTaskStagger() time.Duration {
	return time.Duration(c.Dispatcher.PerTaskStaggerSeconds) * time.Second
}

// Cooldown is the minimum interval between improvements per project.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.Improvement.CooldownHours) * time.Hour
}

// SweepInterval is the improvement engine tick period.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Improvement.SweepSeconds) * time.Second
}

// LogDir is where the daily executor log and per-run logs live.
func (c Config) LogDir() string {
	return filepath.Join(c.Paths.OrchestratorDir, "logs")
}

// RunLogDir is where full per-run output files live.
func (c Config) RunLogDir() string {
	return filepath.Join(c.LogDir(), "runs")
}

// ProjectDir resolves a project working tree on the host.
func (c Config) ProjectDir(localDirectory string) string {
	return filepath.Join(c.Paths.ProjectsDir, localDirectory)
}
