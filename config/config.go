// Package config loads the orchestrator's YAML configuration with optional
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/synthos-ai/orchestrator/workflow"
)

// Environment variables overriding file values.
const (
	// EnvDBBasePath overrides commonDatabase.dbBasePath.
	EnvDBBasePath = "SYNTHOS_DB_BASE_PATH"

	// EnvPipelineInterval overrides orchestrator.pipelineIntervalInMinutes.
	EnvPipelineInterval = "SYNTHOS_PIPELINE_INTERVAL_MINUTES"
)

// Config is the root configuration document.
type Config struct {
	Orchestrator   OrchestratorConfig        `yaml:"orchestrator"`
	CommonDatabase DatabaseConfig            `yaml:"commonDatabase"`
	Tasks          map[string]map[string]any `yaml:"tasks"`
}

// OrchestratorConfig owns the workflow catalog and the pipeline trigger
// cadence.
type OrchestratorConfig struct {
	Workflows []workflow.WorkflowDefinition `yaml:"workflows"`

	// PipelineIntervalInMinutes re-triggers every configured workflow on a
	// fixed cadence. 0 disables the pipeline.
	PipelineIntervalInMinutes int `yaml:"pipelineIntervalInMinutes"`
}

// DatabaseConfig locates the shared persistence store.
type DatabaseConfig struct {
	// DBBasePath is the directory holding the execution store file.
	DBBasePath string `yaml:"dbBasePath"`
}

// Load reads the YAML file at path, applies .env and environment overrides,
// and validates the result.
//
// A .env file next to the process is loaded first when present; a missing
// .env is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDBBasePath); v != "" {
		c.CommonDatabase.DBBasePath = v
	}
	if v := os.Getenv(EnvPipelineInterval); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Orchestrator.PipelineIntervalInMinutes = n
		}
	}
}

// Validate checks structural requirements the rest of the system assumes.
func (c *Config) Validate() error {
	if c.CommonDatabase.DBBasePath == "" {
		return fmt.Errorf("commonDatabase.dbBasePath is required")
	}
	if c.Orchestrator.PipelineIntervalInMinutes < 0 {
		return fmt.Errorf("orchestrator.pipelineIntervalInMinutes must not be negative")
	}

	seen := make(map[string]bool, len(c.Orchestrator.Workflows))
	for i := range c.Orchestrator.Workflows {
		def := &c.Orchestrator.Workflows[i]
		if def.ID == "" {
			return fmt.Errorf("workflow at index %d has no id", i)
		}
		if seen[def.ID] {
			return fmt.Errorf("duplicate workflow id %q", def.ID)
		}
		seen[def.ID] = true
	}
	return nil
}

// Workflow returns the configured definition by ID, or nil.
func (c *Config) Workflow(id string) *workflow.WorkflowDefinition {
	for i := range c.Orchestrator.Workflows {
		if c.Orchestrator.Workflows[i].ID == id {
			return &c.Orchestrator.Workflows[i]
		}
	}
	return nil
}

// TaskConfig returns the configuration section for one task, or nil.
func (c *Config) TaskConfig(internalName string) map[string]any {
	return c.Tasks[internalName]
}
