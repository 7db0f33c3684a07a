// Package config loads leanforge configuration from a YAML file with
// environment-variable overrides for credentials.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all leanforge configuration.
type Config struct {
	// Project settings
	Project ProjectConfig `yaml:"project"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Lean checker configuration
	Lean LeanConfig `yaml:"lean"`

	// Pipeline settings
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ProjectConfig names the project and its input/output locations.
type ProjectConfig struct {
	Name string `yaml:"name"`
	// StructurePath is the JSON document produced by the external
	// source-project parser.
	StructurePath string `yaml:"structure_path"`
	OutputPath    string `yaml:"output_path"`
}

// LLMConfig configures the generation service.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // openai, gemini
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	Timeout     string  `yaml:"timeout"`
}

// ParsedTimeout returns the request timeout, defaulting to 2 minutes.
func (c LLMConfig) ParsedTimeout() time.Duration {
	if c.Timeout == "" {
		return 2 * time.Minute
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}

// LeanConfig configures the external checker.
type LeanConfig struct {
	ProjectRoot string `yaml:"project_root"`
	SourceDir   string `yaml:"source_dir"`
	Script      string `yaml:"script"`
}

// PipelineConfig configures retry budgets and analysis parallelism.
type PipelineConfig struct {
	TableRetries int `yaml:"table_retries"`
	APIRetries   int `yaml:"api_retries"`
	// MaxWorkers bounds parallelism in the dependency analysis stages.
	// Formalization stages are always sequential.
	MaxWorkers int `yaml:"max_workers"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Project: ProjectConfig{
			OutputPath: "outputs",
		},
		LLM: LLMConfig{
			// Provider is left empty so an environment API key can
			// pick it; the llm factory treats empty as openai.
			Model: "gpt-4o",
		},
		Lean: LeanConfig{
			Script: "check_lean.sh",
		},
		Pipeline: PipelineConfig{
			TableRetries: 3,
			APIRetries:   5,
			MaxWorkers:   1,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a config file and applies environment overrides. A
// missing file yields the defaults, still with overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	cfg.normalize()
	return cfg, nil
}

// applyEnvOverrides fills credentials from the environment. Later
// entries win when several keys are set, and the provider follows the
// key only when the config did not already choose one.
func (c *Config) applyEnvOverrides() {
	overrides := []struct {
		env      string
		provider string
	}{
		{"OPENAI_API_KEY", "openai"},
		{"GEMINI_API_KEY", "gemini"},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			c.LLM.APIKey = v
			if c.LLM.Provider == "" {
				c.LLM.Provider = o.provider
			}
		}
	}
	if v := os.Getenv("LEAN_PROJECT_PATH"); v != "" {
		c.Lean.ProjectRoot = v
	}
}

// normalize clamps nonsensical values back to defaults.
func (c *Config) normalize() {
	if c.Pipeline.TableRetries < 1 {
		c.Pipeline.TableRetries = 3
	}
	if c.Pipeline.APIRetries < 1 {
		c.Pipeline.APIRetries = 5
	}
	if c.Pipeline.MaxWorkers < 1 {
		c.Pipeline.MaxWorkers = 1
	}
}
