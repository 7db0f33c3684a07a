package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Pipeline.TableRetries)
	assert.Equal(t, 5, cfg.Pipeline.APIRetries)
	assert.Equal(t, 1, cfg.Pipeline.MaxWorkers)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
}

func TestLoadFile(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
project:
  name: UserAuthProject
  structure_path: outputs/structure.json
  output_path: outputs
llm:
  provider: gemini
  model: gemini-2.5-pro
  temperature: 0.2
lean:
  project_root: /srv/lean/UserAuthProject
  source_dir: UserAuthProject
  script: scripts/check_lean.sh
pipeline:
  table_retries: 4
  api_retries: 8
  max_workers: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "UserAuthProject", cfg.Project.Name)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, 0.2, cfg.LLM.Temperature)
	assert.Equal(t, "UserAuthProject", cfg.Lean.SourceDir)
	assert.Equal(t, 4, cfg.Pipeline.TableRetries)
	assert.Equal(t, 8, cfg.Pipeline.APIRetries)
	assert.Equal(t, 3, cfg.Pipeline.MaxWorkers)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("OPENAI_API_KEY sets key and provider", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "oa-key")
		t.Setenv("GEMINI_API_KEY", "")

		cfg := Default()
		cfg.applyEnvOverrides()
		assert.Equal(t, "oa-key", cfg.LLM.APIKey)
		assert.Equal(t, "openai", cfg.LLM.Provider)
	})

	t.Run("GEMINI_API_KEY wins over OPENAI_API_KEY", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "oa-key")
		t.Setenv("GEMINI_API_KEY", "gm-key")

		cfg := Default()
		cfg.applyEnvOverrides()
		assert.Equal(t, "gm-key", cfg.LLM.APIKey)
		assert.Equal(t, "openai", cfg.LLM.Provider,
			"provider follows the first key that set it")
	})

	t.Run("env key does not override configured provider", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "oa-key")
		t.Setenv("GEMINI_API_KEY", "")

		cfg := Default()
		cfg.LLM.Provider = "gemini"
		cfg.applyEnvOverrides()
		assert.Equal(t, "gemini", cfg.LLM.Provider)
		assert.Equal(t, "oa-key", cfg.LLM.APIKey)
	})

	t.Run("LEAN_PROJECT_PATH overrides project root", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		t.Setenv("GEMINI_API_KEY", "")
		t.Setenv("LEAN_PROJECT_PATH", "/tmp/lean")

		cfg := Default()
		cfg.applyEnvOverrides()
		assert.Equal(t, "/tmp/lean", cfg.Lean.ProjectRoot)
	})
}

func TestNormalizeClampsRetries(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.TableRetries = 0
	cfg.Pipeline.APIRetries = -1
	cfg.Pipeline.MaxWorkers = 0
	cfg.normalize()
	assert.Equal(t, 3, cfg.Pipeline.TableRetries)
	assert.Equal(t, 5, cfg.Pipeline.APIRetries)
	assert.Equal(t, 1, cfg.Pipeline.MaxWorkers)
}

func TestParsedTimeout(t *testing.T) {
	assert.Equal(t, "2m0s", LLMConfig{}.ParsedTimeout().String())
	assert.Equal(t, "30s", LLMConfig{Timeout: "30s"}.ParsedTimeout().String())
	assert.Equal(t, "2m0s", LLMConfig{Timeout: "bogus"}.ParsedTimeout().String())
}
