package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorgraph/engine/internal/layout"
)

func TestLoad_DefaultValues(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	content := `
log:
  level: info
`
	err := os.WriteFile(configFile, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := Load(configFile)
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, "cpu", cfg.Engine.Backend)
	assert.True(t, cfg.Engine.GradMode)
	assert.Equal(t, 0, cfg.Engine.MaxNodes)
	assert.Equal(t, layout.TD, cfg.Engine.TensorDim)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_CustomValues(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	content := `
engine:
  backend: cpu
  grad_mode: false
  max_nodes: 1000
telemetry:
  enabled: true
log:
  level: debug
  format: json
`
	err := os.WriteFile(configFile, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := Load(configFile)
	require.NoError(t, err)

	assert.False(t, cfg.Engine.GradMode)
	assert.Equal(t, 1000, cfg.Engine.MaxNodes)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_InvalidMaxNodes(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	content := `
engine:
  max_nodes: -1
`
	err := os.WriteFile(configFile, []byte(content), 0644)
	require.NoError(t, err)

	_, err = Load(configFile)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max_nodes must be >= 0")
}

func TestValidate_EmptyBackend(t *testing.T) {
	cfg := &Config{
		Engine: EngineConfig{Backend: ""},
	}

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "engine backend is required")
}

func TestValidate_TensorDimMismatch(t *testing.T) {
	cfg := &Config{
		Engine: EngineConfig{Backend: "cpu", TensorDim: layout.TD + 1},
	}

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "tensor_dim")
}

func TestLoad_FileNotFound(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Equal(t, "cpu", cfg.Engine.Backend)
	assert.Equal(t, layout.TD, cfg.Engine.TensorDim)
	assert.Equal(t, "info", cfg.Log.Level)
}

// TestLoad_NoConfigFilePresent mirrors a completely bare environment: no
// path given and nothing found on any of the search paths. Load must still
// come back with the engine's compiled-in defaults rather than erroring.
func TestLoad_NoConfigFilePresent(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer func() { _ = os.Chdir(wd) }()

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Engine.TensorDim)
	assert.Equal(t, "cpu", cfg.Engine.Backend)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromReader(t *testing.T) {
	content := []byte(`
engine:
  backend: cpu
  grad_mode: false
`)
	cfg, err := LoadFromReader("yaml", content)
	require.NoError(t, err)
	assert.Equal(t, "cpu", cfg.Engine.Backend)
	assert.False(t, cfg.Engine.GradMode)
}
