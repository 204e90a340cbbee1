package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	t.Cleanup(func() { config = nil })

	path := filepath.Join(t.TempDir(), "nope.yaml")
	require.NoError(t, LoadConfig(path))

	cfg, err := GetConfig()
	require.NoError(t, err)
	assert.Equal(t, "mock", cfg.ImageGen.Backend)
}

func TestValidateHTTPBackendNeedsEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ImageGen.Backend = "http"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "imagegen.endpoint")
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	t.Cleanup(func() { config = nil })

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
models:
  planning: gemini-2.5-pro
imagegen:
  backend: mock
workflow:
  character_batch_size: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, LoadConfig(path))

	cfg, err := GetConfig()
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-pro", cfg.Models.Planning)
	assert.Equal(t, "claude-sonnet-4-5", cfg.Models.Drafting, "unset fields keep defaults")
	assert.Equal(t, 5, cfg.Workflow.CharacterBatchSize)
	assert.Equal(t, 10*time.Minute, cfg.Workflow.StepTimeout)
}

func TestGetConfigBeforeLoad(t *testing.T) {
	t.Cleanup(func() { config = nil })
	config = nil
	_, err := GetConfig()
	assert.Error(t, err)
}

func TestGetModelProvider(t *testing.T) {
	provider, err := GetModelProvider("claude-sonnet-4-5")
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, provider)

	provider, err = GetModelProvider("gemini-never-seen-before")
	require.NoError(t, err)
	assert.Equal(t, ProviderGoogle, provider)

	provider, err = GetModelProvider("llama3.2")
	require.NoError(t, err)
	assert.Equal(t, ProviderOllama, provider)

	_, err = GetModelProvider("mystery-model")
	assert.Error(t, err)
}

func TestGetModelInfoUnknown(t *testing.T) {
	info, known := GetModelInfo("gpt-99-turbo")
	assert.False(t, known)
	assert.Equal(t, ProviderOpenAI, info.Provider)
	assert.Equal(t, 32000, info.MaxContextTokens)
}

func TestSecretPrecedence(t *testing.T) {
	t.Setenv(EnvOpenAIKey, "env-key")

	value, err := GetSecret(EnvOpenAIKey)
	require.NoError(t, err)
	assert.Equal(t, "env-key", value)

	SetSecret(EnvOpenAIKey, "override-key")
	t.Cleanup(func() {
		secretOverridesMux.Lock()
		delete(secretOverrides, EnvOpenAIKey)
		secretOverridesMux.Unlock()
	})

	value, err = GetSecret(EnvOpenAIKey)
	require.NoError(t, err)
	assert.Equal(t, "override-key", value)
}

func TestHasAPIKeyOllamaAlwaysTrue(t *testing.T) {
	assert.True(t, HasAPIKey(ProviderOllama))
}
