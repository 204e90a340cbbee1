package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/joho/godotenv"
)

// Provider name constants shared across config, agent, and metrics.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// Environment variable names for provider API keys.
const (
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvGoogleKey    = "GEMINI_API_KEY"
	EnvImageGenKey  = "IMAGEGEN_API_KEY"
	EnvMemoryKey    = "MEMORY_API_KEY"
	EnvOllamaHost   = "OLLAMA_HOST"
)

//nolint:gochecknoglobals // In-memory secret overrides, set interactively
var (
	secretOverrides    map[string]string
	secretOverridesMux sync.RWMutex
)

// LoadDotEnv seeds the process environment from a .env file if one exists.
// Variables already set in the environment win over .env values.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	getLogger().Info("loaded environment from %s", path)
	return nil
}

// SetSecret stores a secret in memory, overriding the environment. Used when
// keys are collected interactively at startup.
func SetSecret(name, value string) {
	secretOverridesMux.Lock()
	defer secretOverridesMux.Unlock()
	if secretOverrides == nil {
		secretOverrides = make(map[string]string)
	}
	secretOverrides[name] = value
}

// GetSecret returns a secret value by name. Precedence: in-memory overrides,
// then environment variables.
func GetSecret(name string) (string, error) {
	secretOverridesMux.RLock()
	if secretOverrides != nil {
		if value, exists := secretOverrides[name]; exists && value != "" {
			secretOverridesMux.RUnlock()
			return value, nil
		}
	}
	secretOverridesMux.RUnlock()

	if value := os.Getenv(name); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("secret %s not set", name)
}

// GetAPIKey returns the API key for the given provider. Ollama needs no key
// and always returns "".
func GetAPIKey(provider string) (string, error) {
	switch provider {
	case ProviderAnthropic:
		return GetSecret(EnvAnthropicKey)
	case ProviderOpenAI:
		return GetSecret(EnvOpenAIKey)
	case ProviderGoogle:
		return GetSecret(EnvGoogleKey)
	case ProviderOllama:
		return "", nil
	default:
		return "", fmt.Errorf("unknown provider %q", provider)
	}
}

// HasAPIKey reports whether a usable key exists for the provider.
func HasAPIKey(provider string) bool {
	if provider == ProviderOllama {
		return true
	}
	key, err := GetAPIKey(provider)
	return err == nil && key != ""
}
