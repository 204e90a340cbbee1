// Package config provides configuration loading, validation, and management
// for the book workflow service.
//
// Configuration is split into three layers:
//
//  1. Service config: user-editable settings (models, image generation,
//     memory service, web UI) loaded from a YAML file.
//  2. Secrets: API keys loaded from the environment, optionally seeded from a
//     .env file. Secrets never appear in the YAML config or in snapshots.
//  3. Constants: hardcoded registry data (model pricing, provider patterns)
//     that users should not modify.
//
// A single global Config instance is maintained in memory, protected by a
// mutex. GetConfig returns the config by value to prevent external mutation.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/logx"
)

//nolint:gochecknoglobals // Intentional singleton pattern for config management
var (
	config *Config
	logger *logx.Logger
	mu     sync.RWMutex
)

func getLogger() *logx.Logger {
	if logger == nil {
		logger = logx.NewLogger("config")
	}
	return logger
}

// ModelInfo contains static information about a known LLM model.
type ModelInfo struct {
	Provider         string  // API provider (anthropic, openai, google, ollama)
	InputCPM         float64 // Cost per million input tokens (USD)
	OutputCPM        float64 // Cost per million output tokens (USD)
	MaxContextTokens int     // Maximum context window size in tokens
	MaxOutputTokens  int     // Maximum output tokens per request
}

// KnownModels contains pricing and provider information for common models.
// Unknown models are inferred via ProviderPatterns.
//
//nolint:gochecknoglobals // Intentional global for static model registry
var KnownModels = map[string]ModelInfo{
	"claude-sonnet-4-5": {
		Provider:         ProviderAnthropic,
		InputCPM:         3.0,
		OutputCPM:        15.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"claude-sonnet-4-20250514": {
		Provider:         ProviderAnthropic,
		InputCPM:         3.0,
		OutputCPM:        15.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"claude-opus-4-1": {
		Provider:         ProviderAnthropic,
		InputCPM:         15.0,
		OutputCPM:        75.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  16384,
	},
	"gpt-4o": {
		Provider:         ProviderOpenAI,
		InputCPM:         2.5,
		OutputCPM:        10.0,
		MaxContextTokens: 128000,
		MaxOutputTokens:  4096,
	},
	"o4-mini": {
		Provider:         ProviderOpenAI,
		InputCPM:         1.1,
		OutputCPM:        4.4,
		MaxContextTokens: 128000,
		MaxOutputTokens:  16384,
	},
	"gemini-2.5-flash": {
		Provider:         ProviderGoogle,
		InputCPM:         0.30,
		OutputCPM:        2.50,
		MaxContextTokens: 1048576,
		MaxOutputTokens:  65536,
	},
	"gemini-2.5-pro": {
		Provider:         ProviderGoogle,
		InputCPM:         1.25,
		OutputCPM:        10.0,
		MaxContextTokens: 1048576,
		MaxOutputTokens:  65536,
	},
}

// ProviderPattern represents a rule for inferring provider from model name.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

// ProviderPatterns defines rules for inferring providers from unknown model
// names, so new models work without code changes.
//
//nolint:gochecknoglobals // Intentional global for inference rules
var ProviderPatterns = []ProviderPattern{
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"gemini", ProviderGoogle},
	{"phi", ProviderOllama},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"deepseek", ProviderOllama},
	{"ollama:", ProviderOllama},
}

// GetModelProvider returns the API provider for a given model. It checks
// KnownModels first, then falls back to pattern matching. Returns an error if
// the model cannot be mapped to a provider.
func GetModelProvider(modelName string) (string, error) {
	if info, exists := KnownModels[modelName]; exists {
		return info.Provider, nil
	}
	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}
	return "", fmt.Errorf("unknown model '%s': no known provider mapping or pattern match", modelName)
}

// GetModelInfo returns the ModelInfo for a model name. For unknown models it
// returns conservative defaults with the inferred provider and false.
func GetModelInfo(modelName string) (ModelInfo, bool) {
	if info, exists := KnownModels[modelName]; exists {
		return info, true
	}
	provider := ""
	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			provider = ProviderPatterns[i].Provider
			break
		}
	}
	return ModelInfo{
		Provider:         provider,
		MaxContextTokens: 32000,
		MaxOutputTokens:  4096,
	}, false
}

// RetryConfig defines retry behavior for LLM and image generation calls.
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	Jitter        bool          `yaml:"jitter"`
}

// ModelsConfig selects which model serves each workload.
type ModelsConfig struct {
	// Planning is used for book planning and scene segmentation.
	Planning string `yaml:"planning"`
	// Drafting is used for chapter prose generation.
	Drafting string `yaml:"drafting"`
	// Vision is used for prompt optimization against reference images.
	Vision string `yaml:"vision"`
}

// ImageGenConfig configures the image generation backend.
type ImageGenConfig struct {
	// Backend selects the image provider: http, google, openai, or mock.
	Backend string `yaml:"backend"`
	// Endpoint is the URL of the HTTP image generation service.
	Endpoint string `yaml:"endpoint"`
	// Model is the image model identifier passed to the backend.
	Model string `yaml:"model"`
	// Size is the output image size, for example 1024x1024.
	Size string `yaml:"size"`
	// Watermark enables provider-side watermarking when supported.
	Watermark bool `yaml:"watermark"`
	// Timeout bounds a single image generation call.
	Timeout time.Duration `yaml:"timeout"`
}

// MemoryConfig configures the external memory service.
type MemoryConfig struct {
	// BaseURL is the memory service endpoint. Empty disables memory and the
	// workflow degrades to context-only operation.
	BaseURL string `yaml:"base_url"`
	// Timeout bounds a single memory call.
	Timeout time.Duration `yaml:"timeout"`
	// MaxResults caps memory search results per query.
	MaxResults int `yaml:"max_results"`
}

// WebUIConfig configures the embedded web interface.
type WebUIConfig struct {
	// Addr is the listen address, for example :8080.
	Addr string `yaml:"addr"`
	// Enabled turns the web UI on or off.
	Enabled bool `yaml:"enabled"`
	// PrometheusURL points at a Prometheus server scraping this service.
	// Empty disables the aggregated book metrics endpoint.
	PrometheusURL string `yaml:"prometheus_url"`
}

// WorkflowConfig holds workflow-level tunables.
type WorkflowConfig struct {
	// DataDir is the root directory for the database, snapshots, and logs.
	DataDir string `yaml:"data_dir"`
	// CharacterBatchSize is the number of characters rendered per approval
	// batch.
	CharacterBatchSize int `yaml:"character_batch_size"`
	// SkipApproval auto-approves every gate. Useful for scripted runs.
	SkipApproval bool `yaml:"skip_approval"`
	// StepTimeout bounds a single step handler execution.
	StepTimeout time.Duration `yaml:"step_timeout"`
}

// Config is the root service configuration.
type Config struct {
	Models   ModelsConfig   `yaml:"models"`
	ImageGen ImageGenConfig `yaml:"imagegen"`
	Memory   MemoryConfig   `yaml:"memory"`
	WebUI    WebUIConfig    `yaml:"webui"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Retry    RetryConfig    `yaml:"retry"`
}

// DefaultConfig returns the baseline configuration used when no config file
// exists or a section is omitted.
func DefaultConfig() *Config {
	return &Config{
		Models: ModelsConfig{
			Planning: "claude-sonnet-4-5",
			Drafting: "claude-sonnet-4-5",
			Vision:   "gpt-4o",
		},
		ImageGen: ImageGenConfig{
			Backend:   "mock",
			Model:     "general-v2.0",
			Size:      "1024x1024",
			Watermark: false,
			Timeout:   120 * time.Second,
		},
		Memory: MemoryConfig{
			Timeout:    15 * time.Second,
			MaxResults: 10,
		},
		WebUI: WebUIConfig{
			Addr:    ":8080",
			Enabled: true,
		},
		Workflow: WorkflowConfig{
			DataDir:            ".piksa",
			CharacterBatchSize: 3,
			StepTimeout:        10 * time.Minute,
		},
		Retry: RetryConfig{
			MaxAttempts:   4,
			InitialDelay:  time.Second,
			MaxDelay:      30 * time.Second,
			BackoffFactor: 2.0,
			Jitter:        true,
		},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Models.Planning == "" {
		return fmt.Errorf("models.planning must be set")
	}
	if c.Models.Drafting == "" {
		return fmt.Errorf("models.drafting must be set")
	}
	if _, err := GetModelProvider(c.Models.Planning); err != nil {
		return fmt.Errorf("invalid planning model: %w", err)
	}
	if _, err := GetModelProvider(c.Models.Drafting); err != nil {
		return fmt.Errorf("invalid drafting model: %w", err)
	}
	switch c.ImageGen.Backend {
	case "http", "google", "openai", "mock":
	default:
		return fmt.Errorf("imagegen.backend must be one of http, google, openai, mock; got %q", c.ImageGen.Backend)
	}
	if c.ImageGen.Backend == "http" && c.ImageGen.Endpoint == "" {
		return fmt.Errorf("imagegen.endpoint must be set for the http backend")
	}
	if c.Workflow.CharacterBatchSize < 1 {
		return fmt.Errorf("workflow.character_batch_size must be at least 1")
	}
	if c.Workflow.DataDir == "" {
		return fmt.Errorf("workflow.data_dir must be set")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	return nil
}

// LoadConfig reads the YAML config file at path, merges it over defaults,
// validates it, and installs it as the global config. A missing file installs
// pure defaults.
func LoadConfig(path string) error {
	mu.Lock()
	defer mu.Unlock()

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		getLogger().Info("no config file at %s, using defaults", path)
	case err != nil:
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		getLogger().Info("loaded config from %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	config = cfg
	return nil
}

// SetConfig installs a config directly. Intended for tests and for callers
// that build config programmatically.
func SetConfig(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	mu.Lock()
	defer mu.Unlock()
	config = cfg
	return nil
}

// GetConfig returns a copy of the current config. LoadConfig or SetConfig
// must have been called first.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()
	if config == nil {
		return Config{}, fmt.Errorf("config not loaded: call LoadConfig first")
	}
	return *config, nil
}
