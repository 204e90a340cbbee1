package agent

import (
	"fmt"

	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/agent/internal/llmimpl/anthropic"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/agent/internal/llmimpl/google"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/agent/internal/llmimpl/ollama"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/agent/internal/llmimpl/openaiofficial"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/agent/llm"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/config"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/metrics"
)

// ClientFactory creates LLM clients with the middleware chain applied:
// Metrics -> Retry -> RawClient.
type ClientFactory struct {
	recorder metrics.Recorder
}

// NewClientFactory creates a factory recording metrics through the given
// recorder. Pass metrics.NopRecorder{} in tests.
func NewClientFactory(recorder metrics.Recorder) *ClientFactory {
	if recorder == nil {
		recorder = metrics.NopRecorder{}
	}
	return &ClientFactory{recorder: recorder}
}

// CreateClient builds a client for the given model name. The provider is
// inferred from the model name and the API key comes from the environment.
func (f *ClientFactory) CreateClient(modelName string) (llm.LLMClient, error) {
	provider, err := config.GetModelProvider(modelName)
	if err != nil {
		return nil, fmt.Errorf("failed to determine provider for model %s: %w", modelName, err)
	}

	apiKey, err := config.GetAPIKey(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to get API key for provider %s: %w", provider, err)
	}

	var rawClient llm.LLMClient
	switch provider {
	case config.ProviderAnthropic:
		rawClient = anthropic.NewClaudeClientWithModel(apiKey, modelName)
	case config.ProviderOpenAI:
		rawClient = openaiofficial.NewOpenAIClientWithModel(apiKey, modelName)
	case config.ProviderGoogle:
		rawClient = google.NewGeminiClientWithModel(apiKey, modelName)
	case config.ProviderOllama:
		host, _ := config.GetSecret(config.EnvOllamaHost)
		rawClient, err = ollama.NewOllamaClientWithModel(host, modelName)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}

	return NewMetricsClient(NewRetryableClient(rawClient), f.recorder), nil
}

// CreatePlanningClient builds the client used for planning and structured
// extraction steps.
func (f *ClientFactory) CreatePlanningClient() (llm.LLMClient, error) {
	cfg, err := config.GetConfig()
	if err != nil {
		return nil, err
	}
	return f.CreateClient(cfg.Models.Planning)
}

// CreateDraftingClient builds the client used for prose drafting.
func (f *ClientFactory) CreateDraftingClient() (llm.LLMClient, error) {
	cfg, err := config.GetConfig()
	if err != nil {
		return nil, err
	}
	return f.CreateClient(cfg.Models.Drafting)
}
