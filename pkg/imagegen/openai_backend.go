package imagegen

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/logx"
)

// OpenAIBackend generates images through the OpenAI images API. The API does
// not accept seed images, so edit and merge requests degrade to prompt-only
// generation with the references described in text.
type OpenAIBackend struct {
	client openai.Client
	model  string
	logger *logx.Logger
}

// NewOpenAIBackend creates an OpenAI image backend.
func NewOpenAIBackend(apiKey, model string) *OpenAIBackend {
	if model == "" {
		model = string(openai.ImageModelDallE3)
	}
	return &OpenAIBackend{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		logger: logx.NewLogger("imagegen-openai"),
	}
}

// CreateImage implements Generator.
func (b *OpenAIBackend) CreateImage(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Description) == "" {
		return Result{}, fmt.Errorf("image description cannot be empty")
	}

	strategy := SelectStrategy(len(req.Seeds))
	prompt := BuildPrompt(req)
	if len(req.Seeds) > 0 {
		b.logger.Warn("openai backend cannot consume %d seed image(s), falling back to prompt-only generation", len(req.Seeds))
	}

	resp, err := b.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt: prompt,
		Model:  openai.ImageModel(b.model),
		N:      openai.Int(1),
	})
	if err != nil {
		return Result{}, fmt.Errorf("image generation failed: %w", err)
	}
	if resp == nil || len(resp.Data) == 0 {
		return Result{}, fmt.Errorf("no images returned")
	}

	url := resp.Data[0].URL
	if url == "" && resp.Data[0].B64JSON != "" {
		url = "data:image/png;base64," + resp.Data[0].B64JSON
	}
	if url == "" {
		return Result{}, fmt.Errorf("no images returned")
	}

	return Result{ImageURL: url, Strategy: strategy, EffectivePrompt: prompt}, nil
}
