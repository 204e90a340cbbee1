package imagegen

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/logx"
)

// GoogleBackend generates images through the Gemini API (Imagen models).
// Results come back as raw bytes and are returned as data URLs.
type GoogleBackend struct {
	apiKey string
	model  string
	logger *logx.Logger

	mu     sync.Mutex
	client *genai.Client
}

// NewGoogleBackend creates a Gemini image backend. The SDK client is created
// lazily because genai.NewClient requires a context.
func NewGoogleBackend(apiKey, model string) *GoogleBackend {
	if model == "" {
		model = "imagen-3.0-generate-002"
	}
	return &GoogleBackend{
		apiKey: apiKey,
		model:  model,
		logger: logx.NewLogger("imagegen-google"),
	}
}

func (b *GoogleBackend) getClient(ctx context.Context) (*genai.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		return b.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  b.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	b.client = client
	return client, nil
}

// CreateImage implements Generator.
func (b *GoogleBackend) CreateImage(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Description) == "" {
		return Result{}, fmt.Errorf("image description cannot be empty")
	}

	client, err := b.getClient(ctx)
	if err != nil {
		return Result{}, err
	}

	strategy := SelectStrategy(len(req.Seeds))
	prompt := BuildPrompt(req)
	if len(req.Seeds) > 0 {
		b.logger.Warn("google backend cannot consume %d seed image(s), falling back to prompt-only generation", len(req.Seeds))
	}

	resp, err := client.Models.GenerateImages(ctx, b.model, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
	})
	if err != nil {
		return Result{}, fmt.Errorf("image generation failed: %w", err)
	}
	if resp == nil || len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return Result{}, fmt.Errorf("no images returned")
	}

	img := resp.GeneratedImages[0].Image
	mimeType := img.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}
	url := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(img.ImageBytes)

	return Result{ImageURL: url, Strategy: strategy, EffectivePrompt: prompt}, nil
}
