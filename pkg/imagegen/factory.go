package imagegen

import (
	"context"
	"fmt"
	"time"

	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/config"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/metrics"
)

// NewGenerator builds the configured backend wrapped with metrics recording.
func NewGenerator(cfg config.ImageGenConfig, recorder metrics.Recorder) (Generator, error) {
	if recorder == nil {
		recorder = metrics.NopRecorder{}
	}

	var backend Generator
	switch cfg.Backend {
	case "http":
		// The HTTP backend may be unauthenticated; a missing key sends
		// requests without the auth header.
		apiKey, err := config.GetSecret(config.EnvImageGenKey)
		if err != nil {
			apiKey = ""
		}
		backend = NewHTTPBackend(cfg.Endpoint, apiKey, cfg.Model, cfg.Size, cfg.Timeout)
	case "openai":
		apiKey, err := config.GetAPIKey(config.ProviderOpenAI)
		if err != nil {
			return nil, fmt.Errorf("openai image backend: %w", err)
		}
		backend = NewOpenAIBackend(apiKey, cfg.Model)
	case "google":
		apiKey, err := config.GetAPIKey(config.ProviderGoogle)
		if err != nil {
			return nil, fmt.Errorf("google image backend: %w", err)
		}
		backend = NewGoogleBackend(apiKey, cfg.Model)
	case "mock":
		backend = NewMock()
	default:
		return nil, fmt.Errorf("unknown image backend: %s", cfg.Backend)
	}

	return &instrumented{backend: backend, name: cfg.Backend, recorder: recorder}, nil
}

type bookIDKey struct{}

// WithBookID annotates a context with the book an image is generated for, so
// metrics can be attributed.
func WithBookID(ctx context.Context, bookID string) context.Context {
	return context.WithValue(ctx, bookIDKey{}, bookID)
}

func bookIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(bookIDKey{}).(string); ok {
		return id
	}
	return "unknown"
}

type instrumented struct {
	backend  Generator
	name     string
	recorder metrics.Recorder
}

func (i *instrumented) CreateImage(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	result, err := i.backend.CreateImage(ctx, req)

	strategy := string(result.Strategy)
	if strategy == "" {
		strategy = string(SelectStrategy(len(req.Seeds)))
	}
	i.recorder.ObserveImageRequest(i.name, bookIDFrom(ctx), strategy, err == nil, time.Since(start))
	return result, err
}
