// Package agent provides LLM client construction, retry, and metrics
// middleware for the book workflow.
package agent

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/agent/llm"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/agent/llmerrors"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/logx"
)

// RetryableClient wraps an LLMClient with classification-driven retry. Each
// error type carries its own backoff profile; non-retryable errors pass
// through immediately. When a retryable error survives all attempts the
// client returns a ServiceUnavailable error so callers can pause instead of
// hammering the provider.
type RetryableClient struct {
	client llm.LLMClient
	logger *logx.Logger
}

// NewRetryableClient creates a retrying LLM client.
func NewRetryableClient(client llm.LLMClient) *RetryableClient {
	return &RetryableClient{
		client: client,
		logger: logx.NewLogger("llm-retry"),
	}
}

// Complete implements llm.LLMClient with retry logic.
func (r *RetryableClient) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	var lastErr error
	attempt := 0

	for {
		resp, err := r.client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var llmErr *llmerrors.Error
		if !errors.As(err, &llmErr) {
			llmErr = llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "unclassified error")
		}

		if !llmErr.IsRetryable() {
			return llm.CompletionResponse{}, err
		}

		cfg := llmErr.GetRetryConfig()
		if attempt >= cfg.MaxRetries {
			break
		}
		attempt++

		delay := calculateDelay(&cfg, attempt)
		r.logger.Warn("completion failed (%s), retry %d/%d in %v: %v",
			llmErr.Type, attempt, cfg.MaxRetries, delay, err)

		select {
		case <-ctx.Done():
			return llm.CompletionResponse{}, ctx.Err()
		case <-time.After(delay):
		}
	}

	return llm.CompletionResponse{}, llmerrors.NewServiceUnavailableError(lastErr, attempt)
}

// Stream implements llm.LLMClient. Only stream establishment is retried;
// mid-stream failures surface on the chunk channel.
func (r *RetryableClient) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	var lastErr error
	attempt := 0

	for {
		ch, err := r.client.Stream(ctx, req)
		if err == nil {
			return ch, nil
		}
		lastErr = err

		var llmErr *llmerrors.Error
		if !errors.As(err, &llmErr) {
			llmErr = llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "unclassified error")
		}
		if !llmErr.IsRetryable() {
			return nil, err
		}

		cfg := llmErr.GetRetryConfig()
		if attempt >= cfg.MaxRetries {
			break
		}
		attempt++

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(calculateDelay(&cfg, attempt)):
		}
	}

	return nil, llmerrors.NewServiceUnavailableError(lastErr, attempt)
}

// GetModelName returns the wrapped client's model name.
func (r *RetryableClient) GetModelName() string {
	return r.client.GetModelName()
}

func calculateDelay(cfg *llmerrors.RetryConfig, attempt int) time.Duration {
	delay := time.Duration(float64(cfg.InitialDelay) * math.Pow(cfg.BackoffFactor, float64(attempt-1)))
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.Jitter && delay > 0 {
		//nolint:gosec // Jitter does not need cryptographic randomness
		jitter := time.Duration(rand.Int63n(int64(delay) / 5))
		delay += jitter - time.Duration(int64(delay)/10)
	}
	if delay < 0 {
		delay = cfg.InitialDelay
	}
	return delay
}
