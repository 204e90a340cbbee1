package agent

import (
	"context"
	"time"

	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/agent/llm"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/agent/llmerrors"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/config"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/metrics"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/utils"
)

type contextKey int

const callContextKey contextKey = iota

type callContext struct {
	bookID string
	step   string
}

// WithCallContext annotates a context with the book and step an LLM call is
// made on behalf of, so metrics can be attributed.
func WithCallContext(ctx context.Context, bookID, step string) context.Context {
	return context.WithValue(ctx, callContextKey, callContext{bookID: bookID, step: step})
}

func callContextFrom(ctx context.Context) callContext {
	if cc, ok := ctx.Value(callContextKey).(callContext); ok {
		return cc
	}
	return callContext{bookID: "unknown", step: "unknown"}
}

// MetricsClient wraps an LLMClient and records request counts, token usage,
// cost, and latency through a metrics.Recorder.
type MetricsClient struct {
	client   llm.LLMClient
	recorder metrics.Recorder
	counter  *utils.TokenCounter
}

// NewMetricsClient creates a metrics-recording wrapper around a client.
func NewMetricsClient(client llm.LLMClient, recorder metrics.Recorder) *MetricsClient {
	counter, err := utils.NewTokenCounter(client.GetModelName())
	if err != nil {
		counter = nil // CountTokens falls back to character estimation
	}
	return &MetricsClient{
		client:   client,
		recorder: recorder,
		counter:  counter,
	}
}

// Complete implements llm.LLMClient.
func (m *MetricsClient) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	start := time.Now()
	resp, err := m.client.Complete(ctx, req)
	duration := time.Since(start)

	cc := callContextFrom(ctx)
	model := m.client.GetModelName()

	promptTokens := 0
	for i := range req.Messages {
		promptTokens += m.countTokens(req.Messages[i].Content)
	}
	completionTokens := m.countTokens(resp.Content)

	errorType := ""
	if err != nil {
		errorType = llmerrors.TypeOf(err).String()
	}

	m.recorder.ObserveLLMRequest(model, cc.bookID, cc.step,
		promptTokens, completionTokens, estimateCost(model, promptTokens, completionTokens),
		err == nil, errorType, duration)

	return resp, err
}

// Stream implements llm.LLMClient. Streamed responses record request success
// and prompt tokens only; completion tokens are not tracked per chunk.
func (m *MetricsClient) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	start := time.Now()
	ch, err := m.client.Stream(ctx, req)

	cc := callContextFrom(ctx)
	model := m.client.GetModelName()

	promptTokens := 0
	for i := range req.Messages {
		promptTokens += m.countTokens(req.Messages[i].Content)
	}

	errorType := ""
	if err != nil {
		errorType = llmerrors.TypeOf(err).String()
	}
	m.recorder.ObserveLLMRequest(model, cc.bookID, cc.step,
		promptTokens, 0, estimateCost(model, promptTokens, 0),
		err == nil, errorType, time.Since(start))

	return ch, err
}

// GetModelName returns the wrapped client's model name.
func (m *MetricsClient) GetModelName() string {
	return m.client.GetModelName()
}

func (m *MetricsClient) countTokens(text string) int {
	if m.counter != nil {
		return m.counter.CountTokens(text)
	}
	return len(text) / 4
}

// estimateCost computes request cost in USD from per-million-token rates.
func estimateCost(model string, promptTokens, completionTokens int) float64 {
	info, ok := config.GetModelInfo(model)
	if !ok {
		return 0
	}
	return float64(promptTokens)/1e6*info.InputCPM + float64(completionTokens)/1e6*info.OutputCPM
}
