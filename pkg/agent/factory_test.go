package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/agent/llm"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/metrics"
)

func TestFactoryUnknownModel(t *testing.T) {
	factory := NewClientFactory(nil)
	_, err := factory.CreateClient("totally-unknown-model")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider")
}

func TestFactoryCreatesAnthropicClient(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	factory := NewClientFactory(metrics.NopRecorder{})

	client, err := factory.CreateClient("claude-sonnet-4-5")
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", client.GetModelName())
}

func TestFactoryOllamaNeedsNoKey(t *testing.T) {
	factory := NewClientFactory(metrics.NopRecorder{})

	client, err := factory.CreateClient("ollama:llama3.2")
	require.NoError(t, err)
	assert.Equal(t, "llama3.2", client.GetModelName())
}

type captureRecorder struct {
	metrics.NopRecorder
	model            string
	errorType        string
	promptTokens     int
	completionTokens int
	success          bool
	calls            int
}

func (c *captureRecorder) ObserveLLMRequest(model, _, _ string, promptTokens, completionTokens int, _ float64, success bool, errorType string, _ time.Duration) {
	c.calls++
	c.model = model
	c.promptTokens = promptTokens
	c.completionTokens = completionTokens
	c.success = success
	c.errorType = errorType
}

func TestMetricsClientRecordsUsage(t *testing.T) {
	recorder := &captureRecorder{}
	mock := NewMockClientWithText("Once upon a time there was a small red fox.")
	client := NewMetricsClient(mock, recorder)

	ctx := WithCallContext(context.Background(), "book_1", "draft_chapter")
	resp, err := client.Complete(ctx, llm.NewCompletionRequest(
		[]llm.CompletionMessage{llm.NewUserMessage("Write the opening line.")}))
	require.NoError(t, err)
	require.NotEmpty(t, resp.Content)

	assert.Equal(t, 1, recorder.calls)
	assert.Equal(t, "mock-model", recorder.model)
	assert.True(t, recorder.success)
	assert.Empty(t, recorder.errorType)
	assert.Positive(t, recorder.promptTokens)
	assert.Positive(t, recorder.completionTokens)
}

func TestEstimateCostUnknownModelIsZero(t *testing.T) {
	assert.Zero(t, estimateCost("mock-model", 1000, 1000))
	assert.Positive(t, estimateCost("claude-sonnet-4-5", 1000, 1000))
}
