package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/agent/llm"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/agent/llmerrors"
)

func TestRetrySucceedsAfterTransientError(t *testing.T) {
	mock := NewMockClient(
		ScriptedResponse{Err: llmerrors.NewError(llmerrors.ErrorTypeTransient, "connection reset")},
		ScriptedResponse{Response: llm.CompletionResponse{Content: "recovered", StopReason: "end_turn"}},
	)
	client := NewRetryableClient(mock)

	resp, err := client.Complete(context.Background(), llm.NewCompletionRequest(
		[]llm.CompletionMessage{llm.NewUserMessage("hello")}))
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, 2, mock.CallCount())
}

func TestRetryNonRetryablePassesThrough(t *testing.T) {
	authErr := llmerrors.NewError(llmerrors.ErrorTypeAuth, "bad key")
	mock := NewMockClient(ScriptedResponse{Err: authErr})
	client := NewRetryableClient(mock)

	_, err := client.Complete(context.Background(), llm.NewCompletionRequest(
		[]llm.CompletionMessage{llm.NewUserMessage("hello")}))
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeAuth))
	assert.Equal(t, 1, mock.CallCount(), "auth errors must not be retried")
}

func TestRetryExhaustionReturnsServiceUnavailable(t *testing.T) {
	// Unknown errors allow a single retry, so exhaustion is quick.
	mock := NewMockClient(ScriptedResponse{Err: errors.New("something odd")})
	client := NewRetryableClient(mock)

	_, err := client.Complete(context.Background(), llm.NewCompletionRequest(
		[]llm.CompletionMessage{llm.NewUserMessage("hello")}))
	require.Error(t, err)
	assert.True(t, llmerrors.IsServiceUnavailable(err))
	assert.Equal(t, 2, mock.CallCount())
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	mock := NewMockClient(ScriptedResponse{Err: llmerrors.NewError(llmerrors.ErrorTypeRateLimit, "429")})
	client := NewRetryableClient(mock)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Complete(ctx, llm.NewCompletionRequest(
		[]llm.CompletionMessage{llm.NewUserMessage("hello")}))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCalculateDelayBackoffAndCap(t *testing.T) {
	cfg := llmerrors.RetryConfig{
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      400 * time.Millisecond,
		BackoffFactor: 2.0,
	}

	assert.Equal(t, 100*time.Millisecond, calculateDelay(&cfg, 1))
	assert.Equal(t, 200*time.Millisecond, calculateDelay(&cfg, 2))
	assert.Equal(t, 400*time.Millisecond, calculateDelay(&cfg, 3))
	assert.Equal(t, 400*time.Millisecond, calculateDelay(&cfg, 10), "delay must be capped")
}
