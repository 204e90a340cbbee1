// Package ollama implements llm.LLMClient for locally hosted models served by
// an Ollama daemon.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/agent/llm"
	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/agent/llmerrors"
)

// DefaultHost is the Ollama daemon address used when OLLAMA_HOST is unset.
const DefaultHost = "http://localhost:11434"

// OllamaClient implements llm.LLMClient against a local Ollama daemon.
type OllamaClient struct { //nolint:revive // Package-qualified name mirrors the other providers
	client *api.Client
	model  string
}

// NewOllamaClientWithModel creates an Ollama client for the given model.
// Local models need no API key.
func NewOllamaClientWithModel(host, model string) (llm.LLMClient, error) {
	if host == "" {
		host = DefaultHost
	}
	parsed, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	return &OllamaClient{
		client: api.NewClient(parsed, http.DefaultClient),
		model:  strings.TrimPrefix(model, "ollama:"),
	}, nil
}

// Complete implements the llm.LLMClient interface.
func (o *OllamaClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if len(in.Messages) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "message list cannot be empty")
	}

	messages := make([]api.Message, 0, len(in.Messages))
	for i := range in.Messages {
		msg := &in.Messages[i]
		messages = append(messages, api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	stream := false
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}

	var response api.ChatResponse
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if response.Message.Content == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received empty response from Ollama")
	}

	stopReason := "end_turn"
	if response.DoneReason == "length" {
		stopReason = "max_tokens"
	}

	return llm.CompletionResponse{
		Content:    response.Message.Content,
		StopReason: stopReason,
	}, nil
}

// Stream implements the llm.LLMClient interface using Ollama's native
// streaming callback.
func (o *OllamaClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	if len(in.Messages) == 0 {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "message list cannot be empty")
	}

	messages := make([]api.Message, 0, len(in.Messages))
	for i := range in.Messages {
		msg := &in.Messages[i]
		messages = append(messages, api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	stream := true
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}

	ch := make(chan llm.StreamChunk, 16)
	go func() {
		defer close(ch)
		err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if resp.Message.Content != "" {
				ch <- llm.StreamChunk{Content: resp.Message.Content}
			}
			if resp.Done {
				ch <- llm.StreamChunk{Done: true}
			}
			return nil
		})
		if err != nil {
			ch <- llm.StreamChunk{Error: classifyError(err)}
		}
	}()
	return ch, nil
}

// GetModelName returns the model name for this client.
func (o *OllamaClient) GetModelName() string {
	return o.model
}

func classifyError(err error) *llmerrors.Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request timeout or cancellation")
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "connection refused"):
		// Daemon not running; retrying without intervention will not help.
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, err, "ollama daemon unreachable - is it running?")
	case strings.Contains(lower, "not found"), strings.Contains(lower, "no such model"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "model not available - pull it first")
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "connection"), strings.Contains(err.Error(), "EOF"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "network or connection error")
	default:
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "unclassified error")
	}
}
