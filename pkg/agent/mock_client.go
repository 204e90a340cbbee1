package agent

import (
	"context"
	"sync"

	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/agent/llm"
)

// ScriptedResponse is one step in a MockClient script: either a response or
// an error.
type ScriptedResponse struct {
	Response llm.CompletionResponse
	Err      error
}

// MockClient implements llm.LLMClient with a scripted response sequence for
// tests. When the script runs out the last entry repeats.
type MockClient struct {
	mu       sync.Mutex
	script   []ScriptedResponse
	calls    []llm.CompletionRequest
	position int
	model    string
}

// NewMockClient creates a mock client with the given script.
func NewMockClient(script ...ScriptedResponse) *MockClient {
	return &MockClient{script: script, model: "mock-model"}
}

// NewMockClientWithText creates a mock that always returns the given text.
func NewMockClientWithText(text string) *MockClient {
	return NewMockClient(ScriptedResponse{
		Response: llm.CompletionResponse{Content: text, StopReason: "end_turn"},
	})
}

// Complete implements llm.LLMClient.
func (m *MockClient) Complete(_ context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)
	if len(m.script) == 0 {
		return llm.CompletionResponse{Content: "", StopReason: "end_turn"}, nil
	}

	entry := m.script[m.position]
	if m.position < len(m.script)-1 {
		m.position++
	}
	if entry.Err != nil {
		return llm.CompletionResponse{}, entry.Err
	}
	return entry.Response, nil
}

// Stream implements llm.LLMClient.
func (m *MockClient) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	resp, err := m.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan llm.StreamChunk, 2)
	ch <- llm.StreamChunk{Content: resp.Content}
	ch <- llm.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

// GetModelName implements llm.LLMClient.
func (m *MockClient) GetModelName() string {
	return m.model
}

// CallCount returns how many Complete or Stream calls were made.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastRequest returns the most recent request, or nil if none were made.
func (m *MockClient) LastRequest() *llm.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	req := m.calls[len(m.calls)-1]
	return &req
}
