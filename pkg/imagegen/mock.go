package imagegen

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Mock is a deterministic Generator for tests and offline runs. The returned
// URL encodes a sequence number and the strategy so tests can assert on it.
type Mock struct {
	mu    sync.Mutex
	calls []Request
	next  int

	// FailNext makes the next call return an error, then resets.
	FailNext bool
}

// NewMock creates a mock image generator.
func NewMock() *Mock {
	return &Mock{}
}

// CreateImage implements Generator.
func (m *Mock) CreateImage(_ context.Context, req Request) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailNext {
		m.FailNext = false
		return Result{}, fmt.Errorf("image backend unavailable")
	}
	if strings.TrimSpace(req.Description) == "" {
		return Result{}, fmt.Errorf("image description cannot be empty")
	}

	m.calls = append(m.calls, req)
	m.next++
	strategy := SelectStrategy(len(req.Seeds))
	return Result{
		ImageURL:        fmt.Sprintf("https://images.local/mock/%d_%s.png", m.next, strategy),
		Strategy:        strategy,
		EffectivePrompt: BuildPrompt(req),
	}, nil
}

// CallCount returns the number of successful calls.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastRequest returns the most recent request, or nil.
func (m *Mock) LastRequest() *Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	req := m.calls[len(m.calls)-1]
	return &req
}
