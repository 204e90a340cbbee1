package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/logx"
)

// Client is an HTTP client for the memory service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logx.Logger
	maxResults int
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-call HTTP timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithMaxResults caps the default number of search results.
func WithMaxResults(n int) Option {
	return func(c *Client) {
		c.maxResults = n
	}
}

// NewClient creates a memory service client. apiKey may be empty when the
// service is unauthenticated.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logx.NewLogger("memory"),
		maxResults: 10,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type searchRequest struct {
	UserID     string `json:"user_id"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type searchResponse struct {
	Memories []Memory `json:"memories"`
}

// SearchMemories returns records relevant to the query.
func (c *Client) SearchMemories(ctx context.Context, userID, query string, maxResults int) ([]Memory, error) {
	if maxResults <= 0 {
		maxResults = c.maxResults
	}

	var resp searchResponse
	err := c.postJSON(ctx, "/v1/memories/search", searchRequest{
		UserID:     userID,
		Query:      query,
		MaxResults: maxResults,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("memory search failed: %w", err)
	}

	c.logger.Debug("search %q returned %d memories", query, len(resp.Memories))
	return resp.Memories, nil
}

type storeRequest struct {
	UserID      string            `json:"user_id"`
	Content     string            `json:"content"`
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type storeResponse struct {
	ID string `json:"id"`
}

// StoreContent saves content with metadata and returns the new memory ID.
func (c *Client) StoreContent(ctx context.Context, userID, content, contentType string, metadata map[string]string) (string, error) {
	var resp storeResponse
	err := c.postJSON(ctx, "/v1/memories", storeRequest{
		UserID:      userID,
		Content:     content,
		ContentType: contentType,
		Metadata:    metadata,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("memory store failed: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("memory store returned no ID")
	}
	return resp.ID, nil
}

type updateRequest struct {
	Content  string            `json:"content,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// UpdateMemory applies a partial update to an existing memory.
func (c *Client) UpdateMemory(ctx context.Context, memoryID string, update Update) error {
	if memoryID == "" {
		return fmt.Errorf("memory ID cannot be empty")
	}
	body := updateRequest{Content: update.Content, Metadata: update.Metadata}
	if err := c.doJSON(ctx, http.MethodPut, "/v1/memories/"+memoryID, body, nil); err != nil {
		return fmt.Errorf("memory update failed: %w", err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	return c.doJSON(ctx, http.MethodPost, path, body, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(string(b)))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("http %d: %s", res.StatusCode, string(bodyBytes))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
