package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// BookMetrics represents aggregated metrics for a book run.
type BookMetrics struct {
	BookID           string  `json:"book_id"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	TotalCost        float64 `json:"total_cost_usd"`
	ImagesGenerated  int64   `json:"images_generated"`
}

// QueryService queries aggregated metrics from a Prometheus server. It is
// optional: the service runs fine without one, exposing /metrics for scrape
// only.
type QueryService struct {
	queryAPI v1.API
}

// NewQueryService creates a metrics query service against the given
// Prometheus URL.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{Address: prometheusURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	return &QueryService{queryAPI: v1.NewAPI(client)}, nil
}

func (q *QueryService) sumQuery(ctx context.Context, query string) (float64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return float64(vector[0].Value), nil
	}
	return 0, nil
}

// GetBookMetrics retrieves aggregated token, cost, and image counts for a
// book across all steps.
func (q *QueryService) GetBookMetrics(ctx context.Context, bookID string) (*BookMetrics, error) {
	m := &BookMetrics{BookID: bookID}

	prompt, err := q.sumQuery(ctx, fmt.Sprintf(`sum(llm_tokens_total{book_id=%q, type="prompt"})`, bookID))
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	m.PromptTokens = int64(prompt)

	completion, err := q.sumQuery(ctx, fmt.Sprintf(`sum(llm_tokens_total{book_id=%q, type="completion"})`, bookID))
	if err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}
	m.CompletionTokens = int64(completion)
	m.TotalTokens = m.PromptTokens + m.CompletionTokens

	cost, err := q.sumQuery(ctx, fmt.Sprintf(`sum(llm_costs_total{book_id=%q})`, bookID))
	if err != nil {
		return nil, fmt.Errorf("failed to query total cost: %w", err)
	}
	m.TotalCost = cost

	images, err := q.sumQuery(ctx, fmt.Sprintf(`sum(image_requests_total{book_id=%q, status="success"})`, bookID))
	if err != nil {
		return nil, fmt.Errorf("failed to query image count: %w", err)
	}
	m.ImagesGenerated = int64(images)

	return m, nil
}

// GetBookMetricsByModel retrieves metrics broken down by model for a book.
func (q *QueryService) GetBookMetricsByModel(ctx context.Context, bookID string) (map[string]*BookMetrics, error) {
	result := make(map[string]*BookMetrics)

	modelsQuery := fmt.Sprintf(`group by (model) (llm_tokens_total{book_id=%q})`, bookID)
	modelsResult, _, err := q.queryAPI.Query(ctx, modelsQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}

	var models []string
	if vector, ok := modelsResult.(model.Vector); ok {
		for _, sample := range vector {
			if modelName, ok := sample.Metric["model"]; ok {
				models = append(models, string(modelName))
			}
		}
	}

	for _, modelName := range models {
		m := &BookMetrics{BookID: bookID}

		prompt, err := q.sumQuery(ctx, fmt.Sprintf(`sum(llm_tokens_total{book_id=%q, model=%q, type="prompt"})`, bookID, modelName))
		if err != nil {
			return nil, fmt.Errorf("failed to query prompt tokens for model %s: %w", modelName, err)
		}
		m.PromptTokens = int64(prompt)

		completion, err := q.sumQuery(ctx, fmt.Sprintf(`sum(llm_tokens_total{book_id=%q, model=%q, type="completion"})`, bookID, modelName))
		if err != nil {
			return nil, fmt.Errorf("failed to query completion tokens for model %s: %w", modelName, err)
		}
		m.CompletionTokens = int64(completion)
		m.TotalTokens = m.PromptTokens + m.CompletionTokens

		cost, err := q.sumQuery(ctx, fmt.Sprintf(`sum(llm_costs_total{book_id=%q, model=%q})`, bookID, modelName))
		if err != nil {
			return nil, fmt.Errorf("failed to query cost for model %s: %w", modelName, err)
		}
		m.TotalCost = cost

		result[modelName] = m
	}

	return result, nil
}
