// Package metrics provides Prometheus-based metrics recording and querying
// for workflow, LLM, and image generation operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is the interface step handlers and middleware record through.
type Recorder interface {
	ObserveLLMRequest(model, bookID, step string, promptTokens, completionTokens int, cost float64, success bool, errorType string, duration time.Duration)
	ObserveImageRequest(backend, bookID, strategy string, success bool, duration time.Duration)
	IncStepTransition(step, status string)
	IncDeadLetter(operation string)
}

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	llmRequestsTotal   *prometheus.CounterVec
	llmTokensTotal     *prometheus.CounterVec
	llmCostsTotal      *prometheus.CounterVec
	llmDuration        *prometheus.HistogramVec
	imageRequestsTotal *prometheus.CounterVec
	imageDuration      *prometheus.HistogramVec
	stepTransitions    *prometheus.CounterVec
	deadLettersTotal   *prometheus.CounterVec
}

// NewPrometheusRecorder creates a recorder registered on the default
// registry. Call at most once per process.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		llmRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Total number of LLM requests by model, book, step, and status",
			},
			[]string{"model", "book_id", "step", "status", "error_type"},
		),
		llmTokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Total number of tokens used in LLM requests",
			},
			[]string{"model", "book_id", "step", "type"},
		),
		llmCostsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_costs_total",
				Help: "Total cost in USD for LLM requests",
			},
			[]string{"model", "book_id", "step"},
		),
		llmDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model", "book_id", "step"},
		),
		imageRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "image_requests_total",
				Help: "Total number of image generation requests by backend and strategy",
			},
			[]string{"backend", "book_id", "strategy", "status"},
		),
		imageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "image_request_duration_seconds",
				Help:    "Duration of image generation requests in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"backend", "strategy"},
		),
		stepTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_step_transitions_total",
				Help: "Total number of workflow step status transitions",
			},
			[]string{"step", "status"},
		),
		deadLettersTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "task_dead_letters_total",
				Help: "Total number of background tasks moved to the dead letter queue",
			},
			[]string{"operation"},
		),
	}
}

// ObserveLLMRequest records metrics for a completed LLM request. Tokens and
// cost are only recorded on success.
func (p *PrometheusRecorder) ObserveLLMRequest(
	model, bookID, step string,
	promptTokens, completionTokens int,
	cost float64,
	success bool,
	errorType string,
	duration time.Duration,
) {
	status := "success"
	if !success {
		status = "error"
	}

	p.llmRequestsTotal.WithLabelValues(model, bookID, step, status, errorType).Inc()

	if success {
		p.llmTokensTotal.WithLabelValues(model, bookID, step, "prompt").Add(float64(promptTokens))
		p.llmTokensTotal.WithLabelValues(model, bookID, step, "completion").Add(float64(completionTokens))
		p.llmCostsTotal.WithLabelValues(model, bookID, step).Add(cost)
	}

	p.llmDuration.WithLabelValues(model, bookID, step).Observe(duration.Seconds())
}

// ObserveImageRequest records metrics for a completed image generation call.
func (p *PrometheusRecorder) ObserveImageRequest(backend, bookID, strategy string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	p.imageRequestsTotal.WithLabelValues(backend, bookID, strategy, status).Inc()
	p.imageDuration.WithLabelValues(backend, strategy).Observe(duration.Seconds())
}

// IncStepTransition records a workflow step status change.
func (p *PrometheusRecorder) IncStepTransition(step, status string) {
	p.stepTransitions.WithLabelValues(step, status).Inc()
}

// IncDeadLetter records a task moved to the dead letter queue.
func (p *PrometheusRecorder) IncDeadLetter(operation string) {
	p.deadLettersTotal.WithLabelValues(operation).Inc()
}

// NopRecorder discards all observations. Used in tests and when metrics are
// disabled.
type NopRecorder struct{}

func (NopRecorder) ObserveLLMRequest(string, string, string, int, int, float64, bool, string, time.Duration) {
}
func (NopRecorder) ObserveImageRequest(string, string, string, bool, time.Duration) {}
func (NopRecorder) IncStepTransition(string, string)                                {}
func (NopRecorder) IncDeadLetter(string)                                            {}
