package imagegen

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

// HTTPBackend talks to a generic image-generation HTTP endpoint that accepts
// an OpenAI-compatible generations payload with optional seed image URLs.
type HTTPBackend struct {
	baseURL    string
	apiKey     string
	model      string
	size       string
	httpClient *http.Client
	logger     *logx.Logger
}

// NewHTTPBackend creates an HTTP image backend.
func NewHTTPBackend(baseURL, apiKey, model, size string, timeout time.Duration) *HTTPBackend {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPBackend{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		size:       size,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logx.NewLogger("imagegen-http"),
	}
}

type generationsResponse struct {
	Data []struct {
		URL    string `json:"url"`
		B64    string `json:"b64_json"`
		Format string `json:"format"`
	} `json:"data"`
}

// CreateImage implements Generator.
func (b *HTTPBackend) CreateImage(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Description) == "" {
		return Result{}, fmt.Errorf("image description cannot be empty")
	}

	strategy := SelectStrategy(len(req.Seeds))
	prompt := BuildPrompt(req)

	body := map[string]any{
		"model":  b.model,
		"prompt": prompt,
		"size":   sizeForAspectRatio(req.AspectRatio, b.size),
	}
	if len(req.Seeds) > 0 {
		urls := make([]string, 0, len(req.Seeds))
		for _, seed := range req.Seeds {
			urls = append(urls, seed.URL)
		}
		body["image"] = urls
	}

	var resp generationsResponse
	if err := b.postJSON(ctx, "/v1/images/generations", body, &resp); err != nil {
		return Result{}, fmt.Errorf("image generation failed: %w", err)
	}

	url := firstImageURL(&resp)
	if url == "" {
		return Result{}, fmt.Errorf("no images returned")
	}

	b.logger.Debug("generated image via %s strategy (%d seeds)", strategy, len(req.Seeds))
	return Result{ImageURL: url, Strategy: strategy, EffectivePrompt: prompt}, nil
}

func firstImageURL(resp *generationsResponse) string {
	for _, d := range resp.Data {
		if d.URL != "" {
			return d.URL
		}
		if d.B64 != "" {
			format := d.Format
			if format == "" {
				format = "png"
			}
			return "data:image/" + format + ";base64," + d.B64
		}
	}
	return ""
}

func (b *HTTPBackend) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, strings.NewReader(string(payload)))
	if err != nil {
		return err
	}
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()

	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("http %d: %s", res.StatusCode, string(bodyBytes))
	}
	return json.Unmarshal(bodyBytes, out)
}
