package imagegen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Papr-ai/papr-open-piksa-sub001/pkg/config"
)

func TestSelectStrategy(t *testing.T) {
	assert.Equal(t, StrategyGenerate, SelectStrategy(0))
	assert.Equal(t, StrategyEdit, SelectStrategy(1))
	assert.Equal(t, StrategyMerge, SelectStrategy(2))
	assert.Equal(t, StrategyMerge, SelectStrategy(5))
}

func TestBuildPromptThreadsStyleBible(t *testing.T) {
	prompt := BuildPrompt(Request{
		Description:      "Ria the fox crossing a stream",
		StyleBible:       "soft watercolor, warm autumn palette",
		StyleConsistency: true,
		AspectRatio:      "16:9",
	})

	assert.Contains(t, prompt, "Ria the fox crossing a stream")
	assert.Contains(t, prompt, "soft watercolor, warm autumn palette")
	assert.Contains(t, prompt, "consistent illustration style")
	assert.Contains(t, prompt, "16:9 aspect ratio")
}

func TestBuildPromptDescribesSeeds(t *testing.T) {
	prompt := BuildPrompt(Request{
		Description: "Ria by the old oak",
		Seeds: []SeedImage{
			{URL: "https://img/ria.png", Type: SeedCharacter},
			{URL: "https://img/clearing.png", Type: SeedEnvironment},
			{URL: "https://img/lantern.png", Type: SeedProp},
		},
	})

	assert.Contains(t, prompt, "1 character reference(s)")
	assert.Contains(t, prompt, "1 environment reference(s)")
	assert.Contains(t, prompt, "1 prop reference(s)")
}

func TestSizeForAspectRatio(t *testing.T) {
	assert.Equal(t, "1024x1024", sizeForAspectRatio("1:1", ""))
	assert.Equal(t, "1792x1024", sizeForAspectRatio("16:9", ""))
	assert.Equal(t, "512x512", sizeForAspectRatio("weird", "512x512"))
	assert.Equal(t, "1024x1024", sizeForAspectRatio("", ""))
}

func TestHTTPBackendGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/images/generations", r.URL.Path)
		require.Equal(t, "Bearer img-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "seedream", body["model"])
		assert.Contains(t, body["prompt"], "Ria")
		_, hasSeeds := body["image"]
		assert.False(t, hasSeeds)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"url": "https://images.example/out.png"}},
		})
	}))
	defer server.Close()

	backend := NewHTTPBackend(server.URL, "img-key", "seedream", "1024x1024", 5*time.Second)
	result, err := backend.CreateImage(context.Background(), Request{Description: "Ria the fox"})
	require.NoError(t, err)
	assert.Equal(t, "https://images.example/out.png", result.ImageURL)
	assert.Equal(t, StrategyGenerate, result.Strategy)
	assert.NotEmpty(t, result.EffectivePrompt)
}

func TestHTTPBackendPassesSeedsAndReportsMerge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		seeds, ok := body["image"].([]any)
		require.True(t, ok)
		assert.Len(t, seeds, 2)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"b64_json": "aGVsbG8=", "format": "png"}},
		})
	}))
	defer server.Close()

	backend := NewHTTPBackend(server.URL, "", "seedream", "", 5*time.Second)
	result, err := backend.CreateImage(context.Background(), Request{
		Description: "Ria at the clearing",
		Seeds: []SeedImage{
			{URL: "https://img/ria.png", Type: SeedCharacter},
			{URL: "https://img/clearing.png", Type: SeedEnvironment},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, StrategyMerge, result.Strategy)
	assert.Contains(t, result.ImageURL, "data:image/png;base64,")
}

func TestHTTPBackendServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	backend := NewHTTPBackend(server.URL, "", "seedream", "", 5*time.Second)
	_, err := backend.CreateImage(context.Background(), Request{Description: "anything"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 503")
}

func TestMockDeterministicURLs(t *testing.T) {
	mock := NewMock()

	first, err := mock.CreateImage(context.Background(), Request{Description: "Ria portrait"})
	require.NoError(t, err)
	second, err := mock.CreateImage(context.Background(), Request{
		Description: "Ria at the clearing",
		Seeds:       []SeedImage{{URL: first.ImageURL, Type: SeedCharacter}},
	})
	require.NoError(t, err)

	assert.NotEqual(t, first.ImageURL, second.ImageURL)
	assert.Equal(t, StrategyGenerate, first.Strategy)
	assert.Equal(t, StrategyEdit, second.Strategy)
	assert.Equal(t, 2, mock.CallCount())

	mock.FailNext = true
	_, err = mock.CreateImage(context.Background(), Request{Description: "x"})
	assert.Error(t, err)

	_, err = mock.CreateImage(context.Background(), Request{Description: "  "})
	assert.Error(t, err)
}

func TestNewGeneratorHTTPBackendWithoutKey(t *testing.T) {
	// No IMAGEGEN_API_KEY in the environment: the backend is built
	// unauthenticated instead of failing.
	t.Setenv("IMAGEGEN_API_KEY", "")

	gen, err := NewGenerator(config.ImageGenConfig{
		Backend:  "http",
		Endpoint: "http://images.local",
		Model:    "seedream",
		Timeout:  time.Second,
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, gen)
}

func TestNewGeneratorUnknownBackend(t *testing.T) {
	_, err := NewGenerator(config.ImageGenConfig{Backend: "daguerreotype"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown image backend")
}
