package memory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSearchMemories(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/memories/search", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "user_1", req.UserID)
		assert.Equal(t, "red fox", req.Query)
		assert.Equal(t, 5, req.MaxResults)

		_ = json.NewEncoder(w).Encode(searchResponse{Memories: []Memory{
			{ID: "mem_1", Content: "Ria is a small red fox", Score: 0.9},
		}})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	memories, err := client.SearchMemories(context.Background(), "user_1", "red fox", 5)
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, "mem_1", memories[0].ID)
}

func TestClientStoreContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/memories", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var req storeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "user_1", req.UserID)
		assert.Equal(t, ContentTypeText, req.ContentType)
		assert.Equal(t, "book_1", req.Metadata[MetaBookID])

		_ = json.NewEncoder(w).Encode(storeResponse{ID: "mem_42"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	id, err := client.StoreContent(context.Background(), "user_1", "character sheet", ContentTypeText,
		map[string]string{MetaBookID: "book_1"})
	require.NoError(t, err)
	assert.Equal(t, "mem_42", id)
}

func TestClientUpdateMemory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/memories/mem_7", r.URL.Path)
		require.Equal(t, http.MethodPut, r.Method)

		var req updateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "updated", req.Content)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	require.NoError(t, client.UpdateMemory(context.Background(), "mem_7", Update{Content: "updated"}))
	assert.Error(t, client.UpdateMemory(context.Background(), "", Update{Content: "updated"}))
}

func TestClientServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	_, err := client.SearchMemories(context.Background(), "user_1", "anything", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 500")
}

func TestFakeSearchRanking(t *testing.T) {
	fake := NewFake()
	ctx := context.Background()

	_, err := fake.StoreContent(ctx, "user_1", "Ria is a small red fox with bright eyes", ContentTypeText,
		map[string]string{MetaKind: "character"})
	require.NoError(t, err)
	_, err = fake.StoreContent(ctx, "user_1", "The Berry Clearing is a sunlit forest glade", ContentTypeText,
		map[string]string{MetaKind: "environment"})
	require.NoError(t, err)

	results, err := fake.SearchMemories(ctx, "user_1", "red fox", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Content, "Ria")

	results, err = fake.SearchMemories(ctx, "user_1", "forest", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Content, "Clearing")
}

func TestFakeSearchScopedToUser(t *testing.T) {
	fake := NewFake()
	ctx := context.Background()

	_, err := fake.StoreContent(ctx, "user_1", "Ria the fox", ContentTypeText, nil)
	require.NoError(t, err)

	results, err := fake.SearchMemories(ctx, "user_2", "fox", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFakeUpdate(t *testing.T) {
	fake := NewFake()
	ctx := context.Background()

	id, err := fake.StoreContent(ctx, "user_1", "v1", ContentTypeText, nil)
	require.NoError(t, err)

	require.NoError(t, fake.UpdateMemory(ctx, id, Update{Content: "v2"}))
	assert.Equal(t, "v2", fake.Get(id).Content)

	require.NoError(t, fake.UpdateMemory(ctx, id, Update{Metadata: map[string]string{MetaKind: "character"}}))
	assert.Equal(t, "v2", fake.Get(id).Content, "metadata-only update must keep content")

	assert.Error(t, fake.UpdateMemory(ctx, "mem_missing", Update{Content: "x"}))
}

func TestFakeInjectedFailures(t *testing.T) {
	fake := NewFake()
	fake.FailSearch = true
	fake.FailStore = true

	_, err := fake.SearchMemories(context.Background(), "user_1", "q", 1)
	assert.Error(t, err)

	_, err = fake.StoreContent(context.Background(), "user_1", "c", ContentTypeText, nil)
	assert.Error(t, err)
}
