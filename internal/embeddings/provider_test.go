package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, "text-embedding-3-small", cfg.Model)
	assert.Equal(t, "gpt-4o-mini", cfg.ChatModel)

	cfg = Config{Provider: "tei"}
	cfg.ApplyDefaults()
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, "BAAI/bge-small-en-v1.5", cfg.Model)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"openai with key", Config{Provider: "openai", APIKey: "sk-test"}, false},
		{"openai without key", Config{Provider: "openai"}, true},
		{"tei with base url", Config{Provider: "tei", BaseURL: "http://localhost:8080"}, false},
		{"tei without base url", Config{Provider: "tei"}, true},
		{"unknown provider", Config{Provider: "cohere"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestDimensionForModel(t *testing.T) {
	assert.Equal(t, 1536, DimensionForModel("text-embedding-3-small"))
	assert.Equal(t, 3072, DimensionForModel("text-embedding-3-large"))
	assert.Equal(t, 384, DimensionForModel("BAAI/bge-small-en-v1.5"))
	assert.Equal(t, 0, DimensionForModel("unknown-model"))
}

func TestNewProvider_UnknownProvider(t *testing.T) {
	_, err := NewProvider(Config{Provider: "cohere"}, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestTEIProvider_EmbedDocuments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embed", r.URL.Path)
		var req teiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		inputs, ok := req.Inputs.([]interface{})
		require.True(t, ok)

		vectors := make([][]float32, len(inputs))
		for i := range vectors {
			vectors[i] = []float32{0.1, 0.2, 0.3}
		}
		require.NoError(t, json.NewEncoder(w).Encode(vectors))
	}))
	defer server.Close()

	provider, err := NewTEIProvider(Config{Provider: "tei", BaseURL: server.URL, Model: "BAAI/bge-small-en-v1.5"}, zaptest.NewLogger(t))
	require.NoError(t, err)

	vectors, err := provider.EmbedDocuments(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vectors[0])

	assert.Equal(t, 384, provider.Dimension())
}

func TestTEIProvider_EmbedQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req teiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_, isString := req.Inputs.(string)
		require.True(t, isString)
		require.NoError(t, json.NewEncoder(w).Encode([][]float32{{0.5, 0.6}}))
	}))
	defer server.Close()

	provider, err := NewTEIProvider(Config{Provider: "tei", BaseURL: server.URL}, nil)
	require.NoError(t, err)

	vector, err := provider.EmbedQuery(context.Background(), "a query")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.6}, vector)
}

func TestTEIProvider_EmptyInput(t *testing.T) {
	provider, err := NewTEIProvider(Config{Provider: "tei", BaseURL: "http://localhost:8080"}, nil)
	require.NoError(t, err)

	_, err = provider.EmbedDocuments(context.Background(), nil)
	require.ErrorIs(t, err, ErrEmptyInput)

	_, err = provider.EmbedQuery(context.Background(), "")
	require.ErrorIs(t, err, ErrEmptyInput)
}

func TestTEIProvider_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	provider, err := NewTEIProvider(Config{Provider: "tei", BaseURL: server.URL}, nil)
	require.NoError(t, err)

	_, err = provider.EmbedDocuments(context.Background(), []string{"text"})
	require.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestOpenAIProvider_RequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIProvider(Config{}, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestOpenAIProvider_EmbedDocuments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"object": "list",
			"model":  "text-embedding-3-small",
			"data": []map[string]any{
				{"object": "embedding", "index": 0, "embedding": []float64{0.1, 0.2}},
				{"object": "embedding", "index": 1, "embedding": []float64{0.3, 0.4}},
			},
			"usage": map[string]any{"prompt_tokens": 4, "total_tokens": 4},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(Config{
		APIKey:  "sk-test",
		BaseURL: server.URL,
		Model:   "text-embedding-3-small",
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	vectors, err := provider.EmbedDocuments(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0.1, 0.2}, vectors[0])
	assert.Equal(t, []float32{0.3, 0.4}, vectors[1])

	assert.Equal(t, 1536, provider.Dimension())
}

func TestOpenAIProvider_EmptyInput(t *testing.T) {
	provider, err := NewOpenAIProvider(Config{APIKey: "sk-test"}, nil)
	require.NoError(t, err)

	_, err = provider.EmbedDocuments(context.Background(), nil)
	require.ErrorIs(t, err, ErrEmptyInput)

	_, err = provider.Generate(context.Background(), "context", "")
	require.ErrorIs(t, err, ErrEmptyInput)
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, isRateLimitError(errors.New("429 Too Many Requests")))
	assert.True(t, isRateLimitError(errors.New("rate limit exceeded")))
	assert.False(t, isRateLimitError(errors.New("401 unauthorized")))
	assert.False(t, isRateLimitError(nil))

	assert.True(t, isServerError(errors.New("500 Internal Server Error")))
	assert.True(t, isServerError(errors.New("server_error: upstream failed")))
	assert.False(t, isServerError(errors.New("400 bad request")))
	assert.False(t, isServerError(nil))
}
