// Package embeddings provides embedding generation and answer synthesis.
//
// Two providers are supported: an OpenAI-compatible API (default) and a
// Text Embeddings Inference (TEI) server for self-hosted models. Both
// implement the vectorstore.Embedder interface, so the vector store is
// indifferent to which one is wired in.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mirrord/internal/vectorstore"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrGenerationFailed indicates answer generation failure.
	ErrGenerationFailed = errors.New("answer generation failed")
)

// modelDimensions maps known embedding models to their output dimension.
var modelDimensions = map[string]int{
	"text-embedding-3-small":         1536,
	"text-embedding-3-large":         3072,
	"text-embedding-ada-002":         1536,
	"BAAI/bge-small-en-v1.5":         384,
	"BAAI/bge-base-en-v1.5":          768,
	"BAAI/bge-large-en-v1.5":         1024,
	"nomic-ai/nomic-embed-text-v1.5": 768,
}

// DimensionForModel returns the embedding dimension for a known model, or 0.
func DimensionForModel(model string) int {
	return modelDimensions[model]
}

// Provider generates embeddings. It extends vectorstore.Embedder with the
// model's output dimension, which the vector store needs at collection
// creation time.
type Provider interface {
	vectorstore.Embedder

	// Dimension returns the embedding dimension of the configured model.
	Dimension() int

	// Close releases provider resources.
	Close() error
}

// Generator synthesizes an answer to a question from retrieved context.
type Generator interface {
	// Generate answers the question using only the supplied context text.
	Generate(ctx context.Context, contextText, question string) (string, error)
}

// Config holds configuration for embedding providers.
type Config struct {
	// Provider selects the backend: "openai" (default) or "tei".
	Provider string

	// BaseURL overrides the API base URL. Required for TEI.
	BaseURL string

	// APIKey is the API key. Required for OpenAI.
	APIKey string

	// Model is the embedding model name.
	Model string

	// ChatModel is the model used for answer generation (OpenAI only).
	ChatModel string
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	switch c.Provider {
	case "openai":
		if c.Model == "" {
			c.Model = "text-embedding-3-small"
		}
		if c.ChatModel == "" {
			c.ChatModel = "gpt-4o-mini"
		}
	case "tei":
		if c.BaseURL == "" {
			c.BaseURL = "http://localhost:8080"
		}
		if c.Model == "" {
			c.Model = "BAAI/bge-small-en-v1.5"
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Provider {
	case "openai":
		if c.APIKey == "" {
			return fmt.Errorf("%w: API key required for openai provider", ErrInvalidConfig)
		}
	case "tei":
		if c.BaseURL == "" {
			return fmt.Errorf("%w: base URL required for tei provider", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported embeddings provider: %s (supported: openai, tei)", ErrInvalidConfig, c.Provider)
	}
	return nil
}

// NewProvider creates a Provider for the configured backend.
func NewProvider(config Config, logger *zap.Logger) (Provider, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Provider {
	case "openai":
		return NewOpenAIProvider(config, logger)
	case "tei":
		return NewTEIProvider(config, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported embeddings provider: %s", ErrInvalidConfig, config.Provider)
	}
}
