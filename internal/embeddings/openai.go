package embeddings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"go.uber.org/zap"
)

const answerInstructions = `Answer the question using only the provided context.
If the context does not contain the answer, say so plainly. Do not invent facts.`

// OpenAIProvider generates embeddings and answers via the OpenAI API. It also
// satisfies the Generator interface.
type OpenAIProvider struct {
	client *openai.Client
	config Config
	logger *zap.Logger
}

var (
	_ Provider  = (*OpenAIProvider)(nil)
	_ Generator = (*OpenAIProvider)(nil)
)

// NewOpenAIProvider creates a provider backed by the OpenAI API.
func NewOpenAIProvider(config Config, logger *zap.Logger) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w: API key required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	client := openai.NewClient(opts...)

	return &OpenAIProvider{
		client: &client,
		config: config,
		logger: logger,
	}, nil
}

// EmbedDocuments generates embeddings for multiple texts.
func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	var resp *openai.CreateEmbeddingResponse
	err := p.withRetry(ctx, func() error {
		var callErr error
		resp, callErr = p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
			Model: openai.EmbeddingModel(p.config.Model),
		})
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrEmbeddingFailed, len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *OpenAIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vectors, err := p.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Generate answers the question using only the supplied context text.
func (p *OpenAIProvider) Generate(ctx context.Context, contextText, question string) (string, error) {
	if question == "" {
		return "", fmt.Errorf("%w: question cannot be empty", ErrEmptyInput)
	}

	input := fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextText, question)
	params := responses.ResponseNewParams{
		Model:           p.config.ChatModel,
		Instructions:    openai.String(answerInstructions),
		MaxOutputTokens: openai.Int(1024),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(input, responses.EasyInputMessageRoleUser),
			},
		},
	}

	var resp *responses.Response
	err := p.withRetry(ctx, func() error {
		var callErr error
		resp, callErr = p.client.Responses.New(ctx, params)
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	answer := strings.TrimSpace(resp.OutputText())
	if answer == "" {
		return "", fmt.Errorf("%w: empty model output", ErrGenerationFailed)
	}
	return answer, nil
}

// Dimension returns the configured model's embedding dimension.
func (p *OpenAIProvider) Dimension() int {
	return DimensionForModel(p.config.Model)
}

// Close is a no-op for the HTTP-backed provider.
func (p *OpenAIProvider) Close() error {
	return nil
}

// withRetry retries rate-limit and server errors with a bounded backoff.
// Other errors fail immediately.
func (p *OpenAIProvider) withRetry(ctx context.Context, call func() error) error {
	const maxRetries = 3
	rateLimitWaits := []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second}
	serverErrorWaits := []time.Duration{time.Second, 3 * time.Second, 5 * time.Second}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := call()
		if err == nil {
			return nil
		}
		lastErr = err

		var wait time.Duration
		switch {
		case isRateLimitError(err):
			wait = rateLimitWaits[attempt]
		case isServerError(err):
			wait = serverErrorWaits[attempt]
		default:
			return err
		}
		if attempt == maxRetries-1 {
			break
		}

		p.logger.Debug("retrying OpenAI call",
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "429") ||
		strings.Contains(s, "rate limit") ||
		strings.Contains(s, "too many requests")
}

func isServerError(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "500") ||
		strings.Contains(s, "internal server error") ||
		strings.Contains(s, "server_error")
}
