package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kbchat/backend/internal/metrics"
	"github.com/kbchat/backend/pkg/circuitbreaker"
	"github.com/kbchat/backend/pkg/logger"
	"github.com/kbchat/backend/pkg/retry"
)

const embeddingBatchSize = 100

// Client talks to an OpenAI-compatible API.
type Client struct {
	client         *openai.Client
	model          string
	embeddingModel string
	temperature    float32
	timeout        time.Duration
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

type ClientOptions struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Temperature    float32
	Timeout        time.Duration
	MaxAttempts    int
}

func NewClient(opts ClientOptions) *Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	client := openai.NewClientWithConfig(cfg)

	cb := circuitbreaker.New("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		IsFailure:        isTransient,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.DefaultConfig()
	retryConfig.MaxAttempts = opts.MaxAttempts
	retryConfig.InitialDelay = 500 * time.Millisecond
	retryConfig.Retryable = isTransient
	retryConfig.Logger = logger.GetLogger()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	logger.Info("LLM client initialized",
		zap.String("provider", "openai"),
		zap.String("model", opts.Model),
		zap.String("embedding_model", opts.EmbeddingModel),
	)

	return &Client{
		client:         client,
		model:          opts.Model,
		embeddingModel: opts.EmbeddingModel,
		temperature:    opts.Temperature,
		timeout:        timeout,
		cb:             cb,
		retryConfig:    retryConfig,
	}
}

func (c *Client) Model() string {
	return c.embeddingModel
}

// Generate sends prompt as a single user message and returns the model's
// reply unmodified.
func (c *Client) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var content string

	err := c.cb.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, c.retryConfig, func(ctx context.Context) error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model: c.model,
					Messages: []openai.ChatCompletionMessage{
						{Role: openai.ChatMessageRoleUser, Content: prompt},
					},
					Temperature: c.temperature,
					MaxTokens:   maxTokens,
				},
			)
			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}
			if len(resp.Choices) == 0 {
				return retry.Permanent(errors.New("completion returned no choices"))
			}

			logger.Debug("LLM completion generated",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)
			metrics.LLMTokensUsed.WithLabelValues(c.model, "prompt").Add(float64(resp.Usage.PromptTokens))
			metrics.LLMTokensUsed.WithLabelValues(c.model, "completion").Add(float64(resp.Usage.CompletionTokens))

			content = resp.Choices[0].Message.Content
			return nil
		})
	})
	if err != nil {
		return "", err
	}

	return content, nil
}

func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedDocuments embeds texts in batches of 100, preserving order. The
// client timeout applies to each batch, not to the whole call.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	embeddings := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += embeddingBatchSize {
		end := i + embeddingBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		vectors, err := c.embedWithTimeout(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}

		embeddings = append(embeddings, vectors...)
	}

	logger.Debug("Embeddings generated", zap.Int("count", len(embeddings)))

	return embeddings, nil
}

func (c *Client) embedWithTimeout(ctx context.Context, batch []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return circuitbreaker.Call(ctx, c.cb, func(ctx context.Context) ([][]float32, error) {
		return retry.DoWithResult(ctx, c.retryConfig, func(ctx context.Context) ([][]float32, error) {
			return c.embedBatch(ctx, batch)
		})
	})
}

func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	resp, err := c.client.CreateEmbeddings(
		ctx,
		openai.EmbeddingRequest{
			Input: batch,
			Model: openai.EmbeddingModel(c.embeddingModel),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}

	if len(resp.Data) != len(batch) {
		return nil, retry.Permanent(fmt.Errorf("%w: sent %d texts, got %d vectors", ErrEmbeddingCount, len(batch), len(resp.Data)))
	}

	vectors := make([][]float32, len(batch))
	for i, data := range resp.Data {
		idx := data.Index
		if idx < 0 || idx >= len(batch) {
			idx = i
		}
		vectors[idx] = data.Embedding
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, retry.Permanent(fmt.Errorf("%w: no vector for input %d", ErrEmbeddingCount, i))
		}
	}

	metrics.LLMTokensUsed.WithLabelValues(c.embeddingModel, "embedding").Add(float64(resp.Usage.PromptTokens))

	return vectors, nil
}

// isTransient reports whether err is worth another attempt: rate limiting,
// server errors and network failures. Client errors are final.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, retry.ErrPermanent) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}

	return true
}
