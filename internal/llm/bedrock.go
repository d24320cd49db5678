package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/kbchat/backend/internal/metrics"
	"github.com/kbchat/backend/pkg/circuitbreaker"
	"github.com/kbchat/backend/pkg/logger"
	"github.com/kbchat/backend/pkg/retry"
)

// ModelInvoker is the subset of the Bedrock runtime client used here.
type ModelInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockClient calls Amazon Titan models through Bedrock.
type BedrockClient struct {
	runtime        ModelInvoker
	model          string
	embeddingModel string
	temperature    float32
	timeout        time.Duration
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

type BedrockOptions struct {
	Model          string
	EmbeddingModel string
	Temperature    float32
	Timeout        time.Duration
	MaxAttempts    int
}

type titanEmbedRequest struct {
	InputText string `json:"inputText"`
}

type titanEmbedResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

type titanTextRequest struct {
	InputText            string                  `json:"inputText"`
	TextGenerationConfig titanGenerationSettings `json:"textGenerationConfig"`
}

type titanGenerationSettings struct {
	MaxTokenCount int     `json:"maxTokenCount"`
	Temperature   float32 `json:"temperature"`
}

type titanTextResponse struct {
	InputTextTokenCount int `json:"inputTextTokenCount"`
	Results             []struct {
		TokenCount       int    `json:"tokenCount"`
		OutputText       string `json:"outputText"`
		CompletionReason string `json:"completionReason"`
	} `json:"results"`
}

func NewBedrockClient(runtime ModelInvoker, opts BedrockOptions) *BedrockClient {
	cb := circuitbreaker.New("bedrock", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		IsFailure:        isBedrockTransient,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.DefaultConfig()
	retryConfig.MaxAttempts = opts.MaxAttempts
	retryConfig.InitialDelay = 500 * time.Millisecond
	retryConfig.Retryable = isBedrockTransient
	retryConfig.Logger = logger.GetLogger()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	logger.Info("LLM client initialized",
		zap.String("provider", "bedrock"),
		zap.String("model", opts.Model),
		zap.String("embedding_model", opts.EmbeddingModel),
	)

	return &BedrockClient{
		runtime:        runtime,
		model:          opts.Model,
		embeddingModel: opts.EmbeddingModel,
		temperature:    opts.Temperature,
		timeout:        timeout,
		cb:             cb,
		retryConfig:    retryConfig,
	}
}

func (b *BedrockClient) Model() string {
	return b.embeddingModel
}

// EmbedDocuments issues one request per text; the Titan embedding model
// does not accept batches.
func (b *BedrockClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, 0, len(texts))
	for i, text := range texts {
		vec, err := b.EmbedQuery(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d of %d: %w", i+1, len(texts), err)
		}
		embeddings = append(embeddings, vec)
	}

	logger.Debug("Embeddings generated", zap.Int("count", len(embeddings)))

	return embeddings, nil
}

func (b *BedrockClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var resp titanEmbedResponse
	if err := b.invoke(ctx, b.embeddingModel, titanEmbedRequest{InputText: text}, &resp); err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding from %s", ErrEmbeddingCount, b.embeddingModel)
	}

	metrics.LLMTokensUsed.WithLabelValues(b.embeddingModel, "embedding").Add(float64(resp.InputTextTokenCount))

	return resp.Embedding, nil
}

func (b *BedrockClient) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	req := titanTextRequest{
		InputText: prompt,
		TextGenerationConfig: titanGenerationSettings{
			MaxTokenCount: maxTokens,
			Temperature:   b.temperature,
		},
	}

	var resp titanTextResponse
	if err := b.invoke(ctx, b.model, req, &resp); err != nil {
		return "", fmt.Errorf("failed to create completion: %w", err)
	}
	if len(resp.Results) == 0 {
		return "", errors.New("completion returned no results")
	}

	logger.Debug("LLM completion generated",
		zap.Int("prompt_tokens", resp.InputTextTokenCount),
		zap.Int("completion_tokens", resp.Results[0].TokenCount),
		zap.String("completion_reason", resp.Results[0].CompletionReason),
	)
	metrics.LLMTokensUsed.WithLabelValues(b.model, "prompt").Add(float64(resp.InputTextTokenCount))
	metrics.LLMTokensUsed.WithLabelValues(b.model, "completion").Add(float64(resp.Results[0].TokenCount))

	return resp.Results[0].OutputText, nil
}

func (b *BedrockClient) invoke(ctx context.Context, modelID string, req, out interface{}) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	return b.cb.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, b.retryConfig, func(ctx context.Context) error {
			resp, err := b.runtime.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
				ModelId:     aws.String(modelID),
				Body:        body,
				ContentType: aws.String("application/json"),
				Accept:      aws.String("application/json"),
			})
			if err != nil {
				return fmt.Errorf("failed to invoke %s: %w", modelID, err)
			}

			if err := json.Unmarshal(resp.Body, out); err != nil {
				return retry.Permanent(fmt.Errorf("failed to decode %s response: %w", modelID, err))
			}
			return nil
		})
	})
}

var transientBedrockCodes = map[string]bool{
	"ThrottlingException":         true,
	"ModelTimeoutException":       true,
	"ModelNotReadyException":      true,
	"ServiceUnavailableException": true,
	"InternalServerException":     true,
}

// isBedrockTransient reports whether err is throttling or a service-side
// failure. Validation, access and missing-model errors are final and do not
// count against the breaker.
func isBedrockTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, retry.ErrPermanent) {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorFault() == smithy.FaultServer || transientBedrockCodes[apiErr.ErrorCode()]
	}

	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) {
		code := status.HTTPStatusCode()
		return code == http.StatusTooManyRequests || code >= 500
	}

	return true
}
