package llm

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/kbchat/backend/pkg/config"
)

// New builds the provider named by cfg.Provider.
func New(ctx context.Context, cfg config.LLMConfig) (Provider, error) {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second

	switch cfg.Provider {
	case "openai":
		return NewClient(ClientOptions{
			APIKey:         cfg.APIKey,
			BaseURL:        cfg.BaseURL,
			Model:          cfg.Model,
			EmbeddingModel: cfg.EmbeddingModel,
			Temperature:    cfg.Temperature,
			Timeout:        timeout,
			MaxAttempts:    cfg.Retry.MaxAttempts,
		}), nil

	case "bedrock":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load aws config: %w", err)
		}
		return NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg), BedrockOptions{
			Model:          cfg.Model,
			EmbeddingModel: cfg.EmbeddingModel,
			Temperature:    cfg.Temperature,
			Timeout:        timeout,
			MaxAttempts:    cfg.Retry.MaxAttempts,
		}), nil

	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
